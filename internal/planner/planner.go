// Package planner splits the friend×group cross-product into bounded remote
// batches and dispatches them at a paced rate.
package planner

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/vidfriends/mutualsync/internal/models"
	"github.com/vidfriends/mutualsync/internal/remote"
)

const (
	DefaultFriendChunk    = 100
	DefaultGroupChunk     = 25
	DefaultInterval       = 350 * time.Millisecond
	DefaultRequestTimeout = 15 * time.Second
)

const opBatch = "fetch membership batch"

// Fetcher is the part of remote.Service the planner calls.
type Fetcher interface {
	FetchMembershipBatch(ctx context.Context, req remote.BatchRequest) (models.MembershipBatch, error)
}

// Config bounds batch sizes and pacing.
type Config struct {
	// FriendChunk is the maximum number of friend ids per request.
	FriendChunk int
	// GroupChunk is the maximum number of group ids per request.
	GroupChunk int
	// Interval is the minimum time between two dispatches, whether or not
	// earlier requests have completed.
	Interval time.Duration
	// RequestTimeout bounds every remote call.
	RequestTimeout time.Duration
	// Pacer, when set, replaces the limiter built from Interval. Hand the same
	// limiter to the remote client so its retries count against the ceiling.
	Pacer *rate.Limiter
}

// NewPacer returns a limiter admitting one request per interval. A
// non-positive interval disables pacing.
func NewPacer(interval time.Duration) *rate.Limiter {
	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}
	return rate.NewLimiter(limit, 1)
}

func (c Config) withDefaults() Config {
	if c.FriendChunk <= 0 {
		c.FriendChunk = DefaultFriendChunk
	}
	if c.GroupChunk <= 0 {
		c.GroupChunk = DefaultGroupChunk
	}
	if c.Interval < 0 {
		c.Interval = 0
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	return c
}

// Batch is one cell of the chunked cross-product.
type Batch struct {
	Seq       int
	FriendIDs []string
	GroupIDs  []string
}

// Result is delivered once per dispatched batch.
type Result struct {
	Batch   Batch
	Members models.MembershipBatch
	Err     error
}

// Plan partitions friends into ⌈N/friendChunk⌉ chunks and groups into
// ⌈M/groupChunk⌉ chunks and returns one batch per chunk pair. A chunk size
// of zero or less puts the whole list in a single chunk.
func Plan(friendIDs, groupIDs []string, friendChunk, groupChunk int) []Batch {
	friendChunks := chunk(friendIDs, friendChunk)
	groupChunks := chunk(groupIDs, groupChunk)
	if len(friendChunks) == 0 || len(groupChunks) == 0 {
		return nil
	}
	batches := make([]Batch, 0, len(friendChunks)*len(groupChunks))
	for _, friends := range friendChunks {
		for _, groups := range groupChunks {
			batches = append(batches, Batch{Seq: len(batches), FriendIDs: friends, GroupIDs: groups})
		}
	}
	return batches
}

func chunk(ids []string, size int) [][]string {
	if len(ids) == 0 {
		return nil
	}
	if size <= 0 || size > len(ids) {
		size = len(ids)
	}
	out := make([][]string, 0, (len(ids)+size-1)/size)
	for start := 0; start < len(ids); start += size {
		end := min(start+size, len(ids))
		out = append(out, ids[start:end:end])
	}
	return out
}

// Planner dispatches batches against a Fetcher. A single limiter paces every
// execution started from the same Planner, so full and incremental syncs
// share the remote rate ceiling.
type Planner struct {
	fetcher Fetcher
	cfg     Config
	limiter *rate.Limiter
	logger  *slog.Logger
}

// New constructs a Planner.
func New(fetcher Fetcher, cfg Config, logger *slog.Logger) *Planner {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	limiter := cfg.Pacer
	if limiter == nil {
		limiter = NewPacer(cfg.Interval)
	}
	return &Planner{
		fetcher: fetcher,
		cfg:     cfg,
		limiter: limiter,
		logger:  logger,
	}
}

// Config returns the effective configuration.
func (p *Planner) Config() Config { return p.cfg }

// Plan partitions with the planner's chunk sizes.
func (p *Planner) Plan(friendIDs, groupIDs []string) []Batch {
	return Plan(friendIDs, groupIDs, p.cfg.FriendChunk, p.cfg.GroupChunk)
}

// Execution tracks one run of a batch plan.
type Execution struct {
	results    chan Result
	total      int
	dispatched atomic.Int64
	err        error
}

// Results yields one Result per dispatched batch, in completion order. The
// channel is closed once every dispatched batch has completed.
func (e *Execution) Results() <-chan Result { return e.results }

// Total is the number of planned batches.
func (e *Execution) Total() int { return e.total }

// Dispatched is the number of batches sent so far.
func (e *Execution) Dispatched() int { return int(e.dispatched.Load()) }

// Err reports the first batch error, or the cancellation that cut dispatch
// short. It is only meaningful after Results has been closed.
func (e *Execution) Err() error { return e.err }

// Execute starts dispatching batches in order. ctx is the cancellation token:
// it is checked before every dispatch, but requests already in flight run on
// a context detached from it and are always allowed to finish.
func (p *Planner) Execute(ctx context.Context, batches []Batch) *Execution {
	exec := &Execution{
		results: make(chan Result, len(batches)),
		total:   len(batches),
	}
	go p.run(ctx, batches, exec)
	return exec
}

func (p *Planner) run(ctx context.Context, batches []Batch, exec *Execution) {
	defer close(exec.results)

	eg, stop := errgroup.WithContext(ctx)
	callCtx := context.WithoutCancel(ctx)

	var halted error
	for _, b := range batches {
		if err := stop.Err(); err != nil {
			halted = err
			break
		}
		if err := p.limiter.Wait(stop); err != nil {
			halted = err
			break
		}
		exec.dispatched.Add(1)
		batchesDispatched.Inc()
		eg.Go(func() error {
			return p.dispatch(callCtx, b, exec.results)
		})
	}

	err := eg.Wait()
	if err == nil && halted != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
		} else {
			err = fmt.Errorf("dispatch halted: %w", halted)
		}
	}
	exec.err = err
}

func (p *Planner) dispatch(ctx context.Context, b Batch, out chan<- Result) error {
	callCtx, cancel := context.WithTimeout(ctx, p.cfg.RequestTimeout)
	defer cancel()

	start := time.Now()
	members, err := p.fetcher.FetchMembershipBatch(callCtx, remote.BatchRequest{FriendIDs: b.FriendIDs, GroupIDs: b.GroupIDs})
	batchLatency.Observe(time.Since(start).Seconds())
	if err == nil {
		err = validate(b, members)
	}
	if err != nil {
		err = remote.Classify(opBatch, err)
		batchOutcomes.WithLabelValues("failure").Inc()
		p.logger.Warn("membership batch failed", "batch", b.Seq, "friends", len(b.FriendIDs), "groups", len(b.GroupIDs), "error", err)
		out <- Result{Batch: b, Err: err}
		return err
	}
	batchOutcomes.WithLabelValues("success").Inc()
	out <- Result{Batch: b, Members: members}
	return nil
}

// validate rejects responses naming ids outside the requested chunk.
func validate(b Batch, members models.MembershipBatch) error {
	groups := make(map[string]struct{}, len(b.GroupIDs))
	for _, id := range b.GroupIDs {
		groups[id] = struct{}{}
	}
	friends := make(map[string]struct{}, len(b.FriendIDs))
	for _, id := range b.FriendIDs {
		friends[id] = struct{}{}
	}
	for groupID, memberIDs := range members {
		if _, ok := groups[groupID]; !ok {
			return &remote.ParseError{Op: opBatch, Err: fmt.Errorf("group %q was not requested", groupID)}
		}
		for _, friendID := range memberIDs {
			if _, ok := friends[friendID]; !ok {
				return &remote.ParseError{Op: opBatch, Err: fmt.Errorf("friend %q was not requested", friendID)}
			}
		}
	}
	return nil
}

// Collect runs a plan to completion and stages every response. It returns
// nothing unless all batches succeed, so callers can commit the staged
// memberships as a unit.
func (p *Planner) Collect(ctx context.Context, batches []Batch) (models.MembershipBatch, error) {
	exec := p.Execute(ctx, batches)
	staged := make(models.MembershipBatch)
	for res := range exec.Results() {
		if res.Err != nil {
			continue
		}
		for groupID, friendIDs := range res.Members {
			staged[groupID] = append(staged[groupID], friendIDs...)
		}
	}
	if err := exec.Err(); err != nil {
		return nil, err
	}
	return staged, nil
}
