// Package engine coordinates the mutual-membership sync.
//
// A Coordinator owns the membership index and the ordered views. Exactly one
// writer mutates them at a time: the goroutine of the current full sync, or a
// single incremental operation. Batch responses reach the writer over a
// channel. Readers may observe partially merged data while a sync is in
// ComputingMutual; that data only grows and is complete once Finished.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/vidfriends/mutualsync/internal/logging"
	"github.com/vidfriends/mutualsync/internal/membership"
	"github.com/vidfriends/mutualsync/internal/models"
	"github.com/vidfriends/mutualsync/internal/ordering"
	"github.com/vidfriends/mutualsync/internal/planner"
	"github.com/vidfriends/mutualsync/internal/remote"
)

const (
	defaultEventBuffer = 64
	defaultName        = "default"
	persistTimeout     = 10 * time.Second
)

// Options tunes a Coordinator.
type Options struct {
	// Name labels the coordinator's metrics. Coexisting coordinators need
	// distinct names.
	Name        string
	Planner     planner.Config
	EventBuffer int
	Logger      *slog.Logger
}

// Coordinator runs full and incremental syncs against a remote graph.
type Coordinator struct {
	remote      remote.Service
	store       Store
	planner     *planner.Planner
	logger      *slog.Logger
	eventBuffer int
	stateMetric prometheus.Gauge

	// incMu serializes incremental additions, which fetch remotely before
	// committing.
	incMu sync.Mutex

	// storeMu orders store writes. Writes tied to a generation are skipped
	// once that generation has been reset, so a Clear is never undone.
	storeMu sync.Mutex

	mu           sync.RWMutex
	state        State
	pendingReset bool
	generation   uint64
	index        *membership.Index
	views        *ordering.Engine
	current      *run
	lastErr      error
}

type run struct {
	id        string
	cancel    context.CancelFunc
	events    chan Event
	done      chan struct{}
	completed int
	total     int
	err       error
}

func (r *run) emit(ev Event) {
	ev.RunID = r.id
	r.events <- ev
}

// progress never blocks the writer; a slow consumer misses intermediate
// counts but can always query Status.
func (r *run) progress(completed, total int) {
	select {
	case r.events <- Event{Kind: EventProgress, RunID: r.id, Completed: completed, Total: total}:
	default:
	}
}

// New constructs an idle Coordinator. A nil store disables persistence.
func New(svc remote.Service, store Store, opts Options) *Coordinator {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if store == nil {
		store = nopStore{}
	}
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = defaultEventBuffer
	}
	if opts.Name == "" {
		opts.Name = defaultName
	}
	c := &Coordinator{
		remote:      svc,
		store:       store,
		planner:     planner.New(svc, opts.Planner, logger),
		logger:      logger,
		eventBuffer: opts.EventBuffer,
		stateMetric: stateGauge.WithLabelValues(opts.Name),
		index:       membership.New(logger),
		views:       ordering.New(),
	}
	c.stateMetric.Set(float64(StateIdle))
	return c
}

// Start begins a full sync. It fails with ErrAlreadyRunning unless the
// coordinator is Idle or Finished, and otherwise discards all current data.
//
// The returned channel carries the run's events and is closed when the run
// ends. Callers must drain it; progress events are dropped rather than block
// the run, but phase, error and completion events are always delivered.
func (c *Coordinator) Start(ctx context.Context) (<-chan Event, error) {
	c.mu.Lock()
	if c.state.running() {
		c.mu.Unlock()
		return nil, ErrAlreadyRunning
	}
	runCtx, cancel := context.WithCancel(ctx)
	r := &run{
		id:     uuid.NewString(),
		cancel: cancel,
		events: make(chan Event, c.eventBuffer),
		done:   make(chan struct{}),
	}
	c.resetLocked()
	c.setStateLocked(StateLoadingFriends)
	c.current = r
	c.lastErr = nil
	c.mu.Unlock()

	go c.execute(runCtx, r)
	return r.events, nil
}

// Cancel asks the running sync to stop. Outstanding batches are drained, then
// the coordinator returns to Idle with every index cleared, whatever the
// drained responses said. Cancel is a no-op when no sync is running.
func (c *Coordinator) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.state.running() {
		return
	}
	c.pendingReset = true
	c.current.cancel()
}

// Wait blocks until the current run ends and returns its error: nil on
// success, ErrCancelled when cancelled, or the phase error.
func (c *Coordinator) Wait(ctx context.Context) error {
	c.mu.RLock()
	r := c.current
	c.mu.RUnlock()
	if r == nil {
		return nil
	}
	select {
	case <-r.done:
		return r.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Coordinator) execute(ctx context.Context, r *run) {
	defer close(r.done)
	defer close(r.events)
	defer r.cancel()

	ctx = logging.WithRunID(ctx, r.id)
	ctx = logging.WithLogger(ctx, c.logger.With(slog.String("run_id", r.id)))
	ctx, span := logging.StartSpan(ctx, "membership sync")
	started := time.Now()

	r.emit(Event{Kind: EventPhaseChanged, State: StateLoadingFriends})
	c.persist(ctx, "clear store", c.store.Clear)

	err := c.loadCollections(ctx)
	if err == nil {
		err = c.computeMembership(ctx, r)
	}
	outcome := c.finish(ctx, r, err)

	syncOutcomes.WithLabelValues(outcome).Inc()
	syncDuration.WithLabelValues(outcome).Observe(time.Since(started).Seconds())
	span.End(r.err)
}

func (c *Coordinator) loadCollections(ctx context.Context) error {
	logger := logging.FromContext(ctx)

	friends, err := c.fetchFriends(ctx)
	if err != nil {
		return err
	}
	if ctx.Err() != nil {
		return ErrCancelled
	}
	friends = uniqueFriends(friends, logger)

	c.mu.Lock()
	for _, p := range friends {
		c.index.RegisterFriend(p.ID)
	}
	c.views.SetFriends(friends)
	c.mu.Unlock()
	logger.Info("friends loaded", "count", len(friends))
	c.persist(ctx, "save friends", func(ctx context.Context) error {
		return c.store.SaveFriends(ctx, friends)
	})

	groups, err := c.fetchGroups(ctx)
	if err != nil {
		return err
	}
	if ctx.Err() != nil {
		return ErrCancelled
	}
	groups = uniqueGroups(groups, logger)

	c.mu.Lock()
	for _, g := range groups {
		c.index.RegisterGroup(g.ID)
	}
	c.views.SetGroups(groups)
	c.mu.Unlock()
	logger.Info("groups loaded", "count", len(groups))
	c.persist(ctx, "save groups", func(ctx context.Context) error {
		return c.store.SaveGroups(ctx, groups)
	})
	return nil
}

func (c *Coordinator) computeMembership(ctx context.Context, r *run) error {
	c.mu.Lock()
	batches := c.planner.Plan(c.views.FriendIDs(), c.views.GroupIDs())
	c.setStateLocked(StateComputingMutual)
	r.total = len(batches)
	c.mu.Unlock()

	r.emit(Event{Kind: EventPhaseChanged, State: StateComputingMutual})
	r.progress(0, len(batches))
	logging.FromContext(ctx).Info("computing membership", "batches", len(batches))

	exec := c.planner.Execute(ctx, batches)
	for res := range exec.Results() {
		c.mu.Lock()
		r.completed++
		completed := r.completed
		if res.Err == nil {
			for groupID, friendIDs := range res.Members {
				for _, friendID := range friendIDs {
					_ = c.index.MarkMember(friendID, groupID)
				}
			}
		}
		c.mu.Unlock()

		if res.Err == nil {
			members := res.Members
			c.persist(ctx, "save membership", func(ctx context.Context) error {
				return c.store.SaveMembership(ctx, members)
			})
		}
		r.progress(completed, len(batches))
	}

	if err := exec.Err(); err != nil {
		if errors.Is(err, context.Canceled) {
			return ErrCancelled
		}
		return err
	}
	if ctx.Err() != nil {
		return ErrCancelled
	}
	return nil
}

// finish settles the run once no work is outstanding and reports the outcome
// label for metrics.
func (c *Coordinator) finish(ctx context.Context, r *run, err error) string {
	logger := logging.FromContext(ctx)

	c.mu.Lock()
	cancelled := c.pendingReset || ctx.Err() != nil || errors.Is(err, ErrCancelled)
	switch {
	case cancelled:
		c.resetLocked()
		c.setStateLocked(StateIdle)
		c.lastErr = ErrCancelled
	case err != nil:
		c.resetLocked()
		c.setStateLocked(StateIdle)
		c.lastErr = err
	default:
		c.views.Refresh(c.index)
		c.setStateLocked(StateFinished)
		c.lastErr = nil
	}
	c.mu.Unlock()

	switch {
	case cancelled:
		if err != nil && !errors.Is(err, ErrCancelled) {
			logger.Info("error discarded by cancelled sync", "error", err)
		}
		r.err = ErrCancelled
		c.persist(ctx, "clear store", c.store.Clear)
		r.emit(Event{Kind: EventPhaseChanged, State: StateIdle})
		logger.Info("sync cancelled")
		return "cancelled"
	case err != nil:
		r.err = err
		c.persist(ctx, "clear store", c.store.Clear)
		r.emit(Event{Kind: EventError, Err: err})
		r.emit(Event{Kind: EventPhaseChanged, State: StateIdle})
		logger.Error("sync failed", "error", err)
		return "failed"
	default:
		r.emit(Event{Kind: EventPhaseChanged, State: StateFinished})
		r.emit(Event{Kind: EventCompleted})
		return "finished"
	}
}

// resetLocked drops all in-memory data and invalidates in-flight incremental
// operations.
func (c *Coordinator) resetLocked() {
	c.index.Clear()
	c.views.Reset()
	c.pendingReset = false
	c.generation++
}

func (c *Coordinator) setStateLocked(s State) {
	c.state = s
	c.stateMetric.Set(float64(s))
}

func (c *Coordinator) requestTimeout() time.Duration {
	return c.planner.Config().RequestTimeout
}

// fetchFriends and fetchGroups run detached from cancellation: the remote
// offers no way to abort a request, so cancellation is observed at the phase
// boundary instead.
func (c *Coordinator) fetchFriends(ctx context.Context) ([]models.Person, error) {
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.requestTimeout())
	defer cancel()
	friends, err := c.remote.FetchFriends(callCtx)
	if err != nil {
		return nil, remote.Classify("fetch friends", err)
	}
	return friends, nil
}

func (c *Coordinator) fetchGroups(ctx context.Context) ([]models.Group, error) {
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.requestTimeout())
	defer cancel()
	groups, err := c.remote.FetchGroups(callCtx)
	if err != nil {
		return nil, remote.Classify("fetch groups", err)
	}
	return groups, nil
}

// persist writes to the store best-effort. Failures are logged and never
// affect the sync.
func (c *Coordinator) persist(ctx context.Context, op string, fn func(context.Context) error) {
	c.storeMu.Lock()
	defer c.storeMu.Unlock()
	c.write(ctx, op, fn)
}

// persistFrom is persist for data committed under generation. The write is
// dropped when a reset has happened since.
func (c *Coordinator) persistFrom(ctx context.Context, generation uint64, op string, fn func(context.Context) error) {
	c.storeMu.Lock()
	defer c.storeMu.Unlock()

	c.mu.RLock()
	stale := c.generation != generation
	c.mu.RUnlock()
	if stale {
		logging.FromContext(ctx).Debug("stale write skipped", "op", op)
		return
	}
	c.write(ctx, op, fn)
}

func (c *Coordinator) write(ctx context.Context, op string, fn func(context.Context) error) {
	storeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	if err := fn(storeCtx); err != nil {
		logging.FromContext(ctx).Warn("persistence failed", "op", op, "error", err)
	}
}

func uniqueFriends(friends []models.Person, logger *slog.Logger) []models.Person {
	seen := make(map[string]struct{}, len(friends))
	out := make([]models.Person, 0, len(friends))
	for _, p := range friends {
		if _, dup := seen[p.ID]; dup {
			logger.Warn("duplicate friend dropped", "friendId", p.ID)
			continue
		}
		seen[p.ID] = struct{}{}
		out = append(out, p)
	}
	return out
}

func uniqueGroups(groups []models.Group, logger *slog.Logger) []models.Group {
	seen := make(map[string]struct{}, len(groups))
	out := make([]models.Group, 0, len(groups))
	for _, g := range groups {
		if _, dup := seen[g.ID]; dup {
			logger.Warn("duplicate group dropped", "groupId", g.ID)
			continue
		}
		seen[g.ID] = struct{}{}
		out = append(out, g)
	}
	return out
}
