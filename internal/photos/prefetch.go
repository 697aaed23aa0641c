package photos

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// PrefetcherConfig controls the warm-up worker pool.
type PrefetcherConfig struct {
	QueueSize int
	Workers   int
	Timeout   time.Duration
}

// Prefetcher warms the cache in the background, typically with every photo
// ref of a freshly completed sync.
type Prefetcher struct {
	cache   *Cache
	timeout time.Duration
	logger  *slog.Logger

	// mu guards closing jobs against concurrent sends.
	mu     sync.RWMutex
	closed bool
	jobs   chan string
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

// NewPrefetcher starts the worker pool.
func NewPrefetcher(cache *Cache, cfg PrefetcherConfig, logger *slog.Logger) *Prefetcher {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Prefetcher{
		cache:   cache,
		timeout: cfg.Timeout,
		logger:  logger,
		jobs:    make(chan string, cfg.QueueSize),
		ctx:     ctx,
		cancel:  cancel,
	}

	p.wg.Add(cfg.Workers)
	for i := 0; i < cfg.Workers; i++ {
		go p.worker()
	}
	return p
}

// Warm queues every non-empty ref not already in memory and returns how many
// were queued. It never blocks: refs that do not fit in the queue are
// skipped.
func (p *Prefetcher) Warm(refs []string) int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return 0
	}

	queued := 0
	for _, ref := range refs {
		if ref == "" || p.cache.Contains(ref) {
			continue
		}
		select {
		case <-p.ctx.Done():
			return queued
		case p.jobs <- ref:
			queued++
		default:
			p.logger.Debug("prefetch queue full", "queued", queued, "refs", len(refs))
			return queued
		}
	}
	return queued
}

// Shutdown stops accepting refs and waits for queued ones to finish.
func (p *Prefetcher) Shutdown(ctx context.Context) error {
	p.once.Do(func() {
		p.cancel()
		p.mu.Lock()
		p.closed = true
		close(p.jobs)
		p.mu.Unlock()
	})

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

func (p *Prefetcher) worker() {
	defer p.wg.Done()
	for ref := range p.jobs {
		p.fetch(ref)
	}
}

func (p *Prefetcher) fetch(ref string) {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()
	if _, err := p.cache.Get(ctx, ref); err != nil {
		p.logger.Warn("photo prefetch failed", "ref", ref, "error", err)
	}
}
