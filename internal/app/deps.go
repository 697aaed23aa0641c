package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/vidfriends/mutualsync/internal/config"
	"github.com/vidfriends/mutualsync/internal/db"
	"github.com/vidfriends/mutualsync/internal/engine"
	"github.com/vidfriends/mutualsync/internal/handlers"
	"github.com/vidfriends/mutualsync/internal/metrics"
	"github.com/vidfriends/mutualsync/internal/middleware"
	"github.com/vidfriends/mutualsync/internal/photos"
	"github.com/vidfriends/mutualsync/internal/planner"
	"github.com/vidfriends/mutualsync/internal/remote"
	"github.com/vidfriends/mutualsync/internal/repositories"
	"github.com/vidfriends/mutualsync/internal/storage"
)

type cleanupFunc func(ctx context.Context) error

// dependencies holds the concrete collaborators of one process.
type dependencies struct {
	coordinator *engine.Coordinator
	store       engine.Store
	photos      *photos.Cache
	prefetcher  *photos.Prefetcher
	limiter     *middleware.IPRateLimiter
}

func (d *dependencies) handlerDeps() handlers.Dependencies {
	return handlers.Dependencies{
		Engine:      d.coordinator,
		Photos:      d.photos,
		Warmer:      d.prefetcher,
		RateLimiter: d.limiter,
		Metrics:     metrics.Handler(),
	}
}

// buildDependencies wires together the concrete implementations selected by
// cfg. The returned cleanup stops background work and releases the store.
func buildDependencies(ctx context.Context, cfg config.Config, logger *slog.Logger) (*dependencies, cleanupFunc, error) {
	pacer := planner.NewPacer(cfg.Sync.Interval)
	svc, err := remote.NewHTTPClient(remote.HTTPConfig{
		BaseURL:      cfg.Remote.BaseURL,
		Token:        cfg.Remote.Token,
		MaxRetries:   cfg.Remote.MaxRetries,
		RetryWaitMin: cfg.Remote.RetryWaitMin,
		RetryWaitMax: cfg.Remote.RetryWaitMax,
		Pacer:        pacer,
	}, logger)
	if err != nil {
		return nil, nil, err
	}

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}

	photoStorage, err := openPhotoStorage(ctx, cfg)
	if err != nil {
		closeStore()
		return nil, nil, err
	}
	cache, err := photos.NewCache(cfg.Photos.CacheSize, photoStorage, photos.NewHTTPSource(cfg.Photos.SourceURL, cfg.Photos.FetchTimeout, logger), logger)
	if err != nil {
		closeStore()
		return nil, nil, err
	}
	prefetcher := photos.NewPrefetcher(cache, photos.PrefetcherConfig{
		Workers: cfg.Photos.PrefetchWorkers,
		Timeout: cfg.Photos.FetchTimeout,
	}, logger)

	coordinator := engine.New(svc, store, engine.Options{
		Planner: planner.Config{
			FriendChunk:    cfg.Sync.FriendChunk,
			GroupChunk:     cfg.Sync.GroupChunk,
			Interval:       cfg.Sync.Interval,
			RequestTimeout: cfg.Sync.RequestTimeout,
			Pacer:          pacer,
		},
		EventBuffer: cfg.Sync.EventBuffer,
		Logger:      logger,
	})

	deps := &dependencies{
		coordinator: coordinator,
		store:       store,
		photos:      cache,
		prefetcher:  prefetcher,
		limiter:     middleware.NewIPRateLimiter(cfg.RateLimit.RequestsPerMinute, time.Minute, cfg.RateLimit.Burst, 10*time.Minute),
	}

	cleanup := func(ctx context.Context) error {
		coordinator.Cancel()
		var errs []error
		// Wait reports the run's own outcome too; only a missed deadline matters here.
		if err := coordinator.Wait(ctx); err != nil && ctx.Err() != nil {
			errs = append(errs, fmt.Errorf("wait for sync: %w", err))
		}
		if err := prefetcher.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop photo prefetcher: %w", err))
		}
		closeStore()
		return errors.Join(errs...)
	}
	return deps, cleanup, nil
}

func openStore(ctx context.Context, cfg config.Config) (engine.Store, func(), error) {
	switch cfg.StoreDriver {
	case config.StoreMemory, "":
		return repositories.NewMemoryStore(), func() {}, nil
	case config.StorePostgres:
		pool, err := db.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		return repositories.NewPostgresStore(pool), pool.Close, nil
	case config.StoreSQLite:
		store, err := repositories.OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { _ = store.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}

// openPhotoStorage prefers the object store, then a local directory. A nil
// Storage keeps avatars in memory only.
func openPhotoStorage(ctx context.Context, cfg config.Config) (photos.Storage, error) {
	switch {
	case cfg.ObjectStore.Bucket != "":
		return storage.NewS3Storage(ctx, cfg.ObjectStore)
	case cfg.Photos.Dir != "":
		return storage.NewDiskStorage(cfg.Photos.Dir)
	default:
		return nil, nil
	}
}
