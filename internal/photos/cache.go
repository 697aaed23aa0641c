// Package photos caches friend and group avatars. Lookups go through an
// in-memory LRU, then a persistent Storage, then the remote Source.
package photos

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/vidfriends/mutualsync/internal/metrics"
)

const (
	DefaultCacheSize = 512
	maxPhotoBytes    = 8 << 20
)

// Storage persists photo bytes under a key. Open returns ErrNotFound for
// missing keys.
type Storage interface {
	Save(ctx context.Context, key string, r io.Reader) (string, error)
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}

// Source downloads a photo by ref.
type Source interface {
	Fetch(ctx context.Context, ref string) ([]byte, error)
}

var lookups = metrics.NewCounter(
	"photo_lookups",
	"photos",
	"Avatar lookups by the layer that served them",
	[]string{"layer"},
)

// Cache serves photos by ref. Concurrent misses for the same ref share one
// download.
type Cache struct {
	memory  *lru.Cache[string, []byte]
	storage Storage
	source  Source
	logger  *slog.Logger
	flight  singleflight.Group
}

// NewCache builds a cache holding up to size photos in memory. storage and
// source may be nil.
func NewCache(size int, storage Storage, source Source, logger *slog.Logger) (*Cache, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	memory, err := lru.New[string, []byte](size)
	if err != nil {
		return nil, fmt.Errorf("create photo lru: %w", err)
	}
	return &Cache{memory: memory, storage: storage, source: source, logger: logger}, nil
}

// Get returns the photo bytes for ref.
func (c *Cache) Get(ctx context.Context, ref string) ([]byte, error) {
	key, err := normalizeRef(ref)
	if err != nil {
		return nil, err
	}
	if data, ok := c.memory.Get(key); ok {
		lookups.WithLabelValues("memory").Inc()
		return data, nil
	}

	v, err, _ := c.flight.Do(key, func() (any, error) {
		return c.load(ctx, ref, key)
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

// Contains reports whether ref is in memory without touching recency.
func (c *Cache) Contains(ref string) bool {
	key, err := normalizeRef(ref)
	if err != nil {
		return false
	}
	return c.memory.Contains(key)
}

// Len is the number of photos held in memory.
func (c *Cache) Len() int {
	return c.memory.Len()
}

// Purge empties the in-memory layer. Stored photos are kept.
func (c *Cache) Purge() {
	c.memory.Purge()
}

func (c *Cache) load(ctx context.Context, ref, key string) ([]byte, error) {
	if c.storage != nil {
		data, err := c.readStored(ctx, key)
		switch {
		case err == nil:
			lookups.WithLabelValues("storage").Inc()
			c.memory.Add(key, data)
			return data, nil
		case !errors.Is(err, ErrNotFound):
			c.logger.Warn("photo storage read failed", "ref", ref, "error", err)
		}
	}

	if c.source == nil {
		return nil, ErrUnavailable
	}
	data, err := c.source.Fetch(ctx, ref)
	if err != nil {
		return nil, err
	}
	lookups.WithLabelValues("source").Inc()
	c.memory.Add(key, data)

	if c.storage != nil {
		if _, err := c.storage.Save(ctx, key, bytes.NewReader(data)); err != nil {
			c.logger.Warn("photo storage write failed", "ref", ref, "error", err)
		}
	}
	return data, nil
}

func (c *Cache) readStored(ctx context.Context, key string) ([]byte, error) {
	rc, err := c.storage.Open(ctx, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	data, err := io.ReadAll(io.LimitReader(rc, maxPhotoBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read stored photo: %w", err)
	}
	if len(data) > maxPhotoBytes {
		return nil, fmt.Errorf("stored photo %s exceeds %d bytes", key, maxPhotoBytes)
	}
	return data, nil
}

// normalizeRef turns a ref into a storage key: a cleaned relative path
// without the URL scheme.
func normalizeRef(ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if i := strings.Index(ref, "://"); i >= 0 {
		ref = ref[i+3:]
	}
	ref = strings.TrimLeft(ref, "/")
	if ref == "" {
		return "", ErrInvalidRef
	}
	key := path.Clean(ref)
	if key == "." || key == ".." || strings.HasPrefix(key, "../") {
		return "", fmt.Errorf("%w: %q", ErrInvalidRef, ref)
	}
	return key, nil
}
