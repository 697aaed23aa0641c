package photos

import "errors"

var (
	// ErrNotFound is returned by a Storage that does not hold the key, and by
	// the cache when the source has no photo for a ref.
	ErrNotFound = errors.New("photo not found")
	// ErrInvalidRef rejects empty or unsafe photo refs.
	ErrInvalidRef = errors.New("invalid photo ref")
	// ErrUnavailable means no source is configured for cache misses.
	ErrUnavailable = errors.New("photo source unavailable")
)
