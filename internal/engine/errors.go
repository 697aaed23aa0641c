package engine

import "errors"

var (
	// ErrAlreadyRunning rejects Start while a sync is loading or computing.
	ErrAlreadyRunning = errors.New("sync already running")
	// ErrNotReady rejects an operation that needs a finished sync (or, for
	// Restore, an idle coordinator). It is also returned when an incremental
	// change loses a race with Start, Cancel or Clear and is discarded.
	ErrNotReady = errors.New("membership data not ready")
	// ErrCancelled is the outcome of a run that was cancelled or cleared.
	ErrCancelled = errors.New("sync cancelled")
	// ErrUnknownFriend is returned for a friend id the index does not hold.
	ErrUnknownFriend = errors.New("unknown friend")
	// ErrUnknownGroup is returned for a group id the index does not hold.
	ErrUnknownGroup = errors.New("unknown group")
	// ErrDuplicate rejects adding an id that is already present.
	ErrDuplicate = errors.New("already present")
	// ErrInvalidID rejects records without an id.
	ErrInvalidID = errors.New("id is required")
)
