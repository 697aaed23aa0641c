package remote

import (
	"context"
	"errors"
	"fmt"
)

// NetworkError is a transient remote failure, including per-call timeouts.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("remote %s: network error: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// ParseError is a malformed remote response.
type ParseError struct {
	Op  string
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("remote %s: malformed response: %v", e.Op, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Classify makes sure err carries one of the remote error types. Errors that
// are already classified pass through; anything else, including deadline
// expiry, is reported as a NetworkError.
func Classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var netErr *NetworkError
	var parseErr *ParseError
	if errors.As(err, &netErr) || errors.As(err, &parseErr) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &NetworkError{Op: op, Err: fmt.Errorf("request timed out: %w", err)}
	}
	return &NetworkError{Op: op, Err: err}
}
