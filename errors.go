package qrate

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidConcurrency = errors.New("qrate: concurrency must be at least 1")
	ErrInvalidRateLimit   = errors.New("qrate: rate limit must be greater than zero")
	ErrInvalidBuffer      = errors.New("qrate: buffer must not be negative")
	ErrNilWorker          = errors.New("qrate: worker is nil")
	ErrKilled             = errors.New("qrate: queue has been killed")

	// ErrCallbackReused is wrapped by the ProtocolError raised when a
	// worker completes the same task twice.
	ErrCallbackReused = errors.New("qrate: completion callback was already called")

	// ErrWorkerPanic wraps the value recovered from a panicking worker.
	ErrWorkerPanic = errors.New("qrate: worker panicked")

	// ErrRejected is the failure reported for a Future rejected without a reason.
	ErrRejected = errors.New("qrate: future rejected")
)

// ProtocolError reports a worker that broke the completion contract. It is
// raised with panic at the offending call because the scheduler cannot
// reconcile counters that were already updated.
type ProtocolError struct {
	TaskID uint64
	Err    error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("qrate: protocol violation on task %d: %v", e.TaskID, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// IsProtocolError reports whether v (an error or a recovered panic value)
// is a ProtocolError.
func IsProtocolError(v any) bool {
	err, ok := v.(error)
	if !ok {
		return false
	}
	var pe *ProtocolError
	return errors.As(err, &pe)
}
