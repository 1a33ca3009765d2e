package dtpool

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidArgument is returned by Settings construction and Pool.Submit
// when a caller-supplied value cannot be accepted: a nil Callable, or a
// Settings field out of range.
var ErrInvalidArgument = errors.New("dtpool: invalid argument")

// ErrClosed is the sentinel a caller can compare a translated Submit
// failure against. Submit itself reports closure with a boolean return
// rather than an error, matching the spec's "Closed -> submit false"
// contract; this sentinel exists for callers that want a named error.
var ErrClosed = errors.New("dtpool: pool is closed")

// ErrUnsupported is returned by TaskSchedulerAdapter.ScheduledTasks when
// the adapter's queue lock is contended at snapshot time.
var ErrUnsupported = errors.New("dtpool: operation unsupported under contention")

// FaultError wraps a panic or error raised by a submitted Callable. It is
// never returned to a submitter; it is the value handed to
// Settings.ExceptionHandler on the worker goroutine that ran the fault.
type FaultError struct {
	Timestamp  time.Time
	WorkerName string
	Err        error
	Recovered  bool // true if Err originated from a recovered panic
	Duration   time.Duration
}

// Error implements the error interface.
func (e *FaultError) Error() string {
	if e == nil {
		return "<nil>"
	}
	kind := "error"
	if e.Recovered {
		kind = "panic"
	}
	return fmt.Sprintf("dtpool: worker %s: user work %s after %v: %v", e.WorkerName, kind, e.Duration, e.Err)
}

// Unwrap returns the underlying cause, supporting errors.Is/errors.As
// against whatever the submitted Callable panicked with or returned.
func (e *FaultError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}
