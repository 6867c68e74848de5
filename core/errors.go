package core

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
)

// ErrAffinityUnavailable is returned when the main-thread affinity cannot accept a
// turn or timer request, e.g. the host event loop was never started or has exited.
var ErrAffinityUnavailable = errors.New("main thread affinity unavailable")

// errNilCallback is reported when a nil callback reaches the main thread.
var errNilCallback = errors.New("nil callback")

// CallbackError describes a scheduled callback that returned an error or panicked.
// It is recovered at the task boundary and never propagates into the drain loop.
type CallbackError struct {
	Queue    string
	TaskName string
	Sequence uint64
	Priority int
	// Prioritized is set for Scheduler tasks; bridge closures carry no priority.
	Prioritized bool

	// Err is the error returned by the callback, or a synthesized error for a panic.
	Err error
	// Panic holds the recovered value when the callback panicked.
	Panic any
	Stack []byte
}

func (e *CallbackError) Error() string {
	if e.Panic != nil {
		return fmt.Sprintf("%s: task %q panicked: %v", e.Queue, e.TaskName, e.Panic)
	}
	return fmt.Sprintf("%s: task %q failed: %v", e.Queue, e.TaskName, e.Err)
}

func (e *CallbackError) Unwrap() error { return e.Err }

// Panicked reports whether the callback panicked rather than returning an error.
func (e *CallbackError) Panicked() bool { return e.Panic != nil }

func (e *CallbackError) outcome() Outcome {
	if e.Panicked() {
		return OutcomePanic
	}
	return OutcomeError
}

// InvariantViolation is the panic value used when an internal contract is broken,
// such as draining off the main thread or executing a task twice. It is never
// recovered by the scheduler.
type InvariantViolation struct {
	Op     string
	Detail string
}

func (v *InvariantViolation) Error() string {
	return fmt.Sprintf("mainthread invariant violated in %s: %s", v.Op, v.Detail)
}

// IsInvariantViolation reports whether a recovered panic value is an InvariantViolation.
func IsInvariantViolation(rec any) bool {
	_, ok := rec.(*InvariantViolation)
	return ok
}

func invokeCallback(ctx context.Context, cb Callback) (value any, cbErr *CallbackError) {
	defer func() {
		if rec := recover(); rec != nil {
			if IsInvariantViolation(rec) {
				panic(rec)
			}
			value = nil
			cbErr = &CallbackError{
				Err:   fmt.Errorf("panic: %v", rec),
				Panic: rec,
				Stack: debug.Stack(),
			}
		}
	}()

	if cb == nil {
		return nil, &CallbackError{Err: errNilCallback}
	}
	v, err := cb(ctx)
	if err != nil {
		return nil, &CallbackError{Err: err}
	}
	return v, nil
}

func invokeClosure(ctx context.Context, fn Closure) *CallbackError {
	if fn == nil {
		return &CallbackError{Err: errNilCallback}
	}
	_, cbErr := invokeCallback(ctx, func(ctx context.Context) (any, error) {
		fn(ctx)
		return nil, nil
	})
	return cbErr
}
