package core

import (
	"context"
	"sync"
	"sync/atomic"
)

// Closure is the unit of work posted through the DispatchBridge.
type Closure func(ctx context.Context)

// Callback is the unit of work scheduled on the Scheduler. Its return value becomes the
// task result. Returning an error (or panicking) leaves the result Undefined.
//
// Callbacks cross goroutines: they must only capture values they own or values that are
// safe for concurrent use.
type Callback func(ctx context.Context) (any, error)

// =============================================================================
// Priority
// =============================================================================

// Lower values run first. Values above PriorityLowest are accepted and sort after it.
const (
	PriorityHighest = 0
	PriorityHigh    = 25
	PriorityDefault = 50
	PriorityLow     = 75
	PriorityLowest  = 100
)

// clampPriority applies the admission rule: negative priorities become PriorityHighest.
func clampPriority(priority int) int {
	if priority < PriorityHighest {
		return PriorityHighest
	}
	return priority
}

// =============================================================================
// TaskHandle
// =============================================================================

// TaskHandle is the caller-facing view of a scheduled task.
type TaskHandle interface {
	Pending() bool
	Result() (any, bool)
	Unschedule()
}

var _ TaskHandle = (*Task)(nil)

// =============================================================================
// Task
// =============================================================================

type taskResult struct {
	value any
}

// Task is a deferred callback owned by a Scheduler.
//
// All exported methods are safe to call from any goroutine at any time. Only the
// Scheduler's drain step executes a task.
type Task struct {
	name     string
	callback Callback
	priority int
	sequence uint64 // assigned by PriorityQueue.Push

	valid    atomic.Bool
	pending  atomic.Bool
	executed atomic.Bool
	result   atomic.Pointer[taskResult]

	notifyMu sync.Mutex
	notify   func(result any)
}

func newTask(name string, callback Callback, priority int) *Task {
	t := &Task{
		name:     name,
		callback: callback,
		priority: clampPriority(priority),
	}
	t.valid.Store(true)
	t.pending.Store(true)
	return t
}

// Name returns the resolved task name used in logs and history.
func (t *Task) Name() string { return t.name }

// Priority returns the admitted (clamped) priority.
func (t *Task) Priority() int { return t.priority }

// Sequence returns the tie-break sequence number assigned at enqueue time.
func (t *Task) Sequence() uint64 { return t.sequence }

// Pending reports whether the task has not yet been processed by the drain step.
func (t *Task) Pending() bool { return t.pending.Load() }

// Valid reports whether the task is still allowed to run.
func (t *Task) Valid() bool { return t.valid.Load() }

// Unschedule prevents the callback from running if it has not started yet.
// Calling it after execution has no effect.
func (t *Task) Unschedule() { t.valid.Store(false) }

// Result returns the callback's return value. ok is false while the task is pending,
// when it was unscheduled before running, or when the callback failed.
func (t *Task) Result() (any, bool) {
	r := t.result.Load()
	if r == nil {
		return nil, false
	}
	return r.value, true
}

// Notify registers fn to be called on the main thread with the task result right after
// a successful execution. A later call replaces an earlier one. It is discarded once the
// task has been processed.
func (t *Task) Notify(fn func(result any)) {
	t.notifyMu.Lock()
	t.notify = fn
	t.notifyMu.Unlock()
}

func (t *Task) takeNotify() func(result any) {
	t.notifyMu.Lock()
	defer t.notifyMu.Unlock()
	fn := t.notify
	t.notify = nil
	return fn
}

// taskOutcome is the result of one execution attempt. notifyErr is set when the
// callback succeeded but its notifier failed; outcome stays OutcomeOK.
type taskOutcome struct {
	outcome   Outcome
	err       *CallbackError
	notifyErr *CallbackError
}

// execute runs the callback at most once. pending is cleared on every path, including
// a panicking callback.
func (t *Task) execute(ctx context.Context, queue string) (res taskOutcome) {
	if !t.executed.CompareAndSwap(false, true) {
		panic(&InvariantViolation{Op: "execute", Detail: "task " + t.name + " executed more than once"})
	}
	defer func() {
		t.takeNotify()
		t.pending.Store(false)
	}()

	if !t.valid.Load() {
		return taskOutcome{outcome: OutcomeSkipped}
	}

	value, cbErr := invokeCallback(ctx, t.callback)
	if cbErr != nil {
		cbErr.Queue = queue
		cbErr.TaskName = t.name
		cbErr.Sequence = t.sequence
		cbErr.Priority = t.priority
		cbErr.Prioritized = true
		return taskOutcome{outcome: cbErr.outcome(), err: cbErr}
	}
	t.result.Store(&taskResult{value: value})

	if fn := t.takeNotify(); fn != nil {
		if nErr := invokeClosure(ctx, func(context.Context) { fn(value) }); nErr != nil {
			nErr.Queue = queue
			nErr.TaskName = t.name + " (notify)"
			nErr.Sequence = t.sequence
			nErr.Priority = t.priority
			nErr.Prioritized = true
			return taskOutcome{outcome: OutcomeOK, notifyErr: nErr}
		}
	}
	return taskOutcome{outcome: OutcomeOK}
}
