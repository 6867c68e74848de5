package mainthread

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Swind/go-mainthread/core"
)

// Runtime owns the Scheduler and DispatchBridge bound to one main-thread affinity.
type Runtime struct {
	affinity  core.MainThreadAffinity
	config    core.Config
	scheduler *core.Scheduler

	bridgeOnce sync.Once
	bridge     *core.DispatchBridge
}

// NewRuntime creates a Runtime. The Scheduler is created immediately; the bridge is
// created on first use.
func NewRuntime(affinity core.MainThreadAffinity, config *core.Config) *Runtime {
	var cfg core.Config
	if config != nil {
		cfg = *config
	}
	return &Runtime{
		affinity:  affinity,
		config:    cfg,
		scheduler: core.NewScheduler(affinity, &cfg),
	}
}

// Affinity returns the affinity both queues dispatch to.
func (r *Runtime) Affinity() core.MainThreadAffinity { return r.affinity }

// Scheduler returns the prioritized scheduler.
func (r *Runtime) Scheduler() *core.Scheduler { return r.scheduler }

// Bridge returns the dispatch bridge, creating it on the first call.
func (r *Runtime) Bridge() *core.DispatchBridge {
	r.bridgeOnce.Do(func() {
		cfg := r.config
		cfg.Name = core.BridgeQueueName
		if r.config.Name != "" {
			cfg.Name = r.config.Name + "/" + core.BridgeQueueName
		}
		r.bridge = core.NewDispatchBridge(r.affinity, &cfg)
	})
	return r.bridge
}

// Schedule queues cb on the scheduler. See core.Scheduler.Schedule.
func (r *Runtime) Schedule(cb core.Callback, priority int) (*core.Task, error) {
	return r.scheduler.Schedule(cb, priority)
}

// DeferredCall runs fn on the main thread as soon as possible, in FIFO order with other
// deferred calls.
func (r *Runtime) DeferredCall(fn core.Closure) error {
	return r.Bridge().Post(fn)
}

// TimedCall runs fn on the main thread once delay has elapsed.
func (r *Runtime) TimedCall(delay time.Duration, fn core.Closure) error {
	return r.Bridge().PostDelayed(delay, fn)
}

// ScheduleWithTimeout schedules cb and arms a timer on the bridge. If the timer fires
// while the task is still pending, the task is unscheduled and onTimeout (if not nil)
// runs on the main thread. Whichever runs first on the main thread wins; the other is
// a no-op.
func (r *Runtime) ScheduleWithTimeout(cb core.Callback, priority int, timeout time.Duration, onTimeout core.Closure) (*core.Task, error) {
	task, err := r.scheduler.Schedule(cb, priority)
	if err != nil {
		return task, err
	}

	err = r.Bridge().PostDelayed(timeout, func(ctx context.Context) {
		if !task.Pending() {
			return
		}
		task.Unschedule()
		if onTimeout != nil {
			onTimeout(ctx)
		}
	})
	if err != nil {
		task.Unschedule()
		return task, fmt.Errorf("arm timeout for %q: %w", task.Name(), err)
	}
	return task, nil
}

// =============================================================================
// Global Runtime Helper (Singleton)
// =============================================================================

var (
	globalRuntime *Runtime
	globalMu      sync.Mutex
)

// InitGlobalRuntime installs the process-wide Runtime. Later calls return the existing
// Runtime unchanged.
func InitGlobalRuntime(affinity core.MainThreadAffinity, config *core.Config) *Runtime {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalRuntime == nil {
		globalRuntime = NewRuntime(affinity, config)
	}
	return globalRuntime
}

// GlobalRuntime returns the process-wide Runtime, or an error wrapping
// ErrAffinityUnavailable if InitGlobalRuntime has not been called.
func GlobalRuntime() (*Runtime, error) {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalRuntime == nil {
		return nil, fmt.Errorf("global runtime not initialized: %w", core.ErrAffinityUnavailable)
	}
	return globalRuntime, nil
}

// ShutdownGlobalRuntime removes the process-wide Runtime. It does not stop the affinity.
func ShutdownGlobalRuntime() {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalRuntime = nil
}

// DeferredCall is Runtime.DeferredCall on the global Runtime.
func DeferredCall(fn core.Closure) error {
	rt, err := GlobalRuntime()
	if err != nil {
		return err
	}
	return rt.DeferredCall(fn)
}

// TimedCall is Runtime.TimedCall on the global Runtime.
func TimedCall(delay time.Duration, fn core.Closure) error {
	rt, err := GlobalRuntime()
	if err != nil {
		return err
	}
	return rt.TimedCall(delay, fn)
}

// Schedule is Runtime.Schedule on the global Runtime.
func Schedule(cb core.Callback, priority int) (*core.Task, error) {
	rt, err := GlobalRuntime()
	if err != nil {
		return nil, err
	}
	return rt.Schedule(cb, priority)
}
