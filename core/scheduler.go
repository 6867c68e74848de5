package core

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Scheduler runs prioritized callbacks on the main thread, one task per main-thread turn.
//
// Schedule may be called from any goroutine. A drain turn is requested from the
// affinity only when the queue goes from empty to non-empty; each turn executes one
// task and re-arms itself while work remains, so scheduled work interleaves with the
// rest of the host event loop.
type Scheduler struct {
	name     string
	queue    *PriorityQueue
	affinity MainThreadAffinity

	logger       Logger
	errorHandler ErrorHandler
	metrics      Metrics
	history      *executionHistory

	// ctx is handed to every callback; it carries the scheduler itself.
	ctx context.Context

	// stalled is set when a turn request failed while tasks were queued. The next
	// Schedule call requests a turn even though the queue is non-empty.
	stalled atomic.Bool

	scheduled    atomic.Int64
	executed     atomic.Int64
	failed       atomic.Int64
	skipped      atomic.Int64
	wakeRequests atomic.Int64

	lastMu       sync.Mutex
	lastTaskName string
	lastTaskAt   time.Time
}

// NewScheduler creates a Scheduler bound to the given affinity. A nil affinity is
// allowed; every Schedule call then fails with ErrAffinityUnavailable.
func NewScheduler(affinity MainThreadAffinity, config *Config) *Scheduler {
	cfg := config.withDefaults(SchedulerQueueName)
	s := &Scheduler{
		name:         cfg.Name,
		queue:        NewPriorityQueue(),
		affinity:     affinity,
		logger:       cfg.Logger,
		errorHandler: cfg.ErrorHandler,
		metrics:      cfg.Metrics,
		history:      newExecutionHistory(cfg.HistoryCapacity),
	}
	s.ctx = context.WithValue(context.Background(), schedulerKey, s)
	return s
}

// Name returns the scheduler name used in logs and metrics.
func (s *Scheduler) Name() string { return s.name }

// Schedule queues cb to run on the main thread with the given priority.
// Lower priorities run first; equal priorities run in submission order.
// Negative priorities are treated as PriorityHighest.
//
// The only error returned is one wrapping ErrAffinityUnavailable. In that case the
// returned task is already unscheduled and will never run.
func (s *Scheduler) Schedule(cb Callback, priority int) (*Task, error) {
	return s.ScheduleNamed("", cb, priority)
}

// ScheduleNamed is Schedule with an explicit task name for logs and history.
func (s *Scheduler) ScheduleNamed(name string, cb Callback, priority int) (*Task, error) {
	task := newTask(resolveTaskName(cb, name), cb, priority)

	wasEmpty := s.queue.Push(priority, task)
	s.scheduled.Add(1)
	s.metrics.RecordQueueDepth(s.name, s.queue.Len())

	// A stalled chain is restarted by whichever Schedule call observes the flag.
	restart := s.stalled.CompareAndSwap(true, false)
	if !wasEmpty && !restart {
		return task, nil
	}
	if restart {
		s.logger.Warn("restarting stalled drain chain", F("scheduler", s.name))
	}
	if err := s.requestTurn(); err != nil {
		task.Unschedule()
		return task, fmt.Errorf("schedule %q: %w", task.name, err)
	}
	return task, nil
}

// ScheduleFunc schedules a closure that produces no result.
func (s *Scheduler) ScheduleFunc(fn Closure, priority int) (*Task, error) {
	name := resolveTaskName(fn, "")
	if fn == nil {
		return s.ScheduleNamed(name, nil, priority)
	}
	return s.ScheduleNamed(name, func(ctx context.Context) (any, error) {
		fn(ctx)
		return nil, nil
	}, priority)
}

// HasPendingTasks reports whether any task is still queued.
func (s *Scheduler) HasPendingTasks() bool {
	return s.queue.Len() > 0
}

// requestTurn asks the affinity for one drain turn. On failure the scheduler is marked
// stalled so the chain is restarted by the next Schedule call.
func (s *Scheduler) requestTurn() error {
	if s.affinity == nil {
		s.stalled.Store(true)
		s.metrics.RecordAffinityUnavailable(s.name)
		return ErrAffinityUnavailable
	}
	s.wakeRequests.Add(1)
	s.metrics.RecordWakeRequest(s.name)
	if err := s.affinity.RequestTurn(s.drainStep); err != nil {
		s.stalled.Store(true)
		s.metrics.RecordAffinityUnavailable(s.name)
		s.logger.Error("drain turn request failed",
			F("scheduler", s.name),
			F("pending", s.queue.Len()),
			F("error", err),
		)
		return err
	}
	return nil
}

// drainStep executes one task. It runs only on the main thread, invoked by the affinity.
func (s *Scheduler) drainStep() {
	if !s.affinity.IsMainThread() {
		panic(&InvariantViolation{Op: "drain", Detail: "scheduler " + s.name + " drained off the main thread"})
	}

	task, remaining, ok := s.queue.PopNext()
	if ok {
		s.run(task)
		s.metrics.RecordQueueDepth(s.name, s.queue.Len())
	}

	if remaining > 0 {
		if err := s.requestTurn(); err != nil {
			s.logger.Warn("drain chain stalled; next schedule restarts it",
				F("scheduler", s.name),
				F("remaining", remaining),
			)
		}
	}
}

func (s *Scheduler) run(task *Task) {
	startedAt := time.Now()
	res := timedOutcome{taskOutcome: task.execute(s.ctx, s.name), startedAt: startedAt}
	res.finishedAt = time.Now()

	switch res.outcome {
	case OutcomeSkipped:
		s.skipped.Add(1)
		s.metrics.RecordTaskSkipped(s.name)
		s.logger.Debug("skipped unscheduled task",
			F("scheduler", s.name),
			F("task", task.name),
			F("sequence", task.sequence),
		)
	case OutcomeError, OutcomePanic:
		s.failed.Add(1)
		s.metrics.RecordCallbackError(s.name)
		s.errorHandler.HandleCallbackError(s.ctx, res.err)
	default:
		s.executed.Add(1)
		if res.notifyErr != nil {
			s.metrics.RecordCallbackError(s.name)
			s.errorHandler.HandleCallbackError(s.ctx, res.notifyErr)
		}
	}
	if res.outcome != OutcomeSkipped {
		s.metrics.RecordTaskDuration(s.name, task.priority, res.finishedAt.Sub(res.startedAt))
	}

	s.history.Add(res.record(task.sequence, task.name, s.name, task.priority))
	s.lastMu.Lock()
	s.lastTaskName = task.name
	s.lastTaskAt = res.finishedAt
	s.lastMu.Unlock()
}

// RecentTasks returns up to limit execution records, newest first.
func (s *Scheduler) RecentTasks(limit int) []TaskExecutionRecord {
	return s.history.Recent(limit)
}

// LastTask returns the most recent execution record.
func (s *Scheduler) LastTask() (TaskExecutionRecord, bool) {
	return s.history.Last()
}

// Stats returns a snapshot of the scheduler counters.
func (s *Scheduler) Stats() SchedulerStats {
	s.lastMu.Lock()
	lastName, lastAt := s.lastTaskName, s.lastTaskAt
	s.lastMu.Unlock()

	return SchedulerStats{
		Name:         s.name,
		Pending:      s.queue.Len(),
		Scheduled:    s.scheduled.Load(),
		Executed:     s.executed.Load(),
		Failed:       s.failed.Load(),
		Skipped:      s.skipped.Load(),
		WakeRequests: s.wakeRequests.Load(),
		Stalled:      s.stalled.Load(),
		LastTaskName: lastName,
		LastTaskAt:   lastAt,
	}
}

// =============================================================================
// Context Helper
// =============================================================================

type schedulerKeyType struct{}

var schedulerKey schedulerKeyType

// GetCurrentScheduler returns the Scheduler running the current callback, or nil.
func GetCurrentScheduler(ctx context.Context) *Scheduler {
	if v := ctx.Value(schedulerKey); v != nil {
		return v.(*Scheduler)
	}
	return nil
}
