package core

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// DispatchBridge marshals one-off closures onto the main thread in strict FIFO order.
//
// It has no priorities and no cancellation. Every Post requests a flush; a flush runs
// everything queued at that moment, so later flushes may find nothing to do.
type DispatchBridge struct {
	name     string
	queue    *fifoQueue
	affinity MainThreadAffinity

	logger       Logger
	errorHandler ErrorHandler
	metrics      Metrics
	history      *executionHistory

	ctx context.Context

	posted   atomic.Int64
	executed atomic.Int64
	failed   atomic.Int64
	timers   atomic.Int64

	lastMu       sync.Mutex
	lastTaskName string
	lastTaskAt   time.Time
}

// NewDispatchBridge creates a bridge bound to the given affinity. Several bridges may
// share one affinity.
func NewDispatchBridge(affinity MainThreadAffinity, config *Config) *DispatchBridge {
	cfg := config.withDefaults(BridgeQueueName)
	b := &DispatchBridge{
		name:         cfg.Name,
		queue:        newFIFOQueue(),
		affinity:     affinity,
		logger:       cfg.Logger,
		errorHandler: cfg.ErrorHandler,
		metrics:      cfg.Metrics,
		history:      newExecutionHistory(cfg.HistoryCapacity),
	}
	b.ctx = context.WithValue(context.Background(), bridgeKey, b)
	return b
}

// Name returns the bridge name used in logs and metrics.
func (b *DispatchBridge) Name() string { return b.name }

// Post runs task on the main thread after every closure posted before it.
func (b *DispatchBridge) Post(task Closure) error {
	return b.post(resolveTaskName(task, ""), task)
}

// PostNamed is Post with an explicit name for logs and history.
func (b *DispatchBridge) PostNamed(name string, task Closure) error {
	return b.post(resolveTaskName(task, name), task)
}

// PostDelayed runs task on the main thread no earlier than delay from now.
//
// The delay is armed on the main thread: the closure first crosses over through the
// FIFO, then a native one-shot timer is started there.
func (b *DispatchBridge) PostDelayed(delay time.Duration, task Closure) error {
	name := resolveTaskName(task, "")
	return b.post(name+" (arm timer)", func(ctx context.Context) {
		b.timers.Add(1)
		timerID := b.queue.reserveID()
		err := b.affinity.RequestTimer(delay, func() {
			if !b.affinity.IsMainThread() {
				panic(&InvariantViolation{Op: "timer", Detail: "bridge " + b.name + " timer fired off the main thread"})
			}
			b.runItem(&fifoItem{id: timerID, name: name, closure: task})
		})
		if err != nil {
			b.metrics.RecordAffinityUnavailable(b.name)
			b.logger.Error("timer request failed",
				F("bridge", b.name),
				F("task", name),
				F("delay", delay),
				F("error", err),
			)
		}
	})
}

func (b *DispatchBridge) post(name string, task Closure) error {
	if b.affinity == nil {
		b.metrics.RecordAffinityUnavailable(b.name)
		return fmt.Errorf("post %q: %w", name, ErrAffinityUnavailable)
	}

	item := b.queue.push(name, task)
	b.posted.Add(1)
	b.metrics.RecordQueueDepth(b.name, b.queue.len())
	b.metrics.RecordWakeRequest(b.name)

	if err := b.affinity.RequestTurn(b.flush); err != nil {
		b.queue.drop(item)
		b.metrics.RecordAffinityUnavailable(b.name)
		return fmt.Errorf("post %q: %w", name, err)
	}
	return nil
}

// flush runs every closure queued at the time of the call, in FIFO order.
func (b *DispatchBridge) flush() {
	if !b.affinity.IsMainThread() {
		panic(&InvariantViolation{Op: "flush", Detail: "bridge " + b.name + " flushed off the main thread"})
	}

	batch := b.queue.popAll()
	for _, item := range batch {
		b.runItem(item)
	}
	if len(batch) > 0 {
		b.metrics.RecordQueueDepth(b.name, b.queue.len())
	}
}

func (b *DispatchBridge) runItem(item *fifoItem) {
	startedAt := time.Now()
	cbErr := invokeClosure(b.ctx, item.closure)
	res := timedOutcome{taskOutcome: taskOutcome{outcome: OutcomeOK}, startedAt: startedAt, finishedAt: time.Now()}

	if cbErr != nil {
		cbErr.Queue = b.name
		cbErr.TaskName = item.name
		cbErr.Sequence = item.id
		res.outcome = cbErr.outcome()
		b.failed.Add(1)
		b.metrics.RecordCallbackError(b.name)
		b.errorHandler.HandleCallbackError(b.ctx, cbErr)
	} else {
		b.executed.Add(1)
	}
	b.metrics.RecordTaskDuration(b.name, PriorityDefault, res.finishedAt.Sub(startedAt))

	b.history.Add(res.record(item.id, item.name, b.name, PriorityDefault))
	b.lastMu.Lock()
	b.lastTaskName = item.name
	b.lastTaskAt = res.finishedAt
	b.lastMu.Unlock()
}

// Pending returns the number of closures waiting for a flush.
func (b *DispatchBridge) Pending() int {
	return b.queue.len()
}

// RecentTasks returns up to limit execution records, newest first.
func (b *DispatchBridge) RecentTasks(limit int) []TaskExecutionRecord {
	return b.history.Recent(limit)
}

// Stats returns a snapshot of the bridge counters.
func (b *DispatchBridge) Stats() BridgeStats {
	b.lastMu.Lock()
	lastName, lastAt := b.lastTaskName, b.lastTaskAt
	b.lastMu.Unlock()

	return BridgeStats{
		Name:         b.name,
		Pending:      b.queue.len(),
		Posted:       b.posted.Load(),
		Executed:     b.executed.Load(),
		Failed:       b.failed.Load(),
		Timers:       b.timers.Load(),
		LastTaskName: lastName,
		LastTaskAt:   lastAt,
	}
}

type bridgeKeyType struct{}

var bridgeKey bridgeKeyType

// GetCurrentDispatchBridge returns the DispatchBridge running the current closure, or nil.
func GetCurrentDispatchBridge(ctx context.Context) *DispatchBridge {
	if v := ctx.Value(bridgeKey); v != nil {
		return v.(*DispatchBridge)
	}
	return nil
}
