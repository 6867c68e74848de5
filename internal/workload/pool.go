// Package workload runs background Fibonacci jobs and hands each result to the
// main thread through a prioritized scheduler.
package workload

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hackebrot/go-fibonacci"
	"golang.org/x/time/rate"

	"github.com/Swind/go-mainthread/config"
	"github.com/Swind/go-mainthread/core"
)

// ErrPoolStopped is returned by Submit after Stop.
var ErrPoolStopped = errors.New("workload: pool stopped")

// Job is one Fibonacci computation.
type Job struct {
	ID       string
	N        int
	Priority int
}

// Result is a computed job, delivered on the main thread.
type Result struct {
	Job        Job
	Value      any
	Worker     int
	StartedAt  time.Time
	FinishedAt time.Time
}

// Duration is the time spent computing on the worker.
func (r Result) Duration() time.Duration { return r.FinishedAt.Sub(r.StartedAt) }

// TaskScheduler is the part of core.Scheduler the pool needs.
type TaskScheduler interface {
	ScheduleNamed(name string, cb core.Callback, priority int) (*core.Task, error)
}

// DeliverFunc consumes a result on the main thread.
type DeliverFunc func(ctx context.Context, r Result)

// Options configures a Pool.
type Options struct {
	Workers  int
	Rate     float64 // jobs per second; 0 disables limiting
	Burst    int
	Strategy fibonacci.Strategy
	Logger   core.Logger
}

// OptionsFromConfig maps the workload section onto pool options.
func OptionsFromConfig(c config.WorkloadConfig, logger core.Logger) Options {
	return Options{Workers: c.Workers, Rate: c.Rate, Burst: c.Burst, Logger: logger}
}

// Pool is a fixed set of worker goroutines computing jobs off the main thread.
type Pool struct {
	workers  int
	strategy fibonacci.Strategy
	limiter  *rate.Limiter
	logger   core.Logger
	sched    TaskScheduler
	deliver  DeliverFunc

	jobs     chan Job
	wg       sync.WaitGroup
	submitMu sync.RWMutex

	runningMu sync.Mutex
	running   bool
	stopped   bool
	cancel    context.CancelFunc

	computed  atomic.Int64
	scheduled atomic.Int64
	dropped   atomic.Int64
}

// NewPool creates a pool that schedules each result on sched and passes it to deliver.
func NewPool(sched TaskScheduler, deliver DeliverFunc, opts Options) *Pool {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.Strategy == nil {
		opts.Strategy = fibonacci.NewRecursive()
	}
	if opts.Logger == nil {
		opts.Logger = core.NewNoOpLogger()
	}
	limit := rate.Inf
	if opts.Rate > 0 {
		limit = rate.Limit(opts.Rate)
	}
	if opts.Burst <= 0 {
		opts.Burst = 1
	}
	return &Pool{
		workers:  opts.Workers,
		strategy: opts.Strategy,
		limiter:  rate.NewLimiter(limit, opts.Burst),
		logger:   opts.Logger,
		sched:    sched,
		deliver:  deliver,
		jobs:     make(chan Job, opts.Workers),
	}
}

// Start launches the worker goroutines. Repeated calls are no-ops.
func (p *Pool) Start(ctx context.Context) {
	p.runningMu.Lock()
	defer p.runningMu.Unlock()

	if p.running || p.stopped {
		return
	}
	ctx, p.cancel = context.WithCancel(ctx)
	p.running = true

	for i := range p.workers {
		p.wg.Add(1)
		go p.workerLoop(ctx, i)
	}
}

// Submit waits for the rate limiter and hands job to a worker. It is safe to call
// concurrently with Stop.
func (p *Pool) Submit(ctx context.Context, job Job) error {
	if err := p.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("workload: wait for rate limit: %w", err)
	}

	p.submitMu.RLock()
	defer p.submitMu.RUnlock()
	p.runningMu.Lock()
	stopped := p.stopped
	p.runningMu.Unlock()
	if stopped {
		return ErrPoolStopped
	}
	select {
	case p.jobs <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop closes the job queue and waits for in-flight jobs.
func (p *Pool) Stop() {
	p.submitMu.Lock()
	defer p.submitMu.Unlock()

	p.runningMu.Lock()
	if p.stopped {
		p.runningMu.Unlock()
		return
	}
	p.stopped = true
	wasRunning := p.running
	p.running = false
	p.runningMu.Unlock()

	close(p.jobs)
	if wasRunning {
		p.wg.Wait()
		p.cancel()
	}
}

// Stats reports computed, scheduled and dropped job counts.
func (p *Pool) Stats() (computed, scheduled, dropped int64) {
	return p.computed.Load(), p.scheduled.Load(), p.dropped.Load()
}

func (p *Pool) workerLoop(ctx context.Context, id int) {
	defer p.wg.Done()

	for job := range p.jobs {
		if ctx.Err() != nil {
			p.dropped.Add(1)
			continue
		}
		func() {
			defer func() {
				if r := recover(); r != nil {
					p.dropped.Add(1)
					p.logger.Error("worker panic", core.F("worker", id), core.F("job", job.ID), core.F("panic", r))
				}
			}()
			p.run(job, id)
		}()
	}
}

func (p *Pool) run(job Job, worker int) {
	started := time.Now()
	value := p.strategy.Compute(job.N)
	res := Result{Job: job, Value: value, Worker: worker, StartedAt: started, FinishedAt: time.Now()}
	p.computed.Add(1)

	deliver := p.deliver
	_, err := p.sched.ScheduleNamed("fib-"+job.ID, func(ctx context.Context) (any, error) {
		if deliver != nil {
			deliver(ctx, res)
		}
		return res.Value, nil
	}, job.Priority)
	if err != nil {
		p.dropped.Add(1)
		p.logger.Warn("result not scheduled", core.F("job", job.ID), core.F("error", err))
		return
	}
	p.scheduled.Add(1)
}

// Generate builds count jobs with N cycling through 0..maxN and priorities
// cycling through the given list.
func Generate(count, maxN int, priorities []int) []Job {
	if len(priorities) == 0 {
		priorities = []int{core.PriorityDefault}
	}
	jobs := make([]Job, 0, count)
	for i := range count {
		jobs = append(jobs, Job{
			ID:       strconv.Itoa(i),
			N:        i % (maxN + 1),
			Priority: priorities[i%len(priorities)],
		})
	}
	return jobs
}
