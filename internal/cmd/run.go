package cmd

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	mainthread "github.com/Swind/go-mainthread"
	"github.com/Swind/go-mainthread/affinity"
	"github.com/Swind/go-mainthread/core"
	"github.com/Swind/go-mainthread/internal/workload"
	"github.com/Swind/go-mainthread/observability/export"
)

// quitPriority sorts after every result priority so the loop exits once they drain.
const quitPriority = math.MaxInt32

func RunCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Compute a Fibonacci workload on background workers and deliver results on the main thread",

		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:  "jobs",
				Usage: "Override workload.jobs",
			},
			&cli.DurationFlag{
				Name:  "progress",
				Value: time.Second,
				Usage: "Interval of the progress log posted through the dispatch bridge (0 disables)",
			},
			&cli.StringFlag{
				Name:  "history-out",
				Usage: "Write stats and execution history to this file after the run",
			},
			&cli.StringFlag{
				Name:  "format",
				Value: "json",
				Usage: "History encoding: json or cbor",
			},
		},

		Action: RunAction,
	}
}

func RunAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return cli.Exit(fmt.Sprintf("Failed to load config: %v", err), 1)
	}
	if c.IsSet("jobs") {
		cfg.Workload.Jobs = c.Int("jobs")
	}

	registry, err := export.NewRegistry()
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	codec := registry.Get(c.String("format"))
	if codec == nil {
		return cli.Exit(fmt.Sprintf("unknown format %q", c.String("format")), 1)
	}

	e, err := newEnv(cfg)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	defer e.close()

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	loop := affinity.NewEventLoop(cfg.AppName, e.logger)
	rt := mainthread.NewRuntime(loop, e.coreConfig())
	if e.poller != nil {
		e.poller.AddScheduler(rt.Scheduler().Name(), rt.Scheduler())
		e.poller.AddBridge(rt.Bridge().Name(), rt.Bridge())
	}
	stopMetrics := e.serveMetrics(ctx)
	defer stopMetrics()

	// deliver runs on the loop goroutine only.
	var durations []time.Duration
	deliver := func(ctx context.Context, r workload.Result) {
		durations = append(durations, r.Duration())
		e.logger.Debug("result",
			core.F("job", r.Job.ID),
			core.F("n", r.Job.N),
			core.F("value", r.Value),
			core.F("priority", r.Job.Priority),
			core.F("worker", r.Worker),
		)
	}

	pool := workload.NewPool(rt.Scheduler(), deliver, workload.OptionsFromConfig(cfg.Workload, e.logger))
	pool.Start(ctx)

	jobs := workload.Generate(cfg.Workload.Jobs, cfg.Workload.FibN, cfg.Workload.Priorities)
	go produce(ctx, e.logger, pool, rt, loop, jobs)

	if interval := c.Duration("progress"); interval > 0 {
		armProgress(rt, e.logger, interval, func() int { return len(durations) })
	}

	runErr := loop.Run(ctx)
	pool.Stop()

	summary := workload.Summarize(durations)
	fmt.Fprintf(c.App.Writer, "delivered %d/%d results (mean %v, p95 %v, max %v)\n",
		summary.Count, len(jobs), summary.Mean, summary.P95, summary.Max)

	if path := c.String("history-out"); path != "" {
		col := export.NewCollector(0)
		col.AddScheduler(rt.Scheduler())
		col.AddBridge(rt.Bridge())
		if err := export.WriteFile(path, codec, col.Capture()); err != nil {
			return cli.Exit(fmt.Sprintf("Failed to write history: %v", err), 1)
		}
		fmt.Fprintf(c.App.Writer, "history written to %s (%s)\n", path, codec.ContentType())
	}

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return cli.Exit(fmt.Sprintf("event loop: %v", runErr), 1)
	}
	return nil
}

// produce submits every job, waits for the workers, and schedules the loop exit
// behind the results.
func produce(ctx context.Context, logger core.Logger, pool *workload.Pool, rt *mainthread.Runtime, loop *affinity.EventLoop, jobs []workload.Job) {
	for _, job := range jobs {
		if err := pool.Submit(ctx, job); err != nil {
			logger.Warn("submit stopped", core.F("job", job.ID), core.F("error", err))
			break
		}
	}
	pool.Stop()

	computed, scheduled, dropped := pool.Stats()
	logger.Info("workload finished", core.F("computed", computed), core.F("scheduled", scheduled), core.F("dropped", dropped))

	if _, err := rt.Scheduler().ScheduleNamed("quit", func(ctx context.Context) (any, error) {
		loop.Quit()
		return nil, nil
	}, quitPriority); err != nil {
		loop.Quit()
	}
}

// armProgress logs delivery progress every interval through the bridge's delayed calls.
func armProgress(rt *mainthread.Runtime, logger core.Logger, interval time.Duration, delivered func() int) {
	var tick core.Closure
	tick = func(ctx context.Context) {
		stats := rt.Scheduler().Stats()
		logger.Info("progress",
			core.F("delivered", delivered()),
			core.F("pending", stats.Pending),
			core.F("failed", stats.Failed),
		)
		if err := rt.TimedCall(interval, tick); err != nil {
			logger.Debug("progress stopped", core.F("error", err))
		}
	}
	if err := rt.TimedCall(interval, tick); err != nil {
		logger.Warn("progress not armed", core.F("error", err))
	}
}
