package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
	"github.com/urfave/cli/v2"

	mainthread "github.com/Swind/go-mainthread"
	"github.com/Swind/go-mainthread/affinity"
	"github.com/Swind/go-mainthread/config"
	"github.com/Swind/go-mainthread/core"
	"github.com/Swind/go-mainthread/internal/workload"
)

func TuiCommand() *cli.Command {
	return &cli.Command{
		Name:  "tui",
		Usage: "Show workload results arriving on the tview event goroutine",

		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:  "jobs",
				Usage: "Override workload.jobs",
			},
			&cli.StringFlag{
				Name:  "log-file",
				Value: "logs/mainthread-tui.log",
				Usage: "Log destination while the terminal is owned by the UI",
			},
		},

		Action: TuiAction,
	}
}

func TuiAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return cli.Exit(fmt.Sprintf("Failed to load config: %v", err), 1)
	}
	if c.IsSet("jobs") {
		cfg.Workload.Jobs = c.Int("jobs")
	}
	cfg.Log.Outputs = fileOutputs(cfg.Log.Outputs, c.String("log-file"))

	e, err := newEnv(cfg)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	defer e.close()

	ctx, cancel := context.WithCancel(c.Context)
	defer cancel()

	ui := newDashboard(tview.NewApplication(), cfg)
	tv := affinity.NewTview(ui.app, true, e.logger)
	rt := mainthread.NewRuntime(tv, e.coreConfig())
	if e.poller != nil {
		e.poller.AddScheduler(rt.Scheduler().Name(), rt.Scheduler())
		e.poller.AddBridge(rt.Bridge().Name(), rt.Bridge())
	}
	stopMetrics := e.serveMetrics(ctx)
	defer stopMetrics()

	ui.app.SetInputCapture(func(ev *tcell.EventKey) *tcell.EventKey {
		if ev.Key() == tcell.KeyEscape || ev.Rune() == 'q' {
			tv.Stop()
			return nil
		}
		return ev
	})

	pool := workload.NewPool(rt.Scheduler(), ui.deliver, workload.OptionsFromConfig(cfg.Workload, e.logger))
	pool.Start(ctx)
	defer pool.Stop()

	jobs := workload.Generate(cfg.Workload.Jobs, cfg.Workload.FibN, cfg.Workload.Priorities)
	go func() {
		if !waitRunning(ctx, tv) {
			return
		}
		for _, job := range jobs {
			if err := pool.Submit(ctx, job); err != nil {
				return
			}
		}
		pool.Stop()
		_ = rt.DeferredCall(func(ctx context.Context) {
			ui.finish(rt.Scheduler().Stats())
		})
	}()

	if err := tv.Run(); err != nil {
		return cli.Exit(fmt.Sprintf("tui: %v", err), 1)
	}
	cancel()
	return nil
}

// fileOutputs replaces terminal outputs with path so logs do not draw over the UI.
func fileOutputs(outputs []string, path string) []string {
	var out []string
	for _, o := range outputs {
		switch strings.ToLower(o) {
		case "stdout", "stderr":
		default:
			out = append(out, o)
		}
	}
	if len(out) == 0 {
		out = []string{path}
	}
	return out
}

func waitRunning(ctx context.Context, tv *affinity.Tview) bool {
	for !tv.Running() {
		select {
		case <-ctx.Done():
			return false
		case <-time.After(10 * time.Millisecond):
		}
	}
	return true
}

// dashboard holds widgets touched only on the tview event goroutine.
type dashboard struct {
	app    *tview.Application
	status *tview.TextView
	log    *tview.TextView
	total  int
	count  int
}

func newDashboard(app *tview.Application, cfg *config.Config) *dashboard {
	d := &dashboard{
		app:    app,
		status: tview.NewTextView().SetDynamicColors(true),
		log:    tview.NewTextView().SetDynamicColors(true).SetScrollable(true),
		total:  cfg.Workload.Jobs,
	}
	d.status.SetBorder(true).SetTitle(" " + cfg.AppName + " ")
	d.log.SetBorder(true).SetTitle(" results (q to quit) ")
	d.status.SetText(d.statusLine())

	layout := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(d.status, 3, 0, false).
		AddItem(d.log, 0, 1, true)
	app.SetRoot(layout, true)
	return d
}

func (d *dashboard) statusLine() string {
	return fmt.Sprintf("delivered [green]%d[-] / %d", d.count, d.total)
}

func (d *dashboard) deliver(ctx context.Context, r workload.Result) {
	d.count++
	fmt.Fprintf(d.log, "[yellow]p%-3d[-] fib(%d) = %v  [gray](worker %d, %v)[-]\n",
		r.Job.Priority, r.Job.N, r.Value, r.Worker, r.Duration().Round(time.Microsecond))
	d.log.ScrollToEnd()
	d.status.SetText(d.statusLine())
}

func (d *dashboard) finish(stats core.SchedulerStats) {
	d.status.SetText(fmt.Sprintf("%s  [blue]done[-] executed=%d failed=%d", d.statusLine(), stats.Executed, stats.Failed))
}
