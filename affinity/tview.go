package affinity

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/petermattis/goid"
	"github.com/rivo/tview"

	"github.com/Swind/go-mainthread/core"
)

var _ core.MainThreadAffinity = (*Tview)(nil)

// Tview runs turns on the event goroutine of a tview.Application. It is available only
// while Run is active.
type Tview struct {
	app    *tview.Application
	redraw bool
	logger core.Logger

	running atomic.Bool
	mainGID atomic.Int64
}

// NewTview wraps app. When redraw is set every turn is queued with QueueUpdateDraw so
// the screen is refreshed after it runs.
func NewTview(app *tview.Application, redraw bool, logger core.Logger) *Tview {
	if logger == nil {
		logger = core.NewDefaultLogger()
	}
	return &Tview{app: app, redraw: redraw, logger: logger}
}

// Application returns the wrapped application.
func (t *Tview) Application() *tview.Application { return t.app }

// Run runs the application on the calling goroutine, which becomes the main thread,
// and blocks until the application stops.
func (t *Tview) Run() error {
	t.mainGID.Store(goid.Get())
	t.running.Store(true)
	defer t.running.Store(false)

	t.logger.Info("tview loop started")
	err := t.app.Run()
	t.logger.Info("tview loop stopped", core.F("error", err))
	return err
}

// Stop stops the application. Requests fail from then on.
func (t *Tview) Stop() {
	t.running.Store(false)
	t.app.Stop()
}

// Running reports whether Run is active.
func (t *Tview) Running() bool { return t.running.Load() }

// RequestTurn queues fn as an application update.
//
// tview's update channel is bounded and the send blocks when it is full. A request made
// on the event goroutine itself is therefore handed to a new goroutine, otherwise a full
// channel would deadlock the loop.
func (t *Tview) RequestTurn(fn func()) error {
	if !t.running.Load() {
		return fmt.Errorf("tview application not running: %w", core.ErrAffinityUnavailable)
	}
	if t.IsMainThread() {
		go t.queue(fn)
		return nil
	}
	t.queue(fn)
	return nil
}

// RequestTimer queues fn as an application update once delay has elapsed. Timers that
// fire after the application stopped are dropped.
func (t *Tview) RequestTimer(delay time.Duration, fn func()) error {
	if !t.running.Load() {
		return fmt.Errorf("tview application not running: %w", core.ErrAffinityUnavailable)
	}
	time.AfterFunc(delay, func() {
		if err := t.RequestTurn(fn); err != nil {
			t.logger.Debug("timer fired after tview stopped", core.F("delay", delay))
		}
	})
	return nil
}

// IsMainThread reports whether the caller is the goroutine running the application.
func (t *Tview) IsMainThread() bool {
	gid := t.mainGID.Load()
	return gid != 0 && gid == goid.Get()
}

func (t *Tview) queue(fn func()) {
	if t.redraw {
		t.app.QueueUpdateDraw(fn)
		return
	}
	t.app.QueueUpdate(fn)
}
