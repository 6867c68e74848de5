package affinity

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/emirpasic/gods/queues/linkedlistqueue"
	"github.com/petermattis/goid"

	"github.com/Swind/go-mainthread/core"
)

// ErrAlreadyRunning is returned when Run or Start is called on a loop that has already
// been started.
var ErrAlreadyRunning = errors.New("event loop already running")

var _ core.MainThreadAffinity = (*EventLoop)(nil)

// EventLoop is a Go-native main loop. The goroutine executing Run is the main thread;
// it is locked to its OS thread for as long as the loop runs, which is what cgo
// toolkits with thread-local state expect.
//
// Turns are kept in an unbounded queue so a turn requested from inside the loop never
// blocks the loop itself.
type EventLoop struct {
	name   string
	logger core.Logger

	mu    sync.Mutex
	turns *linkedlistqueue.Queue
	wake  chan struct{}

	timersMu    sync.Mutex
	timers      map[uint64]*time.Timer
	nextTimerID uint64

	// Lifecycle control
	quit     chan struct{}
	quitOnce sync.Once
	ready    chan struct{}
	stopped  chan struct{}
	started  atomic.Bool
	closed   atomic.Bool
	mainGID  atomic.Int64
}

// NewEventLoop creates an EventLoop. Turns may be requested before the loop runs; they
// execute once Run starts.
func NewEventLoop(name string, logger core.Logger) *EventLoop {
	if logger == nil {
		logger = core.NewDefaultLogger()
	}
	if name == "" {
		name = "main"
	}
	return &EventLoop{
		name:    name,
		logger:  logger,
		turns:   linkedlistqueue.New(),
		wake:    make(chan struct{}, 1),
		timers:  make(map[uint64]*time.Timer),
		quit:    make(chan struct{}),
		ready:   make(chan struct{}),
		stopped: make(chan struct{}),
	}
}

// Name returns the loop name.
func (l *EventLoop) Name() string { return l.name }

// RequestTurn queues fn to run once on the loop goroutine.
func (l *EventLoop) RequestTurn(fn func()) error {
	if l.closed.Load() {
		return fmt.Errorf("event loop %s: %w", l.name, core.ErrAffinityUnavailable)
	}

	l.mu.Lock()
	l.turns.Enqueue(fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return nil
}

// RequestTimer runs fn on the loop goroutine no earlier than delay from now. The timer
// is cancelled if the loop quits before it fires.
func (l *EventLoop) RequestTimer(delay time.Duration, fn func()) error {
	if l.closed.Load() {
		return fmt.Errorf("event loop %s: %w", l.name, core.ErrAffinityUnavailable)
	}

	l.timersMu.Lock()
	defer l.timersMu.Unlock()

	id := l.nextTimerID
	l.nextTimerID++
	l.timers[id] = time.AfterFunc(delay, func() {
		l.timersMu.Lock()
		delete(l.timers, id)
		l.timersMu.Unlock()

		if err := l.RequestTurn(fn); err != nil {
			l.logger.Debug("timer fired after loop quit", core.F("loop", l.name), core.F("delay", delay))
		}
	})
	return nil
}

// IsMainThread reports whether the caller is the goroutine running the loop.
func (l *EventLoop) IsMainThread() bool {
	gid := l.mainGID.Load()
	return gid != 0 && gid == goid.Get()
}

// Run makes the calling goroutine the main thread and processes turns until Quit is
// called or ctx is done. It returns nil after Quit and ctx.Err() on cancellation.
func (l *EventLoop) Run(ctx context.Context) error {
	if !l.started.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	l.mainGID.Store(goid.Get())
	close(l.ready)
	defer close(l.stopped)
	defer l.shutdown()

	l.logger.Info("event loop started", core.F("loop", l.name))
	for {
		select {
		case <-l.quit:
			l.logger.Info("event loop quit", core.F("loop", l.name), core.F("dropped", l.pending()))
			return nil
		case <-ctx.Done():
			l.logger.Info("event loop cancelled", core.F("loop", l.name), core.F("dropped", l.pending()))
			return ctx.Err()
		default:
		}

		if fn, ok := l.next(); ok {
			l.runTurn(fn)
			continue
		}

		select {
		case <-l.wake:
		case <-l.quit:
		case <-ctx.Done():
		}
	}
}

// Start runs the loop on a new goroutine.
func (l *EventLoop) Start() error {
	if l.started.Load() {
		return ErrAlreadyRunning
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- l.Run(context.Background())
	}()

	// Wait until the loop goroutine has claimed the loop or lost the race.
	select {
	case <-l.ready:
		return nil
	case err := <-errCh:
		return err
	}
}

// Quit asks the loop to exit after the current turn. It does not wait and may be called
// from inside a turn. Queued turns are dropped.
func (l *EventLoop) Quit() {
	l.quitOnce.Do(func() {
		l.closed.Store(true)
		close(l.quit)
	})
}

// Stop quits the loop and waits for Run to return. It must not be called from inside
// a turn.
func (l *EventLoop) Stop() {
	l.Quit()
	if l.started.Load() {
		<-l.stopped
	}
}

// Done is closed when Run has returned.
func (l *EventLoop) Done() <-chan struct{} {
	return l.stopped
}

// IsClosed reports whether the loop refuses new requests.
func (l *EventLoop) IsClosed() bool {
	return l.closed.Load()
}

func (l *EventLoop) next() (func(), bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	v, ok := l.turns.Dequeue()
	if !ok {
		return nil, false
	}
	return v.(func()), true
}

func (l *EventLoop) pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.turns.Size()
}

func (l *EventLoop) runTurn(fn func()) {
	defer func() {
		if rec := recover(); rec != nil {
			if core.IsInvariantViolation(rec) {
				panic(rec)
			}
			l.logger.Error("turn panicked",
				core.F("loop", l.name),
				core.F("panic", rec),
				core.F("stack", string(debug.Stack())),
			)
		}
	}()
	fn()
}

func (l *EventLoop) shutdown() {
	l.closed.Store(true)

	l.timersMu.Lock()
	for id, t := range l.timers {
		t.Stop()
		delete(l.timers, id)
	}
	l.timersMu.Unlock()

	l.mu.Lock()
	l.turns.Clear()
	l.mu.Unlock()
}
