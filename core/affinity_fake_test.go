package core

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/petermattis/goid"
)

// fakeAffinity is a caller-pumped main thread. The goroutine that creates it is the
// main thread.
type fakeAffinity struct {
	mu     sync.Mutex
	turns  []func()
	timers []fakeTimer

	turnRequests  atomic.Int64
	timerRequests atomic.Int64
	unavailable   atomic.Bool

	mainGID int64
}

type fakeTimer struct {
	delay time.Duration
	fn    func()
}

func newFakeAffinity() *fakeAffinity {
	return &fakeAffinity{mainGID: goid.Get()}
}

func (a *fakeAffinity) RequestTurn(fn func()) error {
	if a.unavailable.Load() {
		return fmt.Errorf("fake loop stopped: %w", ErrAffinityUnavailable)
	}
	a.turnRequests.Add(1)
	a.mu.Lock()
	a.turns = append(a.turns, fn)
	a.mu.Unlock()
	return nil
}

func (a *fakeAffinity) RequestTimer(delay time.Duration, fn func()) error {
	if a.unavailable.Load() {
		return fmt.Errorf("fake loop stopped: %w", ErrAffinityUnavailable)
	}
	a.timerRequests.Add(1)
	a.mu.Lock()
	a.timers = append(a.timers, fakeTimer{delay: delay, fn: fn})
	a.mu.Unlock()
	return nil
}

func (a *fakeAffinity) IsMainThread() bool {
	return goid.Get() == a.mainGID
}

func (a *fakeAffinity) pendingTurns() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.turns)
}

// runOne runs the oldest requested turn.
func (a *fakeAffinity) runOne() bool {
	a.mu.Lock()
	if len(a.turns) == 0 {
		a.mu.Unlock()
		return false
	}
	fn := a.turns[0]
	a.turns = a.turns[1:]
	a.mu.Unlock()

	fn()
	return true
}

// runPending runs turns until none are left, including turns requested meanwhile.
func (a *fakeAffinity) runPending() int {
	n := 0
	for a.runOne() {
		n++
	}
	return n
}

// fireTimers fires every armed timer in delay order, then drains turns.
func (a *fakeAffinity) fireTimers() int {
	a.mu.Lock()
	timers := a.timers
	a.timers = nil
	a.mu.Unlock()

	sort.SliceStable(timers, func(i, j int) bool { return timers[i].delay < timers[j].delay })
	for _, t := range timers {
		t.fn()
	}
	a.runPending()
	return len(timers)
}
