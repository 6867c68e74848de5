package affinity

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/petermattis/goid"

	"github.com/Swind/go-mainthread/core"
)

var _ core.MainThreadAffinity = (*Manual)(nil)

// Manual is a caller-pumped affinity with a virtual clock. The goroutine that calls
// NewManual is the main thread; RunOne, RunPending and Advance must be called from it.
//
// Nothing runs until the owner pumps, which makes scheduling order fully deterministic.
// Hosts that own their own message pump can use it by calling RunPending once per
// iteration.
type Manual struct {
	mu      sync.Mutex
	turns   []func()
	timers  []manualTimer
	now     time.Duration
	timerID uint64

	available     atomic.Bool
	turnRequests  atomic.Int64
	timerRequests atomic.Int64

	mainGID int64
}

type manualTimer struct {
	id       uint64
	deadline time.Duration
	fn       func()
}

// NewManual creates an available Manual affinity owned by the calling goroutine.
func NewManual() *Manual {
	m := &Manual{mainGID: goid.Get()}
	m.available.Store(true)
	return m
}

// RequestTurn queues fn for the next RunOne.
func (m *Manual) RequestTurn(fn func()) error {
	if !m.available.Load() {
		return fmt.Errorf("manual affinity: %w", core.ErrAffinityUnavailable)
	}
	m.turnRequests.Add(1)

	m.mu.Lock()
	m.turns = append(m.turns, fn)
	m.mu.Unlock()
	return nil
}

// RequestTimer arms fn to fire once the virtual clock has advanced by delay.
func (m *Manual) RequestTimer(delay time.Duration, fn func()) error {
	if !m.available.Load() {
		return fmt.Errorf("manual affinity: %w", core.ErrAffinityUnavailable)
	}
	m.timerRequests.Add(1)
	if delay < 0 {
		delay = 0
	}

	m.mu.Lock()
	m.timers = append(m.timers, manualTimer{id: m.timerID, deadline: m.now + delay, fn: fn})
	m.timerID++
	m.mu.Unlock()
	return nil
}

// IsMainThread reports whether the caller is the goroutine that created m.
func (m *Manual) IsMainThread() bool {
	return goid.Get() == m.mainGID
}

// RunOne runs the oldest requested turn and reports whether there was one.
func (m *Manual) RunOne() bool {
	m.mu.Lock()
	if len(m.turns) == 0 {
		m.mu.Unlock()
		return false
	}
	fn := m.turns[0]
	m.turns[0] = nil
	m.turns = m.turns[1:]
	m.mu.Unlock()

	fn()
	return true
}

// RunPending runs turns until none are left, including turns requested while running,
// and returns how many ran.
func (m *Manual) RunPending() int {
	n := 0
	for m.RunOne() {
		n++
	}
	return n
}

// Advance moves the virtual clock forward by d, fires every timer that became due in
// deadline order, and then runs pending turns. It returns the number of timers fired.
func (m *Manual) Advance(d time.Duration) int {
	m.mu.Lock()
	m.now += d
	var due, rest []manualTimer
	for _, t := range m.timers {
		if t.deadline <= m.now {
			due = append(due, t)
		} else {
			rest = append(rest, t)
		}
	}
	m.timers = rest
	m.mu.Unlock()

	sort.Slice(due, func(i, j int) bool {
		if due[i].deadline != due[j].deadline {
			return due[i].deadline < due[j].deadline
		}
		return due[i].id < due[j].id
	})
	for _, t := range due {
		t.fn()
	}
	m.RunPending()
	return len(due)
}

// Now returns the virtual time elapsed since creation.
func (m *Manual) Now() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Pending returns the number of queued turns.
func (m *Manual) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.turns)
}

// PendingTimers returns the number of armed timers.
func (m *Manual) PendingTimers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.timers)
}

// TurnRequests returns the number of accepted RequestTurn calls.
func (m *Manual) TurnRequests() int64 { return m.turnRequests.Load() }

// TimerRequests returns the number of accepted RequestTimer calls.
func (m *Manual) TimerRequests() int64 { return m.timerRequests.Load() }

// SetAvailable toggles whether requests are accepted. Already queued turns and timers
// are kept.
func (m *Manual) SetAvailable(available bool) {
	m.available.Store(available)
}
