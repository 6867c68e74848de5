package affinity

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Swind/go-mainthread/core"
)

// TestManual_EdgeTriggeredWake verifies the scheduler asks for one turn per empty-to-non-empty edge
// Given: A Manual affinity and a fresh Scheduler
// When: 5 tasks are scheduled before pumping, the queue is drained and one more is scheduled
// Then: Only the first and the last Schedule request a turn
func TestManual_EdgeTriggeredWake(t *testing.T) {
	// Arrange
	m := NewManual()
	sched := core.NewScheduler(m, quietConfig())
	noop := func(ctx context.Context) (any, error) { return nil, nil }

	// Act
	for i := 0; i < 5; i++ {
		if _, err := sched.Schedule(noop, core.PriorityDefault); err != nil {
			t.Fatal(err)
		}
	}
	requestsBeforeDrain := m.TurnRequests()
	turns := m.RunPending()

	// Assert
	if requestsBeforeDrain != 1 {
		t.Errorf("turn requests before drain = %d, want 1", requestsBeforeDrain)
	}
	if turns != 5 {
		t.Errorf("turns run = %d, want 5 (one task per turn)", turns)
	}

	before := m.TurnRequests()
	if _, err := sched.Schedule(noop, core.PriorityDefault); err != nil {
		t.Fatal(err)
	}
	if got := m.TurnRequests() - before; got != 1 {
		t.Errorf("turn requests after re-filling an empty queue = %d, want 1", got)
	}
}

// TestManual_AdvanceFiresTimersInDeadlineOrder verifies the virtual clock
func TestManual_AdvanceFiresTimersInDeadlineOrder(t *testing.T) {
	m := NewManual()
	var order []string

	_ = m.RequestTimer(30*time.Millisecond, func() { order = append(order, "30ms") })
	_ = m.RequestTimer(10*time.Millisecond, func() { order = append(order, "10ms-a") })
	_ = m.RequestTimer(10*time.Millisecond, func() { order = append(order, "10ms-b") })

	if fired := m.Advance(5 * time.Millisecond); fired != 0 {
		t.Errorf("Advance(5ms) fired %d timers, want 0", fired)
	}
	if fired := m.Advance(5 * time.Millisecond); fired != 2 {
		t.Errorf("Advance(5ms) at 10ms fired %d timers, want 2", fired)
	}
	if m.PendingTimers() != 1 {
		t.Errorf("PendingTimers() = %d, want 1", m.PendingTimers())
	}
	m.Advance(time.Second)

	want := []string{"10ms-a", "10ms-b", "30ms"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("order[%d] = %q, want %q", i, order[i], want[i])
		}
	}
	if m.Now() != 1010*time.Millisecond {
		t.Errorf("Now() = %v, want 1.01s", m.Now())
	}
}

// TestManual_BridgePostDelayed verifies the delayed dispatch against virtual time
// Given: A bridge on a Manual affinity
// When: A closure is posted with a 100ms delay and the clock is advanced
// Then: It runs only after the first flush armed the timer and the clock passed 100ms
func TestManual_BridgePostDelayed(t *testing.T) {
	// Arrange
	m := NewManual()
	bridge := core.NewDispatchBridge(m, quietConfig())
	ran := false

	// Act
	if err := bridge.PostDelayed(100*time.Millisecond, func(ctx context.Context) { ran = true }); err != nil {
		t.Fatal(err)
	}
	m.Advance(200 * time.Millisecond)

	// Assert: the timer is armed relative to the flush, not to the Post call.
	if ran {
		t.Fatal("closure ran although its timer was armed during this Advance")
	}
	if m.TimerRequests() != 1 {
		t.Fatalf("TimerRequests() = %d, want 1", m.TimerRequests())
	}

	m.Advance(99 * time.Millisecond)
	if ran {
		t.Fatal("closure ran before its delay elapsed")
	}
	m.Advance(time.Millisecond)
	if !ran {
		t.Error("closure did not run after its delay elapsed")
	}
}

func TestManual_SetAvailable(t *testing.T) {
	m := NewManual()
	m.SetAvailable(false)

	if err := m.RequestTurn(func() {}); !errors.Is(err, core.ErrAffinityUnavailable) {
		t.Errorf("RequestTurn() error = %v, want ErrAffinityUnavailable", err)
	}
	if err := m.RequestTimer(time.Second, func() {}); !errors.Is(err, core.ErrAffinityUnavailable) {
		t.Errorf("RequestTimer() error = %v, want ErrAffinityUnavailable", err)
	}
	if m.TurnRequests() != 0 || m.Pending() != 0 {
		t.Errorf("refused request was counted: requests %d, pending %d", m.TurnRequests(), m.Pending())
	}

	m.SetAvailable(true)
	if err := m.RequestTurn(func() {}); err != nil {
		t.Errorf("RequestTurn() after SetAvailable(true) error = %v", err)
	}
}

func TestManual_IsMainThread(t *testing.T) {
	m := NewManual()
	if !m.IsMainThread() {
		t.Error("IsMainThread() = false on the creating goroutine")
	}

	other := make(chan bool)
	go func() { other <- m.IsMainThread() }()
	if <-other {
		t.Error("IsMainThread() = true on another goroutine")
	}
}
