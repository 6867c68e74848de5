package core

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// TestDispatchBridge_FIFOAcrossGoroutines verifies execution follows lock acquisition order
// Given: 4 producer goroutines each posting 25 closures
// When: The main thread flushes the bridge
// Then: Every closure runs once and each producer's closures keep their relative order
func TestDispatchBridge_FIFOAcrossGoroutines(t *testing.T) {
	// Arrange
	aff := newFakeAffinity()
	cfg, _ := quietConfig()
	b := NewDispatchBridge(aff, cfg)

	type post struct{ producer, index int }
	var got []post
	var wg sync.WaitGroup

	// Act
	for p := 0; p < 4; p++ {
		wg.Add(1)
		go func(producer int) {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				idx := i
				if err := b.Post(func(ctx context.Context) {
					got = append(got, post{producer, idx})
				}); err != nil {
					t.Errorf("Post() error = %v", err)
				}
			}
		}(p)
	}
	wg.Wait()
	aff.runPending()

	// Assert
	if len(got) != 100 {
		t.Fatalf("ran %d closures, want 100", len(got))
	}
	last := map[int]int{0: -1, 1: -1, 2: -1, 3: -1}
	for _, p := range got {
		if p.index != last[p.producer]+1 {
			t.Fatalf("producer %d ran index %d after %d", p.producer, p.index, last[p.producer])
		}
		last[p.producer] = p.index
	}
}

// TestDispatchBridge_FlushRunsBatchOnce verifies later flush requests find nothing to do
func TestDispatchBridge_FlushRunsBatchOnce(t *testing.T) {
	aff := newFakeAffinity()
	cfg, _ := quietConfig()
	b := NewDispatchBridge(aff, cfg)
	var order []int

	for i := 0; i < 3; i++ {
		i := i
		if err := b.Post(func(ctx context.Context) { order = append(order, i) }); err != nil {
			t.Fatal(err)
		}
	}
	if got := aff.pendingTurns(); got != 3 {
		t.Fatalf("flush requests = %d, want 3", got)
	}

	aff.runOne()
	if len(order) != 3 || b.Pending() != 0 {
		t.Fatalf("after first flush: order = %v, pending = %d", order, b.Pending())
	}
	aff.runPending()

	if len(order) != 3 || order[0] != 0 || order[2] != 2 {
		t.Errorf("order = %v, want [0 1 2]", order)
	}
}

// TestDispatchBridge_PostDelayed verifies the two-stage delayed dispatch
// Given: A closure posted with a 50ms delay
// When: The main thread flushes, then the timer fires
// Then: The timer is armed on the first flush and the closure runs only when it fires
func TestDispatchBridge_PostDelayed(t *testing.T) {
	// Arrange
	aff := newFakeAffinity()
	cfg, _ := quietConfig()
	b := NewDispatchBridge(aff, cfg)
	ran := false

	// Act
	if err := b.PostDelayed(50*time.Millisecond, func(ctx context.Context) { ran = true }); err != nil {
		t.Fatalf("PostDelayed() error = %v", err)
	}

	// Assert
	if aff.timerRequests.Load() != 0 {
		t.Fatal("timer armed before crossing to the main thread")
	}
	aff.runPending()
	if got := aff.timerRequests.Load(); got != 1 {
		t.Fatalf("timer requests after flush = %d, want 1", got)
	}
	if ran {
		t.Fatal("delayed closure ran before its timer fired")
	}

	aff.fireTimers()
	if !ran {
		t.Error("delayed closure did not run after its timer fired")
	}
	if st := b.Stats(); st.Timers != 1 || st.Executed != 2 {
		t.Errorf("Stats() timers/executed = %d/%d, want 1/2", st.Timers, st.Executed)
	}
}

func TestDispatchBridge_PostDelayedOrdersByDelay(t *testing.T) {
	aff := newFakeAffinity()
	cfg, _ := quietConfig()
	b := NewDispatchBridge(aff, cfg)
	var order []string

	_ = b.PostDelayed(30*time.Millisecond, func(ctx context.Context) { order = append(order, "late") })
	_ = b.PostDelayed(10*time.Millisecond, func(ctx context.Context) { order = append(order, "early") })
	aff.runPending()
	aff.fireTimers()

	if len(order) != 2 || order[0] != "early" || order[1] != "late" {
		t.Errorf("order = %v, want [early late]", order)
	}
}

// TestDispatchBridge_HistoryIDsUnique verifies timer-fired and posted closures get distinct ids
// Given: A bridge with two delayed calls and two plain posts
// When: All of them run on the main thread
// Then: Every history record carries a different TaskID
func TestDispatchBridge_HistoryIDsUnique(t *testing.T) {
	// Arrange
	aff := newFakeAffinity()
	cfg, _ := quietConfig()
	b := NewDispatchBridge(aff, cfg)

	// Act
	_ = b.PostDelayed(10*time.Millisecond, func(ctx context.Context) {})
	_ = b.Post(func(ctx context.Context) {})
	_ = b.PostDelayed(20*time.Millisecond, func(ctx context.Context) {})
	aff.runPending()
	aff.fireTimers()
	_ = b.Post(func(ctx context.Context) {})
	aff.runPending()

	// Assert
	records := b.RecentTasks(0)
	if len(records) != 6 {
		t.Fatalf("records = %d, want 6 (2 arms, 2 timers, 2 posts)", len(records))
	}
	seen := make(map[uint64]string)
	for _, rec := range records {
		if prev, dup := seen[rec.TaskID]; dup {
			t.Errorf("TaskID %d used by %q and %q", rec.TaskID, prev, rec.Name)
		}
		seen[rec.TaskID] = rec.Name
	}
}

func TestDispatchBridge_TimerRefusedIsLogged(t *testing.T) {
	aff := newFakeAffinity()
	logger := &recordingLogger{}
	b := NewDispatchBridge(aff, &Config{Logger: logger})

	if err := b.PostDelayed(time.Second, func(ctx context.Context) {}); err != nil {
		t.Fatal(err)
	}
	aff.unavailable.Store(true)
	aff.runPending()

	if errs := logger.byLevel("ERROR"); len(errs) != 1 || errs[0].Msg != "timer request failed" {
		t.Errorf("error logs = %+v, want one timer request failure", errs)
	}
}

// TestDispatchBridge_Isolation verifies a panicking closure does not stop the batch
func TestDispatchBridge_Isolation(t *testing.T) {
	// Arrange
	aff := newFakeAffinity()
	cfg, handler := quietConfig()
	b := NewDispatchBridge(aff, cfg)
	var ran []int

	for i := 1; i <= 5; i++ {
		n := i
		_ = b.PostNamed("closure", func(ctx context.Context) {
			if n == 3 {
				panic("third closure broke")
			}
			ran = append(ran, n)
		})
	}

	// Act
	aff.runPending()

	// Assert
	if len(ran) != 4 {
		t.Errorf("ran = %v, want 4 closures", ran)
	}
	calls := handler.calls()
	if len(calls) != 1 || !calls[0].Panicked() || calls[0].Prioritized {
		t.Fatalf("error handler calls = %+v, want one unprioritized panic", calls)
	}
	if calls[0].Queue != BridgeQueueName || calls[0].TaskName != "closure" {
		t.Errorf("error context = %s/%s, want %s/closure", calls[0].Queue, calls[0].TaskName, BridgeQueueName)
	}
	if st := b.Stats(); st.Failed != 1 || st.Executed != 4 || st.Posted != 5 {
		t.Errorf("Stats() = %+v", st)
	}
}

// TestDispatchBridge_AffinityUnavailable verifies Post reports a refused flush request
func TestDispatchBridge_AffinityUnavailable(t *testing.T) {
	aff := newFakeAffinity()
	aff.unavailable.Store(true)
	cfg, _ := quietConfig()
	b := NewDispatchBridge(aff, cfg)
	ran := false

	err := b.Post(func(ctx context.Context) { ran = true })
	if !errors.Is(err, ErrAffinityUnavailable) {
		t.Fatalf("Post() error = %v, want ErrAffinityUnavailable", err)
	}

	aff.unavailable.Store(false)
	if err := b.Post(func(ctx context.Context) {}); err != nil {
		t.Fatal(err)
	}
	aff.runPending()

	if ran {
		t.Error("closure from a failed Post ran")
	}

	nilBridge := NewDispatchBridge(nil, cfg)
	if err := nilBridge.Post(func(ctx context.Context) {}); !errors.Is(err, ErrAffinityUnavailable) {
		t.Errorf("Post() on nil affinity error = %v, want ErrAffinityUnavailable", err)
	}
}

func TestDispatchBridge_FlushOffMainThreadPanics(t *testing.T) {
	aff := newFakeAffinity()
	cfg, _ := quietConfig()
	b := NewDispatchBridge(aff, cfg)
	_ = b.Post(func(ctx context.Context) {})

	done := make(chan any)
	go func() {
		defer func() { done <- recover() }()
		aff.runOne()
	}()

	if rec := <-done; !IsInvariantViolation(rec) {
		t.Fatalf("recover() = %v, want *InvariantViolation", rec)
	}
}

func TestDispatchBridge_ContextAndHistory(t *testing.T) {
	aff := newFakeAffinity()
	cfg, _ := quietConfig()
	b := NewDispatchBridge(aff, cfg)
	var current *DispatchBridge

	_ = b.PostNamed("paint", func(ctx context.Context) { current = GetCurrentDispatchBridge(ctx) })
	aff.runPending()

	if current != b {
		t.Errorf("GetCurrentDispatchBridge() = %p, want %p", current, b)
	}
	if GetCurrentDispatchBridge(context.Background()) != nil {
		t.Error("GetCurrentDispatchBridge(background) != nil")
	}
	recent := b.RecentTasks(1)
	if len(recent) != 1 || recent[0].Name != "paint" || recent[0].Queue != BridgeQueueName {
		t.Errorf("RecentTasks(1) = %+v", recent)
	}
	if st := b.Stats(); st.LastTaskName != "paint" || st.LastTaskAt.IsZero() {
		t.Errorf("Stats() last task = %q at %v", st.LastTaskName, st.LastTaskAt)
	}
}

// TestDispatchBridge_SharesAffinityWithScheduler verifies both consumers coexist on one main thread
func TestDispatchBridge_SharesAffinityWithScheduler(t *testing.T) {
	aff := newFakeAffinity()
	cfg, _ := quietConfig()
	s := NewScheduler(aff, cfg)
	b := NewDispatchBridge(aff, cfg)
	var order []string

	mustSchedule(t, s, recordOrder(&order, "task-1"), PriorityDefault)
	mustSchedule(t, s, recordOrder(&order, "task-2"), PriorityDefault)
	_ = b.Post(func(ctx context.Context) { order = append(order, "post") })
	aff.runPending()

	want := []string{"task-1", "post", "task-2"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("order[%d] = %q, want %q", i, order[i], want[i])
		}
	}
}
