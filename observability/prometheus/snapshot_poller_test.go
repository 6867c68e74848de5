package prometheus

import (
	"context"
	"testing"
	"time"

	"github.com/Swind/go-mainthread/affinity"
	"github.com/Swind/go-mainthread/core"
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

type schedulerStub struct {
	stats core.SchedulerStats
}

func (s schedulerStub) Stats() core.SchedulerStats { return s.stats }

type bridgeStub struct {
	stats core.BridgeStats
}

func (s bridgeStub) Stats() core.BridgeStats { return s.stats }

func TestSnapshotPoller_CollectsSchedulerAndBridgeStats(t *testing.T) {
	reg := prom.NewRegistry()
	poller, err := NewSnapshotPoller(reg, "mainthread", 10*time.Millisecond)
	if err != nil {
		t.Fatalf("NewSnapshotPoller failed: %v", err)
	}

	poller.AddScheduler("ui", schedulerStub{stats: core.SchedulerStats{
		Pending:  3,
		Executed: 10,
		Failed:   2,
		Skipped:  1,
		Stalled:  true,
	}})
	poller.AddBridge("dispatch", bridgeStub{stats: core.BridgeStats{
		Pending:  4,
		Posted:   9,
		Executed: 5,
		Timers:   2,
	}})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	poller.Start(ctx)
	defer poller.Stop()

	assertEventually(t, 2*time.Second, func() bool {
		pending := testutil.ToFloat64(poller.schedulerPending.WithLabelValues("ui"))
		posted := testutil.ToFloat64(poller.bridgePosted.WithLabelValues("dispatch"))
		return pending == 3 && posted == 9
	})

	if got := testutil.ToFloat64(poller.schedulerStalled.WithLabelValues("ui")); got != 1 {
		t.Fatalf("scheduler stalled gauge = %v, want 1", got)
	}
	if got := testutil.ToFloat64(poller.bridgeTimers.WithLabelValues("dispatch")); got != 2 {
		t.Fatalf("bridge timers gauge = %v, want 2", got)
	}
}

func TestSnapshotPoller_RealScheduler(t *testing.T) {
	reg := prom.NewRegistry()
	poller, err := NewSnapshotPoller(reg, "", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	m := affinity.NewManual()
	sched := core.NewScheduler(m, &core.Config{Logger: core.NewNoOpLogger()})
	poller.AddScheduler(sched.Name(), sched)

	_, _ = sched.Schedule(func(ctx context.Context) (any, error) { return nil, nil }, core.PriorityDefault)
	_, _ = sched.Schedule(func(ctx context.Context) (any, error) { return nil, nil }, core.PriorityDefault)
	poller.collectOnce()

	if got := testutil.ToFloat64(poller.schedulerPending.WithLabelValues(core.SchedulerQueueName)); got != 2 {
		t.Errorf("pending before drain = %v, want 2", got)
	}

	m.RunPending()
	poller.collectOnce()

	if got := testutil.ToFloat64(poller.schedulerPending.WithLabelValues(core.SchedulerQueueName)); got != 0 {
		t.Errorf("pending after drain = %v, want 0", got)
	}
	if got := testutil.ToFloat64(poller.schedulerExecuted.WithLabelValues(core.SchedulerQueueName)); got != 2 {
		t.Errorf("executed after drain = %v, want 2", got)
	}
}

func TestSnapshotPoller_StartStop_Idempotent(t *testing.T) {
	reg := prom.NewRegistry()
	poller, err := NewSnapshotPoller(reg, "mainthread", 20*time.Millisecond)
	if err != nil {
		t.Fatalf("NewSnapshotPoller failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	poller.Start(ctx)
	poller.Start(ctx)
	poller.Stop()
	poller.Stop()
}

func assertEventually(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met within timeout")
}
