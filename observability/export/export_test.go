package export

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/Swind/go-mainthread/affinity"
	"github.com/Swind/go-mainthread/core"
)

func TestRegistry_LookupByNameAndContentType(t *testing.T) {
	r, err := NewRegistry()
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}
	tests := []struct {
		format string
		want   string
	}{
		{"json", "application/json"},
		{"JSON", "application/json"},
		{"cbor", "application/cbor"},
		{"application/cbor", "application/cbor"},
	}
	for _, tt := range tests {
		c := r.Get(tt.format)
		if c == nil {
			t.Fatalf("Get(%q) = nil", tt.format)
		}
		if got := c.ContentType(); got != tt.want {
			t.Errorf("Get(%q).ContentType() = %q, want %q", tt.format, got, tt.want)
		}
	}
	if c := r.Get("yaml"); c != nil {
		t.Errorf("Get(yaml) = %v, want nil", c)
	}
}

// TestCBOR_Deterministic verifies canonical encoding is stable
// Given: The same snapshot encoded twice
// When: Both encodings are compared
// Then: They are byte-identical
func TestCBOR_Deterministic(t *testing.T) {
	// Arrange
	c, err := CBOR()
	if err != nil {
		t.Fatal(err)
	}
	snap := Snapshot{
		TakenAt:    time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
		Schedulers: []core.SchedulerStats{{Name: "ui", Pending: 1, Executed: 2}},
	}

	// Act
	a, err := c.Marshal(snap)
	if err != nil {
		t.Fatal(err)
	}
	b, err := c.Marshal(snap)
	if err != nil {
		t.Fatal(err)
	}

	// Assert
	if !bytes.Equal(a, b) {
		t.Fatalf("encodings differ:\n%x\n%x", a, b)
	}
}

// TestCollector_CaptureRealRuntime verifies a snapshot reflects what actually ran
// Given: A scheduler and bridge sharing a Manual affinity
// When: One task succeeds, one fails, one closure is posted and the thread drains
// Then: Stats and history match and survive a CBOR file round trip
func TestCollector_CaptureRealRuntime(t *testing.T) {
	// Arrange
	m := affinity.NewManual()
	cfg := &core.Config{
		Logger:       core.NewNoOpLogger(),
		ErrorHandler: &core.LoggingErrorHandler{Logger: core.NewNoOpLogger()},
	}
	sched := core.NewScheduler(m, cfg)
	bridge := core.NewDispatchBridge(m, cfg)

	_, _ = sched.ScheduleNamed("ok", func(ctx context.Context) (any, error) { return 1, nil }, core.PriorityHigh)
	_, _ = sched.ScheduleNamed("bad", func(ctx context.Context) (any, error) { return nil, errors.New("x") }, core.PriorityLow)
	_ = bridge.PostNamed("post", func(ctx context.Context) {})
	m.RunPending()

	col := NewCollector(0)
	col.AddScheduler(sched)
	col.AddBridge(bridge)

	// Act
	snap := col.Capture()

	// Assert
	if len(snap.Schedulers) != 1 || len(snap.Bridges) != 1 {
		t.Fatalf("sources = %d/%d, want 1/1", len(snap.Schedulers), len(snap.Bridges))
	}
	if got := snap.Schedulers[0]; got.Executed != 1 || got.Failed != 1 {
		t.Errorf("scheduler stats = %+v, want executed=1 failed=1", got)
	}
	if got := snap.Bridges[0].Executed; got != 1 {
		t.Errorf("bridge executed = %d, want 1", got)
	}
	if len(snap.History) != 3 {
		t.Fatalf("history = %d records, want 3", len(snap.History))
	}
	// newest first within the scheduler
	if snap.History[0].Name != "bad" || snap.History[1].Name != "ok" || snap.History[2].Name != "post" {
		t.Errorf("history order = %s,%s,%s", snap.History[0].Name, snap.History[1].Name, snap.History[2].Name)
	}

	codec, err := CBOR()
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "snap.cbor")
	if err := WriteFile(path, codec, snap); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	back, err := ReadFile(path, codec)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if len(back.History) != 3 || back.History[0].Outcome != core.OutcomeError {
		t.Errorf("decoded history = %+v", back.History)
	}
	if !back.TakenAt.Equal(snap.TakenAt) {
		t.Errorf("TakenAt = %v, want %v", back.TakenAt, snap.TakenAt)
	}
}

func TestCollector_HistoryLimit(t *testing.T) {
	m := affinity.NewManual()
	sched := core.NewScheduler(m, &core.Config{Logger: core.NewNoOpLogger()})
	for range 5 {
		_, _ = sched.Schedule(func(ctx context.Context) (any, error) { return nil, nil }, core.PriorityDefault)
	}
	m.RunPending()

	col := NewCollector(2)
	col.AddScheduler(sched)
	col.AddScheduler(nil)

	if got := len(col.Capture().History); got != 2 {
		t.Errorf("history = %d, want 2", got)
	}
}

func TestReadFile_Missing(t *testing.T) {
	if _, err := ReadFile(filepath.Join(t.TempDir(), "nope"), JSON()); err == nil {
		t.Fatal("expected error")
	}
}
