package export

import (
	"fmt"
	"os"
	"time"

	"github.com/Swind/go-mainthread/core"
)

// SchedulerSource is the read side of a core.Scheduler.
type SchedulerSource interface {
	Stats() core.SchedulerStats
	RecentTasks(limit int) []core.TaskExecutionRecord
}

// BridgeSource is the read side of a core.DispatchBridge.
type BridgeSource interface {
	Stats() core.BridgeStats
	RecentTasks(limit int) []core.TaskExecutionRecord
}

// Snapshot is the exported document.
type Snapshot struct {
	TakenAt    time.Time                  `json:"taken_at" cbor:"1,keyasint"`
	Schedulers []core.SchedulerStats      `json:"schedulers" cbor:"2,keyasint"`
	Bridges    []core.BridgeStats         `json:"bridges" cbor:"3,keyasint"`
	History    []core.TaskExecutionRecord `json:"history" cbor:"4,keyasint"`
}

// Collector gathers stats and history from registered sources.
type Collector struct {
	schedulers []SchedulerSource
	bridges    []BridgeSource
	limit      int
	now        func() time.Time
}

// NewCollector returns a collector keeping up to historyLimit records per source.
// historyLimit <= 0 keeps everything the sources retain.
func NewCollector(historyLimit int) *Collector {
	return &Collector{limit: historyLimit, now: time.Now}
}

// AddScheduler registers a scheduler source.
func (c *Collector) AddScheduler(s SchedulerSource) {
	if s != nil {
		c.schedulers = append(c.schedulers, s)
	}
}

// AddBridge registers a bridge source.
func (c *Collector) AddBridge(b BridgeSource) {
	if b != nil {
		c.bridges = append(c.bridges, b)
	}
}

// Capture builds a Snapshot. History is newest first per source, schedulers before bridges.
func (c *Collector) Capture() Snapshot {
	snap := Snapshot{TakenAt: c.now().UTC()}
	for _, s := range c.schedulers {
		snap.Schedulers = append(snap.Schedulers, s.Stats())
		snap.History = append(snap.History, s.RecentTasks(c.limit)...)
	}
	for _, b := range c.bridges {
		snap.Bridges = append(snap.Bridges, b.Stats())
		snap.History = append(snap.History, b.RecentTasks(c.limit)...)
	}
	return snap
}

// WriteFile encodes snap with codec and writes it to path.
func WriteFile(path string, codec Codec, snap Snapshot) error {
	data, err := codec.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	return nil
}

// ReadFile decodes a snapshot previously written with WriteFile.
func ReadFile(path string, codec Codec) (Snapshot, error) {
	var snap Snapshot
	data, err := os.ReadFile(path)
	if err != nil {
		return snap, fmt.Errorf("read snapshot: %w", err)
	}
	if err := codec.Unmarshal(data, &snap); err != nil {
		return snap, fmt.Errorf("decode snapshot: %w", err)
	}
	return snap, nil
}
