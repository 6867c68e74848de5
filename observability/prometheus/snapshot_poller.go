package prometheus

import (
	"context"
	"sync"
	"time"

	"github.com/Swind/go-mainthread/core"
	prom "github.com/prometheus/client_golang/prometheus"
)

// SchedulerSnapshotProvider provides current scheduler stats snapshots.
type SchedulerSnapshotProvider interface {
	Stats() core.SchedulerStats
}

// BridgeSnapshotProvider provides current dispatch bridge stats snapshots.
type BridgeSnapshotProvider interface {
	Stats() core.BridgeStats
}

// SnapshotPoller periodically exports scheduler/bridge Stats() snapshots into Prometheus gauges.
type SnapshotPoller struct {
	interval time.Duration

	schedulersMu sync.RWMutex
	schedulers   map[string]SchedulerSnapshotProvider

	bridgesMu sync.RWMutex
	bridges   map[string]BridgeSnapshotProvider

	schedulerPending  *prom.GaugeVec
	schedulerExecuted *prom.GaugeVec
	schedulerFailed   *prom.GaugeVec
	schedulerSkipped  *prom.GaugeVec
	schedulerStalled  *prom.GaugeVec

	bridgePending  *prom.GaugeVec
	bridgePosted   *prom.GaugeVec
	bridgeExecuted *prom.GaugeVec
	bridgeFailed   *prom.GaugeVec
	bridgeTimers   *prom.GaugeVec

	stateMu sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewSnapshotPoller creates a snapshot poller and registers its collectors.
func NewSnapshotPoller(reg prom.Registerer, namespace string, interval time.Duration) (*SnapshotPoller, error) {
	if reg == nil {
		reg = prom.DefaultRegisterer
	}
	if namespace == "" {
		namespace = "mainthread"
	}
	if interval <= 0 {
		interval = time.Second
	}

	gauge := func(name, help, label string) *prom.GaugeVec {
		return prom.NewGaugeVec(prom.GaugeOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
		}, []string{label})
	}

	p := &SnapshotPoller{
		interval:   interval,
		schedulers: make(map[string]SchedulerSnapshotProvider),
		bridges:    make(map[string]BridgeSnapshotProvider),

		schedulerPending:  gauge("scheduler_pending", "Queued tasks per scheduler.", "scheduler"),
		schedulerExecuted: gauge("scheduler_executed", "Successfully executed task count snapshot.", "scheduler"),
		schedulerFailed:   gauge("scheduler_failed", "Failed task count snapshot.", "scheduler"),
		schedulerSkipped:  gauge("scheduler_skipped", "Unscheduled task count snapshot.", "scheduler"),
		schedulerStalled:  gauge("scheduler_stalled", "Drain chain state (1=stalled, 0=healthy).", "scheduler"),

		bridgePending:  gauge("bridge_pending", "Closures waiting for a flush per bridge.", "bridge"),
		bridgePosted:   gauge("bridge_posted", "Posted closure count snapshot.", "bridge"),
		bridgeExecuted: gauge("bridge_executed", "Successfully executed closure count snapshot.", "bridge"),
		bridgeFailed:   gauge("bridge_failed", "Failed closure count snapshot.", "bridge"),
		bridgeTimers:   gauge("bridge_timers", "Armed delayed-call timer count snapshot.", "bridge"),
	}

	for _, vec := range []**prom.GaugeVec{
		&p.schedulerPending, &p.schedulerExecuted, &p.schedulerFailed, &p.schedulerSkipped, &p.schedulerStalled,
		&p.bridgePending, &p.bridgePosted, &p.bridgeExecuted, &p.bridgeFailed, &p.bridgeTimers,
	} {
		registered, err := registerCollector(reg, *vec)
		if err != nil {
			return nil, err
		}
		*vec = registered
	}
	return p, nil
}

// AddScheduler adds or replaces a scheduler snapshot provider by name.
func (p *SnapshotPoller) AddScheduler(name string, provider SchedulerSnapshotProvider) {
	if p == nil || provider == nil {
		return
	}
	name = normalizeLabel(name, "scheduler")
	p.schedulersMu.Lock()
	p.schedulers[name] = provider
	p.schedulersMu.Unlock()
}

// AddBridge adds or replaces a bridge snapshot provider by name.
func (p *SnapshotPoller) AddBridge(name string, provider BridgeSnapshotProvider) {
	if p == nil || provider == nil {
		return
	}
	name = normalizeLabel(name, "bridge")
	p.bridgesMu.Lock()
	p.bridges[name] = provider
	p.bridgesMu.Unlock()
}

// Start begins periodic polling; repeated calls are no-ops.
func (p *SnapshotPoller) Start(ctx context.Context) {
	if p == nil {
		return
	}

	p.stateMu.Lock()
	if p.running {
		p.stateMu.Unlock()
		return
	}
	pollCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	p.running = true
	p.stateMu.Unlock()

	go p.loop(pollCtx, p.done)
}

// Stop stops periodic polling; repeated calls are safe.
func (p *SnapshotPoller) Stop() {
	if p == nil {
		return
	}

	p.stateMu.Lock()
	if !p.running {
		p.stateMu.Unlock()
		return
	}
	cancel := p.cancel
	done := p.done
	p.stateMu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}

	p.stateMu.Lock()
	p.running = false
	p.cancel = nil
	p.done = nil
	p.stateMu.Unlock()
}

func (p *SnapshotPoller) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.collectOnce()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.collectOnce()
		}
	}
}

func (p *SnapshotPoller) collectOnce() {
	p.schedulersMu.RLock()
	for name, provider := range p.schedulers {
		stats := provider.Stats()
		p.schedulerPending.WithLabelValues(name).Set(float64(stats.Pending))
		p.schedulerExecuted.WithLabelValues(name).Set(float64(stats.Executed))
		p.schedulerFailed.WithLabelValues(name).Set(float64(stats.Failed))
		p.schedulerSkipped.WithLabelValues(name).Set(float64(stats.Skipped))
		if stats.Stalled {
			p.schedulerStalled.WithLabelValues(name).Set(1)
		} else {
			p.schedulerStalled.WithLabelValues(name).Set(0)
		}
	}
	p.schedulersMu.RUnlock()

	p.bridgesMu.RLock()
	for name, provider := range p.bridges {
		stats := provider.Stats()
		p.bridgePending.WithLabelValues(name).Set(float64(stats.Pending))
		p.bridgePosted.WithLabelValues(name).Set(float64(stats.Posted))
		p.bridgeExecuted.WithLabelValues(name).Set(float64(stats.Executed))
		p.bridgeFailed.WithLabelValues(name).Set(float64(stats.Failed))
		p.bridgeTimers.WithLabelValues(name).Set(float64(stats.Timers))
	}
	p.bridgesMu.RUnlock()
}
