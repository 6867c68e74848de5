package prometheus

import (
	"errors"
	"fmt"
	"time"

	"github.com/Swind/go-mainthread/core"
	prom "github.com/prometheus/client_golang/prometheus"
)

// ExporterOptions controls collector configuration.
type ExporterOptions struct {
	DurationBuckets []float64
}

// MetricsExporter adapts core.Metrics to Prometheus collectors.
type MetricsExporter struct {
	taskDurationSeconds      *prom.HistogramVec
	callbackErrorTotal       *prom.CounterVec
	taskSkippedTotal         *prom.CounterVec
	wakeRequestTotal         *prom.CounterVec
	affinityUnavailableTotal *prom.CounterVec
	queueDepth               *prom.GaugeVec
}

var _ core.Metrics = (*MetricsExporter)(nil)

// Main-thread callbacks are expected to be short; the buckets start at 100µs.
var defaultDurationBuckets = []float64{.0001, .0005, .001, .0025, .005, .01, .016, .033, .05, .1, .25, .5, 1}

// NewMetricsExporter creates and registers Prometheus collectors for core.Metrics.
func NewMetricsExporter(namespace string, reg prom.Registerer, opts ExporterOptions) (*MetricsExporter, error) {
	if namespace == "" {
		namespace = "mainthread"
	}
	if reg == nil {
		reg = prom.DefaultRegisterer
	}
	buckets := opts.DurationBuckets
	if len(buckets) == 0 {
		buckets = defaultDurationBuckets
	}

	durationVec := prom.NewHistogramVec(prom.HistogramOpts{
		Namespace: namespace,
		Name:      "task_duration_seconds",
		Help:      "Main-thread callback duration in seconds.",
		Buckets:   buckets,
	}, []string{"queue", "priority"})
	errorVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "callback_error_total",
		Help:      "Total number of callbacks that returned an error or panicked.",
	}, []string{"queue"})
	skippedVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "task_skipped_total",
		Help:      "Total number of tasks unscheduled before they ran.",
	}, []string{"queue"})
	wakeVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "wake_request_total",
		Help:      "Total number of main-thread turns requested.",
	}, []string{"queue"})
	unavailableVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "affinity_unavailable_total",
		Help:      "Total number of turn or timer requests refused by the main thread.",
	}, []string{"queue"})
	queueDepthVec := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: namespace,
		Name:      "queue_depth",
		Help:      "Current queue depth.",
	}, []string{"queue"})

	var err error
	if durationVec, err = registerCollector(reg, durationVec); err != nil {
		return nil, err
	}
	if errorVec, err = registerCollector(reg, errorVec); err != nil {
		return nil, err
	}
	if skippedVec, err = registerCollector(reg, skippedVec); err != nil {
		return nil, err
	}
	if wakeVec, err = registerCollector(reg, wakeVec); err != nil {
		return nil, err
	}
	if unavailableVec, err = registerCollector(reg, unavailableVec); err != nil {
		return nil, err
	}
	if queueDepthVec, err = registerCollector(reg, queueDepthVec); err != nil {
		return nil, err
	}

	return &MetricsExporter{
		taskDurationSeconds:      durationVec,
		callbackErrorTotal:       errorVec,
		taskSkippedTotal:         skippedVec,
		wakeRequestTotal:         wakeVec,
		affinityUnavailableTotal: unavailableVec,
		queueDepth:               queueDepthVec,
	}, nil
}

// RecordTaskDuration records callback execution duration.
func (m *MetricsExporter) RecordTaskDuration(queue string, priority int, duration time.Duration) {
	if m == nil {
		return
	}
	m.taskDurationSeconds.WithLabelValues(normalizeLabel(queue, "unknown"), priorityLabel(priority)).Observe(duration.Seconds())
}

// RecordCallbackError records a failed callback.
func (m *MetricsExporter) RecordCallbackError(queue string) {
	if m == nil {
		return
	}
	m.callbackErrorTotal.WithLabelValues(normalizeLabel(queue, "unknown")).Inc()
}

// RecordTaskSkipped records a task unscheduled before it ran.
func (m *MetricsExporter) RecordTaskSkipped(queue string) {
	if m == nil {
		return
	}
	m.taskSkippedTotal.WithLabelValues(normalizeLabel(queue, "unknown")).Inc()
}

// RecordQueueDepth records queue depth.
func (m *MetricsExporter) RecordQueueDepth(queue string, depth int) {
	if m == nil {
		return
	}
	m.queueDepth.WithLabelValues(normalizeLabel(queue, "unknown")).Set(float64(depth))
}

// RecordWakeRequest records a requested main-thread turn.
func (m *MetricsExporter) RecordWakeRequest(queue string) {
	if m == nil {
		return
	}
	m.wakeRequestTotal.WithLabelValues(normalizeLabel(queue, "unknown")).Inc()
}

// RecordAffinityUnavailable records a refused turn or timer request.
func (m *MetricsExporter) RecordAffinityUnavailable(queue string) {
	if m == nil {
		return
	}
	m.affinityUnavailableTotal.WithLabelValues(normalizeLabel(queue, "unknown")).Inc()
}

func normalizeLabel(v string, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

// priorityLabel buckets the open-ended priority range into a bounded label set.
func priorityLabel(priority int) string {
	switch {
	case priority <= core.PriorityHighest:
		return "highest"
	case priority < core.PriorityDefault:
		return "high"
	case priority == core.PriorityDefault:
		return "default"
	case priority <= core.PriorityLowest:
		return "low"
	default:
		return "beyond"
	}
}

func registerCollector[T prom.Collector](reg prom.Registerer, collector T) (T, error) {
	err := reg.Register(collector)
	if err == nil {
		return collector, nil
	}

	var alreadyRegisteredErr prom.AlreadyRegisteredError
	if errors.As(err, &alreadyRegisteredErr) {
		existing, ok := alreadyRegisteredErr.ExistingCollector.(T)
		if !ok {
			return collector, fmt.Errorf("collector type mismatch for %T", collector)
		}
		return existing, nil
	}

	return collector, err
}
