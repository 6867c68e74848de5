package core

import (
	"context"
	"time"
)

// =============================================================================
// ErrorHandler: Interface for handling callback failures
// =============================================================================

// ErrorHandler is called when a scheduled callback or posted closure fails.
// This allows custom reporting (crash reporters, test sinks) on top of logging.
//
// Handlers run on the main thread, after recovery. They must not block.
type ErrorHandler interface {
	// HandleCallbackError is called once per failed callback.
	//
	// Parameters:
	// - ctx: The context the callback ran with (carries the Scheduler or DispatchBridge)
	// - err: Queue, task, priority and cause of the failure
	HandleCallbackError(ctx context.Context, err *CallbackError)
}

// LoggingErrorHandler writes every callback failure to a Logger.
type LoggingErrorHandler struct {
	Logger Logger
}

// HandleCallbackError logs the failure at Error level.
func (h *LoggingErrorHandler) HandleCallbackError(ctx context.Context, err *CallbackError) {
	logger := h.Logger
	if logger == nil {
		logger = NewDefaultLogger()
	}
	fields := []Field{
		F("queue", err.Queue),
		F("task", err.TaskName),
		F("sequence", err.Sequence),
		F("error", err.Err),
	}
	if err.Prioritized {
		fields = append(fields, F("priority", err.Priority))
	}
	if err.Panicked() {
		fields = append(fields, F("panic", err.Panic), F("stack", string(err.Stack)))
	}
	logger.Error("callback failed", fields...)
}

// =============================================================================
// Metrics: Interface for observability and monitoring
// =============================================================================

// Metrics defines the interface for collecting scheduler metrics.
// Implementations can send metrics to monitoring systems (Prometheus, StatsD, etc.).
//
// Methods are called from the main thread and from producer goroutines; they must be
// safe for concurrent use and cheap.
type Metrics interface {
	// RecordTaskDuration records how long a callback ran on the main thread.
	RecordTaskDuration(queue string, priority int, duration time.Duration)

	// RecordCallbackError records a failed (erroring or panicking) callback.
	RecordCallbackError(queue string)

	// RecordTaskSkipped records a task that was unscheduled before it ran.
	RecordTaskSkipped(queue string)

	// RecordQueueDepth records the current number of queued items.
	RecordQueueDepth(queue string, depth int)

	// RecordWakeRequest records a turn requested from the affinity.
	RecordWakeRequest(queue string)

	// RecordAffinityUnavailable records a turn request the affinity refused.
	RecordAffinityUnavailable(queue string)
}

// NilMetrics provides a no-op metrics implementation that does nothing.
// This is the default when no metrics interface is provided.
type NilMetrics struct{}

func (m *NilMetrics) RecordTaskDuration(queue string, priority int, duration time.Duration) {}
func (m *NilMetrics) RecordCallbackError(queue string)                                      {}
func (m *NilMetrics) RecordTaskSkipped(queue string)                                        {}
func (m *NilMetrics) RecordQueueDepth(queue string, depth int)                              {}
func (m *NilMetrics) RecordWakeRequest(queue string)                                        {}
func (m *NilMetrics) RecordAffinityUnavailable(queue string)                                {}

// =============================================================================
// Config: Configuration for Scheduler and DispatchBridge
// =============================================================================

// Config holds configuration options shared by Scheduler and DispatchBridge.
// All fields are optional; zero values are replaced with defaults.
type Config struct {
	// Name labels logs, metrics and history. Defaults to the queue kind.
	Name string

	// Logger receives lifecycle and failure logs. Defaults to DefaultLogger.
	Logger Logger

	// ErrorHandler is called for every failed callback. Defaults to LoggingErrorHandler.
	ErrorHandler ErrorHandler

	// Metrics records execution metrics. Defaults to NilMetrics.
	Metrics Metrics

	// HistoryCapacity bounds the execution history ring buffer. Defaults to 100.
	HistoryCapacity int
}

// DefaultConfig returns a config with default handlers.
func DefaultConfig() *Config {
	logger := NewDefaultLogger()
	return &Config{
		Logger:          logger,
		ErrorHandler:    &LoggingErrorHandler{Logger: logger},
		Metrics:         &NilMetrics{},
		HistoryCapacity: defaultTaskHistoryCapacity,
	}
}

// withDefaults returns a copy of c with nil fields filled in.
func (c *Config) withDefaults(name string) Config {
	var out Config
	if c != nil {
		out = *c
	}
	if out.Name == "" {
		out.Name = name
	}
	if out.Logger == nil {
		out.Logger = NewDefaultLogger()
	}
	if out.ErrorHandler == nil {
		out.ErrorHandler = &LoggingErrorHandler{Logger: out.Logger}
	}
	if out.Metrics == nil {
		out.Metrics = &NilMetrics{}
	}
	if out.HistoryCapacity <= 0 {
		out.HistoryCapacity = defaultTaskHistoryCapacity
	}
	return out
}
