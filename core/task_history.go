package core

import (
	"reflect"
	"runtime"
	"strings"
	"sync"
	"time"
)

const defaultTaskHistoryCapacity = 100

type executionHistory struct {
	mu    sync.Mutex
	items []TaskExecutionRecord
	head  int
	count int
}

func newExecutionHistory(capacity int) *executionHistory {
	if capacity < 1 {
		capacity = defaultTaskHistoryCapacity
	}
	return &executionHistory{items: make([]TaskExecutionRecord, capacity)}
}

func (h *executionHistory) Add(record TaskExecutionRecord) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.items[h.head] = record
	h.head = (h.head + 1) % len(h.items)
	if h.count < len(h.items) {
		h.count++
	}
}

// Recent returns up to limit records, newest first. limit <= 0 means all.
func (h *executionHistory) Recent(limit int) []TaskExecutionRecord {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.count == 0 {
		return nil
	}

	if limit <= 0 || limit > h.count {
		limit = h.count
	}

	out := make([]TaskExecutionRecord, 0, limit)
	for i := range limit {
		idx := (h.head - 1 - i + len(h.items)) % len(h.items)
		out = append(out, h.items[idx])
	}
	return out
}

func (h *executionHistory) Last() (TaskExecutionRecord, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.count == 0 {
		return TaskExecutionRecord{}, false
	}

	idx := (h.head - 1 + len(h.items)) % len(h.items)
	return h.items[idx], true
}

// resolveTaskName prefers the explicit name, then the function symbol.
func resolveTaskName(fn any, explicit string) string {
	if explicit != "" {
		return explicit
	}

	v := reflect.ValueOf(fn)
	if !v.IsValid() || v.Kind() != reflect.Func || v.IsNil() {
		return "anonymous"
	}

	f := runtime.FuncForPC(v.Pointer())
	if f == nil || f.Name() == "" {
		return "anonymous"
	}
	// Trim the import path; keep "pkg.Func.func1".
	name := f.Name()
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	return name
}

// timedOutcome is an execution attempt with its timing, ready to be recorded.
type timedOutcome struct {
	taskOutcome
	startedAt  time.Time
	finishedAt time.Time
}

func (o timedOutcome) record(id uint64, name, queue string, priority int) TaskExecutionRecord {
	return TaskExecutionRecord{
		TaskID:     id,
		Name:       name,
		Queue:      queue,
		Priority:   priority,
		StartedAt:  o.startedAt,
		FinishedAt: o.finishedAt,
		Duration:   o.finishedAt.Sub(o.startedAt),
		Outcome:    o.outcome,
	}
}
