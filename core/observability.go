package core

import "time"

// Queue names used in logs, metrics and history when Config.Name is empty.
const (
	SchedulerQueueName = "scheduler"
	BridgeQueueName    = "dispatch"
)

// Outcome classifies one execution attempt.
type Outcome string

const (
	OutcomeOK      Outcome = "ok"
	OutcomeError   Outcome = "error"
	OutcomePanic   Outcome = "panic"
	OutcomeSkipped Outcome = "skipped"
)

// TaskExecutionRecord captures a completed execution attempt on the main thread.
type TaskExecutionRecord struct {
	TaskID     uint64        `json:"task_id" cbor:"1,keyasint"`
	Name       string        `json:"name" cbor:"2,keyasint"`
	Queue      string        `json:"queue" cbor:"3,keyasint"`
	Priority   int           `json:"priority" cbor:"4,keyasint"`
	StartedAt  time.Time     `json:"started_at" cbor:"5,keyasint"`
	FinishedAt time.Time     `json:"finished_at" cbor:"6,keyasint"`
	Duration   time.Duration `json:"duration" cbor:"7,keyasint"`
	Outcome    Outcome       `json:"outcome" cbor:"8,keyasint"`
}

// SchedulerStats is a point-in-time view of a Scheduler.
type SchedulerStats struct {
	Name         string    `json:"name" cbor:"1,keyasint"`
	Pending      int       `json:"pending" cbor:"2,keyasint"`
	Scheduled    int64     `json:"scheduled" cbor:"3,keyasint"`
	Executed     int64     `json:"executed" cbor:"4,keyasint"`
	Failed       int64     `json:"failed" cbor:"5,keyasint"`
	Skipped      int64     `json:"skipped" cbor:"6,keyasint"`
	WakeRequests int64     `json:"wake_requests" cbor:"7,keyasint"`
	Stalled      bool      `json:"stalled" cbor:"8,keyasint"`
	LastTaskName string    `json:"last_task_name" cbor:"9,keyasint"`
	LastTaskAt   time.Time `json:"last_task_at" cbor:"10,keyasint"`
}

// BridgeStats is a point-in-time view of a DispatchBridge.
type BridgeStats struct {
	Name         string    `json:"name" cbor:"1,keyasint"`
	Pending      int       `json:"pending" cbor:"2,keyasint"`
	Posted       int64     `json:"posted" cbor:"3,keyasint"`
	Executed     int64     `json:"executed" cbor:"4,keyasint"`
	Failed       int64     `json:"failed" cbor:"5,keyasint"`
	Timers       int64     `json:"timers" cbor:"6,keyasint"`
	LastTaskName string    `json:"last_task_name" cbor:"7,keyasint"`
	LastTaskAt   time.Time `json:"last_task_at" cbor:"8,keyasint"`
}
