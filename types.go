package mainthread

import "github.com/Swind/go-mainthread/core"

// Re-export commonly used types from core package for convenience.
// This allows users to import only the mainthread package for most use cases.

// Task is a scheduled callback returned by Schedule
type Task = core.Task

// TaskHandle is the read/cancel view of a Task
type TaskHandle = core.TaskHandle

// Callback is the function type accepted by Schedule
type Callback = core.Callback

// Closure is the function type accepted by DeferredCall and TimedCall
type Closure = core.Closure

// MainThreadAffinity is the host event loop abstraction
type MainThreadAffinity = core.MainThreadAffinity

// Scheduler runs prioritized callbacks on the main thread
type Scheduler = core.Scheduler

// DispatchBridge runs closures on the main thread in FIFO order
type DispatchBridge = core.DispatchBridge

// Config configures a Runtime's Scheduler and DispatchBridge
type Config = core.Config

// Priority constants
const (
	PriorityHighest = core.PriorityHighest
	PriorityHigh    = core.PriorityHigh
	PriorityDefault = core.PriorityDefault
	PriorityLow     = core.PriorityLow
	PriorityLowest  = core.PriorityLowest
)

// ErrAffinityUnavailable is returned when no main-thread turn can be requested
var ErrAffinityUnavailable = core.ErrAffinityUnavailable

// DefaultConfig returns a Config with default handlers
var DefaultConfig = core.DefaultConfig

// GetCurrentScheduler retrieves the running Scheduler from a callback context
var GetCurrentScheduler = core.GetCurrentScheduler

// GetCurrentDispatchBridge retrieves the running DispatchBridge from a closure context
var GetCurrentDispatchBridge = core.GetCurrentDispatchBridge
