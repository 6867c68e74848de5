// Package mainthread marshals work from arbitrary goroutines onto one designated main
// thread, the goroutine that owns a host event loop.
//
// Two queues share the main thread:
//
//   - core.Scheduler runs prioritized callbacks, one per event-loop turn. Lower priority
//     values run first; equal priorities run in submission order. Tasks can be
//     unscheduled until they start.
//   - core.DispatchBridge runs one-off closures in strict FIFO order, immediately or
//     after a delay.
//
// The host loop is abstracted by core.MainThreadAffinity. Package affinity provides a
// Go-native EventLoop, a caller-pumped Manual loop for tests, and a tview adapter.
//
// # Quick Start
//
// Run the event loop on the process main goroutine and submit work from anywhere:
//
//	loop := affinity.NewEventLoop("ui", nil)
//	rt := mainthread.NewRuntime(loop, mainthread.DefaultConfig())
//
//	go func() {
//		task, err := rt.Schedule(func(ctx context.Context) (any, error) {
//			return render(), nil
//		}, mainthread.PriorityHigh)
//		if err != nil {
//			// the loop has exited
//		}
//		_ = task
//		_ = rt.DeferredCall(func(ctx context.Context) { loop.Quit() })
//	}()
//
//	_ = loop.Run(context.Background())
//
// # Failure handling
//
// A callback that returns an error or panics is recovered at the task boundary and
// reported to the configured core.ErrorHandler; the remaining tasks keep running. The
// only error returned synchronously by Schedule, DeferredCall and TimedCall wraps
// ErrAffinityUnavailable.
//
// # Sharing
//
// Callbacks cross goroutines. They must capture only values they own or that are
// safe for concurrent use.
package mainthread
