package core

import "time"

// MainThreadAffinity is the host's "run this on the UI thread" primitive.
//
// Implementations wrap a native event loop: a message-loop post, a toolkit update
// queue, or a dedicated goroutine locked to an OS thread.
type MainThreadAffinity interface {
	// RequestTurn must eventually invoke fn exactly once on the main thread,
	// asynchronously relative to the caller. It returns an error wrapping
	// ErrAffinityUnavailable when the loop cannot accept work.
	RequestTurn(fn func()) error

	// RequestTimer behaves like RequestTurn but invokes fn no earlier than delay
	// from now.
	RequestTimer(delay time.Duration, fn func()) error

	// IsMainThread reports whether the caller is running on the main thread.
	IsMainThread() bool
}
