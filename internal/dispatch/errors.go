package dispatch

import "errors"

// Sentinel errors for pool and dispatcher lifecycle.
var (
	// ErrPoolNotStarted indicates Submit before Start.
	ErrPoolNotStarted = errors.New("dispatch pool not started")

	// ErrPoolStopped indicates the pool has been stopped.
	ErrPoolStopped = errors.New("dispatch pool stopped")

	// ErrPoolAlreadyStarted indicates Start was called twice.
	ErrPoolAlreadyStarted = errors.New("dispatch pool already started")

	// ErrQueueFull indicates the target worker queue is at capacity.
	ErrQueueFull = errors.New("dispatch queue full")

	// ErrNilProcessor indicates a nil processor or key function.
	ErrNilProcessor = errors.New("processor and key functions cannot be nil")

	// ErrStopTimeout indicates workers did not drain within the timeout.
	ErrStopTimeout = errors.New("timeout waiting for workers to stop")
)
