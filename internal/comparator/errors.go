package comparator

import "errors"

// Fatal errors, returned to the caller of Start and Run.
var (
	ErrHandshakeFailed       = errors.New("failed during start-up stage")
	ErrCircuitBreakerTripped = errors.New("exceeded maximum consecutive failures")
	ErrTerminated            = errors.New("service is terminated")
)

// Job errors. They are counted by the circuit breaker and never escape a cycle.
var (
	ErrOrphanedJob       = errors.New("comparison job is orphaned")
	ErrPublishArtifact   = errors.New("failed to submit message")
	ErrPublishComparison = errors.New("failed to submit comparison job")
)
