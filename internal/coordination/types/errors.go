package types

import "errors"

// Sentinel error kinds from spec §7. Components wrap these with context via
// fmt.Errorf("...: %w", ErrX) so callers can errors.Is against them.
var (
	ErrCircularDependency = errors.New("circular dependency")
	ErrCycleDetected      = errors.New("cycle detected")
	ErrUnknownDependency  = errors.New("unknown dependency")
	ErrQueueFull          = errors.New("queue full")
	ErrCommandNotAllowed  = errors.New("command not allowed")
	ErrUnsafeArgument     = errors.New("unsafe argument")
	ErrBreakerOpen        = errors.New("circuit breaker open")
	ErrTimeout            = errors.New("timeout")
	ErrSpawnFailed        = errors.New("spawn failed")
	ErrNonZeroExit        = errors.New("non-zero exit")
	ErrKilledBySignal     = errors.New("killed by signal")
	ErrCapacityExceeded   = errors.New("capacity exceeded")
	ErrConsensusRejected  = errors.New("consensus rejected")
	ErrConsensusTimeout   = errors.New("consensus timeout")
	ErrNoAdmissibleAgent  = errors.New("no admissible agent")
	ErrNotFound           = errors.New("not found")
)
