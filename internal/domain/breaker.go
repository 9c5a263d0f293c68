package domain

import "time"

// BreakerState is the closed set of circuit breaker states.
type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "Closed"
	case BreakerOpen:
		return "Open"
	case BreakerHalfOpen:
		return "HalfOpen"
	default:
		return "Unknown"
	}
}

// CircuitBreakerState is a point-in-time snapshot of one breaker,
// exposed to health checks and the resilience manager's status API.
// Transitions that produce a new snapshot are atomic and emit an event
// (see internal/resilience/breaker).
type CircuitBreakerState struct {
	Name                string
	State               BreakerState
	FailureCount        int
	SuccessCount        int
	WindowFailures      int
	LastChange          time.Time
	CurrentTimeout      time.Duration
	ConsecutiveTimeouts int
}
