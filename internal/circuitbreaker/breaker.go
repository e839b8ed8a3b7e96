// Package circuitbreaker provides the circuit breaker guarding calls to the
// LLM provider, plus optional concurrency and slow-call layers.
package circuitbreaker

// State represents the circuit breaker state.
type State int

const (
	StateClosed   State = iota // Normal operation; calls pass through.
	StateOpen                  // Failing; calls are rejected immediately.
	StateHalfOpen              // Probing; calls allowed to test recovery.
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Snapshot is a read-only view of breaker state for diagnostics.
type Snapshot struct {
	State        State `json:"-"`
	FailureCount int   `json:"failure_count"`
}

// Breaker is the admission-control interface the client calls through.
type Breaker interface {
	// Allow reports whether a call may proceed. Returns false when the
	// circuit is open and the call should be rejected without touching
	// the provider.
	Allow() bool

	// RecordSuccess records a successful provider call.
	RecordSuccess()

	// RecordFailure records a failed provider call.
	RecordFailure()

	// State returns the current circuit breaker state.
	State() State

	// Reset forces the breaker back to closed state.
	Reset()
}
