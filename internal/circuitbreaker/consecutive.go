package circuitbreaker

import (
	"log/slog"
	"sync"
	"time"

	"github.com/complyon/copilot-gateway/internal/metrics"
)

// ConsecutiveBreaker opens after a run of consecutive failures with no
// intervening success. After recoveryTimeout it lazily transitions to
// half-open on the next Allow call; no background timer is involved, and the
// elapsed-time check runs under the same lock as the record operations.
//
// failureCount is meaningful only while closed and resets to zero on every
// transition into closed.
type ConsecutiveBreaker struct {
	mu sync.Mutex

	state    State
	provider string
	logger   *slog.Logger

	failureThreshold int
	recoveryTimeout  time.Duration
	halfOpenMaxCalls int

	failureCount    int
	halfOpenSuccess int
	openedAt        time.Time
}

// NewConsecutiveBreaker creates a breaker for the given provider. The
// provider name is used only for logging and metrics labels.
func NewConsecutiveBreaker(provider string, failureThreshold int, recoveryTimeout time.Duration, halfOpenMaxCalls int, logger *slog.Logger) *ConsecutiveBreaker {
	return &ConsecutiveBreaker{
		state:            StateClosed,
		provider:         provider,
		logger:           logger,
		failureThreshold: failureThreshold,
		recoveryTimeout:  recoveryTimeout,
		halfOpenMaxCalls: halfOpenMaxCalls,
	}
}

// Allow reports whether a call may proceed. When open and the recovery
// timeout has elapsed, the breaker moves to half-open and the caller that
// observed the transition is admitted as a probe. time.Since uses the
// monotonic clock, so wall-clock jumps cannot shorten or extend the cooldown.
func (b *ConsecutiveBreaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		if time.Since(b.openedAt) >= b.recoveryTimeout {
			b.transitionTo(StateHalfOpen)
			return true
		}
		return false
	case StateHalfOpen:
		return true
	default:
		return true
	}
}

// RecordFailure counts a failed call. In closed state the consecutive
// failure count grows and trips the breaker at the threshold; in half-open
// any failure reopens immediately.
func (b *ConsecutiveBreaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		b.failureCount++
		if b.failureCount >= b.failureThreshold {
			b.transitionTo(StateOpen)
		}
	case StateHalfOpen:
		b.transitionTo(StateOpen)
	case StateOpen:
		// Already failing fast.
	}
}

// RecordSuccess counts a successful call. In closed state it clears the
// consecutive failure run; in half-open it accrues toward closing.
func (b *ConsecutiveBreaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		b.failureCount = 0
	case StateHalfOpen:
		b.halfOpenSuccess++
		if b.halfOpenSuccess >= b.halfOpenMaxCalls {
			b.transitionTo(StateClosed)
		}
	case StateOpen:
		// No-op.
	}
}

// State returns the current state without mutating anything.
func (b *ConsecutiveBreaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// GetState returns a diagnostic snapshot. Never mutates state.
func (b *ConsecutiveBreaker) GetState() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Snapshot{State: b.state, FailureCount: b.failureCount}
}

// Reset forces the breaker back to closed.
func (b *ConsecutiveBreaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transitionTo(StateClosed)
}

// UpdateConfig updates the breaker parameters at runtime (config hot-reload).
func (b *ConsecutiveBreaker) UpdateConfig(failureThreshold int, recoveryTimeout time.Duration, halfOpenMaxCalls int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failureThreshold = failureThreshold
	b.recoveryTimeout = recoveryTimeout
	b.halfOpenMaxCalls = halfOpenMaxCalls
}

// transitionTo changes the breaker state, emitting metrics and logging.
// Must be called with b.mu held.
func (b *ConsecutiveBreaker) transitionTo(newState State) {
	if b.state == newState {
		// Reset still clears counters even when already closed.
		if newState == StateClosed {
			b.failureCount = 0
			b.halfOpenSuccess = 0
		}
		return
	}

	from := b.state
	b.state = newState

	metrics.CircuitBreakerTransitions.WithLabelValues(b.provider, from.String(), newState.String()).Inc()
	metrics.CircuitBreakerState.WithLabelValues(b.provider).Set(float64(newState))

	b.logger.Info("circuit breaker state change",
		"provider", b.provider,
		"from", from.String(),
		"to", newState.String(),
	)

	switch newState {
	case StateClosed:
		b.failureCount = 0
		b.halfOpenSuccess = 0
	case StateOpen:
		b.openedAt = time.Now()
		b.halfOpenSuccess = 0
	case StateHalfOpen:
		b.halfOpenSuccess = 0
	}
}
