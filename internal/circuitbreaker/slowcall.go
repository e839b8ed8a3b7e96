package circuitbreaker

import "time"

// SlowCall wraps a Breaker and treats successes slower than threshold as
// failures. A provider that still answers but takes a minute per completion
// is operationally down even though no request errors.
type SlowCall struct {
	inner     Breaker
	threshold time.Duration
}

// NewSlowCall creates a slow-call layer over the inner breaker. Calls taking
// longer than threshold are recorded as failures even when they succeed.
func NewSlowCall(inner Breaker, threshold time.Duration) *SlowCall {
	return &SlowCall{inner: inner, threshold: threshold}
}

func (s *SlowCall) Allow() bool { return s.inner.Allow() }

// RecordLatency records a successful call, demoting it to a failure when it
// exceeded the slow-call threshold.
func (s *SlowCall) RecordLatency(latency time.Duration) {
	if latency > s.threshold {
		s.inner.RecordFailure()
		return
	}
	s.inner.RecordSuccess()
}

func (s *SlowCall) RecordSuccess() { s.inner.RecordSuccess() }
func (s *SlowCall) RecordFailure() { s.inner.RecordFailure() }
func (s *SlowCall) State() State   { return s.inner.State() }
func (s *SlowCall) Reset()         { s.inner.Reset() }
