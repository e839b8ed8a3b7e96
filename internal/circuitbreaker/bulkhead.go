package circuitbreaker

import (
	"github.com/complyon/copilot-gateway/internal/metrics"
)

// Bulkhead limits the number of concurrent in-flight provider calls. LLM
// requests can take tens of seconds; without a cap, an incident upstream
// turns into a goroutine pileup here before the breaker has a chance to trip.
type Bulkhead struct {
	sem chan struct{}
}

// NewBulkhead creates a concurrency limiter that allows at most maxConcurrent
// in-flight calls before rejecting.
func NewBulkhead(maxConcurrent int) *Bulkhead {
	return &Bulkhead{sem: make(chan struct{}, maxConcurrent)}
}

// Acquire tries to take a concurrency slot. Returns false without blocking
// when the limit is reached. If Acquire returns true, the caller MUST call
// Release when the call completes.
func (b *Bulkhead) Acquire() bool {
	select {
	case b.sem <- struct{}{}:
		metrics.BulkheadInFlight.Set(float64(len(b.sem)))
		return true
	default:
		metrics.BulkheadRejections.Inc()
		return false
	}
}

// Release frees a concurrency slot after a call completes. Must be called
// exactly once for every Acquire that returned true.
func (b *Bulkhead) Release() {
	<-b.sem
	metrics.BulkheadInFlight.Set(float64(len(b.sem)))
}
