// Package retry provides the bounded exponential backoff driver used for
// transient provider failures.
package retry

import (
	"errors"
	"math/rand"
	"time"
)

// retryable is implemented by errors that know whether another attempt can
// help. Errors without the method are treated as non-retryable.
type retryable interface {
	Retryable() bool
}

// retryAfterHint is implemented by errors carrying provider backpressure
// hints (Retry-After on 429 responses).
type retryAfterHint interface {
	RetryAfterHint() time.Duration
}

// Policy drives retry decisions and backoff delays. Attempt numbering is
// 1-based: attempt 1 is the first try, so retries stop once
// attempt >= MaxAttempts.
type Policy struct {
	MaxAttempts int
	MinWait     time.Duration
	MaxWait     time.Duration
}

// ShouldRetry reports whether the failed attempt may be retried. Returns
// false once attempts are exhausted or when the error kind cannot be fixed
// by retrying (parse, auth, open circuit).
func (p Policy) ShouldRetry(attempt int, err error) bool {
	if attempt >= p.MaxAttempts {
		return false
	}
	var r retryable
	if errors.As(err, &r) {
		return r.Retryable()
	}
	return false
}

// NextDelay returns the backoff before the given attempt is retried: capped
// exponential doubling from MinWait with full jitter, bounded by
// [MinWait, MaxWait]. When the error carries a Retry-After hint the hint
// wins, still capped at MaxWait.
func (p Policy) NextDelay(attempt int, err error) time.Duration {
	var hint retryAfterHint
	if errors.As(err, &hint) {
		if d := hint.RetryAfterHint(); d > 0 {
			if d > p.MaxWait {
				return p.MaxWait
			}
			return d
		}
	}

	if attempt < 1 {
		attempt = 1
	}
	// Cap the shift to avoid overflow on absurd attempt counts.
	shift := attempt - 1
	if shift > 30 {
		shift = 30
	}

	backoff := p.MinWait << shift
	if backoff <= 0 || backoff > p.MaxWait {
		backoff = p.MaxWait
	}

	// Full jitter: uniform in [MinWait, backoff]. Spreads synchronized
	// retries across the window instead of hammering the provider in waves.
	if backoff > p.MinWait {
		backoff = p.MinWait + time.Duration(rand.Int63n(int64(backoff-p.MinWait)+1))
	}
	return backoff
}
