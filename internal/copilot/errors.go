package copilot

import (
	"errors"
	"fmt"
	"time"
)

// Kind classifies a gateway failure. The set is closed: the retry driver and
// the HTTP layer match on kinds, never on error strings or concrete types
// from the transport.
type Kind int

const (
	// KindConnection means the provider was unreachable or returned a server
	// error. Retryable.
	KindConnection Kind = iota

	// KindTimeout means the call exceeded the configured timeout or was
	// cancelled mid-flight. Retryable.
	KindTimeout

	// KindRateLimit means the provider applied backpressure (429).
	// Retryable, honoring the Retry-After hint when present.
	KindRateLimit

	// KindParse means the model produced output no JSON could be extracted
	// from. Retrying cannot fix malformed output; surfaced immediately.
	KindParse

	// KindAuth means the provider rejected our credentials. Fatal.
	KindAuth

	// KindCircuitOpen means the breaker rejected the call before any network
	// attempt was made.
	KindCircuitOpen
)

// String returns the kind label used in logs and metrics.
func (k Kind) String() string {
	switch k {
	case KindConnection:
		return "connection"
	case KindTimeout:
		return "timeout"
	case KindRateLimit:
		return "rate_limit"
	case KindParse:
		return "parse"
	case KindAuth:
		return "auth"
	case KindCircuitOpen:
		return "circuit_open"
	default:
		return "unknown"
	}
}

// Error is the typed failure returned by every client operation.
type Error struct {
	Kind    Kind
	Op      string // operation context: "analyze", "map", "generate"
	Message string

	// RetryAfter carries the provider's backpressure hint for KindRateLimit.
	RetryAfter time.Duration

	// RawPreview holds the first bytes of unparseable model output for
	// KindParse, truncated so logs never balloon with full completions.
	RawPreview string

	Cause error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Kind.String() + " error"
	}
	if e.Op != "" {
		msg = fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, msg)
	} else {
		msg = fmt.Sprintf("%s: %s", e.Kind, msg)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Cause }

// Is matches errors by kind, so callers can write
// errors.Is(err, &Error{Kind: KindTimeout}).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// Retryable reports whether another attempt can help. Consulted by the retry
// policy via interface assertion.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case KindConnection, KindTimeout, KindRateLimit:
		return true
	default:
		return false
	}
}

// RetryAfterHint returns the provider's backpressure hint, or zero.
func (e *Error) RetryAfterHint() time.Duration { return e.RetryAfter }

// IsKind reports whether err is (or wraps) a gateway error of the given kind.
func IsKind(err error, kind Kind) bool {
	var ge *Error
	return errors.As(err, &ge) && ge.Kind == kind
}

// ErrClientClosed is returned by operations on a closed client.
var ErrClientClosed = errors.New("copilot: client closed")

// ErrTooManyInFlight is returned when the concurrency limit rejects a call
// before it reaches the breaker.
var ErrTooManyInFlight = errors.New("copilot: too many in-flight provider calls")
