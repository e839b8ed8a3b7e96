// Package copilot implements the resilient client toward the LLM provider:
// circuit breaking, bounded retries with backoff, per-call timeouts, and
// JSON extraction from untrusted model output.
package copilot

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/complyon/copilot-gateway/internal/circuitbreaker"
	"github.com/complyon/copilot-gateway/internal/metrics"
	"github.com/complyon/copilot-gateway/internal/provider"
	"github.com/complyon/copilot-gateway/internal/retry"
	"golang.org/x/time/rate"
)

// maxResponseSize bounds the provider response body read.
const maxResponseSize = 10 * 1024 * 1024 // 10 MB

// Config holds the client's reliability parameters. All values are
// caller-supplied; Validate rejects zero values that have no sane default.
type Config struct {
	Provider string // registered provider adapter name
	BaseURL  string
	Model    string
	APIKey   string

	FailureThreshold int
	RecoveryTimeout  time.Duration
	HalfOpenMaxCalls int

	MaxAttempts  int
	RetryMinWait time.Duration
	RetryMaxWait time.Duration

	Timeout time.Duration // per-attempt provider call deadline

	// MaxConcurrent caps in-flight provider calls; 0 disables the limit.
	MaxConcurrent int

	// SlowCallThreshold demotes slower successes to breaker failures;
	// 0 disables.
	SlowCallThreshold time.Duration

	// RequestsPerSecond and Burst form the outbound provider budget;
	// 0 disables.
	RequestsPerSecond float64
	Burst             int

	Temperature *float64
	MaxTokens   int
}

// Validate checks the reliability parameters.
func (c Config) Validate() error {
	if c.Model == "" {
		return fmt.Errorf("model is required")
	}
	if c.FailureThreshold < 1 {
		return fmt.Errorf("failure_threshold must be positive")
	}
	if c.RecoveryTimeout < 0 {
		return fmt.Errorf("recovery_timeout must be non-negative")
	}
	if c.HalfOpenMaxCalls < 1 {
		return fmt.Errorf("half_open_max_calls must be positive")
	}
	if c.MaxAttempts < 1 {
		return fmt.Errorf("max_attempts must be positive")
	}
	if c.RetryMinWait <= 0 || c.RetryMaxWait < c.RetryMinWait {
		return fmt.Errorf("retry waits must satisfy 0 < min <= max")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	return nil
}

// Client is the resilient gateway to one LLM provider. One Client owns one
// circuit breaker; all concurrent logical requests issued through the same
// Client share it. NewClient acquires the transport, Close releases it
// exactly once.
type Client struct {
	cfg      Config
	prov     provider.Provider
	breaker  *circuitbreaker.ConsecutiveBreaker
	slow     *circuitbreaker.SlowCall
	bulkhead *circuitbreaker.Bulkhead
	limiter  *rate.Limiter
	policy   retry.Policy
	http     *http.Client
	logger   *slog.Logger

	closed    atomic.Bool
	closeOnce sync.Once
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the transport. The caller keeps ownership of
// connection pool settings; Close still releases idle connections.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// NewClient builds a client for the configured provider and acquires the
// transport session.
func NewClient(cfg Config, opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("copilot config: %w", err)
	}
	prov, err := provider.Get(cfg.Provider)
	if err != nil {
		return nil, err
	}

	c := &Client{
		cfg:  cfg,
		prov: prov,
		policy: retry.Policy{
			MaxAttempts: cfg.MaxAttempts,
			MinWait:     cfg.RetryMinWait,
			MaxWait:     cfg.RetryMaxWait,
		},
		http: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}

	c.breaker = circuitbreaker.NewConsecutiveBreaker(
		prov.Name(), cfg.FailureThreshold, cfg.RecoveryTimeout, cfg.HalfOpenMaxCalls, c.logger)
	if cfg.SlowCallThreshold > 0 {
		c.slow = circuitbreaker.NewSlowCall(c.breaker, cfg.SlowCallThreshold)
	}
	if cfg.MaxConcurrent > 0 {
		c.bulkhead = circuitbreaker.NewBulkhead(cfg.MaxConcurrent)
	}
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}

	return c, nil
}

// Close releases the transport session. Safe to call more than once; only
// the first call has effect. Operations issued after Close fail with
// ErrClientClosed.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.http.CloseIdleConnections()
	})
}

// Breaker exposes the circuit breaker for diagnostics (admin and readiness
// endpoints).
func (c *Client) Breaker() *circuitbreaker.ConsecutiveBreaker { return c.breaker }

// ProviderName returns the configured provider adapter name.
func (c *Client) ProviderName() string { return c.prov.Name() }

// BaseURL returns the configured provider base URL.
func (c *Client) BaseURL() string { return c.cfg.BaseURL }

// AnalyzeLegalText extracts obligations from regulatory text.
func (c *Client) AnalyzeLegalText(ctx context.Context, text, regulation, jurisdiction, framework string) ([]Obligation, error) {
	raw, err := c.call(ctx, opAnalyze, analyzePrompt(text, regulation, jurisdiction, framework))
	if err != nil {
		return nil, err
	}

	var out struct {
		Obligations []Obligation `json:"obligations"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, decodeError(raw, opAnalyze, err)
	}
	// Some models return the bare array despite the prompt.
	if out.Obligations == nil {
		var list []Obligation
		if err := json.Unmarshal(raw, &list); err != nil {
			return nil, decodeError(raw, opAnalyze, fmt.Errorf("missing obligations key"))
		}
		return list, nil
	}
	return out.Obligations, nil
}

// MapToCode maps obligations onto framework controls and the described
// codebase.
func (c *Client) MapToCode(ctx context.Context, obligations []Obligation, codeContext, framework string) (*Mapping, error) {
	raw, err := c.call(ctx, opMap, mapPrompt(obligations, codeContext, framework))
	if err != nil {
		return nil, err
	}

	var m Mapping
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, decodeError(raw, opMap, err)
	}
	if m.Framework == "" {
		m.Framework = framework
	}
	return &m, nil
}

// GenerateCompliantCode produces code files satisfying an obligation.
func (c *Client) GenerateCompliantCode(ctx context.Context, obligation Obligation, language, framework string) (*GeneratedFiles, error) {
	raw, err := c.call(ctx, opGenerate, generatePrompt(obligation, language, framework))
	if err != nil {
		return nil, err
	}

	var g GeneratedFiles
	if err := json.Unmarshal(raw, &g); err != nil {
		return nil, decodeError(raw, opGenerate, err)
	}
	if len(g.Files) == 0 {
		return nil, decodeError(raw, opGenerate, fmt.Errorf("no files in response"))
	}
	return &g, nil
}

// call runs the guarded request loop: breaker admission, outbound budget,
// one transport attempt bounded by the per-call timeout, then retry with
// backoff for transient kinds. The breaker is re-checked on every attempt
// since it may have opened meanwhile.
func (c *Client) call(ctx context.Context, op string, messages []provider.Message) (json.RawMessage, error) {
	if c.closed.Load() {
		return nil, ErrClientClosed
	}

	if c.bulkhead != nil {
		if !c.bulkhead.Acquire() {
			return nil, ErrTooManyInFlight
		}
		defer c.bulkhead.Release()
	}

	for attempt := 1; ; attempt++ {
		if !c.breaker.Allow() {
			// Fail fast without touching the transport. Not recorded as a
			// new failure.
			return nil, &Error{Kind: KindCircuitOpen, Op: op, Message: "circuit breaker open"}
		}

		if c.limiter != nil {
			waitStart := time.Now()
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, c.classifyContextErr(ctx, op, err)
			}
			metrics.RateLimitWaits.Observe(time.Since(waitStart).Seconds())
		}

		start := time.Now()
		completion, err := c.doRequest(ctx, op, messages)
		latency := time.Since(start)

		if err != nil {
			c.recordFailure(err)
			metrics.ProviderCallDuration.WithLabelValues(c.prov.Name(), "failure").Observe(latency.Seconds())
			if ge := asGatewayError(err); ge != nil {
				metrics.ProviderErrors.WithLabelValues(c.prov.Name(), ge.Kind.String()).Inc()
			}

			if !c.policy.ShouldRetry(attempt, err) {
				return nil, err
			}

			delay := c.policy.NextDelay(attempt, err)
			c.logger.Warn("provider call failed, retrying",
				"operation", op,
				"attempt", attempt,
				"max_attempts", c.policy.MaxAttempts,
				"backoff", delay,
				"error", err,
			)
			metrics.RetriesTotal.WithLabelValues(c.prov.Name(), op).Inc()

			select {
			case <-ctx.Done():
				return nil, c.classifyContextErr(ctx, op, ctx.Err())
			case <-time.After(delay):
			}
			continue
		}

		metrics.ProviderCallDuration.WithLabelValues(c.prov.Name(), "success").Observe(latency.Seconds())
		c.recordSuccess(latency)

		value, perr := ExtractJSON(completion.Content, op)
		if perr != nil {
			// Malformed output is terminal for this call but still an
			// operational failure: a model that keeps producing garbage is
			// as unhealthy as one that times out.
			c.breaker.RecordFailure()
			metrics.ParseFailures.WithLabelValues(op).Inc()
			c.logger.Error("failed to extract JSON from model output",
				"operation", op,
				"model", completion.Model,
				"error", perr,
			)
			return nil, perr
		}

		return value, nil
	}
}

// recordFailure reports a failed attempt to the breaker. Auth failures are
// credential misconfiguration, not provider health, and do not count.
func (c *Client) recordFailure(err error) {
	if IsKind(err, KindAuth) {
		return
	}
	c.breaker.RecordFailure()
}

func (c *Client) recordSuccess(latency time.Duration) {
	if c.slow != nil {
		c.slow.RecordLatency(latency)
		return
	}
	c.breaker.RecordSuccess()
}

// doRequest executes a single provider call bounded by the per-attempt
// timeout and classifies every failure into the error taxonomy.
func (c *Client) doRequest(ctx context.Context, op string, messages []provider.Message) (*provider.Completion, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	body, err := c.prov.BuildRequestBody(c.cfg.Model, messages, c.cfg.Temperature, c.cfg.MaxTokens)
	if err != nil {
		return nil, &Error{Kind: KindConnection, Op: op, Message: "build request body", Cause: err}
	}

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, c.prov.BuildURL(c.cfg.BaseURL), bytes.NewReader(body))
	if err != nil {
		return nil, &Error{Kind: KindConnection, Op: op, Message: "create request", Cause: err}
	}
	req.Header.Set("Content-Type", "application/json")
	c.prov.SetHeaders(req, c.cfg.APIKey)

	resp, err := c.http.Do(req)
	if err != nil {
		if callCtx.Err() != nil || isTimeout(err) {
			return nil, &Error{Kind: KindTimeout, Op: op, Message: "provider call timed out or was cancelled", Cause: err}
		}
		return nil, &Error{Kind: KindConnection, Op: op, Message: "provider unreachable", Cause: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		if callCtx.Err() != nil {
			return nil, &Error{Kind: KindTimeout, Op: op, Message: "reading response timed out", Cause: err}
		}
		return nil, &Error{Kind: KindConnection, Op: op, Message: "read response body", Cause: err}
	}

	if resp.StatusCode != http.StatusOK {
		return nil, c.classifyStatus(op, resp, respBody)
	}

	completion, err := c.prov.ParseResponse(respBody)
	if err != nil {
		return nil, parseError(string(respBody), op, "malformed provider envelope")
	}
	return completion, nil
}

// classifyStatus converts a non-200 provider response into a typed error.
func (c *Client) classifyStatus(op string, resp *http.Response, body []byte) *Error {
	detail := strings.TrimSpace(string(body))
	if len(detail) > 200 {
		detail = detail[:200] + "..."
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return &Error{
			Kind:       KindRateLimit,
			Op:         op,
			Message:    fmt.Sprintf("provider backpressure (status %d): %s", resp.StatusCode, detail),
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return &Error{
			Kind:    KindAuth,
			Op:      op,
			Message: fmt.Sprintf("provider rejected credentials (status %d)", resp.StatusCode),
		}
	default:
		// Server errors and anything unexpected: the provider is unwell.
		return &Error{
			Kind:    KindConnection,
			Op:      op,
			Message: fmt.Sprintf("provider error (status %d): %s", resp.StatusCode, detail),
		}
	}
}

// classifyContextErr maps a context error observed at a suspension point
// (backoff sleep, budget wait) into the taxonomy.
func (c *Client) classifyContextErr(ctx context.Context, op string, err error) *Error {
	msg := "call cancelled"
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		msg = "call deadline exceeded"
	}
	return &Error{Kind: KindTimeout, Op: op, Message: msg, Cause: err}
}

// parseRetryAfter parses a Retry-After header in delay-seconds or HTTP-date
// format, capped at one hour.
func parseRetryAfter(value string) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}

	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds <= 0 {
			return 0
		}
		d := time.Duration(seconds) * time.Second
		if d > time.Hour {
			d = time.Hour
		}
		return d
	}

	if t, err := http.ParseTime(value); err == nil {
		if d := time.Until(t); d > 0 && d <= time.Hour {
			return d
		}
	}

	return 0
}

func isTimeout(err error) bool {
	var ne interface{ Timeout() bool }
	return errors.As(err, &ne) && ne.Timeout()
}

func asGatewayError(err error) *Error {
	var ge *Error
	if errors.As(err, &ge) {
		return ge
	}
	return nil
}

// decodeError wraps a shape mismatch between the extracted JSON and the
// expected result type as a parse failure.
func decodeError(raw json.RawMessage, op string, err error) *Error {
	pe := parseError(string(raw), op, "response JSON does not match expected shape")
	pe.Cause = err
	return pe
}
