// Package health provides health check and readiness probe HTTP handlers.
package health

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/complyon/copilot-gateway/internal/circuitbreaker"
)

// Pre-serialized liveness response avoids json.Encoder allocation.
var livenessBody = []byte(`{"status":"ok"}` + "\n")

const readinessCacheTTL = 5 * time.Second

// Handler provides /health and /ready endpoints.
type Handler struct {
	provider string
	baseURL  string
	breaker  *circuitbreaker.ConsecutiveBreaker
	logger   *slog.Logger

	// Cached readiness result to avoid TCP-dialling the provider on
	// every /ready poll. Protected by cacheMu.
	cacheMu      sync.RWMutex
	cachedResult []byte
	cachedStatus int
	cachedAt     time.Time
}

// New creates a new health check Handler for the configured provider.
func New(provider, baseURL string, breaker *circuitbreaker.ConsecutiveBreaker, logger *slog.Logger) *Handler {
	return &Handler{provider: provider, baseURL: baseURL, breaker: breaker, logger: logger}
}

// RegisterRoutes adds health check routes to the given mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", h.liveness)
	mux.HandleFunc("/ready", h.readiness)
}

func (h *Handler) liveness(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(livenessBody)
}

// readiness reports whether the gateway can usefully serve requests. An open
// circuit breaker means it cannot; half-open still counts as ready since
// probe traffic is flowing. When the breaker is closed a TCP dial to the
// provider gives the definitive answer.
func (h *Handler) readiness(w http.ResponseWriter, r *http.Request) {
	// Serve from cache if fresh.
	h.cacheMu.RLock()
	if h.cachedResult != nil && time.Since(h.cachedAt) < readinessCacheTTL {
		body := h.cachedResult
		status := h.cachedStatus
		h.cacheMu.RUnlock()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		w.Write(body)
		return
	}
	h.cacheMu.RUnlock()

	providerStatus, ready := h.checkProvider(r.Context())

	httpStatus := http.StatusOK
	statusStr := "ready"
	if !ready {
		httpStatus = http.StatusServiceUnavailable
		statusStr = "not ready"
	}

	body, _ := json.Marshal(map[string]interface{}{
		"status": statusStr,
		"provider": map[string]string{
			"name":    h.provider,
			"status":  providerStatus,
			"breaker": h.breaker.State().String(),
		},
	})
	body = append(body, '\n')

	h.cacheMu.Lock()
	h.cachedResult = body
	h.cachedStatus = httpStatus
	h.cachedAt = time.Now()
	h.cacheMu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)
	w.Write(body)
}

func (h *Handler) checkProvider(ctx context.Context) (string, bool) {
	switch h.breaker.State() {
	case circuitbreaker.StateOpen:
		return "circuit-open", false
	case circuitbreaker.StateHalfOpen:
		return "circuit-half-open", true
	}

	if h.baseURL == "" {
		// Default provider endpoints resolve via DNS; skip the dial and
		// trust the closed breaker.
		return "ok", true
	}

	u, err := url.Parse(h.baseURL)
	if err != nil {
		return "invalid URL", false
	}

	host := u.Host
	if !hasPort(host) {
		switch u.Scheme {
		case "https":
			host += ":443"
		default:
			host += ":80"
		}
	}

	dialCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	conn, err := (&net.Dialer{}).DialContext(dialCtx, "tcp", host)
	cancel()

	if err != nil {
		h.logger.Warn("provider unreachable", "provider", h.provider, "base_url", h.baseURL, "error", err)
		return "unreachable", false
	}
	conn.Close()
	return "ok", true
}

func hasPort(host string) bool {
	_, _, err := net.SplitHostPort(host)
	return err == nil
}
