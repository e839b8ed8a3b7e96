// Package server exposes the copilot operations over HTTP. It validates
// request bodies, drives the resilient client, and maps the client's error
// taxonomy onto HTTP statuses and stable error codes.
package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/complyon/copilot-gateway/internal/apierror"
	"github.com/complyon/copilot-gateway/internal/copilot"
	"github.com/complyon/copilot-gateway/internal/metrics"
	"github.com/complyon/copilot-gateway/internal/middleware"
)

// Handler serves the /v1 API backed by one copilot client.
type Handler struct {
	client *copilot.Client
	logger *slog.Logger
}

// New creates the API handler.
func New(client *copilot.Client, logger *slog.Logger) *Handler {
	return &Handler{client: client, logger: logger}
}

// RegisterRoutes adds the API routes to the given mux. The catch-all route
// returns a structured 404 so unmatched paths never fall through to Go's
// plain-text default.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/analyze", h.instrument("analyze", h.analyze))
	mux.HandleFunc("/v1/mappings", h.instrument("map", h.mappings))
	mux.HandleFunc("/v1/generate", h.instrument("generate", h.generate))
	mux.HandleFunc("/", h.notFound)
}

// OperationScope maps an API path to the OAuth2 scope it requires. Used by
// the auth middleware; paths outside /v1 require no operation scope.
func OperationScope(path string) string {
	switch path {
	case "/v1/analyze":
		return "copilot:analyze"
	case "/v1/mappings":
		return "copilot:map"
	case "/v1/generate":
		return "copilot:generate"
	}
	return ""
}

// analyzeRequest is the body of POST /v1/analyze.
type analyzeRequest struct {
	Text         string `json:"text"`
	Regulation   string `json:"regulation"`
	Jurisdiction string `json:"jurisdiction"`
	Framework    string `json:"framework"`
}

// mappingsRequest is the body of POST /v1/mappings.
type mappingsRequest struct {
	Obligations []copilot.Obligation `json:"obligations"`
	CodeContext string               `json:"code_context"`
	Framework   string               `json:"framework"`
}

// generateRequest is the body of POST /v1/generate.
type generateRequest struct {
	Obligation copilot.Obligation `json:"obligation"`
	Language   string             `json:"language"`
	Framework  string             `json:"framework"`
}

func (h *Handler) analyze(w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest
	if !h.decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		apierror.WriteJSON(w, r, http.StatusBadRequest, apierror.InvalidRequest, "text is required")
		return
	}
	if req.Regulation == "" {
		apierror.WriteJSON(w, r, http.StatusBadRequest, apierror.InvalidRequest, "regulation is required")
		return
	}

	obligations, err := h.client.AnalyzeLegalText(r.Context(), req.Text, req.Regulation, req.Jurisdiction, req.Framework)
	if err != nil {
		h.writeClientError(w, r, "analyze", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"obligations": obligations})
}

func (h *Handler) mappings(w http.ResponseWriter, r *http.Request) {
	var req mappingsRequest
	if !h.decode(w, r, &req) {
		return
	}
	if len(req.Obligations) == 0 {
		apierror.WriteJSON(w, r, http.StatusBadRequest, apierror.InvalidRequest, "obligations must not be empty")
		return
	}
	if req.Framework == "" {
		apierror.WriteJSON(w, r, http.StatusBadRequest, apierror.InvalidRequest, "framework is required")
		return
	}

	mapping, err := h.client.MapToCode(r.Context(), req.Obligations, req.CodeContext, req.Framework)
	if err != nil {
		h.writeClientError(w, r, "map", err)
		return
	}

	writeJSON(w, http.StatusOK, mapping)
}

func (h *Handler) generate(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.Obligation.Summary == "" {
		apierror.WriteJSON(w, r, http.StatusBadRequest, apierror.InvalidRequest, "obligation.summary is required")
		return
	}
	if req.Language == "" {
		apierror.WriteJSON(w, r, http.StatusBadRequest, apierror.InvalidRequest, "language is required")
		return
	}

	files, err := h.client.GenerateCompliantCode(r.Context(), req.Obligation, req.Language, req.Framework)
	if err != nil {
		h.writeClientError(w, r, "generate", err)
		return
	}

	writeJSON(w, http.StatusOK, files)
}

func (h *Handler) notFound(w http.ResponseWriter, r *http.Request) {
	apierror.WriteJSON(w, r, http.StatusNotFound, apierror.NotFound, "no matching endpoint")
}

// instrument enforces POST, tracks in-flight gauge, and records request
// metrics with the final status code.
func (h *Handler) instrument(op string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			apierror.WriteJSON(w, r, http.StatusMethodNotAllowed, apierror.MethodNotAllowed, "use POST")
			return
		}

		metrics.ActiveRequests.Inc()
		defer metrics.ActiveRequests.Dec()

		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next(sw, r)

		metrics.RequestDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
		metrics.RequestsTotal.WithLabelValues(op, r.Method, strconv.Itoa(sw.status)).Inc()
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (sw *statusWriter) WriteHeader(code int) {
	sw.status = code
	sw.ResponseWriter.WriteHeader(code)
}

// decode parses the JSON request body into dst. Returns false after writing
// the error response when the body is invalid or too large.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	err := json.NewDecoder(r.Body).Decode(dst)
	if err == nil {
		return true
	}

	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		middleware.WriteBodyLimitError(w, r)
		return false
	}

	apierror.WriteJSON(w, r, http.StatusBadRequest, apierror.InvalidRequest, "invalid JSON request body")
	return false
}

// writeClientError maps the client error taxonomy onto HTTP responses.
// Provider auth failures surface as 502: the gateway's credentials are
// misconfigured, which is not the caller's fault.
func (h *Handler) writeClientError(w http.ResponseWriter, r *http.Request, op string, err error) {
	var ge *copilot.Error
	if errors.As(err, &ge) {
		switch ge.Kind {
		case copilot.KindCircuitOpen:
			apierror.WriteJSON(w, r, http.StatusServiceUnavailable, apierror.CircuitOpen, "circuit breaker open")
			return
		case copilot.KindTimeout:
			apierror.WriteJSON(w, r, http.StatusGatewayTimeout, apierror.ProviderTimeout, "provider call timed out")
			return
		case copilot.KindRateLimit:
			if ge.RetryAfter > 0 {
				secs := int(math.Ceil(ge.RetryAfter.Seconds()))
				w.Header().Set("Retry-After", strconv.Itoa(secs))
			}
			apierror.WriteJSON(w, r, http.StatusTooManyRequests, apierror.ProviderRateLimited, "provider rate limit exceeded")
			return
		case copilot.KindAuth:
			apierror.WriteJSON(w, r, http.StatusBadGateway, apierror.ProviderAuthFailed, "provider rejected gateway credentials")
			return
		case copilot.KindParse:
			h.logger.Error("malformed model output", "operation", op, "preview", ge.RawPreview)
			apierror.WriteJSON(w, r, http.StatusBadGateway, apierror.MalformedModelOutput, "model produced unparseable output")
			return
		case copilot.KindConnection:
			apierror.WriteJSON(w, r, http.StatusBadGateway, apierror.ProviderUnavailable, "LLM provider unavailable")
			return
		}
	}

	if errors.Is(err, copilot.ErrTooManyInFlight) {
		apierror.WriteJSON(w, r, http.StatusServiceUnavailable, apierror.TooManyInFlight, "too many concurrent requests, retry later")
		return
	}
	if errors.Is(err, copilot.ErrClientClosed) {
		apierror.WriteJSON(w, r, http.StatusServiceUnavailable, apierror.InternalError, "gateway shutting down")
		return
	}

	h.logger.Error("unclassified provider error", "operation", op, "error", err)
	apierror.WriteJSON(w, r, http.StatusInternalServerError, apierror.InternalError, "internal error")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}
