package api

import (
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/kolscope/kolscope/internal/analyzer"
	"github.com/kolscope/kolscope/internal/logging"
	"github.com/kolscope/kolscope/internal/metrics"
	"github.com/kolscope/kolscope/internal/observability"
)

// Handler serves the HTTP API.
type Handler struct {
	cfg ServerConfig
}

// NewHandler creates an API handler.
func NewHandler(cfg ServerConfig) *Handler {
	return &Handler{cfg: cfg}
}

// RegisterRoutes registers all API routes on the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/analyze", h.handleAnalyze)
	mux.HandleFunc("GET /health", h.handleHealth)
	mux.Handle("GET /metrics", metrics.Handler())
}

// analyzeRequest is the JSON body of POST /api/analyze.
type analyzeRequest struct {
	Query        string `json:"query"`
	Language     string `json:"language,omitempty"`
	Mode         string `json:"mode,omitempty"`
	ForceRefresh bool   `json:"forceRefresh,omitempty"`
}

// errorResponse is the uniform error body. Kind is stable and machine
// readable; message is human readable and carries no internals.
type errorResponse struct {
	Error struct {
		Kind    string `json:"kind"`
		Message string `json:"message"`
	} `json:"error"`
}

func (h *Handler) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	requestID := uuid.NewString()
	trace.SpanFromContext(r.Context()).SetAttributes(observability.AttrRequestID.String(requestID))

	var body analyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, string(analyzer.KindInvalidInput), "request body must be JSON")
		return
	}

	req := analyzer.Request{
		Query:          body.Query,
		Language:       body.Language,
		Mode:           body.Mode,
		ForceRefresh:   body.ForceRefresh,
		ClientIdentity: clientIdentity(r),
	}

	resp, aerr := h.cfg.Analyzer.Analyze(r.Context(), req)

	entry := &logging.RequestLog{
		RequestID:  requestID,
		Query:      body.Query,
		Language:   req.Language,
		Mode:       req.Mode,
		Forced:     body.ForceRefresh,
		DurationMs: time.Since(start).Milliseconds(),
	}
	if sc := trace.SpanContextFromContext(r.Context()); sc.HasTraceID() {
		entry.TraceID = sc.TraceID().String()
	}

	if aerr != nil {
		entry.Success = false
		entry.ErrorKind = string(aerr.Kind)
		entry.Error = aerr.Message
		entry.RateLimited = aerr.Kind == analyzer.KindRateLimited
		logging.Default().Log(entry)

		status := statusFor(aerr.Kind)
		if aerr.Kind == analyzer.KindRateLimited && aerr.RetryAfter > 0 {
			secs := int(aerr.RetryAfter / time.Second)
			if secs < 1 {
				secs = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(secs))
		}
		writeError(w, status, string(aerr.Kind), aerr.Message)
		return
	}

	entry.Success = true
	entry.Source = resp.Source
	entry.Retries = resp.Retries
	logging.Default().Log(entry)

	w.Header().Set("X-Request-Id", requestID)
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := map[string]any{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	}
	status := http.StatusOK
	if h.cfg.Ping != nil {
		if err := h.cfg.Ping(); err != nil {
			// Degraded, not down: the cache and limiter tolerate store
			// outages, so the service still answers requests.
			health["status"] = "degraded"
			health["store"] = "unreachable"
		} else {
			health["store"] = "ok"
		}
	}
	writeJSON(w, status, health)
}

func statusFor(kind analyzer.ErrorKind) int {
	switch kind {
	case analyzer.KindInvalidInput:
		return http.StatusBadRequest
	case analyzer.KindRateLimited:
		return http.StatusTooManyRequests
	case analyzer.KindUpstreamUnavailable:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// clientIdentity extracts the caller's network identity. The first entry of
// X-Forwarded-For wins when present; the limiter hashes whatever we return,
// so the raw value never reaches storage.
func clientIdentity(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if i := strings.IndexByte(xff, ','); i >= 0 {
			return strings.TrimSpace(xff[:i])
		}
		return strings.TrimSpace(xff)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Op().Error("failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, kind, message string) {
	var body errorResponse
	body.Error.Kind = kind
	body.Error.Message = message
	writeJSON(w, status, body)
}
