package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
)

// statusRecorder captures the response status for logging and metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// requireAPIKey gates administrative and authorization endpoints on the
// shared X-Api-Key secret.
func (h *Handler) requireAPIKey(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if strings.TrimSpace(h.cfg.APIKey) == "" {
			respondError(w, r, http.StatusInternalServerError, errorPayload{Code: "API_KEY_NOT_CONFIGURED"})
			return
		}
		provided := strings.TrimSpace(r.Header.Get("X-Api-Key"))
		if provided == "" || provided != h.cfg.APIKey {
			respondError(w, r, http.StatusUnauthorized, errorPayload{Code: "INVALID_API_KEY"})
			return
		}
		next(w, r)
	}
}

// instrument wraps a handler with request logging and per-endpoint metrics.
// Secrets never reach the log: only method, route, status, duration and a
// generated request id are recorded.
func (h *Handler) instrument(endpoint string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		timer := prometheus.NewTimer(httpLatency.WithLabelValues(r.Method, endpoint))
		defer timer.ObserveDuration()

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next(rec, r)

		httpReqTotal.WithLabelValues(r.Method, endpoint, strconv.Itoa(rec.status)).Inc()

		level := h.log.Info
		if rec.status >= 500 {
			level = h.log.Error
		} else if rec.status >= 400 {
			level = h.log.Warn
		}
		level("request",
			"req_id", uuid.NewString(),
			"method", r.Method,
			"endpoint", endpoint,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
}
