package http

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync/atomic"

	"github.com/archon-research/dca/internal/ports/inbound"
)

// HealthHandler serves readiness and liveness probes.
//
// Endpoints:
//   - /health/ready  - 200 once the service has completed its first sweep or poll
//   - /health/live   - 200 while sweeps keep completing
//   - /health        - combined status for monitoring
//
// All three report 503 once shuttingDown is set, so the load balancer drains
// the task before it exits.
type HealthHandler struct {
	checker      inbound.HealthChecker
	shuttingDown *atomic.Bool
	logger       *slog.Logger
}

// NewHealthHandler creates a health handler. A nil shuttingDown is treated as
// never shutting down.
func NewHealthHandler(checker inbound.HealthChecker, shuttingDown *atomic.Bool, logger *slog.Logger) *HealthHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if shuttingDown == nil {
		shuttingDown = &atomic.Bool{}
	}
	return &HealthHandler{
		checker:      checker,
		shuttingDown: shuttingDown,
		logger:       logger.With("component", "health"),
	}
}

// RegisterRoutes registers the probe routes with the given mux.
func (hh *HealthHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health/ready", hh.handleReady)
	mux.HandleFunc("GET /health/live", hh.handleLive)
	mux.HandleFunc("GET /health", hh.handleHealth)
}

func (hh *HealthHandler) handleReady(w http.ResponseWriter, _ *http.Request) {
	switch {
	case hh.shuttingDown.Load():
		hh.respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "shutting_down"})
	case hh.checker.IsReady():
		hh.respondJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	default:
		hh.respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not_ready"})
	}
}

func (hh *HealthHandler) handleLive(w http.ResponseWriter, _ *http.Request) {
	switch {
	case hh.shuttingDown.Load():
		hh.respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "shutting_down"})
	case hh.checker.IsHealthy():
		hh.respondJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
	default:
		hh.respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy"})
	}
}

func (hh *HealthHandler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	if hh.shuttingDown.Load() {
		hh.respondJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status":       "shutting_down",
			"ready":        false,
			"healthy":      false,
			"shuttingDown": true,
		})
		return
	}

	ready := hh.checker.IsReady()
	healthy := hh.checker.IsHealthy()
	status, code := "ok", http.StatusOK
	if !ready || !healthy {
		status, code = "degraded", http.StatusServiceUnavailable
	}
	hh.respondJSON(w, code, map[string]any{
		"status":       status,
		"ready":        ready,
		"healthy":      healthy,
		"shuttingDown": false,
	})
}

func (hh *HealthHandler) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		hh.logger.Error("failed to encode JSON response", "error", err)
	}
}
