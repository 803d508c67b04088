package api

import (
	"context"
	"net/http"
	"time"
)

// readyTimeout bounds the dependency probes of /ready.
const readyTimeout = 5 * time.Second

// HealthChecker reports dependency health for the readiness probe.
type HealthChecker interface {
	StorePing(ctx context.Context) error
	CachePing(ctx context.Context) error
}

// HealthHandler serves the liveness and readiness probes.
type HealthHandler struct {
	checker HealthChecker
}

// NewHealthHandler creates a HealthHandler. checker may be nil, in which
// case /ready only reports process liveness.
func NewHealthHandler(checker HealthChecker) *HealthHandler {
	return &HealthHandler{checker: checker}
}

// RegisterRoutes registers the probe routes.
func (h *HealthHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.handleHealth)
	mux.HandleFunc("GET /ready", h.handleReady)
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

func (h *HealthHandler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok"})
}

func (h *HealthHandler) handleReady(w http.ResponseWriter, r *http.Request) {
	if h.checker == nil {
		writeJSON(w, http.StatusOK, healthResponse{Status: "ok"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()

	checks := make(map[string]string, 2)
	status := http.StatusOK

	if err := h.checker.StorePing(ctx); err != nil {
		checks["store"] = err.Error()
		status = http.StatusServiceUnavailable
	} else {
		checks["store"] = "ok"
	}

	if err := h.checker.CachePing(ctx); err != nil {
		checks["cache"] = err.Error()
		status = http.StatusServiceUnavailable
	} else {
		checks["cache"] = "ok"
	}

	state := "ok"
	if status != http.StatusOK {
		state = "degraded"
	}
	writeJSON(w, status, healthResponse{Status: state, Checks: checks})
}
