package handlers

import (
	"context"
	"net/http"
)

// HealthHandler serves liveness and readiness probes.
type HealthHandler struct {
	service string
	ready   func(ctx context.Context) error
}

// NewHealthHandler creates a health handler. ready may be nil.
func NewHealthHandler(service string, ready func(ctx context.Context) error) *HealthHandler {
	return &HealthHandler{service: service, ready: ready}
}

// Health handles GET /health.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy", "service": h.service})
}

// Ready handles GET /ready.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.ready != nil {
		if err := h.ready(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, "not ready", err.Error())
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
