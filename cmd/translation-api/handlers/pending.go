package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/elwassit-org/api-translation-wasslago/internal/delivery"
	"github.com/elwassit-org/api-translation-wasslago/internal/observability"
)

// PendingHandler serves the polling fallback for undelivered notifications.
type PendingHandler struct {
	logger   *observability.Logger
	registry *delivery.Registry
}

// NewPendingHandler creates a pending handler.
func NewPendingHandler(logger *observability.Logger, registry *delivery.Registry) *PendingHandler {
	return &PendingHandler{logger: logger.WithOperation("pending"), registry: registry}
}

// PendingResponseDTO is the body of GET /api/pending/{userID}.
type PendingResponseDTO struct {
	Messages []delivery.PendingMessage `json:"messages"`
	Count    int                       `json:"count"`
}

// List handles GET /api/pending/{userID}.
func (h *PendingHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	msgs, err := h.registry.GetPending(r.Context(), userID)
	if err != nil {
		h.logger.Error().Err(err).Str("identity", userID).Msg("Failed to list pending messages")
		writeError(w, http.StatusInternalServerError, "failed to list pending messages", err.Error())
		return
	}
	if msgs == nil {
		msgs = []delivery.PendingMessage{}
	}
	writeJSON(w, http.StatusOK, PendingResponseDTO{Messages: msgs, Count: len(msgs)})
}

// Clear handles DELETE /api/pending/{userID}.
func (h *PendingHandler) Clear(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	n, err := h.registry.ClearPending(r.Context(), userID)
	if err != nil {
		h.logger.Error().Err(err).Str("identity", userID).Msg("Failed to clear pending messages")
		writeError(w, http.StatusInternalServerError, "failed to clear pending messages", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"cleared": n})
}
