package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"golang.org/x/net/websocket"

	"github.com/elwassit-org/api-translation-wasslago/internal/delivery"
	"github.com/elwassit-org/api-translation-wasslago/internal/delivery/wschannel"
	"github.com/elwassit-org/api-translation-wasslago/internal/observability"
)

// ChannelHandler upgrades clients to the websocket notification channel.
type ChannelHandler struct {
	logger      *observability.Logger
	registry    *delivery.Registry
	allowOrigin func(origin string) bool
}

// NewChannelHandler creates a channel handler. Client frames refresh the
// heartbeat, but a client that only listens stays connected as long as
// notifications and heartbeats reach it.
func NewChannelHandler(logger *observability.Logger, registry *delivery.Registry, allowOrigin func(string) bool) *ChannelHandler {
	return &ChannelHandler{
		logger:      logger.WithOperation("channel"),
		registry:    registry,
		allowOrigin: allowOrigin,
	}
}

// ServeHTTP handles GET /api/ws/{userID}.
func (h *ChannelHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required", "")
		return
	}

	srv := websocket.Server{
		Handshake: h.handshake,
		Handler:   func(ws *websocket.Conn) { h.serve(r.Context(), userID, ws) },
	}
	srv.ServeHTTP(w, r)
}

func (h *ChannelHandler) handshake(cfg *websocket.Config, r *http.Request) error {
	origin := r.Header.Get("Origin")
	if h.allowOrigin != nil && origin != "" && !h.allowOrigin(origin) {
		return errors.New("origin not allowed")
	}
	if loc, err := websocket.Origin(cfg, r); err == nil {
		cfg.Origin = loc
	}
	return nil
}

func (h *ChannelHandler) serve(ctx context.Context, userID string, ws *websocket.Conn) {
	log := h.logger.WithIdentity(userID)
	conn := wschannel.New(ws)

	flushed := h.registry.Connect(ctx, userID, conn)
	log.Info().Int("flushed", flushed).Msg("Client connected")

	defer func() {
		if h.registry.DisconnectChannel(userID, conn) {
			log.Info().Msg("Client disconnected")
		}
		_ = conn.Close(delivery.CloseNormal, "bye")
	}()

	for {
		if _, err := conn.Receive(); err != nil {
			if !errors.Is(err, io.EOF) {
				log.Debug().Err(err).Msg("Channel read ended")
			}
			return
		}
		h.registry.Touch(userID)
	}
}
