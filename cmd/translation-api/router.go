// Package main provides the API router setup.
package main

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/elwassit-org/api-translation-wasslago/cmd/translation-api/handlers"
	"github.com/elwassit-org/api-translation-wasslago/cmd/translation-api/middleware"
	"github.com/elwassit-org/api-translation-wasslago/internal/app"
)

// RouterConfig holds HTTP surface settings.
type RouterConfig struct {
	RequestTimeout time.Duration
	AllowedOrigins []string
	TempDir        string
	MaxUploadBytes int64
}

// NewRouter creates the main API router with all routes configured.
func NewRouter(a *app.App, cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(middleware.TraceID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(cfg.AllowedOrigins))

	health := handlers.NewHealthHandler(a.Config.Observability.ServiceName, a.Ready)
	documents := handlers.NewDocumentHandler(a.Logger, a.Runner, a.Registry, handlers.DocumentConfig{
		TempDir:        cfg.TempDir,
		MaxUploadBytes: cfg.MaxUploadBytes,
	})
	pending := handlers.NewPendingHandler(a.Logger, a.Registry)
	channel := handlers.NewChannelHandler(a.Logger, a.Registry, func(origin string) bool {
		return middleware.OriginAllowed(cfg.AllowedOrigins, origin)
	})

	r.Get("/health", health.Health)
	r.Get("/ready", health.Ready)

	r.Route("/api", func(r chi.Router) {
		// long-lived, so outside the request timeout
		r.Get("/ws/{userID}", channel.ServeHTTP)

		r.Group(func(r chi.Router) {
			r.Use(chimiddleware.Timeout(cfg.RequestTimeout))

			r.Post("/process-pdf/", documents.ProcessPDF)
			r.Delete("/jobs/{docID}", documents.CancelJob)
			r.Get("/pending/{userID}", pending.List)
			r.Delete("/pending/{userID}", pending.Clear)
		})
	})

	return r
}
