// Package main provides the translation API server entrypoint.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/elwassit-org/api-translation-wasslago/internal/app"
	"github.com/elwassit-org/api-translation-wasslago/internal/config"
	"github.com/elwassit-org/api-translation-wasslago/internal/observability"
)

func main() {
	// .env is optional
	_ = godotenv.Load()

	cfgPath := os.Getenv("CONFIG_PATH")
	if len(os.Args) > 2 && os.Args[1] == "--config" {
		cfgPath = os.Args[2]
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(observability.LogConfig{
		Level:       cfg.Observability.LogLevel,
		Format:      cfg.Observability.LogFormat,
		ServiceName: cfg.Observability.ServiceName,
	})

	logger.Info().
		Str("host", cfg.Server.Host).
		Int("port", cfg.Server.Port).
		Str("provider", cfg.Translation.Provider).
		Str("delivery_store", cfg.Delivery.Store).
		Msg("Starting translation API")

	application, err := app.New(cfg, nil, logger)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to initialize application")
		os.Exit(1)
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()
	application.Start(ctx)

	router := NewRouter(application, RouterConfig{
		RequestTimeout: cfg.Server.ReadTimeout,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		TempDir:        cfg.Jobs.TempDir,
		MaxUploadBytes: cfg.Server.MaxUploadBytes,
	})

	addr := cfg.Server.Addr()
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", addr).Msg("HTTP server listening")
		serverErrors <- srv.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("Server error")
		}
	case sig := <-shutdown:
		logger.Info().Str("signal", sig.String()).Msg("Shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulShutdown)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Graceful shutdown failed")
		if err := srv.Close(); err != nil {
			logger.Error().Err(err).Msg("Forced shutdown failed")
		}
	}

	stop()
	if err := application.Close(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Application shutdown incomplete")
	}

	logger.Info().Msg("Server stopped")
}
