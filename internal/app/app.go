// Package app wires the translation service from configuration. Both the
// HTTP server and the CLI build their object graph here.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/elwassit-org/api-translation-wasslago/internal/config"
	"github.com/elwassit-org/api-translation-wasslago/internal/delivery"
	"github.com/elwassit-org/api-translation-wasslago/internal/delivery/redisstore"
	"github.com/elwassit-org/api-translation-wasslago/internal/document"
	"github.com/elwassit-org/api-translation-wasslago/internal/document/fitzpdf"
	"github.com/elwassit-org/api-translation-wasslago/internal/document/plainpdf"
	"github.com/elwassit-org/api-translation-wasslago/internal/domain"
	"github.com/elwassit-org/api-translation-wasslago/internal/jobs"
	"github.com/elwassit-org/api-translation-wasslago/internal/observability"
	"github.com/elwassit-org/api-translation-wasslago/internal/pipeline"
	"github.com/elwassit-org/api-translation-wasslago/internal/provider/anthropic"
	"github.com/elwassit-org/api-translation-wasslago/internal/provider/openai"
	"github.com/elwassit-org/api-translation-wasslago/internal/translate"
)

// Engine detects and extracts PDFs.
type Engine interface {
	domain.Detector
	domain.Extractor
}

// App is the process-wide object graph. The registry, store and rate gate
// are shared by every job and connection.
type App struct {
	Config       *config.Config
	Logger       *observability.Logger
	Store        delivery.MessageStore
	Redis        *redisstore.Store // nil unless the redis store is configured
	Registry     *delivery.Registry
	Gate         *translate.RateGate
	Dispatcher   *translate.Dispatcher
	Engine       Engine
	Orchestrator *pipeline.Orchestrator
	Runner       *jobs.Runner
}

// New builds the application. The translator may be nil, in which case it is
// built from cfg.Translation.
func New(cfg *config.Config, translator domain.Translator, logger *observability.Logger) (*App, error) {
	if logger == nil {
		logger = observability.NewNop()
	}

	if translator == nil {
		var err error
		if translator, err = NewTranslator(cfg.Translation); err != nil {
			return nil, err
		}
	}

	store, redisStore, err := NewStore(cfg)
	if err != nil {
		return nil, err
	}

	registry := delivery.NewRegistry(store, delivery.Options{
		HeartbeatInterval: cfg.Delivery.HeartbeatInterval,
		StaleAfter:        cfg.Delivery.StaleAfter(),
		SweepInterval:     cfg.Delivery.SweepInterval,
		SendTimeout:       cfg.Delivery.SendTimeout,
		MaxAttempts:       cfg.Delivery.MaxAttempts,
		PendingTTL:        cfg.Delivery.PendingTTL,
	}, logger)

	gate := translate.NewRateGate(cfg.Translation.RequestsPerMinute, cfg.Translation.RateWindow)
	dispatcher := translate.NewDispatcher(translator, gate, logger,
		translate.WithRetryPolicy(translate.RetryPolicy{
			MaxAttempts: cfg.Translation.MaxAttempts,
			BaseBackoff: cfg.Translation.BackoffBase,
			MaxBackoff:  cfg.Translation.BackoffMax,
			Jitter:      translate.DefaultRetryPolicy().Jitter,
		}),
		translate.WithAttemptTimeout(cfg.Translation.RequestTimeout),
	)

	engine := NewEngine(cfg.Extraction, logger)
	orchestrator := pipeline.New(pipeline.Dependencies{
		Detector:      engine,
		Extractor:     engine,
		Anonymizer:    document.NewRegexAnonymizer(),
		Reconstructor: document.NewTipTapReconstructor(),
		Translator:    dispatcher,
		Notifier:      registry,
	}, pipeline.Options{
		ChunkMaxChars: cfg.Translation.ChunkMaxChars,
		ProgressStep:  cfg.Jobs.ProgressStep,
	}, logger)

	logger.Info().
		Str("provider", cfg.Translation.Provider).
		Str("model", cfg.Translation.Model).
		Int("requests_per_minute", cfg.Translation.RequestsPerMinute).
		Str("delivery_store", cfg.Delivery.Store).
		Str("extraction_engine", cfg.Extraction.Engine).
		Msg("Application wired")

	return &App{
		Config:       cfg,
		Logger:       logger,
		Store:        store,
		Redis:        redisStore,
		Registry:     registry,
		Gate:         gate,
		Dispatcher:   dispatcher,
		Engine:       engine,
		Orchestrator: orchestrator,
		Runner:       jobs.NewRunner(orchestrator, cfg.Jobs.MaxConcurrent, logger),
	}, nil
}

// NewTranslator builds the configured provider client.
func NewTranslator(cfg config.TranslationConfig) (domain.Translator, error) {
	if cfg.APIKey == "" {
		return nil, domain.ConfigError("translation API key is not set", nil)
	}

	switch cfg.Provider {
	case "anthropic":
		return anthropic.NewClient(anthropic.Options{
			APIKey:  cfg.APIKey,
			BaseURL: cfg.BaseURL,
			Model:   cfg.Model,
		}), nil
	case "openai", "":
		return openai.NewClient(openai.Options{
			APIKey:  cfg.APIKey,
			BaseURL: cfg.BaseURL,
			Model:   cfg.Model,
		}), nil
	default:
		return nil, domain.ConfigError(fmt.Sprintf("unknown translation provider %q", cfg.Provider), nil)
	}
}

// NewStore builds the configured pending message store. The second result
// is set when the store is Redis-backed.
func NewStore(cfg *config.Config) (delivery.MessageStore, *redisstore.Store, error) {
	switch cfg.Delivery.Store {
	case "redis":
		store, err := redisstore.New(redisstore.Config{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			Prefix:     cfg.Redis.Prefix,
			MaxPending: cfg.Delivery.MaxPending,
			KeyTTL:     2 * cfg.Delivery.PendingTTL,
		})
		if err != nil {
			return nil, nil, domain.ConfigError("failed to connect to redis", err)
		}
		return store, store, nil
	case "memory", "":
		return delivery.NewMemoryStore(cfg.Delivery.MaxPending), nil, nil
	default:
		return nil, nil, domain.ConfigError(fmt.Sprintf("unknown delivery store %q", cfg.Delivery.Store), nil)
	}
}

// NewEngine builds the configured PDF engine.
func NewEngine(cfg config.ExtractionConfig, logger *observability.Logger) Engine {
	if cfg.Engine == "pdf" {
		return plainpdf.New(plainpdf.Options{
			DigitalThreshold: cfg.DigitalTextThreshold,
			MinPageText:      cfg.MinPageText,
		}, logger)
	}
	return fitzpdf.New(fitzpdf.Options{
		DigitalThreshold: cfg.DigitalTextThreshold,
		MinPageText:      cfg.MinPageText,
	}, logger)
}

// Start launches background maintenance. It returns immediately.
func (a *App) Start(ctx context.Context) {
	go a.Registry.Run(ctx)
}

// Ready reports whether the service can accept work.
func (a *App) Ready(ctx context.Context) error {
	if a.Redis == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return a.Redis.Ping(ctx)
}

// Close stops jobs, closes every channel and releases the store.
func (a *App) Close(ctx context.Context) error {
	err := a.Runner.Shutdown(ctx)
	a.Registry.CloseAll()
	return errors.Join(err, a.Store.Close())
}
