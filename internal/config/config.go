// Package config provides unified configuration loading for the translation service.
// Supports YAML files, environment variables, and programmatic overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the translation service.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Translation   TranslationConfig   `yaml:"translation"`
	Delivery      DeliveryConfig      `yaml:"delivery"`
	Redis         RedisConfig         `yaml:"redis"`
	Jobs          JobsConfig          `yaml:"jobs"`
	Extraction    ExtractionConfig    `yaml:"extraction"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host             string        `yaml:"host"`
	Port             int           `yaml:"port"`
	ReadTimeout      time.Duration `yaml:"read_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	IdleTimeout      time.Duration `yaml:"idle_timeout"`
	GracefulShutdown time.Duration `yaml:"graceful_shutdown"`
	MaxUploadBytes   int64         `yaml:"max_upload_bytes"`
	AllowedOrigins   []string      `yaml:"allowed_origins"`
}

// TranslationConfig holds the translation provider and dispatcher settings.
type TranslationConfig struct {
	Provider          string        `yaml:"provider"` // openai or anthropic
	Model             string        `yaml:"model"`
	BaseURL           string        `yaml:"base_url"`
	APIKey            string        `yaml:"api_key"`
	RequestsPerMinute int           `yaml:"requests_per_minute"`
	RateWindow        time.Duration `yaml:"rate_window"`
	RequestTimeout    time.Duration `yaml:"request_timeout"`
	MaxAttempts       int           `yaml:"max_attempts"`
	BackoffBase       time.Duration `yaml:"backoff_base"`
	BackoffMax        time.Duration `yaml:"backoff_max"`
	ChunkMaxChars     int           `yaml:"chunk_max_chars"`
}

// DeliveryConfig holds channel registry and pending store settings.
type DeliveryConfig struct {
	Store             string        `yaml:"store"` // memory or redis
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	StaleMultiplier   int           `yaml:"stale_multiplier"`
	SweepInterval     time.Duration `yaml:"sweep_interval"`
	SendTimeout       time.Duration `yaml:"send_timeout"`
	MaxPending        int           `yaml:"max_pending"`
	MaxAttempts       int           `yaml:"max_attempts"`
	PendingTTL        time.Duration `yaml:"pending_ttl"`
}

// RedisConfig holds Redis-specific settings.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
	Prefix   string `yaml:"prefix"`
}

// JobsConfig holds job runner settings.
type JobsConfig struct {
	MaxConcurrent int    `yaml:"max_concurrent"`
	TempDir       string `yaml:"temp_dir"`

	// ProgressStep sends a translating notification every ProgressStep
	// chunks. Zero sends roughly ten per document.
	ProgressStep int `yaml:"progress_step"`
}

// ExtractionConfig holds document extraction settings.
type ExtractionConfig struct {
	Engine               string  `yaml:"engine"` // fitz or pdf
	DigitalTextThreshold float64 `yaml:"digital_text_threshold"`
	MinPageText          int     `yaml:"min_page_text"`
}

// ObservabilityConfig holds logging settings.
type ObservabilityConfig struct {
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"`
	ServiceName string `yaml:"service_name"`
}

// Load reads configuration from a YAML file and applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns a configuration with sensible defaults for development.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:             "0.0.0.0",
			Port:             8000,
			ReadTimeout:      30 * time.Second,
			WriteTimeout:     30 * time.Second,
			IdleTimeout:      120 * time.Second,
			GracefulShutdown: 10 * time.Second,
			MaxUploadBytes:   50 << 20,
			AllowedOrigins:   []string{"http://localhost:3000"},
		},
		Translation: TranslationConfig{
			Provider:          "openai",
			Model:             "google/gemini-2.5-flash",
			BaseURL:           "https://openrouter.ai/api/v1",
			RequestsPerMinute: 14,
			RateWindow:        time.Minute,
			RequestTimeout:    30 * time.Second,
			MaxAttempts:       3,
			BackoffBase:       time.Second,
			BackoffMax:        60 * time.Second,
			ChunkMaxChars:     1000,
		},
		Delivery: DeliveryConfig{
			Store:             "memory",
			HeartbeatInterval: 30 * time.Second,
			StaleMultiplier:   3,
			SweepInterval:     60 * time.Second,
			SendTimeout:       10 * time.Second,
			MaxPending:        50,
			MaxAttempts:       3,
			PendingTTL:        300 * time.Second,
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			DB:       0,
			PoolSize: 10,
			Prefix:   "wasslago:",
		},
		Jobs: JobsConfig{
			MaxConcurrent: 4,
			TempDir:       os.TempDir(),
		},
		Extraction: ExtractionConfig{
			Engine:               "fitz",
			DigitalTextThreshold: 0.9,
			MinPageText:          50,
		},
		Observability: ObservabilityConfig{
			LogLevel:    "info",
			LogFormat:   "json",
			ServiceName: "wasslago",
		},
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Translation.Provider != "openai" && c.Translation.Provider != "anthropic" {
		return fmt.Errorf("invalid translation provider: %s", c.Translation.Provider)
	}

	if c.Translation.RequestsPerMinute < 1 {
		return fmt.Errorf("requests_per_minute must be positive")
	}

	if c.Translation.MaxAttempts < 1 {
		return fmt.Errorf("translation max_attempts must be positive")
	}

	if c.Translation.ChunkMaxChars < 1 {
		return fmt.Errorf("chunk_max_chars must be positive")
	}

	if c.Delivery.Store != "memory" && c.Delivery.Store != "redis" {
		return fmt.Errorf("invalid delivery store: %s", c.Delivery.Store)
	}

	if c.Delivery.MaxPending < 1 {
		return fmt.Errorf("max_pending must be positive")
	}

	if c.Delivery.StaleMultiplier < 1 {
		return fmt.Errorf("stale_multiplier must be positive")
	}

	if c.Jobs.ProgressStep < 0 {
		return fmt.Errorf("progress_step must not be negative")
	}

	if c.Extraction.Engine != "fitz" && c.Extraction.Engine != "pdf" {
		return fmt.Errorf("invalid extraction engine: %s", c.Extraction.Engine)
	}

	return nil
}

// StaleAfter returns the heartbeat age after which a channel is evicted.
func (d DeliveryConfig) StaleAfter() time.Duration {
	return time.Duration(d.StaleMultiplier) * d.HeartbeatInterval
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}

	if v := os.Getenv("SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}

	if v := os.Getenv("TRANSLATION_PROVIDER"); v != "" {
		cfg.Translation.Provider = v
	}

	if v := os.Getenv("TRANSLATION_MODEL"); v != "" {
		cfg.Translation.Model = v
	}

	if v := os.Getenv("TRANSLATION_BASE_URL"); v != "" {
		cfg.Translation.BaseURL = v
	}

	// Provider-specific keys first, the generic one wins.
	switch cfg.Translation.Provider {
	case "anthropic":
		if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
			cfg.Translation.APIKey = v
		}
	default:
		if v := os.Getenv("OPENROUTER_API_KEY"); v != "" {
			cfg.Translation.APIKey = v
		}
	}
	if v := os.Getenv("TRANSLATION_API_KEY"); v != "" {
		cfg.Translation.APIKey = v
	}

	if v := os.Getenv("TRANSLATION_RPM"); v != "" {
		if rpm, err := strconv.Atoi(v); err == nil {
			cfg.Translation.RequestsPerMinute = rpm
		}
	}

	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Delivery.Store = "redis"
		cfg.Redis.Addr = strings.TrimPrefix(v, "redis://")
	}

	if v := os.Getenv("DELIVERY_STORE"); v != "" {
		cfg.Delivery.Store = v
	}

	if v := os.Getenv("TEMP_FOLDER"); v != "" {
		cfg.Jobs.TempDir = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Observability.LogLevel = v
	}

	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Observability.LogFormat = v
	}
}
