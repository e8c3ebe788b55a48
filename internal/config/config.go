// Package config loads FraudWatch configuration from the environment.
//
// Values start from domain.DefaultConfig (or domain.ProConfig when
// FW_TIER=pro) and are overridden by FW_* variables. A .env file in the
// working directory is loaded first when present.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/opensource-finance/fraudwatch/internal/domain"
	"github.com/robfig/cron/v3"
)

// Load reads .env (if present) and the process environment.
func Load() (*domain.Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()
	return FromEnv()
}

// FromEnv builds and validates a configuration from the process environment.
func FromEnv() (*domain.Config, error) {
	cfg := domain.DefaultConfig()
	if strings.EqualFold(os.Getenv("FW_TIER"), string(domain.TierPro)) {
		cfg = domain.ProConfig()
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// env reads typed overrides and collects parse errors.
type env struct {
	errs []error
}

func (e *env) str(key string, dst *string) {
	if val := os.Getenv(key); val != "" {
		*dst = val
	}
}

func (e *env) integer(key string, dst *int) {
	val := os.Getenv(key)
	if val == "" {
		return
	}
	i, err := strconv.Atoi(val)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %q is not an integer", key, val))
		return
	}
	*dst = i
}

func (e *env) float(key string, dst *float64) {
	val := os.Getenv(key)
	if val == "" {
		return
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %q is not a number", key, val))
		return
	}
	*dst = f
}

func (e *env) boolean(key string, dst *bool) {
	val := os.Getenv(key)
	if val == "" {
		return
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %q is not a boolean", key, val))
		return
	}
	*dst = b
}

func (e *env) duration(key string, dst *time.Duration) {
	val := os.Getenv(key)
	if val == "" {
		return
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %q is not a duration", key, val))
		return
	}
	*dst = d
}

func applyEnvOverrides(cfg *domain.Config) error {
	e := &env{}

	// Server
	e.str("FW_HOST", &cfg.Server.Host)
	e.integer("FW_PORT", &cfg.Server.Port)
	e.integer("FW_READ_TIMEOUT", &cfg.Server.ReadTimeout)
	e.integer("FW_WRITE_TIMEOUT", &cfg.Server.WriteTimeout)

	// Repository
	e.str("FW_DB_DRIVER", &cfg.Repository.Driver)
	e.str("FW_SQLITE_PATH", &cfg.Repository.SQLitePath)
	e.str("FW_POSTGRES_HOST", &cfg.Repository.PostgresHost)
	e.integer("FW_POSTGRES_PORT", &cfg.Repository.PostgresPort)
	e.str("FW_POSTGRES_USER", &cfg.Repository.PostgresUser)
	e.str("FW_POSTGRES_PASSWORD", &cfg.Repository.PostgresPassword)
	e.str("FW_POSTGRES_DB", &cfg.Repository.PostgresDB)
	e.str("FW_POSTGRES_SSLMODE", &cfg.Repository.PostgresSSLMode)
	e.str("FW_DATABASE_URL", &cfg.Repository.PostgresDSN)

	// Cache
	e.str("FW_CACHE_TYPE", &cfg.Cache.Type)
	e.duration("FW_CACHE_TTL", &cfg.Cache.EntryTTL)
	e.integer("FW_CACHE_MAX_ENTRIES", &cfg.Cache.MaxEntries)
	e.boolean("FW_CACHE_TIERED", &cfg.Cache.Tiered)
	e.str("FW_REDIS_ADDR", &cfg.Cache.RedisAddr)
	e.str("FW_REDIS_PASSWORD", &cfg.Cache.RedisPassword)
	e.integer("FW_REDIS_DB", &cfg.Cache.RedisDB)

	// Event bus
	e.str("FW_BUS_TYPE", &cfg.EventBus.Type)
	e.integer("FW_BUS_BUFFER", &cfg.EventBus.BufferSize)
	e.str("FW_NATS_URL", &cfg.EventBus.NATSUrl)
	e.str("FW_NATS_TOKEN", &cfg.EventBus.NATSToken)

	// Rules
	e.str("FW_RULES_SOURCE", &cfg.Rules.Source)
	e.str("FW_RULES_PATH", &cfg.Rules.Path)
	e.boolean("FW_RULES_WATCH", &cfg.Rules.Watch)
	e.duration("FW_RULES_WATCH_DEBOUNCE", &cfg.Rules.WatchDebounce)

	// Suggestions
	e.str("FW_SUGGESTIONS_BACKEND", &cfg.Suggestions.Backend)
	e.str("FW_SUGGESTIONS_PATH", &cfg.Suggestions.Path)
	e.str("FW_SUGGESTIONS_REDIS_KEY", &cfg.Suggestions.RedisKey)

	// Blend weights
	e.float("FW_BLEND_MODEL", &cfg.Blend.Model)
	e.float("FW_BLEND_RULE", &cfg.Blend.Rule)

	// Advisor
	e.str("FW_LLM_BASE_URL", &cfg.Advisor.BaseURL)
	e.str("FW_LLM_API_KEY", &cfg.Advisor.APIKey)
	e.str("FW_LLM_MODEL", &cfg.Advisor.Model)
	e.duration("FW_ADVISOR_TIMEOUT", &cfg.Advisor.Timeout)
	e.integer("FW_ADVISOR_WINDOW", &cfg.Advisor.WindowSize)
	e.str("FW_ADVISOR_SCHEDULE", &cfg.Advisor.Schedule)

	// Worker
	e.boolean("FW_ASYNC_WORKER", &cfg.Worker.Enabled)
	e.str("FW_WORKER_QUEUE_GROUP", &cfg.Worker.QueueGroup)

	// Observability
	e.str("FW_LOG_LEVEL", &cfg.Logging.Level)
	e.str("FW_LOG_FORMAT", &cfg.Logging.Format)
	e.boolean("FW_TRACING_ENABLED", &cfg.Tracing.Enabled)
	e.str("FW_TRACING_EXPORTER", &cfg.Tracing.ExporterType)
	e.str("FW_OTLP_ENDPOINT", &cfg.Tracing.Endpoint)
	e.float("FW_TRACE_SAMPLE_RATE", &cfg.Tracing.SampleRate)
	e.boolean("FW_METRICS_ENABLED", &cfg.Metrics.Enabled)
	e.str("FW_METRICS_PATH", &cfg.Metrics.Path)

	return errors.Join(e.errs...)
}

// Validate checks that the configuration can start a node.
func Validate(cfg *domain.Config) error {
	var errs []error

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server port %d is out of range", cfg.Server.Port))
	}

	switch cfg.Repository.Driver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Errorf("unsupported repository driver: %q", cfg.Repository.Driver))
	}

	switch cfg.Rules.Source {
	case "file":
		if cfg.Rules.Path == "" {
			errs = append(errs, errors.New("FW_RULES_PATH is required for the file rule source"))
		}
	case "sql":
	default:
		errs = append(errs, fmt.Errorf("unsupported rule source: %q", cfg.Rules.Source))
	}

	switch cfg.Suggestions.Backend {
	case "file":
		if cfg.Suggestions.Path == "" {
			errs = append(errs, errors.New("FW_SUGGESTIONS_PATH is required for the file backend"))
		}
	case "sql", "memory":
	case "redis":
		if cfg.Suggestions.RedisKey == "" {
			errs = append(errs, errors.New("FW_SUGGESTIONS_REDIS_KEY is required for the redis backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported suggestions backend: %q", cfg.Suggestions.Backend))
	}

	b := cfg.Blend
	switch {
	case b.Model < 0 || b.Rule < 0:
		errs = append(errs, errors.New("blend weights must be non-negative"))
	case b.Model == 0 && b.Rule == 0:
		errs = append(errs, errors.New("FW_BLEND_MODEL and FW_BLEND_RULE are required"))
	}

	if cfg.Advisor.BaseURL != "" && cfg.Advisor.Model == "" {
		errs = append(errs, errors.New("FW_LLM_MODEL is required when FW_LLM_BASE_URL is set"))
	}
	if cfg.Advisor.Timeout <= 0 {
		errs = append(errs, errors.New("advisor timeout must be positive"))
	}
	if cfg.Advisor.WindowSize <= 0 {
		errs = append(errs, errors.New("advisor window must be positive"))
	}
	if cfg.Advisor.Schedule != "" {
		if _, err := cron.ParseStandard(cfg.Advisor.Schedule); err != nil {
			errs = append(errs, fmt.Errorf("invalid advisor schedule %q: %w", cfg.Advisor.Schedule, err))
		}
	}

	if _, err := ParseLevel(cfg.Logging.Level); err != nil {
		errs = append(errs, err)
	}
	switch cfg.Logging.Format {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("unsupported log format: %q", cfg.Logging.Format))
	}

	if cfg.Tracing.SampleRate < 0 || cfg.Tracing.SampleRate > 1 {
		errs = append(errs, errors.New("trace sample rate must be within [0,1]"))
	}

	return errors.Join(errs...)
}

// ParseLevel maps a level name to a slog level.
func ParseLevel(level string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return slog.LevelInfo, fmt.Errorf("unsupported log level: %q", level)
	}
	return l, nil
}

// NewLogger builds the process logger from the logging section.
func NewLogger(cfg domain.LoggingConfig) *slog.Logger {
	level, _ := ParseLevel(cfg.Level)
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}
