package domain

import "time"

// Config holds the complete FraudWatch configuration.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server"`

	// Tier determines default backends
	Tier Tier `json:"tier"`

	// Component configurations
	Repository  RepositoryConfig  `json:"repository"`
	Cache       CacheConfig       `json:"cache"`
	EventBus    EventBusConfig    `json:"eventBus"`
	Rules       RulesConfig       `json:"rules"`
	Suggestions SuggestionsConfig `json:"suggestions"`
	Advisor     AdvisorConfig     `json:"advisor"`
	Worker      WorkerConfig      `json:"worker"`

	// Blend weights for combining model and rule scores. Required.
	Blend BlendWeights `json:"blend"`

	// Observability
	Logging LoggingConfig `json:"logging"`
	Tracing TracingConfig `json:"tracing"`
	Metrics MetricsConfig `json:"metrics"`
}

// BlendWeights controls final = Model*modelScore + Rule*ruleScore.
type BlendWeights struct {
	Model float64 `json:"model"`
	Rule  float64 `json:"rule"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	ReadTimeout  int    `json:"readTimeout"`  // seconds
	WriteTimeout int    `json:"writeTimeout"` // seconds
}

// RulesConfig selects where the rule document lives.
type RulesConfig struct {
	// Source is "file" or "sql".
	Source string `json:"source"`
	// Path is the rule document for the file source (.json, .yaml or .yml).
	Path string `json:"path"`
	// Watch reloads the store when the file changes on disk.
	Watch bool `json:"watch"`
	// WatchDebounce coalesces bursts of file events.
	WatchDebounce time.Duration `json:"watchDebounce"`
}

// AdvisorConfig holds the reasoning service and scheduling settings.
type AdvisorConfig struct {
	BaseURL string        `json:"baseUrl"`
	APIKey  string        `json:"-"`
	Model   string        `json:"model"`
	Timeout time.Duration `json:"timeout"`
	// WindowSize is the default number of flagged decisions sampled per run.
	WindowSize int `json:"windowSize"`
	// Schedule is a cron expression for periodic runs. Empty disables it.
	Schedule string `json:"schedule"`
}

// WorkerConfig controls the asynchronous scoring worker.
type WorkerConfig struct {
	Enabled bool `json:"enabled"`
	// QueueGroup load-balances ingest events across nodes on NATS.
	QueueGroup string `json:"queueGroup"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled      bool    `json:"enabled"`
	ServiceName  string  `json:"serviceName"`
	ExporterType string  `json:"exporterType"` // otlp, none
	Endpoint     string  `json:"endpoint"`
	SampleRate   float64 `json:"sampleRate"`
}

// MetricsConfig holds Prometheus settings.
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// Tier represents the deployment tier.
type Tier string

const (
	// TierCommunity runs on SQLite + channels + in-memory cache
	TierCommunity Tier = "community"

	// TierPro runs on PostgreSQL + NATS + Redis
	TierPro Tier = "pro"
)

// DefaultConfig returns a default configuration for Community tier.
// Blend weights are left zero and must be supplied.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 90,
		},
		Tier: TierCommunity,
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./fraudwatch.db",
		},
		Cache: CacheConfig{
			Type:       "memory",
			EntryTTL:   24 * time.Hour,
			MaxEntries: 10000,
		},
		EventBus: EventBusConfig{
			Type:       "channel",
			BufferSize: 1000,
		},
		Rules: RulesConfig{
			Source:        "file",
			Path:          "./fraud_rules.json",
			Watch:         true,
			WatchDebounce: 250 * time.Millisecond,
		},
		Suggestions: SuggestionsConfig{
			Backend:  "file",
			Path:     "./suggestions.json",
			RedisKey: "fraudwatch:suggestions",
		},
		Advisor: AdvisorConfig{
			Timeout:    60 * time.Second,
			WindowSize: 100,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "fraudwatch",
			SampleRate:  1.0,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}

// ProConfig returns a configuration for Pro tier.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Tier = TierPro
	cfg.Repository = RepositoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "fraudwatch",
	}
	cfg.Cache = CacheConfig{
		Type:       "redis",
		EntryTTL:   24 * time.Hour,
		MaxEntries: 1000,
		RedisAddr:  "localhost:6379",
		Tiered:     true,
		LocalTTL:   2 * time.Second,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 2 * time.Second,
	}
	cfg.Rules.Source = "sql"
	cfg.Rules.Watch = false
	cfg.Suggestions.Backend = "sql"
	cfg.Worker = WorkerConfig{Enabled: true, QueueGroup: "fraudwatch-scorers"}
	cfg.Tracing.Enabled = true
	cfg.Tracing.ExporterType = "otlp"
	return cfg
}
