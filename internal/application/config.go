package application

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ahrav/castrank/internal/domain"
	"github.com/ahrav/castrank/internal/ports"
)

// EnvPrefix prefixes every environment variable that overrides a file
// setting, for example CASTRANK_STORE_BACKEND.
const EnvPrefix = "CASTRANK_"

// Config is the complete process configuration and the primary
// configuration entry point for the pipeline.
// Use LoadConfig to obtain a validated instance; the zero value is not
// usable.
type Config struct {
	// Service names the process in logs, traces and metrics.
	Service string `yaml:"service" validate:"required,min=1,max=100"`
	// Log controls the structured logger.
	Log LogConfig `yaml:"log"`
	// Store selects and configures the shared document store.
	Store StoreConfig `yaml:"store"`
	// Collections maps logical collections to stored collection names.
	Collections CollectionsConfig `yaml:"collections"`
	// Ranking configures leaderboard aggregation.
	Ranking RankingConfig `yaml:"ranking"`
	// Notifications configures social fan-out.
	Notifications NotificationConfig `yaml:"notifications"`
	// Metrics configures the Prometheus endpoint.
	Metrics MetricsConfig `yaml:"metrics"`
}

// LogConfig selects the level and encoding of log records.
type LogConfig struct {
	Level  string `yaml:"level" validate:"required,oneof=debug info warn error"`
	Format string `yaml:"format" validate:"required,oneof=json text"`
}

// StoreConfig describes the document store backend and the middleware
// wrapped around it.
type StoreConfig struct {
	// Backend selects the store implementation.
	Backend string `yaml:"backend" validate:"required,storebackend"`
	// Timeout bounds every individual store call; zero disables it.
	Timeout time.Duration `yaml:"timeout" validate:"min=0"`
	// RateLimit caps store calls per second; zero disables limiting.
	RateLimit float64 `yaml:"rate_limit" validate:"min=0"`
	// Burst is the token bucket size used with RateLimit.
	Burst int `yaml:"burst" validate:"min=0,max=10000"`
	// Retry re-attempts calls that failed with a transient error.
	Retry RetryConfig `yaml:"retry"`
	// CircuitBreaker fails fast while the backend keeps failing.
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`

	Postgres PostgresConfig `yaml:"postgres"`
	Redis    RedisConfig    `yaml:"redis"`
	Mongo    MongoConfig    `yaml:"mongo"`
}

// RetryConfig specifies exponential backoff for transient store failures.
// Writes are full replaces, so retrying them is safe.
type RetryConfig struct {
	// MaxRetries is the number of attempts after the first; zero disables retries.
	MaxRetries int           `yaml:"max_retries" validate:"min=0,max=10"`
	BaseDelay  time.Duration `yaml:"base_delay" validate:"min=0"`
	MaxDelay   time.Duration `yaml:"max_delay" validate:"min=0"`
}

// CircuitBreakerConfig opens the circuit after MaxFailures consecutive
// transient failures and keeps it open for Cooldown.
type CircuitBreakerConfig struct {
	// MaxFailures of zero disables the breaker.
	MaxFailures int           `yaml:"max_failures" validate:"min=0,max=1000"`
	Cooldown    time.Duration `yaml:"cooldown" validate:"min=0"`
}

// PostgresConfig configures the PostgreSQL backend.
type PostgresConfig struct {
	DSN string `yaml:"dsn"`
	// Table holds every collection as JSONB rows.
	Table string `yaml:"table" validate:"omitempty,min=1,max=63"`
}

// RedisConfig configures the Redis backend.
type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db" validate:"min=0,max=15"`
	KeyPrefix string `yaml:"key_prefix"`
}

// MongoConfig configures the MongoDB backend and its change streams.
type MongoConfig struct {
	URI      string `yaml:"uri"`
	Database string `yaml:"database"`
}

// CollectionsConfig names the stored collections the pipeline touches.
type CollectionsConfig struct {
	Submissions   string `yaml:"submissions" validate:"required"`
	Aggregates    string `yaml:"aggregates" validate:"required"`
	Lists         string `yaml:"lists" validate:"required"`
	Comments      string `yaml:"comments" validate:"required"`
	Notifications string `yaml:"notifications" validate:"required"`
	Users         string `yaml:"users" validate:"required"`
}

// RankingConfig configures leaderboard aggregation.
type RankingConfig struct {
	// Events is the allowlist of ranking-event IDs. Submissions for any
	// other key are ignored.
	Events []string `yaml:"events" validate:"required,min=1,unique,dive,eventid"`
	// TopK is the published leaderboard length.
	TopK int `yaml:"top_k" validate:"min=1,max=100"`
	// MaxPoints is what a first-place vote earns.
	MaxPoints int `yaml:"max_points" validate:"min=1,max=100"`
	// MaxConcurrency bounds simultaneous per-event recomputations.
	MaxConcurrency int `yaml:"max_concurrency" validate:"min=1,max=64"`
}

// NotificationConfig configures social fan-out.
type NotificationConfig struct {
	// FallbackDisplayName labels actors whose profile cannot be read.
	FallbackDisplayName string `yaml:"fallback_display_name" validate:"required,max=100"`
	// Deduplicate derives notification IDs from their content so
	// redelivered triggers overwrite instead of duplicating.
	Deduplicate bool `yaml:"deduplicate"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	// ListenAddr is where /metrics is served; empty disables the server.
	ListenAddr string `yaml:"listen_addr" validate:"omitempty,hostname_port"`
	Namespace  string `yaml:"namespace" validate:"required,min=1,max=64"`
}

// Storage backend names.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
	BackendMongo    = "mongo"
)

// DefaultConfig returns a configuration that runs entirely in memory with
// the collection names the web client uses.
func DefaultConfig() Config {
	return Config{
		Service: "castrank",
		Log:     LogConfig{Level: "info", Format: "json"},
		Store: StoreConfig{
			Backend:        BackendMemory,
			Timeout:        5 * time.Second,
			Burst:          50,
			Retry:          RetryConfig{MaxRetries: 2, BaseDelay: 100 * time.Millisecond, MaxDelay: 2 * time.Second},
			CircuitBreaker: CircuitBreakerConfig{MaxFailures: 5, Cooldown: 30 * time.Second},
			Postgres:       PostgresConfig{Table: "documents"},
			Redis:          RedisConfig{Addr: "localhost:6379", KeyPrefix: "castrank"},
			Mongo:          MongoConfig{Database: "castrank"},
		},
		Collections: CollectionsConfig{
			Submissions:   "userGlobalRankings",
			Aggregates:    "globalRankingsAggregated",
			Lists:         "userLists",
			Comments:      "comments",
			Notifications: "notifications",
			Users:         "users",
		},
		Ranking: RankingConfig{
			Events:         []string{"goat-strategy", "best-villain", "best-hero", "greatest-challenge-beast"},
			TopK:           domain.DefaultTopK,
			MaxPoints:      domain.DefaultMaxPoints,
			MaxConcurrency: 4,
		},
		Notifications: NotificationConfig{FallbackDisplayName: "Someone"},
		Metrics:       MetricsConfig{ListenAddr: ":9090", Namespace: "castrank"},
	}
}

// LoadConfig reads a YAML file over DefaultConfig, applies environment
// overrides and validates the result. An empty path skips the file.
func LoadConfig(path string) (Config, error) {
	if path == "" {
		return finishConfig(DefaultConfig())
	}

	// Clean the path to prevent directory traversal attacks.
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return Config{}, ports.NewConfigError(path, err)
	}
	defer f.Close()

	return LoadConfigFromReader(f)
}

// LoadConfigFromReader is LoadConfig for an already opened source.
func LoadConfigFromReader(r io.Reader) (Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config: %w", err)
	}

	cfg := DefaultConfig()
	if len(bytes.TrimSpace(data)) > 0 {
		decoder := yaml.NewDecoder(bytes.NewReader(data))
		decoder.KnownFields(true) // Strict mode - fail on unknown fields.
		if err := decoder.Decode(&cfg); err != nil {
			return Config{}, fmt.Errorf("YAML decode failed: %w", err)
		}
	}
	return finishConfig(cfg)
}

func finishConfig(cfg Config) (Config, error) {
	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks struct tags and the rules that span several fields.
func (c Config) Validate() error {
	if err := validateStruct("config", c); err != nil {
		return err
	}

	switch c.Store.Backend {
	case BackendPostgres:
		if c.Store.Postgres.DSN == "" {
			return ports.NewConfigError("store.postgres.dsn", ports.ErrConfigNotFound)
		}
	case BackendRedis:
		if c.Store.Redis.Addr == "" {
			return ports.NewConfigError("store.redis.addr", ports.ErrConfigNotFound)
		}
	case BackendMongo:
		if c.Store.Mongo.URI == "" {
			return ports.NewConfigError("store.mongo.uri", ports.ErrConfigNotFound)
		}
		if c.Store.Mongo.Database == "" {
			return ports.NewConfigError("store.mongo.database", ports.ErrConfigNotFound)
		}
	}
	if c.Store.RateLimit > 0 && c.Store.Burst == 0 {
		return ports.NewConfigError("store.burst", fmt.Errorf("%w: burst must be positive when rate_limit is set", domain.ErrInvalidConfiguration))
	}
	return nil
}

// applyEnv overlays CASTRANK_* environment variables. Only settings an
// operator plausibly changes per deployment are exposed.
func applyEnv(cfg *Config) error {
	cfg.Log.Level = envString("LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Format = envString("LOG_FORMAT", cfg.Log.Format)
	cfg.Store.Backend = envString("STORE_BACKEND", cfg.Store.Backend)
	cfg.Store.Postgres.DSN = envString("POSTGRES_DSN", cfg.Store.Postgres.DSN)
	cfg.Store.Redis.Addr = envString("REDIS_ADDR", cfg.Store.Redis.Addr)
	cfg.Store.Redis.Password = envString("REDIS_PASSWORD", cfg.Store.Redis.Password)
	cfg.Store.Mongo.URI = envString("MONGO_URI", cfg.Store.Mongo.URI)
	cfg.Store.Mongo.Database = envString("MONGO_DATABASE", cfg.Store.Mongo.Database)
	cfg.Metrics.ListenAddr = envString("METRICS_ADDR", cfg.Metrics.ListenAddr)
	cfg.Notifications.Deduplicate = envBool("NOTIFICATIONS_DEDUPLICATE", cfg.Notifications.Deduplicate)

	if raw := strings.TrimSpace(os.Getenv(EnvPrefix + "RANKING_EVENTS")); raw != "" {
		var events []string
		for _, value := range strings.Split(raw, ",") {
			value = strings.TrimSpace(value)
			if value != "" {
				events = append(events, value)
			}
		}
		cfg.Ranking.Events = events
	}
	if raw := strings.TrimSpace(os.Getenv(EnvPrefix + "STORE_TIMEOUT")); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return ports.NewConfigError(EnvPrefix+"STORE_TIMEOUT", err)
		}
		cfg.Store.Timeout = d
	}
	if raw := strings.TrimSpace(os.Getenv(EnvPrefix + "STORE_RATE_LIMIT")); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return ports.NewConfigError(EnvPrefix+"STORE_RATE_LIMIT", err)
		}
		cfg.Store.RateLimit = v
	}
	return nil
}

func envString(name, fallback string) string {
	if raw := strings.TrimSpace(os.Getenv(EnvPrefix + name)); raw != "" {
		return raw
	}
	return fallback
}

func envBool(name string, fallback bool) bool {
	raw := strings.TrimSpace(strings.ToLower(os.Getenv(EnvPrefix + name)))
	if raw == "" {
		return fallback
	}
	switch raw {
	case "1", "true", "t", "yes", "y", "on":
		return true
	case "0", "false", "f", "no", "n", "off":
		return false
	default:
		return fallback
	}
}
