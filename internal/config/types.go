package config

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration to support string based YAML decoding.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses duration values expressed as Go-style strings or numbers interpreted as seconds.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		raw := strings.TrimSpace(value.Value)
		if raw == "" {
			d.Duration = 0
			return nil
		}
		parsed, err := time.ParseDuration(raw)
		if err == nil {
			d.Duration = parsed
			return nil
		}
		secs, convErr := time.ParseDuration(fmt.Sprintf("%ss", raw))
		if convErr == nil {
			d.Duration = secs
			return nil
		}
		return fmt.Errorf("invalid duration value %q: %w", raw, err)
	default:
		return fmt.Errorf("unsupported duration node kind: %v", value.Kind)
	}
}

// MarshalYAML renders the duration as a string to keep config edits human-friendly.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.Duration.String(), nil
}

// Config holds application level configuration aggregated from file and environment variables.
type Config struct {
	Server         ServerConfig         `yaml:"server"`
	Logging        LoggingConfig        `yaml:"logging"`
	Wallet         WalletConfig         `yaml:"wallet"`
	Ledger         LedgerConfig         `yaml:"ledger"`
	Watcher        WatcherConfig        `yaml:"watcher"`
	Callbacks      CallbacksConfig      `yaml:"callbacks"`
	Events         EventsConfig         `yaml:"events"`
	RateLimit      RateLimitConfig      `yaml:"rate_limit"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Address            string   `yaml:"address"`
	ReadTimeout        Duration `yaml:"read_timeout"`
	WriteTimeout       Duration `yaml:"write_timeout"`
	IdleTimeout        Duration `yaml:"idle_timeout"`
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins"`
	RoutePrefix        string   `yaml:"route_prefix"`          // Optional prefix for all routes (e.g., "/api")
	AdminMetricsAPIKey string   `yaml:"admin_metrics_api_key"` // Optional API key protecting /metrics
}

// LoggingConfig holds structured logging configuration.
type LoggingConfig struct {
	Level       string `yaml:"level"`  // debug, info, warn, error
	Format      string `yaml:"format"` // json, console
	Environment string `yaml:"environment"`
}

// WalletConfig holds the remote wallet capability configuration.
// The NWC connection string itself is env-only: it carries a secret.
type WalletConfig struct {
	RelayURL         string   `yaml:"relay_url"`
	ConnectionString string   `yaml:"-"` // Loaded from BUHOGO_WALLET_NWC_URI
	PayTimeout       Duration `yaml:"pay_timeout"`    // Bound on the submit race (default 5s)
	LookupTimeout    Duration `yaml:"lookup_timeout"` // Per-reconcile status lookup bound
	PushURL          string   `yaml:"push_url"`       // Optional WebSocket settlement feed
	PushEnabled      bool     `yaml:"push_enabled"`
}

// LedgerConfig holds attempt ledger persistence configuration.
type LedgerConfig struct {
	Backend         string   `yaml:"backend"` // "memory", "file", "postgres", or "mongodb"
	FilePath        string   `yaml:"file_path"`
	PostgresURL     string   `yaml:"postgres_url"`
	MongoDBURL      string   `yaml:"mongodb_url"`
	MongoDBDatabase string   `yaml:"mongodb_database"`
	TableName       string   `yaml:"table_name"` // Postgres table / Mongo collection (default: "payment_attempts")
	FlushInterval   Duration `yaml:"flush_interval"`
}

// WatcherConfig holds settlement watcher configuration.
type WatcherConfig struct {
	Backoff     []Duration `yaml:"backoff"`      // Poll delays; last entry repeats as the cap
	MaxWatchers int        `yaml:"max_watchers"` // Upper bound on concurrently tracked keys
}

// BackoffDurations returns the backoff schedule as plain durations.
func (w WatcherConfig) BackoffDurations() []time.Duration {
	out := make([]time.Duration, 0, len(w.Backoff))
	for _, d := range w.Backoff {
		out = append(out, d.Duration)
	}
	return out
}

// CallbacksConfig configures payment event webhooks.
type CallbacksConfig struct {
	PaymentSuccessURL string            `yaml:"payment_success_url"`
	Headers           map[string]string `yaml:"headers"`
	Timeout           Duration          `yaml:"timeout"`
	Retry             RetryConfig       `yaml:"retry"`
}

// RetryConfig controls webhook delivery retries.
type RetryConfig struct {
	Enabled         bool     `yaml:"enabled"`
	MaxAttempts     int      `yaml:"max_attempts"`
	InitialInterval Duration `yaml:"initial_interval"`
	MaxInterval     Duration `yaml:"max_interval"`
	Multiplier      float64  `yaml:"multiplier"`
}

// EventsConfig configures the NATS lifecycle event publisher.
type EventsConfig struct {
	Enabled       bool     `yaml:"enabled"`
	NATSURL       string   `yaml:"nats_url"`
	ClientName    string   `yaml:"client_name"`
	SubjectPrefix string   `yaml:"subject_prefix"`
	MaxReconnects int      `yaml:"max_reconnects"`
	ReconnectWait Duration `yaml:"reconnect_wait"`
}

// RateLimitConfig holds HTTP rate limiting configuration.
type RateLimitConfig struct {
	Enabled      bool     `yaml:"enabled"`
	RequestLimit int      `yaml:"request_limit"`
	Window       Duration `yaml:"window"`
}

// CircuitBreakerConfig holds per-service breaker settings.
type CircuitBreakerConfig struct {
	Enabled     bool                 `yaml:"enabled"`
	RelayPay    BreakerServiceConfig `yaml:"relay_pay"`
	RelayLookup BreakerServiceConfig `yaml:"relay_lookup"`
	Webhook     BreakerServiceConfig `yaml:"webhook"`
}

// BreakerServiceConfig configures a single circuit breaker.
type BreakerServiceConfig struct {
	MaxRequests         uint32   `yaml:"max_requests"`
	Interval            Duration `yaml:"interval"`
	Timeout             Duration `yaml:"timeout"`
	ConsecutiveFailures uint32   `yaml:"consecutive_failures"`
	FailureRatio        float64  `yaml:"failure_ratio"`
	MinRequests         uint32   `yaml:"min_requests"`
}
