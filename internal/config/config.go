package config

import (
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Load reads configuration from a YAML file and applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		if err := cfg.parseFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Address:      ":8080",
			ReadTimeout:  Duration{Duration: 15 * time.Second},
			WriteTimeout: Duration{Duration: 15 * time.Second},
			IdleTimeout:  Duration{Duration: 60 * time.Second},
		},
		Logging: LoggingConfig{
			Level:       "info",
			Format:      "json",
			Environment: "development",
		},
		Wallet: WalletConfig{
			PayTimeout:    Duration{Duration: 5 * time.Second},
			LookupTimeout: Duration{Duration: 5 * time.Second},
		},
		Ledger: LedgerConfig{
			TableName:     "payment_attempts",
			FlushInterval: Duration{Duration: 5 * time.Second},
		},
		Watcher: WatcherConfig{
			// Fibonacci-like ramp capped at 13s; the last entry repeats.
			Backoff: []Duration{
				{Duration: 2 * time.Second},
				{Duration: 3 * time.Second},
				{Duration: 5 * time.Second},
				{Duration: 8 * time.Second},
				{Duration: 13 * time.Second},
			},
			MaxWatchers: 256,
		},
		Callbacks: CallbacksConfig{
			Headers: make(map[string]string),
			Timeout: Duration{Duration: 3 * time.Second},
			Retry: RetryConfig{
				Enabled:         true,
				MaxAttempts:     5,
				InitialInterval: Duration{Duration: 1 * time.Second},
				MaxInterval:     Duration{Duration: 5 * time.Minute},
				Multiplier:      2.0,
			},
		},
		Events: EventsConfig{
			Enabled:       false,
			NATSURL:       "nats://localhost:4222",
			ClientName:    "buhogo-payd",
			SubjectPrefix: "payd.payments",
			MaxReconnects: 10,
			ReconnectWait: Duration{Duration: 2 * time.Second},
		},
		RateLimit: RateLimitConfig{
			Enabled:      true,
			RequestLimit: 120,
			Window:       Duration{Duration: 1 * time.Minute},
		},
		CircuitBreaker: CircuitBreakerConfig{
			Enabled: true,
			RelayPay: BreakerServiceConfig{
				MaxRequests:         3,
				Interval:            Duration{Duration: 60 * time.Second},
				Timeout:             Duration{Duration: 30 * time.Second},
				ConsecutiveFailures: 5,
				FailureRatio:        0.5,
				MinRequests:         10,
			},
			RelayLookup: BreakerServiceConfig{
				MaxRequests:         3,
				Interval:            Duration{Duration: 60 * time.Second},
				Timeout:             Duration{Duration: 30 * time.Second},
				ConsecutiveFailures: 5,
				FailureRatio:        0.5,
				MinRequests:         10,
			},
			Webhook: BreakerServiceConfig{
				MaxRequests:         5,
				Interval:            Duration{Duration: 60 * time.Second},
				Timeout:             Duration{Duration: 60 * time.Second},
				ConsecutiveFailures: 10,
				FailureRatio:        0.7,
				MinRequests:         20,
			},
		},
	}
}

// parseFile reads and unmarshals a YAML configuration file.
func (c *Config) parseFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open config file: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config yaml: %w", err)
	}
	return nil
}
