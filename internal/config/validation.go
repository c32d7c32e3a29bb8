package config

import "fmt"

// Validate checks the configuration for internally inconsistent or unusable values.
// It is called after defaults and env overrides have been applied.
func (c *Config) Validate() error {
	if c.Server.Address == "" {
		return fmt.Errorf("server.address must not be empty")
	}

	if c.Wallet.PayTimeout.Duration <= 0 {
		return fmt.Errorf("wallet.pay_timeout must be positive, got %s", c.Wallet.PayTimeout.Duration)
	}
	if c.Wallet.LookupTimeout.Duration <= 0 {
		return fmt.Errorf("wallet.lookup_timeout must be positive, got %s", c.Wallet.LookupTimeout.Duration)
	}
	if c.Wallet.PushEnabled && c.Wallet.PushURL == "" {
		return fmt.Errorf("wallet.push_url is required when wallet.push_enabled is true")
	}

	switch c.Ledger.Backend {
	case "", "memory", "file":
		// file backend falls back to a default path in the factory
	case "postgres":
		if c.Ledger.PostgresURL == "" {
			return fmt.Errorf("ledger.postgres_url is required for the postgres backend")
		}
	case "mongodb":
		if c.Ledger.MongoDBURL == "" {
			return fmt.Errorf("ledger.mongodb_url is required for the mongodb backend")
		}
		if c.Ledger.MongoDBDatabase == "" {
			return fmt.Errorf("ledger.mongodb_database is required for the mongodb backend")
		}
	default:
		return fmt.Errorf("unknown ledger backend: %s", c.Ledger.Backend)
	}

	if len(c.Watcher.Backoff) == 0 {
		return fmt.Errorf("watcher.backoff must contain at least one delay")
	}
	for i, d := range c.Watcher.Backoff {
		if d.Duration <= 0 {
			return fmt.Errorf("watcher.backoff[%d] must be positive, got %s", i, d.Duration)
		}
	}
	if c.Watcher.MaxWatchers <= 0 {
		return fmt.Errorf("watcher.max_watchers must be positive, got %d", c.Watcher.MaxWatchers)
	}

	if c.Callbacks.Retry.Enabled {
		if c.Callbacks.Retry.MaxAttempts <= 0 {
			return fmt.Errorf("callbacks.retry.max_attempts must be positive")
		}
		if c.Callbacks.Retry.Multiplier < 1.0 {
			return fmt.Errorf("callbacks.retry.multiplier must be >= 1.0, got %f", c.Callbacks.Retry.Multiplier)
		}
	}

	if c.RateLimit.Enabled {
		if c.RateLimit.RequestLimit <= 0 {
			return fmt.Errorf("rate_limit.request_limit must be positive")
		}
		if c.RateLimit.Window.Duration <= 0 {
			return fmt.Errorf("rate_limit.window must be positive")
		}
	}

	return nil
}
