package config

import (
	"net/textproto"
	"os"
	"strconv"
	"strings"
	"time"
)

// applyEnvOverrides applies environment variable overrides to the config.
// Environment variables take precedence over YAML configuration.
// All env vars use the BUHOGO_ prefix for namespace isolation.
func (c *Config) applyEnvOverrides() {
	// Server config
	setIfEnv(&c.Server.Address, "BUHOGO_SERVER_ADDRESS")
	setIfEnv(&c.Server.RoutePrefix, "BUHOGO_ROUTE_PREFIX")
	setIfEnv(&c.Server.AdminMetricsAPIKey, "BUHOGO_ADMIN_METRICS_API_KEY")

	if c.Server.RoutePrefix != "" {
		c.Server.RoutePrefix = normalizeRoutePrefix(c.Server.RoutePrefix)
	}

	// Logging config
	setIfEnv(&c.Logging.Level, "BUHOGO_LOG_LEVEL")
	setIfEnv(&c.Logging.Format, "BUHOGO_LOG_FORMAT")
	setIfEnv(&c.Logging.Environment, "BUHOGO_ENVIRONMENT")

	// Wallet config. The NWC URI is a secret and is therefore env-only.
	setIfEnv(&c.Wallet.ConnectionString, "BUHOGO_WALLET_NWC_URI")
	setIfEnv(&c.Wallet.RelayURL, "BUHOGO_WALLET_RELAY_URL")
	setIfEnv(&c.Wallet.PushURL, "BUHOGO_WALLET_PUSH_URL")
	setBoolIfEnv(&c.Wallet.PushEnabled, "BUHOGO_WALLET_PUSH_ENABLED")
	setDurationIfEnv(&c.Wallet.PayTimeout, "BUHOGO_WALLET_PAY_TIMEOUT")
	setDurationIfEnv(&c.Wallet.LookupTimeout, "BUHOGO_WALLET_LOOKUP_TIMEOUT")

	// Ledger config
	setIfEnv(&c.Ledger.Backend, "BUHOGO_LEDGER_BACKEND")
	setIfEnv(&c.Ledger.FilePath, "BUHOGO_LEDGER_FILE_PATH")
	setIfEnv(&c.Ledger.PostgresURL, "BUHOGO_LEDGER_POSTGRES_URL")
	setIfEnv(&c.Ledger.MongoDBURL, "BUHOGO_LEDGER_MONGODB_URL")
	setIfEnv(&c.Ledger.MongoDBDatabase, "BUHOGO_LEDGER_MONGODB_DATABASE")
	setIfEnv(&c.Ledger.TableName, "BUHOGO_LEDGER_TABLE_NAME")
	setDurationIfEnv(&c.Ledger.FlushInterval, "BUHOGO_LEDGER_FLUSH_INTERVAL")

	// Callbacks config
	setIfEnv(&c.Callbacks.PaymentSuccessURL, "BUHOGO_CALLBACK_PAYMENT_SUCCESS_URL")
	setDurationIfEnv(&c.Callbacks.Timeout, "BUHOGO_CALLBACK_TIMEOUT")
	loadHeaderEnvs(&c.Callbacks.Headers, "BUHOGO_CALLBACK_HEADER_")

	// Events config
	setBoolIfEnv(&c.Events.Enabled, "BUHOGO_EVENTS_ENABLED")
	setIfEnv(&c.Events.NATSURL, "BUHOGO_EVENTS_NATS_URL")
	setIfEnv(&c.Events.SubjectPrefix, "BUHOGO_EVENTS_SUBJECT_PREFIX")

	// Rate limit config
	setBoolIfEnv(&c.RateLimit.Enabled, "BUHOGO_RATE_LIMIT_ENABLED")
	if v := os.Getenv("BUHOGO_RATE_LIMIT_REQUESTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.RateLimit.RequestLimit = n
		}
	}

	// Circuit breaker toggle
	setBoolIfEnv(&c.CircuitBreaker.Enabled, "BUHOGO_CIRCUIT_BREAKER_ENABLED")
}

// setIfEnv assigns the env var value when it is present and non-empty.
func setIfEnv(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// setBoolIfEnv assigns the parsed boolean when the env var is present.
func setBoolIfEnv(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

// setDurationIfEnv assigns the parsed duration when the env var is present.
func setDurationIfEnv(dst *Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if dur, err := time.ParseDuration(v); err == nil {
			*dst = Duration{Duration: dur}
		}
	}
}

// loadHeaderEnvs collects HEADER_* env vars into the given header map.
func loadHeaderEnvs(dst *map[string]string, prefix string) {
	for _, env := range os.Environ() {
		if !strings.HasPrefix(env, prefix) {
			continue
		}
		parts := strings.SplitN(env, "=", 2)
		if len(parts) != 2 {
			continue
		}
		name := strings.TrimPrefix(parts[0], prefix)
		if name == "" {
			continue
		}
		if *dst == nil {
			*dst = make(map[string]string)
		}
		headerName := textproto.CanonicalMIMEHeaderKey(strings.ReplaceAll(name, "_", "-"))
		(*dst)[headerName] = parts[1]
	}
}

// normalizeRoutePrefix ensures the prefix starts with / and does not end with /.
func normalizeRoutePrefix(prefix string) string {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" || prefix == "/" {
		return ""
	}
	if !strings.HasPrefix(prefix, "/") {
		prefix = "/" + prefix
	}
	return strings.TrimRight(prefix, "/")
}
