// Package circuitbreaker wraps calls to external services with per-service
// circuit breakers so a misbehaving relay or webhook endpoint cannot drag
// the whole process down with it.
package circuitbreaker

import (
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/buhogo/payd/internal/config"
)

// ServiceType identifies an external service for breaker isolation.
type ServiceType string

const (
	ServiceRelayPay    ServiceType = "relay_pay"
	ServiceRelayLookup ServiceType = "relay_lookup"
	ServiceWebhook     ServiceType = "webhook"
)

// Manager holds one circuit breaker per external service. Each service gets
// its own breaker so failures do not cascade across service boundaries: a
// tripped lookup breaker must not block new pay calls.
type Manager struct {
	breakers map[ServiceType]*gobreaker.CircuitBreaker
	enabled  bool
	log      zerolog.Logger
}

// BreakerConfig configures a single circuit breaker.
type BreakerConfig struct {
	// MaxRequests bounds requests allowed through while half-open.
	MaxRequests uint32
	// Interval is the cyclic period in closed state to clear counts.
	Interval time.Duration
	// Timeout is how long the breaker stays open before probing.
	Timeout time.Duration
	// Trip thresholds: consecutive failures, or failure ratio once
	// MinRequests have been observed.
	ConsecutiveFailures uint32
	FailureRatio        float64
	MinRequests         uint32
}

// NewManagerFromConfig creates a breaker manager from application config.
func NewManagerFromConfig(cfg config.CircuitBreakerConfig, log zerolog.Logger) *Manager {
	m := &Manager{
		breakers: make(map[ServiceType]*gobreaker.CircuitBreaker),
		enabled:  cfg.Enabled,
		log:      log.With().Str("component", "circuitbreaker").Logger(),
	}

	if !cfg.Enabled {
		return m
	}

	m.breakers[ServiceRelayPay] = gobreaker.NewCircuitBreaker(m.settings(ServiceRelayPay, fromServiceConfig(cfg.RelayPay)))
	m.breakers[ServiceRelayLookup] = gobreaker.NewCircuitBreaker(m.settings(ServiceRelayLookup, fromServiceConfig(cfg.RelayLookup)))
	m.breakers[ServiceWebhook] = gobreaker.NewCircuitBreaker(m.settings(ServiceWebhook, fromServiceConfig(cfg.Webhook)))

	return m
}

func fromServiceConfig(cfg config.BreakerServiceConfig) BreakerConfig {
	return BreakerConfig{
		MaxRequests:         cfg.MaxRequests,
		Interval:            cfg.Interval.Duration,
		Timeout:             cfg.Timeout.Duration,
		ConsecutiveFailures: cfg.ConsecutiveFailures,
		FailureRatio:        cfg.FailureRatio,
		MinRequests:         cfg.MinRequests,
	}
}

// Execute wraps a call with circuit breaker protection. A disabled or
// unconfigured service passes straight through.
func (m *Manager) Execute(service ServiceType, fn func() (interface{}, error)) (interface{}, error) {
	if !m.enabled {
		return fn()
	}
	breaker, ok := m.breakers[service]
	if !ok {
		return fn()
	}
	return breaker.Execute(fn)
}

// State returns the current state of a service's breaker.
func (m *Manager) State(service ServiceType) string {
	if !m.enabled {
		return "disabled"
	}
	breaker, ok := m.breakers[service]
	if !ok {
		return "not_configured"
	}
	return breaker.State().String()
}

func (m *Manager) settings(service ServiceType, cfg BreakerConfig) gobreaker.Settings {
	return gobreaker.Settings{
		Name:        string(service),
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if cfg.ConsecutiveFailures > 0 && counts.ConsecutiveFailures >= cfg.ConsecutiveFailures {
				return true
			}
			if cfg.FailureRatio > 0 && cfg.MinRequests > 0 && counts.Requests >= cfg.MinRequests {
				failureRate := float64(counts.TotalFailures) / float64(counts.Requests)
				if failureRate >= cfg.FailureRatio {
					return true
				}
			}
			return false
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			m.log.Warn().
				Str("service", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state change")
		},
	}
}
