package callbacks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/buhogo/payd/internal/circuitbreaker"
	"github.com/buhogo/payd/internal/config"
	"github.com/buhogo/payd/internal/metrics"
)

// RetryConfig holds webhook retry configuration.
type RetryConfig struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	Timeout         time.Duration // per-attempt timeout
}

// DefaultRetryConfig returns sensible defaults for webhook retries.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:     5,
		InitialInterval: 1 * time.Second,
		MaxInterval:     5 * time.Minute,
		Multiplier:      2.0,
		Timeout:         10 * time.Second,
	}
}

// RetryableClient posts payment events with exponential backoff.
type RetryableClient struct {
	cfg        config.CallbacksConfig
	retryCfg   RetryConfig
	httpClient *http.Client
	logger     zerolog.Logger
	breakers   *circuitbreaker.Manager
	metrics    *metrics.Metrics
}

// RetryOption customizes the retry client behavior.
type RetryOption func(*RetryableClient)

// WithRetryLogger sets a custom logger for retry operations.
func WithRetryLogger(logger zerolog.Logger) RetryOption {
	return func(c *RetryableClient) {
		c.logger = logger
	}
}

// WithRetryConfig sets custom retry configuration.
func WithRetryConfig(cfg RetryConfig) RetryOption {
	return func(c *RetryableClient) {
		c.retryCfg = cfg
	}
}

// WithBreakers routes deliveries through the webhook circuit breaker.
func WithBreakers(breakers *circuitbreaker.Manager) RetryOption {
	return func(c *RetryableClient) {
		c.breakers = breakers
	}
}

// WithMetrics sets the metrics collector for webhook observability.
func WithMetrics(m *metrics.Metrics) RetryOption {
	return func(c *RetryableClient) {
		c.metrics = m
	}
}

// NewRetryableClient constructs a callback client with retry support.
// Without a configured URL it degrades to a no-op notifier.
func NewRetryableClient(cfg config.CallbacksConfig, opts ...RetryOption) Notifier {
	if cfg.PaymentSuccessURL == "" {
		return NoopNotifier{}
	}

	timeout := cfg.Timeout.Duration
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	client := &RetryableClient{
		cfg:      cfg,
		retryCfg: DefaultRetryConfig(),
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: zerolog.Nop(),
	}

	if cfg.Retry.Enabled {
		client.retryCfg = RetryConfig{
			MaxAttempts:     cfg.Retry.MaxAttempts,
			InitialInterval: cfg.Retry.InitialInterval.Duration,
			MaxInterval:     cfg.Retry.MaxInterval.Duration,
			Multiplier:      cfg.Retry.Multiplier,
			Timeout:         timeout,
		}
	}

	for _, opt := range opts {
		opt(client)
	}

	return client
}

// PaymentSettled dispatches the settled event asynchronously.
func (c *RetryableClient) PaymentSettled(_ context.Context, event PaymentEvent) {
	c.dispatch(event, "payment.settled")
}

// PaymentFailed dispatches the failed event asynchronously.
func (c *RetryableClient) PaymentFailed(_ context.Context, event PaymentEvent) {
	c.dispatch(event, "payment.failed")
}

func (c *RetryableClient) dispatch(event PaymentEvent, eventType string) {
	if c == nil || c.cfg.PaymentSuccessURL == "" {
		return
	}

	// Idempotency fields must be fixed before serialization so every
	// retry carries the same EventID.
	prepareEvent(&event, eventType)

	go func() {
		payload, err := json.Marshal(event)
		if err != nil {
			c.logger.Error().Err(err).Msg("callbacks: failed to serialize event")
			return
		}

		if err := c.sendWithRetry(context.Background(), payload, eventType); err != nil {
			c.logger.Error().
				Err(err).
				Str("event_id", event.EventID).
				Str("event_type", eventType).
				Msg("callbacks: webhook failed after all retries")
		}
	}()
}

// sendWithRetry attempts delivery with exponential backoff.
func (c *RetryableClient) sendWithRetry(ctx context.Context, payload []byte, eventType string) error {
	var lastErr error
	interval := c.retryCfg.InitialInterval
	maxAttempts := c.retryCfg.MaxAttempts

	if !c.cfg.Retry.Enabled {
		maxAttempts = 1
	}

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		reqCtx, cancel := context.WithTimeout(ctx, c.retryCfg.Timeout)
		err := c.send(reqCtx, payload)
		cancel()

		if err == nil {
			if c.metrics != nil {
				c.metrics.WebhooksTotal.WithLabelValues(eventType, "success").Inc()
			}
			return nil
		}
		lastErr = err

		if c.metrics != nil && attempt < maxAttempts {
			c.metrics.WebhookRetriesTotal.Inc()
		}

		c.logger.Warn().
			Err(err).
			Int("attempt", attempt).
			Int("max_attempts", maxAttempts).
			Str("event_type", eventType).
			Msg("callbacks: delivery attempt failed")

		if attempt == maxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}

		interval = time.Duration(float64(interval) * c.retryCfg.Multiplier)
		if interval > c.retryCfg.MaxInterval {
			interval = c.retryCfg.MaxInterval
		}
	}

	if c.metrics != nil {
		c.metrics.WebhooksTotal.WithLabelValues(eventType, "failed").Inc()
	}
	return lastErr
}

// send performs one HTTP delivery, through the webhook breaker when set.
func (c *RetryableClient) send(ctx context.Context, payload []byte) error {
	doSend := func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.PaymentSuccessURL, bytes.NewReader(payload))
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}

		req.Header.Set("Content-Type", "application/json")
		for k, v := range c.cfg.Headers {
			if k == "" || k == "Content-Type" {
				continue
			}
			req.Header.Set(k, v)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("send request: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 400 {
			return nil, fmt.Errorf("received status %d from %s", resp.StatusCode, c.cfg.PaymentSuccessURL)
		}
		return nil, nil
	}

	if c.breakers != nil {
		_, err := c.breakers.Execute(circuitbreaker.ServiceWebhook, doSend)
		return err
	}
	_, err := doSend()
	return err
}
