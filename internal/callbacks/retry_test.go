package callbacks

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/buhogo/payd/internal/config"
)

// recordingEndpoint captures delivered events and can fail the first N
// requests to exercise the retry path.
type recordingEndpoint struct {
	mu        sync.Mutex
	failFirst int
	events    []PaymentEvent
	headers   []http.Header
}

func (e *recordingEndpoint) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		e.mu.Lock()
		defer e.mu.Unlock()

		e.headers = append(e.headers, r.Header.Clone())

		var event PaymentEvent
		if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		e.events = append(e.events, event)

		if e.failFirst > 0 {
			e.failFirst--
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

func (e *recordingEndpoint) delivered() []PaymentEvent {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]PaymentEvent, len(e.events))
	copy(out, e.events)
	return out
}

func testCallbacksConfig(url string) config.CallbacksConfig {
	return config.CallbacksConfig{
		PaymentSuccessURL: url,
		Headers:           map[string]string{"X-Webhook-Token": "tok"},
		Timeout:           config.Duration{Duration: 2 * time.Second},
		Retry: config.RetryConfig{
			Enabled:         true,
			MaxAttempts:     4,
			InitialInterval: config.Duration{Duration: 5 * time.Millisecond},
			MaxInterval:     config.Duration{Duration: 20 * time.Millisecond},
			Multiplier:      2.0,
		},
	}
}

func waitForDeliveries(t *testing.T, e *recordingEndpoint, n int) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		if len(e.delivered()) >= n {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("expected %d deliveries, saw %d", n, len(e.delivered()))
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestRetryUntilDelivered(t *testing.T) {
	endpoint := &recordingEndpoint{failFirst: 2}
	srv := httptest.NewServer(endpoint.handler())
	defer srv.Close()

	notifier := NewRetryableClient(testCallbacksConfig(srv.URL))

	notifier.PaymentSettled(context.Background(), PaymentEvent{
		IdempotencyKey: "pay_1",
		Invoice:        "lnbc1",
		Amount:         1000,
	})

	waitForDeliveries(t, endpoint, 3)
	events := endpoint.delivered()

	// Every retry must carry the same EventID so consumers can dedupe.
	for i, e := range events {
		if e.EventID == "" || e.EventID != events[0].EventID {
			t.Errorf("delivery %d event id %q differs from first %q", i, e.EventID, events[0].EventID)
		}
		if e.EventType != "payment.settled" {
			t.Errorf("delivery %d event type = %q", i, e.EventType)
		}
	}
}

func TestConfiguredHeadersSent(t *testing.T) {
	endpoint := &recordingEndpoint{}
	srv := httptest.NewServer(endpoint.handler())
	defer srv.Close()

	notifier := NewRetryableClient(testCallbacksConfig(srv.URL))
	notifier.PaymentFailed(context.Background(), PaymentEvent{
		IdempotencyKey: "pay_1",
		ErrorCode:      "insufficient_funds",
	})

	waitForDeliveries(t, endpoint, 1)

	endpoint.mu.Lock()
	defer endpoint.mu.Unlock()
	if got := endpoint.headers[0].Get("X-Webhook-Token"); got != "tok" {
		t.Errorf("X-Webhook-Token = %q", got)
	}
	if got := endpoint.headers[0].Get("Content-Type"); got != "application/json" {
		t.Errorf("Content-Type = %q", got)
	}
	if endpoint.events[0].EventType != "payment.failed" {
		t.Errorf("event type = %q", endpoint.events[0].EventType)
	}
}

func TestRetryDisabledSendsOnce(t *testing.T) {
	endpoint := &recordingEndpoint{failFirst: 5}
	srv := httptest.NewServer(endpoint.handler())
	defer srv.Close()

	cfg := testCallbacksConfig(srv.URL)
	cfg.Retry.Enabled = false
	notifier := NewRetryableClient(cfg)

	notifier.PaymentSettled(context.Background(), PaymentEvent{IdempotencyKey: "pay_1"})

	waitForDeliveries(t, endpoint, 1)
	time.Sleep(50 * time.Millisecond)
	if n := len(endpoint.delivered()); n != 1 {
		t.Errorf("expected a single delivery with retries disabled, got %d", n)
	}
}

func TestNoURLMeansNoop(t *testing.T) {
	notifier := NewRetryableClient(config.CallbacksConfig{})
	if _, ok := notifier.(NoopNotifier); !ok {
		t.Errorf("expected NoopNotifier without a configured URL, got %T", notifier)
	}
}
