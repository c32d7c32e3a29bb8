// Package callbacks delivers payment lifecycle events to user-configured
// webhook endpoints.
package callbacks

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Notifier delivers payment events to user-defined callbacks.
// Implementations must not block the caller; delivery is asynchronous.
type Notifier interface {
	PaymentSettled(ctx context.Context, event PaymentEvent)
	PaymentFailed(ctx context.Context, event PaymentEvent)
}

// NoopNotifier ignores all events.
type NoopNotifier struct{}

func (NoopNotifier) PaymentSettled(context.Context, PaymentEvent) {}
func (NoopNotifier) PaymentFailed(context.Context, PaymentEvent)  {}

// PaymentEvent describes a payment attempt reaching a terminal disposition.
// EventID is the delivery idempotency key: it is minted once and preserved
// across retries, so webhook consumers can dedupe on it.
type PaymentEvent struct {
	EventID        string    `json:"eventId"`
	EventType      string    `json:"eventType"` // "payment.settled" or "payment.failed"
	EventTimestamp time.Time `json:"eventTimestamp"`

	IdempotencyKey string    `json:"idempotencyKey"`
	Invoice        string    `json:"invoice"`
	Amount         int64     `json:"amount"` // satoshis
	Description    string    `json:"description,omitempty"`
	ErrorCode      string    `json:"errorCode,omitempty"` // set on payment.failed
	SubmittedAt    time.Time `json:"submittedAt"`
	ResolvedAt     time.Time `json:"resolvedAt"`
}

// prepareEvent ensures idempotency fields are set before serialization.
// An already-set EventID is preserved so retries stay dedupable.
func prepareEvent(event *PaymentEvent, defaultType string) {
	if event.EventID == "" {
		event.EventID = "evt_" + uuid.NewString()
	}
	if event.EventType == "" {
		event.EventType = defaultType
	}
	if event.EventTimestamp.IsZero() {
		event.EventTimestamp = time.Now().UTC()
	}
	if event.ResolvedAt.IsZero() {
		event.ResolvedAt = time.Now().UTC()
	}
}
