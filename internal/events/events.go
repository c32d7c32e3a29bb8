// Package events publishes payment lifecycle events to NATS for downstream
// consumers. Publishing is best-effort: the payment flow never blocks or
// fails because the broker is away.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/oklog/ulid/v2"
)

// Event types emitted by the payment core.
const (
	TypePaymentSubmitted = "payment.submitted"
	TypePaymentPending   = "payment.pending"
	TypePaymentSettled   = "payment.settled"
	TypePaymentFailed    = "payment.failed"
)

// Event is the envelope every published message carries.
type Event struct {
	ID             string          `json:"event_id"`
	Type           string          `json:"type"`
	OccurredAt     time.Time       `json:"occurred_at"`
	IdempotencyKey string          `json:"idempotency_key"`
	Data           json.RawMessage `json:"data,omitempty"`
}

// NewEvent creates an envelope around the given payload.
func NewEvent(eventType, idempotencyKey string, data interface{}) (*Event, error) {
	var raw json.RawMessage
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		raw = b
	}

	return &Event{
		ID:             ulid.Make().String(),
		Type:           eventType,
		OccurredAt:     time.Now().UTC(),
		IdempotencyKey: idempotencyKey,
		Data:           raw,
	}, nil
}

// Publisher publishes events to a message broker.
type Publisher interface {
	Publish(ctx context.Context, event *Event) error
	Close()
}

// NoopPublisher discards all events.
type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, *Event) error { return nil }
func (NoopPublisher) Close()                                {}
