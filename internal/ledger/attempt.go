// Package ledger provides the durable attempt ledger: a key to payment-attempt
// map that survives process restarts so an interrupted payment is recoverable.
package ledger

import (
	"errors"
	"time"

	"github.com/oklog/ulid/v2"
)

// Status represents the lifecycle state of a payment attempt.
type Status string

const (
	// StatusSubmitted means the attempt record was written and the remote
	// pay call is (or is about to be) in flight.
	StatusSubmitted Status = "submitted"
	// StatusPending means the pay call outlived the submit bound; the
	// settlement watcher owns the attempt from here.
	StatusPending Status = "pending"
	// StatusSettled and StatusFailed are terminal; the ledger entry is
	// removed when either is reached.
	StatusSettled Status = "settled"
	StatusFailed  Status = "failed"
)

// PaymentAttempt represents one outbound payment in flight.
type PaymentAttempt struct {
	IdempotencyKey string    `json:"idempotency_key"`
	Invoice        string    `json:"invoice"`
	Amount         int64     `json:"amount"` // satoshis, advisory
	Description    string    `json:"description"`
	Status         Status    `json:"status"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// NewAttempt creates a fresh attempt record in the submitted state.
func NewAttempt(key, invoice string, amount int64, description string) (PaymentAttempt, error) {
	if key == "" {
		return PaymentAttempt{}, errors.New("idempotency key is required")
	}
	if invoice == "" {
		return PaymentAttempt{}, errors.New("invoice is required")
	}
	if amount < 0 {
		return PaymentAttempt{}, errors.New("amount must not be negative")
	}

	now := time.Now().UTC()
	return PaymentAttempt{
		IdempotencyKey: key,
		Invoice:        invoice,
		Amount:         amount,
		Description:    description,
		Status:         StatusSubmitted,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

// MarkPending transitions the attempt to pending (submit bound elapsed).
func (a *PaymentAttempt) MarkPending() error {
	if a.Status != StatusSubmitted {
		return errors.New("can only mark submitted attempts as pending")
	}
	a.Status = StatusPending
	a.UpdatedAt = time.Now().UTC()
	return nil
}

// MarkSettled transitions the attempt to the settled terminal state.
func (a *PaymentAttempt) MarkSettled() error {
	if a.IsTerminal() {
		return errors.New("attempt already terminal")
	}
	a.Status = StatusSettled
	a.UpdatedAt = time.Now().UTC()
	return nil
}

// MarkFailed transitions the attempt to the failed terminal state.
func (a *PaymentAttempt) MarkFailed() error {
	if a.IsTerminal() {
		return errors.New("attempt already terminal")
	}
	a.Status = StatusFailed
	a.UpdatedAt = time.Now().UTC()
	return nil
}

// IsTerminal returns true once the attempt has reached a final disposition.
func (a *PaymentAttempt) IsTerminal() bool {
	return a.Status == StatusSettled || a.Status == StatusFailed
}

// Age returns how long ago the attempt was created.
func (a *PaymentAttempt) Age() time.Duration {
	return time.Since(a.CreatedAt)
}

// NewIdempotencyKey mints an opaque attempt key. ULIDs combine a millisecond
// clock reading with 80 bits of entropy, so keys stay unique across process
// restarts without any coordination.
func NewIdempotencyKey() string {
	return "pay_" + ulid.Make().String()
}
