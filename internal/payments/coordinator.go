// Package payments implements the submission coordinator: it drives one
// outgoing payment attempt to a terminal or hand-off state, enforcing
// idempotency and bounding how long the caller waits.
package payments

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/buhogo/payd/internal/callbacks"
	apperrors "github.com/buhogo/payd/internal/errors"
	"github.com/buhogo/payd/internal/events"
	"github.com/buhogo/payd/internal/ledger"
	"github.com/buhogo/payd/internal/logger"
	"github.com/buhogo/payd/internal/metrics"
	"github.com/buhogo/payd/internal/wallet"
)

// Outcome is the disposition submit resolves to. Classified failures are
// returned as errors, not outcomes.
type Outcome string

const (
	// OutcomeSuccess means the network layer accepted delivery before
	// the submit bound.
	OutcomeSuccess Outcome = "success"
	// OutcomePending means the bound elapsed with the pay call still
	// outstanding; the settlement watcher owns the attempt now.
	OutcomePending Outcome = "pending"
)

// SubmitRequest describes one payment submission.
type SubmitRequest struct {
	Invoice     string
	Amount      int64 // satoshis, advisory
	Description string
	// ExistingKey resumes a known attempt instead of minting a fresh
	// key. Required for safe retry after a transient failure.
	ExistingKey string
}

// SubmitResult is the successful (or pending) disposition of a submission.
type SubmitResult struct {
	Outcome Outcome `json:"outcome"`
	Key     string  `json:"key"`
}

// SettlementWatcher is the handoff target for pending attempts.
type SettlementWatcher interface {
	Watch(key string)
	StopWatching(key string)
	NudgeKey(key string)
}

// Coordinator owns the lifecycle of payment submissions.
type Coordinator struct {
	capability wallet.Capability
	ledger     *ledger.Ledger
	watcher    SettlementWatcher
	notifier   callbacks.Notifier
	publisher  events.Publisher
	metrics    *metrics.Metrics
	log        zerolog.Logger
	payTimeout time.Duration

	mu       sync.Mutex
	inFlight map[string]*inFlightCall
}

// inFlightCall lets duplicate submissions of the same key share one
// disposition instead of issuing a second pay call.
type inFlightCall struct {
	done   chan struct{}
	result SubmitResult
	err    error
}

// New creates a coordinator. payTimeout bounds the submit race; zero or
// negative falls back to 5s.
func New(capability wallet.Capability, lg *ledger.Ledger, w SettlementWatcher, payTimeout time.Duration, notifier callbacks.Notifier, publisher events.Publisher, m *metrics.Metrics, log zerolog.Logger) *Coordinator {
	if payTimeout <= 0 {
		payTimeout = 5 * time.Second
	}
	return &Coordinator{
		capability: capability,
		ledger:     lg,
		watcher:    w,
		notifier:   notifier,
		publisher:  publisher,
		metrics:    m,
		log:        log.With().Str("component", "coordinator").Logger(),
		payTimeout: payTimeout,
	}
}

// Submit drives one payment attempt. Exactly one disposition is returned
// per call: a success result, a pending handoff result, or a classified
// error. The ledger write always precedes the remote call so a crash
// mid-call is recoverable.
func (c *Coordinator) Submit(ctx context.Context, req SubmitRequest) (SubmitResult, error) {
	start := time.Now()

	if c.capability == nil {
		return SubmitResult{}, apperrors.New(apperrors.ErrCodeNotConnected, "no active wallet connection")
	}
	if req.Invoice == "" {
		return SubmitResult{}, apperrors.New(apperrors.ErrCodeInvalidInput, "invoice must not be empty")
	}
	if req.Amount < 0 {
		return SubmitResult{}, apperrors.New(apperrors.ErrCodeInvalidInput, "amount must not be negative")
	}

	key, joined, call := c.resolveKey(ctx, req)
	if joined != nil {
		// Duplicate of an in-flight submission: share its disposition.
		if c.metrics != nil {
			c.metrics.DuplicateSubmits.Inc()
		}
		select {
		case <-joined.done:
			return joined.result, joined.err
		case <-ctx.Done():
			return SubmitResult{}, ctx.Err()
		}
	}
	if call == nil {
		// The key's attempt is already pending under the watcher. The
		// second caller gets the same pending disposition, no new pay
		// call goes out.
		if c.metrics != nil {
			c.metrics.DuplicateSubmits.Inc()
		}
		return SubmitResult{Outcome: OutcomePending, Key: key}, nil
	}

	result, err := c.run(ctx, key, req)

	call.result, call.err = result, err
	close(call.done)
	c.mu.Lock()
	delete(c.inFlight, key)
	c.mu.Unlock()

	if c.metrics != nil {
		outcome := string(result.Outcome)
		if err != nil {
			outcome = string(apperrors.CodeOf(err))
		}
		c.metrics.ObserveSubmit(outcome, time.Since(start))
	}
	return result, err
}

// resolveKey picks the idempotency key for the submission and registers the
// in-flight call. It returns exactly one of:
//   - joined != nil: another submission for this key is mid-race, wait on it
//   - call == nil:   the key is pending under the watcher, no new call allowed
//   - call != nil:   this caller owns the submission for key
func (c *Coordinator) resolveKey(ctx context.Context, req SubmitRequest) (key string, joined *inFlightCall, call *inFlightCall) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inFlight == nil {
		c.inFlight = make(map[string]*inFlightCall)
	}

	key = req.ExistingKey
	if key != "" {
		if existing, ok := c.inFlight[key]; ok {
			return key, existing, nil
		}
		if attempt, ok := c.ledger.Get(ctx, key); ok && !attempt.IsTerminal() {
			if attempt.Status == ledger.StatusPending {
				return key, nil, nil
			}
			// A submitted entry with no in-flight call is a crash
			// leftover: resume it under the same key.
		} else {
			// Terminal or unknown key: mint fresh rather than reuse.
			key = ledger.NewIdempotencyKey()
		}
	} else {
		key = ledger.NewIdempotencyKey()
	}

	call = &inFlightCall{done: make(chan struct{})}
	c.inFlight[key] = call
	return key, nil, call
}

// run performs the funds precheck, the durable write, and the race between
// the pay call and the submit bound.
func (c *Coordinator) run(ctx context.Context, key string, req SubmitRequest) (SubmitResult, error) {
	// Best-effort funds precheck: a wallet that cannot report a balance
	// skips it, and errors never block the submission.
	if req.Amount > 0 {
		if sats, ok, err := c.capability.Balance(ctx); err == nil && ok && sats < req.Amount {
			if c.metrics != nil {
				c.metrics.InsufficientFunds.Inc()
			}
			return SubmitResult{}, apperrors.New(apperrors.ErrCodeInsufficientFunds, "amount exceeds available balance")
		}
	}

	attempt, err := ledger.NewAttempt(key, req.Invoice, req.Amount, req.Description)
	if err != nil {
		return SubmitResult{}, apperrors.Wrap(apperrors.ErrCodeInvalidInput, "invalid attempt", err)
	}

	// Durability precedes action: the submitted record must hit the
	// ledger before the remote call goes out.
	c.ledger.Put(ctx, attempt)
	c.publish(ctx, events.TypePaymentSubmitted, attempt)

	type payOutcome struct {
		accepted bool
		err      error
	}
	payCh := make(chan payOutcome, 1)

	// resolved is the race arbiter: whoever flips it owns the
	// disposition. A late pay resolution after the timeout flips nothing
	// and is informational only.
	var resolved atomic.Bool

	// The pay call outlives the caller's context on purpose: navigating
	// away must not cancel a payment already in flight.
	payCtx := context.WithoutCancel(ctx)
	go func() {
		accepted, payErr := c.capability.PayInvoice(payCtx, req.Invoice)
		if resolved.CompareAndSwap(false, true) {
			payCh <- payOutcome{accepted: accepted, err: payErr}
			return
		}
		// Handoff already happened; the watcher owns the attempt.
		c.log.Info().
			Str("idempotency_key", key).
			Bool("accepted", accepted).
			Err(payErr).
			Msg("late pay resolution after pending handoff")
		if payErr == nil && accepted {
			c.watcher.NudgeKey(key)
		}
	}()

	timer := time.NewTimer(c.payTimeout)
	defer timer.Stop()

	select {
	case out := <-payCh:
		return c.resolve(ctx, attempt, out.accepted, out.err)

	case <-timer.C:
		if !resolved.CompareAndSwap(false, true) {
			// The pay goroutine won the race on the wire; take its
			// result.
			out := <-payCh
			return c.resolve(ctx, attempt, out.accepted, out.err)
		}
		return c.handoff(ctx, attempt)
	}
}

// resolve applies a pay-call result that arrived before the bound. Every
// error here is terminal for the attempt: the entry is removed so a retry
// mints or reuses a key explicitly.
func (c *Coordinator) resolve(ctx context.Context, attempt ledger.PaymentAttempt, accepted bool, payErr error) (SubmitResult, error) {
	key := attempt.IdempotencyKey

	if payErr != nil {
		classified := apperrors.Classify(payErr)
		c.fail(ctx, attempt, classified)
		return SubmitResult{}, classified
	}
	if !accepted {
		classified := apperrors.New(apperrors.ErrCodePaymentRejected, "payment rejected by the network layer")
		c.fail(ctx, attempt, classified)
		return SubmitResult{}, classified
	}

	if err := attempt.MarkSettled(); err == nil {
		c.ledger.Put(ctx, attempt)
	}
	c.ledger.Remove(ctx, key)

	c.log.Info().
		Str("idempotency_key", key).
		Str("invoice", logger.TruncateInvoice(attempt.Invoice)).
		Int64("amount", attempt.Amount).
		Msg("payment settled within submit bound")

	if c.notifier != nil {
		c.notifier.PaymentSettled(ctx, callbacks.PaymentEvent{
			IdempotencyKey: key,
			Invoice:        attempt.Invoice,
			Amount:         attempt.Amount,
			Description:    attempt.Description,
			SubmittedAt:    attempt.CreatedAt,
		})
	}
	c.publish(ctx, events.TypePaymentSettled, attempt)

	return SubmitResult{Outcome: OutcomeSuccess, Key: key}, nil
}

// fail records a terminal failure and removes the ledger entry.
func (c *Coordinator) fail(ctx context.Context, attempt ledger.PaymentAttempt, classified *apperrors.PaymentError) {
	key := attempt.IdempotencyKey

	if err := attempt.MarkFailed(); err == nil {
		c.ledger.Put(ctx, attempt)
	}
	c.ledger.Remove(ctx, key)

	c.log.Warn().
		Str("idempotency_key", key).
		Str("code", string(classified.Code)).
		Err(classified.Cause).
		Msg("payment attempt failed")

	if c.notifier != nil {
		c.notifier.PaymentFailed(ctx, callbacks.PaymentEvent{
			IdempotencyKey: key,
			Invoice:        attempt.Invoice,
			Amount:         attempt.Amount,
			Description:    attempt.Description,
			ErrorCode:      string(classified.Code),
			SubmittedAt:    attempt.CreatedAt,
		})
	}
	c.publish(ctx, events.TypePaymentFailed, attempt)
}

// handoff marks the attempt pending and transfers ownership to the
// watcher. From here on the coordinator never mutates this entry again.
func (c *Coordinator) handoff(ctx context.Context, attempt ledger.PaymentAttempt) (SubmitResult, error) {
	key := attempt.IdempotencyKey

	if err := attempt.MarkPending(); err == nil {
		c.ledger.Put(ctx, attempt)
	}

	c.log.Info().
		Str("idempotency_key", key).
		Dur("bound", c.payTimeout).
		Msg("submit bound elapsed, handing attempt to settlement watcher")

	c.watcher.Watch(key)
	c.publish(ctx, events.TypePaymentPending, attempt)

	return SubmitResult{Outcome: OutcomePending, Key: key}, nil
}

// Get returns the attempt stored under key.
func (c *Coordinator) Get(ctx context.Context, key string) (ledger.PaymentAttempt, error) {
	attempt, ok := c.ledger.Get(ctx, key)
	if !ok {
		return ledger.PaymentAttempt{}, apperrors.New(apperrors.ErrCodeAttemptNotFound, "no attempt under key")
	}
	return attempt, nil
}

// ListPending returns all attempts awaiting a disposition.
func (c *Coordinator) ListPending(ctx context.Context) []ledger.PaymentAttempt {
	return c.ledger.ListPending(ctx)
}

// Abandon stops tracking the attempt and removes its ledger entry. The
// remote payment, if still routing, is unaffected; abandoning only drops
// the bookkeeping. Abandoning an unknown key is a no-op.
func (c *Coordinator) Abandon(ctx context.Context, key string) {
	c.watcher.StopWatching(key)
	c.ledger.Remove(ctx, key)
	c.log.Info().Str("idempotency_key", key).Msg("attempt abandoned by caller")
}

// Degraded reports whether ledger persistence is currently failing.
func (c *Coordinator) Degraded() bool {
	return c.ledger.Degraded()
}

func (c *Coordinator) publish(ctx context.Context, eventType string, attempt ledger.PaymentAttempt) {
	if c.publisher == nil {
		return
	}
	evt, err := events.NewEvent(eventType, attempt.IdempotencyKey, attempt)
	if err != nil {
		return
	}
	if err := c.publisher.Publish(ctx, evt); err != nil {
		c.log.Warn().Err(err).Str("type", eventType).Msg("event publish failed")
	}
}
