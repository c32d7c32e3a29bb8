// Package watcher resolves pending payment attempts to a terminal state by
// polling the wallet's invoice lookup with backoff. It owns every attempt
// the coordinator hands off as pending; nothing else mutates those ledger
// entries once the handoff happens.
package watcher

import (
	"context"
	"sync"
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

// Outcome is the result of one reconciliation poll.
type Outcome string

const (
	OutcomeSettled      Outcome = "settled"
	OutcomeStillPending Outcome = "still_pending"
	// OutcomeNotFound means the wallet has no record of the invoice.
	// Ambiguous, so it is treated as still-pending rather than failed:
	// declaring a routing payment lost would be a false negative.
	OutcomeNotFound Outcome = "not_found"
)

// Result describes one reconciliation attempt. Not persisted.
type Result struct {
	Key      string  `json:"key"`
	Resolved bool    `json:"resolved"`
	Outcome  Outcome `json:"outcome"`
}

// Watcher tracks pending attempts and polls until settlement is observed
// or tracking is cancelled.
type Watcher struct {
	capability    wallet.Capability
	ledger        *ledger.Ledger
	notifier      callbacks.Notifier
	publisher     events.Publisher
	metrics       *metrics.Metrics
	log           zerolog.Logger
	backoff       []time.Duration
	lookupTimeout time.Duration
	maxWatchers   int

	mu        sync.Mutex
	entries   map[string]*entry
	byInvoice map[string]string // invoice -> idempotency key
	wg        sync.WaitGroup
}

type entry struct {
	stop  chan struct{}
	nudge chan struct{}
}

// Config carries watcher construction parameters.
type Config struct {
	// Backoff is the poll delay schedule; the last entry repeats.
	Backoff       []time.Duration
	LookupTimeout time.Duration
	MaxWatchers   int
}

// New creates a watcher. Call Resume to pick up attempts left over from a
// previous process.
func New(capability wallet.Capability, lg *ledger.Ledger, cfg Config, notifier callbacks.Notifier, publisher events.Publisher, m *metrics.Metrics, log zerolog.Logger) *Watcher {
	backoff := cfg.Backoff
	if len(backoff) == 0 {
		backoff = []time.Duration{2 * time.Second, 3 * time.Second, 5 * time.Second, 8 * time.Second, 13 * time.Second}
	}
	lookupTimeout := cfg.LookupTimeout
	if lookupTimeout <= 0 {
		lookupTimeout = 5 * time.Second
	}
	maxWatchers := cfg.MaxWatchers
	if maxWatchers <= 0 {
		maxWatchers = 256
	}

	return &Watcher{
		capability:    capability,
		ledger:        lg,
		notifier:      notifier,
		publisher:     publisher,
		metrics:       m,
		log:           log.With().Str("component", "watcher").Logger(),
		backoff:       backoff,
		lookupTimeout: lookupTimeout,
		maxWatchers:   maxWatchers,
		entries:       make(map[string]*entry),
		byInvoice:     make(map[string]string),
	}
}

// Watch begins tracking the key. Idempotent if already watching.
func (w *Watcher) Watch(key string) {
	w.mu.Lock()
	if _, ok := w.entries[key]; ok {
		w.mu.Unlock()
		return
	}
	if len(w.entries) >= w.maxWatchers {
		w.mu.Unlock()
		w.log.Error().Str("idempotency_key", key).Int("max_watchers", w.maxWatchers).
			Msg("watcher capacity reached, attempt stays in ledger for manual reconcile")
		return
	}

	e := &entry{
		stop:  make(chan struct{}),
		nudge: make(chan struct{}, 1),
	}
	w.entries[key] = e

	if attempt, ok := w.ledger.Get(context.Background(), key); ok {
		w.byInvoice[attempt.Invoice] = key
	}
	w.mu.Unlock()

	if w.metrics != nil {
		w.metrics.ActiveWatchers.Inc()
	}

	w.wg.Add(1)
	go w.loop(key, e)
}

// StopWatching cancels tracking for the key. The ledger entry itself is
// left untouched.
func (w *Watcher) StopWatching(key string) {
	w.mu.Lock()
	e, ok := w.entries[key]
	if ok {
		delete(w.entries, key)
		close(e.stop)
	}
	w.mu.Unlock()
}

// NudgeKey requests an immediate reconcile for a watched key. Used when a
// late pay resolution or a push hint suggests the attempt settled.
func (w *Watcher) NudgeKey(key string) {
	w.mu.Lock()
	e, ok := w.entries[key]
	w.mu.Unlock()
	if !ok {
		return
	}
	select {
	case e.nudge <- struct{}{}:
	default:
	}
}

// HintInvoice maps a settled-invoice push hint to its watched key and
// nudges it. Unknown invoices are ignored; hints are advisory only.
func (w *Watcher) HintInvoice(invoice string) {
	w.mu.Lock()
	key, ok := w.byInvoice[invoice]
	w.mu.Unlock()
	if !ok {
		return
	}
	if w.metrics != nil {
		w.metrics.PushHintsTotal.Inc()
	}
	w.NudgeKey(key)
}

// Resume is the crash-recovery path: every non-terminal ledger entry gets
// a watcher without any user action. Attempts still marked submitted died
// mid-call and are promoted to pending first.
func (w *Watcher) Resume(ctx context.Context) {
	attempts := w.ledger.ListPending(ctx)
	for _, attempt := range attempts {
		if attempt.Status == ledger.StatusSubmitted {
			if err := attempt.MarkPending(); err == nil {
				w.ledger.Put(ctx, attempt)
			}
		}
		w.log.Info().
			Str("idempotency_key", attempt.IdempotencyKey).
			Dur("age", attempt.Age()).
			Msg("resuming reconciliation for recovered attempt")
		w.Watch(attempt.IdempotencyKey)
	}
	if w.metrics != nil {
		w.metrics.PendingAttempts.Set(float64(len(attempts)))
	}
}

// loop runs one reconcile immediately, then follows the backoff schedule
// until settlement or cancellation. A nudge short-circuits the wait.
func (w *Watcher) loop(key string, e *entry) {
	defer w.wg.Done()
	defer func() {
		if w.metrics != nil {
			w.metrics.ActiveWatchers.Dec()
		}
		w.mu.Lock()
		if cur, ok := w.entries[key]; ok && cur == e {
			delete(w.entries, key)
		}
		w.mu.Unlock()
	}()

	step := 0
	for {
		result, err := w.ReconcileOnce(context.Background(), key)
		if err != nil {
			// Entry gone: someone else resolved or abandoned it.
			return
		}
		if result.Resolved {
			return
		}

		delay := w.backoff[step]
		if step < len(w.backoff)-1 {
			step++
		}

		select {
		case <-e.stop:
			return
		case <-e.nudge:
		case <-time.After(delay):
		}
	}
}

// ReconcileOnce performs a single status lookup for the attempt and applies
// the outcome. Lookup failures and timeouts leave the attempt pending.
func (w *Watcher) ReconcileOnce(ctx context.Context, key string) (Result, error) {
	if w.capability == nil {
		return Result{}, apperrors.New(apperrors.ErrCodeNotConnected, "no active wallet connection")
	}
	attempt, ok := w.ledger.Get(ctx, key)
	if !ok {
		return Result{}, apperrors.New(apperrors.ErrCodeAttemptNotFound, "no attempt under key")
	}

	lctx, cancel := context.WithTimeout(ctx, w.lookupTimeout)
	defer cancel()

	lookup, err := w.capability.LookupInvoice(lctx, attempt.Invoice)
	if err != nil {
		w.log.Debug().Err(err).Str("idempotency_key", key).Msg("status lookup failed, attempt stays pending")
		if w.metrics != nil {
			w.metrics.ObserveReconcile("error")
		}
		return Result{Key: key, Outcome: OutcomeStillPending}, nil
	}

	switch lookup.State {
	case wallet.LookupSettled:
		w.settle(ctx, attempt)
		if w.metrics != nil {
			w.metrics.ObserveReconcile(string(OutcomeSettled))
		}
		return Result{Key: key, Resolved: true, Outcome: OutcomeSettled}, nil

	case wallet.LookupNotFound:
		if w.metrics != nil {
			w.metrics.ObserveReconcile(string(OutcomeNotFound))
		}
		return Result{Key: key, Outcome: OutcomeNotFound}, nil

	default:
		if w.metrics != nil {
			w.metrics.ObserveReconcile(string(OutcomeStillPending))
		}
		return Result{Key: key, Outcome: OutcomeStillPending}, nil
	}
}

// settle records the terminal disposition: status advanced, entry removed,
// consumers notified. Status is written before removal so a crash between
// the two leaves a terminal entry rather than a lost one.
func (w *Watcher) settle(ctx context.Context, attempt ledger.PaymentAttempt) {
	if err := attempt.MarkSettled(); err != nil {
		return
	}
	w.ledger.Put(ctx, attempt)
	w.ledger.Remove(ctx, attempt.IdempotencyKey)

	w.mu.Lock()
	delete(w.byInvoice, attempt.Invoice)
	w.mu.Unlock()

	if w.metrics != nil {
		w.metrics.SettlementDuration.Observe(time.Since(attempt.CreatedAt).Seconds())
	}

	w.log.Info().
		Str("idempotency_key", attempt.IdempotencyKey).
		Str("invoice", logger.TruncateInvoice(attempt.Invoice)).
		Dur("elapsed", time.Since(attempt.CreatedAt)).
		Msg("pending payment confirmed settled")

	if w.notifier != nil {
		w.notifier.PaymentSettled(ctx, callbacks.PaymentEvent{
			IdempotencyKey: attempt.IdempotencyKey,
			Invoice:        attempt.Invoice,
			Amount:         attempt.Amount,
			Description:    attempt.Description,
			SubmittedAt:    attempt.CreatedAt,
		})
	}
	if w.publisher != nil {
		if evt, err := events.NewEvent(events.TypePaymentSettled, attempt.IdempotencyKey, attempt); err == nil {
			if err := w.publisher.Publish(ctx, evt); err != nil {
				w.log.Warn().Err(err).Msg("settled event publish failed")
			}
		}
	}
}

// Close stops every watcher goroutine and waits for them to exit.
func (w *Watcher) Close() error {
	w.mu.Lock()
	for key, e := range w.entries {
		close(e.stop)
		delete(w.entries, key)
	}
	w.mu.Unlock()
	w.wg.Wait()
	return nil
}
