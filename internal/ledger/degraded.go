package ledger

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// Ledger wraps a Store so that ledger operations never fail the caller.
// When the backend errors, the operation is applied to an in-memory shadow
// instead and the ledger reports itself degraded: payment flow must not
// stop because bookkeeping hiccuped, it just loses crash-durability until
// the backend recovers.
type Ledger struct {
	backend  Store
	log      zerolog.Logger
	degraded atomic.Bool

	mu     sync.RWMutex
	shadow map[string]PaymentAttempt
}

// New wraps the backend store in never-fail semantics.
func New(backend Store, log zerolog.Logger) *Ledger {
	return &Ledger{
		backend: backend,
		log:     log.With().Str("component", "ledger").Logger(),
		shadow:  make(map[string]PaymentAttempt),
	}
}

// Degraded reports whether any recent backend operation failed and the
// ledger is running on its in-memory shadow.
func (l *Ledger) Degraded() bool {
	return l.degraded.Load()
}

// Put records the attempt. Always succeeds from the caller's view.
func (l *Ledger) Put(ctx context.Context, attempt PaymentAttempt) {
	l.mu.Lock()
	l.shadow[attempt.IdempotencyKey] = attempt
	l.mu.Unlock()

	if err := l.backend.Put(ctx, attempt); err != nil {
		l.noteFailure("put", attempt.IdempotencyKey, err)
		return
	}
	l.noteSuccess()
}

// Get returns the attempt under key and whether it exists. Backend
// failures fall back to the shadow.
func (l *Ledger) Get(ctx context.Context, key string) (PaymentAttempt, bool) {
	attempt, err := l.backend.Get(ctx, key)
	if err == nil {
		l.noteSuccess()
		return attempt, true
	}
	if errors.Is(err, ErrNotFound) {
		l.noteSuccess()
		// The shadow may hold a write the backend missed while degraded.
		l.mu.RLock()
		shadowed, ok := l.shadow[key]
		l.mu.RUnlock()
		return shadowed, ok
	}

	l.noteFailure("get", key, err)
	l.mu.RLock()
	shadowed, ok := l.shadow[key]
	l.mu.RUnlock()
	return shadowed, ok
}

// Remove deletes the attempt under key. Always succeeds from the caller's view.
func (l *Ledger) Remove(ctx context.Context, key string) {
	l.mu.Lock()
	delete(l.shadow, key)
	l.mu.Unlock()

	if err := l.backend.Remove(ctx, key); err != nil {
		l.noteFailure("remove", key, err)
		return
	}
	l.noteSuccess()
}

// ListPending returns attempts awaiting a disposition, merging the shadow
// over the backend so degraded-mode writes are not lost from view.
func (l *Ledger) ListPending(ctx context.Context) []PaymentAttempt {
	merged := make(map[string]PaymentAttempt)

	backend, err := l.backend.ListPending(ctx)
	if err != nil {
		l.noteFailure("list_pending", "", err)
	} else {
		l.noteSuccess()
		for _, attempt := range backend {
			merged[attempt.IdempotencyKey] = attempt
		}
	}

	l.mu.RLock()
	for key, attempt := range l.shadow {
		if !attempt.IsTerminal() {
			merged[key] = attempt
		}
	}
	l.mu.RUnlock()

	out := make([]PaymentAttempt, 0, len(merged))
	for _, attempt := range merged {
		out = append(out, attempt)
	}
	return out
}

// Close closes the backend store.
func (l *Ledger) Close() error {
	return l.backend.Close()
}

func (l *Ledger) noteFailure(op, key string, err error) {
	first := l.degraded.CompareAndSwap(false, true)
	evt := l.log.Warn().Str("op", op).Err(err)
	if key != "" {
		evt = evt.Str("idempotency_key", key)
	}
	if first {
		evt.Msg("ledger backend failing, continuing on in-memory shadow")
	} else {
		evt.Msg("ledger backend operation failed")
	}
}

func (l *Ledger) noteSuccess() {
	if l.degraded.CompareAndSwap(true, false) {
		l.log.Info().Msg("ledger backend recovered")
	}
}
