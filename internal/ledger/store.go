package ledger

import (
	"context"
	"errors"
	"sync"
)

// ErrNotFound is returned by Get when no attempt exists under the key.
var ErrNotFound = errors.New("attempt not found")

// Store persists payment attempts keyed by idempotency key.
// Implementations must be safe for concurrent use.
type Store interface {
	// Put inserts or replaces the attempt under its idempotency key.
	Put(ctx context.Context, attempt PaymentAttempt) error
	// Get returns the attempt under key, or ErrNotFound.
	Get(ctx context.Context, key string) (PaymentAttempt, error)
	// Remove deletes the attempt under key. Removing an absent key is not an error.
	Remove(ctx context.Context, key string) error
	// ListPending returns every attempt still awaiting a disposition
	// (submitted or pending status).
	ListPending(ctx context.Context) ([]PaymentAttempt, error)
	// Close releases any resources held by the store.
	Close() error
}

// MemoryStore is an in-memory Store for tests and single-process deployments.
type MemoryStore struct {
	mu       sync.RWMutex
	attempts map[string]PaymentAttempt
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		attempts: make(map[string]PaymentAttempt),
	}
}

func (s *MemoryStore) Put(_ context.Context, attempt PaymentAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts[attempt.IdempotencyKey] = attempt
	return nil
}

func (s *MemoryStore) Get(_ context.Context, key string) (PaymentAttempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	attempt, ok := s.attempts[key]
	if !ok {
		return PaymentAttempt{}, ErrNotFound
	}
	return attempt, nil
}

func (s *MemoryStore) Remove(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.attempts, key)
	return nil
}

func (s *MemoryStore) ListPending(_ context.Context) ([]PaymentAttempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]PaymentAttempt, 0, len(s.attempts))
	for _, attempt := range s.attempts {
		if !attempt.IsTerminal() {
			out = append(out, attempt)
		}
	}
	return out, nil
}

func (s *MemoryStore) Close() error {
	return nil
}
