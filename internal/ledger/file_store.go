package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// FileStore implements Store using a single JSON file. Writes go to the
// in-memory map first; a background ticker flushes dirty state to disk.
// Attempts that must survive a crash (the submitted write in particular)
// are flushed synchronously.
//
// FileStore is intended for local development and single-instance
// deployments. Use the postgres or mongodb backends otherwise.
type FileStore struct {
	filePath    string
	mu          sync.RWMutex
	attempts    map[string]PaymentAttempt
	dirty       bool
	flushTicker *time.Ticker
	stopFlush   chan struct{}
	flushDone   chan struct{}
}

type fileData struct {
	Attempts map[string]PaymentAttempt `json:"attempts"`
}

// NewFileStore creates a file-backed store, loading any existing data.
func NewFileStore(filePath string, flushInterval time.Duration) (*FileStore, error) {
	dir := filepath.Dir(filePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}

	if flushInterval <= 0 {
		flushInterval = 5 * time.Second
	}

	store := &FileStore{
		filePath:    filePath,
		attempts:    make(map[string]PaymentAttempt),
		flushTicker: time.NewTicker(flushInterval),
		stopFlush:   make(chan struct{}),
		flushDone:   make(chan struct{}),
	}

	if err := store.load(); err != nil {
		return nil, err
	}

	go store.periodicFlush()

	return store, nil
}

// load reads data from the file. A missing or empty file starts fresh.
func (s *FileStore) load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := os.Stat(s.filePath); os.IsNotExist(err) {
		return nil
	}

	data, err := os.ReadFile(s.filePath)
	if err != nil {
		return fmt.Errorf("read ledger file: %w", err)
	}
	if len(data) == 0 {
		return nil
	}

	var fd fileData
	if err := json.Unmarshal(data, &fd); err != nil {
		return fmt.Errorf("unmarshal ledger data: %w", err)
	}
	if fd.Attempts != nil {
		s.attempts = fd.Attempts
	}
	return nil
}

// save writes the current state atomically via a temp file and rename.
// Caller must hold the lock.
func (s *FileStore) save() error {
	data, err := json.MarshalIndent(fileData{Attempts: s.attempts}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal ledger data: %w", err)
	}

	tmpPath := s.filePath + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := os.Rename(tmpPath, s.filePath); err != nil {
		return fmt.Errorf("rename temp file: %w", err)
	}

	s.dirty = false
	return nil
}

// periodicFlush writes dirty state to disk on each tick.
func (s *FileStore) periodicFlush() {
	defer close(s.flushDone)
	for {
		select {
		case <-s.flushTicker.C:
			s.mu.Lock()
			if s.dirty {
				_ = s.save()
			}
			s.mu.Unlock()
		case <-s.stopFlush:
			return
		}
	}
}

// Put writes the attempt through to disk before returning. The submitted
// record has to be durable before the remote pay call goes out, so Put
// cannot rely on the periodic flush alone.
func (s *FileStore) Put(_ context.Context, attempt PaymentAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts[attempt.IdempotencyKey] = attempt
	return s.save()
}

func (s *FileStore) Get(_ context.Context, key string) (PaymentAttempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	attempt, ok := s.attempts[key]
	if !ok {
		return PaymentAttempt{}, ErrNotFound
	}
	return attempt, nil
}

func (s *FileStore) Remove(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.attempts[key]; !ok {
		return nil
	}
	delete(s.attempts, key)
	s.dirty = true
	return nil
}

func (s *FileStore) ListPending(_ context.Context) ([]PaymentAttempt, error) {
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

// Close stops the flush loop and performs a final save.
func (s *FileStore) Close() error {
	s.flushTicker.Stop()
	close(s.stopFlush)
	<-s.flushDone

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save()
}
