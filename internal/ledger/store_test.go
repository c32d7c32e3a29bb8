package ledger

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func TestMemoryStoreRoundtrip(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	attempt, _ := NewAttempt("pay_1", "lnbc1", 100, "coffee")
	if err := store.Put(ctx, attempt); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	got, err := store.Get(ctx, "pay_1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Invoice != "lnbc1" || got.Amount != 100 {
		t.Errorf("unexpected attempt: %+v", got)
	}

	if _, err := store.Get(ctx, "missing"); err != ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	if err := store.Remove(ctx, "pay_1"); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if _, err := store.Get(ctx, "pay_1"); err != ErrNotFound {
		t.Error("attempt still present after Remove")
	}

	// removing an absent key is not an error
	if err := store.Remove(ctx, "pay_1"); err != nil {
		t.Errorf("second Remove errored: %v", err)
	}
}

func TestMemoryStoreListPending(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	submitted, _ := NewAttempt("pay_1", "lnbc1", 100, "")
	pending, _ := NewAttempt("pay_2", "lnbc2", 200, "")
	_ = pending.MarkPending()
	settled, _ := NewAttempt("pay_3", "lnbc3", 300, "")
	_ = settled.MarkSettled()

	for _, a := range []PaymentAttempt{submitted, pending, settled} {
		if err := store.Put(ctx, a); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
	}

	got, err := store.ListPending(ctx)
	if err != nil {
		t.Fatalf("ListPending failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 non-terminal attempts, got %d", len(got))
	}
	for _, a := range got {
		if a.IsTerminal() {
			t.Errorf("terminal attempt %s returned by ListPending", a.IdempotencyKey)
		}
	}
}

func TestFileStorePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "attempts.json")
	ctx := context.Background()

	store, err := NewFileStore(path, time.Minute)
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}

	attempt, _ := NewAttempt("pay_1", "lnbc1", 100, "coffee")
	_ = attempt.MarkPending()
	if err := store.Put(ctx, attempt); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	reopened, err := NewFileStore(path, time.Minute)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer reopened.Close()

	got, err := reopened.Get(ctx, "pay_1")
	if err != nil {
		t.Fatalf("Get after reopen failed: %v", err)
	}
	if got.Status != StatusPending || got.Invoice != "lnbc1" {
		t.Errorf("unexpected attempt after reopen: %+v", got)
	}

	pending, err := reopened.ListPending(ctx)
	if err != nil {
		t.Fatalf("ListPending failed: %v", err)
	}
	if len(pending) != 1 {
		t.Errorf("expected 1 pending attempt after reopen, got %d", len(pending))
	}
}

func TestFileStoreRemove(t *testing.T) {
	path := filepath.Join(t.TempDir(), "attempts.json")
	ctx := context.Background()

	store, err := NewFileStore(path, time.Minute)
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}

	attempt, _ := NewAttempt("pay_1", "lnbc1", 100, "")
	_ = store.Put(ctx, attempt)
	_ = store.Remove(ctx, "pay_1")
	if err := store.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	reopened, err := NewFileStore(path, time.Minute)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer reopened.Close()

	if _, err := reopened.Get(ctx, "pay_1"); err != ErrNotFound {
		t.Errorf("removed attempt survived reopen: %v", err)
	}
}
