//go:build !integration

package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"mpesa-payment-core/internal/domain"
	"mpesa-payment-core/internal/domain/model"
)

func TestSessionStore_ExpiresLazily(t *testing.T) {
	ctx := context.Background()
	store := NewSessionStore()

	current := time.Now()
	store.now = func() time.Time { return current }

	if err := store.Put(ctx, "sess-1", &model.SessionPaymentState{CurrentDocumentID: "d"}); err != nil {
		t.Fatalf("Put: %v", err)
	}

	// Inside the TTL the entry is served.
	current = current.Add(29 * time.Minute)
	if _, err := store.Get(ctx, "sess-1"); err != nil {
		t.Fatalf("expected a live entry at 29 minutes: %v", err)
	}

	// Past the TTL the entry is gone.
	current = current.Add(2 * time.Minute)
	if _, err := store.Get(ctx, "sess-1"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound at 31 minutes, got %v", err)
	}
}

func TestSessionStore_PutRefreshesTTL(t *testing.T) {
	ctx := context.Background()
	store := NewSessionStore()

	current := time.Now()
	store.now = func() time.Time { return current }

	_ = store.Put(ctx, "sess-1", &model.SessionPaymentState{CurrentDocumentID: "a"})
	current = current.Add(20 * time.Minute)
	_ = store.Put(ctx, "sess-1", &model.SessionPaymentState{CurrentDocumentID: "b"})

	// 25 minutes after the second write, 45 after the first.
	current = current.Add(25 * time.Minute)
	got, err := store.Get(ctx, "sess-1")
	if err != nil {
		t.Fatalf("expected the refreshed entry: %v", err)
	}
	if got.CurrentDocumentID != "b" {
		t.Errorf("expected the latest state, got %q", got.CurrentDocumentID)
	}
}

func TestSessionStore_Clear(t *testing.T) {
	ctx := context.Background()
	store := NewSessionStore()
	_ = store.Put(ctx, "sess-1", &model.SessionPaymentState{CurrentDocumentID: "d"})
	if err := store.Clear(ctx, "sess-1"); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if _, err := store.Get(ctx, "sess-1"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
