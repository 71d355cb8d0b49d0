//go:build !integration

package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"mpesa-payment-core/internal/domain"
	"mpesa-payment-core/internal/domain/model"
)

// fakeRedis records Set calls and serves Get from an in-memory map.
type fakeRedis struct {
	data    map[string]string
	lastTTL time.Duration
}

func newFakeRedis() *fakeRedis { return &fakeRedis{data: make(map[string]string)} }

func (f *fakeRedis) Ping(ctx context.Context) error { return nil }

func (f *fakeRedis) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	f.lastTTL = expiration
	switch v := value.(type) {
	case string:
		f.data[key] = v
	case []byte:
		f.data[key] = string(v)
	}
	return nil
}

func (f *fakeRedis) Get(ctx context.Context, key string) (string, error) {
	v, ok := f.data[key]
	if !ok {
		return "", goredis.Nil
	}
	return v, nil
}

func (f *fakeRedis) Del(ctx context.Context, keys ...string) error {
	for _, k := range keys {
		delete(f.data, k)
	}
	return nil
}

func (f *fakeRedis) Close() error { return nil }

func TestSessionStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	client := newFakeRedis()
	store := NewSessionStore(client)

	state := &model.SessionPaymentState{
		CurrentDocumentID: "doc_01J",
		Payment: &model.SessionPayment{
			DocumentID:        "doc_01J",
			CheckoutRequestID: "ws_CO_1",
			Amount:            100,
			CreatedAt:         time.Now().Truncate(time.Second),
			Verified:          true,
		},
	}
	if err := store.Put(ctx, "sess-1", state); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, err := store.Get(ctx, "sess-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.CurrentDocumentID != "doc_01J" || got.Payment == nil || got.Payment.CheckoutRequestID != "ws_CO_1" {
		t.Errorf("round trip mismatch: %+v", got)
	}
	if !got.Payment.Verified {
		t.Error("verified flag lost")
	}
}

func TestSessionStore_TTLAndKeying(t *testing.T) {
	ctx := context.Background()
	client := newFakeRedis()
	store := NewSessionStore(client)

	if err := store.Put(ctx, "sess-1", &model.SessionPaymentState{CurrentDocumentID: "d"}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if client.lastTTL != model.SessionPaymentTTL {
		t.Errorf("expected the session payment TTL, got %v", client.lastTTL)
	}
	if _, ok := client.data["payment_session:sess-1"]; !ok {
		t.Errorf("unexpected key layout: %v", client.data)
	}
}

func TestSessionStore_MissingSession(t *testing.T) {
	store := NewSessionStore(newFakeRedis())
	if _, err := store.Get(context.Background(), "nope"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSessionStore_Clear(t *testing.T) {
	ctx := context.Background()
	store := NewSessionStore(newFakeRedis())
	_ = store.Put(ctx, "sess-1", &model.SessionPaymentState{CurrentDocumentID: "d"})
	if err := store.Clear(ctx, "sess-1"); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if _, err := store.Get(ctx, "sess-1"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after clear, got %v", err)
	}
}
