package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"mpesa-payment-core/internal/domain"
	"mpesa-payment-core/internal/domain/model"
	"mpesa-payment-core/internal/domain/ports/repository"
)

var _ repository.SessionPaymentStore = (*SessionStore)(nil)

// SessionStore keeps per-session payment state in Redis. Keys carry the
// session payment TTL so abandoned sessions clean themselves up.
type SessionStore struct {
	client RedisClient
}

func NewSessionStore(client RedisClient) *SessionStore {
	return &SessionStore{client: client}
}

func (s *SessionStore) key(sessionID string) string {
	return fmt.Sprintf("payment_session:%s", sessionID)
}

func (s *SessionStore) Put(ctx context.Context, sessionID string, state *model.SessionPaymentState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal session payment state: %w", err)
	}
	return s.client.Set(ctx, s.key(sessionID), data, model.SessionPaymentTTL)
}

func (s *SessionStore) Get(ctx context.Context, sessionID string) (*model.SessionPaymentState, error) {
	data, err := s.client.Get(ctx, s.key(sessionID))
	if err != nil {
		if IsNil(err) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	var state model.SessionPaymentState
	if err := json.Unmarshal([]byte(data), &state); err != nil {
		return nil, fmt.Errorf("unmarshal session payment state: %w", err)
	}
	return &state, nil
}

func (s *SessionStore) Clear(ctx context.Context, sessionID string) error {
	return s.client.Del(ctx, s.key(sessionID))
}
