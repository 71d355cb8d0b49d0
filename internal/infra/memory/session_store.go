package memory

import (
	"context"
	"sync"
	"time"

	"mpesa-payment-core/internal/domain"
	"mpesa-payment-core/internal/domain/model"
	"mpesa-payment-core/internal/domain/ports/repository"
)

var _ repository.SessionPaymentStore = (*SessionStore)(nil)

// SessionStore is the in-process SessionPaymentStore for single-node
// deployments and tests. Entries expire lazily on read, mirroring the Redis
// key TTL.
type SessionStore struct {
	mu  sync.Mutex
	m   map[string]entry
	now func() time.Time
}

type entry struct {
	state     *model.SessionPaymentState
	expiresAt time.Time
}

func NewSessionStore() *SessionStore {
	return &SessionStore{m: make(map[string]entry), now: time.Now}
}

func (s *SessionStore) Put(_ context.Context, sessionID string, state *model.SessionPaymentState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[sessionID] = entry{state: state, expiresAt: s.now().Add(model.SessionPaymentTTL)}
	return nil
}

func (s *SessionStore) Get(_ context.Context, sessionID string) (*model.SessionPaymentState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.m[sessionID]
	if !ok || s.now().After(e.expiresAt) {
		delete(s.m, sessionID)
		return nil, domain.ErrNotFound
	}
	return e.state, nil
}

func (s *SessionStore) Clear(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, sessionID)
	return nil
}
