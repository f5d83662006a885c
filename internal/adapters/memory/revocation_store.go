package memory

import (
	"context"
	"sync"
	"time"
)

type RevocationStore struct {
	mu    sync.Mutex
	rows  map[string]time.Time
	nowFn func() time.Time
}

func NewRevocationStore() *RevocationStore {
	return &RevocationStore{rows: map[string]time.Time{}, nowFn: func() time.Time { return time.Now().UTC() }}
}

func (s *RevocationStore) MarkRevoked(_ context.Context, token string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[token] = expiresAt
	return nil
}

func (s *RevocationStore) IsRevoked(_ context.Context, token string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	until, ok := s.rows[token]
	if !ok {
		return false, nil
	}
	if !s.nowFn().Before(until) {
		delete(s.rows, token)
		return false, nil
	}
	return true, nil
}
