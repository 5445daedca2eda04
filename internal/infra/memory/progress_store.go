package memory

import (
	"context"
	"sync"
)

// ProgressStore is an in-memory app.ProgressStore, one key space per user.
type ProgressStore struct {
	mu    sync.RWMutex
	users map[string]map[string][]byte
}

func NewProgressStore() *ProgressStore {
	return &ProgressStore{users: make(map[string]map[string][]byte)}
}

func (s *ProgressStore) Get(_ context.Context, userID, key string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	value, ok := s.users[userID][key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), value...), true, nil
}

func (s *ProgressStore) Set(_ context.Context, userID, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	scope, ok := s.users[userID]
	if !ok {
		scope = make(map[string][]byte)
		s.users[userID] = scope
	}
	scope[key] = append([]byte(nil), value...)
	return nil
}

func (s *ProgressStore) Delete(_ context.Context, userID, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.users[userID], key)
	return nil
}

func (s *ProgressStore) Clear(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.users, userID)
	return nil
}
