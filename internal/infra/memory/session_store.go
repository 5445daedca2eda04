package memory

import (
	"sync"

	"quiz-offline-service/internal/app"
)

// SessionStore keeps the live progress sessions of connected users in memory.
type SessionStore struct {
	mu       sync.Mutex
	sessions map[string]*app.Session
}

func NewSessionStore() *SessionStore {
	return &SessionStore{
		sessions: make(map[string]*app.Session),
	}
}

// Acquire returns the session of userID and reports whether it was created.
func (s *SessionStore) Acquire(userID string) (*app.Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if session, ok := s.sessions[userID]; ok {
		return session, false
	}
	session := app.NewSession(userID)
	s.sessions[userID] = session
	return session, true
}

func (s *SessionStore) GetOrCreate(userID string) *app.Session {
	session, _ := s.Acquire(userID)
	return session
}

func (s *SessionStore) Get(userID string) (*app.Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[userID]
	return session, ok
}

// RemoveIdle drops the session once it has no subscribers and no answering state,
// and reports whether it did.
func (s *SessionStore) RemoveIdle(userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[userID]
	if !ok || !session.IsIdle() {
		return false
	}
	delete(s.sessions, userID)
	return true
}

func (s *SessionStore) DeleteIfIdle(userID string) {
	s.RemoveIdle(userID)
}

// Len is the number of live sessions.
func (s *SessionStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}
