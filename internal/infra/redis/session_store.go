package redis

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"quiz-offline-service/internal/app"
	"quiz-offline-service/internal/infra/memory"
)

// SessionStore keeps sessions and their subscribers in process and mirrors who is
// connected into Redis as a liveness key per user, so operators can see online
// users across instances. The key is refreshed on every access and removed when
// the session goes idle; a crashed instance's keys expire after ttl.
type SessionStore struct {
	client *redis.Client
	ttl    time.Duration
	local  *memory.SessionStore

	// orders marker writes against deletes of the same user
	mu sync.Mutex
}

func NewSessionStore(client *redis.Client, ttl time.Duration) *SessionStore {
	return &SessionStore{
		client: client,
		ttl:    ttl,
		local:  memory.NewSessionStore(),
	}
}

func (s *SessionStore) GetOrCreate(userID string) *app.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, _ := s.local.Acquire(userID)
	// best-effort
	_ = s.client.Set(context.Background(), sessionKey(userID), "1", s.ttl).Err()
	return session
}

func (s *SessionStore) Get(userID string) (*app.Session, bool) {
	return s.local.Get(userID)
}

func (s *SessionStore) DeleteIfIdle(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.local.RemoveIdle(userID) {
		_ = s.client.Del(context.Background(), sessionKey(userID)).Err()
	}
}

func sessionKey(userID string) string {
	return "progress:session:" + userID
}
