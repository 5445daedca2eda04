package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// ProgressStore keeps each user's progress documents in one hash:
// HSET progress:{userID} {key} {json}. Clear is a single DEL, so a full reset is
// atomic.
type ProgressStore struct {
	client *redis.Client
}

func NewProgressStore(client *redis.Client) *ProgressStore {
	return &ProgressStore{client: client}
}

func (s *ProgressStore) Get(ctx context.Context, userID, key string) ([]byte, bool, error) {
	value, err := s.client.HGet(ctx, s.hash(userID), key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis hget %s: %w", key, err)
	}
	return value, true, nil
}

func (s *ProgressStore) Set(ctx context.Context, userID, key string, value []byte) error {
	if err := s.client.HSet(ctx, s.hash(userID), key, value).Err(); err != nil {
		return fmt.Errorf("redis hset %s: %w", key, err)
	}
	return nil
}

func (s *ProgressStore) Delete(ctx context.Context, userID, key string) error {
	if err := s.client.HDel(ctx, s.hash(userID), key).Err(); err != nil {
		return fmt.Errorf("redis hdel %s: %w", key, err)
	}
	return nil
}

func (s *ProgressStore) Clear(ctx context.Context, userID string) error {
	if err := s.client.Del(ctx, s.hash(userID)).Err(); err != nil {
		return fmt.Errorf("redis del progress: %w", err)
	}
	return nil
}

func (s *ProgressStore) hash(userID string) string {
	return "progress:" + userID
}
