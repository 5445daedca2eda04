package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"

	"quiz-offline-service/internal/offline"
)

// CacheStorage shares cache namespaces between service instances.
// Namespaces are members of a sorted set scored by creation sequence:
//
//	ZADD offline:caches {seq} {name}
//
// and each namespace is a hash of request key to JSON snapshot:
//
//	HSET offline:cache:{name} {requestKey} {snapshot}
type CacheStorage struct {
	client *redis.Client
	prefix string
}

func NewCacheStorage(client *redis.Client) *CacheStorage {
	return &CacheStorage{client: client, prefix: "offline"}
}

func (s *CacheStorage) indexKey() string { return s.prefix + ":caches" }
func (s *CacheStorage) seqKey() string   { return s.prefix + ":caches:seq" }
func (s *CacheStorage) hashKey(name string) string {
	return s.prefix + ":cache:" + name
}

func (s *CacheStorage) Open(ctx context.Context, name string) (offline.Cache, error) {
	exists, err := s.Has(ctx, name)
	if err != nil {
		return nil, err
	}
	if !exists {
		seq, err := s.client.Incr(ctx, s.seqKey()).Result()
		if err != nil {
			return nil, fmt.Errorf("redis incr cache sequence: %w", err)
		}
		// NX keeps the original position when another instance won the race
		if err := s.client.ZAddNX(ctx, s.indexKey(), redis.Z{Score: float64(seq), Member: name}).Err(); err != nil {
			return nil, fmt.Errorf("redis zadd %s: %w", name, err)
		}
	}
	return &Cache{client: s.client, key: s.hashKey(name)}, nil
}

func (s *CacheStorage) Keys(ctx context.Context) ([]string, error) {
	names, err := s.client.ZRange(ctx, s.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis zrange caches: %w", err)
	}
	return names, nil
}

func (s *CacheStorage) Has(ctx context.Context, name string) (bool, error) {
	err := s.client.ZScore(ctx, s.indexKey(), name).Err()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("redis zscore %s: %w", name, err)
	}
	return true, nil
}

// Delete removes the namespace from the index and drops its entries in one
// transaction.
func (s *CacheStorage) Delete(ctx context.Context, name string) (bool, error) {
	var removed *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		removed = pipe.ZRem(ctx, s.indexKey(), name)
		pipe.Del(ctx, s.hashKey(name))
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("redis delete cache %s: %w", name, err)
	}
	return removed.Val() > 0, nil
}

// Cache is one namespace hash.
type Cache struct {
	client *redis.Client
	key    string
}

func (c *Cache) Match(ctx context.Context, key string) (offline.Snapshot, bool, error) {
	raw, err := c.client.HGet(ctx, c.key, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return offline.Snapshot{}, false, nil
	}
	if err != nil {
		return offline.Snapshot{}, false, fmt.Errorf("redis hget %s: %w", key, err)
	}
	var snap offline.Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		// an unreadable entry is a miss; the next successful fetch overwrites it
		return offline.Snapshot{}, false, nil
	}
	return snap, true, nil
}

func (c *Cache) Put(ctx context.Context, key string, snap offline.Snapshot) error {
	raw, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := c.client.HSet(ctx, c.key, key, raw).Err(); err != nil {
		return fmt.Errorf("redis hset %s: %w", key, err)
	}
	return nil
}

func (c *Cache) Keys(ctx context.Context) ([]string, error) {
	keys, err := c.client.HKeys(ctx, c.key).Result()
	if err != nil {
		return nil, fmt.Errorf("redis hkeys: %w", err)
	}
	sort.Strings(keys)
	return keys, nil
}
