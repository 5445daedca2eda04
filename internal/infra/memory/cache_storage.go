package memory

import (
	"context"
	"sort"
	"sync"

	"quiz-offline-service/internal/offline"
)

// CacheStorage is an in-process implementation of offline.Storage.
type CacheStorage struct {
	mu     sync.RWMutex
	order  []string
	caches map[string]*Cache
}

func NewCacheStorage() *CacheStorage {
	return &CacheStorage{
		caches: make(map[string]*Cache),
	}
}

func (s *CacheStorage) Open(_ context.Context, name string) (offline.Cache, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.caches[name]; ok {
		return c, nil
	}
	c := &Cache{entries: make(map[string]offline.Snapshot)}
	s.caches[name] = c
	s.order = append(s.order, name)
	return c, nil
}

func (s *CacheStorage) Keys(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.order...), nil
}

func (s *CacheStorage) Has(_ context.Context, name string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.caches[name]
	return ok, nil
}

func (s *CacheStorage) Delete(_ context.Context, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.caches[name]; !ok {
		return false, nil
	}
	delete(s.caches, name)
	for i, n := range s.order {
		if n == name {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return true, nil
}

// Cache is one in-memory namespace. Snapshots are cloned on the way in and out.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]offline.Snapshot
}

func (c *Cache) Match(_ context.Context, key string) (offline.Snapshot, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	snap, ok := c.entries[key]
	if !ok {
		return offline.Snapshot{}, false, nil
	}
	return snap.Clone(), true, nil
}

func (c *Cache) Put(_ context.Context, key string, snap offline.Snapshot) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = snap.Clone()
	return nil
}

func (c *Cache) Keys(_ context.Context) ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	keys := make([]string, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}
