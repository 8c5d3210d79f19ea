package kv

import (
	"context"
	"strings"
	"sync"
	"time"
)

// MemoryStore is an in-process Store with per-key TTL. It backs tests
// and single-instance deployments that have no shared Redis; health
// state kept here is naturally invisible to other processes.
//
// Expiry is lazy: entries are checked on read and overwritten on the
// next probe cycle. The keyspace is bounded by the number of configured
// connections, so no background janitor is needed.
type MemoryStore struct {
	mu    sync.RWMutex
	items map[string]memoryItem
}

type memoryItem struct {
	value     []byte
	expiresAt time.Time
	hasExpiry bool
}

func (it memoryItem) expired(now time.Time) bool {
	return it.hasExpiry && now.After(it.expiresAt)
}

// NewMemory creates an empty in-memory store.
func NewMemory() *MemoryStore {
	return &MemoryStore{items: make(map[string]memoryItem)}
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	it, ok := s.items[key]
	if !ok || it.expired(time.Now()) {
		return nil, ErrNotFound
	}

	out := make([]byte, len(it.value))
	copy(out, it.value)
	return out, nil
}

// Put implements Store.
func (s *MemoryStore) Put(_ context.Context, key string, value []byte, ttl time.Duration) error {
	it := memoryItem{value: make([]byte, len(value)), hasExpiry: ttl > 0}
	copy(it.value, value)
	if it.hasExpiry {
		it.expiresAt = time.Now().Add(ttl)
	}

	s.mu.Lock()
	s.items[key] = it
	s.mu.Unlock()
	return nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.items, key)
	s.mu.Unlock()
	return nil
}

// Ping implements Store. An in-memory store is always reachable.
func (s *MemoryStore) Ping(context.Context) error {
	return nil
}

// FlushPrefix implements Flusher.
func (s *MemoryStore) FlushPrefix(_ context.Context, prefix string) error {
	s.mu.Lock()
	for key := range s.items {
		if strings.HasPrefix(key, prefix) {
			delete(s.items, key)
		}
	}
	s.mu.Unlock()
	return nil
}

// Len reports the number of live entries. Used by tests.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := time.Now()
	n := 0
	for _, it := range s.items {
		if !it.expired(now) {
			n++
		}
	}
	return n
}
