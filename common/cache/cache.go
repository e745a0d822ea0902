package cache

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// DefaultTTL is how long research results stay fresh.
const DefaultTTL = 300 * time.Second

// Cache stores structured values keyed by (namespace, key). Reads may run
// concurrently; concurrent writes to the same key are last-writer-wins.
type Cache interface {
	Get(ctx context.Context, namespace, key string) (json.RawMessage, bool, error)
	Set(ctx context.Context, namespace, key string, value json.RawMessage) error
}

type entry struct {
	value     json.RawMessage
	expiresAt time.Time
}

// Memory is an in-process TTL cache.
type Memory struct {
	mu      sync.RWMutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]entry
}

// NewMemory returns a Memory cache. A zero ttl uses DefaultTTL.
func NewMemory(ttl time.Duration) *Memory {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Memory{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]entry),
	}
}

func (m *Memory) Get(_ context.Context, namespace, key string) (json.RawMessage, bool, error) {
	m.mu.RLock()
	e, ok := m.entries[cacheKey(namespace, key)]
	m.mu.RUnlock()

	if !ok || !m.now().Before(e.expiresAt) {
		return nil, false, nil
	}
	return e.value, true, nil
}

func (m *Memory) Set(_ context.Context, namespace, key string, value json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	m.entries[cacheKey(namespace, key)] = entry{value: value, expiresAt: now.Add(m.ttl)}

	// Sweep expired entries on write so the map does not grow without bound.
	for k, e := range m.entries {
		if !now.Before(e.expiresAt) {
			delete(m.entries, k)
		}
	}
	return nil
}

func cacheKey(namespace, key string) string {
	return namespace + "-" + key
}
