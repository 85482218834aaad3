package memory

import (
	"context"
	"sync"
	"time"
)

// InMemoryStore is a process-local core.Memory with per-entry expiry. Used
// by tests and by single-node deployments that run without Redis.
type InMemoryStore struct {
	mu         sync.RWMutex
	data       map[string]entry
	defaultTTL time.Duration
	now        func() time.Time
}

type entry struct {
	value  string
	expiry time.Time
}

// NewInMemoryStore creates an empty store with a one-hour default TTL.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		data:       make(map[string]entry),
		defaultTTL: time.Hour,
		now:        time.Now,
	}
}

func (m *InMemoryStore) Get(ctx context.Context, key string) (string, error) {
	m.mu.RLock()
	e, ok := m.data[key]
	m.mu.RUnlock()
	if !ok {
		return "", nil
	}
	if m.now().After(e.expiry) {
		m.mu.Lock()
		delete(m.data, key)
		m.mu.Unlock()
		return "", nil
	}
	return e.value, nil
}

func (m *InMemoryStore) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = m.defaultTTL
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = entry{value: value, expiry: m.now().Add(ttl)}
	return nil
}

func (m *InMemoryStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *InMemoryStore) Exists(ctx context.Context, key string) (bool, error) {
	v, err := m.Get(ctx, key)
	if err != nil {
		return false, err
	}
	return v != "", nil
}
