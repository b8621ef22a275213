package cache

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	entry     Entry
	expiresAt time.Time
}

// Memory is an in-process cache for single-instance deployments and tests.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	ttl     time.Duration
	now     func() time.Time
}

func NewMemory(ttl time.Duration) *Memory {
	return &Memory{entries: make(map[string]memoryEntry), ttl: ttl, now: time.Now}
}

func (m *Memory) Get(_ context.Context, key string) (Entry, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[key]
	if !ok || (m.ttl > 0 && m.now().After(e.expiresAt)) {
		return Entry{}, false, nil
	}
	return e.entry, true, nil
}

func (m *Memory) Set(_ context.Context, key string, e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = memoryEntry{entry: e, expiresAt: m.now().Add(m.ttl)}
	return nil
}
