package cache

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"
)

type memoryEntry struct {
	exp   time.Time
	value json.RawMessage
}

// Memory is a mutex-guarded in-process cache with passive TTL expiry: expired
// entries are dropped on the read that finds them, no background sweeper.
type Memory struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

func NewMemory() *Memory {
	return &Memory{entries: make(map[string]memoryEntry), now: time.Now}
}

func (m *Memory) Get(_ context.Context, key string) (json.RawMessage, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	hit, ok := m.entries[key]
	if !ok {
		return nil, false, nil
	}
	if m.now().After(hit.exp) {
		delete(m.entries, key)
		return nil, false, nil
	}
	return hit.value, true, nil
}

func (m *Memory) Set(_ context.Context, key string, value json.RawMessage, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = memoryEntry{exp: m.now().Add(ttl), value: value}
	return nil
}

func (m *Memory) InvalidatePrefix(_ context.Context, prefix string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k := range m.entries {
		if strings.HasPrefix(k, prefix) {
			delete(m.entries, k)
		}
	}
	return nil
}

func (m *Memory) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = make(map[string]memoryEntry)
	return nil
}
