package cache

import (
	"context"
	"sync"
	"time"

	"github.com/FranksOps/sift/internal/model"
)

var (
	_ Store   = (*MemoryStore)(nil)
	_ Sweeper = (*MemoryStore)(nil)
)

type memoryEntry struct {
	items      []model.ResultItem
	insertedAt time.Time
	ttl        time.Duration
}

func (e memoryEntry) expired(now time.Time) bool {
	return now.Sub(e.insertedAt) > e.ttl
}

// MemoryStore keeps entries in process memory. Expired entries are dropped
// lazily on Get and in bulk by Sweep.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	now     func() time.Time
}

// NewMemoryStore creates an empty in-process store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

func (m *MemoryStore) Get(ctx context.Context, key string) ([]model.ResultItem, bool, error) {
	m.mu.RLock()
	e, ok := m.entries[key]
	m.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}

	if e.expired(m.now()) {
		m.mu.Lock()
		// Re-check: a concurrent Set may have refreshed the entry.
		if cur, ok := m.entries[key]; ok && cur.expired(m.now()) {
			delete(m.entries, key)
		}
		m.mu.Unlock()
		return nil, false, nil
	}
	return cloneItems(e.items), true, nil
}

func (m *MemoryStore) Set(ctx context.Context, key string, items []model.ResultItem, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = memoryEntry{items: cloneItems(items), insertedAt: m.now(), ttl: ttl}
	return nil
}

func (m *MemoryStore) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = make(map[string]memoryEntry)
	return nil
}

// Sweep removes all expired entries.
func (m *MemoryStore) Sweep(ctx context.Context) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	n := 0
	for k, e := range m.entries {
		if e.expired(now) {
			delete(m.entries, k)
			n++
		}
	}
	return n
}

// Len returns the number of stored entries, expired or not.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}
