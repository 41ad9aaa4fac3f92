package ratelimit

import (
	"context"
	"sort"
	"sync"
	"time"
)

// entry holds one key's counter.
type entry struct {
	count   int
	resetAt time.Time
}

// MemoryStore is an in-process CounterStore. A single mutex guards the whole
// map; every operation is O(1) except Sweep and Records, which run rarely.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*entry
}

// NewMemoryStore creates an empty in-memory counter store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]*entry),
	}
}

// Hit records one request for key.
func (m *MemoryStore) Hit(_ context.Context, key string, window time.Duration, now time.Time) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, exists := m.entries[key]
	if !exists || now.After(e.resetAt) {
		e = &entry{count: 1, resetAt: now.Add(window)}
		m.entries[key] = e
	} else {
		e.count++
	}

	return Record{Key: key, Count: e.count, ResetAt: e.resetAt}, nil
}

// Sweep removes entries whose window has already ended.
func (m *MemoryStore) Sweep(_ context.Context, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for key, e := range m.entries {
		if now.After(e.resetAt) {
			delete(m.entries, key)
			removed++
		}
	}
	return removed, nil
}

// Records returns a snapshot of active counters ordered by key.
func (m *MemoryStore) Records(_ context.Context, now time.Time) ([]Record, error) {
	m.mu.Lock()
	out := make([]Record, 0, len(m.entries))
	for key, e := range m.entries {
		if now.After(e.resetAt) {
			continue
		}
		out = append(out, Record{Key: key, Count: e.count, ResetAt: e.resetAt})
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// Delete removes the counter for key.
func (m *MemoryStore) Delete(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, exists := m.entries[key]
	delete(m.entries, key)
	return exists, nil
}

// Clear removes every counter.
func (m *MemoryStore) Clear(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := len(m.entries)
	m.entries = make(map[string]*entry)
	return n, nil
}

// Len reports the number of stored counters.
func (m *MemoryStore) Len(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries), nil
}

// Close drops all counters.
func (m *MemoryStore) Close() error {
	_, err := m.Clear(context.Background())
	return err
}
