package storage

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"rentgate/internal/models"
)

// MemoryStorage keeps policy overrides and API keys in process memory. Nothing
// survives a restart, which suits tests and single-replica deployments that
// configure policies from YAML only.
type MemoryStorage struct {
	mu       sync.RWMutex
	policies map[string]models.Policy
	keys     map[string]*models.APIKey
	byHash   map[string]string
}

// NewMemoryStorage returns an empty store. The config is accepted so the
// factory can treat every backend the same way.
func NewMemoryStorage(_ Config) (*MemoryStorage, error) {
	m := &MemoryStorage{}
	m.reset()
	return m, nil
}

func (m *MemoryStorage) reset() {
	m.policies = make(map[string]models.Policy)
	m.keys = make(map[string]*models.APIKey)
	m.byHash = make(map[string]string)
}

func cloneAPIKey(k *models.APIKey) *models.APIKey {
	c := *k
	c.Permissions = slices.Clone(k.Permissions)
	return &c
}

func (m *MemoryStorage) Policies(_ context.Context) ([]*models.Policy, error) {
	m.mu.RLock()
	names := make([]string, 0, len(m.policies))
	for name := range m.policies {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]*models.Policy, len(names))
	for i, name := range names {
		p := m.policies[name]
		out[i] = &p
	}
	m.mu.RUnlock()
	return out, nil
}

func (m *MemoryStorage) GetPolicy(_ context.Context, name string) (*models.Policy, error) {
	m.mu.RLock()
	p, ok := m.policies[name]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
}

// SavePolicy stamps UpdatedAt when the caller left it empty.
func (m *MemoryStorage) SavePolicy(_ context.Context, policy *models.Policy) error {
	p := *policy
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = time.Now().UTC()
	}

	m.mu.Lock()
	m.policies[p.Name] = p
	m.mu.Unlock()
	return nil
}

func (m *MemoryStorage) DeletePolicy(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.policies[name]; !ok {
		return ErrNotFound
	}
	delete(m.policies, name)
	return nil
}

func (m *MemoryStorage) Ping(_ context.Context) error { return nil }

// Close drops everything held by the store.
func (m *MemoryStorage) Close() error {
	m.mu.Lock()
	m.reset()
	m.mu.Unlock()
	return nil
}

func (m *MemoryStorage) CreateAPIKey(_ context.Context, key *models.APIKey) error {
	c := cloneAPIKey(key)

	m.mu.Lock()
	m.keys[c.ID] = c
	m.byHash[c.KeyHash] = c.ID
	m.mu.Unlock()
	return nil
}

func (m *MemoryStorage) GetAPIKeyByHash(_ context.Context, hash string) (*models.APIKey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byHash[hash]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneAPIKey(m.keys[id]), nil
}

// ListAPIKeys returns enabled and disabled keys, oldest first.
func (m *MemoryStorage) ListAPIKeys(_ context.Context) ([]*models.APIKey, error) {
	m.mu.RLock()
	out := make([]*models.APIKey, 0, len(m.keys))
	for _, k := range m.keys {
		out = append(out, cloneAPIKey(k))
	}
	m.mu.RUnlock()

	sortAPIKeys(out)
	return out, nil
}

func (m *MemoryStorage) UpdateAPIKey(_ context.Context, key *models.APIKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	old, ok := m.keys[key.ID]
	if !ok {
		return ErrNotFound
	}
	delete(m.byHash, old.KeyHash)
	m.byHash[key.KeyHash] = key.ID
	m.keys[key.ID] = cloneAPIKey(key)
	return nil
}

func (m *MemoryStorage) DeleteAPIKey(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	k, ok := m.keys[id]
	if !ok {
		return ErrNotFound
	}
	delete(m.byHash, k.KeyHash)
	delete(m.keys, id)
	return nil
}
