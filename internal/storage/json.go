package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"rentgate/internal/models"
)

// JSONStorage implements the Storage interface using a single JSON file.
// It keeps an in-memory cache that is refreshed when the file changes on disk
// and rewrites the file atomically on every mutation.
type JSONStorage struct {
	filePath     string
	cacheTTL     time.Duration
	mu           sync.RWMutex
	data         *JSONData
	lastModified time.Time
	cacheExpiry  time.Time
}

// JSONData represents the structure of data stored in JSON format
type JSONData struct {
	Policies    []*models.Policy `json:"policies"`
	APIKeys     []*models.APIKey `json:"api_keys"`
	LastUpdated time.Time        `json:"last_updated"`
}

// NewJSONStorage creates a new JSON-based storage instance
func NewJSONStorage(config Config) (*JSONStorage, error) {
	if config.Path == "" {
		return nil, fmt.Errorf("path is required for JSON storage")
	}

	cacheTTL := 5 * time.Minute
	if config.CacheTTL != "" {
		if duration, err := time.ParseDuration(config.CacheTTL); err == nil {
			cacheTTL = duration
		}
	}

	storage := &JSONStorage{
		filePath: config.Path,
		cacheTTL: cacheTTL,
	}

	if err := storage.ensureFileExists(); err != nil {
		return nil, fmt.Errorf("failed to ensure file exists: %w", err)
	}

	if err := storage.loadData(); err != nil {
		return nil, fmt.Errorf("failed to load initial data: %w", err)
	}

	return storage, nil
}

// ensureFileExists creates the JSON file with empty data if it doesn't exist
func (j *JSONStorage) ensureFileExists() error {
	if _, err := os.Stat(j.filePath); os.IsNotExist(err) {
		if err := os.MkdirAll(filepath.Dir(j.filePath), 0700); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}

		emptyData := &JSONData{
			Policies: []*models.Policy{},
			APIKeys:  []*models.APIKey{},
		}

		return j.saveData(emptyData)
	}
	return nil
}

// loadData loads data from the JSON file with caching.
// It uses double-checked locking: a fast read-lock path for cache hits,
// and a write-lock slow path with re-validation to prevent TOCTOU races.
func (j *JSONStorage) loadData() error {
	j.mu.RLock()
	if j.data != nil && time.Now().Before(j.cacheExpiry) {
		j.mu.RUnlock()
		return nil
	}
	j.mu.RUnlock()

	j.mu.Lock()
	defer j.mu.Unlock()

	// Another goroutine may have loaded while we waited for the write lock.
	if j.data != nil && time.Now().Before(j.cacheExpiry) {
		return nil
	}

	info, err := os.Stat(j.filePath)
	if err != nil {
		return fmt.Errorf("failed to stat file: %w", err)
	}

	if j.data != nil && !info.ModTime().After(j.lastModified) {
		j.cacheExpiry = time.Now().Add(j.cacheTTL)
		return nil
	}

	fileData, err := os.ReadFile(j.filePath)
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}

	var data JSONData
	if err := json.Unmarshal(fileData, &data); err != nil {
		return fmt.Errorf("failed to unmarshal JSON: %w", err)
	}

	j.data = &data
	j.lastModified = info.ModTime()
	j.cacheExpiry = time.Now().Add(j.cacheTTL)
	return nil
}

// saveData writes data to a temporary file in the same directory and renames
// it over the target, so readers never observe a partial file. Callers hold
// the write lock.
func (j *JSONStorage) saveData(data *JSONData) error {
	data.LastUpdated = time.Now().UTC()

	fileData, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(j.filePath), "."+filepath.Base(j.filePath)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(fileData); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, 0600); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to chmod temp file: %w", err)
	}
	if err := os.Rename(tmpName, j.filePath); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace file: %w", err)
	}

	if info, err := os.Stat(j.filePath); err == nil {
		j.lastModified = info.ModTime()
	}
	return nil
}

// Policies returns all stored policy overrides ordered by name.
func (j *JSONStorage) Policies(ctx context.Context) ([]*models.Policy, error) {
	if err := j.loadData(); err != nil {
		return nil, err
	}

	j.mu.RLock()
	defer j.mu.RUnlock()

	out := make([]*models.Policy, 0, len(j.data.Policies))
	for _, p := range j.data.Policies {
		c := *p
		out = append(out, &c)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Name < out[b].Name })
	return out, nil
}

// GetPolicy retrieves a policy override by name.
func (j *JSONStorage) GetPolicy(ctx context.Context, name string) (*models.Policy, error) {
	if err := j.loadData(); err != nil {
		return nil, err
	}

	j.mu.RLock()
	defer j.mu.RUnlock()

	for _, p := range j.data.Policies {
		if p.Name == name {
			c := *p
			return &c, nil
		}
	}
	return nil, ErrNotFound
}

// SavePolicy stores or replaces a policy override.
func (j *JSONStorage) SavePolicy(ctx context.Context, policy *models.Policy) error {
	if err := j.loadData(); err != nil {
		return err
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	c := *policy
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = time.Now().UTC()
	}

	for i, p := range j.data.Policies {
		if p.Name == policy.Name {
			j.data.Policies[i] = &c
			return j.saveData(j.data)
		}
	}

	j.data.Policies = append(j.data.Policies, &c)
	return j.saveData(j.data)
}

// DeletePolicy removes a policy override.
func (j *JSONStorage) DeletePolicy(ctx context.Context, name string) error {
	if err := j.loadData(); err != nil {
		return err
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	for i, p := range j.data.Policies {
		if p.Name == name {
			j.data.Policies = append(j.data.Policies[:i], j.data.Policies[i+1:]...)
			return j.saveData(j.data)
		}
	}
	return ErrNotFound
}

// CreateAPIKey stores a new API key.
func (j *JSONStorage) CreateAPIKey(ctx context.Context, key *models.APIKey) error {
	if err := j.loadData(); err != nil {
		return err
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	c := *key
	j.data.APIKeys = append(j.data.APIKeys, &c)
	return j.saveData(j.data)
}

// GetAPIKeyByHash retrieves an API key by its SHA-256 hash.
func (j *JSONStorage) GetAPIKeyByHash(ctx context.Context, hash string) (*models.APIKey, error) {
	if err := j.loadData(); err != nil {
		return nil, err
	}

	j.mu.RLock()
	defer j.mu.RUnlock()

	for _, k := range j.data.APIKeys {
		if k.KeyHash == hash {
			c := *k
			return &c, nil
		}
	}
	return nil, ErrNotFound
}

// ListAPIKeys returns all API keys, oldest first.
func (j *JSONStorage) ListAPIKeys(ctx context.Context) ([]*models.APIKey, error) {
	if err := j.loadData(); err != nil {
		return nil, err
	}

	j.mu.RLock()
	defer j.mu.RUnlock()

	out := make([]*models.APIKey, 0, len(j.data.APIKeys))
	for _, k := range j.data.APIKeys {
		c := *k
		out = append(out, &c)
	}
	sortAPIKeys(out)
	return out, nil
}

// UpdateAPIKey replaces the mutable fields of an existing API key.
func (j *JSONStorage) UpdateAPIKey(ctx context.Context, key *models.APIKey) error {
	if err := j.loadData(); err != nil {
		return err
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	for i, k := range j.data.APIKeys {
		if k.ID == key.ID {
			c := *key
			j.data.APIKeys[i] = &c
			return j.saveData(j.data)
		}
	}
	return ErrNotFound
}

// DeleteAPIKey removes an API key by ID.
func (j *JSONStorage) DeleteAPIKey(ctx context.Context, id string) error {
	if err := j.loadData(); err != nil {
		return err
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	for i, k := range j.data.APIKeys {
		if k.ID == id {
			j.data.APIKeys = append(j.data.APIKeys[:i], j.data.APIKeys[i+1:]...)
			return j.saveData(j.data)
		}
	}
	return ErrNotFound
}

// Ping verifies the backing file is still readable.
func (j *JSONStorage) Ping(_ context.Context) error {
	if _, err := os.Stat(j.filePath); err != nil {
		return fmt.Errorf("json storage unavailable: %w", err)
	}
	return nil
}

// Close closes the storage connection and cleans up resources
func (j *JSONStorage) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.data = nil
	j.cacheExpiry = time.Time{}

	return nil
}
