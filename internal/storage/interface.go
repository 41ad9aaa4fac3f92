package storage

import (
	"context"
	"time"

	"rentgate/internal/models"
)

// Storage persists rate-limit policy overrides and admin API keys. Limiter
// counters are not stored here; they live in the ratelimit counter stores.
type Storage interface {
	// Policies returns every stored policy override, ordered by name.
	Policies(ctx context.Context) ([]*models.Policy, error)

	// GetPolicy retrieves a policy override by name. Returns ErrNotFound if
	// the policy has no stored override.
	GetPolicy(ctx context.Context, name string) (*models.Policy, error)

	// SavePolicy creates or replaces a policy override.
	SavePolicy(ctx context.Context, policy *models.Policy) error

	// DeletePolicy removes a policy override. Returns ErrNotFound if none exists.
	DeletePolicy(ctx context.Context, name string) error

	// CreateAPIKey stores a new API key.
	CreateAPIKey(ctx context.Context, key *models.APIKey) error

	// GetAPIKeyByHash retrieves an API key by the SHA-256 hex hash of its raw value.
	GetAPIKeyByHash(ctx context.Context, hash string) (*models.APIKey, error)

	// ListAPIKeys returns all API keys, enabled or not.
	ListAPIKeys(ctx context.Context) ([]*models.APIKey, error)

	// UpdateAPIKey replaces the mutable fields of an existing key.
	UpdateAPIKey(ctx context.Context, key *models.APIKey) error

	// DeleteAPIKey removes an API key by ID.
	DeleteAPIKey(ctx context.Context, id string) error

	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases the backend's resources.
	Close() error
}

// Config holds configuration for storage backends
type Config struct {
	// Type specifies the storage backend type (json, memory, sqlite, postgres)
	Type string `json:"type" yaml:"type"`

	// Path is used for file-based storage backends
	Path string `json:"path,omitempty" yaml:"path,omitempty"`

	// ConnectionString is used for database backends
	ConnectionString string `json:"connection_string,omitempty" yaml:"connection_string,omitempty"`

	// CacheTTL specifies how long the JSON backend trusts its in-memory copy
	CacheTTL string `json:"cache_ttl,omitempty" yaml:"cache_ttl,omitempty"`

	// Pool settings for database backends
	MaxOpenConns    int           `json:"max_open_conns,omitempty" yaml:"max_open_conns,omitempty"`
	MaxIdleConns    int           `json:"max_idle_conns,omitempty" yaml:"max_idle_conns,omitempty"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime,omitempty" yaml:"conn_max_lifetime,omitempty"`

	// Additional options for specific backends
	Options map[string]interface{} `json:"options,omitempty" yaml:"options,omitempty"`
}
