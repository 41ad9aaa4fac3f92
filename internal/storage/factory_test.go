package storage

import (
	"path/filepath"
	"testing"

	"rentgate/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFactory(t *testing.T) {
	factory := NewFactory()

	t.Run("GetSupportedProviders", func(t *testing.T) {
		assert.Equal(t, []string{"json", "memory", "postgres", "sqlite"}, factory.GetSupportedProviders())
	})

	t.Run("ValidateConfig", func(t *testing.T) {
		tests := []struct {
			name      string
			config    models.StorageConfig
			expectErr bool
		}{
			{name: "valid json config", config: models.StorageConfig{Type: "json", Path: "/tmp/policies.json"}},
			{name: "valid memory config", config: models.StorageConfig{Type: "memory"}},
			{name: "invalid storage type", config: models.StorageConfig{Type: "invalid"}, expectErr: true},
			{name: "json without path", config: models.StorageConfig{Type: "json"}, expectErr: true},
			{name: "postgres without dsn", config: models.StorageConfig{Type: "postgres"}, expectErr: true},
			{
				name:   "sqlite with dsn",
				config: models.StorageConfig{Type: "sqlite", Database: models.DatabaseConfig{DSN: "file:test.db"}},
			},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				err := factory.ValidateConfig(tt.config)
				if tt.expectErr {
					assert.Error(t, err)
				} else {
					assert.NoError(t, err)
				}
			})
		}
	})

	t.Run("Create memory", func(t *testing.T) {
		s, err := factory.Create(models.StorageConfig{Type: "memory"})
		require.NoError(t, err)
		defer s.Close()
		assert.IsType(t, &MemoryStorage{}, s)
	})

	t.Run("Create json", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "policies.json")
		s, err := factory.Create(models.StorageConfig{
			Type:    "json",
			Path:    path,
			Options: map[string]string{"cache_ttl": "30s"},
		})
		require.NoError(t, err)
		defer s.Close()
		js := s.(*JSONStorage)
		assert.Equal(t, "30s", js.cacheTTL.String())
	})

	t.Run("Create sqlite", func(t *testing.T) {
		s, err := factory.Create(models.StorageConfig{
			Type:     "sqlite",
			Database: models.DatabaseConfig{DSN: filepath.Join(t.TempDir(), "rentgate.db")},
		})
		require.NoError(t, err)
		defer s.Close()
		assert.IsType(t, &SQLiteStorage{}, s)
	})

	t.Run("Register custom", func(t *testing.T) {
		f := NewFactory()
		var got Config
		f.Register("fake", func(c Config) (Storage, error) {
			got = c
			return NewMemoryStorage(c)
		})

		s, err := f.Create(models.StorageConfig{Type: "fake", Database: models.DatabaseConfig{DSN: "fake://db", MaxOpenConns: 4}})
		require.NoError(t, err)
		defer s.Close()
		assert.Equal(t, "fake://db", got.ConnectionString)
		assert.Equal(t, 4, got.MaxOpenConns)
		assert.Contains(t, f.GetSupportedProviders(), "fake")
	})

	t.Run("Create unsupported", func(t *testing.T) {
		_, err := factory.Create(models.StorageConfig{Type: "mongo"})
		assert.Error(t, err)
	})
}
