package storage

import (
	"fmt"
	"sort"

	"rentgate/internal/models"
)

// Constructor opens a backend from its low-level config.
type Constructor func(Config) (Storage, error)

// Factory maps storage type names to backend constructors.
type Factory struct {
	constructors map[string]Constructor
}

// NewFactory returns a factory with the built-in backends registered.
func NewFactory() *Factory {
	f := &Factory{constructors: make(map[string]Constructor)}
	f.Register(models.StorageTypeMemory, func(c Config) (Storage, error) { return NewMemoryStorage(c) })
	f.Register(models.StorageTypeJSON, func(c Config) (Storage, error) { return NewJSONStorage(c) })
	f.Register(models.StorageTypeSQLite, NewSQLiteStorage)
	f.Register(models.StorageTypePostgres, NewPostgresStorage)
	return f
}

// Register adds or replaces the constructor for typ.
func (f *Factory) Register(typ string, c Constructor) {
	f.constructors[typ] = c
}

// Create opens the backend named by config.Type. The JSON backend reads its
// cache TTL from options["cache_ttl"].
func (f *Factory) Create(config models.StorageConfig) (Storage, error) {
	c, ok := f.constructors[config.Type]
	if !ok {
		return nil, fmt.Errorf("unsupported storage type: %s", config.Type)
	}

	options := make(map[string]interface{}, len(config.Options))
	for k, v := range config.Options {
		options[k] = v
	}

	s, err := c(Config{
		Type:             config.Type,
		Path:             config.Path,
		ConnectionString: config.Database.DSN,
		CacheTTL:         config.Options["cache_ttl"],
		MaxOpenConns:     config.Database.MaxOpenConns,
		MaxIdleConns:     config.Database.MaxIdleConns,
		ConnMaxLifetime:  config.Database.ConnMaxLifetime,
		Options:          options,
	})
	if err != nil {
		return nil, fmt.Errorf("open %s storage: %w", config.Type, err)
	}
	return s, nil
}

// GetSupportedProviders returns the registered type names, sorted.
func (f *Factory) GetSupportedProviders() []string {
	names := make([]string, 0, len(f.constructors))
	for name := range f.constructors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ValidateConfig checks config without opening anything.
func (f *Factory) ValidateConfig(config models.StorageConfig) error {
	if _, ok := f.constructors[config.Type]; !ok {
		return fmt.Errorf("unsupported storage type: %s", config.Type)
	}
	return config.Validate()
}
