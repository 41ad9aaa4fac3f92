// Package config loads the gateway configuration: defaults, then an optional
// YAML file, then RENTGATE_* environment overrides.
package config

import (
	"fmt"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"rentgate/internal/models"

	"gopkg.in/yaml.v3"
)

const envPrefix = "RENTGATE_"

// Load loads configuration from file and environment variables
func Load(configPath string) (*models.Config, error) {
	config := models.NewDefaultConfig()

	if configPath != "" {
		if err := loadFromFile(config, configPath); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	loadFromEnvironment(config)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// deprecatedConfig mirrors config keys from earlier layouts.
type deprecatedConfig struct {
	Security struct {
		RateLimit interface{} `yaml:"rate_limit"`
	} `yaml:"security"`
	RateLimit struct {
		RedisURL string      `yaml:"redis_url"`
		WindowMS interface{} `yaml:"window_ms"`
	} `yaml:"rate_limit"`
}

// warnDeprecatedKeys logs a warning for each stale key found in the YAML data.
// Startup continues; the main decoder ignores these keys.
func warnDeprecatedKeys(data []byte) {
	var dep deprecatedConfig
	if err := yaml.Unmarshal(data, &dep); err != nil {
		return
	}
	if dep.Security.RateLimit != nil {
		slog.Warn("Config key moved; define presets under rate_limit.policies.", "config_key", "security.rate_limit")
	}
	if dep.RateLimit.RedisURL != "" {
		slog.Warn("Config key is no longer supported; use rate_limit.redis.addr.", "config_key", "rate_limit.redis_url")
	}
	if dep.RateLimit.WindowMS != nil {
		slog.Warn("Config key is no longer supported; set window per policy as a duration.", "config_key", "rate_limit.window_ms")
	}
}

// loadFromFile loads configuration from a YAML file
func loadFromFile(config *models.Config, filePath string) error {
	if _, err := os.Stat(filePath); os.IsNotExist(err) {
		return fmt.Errorf("config file not found: %s", filePath)
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	warnDeprecatedKeys(data)

	presets := maps.Clone(config.RateLimit.Policies)
	if err := yaml.Unmarshal(data, config); err != nil {
		return fmt.Errorf("failed to parse YAML config: %w", err)
	}
	for name, p := range config.RateLimit.Policies {
		if base, ok := presets[name]; ok {
			config.RateLimit.Policies[name] = p.MergeOver(base)
		}
	}
	return nil
}

func envString(name string, dst *string) {
	if v := os.Getenv(envPrefix + name); v != "" {
		*dst = v
	}
}

func envBool(name string, dst *bool) {
	if v := os.Getenv(envPrefix + name); v != "" {
		*dst = strings.ToLower(v) == "true"
	}
}

func envInt(name string, dst *int) {
	if v := os.Getenv(envPrefix + name); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		} else {
			slog.Warn("Ignoring invalid integer in environment", "variable", envPrefix+name, "value", v)
		}
	}
}

func envDuration(name string, dst *time.Duration) {
	if v := os.Getenv(envPrefix + name); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		} else {
			slog.Warn("Ignoring invalid duration in environment", "variable", envPrefix+name, "value", v)
		}
	}
}

// policyEnvName maps a policy name to its environment segment:
// "bulk-export" becomes "BULK_EXPORT".
func policyEnvName(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r - 'a' + 'A'
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		default:
			return '_'
		}
	}, name)
}

// loadFromEnvironment loads configuration from environment variables
func loadFromEnvironment(config *models.Config) {
	// Server configuration
	envInt("PORT", &config.Server.Port)
	envString("HOST", &config.Server.Host)
	envDuration("READ_TIMEOUT", &config.Server.ReadTimeout)
	envDuration("WRITE_TIMEOUT", &config.Server.WriteTimeout)
	envDuration("IDLE_TIMEOUT", &config.Server.IdleTimeout)
	envBool("TLS_ENABLED", &config.Server.TLSEnabled)
	envString("TLS_CERT_FILE", &config.Server.TLSCertFile)
	envString("TLS_KEY_FILE", &config.Server.TLSKeyFile)

	// Upstream
	envString("UPSTREAM_URL", &config.Upstream.URL)
	envDuration("UPSTREAM_TIMEOUT", &config.Upstream.Timeout)
	envBool("UPSTREAM_PRESERVE_HOST", &config.Upstream.PreserveHost)
	envString("UPSTREAM_STRIP_PREFIX", &config.Upstream.StripPrefix)

	// Storage configuration
	envString("STORAGE_TYPE", &config.Storage.Type)
	envString("STORAGE_PATH", &config.Storage.Path)
	envString("DATABASE_DSN", &config.Storage.Database.DSN)
	envInt("DATABASE_MAX_OPEN_CONNS", &config.Storage.Database.MaxOpenConns)
	envInt("DATABASE_MAX_IDLE_CONNS", &config.Storage.Database.MaxIdleConns)

	// Security configuration
	envBool("ENABLE_AUTH", &config.Security.EnableAuth)
	envString("BOOTSTRAP_KEY", &config.Security.BootstrapKey)

	// Rate limiting
	envBool("RATE_LIMIT_ENABLED", &config.RateLimit.Enabled)
	envString("RATE_LIMIT_STORE", &config.RateLimit.Store)
	envDuration("RATE_LIMIT_SWEEP_INTERVAL", &config.RateLimit.SweepInterval)
	envBool("RATE_LIMIT_TRUST_PROXY_HEADERS", &config.RateLimit.TrustProxyHeaders)
	envString("RATE_LIMIT_DEFAULT_POLICY", &config.RateLimit.DefaultPolicy)

	envString("REDIS_ADDR", &config.RateLimit.Redis.Addr)
	envString("REDIS_PASSWORD", &config.RateLimit.Redis.Password)
	envInt("REDIS_DB", &config.RateLimit.Redis.DB)
	envInt("REDIS_POOL_SIZE", &config.RateLimit.Redis.PoolSize)
	envString("REDIS_KEY_PREFIX", &config.RateLimit.Redis.KeyPrefix)

	for name, p := range config.RateLimit.Policies {
		seg := "POLICY_" + policyEnvName(name) + "_"
		envInt(seg+"MAX_REQUESTS", &p.MaxRequests)
		envDuration(seg+"WINDOW", &p.Window)
		envString(seg+"ALGORITHM", &p.Algorithm)
		envString(seg+"KEY_STRATEGY", &p.KeyStrategy)
		config.RateLimit.Policies[name] = p
	}

	// Logging configuration
	envString("LOG_LEVEL", &config.Logging.Level)
	envString("LOG_FORMAT", &config.Logging.Format)
	envString("LOG_OUTPUT", &config.Logging.Output)
	envString("LOG_FILE_PATH", &config.Logging.FilePath)

	// Metrics and tracing
	envBool("METRICS_ENABLED", &config.Metrics.Enabled)
	envString("METRICS_PATH", &config.Metrics.Path)
	envInt("METRICS_PORT", &config.Metrics.Port)
	envBool("TRACING_ENABLED", &config.Observability.Tracing.Enabled)
	envString("TRACING_EXPORTER", &config.Observability.Tracing.Exporter)
	envString("OTLP_ENDPOINT", &config.Observability.Tracing.OTLPEndpoint)
}

// SaveExample saves an example configuration file
func SaveExample(filePath string) error {
	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	config := models.NewDefaultConfig()

	config.Security.BootstrapKey = "rg_your-bootstrap-key-here"
	config.Security.EnableAuth = true

	config.Server.TLSEnabled = false
	config.Server.TLSCertFile = "/path/to/cert.pem"
	config.Server.TLSKeyFile = "/path/to/key.pem"

	config.RateLimit.Redis.Addr = "localhost:6379"

	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config to YAML: %w", err)
	}

	if err := os.WriteFile(filePath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
