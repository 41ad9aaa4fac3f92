// Package models - Service configuration and operational settings.
// This file defines the configuration structures for every gateway component.
//
// Configuration Philosophy:
// - Hierarchical configuration with logical grouping (server, upstream, rate limiting, etc.)
// - Defaults that work out of the box for a single gateway instance
// - Validation catches misconfigurations before the listener opens
// - Rate-limit numbers are deployment policy and always overridable
package models

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Storage type constants
const (
	StorageTypeJSON     = "json"
	StorageTypeMemory   = "memory"
	StorageTypePostgres = "postgres"
	StorageTypeSQLite   = "sqlite"
)

// Counter store type constants
const (
	CounterStoreMemory = "memory"
	CounterStoreRedis  = "redis"
)

// Config is the root configuration structure containing all gateway settings.
//
// Configuration Structure:
// - Server: HTTP listener and network settings
// - Upstream: the rental API the gateway forwards admitted requests to
// - Storage: persistence for policy overrides and admin API keys
// - Security: admin API authentication
// - RateLimit: counter store, presets, and route-to-policy mapping
// - Logging: structured logging and output configuration
// - Metrics / Observability: Prometheus metrics and OpenTelemetry tracing
type Config struct {
	Server        ServerConfig        `yaml:"server" json:"server"`
	Upstream      UpstreamConfig      `yaml:"upstream" json:"upstream"`
	Storage       StorageConfig       `yaml:"storage" json:"storage"`
	Security      SecurityConfig      `yaml:"security" json:"security"`
	RateLimit     RateLimitConfig     `yaml:"rate_limit" json:"rate_limit"`
	Logging       LoggingConfig       `yaml:"logging" json:"logging"`
	Metrics       MetricsConfig       `yaml:"metrics" json:"metrics"`
	Observability ObservabilityConfig `yaml:"observability" json:"observability"`
}

type ServerConfig struct {
	Port         int           `yaml:"port" json:"port"`
	Host         string        `yaml:"host" json:"host"`
	ReadTimeout  time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" json:"idle_timeout"`
	TLSEnabled   bool          `yaml:"tls_enabled" json:"tls_enabled"`
	TLSCertFile  string        `yaml:"tls_cert_file" json:"tls_cert_file"`
	TLSKeyFile   string        `yaml:"tls_key_file" json:"tls_key_file"`
}

// UpstreamConfig points the gateway at the rental-property API.
type UpstreamConfig struct {
	URL           string        `yaml:"url" json:"url"`
	Timeout       time.Duration `yaml:"timeout" json:"timeout"`
	PreserveHost  bool          `yaml:"preserve_host" json:"preserve_host"`
	FlushInterval time.Duration `yaml:"flush_interval" json:"flush_interval"`
	StripPrefix   string        `yaml:"strip_prefix" json:"strip_prefix"`
}

type StorageConfig struct {
	Type     string            `yaml:"type" json:"type"`
	Path     string            `yaml:"path" json:"path"`
	Database DatabaseConfig    `yaml:"database" json:"database"`
	Options  map[string]string `yaml:"options" json:"options"`
}

type DatabaseConfig struct {
	DSN             string        `yaml:"dsn" json:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns" json:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns" json:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" json:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time" json:"conn_max_idle_time"`
}

type SecurityConfig struct {
	EnableAuth   bool   `yaml:"enable_auth" json:"enable_auth"`
	BootstrapKey string `yaml:"bootstrap_key" json:"bootstrap_key"`
}

// RateLimitConfig groups everything the limiter registry is built from. A
// zero SweepInterval uses the limiter default; a negative one disables the
// background sweep.
type RateLimitConfig struct {
	Enabled           bool              `yaml:"enabled" json:"enabled"`
	Store             string            `yaml:"store" json:"store"`
	SweepInterval     time.Duration     `yaml:"sweep_interval" json:"sweep_interval"`
	TrustProxyHeaders bool              `yaml:"trust_proxy_headers" json:"trust_proxy_headers"`
	DefaultPolicy     string            `yaml:"default_policy" json:"default_policy"`
	Redis             RedisConfig       `yaml:"redis" json:"redis"`
	Policies          map[string]Policy `yaml:"policies" json:"policies"`
	Routes            []RouteRule       `yaml:"routes" json:"routes"`
}

type RedisConfig struct {
	Addr      string `yaml:"addr" json:"addr"`
	Password  string `yaml:"password" json:"password"`
	DB        int    `yaml:"db" json:"db"`
	PoolSize  int    `yaml:"pool_size" json:"pool_size"`
	KeyPrefix string `yaml:"key_prefix" json:"key_prefix"`
}

// RouteRule maps a request path prefix (and optionally a method set) to a policy.
type RouteRule struct {
	PathPrefix string   `yaml:"path_prefix" json:"path_prefix"`
	Methods    []string `yaml:"methods" json:"methods"`
	Policy     string   `yaml:"policy" json:"policy"`
}

type LoggingConfig struct {
	Level    string `yaml:"level" json:"level"`
	Format   string `yaml:"format" json:"format"`
	Output   string `yaml:"output" json:"output"`
	FilePath string `yaml:"file_path" json:"file_path"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Path    string `yaml:"path" json:"path"`
	Port    int    `yaml:"port" json:"port"`
}

type ObservabilityConfig struct {
	ServiceName string        `yaml:"service_name" json:"service_name"`
	Tracing     TracingConfig `yaml:"tracing" json:"tracing"`
}

type TracingConfig struct {
	Enabled      bool    `yaml:"enabled" json:"enabled"`
	Exporter     string  `yaml:"exporter" json:"exporter"`
	OTLPEndpoint string  `yaml:"otlp_endpoint" json:"otlp_endpoint"`
	SampleRate   float64 `yaml:"sample_rate" json:"sample_rate"`
}

// NewDefaultConfig creates a configuration with defaults suitable for a single
// gateway in front of a local rental API.
//
// Default Values Rationale:
// - Port 8080: Standard non-privileged HTTP port
// - Memory counters: no external dependency; switch to redis for replicas
// - auth/api/sensitive presets mirror the rental API's endpoint classes
// - Five-minute sweep keeps memory bounded without touching the hot path
func NewDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         8080,
			Host:         "0.0.0.0",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Upstream: UpstreamConfig{
			URL:     "http://localhost:5000",
			Timeout: 30 * time.Second,
		},
		Storage: StorageConfig{
			Type: StorageTypeMemory,
			Path: "./data/policies.json",
			Database: DatabaseConfig{
				MaxOpenConns:    10,
				MaxIdleConns:    2,
				ConnMaxLifetime: 5 * time.Minute,
				ConnMaxIdleTime: 5 * time.Minute,
			},
			Options: make(map[string]string),
		},
		Security: SecurityConfig{
			EnableAuth: true,
		},
		RateLimit: RateLimitConfig{
			Enabled:       true,
			Store:         CounterStoreMemory,
			SweepInterval: 5 * time.Minute,
			DefaultPolicy: PolicyAPI,
			Redis: RedisConfig{
				Addr:      "localhost:6379",
				PoolSize:  10,
				KeyPrefix: "rentgate:rl",
			},
			Policies: DefaultPolicies(),
			Routes: []RouteRule{
				{PathPrefix: "/api/auth", Policy: PolicyAuth},
				{PathPrefix: "/api/payments", Methods: []string{"POST", "PUT", "PATCH", "DELETE"}, Policy: PolicySensitive},
				{PathPrefix: "/api/receipts/bulk", Policy: PolicySensitive},
				{PathPrefix: "/api/notifications/broadcast", Policy: PolicySensitive},
				{PathPrefix: "/api", Policy: PolicyAPI},
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
			Port:    9090,
		},
		Observability: ObservabilityConfig{
			ServiceName: "rentgate",
			Tracing: TracingConfig{
				Enabled:    false,
				Exporter:   "stdout",
				SampleRate: 1.0,
			},
		},
	}
}

func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("invalid server config: %w", err)
	}

	if err := c.Upstream.Validate(); err != nil {
		return fmt.Errorf("invalid upstream config: %w", err)
	}

	if err := c.Storage.Validate(); err != nil {
		return fmt.Errorf("invalid storage config: %w", err)
	}

	if err := c.RateLimit.Validate(); err != nil {
		return fmt.Errorf("invalid rate limit config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("invalid logging config: %w", err)
	}

	if err := c.Metrics.Validate(); err != nil {
		return fmt.Errorf("invalid metrics config: %w", err)
	}

	if err := c.Observability.Validate(); err != nil {
		return fmt.Errorf("invalid observability config: %w", err)
	}

	return nil
}

func (sc *ServerConfig) Validate() error {
	if sc.Port <= 0 || sc.Port > 65535 {
		return errors.New("port must be between 1 and 65535")
	}

	if sc.Host == "" {
		return errors.New("host cannot be empty")
	}

	if sc.ReadTimeout < 0 {
		return errors.New("read timeout cannot be negative")
	}

	if sc.WriteTimeout < 0 {
		return errors.New("write timeout cannot be negative")
	}

	if sc.IdleTimeout < 0 {
		return errors.New("idle timeout cannot be negative")
	}

	if sc.TLSEnabled {
		if sc.TLSCertFile == "" {
			return errors.New("TLS cert file is required when TLS is enabled")
		}
		if sc.TLSKeyFile == "" {
			return errors.New("TLS key file is required when TLS is enabled")
		}
	}

	return nil
}

func (uc *UpstreamConfig) Validate() error {
	if uc.URL == "" {
		return errors.New("upstream url cannot be empty")
	}
	u, err := url.Parse(uc.URL)
	if err != nil {
		return fmt.Errorf("invalid upstream url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("upstream url scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("upstream url must include a host")
	}
	if uc.Timeout < 0 {
		return errors.New("upstream timeout cannot be negative")
	}
	return nil
}

func (stc *StorageConfig) Validate() error {
	switch stc.Type {
	case StorageTypeMemory:
		return nil
	case StorageTypeJSON:
		if stc.Path == "" {
			return errors.New("path is required for JSON storage")
		}
	case StorageTypePostgres, StorageTypeSQLite:
		if stc.Database.DSN == "" {
			return errors.New("database DSN is required for database storage")
		}
	default:
		return fmt.Errorf("invalid storage type: %s", stc.Type)
	}
	return nil
}

func (rc *RateLimitConfig) Validate() error {
	if !rc.Enabled {
		return nil
	}

	switch rc.Store {
	case CounterStoreMemory:
	case CounterStoreRedis:
		if rc.Redis.Addr == "" {
			return errors.New("redis address is required when store is redis")
		}
	default:
		return fmt.Errorf("invalid counter store: %s", rc.Store)
	}

	if len(rc.Policies) == 0 {
		return errors.New("at least one policy is required")
	}

	for name, p := range rc.Policies {
		if p.Name != "" && p.Name != name {
			return fmt.Errorf("policy %q declares mismatched name %q", name, p.Name)
		}
		p.Name = name
		if err := p.Validate(); err != nil {
			return fmt.Errorf("policy %q: %w", name, err)
		}
	}

	if rc.DefaultPolicy != "" {
		if _, ok := rc.Policies[rc.DefaultPolicy]; !ok {
			return fmt.Errorf("default policy %q is not defined", rc.DefaultPolicy)
		}
	}

	for i, route := range rc.Routes {
		if !strings.HasPrefix(route.PathPrefix, "/") {
			return fmt.Errorf("route %d: path prefix must start with /", i)
		}
		if _, ok := rc.Policies[route.Policy]; !ok {
			return fmt.Errorf("route %d: unknown policy %q", i, route.Policy)
		}
	}

	return nil
}

func (lc *LoggingConfig) Validate() error {
	switch lc.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s", lc.Level)
	}

	switch lc.Format {
	case "json", "text":
	default:
		return fmt.Errorf("invalid log format: %s", lc.Format)
	}

	switch lc.Output {
	case "stdout", "stderr":
	case "file":
		if lc.FilePath == "" {
			return errors.New("file path is required when output is file")
		}
	default:
		return fmt.Errorf("invalid log output: %s", lc.Output)
	}

	return nil
}

func (mc *MetricsConfig) Validate() error {
	if !mc.Enabled {
		return nil
	}

	if mc.Path == "" {
		return errors.New("metrics path cannot be empty")
	}

	if mc.Port <= 0 || mc.Port > 65535 {
		return errors.New("metrics port must be between 1 and 65535")
	}

	return nil
}

func (oc *ObservabilityConfig) Validate() error {
	if !oc.Tracing.Enabled {
		return nil
	}

	switch oc.Tracing.Exporter {
	case "stdout":
	case "otlp":
		if oc.Tracing.OTLPEndpoint == "" {
			return errors.New("otlp endpoint is required for otlp exporter")
		}
	default:
		return fmt.Errorf("invalid tracing exporter: %s", oc.Tracing.Exporter)
	}

	if oc.Tracing.SampleRate < 0 || oc.Tracing.SampleRate > 1 {
		return errors.New("tracing sample rate must be between 0 and 1")
	}

	return nil
}
