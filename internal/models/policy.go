package models

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Preset policy names.
const (
	PolicyAuth      = "auth"
	PolicyAPI       = "api"
	PolicySensitive = "sensitive"
)

// Limiting algorithms.
const (
	AlgorithmFixedWindow = "fixed_window"
	AlgorithmTokenBucket = "token_bucket"
)

// Key strategies understood by ratelimit.NewKeyExtractor.
const (
	KeyStrategyIP        = "ip"
	KeyStrategyForwarded = "forwarded"
	KeyStrategyRealIP    = "real_ip"
	KeyStrategyAPIKey    = "api_key"
	KeyStrategyHeader    = "header:"
)

// DefaultRejectionMessage is used when a policy leaves Message empty.
const DefaultRejectionMessage = "Too many requests, please try again later."

// Policy is a named rate-limit configuration. Presets share the limiting
// algorithm and differ only in these parameters.
type Policy struct {
	Name        string        `yaml:"name,omitempty" json:"name"`
	Algorithm   string        `yaml:"algorithm" json:"algorithm"`
	Window      time.Duration `yaml:"window" json:"window"`
	MaxRequests int           `yaml:"max_requests" json:"max_requests"`
	Message     string        `yaml:"message" json:"message"`
	StatusCode  int           `yaml:"status_code" json:"status_code"`
	KeyStrategy string        `yaml:"key_strategy" json:"key_strategy"`
	UpdatedAt   time.Time     `yaml:"-" json:"updated_at,omitempty"`
}

// DefaultPolicies returns the three presets used by the rental API: a strict
// ceiling for authentication, a moderate one for the general API and a very
// strict one for payments and bulk operations.
func DefaultPolicies() map[string]Policy {
	return map[string]Policy{
		PolicyAuth: {
			Name:        PolicyAuth,
			Algorithm:   AlgorithmFixedWindow,
			Window:      15 * time.Minute,
			MaxRequests: 5,
			Message:     "Too many authentication attempts, please try again later.",
			StatusCode:  http.StatusTooManyRequests,
			KeyStrategy: KeyStrategyIP,
		},
		PolicyAPI: {
			Name:        PolicyAPI,
			Algorithm:   AlgorithmFixedWindow,
			Window:      15 * time.Minute,
			MaxRequests: 100,
			Message:     "Too many requests from this IP, please try again later.",
			StatusCode:  http.StatusTooManyRequests,
			KeyStrategy: KeyStrategyIP,
		},
		PolicySensitive: {
			Name:        PolicySensitive,
			Algorithm:   AlgorithmFixedWindow,
			Window:      time.Hour,
			MaxRequests: 3,
			Message:     "Too many requests for this operation, please try again later.",
			StatusCode:  http.StatusTooManyRequests,
			KeyStrategy: KeyStrategyIP,
		},
	}
}

// WithDefaults fills zero-valued optional fields.
func (p Policy) WithDefaults() Policy {
	if p.Algorithm == "" {
		p.Algorithm = AlgorithmFixedWindow
	}
	if p.Message == "" {
		p.Message = DefaultRejectionMessage
	}
	if p.StatusCode == 0 {
		p.StatusCode = http.StatusTooManyRequests
	}
	if p.KeyStrategy == "" {
		p.KeyStrategy = KeyStrategyIP
	}
	return p
}

// MergeOver fills every zero-valued field of p from base, so a partial
// override keeps the settings it does not mention.
func (p Policy) MergeOver(base Policy) Policy {
	if p.Name == "" {
		p.Name = base.Name
	}
	if p.Algorithm == "" {
		p.Algorithm = base.Algorithm
	}
	if p.Window == 0 {
		p.Window = base.Window
	}
	if p.MaxRequests == 0 {
		p.MaxRequests = base.MaxRequests
	}
	if p.Message == "" {
		p.Message = base.Message
	}
	if p.StatusCode == 0 {
		p.StatusCode = base.StatusCode
	}
	if p.KeyStrategy == "" {
		p.KeyStrategy = base.KeyStrategy
	}
	return p
}

// Validate checks a policy after defaults have been applied.
func (p *Policy) Validate() error {
	if p.Name == "" {
		return errors.New("name cannot be empty")
	}
	if strings.ContainsAny(p.Name, "/: ") {
		return fmt.Errorf("name %q must not contain spaces, colons or slashes", p.Name)
	}
	switch p.Algorithm {
	case "", AlgorithmFixedWindow, AlgorithmTokenBucket:
	default:
		return fmt.Errorf("unsupported algorithm: %s", p.Algorithm)
	}
	if p.Window <= 0 {
		return errors.New("window must be positive")
	}
	if p.Window < time.Millisecond {
		return errors.New("window must be at least 1ms")
	}
	if p.Window%time.Millisecond != 0 {
		return errors.New("window must be a whole number of milliseconds")
	}
	if p.MaxRequests <= 0 {
		return errors.New("max requests must be positive")
	}
	if p.StatusCode != 0 && (p.StatusCode < 400 || p.StatusCode > 599) {
		return fmt.Errorf("status code %d is not an error status", p.StatusCode)
	}
	switch {
	case p.KeyStrategy == "",
		p.KeyStrategy == KeyStrategyIP,
		p.KeyStrategy == KeyStrategyForwarded,
		p.KeyStrategy == KeyStrategyRealIP,
		p.KeyStrategy == KeyStrategyAPIKey:
	case strings.HasPrefix(p.KeyStrategy, KeyStrategyHeader):
		if strings.TrimPrefix(p.KeyStrategy, KeyStrategyHeader) == "" {
			return errors.New("header key strategy needs a header name")
		}
	default:
		return fmt.Errorf("unsupported key strategy: %s", p.KeyStrategy)
	}
	return nil
}
