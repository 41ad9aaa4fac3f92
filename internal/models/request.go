// Package models - API request types and input validation.
// This file defines the admin API request bodies.
//
// Validation Philosophy:
// - Fail fast with clear error messages for invalid input
// - Normalize input data for consistent processing (trimmed, lowercase identifiers)
// - Separate validation from normalization for clear error reporting
package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// UpdatePolicyRequest is the body of PUT /admin/v1/policies/{name}. The window
// may be given as a Go duration string ("15m") or in milliseconds; when both
// are present they must agree.
type UpdatePolicyRequest struct {
	Algorithm   string `json:"algorithm,omitempty"`
	Window      string `json:"window,omitempty"`
	WindowMs    int64  `json:"window_ms,omitempty"`
	MaxRequests int    `json:"max_requests"`
	Message     string `json:"message,omitempty"`
	StatusCode  int    `json:"status_code,omitempty"`
	KeyStrategy string `json:"key_strategy,omitempty"`
}

// Normalize trims and lowercases identifier fields.
func (r *UpdatePolicyRequest) Normalize() {
	r.Algorithm = strings.ToLower(strings.TrimSpace(r.Algorithm))
	r.Window = strings.TrimSpace(r.Window)
	r.Message = strings.TrimSpace(r.Message)
	r.KeyStrategy = strings.TrimSpace(r.KeyStrategy)
	if !strings.HasPrefix(strings.ToLower(r.KeyStrategy), KeyStrategyHeader) {
		r.KeyStrategy = strings.ToLower(r.KeyStrategy)
	}
}

// Validate checks the request shape. Policy-level rules are checked by
// Policy.Validate once the request is converted.
func (r *UpdatePolicyRequest) Validate() error {
	if r.Window == "" && r.WindowMs == 0 {
		return errors.New("window or window_ms is required")
	}
	if r.WindowMs < 0 {
		return errors.New("window_ms must be positive")
	}
	if r.Window != "" {
		d, err := time.ParseDuration(r.Window)
		if err != nil {
			return fmt.Errorf("invalid window: %w", err)
		}
		if r.WindowMs != 0 && d != time.Duration(r.WindowMs)*time.Millisecond {
			return errors.New("window and window_ms disagree")
		}
	}
	if r.MaxRequests <= 0 {
		return errors.New("max_requests must be positive")
	}
	return nil
}

// ToPolicy converts a validated request into a policy named name.
func (r *UpdatePolicyRequest) ToPolicy(name string) Policy {
	window := time.Duration(r.WindowMs) * time.Millisecond
	if r.Window != "" {
		if d, err := time.ParseDuration(r.Window); err == nil {
			window = d
		}
	}
	return Policy{
		Name:        name,
		Algorithm:   r.Algorithm,
		Window:      window,
		MaxRequests: r.MaxRequests,
		Message:     r.Message,
		StatusCode:  r.StatusCode,
		KeyStrategy: r.KeyStrategy,
	}.WithDefaults()
}

// CreateAPIKeyRequest is the body of POST /admin/v1/keys.
type CreateAPIKeyRequest struct {
	Name        string   `json:"name"`
	Permissions []string `json:"permissions"`
}

// Validate checks the name and permission list.
func (r *CreateAPIKeyRequest) Validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return errors.New("name is required")
	}
	if len(r.Permissions) == 0 {
		return errors.New("permissions is required")
	}
	return validatePermissions(r.Permissions)
}

// UpdateAPIKeyRequest is the body of PATCH /admin/v1/keys/{id}. All fields are
// optional.
type UpdateAPIKeyRequest struct {
	Name        *string  `json:"name"`
	Permissions []string `json:"permissions"`
	Enabled     *bool    `json:"enabled"`
}

// Validate checks whichever fields are present.
func (r *UpdateAPIKeyRequest) Validate() error {
	if r.Name != nil && strings.TrimSpace(*r.Name) == "" {
		return errors.New("name cannot be empty")
	}
	if r.Permissions != nil {
		if len(r.Permissions) == 0 {
			return errors.New("permissions cannot be empty")
		}
		return validatePermissions(r.Permissions)
	}
	return nil
}

func validatePermissions(perms []string) error {
	for _, p := range perms {
		// The wildcard is honoured on stored keys but never issued.
		if p == PermissionAll || !ValidPermission(p) {
			return fmt.Errorf("invalid permission: %s", p)
		}
	}
	return nil
}
