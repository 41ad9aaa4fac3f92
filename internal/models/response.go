// Package models - API response types and error handling.
// This file defines all outgoing response structures with consistent formatting.
//
// Response Design Principles:
// - Admin API errors share one JSON structure with machine-readable codes
// - Rate-limit rejections use the compact payload rental API clients already parse
// - Optional fields use omitempty to reduce response size
// - RFC3339 timestamps for international compatibility
package models

import (
	"time"
)

// ErrorResponse provides structured error information for the admin API.
//
// Error Categories:
// - Validation errors: Input format/constraint violations
// - Not found errors: Policy or key doesn't exist
// - Authorization errors: Authentication/permission failures
// - Internal errors: Server-side issues
type ErrorResponse struct {
	Error     string            `json:"error"`                // Error type (always "error")
	Message   string            `json:"message"`              // Human-readable error description
	Code      string            `json:"code,omitempty"`       // Machine-readable error code
	Details   map[string]string `json:"details,omitempty"`    // Field-specific error details
	Timestamp time.Time         `json:"timestamp"`            // Error occurrence time
	RequestID string            `json:"request_id,omitempty"` // Unique request identifier
}

// RateLimitResponse is the body written when a request is rejected by a policy.
type RateLimitResponse struct {
	Success    bool   `json:"success"`
	Message    string `json:"message"`
	RetryAfter int    `json:"retryAfter"`
}

type HealthCheckResponse struct {
	Status     string                     `json:"status"`
	Timestamp  time.Time                  `json:"timestamp"`
	Version    string                     `json:"version,omitempty"`
	Uptime     string                     `json:"uptime,omitempty"`
	Components map[string]ComponentHealth `json:"components,omitempty"`
	Metrics    map[string]interface{}     `json:"metrics,omitempty"`
}

type ComponentHealth struct {
	Status    string                 `json:"status"`
	Message   string                 `json:"message,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// PolicyResponse is the admin view of a policy. Window is rendered both as a
// Go duration string and in milliseconds.
type PolicyResponse struct {
	Name        string    `json:"name"`
	Algorithm   string    `json:"algorithm"`
	Window      string    `json:"window"`
	WindowMs    int64     `json:"window_ms"`
	MaxRequests int       `json:"max_requests"`
	Message     string    `json:"message"`
	StatusCode  int       `json:"status_code"`
	KeyStrategy string    `json:"key_strategy"`
	Overridden  bool      `json:"overridden"`
	TrackedKeys int       `json:"tracked_keys"`
	UpdatedAt   time.Time `json:"updated_at,omitempty"`
}

type ListPoliciesResponse struct {
	Policies   []PolicyResponse `json:"policies"`
	TotalCount int              `json:"total_count"`
}

// BucketResponse describes one live counter of a policy.
type BucketResponse struct {
	Key       string    `json:"key"`
	Count     int       `json:"count"`
	Remaining int       `json:"remaining"`
	ResetAt   time.Time `json:"reset_at"`
}

type ListBucketsResponse struct {
	Policy     string           `json:"policy"`
	Buckets    []BucketResponse `json:"buckets"`
	TotalCount int              `json:"total_count"`
}

type ResetResponse struct {
	Policy  string `json:"policy"`
	Key     string `json:"key,omitempty"`
	Removed int    `json:"removed"`
	Message string `json:"message"`
}

// APIKeyResponse is the metadata view of a key; the hash is never exposed.
type APIKeyResponse struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Prefix      string    `json:"prefix"`
	Permissions []string  `json:"permissions"`
	Enabled     bool      `json:"enabled"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// CreateAPIKeyResponse adds the raw key. Creation is the only time it is
// returned.
type CreateAPIKeyResponse struct {
	APIKeyResponse
	Key string `json:"key"`
}

type ListAPIKeysResponse struct {
	Keys       []APIKeyResponse `json:"keys"`
	TotalCount int              `json:"total_count"`
}

// Health Status Constants
const (
	StatusHealthy   = "healthy"   // All systems operational
	StatusUnhealthy = "unhealthy" // Major system issues
	StatusDegraded  = "degraded"  // Partial functionality
	StatusUnknown   = "unknown"   // Status indeterminate
)

// Standard HTTP Error Codes
const (
	ErrorCodeNotFound           = "NOT_FOUND"           // 404: Resource doesn't exist
	ErrorCodePolicyNotFound     = "POLICY_NOT_FOUND"    // 404: Policy doesn't exist
	ErrorCodeBadRequest         = "BAD_REQUEST"         // 400: Invalid request format
	ErrorCodeInvalidRequest     = "INVALID_REQUEST"     // 400: Invalid request data
	ErrorCodeValidation         = "VALIDATION_ERROR"    // 422: Input validation failed
	ErrorCodeInternalError      = "INTERNAL_ERROR"      // 500: Server-side error
	ErrorCodeUnauthorized       = "UNAUTHORIZED"        // 401: Authentication required
	ErrorCodeForbidden          = "FORBIDDEN"           // 403: Permission denied
	ErrorCodeConflict           = "CONFLICT"            // 409: Request conflicts with current state
	ErrorCodeBadGateway         = "BAD_GATEWAY"         // 502: Upstream unreachable
	ErrorCodeServiceUnavailable = "SERVICE_UNAVAILABLE" // 503: Service temporarily down
)

func NewErrorResponse(message string, code string) *ErrorResponse {
	return &ErrorResponse{
		Error:     "error",
		Message:   message,
		Code:      code,
		Timestamp: time.Now(),
	}
}

func NewRateLimitResponse(message string, retryAfter int) *RateLimitResponse {
	return &RateLimitResponse{
		Success:    false,
		Message:    message,
		RetryAfter: retryAfter,
	}
}

// NewPolicyResponse renders a policy for the admin API.
func NewPolicyResponse(p Policy, overridden bool, trackedKeys int) PolicyResponse {
	return PolicyResponse{
		Name:        p.Name,
		Algorithm:   p.Algorithm,
		Window:      p.Window.String(),
		WindowMs:    p.Window.Milliseconds(),
		MaxRequests: p.MaxRequests,
		Message:     p.Message,
		StatusCode:  p.StatusCode,
		KeyStrategy: p.KeyStrategy,
		Overridden:  overridden,
		TrackedKeys: trackedKeys,
		UpdatedAt:   p.UpdatedAt,
	}
}

func NewHealthCheckResponse(status string) *HealthCheckResponse {
	return &HealthCheckResponse{
		Status:     status,
		Timestamp:  time.Now(),
		Components: make(map[string]ComponentHealth),
		Metrics:    make(map[string]interface{}),
	}
}

func (h *HealthCheckResponse) AddComponent(name, status, message string) {
	h.Components[name] = ComponentHealth{
		Status:    status,
		Message:   message,
		Timestamp: time.Now(),
		Details:   make(map[string]interface{}),
	}
}

func (h *HealthCheckResponse) AddMetric(name string, value interface{}) {
	h.Metrics[name] = value
}

// NewAPIKeyResponse builds the public view of k.
func NewAPIKeyResponse(k *APIKey) APIKeyResponse {
	return APIKeyResponse{
		ID:          k.ID,
		Name:        k.Name,
		Prefix:      k.Prefix,
		Permissions: k.Permissions,
		Enabled:     k.Enabled,
		CreatedAt:   k.CreatedAt,
		UpdatedAt:   k.UpdatedAt,
	}
}
