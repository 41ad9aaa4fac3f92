package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefaultPolicies(t *testing.T) {
	policies := DefaultPolicies()

	assert.Len(t, policies, 3)
	assert.Equal(t, 5, policies[PolicyAuth].MaxRequests)
	assert.Equal(t, 15*time.Minute, policies[PolicyAuth].Window)
	assert.Equal(t, 100, policies[PolicyAPI].MaxRequests)
	assert.Equal(t, 15*time.Minute, policies[PolicyAPI].Window)
	assert.Equal(t, 3, policies[PolicySensitive].MaxRequests)
	assert.Equal(t, time.Hour, policies[PolicySensitive].Window)

	for name, p := range policies {
		assert.Equal(t, name, p.Name)
		assert.Equal(t, AlgorithmFixedWindow, p.Algorithm)
		assert.NoError(t, p.Validate(), name)
	}
}

func TestPolicy_WithDefaults(t *testing.T) {
	p := Policy{Name: "custom", Window: time.Minute, MaxRequests: 1}.WithDefaults()

	assert.Equal(t, AlgorithmFixedWindow, p.Algorithm)
	assert.Equal(t, DefaultRejectionMessage, p.Message)
	assert.Equal(t, 429, p.StatusCode)
	assert.Equal(t, KeyStrategyIP, p.KeyStrategy)
}

func TestPolicy_Validate(t *testing.T) {
	valid := Policy{Name: "api", Window: time.Minute, MaxRequests: 10}

	tests := []struct {
		name    string
		mutate  func(p *Policy)
		wantErr string
	}{
		{"valid", func(p *Policy) {}, ""},
		{"empty name", func(p *Policy) { p.Name = "" }, "name cannot be empty"},
		{"colon in name", func(p *Policy) { p.Name = "a:b" }, "must not contain"},
		{"unknown algorithm", func(p *Policy) { p.Algorithm = "sliding_log" }, "unsupported algorithm"},
		{"zero window", func(p *Policy) { p.Window = 0 }, "window must be positive"},
		{"sub-millisecond window", func(p *Policy) { p.Window = time.Microsecond }, "at least 1ms"},
		{"fractional millisecond window", func(p *Policy) { p.Window = 1500 * time.Microsecond }, "whole number of milliseconds"},
		{"zero max", func(p *Policy) { p.MaxRequests = 0 }, "max requests must be positive"},
		{"success status", func(p *Policy) { p.StatusCode = 200 }, "not an error status"},
		{"header without name", func(p *Policy) { p.KeyStrategy = "header:" }, "needs a header name"},
		{"unknown strategy", func(p *Policy) { p.KeyStrategy = "cookie" }, "unsupported key strategy"},
		{"token bucket", func(p *Policy) { p.Algorithm = AlgorithmTokenBucket }, ""},
		{"api key strategy", func(p *Policy) { p.KeyStrategy = KeyStrategyAPIKey }, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := valid
			tt.mutate(&p)
			err := p.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			if assert.Error(t, err) {
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestPolicy_MergeOver(t *testing.T) {
	base := DefaultPolicies()[PolicyAuth]

	merged := Policy{MaxRequests: 10}.MergeOver(base)
	want := base
	want.MaxRequests = 10
	assert.Equal(t, want, merged)

	full := Policy{
		Name:        PolicyAuth,
		Algorithm:   AlgorithmTokenBucket,
		Window:      time.Minute,
		MaxRequests: 2,
		Message:     "no",
		StatusCode:  503,
		KeyStrategy: KeyStrategyAPIKey,
	}
	assert.Equal(t, full, full.MergeOver(base), "set fields are never replaced")
}
