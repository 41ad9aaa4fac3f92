package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rentgate/internal/models"
	"rentgate/internal/ratelimit"
)

func TestPathHasPrefix(t *testing.T) {
	tests := []struct {
		path, prefix string
		want         bool
	}{
		{"/api/auth", "/api/auth", true},
		{"/api/auth/login", "/api/auth", true},
		{"/api/authors", "/api/auth", false},
		{"/api/authors", "/api/", true},
		{"/anything", "/", true},
		{"/api", "/api/", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, pathHasPrefix(tt.path, tt.prefix), "%s vs %s", tt.path, tt.prefix)
	}
}

func TestGateway_PolicyFor(t *testing.T) {
	g := NewGateway(models.NewDefaultConfig().RateLimit.Routes, models.PolicyAPI, nil, http.NotFoundHandler())

	tests := []struct {
		method, path string
		want         string
	}{
		{http.MethodPost, "/api/auth/login", models.PolicyAuth},
		{http.MethodPost, "/api/auth/register", models.PolicyAuth},
		{http.MethodGet, "/api/properties/12", models.PolicyAPI},
		{http.MethodPost, "/api/payments", models.PolicySensitive},
		{http.MethodGet, "/api/payments", models.PolicyAPI},
		{http.MethodPost, "/api/receipts/bulk/send", models.PolicySensitive},
		{http.MethodPost, "/api/notifications/broadcast", models.PolicySensitive},
		{http.MethodGet, "/static/app.js", models.PolicyAPI},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, g.PolicyFor(httptest.NewRequest(tt.method, tt.path, nil)))
		})
	}
}

func TestGateway_NoDefaultPolicy(t *testing.T) {
	rules := []models.RouteRule{{PathPrefix: "/api", Policy: models.PolicyAPI}}
	g := NewGateway(rules, "", nil, http.NotFoundHandler())

	assert.Equal(t, "", g.PolicyFor(httptest.NewRequest(http.MethodGet, "/favicon.ico", nil)))
}

func TestGateway_ServeHTTP(t *testing.T) {
	registry := ratelimit.NewRegistry(ratelimit.Builder{SweepInterval: -1})
	defer registry.Close()
	for _, p := range models.DefaultPolicies() {
		require.NoError(t, registry.Install(p))
	}

	upstreamCalls := 0
	upstream := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		upstreamCalls++
		w.WriteHeader(http.StatusOK)
	})
	g := NewGateway(models.NewDefaultConfig().RateLimit.Routes, models.PolicyAPI, registry, upstream)

	login := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/auth/login", nil)
		req.RemoteAddr = "203.0.113.7:5555"
		rr := httptest.NewRecorder()
		g.ServeHTTP(rr, req)
		return rr
	}

	for i := 1; i <= 5; i++ {
		rr := login()
		require.Equal(t, http.StatusOK, rr.Code, "attempt %d", i)
		assert.Equal(t, "auth", rr.Header().Get(ratelimit.HeaderPolicy))
	}

	rr := login()
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Equal(t, 5, upstreamCalls, "rejected request never reaches upstream")
	assert.Equal(t, "900", rr.Header().Get(ratelimit.HeaderRetryAfter))

	var body models.RateLimitResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.False(t, body.Success)
	assert.Equal(t, "Too many authentication attempts, please try again later.", body.Message)

	// The auth budget does not spill into the api policy.
	req := httptest.NewRequest(http.MethodGet, "/api/properties", nil)
	req.RemoteAddr = "203.0.113.7:5555"
	rr = httptest.NewRecorder()
	g.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "99", rr.Header().Get(ratelimit.HeaderRemaining))
}

func TestGateway_NilRegistryDoesNotLimit(t *testing.T) {
	upstream := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	g := NewGateway(models.NewDefaultConfig().RateLimit.Routes, models.PolicyAPI, nil, upstream)

	for range 10 {
		rr := httptest.NewRecorder()
		g.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/auth/login", nil))
		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Empty(t, rr.Header().Get(ratelimit.HeaderLimit))
	}
}
