package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"rentgate/internal/models"
	"rentgate/internal/policy"
	"rentgate/internal/ratelimit"
)

// newPolicyTestHandlers wires handlers to a real policy service over memory
// storage and an in-memory limiter registry.
func newPolicyTestHandlers(t *testing.T) (*Handlers, *ratelimit.Registry) {
	t.Helper()
	store := newMemoryStorage(t)
	registry := ratelimit.NewRegistry(ratelimit.Builder{SweepInterval: -1})
	t.Cleanup(registry.Close)

	svc := policy.NewService(models.DefaultPolicies(), store, registry)
	require.NoError(t, svc.Bootstrap(context.Background()))
	return NewHandlers(svc, WithStorage(store)), registry
}

func admitFrom(t *testing.T, registry *ratelimit.Registry, name, ip string) ratelimit.Decision {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/api/properties", nil)
	req.RemoteAddr = ip + ":40000"
	d, err := registry.Admit(name, req)
	require.NoError(t, err)
	return d
}

func withVars(r *http.Request, vars map[string]string) *http.Request {
	return mux.SetURLVars(r, vars)
}

func TestListPolicies(t *testing.T) {
	h, registry := newPolicyTestHandlers(t)
	admitFrom(t, registry, "auth", "10.0.0.1")

	rr := httptest.NewRecorder()
	h.ListPolicies(rr, httptest.NewRequest(http.MethodGet, "/admin/v1/policies", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	var resp models.ListPoliciesResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Equal(t, 3, resp.TotalCount)
	assert.Equal(t, "api", resp.Policies[0].Name)
	assert.Equal(t, "auth", resp.Policies[1].Name)
	assert.Equal(t, 1, resp.Policies[1].TrackedKeys)
	assert.Equal(t, int64(900000), resp.Policies[1].WindowMs)
	assert.Equal(t, "sensitive", resp.Policies[2].Name)
}

func TestGetPolicy(t *testing.T) {
	h, _ := newPolicyTestHandlers(t)

	rr := httptest.NewRecorder()
	h.GetPolicy(rr, withVars(httptest.NewRequest(http.MethodGet, "/admin/v1/policies/sensitive", nil),
		map[string]string{"name": "sensitive"}))

	assert.Equal(t, http.StatusOK, rr.Code)
	var resp models.PolicyResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, 3, resp.MaxRequests)
	assert.Equal(t, "1h0m0s", resp.Window)
	assert.False(t, resp.Overridden)

	rr = httptest.NewRecorder()
	h.GetPolicy(rr, withVars(httptest.NewRequest(http.MethodGet, "/admin/v1/policies/nope", nil),
		map[string]string{"name": "nope"}))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestUpdatePolicy(t *testing.T) {
	h, registry := newPolicyTestHandlers(t)

	body := []byte(`{"window":"1m","max_requests":2,"message":"Easy there."}`)
	req := withVars(httptest.NewRequest(http.MethodPut, "/admin/v1/policies/auth", bytes.NewReader(body)),
		map[string]string{"name": "auth"})
	rr := httptest.NewRecorder()
	h.UpdatePolicy(rr, req)

	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var resp models.PolicyResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.True(t, resp.Overridden)
	assert.Equal(t, int64(60000), resp.WindowMs)

	assert.True(t, admitFrom(t, registry, "auth", "10.0.0.9").Allowed)
	assert.True(t, admitFrom(t, registry, "auth", "10.0.0.9").Allowed)
	d := admitFrom(t, registry, "auth", "10.0.0.9")
	assert.False(t, d.Allowed)
	assert.Equal(t, "Easy there.", d.Message)
}

func TestUpdatePolicy_Errors(t *testing.T) {
	h, _ := newPolicyTestHandlers(t)

	tests := []struct {
		name       string
		policy     string
		body       string
		wantStatus int
	}{
		{"malformed json", "auth", `{"window":`, http.StatusBadRequest},
		{"unknown field", "auth", `{"window":"1m","max_requests":1,"limit":5}`, http.StatusBadRequest},
		{"invalid window", "auth", `{"window":"soon","max_requests":1}`, http.StatusUnprocessableEntity},
		{"invalid key strategy", "auth", `{"window":"1m","max_requests":1,"key_strategy":"cookie"}`, http.StatusUnprocessableEntity},
		{"unknown policy", "checkout", `{"window":"1m","max_requests":1}`, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := withVars(httptest.NewRequest(http.MethodPut, "/admin/v1/policies/"+tt.policy, bytes.NewReader([]byte(tt.body))),
				map[string]string{"name": tt.policy})
			rr := httptest.NewRecorder()
			h.UpdatePolicy(rr, req)
			assert.Equal(t, tt.wantStatus, rr.Code, rr.Body.String())
		})
	}
}

func TestResetPolicyDefaults(t *testing.T) {
	h, _ := newPolicyTestHandlers(t)

	body := []byte(`{"window_ms":60000,"max_requests":50}`)
	rr := httptest.NewRecorder()
	h.UpdatePolicy(rr, withVars(httptest.NewRequest(http.MethodPut, "/admin/v1/policies/api", bytes.NewReader(body)),
		map[string]string{"name": "api"}))
	require.Equal(t, http.StatusOK, rr.Code)

	rr = httptest.NewRecorder()
	h.ResetPolicyDefaults(rr, withVars(httptest.NewRequest(http.MethodDelete, "/admin/v1/policies/api", nil),
		map[string]string{"name": "api"}))

	assert.Equal(t, http.StatusOK, rr.Code)
	var resp models.PolicyResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, 100, resp.MaxRequests)
	assert.False(t, resp.Overridden)
}

func TestBuckets(t *testing.T) {
	h, registry := newPolicyTestHandlers(t)
	admitFrom(t, registry, "sensitive", "10.0.0.1")
	admitFrom(t, registry, "sensitive", "10.0.0.1")
	admitFrom(t, registry, "sensitive", "10.0.0.2")

	rr := httptest.NewRecorder()
	h.ListBuckets(rr, withVars(httptest.NewRequest(http.MethodGet, "/admin/v1/policies/sensitive/buckets", nil),
		map[string]string{"name": "sensitive"}))

	require.Equal(t, http.StatusOK, rr.Code)
	var list models.ListBucketsResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &list))
	require.Equal(t, 2, list.TotalCount)
	assert.Equal(t, "10.0.0.1", list.Buckets[0].Key)
	assert.Equal(t, 2, list.Buckets[0].Count)
	assert.Equal(t, 1, list.Buckets[0].Remaining)

	rr = httptest.NewRecorder()
	h.ResetBucket(rr, withVars(httptest.NewRequest(http.MethodDelete, "/admin/v1/policies/sensitive/buckets/10.0.0.1", nil),
		map[string]string{"name": "sensitive", "key": "10.0.0.1"}))
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = httptest.NewRecorder()
	h.ResetBucket(rr, withVars(httptest.NewRequest(http.MethodDelete, "/admin/v1/policies/sensitive/buckets/10.0.0.1", nil),
		map[string]string{"name": "sensitive", "key": "10.0.0.1"}))
	assert.Equal(t, http.StatusNotFound, rr.Code, "second reset finds nothing")

	rr = httptest.NewRecorder()
	h.ResetBuckets(rr, withVars(httptest.NewRequest(http.MethodDelete, "/admin/v1/policies/sensitive/buckets", nil),
		map[string]string{"name": "sensitive"}))
	require.Equal(t, http.StatusOK, rr.Code)
	var reset models.ResetResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &reset))
	assert.Equal(t, 1, reset.Removed)
}

func TestBuckets_ServiceFailure(t *testing.T) {
	svc := &MockPolicyService{}
	svc.On("Get", mock.Anything, "api").Return(&policy.Status{Policy: models.Policy{Name: "api", MaxRequests: 100}}, nil)
	svc.On("Buckets", mock.Anything, "api").Return(nil, policy.NewInternalError("failed to read counters", errors.New("redis: connection refused")))
	h := NewHandlers(svc)

	rr := httptest.NewRecorder()
	h.ListBuckets(rr, withVars(httptest.NewRequest(http.MethodGet, "/admin/v1/policies/api/buckets", nil),
		map[string]string{"name": "api"}))

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	svc.AssertExpectations(t)
}
