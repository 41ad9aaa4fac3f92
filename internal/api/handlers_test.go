package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"rentgate/internal/models"
	"rentgate/internal/policy"
	"rentgate/internal/ratelimit"
	"rentgate/internal/storage"
)

// MockPolicyService implements policy.ServiceInterface for testing
type MockPolicyService struct {
	mock.Mock
}

func (m *MockPolicyService) Bootstrap(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockPolicyService) List(ctx context.Context) ([]policy.Status, error) {
	args := m.Called(ctx)
	statuses, _ := args.Get(0).([]policy.Status)
	return statuses, args.Error(1)
}

func (m *MockPolicyService) Get(ctx context.Context, name string) (*policy.Status, error) {
	args := m.Called(ctx, name)
	st, _ := args.Get(0).(*policy.Status)
	return st, args.Error(1)
}

func (m *MockPolicyService) Update(ctx context.Context, name string, req *models.UpdatePolicyRequest) (*policy.Status, error) {
	args := m.Called(ctx, name, req)
	st, _ := args.Get(0).(*policy.Status)
	return st, args.Error(1)
}

func (m *MockPolicyService) Reset(ctx context.Context, name string) (*policy.Status, error) {
	args := m.Called(ctx, name)
	st, _ := args.Get(0).(*policy.Status)
	return st, args.Error(1)
}

func (m *MockPolicyService) Buckets(ctx context.Context, name string) ([]ratelimit.Record, error) {
	args := m.Called(ctx, name)
	records, _ := args.Get(0).([]ratelimit.Record)
	return records, args.Error(1)
}

func (m *MockPolicyService) ResetKey(ctx context.Context, name, key string) (bool, error) {
	args := m.Called(ctx, name, key)
	return args.Bool(0), args.Error(1)
}

func (m *MockPolicyService) ResetPolicy(ctx context.Context, name string) (int, error) {
	args := m.Called(ctx, name)
	return args.Int(0), args.Error(1)
}

// pingFailStorage is a memory storage whose Ping always fails.
type pingFailStorage struct {
	*storage.MemoryStorage
}

func (pingFailStorage) Ping(context.Context) error {
	return errors.New("connection refused")
}

func newMemoryStorage(t *testing.T) *storage.MemoryStorage {
	t.Helper()
	store, err := storage.NewMemoryStorage(storage.Config{})
	require.NoError(t, err)
	return store
}

func withKey(r *http.Request, key *models.APIKey) *http.Request {
	return r.WithContext(models.ContextWithAPIKey(r.Context(), key))
}

func TestHealthCheck_Healthy(t *testing.T) {
	h := NewHandlers(&MockPolicyService{}, WithStorage(newMemoryStorage(t)), WithUpstream("http://rental-api:5000"))

	rr := httptest.NewRecorder()
	h.HealthCheck(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	var resp models.HealthCheckResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, models.StatusHealthy, resp.Status)
	assert.Equal(t, models.StatusHealthy, resp.Components["storage"].Status)
	assert.Equal(t, models.StatusHealthy, resp.Components["upstream"].Status)
	assert.Equal(t, false, resp.Metrics["authenticated"])
	assert.NotContains(t, resp.Metrics, "tracked_keys")
}

func TestHealthCheck_StorageDown(t *testing.T) {
	h := NewHandlers(&MockPolicyService{}, WithStorage(pingFailStorage{newMemoryStorage(t)}))

	rr := httptest.NewRecorder()
	h.HealthCheck(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	var resp models.HealthCheckResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, models.StatusUnhealthy, resp.Status)
	assert.Equal(t, models.StatusUnhealthy, resp.Components["storage"].Status)
	assert.Equal(t, models.StatusUnknown, resp.Components["upstream"].Status)
}

func TestHealthCheck_AuthenticatedShowsTrackedKeys(t *testing.T) {
	svc := &MockPolicyService{}
	svc.On("List", mock.Anything).Return([]policy.Status{
		{Policy: models.Policy{Name: "api"}, TrackedKeys: 4},
		{Policy: models.Policy{Name: "auth"}, TrackedKeys: 1},
	}, nil)
	h := NewHandlers(svc, WithStorage(newMemoryStorage(t)))

	key := models.NewAPIKey("id-1", "ops", "rg_ops", []string{"read"})
	rr := httptest.NewRecorder()
	h.HealthCheck(rr, withKey(httptest.NewRequest(http.MethodGet, "/health", nil), key))

	assert.Equal(t, http.StatusOK, rr.Code)
	var resp models.HealthCheckResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, true, resp.Metrics["authenticated"])
	assert.Equal(t, map[string]interface{}{"api": float64(4), "auth": float64(1)}, resp.Metrics["tracked_keys"])
	assert.Equal(t, models.StatusHealthy, resp.Components["ratelimit"].Status)
	svc.AssertExpectations(t)
}

func TestWriteServiceError(t *testing.T) {
	h := NewHandlers(&MockPolicyService{})

	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"not found", policy.NewPolicyNotFoundError("x"), http.StatusNotFound, models.ErrorCodePolicyNotFound},
		{"invalid", policy.NewInvalidPolicyError("bad", errors.New("window must be positive")), http.StatusUnprocessableEntity, models.ErrorCodeValidation},
		{"internal", policy.NewInternalError("boom", errors.New("disk")), http.StatusInternalServerError, models.ErrorCodeInternalError},
		{"plain error", errors.New("unexpected"), http.StatusInternalServerError, models.ErrorCodeInternalError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			h.writeServiceError(rr, httptest.NewRequest(http.MethodGet, "/admin/v1/policies", nil), tt.err)

			assert.Equal(t, tt.wantStatus, rr.Code)
			var resp models.ErrorResponse
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
			assert.Equal(t, tt.wantCode, resp.Code)
		})
	}
}
