package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rentgate/internal/models"
	"rentgate/internal/storage"
)

// newTestAPIKey creates an API key in the store and returns the raw key.
func newTestAPIKey(t *testing.T, store storage.Storage, name, rawKey string, perms []string, enabled bool) string {
	t.Helper()
	ak := models.NewAPIKey(models.NewKeyID(), name, rawKey, perms)
	ak.Enabled = enabled
	require.NoError(t, store.CreateAPIKey(context.Background(), ak))
	return rawKey
}

func TestAuthMiddleware(t *testing.T) {
	store := newMemoryStorage(t)
	validKey := newTestAPIKey(t, store, "Valid Key", "rg_valid-raw-key", []string{"read"}, true)
	newTestAPIKey(t, store, "Disabled Key", "rg_disabled-raw-key", []string{"admin"}, false)

	var seen *models.APIKey
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = models.APIKeyFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})
	mw := authMiddleware(store)

	tests := []struct {
		name           string
		authHeader     string
		expectedStatus int
	}{
		{"valid key returns 200", "Bearer " + validKey, http.StatusOK},
		{"missing authorization header returns 401", "", http.StatusUnauthorized},
		{"invalid key returns 401", "Bearer totally-invalid-key", http.StatusUnauthorized},
		{"disabled key returns 401", "Bearer rg_disabled-raw-key", http.StatusUnauthorized},
		{"invalid bearer format returns 401", "Basic dXNlcjpwYXNz", http.StatusUnauthorized},
		{"empty bearer returns 401", "Bearer ", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = nil
			req := httptest.NewRequest(http.MethodGet, "/admin/v1/policies", nil)
			if tt.authHeader != "" {
				req.Header.Set("Authorization", tt.authHeader)
			}
			rr := httptest.NewRecorder()
			mw(handler).ServeHTTP(rr, req)

			assert.Equal(t, tt.expectedStatus, rr.Code)
			if tt.expectedStatus == http.StatusOK {
				require.NotNil(t, seen)
				assert.Equal(t, "Valid Key", seen.Name)
			} else {
				var resp models.ErrorResponse
				require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
				assert.Equal(t, models.ErrorCodeUnauthorized, resp.Code)
			}
		})
	}
}

func TestOptionalAuth(t *testing.T) {
	store := newMemoryStorage(t)
	validKey := newTestAPIKey(t, store, "Partner", "rg_partner-key", []string{"read"}, true)
	newTestAPIKey(t, store, "Unprefixed", "legacy-key", []string{"read"}, true)

	tests := []struct {
		name           string
		authHeader     string
		expectKeyInCtx bool
	}{
		{"gateway key sets context", "Bearer " + validKey, true},
		{"no auth header continues without auth", "", false},
		{"unknown gateway key continues without auth", "Bearer rg_unknown", false},
		{"upstream token is not looked up", "Bearer legacy-key", false},
		{"invalid format continues without auth", "InvalidFormat", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var ctxKey *models.APIKey
			handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				ctxKey, _ = models.APIKeyFromContext(r.Context())
				w.WriteHeader(http.StatusOK)
			})

			req := httptest.NewRequest(http.MethodGet, "/api/properties", nil)
			if tt.authHeader != "" {
				req.Header.Set("Authorization", tt.authHeader)
			}
			rr := httptest.NewRecorder()
			OptionalAuth(store)(handler).ServeHTTP(rr, req)

			assert.Equal(t, http.StatusOK, rr.Code, "OptionalAuth should never block requests")
			if tt.expectKeyInCtx {
				assert.NotNil(t, ctxKey, "expected API key in context")
			} else {
				assert.Nil(t, ctxKey, "expected no API key in context")
			}
		})
	}
}

func TestRequirePermission(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })

	tests := []struct {
		name       string
		perms      []string
		required   Permission
		wantStatus int
	}{
		{"no key", nil, PermissionRead, http.StatusForbidden},
		{"read satisfies read", []string{"read"}, PermissionRead, http.StatusOK},
		{"read does not satisfy admin", []string{"read"}, PermissionAdmin, http.StatusForbidden},
		{"write satisfies read", []string{"write"}, PermissionRead, http.StatusOK},
		{"admin satisfies everything", []string{"admin"}, PermissionAdmin, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/admin/v1/keys", nil)
			if tt.perms != nil {
				req = withKey(req, models.NewAPIKey("id", "k", "rg_k", tt.perms))
			}
			rr := httptest.NewRecorder()
			RequirePermission(tt.required)(ok).ServeHTTP(rr, req)
			assert.Equal(t, tt.wantStatus, rr.Code)
		})
	}
}

func TestRequestIDMiddleware(t *testing.T) {
	var seen string
	handler := requestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
	}))

	t.Run("generates an ID", func(t *testing.T) {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Len(t, seen, 36)
		assert.Equal(t, seen, rr.Header().Get(HeaderRequestID))
	})

	t.Run("propagates the caller's ID", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(HeaderRequestID, "trace-abc")
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		assert.Equal(t, "trace-abc", seen)
		assert.Equal(t, "trace-abc", rr.Header().Get(HeaderRequestID))
	})
}

func TestRecoveryMiddleware(t *testing.T) {
	handler := requestIDMiddleware(recoveryMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/properties", nil))

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	var resp models.ErrorResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, models.ErrorCodeInternalError, resp.Code)
	assert.Equal(t, rr.Header().Get(HeaderRequestID), resp.RequestID)
}

func TestLoggingMiddleware_PassesThrough(t *testing.T) {
	handler := loggingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("short and stout"))
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/properties", nil))

	assert.Equal(t, http.StatusTeapot, rr.Code)
	assert.Equal(t, "short and stout", rr.Body.String())
}

func TestStatusRecorder(t *testing.T) {
	rr := httptest.NewRecorder()
	rec := &statusRecorder{ResponseWriter: rr}

	_, err := rec.Write([]byte("hello"))
	require.NoError(t, err)
	rec.WriteHeader(http.StatusInternalServerError)
	rec.Flush()

	assert.Equal(t, http.StatusOK, rec.status, "first write fixes the status")
	assert.Equal(t, 5, rec.bytes)
	assert.True(t, rr.Flushed)
	assert.Same(t, rr, rec.Unwrap())
}
