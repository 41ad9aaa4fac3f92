package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rentgate/internal/models"
)

func TestNewUpstreamProxy_InvalidURL(t *testing.T) {
	_, err := NewUpstreamProxy(models.UpstreamConfig{URL: "rental-api"})
	assert.Error(t, err)

	_, err = NewUpstreamProxy(models.UpstreamConfig{URL: "http://[::1"})
	assert.Error(t, err)
}

func TestUpstreamProxy_Forwards(t *testing.T) {
	var got *http.Request
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Clone(r.Context())
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer upstream.Close()

	proxy, err := NewUpstreamProxy(models.UpstreamConfig{URL: upstream.URL, Timeout: 5 * time.Second})
	require.NoError(t, err)
	handler := requestIDMiddleware(proxy)

	req := httptest.NewRequest(http.MethodGet, "/api/properties?city=Leeds", nil)
	req.RemoteAddr = "198.51.100.4:1234"
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"ok":true}`, rr.Body.String())
	require.NotNil(t, got)
	assert.Equal(t, "/api/properties", got.URL.Path)
	assert.Equal(t, "city=Leeds", got.URL.RawQuery)
	assert.Equal(t, "198.51.100.4", got.Header.Get("X-Forwarded-For"))
	assert.Equal(t, rr.Header().Get(HeaderRequestID), got.Header.Get(HeaderRequestID))
}

func TestUpstreamProxy_StripPrefix(t *testing.T) {
	var path string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
	}))
	defer upstream.Close()

	proxy, err := NewUpstreamProxy(models.UpstreamConfig{URL: upstream.URL, StripPrefix: "/gateway"})
	require.NoError(t, err)

	rr := httptest.NewRecorder()
	proxy.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/gateway/api/tenants", nil))
	assert.Equal(t, "/api/tenants", path)

	rr = httptest.NewRecorder()
	proxy.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/gateway", nil))
	assert.Equal(t, "/", path)
}

func TestUpstreamProxy_UpstreamDown(t *testing.T) {
	upstream := httptest.NewServer(http.NotFoundHandler())
	url := upstream.URL
	upstream.Close()

	proxy, err := NewUpstreamProxy(models.UpstreamConfig{URL: url})
	require.NoError(t, err)

	rr := httptest.NewRecorder()
	proxy.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/properties", nil))

	assert.Equal(t, http.StatusBadGateway, rr.Code)
	var resp models.ErrorResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, models.ErrorCodeBadGateway, resp.Code)
}
