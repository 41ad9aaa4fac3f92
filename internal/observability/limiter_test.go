package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"rentgate/internal/models"
	"rentgate/internal/ratelimit"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func newManualMeter(t *testing.T) (*sdkmetric.ManualReader, *LimiterMetrics) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewLimiterMetrics(mp.Meter("rentgate/ratelimit"))
	require.NoError(t, err)
	return reader, m
}

func newObservedRegistry(t *testing.T, m *LimiterMetrics) *ratelimit.Registry {
	t.Helper()
	registry := ratelimit.NewRegistry(ratelimit.Builder{SweepInterval: -1}, ratelimit.WithObserver(m))
	t.Cleanup(registry.Close)

	for _, p := range models.DefaultPolicies() {
		require.NoError(t, registry.Install(p))
	}
	return registry
}

func admit(t *testing.T, registry *ratelimit.Registry, policy string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/auth/login", nil)
		_, err := registry.Admit(policy, req)
		require.NoError(t, err)
	}
}

func collect(t *testing.T, reader *sdkmetric.ManualReader, name string) metricdata.Aggregation {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name == name {
				return m.Data
			}
		}
	}
	return nil
}

func sumFor(t *testing.T, data metricdata.Aggregation, attrs ...attribute.KeyValue) int64 {
	t.Helper()
	sum, ok := data.(metricdata.Sum[int64])
	require.True(t, ok, "expected an int64 sum, got %T", data)

	want := attribute.NewSet(attrs...)
	for _, dp := range sum.DataPoints {
		if dp.Attributes.Equals(&want) {
			return dp.Value
		}
	}
	return 0
}

func TestLimiterMetrics_CountsOutcomes(t *testing.T) {
	reader, m := newManualMeter(t)
	registry := newObservedRegistry(t, m)

	limit := models.DefaultPolicies()[models.PolicyAuth].MaxRequests
	admit(t, registry, models.PolicyAuth, limit+2)

	data := collect(t, reader, "ratelimit.decisions")
	require.NotNil(t, data)

	policy := attribute.String("policy", models.PolicyAuth)
	assert.Equal(t, int64(limit), sumFor(t, data, policy, attribute.String("outcome", "allowed")))
	assert.Equal(t, int64(2), sumFor(t, data, policy, attribute.String("outcome", "rejected")))
}

func TestLimiterMetrics_CountsDegradedDecisions(t *testing.T) {
	reader, m := newManualMeter(t)
	ctx := context.Background()

	m.ObserveDecision(ctx, ratelimit.Decision{Allowed: true, Policy: "api", Degraded: true})
	m.ObserveDecision(ctx, ratelimit.Decision{Allowed: true, Policy: "api"})

	data := collect(t, reader, "ratelimit.store.errors")
	require.NotNil(t, data)
	assert.Equal(t, int64(1), sumFor(t, data, attribute.String("policy", "api")))
}

func TestLimiterMetrics_TrackedKeysGauge(t *testing.T) {
	reader, m := newManualMeter(t)
	registry := newObservedRegistry(t, m)
	require.NoError(t, m.ObserveRegistry(registry))

	admit(t, registry, models.PolicyAPI, 1)

	data := collect(t, reader, "ratelimit.tracked_keys")
	require.NotNil(t, data)

	gauge, ok := data.(metricdata.Gauge[int64])
	require.True(t, ok, "expected an int64 gauge, got %T", data)

	byPolicy := map[string]int64{}
	for _, dp := range gauge.DataPoints {
		name, _ := dp.Attributes.Value("policy")
		byPolicy[name.AsString()] = dp.Value
	}
	assert.Equal(t, int64(1), byPolicy[models.PolicyAPI])
	assert.Equal(t, int64(0), byPolicy[models.PolicyAuth])
}
