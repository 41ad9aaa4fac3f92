package observability

import (
	"context"
	"fmt"

	"rentgate/internal/ratelimit"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// LimiterMetrics records rate limit decisions as OpenTelemetry metrics. It
// implements ratelimit.Observer.
type LimiterMetrics struct {
	meter       metric.Meter
	decisions   metric.Int64Counter
	storeErrors metric.Int64Counter
}

// NewLimiterMetrics creates the decision instruments on meter.
func NewLimiterMetrics(meter metric.Meter) (*LimiterMetrics, error) {
	decisions, err := meter.Int64Counter(
		"ratelimit.decisions",
		metric.WithDescription("Rate limit decisions by policy and outcome"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("decisions counter: %w", err)
	}

	storeErrors, err := meter.Int64Counter(
		"ratelimit.store.errors",
		metric.WithDescription("Requests admitted uncounted because the counter store failed"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, fmt.Errorf("store errors counter: %w", err)
	}

	return &LimiterMetrics{
		meter:       meter,
		decisions:   decisions,
		storeErrors: storeErrors,
	}, nil
}

// ObserveDecision counts d under its policy and outcome.
func (m *LimiterMetrics) ObserveDecision(ctx context.Context, d ratelimit.Decision) {
	outcome := "allowed"
	if !d.Allowed {
		outcome = "rejected"
	}
	policy := attribute.String("policy", d.Policy)

	m.decisions.Add(ctx, 1, metric.WithAttributes(policy, attribute.String("outcome", outcome)))
	if d.Degraded {
		m.storeErrors.Add(ctx, 1, metric.WithAttributes(policy))
	}
}

// ObserveRegistry reports the number of tracked keys per policy as a gauge.
// The registry is read at collection time.
func (m *LimiterMetrics) ObserveRegistry(registry *ratelimit.Registry) error {
	_, err := m.meter.Int64ObservableGauge(
		"ratelimit.tracked_keys",
		metric.WithDescription("Keys with a live counter, per policy"),
		metric.WithUnit("{key}"),
		metric.WithInt64Callback(func(ctx context.Context, o metric.Int64Observer) error {
			for name, n := range registry.TrackedKeys(ctx) {
				o.Observe(int64(n), metric.WithAttributes(attribute.String("policy", name)))
			}
			return nil
		}),
	)
	if err != nil {
		return fmt.Errorf("tracked keys gauge: %w", err)
	}
	return nil
}

var _ ratelimit.Observer = (*LimiterMetrics)(nil)
