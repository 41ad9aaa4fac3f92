package observability

import (
	"context"
	"errors"
	"time"

	"rentgate/internal/models"
	"rentgate/internal/storage"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// InstrumentedStorage wraps a storage.Storage implementation with
// OpenTelemetry tracing and metrics instrumentation.
type InstrumentedStorage struct {
	inner    storage.Storage
	tracer   trace.Tracer
	duration metric.Float64Histogram
	errors   metric.Int64Counter
}

// NewInstrumentedStorage creates a new storage wrapper that records trace spans,
// operation latency histograms, and error counters for every storage method call.
func NewInstrumentedStorage(inner storage.Storage) (*InstrumentedStorage, error) {
	tracer := otel.Tracer("rentgate/storage")
	meter := otel.Meter("rentgate/storage")

	duration, err := meter.Float64Histogram(
		"storage.operation.duration",
		metric.WithDescription("Duration of storage operations in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	errCounter, err := meter.Int64Counter(
		"storage.operation.errors",
		metric.WithDescription("Number of storage operation errors"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	return &InstrumentedStorage{
		inner:    inner,
		tracer:   tracer,
		duration: duration,
		errors:   errCounter,
	}, nil
}

func (s *InstrumentedStorage) startSpan(ctx context.Context, operation string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	ctx, span := s.tracer.Start(ctx, "storage."+operation,
		trace.WithAttributes(append([]attribute.KeyValue{
			attribute.String("storage.operation", operation),
		}, attrs...)...),
	)
	return ctx, span
}

func (s *InstrumentedStorage) record(ctx context.Context, span trace.Span, operation string, start time.Time, err error) {
	elapsed := time.Since(start).Seconds()
	attrs := metric.WithAttributes(attribute.String("operation", operation))

	s.duration.Record(ctx, elapsed, attrs)

	switch {
	case err == nil:
		span.SetStatus(codes.Ok, "")
	case errors.Is(err, storage.ErrNotFound):
		// A miss is an answer, not a failure.
		span.SetAttributes(attribute.Bool("storage.not_found", true))
		span.SetStatus(codes.Ok, "")
	default:
		s.errors.Add(ctx, 1, attrs)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	span.End()
}

func (s *InstrumentedStorage) Policies(ctx context.Context) ([]*models.Policy, error) {
	ctx, span := s.startSpan(ctx, "Policies")
	start := time.Now()
	policies, err := s.inner.Policies(ctx)
	s.record(ctx, span, "Policies", start, err)
	return policies, err
}

func (s *InstrumentedStorage) GetPolicy(ctx context.Context, name string) (*models.Policy, error) {
	ctx, span := s.startSpan(ctx, "GetPolicy", attribute.String("policy.name", name))
	start := time.Now()
	policy, err := s.inner.GetPolicy(ctx, name)
	s.record(ctx, span, "GetPolicy", start, err)
	return policy, err
}

func (s *InstrumentedStorage) SavePolicy(ctx context.Context, policy *models.Policy) error {
	ctx, span := s.startSpan(ctx, "SavePolicy", attribute.String("policy.name", policy.Name))
	start := time.Now()
	err := s.inner.SavePolicy(ctx, policy)
	s.record(ctx, span, "SavePolicy", start, err)
	return err
}

func (s *InstrumentedStorage) DeletePolicy(ctx context.Context, name string) error {
	ctx, span := s.startSpan(ctx, "DeletePolicy", attribute.String("policy.name", name))
	start := time.Now()
	err := s.inner.DeletePolicy(ctx, name)
	s.record(ctx, span, "DeletePolicy", start, err)
	return err
}

func (s *InstrumentedStorage) CreateAPIKey(ctx context.Context, key *models.APIKey) error {
	ctx, span := s.startSpan(ctx, "CreateAPIKey", attribute.String("api_key.id", key.ID))
	start := time.Now()
	err := s.inner.CreateAPIKey(ctx, key)
	s.record(ctx, span, "CreateAPIKey", start, err)
	return err
}

// GetAPIKeyByHash never puts the hash on the span.
func (s *InstrumentedStorage) GetAPIKeyByHash(ctx context.Context, hash string) (*models.APIKey, error) {
	ctx, span := s.startSpan(ctx, "GetAPIKeyByHash")
	start := time.Now()
	key, err := s.inner.GetAPIKeyByHash(ctx, hash)
	s.record(ctx, span, "GetAPIKeyByHash", start, err)
	return key, err
}

func (s *InstrumentedStorage) ListAPIKeys(ctx context.Context) ([]*models.APIKey, error) {
	ctx, span := s.startSpan(ctx, "ListAPIKeys")
	start := time.Now()
	keys, err := s.inner.ListAPIKeys(ctx)
	s.record(ctx, span, "ListAPIKeys", start, err)
	return keys, err
}

func (s *InstrumentedStorage) UpdateAPIKey(ctx context.Context, key *models.APIKey) error {
	ctx, span := s.startSpan(ctx, "UpdateAPIKey", attribute.String("api_key.id", key.ID))
	start := time.Now()
	err := s.inner.UpdateAPIKey(ctx, key)
	s.record(ctx, span, "UpdateAPIKey", start, err)
	return err
}

func (s *InstrumentedStorage) DeleteAPIKey(ctx context.Context, id string) error {
	ctx, span := s.startSpan(ctx, "DeleteAPIKey", attribute.String("api_key.id", id))
	start := time.Now()
	err := s.inner.DeleteAPIKey(ctx, id)
	s.record(ctx, span, "DeleteAPIKey", start, err)
	return err
}

func (s *InstrumentedStorage) Ping(ctx context.Context) error {
	ctx, span := s.startSpan(ctx, "Ping")
	start := time.Now()
	err := s.inner.Ping(ctx)
	s.record(ctx, span, "Ping", start, err)
	return err
}

func (s *InstrumentedStorage) Close() error {
	return s.inner.Close()
}
