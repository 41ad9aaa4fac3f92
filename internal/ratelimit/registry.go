package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"rentgate/internal/models"
)

// Observer receives every decision made through a Registry.
type Observer interface {
	ObserveDecision(ctx context.Context, d Decision)
}

// Builder turns a policy into a running limiter.
type Builder struct {
	// NewStore returns the counter store for a fixed-window policy. Nil means
	// a fresh in-memory store per policy.
	NewStore      func(policy string) CounterStore
	SweepInterval time.Duration
	TrustProxy    bool
	Clock         Clock
}

// ConfigFromPolicy converts a policy into limiter settings.
func ConfigFromPolicy(p models.Policy, trustProxy bool) (Config, error) {
	p = p.WithDefaults()
	if err := p.Validate(); err != nil {
		return Config{}, err
	}
	extractor, err := NewKeyExtractor(p.KeyStrategy, trustProxy)
	if err != nil {
		return Config{}, err
	}
	return Config{
		Name:         p.Name,
		Window:       p.Window,
		MaxRequests:  p.MaxRequests,
		Message:      p.Message,
		StatusCode:   p.StatusCode,
		KeyExtractor: extractor,
	}, nil
}

// Build creates the limiter for p using its configured algorithm.
func (b Builder) Build(p models.Policy) (Limiter, error) {
	cfg, err := ConfigFromPolicy(p, b.TrustProxy)
	if err != nil {
		return nil, fmt.Errorf("policy %s: %w", p.Name, err)
	}

	opts := []Option{WithSweepInterval(b.SweepInterval)}
	if b.Clock != nil {
		opts = append(opts, WithClock(b.Clock))
	}

	switch p.WithDefaults().Algorithm {
	case models.AlgorithmTokenBucket:
		return NewTokenBucket(cfg, opts...), nil
	default:
		var store CounterStore
		if b.NewStore != nil {
			store = b.NewStore(cfg.Name)
		}
		return NewFixedWindow(cfg, store, opts...), nil
	}
}

// Registry holds one limiter per named policy. Installing a policy under an
// existing name swaps the limiter and closes the old one.
type Registry struct {
	builder  Builder
	observer Observer

	mu       sync.RWMutex
	limiters map[string]Limiter
	policies map[string]models.Policy
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithObserver reports every decision to o.
func WithObserver(o Observer) RegistryOption {
	return func(r *Registry) {
		r.observer = o
	}
}

// NewRegistry creates an empty registry.
func NewRegistry(b Builder, opts ...RegistryOption) *Registry {
	r := &Registry{
		builder:  b,
		limiters: make(map[string]Limiter),
		policies: make(map[string]models.Policy),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Install builds a limiter for p and makes it current for p.Name. Counters
// tracked by a replaced limiter are discarded.
func (r *Registry) Install(p models.Policy) error {
	l, err := r.builder.Build(p)
	if err != nil {
		return err
	}

	r.mu.Lock()
	old := r.limiters[p.Name]
	r.limiters[p.Name] = l
	r.policies[p.Name] = p.WithDefaults()
	r.mu.Unlock()

	if old != nil {
		if _, err := old.ResetAll(context.Background()); err != nil {
			slog.Warn("Failed to clear counters of replaced limiter",
				"policy", p.Name,
				"error", err,
			)
		}
		old.Close()
	}

	slog.Info("Rate limit policy installed",
		"policy", p.Name,
		"max_requests", p.MaxRequests,
		"window", p.Window.String(),
	)
	return nil
}

// Get returns the limiter for name.
func (r *Registry) Get(name string) (Limiter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	l, ok := r.limiters[name]
	return l, ok
}

// Policy returns the policy currently installed under name.
func (r *Registry) Policy(name string) (models.Policy, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.policies[name]
	return p, ok
}

// Names lists installed policies in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.limiters))
	for name := range r.limiters {
		names = append(names, name)
	}
	r.mu.RUnlock()
	sort.Strings(names)
	return names
}

// Admit runs req through the named limiter.
func (r *Registry) Admit(name string, req *http.Request) (Decision, error) {
	l, ok := r.Get(name)
	if !ok {
		return Decision{}, fmt.Errorf("rate limit policy not installed: %s", name)
	}
	d := l.Admit(req)
	r.observe(req.Context(), d)
	return d, nil
}

func (r *Registry) observe(ctx context.Context, d Decision) {
	if r.observer != nil {
		r.observer.ObserveDecision(ctx, d)
	}
}

// Middleware enforces the named policy. The limiter is looked up per request
// so a policy update takes effect without rebuilding routes. Requests for a
// policy that is not installed pass through.
func (r *Registry) Middleware(name string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			d, err := r.Admit(name, req)
			if err != nil {
				slog.Error("Rate limit policy missing, request not limited",
					"policy", name,
					"path", req.URL.Path,
				)
				next.ServeHTTP(w, req)
				return
			}
			serveDecision(w, req, d, next)
		})
	}
}

// TrackedKeys reports the number of live keys per policy. Policies whose
// store cannot be read are omitted.
func (r *Registry) TrackedKeys(ctx context.Context) map[string]int {
	r.mu.RLock()
	snapshot := make(map[string]Limiter, len(r.limiters))
	for name, l := range r.limiters {
		snapshot[name] = l
	}
	r.mu.RUnlock()

	out := make(map[string]int, len(snapshot))
	for name, l := range snapshot {
		n, err := l.Len(ctx)
		if err != nil {
			slog.Warn("Failed to count rate limit keys", "policy", name, "error", err)
			continue
		}
		out[name] = n
	}
	return out
}

// Remove closes and drops the named limiter.
func (r *Registry) Remove(name string) bool {
	r.mu.Lock()
	l, ok := r.limiters[name]
	delete(r.limiters, name)
	delete(r.policies, name)
	r.mu.Unlock()

	if ok {
		l.Close()
	}
	return ok
}

// Close stops every limiter. The registry is empty afterwards.
func (r *Registry) Close() {
	r.mu.Lock()
	limiters := r.limiters
	r.limiters = make(map[string]Limiter)
	r.policies = make(map[string]models.Policy)
	r.mu.Unlock()

	for _, l := range limiters {
		l.Close()
	}
}
