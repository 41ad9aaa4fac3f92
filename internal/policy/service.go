// Package policy owns the lifecycle of rate-limit policies: the configured
// presets, the overrides persisted through the admin API and the live
// limiters built from them.
package policy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"rentgate/internal/models"
	"rentgate/internal/ratelimit"
	"rentgate/internal/storage"
)

// Status is a policy as the admin API reports it.
type Status struct {
	Policy      models.Policy
	Overridden  bool
	TrackedKeys int
}

// Service coordinates configured defaults, stored overrides and the limiter
// registry.
type Service struct {
	defaults map[string]models.Policy
	storage  storage.Storage
	registry *ratelimit.Registry

	// Serialises Update and Reset so storage and registry agree.
	mu sync.Mutex
}

// NewService creates a policy service. defaults are the configured policies;
// only names present there can be overridden.
func NewService(defaults map[string]models.Policy, store storage.Storage, registry *ratelimit.Registry) *Service {
	d := make(map[string]models.Policy, len(defaults))
	for name, p := range defaults {
		p.Name = name
		d[name] = p.WithDefaults()
	}
	return &Service{
		defaults: d,
		storage:  store,
		registry: registry,
	}
}

// Bootstrap installs the configured policies and then applies any stored
// override. Overrides for unknown policies and overrides that no longer
// validate are skipped with a warning so a bad row cannot block startup.
func (s *Service) Bootstrap(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, name := range s.defaultNames() {
		if err := s.registry.Install(s.defaults[name]); err != nil {
			return fmt.Errorf("install policy %s: %w", name, err)
		}
	}

	overrides, err := s.storage.Policies(ctx)
	if err != nil {
		return fmt.Errorf("load policy overrides: %w", err)
	}

	for _, p := range overrides {
		if _, ok := s.defaults[p.Name]; !ok {
			slog.Warn("Ignoring override for unknown policy", "policy", p.Name)
			continue
		}
		if err := s.registry.Install(*p); err != nil {
			slog.Warn("Ignoring invalid policy override",
				"policy", p.Name,
				"error", err,
			)
			continue
		}
	}

	slog.Info("Rate limit policies loaded",
		"policies", len(s.defaults),
		"overrides", len(overrides),
	)
	return nil
}

// List returns every installed policy.
func (s *Service) List(ctx context.Context) ([]Status, error) {
	overrides, err := s.storage.Policies(ctx)
	if err != nil {
		return nil, NewInternalError("failed to load policy overrides", err)
	}
	overridden := make(map[string]bool, len(overrides))
	for _, p := range overrides {
		overridden[p.Name] = true
	}

	tracked := s.registry.TrackedKeys(ctx)

	names := s.registry.Names()
	out := make([]Status, 0, len(names))
	for _, name := range names {
		p, ok := s.registry.Policy(name)
		if !ok {
			continue
		}
		out = append(out, Status{
			Policy:      p,
			Overridden:  overridden[name],
			TrackedKeys: tracked[name],
		})
	}
	return out, nil
}

// Get returns the status of the named policy.
func (s *Service) Get(ctx context.Context, name string) (*Status, error) {
	p, ok := s.registry.Policy(name)
	if !ok {
		return nil, NewPolicyNotFoundError(name)
	}
	return s.status(ctx, p)
}

// Update replaces the named policy. The new limiter starts with no counters.
func (s *Service) Update(ctx context.Context, name string, req *models.UpdatePolicyRequest) (*Status, error) {
	if _, ok := s.defaults[name]; !ok {
		return nil, NewPolicyNotFoundError(name)
	}

	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, NewInvalidPolicyError("invalid policy update", err)
	}

	p := req.ToPolicy(name)
	if _, err := ratelimit.ConfigFromPolicy(p, false); err != nil {
		return nil, NewInvalidPolicyError("invalid policy update", err)
	}
	p.UpdatedAt = time.Now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.storage.SavePolicy(ctx, &p); err != nil {
		return nil, NewInternalError("failed to save policy", err)
	}
	if err := s.registry.Install(p); err != nil {
		return nil, NewInternalError("failed to install policy", err)
	}

	slog.Info("Rate limit policy updated",
		"policy", name,
		"algorithm", p.Algorithm,
		"max_requests", p.MaxRequests,
		"window", p.Window.String(),
	)

	return &Status{Policy: p, Overridden: true}, nil
}

// Reset removes the stored override for name and reinstalls the configured
// policy. Resetting a policy without an override still rebuilds its limiter.
func (s *Service) Reset(ctx context.Context, name string) (*Status, error) {
	def, ok := s.defaults[name]
	if !ok {
		return nil, NewPolicyNotFoundError(name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.storage.DeletePolicy(ctx, name); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, NewInternalError("failed to delete policy override", err)
	}
	if err := s.registry.Install(def); err != nil {
		return nil, NewInternalError("failed to install policy", err)
	}

	slog.Info("Rate limit policy reset to default", "policy", name)

	return &Status{Policy: def}, nil
}

// Buckets lists the live counters of the named policy, sorted by key.
func (s *Service) Buckets(ctx context.Context, name string) ([]ratelimit.Record, error) {
	l, ok := s.registry.Get(name)
	if !ok {
		return nil, NewPolicyNotFoundError(name)
	}
	records, err := l.Records(ctx)
	if err != nil {
		return nil, NewInternalError("failed to read counters", err)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Key < records[j].Key })
	return records, nil
}

// ResetKey forgets one caller's counter for the named policy.
func (s *Service) ResetKey(ctx context.Context, name, key string) (bool, error) {
	l, ok := s.registry.Get(name)
	if !ok {
		return false, NewPolicyNotFoundError(name)
	}
	removed, err := l.Reset(ctx, key)
	if err != nil {
		return false, NewInternalError("failed to reset counter", err)
	}
	if removed {
		slog.Info("Rate limit counter reset", "policy", name, "key", key)
	}
	return removed, nil
}

// ResetPolicy forgets every counter of the named policy.
func (s *Service) ResetPolicy(ctx context.Context, name string) (int, error) {
	l, ok := s.registry.Get(name)
	if !ok {
		return 0, NewPolicyNotFoundError(name)
	}
	n, err := l.ResetAll(ctx)
	if err != nil {
		return 0, NewInternalError("failed to reset counters", err)
	}
	slog.Info("Rate limit counters reset", "policy", name, "removed", n)
	return n, nil
}

func (s *Service) status(ctx context.Context, p models.Policy) (*Status, error) {
	st := &Status{Policy: p}

	if _, err := s.storage.GetPolicy(ctx, p.Name); err == nil {
		st.Overridden = true
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, NewInternalError("failed to load policy override", err)
	}

	if l, ok := s.registry.Get(p.Name); ok {
		n, err := l.Len(ctx)
		if err != nil {
			slog.Warn("Failed to count rate limit keys", "policy", p.Name, "error", err)
		}
		st.TrackedKeys = n
	}
	return st, nil
}

func (s *Service) defaultNames() []string {
	names := make([]string, 0, len(s.defaults))
	for name := range s.defaults {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
