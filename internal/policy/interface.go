package policy

import (
	"context"

	"rentgate/internal/models"
	"rentgate/internal/ratelimit"
)

// ServiceInterface is what the admin API needs from the policy service.
type ServiceInterface interface {
	// Bootstrap installs every configured policy, applying stored overrides.
	Bootstrap(ctx context.Context) error

	// List returns the status of every installed policy, sorted by name.
	List(ctx context.Context) ([]Status, error)

	// Get returns the status of one policy.
	Get(ctx context.Context, name string) (*Status, error)

	// Update validates and persists an override, then swaps the live limiter.
	Update(ctx context.Context, name string, req *models.UpdatePolicyRequest) (*Status, error)

	// Reset drops the stored override and restores the configured policy.
	Reset(ctx context.Context, name string) (*Status, error)

	// Buckets lists the live counters of a policy.
	Buckets(ctx context.Context, name string) ([]ratelimit.Record, error)

	// ResetKey forgets one caller's counter.
	ResetKey(ctx context.Context, name, key string) (bool, error)

	// ResetPolicy forgets every counter of a policy.
	ResetPolicy(ctx context.Context, name string) (int, error)
}

var _ ServiceInterface = (*Service)(nil)
