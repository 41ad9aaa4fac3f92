package ratelimit

import (
	"context"
	"time"
)

// CounterStore holds fixed-window counters keyed by caller. Hit must perform
// its lookup, expiry check and increment atomically with respect to other
// calls for the same key.
type CounterStore interface {
	// Hit records one request for key. A missing or expired counter restarts
	// at 1 with a window ending at now+window; otherwise the count is
	// incremented and the window end is unchanged.
	Hit(ctx context.Context, key string, window time.Duration, now time.Time) (Record, error)

	// Sweep removes counters whose window ended before now.
	Sweep(ctx context.Context, now time.Time) (int, error)

	// Records returns counters whose window is still active at now.
	Records(ctx context.Context, now time.Time) ([]Record, error)

	// Delete removes the counter for key.
	Delete(ctx context.Context, key string) (bool, error)

	// Clear removes every counter.
	Clear(ctx context.Context) (int, error)

	// Len reports how many counters are stored, expired or not.
	Len(ctx context.Context) (int, error)

	Close() error
}
