package ratelimit

import (
	"context"
	"log/slog"
	"math"
	"net/http"
	"time"
)

// FixedWindow counts requests per key in non-overlapping windows that start
// at each key's first request. Up to 2x MaxRequests can pass in a short span
// straddling a window boundary; use TokenBucket where that matters.
type FixedWindow struct {
	cfg     Config
	store   CounterStore
	clock   Clock
	sweeper *sweeper
}

// NewFixedWindow creates a fixed-window limiter over store and starts its
// background sweep. The limiter owns store and closes it on Close.
func NewFixedWindow(cfg Config, store CounterStore, opts ...Option) *FixedWindow {
	o := buildOptions(opts)
	if store == nil {
		store = NewMemoryStore()
	}
	fw := &FixedWindow{
		cfg:   cfg.withDefaults(),
		store: store,
		clock: o.clock,
	}
	fw.sweeper = startSweeper(o.sweepInterval, func() { fw.Sweep() })
	return fw
}

// Admit extracts the caller key from r and records one request for it.
func (fw *FixedWindow) Admit(r *http.Request) Decision {
	return fw.AdmitKey(r.Context(), fw.cfg.KeyExtractor.ExtractKey(r))
}

// AdmitKey records one request for key.
func (fw *FixedWindow) AdmitKey(ctx context.Context, key string) Decision {
	now := fw.clock.Now()

	rec, err := fw.store.Hit(ctx, key, fw.cfg.Window, now)
	if err != nil {
		slog.Error("Rate limit store failed, admitting request",
			"policy", fw.cfg.Name,
			"key", key,
			"error", err,
		)
		return Decision{
			Allowed:   true,
			Policy:    fw.cfg.Name,
			Key:       key,
			Limit:     fw.cfg.MaxRequests,
			Remaining: fw.cfg.MaxRequests,
			ResetAt:   now.Add(fw.cfg.Window),
			Degraded:  true,
		}
	}

	d := Decision{
		Policy:  fw.cfg.Name,
		Key:     key,
		Limit:   fw.cfg.MaxRequests,
		ResetAt: rec.ResetAt,
	}

	if rec.Count > fw.cfg.MaxRequests {
		d.RetryAfter = retryAfterSeconds(rec.ResetAt.Sub(now))
		d.StatusCode = fw.cfg.StatusCode
		d.Message = fw.cfg.Message
		return d
	}

	d.Allowed = true
	d.Remaining = max(0, fw.cfg.MaxRequests-rec.Count)
	return d
}

// Config returns the limiter configuration.
func (fw *FixedWindow) Config() Config {
	return fw.cfg
}

// Records lists the active counters.
func (fw *FixedWindow) Records(ctx context.Context) ([]Record, error) {
	return fw.store.Records(ctx, fw.clock.Now())
}

// Reset forgets the counter for key.
func (fw *FixedWindow) Reset(ctx context.Context, key string) (bool, error) {
	return fw.store.Delete(ctx, key)
}

// ResetAll forgets every counter.
func (fw *FixedWindow) ResetAll(ctx context.Context) (int, error) {
	return fw.store.Clear(ctx)
}

// Sweep evicts counters whose window has ended.
func (fw *FixedWindow) Sweep() int {
	removed, err := fw.store.Sweep(context.Background(), fw.clock.Now())
	if err != nil {
		slog.Warn("Rate limit sweep failed", "policy", fw.cfg.Name, "error", err)
		return removed
	}
	if removed > 0 {
		slog.Debug("Rate limit sweep", "policy", fw.cfg.Name, "removed", removed)
	}
	return removed
}

// Len reports how many counters the store holds.
func (fw *FixedWindow) Len(ctx context.Context) (int, error) {
	return fw.store.Len(ctx)
}

// Close stops the sweep and closes the store.
func (fw *FixedWindow) Close() {
	fw.sweeper.stop()
	if err := fw.store.Close(); err != nil {
		slog.Warn("Failed to close rate limit store", "policy", fw.cfg.Name, "error", err)
	}
}

// retryAfterSeconds rounds d up to whole seconds, never below one.
func retryAfterSeconds(d time.Duration) int {
	secs := int(math.Ceil(d.Seconds()))
	if secs < 1 {
		return 1
	}
	return secs
}
