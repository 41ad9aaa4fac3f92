package ratelimit

import (
	"context"
	"math"
	"net/http"
	"sort"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// TokenBucket is an in-memory limiter backed by golang.org/x/time/rate. Each
// key gets a bucket of MaxRequests tokens refilled evenly over Window, so
// bursts across window boundaries are bounded by MaxRequests.
type TokenBucket struct {
	cfg   Config
	rate  rate.Limit
	burst int
	clock Clock

	mu      sync.Mutex
	buckets map[string]*rate.Limiter
	sweeper *sweeper
}

// NewTokenBucket creates a token bucket limiter and starts its background
// sweep, which evicts buckets that have refilled completely.
func NewTokenBucket(cfg Config, opts ...Option) *TokenBucket {
	o := buildOptions(opts)
	cfg = cfg.withDefaults()
	tb := &TokenBucket{
		cfg:     cfg,
		rate:    rate.Limit(float64(cfg.MaxRequests) / cfg.Window.Seconds()),
		burst:   cfg.MaxRequests,
		clock:   o.clock,
		buckets: make(map[string]*rate.Limiter),
	}
	tb.sweeper = startSweeper(o.sweepInterval, func() { tb.Sweep() })
	return tb
}

// Admit extracts the caller key from r and takes one token for it.
func (tb *TokenBucket) Admit(r *http.Request) Decision {
	return tb.AdmitKey(r.Context(), tb.cfg.KeyExtractor.ExtractKey(r))
}

// AdmitKey takes one token from key's bucket.
func (tb *TokenBucket) AdmitKey(_ context.Context, key string) Decision {
	now := tb.clock.Now()

	tb.mu.Lock()
	defer tb.mu.Unlock()

	b, exists := tb.buckets[key]
	if !exists {
		b = rate.NewLimiter(tb.rate, tb.burst)
		tb.buckets[key] = b
	}

	allowed := b.AllowN(now, 1)
	tokens := b.TokensAt(now)

	d := Decision{
		Allowed:   allowed,
		Policy:    tb.cfg.Name,
		Key:       key,
		Limit:     tb.burst,
		Remaining: int(math.Max(0, math.Floor(tokens))),
		ResetAt:   tb.fullAt(now, tokens),
	}

	if !allowed {
		// Time until the next token is available.
		reservation := b.ReserveN(now, 1)
		delay := reservation.DelayFrom(now)
		reservation.CancelAt(now)
		d.RetryAfter = retryAfterSeconds(delay)
		d.StatusCode = tb.cfg.StatusCode
		d.Message = tb.cfg.Message
	}

	return d
}

// fullAt returns when a bucket holding tokens will be full again.
func (tb *TokenBucket) fullAt(now time.Time, tokens float64) time.Time {
	missing := float64(tb.burst) - tokens
	if missing <= 0 {
		return now
	}
	return now.Add(time.Duration(missing / float64(tb.rate) * float64(time.Second)))
}

// Config returns the limiter configuration.
func (tb *TokenBucket) Config() Config {
	return tb.cfg
}

// Records lists buckets that are not full. Count is the number of tokens
// consumed and ResetAt is when the bucket will be full again.
func (tb *TokenBucket) Records(_ context.Context) ([]Record, error) {
	now := tb.clock.Now()

	tb.mu.Lock()
	out := make([]Record, 0, len(tb.buckets))
	for key, b := range tb.buckets {
		tokens := b.TokensAt(now)
		used := tb.burst - int(math.Max(0, math.Floor(tokens)))
		if used <= 0 {
			continue
		}
		out = append(out, Record{Key: key, Count: used, ResetAt: tb.fullAt(now, tokens)})
	}
	tb.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// Reset forgets key's bucket.
func (tb *TokenBucket) Reset(_ context.Context, key string) (bool, error) {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	_, exists := tb.buckets[key]
	delete(tb.buckets, key)
	return exists, nil
}

// ResetAll forgets every bucket.
func (tb *TokenBucket) ResetAll(_ context.Context) (int, error) {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	n := len(tb.buckets)
	tb.buckets = make(map[string]*rate.Limiter)
	return n, nil
}

// Sweep evicts buckets that have refilled completely; a fresh bucket would
// behave identically.
func (tb *TokenBucket) Sweep() int {
	now := tb.clock.Now()

	tb.mu.Lock()
	defer tb.mu.Unlock()

	removed := 0
	for key, b := range tb.buckets {
		if b.TokensAt(now) >= float64(tb.burst) {
			delete(tb.buckets, key)
			removed++
		}
	}
	return removed
}

// Len reports how many buckets are tracked.
func (tb *TokenBucket) Len(_ context.Context) (int, error) {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	return len(tb.buckets), nil
}

// Close stops the background sweep.
func (tb *TokenBucket) Close() {
	tb.sweeper.stop()
}
