// Package ratelimit provides per-client rate limiting for HTTP requests. The
// default algorithm is a fixed window: each key gets a counter that resets when
// its window expires. Counters live in a pluggable CounterStore (in-memory or
// Redis) and expired ones are evicted by a background sweep owned by the
// limiter. Policies may opt in to a token bucket instead. The package also
// includes HTTP middleware that sets standard rate limit response headers.
package ratelimit

import (
	"context"
	"net/http"
	"time"
)

// Limiter defines the rate limiting contract. Implementations must be safe for
// concurrent use.
type Limiter interface {
	// Admit extracts the caller key from r and records one request for it.
	Admit(r *http.Request) Decision

	// AdmitKey records one request for an already extracted key.
	AdmitKey(ctx context.Context, key string) Decision

	// Config returns the configuration the limiter was built with.
	Config() Config

	// Records lists the live counters, one per key with an active window.
	Records(ctx context.Context) ([]Record, error)

	// Reset forgets the counter for key. It reports whether one existed.
	Reset(ctx context.Context, key string) (bool, error)

	// ResetAll forgets every counter and returns how many were removed.
	ResetAll(ctx context.Context) (int, error)

	// Sweep evicts expired counters and returns how many were removed.
	Sweep() int

	// Len reports how many keys are currently tracked.
	Len(ctx context.Context) (int, error)

	// Close stops background goroutines and releases resources.
	Close()
}

// Decision is the outcome of one Admit call.
type Decision struct {
	Allowed   bool
	Policy    string
	Key       string
	Limit     int       // Maximum requests per window
	Remaining int       // Requests left in the current window
	ResetAt   time.Time // When the current window expires

	// Set only when Allowed is false.
	RetryAfter int // Whole seconds until the window resets, always > 0
	StatusCode int
	Message    string

	// Degraded is set when the counter store failed and the request was
	// admitted without being counted.
	Degraded bool
}

// Record is the state of one key's counter.
type Record struct {
	Key     string    `json:"key"`
	Count   int       `json:"count"`
	ResetAt time.Time `json:"reset_at"`
}

// Config holds the per-limiter settings.
type Config struct {
	Name         string
	Window       time.Duration
	MaxRequests  int
	Message      string
	StatusCode   int
	KeyExtractor KeyExtractor
}

// DefaultSweepInterval is how often expired counters are evicted when no
// interval is configured.
const DefaultSweepInterval = 5 * time.Minute

func (c Config) withDefaults() Config {
	if c.Message == "" {
		c.Message = "Too many requests, please try again later."
	}
	if c.StatusCode == 0 {
		c.StatusCode = http.StatusTooManyRequests
	}
	if c.KeyExtractor == nil {
		c.KeyExtractor = RemoteAddrKey{}
	}
	return c
}

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock returns a Clock backed by time.Now.
func SystemClock() Clock { return systemClock{} }

// Option configures a limiter.
type Option func(*options)

type options struct {
	clock         Clock
	sweepInterval time.Duration
}

// WithClock replaces the wall clock.
func WithClock(c Clock) Option {
	return func(o *options) {
		if c != nil {
			o.clock = c
		}
	}
}

// WithSweepInterval sets how often expired counters are evicted. A negative
// interval disables the background sweep; Sweep can still be called directly.
func WithSweepInterval(d time.Duration) Option {
	return func(o *options) {
		if d != 0 {
			o.sweepInterval = d
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{
		clock:         systemClock{},
		sweepInterval: DefaultSweepInterval,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
