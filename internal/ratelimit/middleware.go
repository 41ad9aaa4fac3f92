package ratelimit

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"rentgate/internal/models"
)

// Response headers set on every limited request.
const (
	HeaderLimit      = "X-RateLimit-Limit"
	HeaderRemaining  = "X-RateLimit-Remaining"
	HeaderReset      = "X-RateLimit-Reset"
	HeaderPolicy     = "X-RateLimit-Policy"
	HeaderRetryAfter = "Retry-After"
)

// Middleware returns HTTP middleware that admits every request through l
// before calling next. Rejected requests get l's status code and a JSON body
// and never reach next.
func Middleware(l Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			serveDecision(w, r, l.Admit(r), next)
		})
	}
}

func serveDecision(w http.ResponseWriter, r *http.Request, d Decision, next http.Handler) {
	writeHeaders(w, d)

	if d.Allowed {
		next.ServeHTTP(w, r)
		return
	}

	w.Header().Set(HeaderRetryAfter, strconv.Itoa(d.RetryAfter))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(d.StatusCode)

	if err := json.NewEncoder(w).Encode(models.NewRateLimitResponse(d.Message, d.RetryAfter)); err != nil {
		slog.Error("Failed to encode rate limit response", "error", err)
	}

	slog.Warn("Rate limit exceeded",
		"policy", d.Policy,
		"key", d.Key,
		"limit", d.Limit,
		"retry_after", d.RetryAfter,
		"method", r.Method,
		"path", r.URL.Path,
	)
}

// writeHeaders sets the standard rate limit headers. Reset is a Unix
// timestamp in seconds.
func writeHeaders(w http.ResponseWriter, d Decision) {
	h := w.Header()
	h.Set(HeaderLimit, strconv.Itoa(d.Limit))
	h.Set(HeaderRemaining, strconv.Itoa(d.Remaining))
	h.Set(HeaderReset, strconv.FormatInt(d.ResetAt.Unix(), 10))
	if d.Policy != "" {
		h.Set(HeaderPolicy, d.Policy)
	}
}
