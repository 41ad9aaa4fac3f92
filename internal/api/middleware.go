package api

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"rentgate/internal/models"
	"rentgate/internal/storage"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

// Permission represents the different permission levels
type Permission string

const (
	PermissionRead  Permission = models.PermissionRead
	PermissionWrite Permission = models.PermissionWrite
	PermissionAdmin Permission = models.PermissionAdmin
)

// HeaderRequestID carries the request correlation ID in both directions.
const HeaderRequestID = "X-Request-ID"

// SecurityContext represents the security information for a request
type SecurityContext struct {
	APIKey      *models.APIKey
	Permissions []string
}

// HasPermission checks if the security context has the required permission
func (sc *SecurityContext) HasPermission(required Permission) bool {
	if sc == nil || sc.APIKey == nil {
		return false
	}
	return sc.APIKey.HasPermission(string(required))
}

// GetSecurityContext extracts security context from request context
func GetSecurityContext(r *http.Request) *SecurityContext {
	if apiKey, ok := models.APIKeyFromContext(r.Context()); ok {
		return &SecurityContext{
			APIKey:      apiKey,
			Permissions: apiKey.Permissions,
		}
	}
	return nil
}

// RequirePermission creates middleware that enforces a specific permission
func RequirePermission(required Permission) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			securityContext := GetSecurityContext(r)

			if securityContext == nil || !securityContext.HasPermission(required) {
				writeError(w, r, http.StatusForbidden, models.ErrorCodeForbidden,
					"Insufficient permissions for this operation")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	const prefix = "Bearer "
	h := r.Header.Get("Authorization")
	if !strings.HasPrefix(h, prefix) {
		return "", false
	}
	return strings.TrimSpace(h[len(prefix):]), true
}

// authMiddleware requires a valid, enabled API key.
func authMiddleware(store storage.Storage) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") == "" {
				writeError(w, r, http.StatusUnauthorized, models.ErrorCodeUnauthorized, "Authorization required")
				return
			}
			token, ok := bearerToken(r)
			if !ok || token == "" {
				writeError(w, r, http.StatusUnauthorized, models.ErrorCodeUnauthorized, "Invalid authorization format")
				return
			}
			key, err := store.GetAPIKeyByHash(r.Context(), models.HashAPIKey(token))
			if err != nil || !key.Enabled {
				slog.Warn("Rejected admin API key",
					"event", "security_audit",
					"path", r.URL.Path,
					"remote_addr", r.RemoteAddr,
				)
				writeError(w, r, http.StatusUnauthorized, models.ErrorCodeUnauthorized, "Invalid API key")
				return
			}
			next.ServeHTTP(w, r.WithContext(models.ContextWithAPIKey(r.Context(), key)))
		})
	}
}

// OptionalAuth attaches the caller's API key to the context when the request
// carries a valid gateway key, so the api_key strategy can bucket by key.
// Requests without one continue anonymously.
func OptionalAuth(store storage.Storage) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok || !models.IsGatewayKey(token) {
				next.ServeHTTP(w, r)
				return
			}
			key, err := store.GetAPIKeyByHash(r.Context(), models.HashAPIKey(token))
			if err != nil || !key.Enabled {
				next.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r.WithContext(models.ContextWithAPIKey(r.Context(), key)))
		})
	}
}

type requestIDKey struct{}

// RequestIDFromContext returns the ID assigned by requestIDMiddleware.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// requestIDMiddleware propagates an incoming X-Request-ID or assigns a new
// UUID. The ID is echoed on the response and forwarded upstream.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(HeaderRequestID)
		if id == "" || len(id) > 128 {
			id = uuid.New().String()
			r.Header.Set(HeaderRequestID, id)
		}
		w.Header().Set(HeaderRequestID, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))
	})
}

// statusRecorder captures the status code written by downstream handlers.
type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (s *statusRecorder) WriteHeader(code int) {
	if s.status == 0 {
		s.status = code
	}
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	if s.status == 0 {
		s.status = http.StatusOK
	}
	n, err := s.ResponseWriter.Write(b)
	s.bytes += n
	return n, err
}

// Flush lets streamed upstream responses through the recorder.
func (s *statusRecorder) Flush() {
	if f, ok := s.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (s *statusRecorder) Unwrap() http.ResponseWriter {
	return s.ResponseWriter
}

// loggingMiddleware logs HTTP requests
func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)
		if rec.status == 0 {
			rec.status = http.StatusOK
		}

		level := slog.LevelInfo
		switch {
		case rec.status >= 500:
			level = slog.LevelError
		case r.URL.Path == "/health" || r.URL.Path == "/api/v1/health":
			level = slog.LevelDebug
		}
		slog.Log(r.Context(), level, "HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"bytes", rec.bytes,
			"duration_ms", time.Since(start).Milliseconds(),
			"remote_addr", r.RemoteAddr,
			"request_id", RequestIDFromContext(r.Context()),
		)
	})
}

// recoveryMiddleware handles panics
func recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				if err == http.ErrAbortHandler {
					panic(err)
				}
				slog.Error("Panic recovered", "error", err, "path", r.URL.Path)
				writeError(w, r, http.StatusInternalServerError, models.ErrorCodeInternalError, "Internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}
