package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"rentgate/internal/models"
	"rentgate/internal/policy"
	"rentgate/internal/storage"
	"rentgate/internal/version"
)

// Handlers contains HTTP handlers for the gateway's own endpoints
type Handlers struct {
	policies  policy.ServiceInterface
	storage   storage.Storage
	upstream  string
	startTime time.Time
}

// HandlersOption configures optional Handlers dependencies.
type HandlersOption func(*Handlers)

// WithStorage sets the storage backend used for key management and health checks.
func WithStorage(s storage.Storage) HandlersOption {
	return func(h *Handlers) {
		h.storage = s
	}
}

// WithUpstream records the upstream URL reported by the health check.
func WithUpstream(url string) HandlersOption {
	return func(h *Handlers) {
		h.upstream = url
	}
}

// NewHandlers creates a new handlers instance
func NewHandlers(policies policy.ServiceInterface, opts ...HandlersOption) *Handlers {
	h := &Handlers{
		policies:  policies,
		startTime: time.Now(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// HealthCheck handles health check requests
// GET /health
// Storage failures mark the service unhealthy. Authenticated callers also get
// per-policy key counts.
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	response := models.NewHealthCheckResponse(models.StatusHealthy)
	response.Version = version.GetInfo().Version
	response.Uptime = time.Since(h.startTime).Round(time.Second).String()

	statusCode := http.StatusOK
	if h.storage != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		err := h.storage.Ping(ctx)
		cancel()
		if err != nil {
			slog.Warn("Health check storage ping failed", "error", err)
			response.Status = models.StatusUnhealthy
			response.AddComponent("storage", models.StatusUnhealthy, "Storage is unreachable")
			statusCode = http.StatusServiceUnavailable
		} else {
			response.AddComponent("storage", models.StatusHealthy, "Storage is operational")
		}
	}

	if h.upstream != "" {
		response.AddComponent("upstream", models.StatusHealthy, "Upstream configured")
	} else {
		response.AddComponent("upstream", models.StatusUnknown, "No upstream configured")
	}

	securityContext := GetSecurityContext(r)
	response.AddMetric("authenticated", securityContext != nil)

	if securityContext != nil && securityContext.HasPermission(PermissionRead) && h.policies != nil {
		statuses, err := h.policies.List(r.Context())
		if err == nil {
			tracked := make(map[string]int, len(statuses))
			for _, st := range statuses {
				tracked[st.Policy.Name] = st.TrackedKeys
			}
			response.AddMetric("tracked_keys", tracked)
			response.AddComponent("ratelimit", models.StatusHealthy, "Rate limit policies installed")
		} else {
			response.AddComponent("ratelimit", models.StatusDegraded, "Rate limit state unavailable")
		}
	}

	h.writeJSONResponse(w, statusCode, response)
}

// writeJSONResponse writes a JSON response
func (h *Handlers) writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	writeJSON(w, statusCode, data)
}

// writeErrorResponse writes an error response
func (h *Handlers) writeErrorResponse(w http.ResponseWriter, r *http.Request, statusCode int, errorCode, message string) {
	writeError(w, r, statusCode, errorCode, message)
}

// writeServiceError maps policy service errors onto HTTP responses.
func (h *Handlers) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var serr *policy.ServiceError
	if errors.As(err, &serr) {
		if serr.StatusCode >= http.StatusInternalServerError {
			slog.Error("Policy operation failed", "error", err, "path", r.URL.Path)
		}
		h.writeErrorResponse(w, r, serr.StatusCode, serr.Code, serr.Error())
		return
	}
	slog.Error("Policy operation failed", "error", err, "path", r.URL.Path)
	h.writeErrorResponse(w, r, http.StatusInternalServerError, models.ErrorCodeInternalError, "internal server error")
}

// maxBodyBytes caps admin request bodies.
const maxBodyBytes = 64 << 10

// decodeJSONBody decodes a size-limited body into v, rejecting unknown fields.
func decodeJSONBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// audit records an admin mutation under event=security_audit.
func audit(r *http.Request, msg, action string, attrs ...any) {
	args := append([]any{
		"event", "security_audit",
		"action", action,
		"actor_key_id", actorKeyID(r),
		"request_id", RequestIDFromContext(r.Context()),
	}, attrs...)
	slog.Info(msg, args...)
}

// actorKeyID extracts the ID of the authenticated key making this request.
func actorKeyID(r *http.Request) string {
	if k, ok := models.APIKeyFromContext(r.Context()); ok {
		return k.ID
	}
	return "unknown"
}

func writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		// Headers are already written; nothing else can be sent.
		slog.Error("Error encoding JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, r *http.Request, statusCode int, errorCode, message string) {
	errorResp := models.NewErrorResponse(message, errorCode)
	if r != nil {
		errorResp.RequestID = RequestIDFromContext(r.Context())
	}
	writeJSON(w, statusCode, errorResp)
}
