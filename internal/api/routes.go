package api

import (
	"net/http"
	"strings"

	"rentgate/internal/models"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gorilla/mux/otelmux"
)

// RouteOption configures optional route behavior.
type RouteOption func(*mux.Router)

// WithOTelMiddleware adds OpenTelemetry HTTP instrumentation middleware.
func WithOTelMiddleware(serviceName string) RouteOption {
	return func(r *mux.Router) {
		r.Use(otelmux.Middleware(serviceName,
			otelmux.WithFilter(func(r *http.Request) bool {
				return r.URL.Path != "/health" &&
					r.URL.Path != "/api/v1/health" &&
					!strings.HasPrefix(r.URL.Path, "/admin/v1/openapi.") &&
					r.URL.Path != "/admin/v1/docs"
			}),
		))
	}
}

// SetupRoutes configures the gateway router. The gateway's own endpoints are
// registered first; every other request is handed to gateway, which applies
// the rate limit policy for the path and proxies upstream. A nil gateway
// answers unmatched requests with 404.
func SetupRoutes(handlers *Handlers, config *models.Config, gateway http.Handler, opts ...RouteOption) *mux.Router {
	router := mux.NewRouter()

	router.Use(requestIDMiddleware)
	for _, opt := range opts {
		opt(router)
	}
	router.Use(loggingMiddleware)
	router.Use(recoveryMiddleware)

	router.HandleFunc("/health", handlers.HealthCheck).Methods("GET")
	router.HandleFunc("/api/v1/health", handlers.HealthCheck).Methods("GET")

	admin := router.PathPrefix("/admin/v1").Subrouter()
	admin.HandleFunc("/openapi.yaml", handlers.ServeOpenAPISpec).Methods("GET")
	admin.HandleFunc("/openapi.json", handlers.ServeOpenAPIJSON).Methods("GET")
	admin.HandleFunc("/docs", handlers.ServeSwaggerUI).Methods("GET")

	if config.Security.EnableAuth {
		readAPI := router.PathPrefix("/admin/v1").Subrouter()
		readAPI.Use(authMiddleware(handlers.storage))
		readAPI.Use(RequirePermission(PermissionRead))
		readAPI.HandleFunc("/policies", handlers.ListPolicies).Methods("GET")
		readAPI.HandleFunc("/policies/{name}", handlers.GetPolicy).Methods("GET")
		readAPI.HandleFunc("/policies/{name}/buckets", handlers.ListBuckets).Methods("GET")

		adminAPI := router.PathPrefix("/admin/v1").Subrouter()
		adminAPI.Use(authMiddleware(handlers.storage))
		adminAPI.Use(RequirePermission(PermissionAdmin))
		registerAdminRoutes(adminAPI, handlers)

		router.Use(OptionalAuth(handlers.storage))
	} else {
		open := router.PathPrefix("/admin/v1").Subrouter()
		open.HandleFunc("/policies", handlers.ListPolicies).Methods("GET")
		open.HandleFunc("/policies/{name}", handlers.GetPolicy).Methods("GET")
		open.HandleFunc("/policies/{name}/buckets", handlers.ListBuckets).Methods("GET")
		registerAdminRoutes(open, handlers)
	}

	// Unknown admin paths must not fall through to the upstream.
	router.PathPrefix("/admin/").HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, models.ErrorCodeNotFound, "Not found")
	})

	if gateway != nil {
		router.PathPrefix("/").Handler(gateway)
	}

	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, models.ErrorCodeNotFound, "Not found")
	})
	router.MethodNotAllowedHandler = http.HandlerFunc(methodNotAllowedHandler)

	return router
}

func registerAdminRoutes(r *mux.Router, handlers *Handlers) {
	r.HandleFunc("/policies/{name}", handlers.UpdatePolicy).Methods("PUT")
	r.HandleFunc("/policies/{name}", handlers.ResetPolicyDefaults).Methods("DELETE")
	r.HandleFunc("/policies/{name}/buckets", handlers.ResetBuckets).Methods("DELETE")
	r.HandleFunc("/policies/{name}/buckets/{key:.+}", handlers.ResetBucket).Methods("DELETE")

	r.HandleFunc("/keys", handlers.ListAPIKeys).Methods("GET")
	r.HandleFunc("/keys", handlers.CreateAPIKey).Methods("POST")
	r.HandleFunc("/keys/{id}", handlers.UpdateAPIKey).Methods("PATCH")
	r.HandleFunc("/keys/{id}", handlers.DeleteAPIKey).Methods("DELETE")
}

// methodNotAllowedHandler handles requests with invalid HTTP methods
func methodNotAllowedHandler(w http.ResponseWriter, r *http.Request) {
	writeError(w, r, http.StatusMethodNotAllowed, models.ErrorCodeInvalidRequest, "Method not allowed")
}
