package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"rentgate/internal/api"
	"rentgate/internal/config"
	"rentgate/internal/logger"
	"rentgate/internal/models"
	"rentgate/internal/observability"
	"rentgate/internal/policy"
	"rentgate/internal/ratelimit"
	"rentgate/internal/storage"
	"rentgate/internal/version"

	"github.com/redis/go-redis/v9"
)

var (
	configFile    = flag.String("config", "", "Path to configuration file")
	exampleConfig = flag.String("write-example-config", "", "Write an example configuration to this path and exit")
	showVersion   = flag.Bool("version", false, "Print version information and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.GetInfo().String())
		return
	}

	if *exampleConfig != "" {
		if err := config.SaveExample(*exampleConfig); err != nil {
			slog.Error("Failed to write example configuration", "error", err)
			os.Exit(1)
		}
		fmt.Println("Example configuration written to", *exampleConfig)
		return
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	ver := version.GetInfo()

	log, closer, err := logger.Setup(cfg.Logging, ver)
	if err != nil {
		slog.Error("Failed to initialize logger", "error", err)
		os.Exit(1)
	}
	if closer != nil {
		defer closer.Close()
	}
	slog.SetDefault(log)

	otelProvider, err := observability.Setup(cfg.Metrics, cfg.Observability, ver)
	if err != nil {
		slog.Error("Failed to initialize observability", "error", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := otelProvider.Shutdown(shutdownCtx); err != nil {
			slog.Error("Failed to shutdown observability", "error", err)
		}
	}()

	storageInstance, err := storage.NewFactory().Create(cfg.Storage)
	if err != nil {
		slog.Error("Failed to initialize storage", "error", err)
		os.Exit(1)
	}
	defer storageInstance.Close()

	var activeStorage storage.Storage = storageInstance
	if cfg.Metrics.Enabled {
		instrumented, err := observability.NewInstrumentedStorage(storageInstance)
		if err != nil {
			slog.Error("Failed to create instrumented storage", "error", err)
			os.Exit(1)
		}
		activeStorage = instrumented
	}

	if err := seedBootstrapKey(context.Background(), activeStorage, cfg); err != nil {
		slog.Error("Failed to seed bootstrap key", "error", err)
		os.Exit(1)
	}

	builder := ratelimit.Builder{
		SweepInterval: cfg.RateLimit.SweepInterval,
		TrustProxy:    cfg.RateLimit.TrustProxyHeaders,
	}

	if cfg.RateLimit.Store == models.CounterStoreRedis {
		rdb := newRedisClient(cfg.RateLimit.Redis)
		defer rdb.Close()
		prefix := cfg.RateLimit.Redis.KeyPrefix
		builder.NewStore = func(policy string) ratelimit.CounterStore {
			return ratelimit.NewRedisStore(rdb, prefix+":"+policy)
		}
	}

	var registryOpts []ratelimit.RegistryOption
	var limiterMetrics *observability.LimiterMetrics
	if cfg.Metrics.Enabled {
		limiterMetrics, err = observability.NewLimiterMetrics(otelProvider.Meter("rentgate/ratelimit"))
		if err != nil {
			slog.Error("Failed to create rate limit metrics", "error", err)
			os.Exit(1)
		}
		registryOpts = append(registryOpts, ratelimit.WithObserver(limiterMetrics))
	}

	registry := ratelimit.NewRegistry(builder, registryOpts...)
	defer registry.Close()

	if limiterMetrics != nil {
		if err := limiterMetrics.ObserveRegistry(registry); err != nil {
			slog.Error("Failed to register tracked keys gauge", "error", err)
			os.Exit(1)
		}
	}

	policyService := policy.NewService(cfg.RateLimit.Policies, activeStorage, registry)
	if err := policyService.Bootstrap(context.Background()); err != nil {
		slog.Error("Failed to install rate limit policies", "error", err)
		os.Exit(1)
	}

	proxy, err := api.NewUpstreamProxy(cfg.Upstream)
	if err != nil {
		slog.Error("Failed to create upstream proxy", "error", err)
		os.Exit(1)
	}

	gatewayRegistry := registry
	if !cfg.RateLimit.Enabled {
		slog.Warn("Rate limiting is disabled; all gateway traffic is proxied unlimited")
		gatewayRegistry = nil
	}
	gateway := api.NewGateway(cfg.RateLimit.Routes, cfg.RateLimit.DefaultPolicy, gatewayRegistry, proxy)

	handlers := api.NewHandlers(policyService,
		api.WithStorage(activeStorage),
		api.WithUpstream(cfg.Upstream.URL),
	)

	routeOpts := []api.RouteOption{}
	if cfg.Observability.Tracing.Enabled {
		routeOpts = append(routeOpts, api.WithOTelMiddleware(cfg.Observability.ServiceName))
	}

	router := api.SetupRoutes(handlers, cfg, gateway, routeOpts...)

	var metricsServer *observability.MetricsServer
	if cfg.Metrics.Enabled {
		metricsServer = observability.NewMetricsServer(cfg.Metrics.Port, cfg.Metrics.Path, otelProvider)
		go func() {
			if err := metricsServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("Metrics server failed", "error", err)
			}
		}()
	}

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		slog.Info("Starting gateway",
			"addr", server.Addr,
			"upstream", cfg.Upstream.URL,
			"counter_store", cfg.RateLimit.Store,
			"tls", cfg.Server.TLSEnabled,
		)

		var err error
		if cfg.Server.TLSEnabled {
			err = server.ListenAndServeTLS(cfg.Server.TLSCertFile, cfg.Server.TLSKeyFile)
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		slog.Info("Shutting down gateway", "signal", sig.String())
	case err := <-serverErr:
		slog.Error("Server failed", "error", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if metricsServer != nil {
		if err := metricsServer.Shutdown(ctx); err != nil {
			slog.Error("Metrics server forced to shutdown", "error", err)
		}
	}

	if err := server.Shutdown(ctx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}

	slog.Info("Gateway shutdown complete")
}

// newRedisClient connects to the shared counter store. An unreachable Redis
// is logged, not fatal: the limiter admits requests while the store is down.
func newRedisClient(cfg models.RedisConfig) *redis.Client {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		slog.Error("Redis counter store unreachable; requests will be admitted uncounted",
			"addr", cfg.Addr, "error", err)
	} else {
		slog.Info("Connected to Redis counter store", "addr", cfg.Addr, "db", cfg.DB)
	}
	return rdb
}

// seedBootstrapKey inserts the configured bootstrap key into storage if it
// does not already exist. It is a no-op when BootstrapKey is empty.
func seedBootstrapKey(ctx context.Context, store storage.Storage, cfg *models.Config) error {
	raw := cfg.Security.BootstrapKey
	if raw == "" {
		if cfg.Security.EnableAuth {
			slog.Warn("Admin authentication is enabled but no bootstrap key is configured")
		}
		return nil
	}
	hash := models.HashAPIKey(raw)
	if _, err := store.GetAPIKeyByHash(ctx, hash); err == nil {
		return nil
	} else if !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("look up bootstrap key: %w", err)
	}
	key := models.NewAPIKey(models.NewKeyID(), "bootstrap", raw, []string{"admin"})
	if err := store.CreateAPIKey(ctx, key); err != nil {
		return fmt.Errorf("seed bootstrap key: %w", err)
	}
	slog.Info("Bootstrap API key seeded", "id", key.ID, "prefix", key.Prefix)
	return nil
}
