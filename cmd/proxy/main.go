package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"registryproxy/internal/api"
	"registryproxy/internal/config"
	"registryproxy/internal/docstore"
	"registryproxy/internal/github"
	"registryproxy/internal/identity"
	"registryproxy/internal/logger"
	"registryproxy/internal/models"
	"registryproxy/internal/observability"
	"registryproxy/internal/publish"
	"registryproxy/internal/ratelimit"
	"registryproxy/internal/registry"
	"registryproxy/internal/release"
	"registryproxy/internal/search"
	"registryproxy/internal/version"
	"syscall"
	"time"
)

var (
	configFile   = flag.String("config", "", "Path to configuration file")
	writeExample = flag.String("write-example", "", "Write an example configuration file to this path and exit")
)

func main() {
	flag.Parse()

	if *writeExample != "" {
		if err := config.SaveExample(*writeExample); err != nil {
			slog.Error("Failed to write example configuration", "error", err)
			os.Exit(1)
		}
		fmt.Printf("Example configuration written to %s\n", *writeExample)
		return
	}

	// Load configuration
	cfg, err := config.Load(*configFile)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	buildInfo := version.GetInfo()

	// Initialize structured logging
	log, closer, err := logger.Setup(cfg.Logging, buildInfo)
	if err != nil {
		slog.Error("Failed to initialize logger", "error", err)
		os.Exit(1)
	}
	if closer != nil {
		defer closer.Close()
	}
	slog.SetDefault(log)

	// Initialize observability (OpenTelemetry)
	otelProvider, err := observability.Setup(cfg.Metrics, cfg.Observability, buildInfo)
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

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// Backends
	var ghClient *github.Client
	if cfg.Registry.Backend == models.RegistryBackendGitHub || cfg.Release.Backend == models.ReleaseBackendGitHub {
		ghClient = github.NewClient(cfg.GitHub)
	}

	store, err := initializeDocumentStore(cfg, ghClient)
	if err != nil {
		slog.Error("Failed to initialize registry store", "error", err)
		os.Exit(1)
	}

	publisher, publisherCheck, err := initializePublisher(ctx, cfg, ghClient)
	if err != nil {
		slog.Error("Failed to initialize release publisher", "error", err)
		os.Exit(1)
	}

	guard, rlCloser, err := initializeRateLimiter(ctx, cfg)
	if err != nil {
		slog.Error("Failed to initialize rate limiter", "error", err)
		os.Exit(1)
	}
	if rlCloser != nil {
		defer rlCloser.Close()
	}

	warnMissingSecrets(cfg)

	// Services
	registryService := registry.NewService(store)
	var indexTTL time.Duration
	if cfg.IndexCache.Enabled {
		indexTTL = cfg.IndexCache.TTL
	}
	indexReader := registry.NewCachedReader(registryService, indexTTL)

	relay := search.NewRelay(cfg.Search)
	verifier := identity.NewUserAgentVerifier(cfg.Security.ClientMarkers...)
	orchestrator := publish.New(verifier, guard, registryService, publisher,
		publish.WithStepTimeout(cfg.Release.Timeout))

	handlerOpts := []api.HandlerOption{
		api.WithAdminAuthorizer(identity.NewSecretAuthorizer(cfg.Security.AdminToken)),
		api.WithGuard(guard),
		api.WithSecrets(cfg.GitHub.Token, cfg.Search.APIKey, cfg.Security.AdminToken),
		api.WithSearchEnabled(relay.Enabled()),
		api.WithVersion(buildInfo),
	}
	if publisherCheck != nil {
		handlerOpts = append(handlerOpts, api.WithHealthCheck("release_store", publisherCheck))
	}
	if p, ok := rlCloser.(pinger); ok {
		handlerOpts = append(handlerOpts, api.WithHealthCheck("rate_limit_store", p.Ping))
	}
	handlers := api.NewHandlers(indexReader, registryService, relay, orchestrator, handlerOpts...)

	// Setup routes with middleware
	routeOpts := []api.RouteOption{
		api.WithClientVerifier(verifier),
		api.WithRateLimiter(guard),
	}
	if cfg.Observability.Tracing.Enabled {
		routeOpts = append(routeOpts, api.WithOTelMiddleware(cfg.Observability.ServiceName))
	}
	router := api.SetupRoutes(handlers, cfg, routeOpts...)

	// Start metrics server if enabled
	var metricsServer *observability.MetricsServer
	if cfg.Metrics.Enabled {
		metricsServer = observability.NewMetricsServer(cfg.Metrics.Port, cfg.Metrics.Path, otelProvider)
		go func() {
			if err := metricsServer.Start(); err != nil && err != http.ErrServerClosed {
				slog.Error("Metrics server failed", "error", err)
			}
		}()
	}

	// Create HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server in a goroutine
	go func() {
		slog.Info("Starting server",
			"addr", server.Addr,
			"registry_backend", cfg.Registry.Backend,
			"release_backend", cfg.Release.Backend,
			"rate_limit_store", rateLimitStoreName(cfg),
		)

		var err error
		if cfg.Server.TLSEnabled {
			slog.Info("Starting HTTPS server with TLS")
			err = server.ListenAndServeTLS(cfg.Server.TLSCertFile, cfg.Server.TLSKeyFile)
		} else {
			slog.Info("Starting HTTP server")
			err = server.ListenAndServe()
		}

		if err != nil && err != http.ErrServerClosed {
			slog.Error("Server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("Shutting down server")
	stop()

	// Create a deadline to wait for shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Shutdown metrics server
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("Metrics server forced to shutdown", "error", err)
		}
	}

	// Attempt graceful shutdown
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}

	slog.Info("Server shutdown complete")
}

// initializeDocumentStore creates the registry document store, instrumented
// when metrics are enabled.
func initializeDocumentStore(cfg *models.Config, client *github.Client) (docstore.Store, error) {
	store, err := docstore.New(cfg, client)
	if err != nil {
		return nil, err
	}
	if !cfg.Metrics.Enabled {
		return store, nil
	}
	return observability.NewInstrumentedStore(store)
}

// initializePublisher creates the release publisher, instrumented when
// metrics are enabled.
// The returned health check is nil unless the backend can be checked.
func initializePublisher(ctx context.Context, cfg *models.Config, client *github.Client) (release.Publisher, api.HealthCheckFunc, error) {
	publisher, err := release.New(ctx, cfg, client)
	if err != nil {
		return nil, nil, err
	}
	var check api.HealthCheckFunc
	if s3p, ok := publisher.(*release.S3Publisher); ok {
		check = s3p.HealthCheck
	}
	if !cfg.Metrics.Enabled {
		return publisher, check, nil
	}
	instrumented, err := observability.NewInstrumentedPublisher(publisher)
	if err != nil {
		return nil, nil, err
	}
	return instrumented, check, nil
}

// initializeRateLimiter builds the guard over the configured store. A nil
// guard means rate limiting is disabled.
func initializeRateLimiter(ctx context.Context, cfg *models.Config) (*ratelimit.Guard, io.Closer, error) {
	rl := cfg.RateLimit
	if !rl.Enabled {
		slog.Warn("Rate limiting is disabled")
		return nil, nil, nil
	}

	var (
		store  ratelimit.Store
		closer io.Closer
	)
	switch rl.Store {
	case models.RateLimitStoreMemory:
		mem := ratelimit.NewMemoryStore(rl.CleanupInterval)
		store, closer = mem, mem
	case models.RateLimitStoreRedis:
		connectCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		rs, err := ratelimit.NewRedisStore(connectCtx, rl.Redis)
		if err != nil {
			return nil, nil, err
		}
		store, closer = rs, rs
	case models.RateLimitStoreSQLite, models.RateLimitStorePostgres:
		ss, err := ratelimit.OpenSQLStore(ctx, rl.Store, rl.Database)
		if err != nil {
			return nil, nil, err
		}
		if rl.CleanupInterval > 0 {
			go ss.RunCleanup(ctx, rl.CleanupInterval)
		}
		store, closer = ss, ss
	default:
		return nil, nil, fmt.Errorf("unsupported rate limit store: %s", rl.Store)
	}

	return ratelimit.NewGuard(ratelimit.NewSlidingWindow(store), rl.Routes, rl.FailOpen), closer, nil
}

// pinger is implemented by the shared rate limit stores.
type pinger interface {
	Ping(ctx context.Context) error
}

// warnMissingSecrets logs which routes are degraded. The server still starts.
func warnMissingSecrets(cfg *models.Config) {
	needsToken := cfg.Registry.Backend == models.RegistryBackendGitHub || cfg.Release.Backend == models.ReleaseBackendGitHub
	if needsToken && cfg.GitHub.Token == "" {
		slog.Warn("GITHUB_TOKEN not set; registry and publish routes will report a configuration error")
	}
	if cfg.Search.APIKey == "" {
		slog.Warn("NIA_API_KEY not set; semantic search is disabled")
	}
	if cfg.Security.AdminToken == "" {
		slog.Warn("ADMIN_TOKEN not set; registry updates are disabled")
	}
}

func rateLimitStoreName(cfg *models.Config) string {
	if !cfg.RateLimit.Enabled {
		return "disabled"
	}
	return cfg.RateLimit.Store
}
