package api

import (
	"log/slog"
	"net/http"
	"registryproxy/internal/identity"
	"registryproxy/internal/models"
	"registryproxy/internal/ratelimit"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gorilla/mux/otelmux"
)

// RouteOption configures optional route behavior.
type RouteOption func(*routeSettings)

type routeSettings struct {
	otelService string
	verifier    identity.ClientVerifier
	guard       *ratelimit.Guard
}

// WithOTelMiddleware adds OpenTelemetry HTTP instrumentation middleware.
func WithOTelMiddleware(serviceName string) RouteOption {
	return func(s *routeSettings) {
		s.otelService = serviceName
	}
}

// WithClientVerifier replaces the verifier built from the configured
// markers.
func WithClientVerifier(v identity.ClientVerifier) RouteOption {
	return func(s *routeSettings) {
		s.verifier = v
	}
}

// WithRateLimiter enforces per-route budgets. Without it no route is
// rate limited.
func WithRateLimiter(g *ratelimit.Guard) RouteOption {
	return func(s *routeSettings) {
		s.guard = g
	}
}

// SetupRoutes configures the HTTP routes for the proxy.
//
// Every registry route rejects unrecognized clients before the body is
// read. Read and search routes then spend budget in middleware. The update
// route checks the admin token before spending budget, and publish verifies
// and spends budget again inside the workflow.
func SetupRoutes(handlers *Handlers, config *models.Config, opts ...RouteOption) *mux.Router {
	settings := &routeSettings{
		verifier: identity.NewUserAgentVerifier(config.Security.ClientMarkers...),
	}
	for _, opt := range opts {
		opt(settings)
	}

	proxies, err := identity.NewTrustedProxies(config.Server.TrustedProxies)
	if err != nil {
		// Validate rejects these at load time; trust nobody if one slips by.
		slog.Error("Ignoring trusted proxies", "error", err)
		proxies = &identity.TrustedProxies{}
	}

	router := mux.NewRouter()

	router.Use(requestIDMiddleware)
	router.Use(clientIPMiddleware(proxies))
	if settings.otelService != "" {
		router.Use(otelmux.Middleware(settings.otelService,
			otelmux.WithFilter(func(r *http.Request) bool {
				return r.URL.Path != "/" && r.URL.Path != "/health"
			}),
		))
	}
	router.Use(loggingMiddleware)
	router.Use(recoveryMiddleware)
	if config.Server.CORS.Enabled {
		router.Use(corsMiddleware(config.Server.CORS))
	}
	router.Use(bodyLimitMiddleware(config.Server.MaxBodyBytes))

	router.HandleFunc("/", handlers.Root).Methods(http.MethodGet)
	router.HandleFunc("/health", handlers.HealthCheck).Methods(http.MethodGet)

	client := requireClient(settings.verifier)
	router.Handle("/registry/index", chain(handlers.RegistryIndex,
		client, settings.guard.Middleware(models.EndpointRegistryIndex))).Methods(http.MethodGet)
	router.Handle("/semantic/search", chain(handlers.SemanticSearch,
		client, settings.guard.Middleware(models.EndpointSemanticSearch))).Methods(http.MethodPost)
	router.Handle("/registry/update", chain(handlers.UpdateRegistry, client)).Methods(http.MethodPost)
	router.Handle("/registry/publish", chain(handlers.PublishPack, client)).Methods(http.MethodPost)

	// Preflight requests are answered by the CORS middleware; this route
	// only makes them match.
	router.Methods(http.MethodOptions).HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	router.MethodNotAllowedHandler = http.HandlerFunc(methodNotAllowedHandler)
	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, models.NewErrorResponse("Not found", models.ErrorCodeNotFound))
	})

	return router
}

// chain wraps h so that mws run in the order given.
func chain(h http.HandlerFunc, mws ...func(http.Handler) http.Handler) http.Handler {
	var out http.Handler = h
	for i := len(mws) - 1; i >= 0; i-- {
		out = mws[i](out)
	}
	return out
}

// methodNotAllowedHandler handles requests with invalid HTTP methods
func methodNotAllowedHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusMethodNotAllowed, models.NewErrorResponse("Method not allowed", models.ErrorCodeInvalidRequest))
}
