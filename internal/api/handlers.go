package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"registryproxy/internal/identity"
	"registryproxy/internal/models"
	"registryproxy/internal/proxyerr"
	"registryproxy/internal/publish"
	"registryproxy/internal/ratelimit"
	"registryproxy/internal/registry"
	"registryproxy/internal/search"
	"registryproxy/internal/version"
	"time"
)

// IndexReader serves the public registry index.
type IndexReader interface {
	Read(ctx context.Context) (*registry.Snapshot, error)
}

// IndexWriter overwrites the registry index.
type IndexWriter interface {
	Replace(ctx context.Context, entries []json.RawMessage, message string) error
}

// Searcher relays semantic search queries.
type Searcher interface {
	Search(ctx context.Context, q search.Query) (json.RawMessage, error)
}

// PackPublisher runs the publish workflow.
type PackPublisher interface {
	Publish(ctx context.Context, req publish.Request) (*publish.Result, error)
}

// Handlers contains HTTP handlers for the registry proxy
type Handlers struct {
	index     IndexReader
	writer    IndexWriter
	searcher  Searcher
	publisher PackPublisher

	admin   identity.AdminAuthorizer
	guard   *ratelimit.Guard
	secrets []string
	version version.Info

	searchEnabled bool
	checks        []healthCheck
}

// HealthCheckFunc checks a backing service for /health.
type HealthCheckFunc func(ctx context.Context) error

type healthCheck struct {
	name  string
	check HealthCheckFunc
}

const healthCheckTimeout = 2 * time.Second

// HandlerOption configures optional handler dependencies.
type HandlerOption func(*Handlers)

// WithAdminAuthorizer sets the authorizer for /registry/update.
func WithAdminAuthorizer(a identity.AdminAuthorizer) HandlerOption {
	return func(h *Handlers) {
		h.admin = a
	}
}

// WithGuard sets the rate limit guard used by handlers that check budgets
// after reading the body. Route-level budgets are wired in SetupRoutes.
func WithGuard(g *ratelimit.Guard) HandlerOption {
	return func(h *Handlers) {
		h.guard = g
	}
}

// WithSecrets lists values scrubbed from logged error text.
func WithSecrets(secrets ...string) HandlerOption {
	return func(h *Handlers) {
		h.secrets = append(h.secrets, secrets...)
	}
}

// WithVersion overrides the build info reported by the liveness endpoints.
func WithVersion(v version.Info) HandlerOption {
	return func(h *Handlers) {
		h.version = v
	}
}

// WithSearchEnabled reports search availability on /health.
func WithSearchEnabled(enabled bool) HandlerOption {
	return func(h *Handlers) {
		h.searchEnabled = enabled
	}
}

// WithHealthCheck reports a backing service as a /health component. A
// failing check marks the component and the overall status degraded.
func WithHealthCheck(name string, check HealthCheckFunc) HandlerOption {
	return func(h *Handlers) {
		h.checks = append(h.checks, healthCheck{name: name, check: check})
	}
}

// NewHandlers creates a new handlers instance
func NewHandlers(index IndexReader, writer IndexWriter, searcher Searcher, publisher PackPublisher, opts ...HandlerOption) *Handlers {
	h := &Handlers{
		index:     index,
		writer:    writer,
		searcher:  searcher,
		publisher: publisher,
		admin:     identity.NewSecretAuthorizer(""),
		version:   version.GetInfo(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Root handles liveness requests
// GET /
func (h *Handlers) Root(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, models.ServiceInfoResponse{
		Service: version.ServiceName,
		Status:  models.StatusHealthy,
		Version: h.version.Version,
	})
}

// HealthCheck reports which routes are usable with the current secrets.
// GET /health
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	response := models.NewHealthCheckResponse(models.StatusHealthy)
	response.Version = h.version.Version

	response.AddComponent("api", models.StatusHealthy, "API is operational")
	if h.searchEnabled {
		response.AddComponent("search", models.StatusHealthy, "Semantic search configured")
	} else {
		response.AddComponent("search", models.StatusDisabled, "Semantic search API key not set")
	}
	if _, err := h.admin.Authorize(""); errors.Is(err, identity.ErrAdminDisabled) {
		response.AddComponent("admin", models.StatusDisabled, "Admin token not set")
	} else {
		response.AddComponent("admin", models.StatusHealthy, "Admin updates configured")
	}
	for _, hc := range h.checks {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		err := hc.check(ctx)
		cancel()
		if err != nil {
			slog.Warn("Health check failed", "component", hc.name, "error", proxyerr.Redact(err.Error(), h.secrets...))
			response.AddComponent(hc.name, models.StatusDegraded, "Unreachable")
			response.Status = models.StatusDegraded
			continue
		}
		response.AddComponent(hc.name, models.StatusHealthy, "Reachable")
	}

	writeJSON(w, http.StatusOK, response)
}

// RegistryIndex returns the current index, or an empty list when none has
// been written yet.
// GET /registry/index
func (h *Handlers) RegistryIndex(w http.ResponseWriter, r *http.Request) {
	snap, err := h.index.Read(r.Context())
	if err != nil {
		h.writeError(w, r, err, "Failed to fetch registry")
		return
	}

	writeJSON(w, http.StatusOK, models.IndexResponse{
		Entries:  snap.Index.Entries(),
		CachedAt: snap.CachedAt,
	})
}

// SemanticSearch relays a query to the search backend and returns its body
// unchanged.
// POST /semantic/search
func (h *Handlers) SemanticSearch(w http.ResponseWriter, r *http.Request) {
	var req models.SearchRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err, "")
		return
	}
	if err := req.Validate(); err != nil {
		h.writeError(w, r, proxyerr.NewInvalidRequest(err.Error(), nil), "")
		return
	}
	req.Normalize()

	body, err := h.searcher.Search(r.Context(), search.Query{
		Query:     req.Query,
		Languages: req.Languages,
		Limit:     req.Limit,
	})
	if err != nil {
		h.writeError(w, r, err, "Search failed")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}

// UpdateRegistry overwrites the index with the supplied entries. The admin
// token is checked before the rate limit so rejected callers spend no budget.
// POST /registry/update
func (h *Handlers) UpdateRegistry(w http.ResponseWriter, r *http.Request) {
	var req models.UpdateIndexRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err, "")
		return
	}

	ok, err := h.admin.Authorize(req.AdminToken)
	if errors.Is(err, identity.ErrAdminDisabled) {
		h.writeError(w, r, proxyerr.NewFeatureDisabled("Registry updates unavailable"), "")
		return
	}
	if err != nil || !ok {
		slog.Warn("Rejected registry update", "client_ip", identity.ClientIP(r))
		h.writeError(w, r, proxyerr.NewUnauthorized(), "")
		return
	}

	info, err := h.guard.Check(r.Context(), identity.ClientIP(r), models.EndpointRegistryUpdate)
	if h.guard != nil {
		ratelimit.WriteHeaders(w, info)
	}
	if err != nil {
		h.writeError(w, r, err, "")
		return
	}

	if err := req.Validate(); err != nil {
		h.writeError(w, r, proxyerr.NewInvalidRequest(err.Error(), nil), "")
		return
	}

	if err := h.writer.Replace(r.Context(), req.Entries, req.Message); err != nil {
		h.writeError(w, r, err, "Failed to update registry")
		return
	}

	slog.Info("Registry updated",
		"client_ip", identity.ClientIP(r),
		"entries", len(req.Entries),
	)
	writeJSON(w, http.StatusOK, models.UpdateIndexResponse{
		Status:  models.StatusSuccess,
		Message: "Registry updated",
	})
}

// PublishPack runs the publish workflow. Client verification and rate
// limiting happen inside the workflow.
// POST /registry/publish
func (h *Handlers) PublishPack(w http.ResponseWriter, r *http.Request) {
	var req models.PublishRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err, "")
		return
	}
	req.Normalize()
	if err := req.Validate(); err != nil {
		h.writeError(w, r, proxyerr.NewInvalidRequest(err.Error(), nil), "")
		return
	}

	start := time.Now()
	result, err := h.publisher.Publish(r.Context(), publish.Request{
		Identification: r.Header.Get("User-Agent"),
		ClientIP:       identity.ClientIP(r),
		Name:           req.Name,
		Version:        req.Version,
		Languages:      req.Languages,
		Description:    req.Description,
		Author:         req.Author,
		Tarball:        req.Tarball,
	})
	if err != nil {
		var perr *publish.Error
		if errors.As(err, &perr) {
			slog.Warn("Publish failed",
				"pack", publish.Tag(req.Name, req.Version),
				"state", perr.State.String(),
				"trail", perr.States.String(),
			)
		}
		h.writeError(w, r, err, "Publish failed")
		return
	}

	slog.Info("Pack published",
		"pack", publish.Tag(req.Name, req.Version),
		"checksum", result.Checksum,
		"trail", result.States.String(),
		"duration", time.Since(start).String(),
	)
	writeJSON(w, http.StatusOK, models.PublishResponse{
		Status:      models.StatusSuccess,
		URL:         result.PublishURL,
		Version:     result.Version,
		Checksum:    result.Checksum,
		DownloadURL: result.DownloadURL,
	})
}

// decodeJSON reads one JSON value from the request body.
func decodeJSON(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			e := proxyerr.NewBadRequest("Request body too large", err)
			e.StatusCode = http.StatusRequestEntityTooLarge
			return e
		}
		return proxyerr.NewBadRequest("Invalid request body", err)
	}
	return nil
}

// writeJSON writes a JSON response
func writeJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		// Headers are already written; nothing else can be sent.
		slog.Error("Failed to encode JSON response", "error", err)
	}
}

// writeError classifies err and writes the error body. Unclassified errors
// become internal failures carrying fallback as their message. Only the
// short message reaches the caller; the wrapped cause is logged.
func (h *Handlers) writeError(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	if fallback == "" {
		fallback = "Internal server error"
	}
	pe := proxyerr.From(err, fallback)

	attrs := []any{
		"path", r.URL.Path,
		"kind", pe.Kind.String(),
		"code", pe.Code,
		"status", pe.StatusCode,
		"error", proxyerr.Redact(pe.Error(), h.secrets...),
	}
	if pe.StatusCode >= http.StatusInternalServerError {
		slog.Error("Request failed", attrs...)
	} else {
		slog.Debug("Request rejected", attrs...)
	}

	resp := models.NewErrorResponse(pe.Message, pe.Code)
	resp.Details = pe.Details
	resp.RequestID = RequestIDFromContext(r.Context())
	writeJSON(w, pe.StatusCode, resp)
}
