// Package search relays semantic search queries to the search backend,
// adding the server-held API key.
package search

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"registryproxy/internal/models"
	"registryproxy/internal/proxyerr"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	defaultTimeout   = 10 * time.Second
	maxResponseBytes = 10 << 20
)

// Query is the body forwarded to the backend. Languages stays null when the
// caller gave no filter.
type Query struct {
	Query     string   `json:"query"`
	Languages []string `json:"languages"`
	Limit     int      `json:"limit"`
}

// Relay forwards queries to {baseURL}/search.
type Relay struct {
	client  *http.Client
	baseURL string
	apiKey  string
}

// NewRelay creates a relay from cfg. The relay is usable without an API key;
// Search then fails with FEATURE_DISABLED.
func NewRelay(cfg models.SearchConfig) *Relay {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Relay{
		client: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
			Timeout:   timeout,
		},
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
	}
}

// Enabled reports whether an API key is configured.
func (r *Relay) Enabled() bool {
	return r.apiKey != ""
}

// Search forwards q and returns the backend's JSON body unchanged. A
// non-2xx backend status is returned with that status; a transport failure
// or timeout is UpstreamUnavailable.
func (r *Relay) Search(ctx context.Context, q Query) (json.RawMessage, error) {
	if !r.Enabled() {
		return nil, proxyerr.NewFeatureDisabled("Semantic search unavailable")
	}

	payload, err := json.Marshal(q)
	if err != nil {
		return nil, proxyerr.NewInternal("Failed to encode search query", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/search", bytes.NewReader(payload))
	if err != nil {
		return nil, proxyerr.NewInternal("Failed to build search request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+r.apiKey)

	resp, err := r.client.Do(req)
	if err != nil {
		slog.Warn("Search backend unreachable", "error", proxyerr.Redact(err.Error(), r.apiKey))
		return nil, proxyerr.NewUnavailable("Nia service error", errors.New(proxyerr.Redact(err.Error(), r.apiKey)))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
		slog.Warn("Search backend returned an error", "status", resp.StatusCode)
		return nil, proxyerr.NewUpstreamStatus("Nia search failed", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, proxyerr.NewUnavailable("Nia service error", err)
	}
	if !json.Valid(body) {
		return nil, proxyerr.NewUnavailable("Nia service error", fmt.Errorf("search backend returned invalid JSON"))
	}
	return json.RawMessage(body), nil
}
