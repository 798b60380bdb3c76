// Package github is a small client for the parts of the GitHub REST API the
// proxy needs: repository contents and releases. Every request carries the
// server-held token; callers never see it.
package github

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"registryproxy/internal/models"
	"strings"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
)

const (
	mediaTypeJSON = "application/vnd.github+json"
	apiVersion    = "2022-11-28"
)

// Client talks to one repository.
type Client struct {
	httpClient *http.Client
	apiURL     string
	uploadURL  string
	owner      string
	repo       string
	branch     string
	limiter    *rate.Limiter
}

// NewClient creates a client for cfg.Owner/cfg.Repo. An empty token yields
// an unauthenticated client, which is only useful against test servers.
func NewClient(cfg models.GitHubConfig) *Client {
	var base http.RoundTripper = http.DefaultTransport
	if cfg.Token != "" {
		base = &oauth2.Transport{
			Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token, TokenType: "Bearer"}),
			Base:   base,
		}
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}

	return &Client{
		httpClient: &http.Client{
			Transport: otelhttp.NewTransport(base),
			Timeout:   cfg.Timeout,
		},
		apiURL:    strings.TrimRight(cfg.APIURL, "/"),
		uploadURL: strings.TrimRight(cfg.UploadURL, "/"),
		owner:     cfg.Owner,
		repo:      cfg.Repo,
		branch:    cfg.Branch,
		limiter:   limiter,
	}
}

// Owner returns the repository owner.
func (c *Client) Owner() string { return c.owner }

// Repo returns the repository name.
func (c *Client) Repo() string { return c.repo }

func (c *Client) repoPath(parts ...string) string {
	escaped := make([]string, 0, len(parts))
	for _, p := range parts {
		escaped = append(escaped, url.PathEscape(p))
	}
	return fmt.Sprintf("%s/repos/%s/%s/%s", c.apiURL, url.PathEscape(c.owner), url.PathEscape(c.repo), strings.Join(escaped, "/"))
}

// do sends a request and decodes a JSON response into out (when non-nil).
// Non-2xx responses become *APIError.
func (c *Client) do(ctx context.Context, method, rawURL, contentType string, body io.Reader, out interface{}) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("github request throttled: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", mediaTypeJSON)
	req.Header.Set("X-GitHub-Api-Version", apiVersion)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("github %s %s: %w", method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return newAPIError(resp)
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode github response: %w", err)
	}
	return nil
}

func (c *Client) doJSON(ctx context.Context, method, rawURL string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(payload)
	}
	contentType := ""
	if body != nil {
		contentType = "application/json"
	}
	return c.do(ctx, method, rawURL, contentType, body, out)
}
