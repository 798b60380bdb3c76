package github

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// FileContent is a repository file as returned by the contents API.
type FileContent struct {
	Path    string
	SHA     string
	Content []byte
}

type contentsResponse struct {
	Path     string `json:"path"`
	SHA      string `json:"sha"`
	Content  string `json:"content"`
	Encoding string `json:"encoding"`
}

type putContentsRequest struct {
	Message string `json:"message"`
	Content string `json:"content"`
	SHA     string `json:"sha,omitempty"`
	Branch  string `json:"branch,omitempty"`
}

type putContentsResponse struct {
	Content struct {
		SHA string `json:"sha"`
	} `json:"content"`
}

func (c *Client) contentsURL(path string) string {
	segments := append([]string{"contents"}, strings.Split(strings.Trim(path, "/"), "/")...)
	return c.repoPath(segments...)
}

// GetContents fetches a file. A missing file is reported as an *APIError
// for which IsNotFound is true.
func (c *Client) GetContents(ctx context.Context, path string) (*FileContent, error) {
	u := c.contentsURL(path)
	if c.branch != "" {
		u += "?ref=" + url.QueryEscape(c.branch)
	}

	var resp contentsResponse
	if err := c.doJSON(ctx, http.MethodGet, u, nil, &resp); err != nil {
		return nil, err
	}
	if resp.Encoding != "" && resp.Encoding != "base64" {
		return nil, fmt.Errorf("unsupported content encoding %q for %s", resp.Encoding, path)
	}

	// The API wraps base64 content at 60 columns.
	data, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(resp.Content, "\n", ""))
	if err != nil {
		return nil, fmt.Errorf("failed to decode content of %s: %w", path, err)
	}
	return &FileContent{Path: resp.Path, SHA: resp.SHA, Content: data}, nil
}

// PutContents creates (empty sha) or updates (sha of the version being
// replaced) a file and returns the new blob sha. A stale sha is reported as
// an *APIError for which IsConflict is true.
func (c *Client) PutContents(ctx context.Context, path string, content []byte, sha, message string) (string, error) {
	req := putContentsRequest{
		Message: message,
		Content: base64.StdEncoding.EncodeToString(content),
		SHA:     sha,
		Branch:  c.branch,
	}

	var resp putContentsResponse
	if err := c.doJSON(ctx, http.MethodPut, c.contentsURL(path), req, &resp); err != nil {
		return "", err
	}
	return resp.Content.SHA, nil
}
