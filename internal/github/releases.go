package github

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
)

// Release is the subset of a GitHub release the proxy uses.
type Release struct {
	ID         int64  `json:"id"`
	TagName    string `json:"tag_name"`
	Name       string `json:"name"`
	HTMLURL    string `json:"html_url"`
	Prerelease bool   `json:"prerelease"`
}

// Asset is an uploaded release asset.
type Asset struct {
	ID                 int64  `json:"id"`
	Name               string `json:"name"`
	BrowserDownloadURL string `json:"browser_download_url"`
}

type createReleaseRequest struct {
	TagName         string `json:"tag_name"`
	TargetCommitish string `json:"target_commitish,omitempty"`
	Name            string `json:"name"`
	Body            string `json:"body"`
	Prerelease      bool   `json:"prerelease"`
}

// CreateRelease creates a published release and its tag. An existing tag is
// reported as an *APIError for which IsConflict is true.
func (c *Client) CreateRelease(ctx context.Context, tag, name, body string, prerelease bool) (*Release, error) {
	req := createReleaseRequest{
		TagName:         tag,
		TargetCommitish: c.branch,
		Name:            name,
		Body:            body,
		Prerelease:      prerelease,
	}
	var rel Release
	if err := c.doJSON(ctx, http.MethodPost, c.repoPath("releases"), req, &rel); err != nil {
		return nil, err
	}
	return &rel, nil
}

// GetReleaseByTag looks up a release by its tag name.
func (c *Client) GetReleaseByTag(ctx context.Context, tag string) (*Release, error) {
	var rel Release
	if err := c.doJSON(ctx, http.MethodGet, c.repoPath("releases", "tags", tag), nil, &rel); err != nil {
		return nil, err
	}
	return &rel, nil
}

// DeleteRelease deletes a release. The git tag is left in place.
func (c *Client) DeleteRelease(ctx context.Context, id int64) error {
	return c.doJSON(ctx, http.MethodDelete, c.repoPath("releases", strconv.FormatInt(id, 10)), nil, nil)
}

// UploadAsset uploads data as a release asset through the uploads host. A
// duplicate asset name is reported as an *APIError for which IsConflict is
// true.
func (c *Client) UploadAsset(ctx context.Context, releaseID int64, name, contentType string, data []byte) (*Asset, error) {
	u := fmt.Sprintf("%s/repos/%s/%s/releases/%d/assets?name=%s",
		c.uploadURL, url.PathEscape(c.owner), url.PathEscape(c.repo), releaseID, url.QueryEscape(name))

	var asset Asset
	if err := c.do(ctx, http.MethodPost, u, contentType, bytes.NewReader(data), &asset); err != nil {
		return nil, err
	}
	return &asset, nil
}

// ListAssets returns the assets attached to a release.
func (c *Client) ListAssets(ctx context.Context, releaseID int64) ([]Asset, error) {
	var assets []Asset
	u := c.repoPath("releases", strconv.FormatInt(releaseID, 10), "assets") + "?per_page=100"
	if err := c.doJSON(ctx, http.MethodGet, u, nil, &assets); err != nil {
		return nil, err
	}
	return assets, nil
}
