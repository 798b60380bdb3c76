package release

import (
	"context"
	"fmt"
	"net/url"
	"registryproxy/internal/github"
	"strconv"
	"strings"
)

// GitHubPublisher publishes to the releases of a GitHub repository.
type GitHubPublisher struct {
	client     *github.Client
	configured bool
}

// NewGitHubPublisher creates a publisher. Without a repository token
// (configured false) every remote call fails with ErrNotConfigured.
func NewGitHubPublisher(client *github.Client, configured bool) *GitHubPublisher {
	return &GitHubPublisher{client: client, configured: configured}
}

func (p *GitHubPublisher) CreateRelease(ctx context.Context, tag, title, notes string, prerelease bool) (Handle, error) {
	if !p.configured {
		return Handle{}, ErrNotConfigured
	}
	rel, err := p.client.CreateRelease(ctx, tag, title, notes, prerelease)
	if err != nil {
		if github.IsConflict(err) {
			return Handle{}, fmt.Errorf("%w: %s", ErrReleaseExists, tag)
		}
		return Handle{}, fmt.Errorf("failed to create release %s: %w", tag, err)
	}
	return handleOf(rel), nil
}

func (p *GitHubPublisher) FindRelease(ctx context.Context, tag string) (Handle, error) {
	if !p.configured {
		return Handle{}, ErrNotConfigured
	}
	rel, err := p.client.GetReleaseByTag(ctx, tag)
	if err != nil {
		if github.IsNotFound(err) {
			return Handle{}, fmt.Errorf("%w: %s", ErrReleaseNotFound, tag)
		}
		return Handle{}, fmt.Errorf("failed to look up release %s: %w", tag, err)
	}
	return handleOf(rel), nil
}

func (p *GitHubPublisher) UploadAsset(ctx context.Context, h Handle, filename, contentType string, data []byte) (string, error) {
	if !p.configured {
		return "", ErrNotConfigured
	}
	id, err := strconv.ParseInt(h.ID, 10, 64)
	if err != nil {
		return "", fmt.Errorf("invalid release id %q: %w", h.ID, err)
	}
	asset, err := p.client.UploadAsset(ctx, id, filename, contentType, data)
	if err != nil {
		if github.IsConflict(err) {
			return "", fmt.Errorf("%w: %s", ErrAssetExists, filename)
		}
		return "", fmt.Errorf("failed to upload %s: %w", filename, err)
	}
	if asset.BrowserDownloadURL != "" {
		return asset.BrowserDownloadURL, nil
	}
	return p.DownloadURL(h, filename), nil
}

func (p *GitHubPublisher) DeleteRelease(ctx context.Context, h Handle) error {
	if !p.configured {
		return ErrNotConfigured
	}
	id, err := strconv.ParseInt(h.ID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid release id %q: %w", h.ID, err)
	}
	if err := p.client.DeleteRelease(ctx, id); err != nil {
		return fmt.Errorf("failed to delete release %s: %w", h.Tag, err)
	}
	return nil
}

// DownloadURL derives the asset URL from the release page URL, which GitHub
// serves as .../releases/tag/{tag}.
func (p *GitHubPublisher) DownloadURL(h Handle, filename string) string {
	const marker = "/releases/tag/"
	if i := strings.LastIndex(h.URL, marker); i >= 0 {
		return h.URL[:i] + "/releases/download/" + url.PathEscape(h.Tag) + "/" + url.PathEscape(filename)
	}
	return fmt.Sprintf("https://github.com/%s/%s/releases/download/%s/%s",
		p.client.Owner(), p.client.Repo(), url.PathEscape(h.Tag), url.PathEscape(filename))
}

func handleOf(rel *github.Release) Handle {
	return Handle{ID: strconv.FormatInt(rel.ID, 10), Tag: rel.TagName, URL: rel.HTMLURL}
}
