package release

import (
	"context"
	"fmt"
	"registryproxy/internal/github"
	"registryproxy/internal/models"
)

// New creates the publisher selected by cfg.Release.Backend. client is only
// used by the github backend.
func New(ctx context.Context, cfg *models.Config, client *github.Client) (Publisher, error) {
	switch cfg.Release.Backend {
	case models.ReleaseBackendGitHub:
		if client == nil {
			return nil, fmt.Errorf("github client is required for the github release backend")
		}
		return NewGitHubPublisher(client, cfg.GitHub.Token != ""), nil
	case models.ReleaseBackendS3:
		s3Client, err := NewS3Client(ctx, cfg.Release.S3)
		if err != nil {
			return nil, err
		}
		return NewS3Publisher(s3Client, cfg.Release.S3), nil
	case models.ReleaseBackendMemory:
		return NewMemoryPublisher(), nil
	default:
		return nil, fmt.Errorf("unsupported release backend: %s", cfg.Release.Backend)
	}
}
