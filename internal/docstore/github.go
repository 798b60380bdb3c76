package docstore

import (
	"context"
	"fmt"
	"registryproxy/internal/github"
)

// GitHubStore keeps the document as a file in a GitHub repository. The
// version token is the file's blob sha and the write message becomes the
// commit message.
type GitHubStore struct {
	client     *github.Client
	path       string
	configured bool
}

// NewGitHubStore creates a store for path in the client's repository.
// configured reports whether a repository token is available; without one
// every call fails with ErrNotConfigured.
func NewGitHubStore(client *github.Client, path string, configured bool) *GitHubStore {
	return &GitHubStore{client: client, path: path, configured: configured}
}

func (s *GitHubStore) Read(ctx context.Context) (Document, error) {
	if !s.configured {
		return Document{}, ErrNotConfigured
	}

	file, err := s.client.GetContents(ctx, s.path)
	if err != nil {
		if github.IsNotFound(err) {
			return Document{}, nil
		}
		return Document{}, fmt.Errorf("failed to read %s: %w", s.path, err)
	}
	return Document{Content: file.Content, Token: file.SHA, Exists: true}, nil
}

func (s *GitHubStore) Write(ctx context.Context, content []byte, token, message string) (string, error) {
	if !s.configured {
		return "", ErrNotConfigured
	}

	sha, err := s.client.PutContents(ctx, s.path, content, token, message)
	if err != nil {
		if github.IsConflict(err) {
			return "", fmt.Errorf("%w: %s", ErrConflict, err)
		}
		return "", fmt.Errorf("failed to write %s: %w", s.path, err)
	}
	return sha, nil
}
