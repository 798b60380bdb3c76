package docstore

import (
	"fmt"
	"registryproxy/internal/github"
	"registryproxy/internal/models"
)

// New creates the store selected by cfg.Registry.Backend. client is only
// used by the github backend and may be nil otherwise.
func New(cfg *models.Config, client *github.Client) (Store, error) {
	switch cfg.Registry.Backend {
	case models.RegistryBackendGitHub:
		if client == nil {
			return nil, fmt.Errorf("github client is required for the github registry backend")
		}
		return NewGitHubStore(client, cfg.Registry.DocumentPath, cfg.GitHub.Token != ""), nil
	case models.RegistryBackendFile:
		return NewFileStore(cfg.Registry.FilePath)
	case models.RegistryBackendMemory:
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unsupported registry backend: %s", cfg.Registry.Backend)
	}
}
