package docstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// FileStore keeps the document in a local file. The version token is the
// SHA-256 of the file content. Writes go through a temp file and rename so a
// reader never sees a partial document.
type FileStore struct {
	path string
	mu   sync.Mutex
}

// NewFileStore creates a store at path, creating parent directories. The
// file itself is created by the first write.
func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		return nil, fmt.Errorf("file path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}
	return &FileStore{path: path}, nil
}

func fileToken(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

func (f *FileStore) Read(ctx context.Context) (Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.read()
}

func (f *FileStore) read() (Document, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Document{}, nil
		}
		return Document{}, fmt.Errorf("failed to read file: %w", err)
	}
	return Document{Content: data, Token: fileToken(data), Exists: true}, nil
}

// Write checks token against the file on disk under the store lock. message
// is ignored; a local file has no history.
func (f *FileStore) Write(ctx context.Context, content []byte, token, message string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	current, err := f.read()
	if err != nil {
		return "", err
	}
	if current.Token != token {
		return "", ErrConflict
	}

	tmp, err := os.CreateTemp(filepath.Dir(f.path), ".docstore-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		return "", fmt.Errorf("failed to write file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("failed to write file: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0600); err != nil {
		return "", fmt.Errorf("failed to set file mode: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return "", fmt.Errorf("failed to replace file: %w", err)
	}
	return fileToken(content), nil
}
