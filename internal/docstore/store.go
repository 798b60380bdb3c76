// Package docstore reads and writes a single JSON document under optimistic
// concurrency. Every successful read hands back a version token; a write must
// present the token of the version it replaces, or no token to create the
// document. A stale token is rejected with ErrConflict, never merged.
package docstore

import (
	"context"
	"errors"
)

var (
	// ErrConflict is returned when the supplied token does not match the
	// stored version, or a create finds the document already present.
	ErrConflict = errors.New("document version conflict")

	// ErrNotConfigured is returned by backends missing the credential they
	// need. It only affects operations on the store, not service startup.
	ErrNotConfigured = errors.New("document store not configured")
)

// Document is one read of the stored document.
type Document struct {
	Content []byte
	Token   string // empty when the document does not exist
	Exists  bool
}

// Store is the document store adapter.
type Store interface {
	// Read returns the current document. A missing document is not an error:
	// it comes back with Exists false and an empty Token.
	Read(ctx context.Context) (Document, error)

	// Write stores content. An empty token creates the document; otherwise
	// token must be the one from the most recent Read. Returns the new token.
	Write(ctx context.Context, content []byte, token, message string) (string, error)
}
