package registry

import (
	"context"
	"encoding/json"
	"errors"
	"registryproxy/internal/docstore"
	"registryproxy/internal/models"
	"registryproxy/internal/proxyerr"
	"time"
)

// Service performs read-modify-write cycles on the index. Every mutation
// reads the document first and writes with that read's token, so a lost race
// surfaces as a Conflict instead of overwriting another writer.
type Service struct {
	store   docstore.Store
	now     func() time.Time
	onWrite func()
}

func NewService(store docstore.Store) *Service {
	return &Service{store: store, now: time.Now}
}

// Load reads the current index and its version token. The token is empty
// when the document does not exist yet.
func (s *Service) Load(ctx context.Context) (*Index, string, error) {
	doc, err := s.store.Read(ctx)
	if err != nil {
		return nil, "", classify(err, "Failed to read registry index")
	}
	ix, err := Decode(doc.Content)
	if err != nil {
		return nil, "", proxyerr.NewInternal("Registry index is malformed", err)
	}
	return ix, doc.Token, nil
}

// Save writes ix over the version identified by token.
func (s *Service) Save(ctx context.Context, ix *Index, token, message string) error {
	content, err := ix.Encode()
	if err != nil {
		return proxyerr.NewInternal("Failed to encode registry index", err)
	}
	if _, err := s.store.Write(ctx, content, token, message); err != nil {
		return classify(err, "Failed to write registry index")
	}
	if s.onWrite != nil {
		s.onWrite()
	}
	return nil
}

// Replace overwrites the whole index with entries, unvalidated beyond being
// JSON objects.
func (s *Service) Replace(ctx context.Context, entries []json.RawMessage, message string) error {
	_, token, err := s.Load(ctx)
	if err != nil {
		return err
	}
	return s.Save(ctx, FromEntries(entries), token, message)
}

// Upsert inserts or replaces entry and writes the index once. It does not
// retry on a token conflict.
func (s *Service) Upsert(ctx context.Context, entry models.RegistryEntry, message string) error {
	ix, token, err := s.Load(ctx)
	if err != nil {
		return err
	}
	if _, err := ix.Upsert(entry); err != nil {
		return proxyerr.NewInternal("Failed to update registry index", err)
	}
	return s.Save(ctx, ix, token, message)
}

// Lookup reads the index and returns the entry for key, if any.
func (s *Service) Lookup(ctx context.Context, key models.EntryKey) (*models.RegistryEntry, bool, error) {
	ix, _, err := s.Load(ctx)
	if err != nil {
		return nil, false, err
	}
	entry, ok := ix.Find(key)
	return entry, ok, nil
}

// Contains reports whether the current index holds an entry for key. Only
// the name and version of each entry are read.
func (s *Service) Contains(ctx context.Context, key models.EntryKey) (bool, error) {
	ix, _, err := s.Load(ctx)
	if err != nil {
		return false, err
	}
	return ix.Contains(key), nil
}

func classify(err error, message string) error {
	switch {
	case errors.Is(err, docstore.ErrNotConfigured):
		return proxyerr.NewMisconfigured("Server configuration error")
	case errors.Is(err, docstore.ErrConflict):
		return proxyerr.NewConflict("Registry index changed during update, retry the request", err)
	case errors.Is(err, context.DeadlineExceeded):
		return proxyerr.NewUnavailable(message, err)
	default:
		return proxyerr.NewInternal(message, err)
	}
}
