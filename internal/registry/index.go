// Package registry manages the registry index: the JSON array of published
// pack entries kept in the document store.
package registry

import (
	"bytes"
	"encoding/json"
	"fmt"
	"registryproxy/internal/models"
)

// Index is the decoded registry document. Entries are held as raw JSON so
// fields this service does not know about survive a rewrite.
type Index struct {
	entries []json.RawMessage
}

// Decode parses a stored document. Empty content is an empty index.
func Decode(data []byte) (*Index, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return &Index{}, nil
	}
	var entries []json.RawMessage
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("registry index is not a JSON array: %w", err)
	}
	return &Index{entries: entries}, nil
}

// FromEntries builds an index from raw entries, kept in order.
func FromEntries(entries []json.RawMessage) *Index {
	return &Index{entries: append([]json.RawMessage(nil), entries...)}
}

// Encode renders the index as an indented JSON array, "[]" when empty.
func (ix *Index) Encode() ([]byte, error) {
	entries := ix.entries
	if entries == nil {
		entries = []json.RawMessage{}
	}
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode registry index: %w", err)
	}
	return data, nil
}

// Entries returns the raw entries. The slice is a copy.
func (ix *Index) Entries() []json.RawMessage {
	out := make([]json.RawMessage, len(ix.entries))
	copy(out, ix.entries)
	return out
}

func (ix *Index) Len() int {
	return len(ix.entries)
}

// position returns the array position of key, or -1. Entries that are not
// objects never match.
func (ix *Index) position(key models.EntryKey) int {
	for i, raw := range ix.entries {
		var k models.EntryKey
		if err := json.Unmarshal(raw, &k); err != nil {
			continue
		}
		if k == key {
			return i
		}
	}
	return -1
}

// Contains reports whether an entry with key exists, whatever shape its
// other fields have.
func (ix *Index) Contains(key models.EntryKey) bool {
	return ix.position(key) >= 0
}

// Find returns the entry for key. An entry whose fields do not decode as a
// RegistryEntry is not returned; use Contains to test for presence.
func (ix *Index) Find(key models.EntryKey) (*models.RegistryEntry, bool) {
	i := ix.position(key)
	if i < 0 {
		return nil, false
	}
	var entry models.RegistryEntry
	if err := json.Unmarshal(ix.entries[i], &entry); err != nil {
		return nil, false
	}
	return &entry, true
}

// Upsert replaces the entry with the same (name, version) in place, or
// appends it. It reports whether an entry was replaced.
func (ix *Index) Upsert(entry models.RegistryEntry) (bool, error) {
	raw, err := json.Marshal(entry)
	if err != nil {
		return false, fmt.Errorf("failed to encode entry %s: %w", entry.Key(), err)
	}
	if i := ix.position(entry.Key()); i >= 0 {
		ix.entries[i] = raw
		return true, nil
	}
	ix.entries = append(ix.entries, raw)
	return false, nil
}
