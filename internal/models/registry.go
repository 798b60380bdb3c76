package models

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// RegistryEntry describes one published (name, version) of a pack. The pair
// is unique within the registry index.
type RegistryEntry struct {
	Name        string    `json:"name"`
	Version     string    `json:"version"`
	Languages   []string  `json:"languages"`
	Description string    `json:"description"`
	DownloadURL string    `json:"downloadUrl"`
	Checksum    string    `json:"checksum"`
	PublishedAt time.Time `json:"publishedAt"`
	Author      string    `json:"author"`
}

// EntryKey identifies a registry entry.
type EntryKey struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

func (k EntryKey) String() string {
	return fmt.Sprintf("%s@%s", k.Name, k.Version)
}

// Key returns the uniqueness key of the entry.
func (e *RegistryEntry) Key() EntryKey {
	return EntryKey{Name: e.Name, Version: e.Version}
}

// Checksum returns the lowercase hex SHA-256 digest of data.
func Checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
