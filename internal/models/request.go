// Package models - API request types.
// Requests carry their own Validate and Normalize methods so handlers can
// reject malformed input before any upstream call is made.
package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode"
)

const defaultSearchLimit = 10

// SearchRequest is relayed to the semantic-search backend. A nil Languages
// slice is forwarded as null, meaning "no language filter".
type SearchRequest struct {
	Query     string   `json:"query"`
	Languages []string `json:"languages"`
	Limit     int      `json:"limit"`
}

func (r *SearchRequest) Validate() error {
	if strings.TrimSpace(r.Query) == "" {
		return errors.New("query is required")
	}
	if r.Limit < 0 {
		return errors.New("limit cannot be negative")
	}
	return nil
}

func (r *SearchRequest) Normalize() {
	if r.Limit == 0 {
		r.Limit = defaultSearchLimit
	}
}

// UpdateIndexRequest replaces the registry index wholesale. Entries are kept
// as raw JSON objects and written back unchanged.
type UpdateIndexRequest struct {
	Entries    []json.RawMessage `json:"entries"`
	Message    string            `json:"message"`
	AdminToken string            `json:"admin_token"`
}

func (r *UpdateIndexRequest) Validate() error {
	if r.Entries == nil {
		return errors.New("entries is required")
	}
	if strings.TrimSpace(r.Message) == "" {
		return errors.New("message is required")
	}
	for i, raw := range r.Entries {
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(raw, &obj); err != nil || obj == nil {
			return fmt.Errorf("entry %d must be a JSON object", i)
		}
	}
	return nil
}

// PublishRequest is the wire form of a pack publish. Tarball holds the
// standard base64 encoding of the archive bytes.
type PublishRequest struct {
	Name        string   `json:"name"`
	Version     string   `json:"version"`
	Languages   []string `json:"languages"`
	Description string   `json:"description"`
	Author      string   `json:"author"`
	Tarball     string   `json:"tarball"`
}

func (r *PublishRequest) Validate() error {
	if err := validateIdentifier("name", r.Name); err != nil {
		return err
	}
	if err := validateIdentifier("version", r.Version); err != nil {
		return err
	}
	if r.Tarball == "" {
		return errors.New("tarball is required")
	}
	return nil
}

func (r *PublishRequest) Normalize() {
	r.Name = strings.TrimSpace(r.Name)
	r.Version = strings.TrimSpace(r.Version)
	if r.Languages == nil {
		r.Languages = []string{}
	}
}

// validateIdentifier rejects values that cannot appear in a release tag or
// an asset file name.
func validateIdentifier(field, value string) error {
	value = strings.TrimSpace(value)
	if value == "" {
		return fmt.Errorf("%s is required", field)
	}
	for _, r := range value {
		if unicode.IsSpace(r) || unicode.IsControl(r) || r == '/' || r == '\\' || r == '@' {
			return fmt.Errorf("%s contains invalid character %q", field, r)
		}
	}
	return nil
}
