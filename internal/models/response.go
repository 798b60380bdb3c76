// Package models - API response types and error codes.
// This file defines all outgoing API response structures.
//
// Response Design Principles:
// - Consistent JSON structure across all endpoints
// - Error bodies carry a machine-readable code next to the message
// - RFC3339 timestamps
package models

import (
	"encoding/json"
	"time"
)

// ServiceInfoResponse is returned by the liveness endpoint.
type ServiceInfoResponse struct {
	Service string `json:"service"`
	Status  string `json:"status"`
	Version string `json:"version"`
}

// IndexResponse carries the registry index as stored, entry by entry.
type IndexResponse struct {
	Entries  []json.RawMessage `json:"entries"`
	CachedAt time.Time         `json:"cached_at"`
}

type UpdateIndexResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

type PublishResponse struct {
	Status      string `json:"status"`
	URL         string `json:"url"`
	Version     string `json:"version"`
	Checksum    string `json:"checksum"`
	DownloadURL string `json:"download_url"`
}

// ErrorResponse provides structured error information.
//
// Error Categories:
// - Client errors: malformed input (400)
// - Auth errors: unrecognized client or wrong admin secret (403)
// - Rate limited: budget exhausted for this client and route (429)
// - Conflict: the named release already exists (409)
// - Upstream unavailable: backend unreachable or feature disabled (503)
// - Internal failures: everything else (500), including PUBLISHED_NOT_INDEXED
type ErrorResponse struct {
	Error     string            `json:"error"`
	Message   string            `json:"message"`
	Code      string            `json:"code,omitempty"`
	Details   map[string]string `json:"details,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
	RequestID string            `json:"request_id,omitempty"`
}

type HealthCheckResponse struct {
	Status     string                     `json:"status"`
	Timestamp  time.Time                  `json:"timestamp"`
	Version    string                     `json:"version,omitempty"`
	Components map[string]ComponentHealth `json:"components,omitempty"`
}

type ComponentHealth struct {
	Status    string    `json:"status"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Health status constants
const (
	StatusHealthy  = "healthy"
	StatusDegraded = "degraded"
	StatusDisabled = "disabled"
	StatusSuccess  = "success"
)

// Error codes.
// Upper-case with underscores, one per failure the proxy can report.
const (
	ErrorCodeBadRequest          = "BAD_REQUEST"           // 400: malformed body or encoding
	ErrorCodeInvalidRequest      = "INVALID_REQUEST"       // 400: well-formed but invalid fields
	ErrorCodeInvalidClient       = "INVALID_CLIENT"        // 403: identity heuristic failed
	ErrorCodeForbidden           = "FORBIDDEN"             // 403: admin secret mismatch
	ErrorCodeNotFound            = "NOT_FOUND"             // 404
	ErrorCodeConflict            = "CONFLICT"              // 409: release already exists
	ErrorCodeRateLimitExceeded   = "RATE_LIMIT_EXCEEDED"   // 429
	ErrorCodeInternalError       = "INTERNAL_ERROR"        // 500
	ErrorCodeConfiguration       = "CONFIGURATION_ERROR"   // 500: required secret missing
	ErrorCodePublishedNotIndexed = "PUBLISHED_NOT_INDEXED" // 500: artifact live, index not updated
	ErrorCodeServiceUnavailable  = "SERVICE_UNAVAILABLE"   // 503: upstream unreachable
	ErrorCodeFeatureDisabled     = "FEATURE_DISABLED"      // 503: optional secret not configured
	ErrorCodeUpstream            = "UPSTREAM_ERROR"        // upstream reported a non-success status
)

func NewErrorResponse(message string, code string) *ErrorResponse {
	return &ErrorResponse{
		Error:     "error",
		Message:   message,
		Code:      code,
		Timestamp: time.Now().UTC(),
	}
}

func NewHealthCheckResponse(status string) *HealthCheckResponse {
	return &HealthCheckResponse{
		Status:     status,
		Timestamp:  time.Now().UTC(),
		Components: make(map[string]ComponentHealth),
	}
}

func (h *HealthCheckResponse) AddComponent(name, status, message string) {
	h.Components[name] = ComponentHealth{
		Status:    status,
		Message:   message,
		Timestamp: time.Now().UTC(),
	}
}
