// Package proxyerr defines the error taxonomy every workflow step is mapped
// into before a failure crosses the HTTP boundary.
package proxyerr

import (
	"errors"
	"fmt"
	"net/http"
	"registryproxy/internal/models"
	"strings"
)

// Kind classifies a failure for the caller.
type Kind int

const (
	KindInternal Kind = iota
	KindClient
	KindAuth
	KindRateLimited
	KindConflict
	KindUpstreamUnavailable
)

func (k Kind) String() string {
	switch k {
	case KindClient:
		return "client_error"
	case KindAuth:
		return "auth_error"
	case KindRateLimited:
		return "rate_limited"
	case KindConflict:
		return "conflict"
	case KindUpstreamUnavailable:
		return "upstream_unavailable"
	default:
		return "internal_failure"
	}
}

// Retryable reports whether repeating the identical request later can succeed.
func (k Kind) Retryable() bool {
	return k == KindRateLimited || k == KindUpstreamUnavailable
}

// Error is a classified failure with HTTP context.
type Error struct {
	Kind       Kind
	Code       string
	Message    string
	StatusCode int
	Details    map[string]string
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// WithDetail attaches a key/value pair that is returned to the caller.
func (e *Error) WithDetail(key, value string) *Error {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// Error constructors

func NewBadRequest(message string, err error) *Error {
	return &Error{Kind: KindClient, Code: models.ErrorCodeBadRequest, Message: message, StatusCode: http.StatusBadRequest, Err: err}
}

func NewInvalidRequest(message string, err error) *Error {
	return &Error{Kind: KindClient, Code: models.ErrorCodeInvalidRequest, Message: message, StatusCode: http.StatusBadRequest, Err: err}
}

func NewInvalidClient() *Error {
	return &Error{Kind: KindAuth, Code: models.ErrorCodeInvalidClient, Message: "Invalid client", StatusCode: http.StatusForbidden}
}

func NewUnauthorized() *Error {
	return &Error{Kind: KindAuth, Code: models.ErrorCodeForbidden, Message: "Unauthorized", StatusCode: http.StatusForbidden}
}

func NewRateLimited() *Error {
	return &Error{Kind: KindRateLimited, Code: models.ErrorCodeRateLimitExceeded, Message: "Rate limit exceeded", StatusCode: http.StatusTooManyRequests}
}

func NewConflict(message string, err error) *Error {
	return &Error{Kind: KindConflict, Code: models.ErrorCodeConflict, Message: message, StatusCode: http.StatusConflict, Err: err}
}

// NewMisconfigured reports a secret the route cannot work without.
func NewMisconfigured(message string) *Error {
	return &Error{Kind: KindUpstreamUnavailable, Code: models.ErrorCodeConfiguration, Message: message, StatusCode: http.StatusInternalServerError}
}

// NewFeatureDisabled reports an optional feature whose secret is not set.
func NewFeatureDisabled(message string) *Error {
	return &Error{Kind: KindUpstreamUnavailable, Code: models.ErrorCodeFeatureDisabled, Message: message, StatusCode: http.StatusServiceUnavailable}
}

func NewUnavailable(message string, err error) *Error {
	return &Error{Kind: KindUpstreamUnavailable, Code: models.ErrorCodeServiceUnavailable, Message: message, StatusCode: http.StatusServiceUnavailable, Err: err}
}

// NewUpstreamStatus surfaces a backend's non-success status unchanged.
func NewUpstreamStatus(message string, status int) *Error {
	kind := KindInternal
	switch {
	case status == http.StatusTooManyRequests:
		kind = KindRateLimited
	case status == http.StatusConflict:
		kind = KindConflict
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		kind = KindAuth
	case status >= 400 && status < 500:
		kind = KindClient
	case status == http.StatusBadGateway || status == http.StatusServiceUnavailable || status == http.StatusGatewayTimeout:
		kind = KindUpstreamUnavailable
	}
	return &Error{Kind: kind, Code: models.ErrorCodeUpstream, Message: message, StatusCode: status}
}

func NewInternal(message string, err error) *Error {
	return &Error{Kind: KindInternal, Code: models.ErrorCodeInternalError, Message: message, StatusCode: http.StatusInternalServerError, Err: err}
}

// NewPublishedNotIndexed reports a release whose artifact is live but whose
// registry entry could not be written. Operators reconcile these by hand.
func NewPublishedNotIndexed(downloadURL string, err error) *Error {
	e := &Error{
		Kind:       KindInternal,
		Code:       models.ErrorCodePublishedNotIndexed,
		Message:    "Pack published but not indexed",
		StatusCode: http.StatusInternalServerError,
		Err:        err,
	}
	return e.WithDetail("download_url", downloadURL)
}

// As extracts a classified error from err.
func As(err error) (*Error, bool) {
	var pe *Error
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// KindOf returns the kind of err, KindInternal for unclassified errors.
func KindOf(err error) Kind {
	if pe, ok := As(err); ok {
		return pe.Kind
	}
	return KindInternal
}

// From classifies err, wrapping unclassified errors as internal failures
// with the given message.
func From(err error, message string) *Error {
	if pe, ok := As(err); ok {
		return pe
	}
	return NewInternal(message, err)
}

// Redact replaces every non-empty secret in s with a fixed marker.
func Redact(s string, secrets ...string) string {
	for _, secret := range secrets {
		if secret == "" {
			continue
		}
		s = strings.ReplaceAll(s, secret, "[REDACTED]")
	}
	return s
}
