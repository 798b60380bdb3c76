package proxyerr

import (
	"errors"
	"fmt"
	"net/http"
	"registryproxy/internal/models"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConstructors(t *testing.T) {
	tests := []struct {
		name   string
		err    *Error
		kind   Kind
		status int
		code   string
	}{
		{"bad request", NewBadRequest("bad", nil), KindClient, http.StatusBadRequest, models.ErrorCodeBadRequest},
		{"invalid client", NewInvalidClient(), KindAuth, http.StatusForbidden, models.ErrorCodeInvalidClient},
		{"unauthorized", NewUnauthorized(), KindAuth, http.StatusForbidden, models.ErrorCodeForbidden},
		{"rate limited", NewRateLimited(), KindRateLimited, http.StatusTooManyRequests, models.ErrorCodeRateLimitExceeded},
		{"conflict", NewConflict("exists", nil), KindConflict, http.StatusConflict, models.ErrorCodeConflict},
		{"misconfigured", NewMisconfigured("no token"), KindUpstreamUnavailable, http.StatusInternalServerError, models.ErrorCodeConfiguration},
		{"disabled", NewFeatureDisabled("off"), KindUpstreamUnavailable, http.StatusServiceUnavailable, models.ErrorCodeFeatureDisabled},
		{"unavailable", NewUnavailable("down", nil), KindUpstreamUnavailable, http.StatusServiceUnavailable, models.ErrorCodeServiceUnavailable},
		{"internal", NewInternal("boom", nil), KindInternal, http.StatusInternalServerError, models.ErrorCodeInternalError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.kind, tt.err.Kind)
			assert.Equal(t, tt.status, tt.err.StatusCode)
			assert.Equal(t, tt.code, tt.err.Code)
		})
	}
}

func TestPublishedNotIndexed_IsDistinctInternalFailure(t *testing.T) {
	cause := errors.New("sha mismatch")
	err := NewPublishedNotIndexed("https://example.test/a.tar.gz", cause)

	assert.Equal(t, KindInternal, err.Kind)
	assert.Equal(t, models.ErrorCodePublishedNotIndexed, err.Code)
	assert.NotEqual(t, NewInternal("x", nil).Code, err.Code)
	assert.Equal(t, "https://example.test/a.tar.gz", err.Details["download_url"])
	assert.ErrorIs(t, err, cause)
}

func TestNewUpstreamStatus_PreservesStatus(t *testing.T) {
	for _, status := range []int{400, 401, 404, 429, 500, 502} {
		err := NewUpstreamStatus("Nia search failed", status)
		assert.Equal(t, status, err.StatusCode)
	}
	assert.Equal(t, KindRateLimited, NewUpstreamStatus("", 429).Kind)
	assert.Equal(t, KindClient, NewUpstreamStatus("", 404).Kind)
	assert.Equal(t, KindInternal, NewUpstreamStatus("", 500).Kind)
}

func TestAsAndKindOf(t *testing.T) {
	wrapped := fmt.Errorf("step failed: %w", NewConflict("exists", nil))

	pe, ok := As(wrapped)
	require.True(t, ok)
	assert.Equal(t, KindConflict, pe.Kind)
	assert.Equal(t, KindConflict, KindOf(wrapped))
	assert.Equal(t, KindInternal, KindOf(errors.New("plain")))
}

func TestFrom(t *testing.T) {
	classified := NewRateLimited()
	assert.Same(t, classified, From(classified, "ignored"))

	plain := errors.New("disk full")
	got := From(plain, "Failed to fetch registry")
	assert.Equal(t, KindInternal, got.Kind)
	assert.Equal(t, "Failed to fetch registry: disk full", got.Error())
}

func TestKind_Retryable(t *testing.T) {
	assert.True(t, KindRateLimited.Retryable())
	assert.True(t, KindUpstreamUnavailable.Retryable())
	assert.False(t, KindConflict.Retryable())
	assert.False(t, KindAuth.Retryable())
	assert.False(t, KindClient.Retryable())
}

func TestRedact(t *testing.T) {
	msg := "GET https://api.test?token=ghp_secret failed for ghp_secret"
	assert.Equal(t, "GET https://api.test?token=[REDACTED] failed for [REDACTED]", Redact(msg, "ghp_secret", ""))
	assert.Equal(t, "unchanged", Redact("unchanged"))
}
