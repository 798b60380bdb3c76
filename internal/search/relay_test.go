package search

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"registryproxy/internal/models"
	"registryproxy/internal/proxyerr"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRelay(t *testing.T, handler http.HandlerFunc, timeout time.Duration) *Relay {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewRelay(models.SearchConfig{
		BaseURL: server.URL + "/",
		APIKey:  "nia-secret",
		Timeout: timeout,
	})
}

func TestSearch_ForwardsQuery(t *testing.T) {
	relay := newTestRelay(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search", r.URL.Path)
		assert.Equal(t, "Bearer nia-secret", r.Header.Get("Authorization"))

		var body map[string]interface{}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "http router", body["query"])
		assert.Nil(t, body["languages"])
		assert.Equal(t, float64(5), body["limit"])

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"results":[{"name":"mux"}]}`))
	}, time.Second)

	result, err := relay.Search(context.Background(), Query{Query: "http router", Limit: 5})
	require.NoError(t, err)
	assert.JSONEq(t, `{"results":[{"name":"mux"}]}`, string(result))
}

func TestSearch_BackendStatusIsPreserved(t *testing.T) {
	for _, status := range []int{http.StatusBadRequest, http.StatusTooManyRequests, http.StatusInternalServerError} {
		t.Run(http.StatusText(status), func(t *testing.T) {
			relay := newTestRelay(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(status)
			}, time.Second)

			_, err := relay.Search(context.Background(), Query{Query: "q", Limit: 1})
			pe, ok := proxyerr.As(err)
			require.True(t, ok)
			assert.Equal(t, status, pe.StatusCode)
			assert.Equal(t, "Nia search failed", pe.Message)
		})
	}
}

func TestSearch_TimeoutIsUnavailable(t *testing.T) {
	done := make(chan struct{})
	relay := newTestRelay(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
		}
	}, 50*time.Millisecond)
	defer close(done)

	_, err := relay.Search(context.Background(), Query{Query: "q", Limit: 1})
	pe, ok := proxyerr.As(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusServiceUnavailable, pe.StatusCode)
	assert.Equal(t, proxyerr.KindUpstreamUnavailable, pe.Kind)
	assert.NotContains(t, err.Error(), "nia-secret")
}

func TestSearch_UnreachableIsUnavailable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	relay := NewRelay(models.SearchConfig{BaseURL: url, APIKey: "k", Timeout: time.Second})
	_, err := relay.Search(context.Background(), Query{Query: "q"})
	assert.Equal(t, proxyerr.KindUpstreamUnavailable, proxyerr.KindOf(err))
}

func TestSearch_DisabledWithoutKey(t *testing.T) {
	relay := NewRelay(models.SearchConfig{BaseURL: "http://unused"})
	assert.False(t, relay.Enabled())

	_, err := relay.Search(context.Background(), Query{Query: "q"})
	pe, ok := proxyerr.As(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusServiceUnavailable, pe.StatusCode)
	assert.Equal(t, models.ErrorCodeFeatureDisabled, pe.Code)
	assert.Equal(t, "Semantic search unavailable", pe.Message)
}

func TestSearch_InvalidJSONFromBackend(t *testing.T) {
	relay := newTestRelay(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>"))
	}, time.Second)

	_, err := relay.Search(context.Background(), Query{Query: "q"})
	assert.Equal(t, proxyerr.KindUpstreamUnavailable, proxyerr.KindOf(err))
}
