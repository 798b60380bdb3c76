package github

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"registryproxy/internal/models"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	return NewClient(models.GitHubConfig{
		APIURL:    server.URL,
		UploadURL: server.URL + "/uploads",
		Token:     "ghp_test",
		Owner:     "acme",
		Repo:      "registry",
		Branch:    "main",
		Timeout:   5 * time.Second,
	})
}

func TestGetContents(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/acme/registry/contents/data/registry.json", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "Bearer ghp_test", r.Header.Get("Authorization"))
		assert.Equal(t, "main", r.URL.Query().Get("ref"))

		encoded := base64.StdEncoding.EncodeToString([]byte(`[{"name":"foo"}]`))
		json.NewEncoder(w).Encode(map[string]string{
			"path":     "data/registry.json",
			"sha":      "abc123",
			"encoding": "base64",
			"content":  encoded[:8] + "\n" + encoded[8:],
		})
	})
	client := newTestClient(t, mux)

	file, err := client.GetContents(context.Background(), "data/registry.json")
	require.NoError(t, err)
	assert.Equal(t, "abc123", file.SHA)
	assert.JSONEq(t, `[{"name":"foo"}]`, string(file.Content))
}

func TestGetContents_NotFound(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"message":"Not Found"}`))
	}))

	_, err := client.GetContents(context.Background(), "registry.json")
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
	assert.False(t, IsConflict(err))
}

func TestPutContents(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/repos/acme/registry/contents/registry.json", r.URL.Path)

		var req putContentsRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "Publish foo@1.0.0", req.Message)
		assert.Equal(t, "old-sha", req.SHA)
		assert.Equal(t, "main", req.Branch)
		decoded, err := base64.StdEncoding.DecodeString(req.Content)
		assert.NoError(t, err)
		assert.Equal(t, "[]", string(decoded))

		w.Write([]byte(`{"content":{"sha":"new-sha"}}`))
	}))

	sha, err := client.PutContents(context.Background(), "registry.json", []byte("[]"), "old-sha", "Publish foo@1.0.0")
	require.NoError(t, err)
	assert.Equal(t, "new-sha", sha)
}

func TestPutContents_StaleSHA(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		w.Write([]byte(`{"message":"registry.json does not match old-sha"}`))
	}))

	_, err := client.PutContents(context.Background(), "registry.json", []byte("[]"), "old-sha", "msg")
	assert.True(t, IsConflict(err))
}

func TestCreateRelease(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/repos/acme/registry/releases", r.URL.Path)
		var req createReleaseRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "demo@1.0.0-beta.1", req.TagName)
		assert.True(t, req.Prerelease)

		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"id":42,"tag_name":"demo@1.0.0-beta.1","html_url":"https://github.com/acme/registry/releases/tag/demo@1.0.0-beta.1"}`))
	}))

	rel, err := client.CreateRelease(context.Background(), "demo@1.0.0-beta.1", "demo 1.0.0-beta.1", "notes", true)
	require.NoError(t, err)
	assert.Equal(t, int64(42), rel.ID)
}

func TestCreateRelease_TagExists(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"message":"Validation Failed","errors":[{"resource":"Release","code":"already_exists","field":"tag_name"}]}`))
	}))

	_, err := client.CreateRelease(context.Background(), "demo@1.0.0", "demo 1.0.0", "", false)
	require.Error(t, err)
	assert.True(t, IsConflict(err))
	assert.Equal(t, http.StatusUnprocessableEntity, StatusOf(err))
}

func TestUploadAsset(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/uploads/repos/acme/registry/releases/42/assets", r.URL.Path)
		assert.Equal(t, "demo-1.0.0.tar.gz", r.URL.Query().Get("name"))
		assert.Equal(t, "application/gzip", r.Header.Get("Content-Type"))
		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, []byte{1, 2, 3}, body)

		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"id":7,"name":"demo-1.0.0.tar.gz","browser_download_url":"https://example.com/demo.tgz"}`))
	}))

	asset, err := client.UploadAsset(context.Background(), 42, "demo-1.0.0.tar.gz", "application/gzip", []byte{1, 2, 3})
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/demo.tgz", asset.BrowserDownloadURL)
}

func TestDeleteRelease(t *testing.T) {
	var called bool
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		assert.Equal(t, http.MethodDelete, r.Method)
		assert.Equal(t, "/repos/acme/registry/releases/42", r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	}))

	require.NoError(t, client.DeleteRelease(context.Background(), 42))
	assert.True(t, called)
}

func TestGetReleaseByTag(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/repos/acme/registry/releases/tags/demo@1.0.0", r.URL.Path)
		w.Write([]byte(`{"id":9,"tag_name":"demo@1.0.0"}`))
	}))

	rel, err := client.GetReleaseByTag(context.Background(), "demo@1.0.0")
	require.NoError(t, err)
	assert.Equal(t, int64(9), rel.ID)
}

func TestStatusOf_NonAPIError(t *testing.T) {
	assert.Equal(t, 0, StatusOf(io.EOF))
	assert.False(t, IsNotFound(nil))
}
