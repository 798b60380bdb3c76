package publish

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"registryproxy/internal/docstore"
	"registryproxy/internal/identity"
	"registryproxy/internal/models"
	"registryproxy/internal/proxyerr"
	"registryproxy/internal/ratelimit"
	"registryproxy/internal/registry"
	"registryproxy/internal/release"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const cliAgent = "plgn-cli/1.0"

var fixedNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

type harness struct {
	orch      *Orchestrator
	store     docstore.Store
	registry  *registry.Service
	publisher *release.MemoryPublisher
}

type harnessOption func(*harnessConfig)

type harnessConfig struct {
	limit int
	store docstore.Store
}

func withLimit(n int) harnessOption {
	return func(c *harnessConfig) { c.limit = n }
}

func withStore(s docstore.Store) harnessOption {
	return func(c *harnessConfig) { c.store = s }
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()
	cfg := harnessConfig{limit: 100, store: docstore.NewMemoryStore()}
	for _, opt := range opts {
		opt(&cfg)
	}

	rateStore := ratelimit.NewMemoryStore(time.Hour)
	t.Cleanup(func() { rateStore.Close() })
	rule := models.RouteLimit{Limit: cfg.limit, Window: time.Hour}
	guard := ratelimit.NewGuard(ratelimit.NewSlidingWindow(rateStore), models.RouteLimits{
		RegistryIndex:   rule,
		SemanticSearch:  rule,
		RegistryUpdate:  rule,
		RegistryPublish: rule,
	}, false)

	reg := registry.NewService(cfg.store)
	pub := release.NewMemoryPublisher()
	orch := New(identity.NewUserAgentVerifier(), guard, reg, pub,
		WithClock(func() time.Time { return fixedNow }),
		WithStepTimeout(time.Second),
	)
	return &harness{orch: orch, store: cfg.store, registry: reg, publisher: pub}
}

func request(name, version string, tarball []byte) Request {
	return Request{
		Identification: cliAgent,
		ClientIP:       "10.0.0.1",
		Name:           name,
		Version:        version,
		Languages:      []string{"go"},
		Description:    "a pack",
		Author:         "alice",
		Tarball:        base64.StdEncoding.EncodeToString(tarball),
	}
}

func TestPublish_EndToEnd(t *testing.T) {
	h := newHarness(t)
	data := []byte("hello")

	res, err := h.orch.Publish(context.Background(), request("demo", "1.0.0", data))
	require.NoError(t, err)

	assert.Equal(t, "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824", res.Checksum)
	assert.Equal(t, models.Checksum(data), res.Checksum)
	assert.Equal(t, "1.0.0", res.Version)
	assert.Equal(t, "memory://releases/download/demo@1.0.0/demo-1.0.0.tar.gz", res.DownloadURL)
	assert.Equal(t, "memory://releases/tag/demo@1.0.0", res.PublishURL)
	assert.Equal(t, Trail{
		StateVerifying, StateRateLimiting, StateDecoding, StateHashing,
		StateReleaseCreate, StateAssetUpload, StateIndexUpdate, StateDone,
	}, res.States)

	stored, ok := h.publisher.Asset("demo@1.0.0", "demo-1.0.0.tar.gz")
	require.True(t, ok)
	assert.Equal(t, data, stored)

	notes, ok := h.publisher.Notes("demo@1.0.0")
	require.True(t, ok)
	assert.Contains(t, notes, res.Checksum)

	entry, found, err := h.registry.Lookup(context.Background(), models.EntryKey{Name: "demo", Version: "1.0.0"})
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, res.Checksum, entry.Checksum)
	assert.Equal(t, res.DownloadURL, entry.DownloadURL)
	assert.Equal(t, fixedNow, entry.PublishedAt)
	assert.Equal(t, []string{"go"}, entry.Languages)
	assert.Equal(t, "alice", entry.Author)
}

func TestPublish_CommitMessage(t *testing.T) {
	store := docstore.NewMemoryStore()
	h := newHarness(t, withStore(store))

	_, err := h.orch.Publish(context.Background(), request("demo", "1.0.0", []byte("x")))
	require.NoError(t, err)
	assert.Equal(t, []string{"Publish demo@1.0.0"}, store.Messages())
}

func TestPublish_RepublishReusesRelease(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	first, err := h.orch.Publish(ctx, request("demo", "1.0.0", []byte("hello")))
	require.NoError(t, err)

	second, err := h.orch.Publish(ctx, request("demo", "1.0.0", []byte("world")))
	require.NoError(t, err)

	assert.Equal(t, models.Checksum([]byte("world")), second.Checksum)
	assert.NotEqual(t, first.DownloadURL, second.DownloadURL)
	assert.True(t, second.States.Contains(StateReleaseReuse))
	assert.False(t, second.States.Contains(StateReleaseRollback))

	// The old archive stays reachable
	old, ok := h.publisher.Asset("demo@1.0.0", "demo-1.0.0.tar.gz")
	require.True(t, ok)
	assert.Equal(t, []byte("hello"), old)

	newName := RepublishAssetName("demo", "1.0.0", second.Checksum)
	data, ok := h.publisher.Asset("demo@1.0.0", newName)
	require.True(t, ok)
	assert.Equal(t, []byte("world"), data)

	ix, _, err := h.registry.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, ix.Len())
	entry, _ := ix.Find(models.EntryKey{Name: "demo", Version: "1.0.0"})
	assert.Equal(t, second.Checksum, entry.Checksum)
	assert.Equal(t, second.DownloadURL, entry.DownloadURL)
}

func TestPublish_RepublishOverAdminWrittenEntry(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	// Entries written through the admin route are stored verbatim, so their
	// timestamps need not be RFC 3339.
	require.NoError(t, h.registry.Replace(ctx, []json.RawMessage{
		json.RawMessage(`{"name":"demo","version":"1.0.0","publishedAt":"2024-01-15T10:30:00.123456","custom":"kept"}`),
	}, "Seed registry"))
	_, err := h.publisher.CreateRelease(ctx, "demo@1.0.0", "demo 1.0.0", "", false)
	require.NoError(t, err)

	res, err := h.orch.Publish(ctx, request("demo", "1.0.0", []byte("fresh")))
	require.NoError(t, err)
	assert.True(t, res.States.Contains(StateReleaseReuse))

	ix, _, err := h.registry.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, ix.Len())
	entry, found := ix.Find(models.EntryKey{Name: "demo", Version: "1.0.0"})
	require.True(t, found)
	assert.Equal(t, res.Checksum, entry.Checksum)
}

func TestPublish_RepublishIdenticalBytes(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.orch.Publish(ctx, request("demo", "1.0.0", []byte("v1")))
	require.NoError(t, err)
	second, err := h.orch.Publish(ctx, request("demo", "1.0.0", []byte("v2")))
	require.NoError(t, err)
	third, err := h.orch.Publish(ctx, request("demo", "1.0.0", []byte("v2")))
	require.NoError(t, err)

	assert.Equal(t, second.DownloadURL, third.DownloadURL)
	assert.Equal(t, second.Checksum, third.Checksum)
}

func TestPublish_UpsertIdempotence(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	req := request("foo", "1.0.0", []byte("a"))
	req.Description = "first"
	_, err := h.orch.Publish(ctx, req)
	require.NoError(t, err)

	req = request("foo", "1.0.0", []byte("b"))
	req.Description = "second"
	_, err = h.orch.Publish(ctx, req)
	require.NoError(t, err)

	ix, _, err := h.registry.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, ix.Len())
	entry, _ := ix.Find(models.EntryKey{Name: "foo", Version: "1.0.0"})
	assert.Equal(t, "second", entry.Description)

	_, err = h.orch.Publish(ctx, request("foo", "2.0.0", []byte("c")))
	require.NoError(t, err)
	ix, _, err = h.registry.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, ix.Len())
}

func TestPublish_ConflictLeavesIndexUntouched(t *testing.T) {
	store := docstore.NewMemoryStoreWith([]byte(`[]`))
	h := newHarness(t, withStore(store))
	ctx := context.Background()

	// A release with the tag exists but the registry has no entry for it
	_, err := h.publisher.CreateRelease(ctx, "demo@1.0.0", "", "", false)
	require.NoError(t, err)
	before, err := store.Read(ctx)
	require.NoError(t, err)

	_, err = h.orch.Publish(ctx, request("demo", "1.0.0", []byte("hello")))
	require.Error(t, err)
	assert.Equal(t, proxyerr.KindConflict, proxyerr.KindOf(err))

	var perr *Error
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, StateReleaseCreate, perr.State)
	assert.Equal(t, StateFailed, perr.States.Last())

	after, err := store.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Empty(t, store.Messages())
	assert.Empty(t, h.publisher.Deleted(), "a release this run did not create is never deleted")
}

func TestPublish_UploadFailureRollsBack(t *testing.T) {
	h := newHarness(t)
	uploadErr := errors.New("upload connection reset")
	h.publisher.FailUpload = uploadErr

	_, err := h.orch.Publish(context.Background(), request("demo", "1.0.0", []byte("hello")))
	require.Error(t, err)
	assert.ErrorIs(t, err, uploadErr)

	var perr *Error
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, StateAssetUpload, perr.State)
	assert.Equal(t, Trail{
		StateVerifying, StateRateLimiting, StateDecoding, StateHashing,
		StateReleaseCreate, StateAssetUpload, StateReleaseRollback, StateFailed,
	}, perr.States)
	assert.Equal(t, []string{"demo@1.0.0"}, h.publisher.Deleted())

	_, found, err := h.registry.Lookup(context.Background(), models.EntryKey{Name: "demo", Version: "1.0.0"})
	require.NoError(t, err)
	assert.False(t, found)
}

func TestPublish_RollbackFailureKeepsUploadError(t *testing.T) {
	h := newHarness(t)
	uploadErr := errors.New("upload failed")
	deleteErr := errors.New("delete failed")
	h.publisher.FailUpload = uploadErr
	h.publisher.FailDelete = deleteErr

	_, err := h.orch.Publish(context.Background(), request("demo", "1.0.0", []byte("hello")))
	require.Error(t, err)
	assert.ErrorIs(t, err, uploadErr)
	assert.NotErrorIs(t, err, deleteErr)

	var perr *Error
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, StateAssetUpload, perr.State)
}

type readOnlyStore struct {
	*docstore.MemoryStore
	err error
}

func (s *readOnlyStore) Write(ctx context.Context, content []byte, token, message string) (string, error) {
	return "", s.err
}

func TestPublish_IndexFailureIsPublishedNotIndexed(t *testing.T) {
	store := &readOnlyStore{MemoryStore: docstore.NewMemoryStore(), err: errors.New("github 502")}
	h := newHarness(t, withStore(store))

	_, err := h.orch.Publish(context.Background(), request("demo", "1.0.0", []byte("hello")))
	require.Error(t, err)

	pe, ok := proxyerr.As(err)
	require.True(t, ok)
	assert.Equal(t, models.ErrorCodePublishedNotIndexed, pe.Code)
	assert.Equal(t, proxyerr.KindInternal, pe.Kind)
	assert.Equal(t, "memory://releases/download/demo@1.0.0/demo-1.0.0.tar.gz", pe.Details["download_url"])

	// The artifact stays published
	_, ok = h.publisher.Asset("demo@1.0.0", "demo-1.0.0.tar.gz")
	assert.True(t, ok)
	assert.Empty(t, h.publisher.Deleted())
}

func TestPublish_UnverifiedTrafficDoesNotConsumeBudget(t *testing.T) {
	h := newHarness(t, withLimit(1))
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		req := request("demo", "1.0.0", []byte("x"))
		req.Identification = "curl/7.0"
		_, err := h.orch.Publish(ctx, req)
		require.Error(t, err)
		assert.Equal(t, proxyerr.KindAuth, proxyerr.KindOf(err))
	}

	_, err := h.orch.Publish(ctx, request("demo", "1.0.0", []byte("x")))
	require.NoError(t, err, "budget untouched by unverified calls")

	_, err = h.orch.Publish(ctx, request("demo", "2.0.0", []byte("y")))
	require.Error(t, err)
	assert.Equal(t, proxyerr.KindRateLimited, proxyerr.KindOf(err))
}

func TestPublish_MalformedTarball(t *testing.T) {
	h := newHarness(t)
	req := request("demo", "1.0.0", nil)
	req.Tarball = "!!! not base64 !!!"

	_, err := h.orch.Publish(context.Background(), req)
	require.Error(t, err)
	assert.Equal(t, proxyerr.KindClient, proxyerr.KindOf(err))

	var perr *Error
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, StateDecoding, perr.State)

	_, err = h.publisher.FindRelease(context.Background(), "demo@1.0.0")
	assert.ErrorIs(t, err, release.ErrReleaseNotFound, "nothing external is created")
}

func TestPublish_PrereleaseFlag(t *testing.T) {
	h := newHarness(t)
	_, err := h.orch.Publish(context.Background(), request("demo", "1.0.0-beta.1", []byte("x")))
	require.NoError(t, err)
	assert.True(t, h.publisher.Prerelease("demo@1.0.0-beta.1"))
}

func TestPublish_PublisherNotConfigured(t *testing.T) {
	h := newHarness(t)
	h.publisher.FailCreate = release.ErrNotConfigured

	_, err := h.orch.Publish(context.Background(), request("demo", "1.0.0", []byte("x")))
	pe, ok := proxyerr.As(err)
	require.True(t, ok)
	assert.Equal(t, models.ErrorCodeConfiguration, pe.Code)
	assert.Equal(t, "Server configuration error", pe.Message)
}

func TestPublish_SurvivesCallerCancellation(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := h.orch.Publish(ctx, request("demo", "1.0.0", []byte("x")))
	assert.NoError(t, err)
}

func TestNames(t *testing.T) {
	assert.Equal(t, "demo@1.0.0", Tag("demo", "1.0.0"))
	assert.Equal(t, "demo-1.0.0.tar.gz", AssetName("demo", "1.0.0"))
	assert.Equal(t, "demo-1.0.0-2cf24dba5fb0.tar.gz",
		RepublishAssetName("demo", "1.0.0", "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"))
}
