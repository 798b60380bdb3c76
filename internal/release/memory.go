package release

import (
	"context"
	"fmt"
	"strconv"
	"sync"
)

type memoryRelease struct {
	handle     Handle
	title      string
	notes      string
	prerelease bool
	assets     map[string][]byte
}

// MemoryPublisher keeps releases in memory. The Fail* fields inject errors
// for the next matching call.
type MemoryPublisher struct {
	mu       sync.Mutex
	nextID   int
	releases map[string]*memoryRelease

	FailCreate error
	FailUpload error
	FailDelete error

	deleted []string
}

func NewMemoryPublisher() *MemoryPublisher {
	return &MemoryPublisher{releases: make(map[string]*memoryRelease)}
}

func (m *MemoryPublisher) CreateRelease(ctx context.Context, tag, title, notes string, prerelease bool) (Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailCreate != nil {
		return Handle{}, m.FailCreate
	}
	if _, ok := m.releases[tag]; ok {
		return Handle{}, fmt.Errorf("%w: %s", ErrReleaseExists, tag)
	}
	m.nextID++
	h := Handle{
		ID:  strconv.Itoa(m.nextID),
		Tag: tag,
		URL: "memory://releases/tag/" + tag,
	}
	m.releases[tag] = &memoryRelease{
		handle:     h,
		title:      title,
		notes:      notes,
		prerelease: prerelease,
		assets:     make(map[string][]byte),
	}
	return h, nil
}

func (m *MemoryPublisher) FindRelease(ctx context.Context, tag string) (Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rel, ok := m.releases[tag]
	if !ok {
		return Handle{}, fmt.Errorf("%w: %s", ErrReleaseNotFound, tag)
	}
	return rel.handle, nil
}

func (m *MemoryPublisher) UploadAsset(ctx context.Context, h Handle, filename, contentType string, data []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailUpload != nil {
		return "", m.FailUpload
	}
	rel, ok := m.releases[h.Tag]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrReleaseNotFound, h.Tag)
	}
	if _, ok := rel.assets[filename]; ok {
		return "", fmt.Errorf("%w: %s", ErrAssetExists, filename)
	}
	rel.assets[filename] = append([]byte(nil), data...)
	return m.DownloadURL(h, filename), nil
}

func (m *MemoryPublisher) DeleteRelease(ctx context.Context, h Handle) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailDelete != nil {
		return m.FailDelete
	}
	delete(m.releases, h.Tag)
	m.deleted = append(m.deleted, h.Tag)
	return nil
}

func (m *MemoryPublisher) DownloadURL(h Handle, filename string) string {
	return "memory://releases/download/" + h.Tag + "/" + filename
}

// Asset returns the stored bytes of an asset.
func (m *MemoryPublisher) Asset(tag, filename string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rel, ok := m.releases[tag]
	if !ok {
		return nil, false
	}
	data, ok := rel.assets[filename]
	return data, ok
}

// Notes returns the notes a release was created with.
func (m *MemoryPublisher) Notes(tag string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rel, ok := m.releases[tag]
	if !ok {
		return "", false
	}
	return rel.notes, true
}

// Prerelease reports the prerelease flag a release was created with.
func (m *MemoryPublisher) Prerelease(tag string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	rel, ok := m.releases[tag]
	return ok && rel.prerelease
}

// Deleted returns the tags of deleted releases in order.
func (m *MemoryPublisher) Deleted() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.deleted...)
}
