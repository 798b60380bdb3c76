package registry

import (
	"context"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

const snapshotKey = "index"

// Snapshot is one read of the index as served to clients.
type Snapshot struct {
	Index    *Index
	CachedAt time.Time
}

// snapshotCache holds the most recent public read for a short TTL so bursts
// of index reads do not each hit the document store. gen counts
// invalidations; a load that overlapped one is not stored.
type snapshotCache struct {
	lru *lru.LRU[string, *Snapshot]

	mu  sync.Mutex
	gen uint64
}

func newSnapshotCache(ttl time.Duration) *snapshotCache {
	return &snapshotCache{lru: lru.NewLRU[string, *Snapshot](1, nil, ttl)}
}

func (c *snapshotCache) get() (*Snapshot, bool) {
	if c == nil {
		return nil, false
	}
	return c.lru.Get(snapshotKey)
}

// generation returns the token a later put must present.
func (c *snapshotCache) generation() uint64 {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen
}

// put stores s unless the cache was invalidated since gen was taken.
func (c *snapshotCache) put(s *Snapshot, gen uint64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		return
	}
	c.lru.Add(snapshotKey, s)
}

func (c *snapshotCache) invalidate() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	c.lru.Purge()
}

// CachedReader serves index reads from a short-lived cache, falling back to
// the service on a miss.
type CachedReader struct {
	service *Service
	cache   *snapshotCache
}

// NewCachedReader wraps service. A non-positive ttl disables caching.
func NewCachedReader(service *Service, ttl time.Duration) *CachedReader {
	r := &CachedReader{service: service}
	if ttl > 0 {
		r.cache = newSnapshotCache(ttl)
		service.onWrite = r.cache.invalidate
	}
	return r
}

// Read returns the cached snapshot or a fresh one.
func (r *CachedReader) Read(ctx context.Context) (*Snapshot, error) {
	if s, ok := r.cache.get(); ok {
		return s, nil
	}
	gen := r.cache.generation()
	ix, _, err := r.service.Load(ctx)
	if err != nil {
		return nil, err
	}
	s := &Snapshot{Index: ix, CachedAt: r.service.now().UTC()}
	r.cache.put(s, gen)
	return s, nil
}
