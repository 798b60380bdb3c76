package ratelimit

import (
	"context"
	"slices"
	"sync"
	"time"
)

type memoryEntry struct {
	events    []int64
	expiresAt time.Time
}

// MemoryStore keeps event logs in a process-local map. A background
// goroutine evicts logs whose TTL has passed.
type MemoryStore struct {
	cleanupInterval time.Duration
	now             Clock

	mu      sync.Mutex
	entries map[string]*memoryEntry
	done    chan struct{}
	closed  bool
}

// NewMemoryStore creates a store and starts its eviction loop.
func NewMemoryStore(cleanupInterval time.Duration) *MemoryStore {
	m := &MemoryStore{
		cleanupInterval: cleanupInterval,
		now:             time.Now,
		entries:         make(map[string]*memoryEntry),
		done:            make(chan struct{}),
	}
	go m.cleanup()
	return m
}

func (m *MemoryStore) Get(_ context.Context, key string) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok {
		return nil, nil
	}
	return slices.Clone(e.events), nil
}

func (m *MemoryStore) Set(_ context.Context, key string, events []int64, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = &memoryEntry{
		events:    slices.Clone(events),
		expiresAt: m.now().Add(ttl),
	}
	return nil
}

// Len returns the number of tracked keys.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Close stops the eviction loop. It is safe to call more than once.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.closed = true
		close(m.done)
	}
	return nil
}

func (m *MemoryStore) cleanup() {
	ticker := time.NewTicker(m.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			m.evictExpired()
		}
	}
}

func (m *MemoryStore) evictExpired() {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, e := range m.entries {
		if now.After(e.expiresAt) {
			delete(m.entries, key)
		}
	}
}
