package docstore

import (
	"context"
	"strconv"
	"sync"
)

// MemoryStore keeps the document in memory. Tokens are a revision counter.
// Intended for development and tests.
type MemoryStore struct {
	mu       sync.Mutex
	content  []byte
	revision int
	exists   bool
	messages []string
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// NewMemoryStoreWith creates a store already holding content.
func NewMemoryStoreWith(content []byte) *MemoryStore {
	m := &MemoryStore{}
	m.content = append([]byte(nil), content...)
	m.revision = 1
	m.exists = true
	return m
}

func (m *MemoryStore) Read(ctx context.Context) (Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.exists {
		return Document{}, nil
	}
	return Document{
		Content: append([]byte(nil), m.content...),
		Token:   strconv.Itoa(m.revision),
		Exists:  true,
	}, nil
}

func (m *MemoryStore) Write(ctx context.Context, content []byte, token, message string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	current := ""
	if m.exists {
		current = strconv.Itoa(m.revision)
	}
	if token != current {
		return "", ErrConflict
	}

	m.content = append([]byte(nil), content...)
	m.revision++
	m.exists = true
	m.messages = append(m.messages, message)
	return strconv.Itoa(m.revision), nil
}

// Messages returns the write messages in order.
func (m *MemoryStore) Messages() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.messages...)
}
