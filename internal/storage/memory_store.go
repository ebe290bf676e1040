package storage

import (
	"sync"
)

// MemoryStore is an in-memory DocumentStore for tests.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]string
	writes  int
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Path returns a placeholder location.
func (m *MemoryStore) Path() string {
	return "memory://lmpi_config.json"
}

// Exists reports whether Write has been called.
func (m *MemoryStore) Exists() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.entries != nil
}

// Read returns a copy of the stored entries.
func (m *MemoryStore) Read() (map[string]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.entries == nil {
		return nil, ErrDocumentNotFound
	}
	return copyEntries(m.entries), nil
}

// Write replaces the stored entries.
func (m *MemoryStore) Write(entries map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries = copyEntries(entries)
	m.writes++
	return nil
}

// Writes returns how many times Write was called.
func (m *MemoryStore) Writes() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.writes
}

func copyEntries(src map[string]string) map[string]string {
	dst := make(map[string]string, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
