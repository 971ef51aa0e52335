package docstore

import (
	"context"
	"fmt"
	"sync"
)

// =============================================================================
// MEMORY BACKEND - In-memory implementation (for testing/dev)
// =============================================================================

type MemoryBackend struct {
	mu          sync.RWMutex
	docs        map[string][]byte
	quarantined map[string][][]byte
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		docs:        make(map[string][]byte),
		quarantined: make(map[string][][]byte),
	}
}

func (m *MemoryBackend) Load(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.docs[key]
	if !ok {
		return nil, ErrAbsent
	}
	return clone(data), nil
}

func (m *MemoryBackend) Save(_ context.Context, key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[key] = clone(data)
	return nil
}

func (m *MemoryBackend) Quarantine(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.docs[key]
	if !ok {
		return "", ErrAbsent
	}
	m.quarantined[key] = append(m.quarantined[key], data)
	delete(m.docs, key)
	return fmt.Sprintf("memory:%s#%d", key, len(m.quarantined[key])), nil
}

// Put stores raw bytes without validation. Tests use it to plant corrupt records.
func (m *MemoryBackend) Put(key string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[key] = clone(data)
}

// Raw returns the stored bytes for key.
func (m *MemoryBackend) Raw(key string) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.docs[key]
	return clone(data), ok
}

// Quarantined returns every record moved aside for key, oldest first.
func (m *MemoryBackend) Quarantined(key string) [][]byte {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([][]byte, len(m.quarantined[key]))
	for i, d := range m.quarantined[key] {
		out[i] = clone(d)
	}
	return out
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
