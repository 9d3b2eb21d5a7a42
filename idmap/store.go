package idmap

import (
	"context"
	"errors"
	"sync"
)

var (
	// ErrUniqueConstraintViolation is returned by Store.Insert when the key already has a mapping.
	ErrUniqueConstraintViolation = errors.New("idmap: unique constraint violation")
	// ErrNotMapped is returned by Lookup when the key has no mapping.
	ErrNotMapped = errors.New("idmap: not mapped")
	// ErrStoreUnavailable wraps every other store failure.
	ErrStoreUnavailable = errors.New("idmap: translation store unavailable")
)

// Store is the durable translation table. Keys (sourceType, sourceID) are unique.
type Store interface {
	// Find returns the target id of the key, found is false when there is none.
	Find(ctx context.Context, sourceType, sourceID string) (targetID string, found bool, err error)
	// Insert adds a mapping, failing with ErrUniqueConstraintViolation when the key exists.
	Insert(ctx context.Context, sourceType, sourceID, targetID string) error
}

type memoryKey struct {
	sourceType string
	sourceID   string
}

// MemoryStore is a Store kept in process memory.
type MemoryStore struct {
	mu   sync.RWMutex
	rows map[memoryKey]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rows: make(map[memoryKey]string)}
}

func (m *MemoryStore) Find(ctx context.Context, sourceType, sourceID string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.rows[memoryKey{sourceType, sourceID}]
	return id, ok, nil
}

func (m *MemoryStore) Insert(ctx context.Context, sourceType, sourceID, targetID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := memoryKey{sourceType, sourceID}
	if _, ok := m.rows[key]; ok {
		return ErrUniqueConstraintViolation
	}
	m.rows[key] = targetID
	return nil
}

// Count returns the number of mappings.
func (m *MemoryStore) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rows)
}

// Reset removes every mapping.
func (m *MemoryStore) Reset(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows = make(map[memoryKey]string)
	return nil
}
