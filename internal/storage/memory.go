package storage

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process AccessStore for tests and single-binary
// runs without durable storage configured.
type MemoryStore struct {
	mu      sync.RWMutex
	records []AccessRecord
}

var _ AccessStore = (*MemoryStore)(nil)

func NewMemory() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Record(_ context.Context, rec AccessRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	m.mu.Lock()
	m.records = append(m.records, rec)
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) CountClassSince(_ context.Context, class, identifier string, since time.Time) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	for _, rec := range m.records {
		if rec.Class == class && rec.Identifier == identifier && !rec.CreatedAt.Before(since) {
			count++
		}
	}
	return count, nil
}

func (m *MemoryStore) Close() error {
	return nil
}
