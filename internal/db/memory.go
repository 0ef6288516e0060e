package db

import (
	"context"
	"sync"

	"github.com/Guizzs26/go-aid-sync/internal/models"
)

// MemoryStore keeps the encoded snapshot in memory, so readers never share
// structure with writers. Errors can be injected for tests.
type MemoryStore struct {
	mu       sync.Mutex
	data     []byte
	readErr  error
	writeErr error
	writes   int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) ReadAll(_ context.Context) (models.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.readErr != nil {
		return models.Snapshot{}, m.readErr
	}
	return decodeSnapshot(m.data)
}

func (m *MemoryStore) WriteAll(_ context.Context, s models.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.writeErr != nil {
		return m.writeErr
	}
	b, err := encodeSnapshot(s)
	if err != nil {
		return err
	}
	m.data = b
	m.writes++
	return nil
}

// FailReads makes ReadAll return err until cleared with nil
func (m *MemoryStore) FailReads(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readErr = err
}

func (m *MemoryStore) FailWrites(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writeErr = err
}

// Writes counts successful WriteAll calls
func (m *MemoryStore) Writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}
