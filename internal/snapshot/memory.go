package snapshot

import (
	"context"
	"sync"
)

// MemoryStorage keeps snapshot rows in a map. It backs tests and local
// single-process runs; the Postgres backend is the production path.
type MemoryStorage struct {
	mu   sync.Mutex
	rows map[string]Record
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{rows: make(map[string]Record)}
}

func (m *MemoryStorage) Upsert(_ context.Context, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.rows[rec.RoomCode]
	if ok {
		existing.EncodedState = rec.EncodedState
		existing.UpdatedAt = rec.UpdatedAt
		if rec.DisplayName != "" {
			existing.DisplayName = rec.DisplayName
		}
		m.rows[rec.RoomCode] = existing
		return nil
	}
	m.rows[rec.RoomCode] = rec
	return nil
}

func (m *MemoryStorage) Load(_ context.Context, roomCode string) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.rows[roomCode]
	if !ok {
		return Record{}, ErrNotFound
	}
	return rec, nil
}

func (m *MemoryStorage) SetPeerCount(_ context.Context, roomCode string, count int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.rows[roomCode]
	if !ok {
		return ErrNotFound
	}
	rec.PeerCount = count
	m.rows[roomCode] = rec
	return nil
}
