package repository

import (
	"context"
	"fmt"
	"sync"

	"github.com/gridwars/gridwars-server-go/internal/game/match"
)

// MemoryRepository keeps encoded sessions in process memory. It applies the
// same conditional-save and checksum rules as the SQL backends.
type MemoryRepository struct {
	mu      sync.RWMutex
	records map[string]record
	actions map[string][]actionRecord
}

// NewMemoryRepository creates an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		records: make(map[string]record),
		actions: make(map[string][]actionRecord),
	}
}

func (m *MemoryRepository) Load(_ context.Context, id string) (*match.Session, error) {
	m.mu.RLock()
	rec, ok := m.records[id]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return decodeSession(rec)
}

func (m *MemoryRepository) Save(_ context.Context, s *match.Session) error {
	rec, err := encodeSession(s)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	stored, exists := m.records[s.ID]
	switch {
	case s.Version == 1 && exists:
		return fmt.Errorf("%w: %s already exists", ErrConflict, s.ID)
	case s.Version > 1 && (!exists || stored.Version != s.Version-1):
		return fmt.Errorf("%w: %s is not at version %d", ErrConflict, s.ID, s.Version-1)
	case s.Version < 1:
		return fmt.Errorf("session %s has invalid version %d", s.ID, s.Version)
	}

	actions, err := newActions(s, len(m.actions[s.ID]))
	if err != nil {
		return err
	}
	m.records[s.ID] = rec
	m.actions[s.ID] = append(m.actions[s.ID], actions...)
	return nil
}

func (m *MemoryRepository) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[id]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	delete(m.records, id)
	delete(m.actions, id)
	return nil
}

// ActionCount returns the number of logged actions for a session.
func (m *MemoryRepository) ActionCount(id string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.actions[id])
}

// Corrupt overwrites a stored session's state bytes, keeping the old
// checksum. It exists for integrity tests.
func (m *MemoryRepository) Corrupt(id string, state []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.records[id]; ok {
		rec.State = state
		m.records[id] = rec
	}
}

func (m *MemoryRepository) Close() error { return nil }
