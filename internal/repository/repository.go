// Package repository persists sessions and exposes the versioned mutation
// gateway every state change goes through.
package repository

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gridwars/gridwars-server-go/internal/game/match"
	"golang.org/x/crypto/blake2b"
)

var (
	// ErrNotFound is returned when no session is stored under an id.
	ErrNotFound = errors.New("session not found")
	// ErrConflict is returned when a write was based on a stale version.
	ErrConflict = errors.New("session version conflict")
	// ErrCorrupt is returned when stored state fails its integrity check.
	ErrCorrupt = errors.New("stored session is corrupt")
)

// Repository is the durable tier. Save is conditional: version 1 inserts,
// any later version only replaces the row holding version-1.
type Repository interface {
	Load(ctx context.Context, id string) (*match.Session, error)
	Save(ctx context.Context, s *match.Session) error
	Delete(ctx context.Context, id string) error
	Close() error
}

// record is the stored form of a session.
type record struct {
	ID        string
	Version   int64
	Status    string
	State     []byte
	Checksum  string
	UpdatedAt time.Time
}

// actionRecord is one row of the append-only action log.
type actionRecord struct {
	Seq      int
	PlayerID string
	Type     string
	Action   []byte
	At       time.Time
}

// Checksum returns the hex blake2b-256 digest of stored state.
func Checksum(state []byte) string {
	sum := blake2b.Sum256(state)
	return hex.EncodeToString(sum[:])
}

func encodeSession(s *match.Session) (record, error) {
	state, err := json.Marshal(s)
	if err != nil {
		return record{}, fmt.Errorf("encode session %s: %w", s.ID, err)
	}
	return record{
		ID:        s.ID,
		Version:   s.Version,
		Status:    string(s.Status),
		State:     state,
		Checksum:  Checksum(state),
		UpdatedAt: s.LastActionAt,
	}, nil
}

func decodeSession(rec record) (*match.Session, error) {
	if Checksum(rec.State) != rec.Checksum {
		return nil, fmt.Errorf("%w: %s checksum mismatch", ErrCorrupt, rec.ID)
	}
	var s match.Session
	if err := json.Unmarshal(rec.State, &s); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, rec.ID, err)
	}
	if s.ID != rec.ID || s.Version != rec.Version {
		return nil, fmt.Errorf("%w: %s row does not match state", ErrCorrupt, rec.ID)
	}
	return &s, nil
}

// newActions encodes the history entries past the ones already logged.
func newActions(s *match.Session, logged int) ([]actionRecord, error) {
	if logged >= len(s.History) {
		return nil, nil
	}
	out := make([]actionRecord, 0, len(s.History)-logged)
	for i := logged; i < len(s.History); i++ {
		a := s.History[i]
		data, err := json.Marshal(a)
		if err != nil {
			return nil, fmt.Errorf("encode action %s: %w", a.ID, err)
		}
		out = append(out, actionRecord{
			Seq:      i + 1,
			PlayerID: a.PlayerID,
			Type:     string(a.Type),
			Action:   data,
			At:       a.Timestamp,
		})
	}
	return out, nil
}
