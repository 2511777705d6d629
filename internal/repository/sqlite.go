package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gridwars/gridwars-server-go/internal/game/match"
	"go.uber.org/zap"

	_ "modernc.org/sqlite"
)

// SQLiteRepository stores sessions in a single SQLite file.
type SQLiteRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewSQLiteRepository opens the database at path. Run Migrate first.
func NewSQLiteRepository(ctx context.Context, path string, logger *zap.Logger) (*SQLiteRepository, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite allows one writer; a single connection keeps the conditional
	// update and the action append in one serialized transaction.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &SQLiteRepository{db: db, logger: logger}, nil
}

func (r *SQLiteRepository) Load(ctx context.Context, id string) (*match.Session, error) {
	var (
		rec       record
		state     string
		updatedAt int64
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT id, version, status, state, checksum, updated_at FROM sessions WHERE id = ?`, id,
	).Scan(&rec.ID, &rec.Version, &rec.Status, &state, &rec.Checksum, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", id, err)
	}
	rec.State = []byte(state)
	rec.UpdatedAt = time.UnixMilli(updatedAt)
	return decodeSession(rec)
}

func (r *SQLiteRepository) Save(ctx context.Context, s *match.Session) (err error) {
	rec, err := encodeSession(s)
	if err != nil {
		return err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				r.logger.Warn("rollback failed", zap.String("session_id", s.ID), zap.Error(rbErr))
			}
		}
	}()

	var res sql.Result
	if s.Version == 1 {
		res, err = tx.ExecContext(ctx,
			`INSERT INTO sessions (id, version, status, state, checksum, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?) ON CONFLICT (id) DO NOTHING`,
			rec.ID, rec.Version, rec.Status, string(rec.State), rec.Checksum, rec.UpdatedAt.UnixMilli())
	} else {
		res, err = tx.ExecContext(ctx,
			`UPDATE sessions SET version = ?, status = ?, state = ?, checksum = ?, updated_at = ?
			 WHERE id = ? AND version = ?`,
			rec.Version, rec.Status, string(rec.State), rec.Checksum, rec.UpdatedAt.UnixMilli(),
			rec.ID, rec.Version-1)
	}
	if err != nil {
		return fmt.Errorf("save session %s: %w", s.ID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("save session %s: %w", s.ID, err)
	}
	if affected == 0 {
		err = fmt.Errorf("%w: %s is not at version %d", ErrConflict, s.ID, s.Version-1)
		return err
	}

	var logged int
	if err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) FROM session_actions WHERE session_id = ?`, s.ID,
	).Scan(&logged); err != nil {
		return fmt.Errorf("count actions for %s: %w", s.ID, err)
	}
	actions, err := newActions(s, logged)
	if err != nil {
		return err
	}
	for _, a := range actions {
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO session_actions (session_id, seq, player_id, action_type, action, created_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			s.ID, a.Seq, a.PlayerID, a.Type, string(a.Action), a.At.UnixMilli()); err != nil {
			return fmt.Errorf("append action %d for %s: %w", a.Seq, s.ID, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete session %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

// ActionCount returns the number of logged actions for a session.
func (r *SQLiteRepository) ActionCount(ctx context.Context, id string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM session_actions WHERE session_id = ?`, id).Scan(&n)
	return n, err
}

func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}
