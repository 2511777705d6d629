package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gridwars/gridwars-server-go/internal/game/match"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// PostgresConfig configures the connection pool.
type PostgresConfig struct {
	DSN         string
	MaxConns    int32
	MinConns    int32
	ConnTimeout time.Duration
}

// PostgresRepository stores sessions in PostgreSQL through a pgx pool.
type PostgresRepository struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresRepository connects and pings the database. Run Migrate first.
func NewPostgresRepository(ctx context.Context, cfg PostgresConfig, logger *zap.Logger) (*PostgresRepository, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse database dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.ConnTimeout > 0 {
		poolCfg.ConnConfig.ConnectTimeout = cfg.ConnTimeout
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	logger.Info("connected to postgres",
		zap.Int32("max_conns", poolCfg.MaxConns),
		zap.Int32("min_conns", poolCfg.MinConns))
	return &PostgresRepository{pool: pool, logger: logger}, nil
}

func (r *PostgresRepository) Load(ctx context.Context, id string) (*match.Session, error) {
	var rec record
	err := r.pool.QueryRow(ctx,
		`SELECT id, version, status, state::text, checksum, updated_at FROM sessions WHERE id = $1`, id,
	).Scan(&rec.ID, &rec.Version, &rec.Status, &rec.State, &rec.Checksum, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", id, err)
	}
	return decodeSession(rec)
}

func (r *PostgresRepository) Save(ctx context.Context, s *match.Session) error {
	rec, err := encodeSession(s)
	if err != nil {
		return err
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			r.logger.Warn("rollback failed", zap.String("session_id", s.ID), zap.Error(rbErr))
		}
	}()

	var tag pgconn.CommandTag
	if s.Version == 1 {
		tag, err = tx.Exec(ctx,
			`INSERT INTO sessions (id, version, status, state, checksum, updated_at)
			 VALUES ($1, $2, $3, $4::json, $5, $6) ON CONFLICT (id) DO NOTHING`,
			rec.ID, rec.Version, rec.Status, string(rec.State), rec.Checksum, rec.UpdatedAt)
	} else {
		tag, err = tx.Exec(ctx,
			`UPDATE sessions SET version = $2, status = $3, state = $4::json, checksum = $5, updated_at = $6
			 WHERE id = $1 AND version = $7`,
			rec.ID, rec.Version, rec.Status, string(rec.State), rec.Checksum, rec.UpdatedAt, rec.Version-1)
	}
	if err != nil {
		return fmt.Errorf("save session %s: %w", s.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s is not at version %d", ErrConflict, s.ID, s.Version-1)
	}

	var logged int
	if err := tx.QueryRow(ctx,
		`SELECT COALESCE(MAX(seq), 0) FROM session_actions WHERE session_id = $1`, s.ID,
	).Scan(&logged); err != nil {
		return fmt.Errorf("count actions for %s: %w", s.ID, err)
	}
	actions, err := newActions(s, logged)
	if err != nil {
		return err
	}
	if len(actions) > 0 {
		batch := &pgx.Batch{}
		for _, a := range actions {
			batch.Queue(
				`INSERT INTO session_actions (session_id, seq, player_id, action_type, action, created_at)
				 VALUES ($1, $2, $3, $4, $5::jsonb, $6)`,
				s.ID, a.Seq, a.PlayerID, a.Type, string(a.Action), a.At)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("append actions for %s: %w", s.ID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM sessions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete session %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}
