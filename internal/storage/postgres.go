package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// PostgresStore persists room blobs in a single table, one row per room.
// Update runs inside a transaction with SELECT ... FOR UPDATE so the
// read-check-write is serialized against concurrent writers.
type PostgresStore struct {
	pool *pgxpool.Pool
}

const createRoomsTable = `
CREATE TABLE IF NOT EXISTS rooms (
    id         TEXT PRIMARY KEY,
    state      BYTEA NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// NewPostgresStore connects to Postgres and ensures the rooms table exists.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create pgx pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, createRoomsTable); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ensure rooms table: %w", err)
	}
	log.Info().Msg("postgres store ready")
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Load(ctx context.Context, key string) ([]byte, error) {
	var blob []byte
	err := s.pool.QueryRow(ctx, `SELECT state FROM rooms WHERE id = $1`, key).Scan(&blob)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load room %s: %w", key, err)
	}
	return blob, nil
}

func (s *PostgresStore) Save(ctx context.Context, key string, blob []byte) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO rooms (id, state, updated_at) VALUES ($1, $2, now())
		ON CONFLICT (id) DO UPDATE SET state = EXCLUDED.state, updated_at = now()`,
		key, blob)
	if err != nil {
		return fmt.Errorf("failed to save room %s: %w", key, err)
	}
	return nil
}

func (s *PostgresStore) Update(ctx context.Context, key string, fn UpdateFunc) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var old []byte
	err = tx.QueryRow(ctx, `SELECT state FROM rooms WHERE id = $1 FOR UPDATE`, key).Scan(&old)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("failed to read room %s for update: %w", key, err)
	}

	next, write, err := fn(old)
	if err != nil {
		return err
	}
	if !write {
		return nil
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO rooms (id, state, updated_at) VALUES ($1, $2, now())
		ON CONFLICT (id) DO UPDATE SET state = EXCLUDED.state, updated_at = now()`,
		key, next)
	if err != nil {
		return fmt.Errorf("failed to write room %s: %w", key, err)
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
