package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
)

// DBPool abstracts pgxpool.Pool so the sink can be tested with pgxmock.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Close()
}

const (
	sqlCreateMirror = `
        CREATE TABLE IF NOT EXISTS mirror_state (
            key TEXT PRIMARY KEY,
            value JSONB NOT NULL,
            updated_at TIMESTAMPTZ NOT NULL
        );
    `
	sqlUpsertMirror = `
        INSERT INTO mirror_state (key, value, updated_at)
        VALUES ($1, $2, $3)
        ON CONFLICT (key) DO UPDATE SET
            value = EXCLUDED.value,
            updated_at = EXCLUDED.updated_at;
    `
	sqlSelectMirror = `SELECT value FROM mirror_state WHERE key = $1`
)

// PostgresSink mirrors state into a single key/value table.
type PostgresSink struct {
	pool DBPool
	log  *zap.Logger
}

// NewPostgresSink verifies the connection and makes sure the mirror table exists.
func NewPostgresSink(ctx context.Context, pool DBPool, logger *zap.Logger) (*PostgresSink, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := pool.Exec(ctx, sqlCreateMirror); err != nil {
		return nil, fmt.Errorf("failed to create mirror table: %w", err)
	}
	return &PostgresSink{
		pool: pool,
		log:  logger.Named("store.postgres"),
	}, nil
}

// Put upserts all entries in one transaction. Keys are written in sorted order
// so concurrent batches lock rows consistently.
func (s *PostgresSink) Put(ctx context.Context, entries map[string]interface{}) error {
	if len(entries) == 0 {
		return nil
	}
	keys := make([]string, 0, len(entries))
	for k := range entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			s.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	now := time.Now().UTC()
	for _, key := range keys {
		value, err := json.Marshal(entries[key])
		if err != nil {
			return fmt.Errorf("failed to encode %q: %w", key, err)
		}
		if _, err := tx.Exec(ctx, sqlUpsertMirror, key, value, now); err != nil {
			return fmt.Errorf("failed to upsert %q: %w", key, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Get loads and decodes a single key.
func (s *PostgresSink) Get(ctx context.Context, key string, out interface{}) (bool, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx, sqlSelectMirror, key).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to load %q: %w", key, err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, fmt.Errorf("failed to decode %q: %w", key, err)
	}
	return true, nil
}

// Close releases the pool.
func (s *PostgresSink) Close() error {
	s.pool.Close()
	return nil
}
