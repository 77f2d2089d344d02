package history

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"streampulse/internal/models"
)

// PostgresStore persists one row per stream id in a stream_history table,
// allowing the snapshot to be shared with reporting tools.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore opens a Postgres-backed history store using the provided
// DSN and bootstraps the backing table.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres history dsn required")
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres history config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres history pool: %w", err)
	}
	store := &PostgresStore{pool: pool}
	if err := store.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

func (s *PostgresStore) ensureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS stream_history (
    stream_id TEXT PRIMARY KEY,
    samples JSONB NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL
)
`)
	if err != nil {
		return fmt.Errorf("prepare stream_history table: %w", err)
	}
	return nil
}

// Load fetches every stream's history rows.
func (s *PostgresStore) Load(ctx context.Context, now time.Time) (map[string][]models.Sample, error) {
	rows, err := s.pool.Query(ctx, `SELECT stream_id, samples FROM stream_history`)
	if err != nil {
		return nil, fmt.Errorf("load history from postgres: %w", err)
	}
	defer rows.Close()

	histories := make(map[string][]models.Sample)
	for rows.Next() {
		var id string
		var raw []byte
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		var samples []models.Sample
		if err := json.Unmarshal(raw, &samples); err != nil {
			return nil, fmt.Errorf("decode history for %s: %w", id, err)
		}
		histories[id] = samples
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load history from postgres: %w", err)
	}
	return trimLoaded(histories, now), nil
}

// Save replaces the table contents with the provided map in one transaction.
func (s *PostgresStore) Save(ctx context.Context, histories map[string][]models.Sample) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin history save: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM stream_history`); err != nil {
		return fmt.Errorf("clear stream_history: %w", err)
	}
	now := time.Now().UTC()
	for id, samples := range histories {
		raw, err := json.Marshal(samples)
		if err != nil {
			return fmt.Errorf("encode history for %s: %w", id, err)
		}
		if _, err := tx.Exec(ctx, `
INSERT INTO stream_history (stream_id, samples, updated_at)
VALUES ($1, $2, $3)
ON CONFLICT (stream_id) DO UPDATE SET samples = EXCLUDED.samples, updated_at = EXCLUDED.updated_at
`, id, raw, now); err != nil {
			return fmt.Errorf("save history for %s: %w", id, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit history save: %w", err)
	}
	return nil
}

// Close releases the Postgres connection pool.
func (s *PostgresStore) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}
