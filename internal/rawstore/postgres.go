package rawstore

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/roach88/matchlog/internal/record"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS match_records (
    id         BIGINT PRIMARY KEY CHECK (id > 0),
    hash       TEXT NOT NULL,
    payload    JSONB NOT NULL,
    stored_at  TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// PostgresStore keeps records in a Postgres table.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects to dsn, verifies the connection and ensures the
// table exists.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}
	// Only the controller writes; one spare connection serves verify.
	cfg.MaxConns = 2

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: create table: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

func (p *PostgresStore) Exists(ctx context.Context, id record.ID) (bool, error) {
	var exists bool
	err := p.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM match_records WHERE id = $1)`, int64(id)).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("exists %d: %w", id, err)
	}
	return exists, nil
}

func (p *PostgresStore) Write(ctx context.Context, rec record.Record) (bool, error) {
	tag, err := p.pool.Exec(ctx, `
		INSERT INTO match_records (id, hash, payload)
		VALUES ($1, $2, $3::jsonb)
		ON CONFLICT (id) DO NOTHING`,
		int64(rec.ID), rec.Hash, string(rec.Payload),
	)
	if err != nil {
		return false, fmt.Errorf("write %d: %w", rec.ID, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (p *PostgresStore) Close() error {
	p.pool.Close()
	return nil
}
