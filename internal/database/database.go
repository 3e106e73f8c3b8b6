// Package database opens the Postgres pool and keeps the schema for the
// upload task ledger and the build job log.
package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Connect opens a pgx connection pool using the provided DSN and checks it.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	cfg.MaxConns = 8
	cfg.MaxConnIdleTime = 5 * time.Minute
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// Schema creates the upload_tasks and build_jobs tables.
const Schema = `
CREATE TABLE IF NOT EXISTS upload_tasks (
	asset_id TEXT PRIMARY KEY,
	id TEXT NOT NULL,
	state TEXT NOT NULL,
	attempts INTEGER NOT NULL DEFAULT 0,
	remote_ref TEXT,
	last_error TEXT,
	next_attempt_at TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_upload_tasks_state ON upload_tasks(state);

CREATE TABLE IF NOT EXISTS build_jobs (
	id TEXT PRIMARY KEY,
	order_id TEXT NOT NULL,
	remote_id TEXT,
	state TEXT NOT NULL,
	cover_url TEXT,
	inside_url TEXT,
	reason TEXT,
	message TEXT,
	polls INTEGER NOT NULL DEFAULT 0,
	submitted_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_build_jobs_order ON build_jobs(order_id);`

// EnsureSchema applies Schema. Keeping the migration in code lets a fresh
// docker-compose stack bootstrap itself.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}
