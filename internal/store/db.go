// Package store is the SQLite persistence layer: checkpoints, sleep markers,
// escalations, subscriptions and session records.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("store: not found")

const defaultKeepCheckpoints = 20

// DB wraps the SQLite handle shared by every store in this package.
type DB struct {
	db              *sql.DB
	keepCheckpoints int
}

// Option configures a DB.
type Option func(*DB)

// WithKeepCheckpoints sets how many checkpoints are kept per session.
func WithKeepCheckpoints(n int) Option {
	return func(d *DB) {
		if n > 0 {
			d.keepCheckpoints = n
		}
	}
}

// Open opens (creating if needed) the database at path and migrates it.
func Open(ctx context.Context, path string, opts ...Option) (*DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	// WAL allows readers alongside the single writer
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite doesn't support multiple writers well
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	d := &DB{db: db, keepCheckpoints: defaultKeepCheckpoints}
	for _, opt := range opts {
		opt(d)
	}
	if err := d.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return d, nil
}

func (d *DB) migrate(ctx context.Context) error {
	_, err := d.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS checkpoints (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			job_id TEXT NOT NULL,
			iteration INTEGER NOT NULL,
			lifecycle TEXT NOT NULL,
			phase TEXT NOT NULL,
			sandbox_id TEXT NOT NULL,
			session_cost INTEGER NOT NULL,
			daily_budget INTEGER NOT NULL,
			message_count INTEGER NOT NULL,
			byte_size INTEGER NOT NULL,
			state_gz BLOB NOT NULL,
			created_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_checkpoints_session
			ON checkpoints(session_id, created_at DESC);

		CREATE TABLE IF NOT EXISTS sleep_markers (
			session_id TEXT PRIMARY KEY,
			wake_at TEXT NOT NULL,
			created_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS escalations (
			id TEXT PRIMARY KEY,
			project_id TEXT NOT NULL,
			session_id TEXT NOT NULL,
			job_id TEXT NOT NULL,
			error_type TEXT NOT NULL,
			error_message TEXT NOT NULL,
			category TEXT NOT NULL,
			attempts INTEGER NOT NULL,
			attempts_summary TEXT NOT NULL,
			problem_summary TEXT NOT NULL,
			recommended_action TEXT NOT NULL,
			options_json TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			resolution TEXT,
			created_at TEXT NOT NULL,
			resolved_at TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_escalations_project
			ON escalations(project_id, status);

		CREATE TABLE IF NOT EXISTS subscriptions (
			user_id TEXT PRIMARY KEY,
			remaining_micros INTEGER NOT NULL,
			renewal_date TEXT,
			updated_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS agent_sessions (
			session_id TEXT NOT NULL,
			job_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			project_id TEXT NOT NULL,
			status TEXT NOT NULL,
			stop_message TEXT NOT NULL,
			iterations INTEGER NOT NULL,
			session_cost INTEGER NOT NULL,
			started_at TEXT NOT NULL,
			finished_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_agent_sessions_session
			ON agent_sessions(session_id, finished_at DESC);
	`)
	return err
}

// Sync forces the write-ahead log into the main database file.
func (d *DB) Sync(ctx context.Context) error {
	if _, err := d.db.ExecContext(ctx, `PRAGMA wal_checkpoint(FULL)`); err != nil {
		return fmt.Errorf("wal checkpoint: %w", err)
	}
	return nil
}

// Close closes the database.
func (d *DB) Close() error {
	return d.db.Close()
}
