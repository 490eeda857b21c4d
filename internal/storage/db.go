package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// DB wraps the SQL database connection
type DB struct {
	*sql.DB
}

// New creates a new database connection
func New(dbPath string) (*DB, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	// Open database with WAL mode so the API server can read while a run writes
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Test connection
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Set connection pool settings
	db.SetMaxOpenConns(1) // SQLite doesn't handle concurrent writes well
	db.SetMaxIdleConns(1)

	return &DB{db}, nil
}

// Migrate runs database migrations
func (db *DB) Migrate(ctx context.Context) error {
	migrations := []string{
		migrationRuns,
		migrationResults,
		migrationIndexes,
	}

	for i, migration := range migrations {
		if _, err := db.ExecContext(ctx, migration); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}

	// Run ALTER TABLE migrations (ignore "duplicate column" errors)
	alterMigrations := []string{
		migrationWorldSize,
	}

	for _, migration := range alterMigrations {
		_, _ = db.ExecContext(ctx, migration) // Ignore errors for idempotency
	}

	return nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.DB.Close()
}

const migrationRuns = `
CREATE TABLE IF NOT EXISTS benchmark_runs (
	id TEXT PRIMARY KEY,
	benchmark TEXT NOT NULL,
	verification TEXT NOT NULL DEFAULT 'N/A',
	backend TEXT NOT NULL DEFAULT '',
	problem_size INTEGER NOT NULL DEFAULT 0,
	local_size INTEGER NOT NULL DEFAULT 0,
	hostname TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

const migrationResults = `
CREATE TABLE IF NOT EXISTS benchmark_results (
	run_id TEXT NOT NULL,
	seq INTEGER NOT NULL,
	key TEXT NOT NULL,
	value TEXT NOT NULL,

	PRIMARY KEY (run_id, seq),
	FOREIGN KEY (run_id) REFERENCES benchmark_runs(id) ON DELETE CASCADE
);
`

const migrationIndexes = `
CREATE INDEX IF NOT EXISTS idx_runs_benchmark ON benchmark_runs(benchmark);
CREATE INDEX IF NOT EXISTS idx_runs_verification ON benchmark_runs(verification);
CREATE INDEX IF NOT EXISTS idx_runs_created_at ON benchmark_runs(created_at);
`

const migrationWorldSize = `
ALTER TABLE benchmark_runs ADD COLUMN world_size INTEGER NOT NULL DEFAULT 1;
`
