package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
)

// Result is one key/value pair reported by the master rank
type Result struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Run represents one committed benchmark execution
type Run struct {
	ID           string    `json:"id"`
	Benchmark    string    `json:"benchmark"`
	Verification string    `json:"verification"`
	Backend      string    `json:"backend"`
	ProblemSize  int       `json:"problem_size"`
	LocalSize    int       `json:"local_size"`
	WorldSize    int       `json:"world_size"`
	Hostname     string    `json:"hostname"`
	CreatedAt    time.Time `json:"created_at"`
	Results      []Result  `json:"results,omitempty"`
}

// RunFilter defines criteria for listing runs
type RunFilter struct {
	Benchmark    string
	Verification string
	Since        time.Time
	Limit        int
}

// RunStore handles benchmark run persistence
type RunStore struct {
	db *DB
}

// NewRunStore creates a new run store
func NewRunStore(db *DB) *RunStore {
	return &RunStore{db: db}
}

// SaveRun inserts a run and its ordered results in one transaction
func (s *RunStore) SaveRun(ctx context.Context, run *Run) error {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}
	if run.Verification == "" {
		run.Verification = "N/A"
	}
	if run.WorldSize == 0 {
		run.WorldSize = 1
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO benchmark_runs (
			id, benchmark, verification, backend,
			problem_size, local_size, world_size, hostname, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		run.ID, run.Benchmark, run.Verification, run.Backend,
		run.ProblemSize, run.LocalSize, run.WorldSize, run.Hostname, run.CreatedAt,
	)
	if isConstraintErr(err) {
		return fmt.Errorf("run %s: %w", run.ID, ErrAlreadyExists)
	}
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO benchmark_results (run_id, seq, key, value) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare result insert: %w", err)
	}
	defer stmt.Close()

	for i, r := range run.Results {
		if _, err := stmt.ExecContext(ctx, run.ID, i, r.Key, r.Value); err != nil {
			return fmt.Errorf("failed to insert result %q: %w", r.Key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit run: %w", err)
	}
	return nil
}

// GetRun retrieves a run and its results by ID
func (s *RunStore) GetRun(ctx context.Context, id string) (*Run, error) {
	query := `
		SELECT id, benchmark, verification, backend,
			problem_size, local_size, world_size, hostname, created_at
		FROM benchmark_runs
		WHERE id = ?
	`

	run, err := scanRun(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT key, value FROM benchmark_results WHERE run_id = ? ORDER BY seq ASC`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get run results: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.Key, &r.Value); err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		run.Results = append(run.Results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating results: %w", err)
	}

	return run, nil
}

// ListRuns returns runs matching the filter, newest first, without their results
func (s *RunStore) ListRuns(ctx context.Context, filter RunFilter) ([]*Run, error) {
	query := `
		SELECT id, benchmark, verification, backend,
			problem_size, local_size, world_size, hostname, created_at
		FROM benchmark_runs
		WHERE 1=1
	`

	var args []interface{}

	if filter.Benchmark != "" {
		query += " AND benchmark = ?"
		args = append(args, filter.Benchmark)
	}

	if filter.Verification != "" {
		query += " AND verification = ?"
		args = append(args, filter.Verification)
	}

	if !filter.Since.IsZero() {
		query += " AND created_at >= ?"
		args = append(args, filter.Since)
	}

	query += " ORDER BY created_at DESC, rowid DESC"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}

	return runs, nil
}

// DeleteRun removes a run and its results
func (s *RunStore) DeleteRun(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM benchmark_runs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete run: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}

	return nil
}

func isConstraintErr(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row rowScanner) (*Run, error) {
	run := &Run{}
	err := row.Scan(
		&run.ID, &run.Benchmark, &run.Verification, &run.Backend,
		&run.ProblemSize, &run.LocalSize, &run.WorldSize, &run.Hostname, &run.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return run, nil
}
