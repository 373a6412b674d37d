package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// Step statuses.
const (
	StatusOK     = "ok"
	StatusFailed = "failed"
)

// Store is an append-only step trace.
type Store struct {
	db *sql.DB
}

// StepRecord is one executed step.
type StepRecord struct {
	Seq       int64  `json:"seq"`
	Scenario  string `json:"scenario"`
	Index     int    `json:"index"`
	Kind      string `json:"kind"`
	Target    string `json:"target,omitempty"`
	Status    string `json:"status"`
	Detail    string `json:"detail,omitempty"`
	ElapsedMs int64  `json:"elapsed_ms"`
}

// Open creates or opens a SQLite database at path and applies the schema.
// Use ":memory:" for a per-run trace.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// A second connection to ":memory:" would see an empty database.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

// WriteStep appends rec and returns its assigned seq. rec.Seq is ignored.
func (s *Store) WriteStep(ctx context.Context, rec StepRecord) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO steps (scenario, step_index, kind, target, status, detail, elapsed_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		rec.Scenario,
		rec.Index,
		rec.Kind,
		rec.Target,
		rec.Status,
		rec.Detail,
		rec.ElapsedMs,
	)
	if err != nil {
		return 0, fmt.Errorf("write step: %w", err)
	}

	seq, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("write step: %w", err)
	}
	return seq, nil
}

// ReadSteps returns the steps recorded for scenario in execution order.
// Returns an empty slice (not nil) when nothing was recorded.
func (s *Store) ReadSteps(ctx context.Context, scenario string) ([]StepRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, scenario, step_index, kind, target, status, detail, elapsed_ms
		FROM steps
		WHERE scenario = ?
		ORDER BY seq ASC
	`, scenario)
	if err != nil {
		return nil, fmt.Errorf("query steps: %w", err)
	}
	defer rows.Close()

	steps := []StepRecord{}
	for rows.Next() {
		var rec StepRecord
		if err := rows.Scan(
			&rec.Seq,
			&rec.Scenario,
			&rec.Index,
			&rec.Kind,
			&rec.Target,
			&rec.Status,
			&rec.Detail,
			&rec.ElapsedMs,
		); err != nil {
			return nil, fmt.Errorf("scan step: %w", err)
		}
		steps = append(steps, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate steps: %w", err)
	}

	return steps, nil
}

// FirstFailure returns the earliest failed step for scenario, or nil.
func (s *Store) FirstFailure(ctx context.Context, scenario string) (*StepRecord, error) {
	var rec StepRecord
	err := s.db.QueryRowContext(ctx, `
		SELECT seq, scenario, step_index, kind, target, status, detail, elapsed_ms
		FROM steps
		WHERE scenario = ? AND status = ?
		ORDER BY seq ASC
		LIMIT 1
	`, scenario, StatusFailed).Scan(
		&rec.Seq,
		&rec.Scenario,
		&rec.Index,
		&rec.Kind,
		&rec.Target,
		&rec.Status,
		&rec.Detail,
		&rec.ElapsedMs,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query first failure: %w", err)
	}
	return &rec, nil
}
