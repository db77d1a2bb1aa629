// Package history keeps a local SQLite audit trail of task runs.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const timeLayout = time.RFC3339Nano

// History manages task run history in SQLite
type History struct {
	db *sql.DB
}

// NewHistory opens (or creates) the history database at dbPath.
func NewHistory(dbPath string) (*History, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite has a single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	h := &History{db: db}
	if err := h.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return h, nil
}

// Close closes the database connection
func (h *History) Close() error {
	return h.db.Close()
}

func (h *History) initSchema() error {
	_, err := h.db.Exec(`
		CREATE TABLE IF NOT EXISTS runs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			label TEXT NOT NULL,
			task TEXT NOT NULL,
			command TEXT NOT NULL,
			hosts TEXT NOT NULL,
			dry_run INTEGER NOT NULL DEFAULT 0,
			status TEXT NOT NULL,
			started_at TEXT NOT NULL,
			completed_at TEXT,
			duration_seconds REAL,
			error_message TEXT
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}

	_, err = h.db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_label_id
		ON runs(label, id DESC)
	`)
	if err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}

	return nil
}

// StartRun records a run as in progress and returns its row ID.
func (h *History) StartRun(ctx context.Context, record *RunRecord) (int64, error) {
	started := record.StartedAt
	if started.IsZero() {
		started = time.Now()
	}

	result, err := h.db.ExecContext(ctx, `
		INSERT INTO runs
		(run_id, label, task, command, hosts, dry_run, status, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		record.RunID,
		record.Label,
		record.Task,
		record.Command,
		record.Hosts,
		record.DryRun,
		StatusInProgress,
		started.UTC().Format(timeLayout),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert run record: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID: %w", err)
	}

	return id, nil
}

// FinishRun marks run id as succeeded, or failed when runErr is non-nil.
func (h *History) FinishRun(ctx context.Context, id int64, duration time.Duration, runErr error) error {
	status := StatusSuccess
	var message *string
	if runErr != nil {
		status = StatusFailed
		msg := runErr.Error()
		message = &msg
	}

	result, err := h.db.ExecContext(ctx, `
		UPDATE runs
		SET status = ?, completed_at = ?, duration_seconds = ?, error_message = ?
		WHERE id = ?
	`,
		status,
		time.Now().UTC().Format(timeLayout),
		duration.Seconds(),
		message,
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to update run record: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("run %d not found", id)
	}

	return nil
}

// LatestRun returns the most recent run for label, or nil when there is none.
func (h *History) LatestRun(ctx context.Context, label string) (*RunRecord, error) {
	row := h.db.QueryRowContext(ctx, `
		SELECT `+runColumns+`
		FROM runs
		WHERE label = ?
		ORDER BY id DESC
		LIMIT 1
	`, label)

	record, err := scanRunRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query latest run: %w", err)
	}

	return record, nil
}

// Runs returns up to limit runs, most recent first. An empty label lists
// every label.
func (h *History) Runs(ctx context.Context, label string, limit int) ([]RunRecord, error) {
	rows, err := h.db.QueryContext(ctx, `
		SELECT `+runColumns+`
		FROM runs
		WHERE ? = '' OR label = ?
		ORDER BY id DESC
		LIMIT ?
	`, label, label, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query run history: %w", err)
	}
	defer rows.Close()

	var records []RunRecord
	for rows.Next() {
		record, err := scanRunRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run record: %w", err)
		}
		records = append(records, *record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return records, nil
}

// LatestPerLabel returns the most recent run of every label.
func (h *History) LatestPerLabel(ctx context.Context) (map[string]*RunRecord, error) {
	rows, err := h.db.QueryContext(ctx, `
		SELECT `+runColumns+`
		FROM runs
		WHERE id IN (SELECT MAX(id) FROM runs GROUP BY label)
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query latest runs: %w", err)
	}
	defer rows.Close()

	result := make(map[string]*RunRecord)
	for rows.Next() {
		record, err := scanRunRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run record: %w", err)
		}
		result[record.Label] = record
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return result, nil
}

const runColumns = `id, run_id, label, task, command, hosts, dry_run, status,
		       started_at, completed_at, duration_seconds, error_message`

// scanner is an interface that both *sql.Row and *sql.Rows implement
type scanner interface {
	Scan(dest ...any) error
}

func scanRunRecord(s scanner) (*RunRecord, error) {
	var record RunRecord
	var startedAtStr string
	var completedAtStr sql.NullString

	err := s.Scan(
		&record.ID,
		&record.RunID,
		&record.Label,
		&record.Task,
		&record.Command,
		&record.Hosts,
		&record.DryRun,
		&record.Status,
		&startedAtStr,
		&completedAtStr,
		&record.DurationSeconds,
		&record.ErrorMessage,
	)
	if err != nil {
		return nil, err
	}

	startedAt, err := time.Parse(timeLayout, startedAtStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse started_at timestamp: %w", err)
	}
	record.StartedAt = startedAt

	if completedAtStr.Valid {
		completedAt, err := time.Parse(timeLayout, completedAtStr.String)
		if err != nil {
			return nil, fmt.Errorf("failed to parse completed_at timestamp: %w", err)
		}
		record.CompletedAt = &completedAt
	}

	return &record, nil
}
