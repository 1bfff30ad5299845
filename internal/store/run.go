package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// RunStatus represents the lifecycle state of a run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusDone      RunStatus = "done"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// Run is the journal entry of one agent run.
type Run struct {
	ID          string     `json:"id"`
	ThreadID    string     `json:"thread_id"`
	Agent       string     `json:"agent"`
	Status      RunStatus  `json:"status"`
	Error       *string    `json:"error,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// RunStore provides operations on the runs table.
type RunStore struct {
	db *sql.DB
}

// NewRunStore creates a new RunStore.
func NewRunStore(db *sql.DB) *RunStore {
	return &RunStore{db: db}
}

// DB returns the underlying database connection.
func (s *RunStore) DB() *sql.DB {
	return s.db
}

// Create inserts a running entry. Reusing a run id restarts its entry.
func (s *RunStore) Create(ctx context.Context, id, threadID, agent string) (*Run, error) {
	now := time.Now().UTC()
	run := &Run{
		ID:        id,
		ThreadID:  threadID,
		Agent:     agent,
		Status:    RunStatusRunning,
		StartedAt: now,
		UpdatedAt: now,
	}

	ts := now.Format(timeLayout)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, thread_id, agent, status, started_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET thread_id = excluded.thread_id, agent = excluded.agent,
		   status = excluded.status, error = NULL, started_at = excluded.started_at,
		   completed_at = NULL, updated_at = excluded.updated_at`,
		run.ID, run.ThreadID, run.Agent, string(run.Status), ts, ts,
	)
	if err != nil {
		return nil, fmt.Errorf("insert run: %w", err)
	}
	return run, nil
}

// GetByID retrieves a run by its ID.
func (s *RunStore) GetByID(ctx context.Context, id string) (*Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, thread_id, agent, status, error, started_at, completed_at, updated_at FROM runs WHERE id = ?`, id)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return r, err
}

// ListByThread returns a thread's runs, oldest first. An empty threadID
// lists the most recent runs across threads.
func (s *RunStore) ListByThread(ctx context.Context, threadID string, limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT id, thread_id, agent, status, error, started_at, completed_at, updated_at
		 FROM runs WHERE thread_id = ? ORDER BY started_at ASC, rowid ASC LIMIT ?`
	args := []any{threadID, limit}
	if threadID == "" {
		query = `SELECT id, thread_id, agent, status, error, started_at, completed_at, updated_at
		 FROM runs ORDER BY started_at DESC, rowid DESC LIMIT ?`
		args = []any{limit}
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	runs := []*Run{}
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Finish marks a run terminal.
func (s *RunStore) Finish(ctx context.Context, id string, status RunStatus, errMsg *string) error {
	now := time.Now().UTC().Format(timeLayout)
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, error = ?, completed_at = ?, updated_at = ? WHERE id = ?`,
		string(status), errMsg, now, now, id,
	)
	if err != nil {
		return fmt.Errorf("update run status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("finish run %s: %w", id, ErrNotFound)
	}
	return nil
}

// scanner is an interface satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (*Run, error) {
	var r Run
	var status string
	var errMsg sql.NullString
	var startedAt, updatedAt string
	var completedAt *string

	err := s.Scan(&r.ID, &r.ThreadID, &r.Agent, &status, &errMsg, &startedAt, &completedAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan run: %w", err)
	}

	if errMsg.Valid {
		v := errMsg.String
		r.Error = &v
	}
	r.Status = RunStatus(status)
	if t := parseTime(&startedAt); t != nil {
		r.StartedAt = *t
	}
	if t := parseTime(&updatedAt); t != nil {
		r.UpdatedAt = *t
	}
	r.CompletedAt = parseTime(completedAt)
	return &r, nil
}

func parseTime(s *string) *time.Time {
	if s == nil {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, *s)
	if err != nil {
		return nil
	}
	return &t
}
