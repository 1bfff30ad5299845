package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ToolCallStatus is the outcome of a tool invocation.
type ToolCallStatus string

const (
	ToolCallStatusOK    ToolCallStatus = "ok"
	ToolCallStatusError ToolCallStatus = "error"
)

// ToolCall is one tool invocation processed during a run.
type ToolCall struct {
	ID         string          `json:"id"`
	RunID      string          `json:"run_id"`
	Seq        int             `json:"seq"`
	ToolCallID string          `json:"tool_call_id"`
	Tool       string          `json:"tool"`
	Arguments  *string         `json:"arguments,omitempty"`
	Result     json.RawMessage `json:"result,omitempty"`
	Status     ToolCallStatus  `json:"status"`
	CreatedAt  time.Time       `json:"created_at"`
}

// ToolCallStore provides operations on the tool_calls table.
type ToolCallStore struct {
	db *sql.DB
}

// NewToolCallStore creates a new ToolCallStore.
func NewToolCallStore(db *sql.DB) *ToolCallStore {
	return &ToolCallStore{db: db}
}

// Append records a tool call after the run's existing ones.
func (s *ToolCallStore) Append(ctx context.Context, runID, toolCallID, tool string, args *string, result json.RawMessage, status ToolCallStatus) (*ToolCall, error) {
	now := time.Now().UTC()
	tc := &ToolCall{
		ID:         uuid.New().String(),
		RunID:      runID,
		ToolCallID: toolCallID,
		Tool:       tool,
		Arguments:  args,
		Result:     result,
		Status:     status,
		CreatedAt:  now,
	}

	var resultArg any
	if len(result) > 0 {
		resultArg = string(result)
	}
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO tool_calls (id, run_id, seq, tool_call_id, tool, arguments, result, status, created_at)
		 VALUES (?, ?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM tool_calls WHERE run_id = ?), ?, ?, ?, ?, ?, ?)
		 RETURNING seq`,
		tc.ID, tc.RunID, tc.RunID, tc.ToolCallID, tc.Tool, tc.Arguments, resultArg,
		string(tc.Status), now.Format(timeLayout),
	).Scan(&tc.Seq)
	if err != nil {
		return nil, fmt.Errorf("insert tool call: %w", err)
	}
	return tc, nil
}

// GetByRunID returns a run's tool calls in order.
func (s *ToolCallStore) GetByRunID(ctx context.Context, runID string) ([]*ToolCall, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, seq, tool_call_id, tool, arguments, result, status, created_at
		 FROM tool_calls WHERE run_id = ? ORDER BY seq ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("list tool calls: %w", err)
	}
	defer rows.Close()

	calls := []*ToolCall{}
	for rows.Next() {
		var tc ToolCall
		var args, result sql.NullString
		var status, createdAt string
		if err := rows.Scan(&tc.ID, &tc.RunID, &tc.Seq, &tc.ToolCallID, &tc.Tool, &args, &result, &status, &createdAt); err != nil {
			return nil, fmt.Errorf("scan tool call: %w", err)
		}
		if args.Valid {
			v := args.String
			tc.Arguments = &v
		}
		if result.Valid && result.String != "" {
			tc.Result = json.RawMessage(result.String)
		}
		tc.Status = ToolCallStatus(status)
		if t := parseTime(&createdAt); t != nil {
			tc.CreatedAt = *t
		}
		calls = append(calls, &tc)
	}
	return calls, rows.Err()
}
