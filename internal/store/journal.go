package store

import (
	"context"
	"database/sql"

	"github.com/mattjoyce/sharedstate/internal/agent"
)

// Journal records agent runs in SQLite.
type Journal struct {
	Runs      *RunStore
	ToolCalls *ToolCallStore
}

var _ agent.Journal = (*Journal)(nil)

func NewJournal(db *sql.DB) *Journal {
	return &Journal{Runs: NewRunStore(db), ToolCalls: NewToolCallStore(db)}
}

func (j *Journal) StartRun(ctx context.Context, runID, threadID, agentName string) error {
	_, err := j.Runs.Create(ctx, runID, threadID, agentName)
	return err
}

func (j *Journal) RecordToolCall(ctx context.Context, runID string, call agent.ToolCallRecord) error {
	status := ToolCallStatusOK
	if !call.OK {
		status = ToolCallStatusError
	}
	var args *string
	if call.Arguments != "" {
		args = &call.Arguments
	}
	_, err := j.ToolCalls.Append(ctx, runID, call.ToolCallID, call.Tool, args, call.Result, status)
	return err
}

func (j *Journal) FinishRun(ctx context.Context, runID, status, errMsg string) error {
	var msg *string
	if errMsg != "" {
		msg = &errMsg
	}
	return j.Runs.Finish(ctx, runID, RunStatus(status), msg)
}
