package protocol

import (
	"encoding/json"
	"strings"
)

// Roles recognised in run requests and message history.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one chat turn.
type Message struct {
	ID      string `json:"id,omitempty"`
	Role    string `json:"role"`
	Content string `json:"content"`
}

// PatchOp is one JSON Patch operation as carried by STATE_DELTA.
type PatchOp struct {
	Op    string          `json:"op"`
	Path  string          `json:"path"`
	Value json.RawMessage `json:"value,omitempty"`
}

// RunRequest is the body a consumer POSTs to start a run.
type RunRequest struct {
	ThreadID string          `json:"thread_id"`
	RunID    string          `json:"run_id"`
	Messages []Message       `json:"messages"`
	State    json.RawMessage `json:"state,omitempty"`
}

// LastUserMessage returns the newest user turn in the request.
func (r RunRequest) LastUserMessage() (Message, bool) {
	for i := len(r.Messages) - 1; i >= 0; i-- {
		m := r.Messages[i]
		if m.Role == RoleUser && strings.TrimSpace(m.Content) != "" {
			return m, true
		}
	}
	return Message{}, false
}
