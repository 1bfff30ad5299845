// Package protocol defines the AG-UI event vocabulary shared by the agent
// run loop and its consumers.
package protocol

import (
	"encoding/json"
	"time"
)

// EventType is the wire tag carried in every event's "type" field.
type EventType string

const (
	TypeRunStarted         EventType = "RUN_STARTED"
	TypeStateSnapshot      EventType = "STATE_SNAPSHOT"
	TypeTextMessageStart   EventType = "TEXT_MESSAGE_START"
	TypeTextMessageContent EventType = "TEXT_MESSAGE_CONTENT"
	TypeTextMessageEnd     EventType = "TEXT_MESSAGE_END"
	TypeToolCallStart      EventType = "TOOL_CALL_START"
	TypeToolCallEnd        EventType = "TOOL_CALL_END"
	TypeStateDelta         EventType = "STATE_DELTA"
	TypeRunError           EventType = "RUN_ERROR"
	TypeRunFinished        EventType = "RUN_FINISHED"
)

// Known reports whether t is part of the closed event taxonomy.
func (t EventType) Known() bool {
	switch t {
	case TypeRunStarted, TypeStateSnapshot, TypeTextMessageStart, TypeTextMessageContent,
		TypeTextMessageEnd, TypeToolCallStart, TypeToolCallEnd, TypeStateDelta,
		TypeRunError, TypeRunFinished:
		return true
	}
	return false
}

// Event is implemented by every concrete event variant in this package.
// The unexported marker keeps the set closed.
type Event interface {
	EventType() EventType
	EventTime() string
	event()
}

// Base carries the fields common to all events.
type Base struct {
	Type      EventType `json:"type"`
	Timestamp string    `json:"timestamp"`
}

func (b Base) EventType() EventType { return b.Type }
func (b Base) EventTime() string    { return b.Timestamp }
func (Base) event()                 {}

// Now is the clock used to stamp new events. Tests may replace it.
var Now = func() time.Time { return time.Now().UTC() }

func newBase(t EventType) Base {
	return Base{Type: t, Timestamp: Now().UTC().Format(time.RFC3339Nano)}
}

type RunStarted struct {
	Base
	RunID    string `json:"runId"`
	ThreadID string `json:"threadId,omitempty"`
}

// StateSnapshot carries the full shared state: the document plus the
// message history.
type StateSnapshot struct {
	Base
	State json.RawMessage `json:"state"`
}

type TextMessageStart struct {
	Base
	MessageID string `json:"messageId"`
	Role      string `json:"role"`
}

// TextMessageContent carries one incremental text fragment, never the
// accumulated text.
type TextMessageContent struct {
	Base
	MessageID string `json:"messageId"`
	Content   string `json:"content"`
}

type TextMessageEnd struct {
	Base
	MessageID string `json:"messageId"`
}

type ToolCallStart struct {
	Base
	ToolCallID string `json:"toolCallId"`
	ToolName   string `json:"toolName"`
}

// ToolCallEnd carries the tool's result payload. A result object with an
// "error" member marks a failed invocation.
type ToolCallEnd struct {
	Base
	ToolCallID string          `json:"toolCallId"`
	Result     json.RawMessage `json:"result"`
}

type StateDelta struct {
	Base
	Delta []PatchOp `json:"delta"`
}

type RunError struct {
	Base
	Message string `json:"error"`
}

type RunFinished struct {
	Base
	RunID string `json:"runId"`
}

// Unknown holds an event whose tag is outside the known taxonomy. Raw is
// the original payload and is re-emitted verbatim when marshaled.
type Unknown struct {
	Base
	Raw json.RawMessage `json:"-"`
}

func (u Unknown) MarshalJSON() ([]byte, error) {
	if len(u.Raw) == 0 {
		return json.Marshal(u.Base)
	}
	return u.Raw, nil
}

func NewRunStarted(runID, threadID string) RunStarted {
	return RunStarted{Base: newBase(TypeRunStarted), RunID: runID, ThreadID: threadID}
}

func NewStateSnapshot(state json.RawMessage) StateSnapshot {
	return StateSnapshot{Base: newBase(TypeStateSnapshot), State: state}
}

func NewTextMessageStart(messageID, role string) TextMessageStart {
	return TextMessageStart{Base: newBase(TypeTextMessageStart), MessageID: messageID, Role: role}
}

func NewTextMessageContent(messageID, content string) TextMessageContent {
	return TextMessageContent{Base: newBase(TypeTextMessageContent), MessageID: messageID, Content: content}
}

func NewTextMessageEnd(messageID string) TextMessageEnd {
	return TextMessageEnd{Base: newBase(TypeTextMessageEnd), MessageID: messageID}
}

func NewToolCallStart(toolCallID, toolName string) ToolCallStart {
	return ToolCallStart{Base: newBase(TypeToolCallStart), ToolCallID: toolCallID, ToolName: toolName}
}

func NewToolCallEnd(toolCallID string, result json.RawMessage) ToolCallEnd {
	return ToolCallEnd{Base: newBase(TypeToolCallEnd), ToolCallID: toolCallID, Result: result}
}

// NewStateReplace builds a delta holding a single replace operation at path.
func NewStateReplace(path string, value json.RawMessage) StateDelta {
	return StateDelta{
		Base:  newBase(TypeStateDelta),
		Delta: []PatchOp{{Op: "replace", Path: path, Value: value}},
	}
}

func NewRunError(message string) RunError {
	return RunError{Base: newBase(TypeRunError), Message: message}
}

func NewRunFinished(runID string) RunFinished {
	return RunFinished{Base: newBase(TypeRunFinished), RunID: runID}
}

// Terminal reports whether e closes a run's event sequence.
func Terminal(e Event) bool {
	return e.EventType() == TypeRunFinished
}
