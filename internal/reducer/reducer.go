// Package reducer folds a run's event stream into consumer-side state.
package reducer

import (
	"encoding/json"
	"errors"
	"fmt"

	jsonpatch "github.com/evanphx/json-patch"

	"github.com/mattjoyce/sharedstate/internal/document"
	"github.com/mattjoyce/sharedstate/internal/protocol"
)

// ErrRunInProgress is returned by Begin while a previous run's stream is
// still open.
var ErrRunInProgress = errors.New("a run is already in progress")

// State is the consumer-facing view. Messages holds only finalized turns;
// the assistant message being streamed lives in StreamingContent.
type State struct {
	Messages         []protocol.Message
	StreamingContent string
	Document         json.RawMessage
	Loading          bool
	Streaming        bool
	Error            string
	RunID            string
	ActiveTool       string
}

// Reducer applies events one at a time, in arrival order. It is not safe
// for concurrent use.
type Reducer struct {
	kind  document.Kind
	state State

	streamingID string
	ignored     int
}

// New returns a reducer holding the kind's default document.
func New(kind document.Kind) *Reducer {
	return &Reducer{
		kind:  kind,
		state: State{Messages: []protocol.Message{}, Document: kind.Default()},
	}
}

// State returns a copy of the current state.
func (r *Reducer) State() State {
	s := r.state
	s.Messages = append([]protocol.Message(nil), r.state.Messages...)
	s.Document = append(json.RawMessage(nil), r.state.Document...)
	return s
}

// Document returns the current document.
func (r *Reducer) Document() json.RawMessage { return r.state.Document }

// SetDocument replaces the local copy, e.g. after a user edit. The new
// copy is what the next run sends as its baseline.
func (r *Reducer) SetDocument(doc json.RawMessage) error {
	normalized, err := r.kind.Normalize(doc)
	if err != nil {
		return err
	}
	r.state.Document = normalized
	return nil
}

// Ignored counts events dropped for belonging to another run or arriving
// while no run was active.
func (r *Reducer) Ignored() int { return r.ignored }

// Begin starts tracking a run and records the user's message. runID may be
// empty, in which case the id announced by RUN_STARTED is adopted.
func (r *Reducer) Begin(runID string, msg protocol.Message) error {
	if r.state.Loading {
		return ErrRunInProgress
	}
	msg.Role = protocol.RoleUser
	r.state.Messages = append(r.state.Messages, msg)
	r.state.Error = ""
	r.state.Loading = true
	r.state.Streaming = false
	r.state.StreamingContent = ""
	r.state.ActiveTool = ""
	r.state.RunID = runID
	r.streamingID = ""
	return nil
}

// Request builds the run request for the tracked run, carrying the
// current document as the baseline state.
func (r *Reducer) Request(threadID string) protocol.RunRequest {
	state, _ := json.Marshal(map[string]json.RawMessage{r.kind.Key: r.state.Document})
	return protocol.RunRequest{
		ThreadID: threadID,
		RunID:    r.state.RunID,
		Messages: append([]protocol.Message(nil), r.state.Messages...),
		State:    state,
	}
}

// Fail records a local transport failure and clears the run indicators.
func (r *Reducer) Fail(err error) {
	r.state.Error = err.Error()
	r.state.Loading = false
	r.state.Streaming = false
	r.state.StreamingContent = ""
	r.state.ActiveTool = ""
	r.streamingID = ""
}

// End is called when the stream closes. A stream that closes without
// RUN_FINISHED is treated as a transport failure.
func (r *Reducer) End() {
	if r.state.Loading {
		r.Fail(errors.New("stream closed before the run finished"))
	}
}

// Apply folds one event into the state. It returns an error only for a
// STATE_SNAPSHOT or STATE_DELTA whose document cannot be applied; the
// document keeps its last applied value in that case.
func (r *Reducer) Apply(evt protocol.Event) error {
	if !r.accepts(evt) {
		r.ignored++
		return nil
	}

	switch e := evt.(type) {
	case protocol.RunStarted:
		if r.state.RunID == "" {
			r.state.RunID = e.RunID
		}
		r.state.Loading = true
	case protocol.StateSnapshot:
		return r.applySnapshot(e.State)
	case protocol.TextMessageStart:
		r.streamingID = e.MessageID
		r.state.StreamingContent = ""
		r.state.Streaming = true
	case protocol.TextMessageContent:
		if r.state.Streaming && e.MessageID == r.streamingID {
			r.state.StreamingContent += e.Content
		}
	case protocol.TextMessageEnd:
		if r.state.Streaming && e.MessageID == r.streamingID && r.state.StreamingContent != "" {
			r.state.Messages = append(r.state.Messages, protocol.Message{
				ID:      e.MessageID,
				Role:    protocol.RoleAssistant,
				Content: r.state.StreamingContent,
			})
		}
		r.state.StreamingContent = ""
		r.state.Streaming = false
		r.streamingID = ""
	case protocol.ToolCallStart:
		r.state.ActiveTool = e.ToolName
	case protocol.ToolCallEnd:
		r.state.ActiveTool = ""
	case protocol.StateDelta:
		return r.applyDelta(e.Delta)
	case protocol.RunError:
		r.state.Error = e.Message
		r.state.Streaming = false
		r.state.StreamingContent = ""
		r.streamingID = ""
	case protocol.RunFinished:
		r.state.Loading = false
		r.state.Streaming = false
		r.state.ActiveTool = ""
	case protocol.Unknown:
	}
	return nil
}

// accepts drops events that belong to another run, and anything arriving
// while no run is being tracked.
func (r *Reducer) accepts(evt protocol.Event) bool {
	if !r.state.Loading {
		return false
	}
	var runID string
	switch e := evt.(type) {
	case protocol.RunStarted:
		runID = e.RunID
	case protocol.RunFinished:
		runID = e.RunID
	default:
		return true
	}
	return r.state.RunID == "" || runID == "" || runID == r.state.RunID
}

// applySnapshot adopts the snapshot's document. A snapshot without one
// resets to the default; one that does not decode leaves the document as
// it was.
func (r *Reducer) applySnapshot(state json.RawMessage) error {
	raw, ok := r.kind.FromState(state)
	if !ok {
		r.state.Document = r.kind.Default()
		return nil
	}
	doc, err := r.kind.Normalize(raw)
	if err != nil {
		return fmt.Errorf("snapshot %s: %w", r.kind.Name, err)
	}
	r.state.Document = doc
	return nil
}

func (r *Reducer) applyDelta(ops []protocol.PatchOp) error {
	if len(ops) == 0 {
		return nil
	}
	data, err := json.Marshal(ops)
	if err != nil {
		return fmt.Errorf("encode delta: %w", err)
	}
	patch, err := jsonpatch.DecodePatch(data)
	if err != nil {
		return fmt.Errorf("decode delta: %w", err)
	}
	wrapped, err := json.Marshal(map[string]json.RawMessage{r.kind.Key: r.state.Document})
	if err != nil {
		return fmt.Errorf("encode document: %w", err)
	}
	patched, err := patch.Apply(wrapped)
	if err != nil {
		return fmt.Errorf("apply delta: %w", err)
	}
	raw, _ := r.kind.FromState(patched)
	doc, err := r.kind.Normalize(raw)
	if err != nil {
		return fmt.Errorf("patched %s: %w", r.kind.Name, err)
	}
	r.state.Document = doc
	return nil
}
