package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	einocb "github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"

	"github.com/mattjoyce/sharedstate/internal/document"
	"github.com/mattjoyce/sharedstate/internal/protocol"
)

// Reconciliation modes for a client-supplied state snapshot.
const (
	ReconcileClient = "client"
	ReconcileServer = "server"
)

// Run statuses reported to the Journal.
const (
	StatusDone      = "done"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

type phase string

const (
	phaseCreated        phase = "created"
	phaseStreamingText  phase = "streaming_text"
	phaseToolProcessing phase = "tool_processing"
	phaseFinalizing     phase = "finalizing"
	phaseDone           phase = "done"
)

// Journal records runs and their tool invocations. Failures are logged and
// never affect the run.
type Journal interface {
	StartRun(ctx context.Context, runID, threadID, agent string) error
	RecordToolCall(ctx context.Context, runID string, call ToolCallRecord) error
	FinishRun(ctx context.Context, runID, status, errMsg string) error
}

// ToolCallRecord describes one processed tool invocation.
type ToolCallRecord struct {
	ToolCallID string
	Tool       string
	Arguments  string
	Result     json.RawMessage
	OK         bool
}

// Options configures an Agent.
type Options struct {
	// RunTimeout bounds the model interaction of a single run.
	RunTimeout time.Duration
	// Reconcile selects whose document wins at the start of a run.
	Reconcile string
	Policy    *Policy
	Journal   Journal
}

// Input is one consumer-initiated turn.
type Input struct {
	ThreadID    string
	RunID       string
	UserMessage protocol.Message
	State       json.RawMessage
}

// Agent drives runs for one document kind.
type Agent struct {
	kind      document.Kind
	chatModel model.ToolCallingChatModel
	threads   *Registry
	opts      Options
	observer  einocb.Handler
	logger    *slog.Logger
}

// New binds the kind's update tool to chatModel.
func New(kind document.Kind, chatModel model.ToolCallingChatModel, opts Options, logger *slog.Logger) (*Agent, error) {
	bound, err := chatModel.WithTools([]*schema.ToolInfo{kind.Tool})
	if err != nil {
		return nil, fmt.Errorf("bind %s tool: %w", kind.Name, err)
	}
	if opts.RunTimeout <= 0 {
		opts.RunTimeout = 5 * time.Minute
	}
	if opts.Reconcile == "" {
		opts.Reconcile = ReconcileClient
	}
	logger = logger.With("agent", kind.Name)
	return &Agent{
		kind:      kind,
		chatModel: bound,
		threads:   NewRegistry(kind),
		opts:      opts,
		observer:  newModelObserver(logger),
		logger:    logger,
	}, nil
}

// Kind returns the document kind this agent maintains.
func (a *Agent) Kind() document.Kind { return a.kind }

// Threads exposes the agent's thread registry.
func (a *Agent) Threads() *Registry { return a.threads }

// Reset clears a thread's document and history.
func (a *Agent) Reset(threadID string) bool {
	existed := a.threads.Reset(threadID)
	a.logger.Info("thread reset", "thread_id", threadID, "existed", existed)
	return existed
}

// Run starts one turn and returns its events. The channel is closed after
// RUN_FINISHED, or early once ctx is done. Cancelling ctx is the only way
// to stop a run.
func (a *Agent) Run(ctx context.Context, in Input) <-chan protocol.Event {
	out := make(chan protocol.Event)
	go a.run(ctx, in, out)
	return out
}

type turn struct {
	id     string
	thread *Thread
	out    chan<- protocol.Event
	ctx    context.Context
	phase  phase
	logger *slog.Logger
}

// emit delivers evt unless the consumer has gone away.
func (t *turn) emit(evt protocol.Event) bool {
	if t.ctx.Err() != nil {
		return false
	}
	select {
	case t.out <- evt:
		return true
	case <-t.ctx.Done():
		return false
	}
}

func (t *turn) enter(p phase) {
	t.logger.Debug("run phase", "from", t.phase, "to", p)
	t.phase = p
}

func (a *Agent) run(ctx context.Context, in Input, out chan<- protocol.Event) {
	defer close(out)

	threadID := in.ThreadID
	if threadID == "" {
		threadID = DefaultThreadID
	}
	runID := in.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	logger := a.logger.With("run_id", runID, "thread_id", threadID)

	thread, release, err := a.threads.Acquire(ctx, threadID)
	if err != nil {
		logger.Info("run abandoned before start", "error", err)
		return
	}
	defer release()

	t := &turn{id: runID, thread: thread, out: out, ctx: ctx, phase: phaseCreated, logger: logger}
	start := time.Now()
	journalCtx := context.WithoutCancel(ctx)
	a.journal(logger, func(j Journal) error { return j.StartRun(journalCtx, runID, threadID, a.kind.Name) })

	t.emit(protocol.NewRunStarted(runID, threadID))

	a.begin(t, in)
	t.emit(protocol.NewStateSnapshot(a.state(thread, true)))

	status, errMsg := StatusDone, ""
	if err := a.generate(t); err != nil {
		switch {
		case ctx.Err() != nil:
			status = StatusCancelled
			errMsg = ctx.Err().Error()
			logger.Info("run cancelled by consumer", "error", err)
		default:
			status = StatusFailed
			errMsg = err.Error()
			logger.Error("run failed", "error", err)
			t.emit(protocol.NewRunError(errMsg))
		}
	}

	t.enter(phaseFinalizing)
	t.emit(protocol.NewStateSnapshot(a.state(thread, false)))
	t.emit(protocol.NewRunFinished(runID))
	t.enter(phaseDone)

	a.journal(logger, func(j Journal) error { return j.FinishRun(journalCtx, runID, status, errMsg) })
	logger.Info("run completed",
		"status", status,
		"duration", time.Since(start),
		"messages", len(thread.messages),
	)
}

// begin records the user turn and reconciles the client's document.
func (a *Agent) begin(t *turn, in Input) {
	msg := in.UserMessage
	msg.Role = protocol.RoleUser
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	t.thread.messages = append(t.thread.messages, msg)

	if a.opts.Reconcile != ReconcileClient {
		return
	}
	raw, ok := a.kind.FromState(in.State)
	if !ok {
		return
	}
	doc, err := a.kind.Normalize(raw)
	if err != nil {
		t.logger.Warn("ignoring client document", "error", err)
		return
	}
	t.thread.document = doc
}

// generate runs the model interaction and tool processing. Any error it
// returns is unrecovered and ends the run with RUN_ERROR.
func (a *Agent) generate(t *turn) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("run panicked: %v", r)
		}
	}()

	if err := t.ctx.Err(); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(t.ctx, a.opts.RunTimeout)
	defer cancel()
	ctx = withModelObserver(ctx, a.kind.Name, a.observer)

	stream, err := a.chatModel.Stream(ctx, a.prompt(t.thread))
	if err != nil {
		return fmt.Errorf("open model stream: %w", err)
	}
	defer stream.Close()

	t.enter(phaseStreamingText)
	messageID := uuid.NewString()
	if !t.emit(protocol.NewTextMessageStart(messageID, protocol.RoleAssistant)) {
		return t.ctx.Err()
	}

	var text strings.Builder
	calls := newAccumulator()
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("read model stream: %w", err)
		}
		if chunk == nil {
			continue
		}
		if chunk.Content != "" {
			text.WriteString(chunk.Content)
			if !t.emit(protocol.NewTextMessageContent(messageID, chunk.Content)) {
				return t.ctx.Err()
			}
		}
		for _, tc := range chunk.ToolCalls {
			calls.add(tc)
		}
	}

	if !t.emit(protocol.NewTextMessageEnd(messageID)) {
		return t.ctx.Err()
	}
	if text.Len() > 0 {
		t.thread.messages = append(t.thread.messages, protocol.Message{
			ID:      messageID,
			Role:    protocol.RoleAssistant,
			Content: text.String(),
		})
	}

	if calls.len() == 0 {
		return nil
	}
	t.enter(phaseToolProcessing)
	for _, inv := range calls.finalize() {
		if err := a.invoke(t, inv); err != nil {
			return err
		}
	}
	return nil
}

func (a *Agent) prompt(th *Thread) []*schema.Message {
	msgs := make([]*schema.Message, 0, len(th.messages)+1)
	msgs = append(msgs, schema.SystemMessage(a.kind.SystemPrompt(th.document)))
	for _, m := range th.messages {
		switch m.Role {
		case protocol.RoleAssistant:
			msgs = append(msgs, schema.AssistantMessage(m.Content, nil))
		default:
			msgs = append(msgs, schema.UserMessage(m.Content))
		}
	}
	return msgs
}

// invoke processes one completed tool call. Tool failures become error
// results; only a vanished consumer stops the run.
func (a *Agent) invoke(t *turn, inv Invocation) error {
	callID := inv.ID
	if callID == "" {
		callID = uuid.NewString()
	}
	if !t.emit(protocol.NewToolCallStart(callID, inv.Name)) {
		return t.ctx.Err()
	}

	result, doc, ok := a.apply(t, inv)
	if ok {
		t.thread.document = doc
		if !t.emit(protocol.NewStateReplace(a.kind.Path(), doc)) {
			return t.ctx.Err()
		}
	}
	if !t.emit(protocol.NewToolCallEnd(callID, result)) {
		return t.ctx.Err()
	}

	args := string(inv.Args)
	var argErr *ArgumentError
	if errors.As(inv.Err, &argErr) {
		args = argErr.Raw
	}
	a.journal(t.logger, func(j Journal) error {
		return j.RecordToolCall(context.WithoutCancel(t.ctx), t.id, ToolCallRecord{
			ToolCallID: callID,
			Tool:       inv.Name,
			Arguments:  args,
			Result:     result,
			OK:         ok,
		})
	})
	return nil
}

// apply validates an invocation and computes the replacement document.
func (a *Agent) apply(t *turn, inv Invocation) (json.RawMessage, json.RawMessage, bool) {
	logger := t.logger.With("tool", inv.Name, "tool_index", inv.Index)

	if inv.Err != nil {
		logger.Warn("tool arguments rejected", "error", inv.Err)
		return toolError("Invalid JSON in tool arguments"), nil, false
	}

	verdict, err := a.check(t.ctx, inv)
	if err != nil {
		logger.Error("tool policy failed", "error", err)
		return toolError("Tool policy evaluation failed"), nil, false
	}
	if !verdict.Allowed() {
		logger.Warn("tool call blocked", "reason", verdict.Reason)
		return toolError(verdict.Reason), nil, false
	}

	doc, err := a.kind.Normalize(inv.Args)
	if err != nil {
		logger.Warn("tool arguments do not describe a document", "error", err)
		return toolError(fmt.Sprintf("Invalid %s: %v", a.kind.Name, err)), nil, false
	}
	logger.Debug("document replaced", "bytes", len(doc))
	return toolSuccess(fmt.Sprintf("%s updated", a.kind.Name)), doc, true
}

func (a *Agent) check(ctx context.Context, inv Invocation) (Verdict, error) {
	if a.opts.Policy == nil {
		if inv.Name != a.kind.ToolName() {
			return Verdict{Decision: DecisionBlock, Reason: "Unknown tool: " + inv.Name}, nil
		}
		return Verdict{Decision: DecisionAllow}, nil
	}
	var args any
	if err := json.Unmarshal(inv.Args, &args); err != nil {
		return Verdict{}, fmt.Errorf("decode arguments for policy: %w", err)
	}
	input := PolicyInput{
		ToolName:     inv.Name,
		DeclaredTool: a.kind.ToolName(),
		Kind:         a.kind.Name,
		Args:         args,
	}
	if a.kind.Name == document.ThemeKind.Name {
		input.ColorFields = document.ThemeColorFields
	}
	return a.opts.Policy.Evaluate(ctx, input)
}

func (a *Agent) state(th *Thread, generating bool) json.RawMessage {
	data, err := json.Marshal(map[string]any{
		a.kind.Key:      th.document,
		"messages":      th.Messages(),
		"is_generating": generating,
	})
	if err != nil {
		a.logger.Error("encode state snapshot", "error", err)
		return json.RawMessage(`{}`)
	}
	return data
}

func (a *Agent) journal(logger *slog.Logger, fn func(Journal) error) {
	if a.opts.Journal == nil {
		return
	}
	if err := fn(a.opts.Journal); err != nil {
		logger.Warn("run journal write failed", "error", err)
	}
}

func toolSuccess(message string) json.RawMessage {
	data, _ := json.Marshal(map[string]any{"success": true, "message": message})
	return data
}

func toolError(message string) json.RawMessage {
	data, _ := json.Marshal(map[string]string{"error": message})
	return data
}
