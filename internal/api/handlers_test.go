package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/mattjoyce/sharedstate/internal/agent"
	"github.com/mattjoyce/sharedstate/internal/document"
	"github.com/mattjoyce/sharedstate/internal/protocol"
	"github.com/mattjoyce/sharedstate/internal/storage"
	"github.com/mattjoyce/sharedstate/internal/store"
	"github.com/mattjoyce/sharedstate/internal/stream"
)

// replayModel answers every Stream call with the same chunks.
type replayModel struct {
	mu     sync.Mutex
	chunks []*schema.Message
	calls  int
}

func (m *replayModel) Generate(context.Context, []*schema.Message, ...model.Option) (*schema.Message, error) {
	return nil, errors.New("generate not used")
}

func (m *replayModel) Stream(context.Context, []*schema.Message, ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	return schema.StreamReaderFromArray(m.chunks), nil
}

func (m *replayModel) WithTools([]*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	return m, nil
}

func (m *replayModel) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func recipeChunks() []*schema.Message {
	idx := 0
	return []*schema.Message{
		{Role: schema.Assistant, Content: "Updating "},
		{Role: schema.Assistant, Content: "the recipe."},
		{Role: schema.Assistant, ToolCalls: []schema.ToolCall{{
			Index:    &idx,
			ID:       "call_1",
			Function: schema.FunctionCall{Name: "update_recipe", Arguments: `{"title":"Toast",`},
		}}},
		{Role: schema.Assistant, ToolCalls: []schema.ToolCall{{
			Index:    &idx,
			Function: schema.FunctionCall{Arguments: `"ingredients":[{"name":"Bread"}],"instructions":["Toast it"]}`},
		}}},
	}
}

type testServer struct {
	srv     *Server
	journal *store.Journal
	model   *replayModel
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	db, err := storage.OpenSQLite(ctx, storage.MemoryPath)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	journal := store.NewJournal(db)

	m := &replayModel{chunks: recipeChunks()}
	var endpoints []Endpoint
	for path, kind := range map[string]document.Kind{
		"/shared_state": document.RecipeKind,
		"/theme_state":  document.ThemeKind,
	} {
		a, err := agent.New(kind, m, agent.Options{Journal: journal}, logger)
		if err != nil {
			t.Fatalf("new agent: %v", err)
		}
		endpoints = append(endpoints, Endpoint{Path: path, Agent: a})
	}

	srv := New(Config{ServiceName: "sharedstate-test"}, endpoints, journal, logger)
	return &testServer{srv: srv, journal: journal, model: m}
}

func (ts *testServer) do(method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	ts.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeStream(t *testing.T, body string) []protocol.Event {
	t.Helper()
	dec := stream.NewDecoder(strings.NewReader(body), nil)
	var events []protocol.Event
	for {
		evt, err := dec.Next()
		if stream.IsEOF(err) {
			break
		}
		if err != nil {
			t.Fatalf("decode stream: %v", err)
		}
		events = append(events, evt)
	}
	if dec.Skipped() != 0 {
		t.Fatalf("expected no malformed frames, got %d", dec.Skipped())
	}
	return events
}

func TestHandleRunStreamsEvents(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodPost, "/shared_state",
		`{"thread_id":"t1","run_id":"run-1","messages":[{"role":"user","content":"make toast"}]}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("expected text/event-stream, got %q", ct)
	}

	events := decodeStream(t, rec.Body.String())
	if len(events) == 0 {
		t.Fatal("expected events")
	}
	first, ok := events[0].(protocol.RunStarted)
	if !ok || first.RunID != "run-1" {
		t.Fatalf("expected RUN_STARTED run-1 first, got %#v", events[0])
	}
	last, ok := events[len(events)-1].(protocol.RunFinished)
	if !ok || last.RunID != "run-1" {
		t.Fatalf("expected RUN_FINISHED run-1 last, got %#v", events[len(events)-1])
	}

	var sawDelta bool
	for _, evt := range events {
		if d, ok := evt.(protocol.StateDelta); ok {
			sawDelta = true
			if len(d.Delta) != 1 || d.Delta[0].Path != "/recipe" || d.Delta[0].Op != "replace" {
				t.Fatalf("unexpected delta: %#v", d.Delta)
			}
		}
	}
	if !sawDelta {
		t.Fatal("expected a STATE_DELTA for the recipe update")
	}

	run, err := ts.journal.Runs.GetByID(context.Background(), "run-1")
	if err != nil {
		t.Fatalf("journal lookup: %v", err)
	}
	if run.Status != store.RunStatusDone || run.ThreadID != "t1" || run.Agent != "recipe" {
		t.Fatalf("unexpected journal entry: %+v", run)
	}
}

func TestHandleRunRejectsBadRequests(t *testing.T) {
	ts := newTestServer(t)

	cases := map[string]string{
		"invalid json":    `{"messages":`,
		"no user message": `{"messages":[{"role":"assistant","content":"hi"}]}`,
		"blank user":      `{"messages":[{"role":"user","content":"   "}]}`,
	}
	for name, body := range cases {
		rec := ts.do(http.MethodPost, "/shared_state", body)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", name, rec.Code)
		}
		if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
			t.Fatalf("%s: expected JSON error, got %q", name, ct)
		}
	}
	if ts.model.callCount() != 0 {
		t.Fatalf("expected no model calls, got %d", ts.model.callCount())
	}
}

func TestHandleRunDefaultsThreadAndRunID(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodPost, "/shared_state", `{"messages":[{"role":"user","content":"toast"}]}`)
	events := decodeStream(t, rec.Body.String())
	started, ok := events[0].(protocol.RunStarted)
	if !ok {
		t.Fatalf("expected RUN_STARTED, got %#v", events[0])
	}
	if started.RunID == "" {
		t.Fatal("expected generated run id")
	}
	if started.ThreadID != agent.DefaultThreadID {
		t.Fatalf("expected thread %q, got %q", agent.DefaultThreadID, started.ThreadID)
	}
}

func TestHandleResetClearsThreads(t *testing.T) {
	ts := newTestServer(t)
	ts.do(http.MethodPost, "/shared_state", `{"thread_id":"t1","messages":[{"role":"user","content":"toast"}]}`)

	rec := ts.do(http.MethodPost, "/reset/t1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp ResetResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode reset: %v", err)
	}
	if resp.Status != "ok" || resp.ThreadID != "t1" {
		t.Fatalf("unexpected reset response: %+v", resp)
	}
	for _, ep := range ts.srv.endpoints {
		if n := ep.Agent.Threads().Len(); n != 0 {
			t.Fatalf("%s: expected no threads after reset, got %d", ep.Path, n)
		}
	}
}

func TestHandleHealthAndInfo(t *testing.T) {
	ts := newTestServer(t)

	for _, path := range []string{"/health", "/healthz"} {
		rec := ts.do(http.MethodGet, path, "")
		var resp HealthResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("%s: decode: %v", path, err)
		}
		if rec.Code != http.StatusOK || resp.Status != "healthy" {
			t.Fatalf("%s: unexpected response %d %+v", path, rec.Code, resp)
		}
	}

	rec := ts.do(http.MethodGet, "/", "")
	var info InfoResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &info); err != nil {
		t.Fatalf("decode info: %v", err)
	}
	if info.Protocol != "AG-UI" || info.Agents["recipe"] != "/shared_state" || info.Agents["theme"] != "/theme_state" {
		t.Fatalf("unexpected info: %+v", info)
	}
}

func TestHandleRunsJournal(t *testing.T) {
	ts := newTestServer(t)
	ts.do(http.MethodPost, "/shared_state", `{"thread_id":"t1","run_id":"run-a","messages":[{"role":"user","content":"toast"}]}`)
	ts.do(http.MethodPost, "/shared_state", `{"thread_id":"t2","run_id":"run-b","messages":[{"role":"user","content":"toast"}]}`)

	rec := ts.do(http.MethodGet, "/v1/runs?thread_id=t1", "")
	var list RunsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode runs: %v", err)
	}
	if len(list.Runs) != 1 || list.Runs[0].ID != "run-a" {
		t.Fatalf("expected only run-a, got %+v", list.Runs)
	}

	rec = ts.do(http.MethodGet, "/v1/runs/run-a", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var detail struct {
		ID        string            `json:"id"`
		Status    string            `json:"status"`
		ToolCalls []*store.ToolCall `json:"tool_calls"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &detail); err != nil {
		t.Fatalf("decode run: %v", err)
	}
	if detail.ID != "run-a" || detail.Status != "done" {
		t.Fatalf("unexpected run detail: %+v", detail)
	}
	if len(detail.ToolCalls) != 1 || detail.ToolCalls[0].Tool != "update_recipe" || detail.ToolCalls[0].Status != store.ToolCallStatusOK {
		t.Fatalf("unexpected tool calls: %+v", detail.ToolCalls)
	}

	if rec := ts.do(http.MethodGet, "/v1/runs/missing", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	if rec := ts.do(http.MethodGet, "/v1/runs?limit=abc", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad limit, got %d", rec.Code)
	}
}
