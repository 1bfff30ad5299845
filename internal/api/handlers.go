package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/mattjoyce/sharedstate/internal/agent"
	"github.com/mattjoyce/sharedstate/internal/protocol"
	"github.com/mattjoyce/sharedstate/internal/store"
	"github.com/mattjoyce/sharedstate/internal/stream"
)

const (
	defaultRunsLimit = 20
	maxRunsLimit     = 100
)

// InfoResponse is returned by GET /.
type InfoResponse struct {
	Service  string            `json:"service"`
	Protocol string            `json:"protocol"`
	Agents   map[string]string `json:"agents"`
}

// HealthResponse is returned by GET /health and GET /healthz.
type HealthResponse struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

// ResetResponse is returned by POST /reset/{thread_id}.
type ResetResponse struct {
	Status   string `json:"status"`
	ThreadID string `json:"thread_id"`
}

// RunResponse is returned by GET /v1/runs/{run_id}.
type RunResponse struct {
	*store.Run
	ToolCalls []*store.ToolCall `json:"tool_calls"`
}

// RunsResponse is returned by GET /v1/runs.
type RunsResponse struct {
	Runs []*store.Run `json:"runs"`
}

// ErrorResponse is returned on errors.
type ErrorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	agents := make(map[string]string, len(s.endpoints))
	for _, ep := range s.endpoints {
		agents[ep.Agent.Kind().Name] = ep.Path
	}
	respondJSON(w, http.StatusOK, InfoResponse{
		Service:  s.config.ServiceName,
		Protocol: "AG-UI",
		Agents:   agents,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, HealthResponse{
		Status:        "healthy",
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
	})
}

// handleRun streams one agent run as server-sent events. Request errors are
// reported before the stream opens; after that every failure travels as a
// protocol event.
func (s *Server) handleRun(a *agent.Agent) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req protocol.RunRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		msg, ok := req.LastUserMessage()
		if !ok {
			s.writeError(w, http.StatusBadRequest, "a user message is required")
			return
		}
		if req.ThreadID == "" {
			req.ThreadID = agent.DefaultThreadID
		}
		if req.RunID == "" {
			req.RunID = uuid.NewString()
		}

		sw, err := stream.NewWriter(w, s.config.StreamHeartbeatInterval, s.logger)
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, err.Error())
			return
		}

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		sw.WriteHeaders()
		events := a.Run(ctx, agent.Input{
			ThreadID:    req.ThreadID,
			RunID:       req.RunID,
			UserMessage: msg,
			State:       req.State,
		})
		if err := sw.Stream(ctx, events); err != nil {
			s.logger.Info("run stream closed early",
				"run_id", req.RunID,
				"thread_id", req.ThreadID,
				"frames", sw.Frames(),
				"error", err,
			)
		}
	}
}

// handleReset clears the thread on every agent.
func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	threadID := chi.URLParam(r, "thread_id")
	for _, ep := range s.endpoints {
		ep.Agent.Reset(threadID)
	}
	respondJSON(w, http.StatusOK, ResetResponse{Status: "ok", ThreadID: threadID})
}

// handleListRuns handles GET /v1/runs.
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := defaultRunsLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxRunsLimit)
	}

	runs, err := s.journal.Runs.ListByThread(r.Context(), r.URL.Query().Get("thread_id"), limit)
	if err != nil {
		s.logger.Error("failed to list runs", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	if runs == nil {
		runs = []*store.Run{}
	}
	respondJSON(w, http.StatusOK, RunsResponse{Runs: runs})
}

// handleGetRun handles GET /v1/runs/{run_id}.
func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "run_id")

	run, err := s.journal.Runs.GetByID(r.Context(), runID)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "run not found")
		return
	}
	if err != nil {
		s.logger.Error("failed to get run", "run_id", runID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get run")
		return
	}

	calls, err := s.journal.ToolCalls.GetByRunID(r.Context(), runID)
	if err != nil {
		s.logger.Error("failed to get tool calls", "run_id", runID, "error", err)
		calls = nil
	}
	if calls == nil {
		calls = []*store.ToolCall{}
	}

	respondJSON(w, http.StatusOK, RunResponse{Run: run, ToolCalls: calls})
}

func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message})
}
