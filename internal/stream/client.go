package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/mattjoyce/sharedstate/internal/protocol"
)

const (
	DefaultBaseURL  = "http://localhost:8888"
	DefaultEndpoint = "/shared_state"
	DefaultTimeout  = 5 * time.Minute
)

// ErrStreamConsumed is yielded when a RunStream is iterated a second time.
var ErrStreamConsumed = errors.New("run stream already consumed")

// StatusError is returned for non-success HTTP responses.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, e.Body)
}

// Client issues runs against an agent endpoint.
type Client struct {
	baseURL  string
	endpoint string
	http     *http.Client
	logger   *slog.Logger
}

type Option func(*Client)

// WithEndpoint selects the run path, e.g. "/theme_state".
func WithEndpoint(path string) Option {
	return func(c *Client) { c.endpoint = "/" + strings.TrimLeft(path, "/") }
}

// WithTimeout bounds a whole request including reading the stream.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http.Timeout = d }
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

func NewClient(baseURL string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		endpoint: DefaultEndpoint,
		http:     &http.Client{Timeout: DefaultTimeout},
		logger:   slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run posts req and returns the response as a single-pass event stream.
// The caller must consume or Close it.
func (c *Client) Run(ctx context.Context, req protocol.RunRequest) (*RunStream, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode run request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create run request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("connect stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, statusError(resp)
	}
	c.logger.Debug("run stream opened", "thread_id", req.ThreadID, "run_id", req.RunID)
	return &RunStream{body: resp.Body, dec: NewDecoder(resp.Body, c.logger)}, nil
}

// Reset clears the server-side state of a thread.
func (c *Client) Reset(ctx context.Context, threadID string) error {
	u := fmt.Sprintf("%s/reset/%s", c.baseURL, url.PathEscape(threadID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, nil)
	if err != nil {
		return fmt.Errorf("create reset request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("reset thread: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return statusError(resp)
	}
	return nil
}

// Health is the body returned by the health endpoint.
type Health struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

func (c *Client) Health(ctx context.Context) (Health, error) {
	var h Health
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return h, fmt.Errorf("create health request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return h, fmt.Errorf("health check: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return h, statusError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(&h); err != nil {
		return h, fmt.Errorf("decode health: %w", err)
	}
	return h, nil
}

func statusError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
}

// RunStream is the lazily decoded event sequence of one run. It can be
// iterated once; reconnecting requires a new run.
type RunStream struct {
	body io.ReadCloser
	dec  *Decoder

	mu       sync.Mutex
	consumed bool
	closed   bool
}

// All yields events in arrival order. A transport failure is yielded once
// as a non-nil error and ends the sequence.
func (s *RunStream) All() iter.Seq2[protocol.Event, error] {
	return func(yield func(protocol.Event, error) bool) {
		s.mu.Lock()
		if s.consumed {
			s.mu.Unlock()
			yield(nil, ErrStreamConsumed)
			return
		}
		s.consumed = true
		s.mu.Unlock()
		defer s.Close()

		for {
			evt, err := s.dec.Next()
			if IsEOF(err) {
				return
			}
			if err != nil {
				yield(nil, err)
				return
			}
			if !yield(evt, nil) {
				return
			}
		}
	}
}

// Skipped returns the number of malformed frames discarded so far.
func (s *RunStream) Skipped() int { return s.dec.Skipped() }

// Close releases the connection. Closing mid-stream ends the run on the
// server.
func (s *RunStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.body.Close()
}
