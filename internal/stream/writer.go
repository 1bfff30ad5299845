// Package stream carries protocol events over server-sent events: Writer on
// the server side, Decoder and Client on the consumer side.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/mattjoyce/sharedstate/internal/protocol"
)

// ErrNoFlusher is returned when the response writer cannot flush frames
// as they are produced.
var ErrNoFlusher = errors.New("streaming unsupported by response writer")

const dataPrefix = "data: "

// Writer frames events as "data: <json>\n\n" on an HTTP response.
type Writer struct {
	w         http.ResponseWriter
	flusher   http.Flusher
	heartbeat time.Duration
	logger    *slog.Logger
	frames    int
}

// NewWriter prepares w for streaming. A zero heartbeat disables pings and a
// nil logger discards.
func NewWriter(w http.ResponseWriter, heartbeat time.Duration, logger *slog.Logger) (*Writer, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, ErrNoFlusher
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Writer{w: w, flusher: flusher, heartbeat: heartbeat, logger: logger}, nil
}

// WriteHeaders sends the status line and headers that keep proxies from
// buffering or caching the stream.
func (sw *Writer) WriteHeaders() {
	h := sw.w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	sw.w.WriteHeader(http.StatusOK)
	sw.flusher.Flush()
}

// WriteEvent writes one frame and flushes it.
func (sw *Writer) WriteEvent(evt protocol.Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("encode %s: %w", evt.EventType(), err)
	}
	if _, err := fmt.Fprintf(sw.w, "%s%s\n\n", dataPrefix, data); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	sw.flusher.Flush()
	sw.frames++
	return nil
}

// Ping writes a comment frame. Consumers ignore it.
func (sw *Writer) Ping() error {
	if _, err := fmt.Fprintf(sw.w, ": ping %d\n\n", time.Now().Unix()); err != nil {
		return fmt.Errorf("write ping: %w", err)
	}
	sw.flusher.Flush()
	return nil
}

// Frames returns the number of event frames written.
func (sw *Writer) Frames() int { return sw.frames }

// Stream writes events until the channel closes, ctx is done, or a write
// fails. Pings are sent while the producer is idle.
func (sw *Writer) Stream(ctx context.Context, events <-chan protocol.Event) error {
	var tick <-chan time.Time
	if sw.heartbeat > 0 {
		ticker := time.NewTicker(sw.heartbeat)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-events:
			if !ok {
				return nil
			}
			if err := sw.WriteEvent(evt); err != nil {
				return err
			}
		case <-tick:
			if err := sw.Ping(); err != nil {
				return err
			}
			sw.logger.Debug("stream heartbeat", "frames", sw.frames)
		}
	}
}
