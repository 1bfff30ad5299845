package stream

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/mattjoyce/sharedstate/internal/protocol"
)

// MaxLineSize caps a single line of the stream. A frame with a longer line
// is discarded and counted as skipped.
const MaxLineSize = 2 * 1024 * 1024

// Decoder reads frames from an event stream. Frames that fail to decode
// are counted and skipped; they never end the stream.
type Decoder struct {
	reader  *bufio.Reader
	logger  *slog.Logger
	skipped int
	done    bool
}

func NewDecoder(r io.Reader, logger *slog.Logger) *Decoder {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Decoder{reader: bufio.NewReaderSize(r, 64*1024), logger: logger}
}

// Next returns the next decoded event, or io.EOF once the stream ends.
func (d *Decoder) Next() (protocol.Event, error) {
	for {
		data, err := d.frame()
		if err != nil {
			return nil, err
		}
		evt, err := protocol.Decode([]byte(data))
		if err != nil {
			d.skipped++
			d.logger.Warn("skipping malformed frame", "error", err, "bytes", len(data))
			continue
		}
		return evt, nil
	}
}

// Skipped returns how many frames were discarded as malformed or oversize.
func (d *Decoder) Skipped() int { return d.skipped }

// frame returns the payload of the next frame carrying data. Comment
// lines and non-data fields are ignored.
func (d *Decoder) frame() (string, error) {
	if d.done {
		return "", io.EOF
	}
	var lines []string
	oversize := false
	for {
		line, tooLong, err := d.readLine()
		if err != nil {
			d.done = true
			if !errors.Is(err, io.EOF) {
				return "", fmt.Errorf("read stream: %w", err)
			}
			if oversize {
				d.dropOversize()
			} else if len(lines) > 0 {
				return strings.Join(lines, "\n"), nil
			}
			return "", io.EOF
		}
		if tooLong {
			oversize = true
			continue
		}
		switch {
		case line == "":
			if oversize {
				d.dropOversize()
				oversize = false
				lines = nil
				continue
			}
			if len(lines) > 0 {
				return strings.Join(lines, "\n"), nil
			}
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "data:"):
			part := strings.TrimPrefix(line, "data:")
			part = strings.TrimPrefix(part, " ")
			lines = append(lines, part)
		}
	}
}

func (d *Decoder) dropOversize() {
	d.skipped++
	d.logger.Warn("skipping oversize frame", "max_line_bytes", MaxLineSize)
}

// readLine returns the next line without its terminator. A line longer
// than MaxLineSize is consumed whole and reported as tooLong.
func (d *Decoder) readLine() (line string, tooLong bool, err error) {
	var buf []byte
	for {
		chunk, err := d.reader.ReadSlice('\n')
		if !tooLong {
			if len(buf)+len(chunk) > MaxLineSize+1 {
				tooLong = true
				buf = nil
			} else {
				buf = append(buf, chunk...)
			}
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		if err != nil {
			// A final line without a terminator still counts.
			if errors.Is(err, io.EOF) && (len(buf) > 0 || tooLong) {
				return trimEOL(buf), tooLong, nil
			}
			return "", false, err
		}
		return trimEOL(buf), tooLong, nil
	}
}

func trimEOL(b []byte) string {
	b = bytes.TrimSuffix(b, []byte("\n"))
	b = bytes.TrimSuffix(b, []byte("\r"))
	return string(b)
}

// IsEOF reports whether err marks the normal end of a stream.
func IsEOF(err error) bool { return errors.Is(err, io.EOF) }
