package stream

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/sharedstate/internal/protocol"
)

func readAll(t *testing.T, d *Decoder) []protocol.Event {
	t.Helper()
	var out []protocol.Event
	for {
		evt, err := d.Next()
		if IsEOF(err) {
			return out
		}
		require.NoError(t, err)
		out = append(out, evt)
	}
}

func TestDecoderSkipsMalformedFrame(t *testing.T) {
	input := strings.Join([]string{
		`data: {"type":"RUN_STARTED","runId":"r1","timestamp":"2025-01-01T00:00:00Z"}`,
		``,
		`data: {"type":"TEXT_MESSAGE_CONTENT", broken`,
		``,
		`data: {"type":"RUN_FINISHED","runId":"r1","timestamp":"2025-01-01T00:00:01Z"}`,
		``,
	}, "\n")
	d := NewDecoder(strings.NewReader(input), nil)

	events := readAll(t, d)
	require.Len(t, events, 2)
	assert.Equal(t, protocol.TypeRunStarted, events[0].EventType())
	assert.Equal(t, protocol.TypeRunFinished, events[1].EventType())
	assert.Equal(t, 1, d.Skipped())
}

func TestDecoderHandlesCommentsCRLFAndTrailingFrame(t *testing.T) {
	input := ": ping 1\r\n\r\n" +
		"event: message\r\n" +
		"data: {\"type\":\"TEXT_MESSAGE_START\",\"messageId\":\"m\",\"role\":\"assistant\"}\r\n\r\n" +
		"data:{\"type\":\"TEXT_MESSAGE_END\",\"messageId\":\"m\"}"
	d := NewDecoder(strings.NewReader(input), nil)

	events := readAll(t, d)
	require.Len(t, events, 2)
	assert.Equal(t, "m", events[0].(protocol.TextMessageStart).MessageID)
	assert.Equal(t, protocol.TypeTextMessageEnd, events[1].EventType())
	assert.Zero(t, d.Skipped())
}

func TestDecoderSkipsOversizeFrame(t *testing.T) {
	huge := `data: {"type":"TEXT_MESSAGE_CONTENT","messageId":"m","content":"` +
		strings.Repeat("x", MaxLineSize) + `"}`
	input := strings.Join([]string{
		`data: {"type":"RUN_STARTED","runId":"r1"}`,
		``,
		huge,
		``,
		`data: {"type":"RUN_FINISHED","runId":"r1"}`,
		``,
		huge,
	}, "\n")
	d := NewDecoder(strings.NewReader(input), nil)

	events := readAll(t, d)
	require.Len(t, events, 2)
	assert.Equal(t, protocol.TypeRunStarted, events[0].EventType())
	assert.Equal(t, protocol.TypeRunFinished, events[1].EventType())
	assert.Equal(t, 2, d.Skipped(), "both oversize frames are counted, including the unterminated one")
}

func TestDecoderKeepsLongLineUnderCap(t *testing.T) {
	content := strings.Repeat("y", 200*1024)
	input := `data: {"type":"TEXT_MESSAGE_CONTENT","messageId":"m","content":"` + content + `"}` + "\n\n"
	d := NewDecoder(strings.NewReader(input), nil)

	events := readAll(t, d)
	require.Len(t, events, 1)
	assert.Equal(t, content, events[0].(protocol.TextMessageContent).Content)
	assert.Zero(t, d.Skipped())
}

func TestDecoderUnknownTypeIsNotSkipped(t *testing.T) {
	d := NewDecoder(strings.NewReader("data: {\"type\":\"MESSAGES_SNAPSHOT\",\"messages\":[]}\n\n"), nil)
	events := readAll(t, d)
	require.Len(t, events, 1)
	_, ok := events[0].(protocol.Unknown)
	assert.True(t, ok)
}
