package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tidwall/gjson"
)

// ErrMalformedEvent is returned when a payload is not a JSON object with a
// string "type" member.
var ErrMalformedEvent = errors.New("malformed event")

// Decode parses one event payload. Unrecognized tags decode to Unknown so
// newer producers do not break older consumers.
func Decode(data []byte) (Event, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("%w: invalid json", ErrMalformedEvent)
	}
	root := gjson.ParseBytes(data)
	if !root.IsObject() {
		return nil, fmt.Errorf("%w: not an object", ErrMalformedEvent)
	}
	tag := root.Get("type")
	if tag.Type != gjson.String || tag.Str == "" {
		return nil, fmt.Errorf("%w: missing type", ErrMalformedEvent)
	}

	switch EventType(tag.Str) {
	case TypeRunStarted:
		return decodeAs[RunStarted](data)
	case TypeStateSnapshot:
		evt, err := decodeAs[StateSnapshot](data)
		if err != nil {
			return nil, err
		}
		// Some producers name the payload "snapshot".
		if len(evt.State) == 0 {
			if alt := root.Get("snapshot"); alt.Exists() {
				evt.State = json.RawMessage(alt.Raw)
			}
		}
		return evt, nil
	case TypeTextMessageStart:
		return decodeAs[TextMessageStart](data)
	case TypeTextMessageContent:
		evt, err := decodeAs[TextMessageContent](data)
		if err != nil {
			return nil, err
		}
		if evt.Content == "" {
			evt.Content = root.Get("delta").String()
		}
		return evt, nil
	case TypeTextMessageEnd:
		return decodeAs[TextMessageEnd](data)
	case TypeToolCallStart:
		return decodeAs[ToolCallStart](data)
	case TypeToolCallEnd:
		return decodeAs[ToolCallEnd](data)
	case TypeStateDelta:
		return decodeAs[StateDelta](data)
	case TypeRunError:
		return decodeAs[RunError](data)
	case TypeRunFinished:
		return decodeAs[RunFinished](data)
	default:
		raw := make(json.RawMessage, len(data))
		copy(raw, data)
		return Unknown{
			Base: Base{Type: EventType(tag.Str), Timestamp: root.Get("timestamp").String()},
			Raw:  raw,
		}, nil
	}
}

func decodeAs[T Event](data []byte) (T, error) {
	var evt T
	if err := json.Unmarshal(data, &evt); err != nil {
		return evt, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	return evt, nil
}
