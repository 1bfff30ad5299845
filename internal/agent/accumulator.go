package agent

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/cloudwego/eino/schema"
)

// ArgumentError reports a tool invocation whose accumulated argument buffer
// is not valid JSON.
type ArgumentError struct {
	Tool string
	Raw  string
	Err  error
}

func (e *ArgumentError) Error() string {
	return fmt.Sprintf("invalid arguments for tool %q: %v", e.Tool, e.Err)
}

func (e *ArgumentError) Unwrap() error { return e.Err }

var errEmptyArguments = errors.New("empty argument buffer")

// Invocation is a completed tool call. Exactly one of Args and Err is set.
type Invocation struct {
	Index int
	ID    string
	Name  string
	Args  json.RawMessage
	Err   error
}

type partialCall struct {
	id   string
	name strings.Builder
	args strings.Builder
}

// accumulator collects streamed tool-call fragments keyed by their
// positional index. It is append-only; arguments are parsed once, in
// finalize.
type accumulator struct {
	calls map[int]*partialCall
	byID  map[string]int
}

func newAccumulator() *accumulator {
	return &accumulator{
		calls: make(map[int]*partialCall),
		byID:  make(map[string]int),
	}
}

// add routes one fragment. Fragments without an index are matched by ID,
// or start a new call when the ID is unseen.
func (a *accumulator) add(tc schema.ToolCall) {
	idx, ok := a.indexOf(tc)
	if !ok {
		idx = a.nextIndex()
	}
	p, exists := a.calls[idx]
	if !exists {
		p = &partialCall{}
		a.calls[idx] = p
	}
	if tc.ID != "" && p.id == "" {
		p.id = tc.ID
		a.byID[tc.ID] = idx
	}
	// Providers that resend the whole name on every chunk would otherwise
	// duplicate it.
	if name := tc.Function.Name; name != "" && name != p.name.String() {
		p.name.WriteString(name)
	}
	p.args.WriteString(tc.Function.Arguments)
}

func (a *accumulator) indexOf(tc schema.ToolCall) (int, bool) {
	if tc.Index != nil {
		return *tc.Index, true
	}
	if tc.ID != "" {
		idx, ok := a.byID[tc.ID]
		return idx, ok
	}
	// An anonymous fragment continues the most recent call.
	if len(a.calls) == 0 {
		return 0, false
	}
	return a.nextIndex() - 1, true
}

func (a *accumulator) nextIndex() int {
	next := 0
	for idx := range a.calls {
		if idx >= next {
			next = idx + 1
		}
	}
	return next
}

func (a *accumulator) len() int { return len(a.calls) }

// finalize returns the completed invocations ordered by index.
func (a *accumulator) finalize() []Invocation {
	indexes := make([]int, 0, len(a.calls))
	for idx := range a.calls {
		indexes = append(indexes, idx)
	}
	sort.Ints(indexes)

	out := make([]Invocation, 0, len(indexes))
	for _, idx := range indexes {
		p := a.calls[idx]
		inv := Invocation{Index: idx, ID: p.id, Name: p.name.String()}
		raw := strings.TrimSpace(p.args.String())
		if raw == "" {
			inv.Err = &ArgumentError{Tool: inv.Name, Err: errEmptyArguments}
		} else if err := json.Unmarshal([]byte(raw), &inv.Args); err != nil {
			inv.Args = nil
			inv.Err = &ArgumentError{Tool: inv.Name, Raw: raw, Err: err}
		}
		out = append(out, inv)
	}
	return out
}
