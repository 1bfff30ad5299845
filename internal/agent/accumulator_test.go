package agent

import (
	"errors"
	"testing"

	"github.com/cloudwego/eino/schema"
)

func TestAccumulatorOrdersByIndexAndConcatenates(t *testing.T) {
	acc := newAccumulator()
	acc.add(schema.ToolCall{Index: intPtr(1), ID: "b", Function: schema.FunctionCall{Name: "second", Arguments: `{"n":`}})
	acc.add(schema.ToolCall{Index: intPtr(0), ID: "a", Function: schema.FunctionCall{Name: "first", Arguments: `{}`}})
	acc.add(schema.ToolCall{Index: intPtr(1), Function: schema.FunctionCall{Arguments: `2}`}})

	got := acc.finalize()
	if len(got) != 2 {
		t.Fatalf("got %d invocations, want 2", len(got))
	}
	if got[0].ID != "a" || got[0].Name != "first" || string(got[0].Args) != `{}` {
		t.Fatalf("first invocation = %+v", got[0])
	}
	if got[1].ID != "b" || got[1].Name != "second" || string(got[1].Args) != `{"n":2}` {
		t.Fatalf("second invocation = %+v", got[1])
	}
}

func TestAccumulatorInvalidJSONIsTyped(t *testing.T) {
	acc := newAccumulator()
	acc.add(schema.ToolCall{Index: intPtr(0), Function: schema.FunctionCall{Name: "update_recipe", Arguments: `{"title":`}})
	acc.add(schema.ToolCall{Index: intPtr(1), Function: schema.FunctionCall{Name: "update_recipe"}})

	got := acc.finalize()
	for i, inv := range got {
		var argErr *ArgumentError
		if !errors.As(inv.Err, &argErr) {
			t.Fatalf("invocation %d: expected ArgumentError, got %v", i, inv.Err)
		}
		if inv.Args != nil {
			t.Fatalf("invocation %d: failed parse must not carry args", i)
		}
	}
	if !errors.Is(got[1].Err, errEmptyArguments) {
		t.Fatalf("empty buffer error = %v", got[1].Err)
	}
}

func TestAccumulatorWithoutIndex(t *testing.T) {
	acc := newAccumulator()
	acc.add(schema.ToolCall{ID: "x", Function: schema.FunctionCall{Name: "update_theme", Arguments: `{"mood":`}})
	acc.add(schema.ToolCall{ID: "x", Function: schema.FunctionCall{Name: "update_theme", Arguments: `"calm"}`}})
	acc.add(schema.ToolCall{ID: "y", Function: schema.FunctionCall{Name: "update_theme", Arguments: `{}`}})

	got := acc.finalize()
	if len(got) != 2 {
		t.Fatalf("got %d invocations, want 2", len(got))
	}
	if got[0].Name != "update_theme" || string(got[0].Args) != `{"mood":"calm"}` {
		t.Fatalf("first invocation = %+v", got[0])
	}
	if got[1].ID != "y" {
		t.Fatalf("second invocation = %+v", got[1])
	}
}
