package agent

import (
	"context"
	"fmt"
	"os"

	"github.com/open-policy-agent/opa/rego"
)

// Policy decisions.
const (
	DecisionAllow = "allow"
	DecisionBlock = "block"
)

// PolicyInput is the document evaluated for every completed tool call.
type PolicyInput struct {
	ToolName     string   `json:"tool_name"`
	DeclaredTool string   `json:"declared_tool"`
	Kind         string   `json:"kind"`
	Args         any      `json:"args"`
	ColorFields  []string `json:"color_fields,omitempty"`
}

// Verdict is the outcome of a policy evaluation.
type Verdict struct {
	Decision string
	Reason   string
}

func (v Verdict) Allowed() bool { return v.Decision == DecisionAllow }

// Policy gates tool invocations with a rego module.
type Policy struct {
	query rego.PreparedEvalQuery
}

// NewPolicy compiles module. An empty module selects DefaultPolicy.
func NewPolicy(ctx context.Context, module string) (*Policy, error) {
	if module == "" {
		module = DefaultPolicy
	}
	r := rego.New(
		rego.Query("data.tool_policy.verdict"),
		rego.Module("tool_policy.rego", module),
	)
	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("prepare tool policy: %w", err)
	}
	return &Policy{query: query}, nil
}

// LoadPolicy reads a rego module from path. An empty path yields the
// built-in policy.
func LoadPolicy(ctx context.Context, path string) (*Policy, error) {
	if path == "" {
		return NewPolicy(ctx, "")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tool policy: %w", err)
	}
	return NewPolicy(ctx, string(data))
}

// Evaluate runs the policy against input. An undefined result allows.
func (p *Policy) Evaluate(ctx context.Context, input PolicyInput) (Verdict, error) {
	results, err := p.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return Verdict{}, fmt.Errorf("evaluate tool policy: %w", err)
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return Verdict{Decision: DecisionAllow}, nil
	}

	obj, ok := results[0].Expressions[0].Value.(map[string]any)
	if !ok {
		return Verdict{}, fmt.Errorf("tool policy returned %T, want object", results[0].Expressions[0].Value)
	}
	v := Verdict{}
	v.Decision, _ = obj["decision"].(string)
	v.Reason, _ = obj["reason"].(string)
	if v.Decision != DecisionAllow && v.Decision != DecisionBlock {
		return Verdict{}, fmt.Errorf("tool policy returned unknown decision %q", v.Decision)
	}
	return v, nil
}

// DefaultPolicy blocks undeclared tools and theme updates with colors that
// are not #RRGGBB.
const DefaultPolicy = `
package tool_policy

default decision = "allow"

default reason = ""

declared {
	input.tool_name == input.declared_tool
}

decision = "block" {
	not declared
}

reason = msg {
	not declared
	msg := sprintf("Unknown tool: %s", [input.tool_name])
}

bad_color[field] {
	input.kind == "theme"
	field := input.color_fields[_]
	value := input.args[field]
	not re_match("^#[0-9A-Fa-f]{6}$", value)
}

decision = "block" {
	declared
	count(bad_color) > 0
}

reason = msg {
	declared
	count(bad_color) > 0
	msg := sprintf("Invalid color for %s", [concat(", ", sort(bad_color))])
}

verdict = {"decision": decision, "reason": reason}
`
