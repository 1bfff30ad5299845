// Package document defines the structured documents an agent maintains and
// the single update tool it declares for each.
package document

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/cloudwego/eino/schema"
	"github.com/tidwall/gjson"
)

// Kind describes one document type: its state key, its update tool and how
// to fill missing fields.
type Kind struct {
	// Name identifies the agent serving this kind ("recipe", "theme").
	Name string
	// Key is the member of the shared state holding the document.
	Key string
	// Tool is the only operation the model may call to change the document.
	Tool *schema.ToolInfo
	// Instruction is the system prompt; %s receives the current document.
	Instruction string

	defaults  func() any
	normalize func(data []byte) (any, error)
}

// Path is the JSON Pointer of the document root inside the shared state.
func (k Kind) Path() string { return "/" + k.Key }

// ToolName returns the name of the declared update tool.
func (k Kind) ToolName() string { return k.Tool.Name }

// Default returns the document with every field at its default.
func (k Kind) Default() json.RawMessage {
	data, _ := json.Marshal(k.defaults())
	return data
}

// Normalize decodes data as a document, filling missing fields with their
// defaults, and re-encodes it. Empty input or JSON null yield Default.
func (k Kind) Normalize(data []byte) (json.RawMessage, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return k.Default(), nil
	}
	doc, err := k.normalize(trimmed)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", k.Name, err)
	}
	out, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", k.Name, err)
	}
	return out, nil
}

// FromState extracts this kind's document from a shared-state object.
// It reports false when state carries no member for the kind.
func (k Kind) FromState(state []byte) (json.RawMessage, bool) {
	if len(bytes.TrimSpace(state)) == 0 || !gjson.ValidBytes(state) {
		return nil, false
	}
	member := gjson.GetBytes(state, k.Key)
	if !member.Exists() || member.Type == gjson.Null {
		return nil, false
	}
	return json.RawMessage(member.Raw), true
}

// SystemPrompt renders the instruction around the current document.
func (k Kind) SystemPrompt(current json.RawMessage) string {
	return fmt.Sprintf(k.Instruction, string(current))
}

// Lookup returns the kind registered under name.
func Lookup(name string) (Kind, bool) {
	switch name {
	case RecipeKind.Name:
		return RecipeKind, true
	case ThemeKind.Name:
		return ThemeKind, true
	}
	return Kind{}, false
}

type defaulter interface {
	fillDefaults()
}

// decodeInto unmarshals over a fully defaulted value so absent members keep
// their defaults, then repairs members that were present but empty.
func decodeInto[T any, P interface {
	*T
	defaulter
}](fresh func() T) func([]byte) (any, error) {
	return func(data []byte) (any, error) {
		doc := fresh()
		if err := json.Unmarshal(data, P(&doc)); err != nil {
			return nil, err
		}
		P(&doc).fillDefaults()
		return doc, nil
	}
}
