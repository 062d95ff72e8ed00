// Package toolcalls validates tool_call_id referential integrity between
// assistant tool_calls and the tool messages that answer them (C4),
// grounded on _examples/original_source/src/poe_client.rs's
// extract_tool_call_id.
package toolcalls

import (
	"fmt"
	"strings"

	"github.com/poe2oai/gateway/internal/poetypes"
)

// ErrUnknownToolCallID is returned when a tool message references a
// tool_call_id that no preceding assistant message declared.
type ErrUnknownToolCallID struct {
	ID string
}

func (e *ErrUnknownToolCallID) Error() string {
	return fmt.Sprintf("tool message references unknown tool_call_id %q", e.ID)
}

// Validate walks messages in order, collecting assistant tool_calls and
// checking every tool message resolves to one of them. Returns the resolved
// tool_call_id → full ToolCall mapping (so callers can recover arguments and
// type alongside the name) and an error on any unresolved reference.
func Validate(messages []poetypes.Message) (map[string]poetypes.ToolCall, error) {
	known := make(map[string]poetypes.ToolCall) // id -> tool call

	for _, msg := range messages {
		if msg.Role == poetypes.RoleAssistant {
			for _, tc := range msg.ToolCalls {
				if _, dup := known[tc.ID]; dup {
					continue // duplicate id within the same request: keep first, warn-level concern for the caller
				}
				known[tc.ID] = tc
			}
			continue
		}

		if msg.Role != poetypes.RoleTool {
			continue
		}

		id, err := ResolveToolCallID(msg)
		if err != nil {
			return nil, err
		}
		if _, ok := known[id]; !ok {
			return nil, &ErrUnknownToolCallID{ID: id}
		}
	}

	return known, nil
}

// ResolveToolCallID extracts the tool_call_id a tool message answers,
// trying the explicit field first, then scanning the message content as
// JSON for a "tool_call_id" key, then falling back to a literal substring
// scan — the same three-step strategy as poe_client.rs's
// extract_tool_call_id.
func ResolveToolCallID(msg poetypes.Message) (string, error) {
	if msg.ToolCallID != "" {
		return msg.ToolCallID, nil
	}

	parts, err := msg.Parts()
	if err != nil {
		return "", fmt.Errorf("decode tool message content: %w", err)
	}

	var text string
	for _, p := range parts {
		if p.Type == poetypes.PartText {
			text += p.Text
		}
	}

	if id, ok := extractFromJSON(text); ok {
		return id, nil
	}
	if id, ok := extractFromSubstring(text); ok {
		return id, nil
	}

	return "", fmt.Errorf("tool message has no resolvable tool_call_id")
}

func extractFromJSON(text string) (string, bool) {
	// A lightweight scan rather than a full json.Unmarshal into a struct:
	// tool message content is free-form and may not be a JSON object at
	// all (poe_client.rs does the same guarded-parse-then-fallback).
	idx := strings.Index(text, `"tool_call_id"`)
	if idx < 0 {
		return "", false
	}
	return scanNextQuotedString(text[idx+len(`"tool_call_id"`):])
}

func extractFromSubstring(text string) (string, bool) {
	idx := strings.Index(text, "tool_call_id")
	if idx < 0 {
		return "", false
	}
	return scanNextQuotedString(text[idx+len("tool_call_id"):])
}

// scanNextQuotedString finds the next "..." literal after the given
// position and returns its contents.
func scanNextQuotedString(rest string) (string, bool) {
	start := strings.IndexByte(rest, '"')
	if start < 0 {
		return "", false
	}
	rest = rest[start+1:]
	end := strings.IndexByte(rest, '"')
	if end < 0 {
		return "", false
	}
	return rest[:end], true
}

// ToolName returns the function name for a known tool_call_id, or
// "unknown" if absent — spec.md §4.4's name-resolution fallback.
func ToolName(known map[string]poetypes.ToolCall, id string) string {
	if tc, ok := known[id]; ok && tc.Function.Name != "" {
		return tc.Function.Name
	}
	return "unknown"
}
