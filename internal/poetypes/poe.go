package poetypes

import (
	"encoding/json"
	"fmt"
)

// EventType discriminates an upstream event's variant (spec.md §3).
type EventType string

const (
	EventText            EventType = "text"
	EventReplaceResponse EventType = "replace_response"
	EventFile            EventType = "file"
	EventJSON            EventType = "json"
	EventError           EventType = "error"
	EventDone            EventType = "done"
)

// Event is the closed sum type over upstream events. Exactly one of the
// payload fields is populated, selected by Type — mirrors the teacher's
// CommonResponse/AnthropicContent tagged-union style and
// _examples/original_source/src/evert.rs's ChatEventType/ChatResponseData.
type Event struct {
	Type EventType

	Text struct {
		Text string
	}
	File       FileData
	ToolCalls  []ToolCall
	Error      struct {
		Text       string
		AllowRetry bool
	}
}

// FileData is an upstream file attachment reference.
type FileData struct {
	Name      string `json:"name"`
	URL       string `json:"url"`
	InlineRef string `json:"inline_ref"`
	MimeType  string `json:"content_type,omitempty"`
}

// wireEvent is the upstream's actual SSE payload shape; decoded once per
// frame and normalized into Event.
type wireEvent struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// DecodeEvent parses one upstream SSE `data:` payload into an Event.
func DecodeEvent(raw []byte) (Event, error) {
	var w wireEvent
	if err := json.Unmarshal(raw, &w); err != nil {
		return Event{}, fmt.Errorf("decode upstream event envelope: %w", err)
	}

	var ev Event
	switch w.Event {
	case "text":
		ev.Type = EventText
		var d struct {
			Text string `json:"text"`
		}
		if err := json.Unmarshal(w.Data, &d); err != nil {
			return Event{}, fmt.Errorf("decode text event: %w", err)
		}
		ev.Text.Text = d.Text
	case "replace_response":
		ev.Type = EventReplaceResponse
		var d struct {
			Text string `json:"text"`
		}
		if err := json.Unmarshal(w.Data, &d); err != nil {
			return Event{}, fmt.Errorf("decode replace_response event: %w", err)
		}
		ev.Text.Text = d.Text
	case "file":
		ev.Type = EventFile
		if err := json.Unmarshal(w.Data, &ev.File); err != nil {
			return Event{}, fmt.Errorf("decode file event: %w", err)
		}
	case "json":
		ev.Type = EventJSON
		var d struct {
			ToolCalls []ToolCall `json:"tool_calls"`
		}
		if err := json.Unmarshal(w.Data, &d); err != nil {
			return Event{}, fmt.Errorf("decode json event: %w", err)
		}
		ev.ToolCalls = d.ToolCalls
	case "error":
		ev.Type = EventError
		var d struct {
			Text       string `json:"text"`
			AllowRetry bool   `json:"allow_retry"`
		}
		if err := json.Unmarshal(w.Data, &d); err != nil {
			return Event{}, fmt.Errorf("decode error event: %w", err)
		}
		ev.Error.Text = d.Text
		ev.Error.AllowRetry = d.AllowRetry
	case "done":
		ev.Type = EventDone
	default:
		return Event{}, fmt.Errorf("unknown upstream event type %q", w.Event)
	}

	return ev, nil
}

// UpstreamRequest is the outbound request body sent to the Poe-like
// upstream (spec.md §3).
type UpstreamRequest struct {
	Version        string             `json:"version"`
	Type           string             `json:"type"`
	Query          []UpstreamMessage  `json:"query"`
	Temperature    *float32           `json:"temperature,omitempty"`
	UserID         string             `json:"user_id"`
	ConversationID string             `json:"conversation_id"`
	MessageID      string             `json:"message_id"`
	Tools          []ChatTool         `json:"tools,omitempty"`
	ToolCalls      []ToolCall         `json:"tool_calls,omitempty"`
	ToolResults    []UpstreamToolResult `json:"tool_results,omitempty"`
	LogitBias      map[string]float32 `json:"logit_bias,omitempty"`
	StopSequences  []string           `json:"stop_sequences,omitempty"`
}

type UpstreamAttachment struct {
	URL         string `json:"url"`
	ContentType string `json:"content_type,omitempty"`
}

type UpstreamMessage struct {
	Role        string               `json:"role"`
	Content     string               `json:"content"`
	ContentType string               `json:"content_type"`
	Attachments []UpstreamAttachment `json:"attachments,omitempty"`
}

type UpstreamToolResult struct {
	Role       string `json:"role"`
	ToolCallID string `json:"tool_call_id"`
	Name       string `json:"name"`
	Content    string `json:"content"`
}
