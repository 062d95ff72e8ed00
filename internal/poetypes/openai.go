// Package poetypes defines the wire-level shapes this gateway translates
// between: the inbound OpenAI Chat Completions request/response types and
// the upstream Poe event/request types.
package poetypes

import (
	"encoding/json"
	"fmt"
)

// Role is an OpenAI chat message role.
type Role string

const (
	RoleSystem    Role = "system"
	RoleDeveloper Role = "developer"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ChatCompletionRequest is an inbound OpenAI Chat Completions payload.
// Unknown top-level fields are tolerated by the JSON decoder (they are
// simply never read).
type ChatCompletionRequest struct {
	Model           string                 `json:"model"`
	Messages        []Message              `json:"messages"`
	Temperature     *float32               `json:"temperature,omitempty"`
	Stop            []string               `json:"stop,omitempty"`
	LogitBias       map[string]float32     `json:"logit_bias,omitempty"`
	Tools           []ChatTool             `json:"tools,omitempty"`
	Stream          *bool                  `json:"stream,omitempty"`
	StreamOptions   *StreamOptions         `json:"stream_options,omitempty"`
	Thinking        *ThinkingConfig        `json:"thinking,omitempty"`
	ReasoningEffort string                 `json:"reasoning_effort,omitempty"`
	ExtraBody       map[string]interface{} `json:"extra_body,omitempty"`
}

func (r *ChatCompletionRequest) IsStreaming() bool {
	return r.Stream != nil && *r.Stream
}

func (r *ChatCompletionRequest) IncludeUsage() bool {
	return r.StreamOptions != nil && r.StreamOptions.IncludeUsage != nil && *r.StreamOptions.IncludeUsage
}

type StreamOptions struct {
	IncludeUsage *bool `json:"include_usage,omitempty"`
}

// ThinkingConfig mirrors Anthropic's `thinking.budget_tokens` request field,
// forwarded through OpenAI-compatible clients that pass it through unknown
// fields.
type ThinkingConfig struct {
	BudgetTokens *int `json:"budget_tokens,omitempty"`
}

// GoogleThinkingBudget extracts extra_body.google.thinking_config.thinking_budget
// when present, per spec.md §4.5 suffix-injection rule.
func (r *ChatCompletionRequest) GoogleThinkingBudget() (int, bool) {
	google, ok := r.ExtraBody["google"].(map[string]interface{})
	if !ok {
		return 0, false
	}
	tc, ok := google["thinking_config"].(map[string]interface{})
	if !ok {
		return 0, false
	}
	v, ok := tc["thinking_budget"]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	default:
		return 0, false
	}
}

// ThinkingBudget resolves the request's thinking budget, preferring the
// top-level `thinking.budget_tokens` field over extra_body's Gemini-shaped
// equivalent, per spec.md §4.5.
func (r *ChatCompletionRequest) ThinkingBudget() (int, bool) {
	if r.Thinking != nil && r.Thinking.BudgetTokens != nil {
		return *r.Thinking.BudgetTokens, true
	}
	return r.GoogleThinkingBudget()
}

// Message is one OpenAI chat message. Content is a tagged union: either a
// plain string or an ordered list of ContentPart — represented here via
// the raw Content field plus the lazily-parsed Parts accessor.
type Message struct {
	Role       Role            `json:"role"`
	Content    json.RawMessage `json:"content,omitempty"`
	ToolCalls  []ToolCall      `json:"tool_calls,omitempty"`
	ToolCallID string          `json:"tool_call_id,omitempty"`
}

// Parts decodes Content into a normalized slice of ContentPart, handling
// both the bare-string and multipart-array encodings OpenAI allows.
func (m *Message) Parts() ([]ContentPart, error) {
	if len(m.Content) == 0 {
		return nil, nil
	}

	var asString string
	if err := json.Unmarshal(m.Content, &asString); err == nil {
		if asString == "" {
			return nil, nil
		}
		return []ContentPart{{Type: PartText, Text: asString}}, nil
	}

	var raw []json.RawMessage
	if err := json.Unmarshal(m.Content, &raw); err != nil {
		return nil, fmt.Errorf("decode message content: %w", err)
	}

	parts := make([]ContentPart, 0, len(raw))
	for _, r := range raw {
		part, err := decodeContentPart(r)
		if err != nil {
			return nil, err
		}
		parts = append(parts, part)
	}
	return parts, nil
}

// PartType discriminates a ContentPart's variant (spec.md §3: text,
// image_url, tool_result, input_audio, opaque-other).
type PartType string

const (
	PartText       PartType = "text"
	PartImageURL   PartType = "image_url"
	PartToolResult PartType = "tool_result"
	PartInputAudio PartType = "input_audio"
	PartOther      PartType = "other"
)

// ContentPart is a closed sum type over OpenAI's multipart content blocks.
// Fields outside the active variant are left zero.
type ContentPart struct {
	Type       PartType
	Text       string
	ImageURL   ImageURLPart
	InputAudio json.RawMessage
	Raw        json.RawMessage // the original block, preserved for PartOther round-tripping
}

type ImageURLPart struct {
	URL    string `json:"url"`
	Detail string `json:"detail,omitempty"`
}

func decodeContentPart(raw json.RawMessage) (ContentPart, error) {
	var probe struct {
		Type     string          `json:"type"`
		Text     string          `json:"text"`
		ImageURL json.RawMessage `json:"image_url"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return ContentPart{}, fmt.Errorf("decode content part: %w", err)
	}

	// Missing `type`: infer from presence of known keys, per spec.md §3/§9.
	inferredType := probe.Type
	if inferredType == "" {
		switch {
		case probe.Text != "":
			inferredType = string(PartText)
		case len(probe.ImageURL) > 0:
			inferredType = string(PartImageURL)
		}
	}

	switch PartType(inferredType) {
	case PartText:
		return ContentPart{Type: PartText, Text: probe.Text, Raw: raw}, nil
	case PartImageURL:
		var img ImageURLPart
		if len(probe.ImageURL) > 0 {
			if err := json.Unmarshal(probe.ImageURL, &img); err != nil {
				return ContentPart{}, fmt.Errorf("decode image_url part: %w", err)
			}
		}
		return ContentPart{Type: PartImageURL, ImageURL: img, Raw: raw}, nil
	case PartInputAudio:
		return ContentPart{Type: PartInputAudio, Raw: raw}, nil
	default:
		return ContentPart{Type: PartOther, Raw: raw}, nil
	}
}

// ChatTool is an OpenAI tool (function) definition.
type ChatTool struct {
	Type     string       `json:"type"`
	Function ToolFunction `json:"function"`
}

type ToolFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// ToolCall is an OpenAI-shaped tool call, either inbound (on an assistant
// message) or outbound (in a streamed/assembled response).
type ToolCall struct {
	ID       string           `json:"id"`
	Type     string           `json:"type"`
	Function ToolCallFunction `json:"function"`
}

type ToolCallFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Delta is one streaming chunk's incremental message content.
type Delta struct {
	Role             string     `json:"role,omitempty"`
	Content          *string    `json:"content,omitempty"`
	ReasoningContent *string    `json:"reasoning_content,omitempty"`
	ToolCalls        []ToolCall `json:"tool_calls,omitempty"`
}

type Choice struct {
	Index        int     `json:"index"`
	Delta        Delta   `json:"delta"`
	FinishReason *string `json:"finish_reason"`
}

// ChatCompletionChunk is one `data: <json>` SSE frame's payload.
type ChatCompletionChunk struct {
	ID      string   `json:"id"`
	Object  string   `json:"object"`
	Created int64    `json:"created"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
	Usage   *Usage   `json:"usage,omitempty"`
}

// CompletionMessage is the assembled message of a non-streaming response.
type CompletionMessage struct {
	Role             string     `json:"role"`
	Content          string     `json:"content"`
	ReasoningContent string     `json:"reasoning_content,omitempty"`
	ToolCalls        []ToolCall `json:"tool_calls,omitempty"`
}

type CompletionChoice struct {
	Index        int                `json:"index"`
	Message      CompletionMessage  `json:"message"`
	FinishReason string             `json:"finish_reason"`
}

// ChatCompletionResponse is the non-streaming response body.
type ChatCompletionResponse struct {
	ID      string              `json:"id"`
	Object  string              `json:"object"`
	Created int64               `json:"created"`
	Model   string              `json:"model"`
	Choices []CompletionChoice  `json:"choices"`
	Usage   *Usage              `json:"usage,omitempty"`
}

type Usage struct {
	PromptTokens        uint32              `json:"prompt_tokens"`
	CompletionTokens     uint32             `json:"completion_tokens"`
	TotalTokens          uint32             `json:"total_tokens"`
	PromptTokensDetails  PromptTokensDetail `json:"prompt_tokens_details"`
}

type PromptTokensDetail struct {
	CachedTokens uint32 `json:"cached_tokens"`
}

// ErrorResponse is the OpenAI-shaped error envelope (spec.md §6/§7).
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

type ErrorBody struct {
	Message string  `json:"message"`
	Type    string  `json:"type"`
	Code    string  `json:"code"`
	Param   *string `json:"param"`
}

// ModelInfo is one entry of a `/v1/models`-shaped listing.
type ModelInfo struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	OwnedBy string `json:"owned_by"`
}

type ModelListResponse struct {
	Object string      `json:"object"`
	Data   []ModelInfo `json:"data"`
}
