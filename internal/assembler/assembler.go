// Package assembler implements the request assembler (C5): it remaps
// OpenAI roles onto the upstream's role vocabulary, flattens multipart
// message content into the upstream's text+attachments shape, injects
// model-suffix directives on the final user message, and resolves model-id
// mapping, grounded on
// _examples/original_source/src/poe_client.rs's create_chat_request and
// openai_message_to_poe.
package assembler

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/poe2oai/gateway/internal/config"
	"github.com/poe2oai/gateway/internal/poetypes"
	"github.com/poe2oai/gateway/internal/toolcalls"
)

var validReasoningEfforts = map[string]bool{"low": true, "medium": true, "high": true}

// Assemble builds the upstream request body from an inbound OpenAI request,
// applying role remapping, content flattening, and suffix injection. It does
// not resolve model mappings; req.Model is used as given (see ResolveModel).
func Assemble(req *poetypes.ChatCompletionRequest, cfg *config.Config, known map[string]poetypes.ToolCall, logger *slog.Logger) (poetypes.UpstreamRequest, error) {
	modelCfg, hasCfg := cfg.LookupModel(req.Model)
	replaceResponse := hasCfg && modelCfg.ReplaceResponse

	lastUserIdx := -1
	for i, m := range req.Messages {
		if m.Role == poetypes.RoleUser {
			lastUserIdx = i
		}
	}

	query := make([]poetypes.UpstreamMessage, 0, len(req.Messages))
	var toolResults []poetypes.UpstreamToolResult
	var toolCalls []poetypes.ToolCall
	seenToolCalls := make(map[string]bool)

	for i, msg := range req.Messages {
		role := remapRole(msg.Role, replaceResponse)

		text, attachments, err := flattenContent(msg, known)
		if err != nil {
			return poetypes.UpstreamRequest{}, fmt.Errorf("flatten message %d: %w", i, err)
		}

		if i == lastUserIdx {
			text += buildSuffix(req, logger)
		}

		if msg.Role == poetypes.RoleAssistant {
			for _, tc := range msg.ToolCalls {
				if seenToolCalls[tc.ID] {
					continue
				}
				seenToolCalls[tc.ID] = true
				toolCalls = append(toolCalls, tc)
			}
		}

		if msg.Role == poetypes.RoleTool {
			id, err := toolcalls.ResolveToolCallID(msg)
			if err != nil {
				return poetypes.UpstreamRequest{}, fmt.Errorf("resolve tool_call_id for message %d: %w", i, err)
			}
			toolResults = append(toolResults, poetypes.UpstreamToolResult{
				Role:       role,
				ToolCallID: id,
				Name:       toolcalls.ToolName(known, id),
				Content:    text,
			})
			continue
		}

		query = append(query, poetypes.UpstreamMessage{
			Role:        role,
			Content:     text,
			ContentType: "text/markdown",
			Attachments: attachments,
		})
	}

	return poetypes.UpstreamRequest{
		Version:     "1.0",
		Type:        "query",
		Query:       query,
		Temperature: req.Temperature,
		Tools:       req.Tools,
		ToolCalls:   toolCalls,
		ToolResults: toolResults,
		StopSequences: req.Stop,
		LogitBias:   req.LogitBias,
	}, nil
}

// remapRole implements spec.md §4.5's role remapping table.
func remapRole(role poetypes.Role, replaceResponse bool) string {
	switch role {
	case poetypes.RoleAssistant:
		return "bot"
	case poetypes.RoleDeveloper, poetypes.RoleTool:
		return "user"
	case poetypes.RoleSystem:
		if replaceResponse {
			return "user"
		}
		return string(role)
	default:
		return string(role)
	}
}

func flattenContent(msg poetypes.Message, known map[string]poetypes.ToolCall) (string, []poetypes.UpstreamAttachment, error) {
	parts, err := msg.Parts()
	if err != nil {
		return "", nil, fmt.Errorf("decode content: %w", err)
	}

	var text strings.Builder
	var attachments []poetypes.UpstreamAttachment

	if msg.ToolCallID != "" {
		fmt.Fprintf(&text, "Tool Call ID: %s\n", msg.ToolCallID)
	}

	for _, p := range parts {
		switch p.Type {
		case poetypes.PartText:
			if text.Len() > 0 {
				text.WriteByte('\n')
			}
			text.WriteString(p.Text)
		case poetypes.PartImageURL:
			attachments = append(attachments, poetypes.UpstreamAttachment{URL: p.ImageURL.URL})
		default:
			// Unknown part variants are ignored (spec.md §4.5).
		}
	}

	for _, tc := range msg.ToolCalls {
		if text.Len() > 0 {
			text.WriteByte('\n')
		}
		fmt.Fprintf(&text, "Tool Call: %s (%s)\nArguments: %s", tc.Function.Name, tc.ID, tc.Function.Arguments)
	}

	return text.String(), attachments, nil
}

// buildSuffix implements spec.md §4.5's suffix-injection rules, applied
// only to the content of the final user message.
func buildSuffix(req *poetypes.ChatCompletionRequest, logger *slog.Logger) string {
	var suffix strings.Builder

	for _, tool := range req.Tools {
		if tool.Function.Description == "" {
			fmt.Fprintf(&suffix, " --%s", tool.Function.Name)
		}
	}

	if budget, ok := req.ThinkingBudget(); ok && budget >= 0 {
		fmt.Fprintf(&suffix, " --thinking_budget %d", budget)
	}

	if req.ReasoningEffort != "" {
		if validReasoningEfforts[req.ReasoningEffort] {
			fmt.Fprintf(&suffix, " --reasoning_effort %s", req.ReasoningEffort)
		} else if logger != nil {
			logger.Warn("dropping invalid reasoning_effort", "value", req.ReasoningEffort)
		}
	}

	return suffix.String()
}

// ResolveModel implements spec.md §4.5's model mapping resolution: when the
// config is enabled, search for an entry whose mapping equals the
// requested id (case-insensitive reverse lookup) and use that entry's key
// as the upstream model id; otherwise pass the requested id through
// unchanged.
func ResolveModel(cfg *config.Config, requested string) string {
	if !cfg.IsEnabled() {
		return requested
	}

	lower := strings.ToLower(requested)
	for key, mc := range cfg.Models {
		if mc.Mapping != "" && strings.ToLower(mc.Mapping) == lower {
			return key
		}
	}

	return requested
}
