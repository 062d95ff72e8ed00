package translate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poe2oai/gateway/internal/poetypes"
)

func textEvent(s string) poetypes.Event {
	return poetypes.Event{Type: poetypes.EventText, Text: struct{ Text string }{Text: s}}
}

func replaceEvent(s string) poetypes.Event {
	return poetypes.Event{Type: poetypes.EventReplaceResponse, Text: struct{ Text string }{Text: s}}
}

func fileEvent(ref, url string) poetypes.Event {
	return poetypes.Event{Type: poetypes.EventFile, File: poetypes.FileData{InlineRef: ref, URL: url}}
}

func jsonEvent(calls ...poetypes.ToolCall) poetypes.Event {
	return poetypes.Event{Type: poetypes.EventJSON, ToolCalls: calls}
}

func doneEvent() poetypes.Event {
	return poetypes.Event{Type: poetypes.EventDone}
}

func newPipeline() *Pipeline {
	return NewPipeline(OutputGenerator{ID: "chatcmpl-1", Created: 1000, Model: "test-model"})
}

// S1 — plain streaming text.
func TestScenario_S1_PlainStreamingText(t *testing.T) {
	p := newPipeline()

	var all []poetypes.ChatCompletionChunk
	all = append(all, p.Step(textEvent("Hi "))...)
	all = append(all, p.Step(textEvent("there"))...)
	all = append(all, p.Step(doneEvent())...)

	require.Len(t, all, 4)
	assert.Equal(t, "assistant", all[0].Choices[0].Delta.Role)
	assert.Equal(t, "Hi ", *all[1].Choices[0].Delta.Content)
	assert.Equal(t, "there", *all[2].Choices[0].Delta.Content)
	assert.Equal(t, "stop", *all[3].Choices[0].FinishReason)
}

// S2 — ReplaceResponse + Text merge.
func TestScenario_S2_ReplaceResponseMerge(t *testing.T) {
	p := newPipeline()

	var all []poetypes.ChatCompletionChunk
	all = append(all, p.Step(replaceEvent("Draft. "))...)
	all = append(all, p.Step(textEvent("Final answer."))...)
	all = append(all, p.Step(doneEvent())...)

	require.Len(t, all, 3) // role, merged content, terminal
	assert.Equal(t, "assistant", all[0].Choices[0].Delta.Role)
	assert.Equal(t, "Draft. Final answer.", *all[1].Choices[0].Delta.Content)
	assert.Equal(t, "stop", *all[2].Choices[0].FinishReason)
}

// S3 — inline image reference.
func TestScenario_S3_InlineImageReference(t *testing.T) {
	p := newPipeline()

	var all []poetypes.ChatCompletionChunk
	all = append(all, p.Step(replaceEvent("See [img1] please."))...)
	all = append(all, p.Step(fileEvent("img1", "https://cdn/x.png"))...)
	all = append(all, p.Step(doneEvent())...)

	var contents []string
	for _, c := range all {
		if c.Choices[0].Delta.Content != nil {
			contents = append(contents, *c.Choices[0].Delta.Content)
		}
	}
	require.Len(t, contents, 1)
	assert.Equal(t, "See (https://cdn/x.png) please.", contents[0])
	assert.Equal(t, "stop", *all[len(all)-1].Choices[0].FinishReason)
}

// S4 — tool call.
func TestScenario_S4_ToolCall(t *testing.T) {
	p := newPipeline()

	var all []poetypes.ChatCompletionChunk
	all = append(all, p.Step(jsonEvent(poetypes.ToolCall{ID: "c1", Function: poetypes.ToolCallFunction{Name: "search", Arguments: `{"q":"k"}`}}))...)
	all = append(all, p.Step(doneEvent())...)

	// Exactly one chunk carries a non-null finish_reason (invariant 2): the
	// tool_calls chunk is the terminal chunk, so a trailing Done must not
	// produce a second one.
	require.Len(t, all, 2) // role, tool_calls chunk
	assert.Equal(t, "assistant", all[0].Choices[0].Delta.Role)
	require.Len(t, all[1].Choices[0].Delta.ToolCalls, 1)
	assert.Equal(t, "tool_calls", *all[1].Choices[0].FinishReason)
}

// S5 — thinking extraction.
func TestScenario_S5_ThinkingExtraction(t *testing.T) {
	p := newPipeline()

	var all []poetypes.ChatCompletionChunk
	all = append(all, p.Step(textEvent("Prefix *Thinking...*\n> step1\n> step2\nAnswer."))...)
	all = append(all, p.Step(doneEvent())...)

	var ordered []string
	for _, c := range all {
		d := c.Choices[0].Delta
		switch {
		case d.Content != nil:
			ordered = append(ordered, "content:"+*d.Content)
		case d.ReasoningContent != nil:
			ordered = append(ordered, "reasoning:"+*d.ReasoningContent)
		}
	}

	require.GreaterOrEqual(t, len(ordered), 3)
	assert.Equal(t, "content:Prefix ", ordered[0])
	assert.Equal(t, "reasoning:step1\nstep2\n", ordered[1])
	assert.Equal(t, "content:Answer.", ordered[2])
}

// S6 — quota error classification (pipeline-adjacent: the Context records
// the classified error; the HTTP layer decides abort-vs-inject).
func TestScenario_S6_QuotaErrorClassification(t *testing.T) {
	c := New()
	chunks, signal := c.Handle(poetypes.Event{
		Type: poetypes.EventError,
		Error: struct {
			Text       string
			AllowRetry bool
		}{Text: "This bot needs more points to answer your request.", AllowRetry: false},
	})

	assert.Nil(t, chunks)
	assert.Equal(t, SignalError, signal)
	require.NotNil(t, c.Error)
	assert.Equal(t, 429, c.Error.Status)
	assert.Equal(t, "insufficient_quota", c.Error.Type)
	assert.Equal(t, "You have exceeded your message quota for this model. Please try again later.", c.Error.Message)
}

func TestInvariant_RoleChunkSentOnceBeforeContent(t *testing.T) {
	p := newPipeline()
	chunks := p.Step(textEvent("hello"))
	require.Len(t, chunks, 2)
	assert.Equal(t, "assistant", chunks[0].Choices[0].Delta.Role)

	more := p.Step(textEvent(" world"))
	for _, c := range more {
		assert.Empty(t, c.Choices[0].Delta.Role)
	}
}

func TestInvariant_FinishReasonToolCallsOnlyWhenPresent(t *testing.T) {
	c := New()
	assert.Equal(t, "stop", c.FinishReason())
	c.ToolCalls = append(c.ToolCalls, poetypes.ToolCall{ID: "x"})
	assert.Equal(t, "tool_calls", c.FinishReason())
}

func TestInvariant_UsageTokenArithmetic(t *testing.T) {
	p := NewPipeline(OutputGenerator{
		ID: "x", Model: "m", PromptTokens: 10, IncludeUsage: true,
		CountTokens: func(text string) uint32 { return uint32(len(text)) },
	})

	p.Step(textEvent("hello"))
	all := p.Step(doneEvent())

	last := all[len(all)-1]
	require.NotNil(t, last.Usage)
	assert.Equal(t, last.Usage.PromptTokens+last.Usage.CompletionTokens, last.Usage.TotalTokens)
}

// A tool-calls-terminated stream never reaches terminalChunk in production
// (chat.go returns on EventJSON without folding a trailing Done), so
// toolCallsChunk itself must carry usage when requested.
func TestInvariant_ToolCallsChunkCarriesUsageWhenRequested(t *testing.T) {
	p := NewPipeline(OutputGenerator{
		ID: "x", Model: "m", PromptTokens: 10, IncludeUsage: true,
		CountTokens: func(text string) uint32 { return uint32(len(text)) },
	})

	all := p.Step(jsonEvent(poetypes.ToolCall{ID: "c1", Function: poetypes.ToolCallFunction{Name: "search"}}))

	last := all[len(all)-1]
	require.NotNil(t, last.Usage)
	assert.Equal(t, "tool_calls", *last.Choices[0].FinishReason)
	assert.Equal(t, last.Usage.PromptTokens+last.Usage.CompletionTokens, last.Usage.TotalTokens)
}
