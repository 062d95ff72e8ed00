package translate

import (
	"github.com/poe2oai/gateway/internal/poetypes"
)

// OutputGenerator carries the bookkeeping an emitted chunk/response needs
// but that the fold itself does not compute (spec.md §4.6.1).
type OutputGenerator struct {
	ID            string
	Created       int64
	Model         string
	PromptTokens  uint32
	IncludeUsage  bool
	CountTokens   func(text string) uint32
}

// Pipeline drives a Context across a sequence of upstream events, in
// arrival order, producing OpenAI Chat Completions chunks.
type Pipeline struct {
	Ctx *Context
	Gen OutputGenerator
}

func NewPipeline(gen OutputGenerator) *Pipeline {
	return &Pipeline{Ctx: New(), Gen: gen}
}

// Step feeds one upstream event and returns the OpenAI chunks to emit for
// it (spec.md §4.6.4: role chunk first if not yet sent, then the
// directive's chunk(s), then — on Done — the terminal content chunk, the
// finish_reason chunk, and the caller appends `[DONE]`).
func (p *Pipeline) Step(ev poetypes.Event) []poetypes.ChatCompletionChunk {
	chunks, signal := p.Ctx.Handle(ev)

	var out []poetypes.ChatCompletionChunk

	hasContent := len(chunks) > 0 || signal == SignalToolCalls
	if hasContent && !p.Ctx.RoleChunkSent {
		out = append(out, p.roleChunk())
		p.Ctx.RoleChunkSent = true
	}

	for _, ch := range chunks {
		out = append(out, p.contentChunk(ch))
	}

	switch signal {
	case SignalToolCalls:
		out = append(out, p.toolCallsChunk())
		p.Ctx.Terminated = true
	case SignalDone:
		if !p.Ctx.Terminated {
			out = append(out, p.terminalChunk())
			p.Ctx.Terminated = true
		}
	case SignalError:
		// Error surfacing is the caller's concern (see §7 propagation):
		// mid-stream, the caller injects an error frame from p.Ctx.Error
		// followed by [DONE]; at stream start, the caller writes p.Ctx.Error
		// with its mapped HTTP status instead of opening the SSE stream.
	}

	return out
}

func (p *Pipeline) roleChunk() poetypes.ChatCompletionChunk {
	return poetypes.ChatCompletionChunk{
		ID:      p.Gen.ID,
		Object:  "chat.completion.chunk",
		Created: p.Gen.Created,
		Model:   p.Gen.Model,
		Choices: []poetypes.Choice{{Index: 0, Delta: poetypes.Delta{Role: "assistant"}}},
	}
}

func (p *Pipeline) contentChunk(ch Chunk) poetypes.ChatCompletionChunk {
	delta := poetypes.Delta{}
	switch ch.Kind {
	case ChunkReasoning:
		delta.ReasoningContent = &ch.Text
	default:
		delta.Content = &ch.Text
	}
	return poetypes.ChatCompletionChunk{
		ID:      p.Gen.ID,
		Object:  "chat.completion.chunk",
		Created: p.Gen.Created,
		Model:   p.Gen.Model,
		Choices: []poetypes.Choice{{Index: 0, Delta: delta}},
	}
}

// toolCallsChunk builds the terminal tool_calls chunk. In production this
// is the de-facto last chunk of a tool-calls-terminated stream: chat.go
// returns as soon as it sees EventJSON and never folds the trailing Done
// event into the pipeline, so this chunk (not terminalChunk) must carry
// usage when requested (spec.md §4.6.1 invariants 6/10).
func (p *Pipeline) toolCallsChunk() poetypes.ChatCompletionChunk {
	finish := "tool_calls"
	chunk := poetypes.ChatCompletionChunk{
		ID:      p.Gen.ID,
		Object:  "chat.completion.chunk",
		Created: p.Gen.Created,
		Model:   p.Gen.Model,
		Choices: []poetypes.Choice{{
			Index:        0,
			Delta:        poetypes.Delta{ToolCalls: p.Ctx.ToolCalls},
			FinishReason: &finish,
		}},
	}

	if p.Gen.IncludeUsage {
		completion := p.completionTokens()
		p.Ctx.CompletionTokens = completion
		chunk.Usage = &poetypes.Usage{
			PromptTokens:     p.Gen.PromptTokens,
			CompletionTokens: completion,
			TotalTokens:      p.Gen.PromptTokens + completion,
		}
	}

	return chunk
}

// terminalChunk builds the final chunk carrying finish_reason and,
// if requested, usage (spec.md §4.6.1 invariants 5/6).
func (p *Pipeline) terminalChunk() poetypes.ChatCompletionChunk {
	finish := p.Ctx.FinishReason()
	chunk := poetypes.ChatCompletionChunk{
		ID:      p.Gen.ID,
		Object:  "chat.completion.chunk",
		Created: p.Gen.Created,
		Model:   p.Gen.Model,
		Choices: []poetypes.Choice{{Index: 0, Delta: poetypes.Delta{}, FinishReason: &finish}},
	}

	if p.Gen.IncludeUsage {
		completion := p.completionTokens()
		p.Ctx.CompletionTokens = completion
		chunk.Usage = &poetypes.Usage{
			PromptTokens:     p.Gen.PromptTokens,
			CompletionTokens: completion,
			TotalTokens:      p.Gen.PromptTokens + completion,
		}
	}

	return chunk
}

func (p *Pipeline) completionTokens() uint32 {
	if p.Gen.CountTokens == nil {
		return 0
	}
	return p.Gen.CountTokens(p.Ctx.Content)
}

// Drain folds every remaining event from events into the pipeline's
// context without collecting intermediate chunks — used by the
// non-streaming response path, which only needs the final Context state
// (spec.md §4.7).
func (p *Pipeline) Drain(events []poetypes.Event) {
	for _, ev := range events {
		p.Step(ev)
	}
}

// FinalMessage synthesizes the non-streaming response message from the
// final Context state (spec.md §4.7): content is ReplaceBuffer if one is
// still pending (should not normally happen once Done has run, since Done
// flushes it — kept for defensiveness) else Content.
func (p *Pipeline) FinalMessage() poetypes.CompletionMessage {
	content := p.Ctx.Content
	if p.Ctx.HasReplaceBuffer {
		content = p.Ctx.ReplaceBuffer
	}

	return poetypes.CompletionMessage{
		Role:             "assistant",
		Content:          content,
		ReasoningContent: p.Ctx.ReasoningContent,
		ToolCalls:        p.Ctx.ToolCalls,
	}
}
