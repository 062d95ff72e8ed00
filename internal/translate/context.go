// Package translate implements the event translation pipeline (C6), the
// core of the gateway: it folds a stream of upstream events into OpenAI
// Chat Completions deltas, preserving inline image references, tool calls,
// and chain-of-thought content. Grounded on
// _examples/original_source/src/evert.rs's EventContext/EventHandler
// design.
package translate

import (
	"github.com/poe2oai/gateway/internal/apierror"
	"github.com/poe2oai/gateway/internal/poetypes"
)

// ChunkKind discriminates a translated output fragment.
type ChunkKind int

const (
	ChunkContent ChunkKind = iota
	ChunkReasoning
)

// Chunk is one piece of emittable output produced while folding an event.
type Chunk struct {
	Kind ChunkKind
	Text string
}

// Signal is the non-content directive a handler may also raise.
type Signal int

const (
	SignalNone Signal = iota
	SignalToolCalls
	SignalDone
	SignalError
)

// Context is the per-request fold state (spec.md §3 "Event context").
// Exactly one request owns a Context; it is never shared across requests.
type Context struct {
	Content string

	ReplaceBuffer    string
	HasReplaceBuffer bool
	IsReplaceMode    bool

	FirstTextProcessed bool

	FileRefs  map[string]poetypes.FileData
	ToolCalls []poetypes.ToolCall

	Done  bool
	Error *apierror.Error

	// Terminated is set once a chunk carrying a non-null finish_reason has
	// been emitted (tool_calls or stop), so a later Done event folded into
	// an already-terminated stream never emits a second terminal chunk
	// (spec.md §4.6.1 invariant 2: exactly one chunk carries finish_reason).
	Terminated bool

	CompletionTokens uint32

	RoleChunkSent  bool
	ImageURLsSent  bool

	ReasoningContent      string
	PendingText           string
	ThinkingStarted       bool
	InThinkingMode        bool
	CurrentReasoningLine  string
	LastSentReasoningLen  int
}

// New returns a fresh per-request Context.
func New() *Context {
	return &Context{FileRefs: make(map[string]poetypes.FileData)}
}

// FinishReason implements spec.md §4.6.1 invariant 3/5.
func (c *Context) FinishReason() string {
	if len(c.ToolCalls) > 0 {
		return "tool_calls"
	}
	return "stop"
}
