package translate

import (
	"regexp"

	"github.com/poe2oai/gateway/internal/apierror"
	"github.com/poe2oai/gateway/internal/poetypes"
)

var placeholderPattern = regexp.MustCompile(`\[([^\[\]]+)\]`)

// resolvePlaceholders rewrites every `[inline_ref]` in text whose ref is
// known in refs to `(<url>)`, spec.md §4.6.1 invariant 3.
func resolvePlaceholders(text string, refs map[string]poetypes.FileData) (string, bool) {
	any := false
	out := placeholderPattern.ReplaceAllStringFunc(text, func(m string) string {
		ref := m[1 : len(m)-1]
		if fd, ok := refs[ref]; ok {
			any = true
			return "(" + fd.URL + ")"
		}
		return m
	})
	return out, any
}

// Handle dispatches one upstream event, mutating c and returning the
// chunks to emit plus any terminal/side-channel signal (spec.md §4.6.2).
func (c *Context) Handle(ev poetypes.Event) ([]Chunk, Signal) {
	switch ev.Type {
	case poetypes.EventText:
		return c.handleText(ev.Text.Text), SignalNone
	case poetypes.EventReplaceResponse:
		return c.handleReplaceResponse(ev.Text.Text), SignalNone
	case poetypes.EventFile:
		return c.handleFile(ev.File), SignalNone
	case poetypes.EventJSON:
		c.ToolCalls = append(c.ToolCalls, ev.ToolCalls...)
		return nil, SignalToolCalls
	case poetypes.EventError:
		c.Error = apierror.ClassifyUpstreamError(ev.Error.Text, ev.Error.AllowRetry)
		return nil, SignalError
	case poetypes.EventDone:
		return c.handleDone(), SignalDone
	default:
		return nil, SignalNone
	}
}

func (c *Context) handleText(text string) []Chunk {
	if c.IsReplaceMode && c.HasReplaceBuffer {
		if !c.FirstTextProcessed {
			merged := c.ReplaceBuffer + text
			c.FirstTextProcessed = true
			return c.feedThinking(merged)
		}
		// The first merge already happened; the buffer's data already
		// lives in Content/ReasoningContent from that pass. Exit replace
		// mode and process this and all further Text events normally.
		c.IsReplaceMode = false
		c.HasReplaceBuffer = false
	}

	return c.feedThinking(text)
}

func (c *Context) handleReplaceResponse(text string) []Chunk {
	c.ReplaceBuffer = text
	c.HasReplaceBuffer = true
	c.IsReplaceMode = true
	c.FirstTextProcessed = false

	if len(c.FileRefs) == 0 || c.ImageURLsSent {
		return nil
	}

	resolved, any := resolvePlaceholders(text, c.FileRefs)
	if !any {
		return nil
	}

	c.ImageURLsSent = true
	c.Content += resolved
	c.HasReplaceBuffer = false
	c.IsReplaceMode = false
	c.FirstTextProcessed = true

	return []Chunk{{Kind: ChunkContent, Text: resolved}}
}

func (c *Context) handleFile(fd poetypes.FileData) []Chunk {
	c.FileRefs[fd.InlineRef] = fd

	if !c.HasReplaceBuffer || c.ImageURLsSent {
		return nil
	}
	if _, any := resolvePlaceholders(c.ReplaceBuffer, map[string]poetypes.FileData{fd.InlineRef: fd}); !any {
		return nil
	}

	resolved, _ := resolvePlaceholders(c.ReplaceBuffer, c.FileRefs)
	c.ImageURLsSent = true
	c.Content += resolved
	c.HasReplaceBuffer = false
	c.IsReplaceMode = false
	c.FirstTextProcessed = true

	return []Chunk{{Kind: ChunkContent, Text: resolved}}
}

func (c *Context) handleDone() []Chunk {
	c.Done = true

	var chunks []Chunk
	chunks = append(chunks, c.flushThinking()...)

	if !c.HasReplaceBuffer {
		return chunks
	}
	if c.FirstTextProcessed {
		// handleText already merged the buffer into Content.
		c.HasReplaceBuffer = false
		return chunks
	}

	resolved, _ := resolvePlaceholders(c.ReplaceBuffer, c.FileRefs)
	c.Content += resolved
	c.HasReplaceBuffer = false

	if resolved != "" {
		chunks = append(chunks, Chunk{Kind: ChunkContent, Text: resolved})
	}
	return chunks
}
