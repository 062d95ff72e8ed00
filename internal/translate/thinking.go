package translate

import "strings"

// thinking trigger sequences, checked in priority order (spec.md §4.6.3).
var thinkingTriggers = []string{"*Thinking...*", "Thinking..."}

// feedThinking implements the three-step thinking sub-parser algorithm.
// It appends newText to c.PendingText (or, once thinking mode has
// concluded, passes newText straight through as content) and returns the
// ordered content/reasoning chunks produced.
func (c *Context) feedThinking(newText string) []Chunk {
	if !c.ThinkingStarted {
		c.PendingText += newText

		idx, triggerLen := findThinkingTrigger(c.PendingText)
		if idx < 0 {
			var chunks []Chunk
			if c.PendingText != "" {
				chunks = append(chunks, Chunk{Kind: ChunkContent, Text: c.PendingText})
			}
			c.Content += c.PendingText
			c.PendingText = ""
			return chunks
		}

		var chunks []Chunk
		before := c.PendingText[:idx]
		after := c.PendingText[idx+triggerLen:]
		if before != "" {
			chunks = append(chunks, Chunk{Kind: ChunkContent, Text: before})
		}
		c.ThinkingStarted = true
		c.InThinkingMode = true
		c.PendingText = after

		chunks = append(chunks, c.processThinkingLines()...)
		return chunks
	}

	if !c.InThinkingMode {
		// Thinking has already concluded for this request; everything
		// from here on is plain content.
		if newText == "" {
			return nil
		}
		c.Content += newText
		return []Chunk{{Kind: ChunkContent, Text: newText}}
	}

	c.PendingText += newText
	return c.processThinkingLines()
}

// findThinkingTrigger returns the index and byte length of the first
// recognized trigger sequence in s, or (-1, 0) if none is present.
func findThinkingTrigger(s string) (int, int) {
	for _, t := range thinkingTriggers {
		if idx := strings.Index(s, t); idx >= 0 {
			return idx, len(t)
		}
	}
	return -1, 0
}

// processThinkingLines consumes c.PendingText line by line while in
// thinking mode (spec.md §4.6.3 step 2), updating ReasoningContent and
// returning the chunks to emit this call. The conservative fallback for
// position-math anomalies (spec.md §9 open question 3) is to treat the
// whole current buffer as ending at the last real newline rather than
// guess past it; since this implementation only ever splits on actual
// "\n" bytes present in the buffer, that fallback is the default behavior,
// not a special case.
func (c *Context) processThinkingLines() []Chunk {
	text := c.PendingText
	lines := strings.Split(text, "\n")
	incomplete := lines[len(lines)-1]
	complete := lines[:len(lines)-1]

	var reasoningLines []string
	var remainderLines []string
	terminated := false

	for _, line := range complete {
		if terminated {
			remainderLines = append(remainderLines, line)
			continue
		}
		switch {
		case line == ">":
			reasoningLines = append(reasoningLines, "")
		case line == "":
			// blank line: does not terminate, contributes nothing.
		case strings.HasPrefix(line, "> "):
			reasoningLines = append(reasoningLines, strings.TrimPrefix(line, "> "))
		default:
			terminated = true
			remainderLines = append(remainderLines, line)
		}
	}

	var chunks []Chunk

	if terminated {
		remainder := strings.Join(remainderLines, "\n")
		if incomplete != "" {
			if remainder != "" {
				remainder += "\n"
			}
			remainder += incomplete
		}

		c.appendReasoning(reasoningLines)
		if rc := c.reasoningDelta(); rc != "" {
			chunks = append(chunks, Chunk{Kind: ChunkReasoning, Text: rc})
		}

		c.InThinkingMode = false
		c.PendingText = ""
		c.CurrentReasoningLine = ""

		if remainder != "" {
			c.Content += remainder
			chunks = append(chunks, Chunk{Kind: ChunkContent, Text: remainder})
		}

		return chunks
	}

	// Not terminated: stash the incomplete tail and stay in thinking mode.
	c.appendReasoning(reasoningLines)
	if rc := c.reasoningDelta(); rc != "" {
		chunks = append(chunks, Chunk{Kind: ChunkReasoning, Text: rc})
	}

	c.CurrentReasoningLine = incomplete
	c.PendingText = incomplete

	return chunks
}

// flushThinking resolves whatever incomplete line is still stashed in
// CurrentReasoningLine when the stream ends while still in thinking mode.
// Step 2's deferral exists only because more bytes could still arrive and
// change the line's classification; once Done arrives no more bytes are
// coming, so the line is classified now instead of staying stuck forever.
func (c *Context) flushThinking() []Chunk {
	if !c.InThinkingMode {
		return nil
	}

	line := c.CurrentReasoningLine
	c.InThinkingMode = false
	c.PendingText = ""
	c.CurrentReasoningLine = ""

	if line == "" {
		return nil
	}

	if line == ">" || strings.HasPrefix(line, "> ") {
		text := line
		if text == ">" {
			text = ""
		} else {
			text = strings.TrimPrefix(text, "> ")
		}
		c.appendReasoning([]string{text})
		if rc := c.reasoningDelta(); rc != "" {
			return []Chunk{{Kind: ChunkReasoning, Text: rc}}
		}
		return nil
	}

	c.Content += line
	return []Chunk{{Kind: ChunkContent, Text: line}}
}

// appendReasoning joins lines with newlines and appends them to
// ReasoningContent with a trailing newline (spec.md §4.6.3 step 3). A call
// with no lines is a no-op.
func (c *Context) appendReasoning(lines []string) {
	if len(lines) == 0 {
		return
	}
	c.ReasoningContent += strings.Join(lines, "\n") + "\n"
}

// reasoningDelta returns the suffix of ReasoningContent not yet reported
// via the high-water mark, advancing the mark.
func (c *Context) reasoningDelta() string {
	if len(c.ReasoningContent) <= c.LastSentReasoningLen {
		return ""
	}
	delta := c.ReasoningContent[c.LastSentReasoningLen:]
	c.LastSentReasoningLen = len(c.ReasoningContent)
	return delta
}
