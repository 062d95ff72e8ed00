// Package emit implements the response emitter (C7): it renders a
// translate.Pipeline's output as either an OpenAI SSE stream or a single
// non-streaming JSON response, per spec.md §4.7.
package emit

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/poe2oai/gateway/internal/apierror"
	"github.com/poe2oai/gateway/internal/poetypes"
	"github.com/poe2oai/gateway/internal/translate"
)

// Streamer renders the streaming SSE response body for one request, one
// frame per call to Send plus a trailing [DONE] frame from Close. It wraps
// an http.ResponseWriter the same way the teacher's proxy handler wraps one
// in internal/handlers/proxy.go's handleStreamingResponse: write headers
// once, then write+flush per frame.
type Streamer struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// NewStreamer writes the SSE response headers and returns a Streamer ready
// to accept frames. The caller must not have written to w yet.
func NewStreamer(w http.ResponseWriter) *Streamer {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	flusher, _ := w.(http.Flusher)
	s := &Streamer{w: w, flusher: flusher}
	s.flush()
	return s
}

// Send writes one or more chunks as consecutive `data: <json>\n\n` frames,
// skipping any chunk with no choices (an empty frame carries nothing an
// OpenAI client would act on).
func (s *Streamer) Send(chunks []poetypes.ChatCompletionChunk) error {
	for _, c := range chunks {
		if len(c.Choices) == 0 {
			continue
		}
		payload, err := json.Marshal(c)
		if err != nil {
			return fmt.Errorf("marshal chunk: %w", err)
		}
		if _, err := fmt.Fprintf(s.w, "data: %s\n\n", payload); err != nil {
			return fmt.Errorf("write chunk: %w", err)
		}
		s.flush()
	}
	return nil
}

// SendError writes a mid-stream error as a single data frame carrying the
// OpenAI error envelope, matching how the caller would otherwise have
// surfaced the same *apierror.Error as an HTTP status at stream start
// (spec.md §7 propagation note).
func (s *Streamer) SendError(e *apierror.Error) error {
	payload, err := json.Marshal(e.Response())
	if err != nil {
		return fmt.Errorf("marshal error: %w", err)
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", payload); err != nil {
		return fmt.Errorf("write error frame: %w", err)
	}
	s.flush()
	return nil
}

// Close writes the terminal `data: [DONE]` frame.
func (s *Streamer) Close() error {
	if _, err := fmt.Fprint(s.w, "data: [DONE]\n\n"); err != nil {
		return fmt.Errorf("write done frame: %w", err)
	}
	s.flush()
	return nil
}

func (s *Streamer) flush() {
	if s.flusher != nil {
		s.flusher.Flush()
	}
}

// NonStreamResponse assembles the single JSON response body from a fully
// drained pipeline (spec.md §4.7): one choice carrying the final message
// and finish_reason, plus usage if the pipeline was configured to include
// it.
func NonStreamResponse(p *translate.Pipeline) poetypes.ChatCompletionResponse {
	msg := p.FinalMessage()
	finish := p.Ctx.FinishReason()

	resp := poetypes.ChatCompletionResponse{
		ID:      p.Gen.ID,
		Object:  "chat.completion",
		Created: p.Gen.Created,
		Model:   p.Gen.Model,
		Choices: []poetypes.CompletionChoice{{
			Index:        0,
			Message:      msg,
			FinishReason: finish,
		}},
	}

	if p.Gen.IncludeUsage {
		completion := uint32(0)
		if p.Gen.CountTokens != nil {
			completion = p.Gen.CountTokens(msg.Content)
		}
		resp.Usage = &poetypes.Usage{
			PromptTokens:     p.Gen.PromptTokens,
			CompletionTokens: completion,
			TotalTokens:      p.Gen.PromptTokens + completion,
		}
	}

	return resp
}

// WriteJSON writes a single JSON response body with the given HTTP status.
func WriteJSON(w http.ResponseWriter, status int, body any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal response: %w", err)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, err = w.Write(payload)
	return err
}

// WriteError writes an OpenAI-shaped error envelope with e's status code.
func WriteError(w http.ResponseWriter, e *apierror.Error) error {
	return WriteJSON(w, e.Status, e.Response())
}
