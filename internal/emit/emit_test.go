package emit

import (
	"bufio"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poe2oai/gateway/internal/apierror"
	"github.com/poe2oai/gateway/internal/poetypes"
	"github.com/poe2oai/gateway/internal/translate"
)

func TestStreamer_SendAndClose(t *testing.T) {
	rec := httptest.NewRecorder()
	s := NewStreamer(rec)

	content := "hi"
	err := s.Send([]poetypes.ChatCompletionChunk{
		{ID: "c1", Choices: []poetypes.Choice{{Index: 0, Delta: poetypes.Delta{Content: &content}}}},
	})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	resp := rec.Result()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	assert.Equal(t, "no-cache", resp.Header.Get("Cache-Control"))

	body := rec.Body.String()
	assert.Contains(t, body, `data: {"id":"c1"`)
	assert.True(t, strings.HasSuffix(body, "data: [DONE]\n\n"))
}

func TestStreamer_SendSkipsEmptyChoices(t *testing.T) {
	rec := httptest.NewRecorder()
	s := NewStreamer(rec)

	err := s.Send([]poetypes.ChatCompletionChunk{{ID: "c1"}})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	scanner := bufio.NewScanner(strings.NewReader(rec.Body.String()))
	var dataLines int
	for scanner.Scan() {
		if strings.HasPrefix(scanner.Text(), "data: ") {
			dataLines++
		}
	}
	assert.Equal(t, 1, dataLines) // only the [DONE] frame
}

func TestStreamer_SendError(t *testing.T) {
	rec := httptest.NewRecorder()
	s := NewStreamer(rec)

	require.NoError(t, s.SendError(apierror.InsufficientQuota()))
	require.NoError(t, s.Close())

	assert.Contains(t, rec.Body.String(), "insufficient_quota")
}

func TestNonStreamResponse_AssemblesFinalMessageAndUsage(t *testing.T) {
	p := translate.NewPipeline(translate.OutputGenerator{
		ID: "chatcmpl-1", Model: "m", PromptTokens: 5, IncludeUsage: true,
		CountTokens: func(s string) uint32 { return uint32(len(s)) },
	})
	p.Ctx.Content = "hello"

	resp := NonStreamResponse(p)

	require.Len(t, resp.Choices, 1)
	assert.Equal(t, "hello", resp.Choices[0].Message.Content)
	assert.Equal(t, "stop", resp.Choices[0].FinishReason)
	require.NotNil(t, resp.Usage)
	assert.Equal(t, resp.Usage.PromptTokens+resp.Usage.CompletionTokens, resp.Usage.TotalTokens)
}

func TestNonStreamResponse_ToolCallsFinishReason(t *testing.T) {
	p := translate.NewPipeline(translate.OutputGenerator{ID: "x", Model: "m"})
	p.Ctx.ToolCalls = append(p.Ctx.ToolCalls, poetypes.ToolCall{ID: "t1"})

	resp := NonStreamResponse(p)
	assert.Equal(t, "tool_calls", resp.Choices[0].FinishReason)
}

func TestWriteError_UsesStatusFromError(t *testing.T) {
	rec := httptest.NewRecorder()
	require.NoError(t, WriteError(rec, apierror.ModelNotFound("gpt-x")))

	assert.Equal(t, 404, rec.Code)
	assert.Contains(t, rec.Body.String(), "model_not_found")
}
