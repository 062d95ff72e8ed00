package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poe2oai/gateway/internal/attachments"
	"github.com/poe2oai/gateway/internal/cache"
	"github.com/poe2oai/gateway/internal/config"
	"github.com/poe2oai/gateway/internal/poeclient"
)

func newTestChatHandler(t *testing.T, upstreamURL string) *ChatHandler {
	t.Helper()

	store, err := cache.Open(":memory:", 0, 1<<20, discardLogger())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	cfgMgr := config.NewManager(t.TempDir(), store)
	client := poeclient.New(discardLogger(), poeclient.WithBaseURL(upstreamURL), poeclient.WithFileUploadURL(upstreamURL))
	normalizer := attachments.New(store, client, poeclient.DefaultCDNPrefix, discardLogger())

	return NewChatHandler(cfgMgr, normalizer, client, discardLogger(), 1<<20)
}

func chatRequestBody(stream bool) []byte {
	body, _ := json.Marshal(map[string]any{
		"model": "claude-3",
		"stream": stream,
		"messages": []map[string]string{
			{"role": "user", "content": "hello there"},
		},
	})
	return body
}

func TestChatHandler_NonStreamingSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, `data: {"event":"text","data":{"text":"hi!"}}`+"\n\n")
		fmt.Fprint(w, `data: {"event":"done","data":{}}`+"\n\n")
	}))
	defer srv.Close()

	h := newTestChatHandler(t, srv.URL)

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", bytes.NewReader(chatRequestBody(false)))
	req.Header.Set("Authorization", "Bearer upstream-token")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "hi!")
	assert.Contains(t, rec.Body.String(), "chatcmpl-")
}

func TestChatHandler_StreamingSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, `data: {"event":"text","data":{"text":"hi!"}}`+"\n\n")
		fmt.Fprint(w, `data: {"event":"done","data":{}}`+"\n\n")
	}))
	defer srv.Close()

	h := newTestChatHandler(t, srv.URL)

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", bytes.NewReader(chatRequestBody(true)))
	req.Header.Set("Authorization", "Bearer upstream-token")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "data: [DONE]")
	assert.Contains(t, rec.Body.String(), "hi!")
}

func TestChatHandler_RejectsUnparsableBody(t *testing.T) {
	h := newTestChatHandler(t, "http://unused.invalid")

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", bytes.NewBufferString("not json"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestChatHandler_StreamingAbortsWithMappedStatusWhenFirstEventIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, `data: {"event":"error","data":{"text":"rate limit exceeded","allow_retry":true}}`+"\n\n")
	}))
	defer srv.Close()

	h := newTestChatHandler(t, srv.URL)

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", bytes.NewReader(chatRequestBody(true)))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotContains(t, rec.Body.String(), "data:")
	assert.Contains(t, rec.Body.String(), "rate_limit_exceeded")
}

func TestChatHandler_UpstreamFailureMapsToUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		fmt.Fprint(w, "boom")
	}))
	defer srv.Close()

	h := newTestChatHandler(t, srv.URL)

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", bytes.NewReader(chatRequestBody(false)))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.NotEqual(t, http.StatusOK, rec.Code)
}
