package poeclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poe2oai/gateway/internal/attachments"
	"github.com/poe2oai/gateway/internal/config"
	"github.com/poe2oai/gateway/internal/poetypes"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newClient(t *testing.T, url string) *Client {
	t.Helper()
	return New(discardLogger(), WithBaseURL(url), WithFileUploadURL(url), WithV1BaseURL(url))
}

func TestStreamChat_DecodesSSEFrames(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, `data: {"event":"text","data":{"text":"Hi "}}`+"\n\n")
		fmt.Fprint(w, `data: {"event":"done","data":{}}`+"\n\n")
	}))
	defer srv.Close()

	c := newClient(t, srv.URL)
	stream, err := c.StreamChat(context.Background(), "tok", poetypes.UpstreamRequest{})
	require.NoError(t, err)
	defer stream.Close()

	ev, ok, err := stream.Next()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, poetypes.EventText, ev.Type)
	assert.Equal(t, "Hi ", ev.Text.Text)

	ev, ok, err = stream.Next()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, poetypes.EventDone, ev.Type)

	_, ok, err = stream.Next()
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStreamChat_NonOKStatusReturnsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		fmt.Fprint(w, "upstream exploded")
	}))
	defer srv.Close()

	c := newClient(t, srv.URL)
	_, err := c.StreamChat(context.Background(), "tok", poetypes.UpstreamRequest{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestBatchUpload_UploadsLocalAndRemoteItems(t *testing.T) {
	var gotFiles int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/remote.png" {
			fmt.Fprint(w, "remote-bytes")
			return
		}
		require.NoError(t, r.ParseMultipartForm(1<<20))
		gotFiles = len(r.MultipartForm.File)
		json.NewEncoder(w).Encode(map[string][]string{"urls": {"https://cdn/a.png", "https://cdn/b.png"}})
	}))
	defer srv.Close()

	tmpDir := t.TempDir()
	localPath := filepath.Join(tmpDir, "local.bin")
	require.NoError(t, os.WriteFile(localPath, []byte("local-bytes"), 0o600))

	c := newClient(t, srv.URL)
	urls, err := c.BatchUpload(context.Background(), []attachments.PendingUpload{
		{Path: localPath},
		{URL: srv.URL + "/remote.png"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"https://cdn/a.png", "https://cdn/b.png"}, urls)
	assert.Equal(t, 2, gotFiles)
}

func TestFetchModelList_TraditionalAPI(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/model_list", r.URL.Path)
		json.NewEncoder(w).Encode(poetypes.ModelListResponse{
			Object: "list",
			Data:   []poetypes.ModelInfo{{ID: "claude-3", Object: "model"}},
		})
	}))
	defer srv.Close()

	c := newClient(t, srv.URL)
	models, err := c.FetchModelList(context.Background(), &config.Config{})
	require.NoError(t, err)
	require.Len(t, models, 1)
	assert.Equal(t, "claude-3", models[0].ID)
}

func TestFetchModelList_V1API(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/models", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")
		json.NewEncoder(w).Encode(poetypes.ModelListResponse{Data: []poetypes.ModelInfo{{ID: "gpt-4"}}})
	}))
	defer srv.Close()

	c := newClient(t, srv.URL)
	_, err := c.FetchModelList(context.Background(), &config.Config{UseV1API: true, APIToken: "secret"})
	require.NoError(t, err)
	assert.Equal(t, "Bearer secret", gotAuth)
}
