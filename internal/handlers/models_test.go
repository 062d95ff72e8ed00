package handlers

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poe2oai/gateway/internal/cache"
	"github.com/poe2oai/gateway/internal/config"
	"github.com/poe2oai/gateway/internal/models"
	"github.com/poe2oai/gateway/internal/poetypes"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeFetcher struct {
	calls int
	list  []poetypes.ModelInfo
}

func (f *fakeFetcher) FetchModelList(ctx context.Context, cfg *config.Config) ([]poetypes.ModelInfo, error) {
	f.calls++
	return f.list, nil
}

func newTestAggregator(t *testing.T, fetcher *fakeFetcher) *models.Aggregator {
	t.Helper()

	store, err := cache.Open(":memory:", 0, 1<<20, discardLogger())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	cfgMgr := config.NewManager(t.TempDir(), store)

	return models.New(store, cfgMgr, fetcher)
}

func TestModelsHandler_ServesFilteredList(t *testing.T) {
	fetcher := &fakeFetcher{list: []poetypes.ModelInfo{{ID: "claude-3", Object: "model"}}}
	agg := newTestAggregator(t, fetcher)

	h := NewModelsHandler(agg, discardLogger())

	req := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "claude-3")
}

func TestAPIModelsHandler_AlwaysRefreshesUpstream(t *testing.T) {
	fetcher := &fakeFetcher{list: []poetypes.ModelInfo{{ID: "claude-3", Object: "model"}}}
	agg := newTestAggregator(t, fetcher)

	h := NewAPIModelsHandler(agg, discardLogger())

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/models", nil)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
	}

	assert.Equal(t, 2, fetcher.calls, "api/models must never serve a cached snapshot")
}
