package models

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poe2oai/gateway/internal/cache"
	"github.com/poe2oai/gateway/internal/config"
	"github.com/poe2oai/gateway/internal/poetypes"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeFetcher struct {
	models []poetypes.ModelInfo
	calls  int
	err    error
}

func (f *fakeFetcher) FetchModelList(ctx context.Context, cfg *config.Config) ([]poetypes.ModelInfo, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.models, nil
}

func newTestAggregator(t *testing.T, fetcher Fetcher) (*Aggregator, *config.Manager) {
	t.Helper()
	tmpDir := t.TempDir()
	store, err := cache.Open(filepath.Join(tmpDir, "cache.db"), 0, 1<<20, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	cfgMgr := config.NewManager(tmpDir, store)
	return New(store, cfgMgr, fetcher), cfgMgr
}

func TestFiltered_DisabledConfigReturnsUpstreamVerbatim(t *testing.T) {
	fetcher := &fakeFetcher{models: []poetypes.ModelInfo{{ID: "Claude-Opus", Object: "model", OwnedBy: "poe"}}}
	agg, cfgMgr := newTestAggregator(t, fetcher)

	disabled := false
	require.NoError(t, cfgMgr.Save(&config.Config{Enable: &disabled}))

	out, err := agg.Filtered(context.Background())
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "claude-opus", out[0].ID)
}

func TestFiltered_CachesUpstreamAcrossCalls(t *testing.T) {
	fetcher := &fakeFetcher{models: []poetypes.ModelInfo{{ID: "gpt-4", Object: "model"}}}
	agg, _ := newTestAggregator(t, fetcher)

	_, err := agg.Filtered(context.Background())
	require.NoError(t, err)
	_, err = agg.Filtered(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, fetcher.calls)
}

func TestFiltered_AppliesEnableAndMapping(t *testing.T) {
	fetcher := &fakeFetcher{models: []poetypes.ModelInfo{
		{ID: "model-a", Object: "model", OwnedBy: "poe"},
		{ID: "model-b", Object: "model", OwnedBy: "poe"},
	}}
	agg, cfgMgr := newTestAggregator(t, fetcher)

	enabled := true
	disabled := false
	require.NoError(t, cfgMgr.Save(&config.Config{
		Enable: &enabled,
		Models: map[string]config.ModelConfig{
			"model-a": {Mapping: "renamed-a"},
			"model-b": {Enable: &disabled},
		},
	}))

	out, err := agg.Filtered(context.Background())
	require.NoError(t, err)

	var ids []string
	for _, m := range out {
		ids = append(ids, m.ID)
	}
	assert.Contains(t, ids, "renamed-a")
	assert.NotContains(t, ids, "model-b")
	assert.NotContains(t, ids, "model-a")
}

func TestFiltered_AppendsCustomModelsNotAlreadyPresent(t *testing.T) {
	fetcher := &fakeFetcher{models: []poetypes.ModelInfo{{ID: "model-a", Object: "model"}}}
	agg, cfgMgr := newTestAggregator(t, fetcher)

	enabled := true
	require.NoError(t, cfgMgr.Save(&config.Config{
		Enable: &enabled,
		CustomModels: []config.CustomModel{
			{ID: "model-a"},  // already present upstream: skip
			{ID: "custom-b"}, // owned_by defaults to "user"
			{ID: "custom-c", OwnedBy: "me"},
		},
	}))

	out, err := agg.Filtered(context.Background())
	require.NoError(t, err)

	byID := make(map[string]poetypes.ModelInfo)
	for _, m := range out {
		byID[m.ID] = m
	}
	require.Len(t, out, 3) // model-a (upstream) + custom-b + custom-c
	assert.Equal(t, "user", byID["custom-b"].OwnedBy)
	assert.Equal(t, "me", byID["custom-c"].OwnedBy)
}

func TestFiltered_CustomModelDisabledViaYAMLIsDropped(t *testing.T) {
	fetcher := &fakeFetcher{models: nil}
	agg, cfgMgr := newTestAggregator(t, fetcher)

	enabled := true
	disabled := false
	require.NoError(t, cfgMgr.Save(&config.Config{
		Enable: &enabled,
		Models: map[string]config.ModelConfig{
			"custom-x": {Enable: &disabled},
		},
		CustomModels: []config.CustomModel{{ID: "custom-x"}},
	}))

	out, err := agg.Filtered(context.Background())
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestRefreshUpstream_NeverConsultsCacheAndRepopulatesIt(t *testing.T) {
	fetcher := &fakeFetcher{models: []poetypes.ModelInfo{{ID: "Model-X"}}}
	agg, _ := newTestAggregator(t, fetcher)

	_, err := agg.RefreshUpstream(context.Background())
	require.NoError(t, err)

	fetcher.models = []poetypes.ModelInfo{{ID: "Model-Y"}}
	out, err := agg.RefreshUpstream(context.Background())
	require.NoError(t, err)

	require.Len(t, out, 1)
	assert.Equal(t, "model-y", out[0].ID)
	assert.Equal(t, 2, fetcher.calls)
}
