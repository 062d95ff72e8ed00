// Package models implements the model-list aggregator (C8): it merges the
// upstream catalog with YAML overrides (spec.md §4.8).
package models

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/poe2oai/gateway/internal/cache"
	"github.com/poe2oai/gateway/internal/config"
	"github.com/poe2oai/gateway/internal/poetypes"
)

const cacheKeyUpstream = "upstream"

// Fetcher retrieves the upstream model catalog, already in the shape the
// provider's list API returns (v1/models vs. the traditional bot list is a
// choice the fetcher's concrete implementation makes from
// config.Config.UseV1API).
type Fetcher interface {
	FetchModelList(ctx context.Context, cfg *config.Config) ([]poetypes.ModelInfo, error)
}

// Aggregator serves both model-list endpoints.
type Aggregator struct {
	cache   *cache.Store
	cfg     *config.Manager
	fetcher Fetcher

	mu sync.Mutex // serializes cache-miss population (single-writer discipline, spec.md §5)
}

func New(store *cache.Store, cfg *config.Manager, fetcher Fetcher) *Aggregator {
	return &Aggregator{cache: store, cfg: cfg, fetcher: fetcher}
}

// RefreshUpstream always fetches the upstream catalog fresh and repopulates
// the cache — the `/api/models` endpoint, which never reads the cache
// (original_source/src/handlers/models.rs's API_MODELS_CACHE comment: "this
// cache does not apply to /api/models").
func (a *Aggregator) RefreshUpstream(ctx context.Context) ([]poetypes.ModelInfo, error) {
	upstream, err := a.fetcher.FetchModelList(ctx, a.cfg.Get())
	if err != nil {
		return nil, fmt.Errorf("fetch upstream model list: %w", err)
	}
	lowercaseIDs(upstream)

	a.mu.Lock()
	a.putCache(ctx, upstream)
	a.mu.Unlock()

	return upstream, nil
}

// Filtered returns the YAML-merged model list — the `/v1/models`/`/models`
// endpoint. When the config is disabled it returns the upstream list
// verbatim (lowercased), never touching the cache (spec.md §4.8).
func (a *Aggregator) Filtered(ctx context.Context) ([]poetypes.ModelInfo, error) {
	cfg := a.cfg.Get()

	if !cfg.IsEnabled() {
		upstream, err := a.fetcher.FetchModelList(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("fetch upstream model list: %w", err)
		}
		lowercaseIDs(upstream)
		return upstream, nil
	}

	upstream, err := a.cachedUpstream(ctx, cfg)
	if err != nil {
		return nil, err
	}

	return mergeWithConfig(upstream, cfg), nil
}

// cachedUpstream serves the upstream list from cache, populating it under a
// single-writer lock on a miss (spec.md §4.8 step 1 / §5 "single-writer
// discipline").
func (a *Aggregator) cachedUpstream(ctx context.Context, cfg *config.Config) ([]poetypes.ModelInfo, error) {
	if raw, ok := a.cache.GetModelList(ctx, cacheKeyUpstream); ok {
		var models []poetypes.ModelInfo
		if err := json.Unmarshal(raw, &models); err == nil {
			return models, nil
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	// Re-check: another caller may have populated the cache while we
	// waited for the lock.
	if raw, ok := a.cache.GetModelList(ctx, cacheKeyUpstream); ok {
		var models []poetypes.ModelInfo
		if err := json.Unmarshal(raw, &models); err == nil {
			return models, nil
		}
	}

	upstream, err := a.fetcher.FetchModelList(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("populate model list cache: %w", err)
	}
	lowercaseIDs(upstream)
	a.putCache(ctx, upstream)
	return upstream, nil
}

func (a *Aggregator) putCache(ctx context.Context, models []poetypes.ModelInfo) {
	raw, err := json.Marshal(models)
	if err != nil {
		return
	}
	a.cache.PutModelList(ctx, cacheKeyUpstream, raw)
}

func lowercaseIDs(models []poetypes.ModelInfo) {
	for i := range models {
		models[i].ID = strings.ToLower(models[i].ID)
	}
}

// mergeWithConfig applies spec.md §4.8's YAML merge rules: per upstream
// model, drop if disabled, rename if mapped, else keep; then append every
// custom model not already present, dropping those explicitly disabled.
func mergeWithConfig(upstream []poetypes.ModelInfo, cfg *config.Config) []poetypes.ModelInfo {
	out := make([]poetypes.ModelInfo, 0, len(upstream)+len(cfg.CustomModels))
	present := make(map[string]bool, len(upstream))

	for _, m := range upstream {
		id := strings.ToLower(m.ID)
		mc, ok := cfg.LookupModel(id)
		if ok && !mc.IsEnabled() {
			continue
		}

		finalID := id
		if ok && mc.Mapping != "" {
			finalID = strings.ToLower(mc.Mapping)
		}

		out = append(out, poetypes.ModelInfo{
			ID:      finalID,
			Object:  m.Object,
			Created: m.Created,
			OwnedBy: m.OwnedBy,
		})
		present[finalID] = true
	}

	for _, cm := range cfg.CustomModels {
		id := strings.ToLower(cm.ID)
		if present[id] {
			continue
		}
		if mc, ok := cfg.LookupModel(id); ok && !mc.IsEnabled() {
			continue
		}

		ownedBy := cm.OwnedBy
		if ownedBy == "" {
			ownedBy = "user"
		}
		out = append(out, poetypes.ModelInfo{
			ID:      id,
			Object:  "model",
			Created: cm.Created,
			OwnedBy: ownedBy,
		})
		present[id] = true
	}

	return out
}

