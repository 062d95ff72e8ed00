// Package config implements the gateway's hot-reloadable YAML configuration
// (C2): per-model enable/mapping/replace_response overrides, custom model
// entries, and the admin-API write-through path, adapted from the teacher's
// atomic.Value + fsnotify Manager.
package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/poe2oai/gateway/internal/cache"
)

const DefaultYAMLFilename = "models.yaml"

// ModelConfig is one entry of the `models` map (spec.md §3/§6 persisted
// state shape).
type ModelConfig struct {
	Mapping         string `yaml:"mapping,omitempty" json:"mapping,omitempty"`
	ReplaceResponse bool   `yaml:"replace_response,omitempty" json:"replace_response,omitempty"`
	Enable          *bool  `yaml:"enable,omitempty" json:"enable,omitempty"`
}

// IsEnabled defaults to true when unspecified.
func (m ModelConfig) IsEnabled() bool {
	return m.Enable == nil || *m.Enable
}

// CustomModel is a gateway-invented model entry not present upstream.
type CustomModel struct {
	ID      string `yaml:"id" json:"id"`
	Created int64  `yaml:"created,omitempty" json:"created,omitempty"`
	OwnedBy string `yaml:"owned_by,omitempty" json:"owned_by,omitempty"`
}

// Config is the persisted YAML shape (spec.md §6).
type Config struct {
	Enable       *bool                  `yaml:"enable,omitempty" json:"enable,omitempty"`
	UseV1API     bool                   `yaml:"use_v1_api,omitempty" json:"use_v1_api,omitempty"`
	APIToken     string                 `yaml:"api_token,omitempty" json:"api_token,omitempty"`
	Models       map[string]ModelConfig `yaml:"models,omitempty" json:"models,omitempty"`
	CustomModels []CustomModel          `yaml:"custom_models,omitempty" json:"custom_models,omitempty"`
}

// IsEnabled defaults to true when unspecified.
func (c *Config) IsEnabled() bool {
	return c.Enable == nil || *c.Enable
}

// LookupModel resolves a model override by case-insensitive key match,
// mirroring original_source's handlers/models.rs lowercasing both the
// upstream model id and the YAML map's keys before comparing.
func (c *Config) LookupModel(id string) (ModelConfig, bool) {
	key := strings.ToLower(id)
	for k, v := range c.Models {
		if strings.ToLower(k) == key {
			return v, true
		}
	}
	return ModelConfig{}, false
}

// Manager hot-reloads Config from disk, exposing the current snapshot via
// an atomic.Value so request handlers never block on a reload in flight.
type Manager struct {
	path        string
	cache       *cache.Store
	configValue atomic.Value
}

const cacheKeyConfig = "config"

func NewManager(baseDir string, store *cache.Store) *Manager {
	return &Manager{
		path:  filepath.Join(baseDir, DefaultYAMLFilename),
		cache: store,
	}
}

// Load reads models.yaml from disk. A missing file is not an error — it
// yields an empty, all-pass-through Config, matching
// original_source/src/utils.rs's load_config_from_yaml fallback.
func (m *Manager) Load() (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(m.path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		m.configValue.Store(cfg)
		return cfg, nil
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	m.configValue.Store(cfg)
	return cfg, nil
}

// Get returns the current cached snapshot, loading from disk on first use.
func (m *Manager) Get() *Config {
	if v := m.configValue.Load(); v != nil {
		return v.(*Config)
	}
	cfg, err := m.Load()
	if err != nil {
		return &Config{}
	}
	return cfg
}

// Save writes cfg to disk as YAML (via a temporary file renamed over the
// config file), updates the in-process snapshot that Get returns, then
// writes the YAML through to the cache store's config entry and
// invalidates that entry — the write-through +
// invalidate sequence from original_source/src/handlers/admin.rs's
// save_config_to_file / save_config_sled / invalidate_config_cache chain.
func (m *Manager) Save(cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(m.path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	tmp := m.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	if err := os.Rename(tmp, m.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace config file: %w", err)
	}

	m.configValue.Store(cfg)

	if m.cache != nil {
		m.cache.PutConfig(context.Background(), cacheKeyConfig, data)
		m.cache.InvalidateConfig(context.Background(), cacheKeyConfig)
	}

	return nil
}

// GetFresh mirrors admin.rs's get_config handler: it unconditionally
// invalidates the cache before reading, so admin reads always reflect the
// file on disk rather than a stale in-process snapshot.
func (m *Manager) GetFresh() (*Config, error) {
	if m.cache != nil {
		m.cache.InvalidateConfig(context.Background(), cacheKeyConfig)
	}
	return m.Load()
}

func (m *Manager) Path() string {
	return m.path
}

// Watch starts an fsnotify watcher on the config file and reloads on
// write/create events, logging via the teacher's pattern in main.go. It
// does not block: it starts a background goroutine and returns, and that
// goroutine runs until the watcher's event or error channel is closed.
func (m *Manager) Watch(onReload func(*Config), onError func(error)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("init config watcher: %w", err)
	}

	dir := filepath.Dir(m.path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watch config dir: %w", err)
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Name != m.path {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				cfg, err := m.Load()
				if err != nil {
					if onError != nil {
						onError(err)
					}
					continue
				}
				if m.cache != nil {
					m.cache.InvalidateConfig(context.Background(), cacheKeyConfig)
				}
				if onReload != nil {
					onReload(cfg)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				if onError != nil {
					onError(err)
				}
			}
		}
	}()

	return nil
}
