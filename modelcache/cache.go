// Package modelcache keeps per-provider model lists with a TTL so the UI can
// show selectable models without a network round trip on every open.
package modelcache

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"glimpse/config"
	"glimpse/model"
	"glimpse/provider"
	"glimpse/storage"
)

// Entry is the cached model list of one provider.
type Entry struct {
	ProviderID string
	Models     []model.ModelInfo
	Source     string
	FetchedAt  time.Time
}

// SettingsSource supplies the per-provider base URL and model used when a
// refresh builds an adapter. config.ProviderSettings implements it.
type SettingsSource interface {
	Get(providerID string) config.ProviderConfig
}

type Options struct {
	Factory *provider.Factory
	// TTL returns the freshness window for a provider. Nil uses
	// config.DefaultModelCacheTTL for every provider.
	TTL      func(providerID string) time.Duration
	Store    *storage.ModelCacheStore
	Settings SettingsSource
	Logger   *zap.Logger
}

// Cache is safe for concurrent use. Concurrent refreshes of one provider
// share a single fetch.
type Cache struct {
	factory  *provider.Factory
	ttl      func(string) time.Duration
	store    *storage.ModelCacheStore
	settings SettingsSource
	logger   *zap.Logger
	now      func() time.Time

	mu      sync.RWMutex
	entries map[string]Entry
	group   singleflight.Group
}

// New builds a cache and warms it from the persistent store when one is set.
func New(opts Options) *Cache {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	ttl := opts.TTL
	if ttl == nil {
		ttl = func(string) time.Duration { return config.DefaultModelCacheTTL }
	}

	c := &Cache{
		factory:  opts.Factory,
		ttl:      ttl,
		store:    opts.Store,
		settings: opts.Settings,
		logger:   logger.With(zap.String("component", "modelcache")),
		now:      time.Now,
		entries:  make(map[string]Entry),
	}
	c.warm()
	return c
}

func (c *Cache) warm() {
	if c.store == nil {
		return
	}
	persisted, err := c.store.List()
	if err != nil {
		c.logger.Warn("failed to load persisted model cache", zap.Error(err))
		return
	}
	for _, p := range persisted {
		c.entries[p.ProviderID] = Entry{
			ProviderID: p.ProviderID,
			Models:     p.Models,
			Source:     p.Source,
			FetchedAt:  p.FetchedAt,
		}
	}
	c.logger.Debug("model cache warmed", zap.Int("providers", len(persisted)))
}

// IsStale reports whether the provider's entry is missing or older than its
// TTL. A non-positive TTL makes every entry stale.
func (c *Cache) IsStale(providerID string) bool {
	id := strings.ToLower(providerID)

	c.mu.RLock()
	entry, ok := c.entries[id]
	c.mu.RUnlock()
	if !ok {
		return true
	}

	ttl := c.ttl(id)
	if ttl <= 0 {
		return true
	}
	return c.now().Sub(entry.FetchedAt) >= ttl
}

// Entry returns the cached entry for a provider.
func (c *Cache) Entry(providerID string) (Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.entries[strings.ToLower(providerID)]
	if !ok {
		return Entry{}, false
	}
	entry.Models = cloneModels(entry.Models)
	return entry, true
}

// Models returns the cached list, stale or not, falling back to the
// registry's declared models when nothing was fetched yet.
func (c *Cache) Models(providerID string) []model.ModelInfo {
	if entry, ok := c.Entry(providerID); ok {
		return entry.Models
	}
	if c.factory != nil && c.factory.Registry() != nil {
		return c.factory.Registry().ModelsFor(providerID)
	}
	return nil
}

// Refresh fetches the provider's models and replaces its entry.
//
// Adapters with live listing are queried; others contribute their declared
// list. On failure the previous entry is left untouched and the error is
// returned.
func (c *Cache) Refresh(ctx context.Context, providerID, credential string) ([]model.ModelInfo, error) {
	id := strings.ToLower(providerID)

	v, err, shared := c.group.Do(id, func() (any, error) {
		return c.refresh(ctx, id, credential)
	})
	if err != nil {
		return nil, err
	}
	if shared {
		c.logger.Debug("model refresh shared", zap.String("provider", id))
	}
	return cloneModels(v.([]model.ModelInfo)), nil
}

func (c *Cache) refresh(ctx context.Context, id, credential string) ([]model.ModelInfo, error) {
	var cfg config.ProviderConfig
	if c.settings != nil {
		cfg = c.settings.Get(id)
	}

	p, err := c.factory.Create(id, credential, cfg)
	if err != nil {
		return nil, err
	}

	source := storage.SourceRegistry
	if _, ok := p.(model.ModelLister); ok {
		source = storage.SourceLive
	}

	models, err := provider.FetchModels(ctx, p)
	if err != nil {
		c.logger.Warn("model refresh failed, keeping previous entry",
			zap.String("provider", id), zap.Error(err))
		return nil, err
	}
	if models == nil {
		models = []model.ModelInfo{}
	}

	c.mu.Lock()
	fetchedAt := c.now()
	if prev, ok := c.entries[id]; ok && prev.FetchedAt.After(fetchedAt) {
		fetchedAt = prev.FetchedAt
	}
	entry := Entry{
		ProviderID: id,
		Models:     models,
		Source:     source,
		FetchedAt:  fetchedAt,
	}
	c.entries[id] = entry
	c.mu.Unlock()

	c.logger.Debug("model list refreshed",
		zap.String("provider", id),
		zap.String("source", source),
		zap.Int("count", len(models)))

	c.persist(entry)
	return models, nil
}

// persist logs failures; the in-memory entry stays authoritative.
func (c *Cache) persist(entry Entry) {
	if c.store == nil {
		return
	}
	err := c.store.Save(storage.CachedModels{
		ProviderID: entry.ProviderID,
		Models:     entry.Models,
		Source:     entry.Source,
		FetchedAt:  entry.FetchedAt,
	})
	if err != nil {
		c.logger.Warn("failed to persist model cache entry",
			zap.String("provider", entry.ProviderID), zap.Error(err))
	}
}

func cloneModels(models []model.ModelInfo) []model.ModelInfo {
	if models == nil {
		return nil
	}
	out := make([]model.ModelInfo, len(models))
	copy(out, models)
	return out
}
