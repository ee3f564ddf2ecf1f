package api

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/liftnet/tracker/internal/cache"
	"github.com/liftnet/tracker/internal/hub"
	"github.com/liftnet/tracker/internal/metrics"
	"github.com/liftnet/tracker/internal/model"
)

// ComputeFunc builds a plugin's full payload from hub state.
type ComputeFunc func(ctx context.Context, h *hub.Hub, platform model.PlatformID, opts map[string]string) (map[string]any, error)

// VolatileFunc returns the fields recomputed live on every request, cache
// hit or not: timers, session status, the current athlete.
type VolatileFunc func(h *hub.Hub, platform model.PlatformID) map[string]any

// Plugin describes one scoreboard view type.
type Plugin struct {
	Type     string
	Requires []string
	Compute  ComputeFunc
	Volatile VolatileFunc
}

// PluginRegistry resolves plugin types and caches their payloads. Each
// plugin gets its own bounded cache registered for epoch invalidation.
type PluginRegistry struct {
	hub     *hub.Hub
	epochs  *cache.Registry
	metrics *metrics.Registry

	mu       sync.RWMutex
	plugins  map[string]Plugin
	caches   map[string]cache.Store
	newStore func() cache.Store
}

func NewPluginRegistry(h *hub.Hub, epochs *cache.Registry, m *metrics.Registry) *PluginRegistry {
	return &PluginRegistry{
		hub:     h,
		epochs:  epochs,
		metrics: m,
		plugins: make(map[string]Plugin),
		caches:  make(map[string]cache.Store),
		newStore: func() cache.Store {
			return cache.NewBounded(cache.DefaultCapacity)
		},
	}
}

// UseStoreFactory swaps the per-plugin cache backend. Call before any
// Register: existing caches keep their original backend.
func (r *PluginRegistry) UseStoreFactory(factory func() cache.Store) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.newStore = factory
}

// Register adds a plugin descriptor. Re-registering a type replaces the
// descriptor but keeps its cache.
func (r *PluginRegistry) Register(p Plugin) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.plugins[p.Type] = p
	if _, ok := r.caches[p.Type]; !ok {
		store := r.newStore()
		r.caches[p.Type] = store
		r.epochs.Register(store)
	}
	log.Debug().Str("plugin", p.Type).Msg("plugin registered")
}

// Types lists the registered plugin types.
func (r *PluginRegistry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.plugins))
	for t := range r.plugins {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Compute returns the plugin payload for (type, platform, opts), cached
// under the current hub state version with volatile fields overlaid live.
func (r *PluginRegistry) Compute(ctx context.Context, pluginType string, platform model.PlatformID, opts map[string]string) (map[string]any, error) {
	r.mu.RLock()
	plugin, ok := r.plugins[pluginType]
	store := r.caches[pluginType]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown plugin type %q", pluginType)
	}

	for _, req := range plugin.Requires {
		for _, missing := range r.hub.GetMissingPreconditions() {
			if missing == req {
				return nil, fmt.Errorf("plugin %s requires %s which is not loaded", pluginType, req)
			}
		}
	}

	key := cacheKey(pluginType, platform, opts, r.hub.StateVersion(), r.hub.TranslationsChecksum())
	if cached, ok := store.Get(key); ok {
		r.metrics.CacheHits.WithLabelValues(pluginType).Inc()
		return r.withVolatile(plugin, platform, cached.(map[string]any)), nil
	}
	r.metrics.CacheMisses.WithLabelValues(pluginType).Inc()

	payload, err := plugin.Compute(ctx, r.hub, platform, opts)
	if err != nil {
		return nil, err
	}
	store.Set(key, payload)
	return r.withVolatile(plugin, platform, payload), nil
}

// withVolatile shallow-copies the cached payload and overlays the live
// fields, so cached maps are never mutated.
func (r *PluginRegistry) withVolatile(plugin Plugin, platform model.PlatformID, payload map[string]any) map[string]any {
	if plugin.Volatile == nil {
		return payload
	}
	out := make(map[string]any, len(payload)+4)
	for k, v := range payload {
		out[k] = v
	}
	for k, v := range plugin.Volatile(r.hub, platform) {
		out[k] = v
	}
	return out
}

func cacheKey(pluginType string, platform model.PlatformID, opts map[string]string, stateVersion int64, translationsChecksum string) string {
	keys := make([]string, 0, len(opts))
	for k := range opts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var fp strings.Builder
	for _, k := range keys {
		fp.WriteString(k)
		fp.WriteByte('=')
		fp.WriteString(opts[k])
		fp.WriteByte('&')
	}
	return fmt.Sprintf("%s|%s|%s|%d|%s", pluginType, platform, fp.String(), stateVersion, translationsChecksum)
}
