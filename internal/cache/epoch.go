// Package cache provides the process-wide cache epoch and the plugin-cache
// implementations invalidated by it.
package cache

import (
	"sync"

	"github.com/rs/zerolog/log"
)

// Store is the contract every registered plugin cache satisfies. Clear must
// leave the cache observably empty before Bump returns.
type Store interface {
	Get(key string) (any, bool)
	Set(key string, value any)
	Clear()
	Len() int
}

// Registry owns the monotonically increasing cache epoch and the set of
// caches emptied when it bumps.
type Registry struct {
	mu     sync.Mutex
	epoch  int64
	stores []Store
	seen   map[Store]struct{}
	onBump func()
}

func NewRegistry() *Registry {
	return &Registry{seen: make(map[Store]struct{})}
}

// Epoch returns the current epoch value.
func (r *Registry) Epoch() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.epoch
}

// OnBump installs a hook invoked after each bump (instrumentation).
func (r *Registry) OnBump(f func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onBump = f
}

// Register adds a cache to the invalidation set. Idempotent.
func (r *Registry) Register(s Store) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.seen[s]; ok {
		return
	}
	r.seen[s] = struct{}{}
	r.stores = append(r.stores, s)
}

// Bump increments the epoch and clears every registered cache. The clear is
// atomic with respect to readers going through this registry: the lock is
// held across the whole sweep.
func (r *Registry) Bump() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.epoch++
	for _, s := range r.stores {
		s.Clear()
	}
	if r.onBump != nil {
		r.onBump()
	}
	log.Debug().Int64("epoch", r.epoch).Int("caches", len(r.stores)).Msg("cache epoch bumped")
	return r.epoch
}
