package cache

import "sync"

// DefaultCapacity is the per-plugin entry bound. Payloads are large (whole
// scoreboard views), so the cache is deliberately tiny.
const DefaultCapacity = 3

// Evictable lets cached payloads drop their large sub-arrays before the
// entry is discarded, so the collector reclaims them promptly.
type Evictable interface {
	Evict()
}

// Bounded is an in-memory Store holding at most capacity entries; inserting
// beyond the bound evicts the oldest entry.
type Bounded struct {
	mu       sync.Mutex
	capacity int
	entries  map[string]any
	order    []string
}

func NewBounded(capacity int) *Bounded {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Bounded{
		capacity: capacity,
		entries:  make(map[string]any),
	}
}

func (b *Bounded) Get(key string) (any, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	v, ok := b.entries[key]
	return v, ok
}

func (b *Bounded) Set(key string, value any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.entries[key]; !ok {
		b.order = append(b.order, key)
	}
	b.entries[key] = value
	for len(b.order) > b.capacity {
		oldest := b.order[0]
		b.order = b.order[1:]
		if ev, ok := b.entries[oldest].(Evictable); ok {
			ev.Evict()
		}
		delete(b.entries, oldest)
	}
}

func (b *Bounded) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries = make(map[string]any)
	b.order = nil
}

func (b *Bounded) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}
