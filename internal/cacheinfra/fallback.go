package cacheinfra

import (
	"container/heap"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

type fallbackItem[V any] struct {
	value     V
	expiresAt time.Time
}

// expiryRef points at the entry stored for key with expiry at. Refs of
// replaced or removed entries stay in the heap until popped or compacted.
type expiryRef struct {
	key string
	at  time.Time
}

type expiryHeap []expiryRef

func (h expiryHeap) Len() int           { return len(h) }
func (h expiryHeap) Less(i, j int) bool { return h[i].at.Before(h[j].at) }
func (h expiryHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *expiryHeap) Push(x any)        { *h = append(*h, x.(expiryRef)) }
func (h *expiryHeap) Pop() any {
	old := *h
	n := len(old) - 1
	ref := old[n]
	*h = old[:n]
	return ref
}

// Fallback is the bounded in-process tier. When full it first drops entries
// whose expiry has passed, then the least recently accessed entry.
type Fallback[V any] struct {
	mu        sync.Mutex
	items     *lru.Cache[string, fallbackItem[V]]
	expiries  expiryHeap
	capacity  int
	evictions uint64
}

// NewFallback returns a Fallback holding at most capacity entries.
func NewFallback[V any](capacity int) (*Fallback[V], error) {
	if capacity <= 0 {
		return nil, &ConfigError{Field: "FallbackCapacity", Message: "must be greater than 0"}
	}
	items, err := lru.New[string, fallbackItem[V]](capacity)
	if err != nil {
		return nil, err
	}
	return &Fallback[V]{items: items, capacity: capacity}, nil
}

// Get returns the value for key if present and not expired at now. A hit
// refreshes the entry's access recency; an expired entry is dropped.
func (f *Fallback[V]) Get(key string, now time.Time) (V, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var zero V
	it, ok := f.items.Get(key)
	if !ok {
		return zero, false
	}
	if !now.Before(it.expiresAt) {
		f.items.Remove(key)
		return zero, false
	}
	return it.value, true
}

// Put stores value until expiresAt, replacing any previous entry for key.
func (f *Fallback[V]) Put(key string, value V, expiresAt, now time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.items.Contains(key) && f.items.Len() >= f.capacity {
		f.purgeExpiredLocked(now)
	}
	if f.items.Add(key, fallbackItem[V]{value: value, expiresAt: expiresAt}) {
		f.evictions++
	}
	heap.Push(&f.expiries, expiryRef{key: key, at: expiresAt})
	if len(f.expiries) > 2*f.capacity {
		f.compactLocked()
	}
}

// purgeExpiredLocked pops every ref whose expiry has passed and drops the
// entry it still points at.
func (f *Fallback[V]) purgeExpiredLocked(now time.Time) {
	for len(f.expiries) > 0 && !now.Before(f.expiries[0].at) {
		ref := heap.Pop(&f.expiries).(expiryRef)
		it, ok := f.items.Peek(ref.key)
		if ok && it.expiresAt.Equal(ref.at) {
			f.items.Remove(ref.key)
			f.evictions++
		}
	}
}

// compactLocked rebuilds the heap from the live entries, dropping stale refs.
func (f *Fallback[V]) compactLocked() {
	f.expiries = f.expiries[:0]
	for _, k := range f.items.Keys() {
		if it, ok := f.items.Peek(k); ok {
			f.expiries = append(f.expiries, expiryRef{key: k, at: it.expiresAt})
		}
	}
	heap.Init(&f.expiries)
}

// Remove deletes key and reports whether it was present.
func (f *Fallback[V]) Remove(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.items.Remove(key)
}

// RemoveMatching deletes every key selected by m and returns them.
func (f *Fallback[V]) RemoveMatching(m Matcher) []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	var removed []string
	for _, k := range f.items.Keys() {
		if m.Match(k) && f.items.Remove(k) {
			removed = append(removed, k)
		}
	}
	return removed
}

// Keys returns the keys from least to most recently accessed.
func (f *Fallback[V]) Keys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.items.Keys()
}

func (f *Fallback[V]) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.items.Len()
}

func (f *Fallback[V]) Capacity() int { return f.capacity }

// Evictions counts entries dropped for capacity or expiry during Put.
func (f *Fallback[V]) Evictions() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.evictions
}
