package cache

import (
	"container/list"
	"sync"
	"sync/atomic"

	"github.com/hupe1980/segvis/internal/resource"
)

// LRU is a least-recently-used cache whose capacity is measured in bytes.
type LRU[K comparable, V any] struct {
	mu        sync.Mutex
	capacity  int64
	size      int64
	items     map[K]*list.Element
	evictList *list.List
	sizeOf    func(V) int64
	onEvict   func(K, V)
	rc        *resource.Controller

	hits   atomic.Int64
	misses atomic.Int64
}

type entry[K comparable, V any] struct {
	key   K
	value V
	size  int64
}

// Options configures an LRU.
type Options[K comparable, V any] struct {
	// SizeOf returns the charge of a value. Defaults to 1 per entry.
	SizeOf func(V) int64
	// OnEvict runs, outside the cache lock, for entries dropped to make room.
	OnEvict func(K, V)
	// Controller, if set, is charged for every cached byte.
	Controller *resource.Controller
}

// NewLRU creates a new LRU cache with the given capacity.
func NewLRU[K comparable, V any](capacity int64, opts Options[K, V]) *LRU[K, V] {
	sizeOf := opts.SizeOf
	if sizeOf == nil {
		sizeOf = func(V) int64 { return 1 }
	}
	return &LRU[K, V]{
		capacity:  capacity,
		items:     make(map[K]*list.Element),
		evictList: list.New(),
		sizeOf:    sizeOf,
		onEvict:   opts.OnEvict,
		rc:        opts.Controller,
	}
}

// Get returns a cached value and marks it most recently used.
func (c *LRU[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ent, ok := c.items[key]; ok {
		c.hits.Add(1)
		c.evictList.MoveToFront(ent)
		return ent.Value.(*entry[K, V]).value, true
	}
	c.misses.Add(1)
	var zero V
	return zero, false
}

// Peek returns a cached value without touching recency or stats.
func (c *LRU[K, V]) Peek(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ent, ok := c.items[key]; ok {
		return ent.Value.(*entry[K, V]).value, true
	}
	var zero V
	return zero, false
}

// Set caches value under key and reports whether it was admitted. Values
// larger than the capacity, or denied by the controller, are not cached.
func (c *LRU[K, V]) Set(key K, value V) bool {
	var evicted []*entry[K, V]
	admitted := c.set(key, value, &evicted)
	c.notify(evicted)
	return admitted
}

func (c *LRU[K, V]) set(key K, value V, evicted *[]*entry[K, V]) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	itemSize := c.sizeOf(value)
	if itemSize > c.capacity {
		return false
	}

	if ent, ok := c.items[key]; ok {
		c.evictList.MoveToFront(ent)
		e := ent.Value.(*entry[K, V])
		if itemSize > e.size && c.rc.AcquireMemory(itemSize-e.size) != nil {
			// The shared budget denied the growth: keep the old value.
			return false
		}
		if itemSize < e.size {
			c.rc.ReleaseMemory(e.size - itemSize)
		}
		c.size += itemSize - e.size
		e.value, e.size = value, itemSize
		c.evict(evicted, ent)
		return true
	}

	// Make room locally first, which also returns memory to the controller.
	for c.size+itemSize > c.capacity {
		back := c.evictList.Back()
		if back == nil {
			break
		}
		*evicted = append(*evicted, c.removeElement(back))
	}

	for c.rc.AcquireMemory(itemSize) != nil {
		back := c.evictList.Back()
		if back == nil {
			return false
		}
		*evicted = append(*evicted, c.removeElement(back))
	}

	element := c.evictList.PushFront(&entry[K, V]{key: key, value: value, size: itemSize})
	c.items[key] = element
	c.size += itemSize
	return true
}

// Remove drops key without calling OnEvict.
func (c *LRU[K, V]) Remove(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ent, ok := c.items[key]; ok {
		return c.removeElement(ent).value, true
	}
	var zero V
	return zero, false
}

// Invalidate removes entries matching the predicate without calling OnEvict.
func (c *LRU[K, V]) Invalidate(predicate func(key K) bool) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	var toRemove []*list.Element
	for key, element := range c.items {
		if predicate(key) {
			toRemove = append(toRemove, element)
		}
	}
	for _, e := range toRemove {
		c.removeElement(e)
	}
	return len(toRemove)
}

// Purge empties the cache.
func (c *LRU[K, V]) Purge() {
	c.Invalidate(func(K) bool { return true })
}

// Len returns the number of cached entries.
func (c *LRU[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Size returns the current charge of the cache.
func (c *LRU[K, V]) Size() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}

// Capacity returns the configured capacity.
func (c *LRU[K, V]) Capacity() int64 { return c.capacity }

// Stats returns hit and miss counts.
func (c *LRU[K, V]) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

func (c *LRU[K, V]) evict(evicted *[]*entry[K, V], keep *list.Element) {
	for c.size > c.capacity {
		back := c.evictList.Back()
		if back == nil || back == keep {
			break
		}
		*evicted = append(*evicted, c.removeElement(back))
	}
}

func (c *LRU[K, V]) removeElement(e *list.Element) *entry[K, V] {
	c.evictList.Remove(e)
	kv := e.Value.(*entry[K, V])
	delete(c.items, kv.key)
	c.size -= kv.size
	c.rc.ReleaseMemory(kv.size)
	return kv
}

func (c *LRU[K, V]) notify(evicted []*entry[K, V]) {
	if c.onEvict == nil {
		return
	}
	for _, e := range evicted {
		c.onEvict(e.key, e.value)
	}
}
