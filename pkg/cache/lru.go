// This module implements a size-bounded LRU cache.
// Eviction Policy (LRU):
// Every entry carries a size resolved by a caller supplied SizeFn. After every Put or Resize the least recently used
// entries are evicted, oldest first, until the resident size is within the capacity. Reads move the entry to the most
// recently used position; never-read entries keep their insertion order, which makes eviction deterministic.
//
// Values are never mutated in place: a Put for an existing key installs a new entry, so a value handed out by an
// earlier Get stays valid for as long as the caller holds it.

package cache

import (
	"sync"

	"github.com/nobletooth/artcache/pkg/utils"
)

// LRU is a thread-safe, size-bounded, in-memory least recently used cache.
type LRU[K comparable, V any] struct { // Implements Layer.
	mux      sync.Mutex   // Guards index and capacity; never held while calling sizeOf or listeners.
	index    *Index[K, V] // Recency ordered entries.
	capacity int64        // Maximum sum of entry sizes.
	sizeOf   SizeFn[K, V] // Resolves entry sizes in the eviction unit.
	hooks    hooks[K, V]  // Observers notified after each mutation.
}

var _ Layer[string, []byte] = (*LRU[string, []byte])(nil)

// NewLRU is the constructor for LRU. A nil `sizeOf` counts every entry as one unit, which turns the capacity into
// an entry count.
func NewLRU[K comparable, V any](capacity int64, sizeOf SizeFn[K, V]) *LRU[K, V] {
	if capacity < 0 {
		utils.RaiseInvariant("lru", "negative_cache_capacity",
			"Invalid capacity has been given to lru cache.", "capacity", capacity)
		capacity = 0
	}
	if sizeOf == nil {
		sizeOf = func(K, V) int64 { return 1 }
	}
	return &LRU[K, V]{index: NewIndex[K, V](), capacity: capacity, sizeOf: sizeOf}
}

// ByteSize is a SizeFn counting the length of byte slice values.
func ByteSize[K comparable](_ K, value []byte) int64 {
	return int64(len(value))
}

// Get retrieves a value from the cache for a given key and marks it as the most recently used entry.
func (c *LRU[K, V]) Get(key K) (V, bool /*found*/) {
	c.mux.Lock()
	defer c.mux.Unlock()
	value, _, found := c.index.Get(key)
	return value, found
}

// Peek retrieves a value without changing its recency.
func (c *LRU[K, V]) Peek(key K) (V, bool /*found*/) {
	c.mux.Lock()
	defer c.mux.Unlock()
	value, _, found := c.index.Peek(key)
	return value, found
}

// Put inserts or replaces the value of `key` and evicts least recently used entries until the cache fits its
// capacity. A value bigger than the capacity is rejected; any older value for the key is dropped in that case so
// readers never observe a stale value after a failed replacement.
func (c *LRU[K, V]) Put(key K, value V) (Entry[K], bool /*stored*/) {
	size := c.sizeOf(key, value) // Caller code runs outside the lock.
	if size < 0 {
		utils.RaiseInvariant("lru", "negative_entry_size", "Size function returned a negative size.",
			"key", key, "size", size)
		size = 0
	}

	var events []Event[K, V]
	c.mux.Lock()
	if size > c.capacity {
		if removed, found := c.index.Remove(key); found {
			events = append(events, removedEvent(removed, ReasonReplaced))
		}
		c.mux.Unlock()
		c.hooks.dispatch(events)
		return Entry[K]{}, false
	}
	entry, replaced := c.index.Insert(key, value, size)
	if replaced != nil {
		events = append(events, removedEvent(*replaced, ReasonReplaced))
	}
	events = append(events, addedEvent(entry, value))
	for _, evicted := range c.index.EvictTo(c.capacity) {
		events = append(events, removedEvent(evicted, ReasonEvicted))
	}
	c.mux.Unlock()

	c.hooks.dispatch(events)
	return entry, true
}

// Remove drops `key` from the cache.
func (c *LRU[K, V]) Remove(key K) (Entry[K], bool /*found*/) {
	c.mux.Lock()
	removed, found := c.index.Remove(key)
	c.mux.Unlock()
	if !found {
		return Entry[K]{}, false
	}
	c.hooks.dispatch([]Event[K, V]{removedEvent(removed, ReasonExplicit)})
	return removed.Entry, true
}

// Resize updates the capacity and evicts least recently used entries until the resident size fits.
func (c *LRU[K, V]) Resize(capacity int64) {
	if capacity < 0 {
		utils.RaiseInvariant("lru", "negative_cache_capacity",
			"Invalid capacity has been given to lru cache.", "capacity", capacity)
		capacity = 0
	}
	c.mux.Lock()
	oldCapacity := c.capacity
	c.capacity = capacity
	evicted := c.index.EvictTo(capacity)
	c.mux.Unlock()

	events := make([]Event[K, V], 0, len(evicted)+1)
	if oldCapacity != capacity {
		events = append(events, capacityEvent[K, V](oldCapacity, capacity))
	}
	for _, removed := range evicted {
		events = append(events, removedEvent(removed, ReasonEvicted))
	}
	c.hooks.dispatch(events)
}

// Capacity returns the current capacity.
func (c *LRU[K, V]) Capacity() int64 {
	c.mux.Lock()
	defer c.mux.Unlock()
	return c.capacity
}

// Size returns the sum of resident entry sizes.
func (c *LRU[K, V]) Size() int64 {
	c.mux.Lock()
	defer c.mux.Unlock()
	return c.index.Size()
}

// Len returns the number of resident entries.
func (c *LRU[K, V]) Len() int {
	c.mux.Lock()
	defer c.mux.Unlock()
	return c.index.Len()
}

// Keys returns resident keys from the least to the most recently used.
func (c *LRU[K, V]) Keys() []K {
	c.mux.Lock()
	defer c.mux.Unlock()
	return c.index.Keys()
}

// Entries returns resident entries from the least to the most recently used.
func (c *LRU[K, V]) Entries() []Entry[K] {
	c.mux.Lock()
	defer c.mux.Unlock()
	entries := make([]Entry[K], 0, c.index.Len())
	for entry := range c.index.All() {
		entries = append(entries, entry)
	}
	return entries
}

// Purge removes every entry, firing a removal event per entry from the least to the most recently used.
func (c *LRU[K, V]) Purge() {
	c.mux.Lock()
	removed := c.index.Clear()
	c.mux.Unlock()

	events := make([]Event[K, V], 0, len(removed))
	for _, r := range removed {
		events = append(events, removedEvent(r, ReasonExplicit))
	}
	c.hooks.dispatch(events)
}

// AddListener subscribes `listener` to the cache events and returns its unsubscribe function.
func (c *LRU[K, V]) AddListener(listener Listener[K, V]) func() {
	return c.hooks.add(listener)
}
