// artcache keeps expensive artifacts (decoded bitmaps, parsed metadata) in memory to avoid recomputing them.
// This module provides an interface on caching, making the single LRU, the sharded LRU and the disabled cache
// have the same API.

package cache

// SizeFn resolves the accounting size of a value in the eviction unit of a store, e.g. bytes for encoded payloads or
// allocated pixel bytes for bitmaps. It is called outside of any store lock.
type SizeFn[K comparable, V any] func(key K, value V) int64

// Layer defines the interface for a capacity-bounded in-memory cache.
type Layer[K comparable, V any] interface {
	// Get returns the value for `key` and marks it as most recently used. A miss has no side effect.
	Get(key K) (V, bool)
	// Peek returns the value for `key` without touching its recency.
	Peek(key K) (V, bool)
	// Put makes `value` the resident value of `key` and evicts down to capacity. It returns false when the value is
	// larger than the whole capacity; such a value is not stored.
	Put(key K, value V) (Entry[K], bool)
	// Remove drops `key` unconditionally and returns the removed entry.
	Remove(key K) (Entry[K], bool)
	// Resize changes the capacity and evicts until the resident size fits. Growing never evicts.
	Resize(capacity int64)
	Capacity() int64 // Returns the current capacity.
	Size() int64     // Returns the sum of resident sizes.
	Len() int        // Returns the number of resident entries.
	Keys() []K       // Returns resident keys; least recently used first within a shard.
	Purge()          // Removes all items from the cache.
	// AddListener subscribes to store events and returns the unsubscribe function.
	AddListener(listener Listener[K, V]) func()
}

// NoOp is a cache layer that doesn't store any items.
// It is used when the memory tier is disabled.
type NoOp[K comparable, V any] struct { // Implements Layer.
}

var _ Layer[int, int] = (*NoOp[int, int])(nil)

// NewNoOp returns a no-operation cache layer that does not store any items.
func NewNoOp[K comparable, V any]() *NoOp[K, V] {
	return &NoOp[K, V]{}
}

// Get always returns false, indicating the key is not found.
func (n *NoOp[K, V]) Get(key K) (V, bool) {
	var zero V
	return zero, false
}

// Peek always returns false, indicating the key is not found.
func (n *NoOp[K, V]) Peek(key K) (V, bool) {
	var zero V
	return zero, false
}

// Put stores nothing and reports that the value was not stored.
func (n *NoOp[K, V]) Put(key K, value V) (Entry[K], bool) {
	return Entry[K]{}, false
}

// Remove never finds anything to remove.
func (n *NoOp[K, V]) Remove(key K) (Entry[K], bool) {
	return Entry[K]{}, false
}

func (n *NoOp[K, V]) Resize(int64)     {}
func (n *NoOp[K, V]) Capacity() int64 { return 0 }
func (n *NoOp[K, V]) Size() int64     { return 0 }
func (n *NoOp[K, V]) Len() int        { return 0 }

// Keys always returns nil, as there are no keys stored.
func (n *NoOp[K, V]) Keys() []K {
	return nil
}

// Purge does nothing, as there are no items to remove.
func (n *NoOp[K, V]) Purge() {}

// AddListener accepts the listener but never notifies it.
func (n *NoOp[K, V]) AddListener(Listener[K, V]) func() {
	return func() {}
}
