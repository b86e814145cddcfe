// This module implements cache sharding which distributes keys uniformly across cache shards. Since each thread-safe
// cache implementation has a mutex to avoid races between reads and writes, sharding helps by distributing the locks.
// In cases where there are multiple goroutines trying to read or write to the sharded cache, each goroutine can only
// lock the shard that their key belongs to and doesn't prevent other goroutines from accessing their intended keys.

package cache

import (
	"encoding/binary"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
	"github.com/nobletooth/artcache/pkg/utils"
)

// Sharded is a cache implementation that distributes keys across multiple underlying cache instances (shards).
// This pattern is used to reduce lock contention in high-traffic scenarios, as different keys can be accessed in
// parallel on different shards. The capacity is split evenly across shards, hence LRU order and eviction are
// per shard rather than global.
type Sharded[K comparable, V any] struct { // Implements Layer.
	shards   []Layer[K, V]
	hash     func(key K) uint64 // Helps choose the shards index.
	mux      sync.Mutex         // Serializes Resize calls.
	capacity atomic.Int64       // Total capacity over all shards.
	hooks    hooks[K, V]        // Observers of every shard.
}

var _ Layer[string, []byte] = (*Sharded[string, []byte])(nil)

// splitCapacity returns the capacity of the shard at `shardIdx` when `capacity` is split over `shardCount` shards.
// The remainder goes to the first shards so the sum of shard capacities equals `capacity`.
func splitCapacity(capacity int64, shardCount, shardIdx int) int64 {
	share := capacity / int64(shardCount)
	if int64(shardIdx) < capacity%int64(shardCount) {
		share++
	}
	return share
}

// NewSharded is the constructor for Sharded. It takes a cacheGenerator function, which is responsible for
// creating individual shard instances with the given shard capacity, the desired number of shards (shardCount) and
// the total capacity.
func NewSharded[K comparable, V any](cacheGenerator func(capacity int64) Layer[K, V], shardCount int,
	capacity int64) *Sharded[K, V] {
	// Ensure there is at least one shard.
	if shardCount <= 0 {
		utils.RaiseInvariant("shard", "negative_shard_count",
			"Invalid shard count has been given to sharded cache.", "shardCount", shardCount)
		shardCount = 1
	}
	if capacity < 0 {
		utils.RaiseInvariant("shard", "negative_cache_capacity",
			"Invalid capacity has been given to sharded cache.", "capacity", capacity)
		capacity = 0
	}
	shardedCache := &Sharded[K, V]{shards: make([]Layer[K, V], shardCount)}
	shardedCache.capacity.Store(capacity)
	// Initialize shard instances and forward their item events; capacity changes are reported by Sharded itself.
	for i := range shardCount {
		shardedCache.shards[i] = cacheGenerator(splitCapacity(capacity, shardCount, i))
		shardedCache.shards[i].AddListener(shardForwarder[K, V]{target: &shardedCache.hooks})
	}
	// Initialize the hash function once to use in getShard.
	switch any(*new(K)).(type) {
	case string:
		shardedCache.hash = func(key K) uint64 {
			// xxhash is fast and provides good distribution for short keys.
			return xxhash.Sum64String(any(key).(string))
		}
	case int:
		shardedCache.hash = func(key K) uint64 {
			var b [8]byte
			// For numeric types, write their binary representation.
			// Since int's size is architecture-dependent, we should cast it to a fixed-size type before hashing.
			binary.LittleEndian.PutUint64(b[:], uint64(any(key).(int)))
			return xxhash.Sum64(b[:])
		}
	case uint:
		shardedCache.hash = func(key K) uint64 {
			var b [8]byte
			binary.LittleEndian.PutUint64(b[:], uint64(any(key).(uint)))
			return xxhash.Sum64(b[:])
		}
	case int32:
		shardedCache.hash = func(key K) uint64 {
			var b [4]byte
			// Fixed-size numeric types can be written directly.
			binary.LittleEndian.PutUint32(b[:], uint32(any(key).(int32)))
			return xxhash.Sum64(b[:])
		}
	case uint32:
		shardedCache.hash = func(key K) uint64 {
			var b [4]byte
			binary.LittleEndian.PutUint32(b[:], any(key).(uint32))
			return xxhash.Sum64(b[:])
		}
	case int64:
		shardedCache.hash = func(key K) uint64 {
			var b [8]byte
			binary.LittleEndian.PutUint64(b[:], uint64(any(key).(int64)))
			return xxhash.Sum64(b[:])
		}
	case uint64:
		shardedCache.hash = func(key K) uint64 {
			var b [8]byte
			binary.LittleEndian.PutUint64(b[:], any(key).(uint64))
			return xxhash.Sum64(b[:])
		}
	case bool:
		shardedCache.hash = func(key K) uint64 {
			// For booleans, write a single byte (1 for true, 0 for false).
			if any(key).(bool) {
				return xxhash.Sum64([]byte{1})
			} else {
				return xxhash.Sum64([]byte{0})
			}
		}
	default:
		shardedCache.hash = func(key K) uint64 {
			// As a fallback for other types (like structs), use fmt.Sprintf. This is less performant but works for any
			// type that can be printed.
			return xxhash.Sum64String(fmt.Sprintf("%#v", key))
		}
	}
	return shardedCache
}

// shardForwarder re-dispatches item events of one shard to the observers of the sharded cache.
type shardForwarder[K comparable, V any] struct {
	target *hooks[K, V]
}

func (f shardForwarder[K, V]) OnEvent(event Event[K, V]) {
	if event.Kind == EventCapacityChanged {
		return
	}
	f.target.dispatch([]Event[K, V]{event})
}

// getShard determines which shard a given key belongs to. It does this by hashing the key and using the modulo operator
// to map the hash value to a shard index.
func (c *Sharded[K, V]) getShard(key K) Layer[K, V] {
	return c.shards[c.hash(key)%uint64(len(c.shards))]
}

// Get finds the appropriate shard for the key and retrieves the value from it.
func (c *Sharded[K, V]) Get(key K) (V, bool /*found*/) {
	return c.getShard(key).Get(key)
}

// Peek finds the appropriate shard for the key and peeks the value without touching its recency.
func (c *Sharded[K, V]) Peek(key K) (V, bool /*found*/) {
	return c.getShard(key).Peek(key)
}

// Put finds the appropriate shard for the key and stores the value in it. Values larger than a single shard's
// capacity are rejected.
func (c *Sharded[K, V]) Put(key K, value V) (Entry[K], bool /*stored*/) {
	return c.getShard(key).Put(key, value)
}

// Remove finds the appropriate shard for the key and removes the key from it.
func (c *Sharded[K, V]) Remove(key K) (Entry[K], bool /*found*/) {
	return c.getShard(key).Remove(key)
}

// Resize splits the new capacity over the shards and resizes each of them. The capacity change is reported after
// every shard was resized.
func (c *Sharded[K, V]) Resize(capacity int64) {
	if capacity < 0 {
		utils.RaiseInvariant("shard", "negative_cache_capacity",
			"Invalid capacity has been given to sharded cache.", "capacity", capacity)
		capacity = 0
	}
	c.mux.Lock()
	oldCapacity := c.capacity.Swap(capacity)
	for i, shard := range c.shards {
		shard.Resize(splitCapacity(capacity, len(c.shards), i))
	}
	c.mux.Unlock()
	// Listeners run after the shards fit the new capacity and outside the lock, so they may resize again.
	if oldCapacity != capacity {
		c.hooks.dispatch([]Event[K, V]{capacityEvent[K, V](oldCapacity, capacity)})
	}
}

// Capacity returns the total capacity over all shards.
func (c *Sharded[K, V]) Capacity() int64 {
	return c.capacity.Load()
}

// Size returns the sum of resident sizes over all shards.
func (c *Sharded[K, V]) Size() int64 {
	var size int64
	for _, shard := range c.shards {
		size += shard.Size()
	}
	return size
}

// Len returns the number of resident entries over all shards.
func (c *Sharded[K, V]) Len() int {
	var length int
	for _, shard := range c.shards {
		length += shard.Len()
	}
	return length
}

// Keys aggregates the keys from all shards into a single slice. This can be a resource-intensive operation, as it
// requires iterating over every shard and collecting its keys.
func (c *Sharded[K, V]) Keys() []K {
	keys := make([]K, 0)
	for _, shard := range c.shards {
		keys = append(keys, shard.Keys()...)
	}
	return keys
}

// Purge clears all items from the cache by calling Purge on every shard.
func (c *Sharded[K, V]) Purge() {
	for _, shard := range c.shards {
		shard.Purge()
	}
}

// AddListener subscribes `listener` to the events of every shard.
func (c *Sharded[K, V]) AddListener(listener Listener[K, V]) func() {
	return c.hooks.add(listener)
}
