// The entry index is the bookkeeping core shared by every LRU flavour in this repository: a hash map from key to a
// node of the recency list, plus a resident size accountant. The front of the recency list is the least recently
// used entry and the back is the most recently used one, so eviction always pops from the front.
//
// Index is not synchronized. The in-memory LRU guards it with its own mutex and the disk store guards it with the
// store lock, which also serializes journal appends.

package cache

import (
	"iter"

	"github.com/nobletooth/artcache/pkg/utils"
)

// Entry describes a resident entry without its value.
type Entry[K comparable] struct {
	Key  K
	Size int64  // Size in the eviction unit of the owning store (bytes, pixels, ...).
	Rank uint64 // Recency rank; a larger rank was used more recently. Ranks are unique within an index.
}

// Removed is an entry that left the index together with the value it held.
type Removed[K comparable, V any] struct {
	Entry Entry[K]
	Value V
}

// indexEntry is the payload of each recency list node.
type indexEntry[K comparable, V any] struct {
	key   K
	value V
	size  int64
	rank  uint64
}

func (e *indexEntry[K, V]) entry() Entry[K] {
	return Entry[K]{Key: e.key, Size: e.size, Rank: e.rank}
}

// Index maps keys to entries ordered by recency.
type Index[K comparable, V any] struct {
	nodes   map[K]*linkedListNode[*indexEntry[K, V]]
	recency linkedList[*indexEntry[K, V]] // Front is the least recently used entry.
	size    int64                         // Sum of the sizes of resident entries.
	clock   uint64                        // Source of recency ranks.
}

// NewIndex is the constructor for Index.
func NewIndex[K comparable, V any]() *Index[K, V] {
	return &Index[K, V]{nodes: make(map[K]*linkedListNode[*indexEntry[K, V]])}
}

// Len returns the number of resident entries.
func (ix *Index[K, V]) Len() int {
	return len(ix.nodes)
}

// Size returns the sum of the sizes of resident entries.
func (ix *Index[K, V]) Size() int64 {
	return ix.size
}

func (ix *Index[K, V]) nextRank() uint64 {
	ix.clock++
	return ix.clock
}

// Get returns the value of `key` and marks it as the most recently used entry.
func (ix *Index[K, V]) Get(key K) (V, Entry[K], bool /*found*/) {
	node, found := ix.nodes[key]
	if !found {
		return *new(V), Entry[K]{}, false
	}
	node.Value.rank = ix.nextRank()
	ix.recency.MoveToBack(node)
	return node.Value.value, node.Value.entry(), true
}

// Peek returns the value of `key` without changing its recency.
func (ix *Index[K, V]) Peek(key K) (V, Entry[K], bool /*found*/) {
	node, found := ix.nodes[key]
	if !found {
		return *new(V), Entry[K]{}, false
	}
	return node.Value.value, node.Value.entry(), true
}

// Touch marks `key` as the most recently used entry and reports whether it is resident.
func (ix *Index[K, V]) Touch(key K) bool {
	_, _, found := ix.Get(key)
	return found
}

// Insert makes `value` the resident value of `key` as its most recently used entry. A previous value for the key is
// returned so the caller can release whatever it references.
func (ix *Index[K, V]) Insert(key K, value V, size int64) (Entry[K], *Removed[K, V] /*replaced*/) {
	if size < 0 {
		utils.RaiseInvariant("index", "negative_entry_size", "Got a negative entry size.", "size", size)
		size = 0
	}
	var replaced *Removed[K, V]
	if node, found := ix.nodes[key]; found {
		replaced = &Removed[K, V]{Entry: node.Value.entry(), Value: node.Value.value}
		ix.unlink(node)
	}
	// A new payload is allocated on every insert so values handed out earlier are never mutated in place.
	entry := &indexEntry[K, V]{key: key, value: value, size: size, rank: ix.nextRank()}
	ix.nodes[key] = ix.recency.PushBack(entry)
	ix.size += size
	return entry.entry(), replaced
}

// Remove drops `key` from the index.
func (ix *Index[K, V]) Remove(key K) (Removed[K, V], bool /*found*/) {
	node, found := ix.nodes[key]
	if !found {
		return Removed[K, V]{}, false
	}
	removed := Removed[K, V]{Entry: node.Value.entry(), Value: node.Value.value}
	ix.unlink(node)
	return removed, true
}

// unlink removes the node from both the map and the recency list and updates the size accountant.
func (ix *Index[K, V]) unlink(node *linkedListNode[*indexEntry[K, V]]) {
	delete(ix.nodes, node.Value.key)
	ix.recency.Remove(node)
	ix.size -= node.Value.size
	if ix.size < 0 {
		utils.RaiseInvariant("index", "negative_resident_size", "Resident size dropped below zero.",
			"size", ix.size, "key", node.Value.key)
		ix.size = 0
	}
}

// Oldest returns the least recently used entry.
func (ix *Index[K, V]) Oldest() (Removed[K, V], bool /*found*/) {
	front := ix.recency.Front()
	if front == nil {
		return Removed[K, V]{}, false
	}
	return Removed[K, V]{Entry: front.Value.entry(), Value: front.Value.value}, true
}

// EvictTo removes least recently used entries until the resident size is at most `capacity`. Evicted entries are
// returned in eviction order, i.e. oldest first.
func (ix *Index[K, V]) EvictTo(capacity int64) []Removed[K, V] {
	var evicted []Removed[K, V]
	for ix.size > capacity {
		front := ix.recency.Front()
		if front == nil {
			utils.RaiseInvariant("index", "size_without_entries", "Resident size is positive with no entries.",
				"size", ix.size)
			ix.size = 0
			break
		}
		evicted = append(evicted, Removed[K, V]{Entry: front.Value.entry(), Value: front.Value.value})
		ix.unlink(front)
	}
	return evicted
}

// Clear removes every entry and returns them from the least to the most recently used.
func (ix *Index[K, V]) Clear() []Removed[K, V] {
	removed := make([]Removed[K, V], 0, ix.Len())
	for node := ix.recency.Front(); node != nil; node = node.Next() {
		removed = append(removed, Removed[K, V]{Entry: node.Value.entry(), Value: node.Value.value})
	}
	ix.nodes = make(map[K]*linkedListNode[*indexEntry[K, V]])
	ix.recency.Clear()
	ix.size = 0
	return removed
}

// Keys returns resident keys from the least to the most recently used.
func (ix *Index[K, V]) Keys() []K {
	keys := make([]K, 0, ix.Len())
	for node := ix.recency.Front(); node != nil; node = node.Next() {
		keys = append(keys, node.Value.key)
	}
	return keys
}

// All yields resident entries from the least to the most recently used. The index must not be mutated while
// iterating.
func (ix *Index[K, V]) All() iter.Seq2[Entry[K], V] {
	return func(yield func(Entry[K], V) bool) {
		for node := ix.recency.Front(); node != nil; node = node.Next() {
			if !yield(node.Value.entry(), node.Value.value) {
				return
			}
		}
	}
}
