// The disk store lists its keys in sorted order, so the resident key set is additionally kept in a skip list.
// A skip list maintains multiple forward-pointer layers over a sorted linked list. Each key may be promoted to
// higher levels with probability p, forming express lanes that let searches skip over large ranges. Operations
// start at the highest populated level and descend when advancing would overshoot the target key.
//
// Properties
// - Expected time complexity for Add/Contains/Delete: O(log n)
// - Iteration yields keys in ascending order by walking level 0.

package storage

import (
	"cmp"
	"iter"
	"math/rand"
	"time"
)

// keySetNode is a member of the set with one forward pointer per level it was promoted to.
type keySetNode[K cmp.Ordered] struct {
	key      K
	forwards []*keySetNode[K]
}

// keySet is an ordered set backed by a skip list. It is not synchronized.
type keySet[K cmp.Ordered] struct {
	head            *keySetNode[K]
	level, maxLevel int
	p               float64 // Probability that a node is promoted to the next level.
	rnd             *rand.Rand
	size            int
}

// newKeySet creates an empty set. Defaults: maxLevel=16, p=0.25.
func newKeySet[K cmp.Ordered]() *keySet[K] {
	const defaultMaxLevel = 16
	const defaultP = 0.25
	return &keySet[K]{
		head:     &keySetNode[K]{forwards: make([]*keySetNode[K], defaultMaxLevel)},
		level:    1,
		maxLevel: defaultMaxLevel,
		p:        defaultP,
		rnd:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (s *keySet[K]) randomLevel() int {
	lvl := 1
	for lvl < s.maxLevel && s.rnd.Float64() < s.p {
		lvl++
	}
	return lvl
}

// predecessors fills `update` with the last node before `key` on every level and returns the level 0 candidate.
func (s *keySet[K]) predecessors(key K, update []*keySetNode[K]) *keySetNode[K] {
	node := s.head
	for lvl := s.level - 1; lvl >= 0; lvl-- {
		for next := node.forwards[lvl]; next != nil && cmp.Less(next.key, key); next = node.forwards[lvl] {
			node = next
		}
		if update != nil {
			update[lvl] = node
		}
	}
	return node.forwards[0]
}

// Len returns the number of members.
func (s *keySet[K]) Len() int {
	return s.size
}

// Contains reports whether `key` is a member.
func (s *keySet[K]) Contains(key K) bool {
	candidate := s.predecessors(key, nil)
	return candidate != nil && candidate.key == key
}

// Add inserts `key` and reports whether it was not a member before.
func (s *keySet[K]) Add(key K) bool {
	update := make([]*keySetNode[K], s.maxLevel)
	if candidate := s.predecessors(key, update); candidate != nil && candidate.key == key {
		return false
	}
	lvl := s.randomLevel()
	if lvl > s.level {
		for i := s.level; i < lvl; i++ {
			update[i] = s.head
		}
		s.level = lvl
	}
	node := &keySetNode[K]{key: key, forwards: make([]*keySetNode[K], lvl)}
	for i := 0; i < lvl; i++ {
		node.forwards[i] = update[i].forwards[i]
		update[i].forwards[i] = node
	}
	s.size++
	return true
}

// Delete removes `key` and reports whether it was a member.
func (s *keySet[K]) Delete(key K) bool {
	update := make([]*keySetNode[K], s.maxLevel)
	target := s.predecessors(key, update)
	if target == nil || target.key != key {
		return false
	}
	for i := 0; i < s.level; i++ {
		if update[i].forwards[i] == target {
			update[i].forwards[i] = target.forwards[i]
		}
	}
	// Drop levels that became empty.
	for s.level > 1 && s.head.forwards[s.level-1] == nil {
		s.level--
	}
	s.size--
	return true
}

// Clear removes every member.
func (s *keySet[K]) Clear() {
	clear(s.head.forwards)
	s.level, s.size = 1, 0
}

// All yields members in ascending order. The set must not be mutated while iterating.
func (s *keySet[K]) All() iter.Seq[K] {
	return func(yield func(K) bool) {
		for node := s.head.forwards[0]; node != nil; node = node.forwards[0] {
			if !yield(node.key) {
				return
			}
		}
	}
}
