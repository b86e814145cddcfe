// The coordinator lists keys of both cache tiers as one sorted stream. Each tier yields its keys in ascending order
// and the streams are merged lazily, so listing a large disk tier never materializes a combined copy.
//
// Every input sequence has a cursor holding its current item. Cursors live in a min-heap ordered by key, then by
// sequence index, so the first sequence wins when several sequences hold the same key; the others are skipped.

package scan

import (
	"container/heap"
	"errors"
	"iter"

	"github.com/nobletooth/artcache/pkg/utils"
)

// cursor is the pulled head of one input sequence.
type cursor[K any, V any] struct {
	item     utils.Pair[K, V]
	priority int // Index of the sequence; lower wins on equal keys.
	pull     func() (utils.Pair[K, V], bool)
	stop     func()
}

// advance pulls the next item and reports whether there was one. An exhausted cursor stops its sequence.
func (c *cursor[K, V]) advance() bool {
	item, ok := c.pull()
	if !ok {
		c.stop()
		return false
	}
	c.item = item
	return true
}

// cursorHeap orders cursors by their current key and priority.
type cursorHeap[K any, V any] struct { // Implements heap.Interface.
	compare utils.CompareFn[K]
	cursors []*cursor[K, V]
}

var _ heap.Interface = (*cursorHeap[int, int])(nil)

func (h *cursorHeap[K, V]) Len() int { return len(h.cursors) }

func (h *cursorHeap[K, V]) Less(i, j int) bool {
	if order := h.compare(h.cursors[i].item.Key, h.cursors[j].item.Key); order != 0 {
		return order < 0
	}
	return h.cursors[i].priority < h.cursors[j].priority
}

func (h *cursorHeap[K, V]) Swap(i, j int) { h.cursors[i], h.cursors[j] = h.cursors[j], h.cursors[i] }

func (h *cursorHeap[K, V]) Push(x any) {
	c, ok := x.(*cursor[K, V])
	if !ok || c == nil {
		utils.RaiseInvariant("multi_head", "pushed_invalid_cursor", "An invalid cursor was pushed to the heap.")
		return
	}
	h.cursors = append(h.cursors, c)
}

func (h *cursorHeap[K, V]) Pop() any {
	last := h.cursors[len(h.cursors)-1]
	h.cursors = h.cursors[:len(h.cursors)-1]
	return last
}

// stopAll stops the sequences of cursors still in the heap.
func (h *cursorHeap[K, V]) stopAll() {
	for _, c := range h.cursors {
		c.stop()
	}
	h.cursors = nil
}

// MultiHead merges increasing `sequences` into one increasing sequence. Items with equal keys are yielded once,
// taking the item of the earliest sequence. Sequences are pulled lazily, one item ahead of what was yielded.
func MultiHead[Seq iter.Seq[utils.Pair[K, V]], K any, V any](compare utils.CompareFn[K], sequences []Seq) (Seq, error) {
	if compare == nil {
		return nil, errors.New("expected a non-nil comparison function")
	}
	if len(sequences) == 0 {
		return nil, errors.New("expected a non-empty sequences")
	}

	return func(yield func(utils.Pair[K, V]) bool) {
		h := &cursorHeap[K, V]{compare: compare, cursors: make([]*cursor[K, V], 0, len(sequences))}
		defer h.stopAll()
		for priority, seq := range sequences {
			pull, stop := iter.Pull(iter.Seq[utils.Pair[K, V]](seq))
			c := &cursor[K, V]{priority: priority, pull: pull, stop: stop}
			if c.advance() {
				heap.Push(h, c)
			}
		}

		for h.Len() > 0 {
			winner := h.cursors[0]
			item := winner.item
			// Move every cursor sitting on the same key past it; the winner is first among them.
			for h.Len() > 0 && compare(h.cursors[0].item.Key, item.Key) == 0 {
				if top := h.cursors[0]; top.advance() {
					heap.Fix(h, 0)
				} else {
					heap.Pop(h)
				}
			}
			if !yield(item) {
				return
			}
		}
	}, nil
}
