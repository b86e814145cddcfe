// The recency order of cached entries is kept in an intrusive doubly linked list, least recently used first.
// Entries hold their own node, so touching an entry or unlinking it on eviction is O(1) without any lookup.

package cache

// linkedListNode is one entry in the recency order.
type linkedListNode[V any] struct {
	next, prev *linkedListNode[V]
	Value      V
}

// Next returns the next more recently used node, or nil at the back.
func (n *linkedListNode[V]) Next() *linkedListNode[V] { return n.next }

// Prev returns the next less recently used node, or nil at the front.
func (n *linkedListNode[V]) Prev() *linkedListNode[V] { return n.prev }

// linkedList keeps nodes from least (front) to most (back) recently used.
type linkedList[V any] struct {
	head, tail *linkedListNode[V]
	size       int
}

func (l *linkedList[V]) Len() int                  { return l.size }
func (l *linkedList[V]) Front() *linkedListNode[V] { return l.head }
func (l *linkedList[V]) Back() *linkedListNode[V]  { return l.tail }

// link appends the detached node `n` at the back.
func (l *linkedList[V]) link(n *linkedListNode[V]) {
	n.prev, n.next = l.tail, nil
	if l.tail == nil {
		l.head = n
	} else {
		l.tail.next = n
	}
	l.tail = n
	l.size++
}

// unlink detaches `n`, which must belong to the list.
func (l *linkedList[V]) unlink(n *linkedListNode[V]) {
	if n.prev == nil {
		l.head = n.next
	} else {
		n.prev.next = n.next
	}
	if n.next == nil {
		l.tail = n.prev
	} else {
		n.next.prev = n.prev
	}
	n.prev, n.next = nil, nil
	l.size--
}

// PushBack adds `v` as the most recently used node.
func (l *linkedList[V]) PushBack(v V) *linkedListNode[V] {
	n := &linkedListNode[V]{Value: v}
	l.link(n)
	return n
}

// Remove drops `n` from the list. The node must belong to this list.
func (l *linkedList[V]) Remove(n *linkedListNode[V]) { l.unlink(n) }

// MoveToBack marks `n` as the most recently used node. The node must belong to this list.
func (l *linkedList[V]) MoveToBack(n *linkedListNode[V]) {
	if l.tail != n {
		l.unlink(n)
		l.link(n)
	}
}

// Clear drops every node, detaching them so stale nodes do not keep the rest of the list alive.
func (l *linkedList[V]) Clear() {
	for n := l.head; n != nil; {
		next := n.next
		n.prev, n.next = nil, nil
		n = next
	}
	l.head, l.tail, l.size = nil, nil, 0
}
