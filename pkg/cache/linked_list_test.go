package cache

import (
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
)

// listValues returns the list values front to back, checking the backward links and the length on the way.
func listValues[V any](t *testing.T, list *linkedList[V]) []V {
	t.Helper()
	var forward, backward []V
	for node := list.Front(); node != nil; node = node.Next() {
		forward = append(forward, node.Value)
	}
	for node := list.Back(); node != nil; node = node.Prev() {
		backward = append(backward, node.Value)
	}
	slices.Reverse(backward)
	assert.Equal(t, forward, backward, "Backward links disagree with forward links")
	assert.Len(t, forward, list.Len())
	return forward
}

func TestLinkedList(t *testing.T) {
	testCases := []struct {
		name     string
		ops      func(list *linkedList[string], nodes map[string]*linkedListNode[string])
		expected []string
	}{
		{
			name:     "push",
			ops:      func(*linkedList[string], map[string]*linkedListNode[string]) {},
			expected: []string{"a", "b", "c"},
		},
		{
			name:     "remove_front",
			ops:      func(l *linkedList[string], n map[string]*linkedListNode[string]) { l.Remove(n["a"]) },
			expected: []string{"b", "c"},
		},
		{
			name:     "remove_middle",
			ops:      func(l *linkedList[string], n map[string]*linkedListNode[string]) { l.Remove(n["b"]) },
			expected: []string{"a", "c"},
		},
		{
			name:     "remove_back",
			ops:      func(l *linkedList[string], n map[string]*linkedListNode[string]) { l.Remove(n["c"]) },
			expected: []string{"a", "b"},
		},
		{
			name: "remove_all",
			ops: func(l *linkedList[string], n map[string]*linkedListNode[string]) {
				l.Remove(n["b"])
				l.Remove(n["a"])
				l.Remove(n["c"])
			},
			expected: nil,
		},
		{
			name:     "touch_front",
			ops:      func(l *linkedList[string], n map[string]*linkedListNode[string]) { l.MoveToBack(n["a"]) },
			expected: []string{"b", "c", "a"},
		},
		{
			name:     "touch_middle",
			ops:      func(l *linkedList[string], n map[string]*linkedListNode[string]) { l.MoveToBack(n["b"]) },
			expected: []string{"a", "c", "b"},
		},
		{
			name:     "touch_back",
			ops:      func(l *linkedList[string], n map[string]*linkedListNode[string]) { l.MoveToBack(n["c"]) },
			expected: []string{"a", "b", "c"},
		},
		{
			name: "push_after_remove",
			ops: func(l *linkedList[string], n map[string]*linkedListNode[string]) {
				l.Remove(n["c"])
				l.PushBack("d")
			},
			expected: []string{"a", "b", "d"},
		},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			list := new(linkedList[string])
			nodes := make(map[string]*linkedListNode[string])
			for _, value := range []string{"a", "b", "c"} {
				nodes[value] = list.PushBack(value)
			}
			testCase.ops(list, nodes)
			assert.Equal(t, testCase.expected, listValues(t, list))
		})
	}
}

func TestLinkedList_SingleNode(t *testing.T) {
	list := new(linkedList[int])
	only := list.PushBack(1)
	list.MoveToBack(only)
	assert.Equal(t, []int{1}, listValues(t, list))
	list.Remove(only)
	assert.Nil(t, list.Front())
	assert.Nil(t, list.Back())
	assert.Zero(t, list.Len())
}

func TestLinkedList_Clear(t *testing.T) {
	list := new(linkedList[int])
	first := list.PushBack(1)
	list.PushBack(2)
	list.Clear()
	assert.Empty(t, listValues(t, list))
	assert.Nil(t, first.Next(), "Cleared nodes should not keep pointers")
}
