// Stores notify observers about mutations through a small closed set of events. Events are collected while the
// store lock is held and dispatched after it is released, so listeners are free to call back into the store.

package cache

import (
	"slices"
	"sync"
)

// EventKind tags the variant carried by an Event.
type EventKind uint8

const (
	EventAdded           EventKind = iota + 1 // A value became resident.
	EventRemoved                              // A value stopped being resident.
	EventCapacityChanged                      // The store capacity was changed.
)

func (k EventKind) String() string {
	switch k {
	case EventAdded:
		return "added"
	case EventRemoved:
		return "removed"
	case EventCapacityChanged:
		return "capacity_changed"
	default:
		return "unknown"
	}
}

// RemovalReason explains why an EventRemoved was fired.
type RemovalReason uint8

const (
	ReasonNone     RemovalReason = iota
	ReasonEvicted                // Removed to satisfy the capacity.
	ReasonExplicit               // Removed by Remove or Purge.
	ReasonReplaced               // Superseded by a newer value for the same key.
)

func (r RemovalReason) String() string {
	switch r {
	case ReasonEvicted:
		return "evicted"
	case ReasonExplicit:
		return "explicit"
	case ReasonReplaced:
		return "replaced"
	default:
		return "none"
	}
}

// Event is a single store mutation. Key/Value/Size are set for added and removed events; capacities are set for
// capacity changes.
type Event[K comparable, V any] struct {
	Kind        EventKind
	Key         K
	Value       V
	Size        int64
	Reason      RemovalReason
	OldCapacity int64
	NewCapacity int64
}

func addedEvent[K comparable, V any](entry Entry[K], value V) Event[K, V] {
	return Event[K, V]{Kind: EventAdded, Key: entry.Key, Value: value, Size: entry.Size}
}

func removedEvent[K comparable, V any](removed Removed[K, V], reason RemovalReason) Event[K, V] {
	return Event[K, V]{
		Kind:   EventRemoved,
		Key:    removed.Entry.Key,
		Value:  removed.Value,
		Size:   removed.Entry.Size,
		Reason: reason,
	}
}

func capacityEvent[K comparable, V any](oldCapacity, newCapacity int64) Event[K, V] {
	return Event[K, V]{Kind: EventCapacityChanged, OldCapacity: oldCapacity, NewCapacity: newCapacity}
}

// Listener observes store events.
type Listener[K comparable, V any] interface {
	OnEvent(event Event[K, V])
}

// ListenerFuncs adapts optional callbacks to a Listener. Nil callbacks are skipped.
type ListenerFuncs[K comparable, V any] struct {
	OnAdded           func(key K, value V)
	OnRemoved         func(key K, value V)
	OnCapacityChanged func(oldCapacity, newCapacity int64)
}

var _ Listener[string, int] = ListenerFuncs[string, int]{}

func (f ListenerFuncs[K, V]) OnEvent(event Event[K, V]) {
	switch event.Kind {
	case EventAdded:
		if f.OnAdded != nil {
			f.OnAdded(event.Key, event.Value)
		}
	case EventRemoved:
		if f.OnRemoved != nil {
			f.OnRemoved(event.Key, event.Value)
		}
	case EventCapacityChanged:
		if f.OnCapacityChanged != nil {
			f.OnCapacityChanged(event.OldCapacity, event.NewCapacity)
		}
	}
}

// listenerSlot gives every registration its own identity so the same listener can be added twice.
type listenerSlot[K comparable, V any] struct {
	listener Listener[K, V]
}

// hooks is the observer list of a store. It has its own lock and never takes the store lock.
type hooks[K comparable, V any] struct {
	mux   sync.RWMutex
	slots []*listenerSlot[K, V]
}

// add registers `listener` and returns a function that unregisters it. Unregistering twice is a no-op.
func (h *hooks[K, V]) add(listener Listener[K, V]) func() {
	if listener == nil {
		return func() {}
	}
	slot := &listenerSlot[K, V]{listener: listener}
	h.mux.Lock()
	h.slots = append(h.slots, slot)
	h.mux.Unlock()
	return func() {
		h.mux.Lock()
		defer h.mux.Unlock()
		h.slots = slices.DeleteFunc(h.slots, func(s *listenerSlot[K, V]) bool { return s == slot })
	}
}

// dispatch delivers `events` in order to a snapshot of the registered listeners.
func (h *hooks[K, V]) dispatch(events []Event[K, V]) {
	if len(events) == 0 {
		return
	}
	h.mux.RLock()
	slots := slices.Clone(h.slots)
	h.mux.RUnlock()
	for _, event := range events {
		for _, slot := range slots {
			slot.listener.OnEvent(event)
		}
	}
}
