package port

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/nobletooth/artcache/pkg/tiered"
	"github.com/nobletooth/artcache/pkg/utils"
)

// CacheBackend adapts the tiered cache to the commands served by artcache ports, e.g. Redis.
type CacheBackend struct {
	mux         sync.Mutex // Serializes conditional sets so their existence check and write are atomic.
	coordinator *tiered.Coordinator
}

// NewCacheBackend creates a new CacheBackend over `coordinator`.
func NewCacheBackend(coordinator *tiered.Coordinator) (*CacheBackend, error) {
	if coordinator == nil {
		return nil, errors.New("expected a non-nil coordinator")
	}
	return &CacheBackend{coordinator: coordinator}, nil
}

// Get looks up the given `key` and returns its value.
func (cb *CacheBackend) Get(key string) ([]byte, bool /*found*/, error) {
	snapshot, found := cb.coordinator.Get(key)
	if !found {
		return nil, false, nil
	}
	defer snapshot.Release()
	value, err := snapshot.Bytes()
	if err != nil {
		return nil, false, fmt.Errorf("failed to read %q: %w", key, err)
	}
	return value, true, nil
}

type existenceCheck uint8

const (
	noCheck     existenceCheck = iota
	ifNotExists                // NX
	ifExists                   // XX
)

var allExistenceChecks = []existenceCheck{noCheck, ifExists, ifNotExists}

type SetCommand struct {
	key       string
	value     []byte
	existence existenceCheck
	get       bool // The Redis GET option; if true, should return the previous value.
}

type SetResult struct {
	previousValue    []byte // Only set if the command requires the previous value.
	hasPreviousValue bool   // If true, the `key` specified in SetCommand had a previous value.
	couldSet         bool   // If true, the value was cached.
	err              error
}

// Set executes the given `cmd` and returns the previous value if required.
func (cb *CacheBackend) Set(cmd SetCommand) SetResult {
	if !slices.Contains(allExistenceChecks, cmd.existence) {
		utils.RaiseInvariant("backend", "unknown_set_existence_constraint",
			"Got an unknown existence constraint in the given set command.", "constraint", cmd.existence)
		return SetResult{err: fmt.Errorf("got unknown set constraint '%d'", cmd.existence)}
	}

	cb.mux.Lock()
	defer cb.mux.Unlock()

	var prevValue []byte
	hasPrevValue := false
	if cmd.get {
		value, found, err := cb.Get(cmd.key)
		if err != nil {
			return SetResult{err: fmt.Errorf("failed to get previous value: %w", err)}
		}
		prevValue, hasPrevValue = value, found
	} else if cmd.existence != noCheck {
		hasPrevValue = cb.coordinator.Contains(cmd.key)
	}

	couldSet := cmd.existence == noCheck || // Set any way.
		(cmd.existence == ifNotExists && !hasPrevValue) || // NX; Set only if not exists.
		(cmd.existence == ifExists && hasPrevValue) // XX; Set only if exists.
	if couldSet {
		if _, err := cb.coordinator.Put(cmd.key, cmd.value); err != nil {
			return SetResult{err: fmt.Errorf("failed to set value: %w", err)}
		}
	}

	return SetResult{previousValue: prevValue, hasPreviousValue: hasPrevValue, couldSet: couldSet}
}

// Delete drops `key` from every tier and reports whether it was cached.
func (cb *CacheBackend) Delete(key string) bool {
	return cb.coordinator.Remove(key)
}

// Exists reports whether `key` is cached.
func (cb *CacheBackend) Exists(key string) bool {
	return cb.coordinator.Contains(key)
}

// Keys returns the cached keys matching the glob `pattern` in ascending order.
func (cb *CacheBackend) Keys(pattern string) ([]string, error) {
	matches, err := cb.coordinator.Scan(pattern)
	if err != nil {
		return nil, err
	}
	return slices.Collect(matches), nil
}

// Len returns the number of distinct cached keys.
func (cb *CacheBackend) Len() int {
	count := 0
	for range cb.coordinator.Keys() {
		count++
	}
	return count
}

// Resize changes the capacity of the named tier; either "memory" or "disk".
func (cb *CacheBackend) Resize(tier string, capacity int64) error {
	if capacity < 0 {
		return fmt.Errorf("expected a non-negative capacity, got %d", capacity)
	}
	switch tier {
	case tiered.TierMemory.String():
		cb.coordinator.ResizeMemory(capacity)
	case tiered.TierDisk.String():
		cb.coordinator.ResizeDisk(capacity)
	default:
		return fmt.Errorf("unknown tier '%s'", tier)
	}
	return nil
}

// Stats returns the sizes of both tiers.
func (cb *CacheBackend) Stats() tiered.Stats {
	return cb.coordinator.Stats()
}

func (cb *CacheBackend) Close() error {
	return cb.coordinator.Close()
}
