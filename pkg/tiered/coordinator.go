// The coordinator composes the memory tier and the optional disk tier into one read/write path:
//   - Reads check memory first, then disk. A disk hit is promoted into memory before it is returned, optionally
//     only once a bloom filter doorkeeper saw the key before, so one-off reads do not churn the memory tier.
//   - Writes go through an Editor. In write-through mode the disk commit has to succeed before memory is updated,
//     so memory never claims an entry the disk tier does not have. In write-behind mode memory is updated first and
//     the disk write runs in the background, bounded by a semaphore; a saturated semaphore skips the disk write.
//   - Writers and promotions of the same key are serialized by a striped key lock.
//
// Listeners registered with AddListener observe the memory tier. They may read from the coordinator but must not
// write to it.

package tiered

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/cespare/xxhash/v2"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"github.com/nobletooth/artcache/pkg/cache"
	"github.com/nobletooth/artcache/pkg/scan"
	"github.com/nobletooth/artcache/pkg/storage"
	"github.com/nobletooth/artcache/pkg/utils"
)

const keyLockStripes = 64

var (
	// ErrEditorBusy is returned by Put when another editor of the key is live.
	ErrEditorBusy = errors.New("key is being edited")
	// ErrClosed is returned by write paths after Close.
	ErrClosed = errors.New("coordinator is closed")
)

// Options configures a Coordinator.
type Options struct {
	// WriteBehind updates memory first and writes to disk in the background.
	WriteBehind bool
	// WriteBehindConcurrency bounds the background disk writes. Defaults to 4.
	WriteBehindConcurrency int64
	// PromoteAfterHits is the number of disk hits after which a key is promoted into memory. 0 and 1 promote on the
	// first hit; 2 or more promote keys the doorkeeper saw before.
	PromoteAfterHits int
	// DoorkeeperCapacity is the number of keys the doorkeeper tracks before it is reset. Defaults to 100000.
	DoorkeeperCapacity uint
}

// Entry describes a committed value.
type Entry struct {
	Key      string
	Size     int64
	InMemory bool // Whether the memory tier holds the value.
	OnDisk   bool // Whether the disk tier committed the value; false for write-behind commits.
}

// Stats is a point in time view of both tiers.
type Stats struct {
	MemoryLen      int
	MemorySize     int64
	MemoryCapacity int64
	DiskEnabled    bool
	DiskDisabled   bool // Whether a journal failure disabled the disk tier.
	DiskLen        int
	DiskSize       int64
	DiskCapacity   int64
}

// Coordinator is a two tier cache of byte values.
type Coordinator struct {
	memory cache.Layer[string, []byte]
	disk   *storage.DiskStore // Nil when the disk tier is not configured.
	opts   Options

	keyLocks [keyLockStripes]sync.Mutex

	editMu  sync.Mutex
	editors map[string]*Editor

	loader singleflight.Group

	writeSlots *semaphore.Weighted
	pending    sync.WaitGroup
	behindMu   sync.Mutex
	behindSeq  uint64
	latest     map[string]uint64 // Sequence of the newest write-behind per key.

	doorMu         sync.Mutex
	doorkeeper     *bloom.BloomFilter
	doorkeeperAdds uint

	closed atomic.Bool
}

// New is the constructor for Coordinator. `disk` may be nil for a memory only cache. The coordinator owns `disk`
// and closes it on Close.
func New(memory cache.Layer[string, []byte], disk *storage.DiskStore, opts Options) *Coordinator {
	if memory == nil {
		memory = cache.NewNoOp[string, []byte]()
	}
	if opts.WriteBehindConcurrency <= 0 {
		opts.WriteBehindConcurrency = 4
	}
	if opts.DoorkeeperCapacity == 0 {
		opts.DoorkeeperCapacity = 100_000
	}
	c := &Coordinator{
		memory:     memory,
		disk:       disk,
		opts:       opts,
		editors:    make(map[string]*Editor),
		writeSlots: semaphore.NewWeighted(opts.WriteBehindConcurrency),
		latest:     make(map[string]uint64),
	}
	if opts.PromoteAfterHits >= 2 {
		c.doorkeeper = bloom.NewWithEstimates(opts.DoorkeeperCapacity, 0.01)
	}
	return c
}

// keyLock returns the stripe lock serializing writers of `key`.
func (c *Coordinator) keyLock(key string) *sync.Mutex {
	return &c.keyLocks[xxhash.Sum64String(key)%keyLockStripes]
}

// Get returns a snapshot of the value of `key`, checking memory first and then disk.
func (c *Coordinator) Get(key string) (Snapshot, bool /*found*/) {
	if data, found := c.memory.Get(key); found {
		lookups.WithLabelValues("memory_hit").Inc()
		return newMemorySnapshot(key, data), true
	}
	if c.disk == nil {
		lookups.WithLabelValues("miss").Inc()
		return nil, false
	}
	snapshot, found := c.disk.Get(key)
	if !found {
		lookups.WithLabelValues("miss").Inc()
		return nil, false
	}
	promoted, handled := c.promote(snapshot)
	if !handled {
		lookups.WithLabelValues("disk_hit").Inc()
		return diskSnapshot{snapshot}, true
	}
	if promoted == nil { // The content turned out to be unreadable and was dropped by the disk tier.
		lookups.WithLabelValues("miss").Inc()
		return nil, false
	}
	lookups.WithLabelValues("disk_hit").Inc()
	return promoted, true
}

// promote copies a disk hit into the memory tier. When it handled the snapshot, the disk snapshot is released and a
// memory snapshot is returned in its place, or nil if the content could not be read.
func (c *Coordinator) promote(snapshot *storage.Snapshot) (Snapshot, bool /*handled*/) {
	key := snapshot.Key()
	if !c.admit(key) {
		promotions.WithLabelValues("not_admitted").Inc()
		return nil, false
	}
	lock := c.keyLock(key)
	if !lock.TryLock() { // A writer of the key, or of a key on the same stripe, is busy; serve from disk.
		promotions.WithLabelValues("busy").Inc()
		return nil, false
	}
	defer lock.Unlock()
	if current, found := c.disk.Stat(key); !found || current.Version != snapshot.Version() {
		promotions.WithLabelValues("stale").Inc()
		return nil, false
	}
	data, err := snapshot.Bytes()
	if err != nil {
		slog.Warn("Failed to read disk entry for promotion.", "key", key, "err", err)
		promotions.WithLabelValues("failed").Inc()
		snapshot.Release()
		return nil, true
	}
	snapshot.Release()
	if _, stored := c.memory.Put(key, data); !stored {
		promotions.WithLabelValues("too_large").Inc()
	} else {
		promotions.WithLabelValues("promoted").Inc()
	}
	return newMemorySnapshot(key, data), true
}

// admit reports whether a disk hit of `key` should be promoted.
func (c *Coordinator) admit(key string) bool {
	if c.doorkeeper == nil {
		return true
	}
	c.doorMu.Lock()
	defer c.doorMu.Unlock()
	if c.doorkeeperAdds >= c.opts.DoorkeeperCapacity {
		c.doorkeeper.ClearAll()
		c.doorkeeperAdds = 0
	}
	seen := c.doorkeeper.TestAndAddString(key)
	if !seen {
		c.doorkeeperAdds++
	}
	return seen
}

// Edit opens an exclusive editor of `key`. It returns false when another editor of the key is live or the
// coordinator is closed; callers treat that as "cache busy" and skip caching.
func (c *Coordinator) Edit(key string) (*Editor, bool) {
	if key == "" || c.closed.Load() {
		return nil, false
	}
	c.editMu.Lock()
	defer c.editMu.Unlock()
	if _, busy := c.editors[key]; busy {
		return nil, false
	}
	editor := &Editor{coordinator: c, key: key, mode: modeMemoryOnly, memoryLimit: c.memory.Capacity(), expected: -1}
	if c.disk != nil && c.opts.WriteBehind {
		editor.mode = modeWriteBehind
	} else if c.disk != nil {
		diskEditor, ok := c.disk.Edit(key)
		if ok {
			editor.disk, editor.mode = diskEditor, modeWriteThrough
		} else if !c.disk.Disabled() {
			return nil, false // The disk tier has a live editor of its own for the key.
		}
	}
	c.editors[key] = editor
	return editor, true
}

// release frees the edit slot held by `editor`.
func (c *Coordinator) release(editor *Editor) {
	c.editMu.Lock()
	defer c.editMu.Unlock()
	if current, found := c.editors[editor.key]; !found || current != editor {
		utils.RaiseInvariant("coordinator", "foreign_editor", "Released an editor that does not hold the key.",
			"key", editor.key)
		return
	}
	delete(c.editors, editor.key)
}

// scheduleWriteBehind writes `data` to the disk tier in the background. The write is skipped when all write slots are
// busy, and superseded by any newer write or removal of the key.
func (c *Coordinator) scheduleWriteBehind(key string, data []byte) {
	c.behindMu.Lock()
	c.behindSeq++
	seq := c.behindSeq
	c.latest[key] = seq
	c.behindMu.Unlock()

	if !c.writeSlots.TryAcquire(1) {
		// The caller holds the key lock, so no background write of the key can land before the stale value is gone.
		c.dropStaleDiskValue(key, seq)
		writeBehinds.WithLabelValues("dropped").Inc()
		return
	}
	writeBehinds.WithLabelValues("scheduled").Inc()
	c.pending.Add(1)
	go func() {
		defer c.pending.Done()
		defer c.writeSlots.Release(1)
		c.writeBehind(key, data, seq)
	}()
}

func (c *Coordinator) writeBehind(key string, data []byte, seq uint64) {
	lock := c.keyLock(key)
	lock.Lock()
	defer lock.Unlock()
	if !c.isLatestWrite(key, seq) {
		writeBehinds.WithLabelValues("superseded").Inc()
		return
	}
	editor, ok := c.disk.Edit(key)
	if !ok {
		c.disk.Remove(key)
		writeBehinds.WithLabelValues("busy").Inc()
		return
	}
	editor.ExpectSize(int64(len(data)))
	if _, err := editor.Write(data); err != nil {
		slog.Warn("Failed to write value in the background.", "key", key, "err", err)
		_ = editor.Abort()
		c.disk.Remove(key)
		writeBehinds.WithLabelValues("failed").Inc()
		return
	}
	if _, err := editor.Commit(); err != nil {
		slog.Warn("Failed to commit value in the background.", "key", key, "err", err)
		c.disk.Remove(key)
		writeBehinds.WithLabelValues("failed").Inc()
		return
	}
	writeBehinds.WithLabelValues("committed").Inc()
}

// dropStaleDiskValue removes the disk value of `key` that write-behind `seq` was meant to replace. Otherwise a read
// after the memory tier lost the key would be served the older value.
func (c *Coordinator) dropStaleDiskValue(key string, seq uint64) {
	if c.isLatestWrite(key, seq) {
		c.disk.Remove(key)
	}
}

// isLatestWrite reports whether `seq` is the newest pending write-behind of `key`, forgetting the key if so.
func (c *Coordinator) isLatestWrite(key string, seq uint64) bool {
	c.behindMu.Lock()
	defer c.behindMu.Unlock()
	if c.latest[key] != seq {
		return false
	}
	delete(c.latest, key)
	return true
}

// supersedeWriteBehind makes pending background writes of `key` skip their write.
func (c *Coordinator) supersedeWriteBehind(key string) {
	c.behindMu.Lock()
	defer c.behindMu.Unlock()
	if _, found := c.latest[key]; found {
		c.behindSeq++
		c.latest[key] = c.behindSeq
	}
}

// Put caches a copy of `data` as the value of `key`.
func (c *Coordinator) Put(key string, data []byte) (Entry, error) {
	editor, ok := c.Edit(key)
	if !ok {
		if c.closed.Load() {
			return Entry{}, ErrClosed
		}
		return Entry{}, ErrEditorBusy
	}
	defer func() { _ = editor.Abort() }()
	editor.ExpectSize(int64(len(data)))
	if _, err := editor.Write(data); err != nil {
		return Entry{}, err
	}
	return editor.Commit()
}

// GetOrLoad returns the cached value of `key` or calls `load` on a miss and caches its result. Concurrent misses of
// the same key share a single `load` call. Failing to cache the loaded value is not an error.
func (c *Coordinator) GetOrLoad(ctx context.Context, key string,
	load func(ctx context.Context) ([]byte, error)) (Snapshot, error) {
	if snapshot, found := c.Get(key); found {
		return snapshot, nil
	}
	result, err, _ := c.loader.Do(key, func() (any, error) {
		if snapshot, found := c.Get(key); found { // Another loader may have finished in the meantime.
			defer snapshot.Release()
			return snapshot.Bytes()
		}
		data, err := load(ctx)
		if err != nil {
			loads.WithLabelValues("failed").Inc()
			return nil, err
		}
		loads.WithLabelValues("loaded").Inc()
		if _, err := c.Put(key, data); err != nil {
			slog.Debug("Loaded value was not cached.", "key", key, "err", err)
		}
		return data, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load %q: %w", key, err)
	}
	return newMemorySnapshot(key, result.([]byte)), nil
}

// Remove drops `key` from both tiers and reports whether any tier held it.
func (c *Coordinator) Remove(key string) bool {
	lock := c.keyLock(key)
	lock.Lock()
	defer lock.Unlock()
	c.supersedeWriteBehind(key)
	_, inMemory := c.memory.Remove(key)
	onDisk := false
	if c.disk != nil {
		_, onDisk = c.disk.Remove(key)
	}
	return inMemory || onDisk
}

// Contains reports whether any tier holds `key` without changing recency.
func (c *Coordinator) Contains(key string) bool {
	if _, found := c.memory.Peek(key); found {
		return true
	}
	if c.disk == nil {
		return false
	}
	_, found := c.disk.Stat(key)
	return found
}

// ResizeMemory changes the capacity of the memory tier.
func (c *Coordinator) ResizeMemory(capacity int64) {
	c.memory.Resize(capacity)
}

// ResizeDisk changes the capacity of the disk tier. It is a no-op without a disk tier.
func (c *Coordinator) ResizeDisk(capacity int64) {
	if c.disk != nil {
		c.disk.Resize(capacity)
	}
}

// AddListener subscribes to events of the memory tier and returns the unsubscribe function.
func (c *Coordinator) AddListener(listener cache.Listener[string, []byte]) func() {
	return c.memory.AddListener(listener)
}

// Keys yields every cached key once, in ascending order.
func (c *Coordinator) Keys() iter.Seq[string] {
	type tierSeq = iter.Seq[utils.Pair[string, Tier]]
	memoryKeys := c.memory.Keys()
	slices.Sort(memoryKeys)
	sequences := []tierSeq{tagged(slices.Values(memoryKeys), TierMemory)}
	if c.disk != nil {
		sequences = append(sequences, tagged(slices.Values(c.disk.Keys()), TierDisk))
	}
	merged, err := scan.MultiHead(cmp.Compare[string], sequences)
	if err != nil {
		utils.RaiseInvariant("coordinator", "merge_keys", "Failed to merge tier keys.", "err", err)
		return func(func(string) bool) {}
	}
	return func(yield func(string) bool) {
		for pair := range merged {
			if !yield(pair.Key) {
				return
			}
		}
	}
}

// tagged pairs every key of `keys` with `tier`.
func tagged(keys iter.Seq[string], tier Tier) iter.Seq[utils.Pair[string, Tier]] {
	return func(yield func(utils.Pair[string, Tier]) bool) {
		for key := range keys {
			if !yield(utils.MakePair(key, tier)) {
				return
			}
		}
	}
}

// Scan yields the cached keys matching the glob `pattern` in ascending order.
func (c *Coordinator) Scan(pattern string) (iter.Seq[string], error) {
	return scan.MatchGlob(pattern, c.Keys())
}

// Stats returns the current sizes of both tiers.
func (c *Coordinator) Stats() Stats {
	stats := Stats{
		MemoryLen:      c.memory.Len(),
		MemorySize:     c.memory.Size(),
		MemoryCapacity: c.memory.Capacity(),
	}
	if c.disk != nil {
		stats.DiskEnabled = true
		stats.DiskDisabled = c.disk.Disabled()
		stats.DiskLen = c.disk.Len()
		stats.DiskSize = c.disk.Size()
		stats.DiskCapacity = c.disk.Capacity()
	}
	return stats
}

// Flush waits for pending background writes and syncs the disk journal.
func (c *Coordinator) Flush() error {
	c.pending.Wait()
	if c.disk == nil {
		return nil
	}
	return c.disk.Flush()
}

// Close refuses new editors, waits for background writes and closes the disk tier.
func (c *Coordinator) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.pending.Wait()
	if c.disk == nil {
		return nil
	}
	return c.disk.Close()
}
