// The server builds its coordinator from flags. The memory tier is enabled by default; the disk tier is enabled by
// giving it a directory. Both may be resized at runtime, e.g. through the RESP port.

package tiered

import (
	"flag"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/nobletooth/artcache/pkg/cache"
	"github.com/nobletooth/artcache/pkg/storage"
)

var (
	memoryEnabled  = flag.Bool("enable_memory_cache", true, "Enable the in-memory tier.")
	memoryCapacity = flag.Int64("memory_cache_capacity", 64<<20, /*64 MiB*/
		"The maximum number of value bytes kept in memory; 0 or negative disables the memory tier.")
	memoryShardCount = flag.Int("memory_cache_shard_count", 1,
		"The number of shards of the memory tier; 1 keeps a single global LRU order. Each shard holds an equal part "+
			"of the capacity and evicts on its own, so a sharded tier rejects values larger than one shard.")

	diskDir      = flag.String("disk_cache_dir", "", "Directory of the disk tier; empty disables the disk tier.")
	diskCapacity = flag.Int64("disk_cache_capacity", 1<<30, /*1 GiB*/
		"The maximum number of value bytes kept on disk.")
	diskAppVersion = flag.Int("disk_cache_app_version", 1,
		"Version of the cached data; changing it discards the disk tier on startup.")
	diskCodec            = flag.String("disk_cache_codec", "zstd", "Content file codec: none/zstd/lz4.")
	diskCompactThreshold = flag.Int("disk_cache_compact_threshold", 2000,
		"Number of redundant journal records that triggers a journal rewrite.")
	diskSyncWrites = flag.Bool("disk_cache_sync_writes", false, "Fsync every disk commit before it returns.")

	writeBehind            = flag.Bool("write_behind", false, "Write to the disk tier in the background.")
	writeBehindConcurrency = flag.Int64("write_behind_concurrency", 4,
		"The maximum number of concurrent background disk writes; more writes are skipped.")
	promoteAfterHits = flag.Int("promote_after_hits", 1,
		"The number of disk hits after which a key is copied into memory.")
	doorkeeperCapacity = flag.Uint("promotion_doorkeeper_capacity", 100_000,
		"The number of keys the promotion doorkeeper tracks before it resets.")

	memoryEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "memory_cache_evictions_total",
		Help: "Total number of values evicted from the memory tier.",
	})
	diskOpenFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "disk_tier_open_failures_total",
		Help: "Total number of startups that fell back to the memory tier because the disk tier failed to open.",
	})
)

// newMemoryTier builds the memory tier according to configured flags.
func newMemoryTier() cache.Layer[string, []byte] {
	if !*memoryEnabled || *memoryCapacity <= 0 || *memoryShardCount <= 0 {
		return cache.NewNoOp[string, []byte]()
	}
	newLRU := func(capacity int64) cache.Layer[string, []byte] {
		return cache.NewLRU[string, []byte](capacity, cache.ByteSize[string])
	}
	var layer cache.Layer[string, []byte]
	if *memoryShardCount > 1 {
		layer = cache.NewSharded(newLRU, *memoryShardCount, *memoryCapacity)
	} else {
		layer = newLRU(*memoryCapacity)
	}
	layer.AddListener(evictionCounter{})
	return layer
}

// evictionCounter counts capacity evictions of the memory tier.
type evictionCounter struct{}

func (evictionCounter) OnEvent(event cache.Event[string, []byte]) {
	if event.Kind == cache.EventRemoved && event.Reason == cache.ReasonEvicted {
		memoryEvictions.Inc()
	}
}

// NewFromFlags opens the tiers configured by flags and returns their coordinator. A disk tier that fails to open is
// left out and the cache serves from memory only; an invalid codec flag is still an error.
func NewFromFlags() (*Coordinator, error) {
	var disk *storage.DiskStore
	if *diskDir != "" {
		codec, err := storage.ParseCodec(*diskCodec)
		if err != nil {
			return nil, err
		}
		opened, err := storage.Open(*diskDir, storage.Options{
			Capacity:         *diskCapacity,
			AppVersion:       *diskAppVersion,
			Codec:            codec,
			CompactThreshold: *diskCompactThreshold,
			SyncWrites:       *diskSyncWrites,
		})
		if err != nil {
			slog.Error("Failed to open disk tier; serving from memory only.", "dir", *diskDir, "err", err)
			diskOpenFailures.Inc()
		} else {
			disk = opened
			slog.Info("Opened disk tier.", "dir", disk.Dir(), "entries", disk.Len(), "size", disk.Size(),
				"capacity", disk.Capacity())
		}
	}
	memory := newMemoryTier()
	slog.Info("Built memory tier.", "capacity", memory.Capacity(), "shards", *memoryShardCount)
	return New(memory, disk, Options{
		WriteBehind:            *writeBehind,
		WriteBehindConcurrency: *writeBehindConcurrency,
		PromoteAfterHits:       *promoteAfterHits,
		DoorkeeperCapacity:     *doorkeeperCapacity,
	}), nil
}
