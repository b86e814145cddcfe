package tiered

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nobletooth/artcache/pkg/cache"
	"github.com/nobletooth/artcache/pkg/utils"
)

func TestNewMemoryTier(t *testing.T) {
	t.Run("default keeps one LRU order", func(t *testing.T) {
		utils.SetTestFlag(t, "memory_cache_capacity", "100")
		memory := newMemoryTier()
		_, isLRU := memory.(*cache.LRU[string, []byte])
		assert.True(t, isLRU, "The memory tier is not sharded unless asked to")
		// A value of 40% of the capacity would not fit any shard of a four way split.
		_, stored := memory.Put("A", make([]byte, 40))
		assert.True(t, stored)
	})

	t.Run("sharded on request", func(t *testing.T) {
		utils.SetTestFlag(t, "memory_cache_capacity", "100")
		utils.SetTestFlag(t, "memory_cache_shard_count", "4")
		memory := newMemoryTier()
		_, isSharded := memory.(*cache.Sharded[string, []byte])
		assert.True(t, isSharded)
		assert.Equal(t, int64(100), memory.Capacity())
	})

	t.Run("disabled", func(t *testing.T) {
		utils.SetTestFlag(t, "enable_memory_cache", "false")
		memory := newMemoryTier()
		_, stored := memory.Put("A", []byte("a"))
		assert.False(t, stored)
	})
}

func TestNewFromFlags(t *testing.T) {
	t.Run("disk tier", func(t *testing.T) {
		utils.SetTestFlag(t, "disk_cache_dir", t.TempDir())
		utils.SetTestFlag(t, "disk_cache_codec", "lz4")
		c, err := NewFromFlags()
		require.NoError(t, err)
		defer func() { assert.NoError(t, c.Close()) }()
		assert.True(t, c.Stats().DiskEnabled)
	})

	t.Run("unopenable disk tier falls back to memory", func(t *testing.T) {
		blocker := filepath.Join(t.TempDir(), "file")
		require.NoError(t, os.WriteFile(blocker, []byte("not a directory"), 0o644))
		utils.SetTestFlag(t, "disk_cache_dir", filepath.Join(blocker, "cache"))
		c, err := NewFromFlags()
		require.NoError(t, err)
		defer func() { assert.NoError(t, c.Close()) }()
		assert.False(t, c.Stats().DiskEnabled)

		_, err = c.Put("k", []byte("memory only"))
		require.NoError(t, err)
		data, tier, found := get(t, c, "k")
		require.True(t, found)
		assert.Equal(t, TierMemory, tier)
		assert.Equal(t, []byte("memory only"), data)
	})

	t.Run("invalid codec", func(t *testing.T) {
		utils.SetTestFlag(t, "disk_cache_dir", t.TempDir())
		utils.SetTestFlag(t, "disk_cache_codec", "brotli")
		_, err := NewFromFlags()
		assert.Error(t, err)
	})
}
