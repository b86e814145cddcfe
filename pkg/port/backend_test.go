package port

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nobletooth/artcache/pkg/cache"
	"github.com/nobletooth/artcache/pkg/storage"
	"github.com/nobletooth/artcache/pkg/tiered"
)

// newTestBackend serves a two tier cache living in a temporary directory.
func newTestBackend(t *testing.T) *CacheBackend {
	t.Helper()
	disk, err := storage.Open(t.TempDir(), storage.Options{Capacity: 1 << 20, Codec: storage.CodecZstd})
	require.NoError(t, err)
	memory := cache.NewLRU[string, []byte](1<<10, cache.ByteSize[string])
	backend, err := NewCacheBackend(tiered.New(memory, disk, tiered.Options{}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = backend.Close() })
	return backend
}

func TestCacheBackend(t *testing.T) {
	backend := newTestBackend(t)

	t.Run("set", func(t *testing.T) {
		assert.NoError(t, backend.Set(SetCommand{key: "k1", value: []byte("v1")}).err)
		assert.NoError(t, backend.Set(SetCommand{key: "k2", value: []byte("v2")}).err)
		assert.NoError(t, backend.Set(SetCommand{key: "k3", value: []byte("v3")}).err)
	})
	t.Run("get_existing_key", func(t *testing.T) {
		val, found, err := backend.Get("k1")
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, []byte("v1"), val)
	})
	t.Run("get_non_existent_key", func(t *testing.T) {
		_, found, err := backend.Get("non_existent")
		require.NoError(t, err)
		assert.False(t, found)
	})
	t.Run("delete_existing_key", func(t *testing.T) {
		assert.True(t, backend.Delete("k2"))
		_, found, err := backend.Get("k2")
		require.NoError(t, err)
		assert.False(t, found)
	})
	t.Run("delete_non_existent_key", func(t *testing.T) {
		assert.False(t, backend.Delete("random"))
	})
	t.Run("set_if_not_exists", func(t *testing.T) {
		result := backend.Set(SetCommand{key: "k1", value: []byte("other"), existence: ifNotExists})
		require.NoError(t, result.err)
		assert.False(t, result.couldSet)
		result = backend.Set(SetCommand{key: "k4", value: []byte("v4"), existence: ifNotExists})
		require.NoError(t, result.err)
		assert.True(t, result.couldSet)
	})
	t.Run("set_if_exists", func(t *testing.T) {
		result := backend.Set(SetCommand{key: "missing", value: []byte("v"), existence: ifExists})
		require.NoError(t, result.err)
		assert.False(t, result.couldSet)
		assert.False(t, backend.Exists("missing"))
	})
	t.Run("set_get_previous", func(t *testing.T) {
		result := backend.Set(SetCommand{key: "k3", value: []byte("v3b"), get: true})
		require.NoError(t, result.err)
		assert.True(t, result.hasPreviousValue)
		assert.Equal(t, []byte("v3"), result.previousValue)
	})
	t.Run("keys_and_len", func(t *testing.T) {
		keys, err := backend.Keys("k*")
		require.NoError(t, err)
		assert.Equal(t, []string{"k1", "k3", "k4"}, keys)
		assert.Equal(t, 3, backend.Len())
	})
	t.Run("resize", func(t *testing.T) {
		require.NoError(t, backend.Resize("memory", 2))
		require.NoError(t, backend.Resize("disk", 1<<10))
		assert.Equal(t, int64(2), backend.Stats().MemoryCapacity)
		assert.Equal(t, int64(1<<10), backend.Stats().DiskCapacity)
		assert.Error(t, backend.Resize("tape", 1))
		assert.Error(t, backend.Resize("disk", -1))
	})
}
