package tiered

import (
	"bytes"
	"io"

	"github.com/nobletooth/artcache/pkg/storage"
)

// Tier names the cache tier that served a value.
type Tier uint8

const (
	TierMemory Tier = iota + 1
	TierDisk
)

func (t Tier) String() string {
	switch t {
	case TierMemory:
		return "memory"
	case TierDisk:
		return "disk"
	default:
		return "none"
	}
}

// Snapshot is an isolated read handle of a cached value. Values are never mutated after they are cached, so a
// snapshot keeps returning the bytes it was created with. Release must be called once; extra calls are no-ops.
type Snapshot interface {
	Key() string
	Size() int64
	Tier() Tier
	Open() (io.ReadCloser, error) // Returns a new reader of the whole value.
	Bytes() ([]byte, error)       // Returns the whole value; the caller must not modify it.
	Release()
}

// memorySnapshot serves a value held by the memory tier.
type memorySnapshot struct {
	key  string
	data []byte
}

var _ Snapshot = (*memorySnapshot)(nil)

func newMemorySnapshot(key string, data []byte) *memorySnapshot {
	return &memorySnapshot{key: key, data: data}
}

func (s *memorySnapshot) Key() string  { return s.key }
func (s *memorySnapshot) Size() int64  { return int64(len(s.data)) }
func (s *memorySnapshot) Tier() Tier   { return TierMemory }
func (s *memorySnapshot) Release()     {}
func (s *memorySnapshot) Open() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(s.data)), nil
}
func (s *memorySnapshot) Bytes() ([]byte, error) {
	return s.data, nil
}

// diskSnapshot serves a value straight from the disk tier.
type diskSnapshot struct {
	*storage.Snapshot
}

var _ Snapshot = diskSnapshot{}

func (diskSnapshot) Tier() Tier { return TierDisk }
