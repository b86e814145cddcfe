package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync/atomic"
)

// ErrSnapshotReleased is returned when reading from a snapshot after Release.
var ErrSnapshotReleased = errors.New("snapshot is released")

// Snapshot is a read handle of a committed value as it was when Get returned. Later commits, removals or evictions
// of the key never affect it. Release must be called once the snapshot is no longer read; extra calls are no-ops.
type Snapshot struct {
	store    *DiskStore
	file     *contentFile
	entry    Entry
	handle   *os.File // Shared handle of the content file; stays open until the last reader releases it.
	fileSize int64
	codec    Codec
	released atomic.Bool
}

// newSnapshot wraps `cf`, on which the caller already took a reader reference.
func newSnapshot(s *DiskStore, cf *contentFile) *Snapshot {
	return &Snapshot{
		store:    s,
		file:     cf,
		entry:    cf.entry(),
		handle:   cf.handle,
		fileSize: cf.fileSize,
		codec:    cf.codec,
	}
}

func (s *Snapshot) Key() string     { return s.entry.Key }
func (s *Snapshot) Size() int64     { return s.entry.Size }
func (s *Snapshot) Version() uint64 { return s.entry.Version }
func (s *Snapshot) Entry() Entry    { return s.entry }

// Open returns a new reader of the value. Readers of the same snapshot may be used concurrently. A reader reports
// ErrCorruptEntry when the content does not decode to exactly Size bytes; the entry is dropped from the store then.
func (s *Snapshot) Open() (io.ReadCloser, error) {
	if s.released.Load() {
		return nil, ErrSnapshotReleased
	}
	payload := io.NewSectionReader(s.handle, contentHeaderLen, s.fileSize-contentHeaderLen)
	decoder, err := s.codec.newReader(payload)
	if err != nil {
		s.store.dropCorrupt(s.file, err)
		return nil, fmt.Errorf("%w: %v", ErrCorruptEntry, err)
	}
	return &verifyingReader{snapshot: s, decoder: decoder, remaining: s.entry.Size}, nil
}

// Bytes reads the whole value.
func (s *Snapshot) Bytes() ([]byte, error) {
	reader, err := s.Open()
	if err != nil {
		return nil, err
	}
	defer func() { _ = reader.Close() }()
	return io.ReadAll(reader)
}

// Release gives the content back to the store. The content file of a replaced or removed value is deleted once its
// last snapshot is released.
func (s *Snapshot) Release() {
	if s.released.CompareAndSwap(false, true) {
		s.store.release(s.file)
	}
}

// verifyingReader checks that the decoded payload is exactly as long as the journal says.
type verifyingReader struct {
	snapshot  *Snapshot
	decoder   io.ReadCloser
	remaining int64
	failed    bool
}

func (r *verifyingReader) Read(p []byte) (int, error) {
	if r.failed {
		return 0, ErrCorruptEntry
	}
	n, err := r.decoder.Read(p)
	r.remaining -= int64(n)
	switch {
	case r.remaining < 0:
		return 0, r.fail(fmt.Errorf("content is longer than %d bytes", r.snapshot.entry.Size))
	case errors.Is(err, io.EOF) && r.remaining > 0:
		return n, r.fail(fmt.Errorf("content is %d bytes short", r.remaining))
	case err != nil && !errors.Is(err, io.EOF):
		return n, r.fail(err)
	}
	return n, err
}

func (r *verifyingReader) fail(cause error) error {
	r.failed = true
	r.snapshot.store.dropCorrupt(r.snapshot.file, cause)
	return fmt.Errorf("%w: %v", ErrCorruptEntry, cause)
}

func (r *verifyingReader) Close() error {
	return r.decoder.Close()
}
