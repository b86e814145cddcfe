package storage

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// Editor is the exclusive write handle of a key. Bytes are streamed into a temp file that only becomes visible to
// readers on Commit. Exactly one of Commit or Abort finishes the edit; callers acquire an editor and immediately
// `defer editor.Abort()`, which is a no-op returning ErrEditorClosed once Commit ran.
type Editor struct {
	store   *DiskStore
	key     string
	version uint64 // Version the content gets when committed.
	tmpPath string

	mu       sync.Mutex
	file     *os.File
	buffered *bufio.Writer
	encoder  io.WriteCloser // Codec encoder writing into buffered.
	written  int64          // Logical bytes written so far.
	expected int64          // Declared logical size; -1 when not declared.
	writeErr error          // First write failure; fails the commit.
	done     bool           // Set by the terminal call.
}

var _ io.Writer = (*Editor)(nil)

// newEditor creates the temp file of a new edit and writes the content header with a placeholder size.
func newEditor(s *DiskStore, key string, version uint64) (*Editor, error) {
	tmpPath := filepath.Join(s.dir, tempFileName(keyHash(key), version))
	file, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file %s: %w", tmpPath, err)
	}
	buffered := bufio.NewWriter(file)
	_, _ = buffered.Write(encodeContentHeader(s.opts.Codec, 0)) // Errors are sticky and surface on flush.
	encoder, err := s.opts.Codec.newWriter(buffered)
	if err != nil {
		_ = file.Close()
		_ = os.Remove(tmpPath)
		return nil, err
	}
	return &Editor{
		store:    s,
		key:      key,
		version:  version,
		tmpPath:  tmpPath,
		file:     file,
		buffered: buffered,
		encoder:  encoder,
		expected: -1,
	}, nil
}

// Key returns the key being edited.
func (e *Editor) Key() string {
	return e.key
}

// Written returns the number of bytes written so far.
func (e *Editor) Written() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.written
}

// ExpectSize declares the size of the value. Commit fails with ErrSizeMismatch when a different number of bytes was
// written.
func (e *Editor) ExpectSize(size int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.expected = size
}

// Write appends `p` to the pending value.
func (e *Editor) Write(p []byte) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.done {
		return 0, ErrEditorClosed
	}
	if e.writeErr != nil {
		return 0, e.writeErr
	}
	n, err := e.encoder.Write(p)
	e.written += int64(n)
	if err != nil {
		e.writeErr = fmt.Errorf("failed to write %s: %w", e.tmpPath, err)
		return n, e.writeErr
	}
	return n, nil
}

// Commit publishes the written bytes as the value of the key and returns the committed entry. On failure the edit is
// aborted; a size mismatch or a value larger than the whole store also drops any prior value of the key.
func (e *Editor) Commit() (Entry, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.done {
		return Entry{}, ErrEditorClosed
	}
	e.done = true

	if err := e.finish(); err != nil {
		e.store.abandon(e, "failed", false)
		return Entry{}, err
	}
	if e.expected >= 0 && e.expected != e.written {
		e.store.abandon(e, "size_mismatch", true)
		return Entry{}, fmt.Errorf("%w: declared %d bytes for key %q, wrote %d", ErrSizeMismatch,
			e.expected, e.key, e.written)
	}
	return e.store.commit(e)
}

// Abort discards the written bytes. Any previously committed value of the key is left untouched.
func (e *Editor) Abort() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.done {
		return ErrEditorClosed
	}
	e.done = true
	e.discard()
	e.store.abandon(e, "aborted", false)
	return nil
}

// finish flushes the encoder, patches the logical size into the header and closes the temp file.
func (e *Editor) finish() error {
	err := e.writeErr
	if closeErr := e.encoder.Close(); err == nil && closeErr != nil {
		err = fmt.Errorf("failed to flush encoder of %s: %w", e.tmpPath, closeErr)
	}
	if flushErr := e.buffered.Flush(); err == nil && flushErr != nil {
		err = fmt.Errorf("failed to flush %s: %w", e.tmpPath, flushErr)
	}
	if err == nil {
		if _, writeErr := e.file.WriteAt(encodeContentHeader(e.store.opts.Codec, e.written), 0); writeErr != nil {
			err = fmt.Errorf("failed to write header of %s: %w", e.tmpPath, writeErr)
		}
	}
	if err == nil && e.store.opts.SyncWrites {
		if syncErr := e.file.Sync(); syncErr != nil {
			err = fmt.Errorf("failed to sync %s: %w", e.tmpPath, syncErr)
		}
	}
	if closeErr := e.file.Close(); err == nil && closeErr != nil {
		err = fmt.Errorf("failed to close %s: %w", e.tmpPath, closeErr)
	}
	return err
}

// discard closes the temp file without publishing it. The caller removes the file.
func (e *Editor) discard() {
	_ = e.encoder.Close()
	_ = e.file.Close()
}
