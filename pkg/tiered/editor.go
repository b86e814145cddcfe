package tiered

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/nobletooth/artcache/pkg/storage"
)

// Editor modes, also used as the `mode` label of the commit counter.
const (
	modeMemoryOnly   = "memory_only"
	modeWriteThrough = "write_through"
	modeWriteBehind  = "write_behind"
)

// Editor streams a new value of one key into the coordinator. Exactly one of Commit and Abort takes effect; later
// calls return storage.ErrEditorClosed.
type Editor struct {
	coordinator *Coordinator
	key         string
	mode        string
	memoryLimit int64           // Values larger than this are not buffered for the memory tier.
	disk        *storage.Editor // Set in write-through mode only.

	mu       sync.Mutex
	buf      bytes.Buffer
	overflow bool // The value outgrew memoryLimit; buf was dropped.
	written  int64
	expected int64 // -1 when unknown.
	done     bool
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

// ExpectSize declares the final size of the value. Commit fails when a different number of bytes was written.
func (e *Editor) ExpectSize(size int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.expected = size
	if e.disk != nil {
		e.disk.ExpectSize(size)
	}
}

// Write appends `p` to the value.
func (e *Editor) Write(p []byte) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.done {
		return 0, storage.ErrEditorClosed
	}
	if e.disk != nil {
		if n, err := e.disk.Write(p); err != nil {
			return n, err
		}
	}
	e.written += int64(len(p))
	// Write-behind has to keep the whole value for the background disk write.
	if !e.overflow && e.mode != modeWriteBehind && e.written > e.memoryLimit {
		e.overflow = true
		e.buf = bytes.Buffer{}
	}
	if !e.overflow {
		e.buf.Write(p)
	}
	return len(p), nil
}

// Commit publishes the value. In write-through mode the disk commit has to succeed first; if it fails, the memory
// tier drops its value of the key too, so a later read does not return the value the disk tier just replaced. A value
// of the wrong size leaves the key uncached in every tier.
func (e *Editor) Commit() (Entry, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.done {
		return Entry{}, storage.ErrEditorClosed
	}
	e.done = true
	c := e.coordinator
	defer c.release(e)

	lock := c.keyLock(e.key)
	lock.Lock()
	defer lock.Unlock()
	c.supersedeWriteBehind(e.key)

	entry := Entry{Key: e.key, Size: e.written}
	if e.disk != nil { // The disk editor checks the expected size itself.
		committed, err := e.disk.Commit()
		if err != nil {
			c.memory.Remove(e.key)
			commits.WithLabelValues(e.mode, "failed").Inc()
			return Entry{}, err
		}
		entry.Size, entry.OnDisk = committed.Size, true
	} else if e.expected >= 0 && e.expected != e.written {
		c.memory.Remove(e.key)
		if e.mode == modeWriteBehind {
			c.disk.Remove(e.key)
		}
		commits.WithLabelValues(e.mode, "failed").Inc()
		return Entry{}, fmt.Errorf("%w: expected %d bytes for %q, got %d",
			storage.ErrSizeMismatch, e.expected, e.key, e.written)
	}

	if e.overflow {
		c.memory.Remove(e.key)
	} else {
		_, entry.InMemory = c.memory.Put(e.key, e.buf.Bytes())
	}
	if e.mode == modeWriteBehind && !c.closed.Load() {
		c.scheduleWriteBehind(e.key, e.buf.Bytes())
	}
	commits.WithLabelValues(e.mode, "ok").Inc()
	return entry, nil
}

// Abort discards the value; both tiers keep what they had before the edit.
func (e *Editor) Abort() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.done {
		return storage.ErrEditorClosed
	}
	e.done = true
	defer e.coordinator.release(e)
	if e.disk != nil {
		return e.disk.Abort()
	}
	return nil
}
