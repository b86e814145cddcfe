package storage

import "errors"

var (
	// ErrStoreDisabled is returned by write paths after a journal write failed. Reads of resident content still work.
	ErrStoreDisabled = errors.New("disk store is disabled")
	// ErrStoreClosed is returned by every write path once Close was called.
	ErrStoreClosed = errors.New("disk store is closed")
	// ErrEditorClosed is returned by a terminal editor call after Commit or Abort already ran.
	ErrEditorClosed = errors.New("editor is already closed")
	// ErrSizeMismatch is returned by Commit when the written byte count differs from the declared size. The edit is
	// aborted and the key is treated as a miss.
	ErrSizeMismatch = errors.New("written size does not match the declared size")
	// ErrCapacityExceeded is returned by Commit when the value alone is larger than the store capacity.
	ErrCapacityExceeded = errors.New("value is larger than the store capacity")
	// ErrCorruptEntry is returned by snapshot reads of a content file that no longer matches its journal record.
	ErrCorruptEntry = errors.New("content file is corrupt")
	// ErrInvalidKey is returned for keys the store can not address, i.e. the empty key.
	ErrInvalidKey = errors.New("invalid key")

	errJournalHeader = errors.New("unexpected journal header")
)
