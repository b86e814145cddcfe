// artcache persists expensive artifacts in a size-bounded directory that survives process crashes.
// The directory holds one journal plus one content file per committed key (see naming.go and journal.go).
//
// Crash safety follows from three rules:
//  1. A content file is fully written and renamed to its final, never reused name before its CLEAN record is
//     appended; so every CLEAN record points at a complete file.
//  2. An edit is announced with a DIRTY record. A DIRTY record that is not followed by CLEAN or REMOVE for the same
//     key belongs to an edit that never finished; recovery discards that edit and keeps whatever was committed before.
//  3. Recovery trusts nothing it can not verify: temp files and unreferenced content files are deleted, entries whose
//     content file is missing or disagrees with the journal are dropped, and the journal is rewritten when anything
//     had to be repaired.
//
// Content files are shared by the index and live snapshots through reference counting. A replaced, removed or
// evicted file is only deleted once the last snapshot reading it is released.

package storage

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	fileatomic "github.com/natefinch/atomic"
	"golang.org/x/time/rate"

	"github.com/nobletooth/artcache/pkg/cache"
	"github.com/nobletooth/artcache/pkg/utils"
)

const defaultCompactThreshold = 2000

// Options configures a DiskStore.
type Options struct {
	Capacity int64 // Maximum sum of logical entry sizes in bytes.
	// AppVersion is written to the journal header; opening a directory written with another version discards it.
	AppVersion int
	Codec      Codec // Encoding of new content files.
	// CompactThreshold is the number of redundant journal records that triggers a journal rewrite. The journal is
	// also never rewritten while it holds fewer redundant records than resident keys. Defaults to 2000.
	CompactThreshold int
	SyncWrites       bool // Fsync content files and journal appends before an operation returns.
}

// Entry describes a committed disk entry.
type Entry struct {
	Key     string
	Size    int64  // Logical (uncompressed) size in bytes.
	Version uint64 // Version of the commit that wrote the content; unique within a store.
}

// contentFile is a committed content file shared by the index and live snapshots.
// All fields are guarded by the store lock.
type contentFile struct {
	key     string
	path    string
	size    int64
	version uint64
	current bool // Whether the index still points at this file.
	readers int  // Number of live snapshots.
	// Shared read handle; open while readers > 0. Snapshots read through ReadAt, which is safe for concurrent use.
	handle   *os.File
	fileSize int64
	codec    Codec
}

func (cf *contentFile) entry() Entry {
	return Entry{Key: cf.key, Size: cf.size, Version: cf.version}
}

// DiskStore is a crash-safe, size-bounded LRU store of byte values in a directory.
type DiskStore struct {
	dir    string
	opts   Options
	header journalHeader

	mu             sync.Mutex
	index          *cache.Index[string, *contentFile] // Committed entries by recency.
	keys           *keySet[string]                    // Committed keys in sorted order.
	capacity       int64
	journal        *journal
	journalRecords int  // Records in the journal since it was last rewritten.
	disabled       bool // Set after a journal write failure.
	closed         bool

	editMu  sync.Mutex // Lock order: mu before editMu.
	editors map[string]*Editor

	lastVersion  atomic.Uint64
	warnDisabled rate.Sometimes
}

// Open opens or creates the disk store in `dir` and runs the crash recovery pass.
func Open(dir string, opts Options) (*DiskStore, error) {
	if opts.Capacity < 0 {
		return nil, fmt.Errorf("expected a non-negative disk capacity, got %d", opts.Capacity)
	}
	if !opts.Codec.valid() {
		return nil, fmt.Errorf("unknown content codec %d", opts.Codec)
	}
	if opts.CompactThreshold <= 0 {
		opts.CompactThreshold = defaultCompactThreshold
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create disk store directory %s: %w", dir, err)
	}

	s := &DiskStore{
		dir:          dir,
		opts:         opts,
		header:       journalHeader{appVersion: opts.AppVersion, codec: opts.Codec},
		index:        cache.NewIndex[string, *contentFile](),
		keys:         newKeySet[string](),
		capacity:     opts.Capacity,
		editors:      make(map[string]*Editor),
		warnDisabled: rate.Sometimes{Interval: 10 * time.Second},
	}
	started := time.Now()
	if err := s.recover(); err != nil {
		return nil, err
	}
	slog.Info("Opened disk store.", "dir", dir, "entries", s.index.Len(), "size", s.index.Size(),
		"capacity", s.capacity, "codec", opts.Codec, "took", time.Since(started))
	return s, nil
}

// recover rebuilds the index from the journal and the directory contents.
func (s *DiskStore) recover() error {
	journalPath := filepath.Join(s.dir, journalFileName)
	contents, err := readJournal(journalPath, s.header)
	repaired := false
	switch {
	case err == nil:
	case errors.Is(err, os.ErrNotExist):
		repaired = true
	case errors.Is(err, errJournalHeader):
		slog.Warn("Discarding disk store written with an incompatible journal.", "dir", s.dir, "err", err)
		repaired = true
	default:
		return fmt.Errorf("failed to read journal: %w", err)
	}
	if err == nil && contents.codec != s.header.codec {
		// Existing content files keep their codec; only the header is rewritten.
		slog.Info("Content codec changed.", "dir", s.dir, "from", contents.codec, "to", s.header.codec)
		repaired = true
	}
	if contents.corrupt > 0 {
		slog.Warn("Skipped corrupt journal lines.", "dir", s.dir, "count", contents.corrupt)
		diskRecoveryRepairs.WithLabelValues("corrupt_line").Add(float64(contents.corrupt))
		repaired = true
	}

	if incomplete := s.replay(contents.records); incomplete > 0 {
		slog.Info("Discarded incomplete edits.", "dir", s.dir, "count", incomplete)
		diskRecoveryRepairs.WithLabelValues("incomplete_edit").Add(float64(incomplete))
		repaired = true
	}
	swept, err := s.sweepDirectory()
	if err != nil {
		return err
	}
	if swept {
		repaired = true
	}
	if s.validateContentFiles() {
		repaired = true
	}
	if evicted := s.evictLocked(); len(evicted) > 0 {
		repaired = true
	}

	if repaired {
		return s.compactLocked()
	}
	j, err := openJournal(journalPath, s.opts.SyncWrites)
	if err != nil {
		return err
	}
	s.journal = j
	s.journalRecords = len(contents.records)
	return nil
}

// replay applies journal records to the index and returns the number of edits that never finished.
func (s *DiskStore) replay(records []journalRecord) int {
	pending := make(map[string]struct{})
	for _, record := range records {
		switch record.op {
		case opDirty:
			pending[record.key] = struct{}{}
		case opClean:
			delete(pending, record.key)
			// Replaced files are not deleted here; an aborted edit re-affirms the same version, and files that
			// really were superseded are swept as orphans.
			s.index.Insert(record.key, &contentFile{
				key:     record.key,
				path:    filepath.Join(s.dir, contentFileName(keyHash(record.key), record.version)),
				size:    record.size,
				version: record.version,
				current: true,
			}, record.size)
			s.keys.Add(record.key)
		case opRemove:
			delete(pending, record.key)
			if removed, found := s.index.Remove(record.key); found {
				removed.Value.current = false
				s.keys.Delete(record.key)
			}
		case opRead:
			s.index.Touch(record.key)
		}
	}
	return len(pending)
}

// sweepDirectory deletes temp files and content files the index does not reference. It also moves the version
// counter past every version found on disk.
func (s *DiskStore) sweepDirectory() (bool /*removedAny*/, error) {
	dirEntries, err := os.ReadDir(s.dir)
	if err != nil {
		return false, fmt.Errorf("failed to list disk store directory %s: %w", s.dir, err)
	}
	referenced := make(map[string]struct{}, s.index.Len())
	var maxVersion uint64
	for _, cf := range s.index.All() {
		referenced[filepath.Base(cf.path)] = struct{}{}
		maxVersion = max(maxVersion, cf.version)
	}

	removedAny := false
	for _, dirEntry := range dirEntries {
		name := dirEntry.Name()
		if dirEntry.IsDir() {
			continue
		}
		kind := ""
		if name == journalCompactFileName {
			kind = "temp_file"
		} else if version, temp, ok := parseContentFileName(name); ok {
			maxVersion = max(maxVersion, version)
			if temp {
				kind = "temp_file"
			} else if _, found := referenced[name]; !found {
				kind = "orphan_file"
			}
		}
		if kind == "" {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, name)); err != nil && !errors.Is(err, os.ErrNotExist) {
			slog.Warn("Failed to remove stale disk store file.", "file", name, "err", err)
			continue
		}
		diskRecoveryRepairs.WithLabelValues(kind).Inc()
		removedAny = true
	}
	s.lastVersion.Store(maxVersion)
	return removedAny, nil
}

// validateContentFiles drops entries whose content file is missing or disagrees with its journal record.
func (s *DiskStore) validateContentFiles() bool /*droppedAny*/ {
	var broken []string
	for entry, cf := range s.index.All() {
		err := checkContentFile(cf)
		if err == nil {
			continue
		}
		kind := "bad_file"
		if errors.Is(err, os.ErrNotExist) {
			kind = "missing_file"
		}
		slog.Warn("Dropping disk entry with an unusable content file.", "key", entry.Key, "kind", kind, "err", err)
		diskRecoveryRepairs.WithLabelValues(kind).Inc()
		broken = append(broken, entry.Key)
	}
	for _, key := range broken {
		s.dropLocked(key)
	}
	return len(broken) > 0
}

// checkContentFile verifies the header of a content file against its journal record.
func checkContentFile(cf *contentFile) error {
	file, err := os.Open(cf.path)
	if err != nil {
		return err
	}
	defer func() { _ = file.Close() }()
	codec, fileSize, err := readContentHeader(file, cf.size)
	if err != nil {
		return err
	}
	if codec == CodecNone && fileSize != contentHeaderLen+cf.size {
		return fmt.Errorf("%w: file holds %d payload bytes, journal expects %d", ErrCorruptEntry,
			fileSize-contentHeaderLen, cf.size)
	}
	return nil
}

// readContentHeader reads the header of `file`, checks its logical size against `expectedSize` and returns the codec
// together with the file size.
func readContentHeader(file *os.File, expectedSize int64) (Codec, int64, error) {
	header := make([]byte, contentHeaderLen)
	if _, err := io.ReadFull(io.NewSectionReader(file, 0, contentHeaderLen), header); err != nil {
		return CodecNone, 0, fmt.Errorf("%w: failed to read header: %v", ErrCorruptEntry, err)
	}
	codec, size, err := decodeContentHeader(header)
	if err != nil {
		return CodecNone, 0, err
	}
	if size != expectedSize {
		return CodecNone, 0, fmt.Errorf("%w: header size %d, journal size %d", ErrCorruptEntry, size, expectedSize)
	}
	info, err := file.Stat()
	if err != nil {
		return CodecNone, 0, err
	}
	return codec, info.Size(), nil
}

// installLocked makes `cf` the current content of its key and retires the file it replaces.
func (s *DiskStore) installLocked(cf *contentFile) {
	_, replaced := s.index.Insert(cf.key, cf, cf.size)
	s.keys.Add(cf.key)
	if replaced != nil {
		s.retireLocked(replaced.Value)
	}
}

// dropLocked removes `key` from the index and retires its content file.
func (s *DiskStore) dropLocked(key string) (*contentFile, bool /*found*/) {
	removed, found := s.index.Remove(key)
	if !found {
		return nil, false
	}
	s.keys.Delete(key)
	s.retireLocked(removed.Value)
	return removed.Value, true
}

// evictLocked removes least recently used entries until the store fits its capacity and returns their keys.
func (s *DiskStore) evictLocked() []string {
	evicted := s.index.EvictTo(s.capacity)
	keys := make([]string, 0, len(evicted))
	for _, removed := range evicted {
		s.keys.Delete(removed.Entry.Key)
		s.retireLocked(removed.Value)
		keys = append(keys, removed.Entry.Key)
	}
	diskEvictions.Add(float64(len(evicted)))
	return keys
}

// retireLocked marks `cf` as no longer current and deletes it unless a snapshot still reads it.
func (s *DiskStore) retireLocked(cf *contentFile) {
	cf.current = false
	s.maybeDeleteLocked(cf)
}

func (s *DiskStore) maybeDeleteLocked(cf *contentFile) {
	if cf.current || cf.readers > 0 {
		return
	}
	if err := os.Remove(cf.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		// The recovery pass deletes the file as an orphan next time.
		slog.Warn("Failed to delete retired content file.", "path", cf.path, "err", err)
	}
}

// appendLocked writes `records` to the journal. A failed write disables the store.
func (s *DiskStore) appendLocked(records ...journalRecord) {
	if s.disabled || s.closed || s.journal == nil {
		return
	}
	if err := s.journal.append(records...); err != nil {
		s.disableLocked(err)
		return
	}
	s.journalRecords += len(records)
}

func (s *DiskStore) disableLocked(err error) {
	s.disabled = true
	diskDisabled.Set(1)
	slog.Error("Disabling disk store after a journal failure.", "dir", s.dir, "err", err)
}

// afterMutationLocked runs the bookkeeping every public operation ends with.
func (s *DiskStore) afterMutationLocked() {
	diskResidentBytes.Set(float64(s.index.Size()))
	if s.disabled || s.closed {
		return
	}
	redundant := s.journalRecords - s.index.Len()
	if redundant < s.opts.CompactThreshold || redundant < s.index.Len() {
		return
	}
	if err := s.compactLocked(); err != nil {
		slog.Error("Failed to compact journal.", "dir", s.dir, "err", err)
	}
}

// compactLocked rewrites the journal to the minimal records reconstructing the current index: CLEAN records from
// the least to the most recently used entry, then a DIRTY record per live editor.
func (s *DiskStore) compactLocked() error {
	records := make([]journalRecord, 0, s.index.Len())
	for _, cf := range s.index.All() {
		records = append(records, cleanRecord(cf.key, cf.size, cf.version))
	}
	s.editMu.Lock()
	for key := range s.editors {
		records = append(records, dirtyRecord(key))
	}
	s.editMu.Unlock()

	if s.journal != nil {
		if err := s.journal.close(); err != nil {
			slog.Warn("Failed to close journal before compaction.", "dir", s.dir, "err", err)
		}
		s.journal = nil
	}
	rewriteErr := rewriteJournal(s.dir, s.header, records)
	// On a failed rewrite the previous journal is still in place and remains valid.
	j, err := openJournal(filepath.Join(s.dir, journalFileName), s.opts.SyncWrites)
	if err != nil {
		s.disableLocked(err)
		return errors.Join(rewriteErr, err)
	}
	s.journal = j
	if rewriteErr != nil {
		return rewriteErr
	}
	s.journalRecords = len(records)
	diskCompactions.Inc()
	return nil
}

// Edit opens an exclusive editor for `key`. It returns false when an editor for the key is live, the key is invalid,
// or the store is disabled or closed; callers treat that as "cache busy" and skip caching.
func (s *DiskStore) Edit(key string) (*Editor, bool) {
	if err := validateKey(key); err != nil {
		return nil, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.disabled {
		s.warnDisabled.Do(func() {
			slog.Warn("Refusing edits on an unavailable disk store.", "dir", s.dir, "closed", s.closed)
		})
		return nil, false
	}

	s.editMu.Lock()
	if _, busy := s.editors[key]; busy {
		s.editMu.Unlock()
		return nil, false
	}
	editor, err := newEditor(s, key, s.lastVersion.Add(1))
	if err != nil {
		s.editMu.Unlock()
		slog.Warn("Failed to start an edit.", "key", key, "err", err)
		return nil, false
	}
	s.editors[key] = editor
	s.editMu.Unlock()

	s.appendLocked(dirtyRecord(key))
	if s.disabled {
		editor.discard()
		_ = os.Remove(editor.tmpPath)
		s.unregister(editor)
		return nil, false
	}
	s.afterMutationLocked()
	return editor, true
}

// unregister releases the edit lock held by `editor`.
func (s *DiskStore) unregister(editor *Editor) {
	s.editMu.Lock()
	defer s.editMu.Unlock()
	if current, found := s.editors[editor.key]; !found || current != editor {
		utils.RaiseInvariant("disk_store", "foreign_editor", "Released an editor that does not hold the key.",
			"key", editor.key)
		return
	}
	delete(s.editors, editor.key)
}

// commit publishes the finished temp file of `editor` as the current content of its key. Content file names are
// unique per version, so the rename happens before the store lock is taken and reads of other keys are not held up by
// it. Until the CLEAN record is appended the published file is unreferenced, and recovery sweeps it as an orphan.
func (s *DiskStore) commit(editor *Editor) (Entry, error) {
	cf := &contentFile{
		key:     editor.key,
		path:    filepath.Join(s.dir, contentFileName(keyHash(editor.key), editor.version)),
		size:    editor.written,
		version: editor.version,
		current: true,
	}
	if err := fileatomic.ReplaceFile(editor.tmpPath, cf.path); err != nil {
		s.abandon(editor, "failed", false)
		return Entry{}, fmt.Errorf("failed to publish content of %q: %w", editor.key, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.closed:
		s.unpublishLocked(editor, cf.path, "failed", false)
		return Entry{}, ErrStoreClosed
	case s.disabled:
		s.unpublishLocked(editor, cf.path, "failed", false)
		return Entry{}, ErrStoreDisabled
	case editor.written > s.capacity:
		s.unpublishLocked(editor, cf.path, "too_large", true)
		return Entry{}, fmt.Errorf("%w: %d bytes for key %q, capacity is %d", ErrCapacityExceeded,
			editor.written, editor.key, s.capacity)
	}

	s.appendLocked(cleanRecord(cf.key, cf.size, cf.version))
	if s.disabled {
		removeContentFile(cf.path)
		s.unregister(editor)
		diskEdits.WithLabelValues("failed").Inc()
		return Entry{}, ErrStoreDisabled
	}
	s.installLocked(cf)
	for _, key := range s.evictLocked() {
		s.appendLocked(removeRecord(key))
	}
	s.unregister(editor)
	diskEdits.WithLabelValues("committed").Inc()
	s.afterMutationLocked()
	return cf.entry(), nil
}

// unpublishLocked abandons `editor` after its content was already renamed to `path`.
func (s *DiskStore) unpublishLocked(editor *Editor, path, result string, dropPrior bool) {
	removeContentFile(path)
	s.abandonLocked(editor, result, dropPrior)
}

func removeContentFile(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("Failed to delete unpublished content file.", "path", path, "err", err)
	}
}

// abandon finishes an edit that will not be published.
func (s *DiskStore) abandon(editor *Editor, result string, dropPrior bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.abandonLocked(editor, result, dropPrior)
}

// abandonLocked deletes the temp file of `editor` and resolves its DIRTY record: a prior committed value is
// re-affirmed with a CLEAN record, unless `dropPrior` asks to remove it, in which case REMOVE is written.
func (s *DiskStore) abandonLocked(editor *Editor, result string, dropPrior bool) {
	if err := os.Remove(editor.tmpPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("Failed to delete temp file of an abandoned edit.", "path", editor.tmpPath, "err", err)
	}
	if dropPrior {
		s.dropLocked(editor.key)
	}
	if prior, _, found := s.index.Peek(editor.key); found {
		s.appendLocked(cleanRecord(prior.key, prior.size, prior.version))
	} else {
		s.appendLocked(removeRecord(editor.key))
	}
	s.unregister(editor)
	diskEdits.WithLabelValues(result).Inc()
	s.afterMutationLocked()
}

// Get returns a snapshot of the committed value of `key` and marks it as most recently used. An entry whose content
// file can not be read is dropped and reported as a miss.
func (s *DiskStore) Get(key string) (*Snapshot, bool /*found*/) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, false
	}
	cf, _, found := s.index.Get(key)
	if !found {
		diskLookups.WithLabelValues("miss").Inc()
		return nil, false
	}
	if err := s.acquireLocked(cf); err != nil {
		slog.Warn("Dropping unreadable disk entry.", "key", key, "err", err)
		diskLookups.WithLabelValues("corrupt").Inc()
		s.dropLocked(key)
		s.appendLocked(removeRecord(key))
		s.afterMutationLocked()
		return nil, false
	}
	s.appendLocked(readRecord(key))
	s.afterMutationLocked()
	diskLookups.WithLabelValues("hit").Inc()
	return newSnapshot(s, cf), true
}

// acquireLocked takes a reader reference on `cf`, opening its shared handle for the first reader.
func (s *DiskStore) acquireLocked(cf *contentFile) error {
	if cf.handle == nil {
		file, err := os.Open(cf.path)
		if err != nil {
			return err
		}
		codec, fileSize, err := readContentHeader(file, cf.size)
		if err != nil {
			_ = file.Close()
			return err
		}
		cf.handle, cf.codec, cf.fileSize = file, codec, fileSize
	}
	cf.readers++
	return nil
}

// release drops a reader reference taken by acquireLocked.
func (s *DiskStore) release(cf *contentFile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cf.readers--
	if !utils.CheckInvariant(cf.readers >= 0, "disk_store", "negative_readers",
		"Content file was released more often than acquired.", "path", cf.path) {
		cf.readers = 0
	}
	if cf.readers == 0 && cf.handle != nil {
		if err := cf.handle.Close(); err != nil {
			slog.Warn("Failed to close content file.", "path", cf.path, "err", err)
		}
		cf.handle = nil
	}
	s.maybeDeleteLocked(cf)
}

// dropCorrupt drops `cf` if it is still the current content of its key.
func (s *DiskStore) dropCorrupt(cf *contentFile, cause error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !cf.current {
		return
	}
	slog.Warn("Dropping corrupt disk entry.", "key", cf.key, "version", cf.version, "err", cause)
	s.dropLocked(cf.key)
	s.appendLocked(removeRecord(cf.key))
	s.afterMutationLocked()
}

// Contains reports whether `key` is committed without changing its recency.
func (s *DiskStore) Contains(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, _, found := s.index.Peek(key)
	return found
}

// Stat returns the committed entry of `key` without changing its recency.
func (s *DiskStore) Stat(key string) (Entry, bool /*found*/) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cf, _, found := s.index.Peek(key)
	if !found {
		return Entry{}, false
	}
	return cf.entry(), true
}

// Remove drops the committed value of `key`. Snapshots already handed out stay readable.
func (s *DiskStore) Remove(key string) (Entry, bool /*found*/) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cf, found := s.dropLocked(key)
	if !found {
		return Entry{}, false
	}
	s.appendLocked(removeRecord(key))
	s.afterMutationLocked()
	return cf.entry(), true
}

// Resize changes the capacity and evicts least recently used entries until the store fits. Growing never evicts.
func (s *DiskStore) Resize(capacity int64) {
	if capacity < 0 {
		utils.RaiseInvariant("disk_store", "negative_capacity", "Invalid capacity has been given to disk store.",
			"capacity", capacity)
		capacity = 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.capacity = capacity
	for _, key := range s.evictLocked() {
		s.appendLocked(removeRecord(key))
	}
	s.afterMutationLocked()
}

// Capacity returns the current capacity in bytes.
func (s *DiskStore) Capacity() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.capacity
}

// Size returns the sum of logical sizes of committed entries.
func (s *DiskStore) Size() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.index.Size()
}

// Len returns the number of committed entries.
func (s *DiskStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.index.Len()
}

// Keys returns the committed keys in ascending order.
func (s *DiskStore) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Collect(s.keys.All())
}

// Entries returns committed entries from the least to the most recently used.
func (s *DiskStore) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := make([]Entry, 0, s.index.Len())
	for _, cf := range s.index.All() {
		entries = append(entries, cf.entry())
	}
	return entries
}

// Compact rewrites the journal to its minimal form.
func (s *DiskStore) Compact() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	if s.disabled {
		return ErrStoreDisabled
	}
	return s.compactLocked()
}

// Flush syncs the journal to stable storage.
func (s *DiskStore) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	if s.journal == nil {
		return ErrStoreDisabled
	}
	return s.journal.flush()
}

// Disabled reports whether a journal failure disabled the store.
func (s *DiskStore) Disabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disabled
}

// Dir returns the directory of the store.
func (s *DiskStore) Dir() string {
	return s.dir
}

// Close closes the journal. Live snapshots stay readable; live editors fail to commit with ErrStoreClosed.
func (s *DiskStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.journal == nil {
		return nil
	}
	err := s.journal.close()
	s.journal = nil
	return err
}
