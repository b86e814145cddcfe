package storage

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// openTestStore opens a store in `dir` and closes it when the test ends.
func openTestStore(t *testing.T, dir string, opts Options) *DiskStore {
	t.Helper()
	if opts.Capacity == 0 {
		opts.Capacity = 1 << 20
	}
	store, err := Open(dir, opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// commitValue writes `value` for `key` through a new editor.
func commitValue(t *testing.T, store *DiskStore, key string, value []byte) Entry {
	t.Helper()
	editor, ok := store.Edit(key)
	require.Truef(t, ok, "Expected to edit %q.", key)
	defer func() { _ = editor.Abort() }()
	_, err := editor.Write(value)
	require.NoError(t, err)
	entry, err := editor.Commit()
	require.NoError(t, err)
	return entry
}

// readValue returns the committed value of `key`.
func readValue(t *testing.T, store *DiskStore, key string) ([]byte, bool) {
	t.Helper()
	snapshot, found := store.Get(key)
	if !found {
		return nil, false
	}
	defer snapshot.Release()
	data, err := snapshot.Bytes()
	require.NoError(t, err)
	return data, true
}

// journalLines returns the records of the journal in `dir`, without its header.
func journalLines(t *testing.T, dir string) []string {
	t.Helper()
	raw, err := os.ReadFile(filepath.Join(dir, journalFileName))
	require.NoError(t, err)
	_, body, found := strings.Cut(string(raw), "\n\n")
	require.True(t, found, "Journal should have a header")
	return strings.Split(strings.TrimSuffix(body, "\n"), "\n")
}

func TestDiskStore_CommitAndGet(t *testing.T) {
	for _, codec := range []Codec{CodecNone, CodecZstd, CodecLZ4} {
		t.Run(codec.String(), func(t *testing.T) {
			store := openTestStore(t, t.TempDir(), Options{Codec: codec})
			value := bytes.Repeat([]byte("artwork "), 512)

			editor, ok := store.Edit("album/1")
			require.True(t, ok)
			editor.ExpectSize(int64(len(value)))
			// Write in two chunks.
			_, err := editor.Write(value[:100])
			require.NoError(t, err)
			_, err = editor.Write(value[100:])
			require.NoError(t, err)
			assert.Equal(t, int64(len(value)), editor.Written())
			entry, err := editor.Commit()
			require.NoError(t, err)
			assert.Equal(t, "album/1", entry.Key)
			assert.Equal(t, int64(len(value)), entry.Size)

			got, found := readValue(t, store, "album/1")
			require.True(t, found)
			assert.Equal(t, value, got)
			assert.Equal(t, int64(len(value)), store.Size())
		})
	}
}

func TestDiskStore_EmptyValue(t *testing.T) {
	store := openTestStore(t, t.TempDir(), Options{})
	commitValue(t, store, "empty", nil)
	got, found := readValue(t, store, "empty")
	assert.True(t, found)
	assert.Empty(t, got)
}

func TestDiskStore_EditorExclusivity(t *testing.T) {
	store := openTestStore(t, t.TempDir(), Options{})
	first, ok := store.Edit("k")
	require.True(t, ok)

	_, ok = store.Edit("k")
	assert.False(t, ok, "A second editor for a live key should be refused")
	other, ok := store.Edit("other")
	assert.True(t, ok, "Editors of other keys should not be blocked")
	require.NoError(t, other.Abort())

	require.NoError(t, first.Abort())
	second, ok := store.Edit("k")
	assert.True(t, ok, "The key should be editable again after abort")
	require.NoError(t, second.Abort())

	_, ok = store.Edit("")
	assert.False(t, ok, "The empty key is not addressable")
}

func TestDiskStore_TerminalCallsOnce(t *testing.T) {
	store := openTestStore(t, t.TempDir(), Options{})
	editor, ok := store.Edit("k")
	require.True(t, ok)
	_, err := editor.Write([]byte("v"))
	require.NoError(t, err)
	_, err = editor.Commit()
	require.NoError(t, err)

	_, err = editor.Commit()
	assert.ErrorIs(t, err, ErrEditorClosed)
	assert.ErrorIs(t, editor.Abort(), ErrEditorClosed)
	_, err = editor.Write([]byte("more"))
	assert.ErrorIs(t, err, ErrEditorClosed)

	got, found := readValue(t, store, "k")
	require.True(t, found)
	assert.Equal(t, []byte("v"), got)
}

func TestDiskStore_Abort(t *testing.T) {
	store := openTestStore(t, t.TempDir(), Options{})

	t.Run("without a prior value", func(t *testing.T) {
		editor, ok := store.Edit("k2")
		require.True(t, ok)
		_, err := editor.Write([]byte("discarded"))
		require.NoError(t, err)
		require.NoError(t, editor.Abort())
		_, found := store.Get("k2")
		assert.False(t, found)
	})

	t.Run("keeps the prior value", func(t *testing.T) {
		commitValue(t, store, "k3", []byte("old"))
		editor, ok := store.Edit("k3")
		require.True(t, ok)
		_, err := editor.Write([]byte("new"))
		require.NoError(t, err)
		require.NoError(t, editor.Abort())

		got, found := readValue(t, store, "k3")
		require.True(t, found)
		assert.Equal(t, []byte("old"), got)
	})

	tempFiles, err := filepath.Glob(filepath.Join(store.Dir(), "*"+tempFileSuffix))
	require.NoError(t, err)
	assert.Empty(t, tempFiles, "Aborted edits should not leave temp files behind")
}

func TestDiskStore_SnapshotIsolation(t *testing.T) {
	store := openTestStore(t, t.TempDir(), Options{Codec: CodecZstd})
	oldEntry := commitValue(t, store, "k", []byte("old bytes"))
	oldPath := filepath.Join(store.Dir(), contentFileName(keyHash("k"), oldEntry.Version))

	s1, found := store.Get("k")
	require.True(t, found)
	commitValue(t, store, "k", []byte("new bytes"))

	got, err := s1.Bytes()
	require.NoError(t, err)
	assert.Equal(t, []byte("old bytes"), got, "A live snapshot should keep reading the old value")
	latest, found := readValue(t, store, "k")
	require.True(t, found)
	assert.Equal(t, []byte("new bytes"), latest)
	assert.FileExists(t, oldPath, "The replaced file should live until its snapshot is released")

	s1.Release()
	s1.Release() // Releasing twice is a no-op.
	assert.NoFileExists(t, oldPath)
	_, err = s1.Open()
	assert.ErrorIs(t, err, ErrSnapshotReleased)
}

func TestDiskStore_RemoveWithLiveSnapshot(t *testing.T) {
	store := openTestStore(t, t.TempDir(), Options{})
	entry := commitValue(t, store, "k", []byte("value"))
	path := filepath.Join(store.Dir(), contentFileName(keyHash("k"), entry.Version))

	snapshot, found := store.Get("k")
	require.True(t, found)
	removed, found := store.Remove("k")
	require.True(t, found)
	assert.Equal(t, entry, removed)
	assert.False(t, store.Contains("k"))

	got, err := snapshot.Bytes()
	require.NoError(t, err)
	assert.Equal(t, []byte("value"), got)
	assert.FileExists(t, path)
	snapshot.Release()
	assert.NoFileExists(t, path)

	_, found = store.Remove("k")
	assert.False(t, found)
}

func TestDiskStore_ConcurrentSnapshotReads(t *testing.T) {
	store := openTestStore(t, t.TempDir(), Options{Codec: CodecLZ4})
	value := bytes.Repeat([]byte{1, 2, 3, 4}, 4096)
	commitValue(t, store, "k", value)

	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			snapshot, found := store.Get("k")
			if !assert.True(t, found) {
				return
			}
			defer snapshot.Release()
			got, err := snapshot.Bytes()
			assert.NoError(t, err)
			assert.Equal(t, value, got)
		}()
	}
	wg.Wait()
}

func TestDiskStore_EvictsLeastRecentlyUsed(t *testing.T) {
	store := openTestStore(t, t.TempDir(), Options{Capacity: 100})
	commitValue(t, store, "A", make([]byte, 40))
	commitValue(t, store, "B", make([]byte, 40))
	_, found := readValue(t, store, "A")
	require.True(t, found)
	commitValue(t, store, "C", make([]byte, 40))

	assert.Equal(t, []string{"A", "C"}, store.Keys())
	assert.Equal(t, int64(80), store.Size())

	t.Run("resize", func(t *testing.T) {
		store.Resize(50)
		assert.Equal(t, []string{"C"}, store.Keys())
		assert.Equal(t, int64(50), store.Capacity())
		store.Resize(1000)
		assert.Equal(t, []string{"C"}, store.Keys())
	})
}

func TestDiskStore_Keys(t *testing.T) {
	store := openTestStore(t, t.TempDir(), Options{})
	for _, key := range []string{"m", "a", "z", "b"} {
		commitValue(t, store, key, []byte(key))
	}
	assert.Equal(t, []string{"a", "b", "m", "z"}, store.Keys())
	assert.Equal(t, 4, store.Len())

	var entryKeys []string
	for _, entry := range store.Entries() {
		entryKeys = append(entryKeys, entry.Key)
	}
	assert.Equal(t, []string{"m", "a", "z", "b"}, entryKeys, "Entries should be in recency order")
}

func TestDiskStore_SizeMismatch(t *testing.T) {
	store := openTestStore(t, t.TempDir(), Options{})
	commitValue(t, store, "k", []byte("prior"))

	editor, ok := store.Edit("k")
	require.True(t, ok)
	editor.ExpectSize(10)
	_, err := editor.Write([]byte("short"))
	require.NoError(t, err)
	_, err = editor.Commit()
	assert.ErrorIs(t, err, ErrSizeMismatch)

	_, found := store.Get("k")
	assert.False(t, found, "A size mismatch turns the key into a miss")
	editor, ok = store.Edit("k")
	assert.True(t, ok, "The failed commit should release the edit lock")
	require.NoError(t, editor.Abort())
}

func TestDiskStore_ValueLargerThanCapacity(t *testing.T) {
	store := openTestStore(t, t.TempDir(), Options{Capacity: 10})
	commitValue(t, store, "small", []byte("tiny"))

	editor, ok := store.Edit("big")
	require.True(t, ok)
	_, err := editor.Write(make([]byte, 11))
	require.NoError(t, err)
	_, err = editor.Commit()
	assert.ErrorIs(t, err, ErrCapacityExceeded)

	_, found := store.Get("big")
	assert.False(t, found)
	assert.Equal(t, []string{"small"}, store.Keys(), "Unrelated keys should not be evicted for a rejected value")
}

func TestDiskStore_CrashRecovery(t *testing.T) {
	dir := t.TempDir()
	header := journalHeader{codec: CodecNone}
	k1Content := append(encodeContentHeader(CodecNone, 10), []byte("0123456789")...)
	require.NoError(t, os.WriteFile(filepath.Join(dir, contentFileName(keyHash("k1"), 1)), k1Content, 0o644))
	k2Temp := filepath.Join(dir, tempFileName(keyHash("k2"), 2))
	require.NoError(t, os.WriteFile(k2Temp, []byte("partial"), 0o644))
	journal := strings.Join(append(header.lines(), "DIRTY k1", "CLEAN k1 10 1", "DIRTY k2"), "\n") + "\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, journalFileName), []byte(journal), 0o644))

	store := openTestStore(t, dir, Options{})
	assert.Equal(t, []string{"k1"}, store.Keys())
	assert.NoFileExists(t, k2Temp)
	got, found := readValue(t, store, "k1")
	require.True(t, found)
	assert.Equal(t, []byte("0123456789"), got)

	entry := commitValue(t, store, "k3", []byte("x"))
	assert.Greater(t, entry.Version, uint64(2), "Versions should never be reused after recovery")
}

func TestDiskStore_RecoveryKeepsPriorValueOfInterruptedEdit(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(dir, Options{Capacity: 1 << 20})
	require.NoError(t, err)
	commitValue(t, store, "k", []byte("committed"))
	editor, ok := store.Edit("k")
	require.True(t, ok)
	_, err = editor.Write([]byte("in flight"))
	require.NoError(t, err)
	// Simulate a crash: the editor never finishes and the store is not shut down cleanly.
	require.NoError(t, store.journal.close())

	reopened := openTestStore(t, dir, Options{})
	got, found := readValue(t, reopened, "k")
	require.True(t, found)
	assert.Equal(t, []byte("committed"), got)
	tempFiles, err := filepath.Glob(filepath.Join(dir, "*"+tempFileSuffix))
	require.NoError(t, err)
	assert.Empty(t, tempFiles)
}

func TestDiskStore_ReopenKeepsEntriesAndRecency(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(dir, Options{Capacity: 100, Codec: CodecZstd})
	require.NoError(t, err)
	commitValue(t, store, "A", make([]byte, 40))
	commitValue(t, store, "B", make([]byte, 40))
	_, found := readValue(t, store, "A")
	require.True(t, found)
	commitValue(t, store, "tmp", []byte("x"))
	store.Remove("tmp")
	require.NoError(t, store.Close())

	reopened := openTestStore(t, dir, Options{Capacity: 100, Codec: CodecZstd})
	assert.Equal(t, []string{"A", "B"}, reopened.Keys())
	commitValue(t, reopened, "C", make([]byte, 40))
	assert.Equal(t, []string{"A", "C"}, reopened.Keys(), "B was the least recently used entry before the restart")
}

func TestDiskStore_RecoveryDropsBadFiles(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(dir, Options{Capacity: 1 << 20})
	require.NoError(t, err)
	truncated := commitValue(t, store, "truncated", []byte("0123456789"))
	missing := commitValue(t, store, "missing", []byte("abc"))
	commitValue(t, store, "intact", []byte("ok"))
	require.NoError(t, store.Close())

	truncatedPath := filepath.Join(dir, contentFileName(keyHash("truncated"), truncated.Version))
	require.NoError(t, os.Truncate(truncatedPath, contentHeaderLen+4))
	require.NoError(t, os.Remove(filepath.Join(dir, contentFileName(keyHash("missing"), missing.Version))))
	orphan := filepath.Join(dir, contentFileName(keyHash("orphan"), 999))
	require.NoError(t, os.WriteFile(orphan, []byte("stray"), 0o644))
	unrelated := filepath.Join(dir, "README")
	require.NoError(t, os.WriteFile(unrelated, []byte("keep me"), 0o644))

	reopened := openTestStore(t, dir, Options{})
	assert.Equal(t, []string{"intact"}, reopened.Keys())
	assert.NoFileExists(t, truncatedPath)
	assert.NoFileExists(t, orphan)
	assert.FileExists(t, unrelated, "Files the store did not write should be left alone")

	lines := journalLines(t, dir)
	if diff := cmp.Diff([]string{"CLEAN intact 2 3"}, lines); diff != "" {
		t.Errorf("Journal should be rewritten after repairs (-want +got):\n%s", diff)
	}
}

func TestDiskStore_RecoverySkipsCorruptLines(t *testing.T) {
	dir := t.TempDir()
	header := journalHeader{codec: CodecNone}
	content := append(encodeContentHeader(CodecNone, 2), []byte("hi")...)
	require.NoError(t, os.WriteFile(filepath.Join(dir, contentFileName(keyHash("good"), 1)), content, 0o644))
	journal := strings.Join(append(header.lines(),
		"CLEAN good 2 1",
		"BOGUS line",
		"CLEAN bad notanumber 2",
		"READ good",
		"CLEAN cut", // The last append was cut short by a crash.
	), "\n")
	require.NoError(t, os.WriteFile(filepath.Join(dir, journalFileName), []byte(journal), 0o644))

	store := openTestStore(t, dir, Options{})
	assert.Equal(t, []string{"good"}, store.Keys())
	assert.Equal(t, []string{"CLEAN good 2 1"}, journalLines(t, dir))
}

func TestDiskStore_IncompatibleHeaderDiscardsCache(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(dir, Options{Capacity: 1 << 20, AppVersion: 1})
	require.NoError(t, err)
	entry := commitValue(t, store, "k", []byte("v1 artifact"))
	require.NoError(t, store.Close())

	upgraded := openTestStore(t, dir, Options{AppVersion: 2})
	assert.Equal(t, 0, upgraded.Len())
	assert.NoFileExists(t, filepath.Join(dir, contentFileName(keyHash("k"), entry.Version)))
}

func TestDiskStore_CodecChangeKeepsCache(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(dir, Options{Capacity: 1 << 20, Codec: CodecZstd})
	require.NoError(t, err)
	commitValue(t, store, "zstd", []byte("written with zstd"))
	require.NoError(t, store.Close())

	reopened := openTestStore(t, dir, Options{Codec: CodecLZ4})
	commitValue(t, reopened, "lz4", []byte("written with lz4"))
	value, found := readValue(t, reopened, "zstd")
	require.True(t, found, "Entries written with the previous codec should survive")
	assert.Equal(t, []byte("written with zstd"), value)
	value, found = readValue(t, reopened, "lz4")
	require.True(t, found)
	assert.Equal(t, []byte("written with lz4"), value)

	raw, err := os.ReadFile(filepath.Join(dir, journalFileName))
	require.NoError(t, err)
	assert.Contains(t, string(raw), "\nlz4\n\n", "The header should name the current codec")
}

func TestDiskStore_Compaction(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(dir, Options{Capacity: 1 << 20, CompactThreshold: 10})
	require.NoError(t, err)
	commitValue(t, store, "a", []byte("1"))
	commitValue(t, store, "b", []byte("22"))
	for range 20 {
		_, found := readValue(t, store, "a")
		require.True(t, found)
	}
	lines := journalLines(t, dir)
	assert.Less(t, len(lines), 12, "The journal should have been compacted")

	live, ok := store.Edit("c")
	require.True(t, ok)
	require.NoError(t, store.Compact())
	lines = journalLines(t, dir)
	assert.Equal(t, []string{"CLEAN b 2 2", "CLEAN a 1 1", "DIRTY c"}, lines,
		"Compaction keeps recency order and live editors")
	_, err = live.Write([]byte("333"))
	require.NoError(t, err)
	_, err = live.Commit()
	require.NoError(t, err)
	require.NoError(t, store.Close())

	reopened := openTestStore(t, dir, Options{})
	var keys []string
	for _, entry := range reopened.Entries() {
		keys = append(keys, entry.Key)
	}
	assert.Equal(t, []string{"b", "a", "c"}, keys)
}

func TestDiskStore_JournalFailureDisablesStore(t *testing.T) {
	store := openTestStore(t, t.TempDir(), Options{})
	commitValue(t, store, "resident", []byte("still readable"))
	live, found := store.Get("resident")
	require.True(t, found)
	defer live.Release()

	// Pull the journal file out from under the store so the next append fails.
	require.NoError(t, store.journal.file.Close())
	_, ok := store.Edit("new")
	assert.False(t, ok)
	assert.True(t, store.Disabled())
	_, ok = store.Edit("another")
	assert.False(t, ok, "A disabled store refuses every edit")
	assert.ErrorIs(t, store.Compact(), ErrStoreDisabled)

	got, err := live.Bytes()
	require.NoError(t, err)
	assert.Equal(t, []byte("still readable"), got)
	again, found := readValue(t, store, "resident")
	assert.True(t, found, "Resident content stays readable")
	assert.Equal(t, []byte("still readable"), again)
}

func TestDiskStore_CorruptContentIsDroppedOnRead(t *testing.T) {
	store := openTestStore(t, t.TempDir(), Options{Codec: CodecZstd})
	entry := commitValue(t, store, "k", bytes.Repeat([]byte("z"), 1000))
	path := filepath.Join(store.Dir(), contentFileName(keyHash("k"), entry.Version))
	// Keep the header intact but garble the compressed payload.
	file, err := os.OpenFile(path, os.O_WRONLY, 0)
	require.NoError(t, err)
	_, err = file.WriteAt([]byte("garbage!"), contentHeaderLen)
	require.NoError(t, err)
	require.NoError(t, file.Close())

	snapshot, found := store.Get("k")
	require.True(t, found)
	_, err = snapshot.Bytes()
	assert.ErrorIs(t, err, ErrCorruptEntry)
	snapshot.Release()
	assert.False(t, store.Contains("k"), "A corrupt entry should be dropped")
}

func TestDiskStore_CloseFailsLiveEditors(t *testing.T) {
	store := openTestStore(t, t.TempDir(), Options{})
	editor, ok := store.Edit("k")
	require.True(t, ok)
	_, err := editor.Write([]byte("never published"))
	require.NoError(t, err)
	require.NoError(t, store.Close())
	require.NoError(t, store.Close(), "Closing twice is a no-op")

	_, err = editor.Commit()
	assert.ErrorIs(t, err, ErrStoreClosed)
	_, ok = store.Edit("k")
	assert.False(t, ok)
	dirEntries, err := os.ReadDir(store.Dir())
	require.NoError(t, err)
	for _, dirEntry := range dirEntries {
		_, _, isContent := parseContentFileName(dirEntry.Name())
		assert.Falsef(t, isContent, "Content of a failed commit should be deleted, found %s", dirEntry.Name())
	}
}

func TestDiskStore_ConcurrentCommitsAndReads(t *testing.T) {
	store := openTestStore(t, t.TempDir(), Options{Codec: CodecLZ4})
	commitValue(t, store, "hot", []byte("read while others commit"))

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := range 20 {
				key := fmt.Sprintf("writer-%d-%d", i, j)
				editor, ok := store.Edit(key)
				if !assert.True(t, ok) {
					return
				}
				_, err := editor.Write([]byte(key))
				assert.NoError(t, err)
				_, err = editor.Commit()
				assert.NoError(t, err)
			}
		}()
		go func() {
			defer wg.Done()
			for range 20 {
				snapshot, found := store.Get("hot")
				if !assert.True(t, found) {
					return
				}
				value, err := snapshot.Bytes()
				snapshot.Release()
				assert.NoError(t, err)
				assert.Equal(t, []byte("read while others commit"), value)
			}
		}()
	}
	wg.Wait()

	for i := range 8 {
		for j := range 20 {
			key := fmt.Sprintf("writer-%d-%d", i, j)
			value, found := readValue(t, store, key)
			require.Truef(t, found, "Expected %q to be committed.", key)
			assert.Equal(t, []byte(key), value)
		}
	}
}
