// The journal is the durable source of truth of the disk store. It starts with a header and continues with one
// record per line:
//
//	artcache.journal
//	1                       <- journal format version
//	3                       <- application version; bumping it invalidates the cache
//	zstd                    <- codec used for new content files
//	                        <- blank line
//	DIRTY album%2F42        <- an edit started
//	CLEAN album%2F42 1024 7 <- the edit was committed as content file version 7 holding 1024 logical bytes
//	READ album%2F42         <- the entry was read; only used to restore recency
//	REMOVE album%2F42       <- the entry was removed, evicted, or its edit was aborted without a prior value
//
// Records are appended with a single write each. A line without its trailing newline was cut by a crash and is
// ignored on replay.

package storage

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/natefinch/atomic"
)

const (
	journalMagic         = "artcache.journal"
	journalFormatVersion = "1"
)

// opcode is the first token of a journal record.
type opcode string

const (
	opDirty  opcode = "DIRTY"
	opClean  opcode = "CLEAN"
	opRemove opcode = "REMOVE"
	opRead   opcode = "READ"
)

// journalRecord is a single parsed journal line. Size and version are only set for CLEAN records.
type journalRecord struct {
	op      opcode
	key     string
	size    int64
	version uint64
}

func dirtyRecord(key string) journalRecord  { return journalRecord{op: opDirty, key: key} }
func removeRecord(key string) journalRecord { return journalRecord{op: opRemove, key: key} }
func readRecord(key string) journalRecord   { return journalRecord{op: opRead, key: key} }
func cleanRecord(key string, size int64, version uint64) journalRecord {
	return journalRecord{op: opClean, key: key, size: size, version: version}
}

// line renders the record without its trailing newline.
func (r journalRecord) line() string {
	if r.op == opClean {
		return fmt.Sprintf("%s %s %d %d", r.op, escapeKey(r.key), r.size, r.version)
	}
	return fmt.Sprintf("%s %s", r.op, escapeKey(r.key))
}

// parseJournalRecord parses a journal line without its trailing newline.
func parseJournalRecord(line string) (journalRecord, error) {
	tokens := strings.Split(line, " ")
	if len(tokens) < 2 {
		return journalRecord{}, fmt.Errorf("expected at least two tokens in %q", line)
	}
	key, err := unescapeKey(tokens[1])
	if err != nil {
		return journalRecord{}, fmt.Errorf("failed to unescape key %q: %w", tokens[1], err)
	}
	if err := validateKey(key); err != nil {
		return journalRecord{}, err
	}
	record := journalRecord{op: opcode(tokens[0]), key: key}
	switch record.op {
	case opDirty, opRemove, opRead:
		if len(tokens) != 2 {
			return journalRecord{}, fmt.Errorf("expected two tokens in %s record %q", record.op, line)
		}
	case opClean:
		if len(tokens) != 4 {
			return journalRecord{}, fmt.Errorf("expected four tokens in CLEAN record %q", line)
		}
		if record.size, err = strconv.ParseInt(tokens[2], 10, 64); err != nil || record.size < 0 {
			return journalRecord{}, fmt.Errorf("invalid size in CLEAN record %q", line)
		}
		if record.version, err = strconv.ParseUint(tokens[3], 10, 64); err != nil {
			return journalRecord{}, fmt.Errorf("invalid version in CLEAN record %q", line)
		}
	default:
		return journalRecord{}, fmt.Errorf("unknown opcode in %q", line)
	}
	return record, nil
}

// journalHeader holds the values a journal has to agree with before its records are trusted. The codec only names
// how new content files are written; every content file records its own codec.
type journalHeader struct {
	appVersion int
	codec      Codec
}

// journalCodecLine is the index of the codec in the header lines.
const journalCodecLine = 3

func (h journalHeader) lines() []string {
	return []string{journalMagic, journalFormatVersion, strconv.Itoa(h.appVersion), h.codec.String(), ""}
}

// journalContents is the result of reading a journal file.
type journalContents struct {
	codec   Codec // The codec named by the header.
	records []journalRecord
	corrupt int // Number of lines that could not be parsed and were skipped.
}

// readJournal parses the journal at `path`. It returns an error wrapping errJournalHeader when the header does not
// match `expected`, and one wrapping os.ErrNotExist when there is no journal yet. The codec line may differ from the
// expected one as long as it names a known codec.
func readJournal(path string, expected journalHeader) (journalContents, error) {
	file, err := os.Open(path)
	if err != nil {
		return journalContents{}, err
	}
	defer func() { _ = file.Close() }()

	var contents journalContents
	reader := bufio.NewReader(file)
	for i, want := range expected.lines() {
		got, err := reader.ReadString('\n')
		if err != nil {
			return journalContents{}, fmt.Errorf("%w: header line %d is incomplete", errJournalHeader, i+1)
		}
		got = strings.TrimSuffix(got, "\n")
		if i == journalCodecLine {
			if contents.codec, err = ParseCodec(got); err != nil {
				return journalContents{}, fmt.Errorf("%w: %w", errJournalHeader, err)
			}
			continue
		}
		if got != want {
			return journalContents{}, fmt.Errorf("%w: header line %d is %q, expected %q", errJournalHeader, i+1, got, want)
		}
	}

	for {
		line, err := reader.ReadString('\n')
		if errors.Is(err, io.EOF) {
			if line != "" { // The last append was cut short.
				contents.corrupt++
			}
			return contents, nil
		}
		if err != nil {
			return contents, fmt.Errorf("failed to read journal %s: %w", path, err)
		}
		record, err := parseJournalRecord(strings.TrimSuffix(line, "\n"))
		if err != nil {
			contents.corrupt++
			continue
		}
		contents.records = append(contents.records, record)
	}
}

// journal appends records to an open journal file.
type journal struct {
	path string
	file *os.File
	sync bool // Whether every append is followed by an fsync.
}

// openJournal opens an existing journal for appending.
func openJournal(path string, sync bool) (*journal, error) {
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal %s: %w", path, err)
	}
	return &journal{path: path, file: file, sync: sync}, nil
}

// append writes `records` with a single write call.
func (j *journal) append(records ...journalRecord) error {
	var buf bytes.Buffer
	for _, record := range records {
		buf.WriteString(record.line())
		buf.WriteByte('\n')
	}
	if _, err := j.file.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("failed to append to journal %s: %w", j.path, err)
	}
	if j.sync {
		if err := j.file.Sync(); err != nil {
			return fmt.Errorf("failed to sync journal %s: %w", j.path, err)
		}
	}
	return nil
}

func (j *journal) flush() error {
	return j.file.Sync()
}

func (j *journal) close() error {
	return j.file.Close()
}

// rewriteJournal writes a fresh journal holding `header` and `records` into `dir`. The new journal is fully written
// and synced under a temporary name before it atomically replaces the old one, so a crash leaves either journal
// intact.
func rewriteJournal(dir string, header journalHeader, records []journalRecord) error {
	tmpPath := filepath.Join(dir, journalCompactFileName)
	file, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", tmpPath, err)
	}
	writer := bufio.NewWriter(file)
	for _, line := range header.lines() {
		_, _ = writer.WriteString(line)
		_ = writer.WriteByte('\n')
	}
	for _, record := range records {
		_, _ = writer.WriteString(record.line())
		_ = writer.WriteByte('\n')
	}
	err = writer.Flush()
	if err == nil {
		err = file.Sync()
	}
	if closeErr := file.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to write %s: %w", tmpPath, err)
	}
	if err := atomic.ReplaceFile(tmpPath, filepath.Join(dir, journalFileName)); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to replace journal: %w", err)
	}
	return nil
}
