// Keys are arbitrary strings, so the store never uses them verbatim on disk:
//   - In the journal a key is percent-escaped, which keeps every record on one line with space separated tokens.
//   - Content files are named after the xxhash of the key plus the version of the commit that wrote them, e.g.
//     `9f2a4c1b00e3d7a8.17`. Versions are unique per store, so two keys sharing a hash never share a file.
//   - An open edit writes `<hash>.<version>.tmp`; recovery deletes every temp file it finds.

package storage

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

const (
	journalFileName        = "journal"
	journalCompactFileName = "journal.tmp"
	tempFileSuffix         = ".tmp"
)

// escapeKey makes `key` a single journal token.
func escapeKey(key string) string {
	return url.PathEscape(key)
}

// unescapeKey reverses escapeKey.
func unescapeKey(token string) (string, error) {
	return url.PathUnescape(token)
}

// validateKey rejects keys the store can not address.
func validateKey(key string) error {
	if key == "" {
		return fmt.Errorf("%w: empty key", ErrInvalidKey)
	}
	return nil
}

// keyHash returns the file name stem of `key`.
func keyHash(key string) string {
	return fmt.Sprintf("%016x", xxhash.Sum64String(key))
}

// contentFileName returns the name of the content file written by commit `version` of the key with hash `hash`.
func contentFileName(hash string, version uint64) string {
	return hash + "." + strconv.FormatUint(version, 10)
}

// tempFileName returns the name of the temp file an edit writes before it is committed as `version`.
func tempFileName(hash string, version uint64) string {
	return contentFileName(hash, version) + tempFileSuffix
}

// parseContentFileName reports whether `name` looks like a file written by the store and extracts its version.
func parseContentFileName(name string) (version uint64, temp bool, ok bool) {
	if trimmed, found := strings.CutSuffix(name, tempFileSuffix); found {
		name, temp = trimmed, true
	}
	hash, versionToken, found := strings.Cut(name, ".")
	if !found || len(hash) != 16 {
		return 0, false, false
	}
	if _, err := strconv.ParseUint(hash, 16, 64); err != nil {
		return 0, false, false
	}
	version, err := strconv.ParseUint(versionToken, 10, 64)
	if err != nil {
		return 0, false, false
	}
	return version, temp, true
}
