// KEYS and coordinator scans filter cached keys with glob patterns. Keys are matched element by element, where
// elements are separated by '/', so `album/*` matches `album/42` but not `album/42/thumb`; a trailing `...` matches
// any number of remaining elements.

package scan

import (
	"fmt"
	"iter"
	"strings"

	"v.io/v23/glob"
)

// MatchGlob filters `keys` with the given glob `pattern`.
func MatchGlob(pattern string, keys iter.Seq[string]) (iter.Seq[string], error) {
	parsedPattern, err := glob.Parse(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid glob pattern %q: %w", pattern, err)
	}
	return func(yield func(string) bool) {
		for key := range keys {
			if matchElements(parsedPattern, strings.Split(key, "/")) {
				if !yield(key) {
					return
				}
			}
		}
	}, nil
}

// matchElements reports whether the path elements of a key match `pattern`.
func matchElements(pattern *glob.Glob, elements []string) bool {
	for _, element := range elements {
		if pattern.Len() == 0 { // Pattern is exhausted; only a recursive tail accepts more elements.
			return pattern.Recursive()
		}
		if !pattern.Head().Match(element) {
			return false
		}
		pattern = pattern.Tail()
	}
	return pattern.Len() == 0
}
