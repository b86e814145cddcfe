package scan

import (
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatchGlob(t *testing.T) {
	keys := []string{"key1", "key2", "anotherkey", "album/42", "album/42/thumb", "album/7"}

	for _, testCase := range []struct {
		name     string
		glob     string
		expected []string
	}{
		{name: "match all top level", glob: "*", expected: []string{"key1", "key2", "anotherkey"}},
		{name: "match with ?", glob: "key?", expected: []string{"key1", "key2"}},
		{name: "match with * at the end", glob: "key*", expected: []string{"key1", "key2"}},
		{name: "match with * at the beginning", glob: "*key", expected: []string{"anotherkey"}},
		{name: "match with multiple *", glob: "*key*", expected: []string{"key1", "key2", "anotherkey"}},
		{name: "match one element", glob: "album/*", expected: []string{"album/42", "album/7"}},
		{name: "match recursively", glob: "album/...", expected: []string{"album/42", "album/42/thumb", "album/7"}},
		{name: "literal", glob: "album/42", expected: []string{"album/42"}},
		{name: "no match", glob: "nomatch", expected: nil},
	} {
		t.Run(testCase.name, func(t *testing.T) {
			seq, err := MatchGlob(testCase.glob, slices.Values(keys))
			require.NoError(t, err)
			assert.Equal(t, testCase.expected, slices.Collect(seq))
		})
	}
}

func TestMatchGlob_InvalidPattern(t *testing.T) {
	_, err := MatchGlob("[", slices.Values([]string{"a"}))
	assert.Error(t, err)
}

func TestMatchGlob_StopsEarly(t *testing.T) {
	seq, err := MatchGlob("*", slices.Values([]string{"a", "b", "c"}))
	require.NoError(t, err)
	var got []string
	for key := range seq {
		got = append(got, key)
		if len(got) == 2 {
			break
		}
	}
	assert.Equal(t, []string{"a", "b"}, got)
}
