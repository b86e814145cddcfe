// Nothing to see here in this module. Couldn't find a better place for Pair.

package utils

// Pair carries a key with its value, e.g. an evicted cache entry or a merged iteration item.
type Pair[K any, V any] struct {
	Key   K
	Value V
}

// MakePair builds a Pair without spelling out the type parameters.
func MakePair[K any, V any](key K, value V) Pair[K, V] {
	return Pair[K, V]{Key: key, Value: value}
}
