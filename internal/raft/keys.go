package raft

import (
	"sort"

	"golang.org/x/exp/constraints"
)

// sortedKeys returns the keys of m in ascending order, leaving out any key
// for which skip reports true. skip may be nil.
func sortedKeys[K constraints.Ordered, V any](m map[K]V, skip func(K) bool) []K {
	keys := make([]K, 0, len(m))
	for k := range m {
		if skip != nil && skip(k) {
			continue
		}
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
