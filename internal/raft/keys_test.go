package raft

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSortedKeys(t *testing.T) {
	m := map[uint64]string{3: "c", 1: "a", 2: "b"}

	assert.Equal(t, []uint64{1, 2, 3}, sortedKeys(m, nil))
	assert.Equal(t, []uint64{1, 3}, sortedKeys(m, func(k uint64) bool { return k == 2 }))
	assert.Empty(t, sortedKeys(map[string]int{}, nil))
	assert.Equal(t, []string{"a", "b"}, sortedKeys(map[string]int{"b": 1, "a": 2}, nil))
}
