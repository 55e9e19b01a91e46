package raft

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildLog(terms ...uint64) *RaftLog {
	log := NewRaftLog()
	for i, term := range terms {
		log.Append(&LogEntry{Index: uint64(i + 1), Term: term, Command: SetCommand("k", "v")})
	}
	return log
}

func TestRaftLogSentinel(t *testing.T) {
	log := NewRaftLog()

	assert.Equal(t, 1, log.Len())
	assert.Equal(t, uint64(0), log.LastIndex())
	assert.Equal(t, uint64(0), log.LastTerm())

	entry, err := log.Get(0)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), entry.Term)

	log.TruncateFrom(0)
	assert.Equal(t, 1, log.Len(), "sentinel survives truncation")
}

func TestRaftLogAppendGet(t *testing.T) {
	log := buildLog(1, 1, 2)

	assert.Equal(t, uint64(3), log.LastIndex())
	assert.Equal(t, uint64(2), log.LastTerm())

	entry, err := log.Get(2)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), entry.Index)
	assert.Equal(t, uint64(1), entry.Term)

	_, err = log.Get(4)
	assert.ErrorIs(t, err, ErrLogIndexOutOfRange)
}

func TestRaftLogTermAt(t *testing.T) {
	log := buildLog(1, 2)

	assert.Equal(t, uint64(0), log.TermAt(0))
	assert.Equal(t, uint64(1), log.TermAt(1))
	assert.Equal(t, uint64(2), log.TermAt(2))
	assert.Equal(t, uint64(0), log.TermAt(3))
}

func TestRaftLogSlice(t *testing.T) {
	log := buildLog(1, 1, 1, 2, 2)

	tests := []struct {
		name  string
		index uint64
		max   int
		want  []uint64
	}{
		{"unbounded", 2, 0, []uint64{2, 3, 4, 5}},
		{"bounded", 2, 2, []uint64{2, 3}},
		{"bound past end", 4, 10, []uint64{4, 5}},
		{"at end", 6, 0, nil},
		{"past end", 9, 0, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got []uint64
			for _, e := range log.Slice(tt.index, tt.max) {
				got = append(got, e.Index)
			}
			assert.Equal(t, tt.want, got)
		})
	}

	t.Run("byte limit", func(t *testing.T) {
		frame := entryFrameSize(&LogEntry{Command: SetCommand("k", "v")})
		assert.Len(t, log.SliceLimit(1, 0, 2*frame), 2)
		assert.Len(t, log.SliceLimit(1, 1, 2*frame), 1)
		assert.Len(t, log.SliceLimit(1, 0, 1), 1)
		assert.Len(t, log.SliceLimit(1, 0, 0), 5)
	})

	// The returned slice does not alias the log.
	s := log.Slice(1, 0)
	s[0] = nil
	entry, err := log.Get(1)
	require.NoError(t, err)
	assert.NotNil(t, entry)
}

func TestRaftLogTruncateFrom(t *testing.T) {
	log := buildLog(1, 1, 2, 3)

	log.TruncateFrom(3)
	assert.Equal(t, uint64(2), log.LastIndex())
	assert.Equal(t, uint64(1), log.LastTerm())

	log.TruncateFrom(10)
	assert.Equal(t, uint64(2), log.LastIndex(), "truncating past the end is a no-op")

	log.Append(&LogEntry{Index: 3, Term: 4})
	assert.Equal(t, uint64(4), log.LastTerm())
}

func TestRaftLogTermSearch(t *testing.T) {
	log := buildLog(1, 1, 3, 3, 3, 5)

	assert.Equal(t, uint64(3), log.FirstIndexOfTerm(3, 5))
	assert.Equal(t, uint64(3), log.FirstIndexOfTerm(3, 4))
	assert.Equal(t, uint64(1), log.FirstIndexOfTerm(1, 2))
	assert.Equal(t, uint64(6), log.FirstIndexOfTerm(5, 100), "from is clamped to the last index")

	last, ok := log.LastIndexOfTerm(3)
	assert.True(t, ok)
	assert.Equal(t, uint64(5), last)

	last, ok = log.LastIndexOfTerm(1)
	assert.True(t, ok)
	assert.Equal(t, uint64(2), last)

	_, ok = log.LastIndexOfTerm(2)
	assert.False(t, ok)
	_, ok = log.LastIndexOfTerm(9)
	assert.False(t, ok)
}

func TestLogEntrySerialization(t *testing.T) {
	entry := &LogEntry{Index: 7, Term: 3, Command: SetCommand("key", "value")}

	data, err := entry.Serialize()
	require.NoError(t, err)

	decoded, err := DeserializeLogEntry(data)
	require.NoError(t, err)
	assert.Equal(t, entry, decoded)

	_, err = DeserializeLogEntry(data[:10])
	assert.ErrorIs(t, err, ErrLogCorrupted)
	_, err = DeserializeLogEntry(data[:len(data)-1])
	assert.ErrorIs(t, err, ErrLogCorrupted)
}
