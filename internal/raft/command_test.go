package raft

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommandSerialization(t *testing.T) {
	tests := []struct {
		name string
		cmd  Command
	}{
		{"noop", NoOpCommand()},
		{"set", SetCommand("user:1", "alice")},
		{"set empty value", SetCommand("k", "")},
		{"delete", DeleteCommand("user:1")},
		{"binary value", SetCommand("bin", "\x00\x01\xff")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := tt.cmd.Serialize()
			require.NoError(t, err)

			decoded, err := DeserializeCommand(data)
			require.NoError(t, err)
			assert.Equal(t, tt.cmd, decoded)
		})
	}
}

func TestCommandDeserializeErrors(t *testing.T) {
	_, err := DeserializeCommand(nil)
	assert.ErrorIs(t, err, ErrLogCorrupted)

	_, err = DeserializeCommand([]byte{9, 0, 0, 0, 0, 0, 0})
	assert.ErrorIs(t, err, ErrUnknownCommand)

	data, err := SetCommand("key", "value").Serialize()
	require.NoError(t, err)
	_, err = DeserializeCommand(data[:len(data)-2])
	assert.ErrorIs(t, err, ErrLogCorrupted)
}

func TestCommandKeyTooLong(t *testing.T) {
	_, err := SetCommand(strings.Repeat("k", 70000), "v").Serialize()
	assert.Error(t, err)
}

func TestCommandString(t *testing.T) {
	assert.Equal(t, "set(k=v)", SetCommand("k", "v").String())
	assert.Equal(t, "delete(k)", DeleteCommand("k").String())
	assert.Equal(t, "noop", NoOpCommand().String())
}

func TestKVStateMachine(t *testing.T) {
	sm := NewKVStateMachine()

	require.NoError(t, sm.Apply(SetCommand("b", "1")))
	require.NoError(t, sm.Apply(SetCommand("a", "2")))
	require.NoError(t, sm.Apply(SetCommand("b", "3")))
	require.NoError(t, sm.Apply(NoOpCommand()))

	v, ok := sm.Get("b")
	assert.True(t, ok)
	assert.Equal(t, "3", v)
	assert.Equal(t, 2, sm.Len())
	assert.Equal(t, []string{"a", "b"}, sm.Keys())

	require.NoError(t, sm.Apply(DeleteCommand("b")))
	require.NoError(t, sm.Apply(DeleteCommand("absent")))
	_, ok = sm.Get("b")
	assert.False(t, ok)
	assert.Equal(t, []string{"a"}, sm.Keys())

	assert.ErrorIs(t, sm.Apply(Command{Type: CommandType(42)}), ErrUnknownCommand)
}
