package raft

import (
	"fmt"
	"math"
)

// Size limits for a submitted command. A command within them always fits in
// a single AppendEntries message.
const (
	MaxKeySize   = math.MaxUint16
	MaxValueSize = 16 * 1024 * 1024
)

// CommandType identifies the operation carried by a Command.
type CommandType uint8

// Command types understood by the key-value state machine.
const (
	CmdNoOp   CommandType = iota // No state change; used by the log sentinel and leader no-ops
	CmdSet                       // Upsert Key to Value
	CmdDelete                    // Remove Key if present
)

// String returns the string representation of a command type.
func (t CommandType) String() string {
	switch t {
	case CmdNoOp:
		return "noop"
	case CmdSet:
		return "set"
	case CmdDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// Command is a replicated state machine operation.
// Value is only meaningful for CmdSet.
type Command struct {
	Type  CommandType
	Key   string
	Value string
}

// NoOpCommand returns a command that leaves the state machine unchanged.
func NoOpCommand() Command {
	return Command{Type: CmdNoOp}
}

// SetCommand returns a command that stores value under key.
func SetCommand(key, value string) Command {
	return Command{Type: CmdSet, Key: key, Value: value}
}

// DeleteCommand returns a command that removes key.
func DeleteCommand(key string) Command {
	return Command{Type: CmdDelete, Key: key}
}

// String returns a short human-readable form, e.g. set(k=v).
func (c Command) String() string {
	switch c.Type {
	case CmdSet:
		return fmt.Sprintf("set(%s=%s)", c.Key, c.Value)
	case CmdDelete:
		return fmt.Sprintf("delete(%s)", c.Key)
	default:
		return c.Type.String()
	}
}

// Validate reports whether the command can be encoded and replicated.
func (c Command) Validate() error {
	if c.Type > CmdDelete {
		return fmt.Errorf("%w: %d", ErrUnknownCommand, c.Type)
	}
	if len(c.Key) > MaxKeySize {
		return fmt.Errorf("%w: key of %d bytes exceeds %d", ErrCommandTooLarge, len(c.Key), MaxKeySize)
	}
	if len(c.Value) > MaxValueSize {
		return fmt.Errorf("%w: value of %d bytes exceeds %d", ErrCommandTooLarge, len(c.Value), MaxValueSize)
	}
	return nil
}

// encodedSize is the length of Serialize's output.
func (c Command) encodedSize() int {
	return 7 + len(c.Key) + len(c.Value)
}

// Serialize encodes the command to bytes.
// Format: [Type:1][KeyLen:2][Key:N][ValueLen:4][Value:M]
func (c Command) Serialize() ([]byte, error) {
	e := newEncoder(c.encodedSize())
	e.putUint8(uint8(c.Type))
	e.putString(c.Key)
	e.putBytes([]byte(c.Value))
	return e.finish()
}

// DeserializeCommand decodes a command from bytes.
func DeserializeCommand(data []byte) (Command, error) {
	d := newDecoder(data)

	typ := CommandType(d.uint8())
	if d.err != nil {
		return Command{}, d.err
	}
	if typ > CmdDelete {
		return Command{}, fmt.Errorf("%w: %d", ErrUnknownCommand, typ)
	}

	cmd := Command{Type: typ, Key: d.string()}
	cmd.Value = string(d.bytes())
	if d.err != nil {
		return Command{}, d.err
	}
	return cmd, nil
}
