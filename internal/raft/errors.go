package raft

import "errors"

// Raft errors.
var (
	// ErrNotLeader is returned when a command is submitted to a non-leader node.
	ErrNotLeader = errors.New("raft: not the leader")

	// ErrLeaderUnknown accompanies ErrNotLeader when this node knows of no
	// current leader to redirect to.
	ErrLeaderUnknown = errors.New("raft: leader unknown")

	// ErrNodeFailed is returned by every operation after a durable write failed.
	// The node must not be used again; the process should exit and restart
	// from its persisted state.
	ErrNodeFailed = errors.New("raft: node failed")

	// ErrLogCorrupted is returned when log data or an RPC payload cannot be decoded.
	ErrLogCorrupted = errors.New("raft: log corrupted")

	// ErrLogIndexOutOfRange is returned when accessing an invalid log index.
	ErrLogIndexOutOfRange = errors.New("raft: log index out of range")

	// ErrCommittedTruncation is returned when a truncation would remove a committed entry.
	ErrCommittedTruncation = errors.New("raft: truncation of committed entry")

	// ErrUnknownCommand is returned when a command type is not recognised.
	ErrUnknownCommand = errors.New("raft: unknown command type")

	// ErrCommandTooLarge is returned when a submitted command exceeds
	// MaxKeySize or MaxValueSize. The node is unaffected.
	ErrCommandTooLarge = errors.New("raft: command too large")

	// ErrTransportClosed is returned when transport is closed.
	ErrTransportClosed = errors.New("raft: transport closed")

	// ErrConnectFailed is returned when connection to peer fails.
	ErrConnectFailed = errors.New("raft: connection failed")

	// ErrTimeout is returned when an operation times out.
	ErrTimeout = errors.New("raft: operation timeout")

	// ErrInvalidConfig is returned when configuration is invalid.
	ErrInvalidConfig = errors.New("raft: invalid configuration")
)
