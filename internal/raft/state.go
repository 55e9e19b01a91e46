package raft

import (
	"fmt"
	"time"
)

// Node roles.
const (
	StateFollower uint8 = iota
	StateCandidate
	StateLeader
)

// StateString returns the string representation of a node role.
func StateString(state uint8) string {
	switch state {
	case StateFollower:
		return "follower"
	case StateCandidate:
		return "candidate"
	case StateLeader:
		return "leader"
	default:
		return "unknown"
	}
}

// NodeConfig holds configuration for a Raft node. It is fixed for the
// lifetime of the node.
type NodeConfig struct {
	ID                 uint64            // Unique, non-zero node ID
	Peers              map[uint64]string // Static cluster membership: node ID -> address; may include ID itself
	ElectionTimeoutMin time.Duration     // Lower bound of the randomized election timeout
	ElectionTimeoutMax time.Duration     // Upper bound of the randomized election timeout
	HeartbeatInterval  time.Duration     // Leader heartbeat period
	MaxEntriesPerRPC   int               // Cap on entries per AppendEntries; 0 means unlimited
	MaxBytesPerRPC     int               // Cap on encoded entry bytes per AppendEntries; 0 means maxBatchBytes
	RPCTimeout         time.Duration     // Per-call deadline for outbound RPCs
	LeaderNoOp         bool              // Append a no-op entry on winning an election
}

// DefaultNodeConfig returns default configuration.
func DefaultNodeConfig() *NodeConfig {
	return &NodeConfig{
		ElectionTimeoutMin: 150 * time.Millisecond,
		ElectionTimeoutMax: 300 * time.Millisecond,
		HeartbeatInterval:  50 * time.Millisecond,
		MaxEntriesPerRPC:   64,
		MaxBytesPerRPC:     1024 * 1024,
		RPCTimeout:         100 * time.Millisecond,
	}
}

// Validate checks if the configuration is valid.
func (c *NodeConfig) Validate() error {
	if c.ID == 0 {
		return fmt.Errorf("%w: node ID must be non-zero", ErrInvalidConfig)
	}
	for id := range c.Peers {
		if id == 0 {
			return fmt.Errorf("%w: peer ID must be non-zero", ErrInvalidConfig)
		}
	}
	if c.ElectionTimeoutMin <= 0 {
		return fmt.Errorf("%w: election timeout must be positive", ErrInvalidConfig)
	}
	if c.ElectionTimeoutMax < c.ElectionTimeoutMin {
		return fmt.Errorf("%w: election timeout max below min", ErrInvalidConfig)
	}
	if c.HeartbeatInterval <= 0 {
		return fmt.Errorf("%w: heartbeat interval must be positive", ErrInvalidConfig)
	}
	if c.HeartbeatInterval >= c.ElectionTimeoutMin {
		return fmt.Errorf("%w: heartbeat interval must be below election timeout", ErrInvalidConfig)
	}
	if c.MaxEntriesPerRPC < 0 {
		return fmt.Errorf("%w: max entries per RPC must not be negative", ErrInvalidConfig)
	}
	if c.MaxBytesPerRPC < 0 || c.MaxBytesPerRPC > maxBatchBytes {
		return fmt.Errorf("%w: max bytes per RPC must be between 0 and %d", ErrInvalidConfig, maxBatchBytes)
	}
	return nil
}

// PersistentState is the part of a node's state that must survive restarts.
// It is written through Storage before any reply that depends on it leaves
// the node.
type PersistentState struct {
	CurrentTerm uint64
	VotedFor    uint64 // 0 means not voted in CurrentTerm
	Log         *RaftLog
}

// NewPersistentState returns the state of a node that has never run.
func NewPersistentState() *PersistentState {
	return &PersistentState{Log: NewRaftLog()}
}

// VolatileState is rebuilt after every restart.
type VolatileState struct {
	CommitIndex uint64
	LastApplied uint64

	// Leader only; reinitialized after every election win.
	NextIndex  map[uint64]uint64 // peer ID -> next log index to send
	MatchIndex map[uint64]uint64 // peer ID -> highest index known replicated
}

// NewVolatileState returns zeroed volatile state.
func NewVolatileState() *VolatileState {
	return &VolatileState{
		NextIndex:  make(map[uint64]uint64),
		MatchIndex: make(map[uint64]uint64),
	}
}

// resetLeaderState initializes nextIndex and matchIndex for a fresh term of
// leadership.
func (v *VolatileState) resetLeaderState(peers []uint64, logLen uint64) {
	v.NextIndex = make(map[uint64]uint64, len(peers))
	v.MatchIndex = make(map[uint64]uint64, len(peers))
	for _, id := range peers {
		v.NextIndex[id] = logLen
		v.MatchIndex[id] = 0
	}
}

// Status is a point-in-time snapshot of a node's state.
type Status struct {
	ID          uint64
	State       string
	Term        uint64
	VotedFor    uint64
	LeaderID    uint64
	CommitIndex uint64
	LastApplied uint64
	LastIndex   uint64
	LastTerm    uint64
}
