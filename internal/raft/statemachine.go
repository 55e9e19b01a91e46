package raft

import (
	"sync"
)

// StateMachine defines the interface for applying committed commands.
//
// Apply must be deterministic: every node applies the same commands in the
// same order and must end up in the same state.
type StateMachine interface {
	// Apply applies a committed command.
	Apply(cmd Command) error

	// Get returns the value stored under key.
	Get(key string) (string, bool)
}

// KVStateMachine is an in-memory key-value StateMachine.
type KVStateMachine struct {
	data map[string]string
	mu   sync.RWMutex
}

// NewKVStateMachine creates an empty key-value state machine.
func NewKVStateMachine() *KVStateMachine {
	return &KVStateMachine{data: make(map[string]string)}
}

// Apply applies a command. Deleting an absent key is not an error.
func (sm *KVStateMachine) Apply(cmd Command) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	switch cmd.Type {
	case CmdNoOp:
	case CmdSet:
		sm.data[cmd.Key] = cmd.Value
	case CmdDelete:
		delete(sm.data, cmd.Key)
	default:
		return ErrUnknownCommand
	}
	return nil
}

// Get returns the value stored under key.
func (sm *KVStateMachine) Get(key string) (string, bool) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	v, ok := sm.data[key]
	return v, ok
}

// Len returns the number of stored keys.
func (sm *KVStateMachine) Len() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return len(sm.data)
}

// Keys returns the stored keys in sorted order.
func (sm *KVStateMachine) Keys() []string {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	return sortedKeys(sm.data, nil)
}
