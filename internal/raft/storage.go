package raft

import (
	"sync"
)

// Storage persists a node's PersistentState.
//
// Every method must be durable when it returns nil. A non-nil error is
// treated by the node as fatal.
type Storage interface {
	// Load returns the persisted state, or a fresh state with only the
	// sentinel entry when nothing has been persisted yet.
	Load() (*PersistentState, error)

	// SaveHardState persists currentTerm and votedFor.
	SaveHardState(term, votedFor uint64) error

	// Append persists entries at the end of the log. entries[0].Index is
	// always the current log length.
	Append(entries []*LogEntry) error

	// TruncateFrom discards every persisted entry at index and above.
	TruncateFrom(index uint64) error

	// Close releases underlying resources.
	Close() error
}

// MemoryStorage is a Storage kept in process memory. It survives a Node
// being rebuilt on top of it, which is enough to exercise restart paths in
// tests.
type MemoryStorage struct {
	term     uint64
	votedFor uint64
	entries  []*LogEntry // index 0 is the sentinel
	failErr  error
	mu       sync.Mutex
}

// NewMemoryStorage creates an empty in-memory storage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		entries: NewRaftLog().entries,
	}
}

// FailWith makes every subsequent write return err. Pass nil to recover.
func (s *MemoryStorage) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failErr = err
}

// Load returns a copy of the stored state.
func (s *MemoryStorage) Load() (*PersistentState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	log := NewRaftLog()
	for _, e := range s.entries[1:] {
		entry := *e
		log.Append(&entry)
	}
	return &PersistentState{
		CurrentTerm: s.term,
		VotedFor:    s.votedFor,
		Log:         log,
	}, nil
}

// SaveHardState stores term and votedFor.
func (s *MemoryStorage) SaveHardState(term, votedFor uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failErr != nil {
		return s.failErr
	}
	s.term = term
	s.votedFor = votedFor
	return nil
}

// Append stores entries.
func (s *MemoryStorage) Append(entries []*LogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failErr != nil {
		return s.failErr
	}
	for _, e := range entries {
		if e.Index != uint64(len(s.entries)) {
			return ErrLogIndexOutOfRange
		}
		entry := *e
		s.entries = append(s.entries, &entry)
	}
	return nil
}

// TruncateFrom drops entries at index and above.
func (s *MemoryStorage) TruncateFrom(index uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failErr != nil {
		return s.failErr
	}
	if index == 0 {
		index = 1
	}
	if index < uint64(len(s.entries)) {
		s.entries = s.entries[:index]
	}
	return nil
}

// HardState returns the stored term and vote.
func (s *MemoryStorage) HardState() (term, votedFor uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.term, s.votedFor
}

// LastIndex returns the index of the last stored entry.
func (s *MemoryStorage) LastIndex() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return uint64(len(s.entries) - 1)
}

// Close is a no-op.
func (s *MemoryStorage) Close() error {
	return nil
}
