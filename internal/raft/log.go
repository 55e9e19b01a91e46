package raft

// LogEntry represents a single entry in the Raft log.
type LogEntry struct {
	Index   uint64  // Log index; 0 is the sentinel
	Term    uint64  // Term when entry was created
	Command Command // Replicated operation
}

// encodedSize is the length of Serialize's output.
func (e *LogEntry) encodedSize() int {
	return 20 + e.Command.encodedSize()
}

// Serialize encodes the log entry to bytes.
// Format: [Index:8][Term:8][CommandLen:4][Command:N]
func (e *LogEntry) Serialize() ([]byte, error) {
	cmd, err := e.Command.Serialize()
	if err != nil {
		return nil, err
	}

	enc := newEncoder(e.encodedSize())
	enc.putUint64(e.Index)
	enc.putUint64(e.Term)
	enc.putBytes(cmd)
	return enc.finish()
}

// DeserializeLogEntry decodes a log entry from bytes.
func DeserializeLogEntry(data []byte) (*LogEntry, error) {
	d := newDecoder(data)
	index, term, cmdData := d.uint64(), d.uint64(), d.bytes()
	if d.err != nil {
		return nil, d.err
	}

	cmd, err := DeserializeCommand(cmdData)
	if err != nil {
		return nil, err
	}
	return &LogEntry{Index: index, Term: term, Command: cmd}, nil
}

// RaftLog is the ordered sequence of log entries. Position i holds the entry
// with Index i; position 0 always holds the term-0 sentinel.
//
// RaftLog does no locking of its own: it is owned by a Node and only touched
// under the node's lock.
type RaftLog struct {
	entries []*LogEntry
}

// NewRaftLog creates a new Raft log with the sentinel entry at index 0.
func NewRaftLog() *RaftLog {
	return &RaftLog{
		entries: []*LogEntry{
			{Index: 0, Term: 0, Command: NoOpCommand()},
		},
	}
}

// Append adds entries to the end of the log.
func (l *RaftLog) Append(entries ...*LogEntry) {
	l.entries = append(l.entries, entries...)
}

// Get returns the entry at the given index.
func (l *RaftLog) Get(index uint64) (*LogEntry, error) {
	if index >= uint64(len(l.entries)) {
		return nil, ErrLogIndexOutOfRange
	}
	return l.entries[index], nil
}

// LastIndex returns the index of the last entry.
func (l *RaftLog) LastIndex() uint64 {
	return uint64(len(l.entries) - 1)
}

// LastTerm returns the term of the last entry.
func (l *RaftLog) LastTerm() uint64 {
	return l.entries[len(l.entries)-1].Term
}

// Slice returns up to max entries starting at index. A max of 0 means no limit.
// The returned slice is a copy and may be handed to another goroutine.
func (l *RaftLog) Slice(index uint64, max int) []*LogEntry {
	return l.SliceLimit(index, max, 0)
}

// SliceLimit is Slice with an additional budget on the entries' encoded
// size, as carried in AppendEntries. The first entry is always included so
// that a single large entry still makes progress. A maxBytes of 0 means no
// limit.
func (l *RaftLog) SliceLimit(index uint64, max, maxBytes int) []*LogEntry {
	if index >= uint64(len(l.entries)) {
		return nil
	}
	end := uint64(len(l.entries))
	if max > 0 && index+uint64(max) < end {
		end = index + uint64(max)
	}
	if maxBytes > 0 {
		size := 0
		for i := index; i < end; i++ {
			size += entryFrameSize(l.entries[i])
			if size > maxBytes && i > index {
				end = i
				break
			}
		}
	}
	out := make([]*LogEntry, end-index)
	copy(out, l.entries[index:end])
	return out
}

// TruncateFrom removes all entries from the given index onwards.
// The sentinel at index 0 is never removed.
func (l *RaftLog) TruncateFrom(index uint64) {
	if index == 0 {
		index = 1
	}
	if index < uint64(len(l.entries)) {
		for i := index; i < uint64(len(l.entries)); i++ {
			l.entries[i] = nil
		}
		l.entries = l.entries[:index]
	}
}

// Len returns the number of entries in the log, sentinel included.
func (l *RaftLog) Len() int {
	return len(l.entries)
}

// TermAt returns the term of the entry at the given index, or 0 when the
// index is beyond the end of the log.
func (l *RaftLog) TermAt(index uint64) uint64 {
	if index >= uint64(len(l.entries)) {
		return 0
	}
	return l.entries[index].Term
}

// FirstIndexOfTerm returns the lowest index at or below from whose entry has
// the given term. Used to build conflict hints.
func (l *RaftLog) FirstIndexOfTerm(term, from uint64) uint64 {
	if from >= uint64(len(l.entries)) {
		from = l.LastIndex()
	}
	i := from
	for i > 1 && l.entries[i-1].Term == term {
		i--
	}
	return i
}

// LastIndexOfTerm returns the highest index whose entry has the given term,
// and false if the log holds no entry of that term.
func (l *RaftLog) LastIndexOfTerm(term uint64) (uint64, bool) {
	for i := len(l.entries) - 1; i > 0; i-- {
		t := l.entries[i].Term
		if t == term {
			return uint64(i), true
		}
		if t < term {
			break
		}
	}
	return 0, false
}
