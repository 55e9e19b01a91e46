package raft

// RPC message types.
const (
	RPCRequestVote uint8 = iota
	RPCRequestVoteReply
	RPCAppendEntries
	RPCAppendEntriesReply
)

// Fixed encoded sizes.
const (
	requestVoteArgsSize     = 32
	requestVoteReplySize    = 9
	appendEntriesHeaderSize = 48
	appendEntriesReplySize  = 25
	minEncodedEntrySize     = 24
)

// RequestVoteArgs is sent by candidates to gather votes.
type RequestVoteArgs struct {
	Term         uint64 // Candidate's term
	CandidateID  uint64 // Candidate requesting vote
	LastLogIndex uint64 // Index of candidate's last log entry
	LastLogTerm  uint64 // Term of candidate's last log entry
}

// Serialize encodes RequestVoteArgs to bytes.
func (r *RequestVoteArgs) Serialize() []byte {
	e := newEncoder(requestVoteArgsSize)
	e.putUint64(r.Term)
	e.putUint64(r.CandidateID)
	e.putUint64(r.LastLogIndex)
	e.putUint64(r.LastLogTerm)
	return e.buf
}

// DeserializeRequestVoteArgs decodes RequestVoteArgs from bytes.
func DeserializeRequestVoteArgs(data []byte) (*RequestVoteArgs, error) {
	d := newDecoder(data)
	args := &RequestVoteArgs{
		Term:         d.uint64(),
		CandidateID:  d.uint64(),
		LastLogIndex: d.uint64(),
		LastLogTerm:  d.uint64(),
	}
	if d.err != nil {
		return nil, d.err
	}
	return args, nil
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (r *RequestVoteArgs) MarshalBinary() ([]byte, error) {
	return r.Serialize(), nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (r *RequestVoteArgs) UnmarshalBinary(data []byte) error {
	return unmarshalInto(r, data, DeserializeRequestVoteArgs)
}

// RequestVoteReply is the response to RequestVote.
type RequestVoteReply struct {
	Term        uint64 // Current term, for candidate to update itself
	VoteGranted bool   // True if candidate received vote
}

// Serialize encodes RequestVoteReply to bytes.
func (r *RequestVoteReply) Serialize() []byte {
	e := newEncoder(requestVoteReplySize)
	e.putUint64(r.Term)
	e.putBool(r.VoteGranted)
	return e.buf
}

// DeserializeRequestVoteReply decodes RequestVoteReply from bytes.
func DeserializeRequestVoteReply(data []byte) (*RequestVoteReply, error) {
	d := newDecoder(data)
	reply := &RequestVoteReply{Term: d.uint64(), VoteGranted: d.bool()}
	if d.err != nil {
		return nil, d.err
	}
	return reply, nil
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (r *RequestVoteReply) MarshalBinary() ([]byte, error) {
	return r.Serialize(), nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (r *RequestVoteReply) UnmarshalBinary(data []byte) error {
	return unmarshalInto(r, data, DeserializeRequestVoteReply)
}

// AppendEntriesArgs is sent by leader to replicate log entries.
type AppendEntriesArgs struct {
	Term         uint64      // Leader's term
	LeaderID     uint64      // So follower can redirect clients
	PrevLogIndex uint64      // Index of log entry immediately preceding new ones
	PrevLogTerm  uint64      // Term of prevLogIndex entry
	Entries      []*LogEntry // Log entries to store (empty for heartbeat)
	LeaderCommit uint64      // Leader's commitIndex
}

// maxBatchBytes bounds the entries of one AppendEntries so that, with the
// largest single command, the message stays under maxMessageSize.
const maxBatchBytes = maxMessageSize / 2

// entryFrameSize is the space e takes in an encoded AppendEntriesArgs.
func entryFrameSize(e *LogEntry) int {
	return 4 + e.encodedSize()
}

// Serialize encodes AppendEntriesArgs to bytes.
// Format: [Term][LeaderID][PrevLogIndex][PrevLogTerm][Count][LeaderCommit],
// eight bytes each, then Count length-prefixed entries.
func (a *AppendEntriesArgs) Serialize() ([]byte, error) {
	size := appendEntriesHeaderSize
	for _, entry := range a.Entries {
		size += entryFrameSize(entry)
	}
	e := newEncoder(size)
	e.putUint64(a.Term)
	e.putUint64(a.LeaderID)
	e.putUint64(a.PrevLogIndex)
	e.putUint64(a.PrevLogTerm)
	e.putUint64(uint64(len(a.Entries)))
	e.putUint64(a.LeaderCommit)

	for _, entry := range a.Entries {
		data, err := entry.Serialize()
		if err != nil {
			return nil, err
		}
		e.putBytes(data)
	}
	return e.finish()
}

// DeserializeAppendEntriesArgs decodes AppendEntriesArgs from bytes.
func DeserializeAppendEntriesArgs(data []byte) (*AppendEntriesArgs, error) {
	d := newDecoder(data)
	args := &AppendEntriesArgs{
		Term:         d.uint64(),
		LeaderID:     d.uint64(),
		PrevLogIndex: d.uint64(),
		PrevLogTerm:  d.uint64(),
	}
	count := d.uint64()
	args.LeaderCommit = d.uint64()
	if d.err != nil {
		return nil, d.err
	}

	if count > uint64(d.remaining()/minEncodedEntrySize) {
		return nil, ErrLogCorrupted
	}
	if count > 0 {
		args.Entries = make([]*LogEntry, 0, count)
	}
	for i := uint64(0); i < count; i++ {
		raw := d.bytes()
		if d.err != nil {
			return nil, d.err
		}
		entry, err := DeserializeLogEntry(raw)
		if err != nil {
			return nil, err
		}
		args.Entries = append(args.Entries, entry)
	}
	return args, nil
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (a *AppendEntriesArgs) MarshalBinary() ([]byte, error) {
	return a.Serialize()
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (a *AppendEntriesArgs) UnmarshalBinary(data []byte) error {
	return unmarshalInto(a, data, DeserializeAppendEntriesArgs)
}

// AppendEntriesReply is the response to AppendEntries.
//
// On rejection ConflictIndex is where the leader should resume: the
// follower's log length when prevLogIndex is missing, otherwise the first
// index of ConflictTerm in the follower's log.
type AppendEntriesReply struct {
	Term          uint64 // Current term, for leader to update itself
	Success       bool   // True if follower contained entry matching prevLogIndex/prevLogTerm
	ConflictTerm  uint64 // Term of conflicting entry, 0 when prevLogIndex was missing
	ConflictIndex uint64 // Hint for the leader's next nextIndex
}

// Serialize encodes AppendEntriesReply to bytes.
func (r *AppendEntriesReply) Serialize() []byte {
	e := newEncoder(appendEntriesReplySize)
	e.putUint64(r.Term)
	e.putBool(r.Success)
	e.putUint64(r.ConflictTerm)
	e.putUint64(r.ConflictIndex)
	return e.buf
}

// DeserializeAppendEntriesReply decodes AppendEntriesReply from bytes.
func DeserializeAppendEntriesReply(data []byte) (*AppendEntriesReply, error) {
	d := newDecoder(data)
	reply := &AppendEntriesReply{
		Term:          d.uint64(),
		Success:       d.bool(),
		ConflictTerm:  d.uint64(),
		ConflictIndex: d.uint64(),
	}
	if d.err != nil {
		return nil, d.err
	}
	return reply, nil
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (r *AppendEntriesReply) MarshalBinary() ([]byte, error) {
	return r.Serialize(), nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (r *AppendEntriesReply) UnmarshalBinary(data []byte) error {
	return unmarshalInto(r, data, DeserializeAppendEntriesReply)
}

func unmarshalInto[T any](dst *T, data []byte, decode func([]byte) (*T, error)) error {
	v, err := decode(data)
	if err != nil {
		return err
	}
	*dst = *v
	return nil
}
