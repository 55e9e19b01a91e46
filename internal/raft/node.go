package raft

import (
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/KilimcininKorOglu/raftkv/internal/logging"
)

// ApplyFunc is called, under the node lock, after each committed entry has
// been applied to the state machine. It must not call back into the Node.
type ApplyFunc func(index, term uint64)

// Node represents a Raft node in the cluster.
//
// All state is guarded by one mutex. Timers advance only through Tick; RPC
// handlers and replies are independent events serialized by the same lock.
// Outbound RPCs are sent after the lock is released.
type Node struct {
	// Configuration
	id     uint64
	config NodeConfig
	peers  []uint64 // sorted, self excluded

	// State
	persistent *PersistentState
	volatile   *VolatileState
	role       uint8
	leaderID   uint64
	votes      map[uint64]bool // granted votes while candidate, self included

	// Timing
	started           bool
	lastTick          time.Time
	electionDeadline  time.Time
	heartbeatDeadline time.Time
	rand              *rand.Rand

	// Components
	storage      Storage
	stateMachine StateMachine
	transport    Transport
	logger       logging.Logger
	onApply      ApplyFunc

	// dispatch runs an outbound RPC; goroutine per call unless replaced in tests.
	dispatch func(task func())

	// Set once a durable write fails; every later call returns it.
	fatalErr error

	// Status
	running int32

	mu sync.Mutex
}

// NewNode creates a Raft node and loads its persistent state from storage.
func NewNode(cfg *NodeConfig, sm StateMachine, transport Transport, storage Storage) (*Node, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if storage == nil {
		storage = NewMemoryStorage()
	}
	if sm == nil {
		sm = NewKVStateMachine()
	}

	persistent, err := storage.Load()
	if err != nil {
		return nil, fmt.Errorf("raft: load persistent state: %w", err)
	}

	n := &Node{
		id:           cfg.ID,
		config:       *cfg,
		persistent:   persistent,
		volatile:     NewVolatileState(),
		role:         StateFollower,
		rand:         rand.New(rand.NewSource(time.Now().UnixNano() ^ int64(cfg.ID))),
		storage:      storage,
		stateMachine: sm,
		transport:    transport,
		logger:       logging.NewNop(),
		dispatch:     func(task func()) { go task() },
	}

	n.peers = sortedKeys(cfg.Peers, func(id uint64) bool { return id == cfg.ID })

	n.resetElectionTimer()

	return n, nil
}

// SetLogger sets the logger for the node. Records carry a node field;
// records about elections, leadership and log repair also carry term.
func (n *Node) SetLogger(logger logging.Logger) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.logger = logger.WithFields("node", n.id)
}

// SetApplyFunc registers a callback invoked after each applied entry.
func (n *Node) SetApplyFunc(fn ApplyFunc) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.onApply = fn
}

// ID returns the node's ID.
func (n *Node) ID() uint64 {
	return n.id
}

// Peers returns the IDs of the other cluster members.
func (n *Node) Peers() []uint64 {
	out := make([]uint64, len(n.peers))
	copy(out, n.peers)
	return out
}

// State returns the current role (StateFollower, StateCandidate, StateLeader).
func (n *Node) State() uint8 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.role
}

// IsLeader returns true if this node believes it is the leader.
func (n *Node) IsLeader() bool {
	return n.State() == StateLeader
}

// Term returns the current term.
func (n *Node) Term() uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.persistent.CurrentTerm
}

// LeaderID returns the current leader's ID (0 if unknown).
func (n *Node) LeaderID() uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.leaderID
}

// LeaderAddr returns the address of the current leader, if known.
func (n *Node) LeaderAddr() (string, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.leaderID == 0 {
		return "", false
	}
	addr, ok := n.config.Peers[n.leaderID]
	return addr, ok
}

// CommitIndex returns the commit index.
func (n *Node) CommitIndex() uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.volatile.CommitIndex
}

// LastApplied returns the last applied index.
func (n *Node) LastApplied() uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.volatile.LastApplied
}

// GetValue reads key from the local state machine. On a follower the value
// may be stale.
func (n *Node) GetValue(key string) (string, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.stateMachine.Get(key)
}

// Err returns the fatal error that stopped the node, or nil.
func (n *Node) Err() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.fatalErr
}

// Status returns a snapshot of the node's state.
func (n *Node) Status() Status {
	n.mu.Lock()
	defer n.mu.Unlock()
	return Status{
		ID:          n.id,
		State:       StateString(n.role),
		Term:        n.persistent.CurrentTerm,
		VotedFor:    n.persistent.VotedFor,
		LeaderID:    n.leaderID,
		CommitIndex: n.volatile.CommitIndex,
		LastApplied: n.volatile.LastApplied,
		LastIndex:   n.persistent.Log.LastIndex(),
		LastTerm:    n.persistent.Log.LastTerm(),
	}
}

// Start registers the node's RPC handler with the transport.
func (n *Node) Start() error {
	if !atomic.CompareAndSwapInt32(&n.running, 0, 1) {
		return nil // Already running
	}

	if n.transport != nil {
		if err := n.transport.Listen(n.handleRPC); err != nil {
			atomic.StoreInt32(&n.running, 0)
			return err
		}
	}
	n.logger.Info("raft node started", "term", n.Term(), "peers", len(n.peers))
	return nil
}

// Stop closes the transport.
func (n *Node) Stop() {
	if !atomic.CompareAndSwapInt32(&n.running, 1, 0) {
		return // Not running
	}
	if n.transport != nil {
		n.transport.Close()
	}
}

// Tick advances the node's timers to now. It is the only place elections
// start and heartbeats are sent; callers invoke it at a fixed cadence.
func (n *Node) Tick(now time.Time) error {
	n.mu.Lock()

	if n.fatalErr != nil {
		n.mu.Unlock()
		return n.fatalErr
	}

	if now.After(n.lastTick) {
		n.lastTick = now
	}

	if !n.started {
		// Timers are measured from the first observed time.
		n.started = true
		n.resetElectionTimer()
		n.mu.Unlock()
		return nil
	}

	var out []outbound
	var err error

	if n.role == StateLeader {
		if !n.lastTick.Before(n.heartbeatDeadline) {
			out = n.replicationRound()
			n.heartbeatDeadline = n.lastTick.Add(n.config.HeartbeatInterval)
		}
	} else if !n.lastTick.Before(n.electionDeadline) {
		out, err = n.startElection()
	}

	n.mu.Unlock()
	n.send(out)
	return err
}

// SubmitCommand appends cmd to the leader's log and starts replicating it.
// It returns the entry's index without waiting for commitment; callers
// observe commitment through CommitIndex/LastApplied.
func (n *Node) SubmitCommand(cmd Command) (uint64, error) {
	index, _, err := n.Propose(cmd)
	return index, err
}

// Propose is SubmitCommand that also returns the term the entry was
// appended in. An entry applied at index with a different term means the
// proposal was lost to a leadership change.
func (n *Node) Propose(cmd Command) (uint64, uint64, error) {
	if err := cmd.Validate(); err != nil {
		return 0, 0, err
	}

	n.mu.Lock()

	if n.fatalErr != nil {
		n.mu.Unlock()
		return 0, 0, n.fatalErr
	}
	if n.role != StateLeader {
		leader := n.leaderID
		n.mu.Unlock()
		if leader == 0 {
			return 0, 0, fmt.Errorf("%w: %w", ErrNotLeader, ErrLeaderUnknown)
		}
		return 0, 0, ErrNotLeader
	}

	entry := &LogEntry{
		Index:   uint64(n.persistent.Log.Len()),
		Term:    n.persistent.CurrentTerm,
		Command: cmd,
	}
	if err := n.appendEntries([]*LogEntry{entry}); err != nil {
		n.mu.Unlock()
		return 0, 0, err
	}

	// Single node cluster commits immediately.
	n.advanceCommitIndex()
	n.applyCommitted()

	out := n.replicationRound()
	n.mu.Unlock()

	n.send(out)
	return entry.Index, entry.Term, nil
}

// EntryTerm returns the term of the log entry at index.
func (n *Node) EntryTerm(index uint64) (uint64, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if index >= uint64(n.persistent.Log.Len()) {
		return 0, false
	}
	return n.persistent.Log.TermAt(index), true
}

// HandleRequestVote processes a RequestVote RPC. The returned reply is only
// valid when err is nil; a non-nil error is fatal for the node.
func (n *Node) HandleRequestVote(args *RequestVoteArgs) (*RequestVoteReply, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.fatalErr != nil {
		return nil, n.fatalErr
	}

	reply := &RequestVoteReply{Term: n.persistent.CurrentTerm}

	// Reply false if term < currentTerm
	if args.Term < n.persistent.CurrentTerm {
		n.logger.Debug("rejecting stale vote request", "candidate", args.CandidateID, "term", args.Term)
		return reply, nil
	}

	// Update term if needed
	if args.Term > n.persistent.CurrentTerm {
		if err := n.stepDown(args.Term); err != nil {
			return nil, err
		}
		reply.Term = n.persistent.CurrentTerm
	}

	votedFor := n.persistent.VotedFor
	if votedFor != 0 && votedFor != args.CandidateID {
		n.logger.Debug("vote already cast", "candidate", args.CandidateID, "votedFor", votedFor, "term", args.Term)
		return reply, nil
	}

	// Check if candidate's log is at least as up-to-date as ours
	lastLogIndex := n.persistent.Log.LastIndex()
	lastLogTerm := n.persistent.Log.LastTerm()
	if args.LastLogTerm < lastLogTerm ||
		(args.LastLogTerm == lastLogTerm && args.LastLogIndex < lastLogIndex) {
		n.logger.Debug("candidate log behind", "candidate", args.CandidateID,
			"lastLogIndex", args.LastLogIndex, "lastLogTerm", args.LastLogTerm)
		return reply, nil
	}

	if votedFor != args.CandidateID {
		if err := n.persistHardState(n.persistent.CurrentTerm, args.CandidateID); err != nil {
			return nil, err
		}
		n.persistent.VotedFor = args.CandidateID
	}
	reply.VoteGranted = true
	n.resetElectionTimer()
	n.logger.Info("granted vote", "candidate", args.CandidateID, "term", args.Term)

	return reply, nil
}

// HandleAppendEntries processes an AppendEntries RPC. The returned reply is
// only valid when err is nil; a non-nil error is fatal for the node.
func (n *Node) HandleAppendEntries(args *AppendEntriesArgs) (*AppendEntriesReply, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.fatalErr != nil {
		return nil, n.fatalErr
	}

	reply := &AppendEntriesReply{Term: n.persistent.CurrentTerm}

	// Reply false if term < currentTerm
	if args.Term < n.persistent.CurrentTerm {
		n.logger.Debug("rejecting stale append entries", "leader", args.LeaderID, "term", args.Term)
		return reply, nil
	}

	// A valid leader exists for args.Term
	if args.Term > n.persistent.CurrentTerm || n.role != StateFollower {
		if err := n.stepDown(args.Term); err != nil {
			return nil, err
		}
		reply.Term = n.persistent.CurrentTerm
	}
	if n.leaderID != args.LeaderID {
		n.logger.Info("following leader", "leader", args.LeaderID, "term", args.Term)
	}
	n.leaderID = args.LeaderID
	n.resetElectionTimer()

	log := n.persistent.Log

	// Missing entry at prevLogIndex
	if args.PrevLogIndex >= uint64(log.Len()) {
		reply.ConflictIndex = uint64(log.Len())
		return reply, nil
	}

	// Term mismatch at prevLogIndex: cut the divergent suffix now
	if localTerm := log.TermAt(args.PrevLogIndex); localTerm != args.PrevLogTerm {
		reply.ConflictTerm = localTerm
		reply.ConflictIndex = log.FirstIndexOfTerm(localTerm, args.PrevLogIndex)
		if err := n.truncateLog(args.PrevLogIndex); err != nil {
			return nil, err
		}
		return reply, nil
	}

	for i, e := range args.Entries {
		idx := args.PrevLogIndex + uint64(i) + 1
		if idx < uint64(log.Len()) {
			if log.TermAt(idx) == e.Term {
				continue // already have it
			}
			if err := n.truncateLog(idx); err != nil {
				return nil, err
			}
		}

		suffix := make([]*LogEntry, 0, len(args.Entries)-i)
		for j, src := range args.Entries[i:] {
			suffix = append(suffix, &LogEntry{Index: idx + uint64(j), Term: src.Term, Command: src.Command})
		}
		if err := n.appendEntries(suffix); err != nil {
			return nil, err
		}
		break
	}

	lastNew := args.PrevLogIndex + uint64(len(args.Entries))
	if args.LeaderCommit > n.volatile.CommitIndex {
		commit := min(args.LeaderCommit, lastNew)
		if commit > n.volatile.CommitIndex {
			n.volatile.CommitIndex = commit
			n.applyCommitted()
		}
	}

	reply.Success = true
	return reply, nil
}

// handleRPC is the transport-facing entry point. A nil response means the
// request was not answered.
func (n *Node) handleRPC(msgType uint8, data []byte) []byte {
	switch msgType {
	case RPCRequestVote:
		args, err := DeserializeRequestVoteArgs(data)
		if err != nil {
			n.logger.Warn("malformed vote request", "error", err)
			return nil
		}
		reply, err := n.HandleRequestVote(args)
		if err != nil {
			return nil
		}
		return reply.Serialize()
	case RPCAppendEntries:
		args, err := DeserializeAppendEntriesArgs(data)
		if err != nil {
			n.logger.Warn("malformed append entries", "error", err)
			return nil
		}
		reply, err := n.HandleAppendEntries(args)
		if err != nil {
			return nil
		}
		return reply.Serialize()
	default:
		return nil
	}
}

// startElection turns the node into a candidate for the next term.
func (n *Node) startElection() ([]outbound, error) {
	term := n.persistent.CurrentTerm + 1
	if err := n.persistHardState(term, n.id); err != nil {
		return nil, err
	}
	n.persistent.CurrentTerm = term
	n.persistent.VotedFor = n.id
	n.role = StateCandidate
	n.leaderID = 0
	n.votes = map[uint64]bool{n.id: true}
	n.resetElectionTimer()

	n.logger.Info("starting election", "term", term)

	if len(n.votes) >= n.quorum() {
		return n.becomeLeader()
	}

	args := &RequestVoteArgs{
		Term:         term,
		CandidateID:  n.id,
		LastLogIndex: n.persistent.Log.LastIndex(),
		LastLogTerm:  n.persistent.Log.LastTerm(),
	}
	out := make([]outbound, 0, len(n.peers))
	for _, peer := range n.peers {
		out = append(out, outbound{peer: peer, voteArgs: args})
	}
	return out, nil
}

// handleRequestVoteReply counts a vote for the election that sent args.
func (n *Node) handleRequestVoteReply(peer uint64, args *RequestVoteArgs, reply *RequestVoteReply) {
	n.mu.Lock()

	if n.fatalErr != nil {
		n.mu.Unlock()
		return
	}

	if reply.Term > n.persistent.CurrentTerm {
		n.stepDown(reply.Term)
		n.mu.Unlock()
		return
	}

	// Stale reply: election already decided or superseded
	if n.role != StateCandidate || args.Term != n.persistent.CurrentTerm || !reply.VoteGranted {
		n.mu.Unlock()
		return
	}

	n.votes[peer] = true
	var out []outbound
	if len(n.votes) >= n.quorum() {
		out, _ = n.becomeLeader()
	}
	n.mu.Unlock()

	n.send(out)
}

// becomeLeader takes leadership of the current term and returns the initial
// heartbeat round.
func (n *Node) becomeLeader() ([]outbound, error) {
	n.role = StateLeader
	n.leaderID = n.id
	n.votes = nil
	n.volatile.resetLeaderState(n.peers, uint64(n.persistent.Log.Len()))

	n.logger.Info("became leader", "term", n.persistent.CurrentTerm)

	if n.config.LeaderNoOp {
		entry := &LogEntry{
			Index:   uint64(n.persistent.Log.Len()),
			Term:    n.persistent.CurrentTerm,
			Command: NoOpCommand(),
		}
		if err := n.appendEntries([]*LogEntry{entry}); err != nil {
			return nil, err
		}
	}

	n.advanceCommitIndex()
	n.applyCommitted()

	n.heartbeatDeadline = n.lastTick.Add(n.config.HeartbeatInterval)
	return n.replicationRound(), nil
}

// stepDown reverts to follower, adopting term if it is newer.
func (n *Node) stepDown(term uint64) error {
	if term > n.persistent.CurrentTerm {
		if err := n.persistHardState(term, 0); err != nil {
			return err
		}
		n.persistent.CurrentTerm = term
		n.persistent.VotedFor = 0
		n.leaderID = 0
	}
	if n.role != StateFollower {
		n.logger.Info("stepping down", "from", StateString(n.role), "term", n.persistent.CurrentTerm)
		if n.role == StateLeader {
			n.resetElectionTimer()
		}
		n.role = StateFollower
		n.votes = nil
	}
	return nil
}

// quorum is the number of nodes, self included, that form a majority.
func (n *Node) quorum() int {
	return (len(n.peers)+1)/2 + 1
}

func (n *Node) resetElectionTimer() {
	n.electionDeadline = n.lastTick.Add(n.randomElectionTimeout())
}

func (n *Node) randomElectionTimeout() time.Duration {
	spread := n.config.ElectionTimeoutMax - n.config.ElectionTimeoutMin
	if spread <= 0 {
		return n.config.ElectionTimeoutMin
	}
	return n.config.ElectionTimeoutMin + time.Duration(n.rand.Int63n(int64(spread)+1))
}

// persistHardState writes term and vote through storage. A failure marks
// the node failed.
func (n *Node) persistHardState(term, votedFor uint64) error {
	if err := n.storage.SaveHardState(term, votedFor); err != nil {
		return n.fail(fmt.Errorf("persist hard state: %w", err))
	}
	return nil
}

// appendEntries persists entries and then appends them to the in-memory log.
func (n *Node) appendEntries(entries []*LogEntry) error {
	if err := n.storage.Append(entries); err != nil {
		return n.fail(fmt.Errorf("persist log append: %w", err))
	}
	n.persistent.Log.Append(entries...)
	return nil
}

// truncateLog removes entries at index and above. Committed entries are
// never removed.
func (n *Node) truncateLog(index uint64) error {
	if index >= uint64(n.persistent.Log.Len()) {
		return nil
	}
	if index <= n.volatile.CommitIndex {
		n.logger.Error("refusing to truncate committed entry", "index", index, "commitIndex", n.volatile.CommitIndex, "term", n.persistent.CurrentTerm)
		return n.fail(fmt.Errorf("%w: index %d, commit index %d", ErrCommittedTruncation, index, n.volatile.CommitIndex))
	}
	if err := n.storage.TruncateFrom(index); err != nil {
		return n.fail(fmt.Errorf("persist log truncate: %w", err))
	}
	n.persistent.Log.TruncateFrom(index)
	n.logger.Info("truncated log", "from", index, "term", n.persistent.CurrentTerm)
	return nil
}

// fail records a fatal error. The node refuses all further work.
func (n *Node) fail(err error) error {
	if n.fatalErr == nil {
		n.fatalErr = fmt.Errorf("%w: %v", ErrNodeFailed, err)
		n.logger.Error("raft node failed", "term", n.persistent.CurrentTerm, "error", err)
	}
	return n.fatalErr
}
