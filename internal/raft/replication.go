package raft

import (
	"context"
)

// outbound is one RPC produced under the node lock and sent after it is
// released. Exactly one of voteArgs and appendArgs is set.
type outbound struct {
	peer       uint64
	voteArgs   *RequestVoteArgs
	appendArgs *AppendEntriesArgs
}

// send dispatches outbound RPCs. Must be called without holding n.mu.
func (n *Node) send(out []outbound) {
	for _, o := range out {
		o := o
		n.dispatch(func() { n.deliver(o) })
	}
}

// deliver performs one RPC and feeds the reply back into the node as a new
// event. Transport errors are treated as message loss.
func (n *Node) deliver(o outbound) {
	if n.transport == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), n.config.RPCTimeout)
	defer cancel()

	switch {
	case o.voteArgs != nil:
		resp, err := n.transport.Send(ctx, o.peer, RPCRequestVote, o.voteArgs.Serialize())
		if err != nil {
			n.logger.Debug("vote request lost", "peer", o.peer, "error", err)
			return
		}
		reply, err := DeserializeRequestVoteReply(resp)
		if err != nil {
			n.logger.Debug("bad vote reply", "peer", o.peer, "error", err)
			return
		}
		n.handleRequestVoteReply(o.peer, o.voteArgs, reply)

	case o.appendArgs != nil:
		data, err := o.appendArgs.Serialize()
		if err != nil {
			n.logger.Error("encode append entries", "peer", o.peer, "error", err)
			return
		}
		resp, err := n.transport.Send(ctx, o.peer, RPCAppendEntries, data)
		if err != nil {
			n.logger.Debug("append entries lost", "peer", o.peer, "error", err)
			return
		}
		reply, err := DeserializeAppendEntriesReply(resp)
		if err != nil {
			n.logger.Debug("bad append entries reply", "peer", o.peer, "error", err)
			return
		}
		n.handleAppendEntriesReply(o.peer, o.appendArgs, reply)
	}
}

// replicationRound builds one AppendEntries per peer from its nextIndex.
// An up-to-date peer gets an empty heartbeat.
func (n *Node) replicationRound() []outbound {
	if n.role != StateLeader {
		return nil
	}

	out := make([]outbound, 0, len(n.peers))
	for _, peer := range n.peers {
		out = append(out, outbound{peer: peer, appendArgs: n.appendEntriesFor(peer)})
	}
	return out
}

func (n *Node) appendEntriesFor(peer uint64) *AppendEntriesArgs {
	log := n.persistent.Log

	next := n.volatile.NextIndex[peer]
	if next == 0 {
		next = 1
	}
	if next > uint64(log.Len()) {
		next = uint64(log.Len())
	}
	prev := next - 1

	return &AppendEntriesArgs{
		Term:         n.persistent.CurrentTerm,
		LeaderID:     n.id,
		PrevLogIndex: prev,
		PrevLogTerm:  log.TermAt(prev),
		Entries:      log.SliceLimit(next, n.config.MaxEntriesPerRPC, n.batchBytes()),
		LeaderCommit: n.volatile.CommitIndex,
	}
}

func (n *Node) batchBytes() int {
	if n.config.MaxBytesPerRPC == 0 {
		return maxBatchBytes
	}
	return n.config.MaxBytesPerRPC
}

// handleAppendEntriesReply updates a follower's progress from the reply to
// args. Replies from an earlier term or role are ignored.
func (n *Node) handleAppendEntriesReply(peer uint64, args *AppendEntriesArgs, reply *AppendEntriesReply) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.fatalErr != nil {
		return
	}

	if reply.Term > n.persistent.CurrentTerm {
		n.stepDown(reply.Term)
		return
	}

	if n.role != StateLeader || args.Term != n.persistent.CurrentTerm {
		return
	}

	if reply.Success {
		match := args.PrevLogIndex + uint64(len(args.Entries))
		// Replies may arrive out of order; progress never moves backwards.
		if match > n.volatile.MatchIndex[peer] {
			n.volatile.MatchIndex[peer] = match
		}
		if next := n.volatile.MatchIndex[peer] + 1; next > n.volatile.NextIndex[peer] {
			n.volatile.NextIndex[peer] = next
		}

		if n.advanceCommitIndex() {
			n.applyCommitted()
		}
		return
	}

	// Only back off from the attempt that matches the current nextIndex, so a
	// duplicated or delayed rejection cannot skip entries.
	if n.volatile.NextIndex[peer] != args.PrevLogIndex+1 {
		return
	}

	next := args.PrevLogIndex
	if reply.ConflictTerm != 0 {
		if last, ok := n.persistent.Log.LastIndexOfTerm(reply.ConflictTerm); ok {
			next = last + 1
		} else {
			next = reply.ConflictIndex
		}
	} else if reply.ConflictIndex != 0 {
		next = reply.ConflictIndex
	}
	if next > args.PrevLogIndex {
		next = args.PrevLogIndex
	}
	if next <= n.volatile.MatchIndex[peer] {
		next = n.volatile.MatchIndex[peer] + 1
	}
	if next < 1 {
		next = 1
	}

	n.volatile.NextIndex[peer] = next
	n.logger.Debug("follower rejected append", "peer", peer, "prevLogIndex", args.PrevLogIndex, "nextIndex", next)
}

// advanceCommitIndex moves commitIndex to the highest index replicated on a
// majority whose entry is from the current term. Entries from earlier terms
// commit only as a consequence.
func (n *Node) advanceCommitIndex() bool {
	if n.role != StateLeader {
		return false
	}

	log := n.persistent.Log
	quorum := n.quorum()

	for idx := log.LastIndex(); idx > n.volatile.CommitIndex; idx-- {
		term := log.TermAt(idx)
		if term < n.persistent.CurrentTerm {
			break
		}
		if term != n.persistent.CurrentTerm {
			continue
		}

		count := 1 // self
		for _, peer := range n.peers {
			if n.volatile.MatchIndex[peer] >= idx {
				count++
			}
		}
		if count >= quorum {
			n.logger.Debug("commit index advanced", "from", n.volatile.CommitIndex, "to", idx, "term", n.persistent.CurrentTerm)
			n.volatile.CommitIndex = idx
			return true
		}
	}
	return false
}

// applyCommitted applies entries (lastApplied, commitIndex] in order.
func (n *Node) applyCommitted() {
	for n.volatile.LastApplied < n.volatile.CommitIndex {
		idx := n.volatile.LastApplied + 1
		entry, err := n.persistent.Log.Get(idx)
		if err != nil {
			n.logger.Error("committed entry missing", "index", idx, "error", err)
			return
		}

		if err := n.stateMachine.Apply(entry.Command); err != nil {
			// Deterministic on every node; the entry still counts as applied.
			n.logger.Warn("apply failed", "index", idx, "command", entry.Command.String(), "error", err)
		}
		n.volatile.LastApplied = idx

		if n.onApply != nil {
			n.onApply(idx, entry.Term)
		}
	}
}
