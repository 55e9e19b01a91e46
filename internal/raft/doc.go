// Package raft implements the core of the Raft consensus algorithm driving a
// replicated key-value state machine.
//
// # Overview
//
// The package provides:
//   - Leader election with randomized timeouts
//   - Log replication with consistency checks and conflict hints
//   - Commit advancement restricted to current-term entries
//   - In-order application of committed commands to a StateMachine
//   - Durable term, vote and log through a Storage (memory or file backed)
//   - TCP, gRPC and in-memory RPC transports
//
// # Architecture
//
// A Node keeps all of its state behind a single mutex. Time only moves
// through Tick: callers invoke it at a fixed cadence and the node decides
// whether an election timeout or heartbeat interval has elapsed. Incoming
// RPCs and replies to outbound RPCs are handled as independent events;
// outbound RPCs are sent after the lock is released, and a reply whose term
// or role no longer matches is dropped.
//
// Term, vote and log changes are written through Storage before the reply
// that depends on them is produced. If a write fails the node stops: every
// later call returns an error wrapping ErrNodeFailed.
//
// # Usage
//
//	cfg := raft.DefaultNodeConfig()
//	cfg.ID = 1
//	cfg.Peers = map[uint64]string{1: "10.0.0.1:7000", 2: "10.0.0.2:7000", 3: "10.0.0.3:7000"}
//
//	storage, _ := raft.NewFileStorage("/var/lib/raftkv/node1")
//	transport := raft.NewTCPTransport(cfg.Peers[cfg.ID], cfg.Peers)
//	node, _ := raft.NewNode(cfg, raft.NewKVStateMachine(), transport, storage)
//	node.Start()
//
//	for now := range time.Tick(20 * time.Millisecond) {
//	    node.Tick(now)
//	}
//
//	// On the leader
//	index, err := node.SubmitCommand(raft.SetCommand("k", "v"))
//
// # Failure Handling
//
// The cluster makes progress while a majority of nodes can communicate:
//   - 3 nodes: tolerates 1 failure
//   - 5 nodes: tolerates 2 failures
//
// # References
//
//   - Raft Paper: https://raft.github.io/raft.pdf
package raft
