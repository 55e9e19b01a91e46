// Package cluster runs a raft node as a replicated key-value store: it builds
// the node from configuration, drives its clock, and turns client writes into
// proposals that complete once applied.
package cluster

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/KilimcininKorOglu/raftkv/internal/config"
	"github.com/KilimcininKorOglu/raftkv/internal/logging"
	"github.com/KilimcininKorOglu/raftkv/internal/raft"
)

var (
	// ErrLeadershipLost is returned when a proposal was overwritten by a
	// new leader before it committed.
	ErrLeadershipLost = errors.New("cluster: leadership lost before commit")

	// ErrStopped is returned to writers still waiting when the node stops.
	ErrStopped = errors.New("cluster: node stopped")
)

// Options overrides the components New would otherwise build from config.
type Options struct {
	Transport    raft.Transport
	Storage      raft.Storage
	StateMachine *raft.KVStateMachine
}

// waiter is a pending write: done receives once the entry at its index is
// applied.
type waiter struct {
	term uint64
	done chan error
}

// Cluster wraps a raft node with a ticker and write waiters.
type Cluster struct {
	cfg          *config.Config
	node         *raft.Node
	stateMachine *raft.KVStateMachine
	storage      raft.Storage
	transport    raft.Transport
	logger       logging.Logger

	lastApplied uint64
	waiters     map[uint64]*waiter
	stopErr     error
	mu          sync.Mutex
}

// New builds a node from cfg. The configuration must already be valid.
func New(cfg *config.Config, logger logging.Logger) (*Cluster, error) {
	return NewWithOptions(cfg, logger, Options{})
}

// NewWithOptions builds a node from cfg, using any components set in opts.
func NewWithOptions(cfg *config.Config, logger logging.Logger, opts Options) (*Cluster, error) {
	if logger == nil {
		logger = logging.NewNop()
	}

	selfAddr, ok := cfg.PeerAddr(cfg.Node.ID)
	if !ok {
		return nil, fmt.Errorf("cluster: node %d not in peer list", cfg.Node.ID)
	}
	peers := cfg.PeerMap()

	storage := opts.Storage
	if storage == nil {
		var err error
		storage, err = newStorage(&cfg.Storage)
		if err != nil {
			return nil, err
		}
	}

	transport := opts.Transport
	if transport == nil {
		var err error
		transport, err = newTransport(&cfg.Transport, selfAddr, peers)
		if err != nil {
			storage.Close()
			return nil, err
		}
	}

	sm := opts.StateMachine
	if sm == nil {
		sm = raft.NewKVStateMachine()
	}

	node, err := raft.NewNode(NodeConfig(cfg), sm, transport, storage)
	if err != nil {
		storage.Close()
		return nil, err
	}

	c := &Cluster{
		cfg:          cfg,
		node:         node,
		stateMachine: sm,
		storage:      storage,
		transport:    transport,
		logger:       logger.WithFields("node", cfg.Node.ID),
		waiters:      make(map[uint64]*waiter),
	}
	node.SetLogger(logger)
	node.SetApplyFunc(c.onApply)

	return c, nil
}

// NodeConfig converts the file configuration into a raft.NodeConfig.
func NodeConfig(cfg *config.Config) *raft.NodeConfig {
	return &raft.NodeConfig{
		ID:                 cfg.Node.ID,
		Peers:              cfg.PeerMap(),
		ElectionTimeoutMin: cfg.Raft.ElectionTimeoutMin,
		ElectionTimeoutMax: cfg.Raft.ElectionTimeoutMax,
		HeartbeatInterval:  cfg.Raft.HeartbeatInterval,
		MaxEntriesPerRPC:   cfg.Raft.MaxEntriesPerRPC,
		MaxBytesPerRPC:     cfg.Raft.MaxBytesPerRPC,
		RPCTimeout:         cfg.Raft.RPCTimeout,
		LeaderNoOp:         cfg.Raft.LeaderNoOp,
	}
}

func newStorage(cfg *config.StorageConfig) (raft.Storage, error) {
	switch strings.ToLower(cfg.Type) {
	case config.StorageMemory:
		return raft.NewMemoryStorage(), nil
	case config.StorageFile, "":
		s, err := raft.NewFileStorage(cfg.DataDir)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("cluster: unknown storage type %q", cfg.Type)
	}
}

func newTransport(cfg *config.TransportConfig, selfAddr string, peers map[uint64]string) (raft.Transport, error) {
	switch strings.ToLower(cfg.Type) {
	case config.TransportTCP, "":
		t := raft.NewTCPTransport(selfAddr, peers)
		if cfg.Timeout > 0 {
			t.SetTimeout(cfg.Timeout)
		}
		return t, nil
	case config.TransportGRPC:
		return raft.NewGRPCTransport(selfAddr, peers), nil
	default:
		return nil, fmt.Errorf("cluster: unknown transport type %q", cfg.Type)
	}
}

// Node returns the underlying raft node.
func (c *Cluster) Node() *raft.Node {
	return c.node
}

// Run starts the transport and ticks the node every TickInterval until ctx
// is done or the node fails. It returns nil on cancellation and the node's
// fatal error otherwise.
func (c *Cluster) Run(ctx context.Context) error {
	if err := c.node.Start(); err != nil {
		return fmt.Errorf("cluster: start transport: %w", err)
	}
	defer c.node.Stop()

	c.logger.Info("cluster node running",
		"addr", c.transport.LocalAddr(),
		"tick", c.cfg.Raft.TickInterval.String(),
		"peers", len(c.cfg.Cluster.Peers))

	ticker := time.NewTicker(c.cfg.Raft.TickInterval)
	defer ticker.Stop()

	if err := c.node.Tick(time.Now()); err != nil {
		c.stop(err)
		return err
	}

	for {
		select {
		case <-ctx.Done():
			c.stop(ErrStopped)
			return nil
		case now := <-ticker.C:
			if err := c.node.Tick(now); err != nil {
				c.logger.Error("raft node failed, stopping", "error", err)
				c.stop(err)
				return err
			}
		}
	}
}

// Close releases storage. Call after Run has returned.
func (c *Cluster) Close() error {
	return c.storage.Close()
}

// Put sets key to value and waits until the write is applied locally.
func (c *Cluster) Put(ctx context.Context, key, value string) error {
	return c.propose(ctx, raft.SetCommand(key, value))
}

// Delete removes key and waits until the delete is applied locally.
func (c *Cluster) Delete(ctx context.Context, key string) error {
	return c.propose(ctx, raft.DeleteCommand(key))
}

// Get reads key from the local state machine. On a follower the value may
// be stale.
func (c *Cluster) Get(key string) (string, bool) {
	return c.node.GetValue(key)
}

// Keys returns the locally applied keys in sorted order.
func (c *Cluster) Keys() []string {
	return c.stateMachine.Keys()
}

func (c *Cluster) propose(ctx context.Context, cmd raft.Command) error {
	log := c.logger.WithRequestID(logging.GenerateRequestID())

	index, term, err := c.node.Propose(cmd)
	if err != nil {
		switch {
		case errors.Is(err, raft.ErrNotLeader):
			log.Debug("write rejected, not leader", "leader", c.node.LeaderID())
		case errors.Is(err, raft.ErrCommandTooLarge):
			log.Debug("write rejected", "error", err)
		default:
			log.Warn("write failed", "command", cmd.String(), "error", err)
		}
		return err
	}
	log.Debug("write submitted", "command", cmd.String(), "index", index, "term", term)

	w, err := c.register(index, term)
	if err != nil {
		return err
	}
	if w == nil {
		// Applied before we could register.
		return c.checkApplied(index, term)
	}

	select {
	case err := <-w.done:
		if err != nil {
			log.Info("write not committed", "index", index, "error", err)
		}
		return err
	case <-ctx.Done():
		c.unregister(index, w)
		return ctx.Err()
	}
}

// register adds a waiter for index, or returns nil if it has already been
// applied.
func (c *Cluster) register(index, term uint64) (*waiter, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopErr != nil {
		return nil, c.stopErr
	}
	if c.lastApplied >= index {
		return nil, nil
	}
	w := &waiter{term: term, done: make(chan error, 1)}
	c.waiters[index] = w
	return w, nil
}

func (c *Cluster) unregister(index uint64, w *waiter) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.waiters[index] == w {
		delete(c.waiters, index)
	}
}

func (c *Cluster) checkApplied(index, term uint64) error {
	got, ok := c.node.EntryTerm(index)
	if !ok || got != term {
		return ErrLeadershipLost
	}
	return nil
}

// onApply runs under the node lock after each applied entry.
func (c *Cluster) onApply(index, term uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.lastApplied = index
	w, ok := c.waiters[index]
	if !ok {
		return
	}
	delete(c.waiters, index)
	if w.term == term {
		w.done <- nil
	} else {
		w.done <- ErrLeadershipLost
	}
}

// stop fails every pending write with err.
func (c *Cluster) stop(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopErr == nil {
		c.stopErr = err
	}
	for index, w := range c.waiters {
		w.done <- err
		delete(c.waiters, index)
	}
}

// IsLeader returns true if this node is the cluster leader.
func (c *Cluster) IsLeader() bool {
	return c.node.IsLeader()
}

// LeaderAddr returns the current leader's address, or "" if unknown.
func (c *Cluster) LeaderAddr() string {
	addr, _ := c.node.LeaderAddr()
	return addr
}

// Status is a point-in-time view of this node.
type Status struct {
	NodeID      uint64       `json:"nodeId" yaml:"nodeId"`
	State       string       `json:"state" yaml:"state"`
	Term        uint64       `json:"term" yaml:"term"`
	LeaderID    uint64       `json:"leaderId" yaml:"leaderId"`
	LeaderAddr  string       `json:"leaderAddr" yaml:"leaderAddr"`
	CommitIndex uint64       `json:"commitIndex" yaml:"commitIndex"`
	LastApplied uint64       `json:"lastApplied" yaml:"lastApplied"`
	LastIndex   uint64       `json:"lastIndex" yaml:"lastIndex"`
	Keys        int          `json:"keys" yaml:"keys"`
	Peers       []PeerStatus `json:"peers" yaml:"peers"`
	Error       string       `json:"error,omitempty" yaml:"error,omitempty"`
}

// PeerStatus represents a peer's status.
type PeerStatus struct {
	ID   uint64 `json:"id" yaml:"id"`
	Addr string `json:"addr" yaml:"addr"`
}

// Status returns the current node status.
func (c *Cluster) Status() *Status {
	ns := c.node.Status()
	status := &Status{
		NodeID:      ns.ID,
		State:       ns.State,
		Term:        ns.Term,
		LeaderID:    ns.LeaderID,
		LeaderAddr:  c.LeaderAddr(),
		CommitIndex: ns.CommitIndex,
		LastApplied: ns.LastApplied,
		LastIndex:   ns.LastIndex,
		Keys:        c.stateMachine.Len(),
		Peers:       make([]PeerStatus, 0, len(c.cfg.Cluster.Peers)),
	}
	if err := c.node.Err(); err != nil {
		status.Error = err.Error()
	}

	for _, p := range c.cfg.Cluster.Peers {
		status.Peers = append(status.Peers, PeerStatus{
			ID:   p.ID,
			Addr: p.Addr,
		})
	}

	return status
}
