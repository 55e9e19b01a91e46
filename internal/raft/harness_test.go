package raft

import (
	"fmt"
	"math/rand"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// testNet is a deterministic cluster: RPCs are delivered inline on the
// caller's goroutine and time only moves when the test advances it.
type testNet struct {
	t        *testing.T
	network  *InMemoryNetwork
	cfg      NodeConfig
	nodes    map[uint64]*Node
	storages map[uint64]*MemoryStorage
	machines map[uint64]*KVStateMachine
	applied  map[uint64][]uint64 // node -> term of each applied index, in order
	now      time.Time
}

// tnEpoch is the start of every test clock.
var tnEpoch = time.Unix(1700000000, 0)

func testNodeConfig(n int) NodeConfig {
	cfg := *DefaultNodeConfig()
	cfg.Peers = make(map[uint64]string, n)
	for i := 1; i <= n; i++ {
		cfg.Peers[uint64(i)] = fmt.Sprintf("node%d", i)
	}
	return cfg
}

func newTestNet(t *testing.T, n int, opts ...func(*NodeConfig)) *testNet {
	t.Helper()

	cfg := testNodeConfig(n)
	for _, opt := range opts {
		opt(&cfg)
	}

	tn := &testNet{
		t:        t,
		network:  NewInMemoryNetwork(),
		cfg:      cfg,
		nodes:    make(map[uint64]*Node),
		storages: make(map[uint64]*MemoryStorage),
		machines: make(map[uint64]*KVStateMachine),
		applied:  make(map[uint64][]uint64),
		now:      tnEpoch,
	}
	for id := range cfg.Peers {
		tn.storages[id] = NewMemoryStorage()
		tn.start(id)
	}
	return tn
}

// start builds (or rebuilds) node id on its existing storage.
func (tn *testNet) start(id uint64) *Node {
	tn.t.Helper()

	cfg := tn.cfg
	cfg.ID = id
	sm := NewKVStateMachine()
	n, err := NewNode(&cfg, sm, tn.network.NewTransport(id, cfg.Peers[id]), tn.storages[id])
	require.NoError(tn.t, err)

	n.dispatch = func(task func()) { task() }
	n.rand = rand.New(rand.NewSource(int64(id)))
	tn.applied[id] = nil
	n.SetApplyFunc(func(index, term uint64) {
		tn.applied[id] = append(tn.applied[id], term)
	})
	require.NoError(tn.t, n.Start())
	require.NoError(tn.t, n.Tick(tn.now))

	tn.nodes[id] = n
	tn.machines[id] = sm
	return n
}

// crash stops node id, keeping its storage.
func (tn *testNet) crash(id uint64) {
	tn.nodes[id].Stop()
	delete(tn.nodes, id)
}

func (tn *testNet) ids() []uint64 {
	ids := make([]uint64, 0, len(tn.nodes))
	for id := range tn.nodes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// advance moves the clock by d and ticks every running node once.
func (tn *testNet) advance(d time.Duration) {
	tn.now = tn.now.Add(d)
	for _, id := range tn.ids() {
		tn.nodes[id].Tick(tn.now)
	}
}

// run advances the clock in steps of 10ms for d.
func (tn *testNet) run(d time.Duration) {
	for elapsed := time.Duration(0); elapsed < d; elapsed += 10 * time.Millisecond {
		tn.advance(10 * time.Millisecond)
	}
}

// campaign makes node id's election timer fire on its next tick.
func (tn *testNet) campaign(id uint64) {
	n := tn.nodes[id]
	n.mu.Lock()
	n.electionDeadline = n.lastTick
	n.mu.Unlock()
	require.NoError(tn.t, n.Tick(tn.now))
}

// leaders returns every running node that believes it is leader.
func (tn *testNet) leaders() []*Node {
	var out []*Node
	for _, id := range tn.ids() {
		if tn.nodes[id].IsLeader() {
			out = append(out, tn.nodes[id])
		}
	}
	return out
}

// waitLeader runs the cluster until exactly one leader exists among the
// given nodes (all running nodes if none given).
func (tn *testNet) waitLeader(among ...uint64) *Node {
	tn.t.Helper()
	if len(among) == 0 {
		among = tn.ids()
	}
	for i := 0; i < 300; i++ {
		var found []*Node
		for _, id := range among {
			if n, ok := tn.nodes[id]; ok && n.IsLeader() {
				found = append(found, n)
			}
		}
		if len(found) == 1 {
			return found[0]
		}
		tn.advance(10 * time.Millisecond)
	}
	tn.t.Fatalf("no leader elected among %v", among)
	return nil
}

// logTerms returns the term of every entry in node id's log.
func (tn *testNet) logTerms(id uint64) []uint64 {
	n := tn.nodes[id]
	n.mu.Lock()
	defer n.mu.Unlock()
	terms := make([]uint64, n.persistent.Log.Len())
	for i := range terms {
		terms[i] = n.persistent.Log.TermAt(uint64(i))
	}
	return terms
}
