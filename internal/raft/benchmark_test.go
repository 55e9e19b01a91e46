package raft

import (
	"fmt"
	"testing"
)

func benchmarkEntries(n int) []*LogEntry {
	out := make([]*LogEntry, n)
	for i := range out {
		out[i] = &LogEntry{
			Index:   uint64(i + 1),
			Term:    1,
			Command: SetCommand(fmt.Sprintf("key-%d", i), "value-0123456789"),
		}
	}
	return out
}

// BenchmarkAppendEntriesSerialize benchmarks encoding a full batch.
func BenchmarkAppendEntriesSerialize(b *testing.B) {
	args := &AppendEntriesArgs{Term: 1, LeaderID: 1, Entries: benchmarkEntries(64), LeaderCommit: 10}

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		if _, err := args.Serialize(); err != nil {
			b.Fatalf("Serialize failed: %v", err)
		}
	}
}

// BenchmarkAppendEntriesDeserialize benchmarks decoding a full batch.
func BenchmarkAppendEntriesDeserialize(b *testing.B) {
	args := &AppendEntriesArgs{Term: 1, LeaderID: 1, Entries: benchmarkEntries(64), LeaderCommit: 10}
	data, err := args.Serialize()
	if err != nil {
		b.Fatalf("Serialize failed: %v", err)
	}

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		if _, err := DeserializeAppendEntriesArgs(data); err != nil {
			b.Fatalf("Deserialize failed: %v", err)
		}
	}
}

// BenchmarkFollowerAppend benchmarks a follower accepting one entry per
// AppendEntries on memory storage.
func BenchmarkFollowerAppend(b *testing.B) {
	cfg := testNodeConfig(3)
	cfg.ID = 2
	node, err := NewNode(&cfg, NewKVStateMachine(), nil, NewMemoryStorage())
	if err != nil {
		b.Fatalf("NewNode failed: %v", err)
	}
	node.dispatch = func(task func()) { task() }
	if err := node.Tick(tnEpoch); err != nil {
		b.Fatalf("Tick failed: %v", err)
	}

	cmd := SetCommand("k", "v")

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		index := uint64(i + 1)
		reply, err := node.HandleAppendEntries(&AppendEntriesArgs{
			Term:         1,
			LeaderID:     1,
			PrevLogIndex: index - 1,
			PrevLogTerm:  min(index-1, 1),
			Entries:      []*LogEntry{{Index: index, Term: 1, Command: cmd}},
			LeaderCommit: index,
		})
		if err != nil || !reply.Success {
			b.Fatalf("append %d failed: %v", index, err)
		}
	}
}

// BenchmarkFileStorageAppend benchmarks a synced single-entry WAL append.
func BenchmarkFileStorageAppend(b *testing.B) {
	storage, err := NewFileStorage(b.TempDir())
	if err != nil {
		b.Fatalf("NewFileStorage failed: %v", err)
	}
	defer storage.Close()
	if _, err := storage.Load(); err != nil {
		b.Fatalf("Load failed: %v", err)
	}

	cmd := SetCommand("key", "value-0123456789")

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		entry := &LogEntry{Index: uint64(i + 1), Term: 1, Command: cmd}
		if err := storage.Append([]*LogEntry{entry}); err != nil {
			b.Fatalf("Append failed: %v", err)
		}
	}
}

// BenchmarkKVApply benchmarks applying set commands to the state machine.
func BenchmarkKVApply(b *testing.B) {
	sm := NewKVStateMachine()
	cmds := make([]Command, 1024)
	for i := range cmds {
		cmds[i] = SetCommand(fmt.Sprintf("key-%d", i), "value")
	}

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		if err := sm.Apply(cmds[i%len(cmds)]); err != nil {
			b.Fatalf("Apply failed: %v", err)
		}
	}
}
