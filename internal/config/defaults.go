package config

import "time"

// Storage and transport kinds.
const (
	StorageFile   = "file"
	StorageMemory = "memory"

	TransportTCP  = "tcp"
	TransportGRPC = "grpc"
)

// DefaultConfig returns a Config with sensible default values.
// Node ID and cluster peers have no default and must be configured.
func DefaultConfig() *Config {
	return &Config{
		Raft: RaftConfig{
			ElectionTimeoutMin: 150 * time.Millisecond,
			ElectionTimeoutMax: 300 * time.Millisecond,
			HeartbeatInterval:  50 * time.Millisecond,
			TickInterval:       20 * time.Millisecond,
			RPCTimeout:         100 * time.Millisecond,
			MaxEntriesPerRPC:   64,
			MaxBytesPerRPC:     1024 * 1024,
			LeaderNoOp:         false,
		},
		Storage: StorageConfig{
			Type:    StorageFile,
			DataDir: "/var/lib/raftkv",
		},
		Transport: TransportConfig{
			Type:    TransportTCP,
			Timeout: 5 * time.Second,
		},
		Logging: LogConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		API: APIConfig{
			Enabled:       false,
			Address:       "127.0.0.1:8080",
			ReadTimeout:   10 * time.Second,
			WriteTimeout:  10 * time.Second,
			CommitTimeout: 5 * time.Second,
			RateLimit:     0,
		},
	}
}
