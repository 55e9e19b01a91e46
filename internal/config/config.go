// Package config provides configuration loading and validation for raftkv nodes.
package config

import "time"

// Config holds the complete node configuration.
type Config struct {
	Node      NodeConfig      `mapstructure:"node" yaml:"node"`
	Cluster   ClusterConfig   `mapstructure:"cluster" yaml:"cluster"`
	Raft      RaftConfig      `mapstructure:"raft" yaml:"raft"`
	Storage   StorageConfig   `mapstructure:"storage" yaml:"storage"`
	Transport TransportConfig `mapstructure:"transport" yaml:"transport"`
	Logging   LogConfig       `mapstructure:"logging" yaml:"logging"`
	API       APIConfig       `mapstructure:"api" yaml:"api"`
}

// NodeConfig identifies this node.
type NodeConfig struct {
	ID uint64 `mapstructure:"id" yaml:"id"`
}

// ClusterConfig holds the static cluster membership.
type ClusterConfig struct {
	Peers []PeerConfig `mapstructure:"peers" yaml:"peers"`
}

// PeerConfig holds a single cluster member. The list includes this node.
type PeerConfig struct {
	ID   uint64 `mapstructure:"id" yaml:"id"`
	Addr string `mapstructure:"addr" yaml:"addr"`
}

// RaftConfig holds consensus timing and batching settings.
type RaftConfig struct {
	ElectionTimeoutMin time.Duration `mapstructure:"electionTimeoutMin" yaml:"electionTimeoutMin"`
	ElectionTimeoutMax time.Duration `mapstructure:"electionTimeoutMax" yaml:"electionTimeoutMax"`
	HeartbeatInterval  time.Duration `mapstructure:"heartbeatInterval" yaml:"heartbeatInterval"`
	TickInterval       time.Duration `mapstructure:"tickInterval" yaml:"tickInterval"`
	RPCTimeout         time.Duration `mapstructure:"rpcTimeout" yaml:"rpcTimeout"`
	MaxEntriesPerRPC   int           `mapstructure:"maxEntriesPerRPC" yaml:"maxEntriesPerRPC"`
	MaxBytesPerRPC     int           `mapstructure:"maxBytesPerRPC" yaml:"maxBytesPerRPC"`
	LeaderNoOp         bool          `mapstructure:"leaderNoOp" yaml:"leaderNoOp"`
}

// StorageConfig selects where term, vote and log are persisted.
type StorageConfig struct {
	Type    string `mapstructure:"type" yaml:"type"` // "file" or "memory"
	DataDir string `mapstructure:"dataDir" yaml:"dataDir"`
}

// TransportConfig selects the RPC transport.
type TransportConfig struct {
	Type string `mapstructure:"type" yaml:"type"` // "tcp" or "grpc"

	// Timeout bounds TCP dials made without a deadline; inbound TCP
	// connections idle for twice as long are closed.
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
	Output string `mapstructure:"output" yaml:"output"`
}

// APIConfig holds the client HTTP API settings.
type APIConfig struct {
	Enabled       bool          `mapstructure:"enabled" yaml:"enabled"`
	Address       string        `mapstructure:"address" yaml:"address"`
	ReadTimeout   time.Duration `mapstructure:"readTimeout" yaml:"readTimeout"`
	WriteTimeout  time.Duration `mapstructure:"writeTimeout" yaml:"writeTimeout"`
	CommitTimeout time.Duration `mapstructure:"commitTimeout" yaml:"commitTimeout"`
	RateLimit     int           `mapstructure:"rateLimit" yaml:"rateLimit"`
}

// PeerAddr returns the address of the peer with the given ID.
func (c *Config) PeerAddr(id uint64) (string, bool) {
	for _, p := range c.Cluster.Peers {
		if p.ID == id {
			return p.Addr, true
		}
	}
	return "", false
}

// PeerMap returns the cluster membership as ID -> address.
func (c *Config) PeerMap() map[uint64]string {
	peers := make(map[uint64]string, len(c.Cluster.Peers))
	for _, p := range c.Cluster.Peers {
		peers[p.ID] = p.Addr
	}
	return peers
}
