// Package config provides configuration loading and validation for raftkv nodes.
//
// # Overview
//
// The config package loads node configuration from a file and environment
// variables using viper. It supports:
//
//   - YAML, JSON and TOML configuration files
//   - RAFTKV_* environment variable overrides
//   - Default values for every tunable setting
//   - Configuration validation
//
// # Configuration Structure
//
//	type Config struct {
//	    Node      NodeConfig      // This node's ID
//	    Cluster   ClusterConfig   // Static membership, this node included
//	    Raft      RaftConfig      // Timeouts, tick cadence, batching
//	    Storage   StorageConfig   // file or memory
//	    Transport TransportConfig // tcp or grpc
//	    Logging   LogConfig       // Level, format, output
//	}
//
// # Example
//
//	node:
//	  id: 1
//	cluster:
//	  peers:
//	    - id: 1
//	      addr: 10.0.0.1:7000
//	    - id: 2
//	      addr: 10.0.0.2:7000
//	    - id: 3
//	      addr: 10.0.0.3:7000
//	raft:
//	  electionTimeoutMin: 150ms
//	  electionTimeoutMax: 300ms
//	  heartbeatInterval: 50ms
//	storage:
//	  type: file
//	  dataDir: /var/lib/raftkv/node1
//
// # Loading Configuration
//
//	cfg, err := config.LoadConfig("/etc/raftkv/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if errs := config.ValidateConfig(cfg); len(errs) > 0 {
//	    for _, e := range errs {
//	        log.Println(e)
//	    }
//	}
//
// Membership and timing are fixed for the lifetime of the process; there is
// no reload.
package config
