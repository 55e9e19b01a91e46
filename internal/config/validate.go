package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
)

// maxBytesPerRPC is the largest AppendEntries batch the transports carry.
const maxBytesPerRPC = 32 * 1024 * 1024

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateConfig validates the configuration and returns a list of validation errors.
// An empty slice indicates the configuration is valid.
func ValidateConfig(config *Config) []error {
	var errs []error

	errs = append(errs, validateClusterConfig(&config.Cluster)...)
	errs = append(errs, validateNodeConfig(config)...)
	errs = append(errs, validateRaftConfig(&config.Raft)...)
	errs = append(errs, validateStorageConfig(&config.Storage)...)
	errs = append(errs, validateTransportConfig(&config.Transport)...)
	errs = append(errs, validateLogConfig(&config.Logging)...)
	errs = append(errs, validateAPIConfig(&config.API)...)

	return errs
}

// validateNodeConfig checks that the node ID is set and names a cluster member.
func validateNodeConfig(config *Config) []error {
	if config.Node.ID == 0 {
		return []error{ValidationError{
			Field:   "node.id",
			Message: "must be a non-zero node ID",
		}}
	}
	if _, ok := config.PeerAddr(config.Node.ID); !ok {
		return []error{ValidationError{
			Field:   "node.id",
			Message: fmt.Sprintf("node %d is not listed in cluster.peers", config.Node.ID),
		}}
	}
	return nil
}

// validateClusterConfig validates the peer list.
func validateClusterConfig(config *ClusterConfig) []error {
	var errs []error

	if len(config.Peers) == 0 {
		return []error{ValidationError{
			Field:   "cluster.peers",
			Message: "at least one peer is required",
		}}
	}

	seen := make(map[uint64]bool, len(config.Peers))
	for i, p := range config.Peers {
		field := fmt.Sprintf("cluster.peers[%d]", i)
		if p.ID == 0 {
			errs = append(errs, ValidationError{
				Field:   field + ".id",
				Message: "must be non-zero",
			})
		} else if seen[p.ID] {
			errs = append(errs, ValidationError{
				Field:   field + ".id",
				Message: fmt.Sprintf("duplicate peer ID %d", p.ID),
			})
		}
		seen[p.ID] = true

		if err := validateAddress(p.Addr); err != nil {
			errs = append(errs, ValidationError{
				Field:   field + ".addr",
				Message: err.Error(),
			})
		}
	}

	return errs
}

// validateRaftConfig validates timing relationships between timeouts.
func validateRaftConfig(config *RaftConfig) []error {
	var errs []error

	if config.ElectionTimeoutMin <= 0 {
		errs = append(errs, ValidationError{
			Field:   "raft.electionTimeoutMin",
			Message: "must be positive",
		})
	}
	if config.ElectionTimeoutMax < config.ElectionTimeoutMin {
		errs = append(errs, ValidationError{
			Field:   "raft.electionTimeoutMax",
			Message: "must not be less than raft.electionTimeoutMin",
		})
	}
	if config.HeartbeatInterval <= 0 {
		errs = append(errs, ValidationError{
			Field:   "raft.heartbeatInterval",
			Message: "must be positive",
		})
	} else if config.HeartbeatInterval >= config.ElectionTimeoutMin {
		errs = append(errs, ValidationError{
			Field:   "raft.heartbeatInterval",
			Message: "must be less than raft.electionTimeoutMin",
		})
	}
	if config.TickInterval <= 0 {
		errs = append(errs, ValidationError{
			Field:   "raft.tickInterval",
			Message: "must be positive",
		})
	} else if config.HeartbeatInterval > 0 && config.TickInterval > config.HeartbeatInterval {
		errs = append(errs, ValidationError{
			Field:   "raft.tickInterval",
			Message: "must not exceed raft.heartbeatInterval",
		})
	}
	if config.RPCTimeout <= 0 {
		errs = append(errs, ValidationError{
			Field:   "raft.rpcTimeout",
			Message: "must be positive",
		})
	}
	if config.MaxEntriesPerRPC < 0 {
		errs = append(errs, ValidationError{
			Field:   "raft.maxEntriesPerRPC",
			Message: "must not be negative",
		})
	}
	if config.MaxBytesPerRPC < 0 || config.MaxBytesPerRPC > maxBytesPerRPC {
		errs = append(errs, ValidationError{
			Field:   "raft.maxBytesPerRPC",
			Message: fmt.Sprintf("must be between 0 and %d", maxBytesPerRPC),
		})
	}

	return errs
}

// validateStorageConfig validates storage configuration.
func validateStorageConfig(config *StorageConfig) []error {
	switch strings.ToLower(config.Type) {
	case StorageMemory:
		return nil
	case StorageFile:
		if config.DataDir == "" {
			return []error{ValidationError{
				Field:   "storage.dataDir",
				Message: "is required for file storage",
			}}
		}
		return nil
	default:
		return []error{ValidationError{
			Field:   "storage.type",
			Message: "must be file or memory",
		}}
	}
}

// validateTransportConfig validates transport configuration.
func validateTransportConfig(config *TransportConfig) []error {
	var errs []error

	switch strings.ToLower(config.Type) {
	case TransportTCP, TransportGRPC:
	default:
		errs = append(errs, ValidationError{
			Field:   "transport.type",
			Message: "must be tcp or grpc",
		})
	}
	if config.Timeout <= 0 {
		errs = append(errs, ValidationError{
			Field:   "transport.timeout",
			Message: "must be positive",
		})
	}

	return errs
}

// validateLogConfig validates logging configuration.
func validateLogConfig(config *LogConfig) []error {
	var errs []error

	// Validate log level
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if config.Level != "" && !validLevels[strings.ToLower(config.Level)] {
		errs = append(errs, ValidationError{
			Field:   "logging.level",
			Message: "must be debug, info, warn, or error",
		})
	}

	// Validate log format
	validFormats := map[string]bool{"text": true, "json": true}
	if config.Format != "" && !validFormats[strings.ToLower(config.Format)] {
		errs = append(errs, ValidationError{
			Field:   "logging.format",
			Message: "must be text or json",
		})
	}

	// Validate output
	if config.Output != "" && config.Output != "stdout" && config.Output != "stderr" {
		// Check if it's a valid file path
		dir := filepath.Dir(config.Output)
		if !filepath.IsAbs(config.Output) {
			errs = append(errs, ValidationError{
				Field:   "logging.output",
				Message: "must be stdout, stderr, or an absolute file path",
			})
		} else if _, err := os.Stat(dir); os.IsNotExist(err) {
			errs = append(errs, ValidationError{
				Field:   "logging.output",
				Message: fmt.Sprintf("directory %s does not exist", dir),
			})
		}
	}

	return errs
}

// validateAPIConfig validates the HTTP API settings when the API is enabled.
func validateAPIConfig(config *APIConfig) []error {
	if !config.Enabled {
		return nil
	}

	var errs []error
	if err := validateAddress(config.Address); err != nil {
		errs = append(errs, ValidationError{
			Field:   "api.address",
			Message: err.Error(),
		})
	}
	if config.CommitTimeout <= 0 {
		errs = append(errs, ValidationError{
			Field:   "api.commitTimeout",
			Message: "must be positive",
		})
	}
	if config.ReadTimeout < 0 || config.WriteTimeout < 0 {
		errs = append(errs, ValidationError{
			Field:   "api",
			Message: "timeouts must not be negative",
		})
	}
	if config.RateLimit < 0 {
		errs = append(errs, ValidationError{
			Field:   "api.rateLimit",
			Message: "must not be negative",
		})
	}
	return errs
}

// validateAddress validates a network address in host:port format.
func validateAddress(addr string) error {
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("invalid address format: %v", err)
	}
	if port == "" {
		return fmt.Errorf("port is required")
	}
	return nil
}
