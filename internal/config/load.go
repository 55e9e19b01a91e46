package config

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix for environment variable overrides, e.g.
// RAFTKV_NODE_ID or RAFTKV_RAFT_HEARTBEATINTERVAL.
const EnvPrefix = "RAFTKV"

// LoadConfig reads configuration from path (YAML, JSON or TOML, chosen by
// extension) on top of DefaultConfig, then applies RAFTKV_* environment
// overrides. An empty path loads defaults and environment only.
func LoadConfig(path string) (*Config, error) {
	v := newViper()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	return decode(v)
}

// LoadConfigFrom reads configuration of the given type ("yaml", "json",
// "toml") from data.
func LoadConfigFrom(data []byte, configType string) (*Config, error) {
	v := newViper()
	v.SetConfigType(configType)
	if err := v.ReadConfig(bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", configType, err)
	}
	return decode(v)
}

// Marshal renders cfg as YAML.
func Marshal(cfg *Config) ([]byte, error) {
	return yaml.Marshal(cfg)
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v, DefaultConfig())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// setDefaults registers every scalar key so environment overrides apply
// even when the file omits the key.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("node.id", d.Node.ID)

	v.SetDefault("raft.electionTimeoutMin", d.Raft.ElectionTimeoutMin)
	v.SetDefault("raft.electionTimeoutMax", d.Raft.ElectionTimeoutMax)
	v.SetDefault("raft.heartbeatInterval", d.Raft.HeartbeatInterval)
	v.SetDefault("raft.tickInterval", d.Raft.TickInterval)
	v.SetDefault("raft.rpcTimeout", d.Raft.RPCTimeout)
	v.SetDefault("raft.maxEntriesPerRPC", d.Raft.MaxEntriesPerRPC)
	v.SetDefault("raft.maxBytesPerRPC", d.Raft.MaxBytesPerRPC)
	v.SetDefault("raft.leaderNoOp", d.Raft.LeaderNoOp)

	v.SetDefault("storage.type", d.Storage.Type)
	v.SetDefault("storage.dataDir", d.Storage.DataDir)

	v.SetDefault("transport.type", d.Transport.Type)
	v.SetDefault("transport.timeout", d.Transport.Timeout)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("logging.output", d.Logging.Output)

	v.SetDefault("api.enabled", d.API.Enabled)
	v.SetDefault("api.address", d.API.Address)
	v.SetDefault("api.readTimeout", d.API.ReadTimeout)
	v.SetDefault("api.writeTimeout", d.API.WriteTimeout)
	v.SetDefault("api.commitTimeout", d.API.CommitTimeout)
	v.SetDefault("api.rateLimit", d.API.RateLimit)
}

func decode(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	return cfg, nil
}
