// Package daemon holds the TOML-backed configuration for the coordinator
// and node daemons, following this corpus's nested-struct config-file
// convention.
package daemon

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// APIConfig controls the coordinator's HTTP listener.
type APIConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// StorageConfig controls the coordinator's SQLite file location.
type StorageConfig struct {
	DataDir string `toml:"data_dir"`
}

// SchedulerConfig controls assignment and reclaim cadence.
type SchedulerConfig struct {
	AssignIntervalMs int    `toml:"assign_interval_ms"`
	ReclaimWindow    string `toml:"reclaim_window"`
	MaxChunkSize     int64  `toml:"max_chunk_size"`
}

// CoordinatorConfig is the coordinatord process configuration, loaded from
// a TOML file mirroring this corpus's daemon config layout.
type CoordinatorConfig struct {
	API       APIConfig       `toml:"api"`
	Storage   StorageConfig   `toml:"storage"`
	Scheduler SchedulerConfig `toml:"scheduler"`
}

// DefaultCoordinatorConfig returns coordinatord's out-of-the-box settings.
func DefaultCoordinatorConfig() CoordinatorConfig {
	return CoordinatorConfig{
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Storage: StorageConfig{
			DataDir: "./data",
		},
		Scheduler: SchedulerConfig{
			AssignIntervalMs: 1000,
			ReclaimWindow:    "10m",
			MaxChunkSize:     500,
		},
	}
}

// LoadCoordinatorConfig reads and parses a coordinator TOML config file,
// falling back to defaults for any field not present.
func LoadCoordinatorConfig(path string) (CoordinatorConfig, error) {
	cfg := DefaultCoordinatorConfig()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, fmt.Errorf("decode coordinator config %s: %w", path, err)
	}
	return cfg, nil
}

// NodeIdentity persists the node's assigned coordinator identity across
// restarts, once registration has completed.
type NodeIdentity struct {
	NodeID      string `toml:"node_id"`
	PrivateSeed string `toml:"private_seed_base64"`
}

// NodeConfig is the noded process configuration.
type NodeConfig struct {
	CoordinatorURL string       `toml:"coordinator_url"`
	Name           string       `toml:"name"`
	MaxParallel    int          `toml:"max_parallel"`
	Identity       NodeIdentity `toml:"identity"`
}

// DefaultNodeConfig returns noded's out-of-the-box settings. MaxParallel
// defaults to 0, meaning "use all detected cores" (resolved at startup).
func DefaultNodeConfig() NodeConfig {
	return NodeConfig{
		CoordinatorURL: "http://127.0.0.1:8080",
		Name:           "",
		MaxParallel:    0,
	}
}

// LoadNodeConfig reads and parses a node TOML config file, falling back to
// defaults (and an empty Identity, meaning "register fresh") for any field
// not present.
func LoadNodeConfig(path string) (NodeConfig, error) {
	cfg := DefaultNodeConfig()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, fmt.Errorf("decode node config %s: %w", path, err)
	}
	return cfg, nil
}

// SaveNodeConfig persists cfg as TOML, used to record the identity the
// coordinator assigned during registration so restarts skip it.
func SaveNodeConfig(path string, cfg NodeConfig) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create node config %s: %w", path, err)
	}
	defer f.Close()

	enc := toml.NewEncoder(f)
	if err := enc.Encode(cfg); err != nil {
		return fmt.Errorf("encode node config: %w", err)
	}
	return nil
}
