// Package config loads the operational knobs in spec.md §6.5 from YAML,
// in the layered-config style used across the example corpus's
// compose-go-backed projects.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults match spec.md §6.5 / §4.1 / §4.6.
const (
	DefaultChunkSize     = 1 << 20 // 1 MiB
	DefaultFutureTimeout = 300 * time.Second
	DefaultWorkerPool    = 4
)

// Config holds the bind address plus the handful of tunables spec.md calls
// out as operational knobs.
type Config struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// MaxMessageSize caps a single inbound frame; 0 means unlimited. Must
	// not exceed ChunkSize.
	MaxMessageSize int `yaml:"maxMessageSize"`

	Verbose bool `yaml:"verbose"`

	FutureTimeout time.Duration `yaml:"futureTimeout"`
	WorkerPool    int           `yaml:"workerPool"`
	ChunkSize     int           `yaml:"chunkSize"`
}

// Default returns a Config populated with spec.md's defaults.
func Default() Config {
	return Config{
		Host:           "0.0.0.0",
		Port:           4014,
		MaxMessageSize: 0,
		Verbose:        false,
		FutureTimeout:  DefaultFutureTimeout,
		WorkerPool:     DefaultWorkerPool,
		ChunkSize:      DefaultChunkSize,
	}
}

// Load reads a YAML config file, overlaying it onto Default().
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config %q: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config %q: %w", path, err)
	}

	return cfg, cfg.Validate()
}

// Validate checks the cross-field invariants spec.md requires: max message
// size, when set, cannot exceed the chunk size.
func (c Config) Validate() error {
	if c.ChunkSize <= 0 {
		return fmt.Errorf("chunkSize must be positive, got %d", c.ChunkSize)
	}
	if c.MaxMessageSize > c.ChunkSize {
		return fmt.Errorf("maxMessageSize (%d) cannot exceed chunkSize (%d)", c.MaxMessageSize, c.ChunkSize)
	}
	if c.WorkerPool <= 0 {
		return fmt.Errorf("workerPool must be positive, got %d", c.WorkerPool)
	}
	if c.FutureTimeout <= 0 {
		return fmt.Errorf("futureTimeout must be positive, got %s", c.FutureTimeout)
	}
	return nil
}

// Addr returns the listen address in host:port form.
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
