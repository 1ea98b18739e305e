// Package storage - on-disk YAML configuration for an engine instance.
//
// What: Loads the handful of tunables spec.md §6's configuration table
// calls out (region size, buffer budget, shard capacity, sweep interval,
// versioning strategy) from a YAML file.
// How: gopkg.in/yaml.v3 unmarshals directly into tagged structs,
// following the same plain-struct-with-sensible-defaults shape as
// tinySQL's MemoryPolicy/ConcurrencyConfig, generalized from Go-literal
// construction to a file callers can edit without recompiling.
package storage

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kallisti-db/pagestore/internal/pager"
)

// Config is the top-level on-disk configuration for a page store
// instance.
type Config struct {
	Path string `yaml:"path"`

	RegionSizeBytes  int    `yaml:"region_size"`
	MaxBufferBytes   int64  `yaml:"max_buffer_size"`
	Parallelism      int    `yaml:"parallelism"`
	ShardCount       int    `yaml:"shard_count"`
	ShardCapacity    int    `yaml:"shard_capacity"`
	SweepIntervalMS  int    `yaml:"sweeper_interval_ms"`
	VersioningPolicy string `yaml:"versioning"`
	SlidingWindow    int    `yaml:"sliding_window"`
	EpochSlots       int    `yaml:"epoch_slots"`
	DeweyIDsStored   bool   `yaml:"dewey_ids_stored"`

	Maintenance MaintenanceConfig `yaml:"maintenance"`
}

// MaintenanceConfig configures the background scheduler's probes.
type MaintenanceConfig struct {
	Workers        int    `yaml:"workers"`
	QueueDepth     int    `yaml:"queue_depth"`
	SweepCron      string `yaml:"sweep_cron"`       // not read by Open; the sweep probe runs every SweepIntervalMS
	CheckpointCron string `yaml:"checkpoint_cron"`  // standard six-field cron.WithSeconds expression
}

// DefaultConfig returns a Config with the same defaults
// pager.EngineConfig.withDefaults applies, plus sensible scheduler
// defaults.
func DefaultConfig(path string) Config {
	return Config{
		Path:             path,
		RegionSizeBytes:  1 << 20,
		MaxBufferBytes:   0,
		Parallelism:      4,
		ShardCount:       64,
		ShardCapacity:    0,
		SweepIntervalMS:  2000,
		VersioningPolicy: "INCREMENTAL",
		SlidingWindow:    4,
		EpochSlots:       1024,
		Maintenance: MaintenanceConfig{
			Workers:    2,
			QueueDepth: 32,
		},
	}
}

// LoadConfig reads and parses a YAML configuration file at path.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("storage: read config %q: %w", path, err)
	}
	cfg := DefaultConfig("")
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("storage: parse config %q: %w", path, err)
	}
	return cfg, nil
}

// EngineConfig converts the on-disk configuration into the
// pager.EngineConfig OpenStorageEngine expects. ExternalSweepDriver is
// always set: Open wires the resulting engine's sweep pass into this
// package's own Scheduler/WorkerPool rather than letting the engine run
// an unsupervised ticker of its own.
func (c Config) EngineConfig() pager.EngineConfig {
	return pager.EngineConfig{
		Path:                c.Path,
		RegionSize:          c.RegionSizeBytes,
		MaxBufferSize:       c.MaxBufferBytes,
		Parallelism:         c.Parallelism,
		ShardCount:          c.ShardCount,
		ShardCapacity:       c.ShardCapacity,
		SweepInterval:       time.Duration(c.SweepIntervalMS) * time.Millisecond,
		VersioningStrategy:  c.VersioningPolicy,
		SlidingWindow:       c.SlidingWindow,
		EpochSlots:          c.EpochSlots,
		DeweyIDsStored:      c.DeweyIDsStored,
		ExternalSweepDriver: true,
	}
}
