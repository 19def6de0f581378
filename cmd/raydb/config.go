package main

import (
	"os"

	"gopkg.in/yaml.v3"

	"github.com/rayford/raydb/storage"
)

// Config is the optional YAML config `raydb` loads before overlaying CLI
// flags on top: page size, WAL size, compaction thresholds, replication
// listen address.
type Config struct {
	PageSize          int    `yaml:"page_size"`
	WALPageCount      uint32 `yaml:"wal_page_count"`
	ValueCacheSize    int    `yaml:"value_cache_size"`
	CompactWALBytes   uint64 `yaml:"compact_wal_bytes"`
	CompactDeltaCount int    `yaml:"compact_delta_entries"`
	ReplicationListen string `yaml:"replication_listen"`
	LogLevel          string `yaml:"log_level"`
	LogJSON           bool   `yaml:"log_json"`
}

// loadConfig reads path, if non-empty, and returns its parsed contents.
// A missing path is not an error: every field then takes its zero value
// and the caller's storage.Options defaults apply, so flags and defaults
// win over an absent config.
func loadConfig(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// storageOptions projects the config (and any CLI overrides already
// folded into it by the caller) onto storage.Options.
func (c Config) storageOptions(readOnly bool) storage.Options {
	return storage.Options{
		PageSize:       c.PageSize,
		ReadOnly:       readOnly,
		WALPageCount:   c.WALPageCount,
		ValueCacheSize: c.ValueCacheSize,
	}
}

// compactThresholds projects the config onto storage.CompactThresholds,
// falling back to storage.DefaultCompactThresholds for unset fields.
func (c Config) compactThresholds() storage.CompactThresholds {
	t := storage.DefaultCompactThresholds()
	if c.CompactWALBytes > 0 {
		t.WALBytes = c.CompactWALBytes
	}
	if c.CompactDeltaCount > 0 {
		t.DeltaEntries = c.CompactDeltaCount
	}
	return t
}
