package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadConfigMissingPathIsNotAnError(t *testing.T) {
	cfg, err := loadConfig("")
	if err != nil {
		t.Fatalf("loadConfig(\"\"): %v", err)
	}
	if cfg.PageSize != 0 {
		t.Fatalf("expected zero-value config, got %+v", cfg)
	}
}

func TestLoadConfigParsesYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "raydb.yaml")
	yaml := "page_size: 8192\nwal_page_count: 512\ncompact_delta_entries: 1000\nreplication_listen: \":9000\"\n"
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := loadConfig(path)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.PageSize != 8192 {
		t.Fatalf("PageSize = %d, want 8192", cfg.PageSize)
	}
	if cfg.WALPageCount != 512 {
		t.Fatalf("WALPageCount = %d, want 512", cfg.WALPageCount)
	}
	if cfg.CompactDeltaCount != 1000 {
		t.Fatalf("CompactDeltaCount = %d, want 1000", cfg.CompactDeltaCount)
	}
	if cfg.ReplicationListen != ":9000" {
		t.Fatalf("ReplicationListen = %q, want :9000", cfg.ReplicationListen)
	}
}

func TestCompactThresholdsFallBackToDefaults(t *testing.T) {
	cfg := Config{}
	th := cfg.compactThresholds()
	if th.DeltaEntries != 50000 {
		t.Fatalf("DeltaEntries = %d, want default 50000", th.DeltaEntries)
	}

	cfg.CompactDeltaCount = 10
	th = cfg.compactThresholds()
	if th.DeltaEntries != 10 {
		t.Fatalf("DeltaEntries = %d, want overridden 10", th.DeltaEntries)
	}
}
