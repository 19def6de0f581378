package metrics

import (
	"encoding/json"
	"testing"
	"time"
)

func TestBuildSnapshotMarshalsExpectedFields(t *testing.T) {
	snap := BuildSnapshot(time.Unix(0, 0).UTC(), Counters{
		WALBytesWritten:  10,
		WALFlushes:       2,
		CommitsTotal:     5,
		CompactionsTotal: 1,
		CacheHits:        7,
		CacheMisses:      3,
	}, Gauges{
		SnapshotBytes:     4096,
		DeltaEntries:      12,
		WALUsedFraction:   0.25,
		Epoch:             1,
		ActiveSnapshotGen: 2,
	})

	if snap.ResourceType != "raydb.engine" {
		t.Fatalf("resource_type = %q", snap.ResourceType)
	}

	raw, err := snap.MarshalJSONDocument()
	if err != nil {
		t.Fatalf("MarshalJSONDocument: %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	counters, ok := decoded["counters"].(map[string]any)
	if !ok {
		t.Fatalf("missing counters object")
	}
	if counters["commits_total"].(float64) != 5 {
		t.Fatalf("commits_total = %v, want 5", counters["commits_total"])
	}
	gauges, ok := decoded["gauges"].(map[string]any)
	if !ok {
		t.Fatalf("missing gauges object")
	}
	if gauges["active_snapshot_gen"].(float64) != 2 {
		t.Fatalf("active_snapshot_gen = %v, want 2", gauges["active_snapshot_gen"])
	}
}

func TestHandlerNotNil(t *testing.T) {
	if Handler() == nil {
		t.Fatalf("Handler() returned nil")
	}
}
