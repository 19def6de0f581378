package replication

import (
	"fmt"
	"testing"

	"github.com/rayford/raydb/graph"
	"github.com/rayford/raydb/storage"
)

func commitKeyedNode(t *testing.T, db *storage.DB, key string, nameKey graph.PropKeyID, name string) {
	t.Helper()
	tx, err := db.Begin()
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	id, err := tx.CreateNode(key, true, nil)
	if err != nil {
		t.Fatalf("CreateNode: %v", err)
	}
	if err := tx.SetNodeProp(id, nameKey, graph.StringValue(name)); err != nil {
		t.Fatalf("SetNodeProp: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
}

// TestReplicationRoundTrip seeds a replica from a primary's snapshot blob,
// then streams the log frames of ten further commits and checks the
// replica converges to the primary's node-by-node state.
func TestReplicationRoundTrip(t *testing.T) {
	primary, err := storage.Open("", storage.Options{})
	if err != nil {
		t.Fatalf("open primary: %v", err)
	}
	defer primary.Close()

	tx, err := primary.Begin()
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	nameKey, err := primary.DefinePropKeyIfAbsent(tx, "name")
	if err != nil {
		t.Fatalf("DefinePropKeyIfAbsent: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	for i := 0; i < 100; i++ {
		commitKeyedNode(t, primary, fmt.Sprintf("n%03d", i), nameKey, fmt.Sprintf("node %d", i))
	}
	// Seal the hundred nodes into a snapshot generation the blob can carry.
	if err := primary.Compact(); err != nil {
		t.Fatalf("Compact: %v", err)
	}

	tr := NewTransport(primary)
	blob, err := tr.SnapshotBlob(true)
	if err != nil {
		t.Fatalf("SnapshotBlob: %v", err)
	}
	if blob.DataBase64 == "" {
		t.Fatalf("snapshot blob carries no data")
	}

	replica, err := storage.Open("", storage.Options{})
	if err != nil {
		t.Fatalf("open replica: %v", err)
	}
	defer replica.Close()
	if err := ApplySnapshotBlob(replica, blob); err != nil {
		t.Fatalf("ApplySnapshotBlob: %v", err)
	}
	if got := replica.NodeCount(); got != 100 {
		t.Fatalf("replica holds %d nodes after reseed, want 100", got)
	}

	for i := 100; i < 110; i++ {
		commitKeyedNode(t, primary, fmt.Sprintf("n%03d", i), nameKey, fmt.Sprintf("node %d", i))
	}

	applier := replica.NewReplicaApplier()
	cursorToken := blob.StartCursor
	for {
		cursor, err := ParseCursor(cursorToken)
		if err != nil {
			t.Fatalf("ParseCursor: %v", err)
		}
		page, err := tr.LogPage(cursor, 7, 0, true)
		if err != nil {
			t.Fatalf("LogPage: %v", err)
		}
		if err := ApplyLogPage(applier, page); err != nil {
			t.Fatalf("ApplyLogPage: %v", err)
		}
		cursorToken = page.Next
		if page.EOF {
			break
		}
	}

	if got := replica.NodeCount(); got != 110 {
		t.Fatalf("replica holds %d nodes after streaming, want 110", got)
	}
	replicaNameKey, ok := replica.PropKeyID("name")
	if !ok {
		t.Fatalf("replica did not learn the name propkey")
	}
	for i := 0; i < 110; i++ {
		key := fmt.Sprintf("n%03d", i)
		pid, ok := primary.LookupKey(key)
		if !ok {
			t.Fatalf("primary lost key %s", key)
		}
		rid, ok := replica.LookupKey(key)
		if !ok {
			t.Fatalf("replica missing key %s", key)
		}
		if rid != pid {
			t.Fatalf("key %s: replica node %d != primary node %d", key, rid, pid)
		}
		pv, _ := primary.NodeProp(pid, nameKey)
		rv, ok := replica.NodeProp(rid, replicaNameKey)
		if !ok || !rv.Equal(pv) {
			t.Fatalf("key %s: replica name %v (present=%t) != primary %v", key, rv, ok, pv)
		}
	}
}

// TestApplySnapshotBlobRejectsChecksumMismatch corrupts the transported
// checksum field; the replica must refuse to install the blob.
func TestApplySnapshotBlobRejectsChecksumMismatch(t *testing.T) {
	primary, err := storage.Open("", storage.Options{})
	if err != nil {
		t.Fatalf("open primary: %v", err)
	}
	defer primary.Close()

	tx, _ := primary.Begin()
	if _, err := tx.CreateNode("a", true, nil); err != nil {
		t.Fatalf("CreateNode: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if err := primary.Compact(); err != nil {
		t.Fatalf("Compact: %v", err)
	}

	tr := NewTransport(primary)
	blob, err := tr.SnapshotBlob(true)
	if err != nil {
		t.Fatalf("SnapshotBlob: %v", err)
	}
	blob.ChecksumCRC32C ^= 0xDEADBEEF

	replica, err := storage.Open("", storage.Options{})
	if err != nil {
		t.Fatalf("open replica: %v", err)
	}
	defer replica.Close()
	if err := ApplySnapshotBlob(replica, blob); err == nil {
		t.Fatalf("expected checksum mismatch error")
	}
}
