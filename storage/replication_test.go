package storage

import "testing"

func TestSnapshotBlobAndLogPageRoundTrip(t *testing.T) {
	db, err := Open("", Options{WALPageCount: 4})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	tx, err := db.Begin()
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if _, err := tx.CreateNode("a", true, nil); err != nil {
		t.Fatalf("CreateNode: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	blob, err := db.SnapshotBlob(false)
	if err != nil {
		t.Fatalf("SnapshotBlob: %v", err)
	}
	if blob.Format != "raydb-snapshot-v1" {
		t.Fatalf("unexpected format %q", blob.Format)
	}
	if blob.StartCursor.Epoch != db.Epoch() {
		t.Fatalf("start cursor epoch %d != db epoch %d", blob.StartCursor.Epoch, db.Epoch())
	}

	page, err := db.LogPage(blob.StartCursor, 0, 0, true)
	if err != nil {
		t.Fatalf("LogPage: %v", err)
	}
	if len(page.Frames) == 0 {
		t.Fatalf("expected at least one frame after a commit")
	}
	for _, f := range page.Frames {
		if len(f.Payload) == 0 {
			t.Fatalf("includePayload=true but frame has no payload")
		}
	}
}

func TestLogPageRejectsStaleCursor(t *testing.T) {
	db, err := Open("", Options{WALPageCount: 4})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	stale := Cursor{Epoch: 999, Generation: 999}
	if _, err := db.LogPage(stale, 0, 0, false); err == nil {
		t.Fatalf("expected error for cursor with mismatched epoch/generation")
	}
}

func TestPromoteEpochBumpsEpoch(t *testing.T) {
	db, err := Open("", Options{WALPageCount: 4})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	before := db.Epoch()
	after, err := db.PromoteEpoch()
	if err != nil {
		t.Fatalf("PromoteEpoch: %v", err)
	}
	if after != before+1 {
		t.Fatalf("epoch = %d, want %d", after, before+1)
	}
	if db.Epoch() != after {
		t.Fatalf("db.Epoch() = %d, want %d", db.Epoch(), after)
	}
}
