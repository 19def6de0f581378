package storage

import "testing"

func TestCompactRollsGenerationAndResetsWAL(t *testing.T) {
	db, err := Open("", Options{WALPageCount: 4})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	tx, err := db.Begin()
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	id, err := tx.CreateNode("k", true, nil)
	if err != nil {
		t.Fatalf("CreateNode: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	genBefore := db.Generation()
	if err := db.Compact(); err != nil {
		t.Fatalf("Compact: %v", err)
	}
	if db.Generation() != genBefore+1 {
		t.Fatalf("generation = %d, want %d", db.Generation(), genBefore+1)
	}
	if db.wal.Head() != 0 || db.wal.Tail() != 0 {
		t.Fatalf("WAL not reset after compaction: head=%d tail=%d", db.wal.Head(), db.wal.Tail())
	}
	if !db.HasNode(id) {
		t.Fatalf("node %d lost across compaction", id)
	}
}

func TestCompactRejectsActiveTransaction(t *testing.T) {
	db, err := Open("", Options{WALPageCount: 4})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	tx, err := db.Begin()
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	defer tx.Rollback()

	if err := db.Compact(); err == nil {
		t.Fatalf("expected error compacting while a transaction is active")
	}
}
