package storage

import (
	"path/filepath"
	"testing"
)

// TestRecoveryReplaysCommittedTransactions simulates a crash by closing a
// file-backed database right after a commit (whose WAL records and header
// were already durably flushed) and reopening it, checking the committed
// node survives the WAL replay into a fresh delta.
func TestRecoveryReplaysCommittedTransactions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "recovery.raydb")

	db, err := Open(path, Options{WALPageCount: 4, CreateIfMissing: true})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	tx, err := db.Begin()
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	id, err := tx.CreateNode("alice", true, nil)
	if err != nil {
		t.Fatalf("CreateNode: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := Open(path, Options{})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	if !reopened.HasNode(id) {
		t.Fatalf("node %d not recovered after reopen", id)
	}
}

// TestRecoveryIgnoresUncommittedTransactions checks that WAL records for a
// transaction with no trailing COMMIT record are not folded into the
// recovered delta.
func TestRecoveryIgnoresUncommittedTransactions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "partial.raydb")

	db, err := Open(path, Options{WALPageCount: 4, CreateIfMissing: true})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	const txid = 1
	if err := db.wal.Append(RecBegin, txid, nil); err != nil {
		t.Fatalf("Append BEGIN: %v", err)
	}
	payload := encodeCreateNodePayload(99, "ghost", true, nil)
	if err := db.wal.Append(RecCreateNode, txid, payload); err != nil {
		t.Fatalf("Append CreateNode: %v", err)
	}
	if err := db.wal.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := Open(path, Options{})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	if reopened.HasNode(99) {
		t.Fatalf("node from an uncommitted transaction should not be recovered")
	}
}
