package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rayford/raydb"
	"github.com/rayford/raydb/graph"
)

func openTemp(t *testing.T, name string) (*DB, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	db, err := Open(path, Options{CreateIfMissing: true})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return db, path
}

func commitNode(t *testing.T, db *DB, key string) graph.NodeID {
	t.Helper()
	tx, err := db.Begin()
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	id, err := tx.CreateNode(key, true, nil)
	if err != nil {
		t.Fatalf("CreateNode: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	return id
}

// TestOpenInsertReopen: create, insert one keyed node with a property in a
// single transaction, close, reopen, and check the node resolves by key
// with its property intact.
func TestOpenInsertReopen(t *testing.T) {
	db, path := openTemp(t, "s1.raydb")

	tx, err := db.Begin()
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	personLabel, err := db.DefineLabelIfAbsent(tx, "Person")
	if err != nil {
		t.Fatalf("DefineLabelIfAbsent: %v", err)
	}
	nameKey, err := db.DefinePropKeyIfAbsent(tx, "name")
	if err != nil {
		t.Fatalf("DefinePropKeyIfAbsent: %v", err)
	}
	id, err := tx.CreateNode("alice", true, []graph.LabelID{personLabel})
	if err != nil {
		t.Fatalf("CreateNode: %v", err)
	}
	if err := tx.SetNodeProp(id, nameKey, graph.StringValue("Alice")); err != nil {
		t.Fatalf("SetNodeProp: %v", err)
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

	got, ok := reopened.LookupKey("alice")
	if !ok {
		t.Fatalf("key alice not found after reopen")
	}
	if got != id {
		t.Fatalf("LookupKey = %d, want %d", got, id)
	}
	nk, _ := reopened.PropKeyID("name")
	v, ok := reopened.NodeProp(got, nk)
	if !ok || !v.Equal(graph.StringValue("Alice")) {
		t.Fatalf("name = %v (present=%t), want Alice", v, ok)
	}
	labels := reopened.NodeLabels(got)
	if len(labels) != 1 {
		t.Fatalf("labels = %v, want exactly one", labels)
	}
	if name, _ := reopened.LabelName(labels[0]); name != "Person" {
		t.Fatalf("label name = %q, want Person", name)
	}
	if stats := reopened.Stat(); stats.MaxNodeID != id {
		t.Fatalf("stats.MaxNodeID = %d, want %d", stats.MaxNodeID, id)
	}
	if n := reopened.NodeCount(); n != 1 {
		t.Fatalf("NodeCount = %d, want 1", n)
	}
}

// TestUncommittedWorkInvisibleAfterReopen: mutations staged but never
// committed leave no trace after close and reopen.
func TestUncommittedWorkInvisibleAfterReopen(t *testing.T) {
	db, path := openTemp(t, "s2.raydb")

	tx, err := db.Begin()
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if _, err := tx.CreateNode("alice", true, nil); err != nil {
		t.Fatalf("CreateNode: %v", err)
	}
	// No commit: close with the transaction still staged.
	if err := db.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := Open(path, Options{})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	if _, ok := reopened.LookupKey("alice"); ok {
		t.Fatalf("uncommitted node visible after reopen")
	}
	if n := reopened.NodeCount(); n != 0 {
		t.Fatalf("NodeCount = %d, want 0", n)
	}
}

// TestRollbackDiscardsDictionaryDefinitions: a name defined inside a
// rolled-back transaction must leave no trace in the live dictionaries,
// and a later transaction must be able to claim it with a fresh id that
// does resolve.
func TestRollbackDiscardsDictionaryDefinitions(t *testing.T) {
	db, err := Open("", Options{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	tx, err := db.Begin()
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	ghost, err := db.DefineLabelIfAbsent(tx, "Person")
	if err != nil {
		t.Fatalf("DefineLabelIfAbsent: %v", err)
	}
	if _, err := db.DefinePropKeyIfAbsent(tx, "name"); err != nil {
		t.Fatalf("DefinePropKeyIfAbsent: %v", err)
	}
	tx.Rollback()

	if _, ok := db.LabelID("Person"); ok {
		t.Fatalf("rolled-back label still resolves by name")
	}
	if _, ok := db.PropKeyID("name"); ok {
		t.Fatalf("rolled-back propkey still resolves by name")
	}
	if _, ok := db.LabelName(ghost); ok {
		t.Fatalf("rolled-back label id %d still resolves to a name", ghost)
	}

	tx2, err := db.Begin()
	if err != nil {
		t.Fatalf("Begin after rollback: %v", err)
	}
	person, err := db.DefineLabelIfAbsent(tx2, "Person")
	if err != nil {
		t.Fatalf("DefineLabelIfAbsent retry: %v", err)
	}
	id, err := tx2.CreateNode("alice", true, []graph.LabelID{person})
	if err != nil {
		t.Fatalf("CreateNode: %v", err)
	}
	if err := tx2.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	got, ok := db.LabelID("Person")
	if !ok || got != person {
		t.Fatalf("LabelID(Person) = (%d, %t), want (%d, true)", got, ok, person)
	}
	if name, ok := db.LabelName(person); !ok || name != "Person" {
		t.Fatalf("LabelName(%d) = (%q, %t), want Person", person, name, ok)
	}
	labels := db.NodeLabels(id)
	if len(labels) != 1 || labels[0] != person {
		t.Fatalf("node labels = %v, want [%d]", labels, person)
	}
}

// TestWALTruncationRecoversPrefix: zero out the tail of the used WAL range
// and reopen. Some prefix of the committed transactions survives, no
// transaction is partially visible, and the handle still accepts commits.
func TestWALTruncationRecoversPrefix(t *testing.T) {
	db, path := openTemp(t, "s3.raydb")

	const total = 20
	ids := make([]graph.NodeID, 0, total)
	for i := 0; i < total; i++ {
		ids = append(ids, commitNode(t, db, fmt.Sprintf("n%02d", i)))
	}

	pageSize := db.pager.PageSize()
	walStart := db.header.WALStartPage
	head := db.wal.Head()
	if err := db.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Zero the final 30% of used WAL bytes. head is well under capacity
	// here, so logical offsets map 1:1 onto the ring's file range.
	cut := head * 7 / 10
	f, err := os.OpenFile(path, os.O_RDWR, 0644)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	zeros := make([]byte, head-cut)
	if _, err := f.WriteAt(zeros, int64(walStart)*int64(pageSize)+int64(cut)); err != nil {
		t.Fatalf("WriteAt: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("file close: %v", err)
	}

	reopened, err := Open(path, Options{})
	if err != nil {
		t.Fatalf("reopen after truncation: %v", err)
	}
	defer reopened.Close()

	visible := 0
	for _, id := range ids {
		if reopened.HasNode(id) {
			visible++
		}
	}
	if visible == total {
		t.Fatalf("zeroed 30%% of the WAL but all %d transactions survived", total)
	}
	// Visibility must be a prefix: once one transaction is gone, every
	// later one is too.
	seenGap := false
	for _, id := range ids {
		has := reopened.HasNode(id)
		if seenGap && has {
			t.Fatalf("node %d visible after an earlier transaction was dropped", id)
		}
		if !has {
			seenGap = true
		}
	}

	id := commitNode(t, reopened, "after-truncation")
	if !reopened.HasNode(id) {
		t.Fatalf("commit after truncated-WAL recovery did not take")
	}
}

// TestWALByteFlipDropsAffectedTransaction: flip one byte inside the first
// WAL record. Reopen either fails Corrupt or shows none of the affected
// transaction's work — never a partial transaction.
func TestWALByteFlipDropsAffectedTransaction(t *testing.T) {
	db, path := openTemp(t, "s4.raydb")

	const total = 50
	ids := make([]graph.NodeID, 0, total)
	for i := 0; i < total; i++ {
		ids = append(ids, commitNode(t, db, fmt.Sprintf("n%02d", i)))
	}
	pageSize := db.pager.PageSize()
	walStart := db.header.WALStartPage
	if err := db.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// The first record in the ring is transaction 1's BEGIN; flip a byte of
	// its txid field.
	f, err := os.OpenFile(path, os.O_RDWR, 0644)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	off := int64(walStart)*int64(pageSize) + 4
	buf := make([]byte, 1)
	if _, err := f.ReadAt(buf, off); err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	buf[0] ^= 0xFF
	if _, err := f.WriteAt(buf, off); err != nil {
		t.Fatalf("WriteAt: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("file close: %v", err)
	}

	reopened, err := Open(path, Options{})
	if err != nil {
		if !raydb.Is(err, raydb.CodeCorrupt) {
			t.Fatalf("open failed with %v, want Corrupt", err)
		}
		return
	}
	defer reopened.Close()

	if reopened.HasNode(ids[0]) {
		t.Fatalf("transaction behind the corrupted record is still visible")
	}
}

// TestCompactionIdempotence: two compactions with a reopen between them
// preserve every node, and each compaction bumps the generation by
// exactly one.
func TestCompactionIdempotence(t *testing.T) {
	db, path := openTemp(t, "s5.raydb")

	ids := make([]graph.NodeID, 0, 150)
	for i := 0; i < 100; i++ {
		ids = append(ids, commitNode(t, db, fmt.Sprintf("pre%03d", i)))
	}
	if err := db.Compact(); err != nil {
		t.Fatalf("Compact: %v", err)
	}
	if db.Generation() != 1 {
		t.Fatalf("generation = %d after first compaction, want 1", db.Generation())
	}
	for i := 0; i < 50; i++ {
		ids = append(ids, commitNode(t, db, fmt.Sprintf("post%03d", i)))
	}
	if err := db.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := Open(path, Options{})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	if err := reopened.Compact(); err != nil {
		t.Fatalf("second Compact: %v", err)
	}
	if reopened.Generation() != 2 {
		t.Fatalf("generation = %d after second compaction, want 2", reopened.Generation())
	}
	for _, id := range ids {
		if !reopened.HasNode(id) {
			t.Fatalf("node %d lost across compact/reopen/compact", id)
		}
	}
	if n := reopened.NodeCount(); n != 150 {
		t.Fatalf("NodeCount = %d, want 150", n)
	}
}

// TestBeginWaitsForCompaction holds the writer admission gate the way an
// in-flight compaction does and checks a concurrent Begin blocks until
// it is released instead of interleaving with the merge.
func TestBeginWaitsForCompaction(t *testing.T) {
	db, err := Open("", Options{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	db.writers.AcquireWriter()

	began := make(chan error, 1)
	go func() {
		tx, err := db.Begin()
		if err == nil {
			tx.Rollback()
		}
		began <- err
	}()

	select {
	case err := <-began:
		t.Fatalf("Begin returned (%v) while the writer gate was held", err)
	case <-time.After(50 * time.Millisecond):
	}

	db.writers.ReleaseWriter()

	select {
	case err := <-began:
		if err != nil {
			t.Fatalf("Begin after gate release: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("Begin never unblocked after the gate was released")
	}
}

// TestEdgesAcrossDeltaAndSnapshot drives adjacency reads through the
// traversal cache with edges split between the snapshot and the delta.
func TestEdgesAcrossDeltaAndSnapshot(t *testing.T) {
	db, err := Open("", Options{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	tx, err := db.Begin()
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	knows, err := db.DefineETypeIfAbsent(tx, "knows")
	if err != nil {
		t.Fatalf("DefineEType: %v", err)
	}
	a, _ := tx.CreateNode("a", true, nil)
	b, _ := tx.CreateNode("b", true, nil)
	c, _ := tx.CreateNode("c", true, nil)
	if err := tx.AddEdge(graph.Edge{Src: a, EType: knows, Dst: b}); err != nil {
		t.Fatalf("AddEdge: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	// a->b moves into the snapshot; a->c stays in the delta.
	if err := db.Compact(); err != nil {
		t.Fatalf("Compact: %v", err)
	}
	tx, err = db.Begin()
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := tx.AddEdge(graph.Edge{Src: a, EType: knows, Dst: c}); err != nil {
		t.Fatalf("AddEdge: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	out := db.OutNeighbors(a, knows)
	if len(out) != 2 || out[0] != b || out[1] != c {
		t.Fatalf("OutNeighbors = %v, want [%d %d]", out, b, c)
	}
	// Second read must come from the traversal cache and agree.
	again := db.OutNeighbors(a, knows)
	if len(again) != 2 || again[0] != b || again[1] != c {
		t.Fatalf("cached OutNeighbors = %v, want [%d %d]", again, b, c)
	}
	in := db.InNeighbors(c, knows)
	if len(in) != 1 || in[0] != a {
		t.Fatalf("InNeighbors = %v, want [%d]", in, a)
	}
	if !db.HasEdge(graph.Edge{Src: a, EType: knows, Dst: b}) {
		t.Fatalf("edge a->b missing")
	}

	// Deleting the snapshot-resident edge must invalidate the cached scan.
	tx, err = db.Begin()
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := tx.DeleteEdge(graph.Edge{Src: a, EType: knows, Dst: b}); err != nil {
		t.Fatalf("DeleteEdge: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	out = db.OutNeighbors(a, knows)
	if len(out) != 1 || out[0] != c {
		t.Fatalf("OutNeighbors after delete = %v, want [%d]", out, c)
	}
	if db.HasEdge(graph.Edge{Src: a, EType: knows, Dst: b}) {
		t.Fatalf("deleted edge a->b still visible")
	}
}

// TestPropertyCacheNeverStale: a cached property read must follow the
// authoritative view across overwrites and deletes.
func TestPropertyCacheNeverStale(t *testing.T) {
	db, err := Open("", Options{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	tx, _ := db.Begin()
	age, err := db.DefinePropKeyIfAbsent(tx, "age")
	if err != nil {
		t.Fatalf("DefinePropKey: %v", err)
	}
	id, _ := tx.CreateNode("alice", true, nil)
	if err := tx.SetNodeProp(id, age, graph.Int64Value(30)); err != nil {
		t.Fatalf("SetNodeProp: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if err := db.Compact(); err != nil {
		t.Fatalf("Compact: %v", err)
	}

	// First read misses and populates the cache, second read hits it.
	for i := 0; i < 2; i++ {
		v, ok := db.NodeProp(id, age)
		if !ok || v.Int64 != 30 {
			t.Fatalf("read %d: age = %v (present=%t), want 30", i, v, ok)
		}
	}

	tx, _ = db.Begin()
	if err := tx.SetNodeProp(id, age, graph.Int64Value(31)); err != nil {
		t.Fatalf("SetNodeProp: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if v, ok := db.NodeProp(id, age); !ok || v.Int64 != 31 {
		t.Fatalf("age after overwrite = %v (present=%t), want 31", v, ok)
	}

	tx, _ = db.Begin()
	if err := tx.DelNodeProp(id, age); err != nil {
		t.Fatalf("DelNodeProp: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if _, ok := db.NodeProp(id, age); ok {
		t.Fatalf("deleted property still readable")
	}
}

// TestWalBufferFullCompactGrowRetry drives the recovery loop for an
// undersized WAL: the commit fails typed, a compaction empties the ring,
// GrowWAL enlarges it, and the retried transaction lands.
func TestWalBufferFullCompactGrowRetry(t *testing.T) {
	db, err := Open("", Options{WALPageCount: 1})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	big := make([]byte, 3000)
	for i := range big {
		big[i] = 'x'
	}

	stageBigTx := func() error {
		tx, err := db.Begin()
		if err != nil {
			t.Fatalf("Begin: %v", err)
		}
		id, err := tx.CreateNode("big", true, nil)
		if err != nil {
			t.Fatalf("CreateNode: %v", err)
		}
		for k := graph.PropKeyID(1); k <= 2; k++ {
			if err := tx.SetNodeProp(id, k, graph.StringValue(string(big))); err != nil {
				t.Fatalf("SetNodeProp: %v", err)
			}
		}
		return tx.Commit()
	}

	err = stageBigTx()
	if !raydb.Is(err, raydb.CodeWalBufferFull) {
		t.Fatalf("commit into a one-page WAL = %v, want WalBufferFull", err)
	}
	if err := db.Compact(); err != nil {
		t.Fatalf("Compact: %v", err)
	}
	if err := db.GrowWAL(3); err != nil {
		t.Fatalf("GrowWAL: %v", err)
	}
	if err := stageBigTx(); err != nil {
		t.Fatalf("retry after compact+grow: %v", err)
	}
	if _, ok := db.LookupKey("big"); !ok {
		t.Fatalf("retried transaction's node missing")
	}
}

// TestMonotonicCountersAcrossReopen: change_counter, next_tx_id and
// max_node_id never move backwards across a crash-recover cycle.
func TestMonotonicCountersAcrossReopen(t *testing.T) {
	db, path := openTemp(t, "mono.raydb")
	for i := 0; i < 5; i++ {
		commitNode(t, db, fmt.Sprintf("n%d", i))
	}
	before := db.Stat()
	if err := db.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := Open(path, Options{})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	after := reopened.Stat()

	if after.ChangeCounter < before.ChangeCounter {
		t.Fatalf("change_counter went backwards: %d -> %d", before.ChangeCounter, after.ChangeCounter)
	}
	if after.NextTxID < before.NextTxID {
		t.Fatalf("next_tx_id went backwards: %d -> %d", before.NextTxID, after.NextTxID)
	}
	if after.MaxNodeID < before.MaxNodeID {
		t.Fatalf("max_node_id went backwards: %d -> %d", before.MaxNodeID, after.MaxNodeID)
	}
}

// TestDeleteNodeTombstone: a deleted snapshot-resident node disappears
// from every read path and stays gone across compaction.
func TestDeleteNodeTombstone(t *testing.T) {
	db, err := Open("", Options{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	id := commitNode(t, db, "doomed")
	if err := db.Compact(); err != nil {
		t.Fatalf("Compact: %v", err)
	}

	tx, _ := db.Begin()
	if err := tx.DeleteNode(id); err != nil {
		t.Fatalf("DeleteNode: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	if db.HasNode(id) {
		t.Fatalf("tombstoned node still visible")
	}
	if _, ok := db.LookupKey("doomed"); ok {
		t.Fatalf("tombstoned node still resolves by key")
	}
	if err := db.Compact(); err != nil {
		t.Fatalf("Compact: %v", err)
	}
	if db.HasNode(id) {
		t.Fatalf("tombstoned node resurrected by compaction")
	}
}
