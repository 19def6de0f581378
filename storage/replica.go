package storage

import (
	"fmt"

	"github.com/rayford/raydb/graph"
	"github.com/rayford/raydb/raylog"
)

// Replica-side apply path: a follower consumes a primary's snapshot blob
// and log frames, in order. A follower is an ordinary read-write DB that
// is only ever mutated by InstallSnapshot and a ReplicaApplier; it never
// runs its own transactions while following a primary.

// InstallSnapshot writes a primary's sealed snapshot bytes into fresh
// pages of this database and makes them the active generation: the full
// reseed a replica performs when it has no cursor, or when its cursor's
// epoch no longer matches the primary ("mismatched epoch triggers a full
// reseed"). The sealed bytes carry their own generation and CRC; both are
// verified before the header is rewritten, so a torn or corrupt blob
// leaves the replica on its previous generation.
func (db *DB) InstallSnapshot(data []byte, epoch uint64) error {
	if db.readOnly {
		return ErrReadOnly
	}
	if !db.writers.TryAcquireWriter() {
		return errInvalid("db.InstallSnapshot", fmt.Errorf("cannot install a snapshot while a transaction is active"))
	}
	defer db.writers.ReleaseWriter()

	pageSize := db.pager.PageSize()
	pages := (len(data) + pageSize - 1) / pageSize
	if pages == 0 {
		return errInvalid("db.InstallSnapshot", fmt.Errorf("empty snapshot blob"))
	}
	first, err := db.pager.AllocatePages(pages)
	if err != nil {
		return err
	}
	if err := writeLinear(db.pager, first, data); err != nil {
		return err
	}
	if err := db.pager.Sync(); err != nil {
		return err
	}

	snap, _, err := readSnapshot(db.pager, first, uint64(pages))
	if err != nil {
		return err
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	db.header.PrevSnapshotGen = db.header.ActiveSnapshotGen
	db.header.ActiveSnapshotGen = snap.Generation
	db.header.SnapshotStartPage = uint64(first)
	db.header.SnapshotPageCount = uint64(pages)
	db.header.WALHead = 0
	db.header.WALTail = 0
	db.header.Epoch = epoch
	db.header.ChangeCounter++
	if uint64(snap.MaxNodeID) > db.header.MaxNodeID {
		db.header.MaxNodeID = uint64(snap.MaxNodeID)
	}
	if err := db.writeHeaderLocked(); err != nil {
		snap.Close()
		return err
	}

	db.wal.Reset()
	db.delta = NewDelta()
	if old := db.snap; old != nil {
		old.Close()
	}
	db.snap = snap
	if snap.MaxNodeID > db.maxNodeID {
		db.maxNodeID = snap.MaxNodeID
		db.nextNode = db.maxNodeID + 1
	}
	db.rebuildDictionaryIndex()
	db.values.Clear()
	db.trav.Clear()

	keys, err := newKeyIndex(db.pager, snap, nil)
	if err != nil {
		return err
	}
	db.keys = keys

	snapLogger := raylog.WithGeneration(snap.Generation)
	snapLogger.Info().
		Uint64("epoch", epoch).
		Int("bytes", len(data)).
		Msg("snapshot_installed")
	return nil
}

// ReplicaApplier feeds a primary's log frames into a replica in order.
// Records buffer per transaction until that transaction's COMMIT frame
// arrives, at which point the whole group is appended to the replica's
// own WAL, fsynced, folded into the delta, and the header rewritten —
// the same commit point discipline the primary itself follows, so a
// replica that crashes mid-stream recovers to a committed prefix.
type ReplicaApplier struct {
	db      *DB
	pending map[uint64][]WALRecord
}

// NewReplicaApplier returns an applier bound to db. At most one applier
// should feed a database at a time; frames must arrive in log order.
func (db *DB) NewReplicaApplier() *ReplicaApplier {
	return &ReplicaApplier{
		db:      db,
		pending: make(map[uint64][]WALRecord),
	}
}

// ApplyFrame decodes one encoded WAL record (the frame payload shipped by
// log_page with include_payload set) and applies it. Non-terminal records
// buffer; COMMIT makes the buffered transaction durable and visible;
// ABORT discards it.
func (a *ReplicaApplier) ApplyFrame(encoded []byte) error {
	if a.db.readOnly {
		return ErrReadOnly
	}
	rec, _, err := decodeWALRecord(encoded)
	if err != nil {
		return errCorrupt("replica.ApplyFrame", err)
	}

	switch rec.Type {
	case RecBegin:
		if _, ok := a.pending[rec.TxID]; !ok {
			a.pending[rec.TxID] = nil
		}
		return nil
	case RecAbort:
		delete(a.pending, rec.TxID)
		return nil
	case RecCommit:
		ops := a.pending[rec.TxID]
		delete(a.pending, rec.TxID)
		return a.commitGroup(rec.TxID, ops)
	default:
		a.pending[rec.TxID] = append(a.pending[rec.TxID], rec)
		return nil
	}
}

func (a *ReplicaApplier) commitGroup(txid uint64, ops []WALRecord) error {
	db := a.db
	db.writers.AcquireWriter()
	defer db.writers.ReleaseWriter()
	w := db.wal

	if err := w.Append(RecBegin, txid, nil); err != nil {
		return err
	}
	for _, op := range ops {
		if err := w.Append(op.Type, txid, op.Payload); err != nil {
			return err
		}
	}
	if err := w.Append(RecCommit, txid, nil); err != nil {
		return err
	}
	if err := w.Flush(); err != nil {
		return err
	}

	for _, op := range ops {
		applyRecoveredRecord(db, op)
	}

	db.mu.Lock()
	db.header.WALHead = w.Head()
	db.header.WALTail = w.Tail()
	db.header.ChangeCounter++
	db.header.MaxNodeID = uint64(db.maxNodeID)
	if db.maxNodeID+1 > db.nextNode {
		db.nextNode = db.maxNodeID + 1
	}
	if txid+1 > uint64(db.nextTxID) {
		db.nextTxID = graph.TxID(txid + 1)
	}
	db.header.NextTxID = uint64(db.nextTxID)
	db.header.LastCommitTSMs = db.clockMs()
	err := db.writeHeaderLocked()
	db.mu.Unlock()
	if err != nil {
		return err
	}

	db.values.Clear()
	db.trav.Clear()
	return nil
}
