package storage

import "fmt"

// Cursor is the opaque position a replica resumes log_page from: epoch,
// log index, segment, segment offset. The WAL never
// spans a compaction (Compact resets it to empty), so the active snapshot
// generation number already identifies a segment uniquely within one
// open database; replication/transport.go maps generation numbers onto
// the stable UUID strings the wire format names `segment_id`.
type Cursor struct {
	Epoch         uint64
	LogIndex      uint64
	Generation    uint64
	SegmentOffset uint64
}

// LogFrame is one WAL record projected for replication. segment_id is
// excluded here since it is a transport-layer concern.
type LogFrame struct {
	Epoch         uint64
	LogIndex      uint64
	Generation    uint64
	SegmentOffset uint64
	Bytes         uint32
	Payload       []byte // nil unless includePayload was set
}

// LogPageResult is LogPage's decoded return value.
type LogPageResult struct {
	Frames []LogFrame
	Next   Cursor
	EOF    bool
}

// SnapshotBlobResult is SnapshotBlob's decoded return value.
type SnapshotBlobResult struct {
	Format         string
	ByteLength     uint64
	ChecksumCRC32C uint32
	GeneratedAtMs  uint64
	Epoch          uint64
	HeadLogIndex   uint64
	RetainedFloor  uint64
	StartCursor    Cursor
	Data           []byte // nil unless includeData was set
}

// Generation returns the currently active snapshot generation number.
func (db *DB) Generation() uint64 {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.header.ActiveSnapshotGen
}

// Epoch returns the database's current replication epoch.
func (db *DB) Epoch() uint64 {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.header.Epoch
}

// PromoteEpoch atomically bumps header.epoch and durably writes it,
// forcing every replica to re-anchor its cursor on its next log_page
// call.
func (db *DB) PromoteEpoch() (uint64, error) {
	if db.readOnly {
		return 0, ErrReadOnly
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	db.header.Epoch++
	db.header.ChangeCounter++
	if err := db.writeHeaderLocked(); err != nil {
		return 0, err
	}
	return db.header.Epoch, nil
}

// SnapshotBlob returns the active generation's metadata, the cursor a
// replica should start streaming from (the WAL tail: every record from
// there on was committed after the sealed generation), and, when
// includeData is true, the raw sealed bytes.
func (db *DB) SnapshotBlob(includeData bool) (SnapshotBlobResult, error) {
	db.mu.Lock()
	h := *db.header
	pageSize := db.pager.PageSize()
	db.mu.Unlock()

	res := SnapshotBlobResult{
		Format:        "raydb-snapshot-v1",
		ByteLength:    h.SnapshotPageCount * uint64(pageSize),
		GeneratedAtMs: db.clockMs(),
		Epoch:         h.Epoch,
		HeadLogIndex:  h.WALHead,
		RetainedFloor: h.WALTail,
		StartCursor: Cursor{
			Epoch:         h.Epoch,
			Generation:    h.ActiveSnapshotGen,
			LogIndex:      h.WALTail,
			SegmentOffset: h.WALTail,
		},
	}

	if h.SnapshotPageCount > 0 {
		raw, err := readLinear(db.pager, uint32(h.SnapshotStartPage), int(res.ByteLength))
		if err != nil {
			return SnapshotBlobResult{}, err
		}
		res.ChecksumCRC32C = crc32c(raw)
		if includeData {
			res.Data = raw
		}
	}
	return res, nil
}

// LogPage returns up to maxFrames/maxBytes WAL records starting at
// cursor, plus the cursor a caller resumes from next and an end-of-log
// flag. A cursor whose epoch or generation no longer
// matches the live database forces the caller back to SnapshotBlob — the
// segment it names has been retired by a compaction or epoch promotion
// since it was issued; a stale cursor means the replica must reseed.
func (db *DB) LogPage(cursor Cursor, maxFrames, maxBytes int, includePayload bool) (LogPageResult, error) {
	db.mu.Lock()
	wal := db.wal
	epoch := db.header.Epoch
	gen := db.header.ActiveSnapshotGen
	db.mu.Unlock()

	if cursor.Epoch != epoch || cursor.Generation != gen {
		return LogPageResult{}, errInvalid("db.LogPage", fmt.Errorf("cursor stale (epoch %d/gen %d vs live %d/%d): reseed required", cursor.Epoch, cursor.Generation, epoch, gen))
	}

	raws, next, eof := wal.ScanFrom(cursor.SegmentOffset, maxFrames, maxBytes)
	frames := make([]LogFrame, 0, len(raws))
	for _, r := range raws {
		f := LogFrame{
			Epoch:         epoch,
			LogIndex:      r.Offset,
			Generation:    gen,
			SegmentOffset: r.Offset,
			Bytes:         uint32(r.EncodedLen),
		}
		if includePayload {
			f.Payload = encodeWALRecord(r.Record.Type, r.Record.TxID, r.Record.Payload)
		}
		frames = append(frames, f)
	}
	return LogPageResult{
		Frames: frames,
		Next: Cursor{
			Epoch:         epoch,
			Generation:    gen,
			LogIndex:      next,
			SegmentOffset: next,
		},
		EOF: eof,
	}, nil
}
