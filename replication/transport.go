package replication

import (
	"sync"

	"github.com/google/uuid"
	"github.com/rayford/raydb/concurrency"
	"github.com/rayford/raydb/storage"
)

// Transport exposes a primary storage.DB's replication surface over
// stable segment UUIDs instead of storage's internal generation numbers.
// It owns the generation<->UUID mapping and the
// segment-level locking that keeps a primary_promote_to_next_epoch call
// from retiring a segment a concurrent log_page read is still scanning.
type Transport struct {
	db    *storage.DB
	locks *concurrency.LockManager

	mu       sync.Mutex
	segments map[uint64]uuid.UUID
	byID     map[uuid.UUID]uint64
}

// NewTransport wraps db for replication. db must be the primary; replicas
// never construct a Transport of their own, they just consume the JSON
// this package emits.
func NewTransport(db *storage.DB) *Transport {
	return &Transport{
		db:       db,
		locks:    concurrency.NewLockManager(concurrency.LockPolicyWait),
		segments: make(map[uint64]uuid.UUID),
		byID:     make(map[uuid.UUID]uint64),
	}
}

func (t *Transport) segmentFor(generation uint64) uuid.UUID {
	t.mu.Lock()
	defer t.mu.Unlock()
	if id, ok := t.segments[generation]; ok {
		return id
	}
	id := uuid.New()
	t.segments[generation] = id
	t.byID[id] = generation
	return id
}

func (t *Transport) generationFor(id uuid.UUID) (uint64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	gen, ok := t.byID[id]
	return gen, ok
}

// forgetSegment drops generation's UUID mapping and its log_page lock
// entry once a compaction has moved the primary past it, so both maps
// stay bounded by the number of live generations rather than growing for
// the life of the process.
func (t *Transport) forgetSegment(generation uint64) {
	t.mu.Lock()
	id, ok := t.segments[generation]
	if ok {
		delete(t.segments, generation)
		delete(t.byID, id)
	}
	t.mu.Unlock()
	if ok {
		t.locks.Forget(id.String())
	}
}

// SnapshotBlob returns the active generation's blob document.
// includeData controls whether the raw sealed snapshot bytes are
// attached or only metadata + start_cursor.
func (t *Transport) SnapshotBlob(includeData bool) (SnapshotBlobDoc, error) {
	res, err := t.db.SnapshotBlob(includeData)
	if err != nil {
		return SnapshotBlobDoc{}, err
	}
	segID := t.segmentFor(res.StartCursor.Generation)
	cursor := Cursor{
		Epoch:         res.StartCursor.Epoch,
		LogIndex:      res.StartCursor.LogIndex,
		SegmentID:     segID,
		SegmentOffset: res.StartCursor.SegmentOffset,
	}
	return newSnapshotBlobDoc(res, cursor, includeData), nil
}

// LogPage returns a page of log frames starting at cursor. It takes the
// segment's (exclusive) lock for the duration of the scan so a concurrent
// PromoteEpoch on the same segment cannot retire it mid-read.
func (t *Transport) LogPage(cursor Cursor, maxFrames, maxBytes int, includePayload bool) (LogPageDoc, error) {
	generation, ok := t.generationFor(cursor.SegmentID)
	if !ok {
		return LogPageDoc{}, unknownSegmentError(cursor.SegmentID)
	}

	segKey := cursor.SegmentID.String()
	if err := t.locks.AcquireSegment(segKey); err != nil {
		return LogPageDoc{}, err
	}
	defer t.locks.ReleaseSegment(segKey)

	internal := storage.Cursor{
		Epoch:         cursor.Epoch,
		LogIndex:      cursor.LogIndex,
		Generation:    generation,
		SegmentOffset: cursor.SegmentOffset,
	}
	res, err := t.db.LogPage(internal, maxFrames, maxBytes, includePayload)
	if err != nil {
		return LogPageDoc{}, err
	}

	nextSeg := t.segmentFor(res.Next.Generation)
	return newLogPageDoc(res, nextSeg, includePayload), nil
}

// PromoteEpoch bumps the primary's replication epoch, forcing every
// replica to reseed. It holds EpochMu for the duration of the header
// write, which only excludes
// other promotions; a concurrent log_page of the retiring segment is
// excluded by that segment's own lock, which both this method and
// LogPage take.
func (t *Transport) PromoteEpoch() (uint64, error) {
	t.locks.EpochMu.Lock()
	defer t.locks.EpochMu.Unlock()

	segKey := t.segmentFor(t.db.Generation()).String()
	if err := t.locks.AcquireSegment(segKey); err != nil {
		return 0, err
	}
	defer t.locks.ReleaseSegment(segKey)

	epoch, err := t.db.PromoteEpoch()
	if err != nil {
		return 0, err
	}
	return epoch, nil
}

// RetireSegment drops a generation's UUID mapping once a caller knows no
// replica can still reference it (after Compact rolls the primary onto a
// new generation and every replica has acknowledged catching up to it).
// The transport never calls it on its own; a mapping stays until a
// caller retires it.
func (t *Transport) RetireSegment(generation uint64) {
	t.forgetSegment(generation)
}
