package storage

import (
	"fmt"
	"sync"
	"time"

	"github.com/rayford/raydb/concurrency"
	"github.com/rayford/raydb/graph"
	"github.com/rayford/raydb/index"
	"github.com/rayford/raydb/raylog"
)

// Options configures Open. Page size is chosen at creation and fixed for
// the life of the file.
type Options struct {
	PageSize       int
	ReadOnly       bool
	CreateIfMissing bool
	WALPageCount   uint32 // ignored when opening an existing file
	ValueCacheSize int
	PageCacheSize  int
}

func (o Options) withDefaults() Options {
	if o.PageSize == 0 {
		o.PageSize = DefaultPageSize
	}
	if o.WALPageCount == 0 {
		o.WALPageCount = 256 // 256*4096: a 1MiB ring at the default page size
	}
	if o.ValueCacheSize == 0 {
		o.ValueCacheSize = 4096
	}
	if o.PageCacheSize == 0 {
		o.PageCacheSize = 1024
	}
	return o
}

// DB is the top-level handle over a single .raydb file: pager, WAL,
// delta, active snapshot, and read caches wired together. This is the
// facade other packages and cmd/raydb drive.
type DB struct {
	mu      sync.Mutex
	writers *concurrency.LockManager

	pager  *Pager
	wal    *WAL
	delta  *Delta
	values *ValueCache
	trav   *TraversalCache
	header *Header
	snap   *Snapshot
	keys   *index.KeyIndex

	path     string
	readOnly bool

	activeTx *Tx

	nextNode graph.NodeID
	maxNodeID graph.NodeID
	nextTxID  graph.TxID

	nextLabelID   graph.LabelID
	nextETypeID   graph.ETypeID
	nextPropKeyID graph.PropKeyID
	schemaCookie  uint64

	labelNames   map[string]graph.LabelID
	etypeNames   map[string]graph.ETypeID
	propKeyNames map[string]graph.PropKeyID
}

// Open opens (or creates) a database file at path: read the header (with
// shadow-copy fallback), validate, mmap+verify the active snapshot,
// replay the WAL into a fresh delta, install fresh caches.
func Open(path string, opts Options) (*DB, error) {
	opts = opts.withDefaults()
	if err := validatePageSize(uint32(opts.PageSize)); err != nil {
		return nil, err
	}

	pager, fresh, err := openPagerForDB(path, opts)
	if err != nil {
		return nil, err
	}

	db := &DB{
		pager:        pager,
		writers:      concurrency.NewLockManager(concurrency.LockPolicyWait),
		path:         path,
		readOnly:     opts.ReadOnly,
		values:       NewValueCache(opts.ValueCacheSize),
		trav:         NewTraversalCache(opts.ValueCacheSize),
		labelNames:   make(map[string]graph.LabelID),
		etypeNames:   make(map[string]graph.ETypeID),
		propKeyNames: make(map[string]graph.PropKeyID),
	}

	if fresh {
		if err := db.initFresh(opts); err != nil {
			pager.Close()
			return nil, err
		}
	} else {
		if err := db.loadExisting(); err != nil {
			pager.Close()
			return nil, err
		}
	}

	if err := runRecovery(db); err != nil {
		pager.Close()
		return nil, err
	}

	return db, nil
}

func openPagerForDB(path string, opts Options) (pager *Pager, fresh bool, err error) {
	if path == "" {
		p, err := openMemoryPager(opts.PageSize, opts.PageCacheSize)
		return p, true, err
	}
	return openFilePagerAutoCreate(path, opts)
}

// initFresh lays down page 0, a generation-0 empty snapshot, and a fresh
// WAL ring for a newly created file. header.active_snapshot_gen == 0 is
// the "no snapshot yet" state.
func (db *DB) initFresh(opts Options) error {
	walStart := uint32(2) // page 0 = header, page 1 = header shadow, WAL starts at page 2
	if _, err := db.pager.AllocatePages(1 + int(opts.WALPageCount)); err != nil {
		return err
	}
	db.header = &Header{
		PageSize:          uint32(db.pager.PageSize()),
		Version:           FormatVersion,
		MinReaderVersion:  MinReaderVersion,
		WALStartPage:      uint64(walStart),
		WALPageCount:      uint64(opts.WALPageCount),
		NextTxID:          1,
		DBSizePages:       db.pager.SizePages(),
	}
	db.wal = openWAL(db.pager, walStart, opts.WALPageCount, 0, 0)
	db.delta = NewDelta()
	db.snap = emptySnapshot()
	db.nextTxID = 1
	db.nextNode = 1
	db.nextLabelID = 1
	db.nextETypeID = 1
	db.nextPropKeyID = 1

	keys, err := newKeyIndex(db.pager, db.snap, nil)
	if err != nil {
		return err
	}
	db.keys = keys

	db.mu.Lock()
	defer db.mu.Unlock()
	return db.writeHeaderLocked()
}

// loadExisting reads page 0 of an existing file, falling back to the
// shadow copy on page 1 if the primary copy's CRC fails to verify.
func (db *DB) loadExisting() error {
	page, err := db.pager.ReadPage(0)
	if err != nil {
		return err
	}
	h, err := DecodeHeader(page.Data)
	if err != nil {
		shadow, shadowErr := db.readShadowHeader()
		headerLogger := raylog.WithComponent("header")
		if shadowErr != nil {
			headerLogger.Error().
				Err(err).
				AnErr("shadow_err", shadowErr).
				Msg("header_unreadable")
			return err
		}
		headerLogger.Error().
			Err(err).
			Msg("header_primary_corrupt_using_shadow")
		h = shadow
	}
	db.header = h
	db.pager.SetPageSize(int(h.PageSize))
	db.wal = openWAL(db.pager, uint32(h.WALStartPage), uint32(h.WALPageCount), h.WALHead, h.WALTail)
	db.delta = NewDelta()
	db.maxNodeID = graph.NodeID(h.MaxNodeID)
	db.nextNode = db.maxNodeID + 1
	db.nextTxID = graph.TxID(h.NextTxID)
	db.schemaCookie = h.SchemaCookie

	if h.ActiveSnapshotGen > 0 {
		snap, _, err := readSnapshot(db.pager, uint32(h.SnapshotStartPage), h.SnapshotPageCount)
		if err != nil {
			return err
		}
		db.snap = snap
	} else {
		db.snap = emptySnapshot()
	}
	db.rebuildDictionaryIndex()

	keys, err := newKeyIndex(db.pager, db.snap, nil)
	if err != nil {
		return err
	}
	db.keys = keys
	return nil
}

// readShadowHeader reads the header's shadow copy, written immediately
// after the primary on every commit so a torn page-0 write is still
// recoverable.
func (db *DB) readShadowHeader() (*Header, error) {
	page, err := db.pager.ReadPage(shadowHeaderPageID)
	if err != nil {
		return nil, err
	}
	return DecodeHeader(page.Data)
}

func (db *DB) rebuildDictionaryIndex() {
	for id, name := range db.snap.Labels {
		if name == "" {
			continue
		}
		db.labelNames[name] = graph.LabelID(id)
		if graph.LabelID(id) >= db.nextLabelID {
			db.nextLabelID = graph.LabelID(id) + 1
		}
	}
	for id, name := range db.snap.ETypes {
		if name == "" {
			continue
		}
		db.etypeNames[name] = graph.ETypeID(id)
		if graph.ETypeID(id) >= db.nextETypeID {
			db.nextETypeID = graph.ETypeID(id) + 1
		}
	}
	for id, name := range db.snap.PropKeys {
		if name == "" {
			continue
		}
		db.propKeyNames[name] = graph.PropKeyID(id)
		if graph.PropKeyID(id) >= db.nextPropKeyID {
			db.nextPropKeyID = graph.PropKeyID(id) + 1
		}
	}
	if db.nextLabelID == 0 {
		db.nextLabelID = 1
	}
	if db.nextETypeID == 0 {
		db.nextETypeID = 1
	}
	if db.nextPropKeyID == 0 {
		db.nextPropKeyID = 1
	}
}

// Close releases the snapshot mapping, the underlying pager and its
// advisory lock. It does not fsync; every commit already left the file
// durable.
func (db *DB) Close() error {
	db.mu.Lock()
	snap := db.snap
	db.mu.Unlock()
	if snap != nil {
		snap.Close()
	}
	return db.pager.Close()
}

// Begin starts a new write transaction. Fails with ReadOnly against a
// read-only handle, and with AlreadyExists if one is already active on
// this handle. The writer admission gate is taken here and held until
// the transaction ends (Commit or Rollback), so a compaction or snapshot
// install can never interleave with an in-flight transaction.
func (db *DB) Begin() (*Tx, error) {
	if db.readOnly {
		return nil, ErrReadOnly
	}
	if !db.writers.TryAcquireWriter() {
		// Gate is busy. Held by an active transaction on this handle is
		// the nested-begin error; held by a compaction or install means
		// wait for it to finish.
		db.mu.Lock()
		active := db.activeTx != nil
		db.mu.Unlock()
		if active {
			return nil, errAlreadyExists("db.Begin", errNestedTx)
		}
		db.writers.AcquireWriter()
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.activeTx != nil {
		db.writers.ReleaseWriter()
		return nil, errAlreadyExists("db.Begin", errNestedTx)
	}
	id := db.nextTxID
	db.nextTxID++
	tx := newTx(db, id)
	db.activeTx = tx
	return tx, nil
}

func (db *DB) endTx(tx *Tx) {
	db.mu.Lock()
	wasActive := db.activeTx == tx
	if wasActive {
		db.activeTx = nil
	}
	db.mu.Unlock()
	if wasActive {
		db.writers.ReleaseWriter()
	}
}

func (db *DB) nextNodeID() graph.NodeID {
	db.mu.Lock()
	defer db.mu.Unlock()
	id := db.nextNode
	db.nextNode++
	return id
}

func (db *DB) clockMs() uint64 {
	return uint64(time.Now().UnixMilli())
}

// shadowHeaderPageID is the page reserved for the header shadow copy. It
// must be a fixed, well-known page independent of anything recorded in the
// header itself, since the whole point of the shadow is to recover a
// header whose own fields (including wal_start_page) cannot be trusted
// yet. Page 1 is reserved for exactly this; the WAL ring starts at page 2
// (initFresh), so the ring's own addressing never touches it.
const shadowHeaderPageID = 1

// writeHeaderLocked encodes and durably writes page 0, plus the shadow
// copy on the reserved page 1 (shadowHeaderPageID), then fsyncs. Callers must
// already hold db.mu.
func (db *DB) writeHeaderLocked() error {
	db.header.DBSizePages = db.pager.SizePages()
	buf := EncodeHeader(db.header, db.pager.PageSize())
	page, err := db.pager.ReadPage(0)
	if err != nil {
		return err
	}
	copy(page.Data, buf)
	if err := db.pager.WritePage(page); err != nil {
		return err
	}
	shadow, err := db.pager.ReadPage(shadowHeaderPageID)
	if err != nil {
		return err
	}
	copy(shadow.Data, buf)
	if err := db.pager.WritePage(shadow); err != nil {
		return err
	}
	return db.pager.Sync()
}

// DefineLabelIfAbsent returns the existing LabelID for name, or stages a
// fresh DEFINE_LABEL record on tx. A fresh id is allocated provisionally
// from the transaction's own counter (seeded from the DB's at Begin, and
// safe because only one transaction is ever active): nothing touches the
// DB's live dictionaries until Commit publishes the staged definitions,
// so a Rollback discards the reservation along with everything else.
func (db *DB) DefineLabelIfAbsent(tx *Tx, name string) (graph.LabelID, error) {
	db.mu.Lock()
	id, ok := db.labelNames[name]
	db.mu.Unlock()
	if ok {
		return id, nil
	}
	if id, ok := tx.pendingLabels[name]; ok {
		return id, nil
	}
	id = tx.nextLabel
	return id, tx.DefineLabel(id, name)
}

// DefineETypeIfAbsent mirrors DefineLabelIfAbsent for edge types.
func (db *DB) DefineETypeIfAbsent(tx *Tx, name string) (graph.ETypeID, error) {
	db.mu.Lock()
	id, ok := db.etypeNames[name]
	db.mu.Unlock()
	if ok {
		return id, nil
	}
	if id, ok := tx.pendingETypes[name]; ok {
		return id, nil
	}
	id = tx.nextEType
	return id, tx.DefineEType(id, name)
}

// DefinePropKeyIfAbsent mirrors DefineLabelIfAbsent for property keys.
func (db *DB) DefinePropKeyIfAbsent(tx *Tx, name string) (graph.PropKeyID, error) {
	db.mu.Lock()
	id, ok := db.propKeyNames[name]
	db.mu.Unlock()
	if ok {
		return id, nil
	}
	if id, ok := tx.pendingPropKeys[name]; ok {
		return id, nil
	}
	id = tx.nextPropKey
	return id, tx.DefinePropKey(id, name)
}

// GrowWAL relocates the ring to a larger page extent at the end of the
// file, for operators who hit WalBufferFull under sustained load. The
// ring must be empty, which callers get by compacting first — the natural
// pairing, since WalBufferFull already demands a compaction before the
// failed commit can be retried. The old extent becomes dead space inside
// the file, the same fate as a superseded snapshot's pages.
func (db *DB) GrowWAL(extraPages uint32) error {
	if db.readOnly {
		return ErrReadOnly
	}
	if extraPages == 0 {
		return errInvalid("db.GrowWAL", fmt.Errorf("extraPages must be positive"))
	}
	if !db.writers.TryAcquireWriter() {
		return errInvalid("db.GrowWAL", fmt.Errorf("cannot grow the WAL while a transaction is active"))
	}
	defer db.writers.ReleaseWriter()
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.wal.UsedBytes() != 0 {
		return errInvalid("db.GrowWAL", fmt.Errorf("WAL is not empty; compact first"))
	}

	newCount := uint32(db.header.WALPageCount) + extraPages
	first, err := db.pager.AllocatePages(int(newCount))
	if err != nil {
		return err
	}
	if err := db.pager.Sync(); err != nil {
		return err
	}

	db.header.WALStartPage = uint64(first)
	db.header.WALPageCount = uint64(newCount)
	db.header.WALHead = 0
	db.header.WALTail = 0
	db.header.ChangeCounter++
	if err := db.writeHeaderLocked(); err != nil {
		return err
	}
	db.wal = openWAL(db.pager, first, newCount, 0, 0)
	return nil
}

// LookupKey resolves an external node key under the composite
// delta∪snapshot view; a live key resolves to at most one NodeID. Keys
// created since the last compaction live only in the delta overlay and are
// checked first; keys already folded into the active snapshot generation
// are resolved through the persistent B+Tree (index.KeyIndex) in O(log N)
// rather than a linear scan.
func (db *DB) LookupKey(key string) (graph.NodeID, bool) {
	for id, n := range db.snapshotCreatedOverlay() {
		if n.HasKey && n.Key == key && !db.delta.IsNodeDeleted(id) {
			return id, true
		}
	}
	if db.keys != nil {
		if id, ok, err := db.keys.LookupOne(key); err == nil && ok && !db.delta.IsNodeDeleted(id) {
			return id, true
		}
	}
	return 0, false
}

func (db *DB) snapshotCreatedOverlay() map[graph.NodeID]*CreatedNode {
	out := make(map[graph.NodeID]*CreatedNode)
	for _, id := range db.delta.CreatedNodeIDs() {
		if n, ok := db.delta.CreatedNode(id); ok {
			out[id] = n
		}
	}
	return out
}

// HasNode reports whether id is visible under delta∪snapshot.
func (db *DB) HasNode(id graph.NodeID) bool {
	if db.delta.IsNodeDeleted(id) {
		return false
	}
	if db.delta.IsNodeCreated(id) {
		return true
	}
	return db.snap.HasNode(id)
}

// Stats reports basic counters surfaced by `raydb stat`.
type Stats struct {
	ActiveSnapshotGen uint64
	ChangeCounter     uint64
	WALUsedBytes      uint64
	WALCapacity       uint64
	DeltaMutations    int
	MaxNodeID         graph.NodeID
	NextTxID          graph.TxID
	CacheHits         uint64
	CacheMisses       uint64
}

func (db *DB) Stat() Stats {
	hits, misses, _, _ := db.values.Stats()
	th, tm, _, _ := db.trav.Stats()
	hits += th
	misses += tm
	db.mu.Lock()
	defer db.mu.Unlock()
	return Stats{
		ActiveSnapshotGen: db.header.ActiveSnapshotGen,
		ChangeCounter:     db.header.ChangeCounter,
		WALUsedBytes:      db.wal.UsedBytes(),
		WALCapacity:       db.wal.Capacity(),
		DeltaMutations:    db.delta.MutationCount(),
		MaxNodeID:         db.maxNodeID,
		NextTxID:          db.nextTxID,
		CacheHits:         hits,
		CacheMisses:       misses,
	}
}

var errNestedTx = nestedTxError{}

type nestedTxError struct{}

func (nestedTxError) Error() string { return "a transaction is already active on this handle" }
