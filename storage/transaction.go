package storage

import (
	"encoding/binary"
	"fmt"

	"github.com/rayford/raydb/graph"
	"github.com/rayford/raydb/metrics"
)

// TxState is the transaction lifecycle:
// Active -> Committing -> Committed | Aborted.
type TxState int

const (
	TxActive TxState = iota
	TxCommitting
	TxCommitted
	TxAborted
)

func (s TxState) String() string {
	switch s {
	case TxActive:
		return "Active"
	case TxCommitting:
		return "Committing"
	case TxCommitted:
		return "Committed"
	case TxAborted:
		return "Aborted"
	default:
		return "Unknown"
	}
}

// stagedOp is one WAL record queued by a mutation operation, in the order
// it must be emitted: a node's creation record always precedes its
// property records, so replay never sees a property on a node that does
// not exist yet.
type stagedOp struct {
	rtype   WALRecordType
	payload []byte
	apply   func(d *Delta) // folds this op into the process-wide delta on commit
}

// Tx is a single write transaction against a DB. Exactly one may be
// Active on a handle at a time.
type Tx struct {
	id    graph.TxID
	db    *DB
	state TxState
	ops   []stagedOp

	newMaxNodeID graph.NodeID
	touchedNode  map[graph.NodeID]bool
	touchedEdge  map[graph.Edge]bool

	// Dictionary definitions staged by this transaction. Names and ids
	// are reserved only here until Commit publishes them into the DB's
	// live dictionaries; Rollback drops them with the rest of the staged
	// buffers, so an aborted definition leaves no phantom name behind.
	pendingLabels   map[string]graph.LabelID
	pendingETypes   map[string]graph.ETypeID
	pendingPropKeys map[string]graph.PropKeyID
	nextLabel       graph.LabelID
	nextEType       graph.ETypeID
	nextPropKey     graph.PropKeyID
}

// newTx is called with db.mu held, so the dictionary counters it seeds
// the provisional allocators from cannot move underneath it.
func newTx(db *DB, id graph.TxID) *Tx {
	return &Tx{
		id:              id,
		db:              db,
		state:           TxActive,
		newMaxNodeID:    db.maxNodeID,
		touchedNode:     make(map[graph.NodeID]bool),
		touchedEdge:     make(map[graph.Edge]bool),
		pendingLabels:   make(map[string]graph.LabelID),
		pendingETypes:   make(map[string]graph.ETypeID),
		pendingPropKeys: make(map[string]graph.PropKeyID),
		nextLabel:       db.nextLabelID,
		nextEType:       db.nextETypeID,
		nextPropKey:     db.nextPropKeyID,
	}
}

// State returns the transaction's current lifecycle state.
func (tx *Tx) State() TxState { return tx.state }

func (tx *Tx) requireActive(op string) error {
	switch tx.state {
	case TxActive:
		return nil
	case TxAborted:
		return errAborted(op, fmt.Errorf("transaction was rolled back"))
	default:
		return errInvalid(op, fmt.Errorf("transaction is %s, not Active", tx.state))
	}
}

func (tx *Tx) stage(rtype WALRecordType, payload []byte, apply func(d *Delta)) {
	tx.ops = append(tx.ops, stagedOp{rtype: rtype, payload: payload, apply: apply})
}

// CreateNode stages a new node with an optional external key and label set.
// IDs come from the process-wide monotonic counter; the writer is
// single-threaded, so allocation is race-free.
func (tx *Tx) CreateNode(key string, hasKey bool, labels []graph.LabelID) (graph.NodeID, error) {
	if err := tx.requireActive("tx.CreateNode"); err != nil {
		return 0, err
	}
	id := tx.db.nextNodeID()
	if id > tx.newMaxNodeID {
		tx.newMaxNodeID = id
	}
	tx.touchedNode[id] = true

	payload := encodeCreateNodePayload(id, key, hasKey, labels)
	labelSet := make(map[graph.LabelID]bool, len(labels))
	for _, l := range labels {
		labelSet[l] = true
	}
	tx.stage(RecCreateNode, payload, func(d *Delta) {
		d.PutCreatedNode(id, &CreatedNode{
			Key:    key,
			HasKey: hasKey,
			Labels: labelSet,
			Props:  make(map[graph.PropKeyID]graph.PropValue),
			TxID:   tx.id,
		})
	})
	return id, nil
}

// DeleteNode stages a node tombstone.
func (tx *Tx) DeleteNode(id graph.NodeID) error {
	if err := tx.requireActive("tx.DeleteNode"); err != nil {
		return err
	}
	tx.touchedNode[id] = true
	payload := make([]byte, 8)
	binary.LittleEndian.PutUint64(payload, uint64(id))
	tx.stage(RecDeleteNode, payload, func(d *Delta) {
		d.MarkNodeDeleted(id)
	})
	return nil
}

// AddEdge stages a directed edge; multi-edges with the same (src,etype,dst)
// triple are forbidden by the caller layer, not re-checked here.
func (tx *Tx) AddEdge(e graph.Edge) error {
	if err := tx.requireActive("tx.AddEdge"); err != nil {
		return err
	}
	tx.touchedEdge[e] = true
	payload := encodeEdgePayload(e)
	tx.stage(RecAddEdge, payload, func(d *Delta) {
		d.AddEdge(e)
	})
	return nil
}

// DeleteEdge stages removal of an existing edge.
func (tx *Tx) DeleteEdge(e graph.Edge) error {
	if err := tx.requireActive("tx.DeleteEdge"); err != nil {
		return err
	}
	tx.touchedEdge[e] = true
	payload := encodeEdgePayload(e)
	tx.stage(RecDeleteEdge, payload, func(d *Delta) {
		d.DeleteEdge(e)
	})
	return nil
}

// SetNodeProp stages a property write on a node. Must be staged after the
// node's own CreateNode record within the same transaction, which callers
// naturally satisfy by calling CreateNode first.
func (tx *Tx) SetNodeProp(node graph.NodeID, key graph.PropKeyID, v graph.PropValue) error {
	if err := tx.requireActive("tx.SetNodeProp"); err != nil {
		return err
	}
	tx.touchedNode[node] = true
	np := graph.NodeProp{Node: node, Key: key}
	payload := encodeNodePropPayload(node, key, v)
	tx.stage(RecSetNodeProp, payload, func(d *Delta) {
		d.SetNodeProp(np, v)
	})
	return nil
}

// DelNodeProp stages removal of a node property.
func (tx *Tx) DelNodeProp(node graph.NodeID, key graph.PropKeyID) error {
	if err := tx.requireActive("tx.DelNodeProp"); err != nil {
		return err
	}
	tx.touchedNode[node] = true
	np := graph.NodeProp{Node: node, Key: key}
	payload := make([]byte, 12)
	binary.LittleEndian.PutUint64(payload[0:8], uint64(node))
	binary.LittleEndian.PutUint32(payload[8:12], uint32(key))
	tx.stage(RecDelNodeProp, payload, func(d *Delta) {
		d.DelNodeProp(np)
	})
	return nil
}

// SetEdgeProp stages a property write on an edge.
func (tx *Tx) SetEdgeProp(e graph.Edge, key graph.PropKeyID, v graph.PropValue) error {
	if err := tx.requireActive("tx.SetEdgeProp"); err != nil {
		return err
	}
	tx.touchedEdge[e] = true
	ep := graph.EdgeProp{Src: e.Src, EType: e.EType, Dst: e.Dst, Key: key}
	payload := encodeEdgePropPayload(e, key, v)
	tx.stage(RecSetEdgeProp, payload, func(d *Delta) {
		d.SetEdgeProp(ep, v)
	})
	return nil
}

// DelEdgeProp stages removal of an edge property.
func (tx *Tx) DelEdgeProp(e graph.Edge, key graph.PropKeyID) error {
	if err := tx.requireActive("tx.DelEdgeProp"); err != nil {
		return err
	}
	tx.touchedEdge[e] = true
	ep := graph.EdgeProp{Src: e.Src, EType: e.EType, Dst: e.Dst, Key: key}
	payload := make([]byte, 20)
	binary.LittleEndian.PutUint64(payload[0:8], uint64(e.Src))
	binary.LittleEndian.PutUint32(payload[8:12], uint32(e.EType))
	binary.LittleEndian.PutUint64(payload[12:20], uint64(e.Dst))
	payload = appendU32(payload, uint32(key))
	tx.stage(RecDelEdgeProp, payload, func(d *Delta) {
		d.DelEdgeProp(ep)
	})
	return nil
}

// DefineLabel stages a new label dictionary entry. The name stays
// reserved inside this transaction until Commit publishes it.
func (tx *Tx) DefineLabel(id graph.LabelID, name string) error {
	if err := tx.requireActive("tx.DefineLabel"); err != nil {
		return err
	}
	tx.pendingLabels[name] = id
	if id >= tx.nextLabel {
		tx.nextLabel = id + 1
	}
	payload := encodeDictPayload(uint32(id), name)
	tx.stage(RecDefineLabel, payload, func(d *Delta) {
		d.DefineLabel(id, name)
	})
	return nil
}

// DefineEType stages a new edge-type dictionary entry.
func (tx *Tx) DefineEType(id graph.ETypeID, name string) error {
	if err := tx.requireActive("tx.DefineEType"); err != nil {
		return err
	}
	tx.pendingETypes[name] = id
	if id >= tx.nextEType {
		tx.nextEType = id + 1
	}
	payload := encodeDictPayload(uint32(id), name)
	tx.stage(RecDefineEType, payload, func(d *Delta) {
		d.DefineEType(id, name)
	})
	return nil
}

// DefinePropKey stages a new property-key dictionary entry.
func (tx *Tx) DefinePropKey(id graph.PropKeyID, name string) error {
	if err := tx.requireActive("tx.DefinePropKey"); err != nil {
		return err
	}
	tx.pendingPropKeys[name] = id
	if id >= tx.nextPropKey {
		tx.nextPropKey = id + 1
	}
	payload := encodeDictPayload(uint32(id), name)
	tx.stage(RecDefinePropKey, payload, func(d *Delta) {
		d.DefinePropKey(id, name)
	})
	return nil
}

// Rollback discards the transaction's staged buffers without touching
// the WAL; nothing was written yet, so there is nothing to undo.
func (tx *Tx) Rollback() {
	if tx.state != TxActive {
		return
	}
	tx.state = TxAborted
	tx.ops = nil
	tx.db.endTx(tx)
}

// Commit runs the full commit sequence: WAL BEGIN, staged records in
// order, WAL COMMIT, flush+fsync, header write+fsync, fold into the
// delta, invalidate caches. The header write is the commit point; a
// crash anywhere before it leaves the transaction invisible.
func (tx *Tx) Commit() error {
	if err := tx.requireActive("tx.Commit"); err != nil {
		return err
	}
	tx.state = TxCommitting
	defer tx.db.endTx(tx)

	w := tx.db.wal
	txid := uint64(tx.id)

	if err := w.Append(RecBegin, txid, nil); err != nil {
		tx.state = TxAborted
		return err
	}
	for _, op := range tx.ops {
		if err := w.Append(op.rtype, txid, op.payload); err != nil {
			tx.state = TxAborted
			return err
		}
	}
	if err := w.Append(RecCommit, txid, nil); err != nil {
		tx.state = TxAborted
		return err
	}

	if err := w.Flush(); err != nil {
		tx.state = TxAborted
		return err
	}

	tx.db.mu.Lock()
	tx.publishDictionariesLocked()
	tx.db.header.WALHead = w.Head()
	tx.db.header.WALTail = w.Tail()
	tx.db.header.ChangeCounter++
	if tx.newMaxNodeID > tx.db.maxNodeID {
		tx.db.maxNodeID = tx.newMaxNodeID
		tx.db.header.MaxNodeID = uint64(tx.db.maxNodeID)
	}
	tx.db.header.NextTxID = uint64(tx.db.nextTxID)
	tx.db.header.SchemaCookie = tx.db.schemaCookie
	tx.db.header.LastCommitTSMs = tx.db.clockMs()
	if err := tx.db.writeHeaderLocked(); err != nil {
		tx.db.mu.Unlock()
		tx.state = TxAborted
		return err
	}
	tx.db.mu.Unlock()

	for _, op := range tx.ops {
		op.apply(tx.db.delta)
	}

	tx.invalidateCaches()

	tx.state = TxCommitted
	metrics.CommitsTotal.Inc()
	metrics.DeltaEntries.Set(float64(tx.db.delta.MutationCount()))
	if capacity := w.Capacity(); capacity > 0 {
		metrics.WALUsedFraction.Set(float64(w.UsedBytes()) / float64(capacity))
	}
	return nil
}

// publishDictionariesLocked folds the transaction's staged dictionary
// definitions into the DB's live name tables and counters, bumping the
// schema cookie once per addition. This runs at the commit boundary (the
// definitions' WAL records are already flushed) with db.mu held; a
// rolled-back transaction never reaches it.
func (tx *Tx) publishDictionariesLocked() {
	for name, id := range tx.pendingLabels {
		tx.db.labelNames[name] = id
		if id >= tx.db.nextLabelID {
			tx.db.nextLabelID = id + 1
		}
		tx.db.schemaCookie++
	}
	for name, id := range tx.pendingETypes {
		tx.db.etypeNames[name] = id
		if id >= tx.db.nextETypeID {
			tx.db.nextETypeID = id + 1
		}
		tx.db.schemaCookie++
	}
	for name, id := range tx.pendingPropKeys {
		tx.db.propKeyNames[name] = id
		if id >= tx.db.nextPropKeyID {
			tx.db.nextPropKeyID = id + 1
		}
		tx.db.schemaCookie++
	}
}

func (tx *Tx) invalidateCaches() {
	if tx.db.values == nil {
		return
	}
	if len(tx.touchedNode) > 0 || len(tx.touchedEdge) > 0 {
		tx.db.values.Clear()
		tx.db.trav.Clear()
	}
}

// --- Payload encodings: one record per staged mutation ---

func encodeCreateNodePayload(id graph.NodeID, key string, hasKey bool, labels []graph.LabelID) []byte {
	buf := make([]byte, 0, 8+1+2+len(key)+2+4*len(labels))
	buf = appendU64(buf, uint64(id))
	if hasKey {
		buf = append(buf, 1)
		buf = appendU16(buf, uint16(len(key)))
		buf = append(buf, key...)
	} else {
		buf = append(buf, 0)
	}
	buf = appendU16(buf, uint16(len(labels)))
	for _, l := range labels {
		buf = appendU32(buf, uint32(l))
	}
	return buf
}

func encodeEdgePayload(e graph.Edge) []byte {
	buf := make([]byte, 0, 20)
	buf = appendU64(buf, uint64(e.Src))
	buf = appendU32(buf, uint32(e.EType))
	buf = appendU64(buf, uint64(e.Dst))
	return buf
}

func encodeNodePropPayload(node graph.NodeID, key graph.PropKeyID, v graph.PropValue) []byte {
	buf := make([]byte, 0, 16)
	buf = appendU64(buf, uint64(node))
	buf = appendU32(buf, uint32(key))
	buf = appendPropValue(buf, v)
	return buf
}

func encodeEdgePropPayload(e graph.Edge, key graph.PropKeyID, v graph.PropValue) []byte {
	buf := make([]byte, 0, 28)
	buf = appendU64(buf, uint64(e.Src))
	buf = appendU32(buf, uint32(e.EType))
	buf = appendU64(buf, uint64(e.Dst))
	buf = appendU32(buf, uint32(key))
	buf = appendPropValue(buf, v)
	return buf
}

func encodeDictPayload(id uint32, name string) []byte {
	buf := make([]byte, 0, 4+2+len(name))
	buf = appendU32(buf, id)
	buf = appendU16(buf, uint16(len(name)))
	buf = append(buf, name...)
	return buf
}
