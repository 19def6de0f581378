package storage

import (
	"encoding/binary"

	"github.com/rayford/raydb/graph"
	"github.com/rayford/raydb/raylog"
)

// runRecovery replays the WAL ring into db's (already-fresh) delta. The
// earlier open steps (header read with shadow fallback, validation,
// snapshot mmap+verify) already happened in loadExisting/initFresh
// before this is called. Recovery is idempotent: replaying the
// same WAL bytes twice reaches the same delta state, since every apply
// operation is itself idempotent (last-writer-wins maps, set inserts).
func runRecovery(db *DB) error {
	frames, stopped, _ := db.wal.ScanFrom(db.wal.Tail(), 0, 0)
	records := make([]WALRecord, 0, len(frames))
	for _, f := range frames {
		records = append(records, f.Record)
	}
	if stopped < db.wal.Head() {
		// The scan hit corruption or a torn record before the recorded
		// head; everything past the stop point is unreadable and must not
		// shadow future appends.
		recoveryLogger := raylog.WithComponent("recovery")
		recoveryLogger.Warn().
			Uint64("stopped_at", stopped).
			Uint64("recorded_head", db.wal.Head()).
			Msg("wal_scan_stopped_short")
		db.wal.TruncateHead(stopped)
		db.header.WALHead = stopped
	}

	txns := groupByTxID(records)
	ordered := orderedTxIDs(txns)

	replayed, dropped := 0, 0
	for _, txid := range ordered {
		ops := txns[txid]
		if !committed(ops) {
			dropped++
			continue // no terminating COMMIT: the transaction never became durable
		}
		for _, rec := range ops {
			applyRecoveredRecord(db, rec)
		}
		replayed++
	}

	if db.maxNodeID+1 > db.nextNode {
		db.nextNode = db.maxNodeID + 1
	}
	if replayed > 0 || dropped > 0 {
		replayLogger := raylog.WithComponent("recovery")
		replayLogger.Info().
			Int("replayed", replayed).
			Int("dropped", dropped).
			Int("records", len(records)).
			Msg("recovery_replayed")
	}
	return nil
}

func groupByTxID(records []WALRecord) map[uint64][]WALRecord {
	txns := make(map[uint64][]WALRecord)
	for _, r := range records {
		if r.Type == RecBegin {
			continue
		}
		txns[r.TxID] = append(txns[r.TxID], r)
	}
	return txns
}

// orderedTxIDs returns the transaction IDs present in txns sorted
// ascending, the order they must be applied to the delta in.
func orderedTxIDs(txns map[uint64][]WALRecord) []uint64 {
	ids := make([]uint64, 0, len(txns))
	for id := range txns {
		ids = append(ids, id)
	}
	for i := 1; i < len(ids); i++ {
		for j := i; j > 0 && ids[j-1] > ids[j]; j-- {
			ids[j-1], ids[j] = ids[j], ids[j-1]
		}
	}
	return ids
}

func committed(ops []WALRecord) bool {
	for _, op := range ops {
		if op.Type == RecCommit {
			return true
		}
	}
	return false
}

func applyRecoveredRecord(db *DB, rec WALRecord) {
	switch rec.Type {
	case RecCreateNode:
		id, key, hasKey, labels := decodeCreateNodePayload(rec.Payload)
		labelSet := make(map[graph.LabelID]bool, len(labels))
		for _, l := range labels {
			labelSet[l] = true
		}
		db.delta.PutCreatedNode(id, &CreatedNode{
			Key: key, HasKey: hasKey, Labels: labelSet,
			Props: make(map[graph.PropKeyID]graph.PropValue),
			TxID:  graph.TxID(rec.TxID),
		})
		if id > db.maxNodeID {
			db.maxNodeID = id
		}
	case RecDeleteNode:
		id := graph.NodeID(binary.LittleEndian.Uint64(rec.Payload))
		db.delta.MarkNodeDeleted(id)
	case RecAddEdge:
		db.delta.AddEdge(decodeEdgePayload(rec.Payload))
	case RecDeleteEdge:
		db.delta.DeleteEdge(decodeEdgePayload(rec.Payload))
	case RecSetNodeProp:
		node, key, v := decodeNodePropPayload(rec.Payload)
		db.delta.SetNodeProp(graph.NodeProp{Node: node, Key: key}, v)
	case RecDelNodeProp:
		node := graph.NodeID(binary.LittleEndian.Uint64(rec.Payload[0:8]))
		key := graph.PropKeyID(binary.LittleEndian.Uint32(rec.Payload[8:12]))
		db.delta.DelNodeProp(graph.NodeProp{Node: node, Key: key})
	case RecSetEdgeProp:
		e, key, v := decodeEdgePropPayload(rec.Payload)
		db.delta.SetEdgeProp(graph.EdgeProp{Src: e.Src, EType: e.EType, Dst: e.Dst, Key: key}, v)
	case RecDelEdgeProp:
		src := graph.NodeID(binary.LittleEndian.Uint64(rec.Payload[0:8]))
		etype := graph.ETypeID(binary.LittleEndian.Uint32(rec.Payload[8:12]))
		dst := graph.NodeID(binary.LittleEndian.Uint64(rec.Payload[12:20]))
		key := graph.PropKeyID(binary.LittleEndian.Uint32(rec.Payload[20:24]))
		db.delta.DelEdgeProp(graph.EdgeProp{Src: src, EType: etype, Dst: dst, Key: key})
	case RecDefineLabel:
		id, name := decodeDictPayload(rec.Payload)
		db.delta.DefineLabel(graph.LabelID(id), name)
		db.labelNames[name] = graph.LabelID(id)
		if graph.LabelID(id) >= db.nextLabelID {
			db.nextLabelID = graph.LabelID(id) + 1
		}
	case RecDefineEType:
		id, name := decodeDictPayload(rec.Payload)
		db.delta.DefineEType(graph.ETypeID(id), name)
		db.etypeNames[name] = graph.ETypeID(id)
		if graph.ETypeID(id) >= db.nextETypeID {
			db.nextETypeID = graph.ETypeID(id) + 1
		}
	case RecDefinePropKey:
		id, name := decodeDictPayload(rec.Payload)
		db.delta.DefinePropKey(graph.PropKeyID(id), name)
		db.propKeyNames[name] = graph.PropKeyID(id)
		if graph.PropKeyID(id) >= db.nextPropKeyID {
			db.nextPropKeyID = graph.PropKeyID(id) + 1
		}
	case RecBegin, RecCommit, RecAbort:
		// no-op markers; already consumed by grouping/committed checks
	default:
		// SET_NODE_VECTOR / BATCH_VECTORS / SEAL_FRAGMENT / COMPACT_FRAGMENTS
		// are reserved for the vector-index consumer; the core engine
		// replays past them untouched.
	}
}

func decodeCreateNodePayload(buf []byte) (id graph.NodeID, key string, hasKey bool, labels []graph.LabelID) {
	off := 0
	id = graph.NodeID(binary.LittleEndian.Uint64(buf[off:]))
	off += 8
	flag := buf[off]
	off++
	hasKey = flag == 1
	if hasKey {
		n := int(binary.LittleEndian.Uint16(buf[off:]))
		off += 2
		key = string(buf[off : off+n])
		off += n
	}
	numL := int(binary.LittleEndian.Uint16(buf[off:]))
	off += 2
	labels = make([]graph.LabelID, numL)
	for i := range labels {
		labels[i] = graph.LabelID(binary.LittleEndian.Uint32(buf[off:]))
		off += 4
	}
	return
}

func decodeEdgePayload(buf []byte) graph.Edge {
	src := graph.NodeID(binary.LittleEndian.Uint64(buf[0:8]))
	etype := graph.ETypeID(binary.LittleEndian.Uint32(buf[8:12]))
	dst := graph.NodeID(binary.LittleEndian.Uint64(buf[12:20]))
	return graph.Edge{Src: src, EType: etype, Dst: dst}
}

func decodeNodePropPayload(buf []byte) (graph.NodeID, graph.PropKeyID, graph.PropValue) {
	node := graph.NodeID(binary.LittleEndian.Uint64(buf[0:8]))
	key := graph.PropKeyID(binary.LittleEndian.Uint32(buf[8:12]))
	r := &byteReader{buf: buf, off: 12}
	v, _ := r.propValue()
	return node, key, v
}

func decodeEdgePropPayload(buf []byte) (graph.Edge, graph.PropKeyID, graph.PropValue) {
	src := graph.NodeID(binary.LittleEndian.Uint64(buf[0:8]))
	etype := graph.ETypeID(binary.LittleEndian.Uint32(buf[8:12]))
	dst := graph.NodeID(binary.LittleEndian.Uint64(buf[12:20]))
	key := graph.PropKeyID(binary.LittleEndian.Uint32(buf[20:24]))
	r := &byteReader{buf: buf, off: 24}
	v, _ := r.propValue()
	return graph.Edge{Src: src, EType: etype, Dst: dst}, key, v
}

func decodeDictPayload(buf []byte) (uint32, string) {
	id := binary.LittleEndian.Uint32(buf[0:4])
	n := int(binary.LittleEndian.Uint16(buf[4:6]))
	name := string(buf[6 : 6+n])
	return id, name
}
