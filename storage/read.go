package storage

import (
	"github.com/rayford/raydb/graph"
)

// Read operations over the composite delta∪snapshot view: a tombstone in
// the delta hides the entity entirely, a delta value wins over the
// snapshot, and only then is the snapshot consulted. Property and
// adjacency reads go through the LRU caches, which every commit and
// compaction clears write-through, so a cached entry can never disagree
// with the authoritative view.

// NodeKey returns a node's external key, if it has one.
func (db *DB) NodeKey(id graph.NodeID) (string, bool) {
	if db.delta.IsNodeDeleted(id) {
		return "", false
	}
	if n, ok := db.delta.CreatedNode(id); ok {
		if n.HasKey {
			return n.Key, true
		}
		return "", false
	}
	key, ok := db.snap.Keys[id]
	return key, ok
}

// NodeLabels returns the label set of a visible node, nil otherwise.
func (db *DB) NodeLabels(id graph.NodeID) []graph.LabelID {
	if db.delta.IsNodeDeleted(id) {
		return nil
	}
	if n, ok := db.delta.CreatedNode(id); ok {
		out := make([]graph.LabelID, 0, len(n.Labels))
		for l := range n.Labels {
			out = append(out, l)
		}
		return out
	}
	labels, ok := db.snap.Labels_[id]
	if !ok {
		return nil
	}
	return append([]graph.LabelID(nil), labels...)
}

// NodeProp resolves a node property under delta∪snapshot. Snapshot reads
// are served through the property cache.
func (db *DB) NodeProp(node graph.NodeID, key graph.PropKeyID) (graph.PropValue, bool) {
	if db.delta.IsNodeDeleted(node) {
		return graph.PropValue{}, false
	}
	np := graph.NodeProp{Node: node, Key: key}
	if v, isDel, ok := db.delta.NodeProp(np); ok {
		if isDel {
			return graph.PropValue{}, false
		}
		return v, true
	}
	ck := NodePropKey(node, key)
	if v, ok := db.values.Get(ck); ok {
		return v, true
	}
	v, ok := db.snap.NodeProps[np]
	if ok {
		db.values.Put(ck, v)
	}
	return v, ok
}

// EdgeProp resolves an edge property under delta∪snapshot, through the
// property cache for snapshot hits.
func (db *DB) EdgeProp(e graph.Edge, key graph.PropKeyID) (graph.PropValue, bool) {
	if db.delta.IsNodeDeleted(e.Src) || db.delta.IsNodeDeleted(e.Dst) {
		return graph.PropValue{}, false
	}
	ep := graph.EdgeProp{Src: e.Src, EType: e.EType, Dst: e.Dst, Key: key}
	if v, isDel, ok := db.delta.EdgeProp(ep); ok {
		if isDel {
			return graph.PropValue{}, false
		}
		return v, true
	}
	ck := EdgePropKey(e.Src, e.EType, e.Dst, key)
	if v, ok := db.values.Get(ck); ok {
		return v, true
	}
	v, ok := db.snap.EdgeProps[ep]
	if ok {
		db.values.Put(ck, v)
	}
	return v, ok
}

// OutNeighbors returns the sorted destination ids of node's outgoing
// etype edges under delta∪snapshot. Results are cached per (node, etype,
// direction); callers must not mutate the returned slice.
func (db *DB) OutNeighbors(node graph.NodeID, etype graph.ETypeID) []graph.NodeID {
	return db.neighbors(node, etype, true)
}

// InNeighbors mirrors OutNeighbors for incoming edges.
func (db *DB) InNeighbors(node graph.NodeID, etype graph.ETypeID) []graph.NodeID {
	return db.neighbors(node, etype, false)
}

func (db *DB) neighbors(node graph.NodeID, etype graph.ETypeID, out bool) []graph.NodeID {
	if db.delta.IsNodeDeleted(node) {
		return nil
	}
	ck := TraversalKey(node, etype, out)
	if cached, ok := db.trav.Get(ck); ok {
		return cached
	}

	var base []uint64
	var added, removed []uint64
	if out {
		base = db.snap.Out[edgeBucket{node: node, etype: etype}]
		added = db.delta.OutAdded(node, etype)
		removed = db.delta.OutDeleted(node, etype)
	} else {
		base = db.snap.In[edgeBucket{node: node, etype: etype}]
		added = db.delta.InAdded(node, etype)
		removed = db.delta.InDeleted(node, etype)
	}

	merged := mergeSortedNeighbors(base, added, removed)
	result := make([]graph.NodeID, 0, len(merged))
	for _, d := range merged {
		id := graph.NodeID(d)
		if !db.delta.IsNodeDeleted(id) {
			result = append(result, id)
		}
	}
	db.trav.Put(ck, result)
	return result
}

// mergeSortedNeighbors unions two ascending id runs and subtracts a third,
// preserving order. base comes from the snapshot's CSR range, added and
// removed from the delta's btree sets; all three arrive sorted, so a
// single merge pass suffices.
func mergeSortedNeighbors(base, added, removed []uint64) []uint64 {
	out := make([]uint64, 0, len(base)+len(added))
	i, j := 0, 0
	for i < len(base) || j < len(added) {
		var next uint64
		switch {
		case i >= len(base):
			next = added[j]
			j++
		case j >= len(added):
			next = base[i]
			i++
		case base[i] < added[j]:
			next = base[i]
			i++
		case base[i] > added[j]:
			next = added[j]
			j++
		default:
			next = base[i]
			i++
			j++
		}
		if len(out) > 0 && out[len(out)-1] == next {
			continue
		}
		out = append(out, next)
	}
	if len(removed) == 0 {
		return out
	}
	del := make(map[uint64]bool, len(removed))
	for _, d := range removed {
		del[d] = true
	}
	kept := out[:0]
	for _, d := range out {
		if !del[d] {
			kept = append(kept, d)
		}
	}
	return kept
}

// HasEdge reports whether the (src, etype, dst) triple is visible.
func (db *DB) HasEdge(e graph.Edge) bool {
	for _, d := range db.OutNeighbors(e.Src, e.EType) {
		if d == e.Dst {
			return true
		}
		if d > e.Dst {
			return false
		}
	}
	return false
}

// LabelName resolves a LabelID to its dictionary name under delta∪snapshot.
func (db *DB) LabelName(id graph.LabelID) (string, bool) {
	if name, ok := db.delta.LookupLabel(id); ok {
		return name, true
	}
	if int(id) < len(db.snap.Labels) && db.snap.Labels[id] != "" {
		return db.snap.Labels[id], true
	}
	return "", false
}

// ETypeName resolves an ETypeID to its dictionary name.
func (db *DB) ETypeName(id graph.ETypeID) (string, bool) {
	if name, ok := db.delta.LookupEType(id); ok {
		return name, true
	}
	if int(id) < len(db.snap.ETypes) && db.snap.ETypes[id] != "" {
		return db.snap.ETypes[id], true
	}
	return "", false
}

// PropKeyName resolves a PropKeyID to its dictionary name.
func (db *DB) PropKeyName(id graph.PropKeyID) (string, bool) {
	if name, ok := db.delta.LookupPropKey(id); ok {
		return name, true
	}
	if int(id) < len(db.snap.PropKeys) && db.snap.PropKeys[id] != "" {
		return db.snap.PropKeys[id], true
	}
	return "", false
}

// LabelID looks up a label by name in the live dictionary.
func (db *DB) LabelID(name string) (graph.LabelID, bool) {
	db.mu.Lock()
	defer db.mu.Unlock()
	id, ok := db.labelNames[name]
	return id, ok
}

// ETypeID looks up an edge type by name.
func (db *DB) ETypeID(name string) (graph.ETypeID, bool) {
	db.mu.Lock()
	defer db.mu.Unlock()
	id, ok := db.etypeNames[name]
	return id, ok
}

// PropKeyID looks up a property key by name.
func (db *DB) PropKeyID(name string) (graph.PropKeyID, bool) {
	db.mu.Lock()
	defer db.mu.Unlock()
	id, ok := db.propKeyNames[name]
	return id, ok
}

// NodeCount counts nodes visible under delta∪snapshot.
func (db *DB) NodeCount() int {
	count := 0
	for _, id := range db.snap.NodeIDs {
		if !db.delta.IsNodeDeleted(id) && !db.delta.IsNodeCreated(id) {
			count++
		}
	}
	for _, id := range db.delta.CreatedNodeIDs() {
		if !db.delta.IsNodeDeleted(id) {
			count++
		}
	}
	return count
}
