package storage

import (
	"sync"

	"github.com/tidwall/btree"

	"github.com/rayford/raydb/graph"
)

// CreatedNode is a node staged or already folded into the delta.
type CreatedNode struct {
	Key    string
	HasKey bool
	Labels map[graph.LabelID]bool
	Props  map[graph.PropKeyID]graph.PropValue
	TxID   graph.TxID
}

// edgeBucket identifies one (node, etype) adjacency bucket.
type edgeBucket struct {
	node  graph.NodeID
	etype graph.ETypeID
}

// Delta is the in-memory overlay of mutations not yet folded into the
// active snapshot. It is consulted by every read before the
// snapshot, and is rebuilt from the WAL on recovery. Sorted destination
// sets use github.com/tidwall/btree so the compactor can stream each
// bucket's members in order directly into a CSR run without re-sorting.
type Delta struct {
	mu sync.RWMutex

	createdNodes map[graph.NodeID]*CreatedNode
	deletedNodes map[graph.NodeID]bool

	outAdd map[edgeBucket]*btree.Set[uint64]
	outDel map[edgeBucket]*btree.Set[uint64]
	inAdd  map[edgeBucket]*btree.Set[uint64]
	inDel  map[edgeBucket]*btree.Set[uint64]

	nodePropSet map[graph.NodeProp]graph.PropValue
	nodePropDel map[graph.NodeProp]bool

	edgePropSet map[graph.EdgeProp]graph.PropValue
	edgePropDel map[graph.EdgeProp]bool

	newLabels   map[graph.LabelID]string
	newETypes   map[graph.ETypeID]string
	newPropKeys map[graph.PropKeyID]string

	mutationCount int
}

// NewDelta creates an empty overlay.
func NewDelta() *Delta {
	return &Delta{
		createdNodes: make(map[graph.NodeID]*CreatedNode),
		deletedNodes: make(map[graph.NodeID]bool),
		outAdd:       make(map[edgeBucket]*btree.Set[uint64]),
		outDel:       make(map[edgeBucket]*btree.Set[uint64]),
		inAdd:        make(map[edgeBucket]*btree.Set[uint64]),
		inDel:        make(map[edgeBucket]*btree.Set[uint64]),
		nodePropSet:  make(map[graph.NodeProp]graph.PropValue),
		nodePropDel:  make(map[graph.NodeProp]bool),
		edgePropSet:  make(map[graph.EdgeProp]graph.PropValue),
		edgePropDel:  make(map[graph.EdgeProp]bool),
		newLabels:    make(map[graph.LabelID]string),
		newETypes:    make(map[graph.ETypeID]string),
		newPropKeys:  make(map[graph.PropKeyID]string),
	}
}

// MutationCount is the number of mutations folded in since the last
// Clear, used by the compactor's size-based trigger.
func (d *Delta) MutationCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.mutationCount
}

// Clear empties the overlay after a successful compaction.
func (d *Delta) Clear() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.createdNodes = make(map[graph.NodeID]*CreatedNode)
	d.deletedNodes = make(map[graph.NodeID]bool)
	d.outAdd = make(map[edgeBucket]*btree.Set[uint64])
	d.outDel = make(map[edgeBucket]*btree.Set[uint64])
	d.inAdd = make(map[edgeBucket]*btree.Set[uint64])
	d.inDel = make(map[edgeBucket]*btree.Set[uint64])
	d.nodePropSet = make(map[graph.NodeProp]graph.PropValue)
	d.nodePropDel = make(map[graph.NodeProp]bool)
	d.edgePropSet = make(map[graph.EdgeProp]graph.PropValue)
	d.edgePropDel = make(map[graph.EdgeProp]bool)
	d.newLabels = make(map[graph.LabelID]string)
	d.newETypes = make(map[graph.ETypeID]string)
	d.newPropKeys = make(map[graph.PropKeyID]string)
	d.mutationCount = 0
}

// --- Node lifecycle ---

func (d *Delta) PutCreatedNode(id graph.NodeID, n *CreatedNode) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.createdNodes[id] = n
	delete(d.deletedNodes, id)
	d.mutationCount++
}

func (d *Delta) MarkNodeDeleted(id graph.NodeID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.deletedNodes[id] = true
	delete(d.createdNodes, id)
	d.mutationCount++
}

// IsNodeDeleted reports whether id is tombstoned in the delta.
func (d *Delta) IsNodeDeleted(id graph.NodeID) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.deletedNodes[id]
}

// IsNodeCreated reports whether id was created since the active
// snapshot.
func (d *Delta) IsNodeCreated(id graph.NodeID) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.createdNodes[id]
	return ok
}

func (d *Delta) CreatedNode(id graph.NodeID) (*CreatedNode, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	n, ok := d.createdNodes[id]
	return n, ok
}

// --- Edges ---

func (d *Delta) AddEdge(e graph.Edge) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.bucketSet(d.outAdd, edgeBucket{e.Src, e.EType}).Insert(uint64(e.Dst))
	d.bucketSet(d.inAdd, edgeBucket{e.Dst, e.EType}).Insert(uint64(e.Src))
	d.removeFromBucket(d.outDel, edgeBucket{e.Src, e.EType}, uint64(e.Dst))
	d.removeFromBucket(d.inDel, edgeBucket{e.Dst, e.EType}, uint64(e.Src))
	d.mutationCount++
}

func (d *Delta) DeleteEdge(e graph.Edge) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.bucketSet(d.outDel, edgeBucket{e.Src, e.EType}).Insert(uint64(e.Dst))
	d.bucketSet(d.inDel, edgeBucket{e.Dst, e.EType}).Insert(uint64(e.Src))
	d.removeFromBucket(d.outAdd, edgeBucket{e.Src, e.EType}, uint64(e.Dst))
	d.removeFromBucket(d.inAdd, edgeBucket{e.Dst, e.EType}, uint64(e.Src))
	d.mutationCount++
}

// OutAdded/OutDeleted/InAdded/InDeleted return the sorted destination ids
// staged for (node, etype), most-recent overlay only — callers merge
// against the snapshot's authoritative CSR range themselves.
func (d *Delta) OutAdded(node graph.NodeID, etype graph.ETypeID) []uint64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return membersLocked(d.outAdd, edgeBucket{node, etype})
}
func (d *Delta) OutDeleted(node graph.NodeID, etype graph.ETypeID) []uint64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return membersLocked(d.outDel, edgeBucket{node, etype})
}
func (d *Delta) InAdded(node graph.NodeID, etype graph.ETypeID) []uint64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return membersLocked(d.inAdd, edgeBucket{node, etype})
}
func (d *Delta) InDeleted(node graph.NodeID, etype graph.ETypeID) []uint64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return membersLocked(d.inDel, edgeBucket{node, etype})
}

func (d *Delta) bucketSet(m map[edgeBucket]*btree.Set[uint64], b edgeBucket) *btree.Set[uint64] {
	s, ok := m[b]
	if !ok {
		s = &btree.Set[uint64]{}
		m[b] = s
	}
	return s
}

func (d *Delta) removeFromBucket(m map[edgeBucket]*btree.Set[uint64], b edgeBucket, v uint64) {
	if s, ok := m[b]; ok {
		s.Delete(v)
	}
}

// membersLocked snapshots a bucket's sorted members; callers hold d.mu.
func membersLocked(m map[edgeBucket]*btree.Set[uint64], b edgeBucket) []uint64 {
	s, ok := m[b]
	if !ok {
		return nil
	}
	out := make([]uint64, 0, s.Len())
	s.Scan(func(v uint64) bool {
		out = append(out, v)
		return true
	})
	return out
}

// --- Properties ---

func (d *Delta) SetNodeProp(np graph.NodeProp, v graph.PropValue) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nodePropSet[np] = v
	delete(d.nodePropDel, np)
	d.mutationCount++
}

func (d *Delta) DelNodeProp(np graph.NodeProp) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nodePropDel[np] = true
	delete(d.nodePropSet, np)
	d.mutationCount++
}

// NodeProp returns (value, deleted, present) for a (node, key) pair as
// staged in the delta only.
func (d *Delta) NodeProp(np graph.NodeProp) (graph.PropValue, bool, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.nodePropDel[np] {
		return graph.PropValue{}, true, true
	}
	v, ok := d.nodePropSet[np]
	return v, false, ok
}

func (d *Delta) SetEdgeProp(ep graph.EdgeProp, v graph.PropValue) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.edgePropSet[ep] = v
	delete(d.edgePropDel, ep)
	d.mutationCount++
}

func (d *Delta) DelEdgeProp(ep graph.EdgeProp) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.edgePropDel[ep] = true
	delete(d.edgePropSet, ep)
	d.mutationCount++
}

func (d *Delta) EdgeProp(ep graph.EdgeProp) (graph.PropValue, bool, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.edgePropDel[ep] {
		return graph.PropValue{}, true, true
	}
	v, ok := d.edgePropSet[ep]
	return v, false, ok
}

// --- Dictionaries ---

func (d *Delta) DefineLabel(id graph.LabelID, name string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.newLabels[id] = name
	d.mutationCount++
}

func (d *Delta) DefineEType(id graph.ETypeID, name string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.newETypes[id] = name
	d.mutationCount++
}

func (d *Delta) DefinePropKey(id graph.PropKeyID, name string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.newPropKeys[id] = name
	d.mutationCount++
}

func (d *Delta) LookupLabel(id graph.LabelID) (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	n, ok := d.newLabels[id]
	return n, ok
}
func (d *Delta) LookupEType(id graph.ETypeID) (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	n, ok := d.newETypes[id]
	return n, ok
}
func (d *Delta) LookupPropKey(id graph.PropKeyID) (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	n, ok := d.newPropKeys[id]
	return n, ok
}

// CreatedNodeIDs returns every NodeID currently staged as created, for the
// compactor's snapshot-merge pass. Order is unspecified; the compactor
// sorts before streaming.
func (d *Delta) CreatedNodeIDs() []graph.NodeID {
	d.mu.RLock()
	defer d.mu.RUnlock()
	ids := make([]graph.NodeID, 0, len(d.createdNodes))
	for id := range d.createdNodes {
		ids = append(ids, id)
	}
	return ids
}

// DeletedNodeIDs returns every NodeID tombstoned in the delta.
func (d *Delta) DeletedNodeIDs() []graph.NodeID {
	d.mu.RLock()
	defer d.mu.RUnlock()
	ids := make([]graph.NodeID, 0, len(d.deletedNodes))
	for id := range d.deletedNodes {
		ids = append(ids, id)
	}
	return ids
}

// TouchedOutBuckets returns every (node, etype) bucket with a staged
// outgoing-edge change, for the compactor's merge pass.
func (d *Delta) TouchedOutBuckets() []edgeBucket {
	d.mu.RLock()
	defer d.mu.RUnlock()
	seen := make(map[edgeBucket]bool)
	for b := range d.outAdd {
		seen[b] = true
	}
	for b := range d.outDel {
		seen[b] = true
	}
	out := make([]edgeBucket, 0, len(seen))
	for b := range seen {
		out = append(out, b)
	}
	return out
}

// TouchedInBuckets mirrors TouchedOutBuckets for incoming-edge changes.
func (d *Delta) TouchedInBuckets() []edgeBucket {
	d.mu.RLock()
	defer d.mu.RUnlock()
	seen := make(map[edgeBucket]bool)
	for b := range d.inAdd {
		seen[b] = true
	}
	for b := range d.inDel {
		seen[b] = true
	}
	out := make([]edgeBucket, 0, len(seen))
	for b := range seen {
		out = append(out, b)
	}
	return out
}

// TouchedNodeProps returns every (node, key) pair with a staged property
// set or delete.
func (d *Delta) TouchedNodeProps() []graph.NodeProp {
	d.mu.RLock()
	defer d.mu.RUnlock()
	seen := make(map[graph.NodeProp]bool)
	for k := range d.nodePropSet {
		seen[k] = true
	}
	for k := range d.nodePropDel {
		seen[k] = true
	}
	out := make([]graph.NodeProp, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	return out
}

// TouchedEdgeProps mirrors TouchedNodeProps for edge properties.
func (d *Delta) TouchedEdgeProps() []graph.EdgeProp {
	d.mu.RLock()
	defer d.mu.RUnlock()
	seen := make(map[graph.EdgeProp]bool)
	for k := range d.edgePropSet {
		seen[k] = true
	}
	for k := range d.edgePropDel {
		seen[k] = true
	}
	out := make([]graph.EdgeProp, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	return out
}

// NewLabels, NewETypes, NewPropKeys expose the dictionary entries staged
// in this delta for the compactor's dictionary merge.
func (d *Delta) NewLabels() map[graph.LabelID]string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make(map[graph.LabelID]string, len(d.newLabels))
	for k, v := range d.newLabels {
		out[k] = v
	}
	return out
}

func (d *Delta) NewETypes() map[graph.ETypeID]string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make(map[graph.ETypeID]string, len(d.newETypes))
	for k, v := range d.newETypes {
		out[k] = v
	}
	return out
}

func (d *Delta) NewPropKeys() map[graph.PropKeyID]string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make(map[graph.PropKeyID]string, len(d.newPropKeys))
	for k, v := range d.newPropKeys {
		out[k] = v
	}
	return out
}
