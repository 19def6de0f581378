package storage

import (
	"sort"

	"github.com/rayford/raydb/graph"
	"github.com/rayford/raydb/metrics"
	"github.com/rayford/raydb/raylog"
)

// CompactThresholds controls when Compact should be invoked
// automatically by a caller driving the steady-state loop: WAL occupancy
// or delta size, whichever trips first. The compactor itself never
// evaluates these; DB.ShouldCompact does, so cmd/raydb and the
// replication producer can decide.
type CompactThresholds struct {
	WALBytes     uint64
	DeltaEntries int
}

// DefaultCompactThresholds: compact once the WAL ring is more than 75% full or the
// delta holds more than 50,000 staged mutations, whichever comes first.
func DefaultCompactThresholds() CompactThresholds {
	return CompactThresholds{DeltaEntries: 50000}
}

// ShouldCompact reports whether t's thresholds are currently exceeded.
func (db *DB) ShouldCompact(t CompactThresholds) bool {
	db.mu.Lock()
	wal := db.wal
	delta := db.delta
	db.mu.Unlock()

	if t.WALBytes > 0 && wal.UsedBytes() > t.WALBytes {
		return true
	}
	if wal.UsedBytes()*4 > wal.Capacity()*3 {
		return true
	}
	if t.DeltaEntries > 0 && delta.MutationCount() > t.DeltaEntries {
		return true
	}
	return false
}

// Compact merges snapshot ∪ delta into a new packed generation, rewrites
// the header to point at it, and resets the WAL. It refuses to run
// against a read-only handle or while a transaction is active, and holds
// the writer admission gate for its entire duration: a Begin arriving
// mid-compaction waits, so no commit can fold into the delta between the
// merge below and the Clear that follows the header rewrite.
func (db *DB) Compact() error {
	if db.readOnly {
		return ErrReadOnly
	}
	if !db.writers.TryAcquireWriter() {
		return errInvalid("db.Compact", errCompactWhileTxActive)
	}
	defer db.writers.ReleaseWriter()

	merged := db.mergeSnapshotAndDelta()
	newGen := db.header.ActiveSnapshotGen + 1
	genLogger := raylog.WithGeneration(newGen)
	genLogger.Info().
		Int("delta_mutations", db.delta.MutationCount()).
		Uint64("wal_bytes", db.wal.UsedBytes()).
		Msg("compaction_start")

	newKeys, err := newKeyIndex(db.pager, merged, nil)
	if err != nil {
		return err
	}

	numEdges := uint32(0)
	for _, dsts := range merged.Out {
		numEdges += uint32(len(dsts))
	}

	startPage, pageCount, err := writeSnapshot(db.pager, newGen, merged, numEdges)
	if err != nil {
		return err
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	db.header.PrevSnapshotGen = db.header.ActiveSnapshotGen
	db.header.ActiveSnapshotGen = newGen
	db.header.SnapshotStartPage = uint64(startPage)
	db.header.SnapshotPageCount = pageCount
	db.header.WALHead = 0
	db.header.WALTail = 0
	db.header.ChangeCounter++
	db.header.SchemaCookie = db.schemaCookie

	if err := db.writeHeaderLocked(); err != nil {
		return err
	}

	db.wal.Reset()
	db.delta.Clear()
	if old := db.snap; old != nil {
		old.Close()
	}
	db.snap = merged
	db.keys = newKeys
	db.values.Clear()
	db.trav.Clear()

	metrics.CompactionsTotal.Inc()
	metrics.SnapshotBytes.Set(float64(pageCount) * float64(db.pager.PageSize()))
	metrics.ActiveSnapshotGen.Set(float64(db.header.ActiveSnapshotGen))
	metrics.Epoch.Set(float64(db.header.Epoch))
	metrics.DeltaEntries.Set(0)
	metrics.WALUsedFraction.Set(0)

	doneLogger := raylog.WithGeneration(newGen)
	doneLogger.Info().
		Uint64("pages", pageCount).
		Msg("compaction_done")
	return nil
}

// mergeSnapshotAndDelta builds the new packed generation in memory.
// This engine's Snapshot already holds fully-decoded maps (see
// snapshot_read.go's deliberate non-zero-copy trade), so the merge is a
// plain map union rather than a streaming section writer; writeSnapshot
// still does the actual page-run I/O as a single streamed pass.
func (db *DB) mergeSnapshotAndDelta() *Snapshot {
	old := db.snap
	delta := db.delta

	out := emptySnapshot()
	out.Labels = mergeLabelDict(old.Labels, delta.NewLabels())
	out.ETypes = mergeETypeDict(old.ETypes, delta.NewETypes())
	out.PropKeys = mergePropKeyDict(old.PropKeys, delta.NewPropKeys())

	deleted := make(map[graph.NodeID]bool)
	for _, id := range delta.DeletedNodeIDs() {
		deleted[id] = true
	}

	nodeSet := make(map[graph.NodeID]bool)
	for _, id := range old.NodeIDs {
		if !deleted[id] {
			nodeSet[id] = true
		}
	}
	for _, id := range delta.CreatedNodeIDs() {
		if !deleted[id] {
			nodeSet[id] = true
		}
	}

	ids := make([]graph.NodeID, 0, len(nodeSet))
	for id := range nodeSet {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	out.NodeIDs = ids

	maxID := old.MaxNodeID
	for id := range nodeSet {
		if id > maxID {
			maxID = id
		}
	}
	out.MaxNodeID = maxID

	for _, id := range ids {
		if key, ok := old.Keys[id]; ok {
			out.Keys[id] = key
		}
		if labels, ok := old.Labels_[id]; ok {
			out.Labels_[id] = append([]graph.LabelID(nil), labels...)
		}
		if created, ok := delta.CreatedNode(id); ok {
			if created.HasKey {
				out.Keys[id] = created.Key
			}
			labels := out.Labels_[id]
			for l := range created.Labels {
				labels = append(labels, l)
			}
			out.Labels_[id] = labels
		}
	}

	for k, v := range old.NodeProps {
		if !deleted[k.Node] {
			out.NodeProps[k] = v
		}
	}
	for _, np := range delta.TouchedNodeProps() {
		if deleted[np.Node] {
			continue
		}
		v, isDel, ok := delta.NodeProp(np)
		if isDel {
			delete(out.NodeProps, np)
		} else if ok {
			out.NodeProps[np] = v
		}
	}

	for k, v := range old.EdgeProps {
		if !deleted[k.Src] && !deleted[k.Dst] {
			out.EdgeProps[k] = v
		}
	}
	for _, ep := range delta.TouchedEdgeProps() {
		if deleted[ep.Src] || deleted[ep.Dst] {
			continue
		}
		v, isDel, ok := delta.EdgeProp(ep)
		if isDel {
			delete(out.EdgeProps, ep)
		} else if ok {
			out.EdgeProps[ep] = v
		}
	}

	out.Out = mergeAdjacency(old.Out, delta.TouchedOutBuckets(), deleted,
		delta.OutAdded, delta.OutDeleted)
	out.In = mergeAdjacency(old.In, delta.TouchedInBuckets(), deleted,
		delta.InAdded, delta.InDeleted)

	return out
}

// mergeLabelDict/mergeETypeDict/mergePropKeyDict extend a dictionary's
// name table so index == ID, growing the slice as needed. IDs never
// shrink and names never change.
func mergeLabelDict(old []string, additions map[graph.LabelID]string) []string {
	out := append([]string(nil), old...)
	for id, name := range additions {
		out = growDict(out, int(id))
		out[id] = name
	}
	return out
}

func mergeETypeDict(old []string, additions map[graph.ETypeID]string) []string {
	out := append([]string(nil), old...)
	for id, name := range additions {
		out = growDict(out, int(id))
		out[id] = name
	}
	return out
}

func mergePropKeyDict(old []string, additions map[graph.PropKeyID]string) []string {
	out := append([]string(nil), old...)
	for id, name := range additions {
		out = growDict(out, int(id))
		out[id] = name
	}
	return out
}

func growDict(s []string, idx int) []string {
	for len(s) <= idx {
		s = append(s, "")
	}
	return s
}

func mergeAdjacency(
	old map[edgeBucket][]uint64,
	touched []edgeBucket,
	deletedNodes map[graph.NodeID]bool,
	added func(graph.NodeID, graph.ETypeID) []uint64,
	removed func(graph.NodeID, graph.ETypeID) []uint64,
) map[edgeBucket][]uint64 {
	out := make(map[edgeBucket][]uint64, len(old))
	for b, dsts := range old {
		if deletedNodes[b.node] {
			continue
		}
		filtered := make([]uint64, 0, len(dsts))
		for _, d := range dsts {
			if !deletedNodes[graph.NodeID(d)] {
				filtered = append(filtered, d)
			}
		}
		out[b] = filtered
	}
	for _, b := range touched {
		if deletedNodes[b.node] {
			delete(out, b)
			continue
		}
		set := make(map[uint64]bool)
		for _, d := range out[b] {
			set[d] = true
		}
		for _, d := range added(b.node, b.etype) {
			if !deletedNodes[graph.NodeID(d)] {
				set[d] = true
			}
		}
		for _, d := range removed(b.node, b.etype) {
			delete(set, d)
		}
		if len(set) == 0 {
			delete(out, b)
			continue
		}
		merged := make([]uint64, 0, len(set))
		for d := range set {
			merged = append(merged, d)
		}
		sort.Slice(merged, func(i, j int) bool { return merged[i] < merged[j] })
		out[b] = merged
	}
	return out
}

var errCompactWhileTxActive = compactTxActiveError{}

type compactTxActiveError struct{}

func (compactTxActiveError) Error() string { return "cannot compact while a transaction is active" }
