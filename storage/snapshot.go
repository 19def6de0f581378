package storage

import (
	"encoding/binary"
	"fmt"

	"github.com/rayford/raydb/graph"
)

// Snapshot is the immutable, packed, mmap'd view over a generation's
// data. It is built once by the compactor and then only ever read;
// a new generation replaces it wholesale, it is never mutated in place.
type Snapshot struct {
	Generation uint64

	Labels   []string // index = LabelID
	ETypes   []string // index = ETypeID
	PropKeys []string // index = PropKeyID

	// Nodes, sorted by NodeID.
	NodeIDs []graph.NodeID
	Keys    map[graph.NodeID]string // external key, if any
	Labels_ map[graph.NodeID][]graph.LabelID

	// Property columns, key-sorted and node-grouped.
	NodeProps map[graph.NodeProp]graph.PropValue
	EdgeProps map[graph.EdgeProp]graph.PropValue

	// Adjacency in CSR form: per (node, etype) sorted destination ids.
	Out map[edgeBucket][]uint64
	In  map[edgeBucket][]uint64

	MaxNodeID graph.NodeID

	mmap *mappedRegion // nil for an in-memory/just-built snapshot
}

// emptySnapshot is the generation-0 placeholder used when a database has
// never been compacted (header.active_snapshot_gen == 0).
func emptySnapshot() *Snapshot {
	return &Snapshot{
		Keys:      make(map[graph.NodeID]string),
		Labels_:   make(map[graph.NodeID][]graph.LabelID),
		NodeProps: make(map[graph.NodeProp]graph.PropValue),
		EdgeProps: make(map[graph.EdgeProp]graph.PropValue),
		Out:       make(map[edgeBucket][]uint64),
		In:        make(map[edgeBucket][]uint64),
	}
}

// Close releases the snapshot's mmap region, if it has one. Safe to call
// on an in-memory snapshot; a superseded generation must be closed before
// its pages can be reused by a later compaction.
func (s *Snapshot) Close() error {
	if s == nil || s.mmap == nil {
		return nil
	}
	err := s.mmap.close()
	s.mmap = nil
	return err
}

// HasNode reports whether id is present in this snapshot generation.
func (s *Snapshot) HasNode(id graph.NodeID) bool {
	// Node section is sorted by NodeID; binary search.
	lo, hi := 0, len(s.NodeIDs)
	for lo < hi {
		mid := (lo + hi) / 2
		if s.NodeIDs[mid] < id {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo < len(s.NodeIDs) && s.NodeIDs[lo] == id
}

// snapshotMagic marks the start of a snapshot section header.
var snapshotMagic = [8]byte{'R', 'a', 'y', 'S', 'n', 'a', 'p', '1'}

// snapshotHeaderSize: magic(8) + generation(8) + 5 counts(4 each) +
// max_node_id(8) + crc32c(4).
const snapshotHeaderSize = 8 + 8 + 5*4 + 8 + 4

// encodeSnapshotHeader serializes the fixed-size section header: magic,
// generation, section counts, max node id, CRC.
func encodeSnapshotHeader(gen uint64, numNodes, numEdges, numLabels, numETypes, numPropKeys uint32, maxNodeID uint64) []byte {
	buf := make([]byte, snapshotHeaderSize)
	off := 0
	copy(buf[off:], snapshotMagic[:])
	off += 8
	binary.LittleEndian.PutUint64(buf[off:], gen)
	off += 8
	for _, v := range []uint32{numNodes, numEdges, numLabels, numETypes, numPropKeys} {
		binary.LittleEndian.PutUint32(buf[off:], v)
		off += 4
	}
	binary.LittleEndian.PutUint64(buf[off:], maxNodeID)
	off += 8
	crc := crc32c(buf[:off])
	binary.LittleEndian.PutUint32(buf[off:], crc)
	return buf
}

func decodeSnapshotHeader(buf []byte) (gen uint64, numNodes, numEdges, numLabels, numETypes, numPropKeys uint32, maxNodeID uint64, err error) {
	if len(buf) < snapshotHeaderSize {
		return 0, 0, 0, 0, 0, 0, 0, errCorrupt("snapshot.Decode", fmt.Errorf("header too short"))
	}
	if !verifyCRC32C(buf[:snapshotHeaderSize]) {
		return 0, 0, 0, 0, 0, 0, 0, errCorrupt("snapshot.Decode", fmt.Errorf("crc32c mismatch"))
	}
	var magic [8]byte
	copy(magic[:], buf[0:8])
	if magic != snapshotMagic {
		return 0, 0, 0, 0, 0, 0, 0, errCorrupt("snapshot.Decode", fmt.Errorf("bad magic"))
	}
	off := 8
	gen = binary.LittleEndian.Uint64(buf[off:])
	off += 8
	counts := make([]uint32, 5)
	for i := range counts {
		counts[i] = binary.LittleEndian.Uint32(buf[off:])
		off += 4
	}
	maxNodeID = binary.LittleEndian.Uint64(buf[off:])
	return gen, counts[0], counts[1], counts[2], counts[3], counts[4], maxNodeID, nil
}
