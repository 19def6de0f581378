package storage

import (
	"encoding/binary"
	"math"
	"sort"

	"github.com/klauspost/compress/snappy"

	"github.com/rayford/raydb/graph"
)

// encodeSnapshotBody serializes everything after the fixed section
// header: dictionary tables, the node section, property columns, and CSR
// adjacency. Sections are written back-to-back in a single body so the
// whole thing can be snappy-compressed once, and only kept compressed
// when that actually comes out smaller.
func encodeSnapshotBody(s *Snapshot) []byte {
	var buf []byte

	buf = appendStrings(buf, s.Labels)
	buf = appendStrings(buf, s.ETypes)
	buf = appendStrings(buf, s.PropKeys)

	buf = appendU32(buf, uint32(len(s.NodeIDs)))
	for _, id := range s.NodeIDs {
		buf = appendU64(buf, uint64(id))
		key, hasKey := s.Keys[id]
		if hasKey {
			buf = append(buf, 1)
			buf = appendU16(buf, uint16(len(key)))
			buf = append(buf, key...)
		} else {
			buf = append(buf, 0)
		}
		labels := s.Labels_[id]
		buf = appendU16(buf, uint16(len(labels)))
		for _, l := range labels {
			buf = appendU32(buf, uint32(l))
		}
	}

	nodePropKeys := make([]graph.NodeProp, 0, len(s.NodeProps))
	for k := range s.NodeProps {
		nodePropKeys = append(nodePropKeys, k)
	}
	sort.Slice(nodePropKeys, func(i, j int) bool {
		if nodePropKeys[i].Node != nodePropKeys[j].Node {
			return nodePropKeys[i].Node < nodePropKeys[j].Node
		}
		return nodePropKeys[i].Key < nodePropKeys[j].Key
	})
	buf = appendU32(buf, uint32(len(nodePropKeys)))
	for _, k := range nodePropKeys {
		buf = appendU64(buf, uint64(k.Node))
		buf = appendU32(buf, uint32(k.Key))
		buf = appendPropValue(buf, s.NodeProps[k])
	}

	edgePropKeys := make([]graph.EdgeProp, 0, len(s.EdgeProps))
	for k := range s.EdgeProps {
		edgePropKeys = append(edgePropKeys, k)
	}
	sort.Slice(edgePropKeys, func(i, j int) bool {
		return edgePropKeys[i].Src < edgePropKeys[j].Src
	})
	buf = appendU32(buf, uint32(len(edgePropKeys)))
	for _, k := range edgePropKeys {
		buf = appendU64(buf, uint64(k.Src))
		buf = appendU32(buf, uint32(k.EType))
		buf = appendU64(buf, uint64(k.Dst))
		buf = appendU32(buf, uint32(k.Key))
		buf = appendPropValue(buf, s.EdgeProps[k])
	}

	buf = appendAdjacency(buf, s.Out)
	buf = appendAdjacency(buf, s.In)

	return buf
}

func appendAdjacency(buf []byte, m map[edgeBucket][]uint64) []byte {
	buckets := make([]edgeBucket, 0, len(m))
	for b := range m {
		buckets = append(buckets, b)
	}
	sort.Slice(buckets, func(i, j int) bool {
		if buckets[i].node != buckets[j].node {
			return buckets[i].node < buckets[j].node
		}
		return buckets[i].etype < buckets[j].etype
	})
	buf = appendU32(buf, uint32(len(buckets)))
	for _, b := range buckets {
		dsts := m[b]
		buf = appendU64(buf, uint64(b.node))
		buf = appendU32(buf, uint32(b.etype))
		buf = appendU32(buf, uint32(len(dsts)))
		for _, d := range dsts {
			buf = appendU64(buf, d)
		}
	}
	return buf
}

func appendPropValue(buf []byte, v graph.PropValue) []byte {
	buf = append(buf, byte(v.Kind))
	switch v.Kind {
	case graph.KindBool:
		if v.Bool {
			buf = append(buf, 1)
		} else {
			buf = append(buf, 0)
		}
	case graph.KindInt64:
		buf = appendU64(buf, uint64(v.Int64))
	case graph.KindFloat64:
		buf = appendU64(buf, math.Float64bits(v.Float))
	case graph.KindString:
		buf = appendU32(buf, uint32(len(v.Str)))
		buf = append(buf, v.Str...)
	case graph.KindVector:
		buf = appendU32(buf, uint32(len(v.Vector)))
		for _, f := range v.Vector {
			buf = appendU32(buf, math.Float32bits(f))
		}
	}
	return buf
}

func appendStrings(buf []byte, ss []string) []byte {
	buf = appendU32(buf, uint32(len(ss)))
	for _, s := range ss {
		buf = appendU16(buf, uint16(len(s)))
		buf = append(buf, s...)
	}
	return buf
}

func appendU16(buf []byte, v uint16) []byte {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	return append(buf, b[:]...)
}

func appendU32(buf []byte, v uint32) []byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return append(buf, b[:]...)
}

func appendU64(buf []byte, v uint64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	return append(buf, b[:]...)
}

// snapshotCompressThreshold is the body size above which snappy
// compression is attempted; below it the codec overhead outweighs any
// saving.
const snapshotCompressThreshold = 256

// sealSnapshot wraps a body with the fixed section header, an optional
// snappy pass, and a CRC32C trailer.
func sealSnapshot(gen uint64, s *Snapshot, numEdges uint32) []byte {
	header := encodeSnapshotHeader(gen, uint32(len(s.NodeIDs)), numEdges,
		uint32(len(s.Labels)), uint32(len(s.ETypes)), uint32(len(s.PropKeys)), uint64(s.MaxNodeID))

	body := encodeSnapshotBody(s)
	flag := byte(0)
	stored := body
	if len(body) >= snapshotCompressThreshold {
		compressed := snappy.Encode(nil, body)
		if len(compressed) < len(body) {
			stored = compressed
			flag = 1
		}
	}

	out := make([]byte, 0, len(header)+1+4+len(stored)+4)
	out = append(out, header...)
	out = append(out, flag)
	out = appendU32(out, uint32(len(stored)))
	out = append(out, stored...)
	crc := crc32c(out)
	out = appendU32(out, crc)
	return out
}

// writeSnapshot allocates a fresh page run past the current file end,
// writes the sealed snapshot bytes into it, and fsyncs before returning,
// so the header rewrite that follows never references unflushed pages.
func writeSnapshot(pager *Pager, gen uint64, s *Snapshot, numEdges uint32) (startPage uint32, pageCount uint64, err error) {
	sealed := sealSnapshot(gen, s, numEdges)
	pages := (len(sealed) + pager.PageSize() - 1) / pager.PageSize()
	if pages == 0 {
		pages = 1
	}
	first, err := pager.AllocatePages(pages)
	if err != nil {
		return 0, 0, err
	}
	if err := writeLinear(pager, first, sealed); err != nil {
		return 0, 0, err
	}
	if err := pager.Sync(); err != nil {
		return 0, 0, err
	}
	return first, uint64(pages), nil
}

// writeLinear writes data across contiguous pages starting at startPage,
// zero-padding the final page.
func writeLinear(pager *Pager, startPage uint32, data []byte) error {
	pageSize := pager.PageSize()
	pid := startPage
	off := 0
	for off < len(data) {
		page, err := pager.ReadPage(pid)
		if err != nil {
			return err
		}
		n := copy(page.Data, data[off:])
		if n < pageSize {
			for i := n; i < pageSize; i++ {
				page.Data[i] = 0
			}
		}
		if err := pager.WritePage(page); err != nil {
			return err
		}
		off += n
		pid++
	}
	return nil
}
