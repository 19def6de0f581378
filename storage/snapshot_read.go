package storage

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/klauspost/compress/snappy"

	"github.com/rayford/raydb/graph"
)

// readSnapshot reads back a sealed snapshot written by writeSnapshot,
// verifying its CRC32C trailer and decoding it into an in-memory
// Snapshot.
//
// Real zero-copy mmap'd readers would pointer-cast the mapped bytes
// directly into typed views; this engine instead mmaps the region (see
// mmap_unix.go) to give the OS a single shared read-only mapping per
// generation, then decodes into ordinary Go maps/slices for query
// serving. That trade favors straightforward, safe code over the last
// bit of zero-copy performance.
func readSnapshot(pager *Pager, startPage uint32, pageCount uint64) (*Snapshot, uint32, error) {
	total := int(pageCount) * pager.PageSize()

	var raw []byte
	region, mapErr := pager.MapRegion(startPage, total)
	if mapErr == nil {
		raw = region.Data()
	} else {
		buffered, err := readLinear(pager, startPage, total)
		if err != nil {
			return nil, 0, err
		}
		raw = buffered
	}
	fail := func(err error) (*Snapshot, uint32, error) {
		if region != nil {
			region.close()
		}
		return nil, 0, err
	}

	gen, numNodes, numEdges, numLabels, numETypes, numPropKeys, maxNodeID, err := decodeSnapshotHeader(raw)
	if err != nil {
		return fail(err)
	}
	_ = numNodes
	off := snapshotHeaderSize
	if off+1+4 > len(raw) {
		return fail(errCorrupt("snapshot.Read", fmt.Errorf("truncated trailer")))
	}
	flag := raw[off]
	off++
	bodyLen := int(binary.LittleEndian.Uint32(raw[off:]))
	off += 4
	if off+bodyLen+4 > len(raw) {
		return fail(errCorrupt("snapshot.Read", fmt.Errorf("truncated body")))
	}
	if !verifyCRC32C(raw[:off+bodyLen+4]) {
		return fail(errCorrupt("snapshot.Read", fmt.Errorf("crc32c mismatch")))
	}
	stored := raw[off : off+bodyLen]

	var body []byte
	if flag == 1 {
		body, err = snappy.Decode(nil, stored)
		if err != nil {
			return fail(errCorrupt("snapshot.Read", err))
		}
	} else {
		body = stored
	}

	// decodeSnapshotBody copies every string and slice it returns, so the
	// decoded Snapshot never aliases the mapped bytes; the mapping is kept
	// only so concurrent read-only opens share one page-cache-resident copy.
	s, err := decodeSnapshotBody(body, uint32(numLabels), uint32(numETypes), uint32(numPropKeys))
	if err != nil {
		return fail(err)
	}
	s.Generation = gen
	s.MaxNodeID = graph.NodeID(maxNodeID)
	s.mmap = region
	_ = numEdges
	return s, uint32(gen), nil
}

func decodeSnapshotBody(buf []byte, numLabels, numETypes, numPropKeys uint32) (*Snapshot, error) {
	r := &byteReader{buf: buf}
	s := emptySnapshot()

	var err error
	if s.Labels, err = r.readStrings(); err != nil {
		return nil, err
	}
	if s.ETypes, err = r.readStrings(); err != nil {
		return nil, err
	}
	if s.PropKeys, err = r.readStrings(); err != nil {
		return nil, err
	}

	numNodes, err := r.u32()
	if err != nil {
		return nil, err
	}
	s.NodeIDs = make([]graph.NodeID, 0, numNodes)
	for i := uint32(0); i < numNodes; i++ {
		id, err := r.u64()
		if err != nil {
			return nil, err
		}
		hasKey, err := r.byte()
		if err != nil {
			return nil, err
		}
		nodeID := graph.NodeID(id)
		if hasKey == 1 {
			key, err := r.string16()
			if err != nil {
				return nil, err
			}
			s.Keys[nodeID] = key
		}
		numL, err := r.u16()
		if err != nil {
			return nil, err
		}
		labels := make([]graph.LabelID, numL)
		for j := range labels {
			v, err := r.u32()
			if err != nil {
				return nil, err
			}
			labels[j] = graph.LabelID(v)
		}
		s.Labels_[nodeID] = labels
		s.NodeIDs = append(s.NodeIDs, nodeID)
	}

	numNodeProps, err := r.u32()
	if err != nil {
		return nil, err
	}
	for i := uint32(0); i < numNodeProps; i++ {
		nid, err := r.u64()
		if err != nil {
			return nil, err
		}
		key, err := r.u32()
		if err != nil {
			return nil, err
		}
		v, err := r.propValue()
		if err != nil {
			return nil, err
		}
		s.NodeProps[graph.NodeProp{Node: graph.NodeID(nid), Key: graph.PropKeyID(key)}] = v
	}

	numEdgeProps, err := r.u32()
	if err != nil {
		return nil, err
	}
	for i := uint32(0); i < numEdgeProps; i++ {
		src, err := r.u64()
		if err != nil {
			return nil, err
		}
		etype, err := r.u32()
		if err != nil {
			return nil, err
		}
		dst, err := r.u64()
		if err != nil {
			return nil, err
		}
		key, err := r.u32()
		if err != nil {
			return nil, err
		}
		v, err := r.propValue()
		if err != nil {
			return nil, err
		}
		s.EdgeProps[graph.EdgeProp{Src: graph.NodeID(src), EType: graph.ETypeID(etype), Dst: graph.NodeID(dst), Key: graph.PropKeyID(key)}] = v
	}

	if s.Out, err = r.readAdjacency(); err != nil {
		return nil, err
	}
	if s.In, err = r.readAdjacency(); err != nil {
		return nil, err
	}

	return s, nil
}

// readLinear reads length bytes starting at startPage.
func readLinear(pager *Pager, startPage uint32, length int) ([]byte, error) {
	pageSize := pager.PageSize()
	pid := startPage
	out := make([]byte, 0, length)
	for len(out) < length {
		page, err := pager.ReadPage(pid)
		if err != nil {
			return nil, err
		}
		take := length - len(out)
		if take > pageSize {
			take = pageSize
		}
		out = append(out, page.Data[:take]...)
		pid++
	}
	return out, nil
}

// byteReader is a minimal cursor over a decoded snapshot body.
type byteReader struct {
	buf []byte
	off int
}

func (r *byteReader) need(n int) error {
	if r.off+n > len(r.buf) {
		return errCorrupt("snapshot.Read", fmt.Errorf("truncated field at offset %d", r.off))
	}
	return nil
}

func (r *byteReader) byte() (byte, error) {
	if err := r.need(1); err != nil {
		return 0, err
	}
	b := r.buf[r.off]
	r.off++
	return b, nil
}

func (r *byteReader) u16() (uint16, error) {
	if err := r.need(2); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint16(r.buf[r.off:])
	r.off += 2
	return v, nil
}

func (r *byteReader) u32() (uint32, error) {
	if err := r.need(4); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint32(r.buf[r.off:])
	r.off += 4
	return v, nil
}

func (r *byteReader) u64() (uint64, error) {
	if err := r.need(8); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint64(r.buf[r.off:])
	r.off += 8
	return v, nil
}

func (r *byteReader) string16() (string, error) {
	n, err := r.u16()
	if err != nil {
		return "", err
	}
	if err := r.need(int(n)); err != nil {
		return "", err
	}
	s := string(r.buf[r.off : r.off+int(n)])
	r.off += int(n)
	return s, nil
}

func (r *byteReader) readStrings() ([]string, error) {
	n, err := r.u32()
	if err != nil {
		return nil, err
	}
	out := make([]string, n)
	for i := range out {
		if out[i], err = r.string16(); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (r *byteReader) propValue() (graph.PropValue, error) {
	kind, err := r.byte()
	if err != nil {
		return graph.PropValue{}, err
	}
	switch graph.ValueKind(kind) {
	case graph.KindNull:
		return graph.Null(), nil
	case graph.KindBool:
		b, err := r.byte()
		if err != nil {
			return graph.PropValue{}, err
		}
		return graph.BoolValue(b == 1), nil
	case graph.KindInt64:
		v, err := r.u64()
		if err != nil {
			return graph.PropValue{}, err
		}
		return graph.Int64Value(int64(v)), nil
	case graph.KindFloat64:
		v, err := r.u64()
		if err != nil {
			return graph.PropValue{}, err
		}
		return graph.Float64Value(math.Float64frombits(v)), nil
	case graph.KindString:
		n, err := r.u32()
		if err != nil {
			return graph.PropValue{}, err
		}
		if err := r.need(int(n)); err != nil {
			return graph.PropValue{}, err
		}
		s := string(r.buf[r.off : r.off+int(n)])
		r.off += int(n)
		return graph.StringValue(s), nil
	case graph.KindVector:
		n, err := r.u32()
		if err != nil {
			return graph.PropValue{}, err
		}
		vec := make([]float32, n)
		for i := range vec {
			bits, err := r.u32()
			if err != nil {
				return graph.PropValue{}, err
			}
			vec[i] = math.Float32frombits(bits)
		}
		return graph.VectorValue(vec), nil
	default:
		return graph.PropValue{}, errCorrupt("snapshot.Read", fmt.Errorf("unknown value kind %d", kind))
	}
}

func (r *byteReader) readAdjacency() (map[edgeBucket][]uint64, error) {
	n, err := r.u32()
	if err != nil {
		return nil, err
	}
	m := make(map[edgeBucket][]uint64, n)
	for i := uint32(0); i < n; i++ {
		node, err := r.u64()
		if err != nil {
			return nil, err
		}
		etype, err := r.u32()
		if err != nil {
			return nil, err
		}
		count, err := r.u32()
		if err != nil {
			return nil, err
		}
		dsts := make([]uint64, count)
		for j := range dsts {
			if dsts[j], err = r.u64(); err != nil {
				return nil, err
			}
		}
		m[edgeBucket{node: graph.NodeID(node), etype: graph.ETypeID(etype)}] = dsts
	}
	return m, nil
}
