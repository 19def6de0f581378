package storage

import (
	"encoding/binary"
	"fmt"

	"github.com/rayford/raydb/metrics"
)

// WALRecordType identifies the kind of mutation a WAL record carries.
type WALRecordType uint32

const (
	RecBegin WALRecordType = iota + 1
	RecCommit
	RecAbort
	RecCreateNode
	RecDeleteNode
	RecAddEdge
	RecDeleteEdge
	RecDefineLabel
	RecDefineEType
	RecDefinePropKey
	RecSetNodeProp
	RecDelNodeProp
	RecSetEdgeProp
	RecDelEdgeProp
	RecSetNodeVector
	RecDelNodeVector
	RecBatchVectors
	RecSealFragment
	RecCompactFragments
)

func (t WALRecordType) String() string {
	names := map[WALRecordType]string{
		RecBegin: "BEGIN", RecCommit: "COMMIT", RecAbort: "ABORT",
		RecCreateNode: "CREATE_NODE", RecDeleteNode: "DELETE_NODE",
		RecAddEdge: "ADD_EDGE", RecDeleteEdge: "DELETE_EDGE",
		RecDefineLabel: "DEFINE_LABEL", RecDefineEType: "DEFINE_ETYPE",
		RecDefinePropKey: "DEFINE_PROPKEY",
		RecSetNodeProp:   "SET_NODE_PROP", RecDelNodeProp: "DEL_NODE_PROP",
		RecSetEdgeProp: "SET_EDGE_PROP", RecDelEdgeProp: "DEL_EDGE_PROP",
		RecSetNodeVector: "SET_NODE_VECTOR", RecDelNodeVector: "DEL_NODE_VECTOR",
		RecBatchVectors: "BATCH_VECTORS", RecSealFragment: "SEAL_FRAGMENT",
		RecCompactFragments: "COMPACT_FRAGMENTS",
	}
	if s, ok := names[t]; ok {
		return s
	}
	return fmt.Sprintf("WALRecordType(%d)", t)
}

// walRecordHeaderSize is type(4) + txid(8) + payload_len(4).
const walRecordHeaderSize = 4 + 8 + 4

// WALRecord is a decoded entry from the ring.
type WALRecord struct {
	Type    WALRecordType
	TxID    uint64
	Payload []byte
}

// align8 rounds n up to the next multiple of 8.
func align8(n int) int {
	return (n + 7) &^ 7
}

// walRecordWireSize is the full on-ring size of a record with a
// payloadLen-byte payload: header, payload, zero padding and trailing CRC,
// rounded so every record starts and ends on an 8-byte boundary.
func walRecordWireSize(payloadLen int) int {
	return align8(walRecordHeaderSize + payloadLen + 4)
}

// encodeWALRecord serializes rec as
// [u32 type][u64 txid][u32 payload_len][payload][pad to 8B][u32 crc32c],
// with the CRC32C computed over everything preceding it, padding
// included. Total length is a multiple of 8 so records stay aligned.
func encodeWALRecord(rtype WALRecordType, txid uint64, payload []byte) []byte {
	total := walRecordWireSize(len(payload))
	buf := make([]byte, total)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(rtype))
	binary.LittleEndian.PutUint64(buf[4:12], txid)
	binary.LittleEndian.PutUint32(buf[12:16], uint32(len(payload)))
	copy(buf[16:], payload)
	crc := crc32c(buf[:total-4])
	binary.LittleEndian.PutUint32(buf[total-4:], crc)
	return buf
}

// decodeWALRecord parses a single record out of buf (which must contain at
// least the record's encoded length) and returns the record plus the number
// of bytes it occupied on the wire. It returns an error if the CRC does not
// verify; callers treat that as "stop scanning here".
func decodeWALRecord(buf []byte) (WALRecord, int, error) {
	if len(buf) < walRecordHeaderSize {
		return WALRecord{}, 0, fmt.Errorf("wal: truncated record header")
	}
	rtype := WALRecordType(binary.LittleEndian.Uint32(buf[0:4]))
	txid := binary.LittleEndian.Uint64(buf[4:12])
	payloadLen := binary.LittleEndian.Uint32(buf[12:16])
	total := walRecordWireSize(int(payloadLen))
	if len(buf) < total {
		return WALRecord{}, 0, fmt.Errorf("wal: truncated record body")
	}
	if !verifyCRC32C(buf[:total]) {
		return WALRecord{}, 0, fmt.Errorf("wal: crc32c mismatch")
	}
	payload := make([]byte, payloadLen)
	copy(payload, buf[16:16+payloadLen])
	return WALRecord{Type: rtype, TxID: txid, Payload: payload}, total, nil
}

// WAL is the circular log ring embedded in pages [startPage, startPage+
// pageCount) of the database file. head/tail are monotonically
// increasing logical byte offsets; the physical address of logical offset
// o is startPage*pageSize + (o mod capacity). This avoids the classic
// "head==tail means empty or full" ambiguity of a bare mod-capacity cursor.
type WAL struct {
	pager     *Pager
	startPage uint32
	pageCount uint32
	capacity  uint64

	head uint64
	tail uint64
}

// openWAL wraps the pager's WAL page extent with ring read/write logic.
// head and tail come from the header's wal_head/wal_tail fields.
func openWAL(pager *Pager, startPage, pageCount uint32, head, tail uint64) *WAL {
	return &WAL{
		pager:     pager,
		startPage: startPage,
		pageCount: pageCount,
		capacity:  uint64(pageCount) * uint64(pager.PageSize()),
		head:      head,
		tail:      tail,
	}
}

// Head and Tail expose the current ring cursors for header serialization.
func (w *WAL) Head() uint64 { return w.head }
func (w *WAL) Tail() uint64 { return w.tail }

// Capacity is the WAL ring's byte capacity.
func (w *WAL) Capacity() uint64 { return w.capacity }

// UsedBytes is the number of bytes currently occupied between tail and head.
func (w *WAL) UsedBytes() uint64 { return w.head - w.tail }

// CanWrite reports whether n more bytes fit in the ring without
// exceeding its capacity.
func (w *WAL) CanWrite(n int) bool {
	return w.UsedBytes()+uint64(n) <= w.capacity
}

// Append encodes and writes a single record at the current head, advancing
// it. The caller is responsible for calling Flush/Sync at the transaction's
// commit boundary; Append alone only stages the bytes into pager-cached
// pages.
func (w *WAL) Append(rtype WALRecordType, txid uint64, payload []byte) error {
	rec := encodeWALRecord(rtype, txid, payload)
	if !w.CanWrite(len(rec)) {
		return ErrWalBufferFull
	}
	if err := w.ringWrite(w.head, rec); err != nil {
		return err
	}
	w.head += uint64(len(rec))
	metrics.WALBytesWritten.Add(float64(len(rec)))
	return nil
}

// Flush fsyncs the underlying pager so every Append since the last Flush
// is durable. Commit calls this before writing the header.
func (w *WAL) Flush() error {
	if err := w.pager.Sync(); err != nil {
		return err
	}
	metrics.WALFlushes.Inc()
	return nil
}

// AdvanceTail moves the reclaim boundary forward; only the compactor
// should call this, once a new snapshot's state already includes every
// record up to the new tail.
func (w *WAL) AdvanceTail(newTail uint64) {
	if newTail > w.tail && newTail <= w.head {
		w.tail = newTail
	}
}

// Reset empties the ring, used by the compactor after a successful
// snapshot write.
func (w *WAL) Reset() {
	w.head = 0
	w.tail = 0
}

// TruncateHead rewinds the head to newHead, discarding everything past
// it. Recovery calls this when a scan stops short of the recorded head
// so the next append lands at the end of the intact prefix instead of
// beyond unreachable bytes.
func (w *WAL) TruncateHead(newHead uint64) {
	if newHead >= w.tail && newHead < w.head {
		w.head = newHead
	}
}

// Scan decodes every record in [tail, head), stopping at the first CRC
// failure or truncation. It never returns a partially-read final record.
func (w *WAL) Scan() ([]WALRecord, error) {
	var records []WALRecord
	off := w.tail
	for off < w.head {
		remaining := w.head - off
		headerBuf, err := w.ringRead(off, minInt(int(remaining), walRecordHeaderSize))
		if err != nil {
			return records, nil
		}
		if len(headerBuf) < walRecordHeaderSize {
			break
		}
		payloadLen := binary.LittleEndian.Uint32(headerBuf[12:16])
		total := walRecordWireSize(int(payloadLen))
		if uint64(total) > remaining {
			break // truncated mid-record: stop, discard the rest
		}
		full, err := w.ringRead(off, total)
		if err != nil {
			break
		}
		rec, n, err := decodeWALRecord(full)
		if err != nil {
			break
		}
		records = append(records, rec)
		off += uint64(n)
	}
	return records, nil
}

// WALFrame is one decoded record plus its logical ring offset and
// encoded wire length, the unit log_page pagination works over.
type WALFrame struct {
	Offset     uint64
	Record     WALRecord
	EncodedLen int
}

// ScanFrom decodes records starting at logical offset from, stopping once
// maxFrames or maxBytes (0 means unbounded) is reached, the ring's current
// head is exhausted, or the first CRC failure/truncation is hit. It
// returns the offset a subsequent call should resume from and whether the
// head was reached (no more frames available right now).
func (w *WAL) ScanFrom(from uint64, maxFrames, maxBytes int) ([]WALFrame, uint64, bool) {
	if from < w.tail {
		from = w.tail
	}
	var frames []WALFrame
	off := from
	budget := maxBytes
	for off < w.head {
		if maxFrames > 0 && len(frames) >= maxFrames {
			return frames, off, false
		}
		remaining := w.head - off
		headerBuf, err := w.ringRead(off, minInt(int(remaining), walRecordHeaderSize))
		if err != nil || len(headerBuf) < walRecordHeaderSize {
			break
		}
		payloadLen := binary.LittleEndian.Uint32(headerBuf[12:16])
		total := walRecordWireSize(int(payloadLen))
		if uint64(total) > remaining {
			break
		}
		if maxBytes > 0 && total > budget && len(frames) > 0 {
			return frames, off, false
		}
		full, err := w.ringRead(off, total)
		if err != nil {
			break
		}
		rec, n, err := decodeWALRecord(full)
		if err != nil {
			break
		}
		frames = append(frames, WALFrame{Offset: off, Record: rec, EncodedLen: n})
		off += uint64(n)
		budget -= total
	}
	return frames, off, off >= w.head
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// ringWrite writes data starting at logical offset logicalOff, wrapping
// around the ring's capacity as needed.
func (w *WAL) ringWrite(logicalOff uint64, data []byte) error {
	pos := logicalOff % w.capacity
	n := uint64(len(data))
	if pos+n <= w.capacity {
		return w.writeRingBytes(pos, data)
	}
	first := w.capacity - pos
	if err := w.writeRingBytes(pos, data[:first]); err != nil {
		return err
	}
	return w.writeRingBytes(0, data[first:])
}

// ringRead reads n bytes starting at logical offset logicalOff, wrapping as
// needed. It returns a short read (err == nil, len(buf) < n) only when
// fewer than n bytes are addressable; callers treat that as truncation.
func (w *WAL) ringRead(logicalOff uint64, n int) ([]byte, error) {
	if n <= 0 {
		return nil, nil
	}
	pos := logicalOff % w.capacity
	if pos+uint64(n) <= w.capacity {
		return w.readRingBytes(pos, n)
	}
	first := int(w.capacity - pos)
	a, err := w.readRingBytes(pos, first)
	if err != nil {
		return nil, err
	}
	b, err := w.readRingBytes(0, n-first)
	if err != nil {
		return nil, err
	}
	return append(a, b...), nil
}

func (w *WAL) writeRingBytes(ringPos uint64, data []byte) error {
	pageSize := uint64(w.pager.PageSize())
	absByte := uint64(w.startPage)*pageSize + ringPos
	pageID := uint32(absByte / pageSize)
	offInPage := int(absByte % pageSize)
	remaining := data
	for len(remaining) > 0 {
		page, err := w.pager.ReadPage(pageID)
		if err != nil {
			return err
		}
		n := copy(page.Data[offInPage:], remaining)
		if n == 0 {
			return fmt.Errorf("wal: page %d has no room at offset %d", pageID, offInPage)
		}
		if err := w.pager.WritePage(page); err != nil {
			return err
		}
		remaining = remaining[n:]
		offInPage = 0
		pageID++
	}
	return nil
}

func (w *WAL) readRingBytes(ringPos uint64, n int) ([]byte, error) {
	pageSize := uint64(w.pager.PageSize())
	absByte := uint64(w.startPage)*pageSize + ringPos
	pageID := uint32(absByte / pageSize)
	offInPage := int(absByte % pageSize)
	out := make([]byte, 0, n)
	for len(out) < n {
		page, err := w.pager.ReadPage(pageID)
		if err != nil {
			return out, err
		}
		end := offInPage + (n - len(out))
		if end > len(page.Data) {
			end = len(page.Data)
		}
		out = append(out, page.Data[offInPage:end]...)
		offInPage = 0
		pageID++
	}
	return out, nil
}
