package storage

import (
	"encoding/binary"
	"fmt"
)

// Header is the database superblock, stored in page 0. Field order and
// widths are fixed so the on-disk layout is unambiguous between
// implementations.
type Header struct {
	PageSize          uint32
	Version           uint32
	MinReaderVersion  uint32
	Flags             uint32
	ChangeCounter     uint64
	ActiveSnapshotGen uint64
	PrevSnapshotGen   uint64
	SnapshotStartPage uint64
	SnapshotPageCount uint64
	WALStartPage      uint64
	WALPageCount      uint64
	WALHead           uint64
	WALTail           uint64
	DBSizePages       uint64
	MaxNodeID         uint64
	NextTxID          uint64
	SchemaCookie      uint64
	LastCommitTSMs    uint64
	Epoch             uint64
}

// headerMagic is the fixed 16-byte magic string stamped at the start of
// page 0.
var headerMagic = [16]byte{'R', 'a', 'y', 'D', 'B', ' ', 'f', 'o', 'r', 'm', 'a', 't', ' ', '1', 0, 0}

const (
	FormatVersion    = 1
	MinReaderVersion = 1
)

// headerBodySize is the number of bytes covered by the header layout
// before the trailing CRC32C (magic through epoch).
const headerBodySize = 16 + 4 + 4 + 4 + 4 + 8*15

// headerEncodedSize is headerBodySize plus the trailing 4-byte CRC32C.
const headerEncodedSize = headerBodySize + 4

// EncodeHeader serializes h into a page-0-sized buffer (size must be >=
// headerEncodedSize; the rest of the page is left zeroed).
func EncodeHeader(h *Header, pageSize int) []byte {
	buf := make([]byte, pageSize)
	off := 0
	copy(buf[off:], headerMagic[:])
	off += 16
	binary.LittleEndian.PutUint32(buf[off:], h.PageSize)
	off += 4
	binary.LittleEndian.PutUint32(buf[off:], h.Version)
	off += 4
	binary.LittleEndian.PutUint32(buf[off:], h.MinReaderVersion)
	off += 4
	binary.LittleEndian.PutUint32(buf[off:], h.Flags)
	off += 4
	for _, v := range []uint64{
		h.ChangeCounter, h.ActiveSnapshotGen, h.PrevSnapshotGen,
		h.SnapshotStartPage, h.SnapshotPageCount,
		h.WALStartPage, h.WALPageCount, h.WALHead, h.WALTail,
		h.DBSizePages, h.MaxNodeID, h.NextTxID, h.SchemaCookie,
		h.LastCommitTSMs, h.Epoch,
	} {
		binary.LittleEndian.PutUint64(buf[off:], v)
		off += 8
	}
	crc := crc32c(buf[:off])
	binary.LittleEndian.PutUint32(buf[off:], crc)
	return buf
}

// DecodeHeader parses and validates a page-0 buffer. It returns a
// *raydb.Error wrapping CodeCorrupt on any magic/CRC mismatch, and
// CodeInvalidArgument on an out-of-range page size or version.
func DecodeHeader(buf []byte) (*Header, error) {
	if len(buf) < headerEncodedSize {
		return nil, errCorrupt("header.Decode", fmt.Errorf("page too small: %d bytes", len(buf)))
	}
	if !verifyCRC32C(buf[:headerEncodedSize]) {
		return nil, errCorrupt("header.Decode", fmt.Errorf("crc32c mismatch"))
	}
	off := 0
	var magic [16]byte
	copy(magic[:], buf[off:off+16])
	if magic != headerMagic {
		return nil, errCorrupt("header.Decode", fmt.Errorf("bad magic"))
	}
	off += 16
	h := &Header{}
	h.PageSize = binary.LittleEndian.Uint32(buf[off:])
	off += 4
	h.Version = binary.LittleEndian.Uint32(buf[off:])
	off += 4
	h.MinReaderVersion = binary.LittleEndian.Uint32(buf[off:])
	off += 4
	h.Flags = binary.LittleEndian.Uint32(buf[off:])
	off += 4
	fields := []*uint64{
		&h.ChangeCounter, &h.ActiveSnapshotGen, &h.PrevSnapshotGen,
		&h.SnapshotStartPage, &h.SnapshotPageCount,
		&h.WALStartPage, &h.WALPageCount, &h.WALHead, &h.WALTail,
		&h.DBSizePages, &h.MaxNodeID, &h.NextTxID, &h.SchemaCookie,
		&h.LastCommitTSMs, &h.Epoch,
	}
	for _, f := range fields {
		*f = binary.LittleEndian.Uint64(buf[off:])
		off += 8
	}
	if err := validatePageSize(h.PageSize); err != nil {
		return nil, err
	}
	if h.MinReaderVersion > FormatVersion {
		return nil, errInvalid("header.Decode", fmt.Errorf("file requires reader version >= %d, this engine is %d", h.MinReaderVersion, FormatVersion))
	}
	return h, nil
}

func validatePageSize(size uint32) error {
	if size < 4096 || size > 65536 {
		return errInvalid("header.validate", fmt.Errorf("page size %d out of range [4096, 65536]", size))
	}
	if size&(size-1) != 0 {
		return errInvalid("header.validate", fmt.Errorf("page size %d is not a power of two", size))
	}
	return nil
}
