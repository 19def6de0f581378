// Package storage is the single-file storage engine: fixed-size page I/O,
// the embedded circular WAL, the in-memory delta overlay, the packed
// snapshot, transactions, recovery and compaction. It is the core this
// module exists to implement; everything else in the repository is a thin
// consumer of the types defined here.
package storage

import "encoding/binary"

// DefaultPageSize is used by Open when Options.PageSize is zero. Page
// sizes must be a power of two in [4096, 65536]; Open validates any
// caller-supplied value against that range.
const DefaultPageSize = 4096

// PageType identifies the role of a page.
type PageType byte

const (
	PageTypeHeader       PageType = 1 // page 0, the superblock
	PageTypeWAL          PageType = 2 // pages inside the circular WAL ring
	PageTypeSnapshotMeta PageType = 3 // snapshot section header/trailer page
	PageTypeSnapshotDict PageType = 4 // dictionary table pages
	PageTypeSnapshotNode PageType = 5 // node section pages
	PageTypeSnapshotProp PageType = 6 // property column pages
	PageTypeSnapshotAdj  PageType = 7 // CSR adjacency pages
	PageTypeKeyIndex     PageType = 8 // persistent key->NodeID B+Tree pages
	PageTypeFree         PageType = 9 // allocated but currently unused
)

// PageHeaderSize is the size, in bytes, of the common page header carried
// by every page other than page 0 (which has its own fixed superblock
// layout, see header.go):
//
//	[0]     PageType
//	[1-4]   PageID (uint32)
//	[5-6]   NumRecords (uint16)     -- slotted-record pages only
//	[7-8]   FreeSpaceOffset (uint16) -- first free byte in the page
//	[9-12]  NextPageID (uint32)     -- page chaining, 0 = none
//	[13-19] reserved, must be zero on write, ignored on read
const PageHeaderSize = 20

// Page is a single raw page buffer. Size is fixed per database
// (Pager.PageSize()) but is not known at compile time, so unlike a
// hard-coded byte array Page carries a slice sized at construction. ID is tracked out-of-band by the Pager rather than
// trusted from the in-page bytes, so a page read as #7 is always written
// back to #7 even before its header bytes have been stamped (e.g. a fresh
// WAL ring page, which has no slotted-page header at all).
type Page struct {
	ID   uint32
	Data []byte
}

// NewPage allocates a zeroed page of the given size and stamps its header.
func NewPage(size int, ptype PageType, pageID uint32) *Page {
	p := &Page{ID: pageID, Data: make([]byte, size)}
	p.Data[0] = byte(ptype)
	binary.LittleEndian.PutUint32(p.Data[1:5], pageID)
	p.SetFreeSpaceOffset(PageHeaderSize)
	return p
}

func (p *Page) Type() PageType { return PageType(p.Data[0]) }

// PageID returns the page's id, as tracked by the Pager (not decoded from
// Data — see the Page doc comment).
func (p *Page) PageID() uint32 { return p.ID }

func (p *Page) NumRecords() uint16 { return binary.LittleEndian.Uint16(p.Data[5:7]) }

func (p *Page) SetNumRecords(n uint16) { binary.LittleEndian.PutUint16(p.Data[5:7], n) }

func (p *Page) FreeSpaceOffset() uint16 { return binary.LittleEndian.Uint16(p.Data[7:9]) }

func (p *Page) SetFreeSpaceOffset(off uint16) { binary.LittleEndian.PutUint16(p.Data[7:9], off) }

func (p *Page) NextPageID() uint32 { return binary.LittleEndian.Uint32(p.Data[9:13]) }

func (p *Page) SetNextPageID(id uint32) { binary.LittleEndian.PutUint32(p.Data[9:13], id) }

// FreeSpace returns the number of bytes still unused in the page.
func (p *Page) FreeSpace() int { return len(p.Data) - int(p.FreeSpaceOffset()) }

// Slot flags for AppendRecord/ReadRecords, reused across dictionary,
// node, property-column and adjacency section pages, which are all
// flavors of the same packed-page idea.
const (
	SlotFlagActive     byte = 0x00
	SlotFlagCompressed byte = 0x01 // payload is snappy-compressed
)

// RecordSlotHeaderSize is [recordKey:8][dataLen:uint16][flags:byte].
const RecordSlotHeaderSize = 8 + 2 + 1

// AppendRecord appends a (key, data) slot to the page's free space,
// returning false if there is not enough room (the caller must allocate a
// continuation page and chain it via SetNextPageID).
func (p *Page) AppendRecord(key uint64, data []byte) bool {
	return p.AppendRecordWithFlag(key, data, SlotFlagActive)
}

func (p *Page) AppendRecordWithFlag(key uint64, data []byte, flag byte) bool {
	needed := RecordSlotHeaderSize + len(data)
	if p.FreeSpace() < needed {
		return false
	}
	off := p.FreeSpaceOffset()
	binary.LittleEndian.PutUint64(p.Data[off:], key)
	binary.LittleEndian.PutUint16(p.Data[off+8:], uint16(len(data)))
	p.Data[off+10] = flag
	copy(p.Data[off+11:], data)
	p.SetFreeSpaceOffset(off + uint16(needed))
	p.SetNumRecords(p.NumRecords() + 1)
	return true
}

// RecordSlot is a decoded slot read back from a page.
type RecordSlot struct {
	Key        uint64
	Data       []byte
	Compressed bool
}

// ReadRecords decodes every slot between the page header and the free
// space offset, in insertion order.
func (p *Page) ReadRecords() []RecordSlot {
	slots := make([]RecordSlot, 0, p.NumRecords())
	off := uint16(PageHeaderSize)
	end := p.FreeSpaceOffset()
	for off < end {
		if int(off)+RecordSlotHeaderSize > int(end) {
			break
		}
		key := binary.LittleEndian.Uint64(p.Data[off:])
		dlen := binary.LittleEndian.Uint16(p.Data[off+8:])
		flags := p.Data[off+10]
		dataStart := off + RecordSlotHeaderSize
		if int(dataStart)+int(dlen) > len(p.Data) {
			break
		}
		dataCopy := make([]byte, dlen)
		copy(dataCopy, p.Data[dataStart:dataStart+dlen])
		slots = append(slots, RecordSlot{
			Key:        key,
			Data:       dataCopy,
			Compressed: flags == SlotFlagCompressed,
		})
		off = dataStart + dlen
	}
	return slots
}
