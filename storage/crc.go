package storage

import "github.com/klauspost/crc32"

// checksumTable is the hardware-accelerated Castagnoli (CRC32C) table
// every on-disk checksum in this engine uses: the header trailer, WAL
// records, and snapshot section trailers. Plain
// hash/crc32 computes the same polynomial, but klauspost/crc32 picks the
// SSE4.2/ARM64 CRC32 instruction when available, which is the point of
// pulling it in for a format that checksums every record on the hot path.
var checksumTable = crc32.MakeTable(crc32.Castagnoli)

// crc32c computes the CRC32C checksum of b.
func crc32c(b []byte) uint32 {
	return crc32.Checksum(b, checksumTable)
}

// Checksum exposes the engine's CRC32C to transport-layer callers that
// need to cross-check a snapshot blob's checksum_crc32c field before
// installing it.
func Checksum(b []byte) uint32 {
	return crc32c(b)
}

// verifyCRC32C reports whether b's trailing 4 little-endian bytes match the
// CRC32C of the preceding bytes.
func verifyCRC32C(b []byte) bool {
	if len(b) < 4 {
		return false
	}
	body := b[:len(b)-4]
	stored := le32(b[len(b)-4:])
	return crc32c(body) == stored
}

func le32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func putLE32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}
