// Package replication wraps storage.DB's log-shipping primitives
// (storage/replication.go) with the opaque cursor encoding and JSON wire
// format of a primary->replica admin transport.
// No distributed consensus, no multi-primary support: one primary, any
// number of read-only replicas pulling snapshot_blob/log_page over
// whatever RPC mechanism a caller wires cmd/raydb's serve-replication
// surface to. Replication is primary->replica, log-shipping only.
package replication

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// Cursor is the wire form of storage.Cursor: the same four fields, but
// with the generation number replaced by a stable per-segment UUID
// string, so the whole tuple stays opaque to the caller. Transport
// assigns and remembers the mapping
// between a generation and its UUID; callers only ever see the UUID.
type Cursor struct {
	Epoch         uint64
	LogIndex      uint64
	SegmentID     uuid.UUID
	SegmentOffset uint64
}

// String encodes the cursor as the opaque token callers pass back on
// their next log_page call. The encoding itself carries no meaning to a
// replica beyond round-tripping through Parse; a colon-delimited string
// is simplest to log and diff in transport traces.
func (c Cursor) String() string {
	return fmt.Sprintf("%d:%d:%s:%d", c.Epoch, c.LogIndex, c.SegmentID, c.SegmentOffset)
}

// ParseCursor decodes a token produced by Cursor.String.
func ParseCursor(token string) (Cursor, error) {
	parts := strings.Split(token, ":")
	if len(parts) != 4 {
		return Cursor{}, fmt.Errorf("replication: malformed cursor %q", token)
	}
	epoch, err := strconv.ParseUint(parts[0], 10, 64)
	if err != nil {
		return Cursor{}, fmt.Errorf("replication: malformed cursor epoch: %w", err)
	}
	logIndex, err := strconv.ParseUint(parts[1], 10, 64)
	if err != nil {
		return Cursor{}, fmt.Errorf("replication: malformed cursor log_index: %w", err)
	}
	segID, err := uuid.Parse(parts[2])
	if err != nil {
		return Cursor{}, fmt.Errorf("replication: malformed cursor segment_id: %w", err)
	}
	offset, err := strconv.ParseUint(parts[3], 10, 64)
	if err != nil {
		return Cursor{}, fmt.Errorf("replication: malformed cursor segment_offset: %w", err)
	}
	return Cursor{Epoch: epoch, LogIndex: logIndex, SegmentID: segID, SegmentOffset: offset}, nil
}

func base64Payload(b []byte) string {
	if b == nil {
		return ""
	}
	return base64.StdEncoding.EncodeToString(b)
}
