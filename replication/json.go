package replication

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/rayford/raydb/storage"
)

// SnapshotBlobDoc is the canonical JSON document for snapshot_blob:
// format, byte_length, checksum_crc32c, generated_at_ms, epoch,
// head_log_index, retained_floor, start_cursor, and optionally
// data_base64.
type SnapshotBlobDoc struct {
	Format         string `json:"format"`
	ByteLength     uint64 `json:"byte_length"`
	ChecksumCRC32C uint32 `json:"checksum_crc32c"`
	GeneratedAtMs  uint64 `json:"generated_at_ms"`
	Epoch          uint64 `json:"epoch"`
	HeadLogIndex   uint64 `json:"head_log_index"`
	RetainedFloor  uint64 `json:"retained_floor"`
	StartCursor    string `json:"start_cursor"`
	DataBase64     string `json:"data_base64,omitempty"`
}

func newSnapshotBlobDoc(res storage.SnapshotBlobResult, cursor Cursor, includeData bool) SnapshotBlobDoc {
	doc := SnapshotBlobDoc{
		Format:         res.Format,
		ByteLength:     res.ByteLength,
		ChecksumCRC32C: res.ChecksumCRC32C,
		GeneratedAtMs:  res.GeneratedAtMs,
		Epoch:          res.Epoch,
		HeadLogIndex:   res.HeadLogIndex,
		RetainedFloor:  res.RetainedFloor,
		StartCursor:    cursor.String(),
	}
	if includeData {
		doc.DataBase64 = base64Payload(res.Data)
	}
	return doc
}

// MarshalJSON document bytes for a snapshot_blob response.
func (d SnapshotBlobDoc) MarshalJSONDocument() ([]byte, error) {
	return json.MarshalIndent(d, "", "  ")
}

// LogFrameDoc is one frame's canonical JSON shape: epoch, log_index,
// segment_id, segment_offset, bytes, and optionally payload_base64.
type LogFrameDoc struct {
	Epoch         uint64 `json:"epoch"`
	LogIndex      uint64 `json:"log_index"`
	SegmentID     string `json:"segment_id"`
	SegmentOffset uint64 `json:"segment_offset"`
	Bytes         uint32 `json:"bytes"`
	PayloadBase64 string `json:"payload_base64,omitempty"`
}

// LogPageDoc is log_page's full JSON response: the frame list plus the
// cursor a replica resumes from and the end-of-log flag.
type LogPageDoc struct {
	Frames []LogFrameDoc `json:"frames"`
	Next   string        `json:"next_cursor"`
	EOF    bool          `json:"eof"`
}

// newLogPageDoc builds the response. A single log_page call never spans a
// compaction (storage.DB.LogPage rejects a cursor whose generation has
// moved on), so every frame and the next cursor share one segment id.
func newLogPageDoc(res storage.LogPageResult, segment uuid.UUID, includePayload bool) LogPageDoc {
	segID := segment.String()
	frames := make([]LogFrameDoc, 0, len(res.Frames))
	for _, f := range res.Frames {
		fd := LogFrameDoc{
			Epoch:         f.Epoch,
			LogIndex:      f.LogIndex,
			SegmentID:     segID,
			SegmentOffset: f.SegmentOffset,
			Bytes:         f.Bytes,
		}
		if includePayload {
			fd.PayloadBase64 = base64Payload(f.Payload)
		}
		frames = append(frames, fd)
	}
	next := Cursor{
		Epoch:         res.Next.Epoch,
		LogIndex:      res.Next.LogIndex,
		SegmentID:     segment,
		SegmentOffset: res.Next.SegmentOffset,
	}
	return LogPageDoc{Frames: frames, Next: next.String(), EOF: res.EOF}
}

// MarshalJSON document bytes for a log_page response.
func (d LogPageDoc) MarshalJSONDocument() ([]byte, error) {
	return json.MarshalIndent(d, "", "  ")
}

func unknownSegmentError(id uuid.UUID) error {
	return fmt.Errorf("replication: unknown segment %s: reseed via snapshot_blob", id)
}
