package replication

import (
	"encoding/base64"
	"fmt"

	"github.com/rayford/raydb/storage"
)

// Replica-side document handling: the inverse of json.go. A follower
// fetches snapshot_blob once (with include_data), installs it, then polls
// log_page and feeds every frame payload into a storage.ReplicaApplier.

// ApplySnapshotBlob decodes a snapshot_blob document carrying data and
// installs it into db as a full reseed. The document's checksum_crc32c is
// verified against the decoded bytes before storage sees them; storage
// re-verifies the sealed region's own internal CRC when it decodes the
// snapshot.
func ApplySnapshotBlob(db *storage.DB, doc SnapshotBlobDoc) error {
	if doc.DataBase64 == "" {
		return fmt.Errorf("replication: snapshot_blob document has no data_base64; re-fetch with include_data")
	}
	data, err := base64.StdEncoding.DecodeString(doc.DataBase64)
	if err != nil {
		return fmt.Errorf("replication: malformed data_base64: %w", err)
	}
	if uint64(len(data)) != doc.ByteLength {
		return fmt.Errorf("replication: snapshot blob is %d bytes, document says %d", len(data), doc.ByteLength)
	}
	if sum := storage.Checksum(data); sum != doc.ChecksumCRC32C {
		return fmt.Errorf("replication: snapshot blob checksum %08x does not match document %08x", sum, doc.ChecksumCRC32C)
	}
	return db.InstallSnapshot(data, doc.Epoch)
}

// ApplyLogPage feeds every frame of a log_page document into applier, in
// order. Frames must carry payload_base64 (the primary was called with
// include_payload); a payload-less page is usable only for offset
// bookkeeping and is rejected here.
func ApplyLogPage(applier *storage.ReplicaApplier, doc LogPageDoc) error {
	for i, f := range doc.Frames {
		if f.PayloadBase64 == "" {
			return fmt.Errorf("replication: frame %d (log_index %d) has no payload_base64; re-fetch with include_payload", i, f.LogIndex)
		}
		raw, err := base64.StdEncoding.DecodeString(f.PayloadBase64)
		if err != nil {
			return fmt.Errorf("replication: frame %d has malformed payload_base64: %w", i, err)
		}
		if err := applier.ApplyFrame(raw); err != nil {
			return fmt.Errorf("replication: apply frame %d (log_index %d): %w", i, f.LogIndex, err)
		}
	}
	return nil
}
