// Package serialization implements the two encodings the ledger needs:
// a canonical, fixed-layout binary form used only to compute content
// hashes (spec §4.1, §6), and a hex-encoded dict form used on the wire and
// in storage (spec §4.7, §6, §4.8).
package serialization

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"

	"github.com/klingecoin/node/pkg/types"
)

// EncodeDataEntry produces the canonical byte string whose SHA-256 is the
// entry's data_hash. Every field except data_hash itself is included, in a
// fixed order, so two entries with identical content always hash
// identically regardless of map iteration order (metadata is serialised
// via encoding/json, which sorts map keys).
func EncodeDataEntry(e *types.DataEntry) ([]byte, error) {
	var buf bytes.Buffer
	writeString(&buf, string(e.SourceID))
	writeString(&buf, e.DataType)
	writeBytes(&buf, e.Value)
	writeFloat64(&buf, e.Timestamp)

	present := byte(0)
	if e.PreviousHash.Valid {
		present = 1
	}
	buf.WriteByte(present)
	ph := e.PreviousHash.Bytes32()
	buf.Write(ph[:])

	writeUint64(&buf, e.Nonce)

	metaJSON, err := canonicalMetadataJSON(e.Metadata)
	if err != nil {
		return nil, fmt.Errorf("encode entry metadata: %w", err)
	}
	writeBytes(&buf, metaJSON)

	return buf.Bytes(), nil
}

// canonicalMetadataJSON marshals metadata with sorted keys (encoding/json's
// default for map[string]interface{}) so the encoding does not depend on
// insertion order. A nil map marshals as "null"; canonicalise to "{}" so
// DataEntry{} and DataEntry{Metadata: map[string]interface{}{}} hash
// identically.
func canonicalMetadataJSON(metadata map[string]interface{}) ([]byte, error) {
	if metadata == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(metadata)
}

// EncodeTransactionHeader produces the bytes hashed to produce tx_hash:
// timestamp_le_f64 || concat(entry.data_hash), per spec §6.
func EncodeTransactionHeader(tx *types.Transaction) []byte {
	var buf bytes.Buffer
	writeFloat64(&buf, tx.Timestamp)
	for _, e := range tx.Entries {
		buf.Write(e.DataHash[:])
	}
	return buf.Bytes()
}

// EncodeBlockHeader produces the 92-byte block header layout hashed (via
// double-SHA256) to produce a block's identity, per spec §6:
// u64 index || f64 timestamp || 32-byte previous_hash || 4-byte bits ||
// 32-byte merkle_root || u64 nonce.
func EncodeBlockHeader(h *types.Header) []byte {
	buf := make([]byte, 0, 8+8+32+4+32+8)
	buf = appendUint64(buf, h.Index)
	buf = appendFloat64(buf, float64(h.Timestamp))
	prev := h.PreviousHash.Bytes32()
	buf = append(buf, prev[:]...)
	buf = append(buf, h.Bits[:]...)
	buf = append(buf, h.MerkleRoot[:]...)
	buf = appendUint64(buf, h.Nonce)
	return buf
}

func writeString(buf *bytes.Buffer, s string) {
	writeBytes(buf, []byte(s))
}

func writeBytes(buf *bytes.Buffer, b []byte) {
	var lenBuf [8]byte
	binary.LittleEndian.PutUint64(lenBuf[:], uint64(len(b)))
	buf.Write(lenBuf[:])
	buf.Write(b)
}

func writeFloat64(buf *bytes.Buffer, f float64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], math.Float64bits(f))
	buf.Write(b[:])
}

func writeUint64(buf *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	buf.Write(b[:])
}

func appendUint64(buf []byte, v uint64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	return append(buf, b[:]...)
}

func appendFloat64(buf []byte, f float64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], math.Float64bits(f))
	return append(buf, b[:]...)
}
