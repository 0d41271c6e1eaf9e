package p2p

import (
	"encoding/hex"
	"fmt"

	"github.com/klingecoin/node/pkg/serialization"
	"github.com/klingecoin/node/pkg/types"
)

// InvType distinguishes inventory entries (spec §4.7 inv table).
type InvType int

const (
	InvTx InvType = 1
	InvBlock InvType = 2
)

// InvItem is one entry of an inv/getdata payload.
type InvItem struct {
	Type InvType `json:"type"`
	Hash string  `json:"hash"`
}

// VersionPayload is the handshake message.
type VersionPayload struct {
	ProtocolVersion uint32 `json:"protocol_version"`
	ServicesBitmask uint64 `json:"services_bitmask"`
	Timestamp       int64  `json:"timestamp"`
	BestHeight      uint64 `json:"best_height"`
}

// GetHeadersPayload requests a chunk of headers starting after the first
// locator hash the receiver recognizes.
type GetHeadersPayload struct {
	ProtocolVersion uint32   `json:"protocol_version"`
	LocatorHashes   []string `json:"locator_hashes"`
	HashStop        string   `json:"hash_stop"`
}

// HeaderDict mirrors serialization.BlockDict's header fields only — no
// transaction bodies travel in a headers message.
type HeaderDict struct {
	Index        uint64  `json:"index"`
	Timestamp    int64   `json:"timestamp"`
	PreviousHash *string `json:"previous_hash"`
	Bits         string  `json:"bits"`
	MerkleRoot   string  `json:"merkle_root"`
	Nonce        uint64  `json:"nonce"`
	Hash         string  `json:"hash"`
}

// HeadersPayload answers a getheaders request.
type HeadersPayload struct {
	Headers []HeaderDict `json:"headers"`
}

// InvPayload is a gossip announcement.
type InvPayload struct {
	Inventory []InvItem `json:"inventory"`
}

// GetDataPayload requests full objects by hash.
type GetDataPayload struct {
	Inventory []InvItem `json:"inventory"`
}

// BlockPayload carries a full block body.
type BlockPayload struct {
	Block serialization.BlockDict `json:"block"`
}

// TxPayload carries a full transaction body.
type TxPayload struct {
	Tx serialization.TransactionDict `json:"tx"`
}

// HeaderDictFromBlock projects a block's header fields only, omitting its
// transaction bodies (spec §4.7 "headers" table).
func HeaderDictFromBlock(d serialization.BlockDict) HeaderDict {
	return HeaderDict{
		Index:        d.Index,
		Timestamp:    d.Timestamp,
		PreviousHash: d.PreviousHash,
		Bits:         d.Bits,
		MerkleRoot:   d.MerkleRoot,
		Nonce:        d.Nonce,
		Hash:         d.Hash,
	}
}

// ToTypesHeader converts a wire header dict to the internal types.Header
// used by the header-chain validator and the block hash it names.
func (h HeaderDict) ToTypesHeader() (types.Header, types.Hash, error) {
	var out types.Header
	out.Index = h.Index
	out.Timestamp = h.Timestamp
	out.Nonce = h.Nonce

	bitsBytes, err := hex.DecodeString(h.Bits)
	if err != nil || len(bitsBytes) != 4 {
		return out, types.Hash{}, fmt.Errorf("%w: bad bits", ErrProtocolViolation)
	}
	copy(out.Bits[:], bitsBytes)

	merkleRoot, err := types.HashFromHex(h.MerkleRoot)
	if err != nil {
		return out, types.Hash{}, fmt.Errorf("%w: bad merkle_root: %v", ErrProtocolViolation, err)
	}
	out.MerkleRoot = merkleRoot

	if h.PreviousHash != nil {
		ph, err := types.HashFromHex(*h.PreviousHash)
		if err != nil {
			return out, types.Hash{}, fmt.Errorf("%w: bad previous_hash: %v", ErrProtocolViolation, err)
		}
		out.PreviousHash = types.SomeHash(ph)
	}

	blockHash, err := types.HashFromHex(h.Hash)
	if err != nil {
		return out, types.Hash{}, fmt.Errorf("%w: bad hash: %v", ErrProtocolViolation, err)
	}
	return out, blockHash, nil
}

// EncodePayload produces the canonical sort-keyed JSON bytes for v (spec
// §4.7: "payload is the canonical JSON... then UTF-8 bytes").
func EncodePayload(v interface{}) ([]byte, error) {
	return serialization.CanonicalJSON(v)
}

// DecodePayload is a thin wrapper kept for symmetry with EncodePayload;
// json.Unmarshal already accepts canonical JSON without special handling.
func DecodePayload(data []byte, v interface{}) error {
	if err := decodeJSON(data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrProtocolViolation, err)
	}
	return nil
}
