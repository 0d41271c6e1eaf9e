package serialization

import (
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/klingecoin/node/pkg/types"
)

// DataEntryDict is the hex-encoded wire/storage form of a DataEntry
// (spec §4.8: "entries' binary value is hex-encoded").
type DataEntryDict struct {
	SourceID     string                 `json:"source_id"`
	DataType     string                 `json:"data_type"`
	Value        string                 `json:"value"` // hex
	Timestamp    float64                `json:"timestamp"`
	PreviousHash *string                `json:"previous_hash"`
	Nonce        uint64                 `json:"nonce"`
	Metadata     map[string]interface{} `json:"metadata"`
	DataHash     string                 `json:"data_hash"`
}

// TransactionDict is the hex-encoded wire/storage form of a Transaction.
type TransactionDict struct {
	Entries   []DataEntryDict `json:"entries"`
	Timestamp float64         `json:"timestamp"`
	TxHash    string          `json:"tx_hash"`
	Signature *string         `json:"signature"`
	Fee       uint64          `json:"fee"`
	SizeBytes int             `json:"size_bytes"`
	FeeRate   float64         `json:"fee_rate"`
}

// BlockDict is the hex-encoded wire/storage form of a Block.
type BlockDict struct {
	Index        uint64            `json:"index"`
	Timestamp    int64             `json:"timestamp"`
	PreviousHash *string           `json:"previous_hash"`
	Bits         string            `json:"bits"` // hex
	MerkleRoot   string            `json:"merkle_root"`
	Data         []TransactionDict `json:"data"`
	Nonce        uint64            `json:"nonce"`
	Hash         string            `json:"hash"`
	MiningTime   *float64          `json:"mining_time,omitempty"`
}

// EntryToDict converts a DataEntry to its wire/storage dict.
func EntryToDict(e *types.DataEntry) DataEntryDict {
	d := DataEntryDict{
		SourceID:  string(e.SourceID),
		DataType:  e.DataType,
		Value:     hex.EncodeToString(e.Value),
		Timestamp: e.Timestamp,
		Nonce:     e.Nonce,
		Metadata:  e.Metadata,
		DataHash:  e.DataHash.String(),
	}
	if e.PreviousHash.Valid {
		s := e.PreviousHash.Hash.String()
		d.PreviousHash = &s
	}
	return d
}

// EntryFromDict reverses EntryToDict.
func EntryFromDict(d DataEntryDict) (types.DataEntry, error) {
	value, err := hex.DecodeString(d.Value)
	if err != nil {
		return types.DataEntry{}, fmt.Errorf("decode entry value: %w", err)
	}
	dataHash, err := types.HashFromHex(d.DataHash)
	if err != nil {
		return types.DataEntry{}, fmt.Errorf("decode data_hash: %w", err)
	}
	e := types.DataEntry{
		SourceID:  types.Address(d.SourceID),
		DataType:  d.DataType,
		Value:     value,
		Timestamp: d.Timestamp,
		Nonce:     d.Nonce,
		Metadata:  d.Metadata,
		DataHash:  dataHash,
	}
	if d.PreviousHash != nil {
		ph, err := types.HashFromHex(*d.PreviousHash)
		if err != nil {
			return types.DataEntry{}, fmt.Errorf("decode entry previous_hash: %w", err)
		}
		e.PreviousHash = types.SomeHash(ph)
	}
	return e, nil
}

// TxToDict converts a Transaction to its wire/storage dict.
func TxToDict(tx *types.Transaction) TransactionDict {
	entries := make([]DataEntryDict, len(tx.Entries))
	for i := range tx.Entries {
		entries[i] = EntryToDict(&tx.Entries[i])
	}
	d := TransactionDict{
		Entries:   entries,
		Timestamp: tx.Timestamp,
		TxHash:    tx.TxHash.String(),
		Fee:       tx.Fee,
		SizeBytes: tx.SizeBytes,
		FeeRate:   tx.FeeRate,
	}
	if tx.Signature != nil {
		s := hex.EncodeToString(tx.Signature)
		d.Signature = &s
	}
	return d
}

// TxFromDict reverses TxToDict.
func TxFromDict(d TransactionDict) (types.Transaction, error) {
	entries := make([]types.DataEntry, len(d.Entries))
	for i, ed := range d.Entries {
		e, err := EntryFromDict(ed)
		if err != nil {
			return types.Transaction{}, err
		}
		entries[i] = e
	}
	txHash, err := types.HashFromHex(d.TxHash)
	if err != nil {
		return types.Transaction{}, fmt.Errorf("decode tx_hash: %w", err)
	}
	tx := types.Transaction{
		Entries:   entries,
		Timestamp: d.Timestamp,
		TxHash:    txHash,
		Fee:       d.Fee,
		SizeBytes: d.SizeBytes,
		FeeRate:   d.FeeRate,
	}
	if d.Signature != nil {
		sig, err := hex.DecodeString(*d.Signature)
		if err != nil {
			return types.Transaction{}, fmt.Errorf("decode signature: %w", err)
		}
		tx.Signature = sig
	}
	return tx, nil
}

// BlockToDict converts a Block to its wire/storage dict.
func BlockToDict(b *types.Block) BlockDict {
	data := make([]TransactionDict, len(b.Data))
	for i := range b.Data {
		data[i] = TxToDict(&b.Data[i])
	}
	d := BlockDict{
		Index:      b.Index,
		Timestamp:  b.Timestamp,
		Bits:       hex.EncodeToString(b.Bits[:]),
		MerkleRoot: b.MerkleRoot.String(),
		Data:       data,
		Nonce:      b.Nonce,
		Hash:       b.Hash.String(),
		MiningTime: b.MiningTime,
	}
	if b.PreviousHash.Valid {
		s := b.PreviousHash.Hash.String()
		d.PreviousHash = &s
	}
	return d
}

// BlockFromDict reverses BlockToDict.
func BlockFromDict(d BlockDict) (types.Block, error) {
	data := make([]types.Transaction, len(d.Data))
	for i, td := range d.Data {
		tx, err := TxFromDict(td)
		if err != nil {
			return types.Block{}, err
		}
		data[i] = tx
	}
	merkleRoot, err := types.HashFromHex(d.MerkleRoot)
	if err != nil {
		return types.Block{}, fmt.Errorf("decode merkle_root: %w", err)
	}
	hash, err := types.HashFromHex(d.Hash)
	if err != nil {
		return types.Block{}, fmt.Errorf("decode hash: %w", err)
	}
	bitsBytes, err := hex.DecodeString(d.Bits)
	if err != nil || len(bitsBytes) != 4 {
		return types.Block{}, fmt.Errorf("decode bits: invalid 4-byte hex")
	}
	b := types.Block{
		Header: types.Header{
			Index:     d.Index,
			Timestamp: d.Timestamp,
			Nonce:     d.Nonce,
		},
		Data:       data,
		Hash:       hash,
		MiningTime: d.MiningTime,
	}
	copy(b.Bits[:], bitsBytes)
	b.MerkleRoot = merkleRoot
	if d.PreviousHash != nil {
		ph, err := types.HashFromHex(*d.PreviousHash)
		if err != nil {
			return types.Block{}, fmt.Errorf("decode previous_hash: %w", err)
		}
		b.PreviousHash = types.SomeHash(ph)
	}
	return b, nil
}

// CanonicalJSON marshals v to JSON with all object keys sorted, by round
// tripping through a generic map/slice representation — Go's
// encoding/json already sorts map[string]interface{} keys, so decoding a
// struct into that shape and re-encoding yields the sort-keyed form the
// wire protocol requires (spec §4.7: "canonical JSON (keys sorted)").
func CanonicalJSON(v interface{}) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}
	var generic interface{}
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("normalize: %w", err)
	}
	out, err := json.Marshal(generic)
	if err != nil {
		return nil, fmt.Errorf("re-marshal: %w", err)
	}
	return out, nil
}
