package types

// DataEntry is the atomic record carried by the ledger: one signed
// observation from a source. DataEntry values are immutable once
// constructed — mutation is always expressed by building a new value.
type DataEntry struct {
	SourceID     Address                `json:"source_id"`
	DataType     string                 `json:"data_type"`
	Value        []byte                 `json:"value"`
	Timestamp    float64                `json:"timestamp"`
	PreviousHash OptionalHash           `json:"previous_hash"`
	Nonce        uint64                 `json:"nonce"`
	Metadata     map[string]interface{} `json:"metadata"`
	DataHash     Hash                   `json:"data_hash"`
}

// CoinbaseDataType marks the single entry of a block's coinbase
// transaction.
const CoinbaseDataType = "coinbase"

// Transaction bundles one or more DataEntry values under a single
// signature. The first transaction of every block is the coinbase: it has
// no signature and its single entry has DataType == CoinbaseDataType.
type Transaction struct {
	Entries   []DataEntry `json:"entries"`
	Timestamp float64     `json:"timestamp"`
	TxHash    Hash        `json:"tx_hash"`
	Signature []byte      `json:"signature,omitempty"` // nil for coinbase

	// Economics fields: derived at mempool-admission time, never hashed.
	Fee       uint64  `json:"fee"`
	SizeBytes int     `json:"size_bytes"`
	FeeRate   float64 `json:"fee_rate"`
}

// IsCoinbase reports whether tx is a block's reward transaction.
func (tx *Transaction) IsCoinbase() bool {
	return tx.Signature == nil && len(tx.Entries) == 1 && tx.Entries[0].DataType == CoinbaseDataType
}

// Header is the 92-byte-hashable portion of a Block (spec §6). It excludes
// the transaction bodies and the non-hashed mining_time field.
type Header struct {
	Index        uint64       `json:"index"`
	Timestamp    int64        `json:"timestamp"`
	PreviousHash OptionalHash `json:"previous_hash"`
	Bits         [4]byte      `json:"bits"`
	MerkleRoot   Hash         `json:"merkle_root"`
	Nonce        uint64       `json:"nonce"`
}

// Block is a sealed set of transactions. The first transaction is always
// the coinbase.
type Block struct {
	Header
	Data       []Transaction `json:"data"`
	Hash       Hash          `json:"hash"`
	MiningTime *float64      `json:"mining_time,omitempty"` // seconds spent searching; not hashed
}

// Coinbase returns the block's first (reward) transaction. Callers must
// not call this on a Block with no transactions; BlockValidator rejects
// those before they reach here.
func (b *Block) Coinbase() *Transaction {
	return &b.Data[0]
}
