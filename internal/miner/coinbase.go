package miner

import (
	"encoding/binary"

	"github.com/klingecoin/node/pkg/crypto"
	"github.com/klingecoin/node/pkg/serialization"
	"github.com/klingecoin/node/pkg/types"
)

// BuildCoinbase constructs the unsigned reward transaction that must be
// the first transaction of every block (spec §3, GLOSSARY "Coinbase").
// height is folded into the entry's nonce so that two coinbases paying
// the same address in the same second still hash to different tx_hashes.
func BuildCoinbase(rewardAddr types.Address, reward uint64, height uint64, timestamp float64) types.Transaction {
	entry := types.DataEntry{
		SourceID:  rewardAddr,
		DataType:  types.CoinbaseDataType,
		Value:     coinbaseValue(reward),
		Timestamp: timestamp,
		Nonce:     height,
		Metadata:  map[string]interface{}{},
	}
	encoded, err := serialization.EncodeDataEntry(&entry)
	if err != nil {
		// Coinbase fields are all well-formed by construction; this would
		// indicate a programmer error, not a runtime condition to recover from.
		panic("miner: failed to encode coinbase entry: " + err.Error())
	}
	entry.DataHash = crypto.Hash(encoded)

	tx := types.Transaction{
		Entries:   []types.DataEntry{entry},
		Timestamp: timestamp,
	}
	tx.TxHash = crypto.Hash(serialization.EncodeTransactionHeader(&tx))
	return tx
}

func coinbaseValue(reward uint64) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, reward)
	return b
}
