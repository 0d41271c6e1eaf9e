package storage

import (
	"encoding/binary"
	"fmt"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"

	"github.com/klingecoin/node/pkg/types"
)

// Key prefixes for the secondary index. The index is never the source of
// truth (Store's JSON snapshot is) — it exists purely to answer
// hash-to-height and txhash-to-location lookups in O(1) instead of a
// linear scan of the in-memory chain.
var (
	prefixBlockHeight = []byte("h") // hash -> height (big-endian u64)
	prefixTxLocation  = []byte("t") // tx_hash -> (block_hash, tx_index)
)

// Index is a goleveldb-backed lookup table rebuilt from a verified chain
// on every load; it carries no invariants of its own beyond what
// Rebuild establishes.
type Index struct {
	db *leveldb.DB
}

// OpenIndex opens (or creates) the on-disk index at path.
func OpenIndex(path string) (*Index, error) {
	db, err := leveldb.OpenFile(path, &opt.Options{Compression: opt.SnappyCompression})
	if err != nil {
		return nil, fmt.Errorf("storage: open index at %s: %w", path, err)
	}
	return &Index{db: db}, nil
}

// Close releases the underlying database handle.
func (idx *Index) Close() error {
	return idx.db.Close()
}

// Rebuild discards any existing entries and repopulates the index from
// chain, which the caller must have already verified (spec §4.8: the
// index is "rebuilt from the verified chain on load").
func (idx *Index) Rebuild(chain []types.Block) error {
	batch := new(leveldb.Batch)

	iter := idx.db.NewIterator(nil, nil)
	for iter.Next() {
		batch.Delete(append([]byte{}, iter.Key()...))
	}
	iter.Release()
	if err := iter.Error(); err != nil {
		return fmt.Errorf("storage: scan index for rebuild: %w", err)
	}

	for _, b := range chain {
		heightBytes := make([]byte, 8)
		binary.BigEndian.PutUint64(heightBytes, b.Index)
		batch.Put(blockHeightKey(b.Hash), heightBytes)

		for txIndex, tx := range b.Data {
			batch.Put(txLocationKey(tx.TxHash), txLocationValue(b.Hash, uint32(txIndex)))
		}
	}

	return idx.db.Write(batch, nil)
}

// HeightOf returns the height recorded for hash.
func (idx *Index) HeightOf(hash types.Hash) (uint64, bool) {
	value, err := idx.db.Get(blockHeightKey(hash), nil)
	if err != nil {
		return 0, false
	}
	return binary.BigEndian.Uint64(value), true
}

// LocationOf returns the block hash and transaction index containing
// txHash.
func (idx *Index) LocationOf(txHash types.Hash) (blockHash types.Hash, txIndex uint32, ok bool) {
	value, err := idx.db.Get(txLocationKey(txHash), nil)
	if err != nil || len(value) != 36 {
		return types.Hash{}, 0, false
	}
	copy(blockHash[:], value[:32])
	txIndex = binary.BigEndian.Uint32(value[32:])
	return blockHash, txIndex, true
}

func blockHeightKey(hash types.Hash) []byte {
	return append(append([]byte{}, prefixBlockHeight...), hash[:]...)
}

func txLocationKey(txHash types.Hash) []byte {
	return append(append([]byte{}, prefixTxLocation...), txHash[:]...)
}

func txLocationValue(blockHash types.Hash, txIndex uint32) []byte {
	v := make([]byte, 36)
	copy(v[:32], blockHash[:])
	binary.BigEndian.PutUint32(v[32:], txIndex)
	return v
}
