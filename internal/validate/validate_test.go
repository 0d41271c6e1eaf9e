package validate

import (
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/klingecoin/node/internal/difficulty"
	"github.com/klingecoin/node/pkg/crypto"
	"github.com/klingecoin/node/pkg/merkle"
	"github.com/klingecoin/node/pkg/serialization"
	"github.com/klingecoin/node/pkg/types"
)

func bigIntFromHash(h types.Hash) *big.Int {
	return new(big.Int).SetBytes(h[:])
}

// testBits is a far easier target than MaxBits: half the 256-bit space,
// so mining a block in a test takes a handful of nonce attempts instead of
// the billions MaxBits would require. The validators under test never
// compare a block's declared bits against MaxBits, so substituting an
// easy target here doesn't change what's being exercised.
var testBits = difficulty.TargetToBits(new(big.Int).Lsh(big.NewInt(1), 255))

func signedEntry(t *testing.T, priv *crypto.PrivateKey, source types.Address, value string, nonce uint64, timestamp float64) types.DataEntry {
	t.Helper()
	e := types.DataEntry{
		SourceID:  source,
		DataType:  "reading",
		Value:     []byte(value),
		Timestamp: timestamp,
		Nonce:     nonce,
		Metadata:  map[string]interface{}{},
	}
	encoded, err := serialization.EncodeDataEntry(&e)
	require.NoError(t, err)
	e.DataHash = crypto.Hash(encoded)
	return e
}

func buildTx(t *testing.T, priv *crypto.PrivateKey, entries ...types.DataEntry) types.Transaction {
	t.Helper()
	tx := types.Transaction{Entries: entries, Timestamp: entries[0].Timestamp}
	tx.TxHash = crypto.Hash(serialization.EncodeTransactionHeader(&tx))
	if priv != nil {
		digest := crypto.Hash(tx.TxHash[:])
		sig, err := priv.Sign(digest[:])
		require.NoError(t, err)
		tx.Signature = sig
	}
	return tx
}

func minedBlock(t *testing.T, index uint64, prev types.OptionalHash, txs []types.Transaction, bits [4]byte, timestamp int64) types.Block {
	t.Helper()
	hashes := make([]types.Hash, len(txs))
	for i := range txs {
		hashes[i] = txs[i].TxHash
	}
	root, err := merkle.RootFromHashes(hashes)
	require.NoError(t, err)

	b := types.Block{
		Header: types.Header{
			Index:        index,
			Timestamp:    timestamp,
			PreviousHash: prev,
			Bits:         bits,
			MerkleRoot:   root,
		},
		Data: txs,
	}
	for nonce := uint64(0); ; nonce++ {
		b.Nonce = nonce
		headerBytes := serialization.EncodeBlockHeader(&b.Header)
		hash := crypto.DoubleHash(headerBytes)
		if difficulty.MeetsTarget(bigIntFromHash(hash), bits) {
			b.Hash = hash
			return b
		}
		require.Less(t, nonce, uint64(1_000_000), "test block should mine quickly at testBits")
	}
}

func TestDataEntryValid(t *testing.T) {
	priv, err := crypto.GenerateKey()
	require.NoError(t, err)
	addr := crypto.AddressFromPublicKey(priv.PublicKey().Bytes())
	e := signedEntry(t, priv, addr, "23.5", 1, 1700000000)
	require.NoError(t, DataEntry(&e))
}

func TestDataEntryRejectsTamperedValue(t *testing.T) {
	priv, err := crypto.GenerateKey()
	require.NoError(t, err)
	addr := crypto.AddressFromPublicKey(priv.PublicKey().Bytes())
	e := signedEntry(t, priv, addr, "23.5", 1, 1700000000)
	e.Value = []byte("99.9")
	require.ErrorIs(t, DataEntry(&e), ErrBadHash)
}

func TestTransactionSignatureRoundTrip(t *testing.T) {
	priv, err := crypto.GenerateKey()
	require.NoError(t, err)
	addr := crypto.AddressFromPublicKey(priv.PublicKey().Bytes())
	e := signedEntry(t, priv, addr, "23.5", 1, 1700000000)
	tx := buildTx(t, priv, e)

	require.NoError(t, Transaction(&tx))
	require.True(t, TransactionSignature(priv.PublicKey().Bytes(), tx.TxHash, tx.Signature))
}

func TestTransactionSignatureRejectsWrongKey(t *testing.T) {
	priv, err := crypto.GenerateKey()
	require.NoError(t, err)
	other, err := crypto.GenerateKey()
	require.NoError(t, err)
	addr := crypto.AddressFromPublicKey(priv.PublicKey().Bytes())
	e := signedEntry(t, priv, addr, "23.5", 1, 1700000000)
	tx := buildTx(t, priv, e)

	require.False(t, TransactionSignature(other.PublicKey().Bytes(), tx.TxHash, tx.Signature))
}

func TestBlockValidGenesisLike(t *testing.T) {
	priv, err := crypto.GenerateKey()
	require.NoError(t, err)
	addr := crypto.AddressFromPublicKey(priv.PublicKey().Bytes())
	coinbase := coinbaseTx(t, addr, 0, 1700000000)
	block := minedBlock(t, 0, types.NoHash, []types.Transaction{coinbase}, testBits, 1700000000)

	require.NoError(t, Block(&block, 2*time.Hour, time.Unix(1700000000, 0)))
}

func TestBlockRejectsFutureTimestamp(t *testing.T) {
	priv, err := crypto.GenerateKey()
	require.NoError(t, err)
	addr := crypto.AddressFromPublicKey(priv.PublicKey().Bytes())
	coinbase := coinbaseTx(t, addr, 0, 1700003601)
	block := minedBlock(t, 0, types.NoHash, []types.Transaction{coinbase}, testBits, 1700003601)

	err = Block(&block, time.Hour, time.Unix(1700000000, 0))
	require.ErrorIs(t, err, ErrFutureTimestamp)
}

func TestBlockRejectsBadMerkleRoot(t *testing.T) {
	priv, err := crypto.GenerateKey()
	require.NoError(t, err)
	addr := crypto.AddressFromPublicKey(priv.PublicKey().Bytes())
	coinbase := coinbaseTx(t, addr, 0, 1700000000)
	block := minedBlock(t, 0, types.NoHash, []types.Transaction{coinbase}, testBits, 1700000000)
	block.MerkleRoot = types.Hash{1}

	err = Block(&block, 2*time.Hour, time.Unix(1700000000, 0))
	require.ErrorIs(t, err, ErrBadMerkleRoot) // the recomputed root is checked before the header hash
}

func TestHeaderChainRejectsBrokenLink(t *testing.T) {
	priv, err := crypto.GenerateKey()
	require.NoError(t, err)
	addr := crypto.AddressFromPublicKey(priv.PublicKey().Bytes())
	coinbase := coinbaseTx(t, addr, 1, 1700000100)
	block := minedBlock(t, 1, types.SomeHash(types.Hash{1, 2, 3}), []types.Transaction{coinbase}, testBits, 1700000100)

	anchor := HeaderAnchor{Hash: types.Hash{9, 9, 9}, Timestamp: 1700000000}
	err = HeaderChain(anchor, []types.Header{block.Header})
	require.ErrorIs(t, err, ErrHeaderChainBroken)
}

func TestHeaderChainAcceptsLinkedHeaders(t *testing.T) {
	priv, err := crypto.GenerateKey()
	require.NoError(t, err)
	addr := crypto.AddressFromPublicKey(priv.PublicKey().Bytes())

	genesisCoinbase := coinbaseTx(t, addr, 0, 1700000000)
	genesis := minedBlock(t, 0, types.NoHash, []types.Transaction{genesisCoinbase}, testBits, 1700000000)

	nextCoinbase := coinbaseTx(t, addr, 1, 1700000100)
	next := minedBlock(t, 1, types.SomeHash(genesis.Hash), []types.Transaction{nextCoinbase}, testBits, 1700000100)

	anchor := HeaderAnchor{Hash: genesis.Hash, Timestamp: genesis.Timestamp}
	require.NoError(t, HeaderChain(anchor, []types.Header{next.Header}))
}

func coinbaseTx(t *testing.T, addr types.Address, height uint64, timestamp float64) types.Transaction {
	t.Helper()
	e := types.DataEntry{
		SourceID:  addr,
		DataType:  types.CoinbaseDataType,
		Value:     []byte{0, 0, 0, 0, 0, 0, 0, 50},
		Timestamp: timestamp,
		Nonce:     height,
		Metadata:  map[string]interface{}{},
	}
	encoded, err := serialization.EncodeDataEntry(&e)
	require.NoError(t, err)
	e.DataHash = crypto.Hash(encoded)
	return buildTx(t, nil, e)
}
