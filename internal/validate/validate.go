// Package validate implements the pure-function validators of spec §4.4:
// they recompute hashes and check proof-of-work, but never touch chain
// state (that is the consensus engine's job).
package validate

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/klingecoin/node/internal/difficulty"
	"github.com/klingecoin/node/pkg/crypto"
	"github.com/klingecoin/node/pkg/merkle"
	"github.com/klingecoin/node/pkg/serialization"
	"github.com/klingecoin/node/pkg/types"
)

// Validation error taxonomy (spec §7).
var (
	ErrBadHash              = errors.New("validate: data_hash does not match content")
	ErrBadTxHash            = errors.New("validate: tx_hash does not match content")
	ErrBadSignature         = errors.New("validate: signature does not verify")
	ErrBadMerkleRoot        = errors.New("validate: merkle_root does not match transactions")
	ErrBadBlockHash         = errors.New("validate: block hash does not match header")
	ErrBadDifficulty        = errors.New("validate: block hash does not meet declared target")
	ErrFutureTimestamp      = errors.New("validate: block timestamp too far in the future")
	ErrNonMonotonicTime     = errors.New("validate: header timestamp does not increase")
	ErrEmptyBlock           = errors.New("validate: block has no transactions")
	ErrMalformedField       = errors.New("validate: malformed field")
	ErrHeaderChainBroken    = errors.New("validate: header does not link to anchor")
	ErrHeaderChainBadPoW    = errors.New("validate: header fails proof-of-work")
)

// DataEntry recomputes data_hash and reports whether it matches the
// stored value (spec §4.4, invariant 1).
func DataEntry(e *types.DataEntry) error {
	encoded, err := serialization.EncodeDataEntry(e)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedField, err)
	}
	want := crypto.Hash(encoded)
	if want != e.DataHash {
		return ErrBadHash
	}
	return nil
}

// Transaction checks that every entry is valid and that tx_hash recomputes
// (spec §4.4, invariant 2). It does not check the signature — that is
// TransactionSignature, since verification needs the signer's public key.
func Transaction(tx *types.Transaction) error {
	if len(tx.Entries) == 0 {
		return fmt.Errorf("%w: transaction has no entries", ErrMalformedField)
	}
	for i := range tx.Entries {
		if err := DataEntry(&tx.Entries[i]); err != nil {
			return fmt.Errorf("entry %d: %w", i, err)
		}
	}
	want := crypto.Hash(serialization.EncodeTransactionHeader(tx))
	if want != tx.TxHash {
		return ErrBadTxHash
	}
	return nil
}

// TransactionSignature performs ECDSA P-256 verification of a
// transaction's signature over SHA256(tx_hash) against the given public
// key (spec §4.4). Signing uses RFC 6979 deterministic k; verification is
// independent of that choice.
func TransactionSignature(publicKey []byte, txHash types.Hash, signature []byte) bool {
	digest := crypto.Hash(txHash[:])
	return crypto.VerifySignature(publicKey, digest[:], signature)
}

// Block checks everything a block's structure can verify standalone:
// future-timestamp drift, recomputed hash, proof-of-work, and internal
// transaction validity. It does not check linkage to a parent — the
// consensus engine does that (spec §4.4).
func Block(b *types.Block, maxFutureDrift time.Duration, now time.Time) error {
	if len(b.Data) == 0 {
		return ErrEmptyBlock
	}
	if time.Unix(b.Timestamp, 0).After(now.Add(maxFutureDrift)) {
		return ErrFutureTimestamp
	}

	txHashes := make([]types.Hash, len(b.Data))
	for i := range b.Data {
		if err := Transaction(&b.Data[i]); err != nil {
			return fmt.Errorf("tx %d: %w", i, err)
		}
		txHashes[i] = b.Data[i].TxHash
	}

	root, err := merkle.RootFromHashes(txHashes)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedField, err)
	}
	if root != b.MerkleRoot {
		return ErrBadMerkleRoot
	}

	headerBytes := serialization.EncodeBlockHeader(&b.Header)
	wantHash := crypto.DoubleHash(headerBytes)
	if wantHash != b.Hash {
		return ErrBadBlockHash
	}

	hashInt := new(big.Int).SetBytes(b.Hash[:])
	if !difficulty.MeetsTarget(hashInt, b.Bits) {
		return ErrBadDifficulty
	}

	return nil
}

// HeaderAnchor is the last known-good point a header sequence is checked
// against: a hash and the timestamp of the block it belongs to.
type HeaderAnchor struct {
	Hash      types.Hash
	Timestamp int64
}

// HeaderChain verifies a sequence of candidate headers anchored at a known
// (hash, timestamp), failing fast on the first violation (spec §4.4): for
// each header in order, previous_hash must equal the running anchor hash,
// PoW must hold for the declared bits, and timestamp must strictly
// increase.
func HeaderChain(anchor HeaderAnchor, headers []types.Header) error {
	running := anchor
	for i, h := range headers {
		if !h.PreviousHash.Valid || h.PreviousHash.Hash != running.Hash {
			return fmt.Errorf("header %d: %w", i, ErrHeaderChainBroken)
		}
		if h.Timestamp <= running.Timestamp {
			return fmt.Errorf("header %d: %w", i, ErrNonMonotonicTime)
		}

		headerBytes := serialization.EncodeBlockHeader(&h)
		hash := crypto.DoubleHash(headerBytes)
		hashInt := new(big.Int).SetBytes(hash[:])
		if !difficulty.MeetsTarget(hashInt, h.Bits) {
			return fmt.Errorf("header %d: %w", i, ErrHeaderChainBadPoW)
		}

		running = HeaderAnchor{Hash: hash, Timestamp: h.Timestamp}
	}
	return nil
}
