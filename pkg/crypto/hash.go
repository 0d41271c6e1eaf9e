// Package crypto provides the cryptographic primitives the ledger is built
// on: SHA-256 hashing, ECDSA P-256 signing/verification, and Base58Check
// address derivation.
package crypto

import (
	"crypto/sha256"

	"github.com/klingecoin/node/pkg/types"
)

// Hash computes a single SHA-256 digest.
func Hash(data []byte) types.Hash {
	return sha256.Sum256(data)
}

// DoubleHash computes SHA-256(SHA-256(data)). Used for block identity,
// Merkle pair-hashing (spec §4.1, §6), the P2P frame checksum and the
// address checksum; entry and transaction hashes are single SHA-256.
func DoubleHash(data []byte) types.Hash {
	first := sha256.Sum256(data)
	return sha256.Sum256(first[:])
}
