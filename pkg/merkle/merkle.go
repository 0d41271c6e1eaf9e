// Package merkle computes the Merkle root over an ordered list of
// transaction hashes, per spec §4.1.
//
// Leaves are sorted lexicographically before pairing. This is not
// Bitcoin's convention (which preserves insertion order) but is the
// repository's documented behaviour — preserved here so implementations
// reproduce bit-exact roots (spec §4.1, §9 open question).
package merkle

import (
	"encoding/hex"
	"errors"
	"fmt"
	"sort"

	"github.com/klingecoin/node/pkg/crypto"
	"github.com/klingecoin/node/pkg/types"
)

// ErrEmptyInput is returned when Root is called with zero hashes.
var ErrEmptyInput = errors.New("merkle: empty input")

// ErrBadHex is returned when a leaf is not 64 lowercase hex characters.
var ErrBadHex = errors.New("merkle: leaf is not 64 lowercase hex characters")

// Root computes the Merkle root of hexHashes, sorting leaves
// lexicographically first (package doc). Every element of hexHashes must
// be 64 lowercase hex characters.
func Root(hexHashes []string) (types.Hash, error) {
	if len(hexHashes) == 0 {
		return types.Hash{}, ErrEmptyInput
	}

	leaves := make([]types.Hash, len(hexHashes))
	for i, h := range hexHashes {
		parsed, err := parseLeaf(h)
		if err != nil {
			return types.Hash{}, err
		}
		leaves[i] = parsed
	}

	sort.Slice(leaves, func(i, j int) bool {
		return hex.EncodeToString(leaves[i][:]) < hex.EncodeToString(leaves[j][:])
	})

	level := leaves
	for len(level) > 1 {
		var next []types.Hash
		for i := 0; i < len(level); i += 2 {
			left := level[i]
			right := left
			if i+1 < len(level) {
				right = level[i+1]
			}
			next = append(next, pairHash(left, right))
		}
		level = next
	}
	return level[0], nil
}

// RootFromHashes is Root specialised to already-parsed hashes (the common
// in-process path: block assembly never round-trips through hex).
func RootFromHashes(hashes []types.Hash) (types.Hash, error) {
	if len(hashes) == 0 {
		return types.Hash{}, ErrEmptyInput
	}
	hexHashes := make([]string, len(hashes))
	for i, h := range hashes {
		hexHashes[i] = h.String()
	}
	return Root(hexHashes)
}

func pairHash(left, right types.Hash) types.Hash {
	buf := make([]byte, 0, 64)
	buf = append(buf, left[:]...)
	buf = append(buf, right[:]...)
	return crypto.DoubleHash(buf)
}

func parseLeaf(s string) (types.Hash, error) {
	h, err := types.HashFromHex(s)
	if err != nil {
		return types.Hash{}, fmt.Errorf("%w: %s", ErrBadHex, err)
	}
	for _, c := range s {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return types.Hash{}, fmt.Errorf("%w: %q", ErrBadHex, s)
		}
	}
	return h, nil
}
