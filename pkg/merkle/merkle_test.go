package merkle

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/klingecoin/node/pkg/crypto"
	"github.com/klingecoin/node/pkg/types"
)

func leaf(b byte) types.Hash {
	return crypto.Hash([]byte{b})
}

func TestRootSingleLeafIsItself(t *testing.T) {
	h := leaf(1)
	root, err := RootFromHashes([]types.Hash{h})
	require.NoError(t, err)
	require.Equal(t, h, root)
}

func TestRootEmptyInputErrors(t *testing.T) {
	_, err := RootFromHashes(nil)
	require.ErrorIs(t, err, ErrEmptyInput)
}

func TestRootSortsLeavesBeforePairing(t *testing.T) {
	a, b := leaf(1), leaf(2)

	rootAB, err := RootFromHashes([]types.Hash{a, b})
	require.NoError(t, err)
	rootBA, err := RootFromHashes([]types.Hash{b, a})
	require.NoError(t, err)

	require.Equal(t, rootAB, rootBA, "leaf order must not affect the root (spec's sort-before-pairing rule)")
}

func TestRootOddCountDuplicatesLastLeaf(t *testing.T) {
	a, b, c := leaf(1), leaf(2), leaf(3)
	root, err := RootFromHashes([]types.Hash{a, b, c})
	require.NoError(t, err)

	sorted := []types.Hash{a, b, c}
	// Sort matches the package's own lexicographic ordering.
	for i := 0; i < len(sorted); i++ {
		for j := i + 1; j < len(sorted); j++ {
			if sorted[j].String() < sorted[i].String() {
				sorted[i], sorted[j] = sorted[j], sorted[i]
			}
		}
	}
	left := pairHash(sorted[0], sorted[1])
	right := pairHash(sorted[2], sorted[2])
	want := pairHash(left, right)

	require.Equal(t, want, root)
}

func TestRootRejectsBadHex(t *testing.T) {
	_, err := Root([]string{"not-hex"})
	require.ErrorIs(t, err, ErrBadHex)
}
