package consensus

import "github.com/klingecoin/node/pkg/types"

// Chain is the ordered sequence of blocks described in spec §3: the i-th
// element has Index == i, and PreviousHash equal to the hash of the
// element before it (absent only at index 0). Chain values are never
// mutated in place outside Manager — callers read a snapshot via
// Manager.Snapshot.
type Chain []types.Block

// Height returns the index of the tip, or 0 for an empty chain (callers
// that need to distinguish "empty" from "genesis only" should check len).
func (c Chain) Height() uint64 {
	if len(c) == 0 {
		return 0
	}
	return c[len(c)-1].Index
}

// Tip returns the last block, or the zero Block if c is empty.
func (c Chain) Tip() types.Block {
	if len(c) == 0 {
		return types.Block{}
	}
	return c[len(c)-1]
}

// TipHash returns the tip's hash, or the zero hash if c is empty.
func (c Chain) TipHash() types.Hash {
	if len(c) == 0 {
		return types.Hash{}
	}
	return c[len(c)-1].Hash
}

// TipTimestamp returns the tip's timestamp, or 0 if c is empty.
func (c Chain) TipTimestamp() int64 {
	if len(c) == 0 {
		return 0
	}
	return c[len(c)-1].Timestamp
}

// BlockAtHeight returns the block at the given height, if present.
func (c Chain) BlockAtHeight(height uint64) (types.Block, bool) {
	if height >= uint64(len(c)) {
		return types.Block{}, false
	}
	return c[height], true
}
