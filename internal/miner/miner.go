// Package miner implements block production: coinbase construction and
// the interruptible nonce search against a target, per spec §4.3.
package miner

import (
	"context"
	"errors"
	"math/big"
	"sort"
	"time"

	"github.com/klingecoin/node/internal/config"
	"github.com/klingecoin/node/internal/difficulty"
	"github.com/klingecoin/node/pkg/crypto"
	"github.com/klingecoin/node/pkg/merkle"
	"github.com/klingecoin/node/pkg/serialization"
	"github.com/klingecoin/node/pkg/types"
)

// ErrNonceExhausted is returned when the nonce space (2^32 by default, or
// cfg.MaxNonce) is exhausted without a solution. Callers are expected to
// rebuild the candidate with a fresh timestamp or mempool set (spec §4.3).
var ErrNonceExhausted = errors.New("miner: nonce space exhausted")

// ErrCancelled is returned when ctx is cancelled mid-search, e.g. because a
// new best tip arrived (spec §4.3, §5).
var ErrCancelled = errors.New("miner: cancelled")

// ChainTip is the read-only view of chain state the miner needs.
type ChainTip interface {
	Height() uint64
	TipHash() types.Hash
	TipTimestamp() int64
}

// MempoolSource selects transactions for inclusion in a candidate block.
type MempoolSource interface {
	Select(maxCount int) []types.Transaction
}

// Miner produces candidate blocks and searches for a proof-of-work
// solution.
type Miner struct {
	chain        ChainTip
	pool         MempoolSource
	cfg          config.Config
	coinbaseAddr types.Address
	blockReward  uint64
}

// New creates a block producer paying rewards to coinbaseAddr.
func New(chain ChainTip, pool MempoolSource, cfg config.Config, coinbaseAddr types.Address, blockReward uint64) *Miner {
	return &Miner{
		chain:        chain,
		pool:         pool,
		cfg:          cfg,
		coinbaseAddr: coinbaseAddr,
		blockReward:  blockReward,
	}
}

// BuildCandidate assembles (but does not seal) a block at the current tip:
// coinbase first, then mempool transactions ordered by fee rate up to the
// configured per-block cap (spec §4.3 mining loop policy).
func (m *Miner) BuildCandidate(bits [4]byte) (*types.Block, error) {
	timestamp := time.Now().Unix()
	if parentTS := m.chain.TipTimestamp(); timestamp <= parentTS {
		timestamp = parentTS + 1
	}

	var selected []types.Transaction
	if m.pool != nil {
		selected = m.pool.Select(m.cfg.MaxBlockTxs - 1)
	}

	sortByHashAscending(selected)

	var totalFees uint64
	for _, tx := range selected {
		totalFees += tx.Fee
	}

	var index uint64
	var prevHash types.OptionalHash
	if m.chain.Height() > 0 || !m.chain.TipHash().IsZero() {
		index = m.chain.Height() + 1
		prevHash = types.SomeHash(m.chain.TipHash())
	}

	coinbase := BuildCoinbase(m.coinbaseAddr, m.blockReward+totalFees, index, float64(timestamp))

	txs := make([]types.Transaction, 0, 1+len(selected))
	txs = append(txs, coinbase)
	txs = append(txs, selected...)

	hashes := make([]types.Hash, len(txs))
	for i := range txs {
		hashes[i] = txs[i].TxHash
	}
	root, err := merkle.RootFromHashes(hashes)
	if err != nil {
		return nil, err
	}

	block := &types.Block{
		Header: types.Header{
			Index:        index,
			Timestamp:    timestamp,
			PreviousHash: prevHash,
			Bits:         bits,
			MerkleRoot:   root,
		},
		Data: txs,
	}
	return block, nil
}

// Seal searches nonces from 0 until block.Hash satisfies its Bits target,
// recomputing only the header hash per attempt (the header fields other
// than nonce are fixed once at the start, per spec §4.3). It aborts early
// if ctx is cancelled — the caller cancels when a new best tip arrives.
func (m *Miner) Seal(ctx context.Context, block *types.Block) error {
	maxNonce := m.cfg.MaxNonce
	if maxNonce == 0 {
		maxNonce = 1 << 32
	}

	target := difficulty.BitsToTarget(block.Bits)
	started := time.Now()

	for nonce := uint64(0); nonce < maxNonce; nonce++ {
		select {
		case <-ctx.Done():
			return ErrCancelled
		default:
		}

		block.Nonce = nonce
		headerBytes := serialization.EncodeBlockHeader(&block.Header)
		hash := crypto.DoubleHash(headerBytes)
		hashInt := new(big.Int).SetBytes(hash[:])
		if hashInt.Cmp(target) <= 0 {
			block.Hash = hash
			elapsed := time.Since(started).Seconds()
			block.MiningTime = &elapsed
			return nil
		}
	}
	return ErrNonceExhausted
}

// Produce builds a candidate against bits and seals it, returning a fully
// sealed block ready for local validation and submission to the consensus
// engine. The caller is responsible for computing bits (copying the
// parent's, or calling into the difficulty engine at a retarget height)
// and for cancelling ctx when a new best tip arrives (spec §4.3).
func (m *Miner) Produce(ctx context.Context, bits [4]byte) (*types.Block, error) {
	block, err := m.BuildCandidate(bits)
	if err != nil {
		return nil, err
	}
	if err := m.Seal(ctx, block); err != nil {
		return nil, err
	}
	return block, nil
}

// sortByHashAscending breaks ties between transactions at the same fee
// rate by hash, ascending, matching the teacher's canonical-ordering
// convention. It leaves pool.Select's fee-rate-descending order alone
// everywhere fee rates differ (spec §4.3 mining loop policy, §4.5 S3) —
// it is a stable sort, so a tie-break pass over already fee-ordered input
// only ever reorders within an equal-fee-rate run.
func sortByHashAscending(txs []types.Transaction) {
	sort.SliceStable(txs, func(i, j int) bool {
		if txs[i].FeeRate != txs[j].FeeRate {
			return false
		}
		hi, hj := txs[i].TxHash, txs[j].TxHash
		for k := range hi {
			if hi[k] != hj[k] {
				return hi[k] < hj[k]
			}
		}
		return false
	})
}
