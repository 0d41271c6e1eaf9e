package consensus

import (
	"fmt"

	"github.com/klingecoin/node/pkg/types"
)

// reorganize makes the side branch ending at tip the active chain. It is
// called with m.mu already held, after tip has been checked to extend
// further than the current main chain.
//
// The branch is walked backward through m.side until a block is found
// whose parent is on main (the fork point); the walk also consults
// m.orphan-adjacent blocks placed moments earlier in the same call via
// connectOrphans, since those are already in m.side by the time reorg
// runs.
func (m *Manager) reorganize(tip types.Block, revertedTxs *[]types.Transaction) error {
	branch := []types.Block{tip}
	cursor := tip
	for {
		if !cursor.PreviousHash.Valid {
			return fmt.Errorf("consensus: reorg walked off the start of the chain without finding a common ancestor")
		}
		if ancestorIdx, ok := m.byHashMain[cursor.PreviousHash.Hash]; ok {
			return m.applyReorg(ancestorIdx, branch, revertedTxs)
		}
		parent, ok := m.side[cursor.PreviousHash.Hash]
		if !ok {
			return fmt.Errorf("consensus: reorg branch references unknown parent %s", cursor.PreviousHash.Hash)
		}
		branch = append(branch, parent)
		cursor = parent
	}
}

// applyReorg splices branch (tip-first order) onto main truncated at
// ancestorIdx, demotes the disconnected main blocks into m.side, and
// promotes the newly active blocks out of m.side.
func (m *Manager) applyReorg(ancestorIdx uint64, branch []types.Block, revertedTxs *[]types.Transaction) error {
	disconnected := m.main[ancestorIdx+1:]

	newMain := make(Chain, 0, ancestorIdx+1+uint64(len(branch)))
	newMain = append(newMain, m.main[:ancestorIdx+1]...)
	for i := len(branch) - 1; i >= 0; i-- {
		newMain = append(newMain, branch[i])
	}

	// Demote disconnected main blocks into the side-branch map so they
	// remain known (and connectable to, should the chain later swing
	// back), and drop their heights from the main index.
	for _, b := range disconnected {
		m.side[b.Hash] = b
		delete(m.byHashMain, b.Hash)
	}

	// Promote the newly active branch out of the side map and into the
	// main index.
	for _, b := range branch {
		delete(m.side, b.Hash)
	}

	m.main = newMain
	m.byHashMain = make(map[types.Hash]uint64, len(m.main))
	for i, b := range m.main {
		m.byHashMain[b.Hash] = uint64(i)
	}

	// Spec §4.6 / §9 note the reorg leaves transactions unique to the
	// disconnected blocks out of the mempool unless re-added; we follow
	// the spec's "should" and surface them to the caller rather than
	// silently dropping them, since the Manager itself does not own
	// mempool admission policy (re-validation is the caller's job).
	if revertedTxs != nil {
		for _, b := range disconnected {
			for i := 1; i < len(b.Data); i++ { // skip coinbase
				*revertedTxs = append(*revertedTxs, b.Data[i])
			}
		}
	}

	for _, b := range branch {
		m.removeMinedTxs(b)
	}

	if m.metrics != nil {
		m.metrics.ReorgCount.Inc()
		m.metrics.LastReorgDepth.Set(float64(len(disconnected)))
	}

	return nil
}
