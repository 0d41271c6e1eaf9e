// Package node composes the per-role facades described in spec §6/§9: a
// shared NodeContext holds chain, mempool, and key-directory state, and
// each role (FULL, MINER, GATEWAY, WALLET, SPV) wires a subset of
// collaborators on top of it. This avoids the original implementation's
// "FullNode holds managers that hold a back-reference to the node" cycle
// (spec §9 "Cyclic references to avoid") by making NodeContext the single
// shared value nothing else owns.
package node

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/klingecoin/node/internal/config"
	"github.com/klingecoin/node/internal/consensus"
	"github.com/klingecoin/node/internal/mempool"
	"github.com/klingecoin/node/internal/metrics"
	"github.com/klingecoin/node/internal/storage"
)

// Context is the shared state every role builds on: the consensus engine,
// the mempool, and the on-disk stores backing them. No collaborator built
// on top of a Context ever owns the Context itself.
type Context struct {
	Config   config.Config
	Log      zerolog.Logger
	Chain    *consensus.Manager
	Pool     *mempool.Pool
	Store    *storage.Store
	Index    *storage.Index
	Metrics  *metrics.Metrics
	Registry *prometheus.Registry
}

// NewContext loads persisted chain state (if any), rebuilds the secondary
// index from it, and wires a consensus manager and mempool on top. An
// empty or missing snapshot starts the node with an empty chain (no genesis
// yet; Height reports 0); callers running FULL or MINER roles are responsible for installing
// genesis (spec §4.6 step 3a, S1).
func NewContext(cfg config.Config, log zerolog.Logger, snapshotPath, indexPath string, reg *prometheus.Registry) (*Context, error) {
	pool := mempool.New(cfg.MempoolMaxSize, cfg.MempoolExpirySec)
	chain := consensus.New(cfg, pool, log.With().Str("subsystem", "consensus").Logger())

	store := storage.New(snapshotPath, log.With().Str("subsystem", "storage").Logger())
	idx, err := storage.OpenIndex(indexPath)
	if err != nil {
		return nil, err
	}

	if persisted, ok := store.Load(); ok {
		for i := range persisted {
			if _, err := chain.AddBlock(persisted[i], nil); err != nil {
				return nil, err
			}
		}
		if err := idx.Rebuild(persisted); err != nil {
			return nil, err
		}
	}

	var m *metrics.Metrics
	if reg != nil {
		m = metrics.New(reg)
		chain.SetMetrics(m)
		pool.SetMetrics(m)
	}

	return &Context{
		Config:   cfg,
		Log:      log,
		Chain:    chain,
		Pool:     pool,
		Store:    store,
		Index:    idx,
		Metrics:  m,
		Registry: reg,
	}, nil
}

// Persist snapshots the active chain to disk and rebuilds the secondary
// index from the result, in that order, so the index is never ahead of
// the durable snapshot (spec §4.8).
func (c *Context) Persist() error {
	chain := c.Chain.Snapshot()
	if err := c.Store.Save(chain); err != nil {
		return err
	}
	return c.Index.Rebuild(chain)
}
