package node

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/klingecoin/node/internal/difficulty"
	"github.com/klingecoin/node/internal/gateway"
	"github.com/klingecoin/node/internal/miner"
	"github.com/klingecoin/node/internal/p2p"
	"github.com/klingecoin/node/internal/spv"
	"github.com/klingecoin/node/internal/wallet"
	"github.com/klingecoin/node/pkg/types"
)

// Role selects which facades a process composes on top of a Context
// (spec §6 CLI surface).
type Role string

const (
	RoleFull    Role = "FULL"
	RoleMiner   Role = "MINER"
	RoleGateway Role = "GATEWAY"
	RoleWallet  Role = "WALLET"
	RoleSPV     Role = "SPV"
)

// BlockReward is the fixed coinbase payout; the spec carries no halving
// schedule, so this is a constant rather than a function of height.
const BlockReward = 50

// Node is the fully wired process: a Context plus whichever role-specific
// collaborators were requested, plus the P2P server every role except a
// pure SPV client joins the network through.
type Node struct {
	Ctx     *Context
	Role    Role
	Keys    *wallet.Keystore
	Network *p2p.Server
	Sync    *p2p.Manager
	Miner   *miner.Miner
	Gateway *gateway.Gateway
	HTTP    *gateway.Server
	Wallet  *wallet.Wallet
	Headers *spv.HeaderStore
}

// announcer adapts a *p2p.Server + *p2p.Manager pair to gateway.Announcer,
// gossiping a newly admitted transaction to every connected peer.
type announcer struct {
	sync *p2p.Manager
	srv  *p2p.Server
}

func (a *announcer) AnnounceTx(hash types.Hash) {
	a.sync.Announce(p2p.InvTx, hash, a.srv.Peers())
}

// Build composes a Node for role on top of ctx, listening on listenAddr.
// keystorePath names the file holding (or to hold) the process's private
// key. Every role, SPV included, loads or creates that key and registers
// its public key with the chain manager's key directory; the miner's
// coinbase pays its address and the gateway signs with it (spec §9
// NodeContext wiring; original implementation's per-role composition).
func Build(ctx *Context, role Role, listenAddr, keystorePath string) (*Node, error) {
	keys, err := wallet.EnsureKeyExists(keystorePath)
	if err != nil {
		return nil, fmt.Errorf("node: load identity: %w", err)
	}
	ctx.Chain.RegisterKey(keys.Address(), keys.PublicKeyBytes())

	n := &Node{Ctx: ctx, Role: role, Keys: keys}

	if role == RoleSPV {
		n.Headers = spv.NewHeaderStore()
		return n, nil
	}

	syncCfg := p2p.Config{ProtocolVersion: ctx.Config.ProtocolVersion, MaxPayloadSize: ctx.Config.NetworkMaxPayloadSize}
	syncMgr := p2p.NewManager(ctx.Chain, ctx.Pool, ctx.Chain, syncCfg, ctx.Log.With().Str("subsystem", "p2p").Logger())
	srv := p2p.NewServer(listenAddr, syncMgr, syncCfg, ctx.Log.With().Str("subsystem", "p2p").Logger())
	syncMgr.SetPeerSource(srv)
	if ctx.Metrics != nil {
		srv.SetMetrics(ctx.Metrics)
	}
	n.Sync = syncMgr
	n.Network = srv

	ann := &announcer{sync: syncMgr, srv: srv}

	switch role {
	case RoleMiner:
		n.Miner = miner.New(ctx.Chain, ctx.Pool, ctx.Config, keys.Address(), BlockReward)
	case RoleGateway:
		n.Gateway = gateway.New(keys.Address(), keys.PrivateKey(), ctx.Pool, ctx.Chain, ann, ctx.Log.With().Str("subsystem", "gateway").Logger())
		n.HTTP = gateway.NewServer(n.Gateway, ctx.Chain, ctx.Pool, srv, string(role), keys.Address(), ctx.Log, ctx.Registry)
	case RoleWallet:
		n.Gateway = gateway.New(keys.Address(), keys.PrivateKey(), ctx.Pool, ctx.Chain, ann, ctx.Log.With().Str("subsystem", "gateway").Logger())
		n.Wallet = wallet.New(keys, n.Gateway)
	case RoleFull:
		n.Gateway = gateway.New(keys.Address(), keys.PrivateKey(), ctx.Pool, ctx.Chain, ann, ctx.Log.With().Str("subsystem", "gateway").Logger())
		n.HTTP = gateway.NewServer(n.Gateway, ctx.Chain, ctx.Pool, srv, string(role), keys.Address(), ctx.Log, ctx.Registry)
		n.Miner = miner.New(ctx.Chain, ctx.Pool, ctx.Config, keys.Address(), BlockReward)
	}

	return n, nil
}

// Start opens the P2P listener (all roles but SPV) and dials a seed peer
// if one was given.
func (n *Node) Start(seedAddr string) error {
	if n.Network == nil {
		return nil
	}
	if err := n.Network.Start(); err != nil {
		return err
	}
	if seedAddr != "" {
		if err := n.Network.Dial(seedAddr); err != nil {
			return fmt.Errorf("node: dial seed %s: %w", seedAddr, err)
		}
	}
	return nil
}

// Stop tears down the network listener, if any; callers persist chain
// state separately via Context.Persist.
func (n *Node) Stop() {
	if n.Network != nil {
		n.Network.Stop()
	}
}

// MineGenesis builds and seals the height-0 block at the easiest
// difficulty and installs it, for an empty chain (spec §4.6 step 3a, S1).
// It is a no-op, returning nil, if the chain already has a genesis block.
func (n *Node) MineGenesis(ctx context.Context) error {
	if n.Ctx.Chain.Height() > 0 || !n.Ctx.Chain.TipHash().IsZero() {
		return nil
	}
	if n.Miner == nil {
		return fmt.Errorf("node: role %s cannot mine genesis", n.Role)
	}
	block, err := n.Miner.Produce(ctx, difficulty.MaxBits)
	if err != nil {
		return fmt.Errorf("node: mine genesis: %w", err)
	}
	status, err := n.Ctx.Chain.AddBlock(*block, nil)
	if err != nil {
		return fmt.Errorf("node: install genesis: %w", err)
	}
	n.Ctx.Log.Info().Stringer("status", status).Msg("genesis installed")
	return nil
}

// MineLoop repeatedly produces and submits blocks until ctx is cancelled,
// rebuilding the candidate against the current tip's bits each round and
// announcing any newly accepted block to peers (spec §4.3 mining loop,
// §5 S5/S6 the reorg/orphan interplay with gossip).
func (n *Node) MineLoop(ctx context.Context) error {
	if n.Miner == nil {
		return fmt.Errorf("node: role %s does not mine", n.Role)
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if err := n.MineGenesis(ctx); err != nil {
			return err
		}

		bits := n.nextBits()
		block, err := n.Miner.Produce(ctx, bits)
		if err != nil {
			if errors.Is(err, miner.ErrCancelled) {
				return nil
			}
			n.Ctx.Log.Warn().Err(err).Msg("mining attempt failed, rebuilding candidate")
			continue
		}

		var reverted []types.Transaction
		status, err := n.Ctx.Chain.AddBlock(*block, &reverted)
		if err != nil {
			n.Ctx.Log.Warn().Err(err).Msg("mined block rejected by own chain manager")
			continue
		}
		for _, tx := range reverted {
			n.Ctx.Pool.Add(tx)
		}
		if n.Network != nil {
			n.Sync.Announce(p2p.InvBlock, block.Hash, n.Network.Peers())
		}
		n.Ctx.Log.Info().Stringer("status", status).Uint64("height", block.Index).Msg("block mined")
	}
}

// nextBits copies the parent's difficulty outside a retarget boundary;
// at a retarget boundary it walks back to the matching anchor itself,
// mirroring the simplified single-anchor retarget the consensus manager
// already applies on block acceptance (spec §4.2, §9).
func (n *Node) nextBits() [4]byte {
	tipHeight := n.Ctx.Chain.Height()
	tip, ok := n.Ctx.Chain.BlockAtHeight(tipHeight)
	if !ok {
		return difficulty.MaxBits
	}
	nextIndex := tipHeight + 1
	interval := n.Ctx.Config.DifficultyAdjustmentInterval
	if interval == 0 || nextIndex%interval != 0 {
		return tip.Bits
	}
	anchorHeight := uint64(0)
	if nextIndex >= interval {
		anchorHeight = nextIndex - interval
	}
	anchor, ok := n.Ctx.Chain.BlockAtHeight(anchorHeight)
	if !ok {
		return tip.Bits
	}
	actual := tip.Timestamp - anchor.Timestamp
	expected := n.Ctx.Config.BlockTimeTargetSec * int64(interval)
	return difficulty.Retarget(difficulty.RetargetInput{
		PreviousBits:     tip.Bits,
		ActualTimespan:   actual,
		ExpectedTimespan: expected,
		ClampFactor:      n.Ctx.Config.DifficultyClampFactor,
	})
}

// PruneMempoolLoop removes stale pending transactions on an interval,
// called from a background goroutine the CLI entry point starts for any
// mempool-owning role (spec §4.5).
func (n *Node) PruneMempoolLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := n.Ctx.Pool.PruneExpired(); removed > 0 {
				n.Ctx.Log.Debug().Int("removed", removed).Msg("pruned expired mempool entries")
			}
		}
	}
}
