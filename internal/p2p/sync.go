package p2p

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/klingecoin/node/internal/consensus"
	"github.com/klingecoin/node/internal/mempool"
	"github.com/klingecoin/node/internal/validate"
	"github.com/klingecoin/node/pkg/serialization"
	"github.com/klingecoin/node/pkg/types"
)

// ChainView is the read side of chain state the sync manager needs, kept
// narrow so it can be satisfied by *consensus.Manager without an import
// cycle back into p2p.
type ChainView interface {
	Height() uint64
	TipHash() types.Hash
	BlockAtHeight(height uint64) (types.Block, bool)
}

// ChainWriter is the mutating side: submitting a block for placement.
type ChainWriter interface {
	AddBlock(block types.Block, revertedTxs *[]types.Transaction) (consensus.Status, error)
}

// MempoolView lets the sync manager check for, and admit, transactions
// announced over gossip.
type MempoolView interface {
	Contains(hash types.Hash) bool
	Add(tx types.Transaction) mempool.Outcome
}

// KeyLookup resolves the public key bound to a source address, used to
// verify a gossiped transaction's signature before it is admitted or
// relayed (spec §4.7 "MUST validate and only then relay").
type KeyLookup interface {
	LookupKey(addr types.Address) ([]byte, bool)
}

// PeerSource supplies the set of currently connected peers a newly
// accepted object should be relayed to.
type PeerSource interface {
	Peers() []*Peer
}

// Manager drives the per-peer handshake, header-first sync, and gossip
// relay described in spec §4.7.
type Manager struct {
	mu sync.Mutex

	chain ChainView
	pool  MempoolView
	keys  KeyLookup
	peers PeerSource
	cfg   Config
	log   zerolog.Logger

	// requested tracks inventory we've asked for, so duplicate
	// announcements don't trigger duplicate getdata requests.
	requested map[types.Hash]struct{}

	// known remembers hashes we've already seen, so we never rebroadcast
	// an object a peer is known to already have (spec §4.7 "MUST NOT
	// rebroadcast").
	known map[types.Hash]map[*Peer]struct{}
}

// Config bundles the handful of protocol-level constants the sync manager
// consults (mirrors internal/config.Config's network fields).
type Config struct {
	ProtocolVersion   uint32
	MaxPayloadSize    uint32
}

// NewManager creates a sync manager bound to chain/pool/key-directory
// views. keys is used to verify gossiped transaction signatures before
// admission; it may satisfy a narrower interface than the full chain
// manager (e.g. *consensus.Manager does, via its own LookupKey).
func NewManager(chain ChainView, pool MempoolView, keys KeyLookup, cfg Config, log zerolog.Logger) *Manager {
	return &Manager{
		chain:     chain,
		pool:      pool,
		keys:      keys,
		cfg:       cfg,
		log:       log,
		requested: make(map[types.Hash]struct{}),
		known:     make(map[types.Hash]map[*Peer]struct{}),
	}
}

// SetPeerSource wires the connected-peer registry used to relay newly
// accepted blocks and transactions onward (spec §4.7 full relay network).
// Server supplies itself here after both are constructed, since Server
// needs a Manager to exist before it can be built.
func (m *Manager) SetPeerSource(peers PeerSource) {
	m.peers = peers
}

// SendVersion begins the handshake on a freshly connected peer (spec
// §4.7 "on a new outbound connection, the initiator sends version").
func (m *Manager) SendVersion(p *Peer, timestamp int64) error {
	payload, err := EncodePayload(VersionPayload{
		ProtocolVersion: m.cfg.ProtocolVersion,
		ServicesBitmask: 1,
		Timestamp:       timestamp,
		BestHeight:      m.chain.Height(),
	})
	if err != nil {
		return err
	}
	p.Send(NewFrame(CmdVersion, payload))
	p.setState(VersionSent)
	return nil
}

// HandleFrame dispatches one inbound frame from p. It is the single
// pattern-match over the command discriminator the spec's "dynamic typing
// at the wire boundary" design note calls for (§9).
func (m *Manager) HandleFrame(p *Peer, f *Frame) error {
	switch f.Command {
	case CmdVersion:
		return m.handleVersion(p, f)
	case CmdGetHeaders:
		return m.handleGetHeaders(p, f)
	case CmdHeaders:
		return m.handleHeaders(p, f)
	case CmdInv:
		return m.handleInv(p, f)
	case CmdGetData:
		return m.handleGetData(p, f)
	case CmdBlock:
		return m.handleBlock(p, f)
	case CmdTx:
		return m.handleTx(p, f)
	default:
		return fmt.Errorf("%w: %s", ErrUnknownCommand, f.Command)
	}
}

func (m *Manager) handleVersion(p *Peer, f *Frame) error {
	var v VersionPayload
	if err := DecodePayload(f.Payload, &v); err != nil {
		return err
	}
	p.setBestHeight(v.BestHeight)
	p.setState(Ready)

	if v.BestHeight > m.chain.Height() {
		return m.requestHeaders(p)
	}
	return nil
}

// requestHeaders sends getheaders anchored at our tip. The spec notes the
// repository's locator is a trivial one-element list rather than a
// Bitcoin-style exponential locator (§9 open question) — preserved here
// rather than silently upgraded.
func (m *Manager) requestHeaders(p *Peer) error {
	payload, err := EncodePayload(GetHeadersPayload{
		ProtocolVersion: m.cfg.ProtocolVersion,
		LocatorHashes:   []string{m.chain.TipHash().String()},
		HashStop:        types.Hash{}.String(),
	})
	if err != nil {
		return err
	}
	p.Send(NewFrame(CmdGetHeaders, payload))
	return nil
}

func (m *Manager) handleGetHeaders(p *Peer, f *Frame) error {
	var req GetHeadersPayload
	if err := DecodePayload(f.Payload, &req); err != nil {
		return err
	}

	startHeight := uint64(0)
	for _, locatorHex := range req.LocatorHashes {
		locator, err := types.HashFromHex(locatorHex)
		if err != nil {
			continue
		}
		for h := m.chain.Height(); ; {
			b, ok := m.chain.BlockAtHeight(h)
			if ok && b.Hash == locator {
				startHeight = h + 1
				break
			}
			if h == 0 {
				break
			}
			h--
		}
		if startHeight > 0 {
			break
		}
	}

	var headers []HeaderDict
	for h := startHeight; h <= m.chain.Height() && len(headers) < 2000; h++ {
		b, ok := m.chain.BlockAtHeight(h)
		if !ok {
			break
		}
		dict := serialization.BlockToDict(&b)
		headers = append(headers, HeaderDictFromBlock(dict))
	}

	payload, err := EncodePayload(HeadersPayload{Headers: headers})
	if err != nil {
		return err
	}
	p.Send(NewFrame(CmdHeaders, payload))
	return nil
}

func (m *Manager) handleHeaders(p *Peer, f *Frame) error {
	var resp HeadersPayload
	if err := DecodePayload(f.Payload, &resp); err != nil {
		return err
	}
	if len(resp.Headers) == 0 {
		return nil
	}

	anchorBlock, ok := m.chain.BlockAtHeight(anchorHeightFor(resp.Headers[0]))
	if !ok {
		return fmt.Errorf("%w: headers response anchored at unknown height", ErrProtocolViolation)
	}
	anchor := validate.HeaderAnchor{Hash: anchorBlock.Hash, Timestamp: anchorBlock.Timestamp}

	typedHeaders := make([]types.Header, 0, len(resp.Headers))
	blockHashes := make([]types.Hash, 0, len(resp.Headers))
	for _, hd := range resp.Headers {
		th, hash, err := hd.ToTypesHeader()
		if err != nil {
			return err
		}
		typedHeaders = append(typedHeaders, th)
		blockHashes = append(blockHashes, hash)
	}

	if err := validate.HeaderChain(anchor, typedHeaders); err != nil {
		return fmt.Errorf("%w: %v", ErrProtocolViolation, err)
	}

	// Request the full body of each new header (spec §4.7 header-first sync).
	var items []InvItem
	for _, h := range blockHashes {
		items = append(items, InvItem{Type: InvBlock, Hash: h.String()})
	}
	payload, err := EncodePayload(GetDataPayload{Inventory: items})
	if err != nil {
		return err
	}
	p.Send(NewFrame(CmdGetData, payload))
	return nil
}

// anchorHeightFor reports which local height the first header in a
// response is presumed to extend, i.e. its own index minus one.
func anchorHeightFor(first HeaderDict) uint64 {
	if first.Index == 0 {
		return 0
	}
	return first.Index - 1
}

func (m *Manager) handleInv(p *Peer, f *Frame) error {
	var inv InvPayload
	if err := DecodePayload(f.Payload, &inv); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var want []InvItem
	for _, item := range inv.Inventory {
		hash, err := types.HashFromHex(item.Hash)
		if err != nil {
			continue
		}
		m.markKnown(hash, p)

		if item.Type == InvTx && m.pool.Contains(hash) {
			continue
		}
		if _, requested := m.requested[hash]; requested {
			continue
		}
		m.requested[hash] = struct{}{}
		want = append(want, item)
	}

	if len(want) == 0 {
		return nil
	}
	payload, err := EncodePayload(GetDataPayload{Inventory: want})
	if err != nil {
		return err
	}
	p.Send(NewFrame(CmdGetData, payload))
	return nil
}

func (m *Manager) markKnown(hash types.Hash, p *Peer) {
	peers, ok := m.known[hash]
	if !ok {
		peers = make(map[*Peer]struct{})
		m.known[hash] = peers
	}
	peers[p] = struct{}{}
}

func (m *Manager) hasSeen(hash types.Hash, p *Peer) bool {
	peers, ok := m.known[hash]
	if !ok {
		return false
	}
	_, ok = peers[p]
	return ok
}

func (m *Manager) handleGetData(p *Peer, f *Frame) error {
	var req GetDataPayload
	if err := DecodePayload(f.Payload, &req); err != nil {
		return err
	}
	for _, item := range req.Inventory {
		hash, err := types.HashFromHex(item.Hash)
		if err != nil {
			continue
		}
		if item.Type != InvBlock {
			continue // only blocks are served; a getdata for a transaction gets no reply
		}
		for h := uint64(0); h <= m.chain.Height(); h++ {
			b, ok := m.chain.BlockAtHeight(h)
			if !ok || b.Hash != hash {
				continue
			}
			dict := serialization.BlockToDict(&b)
			payload, err := EncodePayload(BlockPayload{Block: dict})
			if err != nil {
				return err
			}
			p.Send(NewFrame(CmdBlock, payload))
			break
		}
	}
	return nil
}

// handleBlock admits a block received over gossip or getdata response. A
// reorg it triggers surfaces its disconnected transactions the same way a
// self-mined block's reorg does (node.go MineLoop), so a network-received
// reorg doesn't silently drop them from the mempool. A newly accepted
// block is relayed onward to every other connected peer (spec §4.7 full
// relay network).
func (m *Manager) handleBlock(p *Peer, f *Frame) error {
	var bp BlockPayload
	if err := DecodePayload(f.Payload, &bp); err != nil {
		return err
	}
	block, err := serialization.BlockFromDict(bp.Block)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrProtocolViolation, err)
	}

	m.mu.Lock()
	delete(m.requested, block.Hash)
	m.markKnown(block.Hash, p)
	m.mu.Unlock()

	writer, ok := m.chain.(ChainWriter)
	if !ok {
		return nil
	}

	var reverted []types.Transaction
	status, err := writer.AddBlock(block, &reverted)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrProtocolViolation, err)
	}
	for _, tx := range reverted {
		m.pool.Add(tx)
	}

	if status == consensus.Accepted {
		m.relay(InvBlock, block.Hash, p)
	}
	return nil
}

// handleTx admits a transaction received over gossip or getdata response.
// The mempool performs no validation of its own (spec §4.5), so this is
// the caller responsible for validating structurally and against the
// signer's registered public key before admission (spec §4.7 "MUST
// validate and only then relay"), mirroring gateway.SubmitSignedTransaction.
// A newly accepted transaction is relayed onward to every other connected
// peer.
func (m *Manager) handleTx(p *Peer, f *Frame) error {
	var tp TxPayload
	if err := DecodePayload(f.Payload, &tp); err != nil {
		return err
	}
	tx, err := serialization.TxFromDict(tp.Tx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrProtocolViolation, err)
	}

	if err := validate.Transaction(&tx); err != nil {
		return fmt.Errorf("%w: %v", ErrProtocolViolation, err)
	}
	if tx.Signature != nil && !tx.IsCoinbase() {
		source := tx.Entries[0].SourceID
		pubKey, ok := m.keys.LookupKey(source)
		if !ok {
			return fmt.Errorf("%w: unknown signer %s", ErrProtocolViolation, source)
		}
		if !validate.TransactionSignature(pubKey, tx.TxHash, tx.Signature) {
			return fmt.Errorf("%w: tx %s signature does not verify", ErrProtocolViolation, tx.TxHash)
		}
	}

	m.mu.Lock()
	delete(m.requested, tx.TxHash)
	m.markKnown(tx.TxHash, p)
	m.mu.Unlock()

	if m.pool.Add(tx) == mempool.Accepted {
		m.relay(InvTx, tx.TxHash, p)
	}
	return nil
}

// relay gossips hash onward to every connected peer other than from, the
// peer it was just received from, completing the one-hop-at-a-time relay
// chain spec §4.7 describes as a full gossip network.
func (m *Manager) relay(invType InvType, hash types.Hash, from *Peer) {
	if m.peers == nil {
		return
	}
	var recipients []*Peer
	for _, peer := range m.peers.Peers() {
		if peer != from {
			recipients = append(recipients, peer)
		}
	}
	m.Announce(invType, hash, recipients)
}

// Announce gossips a newly accepted object to peers, skipping any peer
// already known to have it (spec §4.7 no-rebroadcast rule).
func (m *Manager) Announce(invType InvType, hash types.Hash, peers []*Peer) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var recipients []*Peer
	for _, p := range peers {
		if !m.hasSeen(hash, p) {
			recipients = append(recipients, p)
		}
	}
	if len(recipients) == 0 {
		return
	}

	payload, err := EncodePayload(InvPayload{Inventory: []InvItem{{Type: invType, Hash: hash.String()}}})
	if err != nil {
		m.log.Warn().Err(err).Msg("failed to encode inv announcement")
		return
	}
	frame := NewFrame(CmdInv, payload)
	for _, p := range recipients {
		p.Send(frame)
		m.markKnown(hash, p)
	}
}
