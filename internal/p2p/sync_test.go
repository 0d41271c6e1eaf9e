package p2p

import (
	"net"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/klingecoin/node/internal/consensus"
	"github.com/klingecoin/node/internal/mempool"
	"github.com/klingecoin/node/pkg/crypto"
	"github.com/klingecoin/node/pkg/serialization"
	"github.com/klingecoin/node/pkg/types"
)

type fakeChain struct {
	height uint64
	blocks map[uint64]types.Block
}

func (f fakeChain) Height() uint64 { return f.height }
func (f fakeChain) TipHash() types.Hash {
	b, ok := f.blocks[f.height]
	if !ok {
		return types.Hash{}
	}
	return b.Hash
}
func (f fakeChain) BlockAtHeight(h uint64) (types.Block, bool) {
	b, ok := f.blocks[h]
	return b, ok
}

type fakePool struct {
	contained map[types.Hash]bool
	added     []types.Transaction
}

func (f *fakePool) Contains(hash types.Hash) bool { return f.contained[hash] }
func (f *fakePool) Add(tx types.Transaction) mempool.Outcome {
	f.added = append(f.added, tx)
	return mempool.Accepted
}

type fakeKeys struct {
	m map[types.Address][]byte
}

func (f fakeKeys) LookupKey(addr types.Address) ([]byte, bool) {
	k, ok := f.m[addr]
	return k, ok
}

// fakeChainWriter adds a controllable AddBlock to fakeChain, so handleBlock's
// reorg-revert and relay paths can be exercised without a real consensus
// manager.
type fakeChainWriter struct {
	fakeChain
	status   consensus.Status
	reverted []types.Transaction
	err      error
}

func (f *fakeChainWriter) AddBlock(block types.Block, revertedTxs *[]types.Transaction) (consensus.Status, error) {
	if revertedTxs != nil {
		*revertedTxs = append(*revertedTxs, f.reverted...)
	}
	return f.status, f.err
}

type fakePeerSource struct {
	peers []*Peer
}

func (f fakePeerSource) Peers() []*Peer { return f.peers }

func signedTx(t *testing.T, priv *crypto.PrivateKey, addr types.Address, value string, nonce uint64, timestamp float64) types.Transaction {
	t.Helper()
	entry := types.DataEntry{
		SourceID:  addr,
		DataType:  "reading",
		Value:     []byte(value),
		Timestamp: timestamp,
		Nonce:     nonce,
		Metadata:  map[string]interface{}{},
	}
	encoded, err := serialization.EncodeDataEntry(&entry)
	require.NoError(t, err)
	entry.DataHash = crypto.Hash(encoded)

	tx := types.Transaction{Entries: []types.DataEntry{entry}, Timestamp: timestamp}
	tx.TxHash = crypto.Hash(serialization.EncodeTransactionHeader(&tx))
	digest := crypto.Hash(tx.TxHash[:])
	sig, err := priv.Sign(digest[:])
	require.NoError(t, err)
	tx.Signature = sig
	return tx
}

func newPipePeers(t *testing.T) (*Peer, *Peer) {
	t.Helper()
	a, b := net.Pipe()
	pa := NewPeer(a, false, zerolog.Nop())
	pb := NewPeer(b, true, zerolog.Nop())
	pa.Start(1 << 20)
	pb.Start(1 << 20)
	t.Cleanup(func() {
		pa.Stop()
		pb.Stop()
	})
	return pa, pb
}

func TestSendVersionSetsStateAndTransmits(t *testing.T) {
	chain := fakeChain{height: 3, blocks: map[uint64]types.Block{}}
	m := NewManager(chain, &fakePool{contained: map[types.Hash]bool{}}, fakeKeys{}, Config{ProtocolVersion: 1}, zerolog.Nop())

	local, remote := newPipePeers(t)
	require.NoError(t, m.SendVersion(local, 1700000000))
	require.Equal(t, VersionSent, local.State())

	frame := <-remote.Receive()
	require.Equal(t, CmdVersion, frame.Command)

	var v VersionPayload
	require.NoError(t, DecodePayload(frame.Payload, &v))
	require.Equal(t, uint32(1), v.ProtocolVersion)
	require.Equal(t, uint64(3), v.BestHeight)
}

func TestHandleVersionRequestsHeadersWhenPeerAhead(t *testing.T) {
	chain := fakeChain{height: 0, blocks: map[uint64]types.Block{0: {Header: types.Header{Index: 0}, Hash: types.Hash{1}}}}
	m := NewManager(chain, &fakePool{contained: map[types.Hash]bool{}}, fakeKeys{}, Config{ProtocolVersion: 1}, zerolog.Nop())

	local, remote := newPipePeers(t)
	payload, err := EncodePayload(VersionPayload{ProtocolVersion: 1, BestHeight: 5})
	require.NoError(t, err)

	require.NoError(t, m.HandleFrame(local, NewFrame(CmdVersion, payload)))
	require.Equal(t, Ready, local.State())
	require.Equal(t, uint64(5), local.BestHeight())

	frame := <-remote.Receive()
	require.Equal(t, CmdGetHeaders, frame.Command)
}

func TestHandleVersionDoesNotRequestHeadersWhenNotAhead(t *testing.T) {
	chain := fakeChain{height: 5, blocks: map[uint64]types.Block{}}
	m := NewManager(chain, &fakePool{contained: map[types.Hash]bool{}}, fakeKeys{}, Config{ProtocolVersion: 1}, zerolog.Nop())

	local, _ := newPipePeers(t)
	payload, err := EncodePayload(VersionPayload{ProtocolVersion: 1, BestHeight: 1})
	require.NoError(t, err)

	require.NoError(t, m.HandleFrame(local, NewFrame(CmdVersion, payload)))
	require.Equal(t, Ready, local.State())
}

func TestHandleGetHeadersReturnsHeadersAfterLocator(t *testing.T) {
	genesisHash := types.Hash{1}
	b1Hash := types.Hash{2}
	chain := fakeChain{
		height: 1,
		blocks: map[uint64]types.Block{
			0: {Header: types.Header{Index: 0}, Hash: genesisHash},
			1: {Header: types.Header{Index: 1, PreviousHash: types.SomeHash(genesisHash)}, Hash: b1Hash},
		},
	}
	m := NewManager(chain, &fakePool{contained: map[types.Hash]bool{}}, fakeKeys{}, Config{ProtocolVersion: 1}, zerolog.Nop())

	local, remote := newPipePeers(t)
	reqPayload, err := EncodePayload(GetHeadersPayload{ProtocolVersion: 1, LocatorHashes: []string{genesisHash.String()}, HashStop: types.Hash{}.String()})
	require.NoError(t, err)

	require.NoError(t, m.HandleFrame(local, NewFrame(CmdGetHeaders, reqPayload)))

	frame := <-remote.Receive()
	require.Equal(t, CmdHeaders, frame.Command)

	var resp HeadersPayload
	require.NoError(t, DecodePayload(frame.Payload, &resp))
	require.Len(t, resp.Headers, 1)
	require.Equal(t, b1Hash.String(), resp.Headers[0].Hash)
}

func TestHandleInvRequestsOnlyUnknownAndNotPooled(t *testing.T) {
	pooledHash := types.Hash{5}
	chain := fakeChain{height: 0, blocks: map[uint64]types.Block{}}
	pool := &fakePool{contained: map[types.Hash]bool{pooledHash: true}}
	m := NewManager(chain, pool, fakeKeys{}, Config{ProtocolVersion: 1}, zerolog.Nop())

	local, remote := newPipePeers(t)
	inv := InvPayload{Inventory: []InvItem{
		{Type: InvTx, Hash: pooledHash.String()},
		{Type: InvBlock, Hash: types.Hash{6}.String()},
	}}
	payload, err := EncodePayload(inv)
	require.NoError(t, err)

	require.NoError(t, m.HandleFrame(local, NewFrame(CmdInv, payload)))

	frame := <-remote.Receive()
	require.Equal(t, CmdGetData, frame.Command)

	var got GetDataPayload
	require.NoError(t, DecodePayload(frame.Payload, &got))
	require.Len(t, got.Inventory, 1, "already-pooled tx must not be re-requested")
	require.Equal(t, types.Hash{6}.String(), got.Inventory[0].Hash)
}

func TestAnnounceSkipsPeersThatAlreadySawHash(t *testing.T) {
	chain := fakeChain{height: 0, blocks: map[uint64]types.Block{}}
	m := NewManager(chain, &fakePool{contained: map[types.Hash]bool{}}, fakeKeys{}, Config{ProtocolVersion: 1}, zerolog.Nop())

	localA, remoteA := newPipePeers(t)
	localB, remoteB := newPipePeers(t)

	hash := types.Hash{7}
	m.markKnown(hash, localA)

	m.Announce(InvBlock, hash, []*Peer{localA, localB})

	frame := <-remoteB.Receive()
	require.Equal(t, CmdInv, frame.Command)

	select {
	case <-remoteA.Receive():
		t.Fatal("peer that already saw the hash must not receive another inv")
	default:
	}
}

func TestHandleTxRejectsUnknownSigner(t *testing.T) {
	chain := fakeChain{height: 0, blocks: map[uint64]types.Block{}}
	pool := &fakePool{contained: map[types.Hash]bool{}}
	m := NewManager(chain, pool, fakeKeys{m: map[types.Address][]byte{}}, Config{ProtocolVersion: 1}, zerolog.Nop())

	senderPriv, err := crypto.GenerateKey()
	require.NoError(t, err)
	senderAddr := crypto.AddressFromPublicKey(senderPriv.PublicKey().Bytes())
	tx := signedTx(t, senderPriv, senderAddr, "1.0", 1, 1700000000)
	dict := serialization.TxToDict(&tx)
	payload, err := EncodePayload(TxPayload{Tx: dict})
	require.NoError(t, err)

	local, _ := newPipePeers(t)
	err = m.HandleFrame(local, NewFrame(CmdTx, payload))
	require.ErrorIs(t, err, ErrProtocolViolation)
	require.Empty(t, pool.added, "unknown-signer tx must not be admitted")
}

func TestHandleTxRejectsTamperedSignature(t *testing.T) {
	chain := fakeChain{height: 0, blocks: map[uint64]types.Block{}}
	pool := &fakePool{contained: map[types.Hash]bool{}}
	senderPriv, err := crypto.GenerateKey()
	require.NoError(t, err)
	senderAddr := crypto.AddressFromPublicKey(senderPriv.PublicKey().Bytes())
	m := NewManager(chain, pool, fakeKeys{m: map[types.Address][]byte{senderAddr: senderPriv.PublicKey().Bytes()}}, Config{ProtocolVersion: 1}, zerolog.Nop())

	tx := signedTx(t, senderPriv, senderAddr, "1.0", 1, 1700000000)
	tx.Signature[0] ^= 0xff
	dict := serialization.TxToDict(&tx)
	payload, err := EncodePayload(TxPayload{Tx: dict})
	require.NoError(t, err)

	local, _ := newPipePeers(t)
	err = m.HandleFrame(local, NewFrame(CmdTx, payload))
	require.Error(t, err)
	require.Empty(t, pool.added, "tampered-signature tx must not be admitted")
}

func TestHandleTxAdmitsAndRelaysToPeersOtherThanSender(t *testing.T) {
	chain := fakeChain{height: 0, blocks: map[uint64]types.Block{}}
	pool := &fakePool{contained: map[types.Hash]bool{}}
	senderPriv, err := crypto.GenerateKey()
	require.NoError(t, err)
	senderAddr := crypto.AddressFromPublicKey(senderPriv.PublicKey().Bytes())
	m := NewManager(chain, pool, fakeKeys{m: map[types.Address][]byte{senderAddr: senderPriv.PublicKey().Bytes()}}, Config{ProtocolVersion: 1}, zerolog.Nop())

	from, _ := newPipePeers(t)
	otherLocal, otherRemote := newPipePeers(t)
	m.SetPeerSource(fakePeerSource{peers: []*Peer{from, otherLocal}})

	tx := signedTx(t, senderPriv, senderAddr, "1.0", 1, 1700000000)
	dict := serialization.TxToDict(&tx)
	payload, err := EncodePayload(TxPayload{Tx: dict})
	require.NoError(t, err)

	require.NoError(t, m.HandleFrame(from, NewFrame(CmdTx, payload)))
	require.Len(t, pool.added, 1)
	require.Equal(t, tx.TxHash, pool.added[0].TxHash)

	frame := <-otherRemote.Receive()
	require.Equal(t, CmdInv, frame.Command)
}

func TestHandleBlockReAdmitsRevertedTransactionsAndRelays(t *testing.T) {
	pool := &fakePool{contained: map[types.Hash]bool{}}
	revertedPriv, err := crypto.GenerateKey()
	require.NoError(t, err)
	revertedAddr := crypto.AddressFromPublicKey(revertedPriv.PublicKey().Bytes())
	revertedTx := signedTx(t, revertedPriv, revertedAddr, "2.0", 1, 1700000000)

	writer := &fakeChainWriter{
		fakeChain: fakeChain{height: 0, blocks: map[uint64]types.Block{}},
		status:    consensus.Accepted,
		reverted:  []types.Transaction{revertedTx},
	}
	m := NewManager(writer, pool, fakeKeys{}, Config{ProtocolVersion: 1}, zerolog.Nop())

	from, _ := newPipePeers(t)
	otherLocal, otherRemote := newPipePeers(t)
	m.SetPeerSource(fakePeerSource{peers: []*Peer{from, otherLocal}})

	block := types.Block{Header: types.Header{Index: 1}, Hash: types.Hash{9}}
	dict := serialization.BlockToDict(&block)
	payload, err := EncodePayload(BlockPayload{Block: dict})
	require.NoError(t, err)

	require.NoError(t, m.HandleFrame(from, NewFrame(CmdBlock, payload)))

	require.Len(t, pool.added, 1, "disconnected transactions must be re-admitted to the mempool")
	require.Equal(t, revertedTx.TxHash, pool.added[0].TxHash)

	frame := <-otherRemote.Receive()
	require.Equal(t, CmdInv, frame.Command)
}
