package p2p

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/klingecoin/node/pkg/types"
)

func TestServerStartAcceptsAndDialConnectsPeers(t *testing.T) {
	chain := fakeChain{height: 0, blocks: map[uint64]types.Block{}}
	mgrA := NewManager(chain, &fakePool{contained: map[types.Hash]bool{}}, fakeKeys{}, Config{ProtocolVersion: 1, MaxPayloadSize: 1 << 20}, zerolog.Nop())
	mgrB := NewManager(chain, &fakePool{contained: map[types.Hash]bool{}}, fakeKeys{}, Config{ProtocolVersion: 1, MaxPayloadSize: 1 << 20}, zerolog.Nop())

	srvA := NewServer("127.0.0.1:0", mgrA, Config{MaxPayloadSize: 1 << 20}, zerolog.Nop())
	require.NoError(t, srvA.Start())
	defer srvA.Stop()
	addr := srvA.listener.Addr().String()

	srvB := NewServer("127.0.0.1:0", mgrB, Config{MaxPayloadSize: 1 << 20}, zerolog.Nop())
	require.NoError(t, srvB.Dial(addr))
	defer srvB.Stop()

	require.Eventually(t, func() bool { return len(srvA.Peers()) == 1 }, 2*time.Second, 10*time.Millisecond)
	require.Len(t, srvB.Peers(), 1)
}

func TestAcceptLoopRateLimitsInboundConnections(t *testing.T) {
	chain := fakeChain{height: 0, blocks: map[uint64]types.Block{}}
	mgr := NewManager(chain, &fakePool{contained: map[types.Hash]bool{}}, fakeKeys{}, Config{MaxPayloadSize: 1 << 20}, zerolog.Nop())
	srv := NewServer("127.0.0.1:0", mgr, Config{MaxPayloadSize: 1 << 20}, zerolog.Nop())

	// Drain the burst so Allow() starts returning false.
	for i := 0; i < inboundConnBurst; i++ {
		require.True(t, srv.acceptLimiter.Allow())
	}
	require.False(t, srv.acceptLimiter.Allow(), "burst should be exhausted")
}
