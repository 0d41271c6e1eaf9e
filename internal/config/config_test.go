package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultProducesConsistentOperatingParameters(t *testing.T) {
	cfg := Default()

	require.Greater(t, cfg.NetworkMaxPayloadSize, uint32(0))
	require.Greater(t, cfg.NetworkDefaultPort, 0)
	require.Greater(t, cfg.ProtocolVersion, uint32(0))
	require.Greater(t, cfg.BlockTimeTargetSec, int64(0))
	require.Greater(t, cfg.DifficultyAdjustmentInterval, uint64(0))
	require.Greater(t, cfg.DifficultyClampFactor, int64(0))
	require.Greater(t, cfg.BlockMaxFutureTimeSec, int64(0))
	require.Greater(t, cfg.MempoolExpirySec, int64(0))
	require.Greater(t, cfg.MempoolMaxSize, 0)
	require.Greater(t, cfg.MaxNonce, uint64(0))
	require.Greater(t, cfg.MaxBlockTxs, 0)
}

func TestDefaultReturnsIndependentValues(t *testing.T) {
	a := Default()
	b := Default()
	a.MempoolMaxSize = 1

	require.NotEqual(t, a.MempoolMaxSize, b.MempoolMaxSize, "Default must not share state across calls")
}
