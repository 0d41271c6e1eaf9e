// Package config holds the process-wide tunables named in spec §6. None of
// these drive the wire format (that is fixed, spec §4.7/§6) — they drive
// node behaviour: retargeting cadence, mempool limits, payload ceilings.
package config

import "time"

// Config is passed explicitly into every component constructor that needs
// it; there is no package-global instance (spec §9).
type Config struct {
	// NetworkMaxPayloadSize caps a single P2P message payload before it is
	// read off the wire (spec §4.7 MAX_PAYLOAD_SIZE).
	NetworkMaxPayloadSize uint32
	// NetworkDefaultPort is the node's conventional listen port. The CLI
	// takes the port as a required argument and does not fall back to it.
	NetworkDefaultPort int
	// ProtocolVersion is sent in every version handshake.
	ProtocolVersion uint32

	// BlockTimeTargetSec is the expected seconds between blocks used by
	// the difficulty engine's retarget formula.
	BlockTimeTargetSec int64
	// DifficultyAdjustmentInterval is the block-height period between
	// retargets (spec §4.2 ADJUSTMENT_INTERVAL).
	DifficultyAdjustmentInterval uint64
	// DifficultyClampFactor bounds how much the retarget can move the
	// target in one adjustment (spec §4.2 CLAMP).
	DifficultyClampFactor int64

	// BlockMaxFutureTimeSec is how far into the future a block timestamp
	// may be and still validate (spec §4.4 MAX_FUTURE_DRIFT).
	BlockMaxFutureTimeSec int64

	// MempoolExpirySec is the age after which a pending transaction is
	// eligible for pruning (spec §4.5).
	MempoolExpirySec int64
	// MempoolMaxSize bounds the number of pending transactions.
	MempoolMaxSize int

	// MaxNonce bounds the miner's search before it must rebuild the
	// candidate with a fresh timestamp (spec §4.3).
	MaxNonce uint64

	// MaxBlockTxs caps transactions per block, including the coinbase.
	MaxBlockTxs int
}

// Default returns the node's standard operating parameters.
func Default() Config {
	return Config{
		NetworkMaxPayloadSize:        2 * 1024 * 1024, // 2 MiB
		NetworkDefaultPort:           8833,
		ProtocolVersion:              1,
		BlockTimeTargetSec:           600,
		DifficultyAdjustmentInterval: 2016,
		DifficultyClampFactor:        4,
		BlockMaxFutureTimeSec:        int64(2 * time.Hour / time.Second),
		MempoolExpirySec:             int64(336 * time.Hour / time.Second), // 14 days
		MempoolMaxSize:               5000,
		MaxNonce:                     1 << 32,
		MaxBlockTxs:                  2000,
	}
}
