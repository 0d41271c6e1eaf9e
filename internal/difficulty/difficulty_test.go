package difficulty

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBitsToTargetRoundTripsThroughTargetToBits(t *testing.T) {
	bits := MaxBits
	target := BitsToTarget(bits)
	require.Equal(t, bits, TargetToBits(target))
}

func TestTargetToBitsRoundTripsShortTargets(t *testing.T) {
	for _, raw := range []int64{0x01, 0x12, 0x1234, 0x7fff} {
		target := big.NewInt(raw)
		bits := TargetToBits(target)
		require.Equal(t, target, BitsToTarget(bits), "raw target %#x must round-trip", raw)
	}
}

func TestMeetsTargetBoundary(t *testing.T) {
	target := BitsToTarget(MaxBits)

	atTarget := new(big.Int).Set(target)
	require.True(t, MeetsTarget(atTarget, MaxBits))

	overTarget := new(big.Int).Add(target, big.NewInt(1))
	require.False(t, MeetsTarget(overTarget, MaxBits))
}

func TestRetargetQuartersTargetWhenBlocksComeFourTimesAsFast(t *testing.T) {
	in := RetargetInput{
		PreviousBits:     MaxBits,
		ActualTimespan:   500,
		ExpectedTimespan: 2000,
		ClampFactor:      4,
	}
	got := Retarget(in)
	oldTarget := BitsToTarget(MaxBits)

	// actual/expected = 1/4, clamp allows it, so new_target ~= old/4.
	quarter := new(big.Int).Div(oldTarget, big.NewInt(4))
	require.Equal(t, TargetToBits(quarter), got)
}

func TestRetargetClampsExtremeSpeedup(t *testing.T) {
	in := RetargetInput{
		PreviousBits:     MaxBits,
		ActualTimespan:   1, // wildly fast, would demand target/2000 without a clamp
		ExpectedTimespan: 2000,
		ClampFactor:      4,
	}
	got := Retarget(in)
	oldTarget := BitsToTarget(MaxBits)
	clamped := new(big.Int).Div(oldTarget, big.NewInt(4))

	require.Equal(t, TargetToBits(clamped), got, "actual timespan must clamp to expected/4 before scaling")
}

func TestRetargetClampsExtremeSlowdown(t *testing.T) {
	in := RetargetInput{
		PreviousBits:     TargetToBits(new(big.Int).Div(MaxTarget, big.NewInt(16))),
		ActualTimespan:   1_000_000, // wildly slow, would demand target*500 without a clamp
		ExpectedTimespan: 2000,
		ClampFactor:      4,
	}
	got := Retarget(in)
	oldTarget := BitsToTarget(in.PreviousBits)
	clamped := new(big.Int).Mul(oldTarget, big.NewInt(4))

	require.Equal(t, TargetToBits(clamped), got)
}

func TestRetargetNeverExceedsMaxTarget(t *testing.T) {
	in := RetargetInput{
		PreviousBits:     MaxBits,
		ActualTimespan:   8000,
		ExpectedTimespan: 2000,
		ClampFactor:      4,
	}
	got := Retarget(in)
	require.Equal(t, MaxBits, got, "already at the easiest target, retargeting looser must clamp at MaxTarget")
}
