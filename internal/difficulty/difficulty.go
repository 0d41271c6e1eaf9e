// Package difficulty converts between the compact 4-byte "bits" encoding
// carried in every block header and the 256-bit proof-of-work target it
// represents, and implements the periodic retarget formula (spec §4.2).
package difficulty

import (
	"errors"
	"math/big"
)

// ErrZeroMantissa is returned when bits decode to a zero-mantissa target,
// which would make every hash satisfy the target and is never valid.
var ErrZeroMantissa = errors.New("difficulty: zero mantissa")

// MaxTarget is the easiest-allowed target: 2^224 - 1, expressed so its
// compact encoding has exponent 0x1d and mantissa 0x00ffff (mirrors
// Bitcoin's genesis difficulty, scaled to this chain's 32-byte hash space).
var MaxTarget = func() *big.Int {
	t := new(big.Int).Lsh(big.NewInt(1), 224)
	return t.Sub(t, big.NewInt(1))
}()

// MaxBits is the compact encoding of MaxTarget.
var MaxBits = TargetToBits(MaxTarget)

// BitsToTarget decodes the compact 4-byte representation into a 256-bit
// target: target = mantissa * 2^(8*(exponent-3)) (spec §4.2).
func BitsToTarget(bits [4]byte) *big.Int {
	exponent := int(bits[0])
	mantissa := new(big.Int).SetBytes(bits[1:4])

	shift := 8 * (exponent - 3)
	target := new(big.Int).Set(mantissa)
	if shift >= 0 {
		target.Lsh(target, uint(shift))
	} else {
		target.Rsh(target, uint(-shift))
	}
	return target
}

// TargetToBits encodes a 256-bit target into the compact 4-byte form,
// normalising the case where the mantissa's high bit would be set (which
// the compact format reserves as a sign bit) by shifting the mantissa
// right one byte and incrementing the exponent (spec §4.2).
func TargetToBits(target *big.Int) [4]byte {
	if target.Sign() <= 0 {
		return [4]byte{}
	}

	raw := target.Bytes()
	exponent := len(raw)

	var mantissa []byte
	switch {
	case len(raw) >= 3:
		mantissa = raw[:3]
	default:
		// raw's bytes are the most-significant bytes of the mantissa;
		// BitsToTarget right-shifts a short exponent to recover the
		// original value, so the padding zeros belong at the low-order
		// end, not the high-order end.
		mantissa = make([]byte, 3)
		copy(mantissa, raw)
	}

	if mantissa[0]&0x80 != 0 {
		// High bit set: shift mantissa right a byte, bump the exponent.
		shifted := make([]byte, 3)
		shifted[1] = mantissa[0]
		shifted[2] = mantissa[1]
		mantissa = shifted
		exponent++
	}

	var bits [4]byte
	bits[0] = byte(exponent)
	bits[1] = mantissa[0]
	bits[2] = mantissa[1]
	bits[3] = mantissa[2]
	return bits
}

// MeetsTarget reports whether hashInt (a block hash interpreted as a
// big-endian integer) satisfies the target encoded by bits: hash <= target.
func MeetsTarget(hashInt *big.Int, bits [4]byte) bool {
	target := BitsToTarget(bits)
	if target.Sign() <= 0 {
		return false
	}
	return hashInt.Cmp(target) <= 0
}

// RetargetInput carries the data the retarget formula needs: the previous
// block's bits and the wall-clock span of the window just closed.
type RetargetInput struct {
	PreviousBits     [4]byte
	ActualTimespan   int64 // seconds between first and last block of the window
	ExpectedTimespan int64 // BlockTimeTargetSec * DifficultyAdjustmentInterval
	ClampFactor      int64
}

// Retarget computes the new bits for the block that opens the next
// adjustment window: new_target = old_target * actual/expected, clamped to
// [expected/clamp, expected*clamp], capped at MaxTarget (spec §4.2).
func Retarget(in RetargetInput) [4]byte {
	actual := in.ActualTimespan
	expected := in.ExpectedTimespan
	clamp := in.ClampFactor
	if clamp <= 0 {
		clamp = 4
	}

	minSpan := expected / clamp
	maxSpan := expected * clamp
	if actual < minSpan {
		actual = minSpan
	}
	if actual > maxSpan {
		actual = maxSpan
	}

	oldTarget := BitsToTarget(in.PreviousBits)
	newTarget := new(big.Int).Mul(oldTarget, big.NewInt(actual))
	newTarget.Div(newTarget, big.NewInt(expected))

	if newTarget.Cmp(MaxTarget) > 0 {
		newTarget = new(big.Int).Set(MaxTarget)
	}
	return TargetToBits(newTarget)
}
