package types

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHashFromHexRoundTripsThroughString(t *testing.T) {
	var h Hash
	h[0] = 0xde
	h[31] = 0xef

	parsed, err := HashFromHex(h.String())
	require.NoError(t, err)
	require.Equal(t, h, parsed)
}

func TestHashFromHexRejectsWrongLength(t *testing.T) {
	_, err := HashFromHex("abcd")
	require.Error(t, err)
}

func TestHashFromHexRejectsNonHex(t *testing.T) {
	_, err := HashFromHex("zz" + string(make([]byte, 62)))
	require.Error(t, err)
}

func TestMustHashFromHexPanicsOnBadInput(t *testing.T) {
	require.Panics(t, func() { MustHashFromHex("not-hex") })
}

func TestIsZeroDistinguishesZeroHash(t *testing.T) {
	var zero Hash
	require.True(t, zero.IsZero())

	var nonZero Hash
	nonZero[0] = 1
	require.False(t, nonZero.IsZero())
}

func TestOptionalHashBytes32(t *testing.T) {
	require.Equal(t, [32]byte{}, NoHash.Bytes32())

	var h Hash
	h[5] = 9
	present := SomeHash(h)
	require.True(t, present.Valid)
	require.Equal(t, [32]byte(h), present.Bytes32())
}
