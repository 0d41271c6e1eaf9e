package crypto

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/klingecoin/node/pkg/types"
)

func TestHashDeterministic(t *testing.T) {
	a := Hash([]byte("hello"))
	b := Hash([]byte("hello"))
	require.Equal(t, a, b)

	c := Hash([]byte("world"))
	require.NotEqual(t, a, c)
}

func TestDoubleHashIsHashOfHash(t *testing.T) {
	data := []byte("payload")
	first := Hash(data)
	want := Hash(first[:])
	require.Equal(t, want, DoubleHash(data))
}

func TestSignAndVerifyRoundTrip(t *testing.T) {
	priv, err := GenerateKey()
	require.NoError(t, err)

	digest := Hash([]byte("a transaction"))
	sig, err := priv.Sign(digest[:])
	require.NoError(t, err)

	require.True(t, VerifySignature(priv.PublicKey().Bytes(), digest[:], sig))
}

func TestSignIsDeterministic(t *testing.T) {
	priv, err := GenerateKey()
	require.NoError(t, err)

	digest := Hash([]byte("same message"))
	sig1, err := priv.Sign(digest[:])
	require.NoError(t, err)
	sig2, err := priv.Sign(digest[:])
	require.NoError(t, err)

	require.Equal(t, sig1, sig2, "RFC 6979 nonce must make signing deterministic")
}

func TestVerifyRejectsWrongKey(t *testing.T) {
	priv, err := GenerateKey()
	require.NoError(t, err)
	other, err := GenerateKey()
	require.NoError(t, err)

	digest := Hash([]byte("a transaction"))
	sig, err := priv.Sign(digest[:])
	require.NoError(t, err)

	require.False(t, VerifySignature(other.PublicKey().Bytes(), digest[:], sig))
}

func TestVerifyRejectsTamperedDigest(t *testing.T) {
	priv, err := GenerateKey()
	require.NoError(t, err)

	digest := Hash([]byte("a transaction"))
	sig, err := priv.Sign(digest[:])
	require.NoError(t, err)

	tampered := Hash([]byte("a different transaction"))
	require.False(t, VerifySignature(priv.PublicKey().Bytes(), tampered[:], sig))
}

func TestPrivateKeyBytesRoundTrip(t *testing.T) {
	priv, err := GenerateKey()
	require.NoError(t, err)

	restored, err := PrivateKeyFromBytes(priv.Bytes())
	require.NoError(t, err)
	require.Equal(t, priv.PublicKey().Bytes(), restored.PublicKey().Bytes())
}

func TestAddressFromPublicKeyRoundTrip(t *testing.T) {
	priv, err := GenerateKey()
	require.NoError(t, err)

	addr := AddressFromPublicKey(priv.PublicKey().Bytes())
	require.NotEmpty(t, addr)

	version, _, err := DecodeAddress(addr)
	require.NoError(t, err)
	require.Equal(t, byte(0x1c), version)
}

func TestDecodeAddressRejectsBadChecksum(t *testing.T) {
	priv, err := GenerateKey()
	require.NoError(t, err)
	addr := string(AddressFromPublicKey(priv.PublicKey().Bytes()))

	corrupted := []byte(addr)
	corrupted[0] = corrupted[0] + 1
	_, _, err = DecodeAddress(types.Address(corrupted))
	require.Error(t, err)
}
