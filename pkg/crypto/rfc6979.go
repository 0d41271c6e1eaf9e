package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"math/big"
)

// rfc6979Nonce derives the deterministic per-signature nonce k described in
// RFC 6979 §3.2, specialised to SHA-256 and the curve order n. hash is the
// 32-byte message digest being signed; priv is the private scalar.
//
// Deterministic k removes the ECDSA failure mode where a reused or
// poorly-random nonce leaks the private key (as happened to several
// Bitcoin wallets historically) — spec §4.4 requires it explicitly.
func rfc6979Nonce(n, priv *big.Int, hash []byte) *big.Int {
	qlen := n.BitLen()
	rolen := (qlen + 7) / 8

	bits2int := func(b []byte) *big.Int {
		x := new(big.Int).SetBytes(b)
		excess := len(b)*8 - qlen
		if excess > 0 {
			x.Rsh(x, uint(excess))
		}
		return x
	}
	bits2octets := func(b []byte) []byte {
		z1 := bits2int(b)
		z2 := new(big.Int).Mod(z1, n)
		if z2.Sign() < 0 {
			z2.Add(z2, n)
		}
		return int2octets(z2, rolen)
	}

	privBytes := int2octets(priv, rolen)
	h1 := bits2octets(hash)

	v := make([]byte, 32)
	for i := range v {
		v[i] = 0x01
	}
	k := make([]byte, 32)

	mac := hmac.New(sha256.New, k)
	mac.Write(v)
	mac.Write([]byte{0x00})
	mac.Write(privBytes)
	mac.Write(h1)
	k = mac.Sum(nil)

	mac = hmac.New(sha256.New, k)
	mac.Write(v)
	v = mac.Sum(nil)

	mac = hmac.New(sha256.New, k)
	mac.Write(v)
	mac.Write([]byte{0x01})
	mac.Write(privBytes)
	mac.Write(h1)
	k = mac.Sum(nil)

	mac = hmac.New(sha256.New, k)
	mac.Write(v)
	v = mac.Sum(nil)

	for {
		var t []byte
		for len(t) < rolen {
			mac = hmac.New(sha256.New, k)
			mac.Write(v)
			v = mac.Sum(nil)
			t = append(t, v...)
		}

		candidate := bits2int(t)
		if candidate.Sign() > 0 && candidate.Cmp(n) < 0 {
			return candidate
		}

		mac = hmac.New(sha256.New, k)
		mac.Write(v)
		mac.Write([]byte{0x00})
		k = mac.Sum(nil)

		mac = hmac.New(sha256.New, k)
		mac.Write(v)
		v = mac.Sum(nil)
	}
}

func int2octets(x *big.Int, rolen int) []byte {
	out := x.Bytes()
	if len(out) < rolen {
		padded := make([]byte, rolen)
		copy(padded[rolen-len(out):], out)
		return padded
	}
	if len(out) > rolen {
		return out[len(out)-rolen:]
	}
	return out
}
