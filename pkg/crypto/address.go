package crypto

import (
	"crypto/sha256"
	"fmt"

	"github.com/klingecoin/node/pkg/types"
	"github.com/mr-tron/base58"
	"golang.org/x/crypto/ripemd160" //nolint:staticcheck // address scheme requires RIPEMD160, as Bitcoin's does
)

// AddressFromPublicKey derives a Base58Check address from an uncompressed
// SEC1 public key: Base58Check(RIPEMD160(SHA256(pubkey))) with a 1-byte
// version prefix (GLOSSARY "Address").
func AddressFromPublicKey(pubKey []byte) types.Address {
	sha := sha256.Sum256(pubKey)
	r := ripemd160.New()
	r.Write(sha[:])
	pubKeyHash := r.Sum(nil)
	return types.Address(encodeBase58Check(types.AddressVersion, pubKeyHash))
}

// encodeBase58Check prepends the version byte, appends a 4-byte
// double-SHA256 checksum, and Base58-encodes the result.
func encodeBase58Check(version byte, payload []byte) string {
	buf := make([]byte, 0, 1+len(payload)+4)
	buf = append(buf, version)
	buf = append(buf, payload...)
	checksum := DoubleHash(buf)
	buf = append(buf, checksum[:4]...)
	return base58.Encode(buf)
}

// DecodeAddress reverses encodeBase58Check, verifying the checksum and
// returning the 20-byte public key hash.
func DecodeAddress(addr types.Address) (version byte, pubKeyHash []byte, err error) {
	buf, err := base58.Decode(string(addr))
	if err != nil {
		return 0, nil, fmt.Errorf("decode base58: %w", err)
	}
	if len(buf) < 1+types.AddressSize+4 {
		return 0, nil, fmt.Errorf("address too short")
	}
	payload := buf[:len(buf)-4]
	checksum := buf[len(buf)-4:]
	want := DoubleHash(payload)
	for i := 0; i < 4; i++ {
		if checksum[i] != want[i] {
			return 0, nil, fmt.Errorf("bad address checksum")
		}
	}
	return payload[0], payload[1:], nil
}
