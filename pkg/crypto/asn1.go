package crypto

import (
	"crypto/rand"
	"encoding/asn1"
	"fmt"
	"io"
	"math/big"
)

func cryptoRandReader() io.Reader {
	return rand.Reader
}

// ecdsaSignature is the ASN.1 DER structure (r, s) that hex-encoded
// signatures carry on the wire, matching the stdlib's own
// crypto/ecdsa.SignASN1 layout.
type ecdsaSignature struct {
	R, S *big.Int
}

func (s ecdsaSignature) marshal() ([]byte, error) {
	b, err := asn1.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("marshal signature: %w", err)
	}
	return b, nil
}

func unmarshalSignature(b []byte) (ecdsaSignature, error) {
	var sig ecdsaSignature
	rest, err := asn1.Unmarshal(b, &sig)
	if err != nil {
		return ecdsaSignature{}, fmt.Errorf("unmarshal signature: %w", err)
	}
	if len(rest) != 0 {
		return ecdsaSignature{}, fmt.Errorf("trailing data after signature")
	}
	if sig.R == nil || sig.S == nil || sig.R.Sign() <= 0 || sig.S.Sign() <= 0 {
		return ecdsaSignature{}, fmt.Errorf("invalid signature component")
	}
	return sig, nil
}
