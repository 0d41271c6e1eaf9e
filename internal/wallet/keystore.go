// Package wallet implements the WALLET role (spec §6): a local keystore
// plus a thin convenience wrapper over the gateway contract for
// high-level callers, supplementing spec.md's gateway-only description
// with the key-management surface the original implementation's
// WalletNode/WalletManager split out.
package wallet

import (
	"fmt"
	"os"

	"github.com/klingecoin/node/pkg/crypto"
	"github.com/klingecoin/node/pkg/types"
)

// Keystore holds a single node identity: a private key and its derived
// address, persisted to a single file on disk.
type Keystore struct {
	priv *crypto.PrivateKey
	addr types.Address
}

// EnsureKeyExists loads the private key at path, generating and
// persisting a new one if the file does not exist (mirrors the original
// implementation's KeyPersistence.ensure_key_exists).
func EnsureKeyExists(path string) (*Keystore, error) {
	if data, err := os.ReadFile(path); err == nil {
		priv, err := crypto.PrivateKeyFromBytes(data)
		if err != nil {
			return nil, fmt.Errorf("wallet: decode key file %s: %w", path, err)
		}
		return fromPrivateKey(priv), nil
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("wallet: read key file %s: %w", path, err)
	}

	priv, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("wallet: generate key: %w", err)
	}
	if err := os.WriteFile(path, priv.Bytes(), 0o600); err != nil {
		return nil, fmt.Errorf("wallet: write key file %s: %w", path, err)
	}
	return fromPrivateKey(priv), nil
}

func fromPrivateKey(priv *crypto.PrivateKey) *Keystore {
	addr := crypto.AddressFromPublicKey(priv.PublicKey().Bytes())
	return &Keystore{priv: priv, addr: addr}
}

// Address returns the keystore's derived address.
func (k *Keystore) Address() types.Address { return k.addr }

// PrivateKey returns the underlying signing key, for components (the
// gateway) that sign transactions.
func (k *Keystore) PrivateKey() *crypto.PrivateKey { return k.priv }

// PublicKeyBytes returns the SEC1-encoded public key, the form the
// consensus engine's key directory stores.
func (k *Keystore) PublicKeyBytes() []byte { return k.priv.PublicKey().Bytes() }
