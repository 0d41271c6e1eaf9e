package wallet

import (
	"github.com/klingecoin/node/internal/gateway"
	"github.com/klingecoin/node/pkg/types"
)

// Wallet is the high-level user-facing facade: identity plus a
// convenience method for submitting data transactions, composed over an
// already-wired Gateway rather than owning mempool/network state itself
// (spec §9 NodeContext wiring: no component owns another that owns it).
type Wallet struct {
	keystore *Keystore
	gw       *gateway.Gateway
}

// New composes a wallet over an existing gateway.
func New(keystore *Keystore, gw *gateway.Gateway) *Wallet {
	return &Wallet{keystore: keystore, gw: gw}
}

// Address returns the wallet's own address.
func (w *Wallet) Address() types.Address {
	return w.keystore.Address()
}

// SendDataTransaction builds, signs, and broadcasts a DataEntry from the
// wallet's own identity (mirrors the original implementation's
// WalletNode.send_data_transaction).
func (w *Wallet) SendDataTransaction(dataType string, value []byte, nonce uint64, metadata map[string]interface{}, timestamp float64) (types.Hash, error) {
	return w.gw.SubmitExternalData(dataType, value, nonce, metadata, timestamp)
}
