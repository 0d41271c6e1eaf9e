// Package gateway implements the core's external ingress contract (spec
// §4.9): wrapping caller-supplied data into a signed transaction, or
// accepting an already-signed one, then validating and admitting it to
// the mempool and gossip layer.
package gateway

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/klingecoin/node/internal/mempool"
	"github.com/klingecoin/node/internal/validate"
	"github.com/klingecoin/node/pkg/crypto"
	"github.com/klingecoin/node/pkg/serialization"
	"github.com/klingecoin/node/pkg/types"
)

// Application errors (spec §7 "Application errors (gateway)").
var (
	ErrBadBase64       = errors.New("gateway: value is not valid base64")
	ErrUnknownSigner   = errors.New("gateway: no public key registered for source")
	ErrRejectedByPool  = errors.New("gateway: transaction rejected by mempool")
)

// KeyLookup resolves the public key bound to a source address, used to
// verify pre-signed submissions against the node's key directory.
type KeyLookup interface {
	LookupKey(addr types.Address) ([]byte, bool)
}

// Announcer gossips a newly admitted transaction (spec §4.9 "enqueues an
// inv gossip").
type Announcer interface {
	AnnounceTx(hash types.Hash)
}

// Gateway is the core's external-ingress facade.
type Gateway struct {
	nodeAddress types.Address
	privateKey  *crypto.PrivateKey
	pool        *mempool.Pool
	keys        KeyLookup
	announce    Announcer
	log         zerolog.Logger
}

// New creates a gateway that signs submit_external_data transactions as
// nodeAddress using privateKey.
func New(nodeAddress types.Address, privateKey *crypto.PrivateKey, pool *mempool.Pool, keys KeyLookup, announce Announcer, log zerolog.Logger) *Gateway {
	return &Gateway{
		nodeAddress: nodeAddress,
		privateKey:  privateKey,
		pool:        pool,
		keys:        keys,
		announce:    announce,
		log:         log,
	}
}

// SubmitExternalData wraps value in a DataEntry bound to the node's own
// address, signs it, validates, admits it to the mempool, and gossips it
// (spec §4.9 submit_external_data).
func (g *Gateway) SubmitExternalData(dataType string, value []byte, nonce uint64, metadata map[string]interface{}, timestamp float64) (types.Hash, error) {
	entry := types.DataEntry{
		SourceID:  g.nodeAddress,
		DataType:  dataType,
		Value:     value,
		Timestamp: timestamp,
		Nonce:     nonce,
		Metadata:  metadata,
	}
	if entry.Metadata == nil {
		entry.Metadata = map[string]interface{}{}
	}

	encoded, err := serialization.EncodeDataEntry(&entry)
	if err != nil {
		return types.Hash{}, fmt.Errorf("gateway: encode entry: %w", err)
	}
	entry.DataHash = crypto.Hash(encoded)

	tx := types.Transaction{Entries: []types.DataEntry{entry}, Timestamp: timestamp}
	tx.TxHash = crypto.Hash(serialization.EncodeTransactionHeader(&tx))

	sig, err := g.privateKey.Sign(crypto.Hash(tx.TxHash[:])[:])
	if err != nil {
		return types.Hash{}, fmt.Errorf("gateway: sign transaction: %w", err)
	}
	tx.Signature = sig

	return g.admit(tx)
}

// SubmitSignedTransaction deserializes a pre-signed transaction dict,
// validates its integrity and signature against the key directory, and
// admits it (spec §4.9 submit_signed_transaction).
func (g *Gateway) SubmitSignedTransaction(dict serialization.TransactionDict) (types.Hash, error) {
	tx, err := serialization.TxFromDict(dict)
	if err != nil {
		return types.Hash{}, fmt.Errorf("gateway: decode transaction: %w", err)
	}

	if err := validate.Transaction(&tx); err != nil {
		return types.Hash{}, err
	}

	if tx.Signature != nil && !tx.IsCoinbase() {
		source := tx.Entries[0].SourceID
		pubKey, ok := g.keys.LookupKey(source)
		if !ok {
			return types.Hash{}, fmt.Errorf("%w: %s", ErrUnknownSigner, source)
		}
		if !validate.TransactionSignature(pubKey, tx.TxHash, tx.Signature) {
			return types.Hash{}, fmt.Errorf("gateway: %w", validate.ErrBadSignature)
		}
	}

	return g.admit(tx)
}

func (g *Gateway) admit(tx types.Transaction) (types.Hash, error) {
	switch outcome := g.pool.Add(tx); outcome {
	case mempool.Accepted:
		if g.announce != nil {
			g.announce.AnnounceTx(tx.TxHash)
		}
		return tx.TxHash, nil
	case mempool.Duplicate:
		return tx.TxHash, nil
	default:
		return types.Hash{}, ErrRejectedByPool
	}
}
