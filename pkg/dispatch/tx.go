package dispatch

import (
	"encoding/json"
	"fmt"

	"github.com/storacha/go-ucanto/principal"
)

type Op string

const (
	OpCreate   Op = "create"
	OpRevoke   Op = "revoke"
	OpTransfer Op = "transfer"
)

// Tx is a registry operation submitted to the host.
type Tx struct {
	Op    Op     `json:"op"`
	Claim []byte `json:"claim"`
	// Dest is the destination descriptor of a transfer.
	Dest string `json:"dest,omitempty"`
	// Nonce distinguishes otherwise identical transactions from the same
	// issuer.
	Nonce uint64 `json:"nonce"`
}

// SignedTx is the envelope a transaction is submitted in. Signature is an
// ed25519 signature over Tx by the key of Issuer.
type SignedTx struct {
	Issuer    string `json:"issuer"`
	Tx        []byte `json:"tx"`
	Signature []byte `json:"signature"`
}

// Sign encodes the transaction and wraps it in a signed envelope.
func Sign(signer principal.Signer, tx Tx) ([]byte, error) {
	inner, err := json.Marshal(tx)
	if err != nil {
		return nil, fmt.Errorf("encoding tx: %w", err)
	}
	stx := SignedTx{
		Issuer:    signer.DID().String(),
		Tx:        inner,
		Signature: signer.Sign(inner).Raw(),
	}
	b, err := json.Marshal(stx)
	if err != nil {
		return nil, fmt.Errorf("encoding signed tx: %w", err)
	}
	return b, nil
}
