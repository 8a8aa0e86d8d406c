// Package origin describes who is submitting an operation and how their
// identity is established.
package origin

import (
	"github.com/storacha/go-ucanto/did"
	"github.com/storacha/go-ucanto/principal"
)

// Origin is the source of an operation as presented by the host.
type Origin interface {
	origin()
}

// None is an origin that carries no identity.
type None struct{}

// Signed is an origin whose identity was already established by the host,
// for example after it verified a transaction envelope.
type Signed struct {
	Issuer did.DID
}

// SignedPayload is an origin carrying an ed25519 signature over Payload by
// the key identified by Issuer (a did:key).
type SignedPayload struct {
	Issuer    did.DID
	Payload   []byte
	Signature []byte
}

// Bearer is an origin carrying an EdDSA signed JWT whose issuer claim is the
// did:key of the signing key.
type Bearer struct {
	Token string
}

func (None) origin()          {}
func (Signed) origin()        {}
func (SignedPayload) origin() {}
func (Bearer) origin()        {}

// Sign creates a SignedPayload origin for the payload.
func Sign(signer principal.Signer, payload []byte) SignedPayload {
	return SignedPayload{
		Issuer:    signer.DID(),
		Payload:   payload,
		Signature: signer.Sign(payload).Raw(),
	}
}
