package origin

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/storacha/go-ucanto/did"
	"github.com/storacha/go-ucanto/principal"
	"github.com/storacha/go-ucanto/principal/ed25519/verifier"
)

// ErrUnauthenticated is returned when an origin does not establish an
// identity.
var ErrUnauthenticated = errors.New("unauthenticated")

// Authenticator establishes the identity behind an origin.
type Authenticator interface {
	Authenticate(ctx context.Context, o Origin) (did.DID, error)
}

type options struct {
	trustSigned bool
	audience    string
}

type Option func(*options)

// WithTrustSigned controls whether [Signed] origins are accepted. They are
// accepted by default since the host has already authenticated them.
func WithTrustSigned(trust bool) Option {
	return func(o *options) {
		o.trustSigned = trust
	}
}

// WithAudience requires bearer tokens to be addressed to the given audience,
// usually the DID of the node.
func WithAudience(aud did.DID) Option {
	return func(o *options) {
		o.audience = aud.String()
	}
}

// KeyAuthenticator authenticates origins using ed25519 did:key identities.
type KeyAuthenticator struct {
	trustSigned bool
	audience    string
}

var _ Authenticator = (*KeyAuthenticator)(nil)

func NewAuthenticator(opts ...Option) *KeyAuthenticator {
	o := &options{trustSigned: true}
	for _, opt := range opts {
		opt(o)
	}
	return &KeyAuthenticator{trustSigned: o.trustSigned, audience: o.audience}
}

func (a *KeyAuthenticator) Authenticate(ctx context.Context, o Origin) (did.DID, error) {
	switch o := o.(type) {
	case Signed:
		if !a.trustSigned {
			return did.Undef, fmt.Errorf("%w: host signed origins are not accepted", ErrUnauthenticated)
		}
		if o.Issuer == did.Undef {
			return did.Undef, fmt.Errorf("%w: missing issuer", ErrUnauthenticated)
		}
		return o.Issuer, nil
	case SignedPayload:
		return verifyPayload(o)
	case Bearer:
		return a.verifyToken(o.Token)
	case nil, None:
		return did.Undef, ErrUnauthenticated
	}
	return did.Undef, fmt.Errorf("%w: unsupported origin %T", ErrUnauthenticated, o)
}

func verifyPayload(o SignedPayload) (did.DID, error) {
	pub, err := publicKey(o.Issuer)
	if err != nil {
		return did.Undef, err
	}
	pk, err := crypto.UnmarshalEd25519PublicKey(pub)
	if err != nil {
		return did.Undef, fmt.Errorf("%w: unmarshaling public key: %s", ErrUnauthenticated, err)
	}
	ok, err := pk.Verify(o.Payload, o.Signature)
	if err != nil {
		return did.Undef, fmt.Errorf("%w: verifying signature: %s", ErrUnauthenticated, err)
	}
	if !ok {
		return did.Undef, fmt.Errorf("%w: invalid signature", ErrUnauthenticated)
	}
	return o.Issuer, nil
}

func (a *KeyAuthenticator) verifyToken(token string) (did.DID, error) {
	var issuer did.DID
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		id, err := did.Parse(claims.Issuer)
		if err != nil {
			return nil, fmt.Errorf("parsing issuer: %w", err)
		}
		pub, err := publicKey(id)
		if err != nil {
			return nil, err
		}
		issuer = id
		return ed25519.PublicKey(pub), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodEdDSA.Alg()}))
	if err != nil {
		return did.Undef, fmt.Errorf("%w: %s", ErrUnauthenticated, err)
	}
	if a.audience != "" && !claims.VerifyAudience(a.audience, true) {
		return did.Undef, fmt.Errorf("%w: token not addressed to %s", ErrUnauthenticated, a.audience)
	}
	return issuer, nil
}

func publicKey(id did.DID) ([]byte, error) {
	if id == did.Undef {
		return nil, fmt.Errorf("%w: missing issuer", ErrUnauthenticated)
	}
	vfr, err := verifier.Decode(id.Bytes())
	if err != nil {
		return nil, fmt.Errorf("%w: issuer is not an ed25519 did:key: %s", ErrUnauthenticated, err)
	}
	return vfr.Raw(), nil
}

// NewBearerToken creates a signed JWT identifying the signer. An empty
// audience leaves the aud claim unset.
func NewBearerToken(id principal.Signer, audience string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Issuer:    id.DID().String(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	if audience != "" {
		claims.Audience = jwt.ClaimStrings{audience}
	}

	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	tokenString, err := token.SignedString(ed25519.PrivateKey(id.Raw()))
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return tokenString, nil
}
