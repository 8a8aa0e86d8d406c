package testutil

import (
	crand "crypto/rand"

	mh "github.com/multiformats/go-multihash"
	"github.com/storacha/go-ucanto/did"
	"github.com/storacha/go-ucanto/principal"
	"github.com/storacha/go-ucanto/principal/ed25519/signer"
)

func RandomBytes(size int) []byte {
	bytes := make([]byte, size)
	_, _ = crand.Read(bytes)
	return bytes
}

// RandomFingerprint returns a claim fingerprint of the given length.
func RandomFingerprint(size int) []byte {
	return RandomBytes(size)
}

func RandomMultihash() mh.Multihash {
	digest, _ := mh.Sum(RandomBytes(10), mh.SHA2_256, -1)
	return digest
}

func RandomSigner() principal.Signer {
	s, _ := signer.Generate()
	return s
}

func RandomDID() did.DID {
	return RandomSigner().DID()
}
