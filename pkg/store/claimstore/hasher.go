package claimstore

import (
	"fmt"

	"github.com/multiformats/go-multihash"
	_ "github.com/multiformats/go-multihash/register/blake2"
)

// KeyHasher derives the storage key digest for a claim fingerprint. It must
// be collision resistant since the fingerprint is chosen by the caller.
type KeyHasher func(fingerprint []byte) (multihash.Multihash, error)

const (
	HashBlake2b128 = "blake2b-128"
	HashSha256     = "sha2-256"
)

// Blake2b128 is the default key hasher.
func Blake2b128(fingerprint []byte) (multihash.Multihash, error) {
	return multihash.Sum(fingerprint, multihash.BLAKE2B_MIN+15, -1)
}

func Sha256(fingerprint []byte) (multihash.Multihash, error) {
	return multihash.Sum(fingerprint, multihash.SHA2_256, -1)
}

// HasherByName returns the key hasher registered under the given name.
func HasherByName(name string) (KeyHasher, error) {
	switch name {
	case "", HashBlake2b128:
		return Blake2b128, nil
	case HashSha256:
		return Sha256, nil
	}
	return nil, fmt.Errorf("unknown key hash function: %s", name)
}
