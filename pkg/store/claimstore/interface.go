package claimstore

import (
	"context"

	"github.com/storacha/poe/pkg/store/claimstore/claim"
)

//go:generate mockgen -destination=../../../internal/mocks/claimstore.go -package=mocks github.com/storacha/poe/pkg/store/claimstore ClaimStore,Batch

// ClaimStore maps claim fingerprints to their current owner and the block at
// which the ownership took effect. There is at most one claim per fingerprint.
type ClaimStore interface {
	// Has returns true when a claim exists for the fingerprint.
	Has(ctx context.Context, fingerprint []byte) (bool, error)
	// Get retrieves the claim for the fingerprint. It returns
	// [store.ErrNotFound] when the fingerprint is unclaimed.
	Get(ctx context.Context, fingerprint []byte) (claim.Claim, error)
	// Put unconditionally writes the claim, replacing any existing entry for
	// the same fingerprint.
	Put(ctx context.Context, c claim.Claim) error
	// Delete removes the claim for the fingerprint. Deleting an unclaimed
	// fingerprint is not an error.
	Delete(ctx context.Context, fingerprint []byte) error
	// Batch starts a set of writes that are applied together on Commit.
	Batch(ctx context.Context) (Batch, error)
	// List returns every stored claim.
	List(ctx context.Context) ([]claim.Claim, error)
}

// Batch stages puts and deletes. Nothing is visible in the store until Commit
// returns without error.
type Batch interface {
	Put(ctx context.Context, c claim.Claim) error
	Delete(ctx context.Context, fingerprint []byte) error
	Commit(ctx context.Context) error
}
