// Package registry records which identity owns a content fingerprint.
//
// A fingerprint is claimed by at most one identity at a time. The owner may
// revoke the claim or transfer it to another identity. Every operation either
// validates all of its preconditions and commits exactly one change, followed
// by exactly one event, or fails without changing anything.
package registry

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"

	logging "github.com/ipfs/go-log/v2"
	"github.com/storacha/go-ucanto/did"
	"github.com/storacha/poe/pkg/chain"
	"github.com/storacha/poe/pkg/events"
	"github.com/storacha/poe/pkg/origin"
	"github.com/storacha/poe/pkg/resolver"
	"github.com/storacha/poe/pkg/store"
	"github.com/storacha/poe/pkg/store/claimstore"
	"github.com/storacha/poe/pkg/store/claimstore/claim"
)

var log = logging.Logger("registry")

type Registry struct {
	mutex    sync.Mutex
	claims   claimstore.ClaimStore
	config   Config
	auth     origin.Authenticator
	blocks   chain.Source
	resolver resolver.Resolver
	sink     events.Sink
}

// New creates a registry over the claim store. Without options it accepts
// fingerprints of any length, authenticates did:key origins, resolves
// destinations as raw DIDs, reads block numbers from an in-memory counter
// and discards events.
func New(claims claimstore.ClaimStore, opts ...Option) (*Registry, error) {
	if claims == nil {
		return nil, errors.New("claim store is required")
	}
	o := &options{}
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, err
		}
	}
	if o.auth == nil {
		o.auth = origin.NewAuthenticator()
	}
	if o.blocks == nil {
		o.blocks = &chain.Counter{}
	}
	if o.resolver == nil {
		o.resolver = resolver.Direct{}
	}
	if o.sink == nil {
		o.sink = events.Discard
	}
	return &Registry{
		claims:   claims,
		config:   o.config,
		auth:     o.auth,
		blocks:   o.blocks,
		resolver: o.resolver,
		sink:     o.sink,
	}, nil
}

func (r *Registry) Config() Config {
	return r.config
}

// CreateClaim authenticates the origin and registers the fingerprint to it.
func (r *Registry) CreateClaim(ctx context.Context, o origin.Origin, fingerprint []byte) error {
	caller, err := r.authenticate(ctx, o)
	if err != nil {
		return err
	}
	_, err = r.Create(ctx, caller, fingerprint)
	return err
}

// RevokeClaim authenticates the origin and removes its claim on the
// fingerprint.
func (r *Registry) RevokeClaim(ctx context.Context, o origin.Origin, fingerprint []byte) error {
	caller, err := r.authenticate(ctx, o)
	if err != nil {
		return err
	}
	return r.Revoke(ctx, caller, fingerprint)
}

// TransferClaim authenticates the origin and moves its claim on the
// fingerprint to the resolved destination.
func (r *Registry) TransferClaim(ctx context.Context, o origin.Origin, fingerprint []byte, dest resolver.Destination) error {
	caller, err := r.authenticate(ctx, o)
	if err != nil {
		return err
	}
	_, err = r.Transfer(ctx, caller, fingerprint, dest)
	return err
}

// Create registers the fingerprint to an already authenticated caller and
// returns the stored claim.
func (r *Registry) Create(ctx context.Context, caller did.DID, fingerprint []byte) (claim.Claim, error) {
	if err := r.validate(fingerprint); err != nil {
		return claim.Claim{}, err
	}
	if max := r.config.MaxClaimLength; max > 0 && len(fingerprint) > max {
		return claim.Claim{}, NewClaimTooLargeError(fingerprint, max)
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	exists, err := r.claims.Has(ctx, fingerprint)
	if err != nil {
		return claim.Claim{}, fmt.Errorf("checking claim: %w", err)
	}
	if exists {
		return claim.Claim{}, NewClaimAlreadyExistsError(fingerprint)
	}

	block, err := r.blocks.CurrentBlock(ctx)
	if err != nil {
		return claim.Claim{}, fmt.Errorf("getting current block: %w", err)
	}

	c := claim.Claim{Fingerprint: fingerprint, Owner: caller, RegisteredAt: block}
	if err := r.claims.Put(ctx, c); err != nil {
		return claim.Claim{}, fmt.Errorf("storing claim: %w", err)
	}
	log.Debugw("created claim", "owner", caller, "claim", fingerprint, "block", block)

	r.emit(ctx, events.ClaimCreated{Owner: caller, Fingerprint: fingerprint})
	return c, nil
}

// Revoke removes the caller's claim on the fingerprint.
func (r *Registry) Revoke(ctx context.Context, caller did.DID, fingerprint []byte) error {
	if err := r.validate(fingerprint); err != nil {
		return err
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	if _, err := r.owned(ctx, caller, fingerprint); err != nil {
		return err
	}

	if err := r.claims.Delete(ctx, fingerprint); err != nil {
		return fmt.Errorf("removing claim: %w", err)
	}
	log.Debugw("revoked claim", "owner", caller, "claim", fingerprint)

	r.emit(ctx, events.ClaimRevoked{Owner: caller, Fingerprint: fingerprint})
	return nil
}

// Transfer moves the caller's claim on the fingerprint to the resolved
// destination and returns the stored claim. The registration block is reset
// to the current block.
func (r *Registry) Transfer(ctx context.Context, caller did.DID, fingerprint []byte, dest resolver.Destination) (claim.Claim, error) {
	if err := r.validate(fingerprint); err != nil {
		return claim.Claim{}, err
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	if _, err := r.owned(ctx, caller, fingerprint); err != nil {
		return claim.Claim{}, err
	}

	to, err := r.resolver.Resolve(ctx, dest)
	if err != nil {
		if errors.Is(err, ErrInvalidDestination) {
			return claim.Claim{}, NewInvalidDestinationError(fingerprint, err)
		}
		return claim.Claim{}, fmt.Errorf("resolving destination: %w", err)
	}

	block, err := r.blocks.CurrentBlock(ctx)
	if err != nil {
		return claim.Claim{}, fmt.Errorf("getting current block: %w", err)
	}

	batch, err := r.claims.Batch(ctx)
	if err != nil {
		return claim.Claim{}, fmt.Errorf("starting transfer: %w", err)
	}
	if err := batch.Delete(ctx, fingerprint); err != nil {
		return claim.Claim{}, fmt.Errorf("removing claim: %w", err)
	}
	c := claim.Claim{Fingerprint: fingerprint, Owner: to, RegisteredAt: block}
	if err := batch.Put(ctx, c); err != nil {
		return claim.Claim{}, fmt.Errorf("storing claim: %w", err)
	}
	if err := batch.Commit(ctx); err != nil {
		return claim.Claim{}, fmt.Errorf("committing transfer: %w", err)
	}
	log.Debugw("transferred claim", "from", caller, "to", to, "claim", fingerprint, "block", block)

	r.emit(ctx, events.ClaimTransferred{From: caller, To: to, Fingerprint: fingerprint})
	return c, nil
}

// Claim returns the current claim on the fingerprint.
func (r *Registry) Claim(ctx context.Context, fingerprint []byte) (claim.Claim, error) {
	if err := r.validate(fingerprint); err != nil {
		return claim.Claim{}, err
	}
	c, err := r.claims.Get(ctx, fingerprint)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return claim.Claim{}, NewClaimNotFoundError(fingerprint)
		}
		return claim.Claim{}, fmt.Errorf("getting claim: %w", err)
	}
	return c, nil
}

// Claims returns every live claim.
func (r *Registry) Claims(ctx context.Context) ([]claim.Claim, error) {
	return r.claims.List(ctx)
}

func (r *Registry) authenticate(ctx context.Context, o origin.Origin) (did.DID, error) {
	caller, err := r.auth.Authenticate(ctx, o)
	if err != nil {
		return did.Undef, NewUnauthenticatedError(err)
	}
	return caller, nil
}

func (r *Registry) validate(fingerprint []byte) error {
	if len(fingerprint) == 0 {
		return NewEmptyClaimError()
	}
	return nil
}

// owned returns the claim on the fingerprint if it is held by the caller.
func (r *Registry) owned(ctx context.Context, caller did.DID, fingerprint []byte) (claim.Claim, error) {
	c, err := r.claims.Get(ctx, fingerprint)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return claim.Claim{}, NewClaimNotFoundError(fingerprint)
		}
		return claim.Claim{}, fmt.Errorf("getting claim: %w", err)
	}
	if c.Owner != caller {
		return claim.Claim{}, NewNotClaimOwnerError(fingerprint)
	}
	if !bytes.Equal(c.Fingerprint, fingerprint) {
		log.Errorw("stored claim does not match its key", "claim", fingerprint, "stored", c.Fingerprint)
		return claim.Claim{}, fmt.Errorf("stored claim does not match fingerprint 0x%x", fingerprint)
	}
	return c, nil
}

// emit is called with the mutex held so sinks observe events in commit
// order. Sink failures do not undo a committed operation.
func (r *Registry) emit(ctx context.Context, e events.Event) {
	if err := r.sink.Emit(ctx, e); err != nil {
		log.Errorw("emitting event", "kind", e.Kind(), "claim", e.Claim(), "error", err)
	}
}
