package claimstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/ipfs/go-datastore"
	"github.com/ipfs/go-datastore/query"
	"github.com/ipld/go-ipld-prime/codec/dagcbor"
	"github.com/storacha/poe/pkg/internal/digestutil"
	"github.com/storacha/poe/pkg/store"
	"github.com/storacha/poe/pkg/store/claimstore/claim"
)

type options struct {
	hasher KeyHasher
}

type Option func(*options) error

// WithKeyHasher sets the function used to derive storage keys from claim
// fingerprints. The default is [Blake2b128].
func WithKeyHasher(h KeyHasher) Option {
	return func(o *options) error {
		if h == nil {
			return errors.New("key hasher cannot be nil")
		}
		o.hasher = h
		return nil
	}
}

type DsClaimStore struct {
	data   datastore.Batching
	hasher KeyHasher
}

var _ ClaimStore = (*DsClaimStore)(nil)

// NewDsClaimStore creates a [ClaimStore] backed by an IPFS datastore.
func NewDsClaimStore(ds datastore.Batching, opts ...Option) (*DsClaimStore, error) {
	o := &options{hasher: Blake2b128}
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, err
		}
	}
	return &DsClaimStore{data: ds, hasher: o.hasher}, nil
}

func (d *DsClaimStore) Has(ctx context.Context, fingerprint []byte) (bool, error) {
	k, err := d.encodeKey(fingerprint)
	if err != nil {
		return false, err
	}
	has, err := d.data.Has(ctx, k)
	if err != nil {
		return false, fmt.Errorf("checking datastore: %w", err)
	}
	return has, nil
}

func (d *DsClaimStore) Get(ctx context.Context, fingerprint []byte) (claim.Claim, error) {
	k, err := d.encodeKey(fingerprint)
	if err != nil {
		return claim.Claim{}, err
	}
	b, err := d.data.Get(ctx, k)
	if err != nil {
		if errors.Is(err, datastore.ErrNotFound) {
			return claim.Claim{}, store.ErrNotFound
		}
		return claim.Claim{}, fmt.Errorf("reading from datastore: %w", err)
	}
	c, err := claim.Decode(b, dagcbor.Decode)
	if err != nil {
		return claim.Claim{}, fmt.Errorf("decoding data: %w", err)
	}
	return c, nil
}

func (d *DsClaimStore) Put(ctx context.Context, c claim.Claim) error {
	k, b, err := d.encodeEntry(c)
	if err != nil {
		return err
	}
	err = d.data.Put(ctx, k, b)
	if err != nil {
		return fmt.Errorf("writing to datastore: %w", err)
	}
	return nil
}

func (d *DsClaimStore) Delete(ctx context.Context, fingerprint []byte) error {
	k, err := d.encodeKey(fingerprint)
	if err != nil {
		return err
	}
	err = d.data.Delete(ctx, k)
	if err != nil && !errors.Is(err, datastore.ErrNotFound) {
		return fmt.Errorf("deleting from datastore: %w", err)
	}
	return nil
}

func (d *DsClaimStore) Batch(ctx context.Context) (Batch, error) {
	b, err := d.data.Batch(ctx)
	if err != nil {
		return nil, fmt.Errorf("creating datastore batch: %w", err)
	}
	return &dsBatch{store: d, batch: b}, nil
}

func (d *DsClaimStore) List(ctx context.Context) ([]claim.Claim, error) {
	results, err := d.data.Query(ctx, query.Query{})
	if err != nil {
		return nil, fmt.Errorf("querying datastore: %w", err)
	}
	defer results.Close()

	var claims []claim.Claim
	for entry := range results.Next() {
		if entry.Error != nil {
			return nil, fmt.Errorf("iterating query results: %w", entry.Error)
		}
		c, err := claim.Decode(entry.Value, dagcbor.Decode)
		if err != nil {
			return nil, fmt.Errorf("decoding data: %w", err)
		}
		claims = append(claims, c)
	}
	return claims, nil
}

func (d *DsClaimStore) encodeKey(fingerprint []byte) (datastore.Key, error) {
	digest, err := d.hasher(fingerprint)
	if err != nil {
		return datastore.Key{}, fmt.Errorf("hashing fingerprint: %w", err)
	}
	return datastore.NewKey(digestutil.Format(digest)), nil
}

func (d *DsClaimStore) encodeEntry(c claim.Claim) (datastore.Key, []byte, error) {
	k, err := d.encodeKey(c.Fingerprint)
	if err != nil {
		return datastore.Key{}, nil, err
	}
	b, err := claim.Encode(c, dagcbor.Encode)
	if err != nil {
		return datastore.Key{}, nil, fmt.Errorf("encoding data: %w", err)
	}
	return k, b, nil
}

type dsBatch struct {
	store *DsClaimStore
	batch datastore.Batch
}

func (b *dsBatch) Put(ctx context.Context, c claim.Claim) error {
	k, v, err := b.store.encodeEntry(c)
	if err != nil {
		return err
	}
	if err := b.batch.Put(ctx, k, v); err != nil {
		return fmt.Errorf("staging write: %w", err)
	}
	return nil
}

func (b *dsBatch) Delete(ctx context.Context, fingerprint []byte) error {
	k, err := b.store.encodeKey(fingerprint)
	if err != nil {
		return err
	}
	if err := b.batch.Delete(ctx, k); err != nil {
		return fmt.Errorf("staging delete: %w", err)
	}
	return nil
}

func (b *dsBatch) Commit(ctx context.Context) error {
	if err := b.batch.Commit(ctx); err != nil {
		return fmt.Errorf("committing batch: %w", err)
	}
	return nil
}
