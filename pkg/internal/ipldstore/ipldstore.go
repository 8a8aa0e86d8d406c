package ipldstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/ipfs/go-datastore"
	"github.com/ipfs/go-datastore/query"
	"github.com/ipld/go-ipld-prime/node/bindnode"
	"github.com/ipld/go-ipld-prime/schema"
	"github.com/storacha/go-ucanto/core/ipld/codec/cbor"
	"github.com/storacha/poe/pkg/store"
)

// KVStore stores IPLD schema typed values in a datastore.
type KVStore[K fmt.Stringer, V any] interface {
	Get(ctx context.Context, key K) (V, error)
	Put(ctx context.Context, key K, value V) error
	// Query returns the values of all entries whose keys match the query,
	// in the order given by the query.
	Query(ctx context.Context, q query.Query) ([]V, error)
}

type ipldStore[K fmt.Stringer, V any] struct {
	ds   datastore.Datastore
	typ  schema.Type
	opts []bindnode.Option
}

func (i *ipldStore[K, V]) Get(ctx context.Context, key K) (V, error) {
	var zeroV V
	data, err := i.ds.Get(ctx, datastore.NewKey(key.String()))
	if err != nil {
		if errors.Is(err, datastore.ErrNotFound) {
			return zeroV, store.ErrNotFound
		}
		return zeroV, err
	}
	return i.decode(data)
}

func (i *ipldStore[K, V]) Put(ctx context.Context, key K, value V) error {
	data, err := cbor.Encode(&value, i.typ, i.opts...)
	if err != nil {
		return err
	}
	return i.ds.Put(ctx, datastore.NewKey(key.String()), data)
}

func (i *ipldStore[K, V]) Query(ctx context.Context, q query.Query) ([]V, error) {
	results, err := i.ds.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("querying datastore: %w", err)
	}
	defer results.Close()

	var values []V
	for entry := range results.Next() {
		if entry.Error != nil {
			return nil, fmt.Errorf("iterating query results: %w", entry.Error)
		}
		v, err := i.decode(entry.Value)
		if err != nil {
			return nil, fmt.Errorf("decoding %s: %w", entry.Key, err)
		}
		values = append(values, v)
	}
	return values, nil
}

func (i *ipldStore[K, V]) decode(data []byte) (V, error) {
	var zeroV V
	var v V
	err := cbor.Decode(data, &v, i.typ, i.opts...)
	if err != nil {
		return zeroV, err
	}
	return v, nil
}

func IPLDStore[K fmt.Stringer, V any](ds datastore.Datastore, typ schema.Type, opts ...bindnode.Option) KVStore[K, V] {
	return &ipldStore[K, V]{
		ds:   ds,
		typ:  typ,
		opts: opts,
	}
}
