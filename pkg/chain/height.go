package chain

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ipfs/go-datastore"
	"github.com/ipld/go-ipld-prime"
	"github.com/ipld/go-ipld-prime/codec/dagcbor"
	"github.com/ipld/go-ipld-prime/node/basicnode"
)

var heightKey = datastore.NewKey("height")

// DsHeight is a block source whose height survives restarts. The height is
// stored as a dag-cbor integer.
type DsHeight struct {
	mutex sync.Mutex
	data  datastore.Datastore
}

var _ Advancer = (*DsHeight)(nil)

func NewDsHeight(ds datastore.Datastore) *DsHeight {
	return &DsHeight{data: ds}
}

func (h *DsHeight) CurrentBlock(ctx context.Context) (BlockNumber, error) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	return h.read(ctx)
}

func (h *DsHeight) Advance(ctx context.Context) (BlockNumber, error) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	n, err := h.read(ctx)
	if err != nil {
		return 0, err
	}
	n++
	if err := h.write(ctx, n); err != nil {
		return 0, err
	}
	return n, nil
}

// Set stores the given height. Heights lower than the stored one are
// accepted so that a follower can apply reverts.
func (h *DsHeight) Set(ctx context.Context, n BlockNumber) error {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	return h.write(ctx, n)
}

func (h *DsHeight) read(ctx context.Context) (BlockNumber, error) {
	b, err := h.data.Get(ctx, heightKey)
	if err != nil {
		if errors.Is(err, datastore.ErrNotFound) {
			return 0, nil
		}
		return 0, fmt.Errorf("reading height: %w", err)
	}
	nd, err := ipld.Decode(b, dagcbor.Decode)
	if err != nil {
		return 0, fmt.Errorf("decoding height: %w", err)
	}
	n, err := nd.AsInt()
	if err != nil {
		return 0, fmt.Errorf("decoding height: %w", err)
	}
	if n < 0 {
		return 0, fmt.Errorf("invalid stored height: %d", n)
	}
	return BlockNumber(n), nil
}

func (h *DsHeight) write(ctx context.Context, n BlockNumber) error {
	b, err := ipld.Encode(basicnode.NewInt(int64(n)), dagcbor.Encode)
	if err != nil {
		return fmt.Errorf("encoding height: %w", err)
	}
	if err := h.data.Put(ctx, heightKey, b); err != nil {
		return fmt.Errorf("writing height: %w", err)
	}
	return nil
}
