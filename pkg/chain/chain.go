package chain

import (
	"context"
	"sync/atomic"

	logging "github.com/ipfs/go-log/v2"
)

var log = logging.Logger("chain")

// BlockNumber is the height of a block in the host ledger.
type BlockNumber uint64

//go:generate mockgen -destination=../../internal/mocks/chain.go -package=mocks github.com/storacha/poe/pkg/chain Source

// Source provides the number of the block currently being executed.
type Source interface {
	CurrentBlock(ctx context.Context) (BlockNumber, error)
}

// Advancer is a Source whose height can be moved forward by the host, one
// block per call.
type Advancer interface {
	Source
	Advance(ctx context.Context) (BlockNumber, error)
}

// Counter is an in-memory block source. The zero value starts at block 0.
type Counter struct {
	height atomic.Uint64
}

var _ Advancer = (*Counter)(nil)

// NewCounter creates a counter starting at the given block.
func NewCounter(start BlockNumber) *Counter {
	c := &Counter{}
	c.height.Store(uint64(start))
	return c
}

func (c *Counter) CurrentBlock(context.Context) (BlockNumber, error) {
	return BlockNumber(c.height.Load()), nil
}

func (c *Counter) Advance(context.Context) (BlockNumber, error) {
	return BlockNumber(c.height.Add(1)), nil
}

// Set moves the counter to the given block.
func (c *Counter) Set(n BlockNumber) {
	c.height.Store(uint64(n))
}
