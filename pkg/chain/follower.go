package chain

import (
	"context"
	"errors"
	"sync"
	"time"
)

type ChangeType int

const (
	// Current is the first notification sent on a new subscription.
	Current ChangeType = iota
	Apply
	Revert
)

type HeadChange struct {
	Type   ChangeType
	Height BlockNumber
}

// HeadNotifier streams head changes from a host ledger.
type HeadNotifier interface {
	Notify(ctx context.Context) (<-chan []HeadChange, error)
}

type UpdateFunc func(ctx context.Context, revert *BlockNumber, apply BlockNumber) error

// Follower tracks the head of a host ledger and serves it as a [Source].
type Follower struct {
	notifier   HeadNotifier
	retryDelay time.Duration

	mutex     sync.RWMutex
	head      BlockNumber
	synced    bool
	callbacks []UpdateFunc
	started   bool
}

var _ Source = (*Follower)(nil)

var ErrNotSynced = errors.New("follower has not received the current head")

func NewFollower(notifier HeadNotifier) *Follower {
	return &Follower{notifier: notifier, retryDelay: 3 * time.Second}
}

func (f *Follower) AddHandler(fn UpdateFunc) error {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	if f.started {
		return errors.New("cannot add handler after start")
	}
	f.callbacks = append(f.callbacks, fn)
	return nil
}

func (f *Follower) CurrentBlock(context.Context) (BlockNumber, error) {
	f.mutex.RLock()
	defer f.mutex.RUnlock()
	if !f.synced {
		return 0, ErrNotSynced
	}
	return f.head, nil
}

// Run consumes head notifications until the context is canceled.
func (f *Follower) Run(ctx context.Context) {
	f.mutex.Lock()
	f.started = true
	f.mutex.Unlock()

	var (
		notifs <-chan []HeadChange
		err    error
		gotCur bool
	)

	for {
		if notifs == nil {
			notifs, err = f.notifier.Notify(ctx)
			if err != nil {
				log.Errorw("head notify failed, retrying...", "error", err)
				select {
				case <-time.After(f.retryDelay):
				case <-ctx.Done():
					return
				}
				continue
			}
			gotCur = false
			log.Debug("restarting chain follower")
		}

		select {
		case changes, ok := <-notifs:
			if !ok {
				log.Warn("head notification channel closed")
				notifs = nil
				continue
			}

			if !gotCur {
				if len(changes) != 1 || changes[0].Type != Current {
					log.Errorf("expected first notification to carry the current head")
					continue
				}
				f.update(ctx, nil, changes[0].Height)
				gotCur = true
				continue
			}

			var (
				lowest  *BlockNumber
				highest *BlockNumber
			)
			for _, change := range changes {
				h := change.Height
				switch change.Type {
				case Revert:
					lowest = &h
				case Apply:
					highest = &h
				}
			}
			if highest == nil {
				log.Error("no new head in follower update")
				continue
			}
			f.update(ctx, lowest, *highest)

		case <-ctx.Done():
			return
		}
	}
}

func (f *Follower) update(ctx context.Context, revert *BlockNumber, apply BlockNumber) {
	f.mutex.Lock()
	f.head = apply
	f.synced = true
	callbacks := f.callbacks
	f.mutex.Unlock()

	for _, fn := range callbacks {
		if err := fn(ctx, revert, apply); err != nil {
			log.Errorf("handling head update: %+v", err)
		}
	}
}

// Ticker is a HeadNotifier that produces a new block at a fixed interval,
// starting from the height reported by the given source. It is used when
// the node runs without an external ledger.
type Ticker struct {
	interval time.Duration
	start    Source
}

var _ HeadNotifier = (*Ticker)(nil)

func NewTicker(interval time.Duration, start Source) *Ticker {
	return &Ticker{interval: interval, start: start}
}

func (t *Ticker) Notify(ctx context.Context) (<-chan []HeadChange, error) {
	head, err := t.start.CurrentBlock(ctx)
	if err != nil {
		return nil, err
	}

	out := make(chan []HeadChange, 1)
	out <- []HeadChange{{Type: Current, Height: head}}

	go func() {
		defer close(out)
		tick := time.NewTicker(t.interval)
		defer tick.Stop()
		for {
			select {
			case <-tick.C:
				head++
				select {
				case out <- []HeadChange{{Type: Apply, Height: head}}:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
