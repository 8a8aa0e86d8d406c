package events

import (
	"context"
	"sync"
)

// Bus broadcasts events to subscribers. Zero or more subscribers register
// the kinds they want to be notified of; an empty kind list subscribes to
// everything.
type Bus struct {
	lk   sync.RWMutex
	subs map[chan Event]map[Kind]bool
}

var _ Sink = (*Bus)(nil)

func NewBus() *Bus {
	return &Bus{subs: map[chan Event]map[Kind]bool{}}
}

// Subscribe returns a channel that receives matching events. The channel
// buffers up to size events; events emitted while the buffer is full are
// dropped for that subscriber.
func (b *Bus) Subscribe(size int, kinds ...Kind) <-chan Event {
	ch := make(chan Event, size)
	filter := map[Kind]bool{}
	for _, k := range kinds {
		filter[k] = true
	}
	b.lk.Lock()
	b.subs[ch] = filter
	b.lk.Unlock()
	return ch
}

// Unsubscribe removes the subscription and closes its channel.
func (b *Bus) Unsubscribe(sub <-chan Event) {
	b.lk.Lock()
	defer b.lk.Unlock()
	for ch := range b.subs {
		if ch == sub {
			delete(b.subs, ch)
			close(ch)
			return
		}
	}
}

func (b *Bus) NumSubscribers() int {
	b.lk.RLock()
	defer b.lk.RUnlock()
	return len(b.subs)
}

// Emit never blocks on a subscriber.
func (b *Bus) Emit(_ context.Context, e Event) error {
	b.lk.RLock()
	defer b.lk.RUnlock()
	for ch, filter := range b.subs {
		if len(filter) > 0 && !filter[e.Kind()] {
			continue
		}
		select {
		case ch <- e:
		default:
			log.Warnw("dropping event for slow subscriber", "kind", e.Kind(), "claim", e.Claim())
		}
	}
	return nil
}
