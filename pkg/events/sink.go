package events

import (
	"context"
	"sync"

	"github.com/hashicorp/go-multierror"
	logging "github.com/ipfs/go-log/v2"
)

var log = logging.Logger("events")

// Recorder keeps every event it receives in memory.
type Recorder struct {
	mutex  sync.Mutex
	events []Event
}

var _ Sink = (*Recorder)(nil)

func (r *Recorder) Emit(_ context.Context, e Event) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.events = append(r.events, e)
	return nil
}

// Events returns the recorded events in the order they were emitted.
func (r *Recorder) Events() []Event {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return append([]Event(nil), r.events...)
}

func (r *Recorder) Reset() {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.events = nil
}

// Multi fans an event out to several sinks. Every sink is called even when
// an earlier one fails.
func Multi(sinks ...Sink) Sink {
	return SinkFunc(func(ctx context.Context, e Event) error {
		var errs error
		for _, s := range sinks {
			if err := s.Emit(ctx, e); err != nil {
				errs = multierror.Append(errs, err)
			}
		}
		return errs
	})
}

// Logger writes events to the events logger.
var Logger Sink = SinkFunc(func(_ context.Context, e Event) error {
	switch e := e.(type) {
	case ClaimCreated:
		log.Infow("claim created", "owner", e.Owner, "claim", e.Fingerprint)
	case ClaimRevoked:
		log.Infow("claim revoked", "owner", e.Owner, "claim", e.Fingerprint)
	case ClaimTransferred:
		log.Infow("claim transferred", "from", e.From, "to", e.To, "claim", e.Fingerprint)
	default:
		log.Infow("event", "kind", e.Kind(), "claim", e.Claim())
	}
	return nil
})
