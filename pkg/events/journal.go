package events

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/ipfs/go-datastore"
	"github.com/ipfs/go-datastore/namespace"
	"github.com/ipfs/go-datastore/query"
	"github.com/storacha/go-ucanto/did"
	edm "github.com/storacha/poe/pkg/events/datamodel"
	"github.com/storacha/poe/pkg/internal/ipldstore"
)

// Seq is the position of an event in the journal. The first event has
// sequence number 1.
type Seq uint64

func (s Seq) String() string {
	return fmt.Sprintf("%020d", uint64(s))
}

// Record is a journaled event.
type Record struct {
	Seq   Seq
	Event Event
}

// Journal is an append-only event log kept in a datastore.
type Journal struct {
	mutex sync.Mutex
	data  datastore.Datastore
	store ipldstore.KVStore[Seq, edm.EntryModel]
	last  Seq
}

var _ Sink = (*Journal)(nil)

var journalPrefix = datastore.NewKey("journal")

// NewJournal opens the journal stored in ds, resuming after the last
// recorded event.
func NewJournal(ctx context.Context, ds datastore.Datastore) (*Journal, error) {
	data := namespace.Wrap(ds, journalPrefix)
	last, err := lastSeq(ctx, data)
	if err != nil {
		return nil, err
	}
	return &Journal{
		data:  data,
		store: ipldstore.IPLDStore[Seq, edm.EntryModel](data, edm.EntryType()),
		last:  last,
	}, nil
}

func lastSeq(ctx context.Context, ds datastore.Datastore) (Seq, error) {
	results, err := ds.Query(ctx, query.Query{
		KeysOnly: true,
		Orders:   []query.Order{query.OrderByKeyDescending{}},
		Limit:    1,
	})
	if err != nil {
		return 0, fmt.Errorf("querying journal: %w", err)
	}
	defer results.Close()

	for entry := range results.Next() {
		if entry.Error != nil {
			return 0, fmt.Errorf("iterating journal: %w", entry.Error)
		}
		n, err := strconv.ParseUint(strings.TrimPrefix(entry.Key, "/"), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("parsing journal key %s: %w", entry.Key, err)
		}
		return Seq(n), nil
	}
	return 0, nil
}

func (j *Journal) Emit(ctx context.Context, e Event) error {
	j.mutex.Lock()
	defer j.mutex.Unlock()

	seq := j.last + 1
	model, err := toModel(seq, e)
	if err != nil {
		return err
	}
	if err := j.store.Put(ctx, seq, model); err != nil {
		return fmt.Errorf("writing journal entry %d: %w", seq, err)
	}
	j.last = seq
	return nil
}

// Last returns the sequence number of the most recent event, or 0 when the
// journal is empty.
func (j *Journal) Last() Seq {
	j.mutex.Lock()
	defer j.mutex.Unlock()
	return j.last
}

// List returns up to limit events recorded after the given sequence number.
// A limit of 0 returns all of them.
func (j *Journal) List(ctx context.Context, since Seq, limit int) ([]Record, error) {
	models, err := j.store.Query(ctx, query.Query{
		Orders:  []query.Order{query.OrderByKey{}},
		Filters: []query.Filter{query.FilterKeyCompare{Op: query.GreaterThan, Key: "/" + since.String()}},
		Limit:   limit,
	})
	if err != nil {
		return nil, err
	}

	records := make([]Record, 0, len(models))
	for _, m := range models {
		e, err := fromModel(m)
		if err != nil {
			return nil, fmt.Errorf("decoding journal entry %d: %w", m.Seq, err)
		}
		records = append(records, Record{Seq: Seq(m.Seq), Event: e})
	}
	return records, nil
}

func toModel(seq Seq, e Event) (edm.EntryModel, error) {
	m := edm.EntryModel{Seq: int64(seq), Kind: string(e.Kind()), Fingerprint: e.Claim()}
	switch e := e.(type) {
	case ClaimCreated:
		m.From = e.Owner.Bytes()
	case ClaimRevoked:
		m.From = e.Owner.Bytes()
	case ClaimTransferred:
		m.From = e.From.Bytes()
		to := e.To.Bytes()
		m.To = &to
	default:
		return edm.EntryModel{}, fmt.Errorf("unsupported event: %T", e)
	}
	return m, nil
}

func fromModel(m edm.EntryModel) (Event, error) {
	from, err := did.Decode(m.From)
	if err != nil {
		return nil, fmt.Errorf("decoding DID: %w", err)
	}
	switch Kind(m.Kind) {
	case KindClaimCreated:
		return ClaimCreated{Owner: from, Fingerprint: m.Fingerprint}, nil
	case KindClaimRevoked:
		return ClaimRevoked{Owner: from, Fingerprint: m.Fingerprint}, nil
	case KindClaimTransferred:
		if m.To == nil {
			return nil, fmt.Errorf("missing transfer destination")
		}
		to, err := did.Decode(*m.To)
		if err != nil {
			return nil, fmt.Errorf("decoding DID: %w", err)
		}
		return ClaimTransferred{From: from, To: to, Fingerprint: m.Fingerprint}, nil
	}
	return nil, fmt.Errorf("unknown event kind: %s", m.Kind)
}
