// Package dispatch connects the claim registry to a host ledger. Transactions
// arrive as signed envelopes and are validated (CheckTx) or executed
// (DeliverTx), producing a result code.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/ipfs/go-datastore"
	"github.com/ipfs/go-datastore/namespace"
	logging "github.com/ipfs/go-log/v2"
	"github.com/multiformats/go-multihash"
	"github.com/storacha/go-ucanto/did"
	"github.com/storacha/poe/pkg/chain"
	"github.com/storacha/poe/pkg/internal/digestutil"
	"github.com/storacha/poe/pkg/metrics"
	"github.com/storacha/poe/pkg/origin"
	"github.com/storacha/poe/pkg/registry"
	"github.com/storacha/poe/pkg/resolver"
)

var log = logging.Logger("dispatch")

const (
	CodeOK                 uint32 = 0
	CodeEncodingError      uint32 = 1
	CodeUnauthenticated    uint32 = 2
	CodeInvalidTx          uint32 = 3
	CodeClaimAlreadyExists uint32 = 10
	CodeClaimNotFound      uint32 = 11
	CodeNotClaimOwner      uint32 = 12
	CodeInvalidDestination uint32 = 13
	CodeClaimTooLarge      uint32 = 14
	CodeEmptyClaim         uint32 = 15
	CodeInternal           uint32 = 99
)

// Result is the outcome of checking or delivering a transaction.
type Result struct {
	Code uint32 `json:"code"`
	// Name is the registry error name when the operation was rejected.
	Name string `json:"name,omitempty"`
	Log  string `json:"log,omitempty"`
	// Height is the block the transaction was delivered in.
	Height chain.BlockNumber `json:"height,omitempty"`
}

func (r Result) IsOK() bool {
	return r.Code == CodeOK
}

type App struct {
	// delivery is serialized, as it would be by a ledger host
	mutex    sync.Mutex
	registry *registry.Registry
	auth     origin.Authenticator
	advancer chain.Advancer
	seen     datastore.Datastore
	metrics  *metrics.Metrics
}

type Option func(*App)

// WithAuthenticator sets the authenticator envelopes are verified with. It
// should match the one the registry was created with.
func WithAuthenticator(auth origin.Authenticator) Option {
	return func(a *App) {
		a.auth = auth
	}
}

// WithAdvancer makes DeliverTx execute every transaction in a new block.
func WithAdvancer(adv chain.Advancer) Option {
	return func(a *App) {
		a.advancer = adv
	}
}

// WithReplayStore sets the datastore delivered transaction digests are
// recorded in. Defaults to an in-memory datastore.
func WithReplayStore(ds datastore.Datastore) Option {
	return func(a *App) {
		a.seen = namespace.Wrap(ds, datastore.NewKey("txs"))
	}
}

// WithMetrics counts checked and delivered transactions by outcome.
func WithMetrics(m *metrics.Metrics) Option {
	return func(a *App) {
		a.metrics = m
	}
}

func NewApp(reg *registry.Registry, opts ...Option) *App {
	a := &App{registry: reg}
	for _, opt := range opts {
		opt(a)
	}
	if a.auth == nil {
		a.auth = origin.NewAuthenticator()
	}
	if a.seen == nil {
		a.seen = datastore.NewMapDatastore()
	}
	return a
}

// CheckTx validates the envelope and transaction shape without executing it.
func (a *App) CheckTx(ctx context.Context, raw []byte) (res Result) {
	o, tx, res := decode(raw)
	defer func() { a.metrics.IncrementTransaction(opLabel(tx.Op), "check", res.label()) }()
	if !res.IsOK() {
		return res
	}
	if _, err := a.auth.Authenticate(ctx, o); err != nil {
		return Result{Code: CodeUnauthenticated, Name: "Unauthenticated", Log: err.Error()}
	}
	seen, err := a.seen.Has(ctx, txKey(o))
	if err != nil {
		log.Errorw("checking replay store", "error", err)
		return Result{Code: CodeInternal, Log: "checking replay store"}
	}
	if seen {
		return Result{Code: CodeInvalidTx, Log: "duplicate transaction"}
	}
	return Result{Code: CodeOK}
}

// DeliverTx executes the transaction against the registry.
func (a *App) DeliverTx(ctx context.Context, raw []byte) (res Result) {
	o, tx, res := decode(raw)
	defer func() { a.metrics.IncrementTransaction(opLabel(tx.Op), "deliver", res.label()) }()
	if !res.IsOK() {
		return res
	}

	// unauthenticated envelopes never advance the block
	caller, err := a.auth.Authenticate(ctx, o)
	if err != nil {
		log.Infow("rejected tx", "op", tx.Op, "issuer", o.Issuer, "reason", "Unauthenticated")
		return Result{Code: CodeUnauthenticated, Name: "Unauthenticated", Log: err.Error()}
	}

	a.mutex.Lock()
	defer a.mutex.Unlock()

	key := txKey(o)
	seen, err := a.seen.Has(ctx, key)
	if err != nil {
		log.Errorw("checking replay store", "error", err)
		return Result{Code: CodeInternal, Log: "checking replay store"}
	}
	if seen {
		return Result{Code: CodeInvalidTx, Log: "duplicate transaction"}
	}

	var height chain.BlockNumber
	if a.advancer != nil {
		height, err = a.advancer.Advance(ctx)
		if err != nil {
			log.Errorw("advancing block", "error", err)
			return Result{Code: CodeInternal, Log: "advancing block"}
		}
	}

	switch tx.Op {
	case OpCreate:
		_, err = a.registry.Create(ctx, caller, tx.Claim)
	case OpRevoke:
		err = a.registry.Revoke(ctx, caller, tx.Claim)
	case OpTransfer:
		_, err = a.registry.Transfer(ctx, caller, tx.Claim, resolver.Destination(tx.Dest))
	}

	res = Result{Code: CodeOK, Height: height}
	if err != nil {
		res = resultFromError(err)
		res.Height = height
	}

	// rejected transactions are recorded too so a replay cannot succeed
	// later, except when the failure was ours
	if res.Code != CodeInternal {
		if perr := a.seen.Put(ctx, key, []byte{}); perr != nil {
			log.Errorw("recording delivered tx", "error", perr)
		}
	}

	if err != nil {
		if res.Code == CodeInternal {
			log.Errorw("delivering tx", "op", tx.Op, "error", err)
		} else {
			log.Infow("rejected tx", "op", tx.Op, "issuer", o.Issuer, "reason", res.Name)
		}
		return res
	}
	log.Infow("delivered tx", "op", tx.Op, "issuer", o.Issuer, "height", height)
	return res
}

// label names the outcome for metrics.
func (r Result) label() string {
	switch {
	case r.Name != "":
		return r.Name
	case r.Code == CodeOK:
		return "OK"
	case r.Code == CodeEncodingError:
		return "EncodingError"
	case r.Code == CodeInvalidTx:
		return "InvalidTx"
	default:
		return "Internal"
	}
}

func opLabel(op Op) string {
	if op == "" {
		return "unknown"
	}
	return string(op)
}

func decode(raw []byte) (origin.SignedPayload, Tx, Result) {
	var stx SignedTx
	if err := json.Unmarshal(raw, &stx); err != nil {
		return origin.SignedPayload{}, Tx{}, Result{Code: CodeEncodingError, Log: "failed to decode signed tx"}
	}
	issuer, err := did.Parse(stx.Issuer)
	if err != nil {
		return origin.SignedPayload{}, Tx{}, Result{Code: CodeUnauthenticated, Name: "Unauthenticated", Log: fmt.Sprintf("invalid issuer: %s", err)}
	}
	var tx Tx
	if err := json.Unmarshal(stx.Tx, &tx); err != nil {
		return origin.SignedPayload{}, Tx{}, Result{Code: CodeEncodingError, Log: "failed to decode inner tx"}
	}
	switch tx.Op {
	case OpCreate, OpRevoke:
	case OpTransfer:
		if tx.Dest == "" {
			return origin.SignedPayload{}, Tx{}, Result{Code: CodeInvalidTx, Log: "transfer requires a destination"}
		}
	default:
		return origin.SignedPayload{}, Tx{}, Result{Code: CodeInvalidTx, Log: fmt.Sprintf("unknown operation: %q", tx.Op)}
	}
	o := origin.SignedPayload{Issuer: issuer, Payload: stx.Tx, Signature: stx.Signature}
	return o, tx, Result{Code: CodeOK}
}

func resultFromError(err error) Result {
	res := Result{Name: registry.ErrorName(err), Log: err.Error()}
	switch {
	case errors.Is(err, registry.ErrUnauthenticated):
		res.Code = CodeUnauthenticated
	case errors.Is(err, registry.ErrClaimAlreadyExists):
		res.Code = CodeClaimAlreadyExists
	case errors.Is(err, registry.ErrClaimNotFound):
		res.Code = CodeClaimNotFound
	case errors.Is(err, registry.ErrNotClaimOwner):
		res.Code = CodeNotClaimOwner
	case errors.Is(err, registry.ErrInvalidDestination):
		res.Code = CodeInvalidDestination
	case errors.Is(err, registry.ErrClaimTooLarge):
		res.Code = CodeClaimTooLarge
	case errors.Is(err, registry.ErrEmptyClaim):
		res.Code = CodeEmptyClaim
	default:
		res.Code = CodeInternal
		res.Log = "internal error"
	}
	return res
}

// txKey identifies a transaction by its issuer and signed payload, so a
// re-encoded envelope is still recognized as a replay.
func txKey(o origin.SignedPayload) datastore.Key {
	digest, _ := multihash.Sum(append(o.Issuer.Bytes(), o.Payload...), multihash.SHA2_256, -1)
	return datastore.NewKey(digestutil.Format(digest))
}
