package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/ipfs/go-datastore"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/storacha/go-ucanto/did"
	"github.com/storacha/go-ucanto/principal"
	"github.com/storacha/poe/pkg/chain"
	"github.com/storacha/poe/pkg/events"
	"github.com/storacha/poe/pkg/internal/testutil"
	"github.com/storacha/poe/pkg/metrics"
	"github.com/storacha/poe/pkg/registry"
	"github.com/storacha/poe/pkg/resolver"
	"github.com/storacha/poe/pkg/store/claimstore"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	app      *App
	registry *registry.Registry
	blocks   *chain.Counter
	events   *events.Recorder
}

func newFixture(t *testing.T, opts ...registry.Option) fixture {
	claims := testutil.Must(claimstore.NewDsClaimStore(datastore.NewMapDatastore()))(t)
	blocks := chain.NewCounter(0)
	rec := &events.Recorder{}
	opts = append([]registry.Option{registry.WithBlockSource(blocks), registry.WithEventSink(rec)}, opts...)
	reg := testutil.Must(registry.New(claims, opts...))(t)
	return fixture{
		app:      NewApp(reg, WithAdvancer(blocks)),
		registry: reg,
		blocks:   blocks,
		events:   rec,
	}
}

func signTx(t *testing.T, s principal.Signer, tx Tx) []byte {
	return testutil.Must(Sign(s, tx))(t)
}

func TestDeliverTx(t *testing.T) {
	ctx := context.Background()
	alice := testutil.RandomSigner()
	bob := testutil.RandomSigner()
	fp := []byte{0, 1}

	t.Run("create revoke transfer", func(t *testing.T) {
		f := newFixture(t)

		res := f.app.DeliverTx(ctx, signTx(t, alice, Tx{Op: OpCreate, Claim: fp}))
		require.Equal(t, CodeOK, res.Code, res.Log)
		require.Equal(t, chain.BlockNumber(1), res.Height)

		c, err := f.registry.Claim(ctx, fp)
		require.NoError(t, err)
		require.Equal(t, alice.DID(), c.Owner)
		require.Equal(t, chain.BlockNumber(1), c.RegisteredAt)

		res = f.app.DeliverTx(ctx, signTx(t, alice, Tx{Op: OpTransfer, Claim: fp, Dest: bob.DID().String()}))
		require.Equal(t, CodeOK, res.Code, res.Log)

		c, err = f.registry.Claim(ctx, fp)
		require.NoError(t, err)
		require.Equal(t, bob.DID(), c.Owner)
		require.Equal(t, chain.BlockNumber(2), c.RegisteredAt)

		res = f.app.DeliverTx(ctx, signTx(t, bob, Tx{Op: OpRevoke, Claim: fp}))
		require.Equal(t, CodeOK, res.Code, res.Log)

		_, err = f.registry.Claim(ctx, fp)
		require.ErrorIs(t, err, registry.ErrClaimNotFound)
		require.Len(t, f.events.Events(), 3)
	})

	t.Run("registry errors map to codes", func(t *testing.T) {
		f := newFixture(t, registry.WithMaxClaimLength(4))

		require.True(t, f.app.DeliverTx(ctx, signTx(t, alice, Tx{Op: OpCreate, Claim: fp})).IsOK())

		res := f.app.DeliverTx(ctx, signTx(t, bob, Tx{Op: OpCreate, Claim: fp}))
		require.Equal(t, CodeClaimAlreadyExists, res.Code)
		require.Equal(t, "ClaimAlreadyExists", res.Name)

		res = f.app.DeliverTx(ctx, signTx(t, bob, Tx{Op: OpRevoke, Claim: []byte{9}}))
		require.Equal(t, CodeClaimNotFound, res.Code)

		res = f.app.DeliverTx(ctx, signTx(t, bob, Tx{Op: OpRevoke, Claim: fp}))
		require.Equal(t, CodeNotClaimOwner, res.Code)

		res = f.app.DeliverTx(ctx, signTx(t, alice, Tx{Op: OpTransfer, Claim: fp, Dest: "bob"}))
		require.Equal(t, CodeInvalidDestination, res.Code)

		res = f.app.DeliverTx(ctx, signTx(t, alice, Tx{Op: OpCreate, Claim: []byte{1, 2, 3, 4, 5}}))
		require.Equal(t, CodeClaimTooLarge, res.Code)

		res = f.app.DeliverTx(ctx, signTx(t, alice, Tx{Op: OpCreate}))
		require.Equal(t, CodeEmptyClaim, res.Code)
	})

	t.Run("malformed envelopes", func(t *testing.T) {
		f := newFixture(t)

		res := f.app.DeliverTx(ctx, []byte("{"))
		require.Equal(t, CodeEncodingError, res.Code)

		raw, err := json.Marshal(SignedTx{Issuer: "alice", Tx: []byte(`{}`)})
		require.NoError(t, err)
		res = f.app.DeliverTx(ctx, raw)
		require.Equal(t, CodeUnauthenticated, res.Code)

		raw, err = json.Marshal(SignedTx{Issuer: alice.DID().String(), Tx: []byte(`nope`)})
		require.NoError(t, err)
		res = f.app.DeliverTx(ctx, raw)
		require.Equal(t, CodeEncodingError, res.Code)

		res = f.app.DeliverTx(ctx, signTx(t, alice, Tx{Op: "mint", Claim: fp}))
		require.Equal(t, CodeInvalidTx, res.Code)

		res = f.app.DeliverTx(ctx, signTx(t, alice, Tx{Op: OpTransfer, Claim: fp}))
		require.Equal(t, CodeInvalidTx, res.Code)
	})

	t.Run("forged signature", func(t *testing.T) {
		f := newFixture(t)

		var stx SignedTx
		require.NoError(t, json.Unmarshal(signTx(t, alice, Tx{Op: OpCreate, Claim: fp}), &stx))
		stx.Issuer = bob.DID().String()
		raw, err := json.Marshal(stx)
		require.NoError(t, err)

		for i := 0; i < 5; i++ {
			res := f.app.DeliverTx(ctx, raw)
			require.Equal(t, CodeUnauthenticated, res.Code)
			require.Equal(t, chain.BlockNumber(0), res.Height)
		}
		require.Empty(t, f.events.Events())

		height, err := f.blocks.CurrentBlock(ctx)
		require.NoError(t, err)
		require.Equal(t, chain.BlockNumber(0), height)

		// the forged attempt does not block the genuine transaction
		res := f.app.DeliverTx(ctx, signTx(t, bob, Tx{Op: OpCreate, Claim: fp}))
		require.Equal(t, CodeOK, res.Code, res.Log)
		require.Equal(t, chain.BlockNumber(1), res.Height)
	})

	t.Run("replay is rejected", func(t *testing.T) {
		f := newFixture(t)

		create := signTx(t, alice, Tx{Op: OpCreate, Claim: fp})
		transfer := signTx(t, alice, Tx{Op: OpTransfer, Claim: fp, Dest: bob.DID().String()})
		back := signTx(t, bob, Tx{Op: OpTransfer, Claim: fp, Dest: alice.DID().String()})

		require.True(t, f.app.DeliverTx(ctx, create).IsOK())
		require.True(t, f.app.DeliverTx(ctx, transfer).IsOK())
		require.True(t, f.app.DeliverTx(ctx, back).IsOK())

		res := f.app.DeliverTx(ctx, transfer)
		require.Equal(t, CodeInvalidTx, res.Code)

		c, err := f.registry.Claim(ctx, fp)
		require.NoError(t, err)
		require.Equal(t, alice.DID(), c.Owner)

		// a new nonce makes an identical operation distinct
		require.True(t, f.app.DeliverTx(ctx, signTx(t, alice, Tx{Op: OpTransfer, Claim: fp, Dest: bob.DID().String(), Nonce: 1})).IsOK())
	})

	t.Run("resolver outage does not consume the transfer", func(t *testing.T) {
		down := true
		res := resolverFunc(func(ctx context.Context, dest resolver.Destination) (did.DID, error) {
			if down {
				return did.Undef, errors.New("lookup service unavailable")
			}
			return resolver.Direct{}.Resolve(ctx, dest)
		})
		f := newFixture(t, registry.WithResolver(res))

		require.True(t, f.app.DeliverTx(ctx, signTx(t, alice, Tx{Op: OpCreate, Claim: fp})).IsOK())
		transfer := signTx(t, alice, Tx{Op: OpTransfer, Claim: fp, Dest: bob.DID().String()})

		r := f.app.DeliverTx(ctx, transfer)
		require.Equal(t, CodeInternal, r.Code)

		down = false
		r = f.app.DeliverTx(ctx, transfer)
		require.Equal(t, CodeOK, r.Code, r.Log)

		c, err := f.registry.Claim(ctx, fp)
		require.NoError(t, err)
		require.Equal(t, bob.DID(), c.Owner)
	})

	t.Run("replay store persists", func(t *testing.T) {
		ds := datastore.NewMapDatastore()
		f := newFixture(t)
		f.app = NewApp(f.registry, WithReplayStore(ds))

		tx := signTx(t, alice, Tx{Op: OpCreate, Claim: fp})
		require.True(t, f.app.DeliverTx(ctx, tx).IsOK())

		reopened := NewApp(f.registry, WithReplayStore(ds))
		require.Equal(t, CodeInvalidTx, reopened.CheckTx(ctx, tx).Code)
	})
}

func TestCheckTx(t *testing.T) {
	ctx := context.Background()
	alice := testutil.RandomSigner()
	bob := testutil.RandomSigner()
	f := newFixture(t)

	tx := signTx(t, alice, Tx{Op: OpCreate, Claim: []byte{0, 1}})
	require.Equal(t, CodeOK, f.app.CheckTx(ctx, tx).Code)

	// checking does not execute
	_, err := f.registry.Claim(ctx, []byte{0, 1})
	require.ErrorIs(t, err, registry.ErrClaimNotFound)

	var stx SignedTx
	require.NoError(t, json.Unmarshal(tx, &stx))
	stx.Issuer = bob.DID().String()
	forged, err := json.Marshal(stx)
	require.NoError(t, err)
	require.Equal(t, CodeUnauthenticated, f.app.CheckTx(ctx, forged).Code)

	require.Equal(t, CodeEncodingError, f.app.CheckTx(ctx, []byte("nope")).Code)
}

func TestMetrics(t *testing.T) {
	ctx := context.Background()
	alice := testutil.RandomSigner()
	bob := testutil.RandomSigner()
	fp := []byte{4, 2}

	f := newFixture(t)
	m := metrics.New()
	f.app = NewApp(f.registry, WithAdvancer(f.blocks), WithMetrics(m))

	stx := signTx(t, alice, Tx{Op: OpCreate, Claim: fp})
	require.True(t, f.app.CheckTx(ctx, stx).IsOK())
	require.True(t, f.app.DeliverTx(ctx, stx).IsOK())
	require.False(t, f.app.DeliverTx(ctx, signTx(t, bob, Tx{Op: OpRevoke, Claim: fp})).IsOK())
	require.False(t, f.app.DeliverTx(ctx, []byte("nope")).IsOK())

	count := func(op, phase, result string) float64 {
		return promtest.ToFloat64(m.Transactions.WithLabelValues(op, phase, result))
	}
	require.Equal(t, float64(1), count("create", "check", "OK"))
	require.Equal(t, float64(1), count("create", "deliver", "OK"))
	require.Equal(t, float64(1), count("revoke", "deliver", "NotClaimOwner"))
	require.Equal(t, float64(1), count("unknown", "deliver", "EncodingError"))
}

type resolverFunc func(context.Context, resolver.Destination) (did.DID, error)

func (f resolverFunc) Resolve(ctx context.Context, dest resolver.Destination) (did.DID, error) {
	return f(ctx, dest)
}
