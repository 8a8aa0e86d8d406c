package registry_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ipfs/go-datastore"
	dssync "github.com/ipfs/go-datastore/sync"
	"github.com/storacha/go-ucanto/did"
	"github.com/storacha/poe/internal/mocks"
	"github.com/storacha/poe/pkg/chain"
	"github.com/storacha/poe/pkg/events"
	"github.com/storacha/poe/pkg/internal/testutil"
	"github.com/storacha/poe/pkg/origin"
	"github.com/storacha/poe/pkg/registry"
	"github.com/storacha/poe/pkg/resolver"
	"github.com/storacha/poe/pkg/store"
	"github.com/storacha/poe/pkg/store/claimstore"
	"github.com/storacha/poe/pkg/store/claimstore/claim"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

type fixture struct {
	registry *registry.Registry
	claims   *claimstore.DsClaimStore
	blocks   *chain.Counter
	events   *events.Recorder
}

func newFixture(t *testing.T, opts ...registry.Option) fixture {
	claims, err := claimstore.NewDsClaimStore(dssync.MutexWrap(datastore.NewMapDatastore()))
	require.NoError(t, err)
	f := fixture{
		claims: claims,
		blocks: chain.NewCounter(1),
		events: &events.Recorder{},
	}
	opts = append([]registry.Option{
		registry.WithBlockSource(f.blocks),
		registry.WithEventSink(f.events),
	}, opts...)
	f.registry, err = registry.New(claims, opts...)
	require.NoError(t, err)
	return f
}

func signed(id did.DID) origin.Origin {
	return origin.Signed{Issuer: id}
}

// requireClaim asserts the store maps the fingerprint to the owner and block.
func requireClaim(t *testing.T, f fixture, fp []byte, owner did.DID, block chain.BlockNumber) {
	t.Helper()
	c, err := f.claims.Get(context.Background(), fp)
	require.NoError(t, err)
	require.Equal(t, claim.Claim{Fingerprint: fp, Owner: owner, RegisteredAt: block}, c)
}

func requireUnclaimed(t *testing.T, f fixture, fp []byte) {
	t.Helper()
	_, err := f.claims.Get(context.Background(), fp)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestCreateClaim(t *testing.T) {
	ctx := context.Background()
	alice := testutil.RandomDID()
	bob := testutil.RandomDID()
	fp := []byte{0, 1}

	t.Run("registers to caller at current block", func(t *testing.T) {
		f := newFixture(t)

		require.NoError(t, f.registry.CreateClaim(ctx, signed(alice), fp))

		requireClaim(t, f, fp, alice, 1)
		require.Equal(t, []events.Event{events.ClaimCreated{Owner: alice, Fingerprint: fp}}, f.events.Events())
	})

	t.Run("fails when already claimed", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, f.registry.CreateClaim(ctx, signed(alice), fp))
		f.blocks.Set(5)
		f.events.Reset()

		err := f.registry.CreateClaim(ctx, signed(alice), fp)
		require.ErrorIs(t, err, registry.ErrClaimAlreadyExists)
		require.Equal(t, "ClaimAlreadyExists", registry.ErrorName(err))

		err = f.registry.CreateClaim(ctx, signed(bob), fp)
		require.ErrorIs(t, err, registry.ErrClaimAlreadyExists)

		requireClaim(t, f, fp, alice, 1)
		require.Empty(t, f.events.Events())
	})

	t.Run("length policy", func(t *testing.T) {
		f := newFixture(t, registry.WithMaxClaimLength(256))

		err := f.registry.CreateClaim(ctx, signed(alice), testutil.RandomFingerprint(257))
		require.ErrorIs(t, err, registry.ErrClaimTooLarge)
		require.Equal(t, "ClaimTooLarge", registry.ErrorName(err))

		max := testutil.RandomFingerprint(256)
		require.NoError(t, f.registry.CreateClaim(ctx, signed(alice), max))
		requireClaim(t, f, max, alice, 1)
		require.Len(t, f.events.Events(), 1)

		unbounded := newFixture(t)
		large := testutil.RandomFingerprint(257)
		require.NoError(t, unbounded.registry.CreateClaim(ctx, signed(alice), large))
		requireClaim(t, unbounded, large, alice, 1)
	})

	t.Run("length is checked before existence", func(t *testing.T) {
		f := newFixture(t)
		large := testutil.RandomFingerprint(300)
		require.NoError(t, f.registry.CreateClaim(ctx, signed(alice), large))

		bounded, err := registry.New(f.claims, registry.WithMaxClaimLength(256))
		require.NoError(t, err)
		err = bounded.CreateClaim(ctx, signed(bob), large)
		require.ErrorIs(t, err, registry.ErrClaimTooLarge)
	})

	t.Run("empty claim", func(t *testing.T) {
		f := newFixture(t)
		err := f.registry.CreateClaim(ctx, signed(alice), nil)
		require.ErrorIs(t, err, registry.ErrEmptyClaim)
		require.Empty(t, f.events.Events())
	})

	t.Run("unauthenticated", func(t *testing.T) {
		f := newFixture(t)
		err := f.registry.CreateClaim(ctx, origin.None{}, fp)
		require.ErrorIs(t, err, registry.ErrUnauthenticated)
		require.Equal(t, "Unauthenticated", registry.ErrorName(err))
		requireUnclaimed(t, f, fp)
		require.Empty(t, f.events.Events())
	})

	t.Run("signed payload origin", func(t *testing.T) {
		f := newFixture(t)
		signer := testutil.RandomSigner()

		require.NoError(t, f.registry.CreateClaim(ctx, origin.Sign(signer, fp), fp))
		requireClaim(t, f, fp, signer.DID(), 1)
	})
}

func TestRevokeClaim(t *testing.T) {
	ctx := context.Background()
	alice := testutil.RandomDID()
	bob := testutil.RandomDID()
	fp := []byte{0, 1}

	t.Run("owner revokes", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, f.registry.CreateClaim(ctx, signed(alice), fp))

		require.NoError(t, f.registry.RevokeClaim(ctx, signed(alice), fp))

		requireUnclaimed(t, f, fp)
		require.Equal(t, []events.Event{
			events.ClaimCreated{Owner: alice, Fingerprint: fp},
			events.ClaimRevoked{Owner: alice, Fingerprint: fp},
		}, f.events.Events())

		// claim can be created again after revocation
		require.NoError(t, f.registry.CreateClaim(ctx, signed(bob), fp))
		requireClaim(t, f, fp, bob, 1)
	})

	t.Run("fails when not claimed", func(t *testing.T) {
		f := newFixture(t)

		err := f.registry.RevokeClaim(ctx, signed(alice), fp)
		require.ErrorIs(t, err, registry.ErrClaimNotFound)
		require.Equal(t, "ClaimNotFound", registry.ErrorName(err))
		require.Empty(t, f.events.Events())
	})

	t.Run("fails when revoked twice", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, f.registry.CreateClaim(ctx, signed(alice), fp))
		require.NoError(t, f.registry.RevokeClaim(ctx, signed(alice), fp))

		err := f.registry.RevokeClaim(ctx, signed(alice), fp)
		require.ErrorIs(t, err, registry.ErrClaimNotFound)
		require.Len(t, f.events.Events(), 2)
	})

	t.Run("fails when caller is not owner", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, f.registry.CreateClaim(ctx, signed(alice), fp))
		f.events.Reset()

		err := f.registry.RevokeClaim(ctx, signed(bob), fp)
		require.ErrorIs(t, err, registry.ErrNotClaimOwner)
		require.Equal(t, "NotClaimOwner", registry.ErrorName(err))

		requireClaim(t, f, fp, alice, 1)
		require.Empty(t, f.events.Events())
	})

	t.Run("unauthenticated", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, f.registry.CreateClaim(ctx, signed(alice), fp))

		err := f.registry.RevokeClaim(ctx, origin.Bearer{Token: "not a token"}, fp)
		require.ErrorIs(t, err, registry.ErrUnauthenticated)
		requireClaim(t, f, fp, alice, 1)
	})
}

func TestTransferClaim(t *testing.T) {
	ctx := context.Background()
	alice := testutil.RandomDID()
	bob := testutil.RandomDID()
	fp := []byte{0, 1}

	t.Run("owner transfers", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, f.registry.CreateClaim(ctx, signed(alice), fp))
		f.blocks.Set(9)

		require.NoError(t, f.registry.TransferClaim(ctx, signed(alice), fp, resolver.Destination(bob.String())))

		requireClaim(t, f, fp, bob, 9)
		require.Equal(t, events.ClaimTransferred{From: alice, To: bob, Fingerprint: fp}, f.events.Events()[1])

		// previous owner lost all rights
		err := f.registry.RevokeClaim(ctx, signed(alice), fp)
		require.ErrorIs(t, err, registry.ErrNotClaimOwner)

		// new owner can revoke
		require.NoError(t, f.registry.RevokeClaim(ctx, signed(bob), fp))
		requireUnclaimed(t, f, fp)
	})

	t.Run("transfer to self resets registration block", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, f.registry.CreateClaim(ctx, signed(alice), fp))
		f.blocks.Set(4)

		require.NoError(t, f.registry.TransferClaim(ctx, signed(alice), fp, resolver.Destination(alice.String())))
		requireClaim(t, f, fp, alice, 4)
	})

	t.Run("fails when not claimed", func(t *testing.T) {
		f := newFixture(t)

		err := f.registry.TransferClaim(ctx, signed(alice), fp, resolver.Destination(bob.String()))
		require.ErrorIs(t, err, registry.ErrClaimNotFound)
		require.Empty(t, f.events.Events())
	})

	t.Run("fails when caller is not owner", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, f.registry.CreateClaim(ctx, signed(alice), fp))
		f.events.Reset()

		err := f.registry.TransferClaim(ctx, signed(bob), fp, resolver.Destination(bob.String()))
		require.ErrorIs(t, err, registry.ErrNotClaimOwner)
		requireClaim(t, f, fp, alice, 1)
		require.Empty(t, f.events.Events())
	})

	t.Run("owner check precedes destination check", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, f.registry.CreateClaim(ctx, signed(alice), fp))

		err := f.registry.TransferClaim(ctx, signed(bob), fp, "nobody")
		require.ErrorIs(t, err, registry.ErrNotClaimOwner)
	})

	t.Run("invalid destination", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, f.registry.CreateClaim(ctx, signed(alice), fp))
		f.events.Reset()

		err := f.registry.TransferClaim(ctx, signed(alice), fp, "nobody")
		require.ErrorIs(t, err, registry.ErrInvalidDestination)
		require.Equal(t, "InvalidDestination", registry.ErrorName(err))
		requireClaim(t, f, fp, alice, 1)
		require.Empty(t, f.events.Events())
	})

	t.Run("mapping destination policy", func(t *testing.T) {
		aliases := resolver.NewMapping(map[string]did.DID{"bob": bob})
		f := newFixture(t, registry.WithResolver(aliases))
		require.NoError(t, f.registry.CreateClaim(ctx, signed(alice), fp))

		err := f.registry.TransferClaim(ctx, signed(alice), fp, resolver.Destination(bob.String()))
		require.ErrorIs(t, err, registry.ErrInvalidDestination)

		require.NoError(t, f.registry.TransferClaim(ctx, signed(alice), fp, "bob"))
		requireClaim(t, f, fp, bob, 1)
	})

	t.Run("resolver failure is not an invalid destination", func(t *testing.T) {
		unavailable := errors.New("lookup service unavailable")
		failing := resolverFunc(func(context.Context, resolver.Destination) (did.DID, error) {
			return did.Undef, unavailable
		})
		f := newFixture(t, registry.WithResolver(failing))
		require.NoError(t, f.registry.CreateClaim(ctx, signed(alice), fp))

		err := f.registry.TransferClaim(ctx, signed(alice), fp, "bob")
		require.ErrorIs(t, err, unavailable)
		require.NotErrorIs(t, err, registry.ErrInvalidDestination)
		require.Empty(t, registry.ErrorName(err))
		requireClaim(t, f, fp, alice, 1)
	})

	t.Run("canceled resolution is not an invalid destination", func(t *testing.T) {
		blocking := resolverFunc(func(ctx context.Context, _ resolver.Destination) (did.DID, error) {
			<-ctx.Done()
			return did.Undef, ctx.Err()
		})
		f := newFixture(t, registry.WithResolver(blocking))
		require.NoError(t, f.registry.CreateClaim(ctx, signed(alice), fp))

		cctx, cancel := context.WithCancel(ctx)
		cancel()
		err := f.registry.TransferClaim(cctx, signed(alice), fp, "bob")
		require.ErrorIs(t, err, context.Canceled)
		require.NotErrorIs(t, err, registry.ErrInvalidDestination)
	})
}

type resolverFunc func(context.Context, resolver.Destination) (did.DID, error)

func (f resolverFunc) Resolve(ctx context.Context, dest resolver.Destination) (did.DID, error) {
	return f(ctx, dest)
}

func TestEvents(t *testing.T) {
	ctx := context.Background()
	alice := testutil.RandomDID()
	bob := testutil.RandomDID()
	fp := []byte{0, 1}

	t.Run("emitted exactly once per successful operation", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		sink := mocks.NewMockSink(ctrl)

		claims := testutil.Must(claimstore.NewDsClaimStore(datastore.NewMapDatastore()))(t)
		reg := testutil.Must(registry.New(claims, registry.WithEventSink(sink)))(t)

		gomock.InOrder(
			sink.EXPECT().Emit(gomock.Any(), events.ClaimCreated{Owner: alice, Fingerprint: fp}).Return(nil).Times(1),
			sink.EXPECT().Emit(gomock.Any(), events.ClaimTransferred{From: alice, To: bob, Fingerprint: fp}).Return(nil).Times(1),
			sink.EXPECT().Emit(gomock.Any(), events.ClaimRevoked{Owner: bob, Fingerprint: fp}).Return(nil).Times(1),
		)

		require.NoError(t, reg.CreateClaim(ctx, signed(alice), fp))
		require.Error(t, reg.CreateClaim(ctx, signed(bob), fp))
		require.Error(t, reg.RevokeClaim(ctx, signed(bob), fp))
		require.NoError(t, reg.TransferClaim(ctx, signed(alice), fp, resolver.Destination(bob.String())))
		require.Error(t, reg.TransferClaim(ctx, signed(alice), fp, resolver.Destination(alice.String())))
		require.NoError(t, reg.RevokeClaim(ctx, signed(bob), fp))
		require.Error(t, reg.RevokeClaim(ctx, signed(bob), fp))
	})

	t.Run("sink failure does not fail committed operation", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		sink := mocks.NewMockSink(ctrl)
		sink.EXPECT().Emit(gomock.Any(), gomock.Any()).Return(errors.New("sink down"))

		claims := testutil.Must(claimstore.NewDsClaimStore(datastore.NewMapDatastore()))(t)
		reg := testutil.Must(registry.New(claims, registry.WithEventSink(sink)))(t)

		require.NoError(t, reg.CreateClaim(ctx, signed(alice), fp))
		has, err := claims.Has(ctx, fp)
		require.NoError(t, err)
		require.True(t, has)
	})
}

func TestStalledSubscriber(t *testing.T) {
	ctx := context.Background()
	alice := testutil.RandomDID()

	bus := events.NewBus()
	stalled := bus.Subscribe(1)
	f := newFixture(t, registry.WithEventSink(bus))

	done := make(chan error, 1)
	go func() {
		for i := byte(1); i <= 3; i++ {
			if err := f.registry.CreateClaim(ctx, signed(alice), []byte{i}); err != nil {
				done <- err
				return
			}
		}
		done <- nil
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("operations blocked by a subscriber that is not reading")
	}

	requireClaim(t, f, []byte{3}, alice, 1)
	require.Len(t, stalled, 1)
}

func TestBlockSource(t *testing.T) {
	ctx := context.Background()
	alice := testutil.RandomDID()
	fp := []byte{0, 1}

	t.Run("registration block comes from source", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		blocks := mocks.NewMockSource(ctrl)
		blocks.EXPECT().CurrentBlock(gomock.Any()).Return(chain.BlockNumber(77), nil)

		claims := testutil.Must(claimstore.NewDsClaimStore(datastore.NewMapDatastore()))(t)
		reg := testutil.Must(registry.New(claims, registry.WithBlockSource(blocks)))(t)

		require.NoError(t, reg.CreateClaim(ctx, signed(alice), fp))
		c, err := reg.Claim(ctx, fp)
		require.NoError(t, err)
		require.Equal(t, chain.BlockNumber(77), c.RegisteredAt)
	})

	t.Run("source failure aborts without mutation", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		blocks := mocks.NewMockSource(ctrl)
		sink := mocks.NewMockSink(ctrl)
		blocks.EXPECT().CurrentBlock(gomock.Any()).Return(chain.BlockNumber(0), errors.New("no head"))

		claims := testutil.Must(claimstore.NewDsClaimStore(datastore.NewMapDatastore()))(t)
		reg := testutil.Must(registry.New(claims, registry.WithBlockSource(blocks), registry.WithEventSink(sink)))(t)

		require.Error(t, reg.CreateClaim(ctx, signed(alice), fp))
		has, err := claims.Has(ctx, fp)
		require.NoError(t, err)
		require.False(t, has)
	})
}

func TestTransferAtomicity(t *testing.T) {
	ctx := context.Background()
	alice := testutil.RandomDID()
	bob := testutil.RandomDID()
	fp := []byte{0, 1}
	current := claim.Claim{Fingerprint: fp, Owner: alice, RegisteredAt: 1}

	ctrl := gomock.NewController(t)
	claims := mocks.NewMockClaimStore(ctrl)
	batch := mocks.NewMockBatch(ctrl)
	sink := mocks.NewMockSink(ctrl)

	claims.EXPECT().Get(gomock.Any(), fp).Return(current, nil)
	claims.EXPECT().Batch(gomock.Any()).Return(batch, nil)
	batch.EXPECT().Delete(gomock.Any(), fp).Return(nil)
	batch.EXPECT().Put(gomock.Any(), claim.Claim{Fingerprint: fp, Owner: bob, RegisteredAt: 3}).Return(nil)
	batch.EXPECT().Commit(gomock.Any()).Return(errors.New("disk full"))

	reg := testutil.Must(registry.New(claims, registry.WithBlockSource(chain.NewCounter(3)), registry.WithEventSink(sink)))(t)

	err := reg.TransferClaim(ctx, signed(alice), fp, resolver.Destination(bob.String()))
	require.Error(t, err)
	require.Empty(t, registry.ErrorName(err))
	// no direct writes were made to the store and no event was emitted
}

func TestClaim(t *testing.T) {
	ctx := context.Background()
	alice := testutil.RandomDID()
	f := newFixture(t)

	_, err := f.registry.Claim(ctx, []byte{1})
	require.ErrorIs(t, err, registry.ErrClaimNotFound)

	_, err = f.registry.Claim(ctx, nil)
	require.ErrorIs(t, err, registry.ErrEmptyClaim)

	require.NoError(t, f.registry.CreateClaim(ctx, signed(alice), []byte{1}))
	require.NoError(t, f.registry.CreateClaim(ctx, signed(alice), []byte{2}))

	c, err := f.registry.Claim(ctx, []byte{1})
	require.NoError(t, err)
	require.Equal(t, alice, c.Owner)

	all, err := f.registry.Claims(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
}

func TestConcurrentCreate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	fp := testutil.RandomFingerprint(32)

	var (
		wg      sync.WaitGroup
		mutex   sync.Mutex
		winners []did.DID
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := testutil.RandomDID()
			err := f.registry.CreateClaim(ctx, signed(id), fp)
			if err == nil {
				mutex.Lock()
				winners = append(winners, id)
				mutex.Unlock()
				return
			}
			if !errors.Is(err, registry.ErrClaimAlreadyExists) {
				panic(fmt.Sprintf("unexpected error: %s", err))
			}
		}()
	}
	wg.Wait()

	require.Len(t, winners, 1)
	requireClaim(t, f, fp, winners[0], 1)
	require.Len(t, f.events.Events(), 1)
}

func TestOptions(t *testing.T) {
	claims := testutil.Must(claimstore.NewDsClaimStore(datastore.NewMapDatastore()))(t)

	_, err := registry.New(nil)
	require.Error(t, err)

	_, err = registry.New(claims, registry.WithMaxClaimLength(-1))
	require.Error(t, err)

	reg, err := registry.New(claims, registry.WithConfig(registry.Config{MaxClaimLength: 32}), registry.WithLogLevel("debug"))
	require.NoError(t, err)
	require.Equal(t, 32, reg.Config().MaxClaimLength)
}
