package cmd

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/ipfs/go-datastore"
	"github.com/ipfs/go-datastore/namespace"
	leveldb "github.com/ipfs/go-ds-leveldb"
	logging "github.com/ipfs/go-log/v2"
	"github.com/storacha/go-ucanto/principal"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/storacha/poe/internal/telemetry"
	"github.com/storacha/poe/pkg/chain"
	"github.com/storacha/poe/pkg/config"
	"github.com/storacha/poe/pkg/dispatch"
	"github.com/storacha/poe/pkg/events"
	"github.com/storacha/poe/pkg/metrics"
	"github.com/storacha/poe/pkg/registry"
	"github.com/storacha/poe/pkg/resolver"
	"github.com/storacha/poe/pkg/server"
)

var ServeCmd = &cli.Command{
	Name:    "serve",
	Aliases: []string{"start"},
	Usage:   "Start the registry node daemon.",
	Flags:   ServeFlags,
	Action: func(cCtx *cli.Context) error {
		cfg, err := config.LoadConfig(cCtx)
		if err != nil {
			return err
		}
		if err := logging.SetLogLevel("*", cfg.LogLevel); err != nil {
			return fmt.Errorf("setting log level: %w", err)
		}

		if err := telemetry.SetupErrorReporting(cfg.Telemetry.SentryDSN, cfg.Telemetry.Environment); err != nil {
			return err
		}
		defer sentry.Flush(2 * time.Second)

		// load identity from key file
		id, err := PrincipalSignerFromFile(cfg.Core.KeyFilePath)
		if err != nil {
			return err
		}

		dir, err := mkdirp(registryDir(cfg))
		if err != nil {
			return err
		}
		ds, err := leveldb.NewDatastore(dir, nil)
		if err != nil {
			return fmt.Errorf("opening datastore: %w", err)
		}
		defer ds.Close()

		n, err := newNode(cCtx.Context, cfg, id, ds)
		if err != nil {
			return err
		}

		addr := fmt.Sprintf(":%d", cfg.Core.ServerPort)
		log.Infow("starting node", "did", id.DID(), "data_dir", dir, "block_time", cfg.Registry.BlockTime)
		go func() {
			time.Sleep(time.Millisecond * 50)
			PrintHero(id.DID(), cfg.Core.PublicURL)
		}()
		return n.run(cCtx.Context, addr)
	},
}

func registryDir(cfg *config.Node) string {
	return filepath.Join(cfg.Directories.DataDir, "registry")
}

// node is a registry wired to its persistent stores and HTTP transport.
type node struct {
	registry *registry.Registry
	app      *dispatch.App
	journal  *events.Journal
	bus      *events.Bus
	follower *chain.Follower
	opts     []server.Option
}

func newNode(ctx context.Context, cfg *config.Node, id principal.Signer, ds datastore.Batching) (*node, error) {
	claims, err := newClaimStore(ds, cfg)
	if err != nil {
		return nil, fmt.Errorf("creating claim store: %w", err)
	}

	journal, err := events.NewJournal(ctx, ds)
	if err != nil {
		return nil, fmt.Errorf("opening event journal: %w", err)
	}
	bus := events.NewBus()
	m := metrics.New()

	res, err := newResolver(cfg.Registry)
	if err != nil {
		return nil, err
	}

	n := &node{journal: journal, bus: bus}
	height := chain.NewDsHeight(namespace.Wrap(ds, datastore.NewKey("chain")))

	var blocks chain.Source = height
	appOpts := []dispatch.Option{dispatch.WithReplayStore(ds), dispatch.WithMetrics(m)}
	if cfg.Registry.BlockTime > 0 {
		// blocks are produced on a timer and each one is persisted
		n.follower = chain.NewFollower(chain.NewTicker(cfg.Registry.BlockTime, height))
		err := n.follower.AddHandler(func(ctx context.Context, _ *chain.BlockNumber, apply chain.BlockNumber) error {
			return height.Set(ctx, apply)
		})
		if err != nil {
			return nil, err
		}
		blocks = n.follower
	} else {
		appOpts = append(appOpts, dispatch.WithAdvancer(height))
	}

	n.registry, err = registry.New(
		claims,
		registry.WithMaxClaimLength(cfg.Registry.MaxClaimLength),
		registry.WithBlockSource(blocks),
		registry.WithResolver(res),
		registry.WithEventSink(events.Multi(journal, bus, m, events.Logger)),
	)
	if err != nil {
		return nil, fmt.Errorf("creating registry: %w", err)
	}
	n.app = dispatch.NewApp(n.registry, appOpts...)

	n.opts = []server.Option{
		server.WithIdentity(id),
		server.WithRegistry(n.registry),
		server.WithApp(n.app),
		server.WithJournal(journal),
		server.WithBus(bus),
		server.WithMetrics(m),
	}
	return n, nil
}

func newResolver(cfg config.RegistryConfig) (resolver.Resolver, error) {
	direct := resolver.Direct{RequireKey: cfg.RequireDIDKey}
	if len(cfg.Aliases) == 0 {
		return direct, nil
	}
	aliases, err := resolver.ParseAliases(cfg.Aliases)
	if err != nil {
		return nil, err
	}
	return resolver.NewMapping(aliases, resolver.WithFallback(direct)), nil
}

// run serves HTTP and, when blocks are timed, follows the block ticker until
// the context is canceled or either fails.
func (n *node) run(ctx context.Context, addr string) error {
	g, ctx := errgroup.WithContext(ctx)
	if n.follower != nil {
		g.Go(func() error {
			n.follower.Run(ctx)
			return nil
		})
	}
	g.Go(func() error {
		return server.ListenAndServe(ctx, addr, n.opts...)
	})
	return g.Wait()
}
