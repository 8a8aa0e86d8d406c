package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/ipfs/go-datastore"
	"github.com/ipfs/go-datastore/namespace"
	leveldb "github.com/ipfs/go-ds-leveldb"
	"github.com/urfave/cli/v2"

	"github.com/storacha/poe/pkg/client"
	"github.com/storacha/poe/pkg/config"
	"github.com/storacha/poe/pkg/dispatch"
	"github.com/storacha/poe/pkg/resolver"
	"github.com/storacha/poe/pkg/server"
	"github.com/storacha/poe/pkg/store"
	"github.com/storacha/poe/pkg/store/claimstore"
	"github.com/storacha/poe/pkg/store/claimstore/claim"
)

var ClaimCmd = &cli.Command{
	Name:  "claim",
	Usage: "Create, revoke, transfer and look up claims.",
	Subcommands: []*cli.Command{
		{
			Name:      "create",
			Usage:     "Claim a fingerprint.",
			ArgsUsage: "<fingerprint>",
			Flags:     ClientFlags,
			Action: func(cCtx *cli.Context) error {
				return runClaimOp(cCtx, func(ctx context.Context, c *client.Client, fp []byte) (dispatch.Result, *server.ClaimResponse, error) {
					if cCtx.Bool(BearerFlag.Name) {
						cr, err := c.PutClaim(ctx, fp)
						return dispatch.Result{}, &cr, err
					}
					res, err := c.Create(ctx, fp)
					return res, nil, err
				})
			},
		},
		{
			Name:      "revoke",
			Usage:     "Remove a claim you own.",
			ArgsUsage: "<fingerprint>",
			Flags:     ClientFlags,
			Action: func(cCtx *cli.Context) error {
				return runClaimOp(cCtx, func(ctx context.Context, c *client.Client, fp []byte) (dispatch.Result, *server.ClaimResponse, error) {
					if cCtx.Bool(BearerFlag.Name) {
						return dispatch.Result{}, nil, c.DeleteClaim(ctx, fp)
					}
					res, err := c.Revoke(ctx, fp)
					return res, nil, err
				})
			},
		},
		{
			Name:      "transfer",
			Usage:     "Transfer a claim you own to another identity.",
			ArgsUsage: "<fingerprint> <destination>",
			Flags:     ClientFlags,
			Action: func(cCtx *cli.Context) error {
				if cCtx.NArg() != 2 {
					return fmt.Errorf("expected fingerprint and destination arguments")
				}
				dest := resolver.Destination(cCtx.Args().Get(1))
				return runClaimOp(cCtx, func(ctx context.Context, c *client.Client, fp []byte) (dispatch.Result, *server.ClaimResponse, error) {
					if cCtx.Bool(BearerFlag.Name) {
						cr, err := c.TransferClaim(ctx, fp, dest)
						return dispatch.Result{}, &cr, err
					}
					res, err := c.Transfer(ctx, fp, dest)
					return res, nil, err
				})
			},
		},
		{
			Name:      "get",
			Usage:     "Look up the owner of a fingerprint.",
			ArgsUsage: "<fingerprint>",
			Flags:     []cli.Flag{NodeURLFlag},
			Action: func(cCtx *cli.Context) error {
				fp, err := fingerprintArg(cCtx)
				if err != nil {
					return err
				}
				c, err := newClient(cCtx)
				if err != nil {
					return err
				}
				cr, err := c.Claim(cCtx.Context, fp)
				if err != nil {
					if errors.Is(err, store.ErrNotFound) {
						return fmt.Errorf("fingerprint %s is not claimed", claim.FormatFingerprint(fp))
					}
					return err
				}
				return printJSON(cCtx.App.Writer, cr)
			},
		},
		{
			Name:  "list",
			Usage: "List all claims held in a local data directory. The node must not be running.",
			Flags: []cli.Flag{ConfigFlag, DataDirFlag, &cli.StringFlag{Name: "key-hash", Usage: "Hash used to derive storage keys."}},
			Action: func(cCtx *cli.Context) error {
				cfg, err := config.LoadStorage(cCtx)
				if err != nil {
					return err
				}
				ds, err := leveldb.NewDatastore(registryDir(cfg), nil)
				if err != nil {
					return fmt.Errorf("opening datastore: %w", err)
				}
				defer ds.Close()

				claims, err := newClaimStore(ds, cfg)
				if err != nil {
					return err
				}
				return listClaims(cCtx.Context, cCtx.App.Writer, claims)
			},
		},
	},
}

type claimOp func(ctx context.Context, c *client.Client, fp []byte) (dispatch.Result, *server.ClaimResponse, error)

func runClaimOp(cCtx *cli.Context, op claimOp) error {
	fp, err := fingerprintArg(cCtx)
	if err != nil {
		return err
	}
	c, err := newClient(cCtx)
	if err != nil {
		return err
	}

	res, cr, err := op(cCtx.Context, c, fp)
	if err != nil {
		return err
	}
	if cCtx.Bool(BearerFlag.Name) {
		if cr != nil {
			return printJSON(cCtx.App.Writer, cr)
		}
		fmt.Fprintf(cCtx.App.Writer, "ok %s\n", claim.FormatFingerprint(fp))
		return nil
	}
	if err := client.ResultError(res); err != nil {
		return err
	}
	fmt.Fprintf(cCtx.App.Writer, "ok %s at block %d\n", claim.FormatFingerprint(fp), res.Height)
	return nil
}

func newClaimStore(ds datastore.Batching, cfg *config.Node) (*claimstore.DsClaimStore, error) {
	hasher, err := claimstore.HasherByName(cfg.Registry.KeyHash)
	if err != nil {
		return nil, err
	}
	return claimstore.NewDsClaimStore(namespace.Wrap(ds, datastore.NewKey("claims")), claimstore.WithKeyHasher(hasher))
}

func listClaims(ctx context.Context, w io.Writer, claims claimstore.ClaimStore) error {
	all, err := claims.List(ctx)
	if err != nil {
		return fmt.Errorf("listing claims: %w", err)
	}
	for _, c := range all {
		fmt.Fprintf(w, "%s\t%s\t%d\n", claim.FormatFingerprint(c.Fingerprint), c.Owner, c.RegisteredAt)
	}
	return nil
}

func printJSON(w io.Writer, v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling JSON: %w", err)
	}
	fmt.Fprintln(w, string(out))
	return nil
}
