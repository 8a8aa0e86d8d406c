package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	logging "github.com/ipfs/go-log/v2"
	"github.com/urfave/cli/v2"

	"github.com/storacha/poe/cmd"
)

var log = logging.Logger("poe")

func main() {
	app := &cli.App{
		Name:  "poe",
		Usage: "Run and use a proof of existence claim registry.",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error).",
				EnvVars: []string{"POE_LOG_LEVEL"},
			},
		},
		Before: func(cCtx *cli.Context) error {
			if cCtx.IsSet("log-level") {
				return logging.SetLogLevel("*", cCtx.String("log-level"))
			}
			return nil
		},
		Commands: []*cli.Command{
			cmd.ServeCmd,
			cmd.IdentityCmd,
			cmd.ClaimCmd,
			cmd.EventsCmd,
			cmd.VersionCmd,
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.RunContext(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}
