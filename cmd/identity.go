package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/storacha/poe/cmd/enum"
)

var IdentityCmd = &cli.Command{
	Name:    "identity",
	Aliases: []string{"id"},
	Usage:   "Identity tools.",
	Subcommands: []*cli.Command{
		{
			Name:      "generate",
			Aliases:   []string{"gen"},
			Usage:     "Generate a new decentralized identity. The key is written to stdout and the DID to stderr.",
			UsageText: "poe identity generate --format pem > my-key.pem",
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:  "format",
					Value: enum.KeyFormats.PEM.String(),
					Usage: fmt.Sprintf("key encoding, one of %s", strings.Join(enum.KeyFormats.Names(), ", ")),
					Action: func(_ *cli.Context, s string) error {
						if !enum.ParseKeyFormat(s).IsValid() {
							return fmt.Errorf("unsupported key format: %q", s)
						}
						return nil
					},
				},
			},
			Action: func(cCtx *cli.Context) error {
				signer, key, err := CreateSignerKeyPair(enum.ParseKeyFormat(cCtx.String("format")))
				if err != nil {
					return err
				}
				fmt.Fprintf(os.Stderr, "# %s\n", signer.DID())
				fmt.Fprintln(cCtx.App.Writer, strings.TrimSpace(string(key)))
				return nil
			},
		},
		{
			Name:      "parse",
			Usage:     "Print the DID of a .pem or .json key file.",
			ArgsUsage: "<key-file>",
			Action: func(cCtx *cli.Context) error {
				if cCtx.NArg() != 1 {
					return fmt.Errorf("expected exactly one key file argument")
				}
				signer, err := PrincipalSignerFromFile(cCtx.Args().First())
				if err != nil {
					return err
				}
				fmt.Fprintln(cCtx.App.Writer, signer.DID())
				return nil
			},
		},
	},
}
