package cmd

import (
	"github.com/urfave/cli/v2"

	"github.com/storacha/poe/pkg/config"
)

var ConfigFlag = &cli.StringFlag{
	Name:    "config",
	Usage:   "Path to configuration file.",
	EnvVars: []string{"POE_CONFIG"},
}

var KeyFileFlag = &cli.PathFlag{
	Name:      "key-file",
	Aliases:   []string{"k"},
	Usage:     "Path to a file containing ed25519 private key, typically created by the id gen command.",
	EnvVars:   []string{"POE_PRIVATE_KEY"},
	TakesFile: true,
}

var DataDirFlag = &cli.StringFlag{
	Name:    "data-dir",
	Aliases: []string{"d"},
	Usage:   "Root directory to store data in.",
	EnvVars: []string{"POE_DATA_DIR"},
}

var NodeURLFlag = &cli.StringFlag{
	Name:    "node-url",
	Aliases: []string{"nu"},
	Usage:   "URL of the registry node.",
	Value:   "http://localhost:3000",
	EnvVars: []string{"POE_NODE_URL"},
}

var NodeDIDFlag = &cli.StringFlag{
	Name:    "node-did",
	Aliases: []string{"nd"},
	Usage:   "DID of the registry node, used as the audience of bearer tokens.",
	EnvVars: []string{"POE_NODE_DID"},
}

var BearerFlag = &cli.BoolFlag{
	Name:  "bearer",
	Usage: "Authenticate with a bearer token instead of submitting a signed transaction.",
}

var ClientFlags = []cli.Flag{
	RequiredPathFlag(KeyFileFlag),
	NodeURLFlag,
	NodeDIDFlag,
	BearerFlag,
}

var ServeFlags = []cli.Flag{
	ConfigFlag,
	KeyFileFlag,
	DataDirFlag,
	&cli.IntFlag{
		Name:    "port",
		Aliases: []string{"p"},
		Value:   config.DefaultServicePort,
		Usage:   "Port to bind the server to.",
	},
	&cli.StringFlag{
		Name:    "public-url",
		Aliases: []string{"u"},
		Usage:   "URL the node is publically accessible at.",
	},
	&cli.IntFlag{
		Name:  "max-claim-length",
		Usage: "Maximum fingerprint length in bytes accepted on create. 0 is unbounded.",
	},
	&cli.StringFlag{
		Name:  "key-hash",
		Usage: "Hash used to derive storage keys from fingerprints (blake2b-128 or sha2-256).",
	},
	&cli.BoolFlag{
		Name:  "require-did-key",
		Usage: "Only accept did:key transfer destinations.",
	},
	&cli.DurationFlag{
		Name:  "block-time",
		Usage: "Interval between blocks. When 0 each delivered transaction produces a block.",
	},
	&cli.StringFlag{
		Name:  "sentry-dsn",
		Usage: "Sentry DSN errors are reported to.",
	},
	&cli.StringFlag{
		Name:  "environment",
		Usage: "Environment name reported with errors.",
	},
}

func RequiredPathFlag(f *cli.PathFlag) *cli.PathFlag {
	copy := *f
	copy.Required = true
	return &copy
}

func RequiredStringFlag(strFlag *cli.StringFlag) *cli.StringFlag {
	copy := *strFlag
	copy.Required = true
	return &copy
}
