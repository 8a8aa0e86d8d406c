package cmd

import (
	"fmt"
	"net/url"
	"os"
	"path"

	logging "github.com/ipfs/go-log/v2"
	"github.com/storacha/go-ucanto/did"
	"github.com/urfave/cli/v2"

	"github.com/storacha/poe/pkg/build"
	"github.com/storacha/poe/pkg/client"
	"github.com/storacha/poe/pkg/store/claimstore/claim"
)

var log = logging.Logger("cmd")

func PrintHero(id did.DID, addr string) {
	fmt.Printf(`
 ████▄  ▄███▄  ████
 █   █  █   █  █▄▄
 ████▀  █   █  █
 █      ▀███▀  ████

📜 poe %s
🆔 %s
🌐 %s
🚀 Ready!
`, build.Version, id.String(), addr)
}

func mkdirp(dirpath ...string) (string, error) {
	dir := path.Join(dirpath...)
	err := os.MkdirAll(dir, 0755)
	if err != nil {
		return "", fmt.Errorf("creating directory: %s: %w", dir, err)
	}
	return dir, nil
}

// fingerprintArg parses the first positional argument as a claim fingerprint.
func fingerprintArg(cCtx *cli.Context) ([]byte, error) {
	if cCtx.NArg() < 1 {
		return nil, fmt.Errorf("missing fingerprint argument")
	}
	fp, err := claim.ParseFingerprint(cCtx.Args().First())
	if err != nil {
		return nil, fmt.Errorf("parsing fingerprint: %w", err)
	}
	return fp, nil
}

// newClient builds a node client from the client flags. The identity is
// optional for read only commands.
func newClient(cCtx *cli.Context) (*client.Client, error) {
	nodeURL, err := url.Parse(cCtx.String(NodeURLFlag.Name))
	if err != nil {
		return nil, fmt.Errorf("parsing node URL: %w", err)
	}

	cfg := client.Config{NodeURL: *nodeURL, Audience: cCtx.String(NodeDIDFlag.Name)}
	if keyFile := cCtx.Path(KeyFileFlag.Name); keyFile != "" {
		id, err := PrincipalSignerFromFile(keyFile)
		if err != nil {
			return nil, err
		}
		cfg.ID = id
	}
	return client.New(cfg), nil
}
