package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/urfave/cli/v2"

	"github.com/storacha/poe/pkg/events"
	"github.com/storacha/poe/pkg/server"
)

var EventsCmd = &cli.Command{
	Name:  "events",
	Usage: "Read the event journal of a node.",
	Flags: []cli.Flag{
		NodeURLFlag,
		&cli.Uint64Flag{
			Name:  "since",
			Usage: "Only show events with a sequence number greater than this.",
		},
		&cli.IntFlag{
			Name:  "limit",
			Usage: "Maximum number of events to show. 0 shows all of them.",
		},
		&cli.BoolFlag{
			Name:    "follow",
			Aliases: []string{"f"},
			Usage:   "Keep streaming events as they are committed.",
		},
		&cli.StringSliceFlag{
			Name:  "kind",
			Usage: "Only stream events of this kind when following (ClaimCreated, ClaimRevoked, ClaimTransferred).",
		},
	},
	Action: func(cCtx *cli.Context) error {
		c, err := newClient(cCtx)
		if err != nil {
			return err
		}
		w := cCtx.App.Writer

		if !cCtx.Bool("follow") {
			records, err := c.Events(cCtx.Context, cCtx.Uint64("since"), cCtx.Int("limit"))
			if err != nil {
				return err
			}
			for _, e := range records {
				printEvent(w, e)
			}
			return nil
		}

		var kinds []events.Kind
		for _, k := range cCtx.StringSlice("kind") {
			kinds = append(kinds, events.Kind(k))
		}
		err = c.Stream(cCtx.Context, func(e server.EventResponse) error {
			printEvent(w, e)
			return nil
		}, kinds...)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	},
}

func printEvent(w io.Writer, e server.EventResponse) {
	seq := "-"
	if e.Seq != 0 {
		seq = fmt.Sprint(uint64(e.Seq))
	}
	switch e.Kind {
	case events.KindClaimTransferred:
		fmt.Fprintf(w, "%s\t%s\t%s\t%s -> %s\n", seq, e.Kind, e.Fingerprint, e.From, e.To)
	default:
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", seq, e.Kind, e.Fingerprint, e.Owner)
	}
}
