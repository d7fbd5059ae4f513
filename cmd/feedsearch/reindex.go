package main

import (
	"context"
	"time"

	"github.com/urfave/cli/v3"
)

var reindexCmd = &cli.Command{
	Name:  "reindex",
	Usage: "Rebuild the text index from the stored posts",
	Action: func(ctx context.Context, c *cli.Command) error {
		a := appFrom(ctx)

		b, err := openBackend(ctx, a.cfg, a.logger)
		if err != nil {
			return err
		}
		defer b.Close()

		start := time.Now()
		n, err := b.rebuildTextIndex(ctx)
		if err != nil {
			return err
		}

		a.logger.InfoContext(ctx, "text index rebuilt, send SIGHUP to a running server to pick it up",
			"posts", n,
			"elapsed", time.Since(start),
		)
		return nil
	},
}
