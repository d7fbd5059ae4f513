package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/high-moctane/feedsearch"
	"github.com/urfave/cli/v3"
)

const version = "0.1.0"

type app struct {
	cfg    *feedsearch.Config
	logger *slog.Logger
}

type ctxKeyApp struct{}

func appFrom(ctx context.Context) *app {
	return ctx.Value(ctxKeyApp{}).(*app)
}

var cmd = &cli.Command{
	Name:    "feedsearch",
	Usage:   "Content search for the social feed",
	Version: version,
	Flags: []cli.Flag{
		configFileFlag,
		logLevelFlag,
	},
	Before: func(ctx context.Context, c *cli.Command) (context.Context, error) {
		cfg, err := feedsearch.LoadConfigFrom(c.String(configFileFlag.Name))
		if err != nil {
			return ctx, err
		}

		level := cfg.LogLevel
		if c.IsSet(logLevelFlag.Name) {
			level = c.String(logLevelFlag.Name)
		}
		logger, err := newLogger(level)
		if err != nil {
			return ctx, err
		}

		return context.WithValue(ctx, ctxKeyApp{}, &app{cfg: cfg, logger: logger}), nil
	},
	Commands: []*cli.Command{
		serveCmd,
		reindexCmd,
	},
}

func main() {
	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
