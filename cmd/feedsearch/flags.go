package main

import (
	"fmt"
	"slices"

	"github.com/high-moctane/feedsearch"
	"github.com/urfave/cli/v3"
)

var validLogLevels = []string{"debug", "info", "warn", "error"}

var configFileFlag = &cli.StringFlag{
	Name:    "config",
	Aliases: []string{"c"},
	Usage:   "Path of the YAML config file",
	Value:   feedsearch.DefaultConfigFile,
	Sources: cli.EnvVars("FEEDSEARCH_CONFIG_FILE"),
}

// logLevelFlag overrides log_level of the config file when set.
var logLevelFlag = &cli.StringFlag{
	Name:    "log-level",
	Aliases: []string{"l"},
	Usage:   "The level of the logs",
	Value:   "info",
	Validator: func(value string) error {
		if !slices.Contains(validLogLevels, value) {
			return fmt.Errorf("invalid log level: %s, allowed values are: %s", value, validLogLevels)
		}
		return nil
	},
}

var addrFlag = &cli.StringFlag{
	Name:    "addr",
	Aliases: []string{"a"},
	Usage:   "Listen address, overrides server_addr",
}
