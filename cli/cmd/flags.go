// Package cmd provides CLI commands for the livewatch binary.
package cmd

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/justapithecus/livewatch/cli/config"
	"github.com/justapithecus/livewatch/runtime"
)

// DefaultConfigPath is read when --config is not given.
const DefaultConfigPath = "livewatch.yaml"

// Shared flags.
var (
	// ConfigFlag points at the YAML config file.
	ConfigFlag = &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "Path to livewatch.yaml",
		EnvVars: []string{"LIVEWATCH_CONFIG"},
		Value:   DefaultConfigPath,
	}

	// FormatFlag selects output format: json, table, yaml.
	FormatFlag = &cli.StringFlag{
		Name:    "format",
		Aliases: []string{"f"},
		Usage:   "Output format: json, table, yaml",
	}

	// NoColorFlag disables colored table headers.
	NoColorFlag = &cli.BoolFlag{
		Name:  "no-color",
		Usage: "Disable colored output",
	}
)

// ReadOnlyFlags returns the output flags shared by read-only commands.
func ReadOnlyFlags() []cli.Flag {
	return []cli.Flag{
		FormatFlag,
		NoColorFlag,
	}
}

// ConfigReadFlags returns ReadOnlyFlags plus --config.
func ConfigReadFlags() []cli.Flag {
	return append([]cli.Flag{ConfigFlag}, ReadOnlyFlags()...)
}

// loadConfig reads --config, applies overrides and defaults, and
// validates. Failures exit with runtime.ExitConfig.
func loadConfig(c *cli.Context, override func(*config.Config)) (*config.Config, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, cli.Exit(err.Error(), runtime.ExitConfig)
	}
	if override != nil {
		override(cfg)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, cli.Exit(fmt.Sprintf("invalid config %s:\n%v", c.String("config"), err), runtime.ExitConfig)
	}
	return cfg, nil
}
