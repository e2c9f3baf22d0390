package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/justapithecus/livewatch/cli/config"
	"github.com/justapithecus/livewatch/cli/tui"
	"github.com/justapithecus/livewatch/iox"
	"github.com/justapithecus/livewatch/log"
	"github.com/justapithecus/livewatch/runtime"
)

// RunCommand returns the run command. It is the only command that opens
// live streams or sends claims.
func RunCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Watch the configured searches and claim results",
		Flags: []cli.Flag{
			ConfigFlag,
			&cli.StringFlag{
				Name:    "session",
				Usage:   "Session credential (overrides account.session)",
				EnvVars: []string{"LIVEWATCH_SESSION"},
			},
			&cli.StringFlag{
				Name:  "league",
				Usage: "Default league for searches without one",
			},
			&cli.IntFlag{
				Name:  "max-listeners",
				Usage: "Cap on concurrent listeners (at most 20)",
			},
			// Action flags
			&cli.BoolFlag{
				Name:  "actions",
				Usage: "Enable the claim pipeline",
			},
			&cli.BoolFlag{
				Name:  "auto",
				Usage: "Claim automatically when results arrive",
			},
			// Storage flags
			&cli.StringFlag{
				Name:  "archive",
				Usage: "Claim archive backend: none, fs or s3",
			},
			&cli.StringFlag{
				Name:  "archive-path",
				Usage: "Archive location (fs: directory, s3: bucket/prefix)",
			},
			// Output flags
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Log level: debug, info, warn, error",
			},
			&cli.StringFlag{
				Name:  "log-file",
				Usage: "Append logs to this file instead of stderr",
			},
			&cli.BoolFlag{
				Name:  "tui",
				Usage: "Show the interactive dashboard",
			},
			&cli.StringFlag{
				Name:  "report",
				Usage: "Write a JSON session report on exit (- for stderr)",
			},
		},
		Action: runAction,
	}
}

// runOverrides copies explicitly set flags over the file config.
func runOverrides(c *cli.Context) func(*config.Config) {
	return func(cfg *config.Config) {
		if c.IsSet("session") {
			cfg.Account.Session = c.String("session")
		}
		if c.IsSet("league") {
			cfg.League = c.String("league")
		}
		if c.IsSet("max-listeners") {
			cfg.Supervisor.MaxListeners = c.Int("max-listeners")
		}
		if c.IsSet("actions") {
			cfg.Action.Enabled = c.Bool("actions")
		}
		if c.IsSet("auto") {
			cfg.Action.Auto = c.Bool("auto")
		}
		if c.IsSet("archive") {
			cfg.Archive.Backend = c.String("archive")
		}
		if c.IsSet("archive-path") {
			cfg.Archive.Path = c.String("archive-path")
		}
		if c.IsSet("log-level") {
			cfg.Log.Level = c.String("log-level")
		}
	}
}

func runAction(c *cli.Context) error {
	cfg, err := loadConfig(c, runOverrides(c))
	if err != nil {
		return err
	}

	out, closeLog, err := logOutput(c.String("log-file"), c.Bool("tui"))
	if err != nil {
		return cli.Exit(err.Error(), runtime.ExitConfig)
	}
	defer closeLog()

	level, _ := log.ParseLevel(cfg.Log.Level)
	logger := log.NewLoggerWithWriter(out, level)
	defer iox.DiscardErr(logger.Sync)

	for _, w := range cfg.Warnings() {
		logger.Warn("config warning", map[string]any{"warning": w})
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	engine, err := runtime.New(ctx, cfg, runtime.Options{Logger: logger})
	if err != nil {
		return cli.Exit(fmt.Sprintf("failed to start: %v", err), runtime.ExitConfig)
	}

	var runErr error
	if c.Bool("tui") {
		runErr = runWithDashboard(ctx, engine)
	} else {
		runErr = engine.Run(ctx)
	}

	view := engine.Observe()
	code := runtime.ExitCodeFor(runErr, view)
	if path := c.String("report"); path != "" {
		report := runtime.BuildSessionReport(view, runErr, code)
		if err := runtime.WriteSessionReport(report, path); err != nil {
			logger.Error("failed to write session report", map[string]any{"error": err.Error()})
		}
	}

	if runErr != nil {
		return cli.Exit(fmt.Sprintf("run failed: %v", runErr), code)
	}
	return cli.Exit("", code)
}

// runWithDashboard runs the engine until the dashboard quits or ctx ends.
func runWithDashboard(ctx context.Context, engine *runtime.Engine) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- engine.Run(runCtx) }()

	tuiErr := tui.Run(runCtx, engine)
	cancel()
	if err := <-done; err != nil {
		return err
	}
	return tuiErr
}

// logOutput picks the log destination. The dashboard owns the terminal,
// so without --log-file its logs are discarded.
func logOutput(path string, dashboard bool) (io.Writer, func(), error) {
	if path != "" {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("cannot open log file: %w", err)
		}
		return f, func() { _ = f.Close() }, nil
	}
	if dashboard {
		return io.Discard, func() {}, nil
	}
	return os.Stderr, func() {}, nil
}
