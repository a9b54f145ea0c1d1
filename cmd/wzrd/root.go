package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"wzrd/internal/appversion"
	"wzrd/internal/config"
	"wzrd/internal/logging"
)

// globals are the persistent flags shared by every subcommand.
type globals struct {
	logLevel  string
	logFormat string
}

// app is the per-invocation environment: resolved paths, config and logger.
type app struct {
	paths    *config.Paths
	cfg      config.Config
	log      *slog.Logger
	closeLog func() error
}

// loadApp resolves paths, reads config.toml and builds the logger.
func (g *globals) loadApp(logOut io.Writer) (*app, error) {
	paths, cfg, err := g.resolve()
	if err != nil {
		return nil, err
	}
	return g.newApp(paths, cfg, logOut)
}

// resolve returns the state paths and the effective config.
func (g *globals) resolve() (*config.Paths, config.Config, error) {
	paths, err := config.ResolvePaths()
	if err != nil {
		return nil, config.Config{}, err
	}
	cfg, err := config.Load(paths.ConfigPath)
	if err != nil {
		return nil, cfg, err
	}
	if g.logLevel != "" {
		cfg.Log.Level = g.logLevel
	}
	if g.logFormat != "" {
		cfg.Log.Format = g.logFormat
	}
	return paths, cfg, nil
}

// newApp builds the logger. Console logs go to logOut; io.Discard (used
// while a child owns the terminal) sends them to the log file instead.
func (g *globals) newApp(paths *config.Paths, cfg config.Config, logOut io.Writer) (*app, error) {
	opts := logging.Options{Level: cfg.Log.Level, Format: cfg.Log.Format}
	if cfg.Log.File || logOut == io.Discard {
		opts.LogDir = paths.LogDir
	}
	log, closeLog, err := logging.New(logOut, opts)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(log)
	return &app{paths: paths, cfg: cfg, log: log, closeLog: closeLog}, nil
}

func (a *app) Close() {
	if a.closeLog != nil {
		_ = a.closeLog()
	}
}

// newRootCmd creates the root wzrd command with all subcommands attached.
func newRootCmd() *cobra.Command {
	g := &globals{}
	cmd := &cobra.Command{
		Use:           "wzrd",
		Short:         "Asset wizard process orchestration",
		Long:          "wzrd runs the asset wizard's background pieces: the creative-suite\nconnector, batch preview rendering and the progress display.",
		Version:       fmt.Sprintf("wzrd %s", appversion.String()),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetVersionTemplate("{{.Version}}\n")
	cmd.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "log level: debug, info, warn, error (overrides config)")
	cmd.PersistentFlags().StringVar(&g.logFormat, "log-format", "", "log format: auto, text, json (overrides config)")

	cmd.AddCommand(
		newServeCmd(g),
		newConnectCmd(g),
		newRenderCmd(g),
		newRenderWorkerCmd(g),
		newProgressCmd(g),
		newStatusCmd(g),
		newEventsCmd(g),
	)
	return cmd
}

// selfExecutable returns the running binary, used as the default child.
func selfExecutable() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("locate wzrd binary: %w", err)
	}
	return exe, nil
}
