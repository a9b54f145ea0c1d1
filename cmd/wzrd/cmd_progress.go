package main

import (
	"errors"
	"io"
	"os"

	"github.com/spf13/cobra"

	"wzrd/internal/logging"
	"wzrd/pkg/progress"
	"wzrd/pkg/renderer"
)

// newProgressCmd creates the "wzrd progress" subcommand, the display child
// started by "wzrd render".
func newProgressCmd(g *globals) *cobra.Command {
	var (
		port  int
		plain bool
	)
	cmd := &cobra.Command{
		Use:    "progress",
		Short:  "Show batch progress sent by a parent wzrd (internal)",
		Hidden: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if port <= 0 || port > 65535 {
				return errors.New("--port is required")
			}
			tui := !plain && logging.IsTerminal(os.Stdout)
			logOut := cmd.ErrOrStderr()
			if tui {
				logOut = io.Discard
			}
			a, err := g.loadApp(logOut)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signalContext(cmd.Context())
			defer stop()

			conn, err := renderer.Dial(ctx, port)
			if err != nil {
				return err
			}
			a.log.Info("progress display connected", "port", port)
			return progress.RunDisplay(ctx, conn, progress.DisplayConfig{
				Plain: !tui,
				Out:   cmd.OutOrStdout(),
			})
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, "parent's loopback port")
	cmd.Flags().BoolVar(&plain, "plain", false, "print plain lines instead of the terminal UI")
	return cmd
}
