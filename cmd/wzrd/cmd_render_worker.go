package main

import (
	"errors"

	"github.com/spf13/cobra"

	"wzrd/pkg/renderer"
)

// newRenderWorkerCmd creates the "wzrd render-worker" subcommand, the
// built-in renderer child started by "wzrd render".
func newRenderWorkerCmd(g *globals) *cobra.Command {
	var (
		port    int
		baseDir string
	)
	cmd := &cobra.Command{
		Use:    "render-worker",
		Short:  "Serve render requests from a parent wzrd (internal)",
		Hidden: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if port <= 0 || port > 65535 {
				return errors.New("--port is required")
			}
			a, err := g.loadApp(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signalContext(cmd.Context())
			defer stop()
			return renderer.RunWorker(ctx, port, renderer.Placeholder{BaseDir: baseDir}, a.log.With("component", "render-worker"))
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, "parent's loopback port")
	cmd.Flags().StringVar(&baseDir, "base-dir", "", "directory // output paths are relative to (default: working directory)")
	return cmd
}
