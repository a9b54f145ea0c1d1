package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"wzrd/internal/logging"
	"wzrd/pkg/batch"
	"wzrd/pkg/eventlog"
	"wzrd/pkg/procs"
	"wzrd/pkg/progress"
	"wzrd/pkg/renderer"
)

type renderOpts struct {
	outDir     string
	noProgress bool
}

// newRenderCmd creates the "wzrd render" subcommand.
func newRenderCmd(g *globals) *cobra.Command {
	var opts renderOpts
	cmd := &cobra.Command{
		Use:   "render MANIFEST",
		Short: "Render a batch of material previews",
		Long: "Starts one renderer child, renders every item of the YAML manifest\n" +
			"through it and shows progress in a separate display process.\n" +
			"Closing the display cancels the batch.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRender(cmd, g, args[0], opts)
		},
	}
	cmd.Flags().StringVarP(&opts.outDir, "out", "o", "", "directory for previews rendered as bytes")
	cmd.Flags().BoolVar(&opts.noProgress, "no-progress", false, "do not start the progress display")
	return cmd
}

func runRender(cmd *cobra.Command, g *globals, manifestPath string, opts renderOpts) error {
	tty := logging.IsTerminal(os.Stdout)
	out := cmd.OutOrStdout()

	m, err := batch.LoadManifest(manifestPath)
	if err != nil {
		return err
	}

	paths, cfg, err := g.resolve()
	if err != nil {
		return err
	}
	display := !opts.noProgress && !cfg.Display.Disabled
	// The display owns the terminal while it runs.
	logOut := cmd.ErrOrStderr()
	if display && tty {
		logOut = io.Discard
	}
	a, err := g.newApp(paths, cfg, logOut)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signalContext(cmd.Context())
	defer stop()

	store, err := eventlog.Open(ctx, a.paths.DBPath)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	pm := procs.NewManager(a.paths.LogDir, a.log)
	defer pm.TerminateAll()

	rcfg, err := rendererConfig(a, m, pm, store)
	if err != nil {
		return err
	}
	stepOut := out
	if display && tty {
		stepOut = io.Discard
	}
	steps := newStepLog(stepOut, tty)

	done := steps.Spin("Starting renderer")
	rs, err := renderer.Open(ctx, rcfg)
	done(err)
	if err != nil {
		return err
	}
	defer func() { _ = rs.Close() }()

	var bars batch.Progress
	var ps *progress.Session
	if display {
		pcfg, err := displayConfig(a, pm, store, tty)
		if err != nil {
			return err
		}
		ps, err = progress.Open(ctx, pcfg, batch.Bars)
		if err != nil {
			a.log.Warn("progress display unavailable", "err", err)
			steps.Fail("Progress display", err)
		} else {
			steps.Step("Progress display connected")
			bars = ps
			defer func() { _ = ps.Close() }()
		}
	}

	rep, err := batch.Run(ctx, m, rs, batch.Options{
		OutDir:    opts.outDir,
		SessionID: rs.ID,
		Progress:  bars,
		Events:    store,
		Logger:    a.log,
	})
	if ps != nil {
		_ = ps.Close()
		<-waitExited(ps.Exited(), a.cfg.Display.AcceptTimeout.Std())
	}
	printReport(out, rep)
	switch {
	case errors.Is(err, progress.ErrCancelled):
		fmt.Fprintln(out, DefaultTheme().status("cancelled"))
		return nil
	case err != nil:
		return err
	}
	return nil
}

// waitExited returns a channel closed when exited closes or d passes.
func waitExited(exited <-chan struct{}, d time.Duration) <-chan struct{} {
	ch := make(chan struct{})
	go func() {
		defer close(ch)
		select {
		case <-exited:
		case <-time.After(d):
		}
	}()
	return ch
}

func rendererConfig(a *app, m *batch.Manifest, pm *procs.Manager, rec eventlog.Recorder) (renderer.Config, error) {
	rc := a.cfg.Renderer
	exe := rc.Executable
	if exe == "" {
		self, err := selfExecutable()
		if err != nil {
			return renderer.Config{}, err
		}
		exe = self
	}
	return renderer.Config{
		Executable:    exe,
		Args:          rc.Args,
		Scenes:        rc.SceneMap(),
		Shape:         m.Defaults.Shape,
		InitScript:    rc.InitScript,
		Script:        rc.Script,
		AcceptTimeout: rc.AcceptTimeout.Std(),
		RenderTimeout: rc.RenderTimeout.Std(),
		MaxPayload:    rc.MaxFrame,
		Procs:         pm,
		Events:        rec,
		Logger:        a.log,
	}, nil
}

func displayConfig(a *app, pm *procs.Manager, rec eventlog.Recorder, tty bool) (progress.Config, error) {
	dc := a.cfg.Display
	exe := dc.Executable
	if exe == "" {
		self, err := selfExecutable()
		if err != nil {
			return progress.Config{}, err
		}
		exe = self
	}
	return progress.Config{
		Executable:    exe,
		Args:          dc.Args,
		AcceptTimeout: dc.AcceptTimeout.Std(),
		Terminal:      tty,
		Procs:         pm,
		Events:        rec,
		Logger:        a.log,
	}, nil
}

func printReport(w io.Writer, rep *batch.Report) {
	if rep == nil {
		return
	}
	t := DefaultTheme()
	fmt.Fprintln(w, t.title("Asset Wizard batch"))
	for _, it := range rep.Items {
		switch {
		case it.Result.Failed:
			fmt.Fprintf(w, "  %s %s %s\n", t.status("failed"), it.Name, t.muted(it.Result.Reason))
		case it.File != "":
			fmt.Fprintf(w, "  %s %s %s\n", t.status("ok"), it.Name, t.muted(it.File))
		case it.Result.Path != "":
			fmt.Fprintf(w, "  %s %s %s\n", t.status("ok"), it.Name, t.muted(it.Result.Path))
		default:
			fmt.Fprintf(w, "  %s %s %s\n", t.status("ok"), it.Name, t.muted(fmt.Sprintf("%d bytes", len(it.Result.Image))))
		}
	}
	fmt.Fprintf(w, "%d rendered, %d failed\n", rep.Rendered, rep.Failed)
}
