package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"wzrd/pkg/connector"
	"wzrd/pkg/eventlog"
)

// newStatusCmd creates the "wzrd status" subcommand.
func newStatusCmd(g *globals) *cobra.Command {
	var (
		sessions   int
		showConfig bool
	)
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show connector and session state",
		Long:  "Reports whether wzrd serve is running, whether the advertised port\nis live, and the most recent renderer and progress sessions.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := g.loadApp(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()
			w := cmd.OutOrStdout()
			if showConfig {
				data, err := a.cfg.Encode()
				if err != nil {
					return err
				}
				_, err = w.Write(data)
				return err
			}
			return writeStatus(cmd.Context(), w, a, sessions)
		},
	}
	cmd.Flags().IntVarP(&sessions, "sessions", "n", 5, "number of recent sessions to list")
	cmd.Flags().BoolVar(&showConfig, "config", false, "print the effective configuration and exit")
	return cmd
}

func writeStatus(ctx context.Context, w io.Writer, a *app, n int) error {
	t := DefaultTheme()
	fmt.Fprintln(w, t.title("wzrd status"))

	st, err := runFile(a.paths.PIDPath).inspect()
	if err != nil {
		return err
	}
	line := fmt.Sprintf("  serve       %s", t.status(st.status()))
	if st.PID != 0 {
		line += t.muted(fmt.Sprintf(" (pid %d)", st.PID))
	}
	fmt.Fprintln(w, line)

	if st.Alive && st.PortFile != "" {
		// A running serve is not dialed: every connection takes its
		// pending command.
		if st.PortErr != nil {
			fmt.Fprintf(w, "  connector   %s %s\n", t.status("error"), t.muted(st.PortErr.Error()))
		} else {
			fmt.Fprintf(w, "  connector   %s %s\n", t.status("live"), t.muted(fmt.Sprintf("127.0.0.1:%d", st.Port)))
		}
	} else {
		writeAdvertisement(ctx, w, t, a.paths.PortFile)
	}

	if _, err := os.Stat(a.paths.DBPath); errors.Is(err, os.ErrNotExist) {
		fmt.Fprintln(w, t.muted("  no sessions recorded"))
		return nil
	}
	r, err := eventlog.NewReader(a.paths.DBPath)
	if err != nil {
		return err
	}
	defer func() { _ = r.Close() }()
	rows, err := r.Sessions(ctx, n)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		fmt.Fprintln(w, t.muted("  no sessions recorded"))
		return nil
	}
	fmt.Fprintln(w, "  sessions")
	for _, s := range rows {
		fmt.Fprintf(w, "    %s %-8s %-10s pid %-7d %s\n",
			s.OpenedAt.Local().Format(time.DateTime), s.Kind, t.status(s.Status), s.PID, t.muted(s.ID))
	}
	return nil
}

// writeAdvertisement reports an advertisement with no live serve behind it.
// Dialing is the only way to tell a leftover file from a listener run
// outside wzrd serve.
func writeAdvertisement(ctx context.Context, w io.Writer, t Theme, portFile string) {
	cctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	port, err := connector.CheckAdvertisement(cctx, portFile)
	switch {
	case err == nil:
		fmt.Fprintf(w, "  connector   %s %s\n", t.status("live"), t.muted(fmt.Sprintf("127.0.0.1:%d", port)))
	case errors.Is(err, connector.ErrNoAdvertisement):
		fmt.Fprintf(w, "  connector   %s\n", t.status("none"))
	case errors.Is(err, connector.ErrStaleAdvertisement):
		fmt.Fprintf(w, "  connector   %s %s\n", t.status("stale"), t.muted(portFile))
	default:
		fmt.Fprintf(w, "  connector   %s %s\n", t.status("error"), t.muted(err.Error()))
	}
}
