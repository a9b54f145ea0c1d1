package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"wzrd/pkg/eventlog"
)

// newEventsCmd creates the "wzrd events" subcommand.
func newEventsCmd(g *globals) *cobra.Command {
	var (
		opts   eventlog.QueryOpts
		since  time.Duration
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Query the session and render event log",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := g.loadApp(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()

			if since > 0 {
				after := time.Now().Add(-since)
				opts.After = &after
			}
			r, err := eventlog.NewReader(a.paths.DBPath)
			if err != nil {
				return err
			}
			defer func() { _ = r.Close() }()

			events, err := r.Events(cmd.Context(), opts)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(w)
				for _, ev := range events {
					if err := enc.Encode(ev); err != nil {
						return err
					}
				}
				return nil
			}
			t := DefaultTheme()
			for _, ev := range events {
				fmt.Fprintf(w, "%s %-16s %-10s %-20s %s\n",
					ev.CreatedAt.Local().Format(time.DateTime), t.status(ev.Type), ev.Source, ev.Item, t.muted(ev.Payload))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.SessionID, "session", "", "only events of this session")
	cmd.Flags().StringVar(&opts.EventType, "type", "", "only events of this type (render_ok, render_failed, ...)")
	cmd.Flags().IntVarP(&opts.Limit, "limit", "n", 50, "maximum number of events")
	cmd.Flags().DurationVar(&since, "since", 0, "only events newer than this (e.g. 1h)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print events as JSON lines")
	return cmd
}
