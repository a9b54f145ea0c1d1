package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"wzrd/pkg/connector"
	"wzrd/pkg/protocol"
)

// newConnectCmd creates the "wzrd connect" subcommand: one pull from the
// connector listener, the way the creative-suite side polls it.
func newConnectCmd(g *globals) *cobra.Command {
	var (
		portFile string
		wait     time.Duration
		asJSON   bool
	)
	cmd := &cobra.Command{
		Use:   "connect",
		Short: "Pull one scheduled command from a running wzrd serve",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := g.loadApp(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()
			if portFile == "" {
				portFile = a.paths.PortFile
			}

			ctx := cmd.Context()
			if wait > 0 {
				wctx, cancel := context.WithTimeout(ctx, wait)
				_, err := connector.WaitForAdvertisement(wctx, portFile)
				cancel()
				if err != nil {
					return err
				}
			}

			ex, err := connector.Pull(ctx, portFile, echoActions(cmd.OutOrStdout()))
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(ex)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "port %d: %s -> %s %s\n", ex.Port, ex.Command.Cmd, ex.Reply.Status, ex.Reply.Info)
			return nil
		},
	}
	cmd.Flags().StringVar(&portFile, "port-file", "", "advertisement file (default $WZRD_HOME/ports/blender_mset.prt)")
	cmd.Flags().DurationVar(&wait, "wait", 0, "wait up to this long for the port file to appear")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the exchange as JSON")
	return cmd
}

// echoActions answers create_material and set_mask_fill by describing them
// on w. A creative-suite host registers real actions instead.
func echoActions(w io.Writer) connector.Actions {
	actions := connector.DefaultActions()
	actions[protocol.SchedCreateMaterial] = func(_ context.Context, data json.RawMessage) (protocol.Reply, error) {
		var d protocol.CreateMaterialData
		if err := json.Unmarshal(data, &d); err != nil {
			return protocol.Reply{}, fmt.Errorf("create_material data: %w", err)
		}
		if d.Name == "" {
			return protocol.Reply{}, fmt.Errorf("create_material: name is required")
		}
		fmt.Fprintf(w, "create material %q with %d maps\n", d.Name, len(d.Maps))
		return protocol.Reply{Status: protocol.ReplyOK, Info: d.Name}, nil
	}
	actions[protocol.SchedSetMaskFill] = func(_ context.Context, data json.RawMessage) (protocol.Reply, error) {
		var d protocol.MaskFillData
		if err := json.Unmarshal(data, &d); err != nil {
			return protocol.Reply{}, fmt.Errorf("set_mask_fill data: %w", err)
		}
		fmt.Fprintf(w, "set mask fill albedo %s\n", d.Albedo)
		return protocol.Reply{Status: protocol.ReplyOK}, nil
	}
	return actions
}
