package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"wzrd/pkg/connector"
	"wzrd/pkg/eventlog"
	"wzrd/pkg/protocol"
)

// newServeCmd creates the "wzrd serve" subcommand.
func newServeCmd(g *globals) *cobra.Command {
	var portFile string
	var noStdin bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the creative-suite connector listener",
		Long: "Listens on 127.0.0.1, advertises the port in the port file and hands\n" +
			"the newest scheduled command to each connector that dials in.\n" +
			"Commands are read from stdin, one JSON object per line:\n" +
			`  {"cmd":"create_material","data":{"name":"Bricks","maps":{"albedo":"/t/a.png"}}}`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := g.loadApp(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()
			if portFile == "" {
				portFile = a.paths.PortFile
			}

			run := runFile(a.paths.PIDPath)
			prev, err := run.inspect()
			if err != nil {
				return err
			}
			if prev.Alive {
				return fmt.Errorf("wzrd serve is already running (pid %d, port file %s)", prev.PID, prev.PortFile)
			}

			ctx, stop := signalContext(cmd.Context())
			defer stop()

			store, err := eventlog.Open(ctx, a.paths.DBPath)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			l := connector.NewListener(connector.Config{
				AdvertisePath: portFile,
				IOTimeout:     a.cfg.Connector.IOTimeout.Std(),
				MaxPayload:    a.cfg.Connector.MaxFrame,
				OnReply:       recordReply(store, a.log),
				Logger:        a.log,
			}, &connector.Mailbox{})
			if err := l.Start(ctx); err != nil {
				return err
			}
			defer func() { _ = l.Close() }()

			if err := run.write(os.Getpid(), portFile); err != nil {
				return err
			}
			defer func() { _ = run.remove() }()

			fmt.Fprintf(cmd.OutOrStdout(), "listening on 127.0.0.1:%d (advertised in %s)\n", l.Port(), portFile)

			if !noStdin {
				go func() {
					if err := feedMailbox(ctx, cmd.InOrStdin(), l.Mailbox(), a.log); err != nil {
						a.log.Warn("command input", "err", err)
					}
				}()
			}

			select {
			case <-ctx.Done():
			case <-l.Done():
			}
			a.log.Info("shutting down")
			return nil
		},
	}
	cmd.Flags().StringVar(&portFile, "port-file", "", "advertisement file (default $WZRD_HOME/ports/blender_mset.prt)")
	cmd.Flags().BoolVar(&noStdin, "no-stdin", false, "do not read scheduled commands from stdin")
	return cmd
}

// feedMailbox reads one scheduler command per line from r into mb until r
// is exhausted or ctx ends. Blank lines are ignored; bad lines are logged
// and skipped.
func feedMailbox(ctx context.Context, r io.Reader, mb *connector.Mailbox, log *slog.Logger) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16<<20)
	for sc.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		cmd, err := parseSchedulerCommand([]byte(line))
		if err != nil {
			log.Warn("ignoring command", "err", err)
			continue
		}
		if mb.Put(cmd) {
			log.Warn("replaced undelivered command", "cmd", cmd.Cmd)
		} else {
			log.Info("command queued", "cmd", cmd.Cmd)
		}
	}
	return sc.Err()
}

func parseSchedulerCommand(line []byte) (protocol.SchedulerCommand, error) {
	var cmd protocol.SchedulerCommand
	if err := json.Unmarshal(line, &cmd); err != nil {
		return cmd, &protocol.MalformedPayloadError{Err: err}
	}
	if cmd.Cmd == "" {
		return cmd, errors.New(`command has no "cmd"`)
	}
	if len(cmd.Data) == 0 {
		cmd.Data = json.RawMessage("null")
	}
	return cmd, nil
}

// recordReply logs each connector reply to the event log.
func recordReply(rec eventlog.Recorder, log *slog.Logger) connector.ReplyFunc {
	return func(sent protocol.SchedulerCommand, reply json.RawMessage) {
		ev := protocol.Event{
			Type:    protocol.EvConnectorReply,
			Source:  "connector",
			Item:    sent.Cmd,
			Payload: string(reply),
		}
		if err := rec.Record(context.Background(), ev); err != nil {
			log.Debug("event log", "err", err)
		}
	}
}
