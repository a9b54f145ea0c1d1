package progress

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"wzrd/pkg/eventlog"
	"wzrd/pkg/procs"
	"wzrd/pkg/protocol"
)

// DefaultAcceptTimeout bounds how long Open waits for the display to dial in.
const DefaultAcceptTimeout = 30 * time.Second

// Config describes how to launch the display process. Args may contain
// "{port}"; the port is also appended as the last argument when no
// argument mentions it.
type Config struct {
	Executable    string
	Args          []string
	Env           []string
	AcceptTimeout time.Duration
	// Terminal hands the parent's terminal to the display.
	Terminal bool

	Procs  *procs.Manager
	Events eventlog.Recorder
	Logger *slog.Logger
}

// Session is one display process fed by a Sender.
type Session struct {
	ID   string
	Port int

	log    *slog.Logger
	conn   net.Conn
	send   *Sender
	proc   *procs.Process
	procs  *procs.Manager
	events eventlog.Recorder

	closeOnce sync.Once
	closeErr  error
}

// Open spawns the display, accepts its connection and sends the bar count.
func Open(ctx context.Context, cfg Config, bars uint16) (*Session, error) {
	if cfg.AcceptTimeout == 0 {
		cfg.AcceptTimeout = DefaultAcceptTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Procs == nil {
		cfg.Procs = procs.NewManager("", cfg.Logger)
	}
	if cfg.Events == nil {
		cfg.Events = eventlog.Discard{}
	}
	id := uuid.NewString()
	log := cfg.Logger.With("component", "progress", "session", id)

	cb, err := cfg.Procs.SpawnCallback(ctx, cfg.AcceptTimeout, func(port int) procs.Spec {
		return procs.Spec{ID: "progress-" + id, Path: cfg.Executable, Args: displayArgs(cfg.Args, port), Env: cfg.Env, Terminal: cfg.Terminal}
	})
	if err != nil {
		return nil, fmt.Errorf("open progress display: %w", err)
	}

	s := &Session{
		ID:     id,
		Port:   cb.Port,
		log:    log.With("pid", cb.Process.PID, "port", cb.Port),
		conn:   cb.Conn,
		send:   NewSender(cb.Conn),
		proc:   cb.Process,
		procs:  cfg.Procs,
		events: cfg.Events,
	}
	if err := s.send.Start(bars); err != nil {
		_ = cb.Conn.Close()
		_ = cfg.Procs.Terminate(cb.Process)
		return nil, fmt.Errorf("progress handshake: %w", err)
	}
	row := protocol.SessionRow{ID: id, Kind: "progress", Port: cb.Port, PID: cb.Process.PID}
	if err := cfg.Events.OpenSession(ctx, row); err != nil {
		s.log.Warn("event log", "err", err)
	}
	s.log.Info("progress display connected", "bars", bars)
	return s, nil
}

func displayArgs(tmpl []string, port int) []string {
	p := strconv.Itoa(port)
	out := make([]string, 0, len(tmpl)+1)
	found := false
	for _, a := range tmpl {
		if strings.Contains(a, "{port}") {
			found = true
			a = strings.ReplaceAll(a, "{port}", p)
		}
		out = append(out, a)
	}
	if !found {
		out = append(out, p)
	}
	return out
}

// Update sets one bar. ErrCancelled means the user closed the display.
func (s *Session) Update(idx uint16, fraction float64, msg string) error {
	return s.send.Update(idx, fraction, msg)
}

// Exited is closed once the display process has exited.
func (s *Session) Exited() <-chan struct{} {
	return s.proc.Exited()
}

// Close sends DIE and closes the connection, exactly once. A display the
// user already closed is not an error.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		status := "closed"
		err := s.send.Die()
		if errors.Is(err, ErrCancelled) {
			status, err = "cancelled", nil
		}
		if cerr := s.conn.Close(); err == nil && cerr != nil && !errors.Is(cerr, net.ErrClosed) {
			err = cerr
		}
		s.closeErr = err
		s.recordClose(status)
	})
	return s.closeErr
}

// Terminate closes the connection and force-stops the display.
func (s *Session) Terminate() error {
	s.closeOnce.Do(func() {
		_ = s.conn.Close()
		s.recordClose("terminated")
	})
	return s.procs.Terminate(s.proc)
}

func (s *Session) recordClose(status string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.events.CloseSession(ctx, s.ID, status); err != nil {
		s.log.Debug("event log", "err", err)
	}
	s.log.Info("progress session closed", "status", status)
}
