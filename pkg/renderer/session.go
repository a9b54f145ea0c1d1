// Package renderer drives an offline renderer running in a child process.
//
// The parent side (Session) listens on an ephemeral loopback port, spawns
// the child with that port on its command line, accepts exactly one
// callback connection and then exchanges do_render/render_output frames
// with it over a tagged channel. The child side (Serve, Dial) runs inside
// the spawned process.
package renderer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"wzrd/pkg/channel"
	"wzrd/pkg/frame"
	"wzrd/pkg/procs"
	"wzrd/pkg/protocol"
)

// ErrSessionClosed is returned by Render after Close or Terminate.
var ErrSessionClosed = errors.New("render session closed")

// ErrSessionBroken is returned by Render once an earlier call left the
// stream unusable.
var ErrSessionBroken = errors.New("render session broken")

// Session status values written to the event log.
const (
	statusClosed     = "closed"
	statusTerminated = "terminated"
	statusFailed     = "failed"
)

// Session is one renderer child and its paired connection.
type Session struct {
	ID   string
	Port int

	cfg  Config
	log  *slog.Logger
	ch   *channel.Tagged
	proc *procs.Process

	mu     sync.Mutex
	broken error

	closeOnce sync.Once
	closed    chan struct{}
	closeErr  error
}

// Open listens on 127.0.0.1, spawns the child and waits for its handshake
// connection. Waiting ends early if ctx is done, AcceptTimeout passes or the
// child exits; in every failure case the child is terminated.
func Open(ctx context.Context, cfg Config) (*Session, error) {
	cfg = cfg.withDefaults()
	id := uuid.NewString()
	log := cfg.Logger.With("component", "renderer", "session", id)

	cb, err := cfg.Procs.SpawnCallback(ctx, cfg.AcceptTimeout, func(port int) procs.Spec {
		return procs.Spec{ID: "renderer-" + id, Path: cfg.Executable, Args: cfg.ExpandArgs(port), Env: cfg.Env}
	})
	if err != nil {
		log.Warn("renderer handshake failed", "err", err)
		return nil, fmt.Errorf("open renderer: %w", err)
	}
	log = log.With("pid", cb.Process.PID, "port", cb.Port)

	var opts []frame.Option
	if cfg.MaxPayload != 0 {
		opts = append(opts, frame.WithMaxPayload(cfg.MaxPayload))
	}
	s := &Session{
		ID:     id,
		Port:   cb.Port,
		cfg:    cfg,
		log:    log,
		ch:     channel.NewTagged(cb.Conn, opts...),
		proc:   cb.Process,
		closed: make(chan struct{}),
	}
	row := protocol.SessionRow{ID: id, Kind: "renderer", Port: cb.Port, PID: cb.Process.PID}
	if err := cfg.Events.OpenSession(ctx, row); err != nil {
		log.Warn("event log", "err", err)
	}
	log.Info("renderer connected")
	return s, nil
}

// PID returns the child's process id.
func (s *Session) PID() int {
	return s.proc.PID
}

// Exited is closed once the child process has exited.
func (s *Session) Exited() <-chan struct{} {
	return s.proc.Exited()
}

// Render sends do_render with params and blocks for the paired
// render_output, returning its raw payload. The payload is a path, image
// bytes or a failure marker; see protocol.ParseRenderOutput.
//
// A timeout, a vanished child or a broken stream fails the call with the
// protocol error and leaves the session unusable.
func (s *Session) Render(ctx context.Context, params protocol.RenderParams) ([]byte, error) {
	select {
	case <-s.closed:
		return nil, ErrSessionClosed
	default:
	}
	s.mu.Lock()
	broken := s.broken
	s.mu.Unlock()
	if broken != nil {
		return nil, fmt.Errorf("%w: %w", ErrSessionBroken, broken)
	}

	payload, err := json.Marshal(params)
	if err != nil {
		return nil, &protocol.MalformedPayloadError{Err: err}
	}

	deadline := time.Time{}
	if s.cfg.RenderTimeout > 0 {
		deadline = time.Now().Add(s.cfg.RenderTimeout)
	}
	if d, ok := ctx.Deadline(); ok && (deadline.IsZero() || d.Before(deadline)) {
		deadline = d
	}
	_ = s.ch.SetDeadline(deadline)
	defer func() { _ = s.ch.SetDeadline(time.Time{}) }()
	stop := context.AfterFunc(ctx, func() { _ = s.ch.SetDeadline(time.Now()) })
	defer stop()

	out, err := s.exchange(payload)
	if err != nil {
		if ctx.Err() != nil {
			err = &protocol.PeerGoneError{Op: "render", Err: ctx.Err()}
		}
		s.markBroken(err)
		return nil, err
	}
	return out, nil
}

func (s *Session) exchange(payload []byte) ([]byte, error) {
	if err := s.ch.SendCommand(protocol.CmdDoRender, payload); err != nil {
		return nil, fmt.Errorf("send do_render: %w", err)
	}
	out, err := s.ch.Expect(protocol.CmdRenderOutput)
	if err != nil {
		return nil, fmt.Errorf("await render_output: %w", err)
	}
	return out, nil
}

// RenderResult renders params and interprets the output by its render_as.
func (s *Session) RenderResult(ctx context.Context, params protocol.RenderParams) (protocol.RenderResult, error) {
	raw, err := s.Render(ctx, params)
	if err != nil {
		return protocol.RenderResult{}, err
	}
	return protocol.ParseRenderOutput(params.WithDefaults().RenderAs, raw), nil
}

func (s *Session) markBroken(err error) {
	var unexpected *protocol.UnexpectedCommandError
	if !protocol.IsStreamBroken(err) && !errors.As(err, &unexpected) {
		return
	}
	s.mu.Lock()
	if s.broken == nil {
		s.broken = err
	}
	s.mu.Unlock()
	s.log.Warn("render session broken", "err", err)
}

// Close sends end_session and closes the connection, exactly once, whether
// or not an earlier Render broke the session. Later calls return nil. The child is expected to exit on its own and is never
// killed here. A child that is already gone is not an error.
func (s *Session) Close() error {
	first := false
	s.closeOnce.Do(func() {
		first = true
		close(s.closed)
		s.closeErr = s.teardown()
	})
	if !first {
		return nil
	}
	return s.closeErr
}

func (s *Session) teardown() error {
	s.mu.Lock()
	broken := s.broken
	s.mu.Unlock()

	// end_session goes out even on a broken session: a read timeout or an
	// unexpected command leaves the write side usable.
	_ = s.ch.SetDeadline(time.Now().Add(5 * time.Second))
	sendErr := s.ch.SendCommand(protocol.CmdEndSession, nil)
	if protocol.IsPeerGone(sendErr) {
		sendErr = nil
	}
	status := statusClosed
	if broken != nil {
		status = statusFailed
		if sendErr != nil {
			s.log.Debug("end_session on broken session", "err", sendErr)
			sendErr = nil
		}
	}

	closeErr := s.ch.Close()
	if errors.Is(closeErr, net.ErrClosed) || errors.Is(closeErr, os.ErrClosed) {
		closeErr = nil
	}
	s.record(status)
	s.log.Info("render session closed", "status", status)
	if sendErr != nil {
		return fmt.Errorf("send end_session: %w", sendErr)
	}
	return closeErr
}

// Terminate force-stops the child: SIGTERM, grace period, then SIGKILL. It
// is meant for cancellation; the connection is closed without end_session.
func (s *Session) Terminate() error {
	s.closeOnce.Do(func() {
		close(s.closed)
		_ = s.ch.Close()
		s.record(statusTerminated)
		s.log.Info("render session terminated")
	})
	return s.cfg.Procs.Terminate(s.proc)
}

func (s *Session) record(status string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.cfg.Events.CloseSession(ctx, s.ID, status); err != nil {
		s.log.Debug("event log", "err", err)
	}
}
