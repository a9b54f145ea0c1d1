// Package connector is the long-lived loopback listener through which a
// separate creative-suite host pulls commands from wzrd, plus the client
// side that host runs.
//
// The listener binds an ephemeral loopback port and advertises it in a file.
// Each accepted connection gets exactly one exchange: the listener sends the
// pending scheduler command (skip when nothing is pending) and reads exactly
// one reply. Connections are served one at a time.
package connector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"wzrd/pkg/channel"
	"wzrd/pkg/frame"
	"wzrd/pkg/protocol"
)

// DefaultIOTimeout bounds one send/reply exchange on an accepted connection.
const DefaultIOTimeout = 30 * time.Second

// acceptRetryDelay is the pause after a non-fatal accept error.
const acceptRetryDelay = 50 * time.Millisecond

// ReplyFunc observes every completed exchange.
type ReplyFunc func(sent protocol.SchedulerCommand, reply json.RawMessage)

// Config configures a Listener.
type Config struct {
	// AdvertisePath is where the port is written. Required.
	AdvertisePath string
	// IOTimeout bounds each exchange. Zero means DefaultIOTimeout; negative
	// disables the bound.
	IOTimeout time.Duration
	// MaxPayload caps frame size; zero means frame.DefaultMaxPayload.
	MaxPayload uint32
	// OnReply, if set, is called after each reply is read.
	OnReply ReplyFunc
	Logger  *slog.Logger
}

// Listener is the connector's accept loop.
type Listener struct {
	cfg     Config
	mailbox *Mailbox
	log     *slog.Logger

	mu   sync.Mutex
	ln   net.Listener
	port int

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewListener creates a Listener that delivers commands from mb.
func NewListener(cfg Config, mb *Mailbox) *Listener {
	if cfg.IOTimeout == 0 {
		cfg.IOTimeout = DefaultIOTimeout
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	if mb == nil {
		mb = &Mailbox{}
	}
	return &Listener{
		cfg:     cfg,
		mailbox: mb,
		log:     log.With("component", "connector"),
		done:    make(chan struct{}),
	}
}

// Start binds 127.0.0.1 on an ephemeral port, advertises it and launches the
// accept loop. The loop runs until Close or until ctx is cancelled.
func (l *Listener) Start(ctx context.Context) error {
	if l.cfg.AdvertisePath == "" {
		return errors.New("connector: advertisement path is required")
	}
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", net.JoinHostPort(protocol.LoopbackHost, "0"))
	if err != nil {
		return fmt.Errorf("connector listen: %w", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port //nolint:forcetypeassert // tcp listener always yields *TCPAddr

	if err := WriteAdvertisement(l.cfg.AdvertisePath, port); err != nil {
		_ = ln.Close()
		return err
	}

	l.mu.Lock()
	l.ln, l.port = ln, port
	l.mu.Unlock()

	l.log.Info("listening", "port", port, "advertised", l.cfg.AdvertisePath)

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		l.acceptLoop(ln)
	}()
	go func() {
		select {
		case <-ctx.Done():
			_ = l.Close()
		case <-l.done:
		}
	}()
	return nil
}

// Port returns the bound port, or 0 before Start.
func (l *Listener) Port() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.port
}

// Addr returns the bound address, or nil before Start.
func (l *Listener) Addr() net.Addr {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ln == nil {
		return nil
	}
	return l.ln.Addr()
}

// Mailbox returns the mailbox the listener delivers from.
func (l *Listener) Mailbox() *Mailbox {
	return l.mailbox
}

// Done is closed once the listener has been closed.
func (l *Listener) Done() <-chan struct{} {
	return l.done
}

// Close stops the accept loop and waits for an in-flight exchange to finish.
// The advertisement file is left in place; clients detect it as stale.
func (l *Listener) Close() error {
	var err error
	l.closeOnce.Do(func() {
		close(l.done)
		l.mu.Lock()
		ln := l.ln
		l.mu.Unlock()
		if ln != nil {
			err = ln.Close()
		}
	})
	l.wg.Wait()
	return err
}

func (l *Listener) acceptLoop(ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-l.done:
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			l.log.Warn("accept failed", "err", err)
			time.Sleep(acceptRetryDelay)
			continue
		}
		l.serve(conn)
	}
}

// serve runs one exchange. Failures here never stop the accept loop.
func (l *Listener) serve(conn net.Conn) {
	var opts []frame.Option
	if l.cfg.MaxPayload != 0 {
		opts = append(opts, frame.WithMaxPayload(l.cfg.MaxPayload))
	}
	ch := channel.NewFramed(conn, opts...)
	defer func() { _ = ch.Close() }()

	if l.cfg.IOTimeout > 0 {
		_ = ch.SetDeadline(time.Now().Add(l.cfg.IOTimeout))
	}

	log := l.log.With("remote", conn.RemoteAddr().String())
	cmd := l.mailbox.Take()
	log.Debug("peer connected, sending command", "cmd", cmd.Cmd)

	if err := ch.Send(cmd); err != nil {
		if l.mailbox.Restore(cmd) {
			log.Info("command restored after failed delivery", "cmd", cmd.Cmd)
		}
		l.logExchangeError(log, "send", err)
		return
	}

	var reply json.RawMessage
	if err := ch.Receive(&reply); err != nil {
		// A peer that hangs up without replying never acted on the command.
		if protocol.IsPeerGone(err) && l.mailbox.Restore(cmd) {
			log.Info("command restored after peer left without reply", "cmd", cmd.Cmd)
		}
		l.logExchangeError(log, "reply", err)
		return
	}
	log.Info("peer replied", "cmd", cmd.Cmd, "reply", string(reply))
	if l.cfg.OnReply != nil {
		l.cfg.OnReply(cmd, reply)
	}
}

func (l *Listener) logExchangeError(log *slog.Logger, stage string, err error) {
	if protocol.IsPeerGone(err) {
		log.Info("peer went away", "stage", stage, "err", err)
		return
	}
	log.Warn("exchange failed", "stage", stage, "err", err)
}
