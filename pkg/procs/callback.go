package procs

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

const loopbackHost = "127.0.0.1"

// Callback is a child spawned with an ephemeral loopback port on its
// command line, together with the one connection it dialed back on.
type Callback struct {
	Port    int
	Conn    net.Conn
	Process *Process
}

type acceptResult struct {
	conn net.Conn
	err  error
}

// SpawnCallback listens on 127.0.0.1:0, spawns the spec returned by build
// for the chosen port and accepts exactly one connection. The wait ends
// early when ctx is done, timeout passes or the child exits. On any failure
// the child is terminated; the listener never outlives the call.
func (m *Manager) SpawnCallback(ctx context.Context, timeout time.Duration, build func(port int) Spec) (*Callback, error) {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", net.JoinHostPort(loopbackHost, "0"))
	if err != nil {
		return nil, fmt.Errorf("listen: %w", err)
	}
	defer func() { _ = ln.Close() }()
	port := ln.Addr().(*net.TCPAddr).Port //nolint:forcetypeassert // tcp listener always yields *TCPAddr

	proc, err := m.Spawn(build(port))
	if err != nil {
		return nil, err
	}

	accepted := make(chan acceptResult, 1)
	go func() {
		conn, err := ln.Accept()
		accepted <- acceptResult{conn, err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	fail := func(err error) (*Callback, error) {
		_ = ln.Close()
		if r := <-accepted; r.conn != nil {
			_ = r.conn.Close()
		}
		_ = m.Terminate(proc)
		return nil, err
	}

	select {
	case r := <-accepted:
		if r.err != nil {
			_ = m.Terminate(proc)
			return nil, fmt.Errorf("accept %s: %w", proc.ID, r.err)
		}
		return &Callback{Port: port, Conn: r.conn, Process: proc}, nil
	case <-proc.Exited():
		return fail(fmt.Errorf("%s exited before connecting: %w", proc.ID, exitCause(proc)))
	case <-timer.C:
		return fail(fmt.Errorf("%s did not connect within %s", proc.ID, timeout))
	case <-ctx.Done():
		return fail(fmt.Errorf("%s handshake: %w", proc.ID, ctx.Err()))
	}
}

func exitCause(p *Process) error {
	if err := p.ExitErr(); err != nil {
		return err
	}
	return errors.New("exit status 0")
}
