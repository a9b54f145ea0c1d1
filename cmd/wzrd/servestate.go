package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"wzrd/pkg/connector"
)

// Serve states reported by `wzrd status`.
const (
	serveRunning = "running"
	serveStopped = "stopped"
	serveStale   = "stale"
)

// runFile is written by `wzrd serve` once its listener is up. It holds the
// serve PID on the first line and the advertisement path on the second, so
// status can report the port without connecting to the listener.
type runFile string

func (f runFile) write(pid int, portFile string) error {
	if err := os.MkdirAll(filepath.Dir(string(f)), 0o750); err != nil {
		return fmt.Errorf("create run dir: %w", err)
	}
	body := strconv.Itoa(pid) + "\n" + portFile + "\n"
	if err := os.WriteFile(string(f), []byte(body), 0o600); err != nil {
		return fmt.Errorf("write run file: %w", err)
	}
	return nil
}

// remove deletes the run file. A missing file is not an error.
func (f runFile) remove() error {
	if err := os.Remove(string(f)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove run file: %w", err)
	}
	return nil
}

func (f runFile) read() (pid int, portFile string, err error) {
	data, err := os.ReadFile(string(f)) //nolint:gosec // path comes from config.Paths
	if err != nil {
		return 0, "", err
	}
	first, rest, _ := strings.Cut(string(data), "\n")
	pid, err = strconv.Atoi(strings.TrimSpace(first))
	if err != nil || pid <= 0 {
		return 0, "", fmt.Errorf("run file %s: bad pid %q", f, strings.TrimSpace(first))
	}
	return pid, strings.TrimSpace(rest), nil
}

// serveState is what a run file says about `wzrd serve`.
type serveState struct {
	PID      int
	Alive    bool
	PortFile string
	Port     int
	PortErr  error
}

func (s serveState) status() string {
	switch {
	case s.PID == 0:
		return serveStopped
	case s.Alive:
		return serveRunning
	default:
		return serveStale
	}
}

// inspect reads the run file. For a live serve it also reads the advertised
// port from the recorded advertisement path.
func (f runFile) inspect() (serveState, error) {
	pid, portFile, err := f.read()
	if errors.Is(err, os.ErrNotExist) {
		return serveState{}, nil
	}
	if err != nil {
		return serveState{}, fmt.Errorf("serve status: %w", err)
	}
	st := serveState{PID: pid, PortFile: portFile, Alive: processAlive(pid)}
	if st.Alive && portFile != "" {
		st.Port, st.PortErr = connector.ReadAdvertisement(portFile)
	}
	return st, nil
}

// processAlive reports whether pid names an existing process. EPERM means it
// exists but belongs to someone else.
func processAlive(pid int) bool {
	err := syscall.Kill(pid, 0)
	return err == nil || errors.Is(err, syscall.EPERM)
}

// signalContext cancels the returned context on SIGTERM or SIGINT.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, syscall.SIGTERM, syscall.SIGINT)
}
