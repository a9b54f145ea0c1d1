// Package procs spawns and tracks the detached worker processes wzrd hands
// sockets to: the offline renderer and the progress display.
package procs

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"
)

// DefaultGrace is how long Terminate waits after SIGTERM before SIGKILL.
const DefaultGrace = 3 * time.Second

// ErrUnknownProcess is returned for ids the manager is not tracking.
var ErrUnknownProcess = errors.New("unknown process")

// Spec describes one child to start.
type Spec struct {
	ID   string
	Path string
	Args []string
	Env  []string // appended to the parent environment
	Dir  string
	// Terminal children inherit the parent's stdio and stay in its process
	// group so they can own the terminal. Terminate signals only the child.
	Terminal bool
}

// Process is a tracked child. Exited is closed once the child has been
// reaped.
type Process struct {
	ID  string
	PID int

	proc    *os.Process
	group   bool
	exited  chan struct{}
	exitErr error
}

// Exited returns a channel closed when the child has exited.
func (p *Process) Exited() <-chan struct{} {
	return p.exited
}

// ExitErr returns the child's wait error. Only valid after Exited is closed.
func (p *Process) ExitErr() error {
	<-p.exited
	return p.exitErr
}

// Manager spawns children in their own process groups and reaps them in
// the background.
//
// Thread-safe: all access to the process map is protected by a mutex.
type Manager struct {
	logDir string
	grace  time.Duration
	log    *slog.Logger

	mu    sync.Mutex
	procs map[string]*Process
	wg    sync.WaitGroup

	// cmdFactory builds the exec.Cmd for a spec. Tests swap it to run
	// dummy commands.
	cmdFactory func(spec Spec) *exec.Cmd
}

// NewManager creates a Manager. When logDir is non-empty each child writes
// its output to logDir/<id>/output.log; otherwise output is inherited.
func NewManager(logDir string, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		logDir:     logDir,
		grace:      DefaultGrace,
		log:        log.With("component", "procs"),
		procs:      make(map[string]*Process),
		cmdFactory: defaultCmd,
	}
}

// SetGrace overrides the SIGTERM grace period.
func (m *Manager) SetGrace(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.grace = d
}

func defaultCmd(spec Spec) *exec.Cmd {
	cmd := exec.Command(spec.Path, spec.Args...) //nolint:gosec,noctx // spawning configured worker; lifetime is managed by Terminate, not a context
	cmd.Dir = spec.Dir
	if len(spec.Env) > 0 {
		cmd.Env = append(os.Environ(), spec.Env...)
	}
	return cmd
}

// Spawn starts spec and tracks it. Each child gets its own process group
// (Setpgid) so Terminate reaches the whole tree the child starts.
func (m *Manager) Spawn(spec Spec) (*Process, error) {
	if spec.ID == "" {
		return nil, errors.New("spawn: process id is required")
	}
	m.mu.Lock()
	_, dup := m.procs[spec.ID]
	m.mu.Unlock()
	if dup {
		return nil, fmt.Errorf("spawn %s: id already tracked", spec.ID)
	}

	cmd := m.cmdFactory(spec)
	if spec.Terminal {
		cmd.Stdin = os.Stdin
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
		return m.startAndTrack(spec.ID, cmd, nil)
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if m.logDir == "" {
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
		return m.startAndTrack(spec.ID, cmd, nil)
	}

	dir := filepath.Join(m.logDir, spec.ID)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create process log dir %s: %w", dir, err)
	}
	logPath := filepath.Join(dir, "output.log")
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600) //nolint:gosec // log path is deterministic
	if err != nil {
		return nil, fmt.Errorf("open process log %s: %w", logPath, err)
	}
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	return m.startAndTrack(spec.ID, cmd, logFile)
}

// startAndTrack starts cmd, closes the parent's copy of logFile, tracks the
// child and launches its reaper.
func (m *Manager) startAndTrack(id string, cmd *exec.Cmd, logFile *os.File) (*Process, error) {
	err := cmd.Start()
	if logFile != nil {
		_ = logFile.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("spawn %s: %w", id, err)
	}

	p := &Process{
		ID:     id,
		PID:    cmd.Process.Pid,
		proc:   cmd.Process,
		group:  cmd.SysProcAttr != nil && cmd.SysProcAttr.Setpgid,
		exited: make(chan struct{}),
	}

	m.mu.Lock()
	m.procs[id] = p
	m.mu.Unlock()

	m.log.Debug("spawned", "id", id, "pid", p.PID, "path", cmd.Path)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		p.exitErr = cmd.Wait()
		close(p.exited)
		m.mu.Lock()
		if m.procs[id] == p {
			delete(m.procs, id)
		}
		m.mu.Unlock()
		m.log.Debug("reaped", "id", id, "pid", p.PID, "err", p.exitErr)
	}()

	return p, nil
}

// Get returns the tracked child with id.
func (m *Manager) Get(id string) (*Process, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.procs[id]
	return p, ok
}

// Len returns the number of children still running.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.procs)
}

// Terminate sends SIGTERM to the child's process group, waits the grace
// period and then sends SIGKILL if it is still alive. Terminal children are
// signalled alone. A child that already exited is not an error.
func (m *Manager) Terminate(p *Process) error {
	if p == nil {
		return nil
	}
	select {
	case <-p.exited:
		return nil
	default:
	}

	m.mu.Lock()
	grace := m.grace
	m.mu.Unlock()

	// Negative pid signals the whole group.
	target := p.PID
	if p.group {
		target = -p.PID
	}
	if err := syscall.Kill(target, syscall.SIGTERM); err != nil {
		_ = p.proc.Kill()
		return nil //nolint:nilerr // SIGTERM failure means the group is already gone
	}

	select {
	case <-p.exited:
	case <-time.After(grace):
		m.log.Warn("grace period expired, killing", "id", p.ID, "pid", p.PID)
		_ = syscall.Kill(target, syscall.SIGKILL)
		<-p.exited
	}
	return nil
}

// TerminateID terminates the tracked child with id.
func (m *Manager) TerminateID(id string) error {
	p, ok := m.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownProcess, id)
	}
	return m.Terminate(p)
}

// TerminateAll terminates every tracked child concurrently.
func (m *Manager) TerminateAll() {
	m.mu.Lock()
	all := make([]*Process, 0, len(m.procs))
	for _, p := range m.procs {
		all = append(all, p)
	}
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, p := range all {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = m.Terminate(p)
		}()
	}
	wg.Wait()
}

// Wait blocks until every reaper goroutine has finished.
func (m *Manager) Wait() {
	m.wg.Wait()
}
