package procs_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"testing"
	"time"

	"wzrd/pkg/procs"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func sleeper(_ procs.Spec) *exec.Cmd {
	return exec.CommandContext(context.Background(), "sleep", "3600")
}

func TestManager_SpawnTracksAndReaps(t *testing.T) {
	m := procs.NewManager("", quietLogger())
	m.SetCmdFactory(func(procs.Spec) *exec.Cmd {
		return exec.CommandContext(context.Background(), "true")
	})

	p, err := m.Spawn(procs.Spec{ID: "r-1"})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	if p.PID <= 0 {
		t.Fatalf("PID = %d", p.PID)
	}
	select {
	case <-p.Exited():
	case <-time.After(5 * time.Second):
		t.Fatal("child was never reaped")
	}
	if err := p.ExitErr(); err != nil {
		t.Errorf("ExitErr = %v", err)
	}
	m.Wait()
	if m.Len() != 0 {
		t.Errorf("Len = %d after exit", m.Len())
	}
}

func TestManager_DuplicateID(t *testing.T) {
	m := procs.NewManager("", quietLogger())
	m.SetCmdFactory(sleeper)

	p, err := m.Spawn(procs.Spec{ID: "dup"})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	t.Cleanup(func() { _ = m.Terminate(p) })

	if _, err := m.Spawn(procs.Spec{ID: "dup"}); err == nil {
		t.Fatal("expected error for duplicate id")
	}
}

func TestManager_TerminateGracefully(t *testing.T) {
	m := procs.NewManager("", quietLogger())
	m.SetCmdFactory(sleeper)

	p, err := m.Spawn(procs.Spec{ID: "r-term"})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	start := time.Now()
	if err := m.Terminate(p); err != nil {
		t.Fatalf("Terminate: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("sleep should die on SIGTERM, took %v", elapsed)
	}
	select {
	case <-p.Exited():
	default:
		t.Fatal("Terminate returned before the child exited")
	}
	// A second call on an exited child is fine.
	if err := m.Terminate(p); err != nil {
		t.Errorf("second Terminate: %v", err)
	}
}

func TestManager_TerminalChildSignalledAlone(t *testing.T) {
	m := procs.NewManager(t.TempDir(), quietLogger())
	m.SetCmdFactory(sleeper)

	p, err := m.Spawn(procs.Spec{ID: "display", Terminal: true})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	pgid, err := syscall.Getpgid(p.PID)
	if err != nil {
		t.Fatalf("Getpgid: %v", err)
	}
	if pgid != syscall.Getpgrp() {
		t.Errorf("terminal child pgid = %d, want the parent's group %d", pgid, syscall.Getpgrp())
	}
	if err := m.Terminate(p); err != nil {
		t.Fatalf("Terminate: %v", err)
	}
	select {
	case <-p.Exited():
	default:
		t.Fatal("Terminate returned before the child exited")
	}
}

func TestManager_TerminateEscalatesToKill(t *testing.T) {
	m := procs.NewManager("", quietLogger())
	m.SetGrace(100 * time.Millisecond)
	m.SetCmdFactory(func(procs.Spec) *exec.Cmd {
		return exec.CommandContext(context.Background(), "sh", "-c", `trap "" TERM; while :; do sleep 0.05; done`)
	})

	p, err := m.Spawn(procs.Spec{ID: "stubborn"})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	// Give the shell time to install its trap.
	time.Sleep(100 * time.Millisecond)

	if err := m.Terminate(p); err != nil {
		t.Fatalf("Terminate: %v", err)
	}
	var exitErr *exec.ExitError
	if !errors.As(p.ExitErr(), &exitErr) {
		t.Fatalf("ExitErr = %v", p.ExitErr())
	}
	status, ok := exitErr.Sys().(syscall.WaitStatus)
	if !ok || !status.Signaled() || status.Signal() != syscall.SIGKILL {
		t.Errorf("child was not SIGKILLed: %v", exitErr)
	}
}

func TestManager_TerminateUnknownID(t *testing.T) {
	m := procs.NewManager("", quietLogger())
	if err := m.TerminateID("ghost"); !errors.Is(err, procs.ErrUnknownProcess) {
		t.Fatalf("expected ErrUnknownProcess, got %v", err)
	}
}

func TestManager_LogFile(t *testing.T) {
	dir := t.TempDir()
	m := procs.NewManager(dir, quietLogger())
	m.SetCmdFactory(func(procs.Spec) *exec.Cmd {
		return exec.CommandContext(context.Background(), "sh", "-c", "echo hello-from-child")
	})

	p, err := m.Spawn(procs.Spec{ID: "logged"})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	<-p.Exited()

	data, err := os.ReadFile(filepath.Join(dir, "logged", "output.log"))
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(data), "hello-from-child") {
		t.Errorf("log = %q", data)
	}
}

func TestManager_TerminateAll(t *testing.T) {
	m := procs.NewManager("", quietLogger())
	m.SetCmdFactory(sleeper)

	var all []*procs.Process
	for _, id := range []string{"a", "b", "c"} {
		p, err := m.Spawn(procs.Spec{ID: id})
		if err != nil {
			t.Fatalf("Spawn(%s): %v", id, err)
		}
		all = append(all, p)
	}
	m.TerminateAll()
	for _, p := range all {
		select {
		case <-p.Exited():
		default:
			t.Errorf("%s still running", p.ID)
		}
	}
}

func TestSpawnCallback_Connects(t *testing.T) {
	m := procs.NewManager("", quietLogger())
	m.SetCmdFactory(func(spec procs.Spec) *exec.Cmd {
		// Dial back with bash's /dev/tcp and hold the connection open.
		script := "exec 3<>/dev/tcp/127.0.0.1/" + spec.Args[0] + "; sleep 5"
		return exec.CommandContext(context.Background(), "bash", "-c", script)
	})

	cb, err := m.SpawnCallback(context.Background(), 5*time.Second, func(port int) procs.Spec {
		return procs.Spec{ID: "cb", Args: []string{strconv.Itoa(port)}}
	})
	if err != nil {
		t.Fatalf("SpawnCallback: %v", err)
	}
	defer func() {
		_ = cb.Conn.Close()
		_ = m.Terminate(cb.Process)
	}()
	if cb.Port <= 0 || cb.Conn == nil {
		t.Fatalf("callback = %+v", cb)
	}
}

func TestSpawnCallback_ChildExits(t *testing.T) {
	m := procs.NewManager("", quietLogger())
	m.SetCmdFactory(func(procs.Spec) *exec.Cmd {
		return exec.CommandContext(context.Background(), "false")
	})
	_, err := m.SpawnCallback(context.Background(), 10*time.Second, func(int) procs.Spec {
		return procs.Spec{ID: "dead"}
	})
	if err == nil || !strings.Contains(err.Error(), "exited before connecting") {
		t.Fatalf("expected early exit error, got %v", err)
	}
}

func TestSpawnCallback_Timeout(t *testing.T) {
	m := procs.NewManager("", quietLogger())
	m.SetCmdFactory(sleeper)
	_, err := m.SpawnCallback(context.Background(), 100*time.Millisecond, func(int) procs.Spec {
		return procs.Spec{ID: "slow"}
	})
	if err == nil || !strings.Contains(err.Error(), "did not connect") {
		t.Fatalf("expected timeout error, got %v", err)
	}
	m.Wait()
	if m.Len() != 0 {
		t.Errorf("%d children left running", m.Len())
	}
}
