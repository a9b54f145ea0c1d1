package progress_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"wzrd/pkg/procs"
	"wzrd/pkg/progress"
	"wzrd/pkg/renderer"
)

// The test binary doubles as a stub display when stubEnv is set.
const (
	stubEnv   = "WZRD_PROGRESS_STUB"
	recordEnv = "WZRD_PROGRESS_STUB_RECORD"
)

func TestMain(m *testing.M) {
	if mode := os.Getenv(stubEnv); mode != "" {
		os.Exit(runStub(mode))
	}
	os.Exit(m.Run())
}

// runStub dials the port given as the last argument. In "plain" mode it
// runs the plain display and writes what it drew to the record file; in
// "cancel" mode it hangs up right after the handshake, like a user closing
// the window.
func runStub(mode string) int {
	port, err := strconv.Atoi(os.Args[len(os.Args)-1])
	if err != nil {
		return 2
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	conn, err := renderer.Dial(ctx, port)
	if err != nil {
		return 3
	}
	switch mode {
	case "cancel":
		if _, err := progress.NewReader(conn).Handshake(); err != nil {
			return 4
		}
		_ = conn.Close()
		return 0
	default:
		f, err := os.Create(os.Getenv(recordEnv))
		if err != nil {
			return 5
		}
		defer func() { _ = f.Close() }()
		err = progress.RunDisplay(ctx, conn, progress.DisplayConfig{
			Plain:    true,
			DieGrace: 10 * time.Millisecond,
			Out:      f,
		})
		if err != nil {
			return 6
		}
		return 0
	}
}

func stubConfig(t *testing.T, mode string) (progress.Config, string) {
	t.Helper()
	record := filepath.Join(t.TempDir(), "display.txt")
	return progress.Config{
		Executable:    os.Args[0],
		Args:          []string{"-test.run=^$", "{port}"},
		Env:           []string{stubEnv + "=" + mode, recordEnv + "=" + record},
		AcceptTimeout: 10 * time.Second,
		Procs:         procs.NewManager("", quietLogger()),
		Logger:        quietLogger(),
	}, record
}

func waitExited(t *testing.T, s *progress.Session) {
	t.Helper()
	select {
	case <-s.Exited():
	case <-time.After(10 * time.Second):
		t.Fatal("display did not exit")
	}
}

func TestSession_DrawsUpdatesAndExitsOnDie(t *testing.T) {
	cfg, record := stubConfig(t, "plain")
	s, err := progress.Open(context.Background(), cfg, 2)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Terminate() })

	if err := s.Update(0, 0.5, "Rendering 1 of 2"); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if err := s.Update(1, 0.5, "Halfway"); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	waitExited(t, s)

	data, err := os.ReadFile(record)
	if err != nil {
		t.Fatalf("read record: %v", err)
	}
	for _, want := range []string{"(2 bars)", "[1/2]  50% Rendering 1 of 2", "[2/2]  50% Halfway"} {
		if !strings.Contains(string(data), want) {
			t.Errorf("display output missing %q:\n%s", want, data)
		}
	}
}

func TestSession_UserCloseCancels(t *testing.T) {
	cfg, _ := stubConfig(t, "cancel")
	s, err := progress.Open(context.Background(), cfg, 1)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Terminate() })
	waitExited(t, s)

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if err = s.Update(0, 0.1, "working"); err != nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if !errors.Is(err, progress.ErrCancelled) {
		t.Fatalf("Update err = %v, want ErrCancelled", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("Close after cancel: %v", err)
	}
}

func TestOpen_DisplayNeverConnects(t *testing.T) {
	cfg, _ := stubConfig(t, "plain")
	cfg.Executable = "/bin/true"
	cfg.Args = nil
	if _, err := progress.Open(context.Background(), cfg, 1); err == nil {
		t.Fatal("Open should fail when the display exits without connecting")
	}
}
