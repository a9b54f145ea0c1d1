package logging_test

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"wzrd/internal/logging"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"debug", slog.LevelDebug, false},
		{"INFO", slog.LevelInfo, false},
		{"", slog.LevelInfo, false},
		{"warning", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"loud", slog.LevelInfo, true},
	}
	for _, tt := range tests {
		got, err := logging.ParseLevel(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, %v", tt.in, got, err)
		}
	}
}

func TestNew_AutoIsJSONOffTerminal(t *testing.T) {
	var buf bytes.Buffer
	log, closeFn, err := logging.New(&buf, logging.Options{Level: "info", Format: "auto"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer func() { _ = closeFn() }()

	log.Debug("hidden")
	log.Info("listening", "port", 4242)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("got %d lines, want 1:\n%s", len(lines), buf.String())
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatalf("not JSON: %v", err)
	}
	if rec["msg"] != "listening" || rec["port"] != float64(4242) {
		t.Errorf("record = %v", rec)
	}
}

func TestNew_Text(t *testing.T) {
	var buf bytes.Buffer
	log, _, err := logging.New(&buf, logging.Options{Level: "debug", Format: "text"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	log.Debug("dialing", "addr", "127.0.0.1:1")
	if !strings.Contains(buf.String(), "msg=dialing") {
		t.Errorf("output = %q", buf.String())
	}
}

func TestNew_LogFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	var buf bytes.Buffer
	log, closeFn, err := logging.New(&buf, logging.Options{Format: "text", LogDir: dir})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	log.With("component", "test").Info("hello")
	if err := closeFn(); err != nil {
		t.Fatalf("close: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "wzrd.log"))
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), `"component":"test"`) {
		t.Errorf("log file = %q", data)
	}
	if !strings.Contains(buf.String(), "component=test") {
		t.Errorf("console = %q", buf.String())
	}
}

func TestNew_BadOptions(t *testing.T) {
	if _, _, err := logging.New(&bytes.Buffer{}, logging.Options{Level: "loud"}); err == nil {
		t.Error("bad level accepted")
	}
	if _, _, err := logging.New(&bytes.Buffer{}, logging.Options{Format: "xml"}); err == nil {
		t.Error("bad format accepted")
	}
}

func TestIsTerminal_Buffer(t *testing.T) {
	if logging.IsTerminal(&bytes.Buffer{}) {
		t.Error("a buffer is not a terminal")
	}
}
