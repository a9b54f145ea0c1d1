package progress

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

func TestModel_HandshakeAndUpdate(t *testing.T) {
	var m tea.Model = newModel(DefaultTheme(), time.Millisecond)
	m, _ = m.Update(handshakeMsg(2))
	m, _ = m.Update(opMsg{Kind: OpUpdate, Bar: 1, Fraction: 0.5, Message: "Halfway"})
	m, _ = m.Update(opMsg{Kind: OpUpdate, Bar: 9, Fraction: 1, Message: "ignored"})

	got := m.(model)
	if len(got.bars) != 2 {
		t.Fatalf("bars = %d, want 2", len(got.bars))
	}
	if got.bars[1].fraction != 0.5 || got.bars[1].message != "Halfway" {
		t.Errorf("bar 1 = %+v", got.bars[1])
	}
	view := got.View()
	for _, want := range []string{Header, "Halfway", "50%"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q:\n%s", want, view)
		}
	}
	if strings.Contains(view, "ignored") {
		t.Error("update for a bar that does not exist was drawn")
	}
}

func TestModel_DieQuitsAfterGrace(t *testing.T) {
	var m tea.Model = newModel(DefaultTheme(), time.Millisecond)
	m, _ = m.Update(handshakeMsg(1))
	m, cmd := m.Update(opMsg{Kind: OpDie})
	if cmd == nil {
		t.Fatal("DIE should schedule the grace tick")
	}
	if !m.(model).dying {
		t.Error("model not marked dying")
	}
	if _, ok := cmd().(dieMsg); !ok {
		t.Fatal("grace tick did not produce dieMsg")
	}
	_, cmd = m.Update(dieMsg{})
	if cmd == nil {
		t.Fatal("dieMsg should quit")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("dieMsg did not return tea.Quit")
	}
}

func TestModel_UserQuit(t *testing.T) {
	var m tea.Model = newModel(DefaultTheme(), time.Second)
	m, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	if !m.(model).quit {
		t.Error("q did not mark the model as quit")
	}
	if cmd == nil {
		t.Fatal("q should quit")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("q did not return tea.Quit")
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("ééééé", 3); got != "ééé" {
		t.Errorf("truncate = %q", got)
	}
	if got := truncate("ab", 3); got != "ab" {
		t.Errorf("truncate = %q", got)
	}
}

type nopCloser struct{ *bytes.Reader }

func (nopCloser) Close() error { return nil }

func TestRunDisplay_Plain(t *testing.T) {
	var wire bytes.Buffer
	s := NewSender(&wire)
	_ = s.Start(2)
	_ = s.Update(0, 0.5, "overall")
	_ = s.Update(1, 1, "item done")
	_ = s.Die()

	var out bytes.Buffer
	err := RunDisplay(context.Background(), nopCloser{bytes.NewReader(wire.Bytes())}, DisplayConfig{
		Plain:    true,
		DieGrace: time.Millisecond,
		Out:      &out,
	})
	if err != nil {
		t.Fatalf("RunDisplay: %v", err)
	}
	for _, want := range []string{Header, "[1/2]  50% overall", "[2/2] 100% item done"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("output missing %q:\n%s", want, out.String())
		}
	}
}

func TestRunDisplay_PlainHostGone(t *testing.T) {
	var wire bytes.Buffer
	s := NewSender(&wire)
	_ = s.Start(1)
	_ = s.Update(0, 0.1, "partial")

	err := RunDisplay(context.Background(), nopCloser{bytes.NewReader(wire.Bytes())}, DisplayConfig{Plain: true})
	if err != nil {
		t.Fatalf("host closing without DIE should end the display quietly, got %v", err)
	}
}

func TestDisplayArgs(t *testing.T) {
	got := displayArgs([]string{"progress", "--port={port}"}, 4242)
	if strings.Join(got, " ") != "progress --port=4242" {
		t.Errorf("args = %v", got)
	}
	got = displayArgs([]string{"progress"}, 4242)
	if strings.Join(got, " ") != "progress 4242" {
		t.Errorf("args = %v", got)
	}
}
