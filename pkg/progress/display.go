package progress

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	bprogress "github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"wzrd/pkg/protocol"
)

// DefaultDieGrace is how long the display lingers after DIE.
const DefaultDieGrace = 1 * time.Second

// Header is the title drawn above the bars.
const Header = "Asset Wizard Progress Report"

const (
	barWidth  = 60
	lineWidth = 80
)

// Theme is the display's palette.
type Theme struct {
	Border lipgloss.Color
	Title  lipgloss.Color
	Text   lipgloss.Color
	Muted  lipgloss.Color
	Error  lipgloss.Color
}

// DefaultTheme returns the default display palette.
func DefaultTheme() Theme {
	return Theme{
		Border: lipgloss.Color("12"),  // Blue
		Title:  lipgloss.Color("14"),  // Cyan
		Text:   lipgloss.Color("252"), // Light gray
		Muted:  lipgloss.Color("240"), // Gray
		Error:  lipgloss.Color("9"),   // Red
	}
}

// DisplayConfig configures RunDisplay.
type DisplayConfig struct {
	// Plain prints one line per update instead of running the terminal UI.
	Plain    bool
	DieGrace time.Duration
	In       io.Reader
	Out      io.Writer
	Theme    Theme
}

// handshakeMsg carries the bar count.
type handshakeMsg uint16

// opMsg carries one record from the host.
type opMsg Op

// hostGoneMsg reports that the host connection ended without DIE.
type hostGoneMsg struct{ err error }

// dieMsg fires once the DIE grace period has elapsed.
type dieMsg struct{}

type bar struct {
	fraction float64
	message  string
}

// model is the Bubble Tea model of the display.
type model struct {
	theme  Theme
	grace  time.Duration
	widget bprogress.Model

	bars    []bar
	dying   bool
	hostErr error
	quit    bool // set when the user asked to quit
}

func newModel(theme Theme, grace time.Duration) model {
	return model{
		theme:  theme,
		grace:  grace,
		widget: bprogress.New(bprogress.WithDefaultGradient(), bprogress.WithWidth(barWidth)),
	}
}

// Init implements tea.Model.
func (m model) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			m.quit = true
			return m, tea.Quit
		}

	case handshakeMsg:
		m.bars = make([]bar, int(msg))

	case opMsg:
		switch msg.Kind {
		case OpDie:
			m.dying = true
			return m, tea.Tick(m.grace, func(time.Time) tea.Msg { return dieMsg{} })
		case OpUpdate:
			if int(msg.Bar) < len(m.bars) {
				m.bars[msg.Bar] = bar{fraction: Clamp(msg.Fraction), message: msg.Message}
			}
		}

	case dieMsg:
		return m, tea.Quit

	case hostGoneMsg:
		m.hostErr = msg.err
		return m, tea.Quit
	}
	return m, nil
}

// View implements tea.Model.
func (m model) View() string {
	title := lipgloss.NewStyle().Bold(true).Foreground(m.theme.Title).
		Width(lineWidth).Align(lipgloss.Center).Render(Header)
	text := lipgloss.NewStyle().Foreground(m.theme.Text)

	lines := []string{title, ""}
	for _, b := range m.bars {
		lines = append(lines,
			text.Render(truncate(b.message, lineWidth)),
			m.widget.ViewAs(b.fraction),
			"",
		)
	}
	footer := "q: cancel batch"
	if m.dying {
		footer = "done"
	}
	lines = append(lines, lipgloss.NewStyle().Foreground(m.theme.Muted).Render(footer))

	return lipgloss.NewStyle().
		Border(lipgloss.DoubleBorder()).
		BorderForeground(m.theme.Border).
		Padding(0, 1).
		Render(strings.Join(lines, "\n")) + "\n"
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// RunDisplay reads the host's records from conn and draws them until DIE,
// the host going away, or ctx ending. Quitting the display closes conn,
// which the host sees as ErrCancelled on its next write.
func RunDisplay(ctx context.Context, conn io.ReadCloser, cfg DisplayConfig) error {
	if cfg.DieGrace == 0 {
		cfg.DieGrace = DefaultDieGrace
	}
	if cfg.Theme == (Theme{}) {
		cfg.Theme = DefaultTheme()
	}
	defer func() { _ = conn.Close() }()

	r := NewReader(conn)
	if cfg.Plain {
		return runPlain(ctx, r, cfg)
	}

	opts := []tea.ProgramOption{tea.WithContext(ctx)}
	if cfg.In != nil {
		opts = append(opts, tea.WithInput(cfg.In))
	}
	if cfg.Out != nil {
		opts = append(opts, tea.WithOutput(cfg.Out))
	}
	p := tea.NewProgram(newModel(cfg.Theme, cfg.DieGrace), opts...)

	go pump(r, p.Send)

	final, err := p.Run()
	if err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return fmt.Errorf("progress display: %w", err)
	}
	if m, ok := final.(model); ok && m.hostErr != nil && !m.dying {
		return m.hostErr
	}
	return nil
}

// pump forwards records from r into the program until DIE or an error.
func pump(r *Reader, send func(tea.Msg)) {
	bars, err := r.Handshake()
	if err != nil {
		send(hostGoneMsg{err})
		return
	}
	send(handshakeMsg(bars))
	for {
		op, err := r.Next()
		if err != nil {
			send(hostGoneMsg{err})
			return
		}
		send(opMsg(op))
		if op.Kind == OpDie {
			return
		}
	}
}

// runPlain is the non-terminal display: one line per update.
func runPlain(ctx context.Context, r *Reader, cfg DisplayConfig) error {
	out := cfg.Out
	if out == nil {
		out = io.Discard
	}
	bars, err := r.Handshake()
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(out, "%s (%d bars)\n", Header, bars)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		op, err := r.Next()
		if err != nil {
			if protocol.IsPeerGone(err) {
				return nil
			}
			return err
		}
		if op.Kind == OpDie {
			select {
			case <-time.After(cfg.DieGrace):
			case <-ctx.Done():
			}
			return nil
		}
		if op.Bar >= bars {
			continue
		}
		_, _ = fmt.Fprintf(out, "[%d/%d] %3.0f%% %s\n", op.Bar+1, bars, Clamp(op.Fraction)*100, op.Message)
	}
}
