package main

import (
	"github.com/charmbracelet/lipgloss"

	"wzrd/pkg/protocol"
)

// Theme defines the styling of wzrd's terminal reports.
type Theme struct {
	Primary lipgloss.Color
	Success lipgloss.Color
	Warning lipgloss.Color
	Error   lipgloss.Color
	Muted   lipgloss.Color
}

// DefaultTheme returns the default theme.
func DefaultTheme() Theme {
	return Theme{
		Primary: lipgloss.Color("12"),  // Blue
		Success: lipgloss.Color("10"),  // Green
		Warning: lipgloss.Color("11"),  // Yellow
		Error:   lipgloss.Color("9"),   // Red
		Muted:   lipgloss.Color("240"), // Gray
	}
}

func (t Theme) title(s string) string {
	return lipgloss.NewStyle().Bold(true).Foreground(t.Primary).Render(s)
}

func (t Theme) muted(s string) string {
	return lipgloss.NewStyle().Foreground(t.Muted).Render(s)
}

// status colours a status word by how healthy it is.
func (t Theme) status(s string) string {
	c := t.Muted
	switch s {
	case serveRunning, "live", "closed", "ok", protocol.EvRenderOK:
		c = t.Success
	case serveStale, "cancelled", "open", protocol.EvBatchCancelled:
		c = t.Warning
	case "failed", "terminated", "error", protocol.EvRenderFailed, protocol.EvBatchAborted:
		c = t.Error
	}
	return lipgloss.NewStyle().Foreground(c).Render(s)
}
