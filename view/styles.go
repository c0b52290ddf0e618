// Package view renders the session for a terminal: a full-screen bubbletea
// UI or plain console lines.
package view

import "github.com/charmbracelet/lipgloss"

var (
	accent  = lipgloss.Color("#8BC34A")
	info    = lipgloss.Color("#2196F3")
	warning = lipgloss.Color("#FFC107")
	danger  = lipgloss.Color("#e53935")
	muted   = lipgloss.Color("#6b7280")
)

// Actions are the controls a view offers the user.
type Actions interface {
	ToggleRecording()
	Reset()
}

type styles struct {
	Title     lipgloss.Style
	Status    lipgloss.Style
	Agent     lipgloss.Style
	User      lipgloss.Style
	Notice    lipgloss.Style
	Muted     lipgloss.Style
	Recording lipgloss.Style
	Active    lipgloss.Style
	Avatar    lipgloss.Style
	Speaking  lipgloss.Style
	Line      lipgloss.Style
}

func newStyles(r *lipgloss.Renderer) styles {
	return styles{
		Title:     r.NewStyle().Bold(true).Foreground(accent),
		Status:    r.NewStyle().Italic(true).Foreground(info),
		Agent:     r.NewStyle().Bold(true).Foreground(accent),
		User:      r.NewStyle().Bold(true).Foreground(info),
		Notice:    r.NewStyle().Bold(true).Foreground(warning),
		Muted:     r.NewStyle().Foreground(muted),
		Recording: r.NewStyle().Bold(true).Foreground(danger),
		Active:    r.NewStyle().Foreground(accent),
		Avatar:    r.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(muted).Padding(0, 1),
		Speaking:  r.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(accent).Padding(0, 1),
		Line:      r.NewStyle(),
	}
}
