package cmd

import "github.com/charmbracelet/lipgloss"

var (
	colorAccent  = lipgloss.Color("#2CD7C7")
	colorWarning = lipgloss.Color("#F4D03F")
	colorError   = lipgloss.Color("#E74C3C")
	colorMuted   = lipgloss.Color("#6C7A80")
)

var styles = struct {
	Title   lipgloss.Style
	Bold    lipgloss.Style
	Muted   lipgloss.Style
	Success lipgloss.Style
	Warning lipgloss.Style
	Error   lipgloss.Style
	Kind    lipgloss.Style
	Score   lipgloss.Style
}{
	Title:   lipgloss.NewStyle().Bold(true).Foreground(colorAccent),
	Bold:    lipgloss.NewStyle().Bold(true),
	Muted:   lipgloss.NewStyle().Foreground(colorMuted),
	Success: lipgloss.NewStyle().Foreground(colorAccent),
	Warning: lipgloss.NewStyle().Foreground(colorWarning),
	Error:   lipgloss.NewStyle().Foreground(colorError),
	Kind:    lipgloss.NewStyle().Foreground(colorAccent).Width(12),
	Score:   lipgloss.NewStyle().Foreground(colorMuted),
}
