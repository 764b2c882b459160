package tui

import "github.com/charmbracelet/lipgloss"

var (
	primaryColor = lipgloss.Color("#A78BFA")
	successColor = lipgloss.Color("#10B981")
	warningColor = lipgloss.Color("#F59E0B")
	errorColor   = lipgloss.Color("#F87171")
	mutedColor   = lipgloss.Color("#9CA3AF")
	textColor    = lipgloss.Color("#F9FAFB")
	borderColor  = lipgloss.Color("#6B7280")

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor).
			MarginBottom(1)

	subtitleStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			Italic(true)

	mutedStyle   = lipgloss.NewStyle().Foreground(mutedColor)
	successStyle = lipgloss.NewStyle().Foreground(successColor)
	warningStyle = lipgloss.NewStyle().Foreground(warningColor)
	errorStyle   = lipgloss.NewStyle().Foreground(errorColor).Bold(true)

	phaseDone    = lipgloss.NewStyle().Foreground(successColor)
	phaseActive  = lipgloss.NewStyle().Bold(true).Foreground(textColor).Background(primaryColor).Padding(0, 1)
	phasePending = lipgloss.NewStyle().Foreground(mutedColor)

	labelStyle   = lipgloss.NewStyle().Width(16).Foreground(mutedColor)
	focusedLabel = lipgloss.NewStyle().Width(16).Bold(true).Foreground(primaryColor)

	contentBox = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(borderColor).
			Padding(0, 1)

	celebrateBox = lipgloss.NewStyle().
			Border(lipgloss.DoubleBorder()).
			BorderForeground(successColor).
			Foreground(successColor).
			Bold(true).
			Padding(0, 2)

	helpStyle = lipgloss.NewStyle().Foreground(mutedColor).MarginTop(1)
)
