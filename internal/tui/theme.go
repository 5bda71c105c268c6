package tui

import "github.com/charmbracelet/lipgloss"

// Color palette (Tokyonight theme)
var (
	colorBorder = lipgloss.Color("#414868")
	colorMuted  = lipgloss.Color("#565f89")
	colorText   = lipgloss.Color("#a9b1d6")

	colorPrimary = lipgloss.Color("#7aa2f7")
	colorSuccess = lipgloss.Color("#9ece6a")
	colorRose    = lipgloss.Color("#f7768e")
)

// Styles
var (
	headerStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorBorder).
			Padding(0, 2)

	titleStyle = lipgloss.NewStyle().
			Foreground(colorPrimary).
			Bold(true)

	labelStyle = lipgloss.NewStyle().
			Foreground(colorMuted)

	valueStyle = lipgloss.NewStyle().
			Foreground(colorText)

	dimStyle = lipgloss.NewStyle().
			Foreground(colorMuted)

	successStyle = lipgloss.NewStyle().
			Foreground(colorSuccess).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(colorRose).
			Bold(true)

	spinnerStyle = lipgloss.NewStyle().
			Foreground(colorPrimary)

	progressActive = lipgloss.NewStyle().
			Foreground(colorPrimary)

	progressWait = lipgloss.NewStyle().
			Foreground(colorMuted)

	statValueStyle = lipgloss.NewStyle().
			Foreground(colorPrimary).
			Bold(true)

	helpStyle = lipgloss.NewStyle().
			Foreground(colorMuted)
)

var spinner = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}
