// Package tui renders job progress in the terminal. It is a consumer of
// progress events only; the engine never imports it.
package tui

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/hadylab/slipstream"
)

// Messages
type (
	progressMsg slipstream.Progress
	tickMsg     time.Time

	// DoneMsg signals successful completion.
	DoneMsg struct{}

	// ErrorMsg carries a fatal job error.
	ErrorMsg struct{ Err error }
)

type appState int

const (
	stateStarting appState = iota
	stateRunning
	stateDone
	stateError
)

// Model is the progress display for one download job.
type Model struct {
	url        string
	progressCh <-chan slipstream.Progress

	state     appState
	width     int
	frame     int
	message   string
	percent   *int
	startTime time.Time
	err       error
}

// NewModel creates a progress model reading from the given channel. The
// channel closing signals completion.
func NewModel(url string, progressCh <-chan slipstream.Progress) *Model {
	return &Model{
		url:        url,
		progressCh: progressCh,
		state:      stateStarting,
		width:      80,
		startTime:  time.Now(),
	}
}

func (m *Model) Init() tea.Cmd {
	return tea.Batch(m.listenProgress(), tick())
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width

	case progressMsg:
		m.state = stateRunning
		m.message = msg.Message
		m.percent = msg.Percent
		if msg.State == slipstream.StateFailed {
			m.state = stateError
		}
		return m, m.listenProgress()

	case tickMsg:
		m.frame++
		return m, tick()

	case DoneMsg:
		m.state = stateDone
		return m, tea.Quit

	case ErrorMsg:
		m.state = stateError
		m.err = msg.Err
		return m, tea.Quit
	}

	return m, nil
}

func (m *Model) View() string {
	w := clamp(m.width-4, 60, 100)

	var b strings.Builder
	b.WriteString(m.viewHeader(w))
	b.WriteString("\n\n")
	b.WriteString(m.renderBar(w - 6))
	b.WriteString("\n")
	b.WriteString(m.renderStatus())
	b.WriteString("\n")
	b.WriteString(helpStyle.Render("q quit  ctrl+c cancel"))
	b.WriteString("\n")

	return b.String()
}

func (m *Model) viewHeader(w int) string {
	title := titleStyle.Render("⚡ slipstream")
	urlLine := labelStyle.Render("url: ") + dimStyle.Render(truncate(m.url, w-10))
	return headerStyle.Width(w).Render(title + "\n" + urlLine)
}

func (m *Model) renderBar(w int) string {
	barWidth := clamp(w-12, 20, 80)

	if m.percent == nil {
		// Indeterminate: just show elapsed time next to an empty bar.
		bar := progressWait.Render(strings.Repeat("░", barWidth))
		return bar + " " + dimStyle.Render(formatDuration(time.Since(m.startTime)))
	}

	pct := float64(*m.percent) / 100
	filled := clamp(int(pct*float64(barWidth)), 0, barWidth)
	bar := progressActive.Render(strings.Repeat("█", filled)) +
		progressWait.Render(strings.Repeat("░", barWidth-filled))

	return bar + " " + statValueStyle.Render(fmt.Sprintf("%3d%%", *m.percent))
}

func (m *Model) renderStatus() string {
	switch m.state {
	case stateStarting:
		return spinnerStyle.Render(spinner[m.frame%len(spinner)]) + dimStyle.Render(" starting...")
	case stateRunning:
		return spinnerStyle.Render(spinner[m.frame%len(spinner)]) + " " + valueStyle.Render(m.message)
	case stateDone:
		return successStyle.Render("✓ " + m.message)
	case stateError:
		if m.err != nil {
			return errorStyle.Render(fmt.Sprintf("✗ %v", m.err))
		}
		return errorStyle.Render("✗ " + m.message)
	}
	return ""
}

func (m *Model) listenProgress() tea.Cmd {
	return func() tea.Msg {
		p, ok := <-m.progressCh
		if !ok {
			return DoneMsg{}
		}
		return progressMsg(p)
	}
}

func tick() tea.Cmd {
	return tea.Tick(100*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Helpers

func clamp(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

func truncate(s string, max int) string {
	if max < 4 || len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return "0s"
	}
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	min := d / time.Minute
	d -= min * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh%02dm%02ds", h, min, s)
	}
	if min > 0 {
		return fmt.Sprintf("%dm%02ds", min, s)
	}
	return fmt.Sprintf("%ds", s)
}
