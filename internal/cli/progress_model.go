package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"paradl/internal/humanize"
)

// trackerState is the renderable snapshot of one task, generalized from the
// teacher engine's UDMProgressTracker (UDMProgressBar.go) from a single
// global tracker into a per-task entry in a multi-download table.
type trackerState struct {
	id              string
	filename        string
	downloadedBytes int64
	totalBytes      int64
	speed           float64
	eta             float64
	percent         float64
	paused          bool
	completed       bool
	failed          bool
	err             error
}

type trackerUpdateMsg trackerState
type quitMsg struct{}

// progressModel is the Bubble Tea model driving the CLI's live view,
// replacing the teacher engine's single-download polling loop
// (ProgressManager.go) with an event-subscriber table that renders one row
// per concurrent task.
type progressModel struct {
	bar      progress.Model
	trackers map[string]*trackerState
	order    []string
	quit     bool
}

func newProgressModel() progressModel {
	p := progress.New(progress.WithGradient("#00d7af", "#5fafff"))
	p.Width = 40
	return progressModel{bar: p, trackers: make(map[string]*trackerState)}
}

func (m progressModel) Init() tea.Cmd { return nil }

func (m progressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case trackerUpdateMsg:
		t := trackerState(msg)
		if _, ok := m.trackers[t.id]; !ok {
			m.order = append(m.order, t.id)
		}
		cp := t
		m.trackers[t.id] = &cp
		return m, nil
	case quitMsg:
		m.quit = true
		return m, tea.Quit
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		if msg.Width > 20 {
			m.bar.Width = msg.Width - 30
		}
	}
	return m, nil
}

func (m progressModel) View() string {
	filenameStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("#00d7af")).Bold(true)
	speedStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("#5fafff")).Bold(true)
	etaStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("#ffaf00")).Bold(true)
	errStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("#ff5f5f")).Bold(true)

	var view strings.Builder
	for _, id := range m.order {
		t := m.trackers[id]
		if t == nil {
			continue
		}
		view.WriteString(filenameStyle.Render(t.filename))
		view.WriteString("\n")

		switch {
		case t.failed:
			view.WriteString(errStyle.Render(fmt.Sprintf("failed: %v", t.err)))
		case t.completed:
			view.WriteString(fmt.Sprintf("%s (%s)", filenameStyle.Render("complete"), humanize.Bytes(t.totalBytes)))
		default:
			bar := m.bar.ViewAs(t.percent / 100.0)
			state := ""
			if t.paused {
				state = " (paused)"
			}
			view.WriteString(fmt.Sprintf("%s %.1f%%%s\n", bar, t.percent, state))
			view.WriteString(fmt.Sprintf("%s / %s   %s   eta %s",
				humanize.Bytes(t.downloadedBytes),
				humanize.Bytes(t.totalBytes),
				speedStyle.Render(humanize.Speed(t.speed)),
				etaStyle.Render(humanize.Duration(time.Duration(t.eta*float64(time.Second)))),
			))
		}
		view.WriteString("\n\n")
	}
	if len(m.order) == 0 {
		view.WriteString("waiting for downloads to start...\n")
	}
	return view.String()
}
