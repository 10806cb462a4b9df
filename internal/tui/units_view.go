package tui

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/kingrea/dcnsuite/internal/suite"
)

var (
	labelStyleDone    = lipgloss.NewStyle().Foreground(lipgloss.Color("#4CAF50")).Bold(true)
	labelStyleFailed  = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B")).Bold(true)
	labelStyleRunning = lipgloss.NewStyle().Foreground(lipgloss.Color("#5B8DEF")).Bold(true)
	labelStylePending = lipgloss.NewStyle().Foreground(lipgloss.Color("#999999"))
	detailTextStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#A0AEC0"))
	selectedStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#F7B801")).Bold(true)

	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#5B8DEF"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B"))
	footerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888")).MarginTop(1)
	boxStyle    = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#444444")).
			Padding(0, 1)
)

type unitItem struct {
	state    suite.UnitState
	attempts int
}

func (i unitItem) Title() string {
	return fmt.Sprintf("%03d · %s", i.state.Index, i.state.PromptID)
}

func (i unitItem) Description() string {
	parts := []string{string(i.state.Status)}
	if i.attempts > 0 {
		parts = append(parts, fmt.Sprintf("attempts %d", i.attempts))
	}
	if i.state.Status == suite.StatusFailed && i.state.Stage != "" {
		parts = append(parts, i.state.Stage+": "+i.state.LastError)
	}
	return strings.Join(parts, " · ")
}

func (i unitItem) FilterValue() string { return i.state.PromptID }

// buildUnitItems prefers journal attempt counts over the checkpoint's.
func buildUnitItems(report suite.Report) []list.Item {
	if report.Checkpoint == nil {
		return nil
	}
	items := make([]list.Item, len(report.Checkpoint.Units))
	for i, st := range report.Checkpoint.Units {
		attempts := st.Attempts
		if n, ok := report.Attempts[st.Index]; ok {
			attempts = n
		}
		items[i] = unitItem{state: st, attempts: attempts}
	}
	return items
}

func unitStyle(status suite.UnitStatus) lipgloss.Style {
	switch status {
	case suite.StatusDone:
		return labelStyleDone
	case suite.StatusFailed:
		return labelStyleFailed
	case suite.StatusInProgress:
		return labelStyleRunning
	default:
		return labelStylePending
	}
}

func runStatusStyle(status suite.RunStatus) lipgloss.Style {
	switch status {
	case suite.RunCompleted:
		return labelStyleDone
	case suite.RunAborted:
		return labelStyleFailed
	case suite.RunRunning:
		return labelStyleRunning
	default:
		return selectedStyle
	}
}

// unitDelegate renders one unit per line.
type unitDelegate struct{}

func (unitDelegate) Height() int                         { return 1 }
func (unitDelegate) Spacing() int                        { return 0 }
func (unitDelegate) Update(tea.Msg, *list.Model) tea.Cmd { return nil }

func (unitDelegate) Render(w io.Writer, m list.Model, index int, item list.Item) {
	u, ok := item.(unitItem)
	if !ok {
		return
	}
	cursor := "  "
	title := u.Title()
	if index == m.Index() {
		cursor = "> "
		title = selectedStyle.Render(title)
	}
	fmt.Fprintf(w, "%s%s %s", cursor, title, unitStyle(u.state.Status).Render(u.Description()))
}
