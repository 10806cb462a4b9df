// internal/tui/app.go
//
// Live view of a suite directory. It never writes: every refresh re-reads
// the checkpoint, manifest, journal and prompts log through suite.Inspect.
//
// The flow is: Tick -> Inspect -> reportMsg -> Update -> View -> Screen

package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/kingrea/dcnsuite/internal/suite"
)

const (
	defaultRefreshInterval = 2 * time.Second
	defaultLogLines        = 12
)

// InspectFunc loads a report for the suite directory.
type InspectFunc func(ctx context.Context, dir string, logLines int) (suite.Report, error)

// AppOption customizes App construction for tests and alternate runtimes.
type AppOption func(*App)

// WithInspector overrides how reports are loaded.
func WithInspector(fn InspectFunc) AppOption {
	return func(a *App) {
		if fn != nil {
			a.inspect = fn
		}
	}
}

// WithRefreshInterval changes how often the suite directory is re-read.
func WithRefreshInterval(d time.Duration) AppOption {
	return func(a *App) {
		if d > 0 {
			a.interval = d
		}
	}
}

type reportMsg struct {
	report suite.Report
	err    error
}

type tickMsg time.Time

// App is the watch model.
type App struct {
	dir      string
	inspect  InspectFunc
	interval time.Duration
	logLines int

	units    list.Model
	report   suite.Report
	loaded   bool
	err      error
	quitting bool

	width  int
	height int
}

// NewApp creates a watch view for dir.
func NewApp(dir string, opts ...AppOption) *App {
	units := list.New(nil, unitDelegate{}, 0, 0)
	units.Title = "Units"
	units.SetShowStatusBar(false)
	units.SetFilteringEnabled(false)
	units.SetShowHelp(false)
	app := &App{
		dir:      dir,
		inspect:  suite.Inspect,
		interval: defaultRefreshInterval,
		logLines: defaultLogLines,
		units:    units,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(app)
		}
	}
	return app
}

// Init loads the first report and starts the refresh ticker.
func (a *App) Init() tea.Cmd {
	return tea.Batch(a.refresh(), a.tick())
}

// Update handles key presses, window changes and refreshed reports.
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		a.width, a.height = msg.Width, msg.Height
		a.units.SetSize(a.listWidth(), max(5, msg.Height-8))
		return a, nil
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			a.quitting = true
			return a, tea.Quit
		case "r":
			return a, a.refresh()
		}
	case reportMsg:
		a.applyReport(msg)
		return a, nil
	case tickMsg:
		return a, tea.Batch(a.refresh(), a.tick())
	}
	var cmd tea.Cmd
	a.units, cmd = a.units.Update(msg)
	return a, cmd
}

func (a *App) applyReport(msg reportMsg) {
	a.err = msg.err
	if msg.err != nil {
		return
	}
	a.loaded = true
	a.report = msg.report
	items := buildUnitItems(msg.report)
	selected := a.units.Index()
	a.units.SetItems(items)
	if selected < len(items) {
		a.units.Select(selected)
	}
}

func (a *App) refresh() tea.Cmd {
	inspect, dir, lines := a.inspect, a.dir, a.logLines
	return func() tea.Msg {
		report, err := inspect(context.Background(), dir, lines)
		return reportMsg{report: report, err: err}
	}
}

func (a *App) tick() tea.Cmd {
	return tea.Tick(a.interval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// View renders the header, unit list, log tail and footer.
func (a *App) View() string {
	if a.quitting {
		return ""
	}
	header := a.renderHeader()
	if !a.loaded {
		return lipgloss.JoinVertical(lipgloss.Left, header, a.renderError(), a.renderFooter())
	}
	leftBox := boxStyle.Width(a.listWidth()).Render(a.units.View())
	body := leftBox
	if a.width == 0 || a.width >= 80 {
		rightBox := boxStyle.Width(a.logWidth()).Render(a.renderLog())
		body = lipgloss.JoinHorizontal(lipgloss.Top, leftBox, rightBox)
	}
	return lipgloss.JoinVertical(lipgloss.Left, header, a.renderError(), body, a.renderFooter())
}

func (a *App) renderHeader() string {
	title := titleStyle.Render("DCN SUITE · " + a.dir)
	cp := a.report.Checkpoint
	if cp == nil {
		return title
	}
	counts := cp.Counts()
	line := fmt.Sprintf("run %s · %s · %d/%d done · %d failed",
		shortRunID(cp.RunID), cp.Status, counts[suite.StatusDone], len(cp.Units), counts[suite.StatusFailed])
	if cp.StatusReason != "" {
		line += " · " + cp.StatusReason
	}
	return lipgloss.JoinVertical(lipgloss.Left, title, runStatusStyle(cp.Status).Render(line))
}

func (a *App) renderError() string {
	if a.err == nil {
		return ""
	}
	msg := a.err.Error()
	if errors.Is(a.err, suite.ErrCheckpointNotFound) {
		msg = "No checkpoint yet. Waiting for the suite to start."
	}
	return errorStyle.Render(msg)
}

func (a *App) renderLog() string {
	title := titleStyle.Render("prompts.log")
	if len(a.report.Log) == 0 {
		return lipgloss.JoinVertical(lipgloss.Left, title, detailTextStyle.Render("(empty)"))
	}
	return lipgloss.JoinVertical(lipgloss.Left, title, detailTextStyle.Render(strings.Join(a.report.Log, "\n")))
}

func (a *App) renderFooter() string {
	return footerStyle.Render(fmt.Sprintf("r refresh · q quit · every %s", a.interval))
}

func (a *App) listWidth() int {
	if a.width == 0 {
		return 48
	}
	if a.width < 80 {
		return max(20, a.width-4)
	}
	return max(36, a.width/2-2)
}

func (a *App) logWidth() int {
	if a.width == 0 {
		return 60
	}
	return max(20, a.width-a.listWidth()-6)
}

func shortRunID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
