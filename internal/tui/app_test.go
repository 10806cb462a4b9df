package tui

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/kingrea/dcnsuite/internal/suite"
)

func testReport() suite.Report {
	return suite.Report{
		Dir: "suite",
		Checkpoint: &suite.Checkpoint{
			RunID:  "0123456789abcdef",
			Status: suite.RunRunning,
			Units: []suite.UnitState{
				{Index: 0, PromptID: "001", Status: suite.StatusDone, Attempts: 1},
				{Index: 1, PromptID: "002", Status: suite.StatusFailed, Attempts: 2, Stage: "execute", LastError: "boom"},
				{Index: 2, PromptID: "003", Status: suite.StatusPending},
			},
		},
		Attempts: map[int]int{0: 1, 1: 3},
		Log:      []string{"unit 0 (001) attempt 1 meter=3/4 ticks=12"},
	}
}

func newTestApp(t *testing.T, report suite.Report, err error) (*App, *int) {
	t.Helper()
	calls := 0
	app := NewApp("suite", WithInspector(func(ctx context.Context, dir string, logLines int) (suite.Report, error) {
		calls++
		if dir != "suite" {
			t.Fatalf("unexpected dir %q", dir)
		}
		return report, err
	}), WithRefreshInterval(time.Millisecond))
	return app, &calls
}

func runCommand(t *testing.T, app *App, cmd tea.Cmd) *App {
	t.Helper()
	msg := cmd()
	model, _ := app.Update(msg)
	next, ok := model.(*App)
	if !ok {
		t.Fatalf("unexpected model type: %T", model)
	}
	return next
}

func TestRefreshLoadsUnits(t *testing.T) {
	app, calls := newTestApp(t, testReport(), nil)
	app = runCommand(t, app, app.refresh())
	if *calls != 1 {
		t.Fatalf("expected one inspect call, got %d", *calls)
	}
	items := app.units.Items()
	if len(items) != 3 {
		t.Fatalf("expected 3 unit items, got %d", len(items))
	}
	failed := items[1].(unitItem)
	if failed.attempts != 3 {
		t.Fatalf("expected journal attempts to win, got %d", failed.attempts)
	}
	if !strings.Contains(failed.Description(), "execute: boom") {
		t.Fatalf("unexpected description %q", failed.Description())
	}
	view := app.View()
	for _, want := range []string{"01234567", "1/3 done", "1 failed", "meter=3/4"} {
		if !strings.Contains(view, want) {
			t.Fatalf("view missing %q:\n%s", want, view)
		}
	}
}

func TestMissingCheckpointShowsWaiting(t *testing.T) {
	app, _ := newTestApp(t, suite.Report{}, suite.ErrCheckpointNotFound)
	app = runCommand(t, app, app.refresh())
	if app.loaded {
		t.Fatalf("expected app to stay unloaded")
	}
	if !strings.Contains(app.View(), "Waiting for the suite") {
		t.Fatalf("expected waiting message, got %q", app.View())
	}
}

func TestRefreshErrorKeepsLastReport(t *testing.T) {
	app, _ := newTestApp(t, testReport(), nil)
	app = runCommand(t, app, app.refresh())
	app.Update(reportMsg{err: errors.New("checkpoint: corrupt")})
	if len(app.units.Items()) != 3 {
		t.Fatalf("expected previous units to remain")
	}
	if !strings.Contains(app.View(), "corrupt") {
		t.Fatalf("expected error in view")
	}
}

func TestTickSchedulesRefresh(t *testing.T) {
	app, _ := newTestApp(t, testReport(), nil)
	_, cmd := app.Update(tickMsg(time.Now()))
	if cmd == nil {
		t.Fatalf("expected refresh command after tick")
	}
}

func TestQuitKey(t *testing.T) {
	app, _ := newTestApp(t, testReport(), nil)
	_, cmd := app.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	if cmd == nil {
		t.Fatalf("expected quit command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Fatalf("expected tea.QuitMsg")
	}
	if app.View() != "" {
		t.Fatalf("expected empty view after quit")
	}
}
