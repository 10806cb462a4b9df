package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/kingrea/dcnsuite/internal/config"
	"github.com/kingrea/dcnsuite/internal/logging"
	"github.com/kingrea/dcnsuite/internal/prompts"
	"github.com/kingrea/dcnsuite/internal/render"
	"github.com/kingrea/dcnsuite/internal/suite"
	"github.com/kingrea/dcnsuite/internal/unit"
	"github.com/kingrea/dcnsuite/internal/window"
)

type idleRunner struct{}

func (idleRunner) Run(context.Context, prompts.Unit, window.Payload, int) (unit.Result, error) {
	return unit.Result{}, errors.New("not used")
}

func testConfig() *config.SuiteConfig {
	cfg := config.Default()
	cfg.Instruments = []config.Instrument{{Name: "piano", DisplayName: "Piano", Low: 21, High: 108, Polyphonic: true}}
	return cfg
}

// runWithLog runs one session and returns the closed suite log and its error.
func runWithLog(t *testing.T, cfg *config.SuiteConfig, doRender bool, session sessionFunc) (string, error) {
	t.Helper()
	dir := t.TempDir()
	logger, err := logging.New(dir)
	if err != nil {
		t.Fatal(err)
	}
	runErr := runSession(context.Background(), dir, cfg, logger, idleRunner{}, nil, doRender, session)
	if err := logger.Close(); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(filepath.Join(dir, "logs", "suite.log"))
	if err != nil {
		t.Fatal(err)
	}
	return string(data), runErr
}

func TestSessionErrorIsReturnedAndLogged(t *testing.T) {
	boom := errors.New("boom")
	log, err := runWithLog(t, testConfig(), false, func(context.Context, *suite.Orchestrator) (suite.Outcome, error) {
		return suite.Outcome{}, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected session error, got %v", err)
	}
	if !strings.Contains(log, "session failed: boom") {
		t.Fatalf("expected failure in suite log, got %q", log)
	}
}

func TestInterruptedSessionNamesResume(t *testing.T) {
	_, err := runWithLog(t, testConfig(), false, func(context.Context, *suite.Orchestrator) (suite.Outcome, error) {
		return suite.Outcome{}, context.Canceled
	})
	if err == nil || !strings.Contains(err.Error(), "dcnsuite resume --suite") {
		t.Fatalf("expected resume hint, got %v", err)
	}
}

func TestRenderFailureIsReturned(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("needs a POSIX shell")
	}
	cfg := testConfig()
	cfg.Render.Command = []string{"sh", "-c", "exit 2"}
	log, err := runWithLog(t, cfg, true, func(context.Context, *suite.Orchestrator) (suite.Outcome, error) {
		return suite.Outcome{Status: suite.RunCompleted, Outputs: suite.Outputs{Composition: "composition.json", Schedule: "schedule.json"}}, nil
	})
	if !errors.Is(err, render.ErrRender) {
		t.Fatalf("expected ErrRender, got %v", err)
	}
	if !strings.Contains(log, "render failed") {
		t.Fatalf("expected render failure in suite log, got %q", log)
	}
}
