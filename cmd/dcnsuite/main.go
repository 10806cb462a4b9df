package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/zoobzio/capitan"

	"github.com/kingrea/dcnsuite/internal/config"
	"github.com/kingrea/dcnsuite/internal/dcn"
	"github.com/kingrea/dcnsuite/internal/generate"
	"github.com/kingrea/dcnsuite/internal/logging"
	"github.com/kingrea/dcnsuite/internal/preflight"
	"github.com/kingrea/dcnsuite/internal/prompts"
	"github.com/kingrea/dcnsuite/internal/render"
	"github.com/kingrea/dcnsuite/internal/suite"
	"github.com/kingrea/dcnsuite/internal/tui"
	"github.com/kingrea/dcnsuite/internal/unit"
)

const usage = `usage: dcnsuite <command> [flags]

commands:
  init     write a default suite.yaml
  run      start a new suite from a prompt directory
  resume   continue an interrupted suite
  status   print checkpoint and journal progress
  watch    live view of a suite directory`

func main() {
	if len(os.Args) < 2 {
		die(usage)
	}
	args := os.Args[2:]
	switch os.Args[1] {
	case "init":
		runInit(args)
	case "run":
		runStart(args)
	case "resume":
		runResume(args)
	case "status":
		runStatus(args)
	case "watch":
		runWatch(args)
	case "-h", "--help", "help":
		fmt.Println(usage)
	default:
		die("unknown command %q\n\n%s", os.Args[1], usage)
	}
}

func runInit(args []string) {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	path := fs.String("config", "suite.yaml", "where to write the default configuration")
	_ = fs.Parse(args)
	if _, err := os.Stat(*path); err == nil {
		fmt.Printf("%s already exists\n", *path)
		return
	}
	if err := config.WriteDefault(*path); err != nil {
		die("write config: %v", err)
	}
	fmt.Printf("Wrote %s\n", *path)
}

func runStart(args []string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	promptDir := fs.String("prompts", "", "directory of prompt files (required)")
	suiteDir := fs.String("suite", "", "suite output directory (required)")
	configFile := fs.String("config", "suite.yaml", "path to suite.yaml or suite.toml")
	doRender := fs.Bool("render", false, "run render.command after stitching")
	_ = fs.Parse(args)
	if strings.TrimSpace(*promptDir) == "" || strings.TrimSpace(*suiteDir) == "" {
		die("--prompts and --suite are required")
	}
	cfg, err := config.Load(*configFile)
	if err != nil {
		die("load config: %v", err)
	}
	dir := absPath(*suiteDir)
	source := absPath(*promptDir)
	units, err := loadUnits(source)
	if err != nil {
		die("%v", err)
	}
	err = execute(dir, cfg, *doRender, func(ctx context.Context, orch *suite.Orchestrator) (suite.Outcome, error) {
		return orch.Start(ctx, units, source)
	})
	if err != nil {
		die("%v", err)
	}
}

func runResume(args []string) {
	fs := flag.NewFlagSet("resume", flag.ExitOnError)
	suiteDir := fs.String("suite", "", "suite output directory (required)")
	configFile := fs.String("config", "", "path to suite.yaml (defaults to the manifest snapshot)")
	promptDir := fs.String("prompts", "", "directory of prompt files (defaults to the manifest)")
	doRender := fs.Bool("render", false, "run render.command after stitching")
	_ = fs.Parse(args)
	if strings.TrimSpace(*suiteDir) == "" {
		die("--suite is required")
	}
	dir := absPath(*suiteDir)
	manifest, err := suite.LoadManifest(dir)
	if err != nil {
		die("load manifest: %v", err)
	}
	cfg := manifest.Config
	if *configFile != "" {
		if cfg, err = config.Load(*configFile); err != nil {
			die("load config: %v", err)
		}
	}
	if cfg == nil {
		die("manifest has no config snapshot; pass --config")
	}
	source := manifest.PromptDir
	if *promptDir != "" {
		source = absPath(*promptDir)
	}
	units, err := loadUnits(source)
	if err != nil {
		die("%v", err)
	}
	err = execute(dir, cfg, *doRender, func(ctx context.Context, orch *suite.Orchestrator) (suite.Outcome, error) {
		return orch.Resume(ctx, units)
	})
	if err != nil {
		die("%v", err)
	}
}

func runStatus(args []string) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	suiteDir := fs.String("suite", "", "suite output directory (required)")
	lines := fs.Int("log", 0, "also print the last N lines of prompts.log")
	_ = fs.Parse(args)
	if strings.TrimSpace(*suiteDir) == "" {
		die("--suite is required")
	}
	report, err := suite.Inspect(context.Background(), absPath(*suiteDir), *lines)
	if err != nil {
		die("inspect suite: %v", err)
	}
	printReport(report)
}

func runWatch(args []string) {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	suiteDir := fs.String("suite", "", "suite output directory (required)")
	interval := fs.Duration("interval", 2*time.Second, "refresh interval")
	_ = fs.Parse(args)
	if strings.TrimSpace(*suiteDir) == "" {
		die("--suite is required")
	}
	app := tui.NewApp(absPath(*suiteDir), tui.WithRefreshInterval(*interval))
	if _, err := tea.NewProgram(app, tea.WithAltScreen()).Run(); err != nil {
		die("watch: %v", err)
	}
}

type sessionFunc func(ctx context.Context, orch *suite.Orchestrator) (suite.Outcome, error)

// execute wires the service clients and runs one session. Every resource is
// released before it returns, so callers may exit on the error.
func execute(dir string, cfg *config.SuiteConfig, doRender bool, session sessionFunc) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create suite dir: %w", err)
	}
	logger, err := logging.New(dir)
	if err != nil {
		return fmt.Errorf("open log: %w", err)
	}
	defer logger.Close()
	observer := capitan.Observe(func(_ context.Context, e *capitan.Event) {
		fields := strings.TrimSpace(suite.Describe(e) + " " + generate.Describe(e))
		logger.Printf("%s %s", e.Signal(), fields)
	})
	defer observer.Close()

	client, err := newServiceClient(cfg)
	if err != nil {
		return err
	}
	gen, err := newGenerator(cfg)
	if err != nil {
		return err
	}
	pipeline := unit.New(gen, client, cfg.Instruments, unit.WithRetries(cfg.DCN.Retries))
	pre := suite.WithPreflight(func(ctx context.Context) (preflight.Report, error) {
		return preflight.Run(ctx, client, preflight.Options{AutoBootstrap: cfg.DCN.Bootstrap()})
	})
	return runSession(ctx, dir, cfg, logger, pipeline, []suite.Option{pre}, doRender, session)
}

// runSession opens the orchestrator, runs session and optionally renders.
func runSession(ctx context.Context, dir string, cfg *config.SuiteConfig, logger *logging.Logger, runner suite.UnitRunner, opts []suite.Option, doRender bool, session sessionFunc) error {
	orch, err := suite.New(ctx, dir, cfg, runner, opts...)
	if err != nil {
		return fmt.Errorf("open suite: %w", err)
	}
	defer orch.Close()

	outcome, err := session(ctx, orch)
	if err != nil {
		logger.Printf("session failed: %v", err)
		if errors.Is(err, context.Canceled) {
			return fmt.Errorf("interrupted; resume with: dcnsuite resume --suite %s", dir)
		}
		return err
	}
	printOutcome(outcome)
	if !doRender || !outcome.Outputs.Ready() {
		return nil
	}
	req := render.NewRequest(dir, outcome.Outputs.Composition, outcome.Outputs.Schedule, cfg.Render)
	res, err := render.Run(ctx, cfg.Render, req)
	switch {
	case err != nil:
		logger.Printf("render failed: %v", err)
		return err
	case res.Skipped:
		fmt.Println("Render skipped: render.command is not configured.")
	default:
		logger.Printf("rendered %s", res.Output)
		fmt.Printf("Rendered %s\n", res.Output)
	}
	return nil
}

func newServiceClient(cfg *config.SuiteConfig) (*dcn.Client, error) {
	key := strings.TrimSpace(os.Getenv(cfg.DCN.PrivateKeyEnv))
	if key == "" {
		return nil, fmt.Errorf("%s is not set", cfg.DCN.PrivateKeyEnv)
	}
	signer, err := dcn.NewKeySigner(key)
	if err != nil {
		return nil, fmt.Errorf("load signing key: %w", err)
	}
	return dcn.New(cfg.DCN.BaseURL, signer, dcn.WithTimeout(time.Duration(cfg.DCN.TimeoutSeconds)*time.Second))
}

func newGenerator(cfg *config.SuiteConfig) (*generate.Generator, error) {
	key := strings.TrimSpace(os.Getenv(cfg.Model.APIKeyEnv))
	if key == "" {
		return nil, fmt.Errorf("%s is not set", cfg.Model.APIKeyEnv)
	}
	provider := generate.NewOpenAI(generate.OpenAIConfig{
		APIKey:  key,
		Model:   cfg.Model.Name,
		BaseURL: cfg.Model.BaseURL,
		Timeout: time.Duration(cfg.Model.TimeoutSeconds) * time.Second,
	})
	return generate.NewGenerator(provider, cfg.Instruments, cfg.Model.TemperatureOrDefault()), nil
}

func loadUnits(dir string) ([]prompts.Unit, error) {
	units, err := prompts.LoadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("load prompts: %w", err)
	}
	return units, nil
}

func printOutcome(out suite.Outcome) {
	fmt.Printf("Run %s: %s (%d done, %d missing, %d executed this session)\n",
		out.RunID, out.Status, len(out.Done), len(out.Missing), out.Executed)
	if len(out.Missing) > 0 {
		fmt.Printf("Missing units: %s\n", joinInts(out.Missing))
	}
	if out.Outputs.Ready() {
		label := "Composition"
		if out.Outputs.Partial {
			label = "Partial composition"
		}
		fmt.Printf("%s: %s\n", label, out.Outputs.Composition)
	}
}

func printReport(r suite.Report) {
	cp := r.Checkpoint
	counts := cp.Counts()
	fmt.Printf("Suite:  %s\n", r.Dir)
	fmt.Printf("Run:    %s\n", cp.RunID)
	fmt.Printf("Status: %s", cp.Status)
	if cp.StatusReason != "" {
		fmt.Printf(" (%s)", cp.StatusReason)
	}
	fmt.Println()
	if r.Manifest != nil {
		fmt.Printf("Prompts: %s\n", r.Manifest.PromptDir)
	}
	fmt.Printf("Units:  %d done, %d failed, %d pending of %d\n",
		counts[suite.StatusDone], counts[suite.StatusFailed], counts[suite.StatusPending]+counts[suite.StatusInProgress], len(cp.Units))
	for _, st := range cp.Units {
		line := fmt.Sprintf("  %03d %-12s %-11s attempts=%d", st.Index, st.PromptID, st.Status, r.Attempts[st.Index])
		if st.Status == suite.StatusFailed {
			line += fmt.Sprintf(" %s: %s", st.Stage, st.LastError)
		}
		fmt.Println(line)
	}
	if len(r.Log) > 0 {
		fmt.Println()
		fmt.Println(strings.Join(r.Log, "\n"))
	}
}

func joinInts(values []int) string {
	sorted := append([]int(nil), values...)
	sort.Ints(sorted)
	parts := make([]string, len(sorted))
	for i, v := range sorted {
		parts[i] = fmt.Sprint(v)
	}
	return strings.Join(parts, ", ")
}

func absPath(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		die("resolve %s: %v", path, err)
	}
	return abs
}

func die(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
