// Package suite drives prompt units through the unit pipeline in order,
// checkpointing after every unit so an interrupted run can resume.
package suite

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/zoobzio/capitan"

	"github.com/kingrea/dcnsuite/internal/artifact"
	"github.com/kingrea/dcnsuite/internal/config"
	"github.com/kingrea/dcnsuite/internal/journal"
	"github.com/kingrea/dcnsuite/internal/logbook"
	"github.com/kingrea/dcnsuite/internal/preflight"
	"github.com/kingrea/dcnsuite/internal/prompts"
	"github.com/kingrea/dcnsuite/internal/stitch"
	"github.com/kingrea/dcnsuite/internal/unit"
	"github.com/kingrea/dcnsuite/internal/window"
)

// UnitRunner runs one unit. *unit.Pipeline satisfies it.
type UnitRunner interface {
	Run(ctx context.Context, u prompts.Unit, history window.Payload, attempt int) (unit.Result, error)
}

// PreflightFunc checks the external service before any unit work.
type PreflightFunc func(ctx context.Context) (preflight.Report, error)

// Orchestrator owns the checkpoint of one suite directory.
type Orchestrator struct {
	dir       string
	cfg       *config.SuiteConfig
	runner    UnitRunner
	preflight PreflightFunc
	repo      CheckpointStore
	store     *artifact.Store
	journal   *journal.Journal
	book      *logbook.Logbook
	clock     func() time.Time
	newRunID  func() string
}

// Option customizes the orchestrator.
type Option func(*Orchestrator)

// WithClock injects a deterministic clock (primarily for tests).
func WithClock(clock func() time.Time) Option {
	return func(o *Orchestrator) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// WithPreflight sets the capability check run before unit work.
func WithPreflight(fn PreflightFunc) Option {
	return func(o *Orchestrator) {
		o.preflight = fn
	}
}

// WithRunID overrides run id generation.
func WithRunID(fn func() string) Option {
	return func(o *Orchestrator) {
		if fn != nil {
			o.newRunID = fn
		}
	}
}

// WithCheckpointStore replaces the file-backed checkpoint repository.
func WithCheckpointStore(store CheckpointStore) Option {
	return func(o *Orchestrator) {
		if store != nil {
			o.repo = store
		}
	}
}

// New wires an orchestrator to a suite directory. Close releases the journal.
func New(ctx context.Context, dir string, cfg *config.SuiteConfig, runner UnitRunner, opts ...Option) (*Orchestrator, error) {
	if cfg == nil {
		return nil, fmt.Errorf("suite: config is required")
	}
	if runner == nil {
		return nil, fmt.Errorf("suite: unit runner is required")
	}
	o := &Orchestrator{
		dir:      dir,
		cfg:      cfg,
		runner:   runner,
		repo:     NewRepository(dir),
		clock:    time.Now,
		newRunID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.store = artifact.NewStore(dir, artifact.WithClock(o.now))
	j, err := journal.Open(ctx, dir, journal.WithClock(o.now))
	if err != nil {
		return nil, err
	}
	o.journal = j
	book, err := logbook.New(promptsLogPath(dir), logbook.WithClock(o.now))
	if err != nil {
		j.Close()
		return nil, fmt.Errorf("suite: open prompts log: %w", err)
	}
	o.book = book
	return o, nil
}

// Close releases the journal.
func (o *Orchestrator) Close() error {
	return o.journal.Close()
}

// Outcome reports what a start or resume did.
type Outcome struct {
	RunID    string
	Status   RunStatus
	Done     []int
	Missing  []int
	Executed int
	Outputs  Outputs
}

// Complete reports whether every unit is done.
func (o Outcome) Complete() bool {
	return o.Status == RunCompleted
}

// session is the in-memory state of one start or resume.
type session struct {
	cp       *Checkpoint
	units    []prompts.Unit
	results  map[int]UnitRecord
	executed int
	failures int
}

// Start creates a fresh suite for units and processes every unit in order.
func (o *Orchestrator) Start(ctx context.Context, units []prompts.Unit, promptDir string) (Outcome, error) {
	if len(units) == 0 {
		return Outcome{}, fmt.Errorf("suite: no prompt units")
	}
	if _, err := o.repo.Load(); !errors.Is(err, ErrCheckpointNotFound) {
		if err == nil {
			return Outcome{}, fmt.Errorf("%w: %s", ErrSuiteExists, o.dir)
		}
		return Outcome{}, fmt.Errorf("%w: %s: %v", ErrSuiteExists, o.dir, err)
	}
	fp, err := ComputeFingerprint(o.cfg, units)
	if err != nil {
		return Outcome{}, fmt.Errorf("suite: fingerprint: %w", err)
	}
	now := o.now()
	runID := o.newRunID()
	if err := saveManifest(o.dir, newManifest(runID, promptDir, o.cfg, units, fp, now)); err != nil {
		return Outcome{}, fmt.Errorf("suite: write manifest: %w", err)
	}
	s := &session{cp: newCheckpoint(runID, fp.Suite, units, now), units: units, results: map[int]UnitRecord{}}
	if err := o.repo.Save(s.cp); err != nil {
		return Outcome{}, fmt.Errorf("suite: write checkpoint: %w", err)
	}
	capitan.Info(ctx, SuiteStarted, RunIDKey.Field(runID), TotalKey.Field(len(units)), DoneKey.Field(0))
	o.book.Info("suite %s started with %d units", runID, len(units))

	if outputs, err := o.runPreflight(ctx, s); err != nil {
		return o.outcome(s, outputs), err
	}
	return o.process(ctx, s)
}

// Resume continues the suite in the orchestrator's directory. Done units are
// never re-run. A suite with every unit done is re-stitched without any
// pipeline call.
func (o *Orchestrator) Resume(ctx context.Context, units []prompts.Unit) (Outcome, error) {
	cp, err := o.repo.Load()
	if err != nil {
		return Outcome{}, err
	}
	fp, err := ComputeFingerprint(o.cfg, units)
	if err != nil {
		return Outcome{}, fmt.Errorf("suite: fingerprint: %w", err)
	}
	if fp.Suite != cp.Fingerprint {
		changed := []string{"settings"}
		if m, err := LoadManifest(o.dir); err == nil {
			changed = m.Fingerprint.Diff(fp)
		}
		return Outcome{}, fmt.Errorf("%w: %s changed since the suite started", ErrConfigMismatch, strings.Join(changed, ", "))
	}
	if len(cp.Units) != len(units) {
		return Outcome{}, fmt.Errorf("%w: checkpoint has %d units, %d prompts loaded", ErrCheckpointCorrupt, len(cp.Units), len(units))
	}

	s := &session{cp: cp, units: units, results: map[int]UnitRecord{}}
	now := o.now()
	for i := range cp.Units {
		if cp.Units[i].Status == StatusInProgress {
			cp.reset(i, now)
		}
		if !cp.Done(i) {
			continue
		}
		rec, err := o.loadUnit(i)
		if err != nil {
			return Outcome{}, err
		}
		s.results[i] = rec
	}
	cp.Status = RunRunning
	cp.StatusReason = ""
	if err := o.repo.Save(cp); err != nil {
		return Outcome{}, fmt.Errorf("suite: write checkpoint: %w", err)
	}
	capitan.Info(ctx, SuiteResumed, RunIDKey.Field(cp.RunID), TotalKey.Field(len(units)), DoneKey.Field(len(cp.Completed)))
	o.book.Info("suite %s resumed with %d of %d units done", cp.RunID, len(cp.Completed), len(units))

	if len(cp.Missing()) > 0 {
		if outputs, err := o.runPreflight(ctx, s); err != nil {
			return o.outcome(s, outputs), err
		}
	}
	return o.process(ctx, s)
}

// runPreflight aborts the session when the check fails. Done units from an
// earlier session are stitched into a partial first.
func (o *Orchestrator) runPreflight(ctx context.Context, s *session) (Outputs, error) {
	if o.preflight == nil {
		return Outputs{}, nil
	}
	report, err := o.preflight(ctx)
	if err != nil {
		capitan.Error(ctx, PreflightFailed, RunIDKey.Field(s.cp.RunID), ErrorKey.Field(err.Error()))
		o.book.Error("preflight failed: %v", err)
		var outputs Outputs
		if len(s.cp.Completed) > 0 {
			outputs = o.salvage(s)
		}
		o.abort(ctx, s, err.Error())
		return outputs, err
	}
	if len(report.Created) > 0 {
		o.book.Info("preflight created transformations: %s", strings.Join(report.Created, ", "))
	}
	capitan.Info(ctx, PreflightPassed, RunIDKey.Field(s.cp.RunID))
	return Outputs{}, nil
}

// salvage writes the best-effort partial before a fatal return. A failed
// write is logged, not returned.
func (o *Orchestrator) salvage(s *session) Outputs {
	outputs, err := o.writePartial(s)
	if err != nil {
		o.book.Warn("write partial composition: %v", err)
		return Outputs{}
	}
	return outputs
}

// process runs every unit that is not done, in index order, then stitches.
func (o *Orchestrator) process(ctx context.Context, s *session) (Outcome, error) {
	threshold := o.cfg.Suite.FailureThreshold()
	for _, u := range s.units {
		if s.cp.Done(u.Index) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return o.outcome(s, Outputs{}), err
		}
		if err := o.runUnit(ctx, s, u); err != nil {
			return o.outcome(s, Outputs{}), err
		}
		if threshold > 0 && s.failures > threshold {
			reason := fmt.Sprintf("%d consecutive unit failures", s.failures)
			outputs := o.salvage(s)
			o.abort(ctx, s, reason)
			return o.outcome(s, outputs), fmt.Errorf("%w: %s", ErrTooManyConsecutiveFailures, reason)
		}
	}
	return o.finish(ctx, s)
}

// runUnit takes one unit from in_progress to done or failed. The checkpoint
// is saved before the next unit can begin.
func (o *Orchestrator) runUnit(ctx context.Context, s *session, u prompts.Unit) error {
	attempt, err := o.journal.NextAttempt(ctx, u.Index)
	if err != nil {
		return err
	}
	s.cp.begin(u.Index, attempt, o.now())
	if err := o.repo.Save(s.cp); err != nil {
		return fmt.Errorf("suite: write checkpoint: %w", err)
	}
	capitan.Info(ctx, UnitStarted, RunIDKey.Field(s.cp.RunID), UnitIndexKey.Field(u.Index), PromptIDKey.Field(u.ID), AttemptKey.Field(attempt))
	o.book.Prompt(u, attempt)

	history := window.Build(s.history(), u.Index, window.Policy{Last: o.cfg.Context.LastN(), MaxChars: o.cfg.Context.MaxChars})
	res, runErr := o.runner.Run(ctx, u, history, attempt)
	s.executed++
	if runErr != nil {
		if ctx.Err() != nil {
			// Interrupted mid-unit: leave it for resume.
			s.cp.reset(u.Index, o.now())
			if err := o.repo.Save(s.cp); err != nil {
				return fmt.Errorf("suite: write checkpoint: %w", err)
			}
			return ctx.Err()
		}
		return o.recordFailure(ctx, s, u, attempt, runErr)
	}
	return o.recordSuccess(ctx, s, u, attempt, res)
}

func (o *Orchestrator) recordSuccess(ctx context.Context, s *session, u prompts.Unit, attempt int, res unit.Result) error {
	rec := UnitRecord{
		Composition: res.Composition,
		Bundle:      res.Bundle,
		RawBundle:   res.Raw,
		FeatureName: res.FeatureName,
		Attempt:     attempt,
	}
	if err := o.store.WriteJSON(artifact.UnitDoc(u.Index), rec, o.meta(s, "unit-pipeline")); err != nil {
		return fmt.Errorf("suite: write unit %d: %w", u.Index, err)
	}
	if err := o.store.Remove(artifact.ErrorDoc(u.Index)); err != nil {
		return fmt.Errorf("suite: clear unit %d error: %w", u.Index, err)
	}
	normalized, _ := json.Marshal(res.Composition.Notes)
	// The unit is finished; record it even when the run is being cancelled.
	if err := o.journal.Append(context.WithoutCancel(ctx), journal.Entry{
		UnitIndex:  u.Index,
		PromptID:   u.ID,
		Attempt:    attempt,
		Status:     journal.StatusDone,
		RawBundle:  res.Raw,
		Normalized: string(normalized),
	}); err != nil {
		return err
	}
	s.cp.complete(u.Index, o.now())
	if err := o.repo.Save(s.cp); err != nil {
		return fmt.Errorf("suite: write checkpoint: %w", err)
	}
	s.results[u.Index] = rec
	s.failures = 0
	capitan.Info(ctx, UnitCompleted, RunIDKey.Field(s.cp.RunID), UnitIndexKey.Field(u.Index), PromptIDKey.Field(u.ID),
		AttemptKey.Field(attempt), DoneKey.Field(len(s.cp.Completed)), TotalKey.Field(len(s.units)))
	o.book.Summary(u.Index, u.ID, res.Bundle.Summary)

	if k := o.cfg.Suite.CheckpointInterval; k > 0 && len(s.cp.Completed)%k == 0 && len(s.cp.Completed) < len(s.units) {
		if _, err := o.writePartial(s); err != nil {
			return err
		}
		capitan.Info(ctx, SuiteSnapshot, RunIDKey.Field(s.cp.RunID), DoneKey.Field(len(s.cp.Completed)), TotalKey.Field(len(s.units)))
	}
	return nil
}

func (o *Orchestrator) recordFailure(ctx context.Context, s *session, u prompts.Unit, attempt int, runErr error) error {
	stage := string(unit.StageGenerate)
	payload := map[string]any{"error": runErr.Error()}
	var unitErr *unit.Error
	if errors.As(runErr, &unitErr) {
		stage = string(unitErr.Stage)
		if unitErr.Payload != nil {
			payload = unitErr.Payload
		}
	}
	record := ErrorRecord{
		UnitIndex: u.Index,
		PromptID:  u.ID,
		Attempt:   attempt,
		Stage:     stage,
		Class:     failureClass(runErr),
		Error:     runErr.Error(),
	}
	if err := o.store.WriteJSON(artifact.ErrorDoc(u.Index), record, o.meta(s, "suite")); err != nil {
		return fmt.Errorf("suite: write unit %d error: %w", u.Index, err)
	}
	if err := o.store.WriteJSON(artifact.QuarantineDoc(u.Index, stage), payload, o.meta(s, "unit-pipeline")); err != nil {
		return fmt.Errorf("suite: quarantine unit %d: %w", u.Index, err)
	}
	raw, _ := payload["raw_output"].(string)
	if err := o.journal.Append(context.WithoutCancel(ctx), journal.Entry{
		UnitIndex: u.Index,
		PromptID:  u.ID,
		Attempt:   attempt,
		Status:    journal.StatusFailed,
		Stage:     stage,
		RawBundle: raw,
		Error:     runErr.Error(),
	}); err != nil {
		return err
	}
	s.cp.fail(u.Index, stage, runErr.Error(), o.now())
	if err := o.repo.Save(s.cp); err != nil {
		return fmt.Errorf("suite: write checkpoint: %w", err)
	}
	s.failures++
	capitan.Error(ctx, UnitFailed, RunIDKey.Field(s.cp.RunID), UnitIndexKey.Field(u.Index), PromptIDKey.Field(u.ID),
		AttemptKey.Field(attempt), StageKey.Field(stage), ErrorKey.Field(runErr.Error()))
	o.book.Failure(u.Index, u.ID, runErr)
	return nil
}

// finish stitches the done units and closes out the session.
func (o *Orchestrator) finish(ctx context.Context, s *session) (Outcome, error) {
	missing := s.cp.Missing()
	if len(missing) == 0 {
		outputs, err := o.writeFinal(s)
		if err != nil {
			return o.outcome(s, outputs), err
		}
		s.cp.Status = RunCompleted
		s.cp.StatusReason = ""
		s.cp.UpdatedAt = o.now()
		if err := o.repo.Save(s.cp); err != nil {
			return o.outcome(s, outputs), fmt.Errorf("suite: write checkpoint: %w", err)
		}
		o.writeSummary(s)
		capitan.Info(ctx, SuiteCompleted, RunIDKey.Field(s.cp.RunID), StatusKey.Field(string(RunCompleted)),
			DoneKey.Field(len(s.cp.Completed)), TotalKey.Field(len(s.units)))
		return o.outcome(s, outputs), nil
	}

	outputs, err := o.writePartial(s)
	if err != nil {
		return o.outcome(s, outputs), err
	}
	if o.cfg.Suite.GapPolicy == config.GapPolicyStrict {
		gapErr := fmt.Errorf("%w: %v", stitch.ErrGap, missing)
		o.abort(ctx, s, gapErr.Error())
		return o.outcome(s, outputs), gapErr
	}
	s.cp.Status = RunPartial
	s.cp.StatusReason = fmt.Sprintf("missing units %v", missing)
	s.cp.UpdatedAt = o.now()
	if err := o.repo.Save(s.cp); err != nil {
		return o.outcome(s, outputs), fmt.Errorf("suite: write checkpoint: %w", err)
	}
	o.writeSummary(s)
	capitan.Info(ctx, SuiteCompleted, RunIDKey.Field(s.cp.RunID), StatusKey.Field(string(RunPartial)),
		DoneKey.Field(len(s.cp.Completed)), TotalKey.Field(len(s.units)))
	return o.outcome(s, outputs), nil
}

// abort records a fatal condition. Unit states are untouched so resume can
// retry.
func (o *Orchestrator) abort(ctx context.Context, s *session, reason string) {
	s.cp.Status = RunAborted
	s.cp.StatusReason = reason
	s.cp.UpdatedAt = o.now()
	if err := o.repo.Save(s.cp); err != nil {
		o.book.Error("write checkpoint after abort: %v", err)
	}
	o.writeSummary(s)
	capitan.Error(ctx, SuiteAborted, RunIDKey.Field(s.cp.RunID), StatusKey.Field(string(RunAborted)), ErrorKey.Field(reason))
	o.book.Error("suite aborted: %s", reason)
}

func (o *Orchestrator) outcome(s *session, outputs Outputs) Outcome {
	return Outcome{
		RunID:    s.cp.RunID,
		Status:   s.cp.Status,
		Done:     append([]int{}, s.cp.Completed...),
		Missing:  s.cp.Missing(),
		Executed: s.executed,
		Outputs:  outputs,
	}
}

// history returns the window entries of every done unit.
func (s *session) history() []window.Entry {
	entries := make([]window.Entry, 0, len(s.results))
	for _, u := range s.units {
		rec, ok := s.results[u.Index]
		if !ok {
			continue
		}
		entries = append(entries, window.Entry{Index: u.Index, PromptID: u.ID, Bundle: rec.RawBundle})
	}
	return entries
}

func (o *Orchestrator) loadUnit(index int) (UnitRecord, error) {
	var rec UnitRecord
	if _, err := o.store.ReadJSON(artifact.UnitDoc(index), &rec); err != nil {
		return UnitRecord{}, fmt.Errorf("%w: done unit %d: %v", ErrCheckpointCorrupt, index, err)
	}
	if rec.Composition.UnitIndex != index {
		return UnitRecord{}, fmt.Errorf("%w: unit document %d holds unit %d", ErrCheckpointCorrupt, index, rec.Composition.UnitIndex)
	}
	return rec, nil
}

func (o *Orchestrator) meta(s *session, producer string) artifact.Metadata {
	return artifact.Metadata{Producer: producer, RunID: s.cp.RunID, Fingerprint: s.cp.Fingerprint}
}

func (o *Orchestrator) now() time.Time {
	return o.clock().UTC()
}

func failureClass(err error) string {
	switch {
	case errors.Is(err, unit.ErrGeneration):
		return "generation"
	case errors.Is(err, unit.ErrService):
		return "service"
	case errors.Is(err, unit.ErrNormalization):
		return "normalization"
	default:
		return "unknown"
	}
}
