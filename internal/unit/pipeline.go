// Package unit runs one prompt through generation, the DCN service and
// normalization to produce a composition unit.
package unit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/zoobzio/pipz"

	"github.com/kingrea/dcnsuite/internal/config"
	"github.com/kingrea/dcnsuite/internal/dcn"
	"github.com/kingrea/dcnsuite/internal/generate"
	"github.com/kingrea/dcnsuite/internal/notes"
	"github.com/kingrea/dcnsuite/internal/prompts"
	"github.com/kingrea/dcnsuite/internal/window"
)

// Generator produces a validated bundle for a unit.
type Generator interface {
	Generate(ctx context.Context, unit prompts.Unit, history window.Payload) (generate.Result, error)
}

// Service is the part of the DCN API a unit needs.
type Service interface {
	PostFeature(ctx context.Context, feature dcn.Feature) (json.RawMessage, error)
	PostParticle(ctx context.Context, particle dcn.Particle) (json.RawMessage, error)
	Execute(ctx context.Context, req dcn.ExecuteRequest) ([]json.RawMessage, error)
}

// Composition is the normalized result of one unit. It never changes once built.
type Composition struct {
	UnitIndex  int           `json:"unit_index"`
	PromptID   string        `json:"source_prompt_id"`
	Meter      prompts.Meter `json:"meter"`
	BarTicks   int           `json:"bar_ticks"`
	Bars       int           `json:"bars"`
	Length     int           `json:"length"`
	Instrument string        `json:"instrument"`
	Notes      []notes.Event `json:"note_stream"`
}

// Result is a successful run.
type Result struct {
	Composition Composition
	Bundle      generate.Bundle
	Raw         string
	FeatureName string
}

// Request flows through the pipeline stages.
type Request struct {
	Unit    prompts.Unit
	History window.Payload
	Attempt int

	Generated   generate.Result
	Feature     dcn.Feature
	Particle    dcn.Particle
	Execute     dcn.ExecuteRequest
	Samples     []json.RawMessage
	Composition Composition
	failure     *Error
}

// Pipeline is the ordered set of unit stages.
type Pipeline struct {
	chain       pipz.Chainable[*Request]
	instruments map[string]config.Instrument
	gen         Generator
	svc         Service
	retries     int
}

// Option customises a Pipeline.
type Option func(*Pipeline)

// WithRetries retries each service stage up to n attempts.
func WithRetries(n int) Option {
	return func(p *Pipeline) {
		if n > 1 {
			p.retries = n
		}
	}
}

// New assembles the pipeline.
func New(gen Generator, svc Service, instruments []config.Instrument, opts ...Option) *Pipeline {
	p := &Pipeline{gen: gen, svc: svc, instruments: make(map[string]config.Instrument, len(instruments))}
	for _, inst := range instruments {
		p.instruments[inst.Name] = inst
	}
	for _, opt := range opts {
		opt(p)
	}
	p.chain = pipz.NewSequence("unit",
		pipz.Apply("generate", p.generate),
		p.service(pipz.Apply("feature", p.postFeature)),
		p.service(pipz.Apply("particle", p.postParticle)),
		p.service(pipz.Apply("execute", p.execute)),
		pipz.Apply("normalize", p.normalize),
	)
	return p
}

func (p *Pipeline) service(stage pipz.Chainable[*Request]) pipz.Chainable[*Request] {
	if p.retries > 1 {
		return pipz.NewRetry("service-retry", stage, p.retries)
	}
	return stage
}

// Run processes one unit. attempt distinguishes the service-side names of
// repeated attempts at the same unit. Failures are returned as *Error.
func (p *Pipeline) Run(ctx context.Context, unit prompts.Unit, history window.Payload, attempt int) (Result, error) {
	req := &Request{Unit: unit, History: history, Attempt: attempt}
	_, err := p.chain.Process(ctx, req)
	if err != nil {
		if req.failure != nil {
			return Result{}, req.failure
		}
		var unitErr *Error
		if errors.As(err, &unitErr) {
			return Result{}, unitErr
		}
		return Result{}, &Error{Index: unit.Index, Stage: StageGenerate, Err: err, Payload: req.payload(StageGenerate, err)}
	}
	return Result{
		Composition: req.Composition,
		Bundle:      req.Generated.Bundle,
		Raw:         req.Generated.Raw,
		FeatureName: req.Feature.Name,
	}, nil
}

func (p *Pipeline) generate(ctx context.Context, req *Request) (*Request, error) {
	req.failure = nil
	res, err := p.gen.Generate(ctx, req.Unit, req.History)
	req.Generated = res
	if err != nil {
		return req, req.fail(StageGenerate, err)
	}
	return req, nil
}

func (p *Pipeline) postFeature(ctx context.Context, req *Request) (*Request, error) {
	req.failure = nil
	req.Feature = req.Generated.Bundle.WireFeature(FeatureName(req.Generated.Bundle.Feature.Name, req.Unit.Index, req.Attempt))
	if _, err := p.svc.PostFeature(ctx, req.Feature); err != nil {
		return req, req.fail(StageFeature, err)
	}
	return req, nil
}

func (p *Pipeline) postParticle(ctx context.Context, req *Request) (*Request, error) {
	req.failure = nil
	req.Particle = dcn.NewParticle(req.Feature.Name+"_particle", req.Feature.Name)
	if _, err := p.svc.PostParticle(ctx, req.Particle); err != nil {
		return req, req.fail(StageParticle, err)
	}
	return req, nil
}

func (p *Pipeline) execute(ctx context.Context, req *Request) (*Request, error) {
	req.failure = nil
	bundle := req.Generated.Bundle
	req.Execute = dcn.ExecuteRequest{
		ParticleName:     req.Particle.Name,
		SamplesCount:     bundle.SamplesCount,
		RunningInstances: notes.BuildRunningInstances(bundle.Seeds.Map(), bundle.FeatureNames()),
	}
	samples, err := p.svc.Execute(ctx, req.Execute)
	req.Samples = samples
	if err != nil {
		return req, req.fail(StageExecute, err)
	}
	return req, nil
}

func (p *Pipeline) normalize(_ context.Context, req *Request) (*Request, error) {
	req.failure = nil
	samples := make([]notes.Sample, 0, len(req.Samples))
	for i, raw := range req.Samples {
		var s notes.Sample
		if err := json.Unmarshal(raw, &s); err != nil {
			return req, req.fail(StageNormalize, fmt.Errorf("%w: sample %d: %v", notes.ErrInvalid, i, err))
		}
		samples = append(samples, s)
	}
	streams, unknown, err := notes.NormalizeSamples(samples)
	if err != nil {
		return req, req.fail(StageNormalize, err)
	}
	if err := notes.RequireScalars(streams, req.Unit.ID, unknown); err != nil {
		return req, req.fail(StageNormalize, err)
	}
	inst, ok := p.instruments[req.Generated.Bundle.Instrument]
	if !ok {
		return req, req.fail(StageNormalize, fmt.Errorf("instrument %q is not configured", req.Generated.Bundle.Instrument))
	}
	events, err := notes.Events(streams, notes.Range{Low: inst.Low, High: inst.High})
	if err != nil {
		return req, req.fail(StageNormalize, err)
	}

	bars := (notes.Span(events) + req.Unit.BarTicks - 1) / req.Unit.BarTicks
	if bars < 1 {
		bars = 1
	}
	req.Composition = Composition{
		UnitIndex:  req.Unit.Index,
		PromptID:   req.Unit.ID,
		Meter:      req.Unit.Meter,
		BarTicks:   req.Unit.BarTicks,
		Bars:       bars,
		Length:     bars * req.Unit.BarTicks,
		Instrument: inst.Name,
		Notes:      events,
	}
	return req, nil
}

func (r *Request) fail(stage Stage, err error) error {
	r.failure = &Error{Index: r.Unit.Index, Stage: stage, Err: err, Payload: r.payload(stage, err)}
	return r.failure
}

// payload collects everything the request has produced so far.
func (r *Request) payload(stage Stage, err error) map[string]any {
	out := map[string]any{
		"unit_index": r.Unit.Index,
		"prompt_id":  r.Unit.ID,
		"attempt":    r.Attempt,
		"stage":      string(stage),
		"error":      err.Error(),
		"prompt":     r.Generated.Prompt.User,
	}
	if r.Generated.Raw != "" {
		out["raw_output"] = r.Generated.Raw
	}
	if stage != StageGenerate {
		out["bundle"] = r.Generated.Bundle
	}
	if r.Feature.Name != "" {
		out["feature"] = r.Feature
	}
	if r.Particle.Name != "" {
		out["particle"] = r.Particle
	}
	if r.Execute.ParticleName != "" {
		out["execute_request"] = r.Execute
	}
	if r.Samples != nil {
		out["samples"] = r.Samples
	}
	return out
}

var unsafeName = regexp.MustCompile(`[^a-z0-9_]+`)

// FeatureName derives the service-side feature name for an attempt.
func FeatureName(base string, index, attempt int) string {
	clean := strings.Trim(unsafeName.ReplaceAllString(strings.ToLower(strings.TrimSpace(base)), "_"), "_")
	if clean == "" {
		clean = "unit"
	}
	if len(clean) > 40 {
		clean = clean[:40]
	}
	return fmt.Sprintf("%s_u%03d_a%d", clean, index, attempt)
}
