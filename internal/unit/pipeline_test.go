package unit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/kingrea/dcnsuite/internal/config"
	"github.com/kingrea/dcnsuite/internal/dcn"
	"github.com/kingrea/dcnsuite/internal/dcn/dcntest"
	"github.com/kingrea/dcnsuite/internal/generate"
	"github.com/kingrea/dcnsuite/internal/prompts"
	"github.com/kingrea/dcnsuite/internal/window"
)

var testInstruments = []config.Instrument{{Name: "piano", Low: 21, High: 108, Polyphonic: true}}

type stubGenerator struct {
	bundle generate.Bundle
	err    error
	calls  int
}

func (s *stubGenerator) Generate(_ context.Context, _ prompts.Unit, _ window.Payload) (generate.Result, error) {
	s.calls++
	raw, _ := json.Marshal(s.bundle)
	if s.err != nil {
		return generate.Result{Raw: "garbage"}, s.err
	}
	return generate.Result{Bundle: s.bundle, Raw: string(raw)}, nil
}

func testBundle(samples int) generate.Bundle {
	return generate.Bundle{
		Summary:    "test",
		Instrument: "piano",
		Feature: generate.Feature{Name: "Test Feature!", Dimensions: []generate.Dimension{
			{FeatureName: "time", Transformations: []generate.Transformation{{Name: "add", Args: []int{2}}}},
			{FeatureName: "pitch", Transformations: []generate.Transformation{{Name: "add", Args: []int{1}}}},
		}},
		Seeds:        generate.Seeds{Time: 0, Duration: 2, Pitch: 60, Velocity: 80, Numerator: 3, Denominator: 4},
		SamplesCount: samples,
	}
}

func newService(t *testing.T) (*dcntest.Server, *dcn.Client) {
	t.Helper()
	srv := dcntest.NewServer(t)
	signer, err := dcn.GenerateKeySigner()
	if err != nil {
		t.Fatal(err)
	}
	client, err := dcn.New(srv.URL(), signer)
	if err != nil {
		t.Fatal(err)
	}
	return srv, client
}

func TestRunProducesComposition(t *testing.T) {
	srv, client := newService(t)
	gen := &stubGenerator{bundle: testBundle(7)}
	p := New(gen, client, testInstruments)
	unit, _ := prompts.Parse(2, "003", "a phrase")

	res, err := p.Run(context.Background(), unit, window.Payload{}, 1)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	c := res.Composition
	if c.UnitIndex != 2 || c.PromptID != "003" || c.BarTicks != 12 || len(c.Notes) != 7 {
		t.Fatalf("unexpected composition %+v", c)
	}
	// Seven notes two ticks apart last until tick 14, which needs two 12-tick bars.
	if c.Bars != 2 || c.Length != 24 {
		t.Fatalf("expected 2 bars of 24 ticks, got %d bars %d ticks", c.Bars, c.Length)
	}
	if res.FeatureName != "test_feature_u002_a1" {
		t.Fatalf("unexpected feature name %s", res.FeatureName)
	}
	if _, ok := srv.Feature("test_feature_u002_a1"); !ok {
		t.Fatalf("expected feature posted to the service")
	}
}

func TestRunClassifiesGenerationFailure(t *testing.T) {
	_, client := newService(t)
	gen := &stubGenerator{err: fmt.Errorf("%w: boom", generate.ErrMalformed)}
	p := New(gen, client, testInstruments)
	unit, _ := prompts.Parse(0, "001", "x")

	_, err := p.Run(context.Background(), unit, window.Payload{}, 1)
	var unitErr *Error
	if !errors.As(err, &unitErr) || unitErr.Stage != StageGenerate {
		t.Fatalf("expected generate-stage error, got %v", err)
	}
	if !errors.Is(err, ErrGeneration) || errors.Is(err, ErrService) {
		t.Fatalf("expected generation class only, got %v", err)
	}
	if !errors.Is(err, generate.ErrMalformed) {
		t.Fatalf("expected cause to be preserved")
	}
	if unitErr.Payload["raw_output"] != "garbage" {
		t.Fatalf("expected raw output in payload, got %v", unitErr.Payload)
	}
}

func TestRunClassifiesServiceFailure(t *testing.T) {
	srv, client := newService(t)
	srv.Force("/execute", http.StatusInternalServerError)
	p := New(&stubGenerator{bundle: testBundle(4)}, client, testInstruments, WithRetries(2))
	unit, _ := prompts.Parse(0, "001", "x")

	_, err := p.Run(context.Background(), unit, window.Payload{}, 1)
	var unitErr *Error
	if !errors.As(err, &unitErr) || unitErr.Stage != StageExecute || !errors.Is(err, ErrService) {
		t.Fatalf("expected execute-stage service error, got %v", err)
	}
	if srv.Calls("POST /execute") != 2 {
		t.Fatalf("expected execute retried twice, got %d", srv.Calls("POST /execute"))
	}
	if unitErr.Payload["execute_request"] == nil || unitErr.Payload["feature"] == nil {
		t.Fatalf("expected service payloads recorded, got %v", unitErr.Payload)
	}
}

func TestRunClassifiesNormalizationFailure(t *testing.T) {
	srv, client := newService(t)
	srv.SetExecute(func(req dcn.ExecuteRequest) (int, any) {
		return http.StatusOK, []map[string]any{{"path": "/" + req.ParticleName + ":0", "data": []int{0}}}
	})
	p := New(&stubGenerator{bundle: testBundle(1)}, client, testInstruments)
	unit, _ := prompts.Parse(0, "001", "x")

	_, err := p.Run(context.Background(), unit, window.Payload{}, 1)
	if !errors.Is(err, ErrNormalization) {
		t.Fatalf("expected normalization error, got %v", err)
	}
	var unitErr *Error
	if !errors.As(err, &unitErr) || unitErr.Payload["samples"] == nil {
		t.Fatalf("expected samples kept for diagnosis")
	}
}

func TestRunRejectsOutOfRangePitches(t *testing.T) {
	_, client := newService(t)
	narrow := []config.Instrument{{Name: "piano", Low: 70, High: 80}}
	p := New(&stubGenerator{bundle: testBundle(3)}, client, narrow)
	unit, _ := prompts.Parse(0, "001", "x")
	if _, err := p.Run(context.Background(), unit, window.Payload{}, 1); !errors.Is(err, ErrNormalization) {
		t.Fatalf("expected normalization error, got %v", err)
	}
}

func TestFeatureName(t *testing.T) {
	cases := map[string]string{
		"Rising Waltz": "rising_waltz_u001_a2",
		"  ":           "unit_u001_a2",
		"__a--b__":     "a_b_u001_a2",
	}
	for in, want := range cases {
		if got := FeatureName(in, 1, 2); got != want {
			t.Fatalf("FeatureName(%q) = %q, want %q", in, got, want)
		}
	}
}
