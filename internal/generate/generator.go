package generate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/zoobzio/capitan"

	"github.com/kingrea/dcnsuite/internal/config"
	"github.com/kingrea/dcnsuite/internal/prompts"
	"github.com/kingrea/dcnsuite/internal/window"
)

// ErrMalformed marks model output that is not a JSON object of the bundle shape.
var ErrMalformed = errors.New("generate: malformed model output")

// Result is a validated bundle together with the text the model returned.
type Result struct {
	Bundle Bundle
	Raw    string
	Prompt Prompt
}

// Generator produces bundles for prompt units.
type Generator struct {
	provider    Provider
	instruments []config.Instrument
	temperature float64
	schema      string
}

// NewGenerator wires a provider to the configured instrument setup.
func NewGenerator(provider Provider, instruments []config.Instrument, temperature float64) *Generator {
	return &Generator{
		provider:    provider,
		instruments: instruments,
		temperature: temperature,
		schema:      BundleSchema(),
	}
}

// Generate asks the model for unit's bundle given the prior-unit context.
// The returned Result carries the prompt and raw output even on failure.
func (g *Generator) Generate(ctx context.Context, unit prompts.Unit, history window.Payload) (Result, error) {
	prompt := BuildPrompt(unit, history, g.instruments, g.schema)
	result := Result{Prompt: prompt}

	raw, err := g.provider.Complete(ctx, prompt, g.temperature)
	if err != nil {
		return result, err
	}
	result.Raw = raw

	bundle, err := ParseBundle(raw)
	if err != nil {
		g.rejected(ctx, unit, err)
		return result, err
	}
	names := make([]string, 0, len(g.instruments))
	for _, inst := range g.instruments {
		names = append(names, inst.Name)
	}
	if err := bundle.Validate(names); err != nil {
		g.rejected(ctx, unit, err)
		return result, err
	}
	result.Bundle = bundle
	return result, nil
}

func (g *Generator) rejected(ctx context.Context, unit prompts.Unit, err error) {
	capitan.Error(ctx, ResponseRejected,
		ProviderKey.Field(g.provider.Name()),
		PromptIDKey.Field(unit.ID),
		ErrorKey.Field(err.Error()),
	)
}

// ParseBundle decodes model output, tolerating a surrounding code fence.
func ParseBundle(raw string) (Bundle, error) {
	text := strings.TrimSpace(raw)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	}
	if text == "" {
		return Bundle{}, fmt.Errorf("%w: empty response", ErrMalformed)
	}
	var bundle Bundle
	dec := json.NewDecoder(strings.NewReader(text))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&bundle); err != nil {
		return Bundle{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return bundle, nil
}
