// Package generate asks the model for one unit's feature bundle.
package generate

import (
	"errors"
	"fmt"
	"strings"

	"github.com/kingrea/dcnsuite/internal/dcn"
	"github.com/kingrea/dcnsuite/internal/notes"
)

// MaxSamples bounds samples_count.
const MaxSamples = 4096

// ErrInvalidBundle marks a bundle that parsed but does not describe a usable feature.
var ErrInvalidBundle = errors.New("generate: invalid bundle")

// Transformation is one operation in a dimension.
type Transformation struct {
	Name string `json:"name" desc:"one of add, subtract, mul, div"`
	Args []int  `json:"args" desc:"integer arguments, usually one"`
}

// Dimension drives one scalar stream.
type Dimension struct {
	FeatureName     string           `json:"feature_name" desc:"one of time, duration, pitch, velocity, numerator, denominator"`
	Transformations []Transformation `json:"transformations"`
}

// Feature is the model's description of the unit's material.
type Feature struct {
	Name       string      `json:"name" desc:"short snake_case name"`
	Dimensions []Dimension `json:"dimensions"`
}

// Seeds are the start points of each scalar stream.
type Seeds struct {
	Time        int `json:"time"`
	Duration    int `json:"duration"`
	Pitch       int `json:"pitch"`
	Velocity    int `json:"velocity"`
	Numerator   int `json:"numerator"`
	Denominator int `json:"denominator"`
}

// Map keys seeds by scalar name.
func (s Seeds) Map() map[string]int {
	return map[string]int{
		notes.Time:        s.Time,
		notes.Duration:    s.Duration,
		notes.Pitch:       s.Pitch,
		notes.Velocity:    s.Velocity,
		notes.Numerator:   s.Numerator,
		notes.Denominator: s.Denominator,
	}
}

// Bundle is the structured response for one unit.
type Bundle struct {
	Summary      string  `json:"summary" desc:"one sentence describing the unit"`
	Instrument   string  `json:"instrument" desc:"name of the instrument that plays the unit"`
	Feature      Feature `json:"feature"`
	Seeds        Seeds   `json:"seeds"`
	SamplesCount int     `json:"samples_count" desc:"number of notes to sample, 1-4096"`
}

// FeatureNames lists the dimension scalar names in declared order.
func (b Bundle) FeatureNames() []string {
	names := make([]string, 0, len(b.Feature.Dimensions))
	for _, d := range b.Feature.Dimensions {
		names = append(names, strings.ToLower(strings.TrimSpace(d.FeatureName)))
	}
	return names
}

// WireFeature converts the feature to the service shape under name,
// dropping the per-dimension feature names the service does not accept.
func (b Bundle) WireFeature(name string) dcn.Feature {
	out := dcn.Feature{Name: name, Dimensions: make([]dcn.Dimension, 0, len(b.Feature.Dimensions))}
	for _, d := range b.Feature.Dimensions {
		dim := dcn.Dimension{Transformations: make([]dcn.Transformation, 0, len(d.Transformations))}
		for _, t := range d.Transformations {
			args := t.Args
			if args == nil {
				args = []int{}
			}
			dim.Transformations = append(dim.Transformations, dcn.Transformation{Name: strings.ToLower(strings.TrimSpace(t.Name)), Args: args})
		}
		out.Dimensions = append(out.Dimensions, dim)
	}
	return out
}

// Validate checks the bundle against the service's limits. instruments lists
// the names the suite is configured with.
func (b Bundle) Validate(instruments []string) error {
	var problems []string
	if strings.TrimSpace(b.Feature.Name) == "" {
		problems = append(problems, "feature.name is empty")
	}
	if n := len(b.Feature.Dimensions); n == 0 || n > len(notes.Scalars) {
		problems = append(problems, fmt.Sprintf("feature has %d dimensions, want 1..%d", n, len(notes.Scalars)))
	}
	for i, d := range b.Feature.Dimensions {
		name := strings.ToLower(strings.TrimSpace(d.FeatureName))
		if !isScalar(name) {
			problems = append(problems, fmt.Sprintf("dimension %d: unknown feature_name %q", i, d.FeatureName))
		}
		for j, t := range d.Transformations {
			if !dcn.IsRequired(strings.ToLower(strings.TrimSpace(t.Name))) {
				problems = append(problems, fmt.Sprintf("dimension %d transformation %d: unsupported %q", i, j, t.Name))
			}
		}
	}
	if b.SamplesCount < 1 || b.SamplesCount > MaxSamples {
		problems = append(problems, fmt.Sprintf("samples_count %d outside 1..%d", b.SamplesCount, MaxSamples))
	}
	if !contains(instruments, b.Instrument) {
		problems = append(problems, fmt.Sprintf("instrument %q is not configured", b.Instrument))
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidBundle, strings.Join(problems, "; "))
	}
	return nil
}

func isScalar(name string) bool {
	return contains(notes.Scalars, name)
}

func contains(list []string, value string) bool {
	for _, item := range list {
		if item == value {
			return true
		}
	}
	return false
}
