package dcn

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/kingrea/dcnsuite/internal/notes"
)

// Transformation is one named operation applied to a dimension.
type Transformation struct {
	Name string `json:"name"`
	Args []int  `json:"args"`
}

// Dimension is the wire shape of a feature dimension. The service rejects
// any field besides transformations.
type Dimension struct {
	Transformations []Transformation `json:"transformations"`
}

// Feature is the body of POST /feature.
type Feature struct {
	Name       string      `json:"name"`
	Dimensions []Dimension `json:"dimensions"`
}

// Particle is the body of POST /particle.
type Particle struct {
	Name           string   `json:"name"`
	FeatureName    string   `json:"feature_name"`
	CompositeNames []string `json:"composite_names"`
	ConditionName  string   `json:"condition_name"`
	ConditionArgs  []int    `json:"condition_args"`
}

// NewParticle wraps a feature with no composites and no condition.
func NewParticle(name, feature string) Particle {
	return Particle{
		Name:           name,
		FeatureName:    feature,
		CompositeNames: make([]string, len(notes.Scalars)),
		ConditionArgs:  []int{},
	}
}

// ExecuteRequest is the body of POST /execute.
type ExecuteRequest struct {
	ParticleName     string                  `json:"particle_name"`
	SamplesCount     int                     `json:"samples_count"`
	RunningInstances []notes.RunningInstance `json:"running_instances"`
}

// StatusError is returned for any non-2xx response.
type StatusError struct {
	Method string
	Path   string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("dcn: %s %s: status=%d, response=%s", e.Method, e.Path, e.Status, e.Body)
}

// preview cuts a response body to its leading limit characters.
func preview(body []byte, limit int) string {
	text := strings.ReplaceAll(strings.TrimSpace(string(body)), "\n", " ")
	if utf8.RuneCountInString(text) > limit {
		text = string([]rune(text)[:limit]) + "..."
	}
	return text
}
