// Package preflight verifies the DCN service before any unit runs.
package preflight

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/kingrea/dcnsuite/internal/dcn"
)

// ErrPreflight wraps every preflight failure.
var ErrPreflight = errors.New("preflight failed")

// Service is the part of the DCN client preflight exercises.
type Service interface {
	Authenticate(ctx context.Context) error
	HasTransformation(ctx context.Context, name string) (bool, error)
	CreateTransformation(ctx context.Context, name, source string) error
	Probe(ctx context.Context, path string, payload any) (int, string, error)
}

// Options controls preflight behaviour.
type Options struct {
	// AutoBootstrap creates missing required transformations.
	AutoBootstrap bool
}

// Report records what preflight saw.
type Report struct {
	Created []string `json:"created,omitempty"`
	Probes  []Probe  `json:"probes"`
}

// Probe is the outcome of one endpoint check.
type Probe struct {
	Path   string `json:"path"`
	Status int    `json:"status"`
}

type probe struct {
	path   string
	sample any
}

var probes = []probe{
	{"/feature", dcn.Feature{Name: "my_feature", Dimensions: []dcn.Dimension{{Transformations: []dcn.Transformation{{Name: "add", Args: []int{1}}}}}}},
	{"/particle", dcn.NewParticle("my_particle", "my_feature")},
	{"/execute", map[string]any{
		"particle_name":     "my_particle",
		"samples_count":     4,
		"running_instances": []map[string]int{{"start_point": 0, "transformation_shift": 0}},
	}},
}

var acceptedProbeStatus = map[int]bool{200: true, 201: true, 204: true, 400: true}

// Run authenticates, ensures the required transformations and probes the
// endpoints. It stops at the first failure.
func Run(ctx context.Context, svc Service, opts Options) (Report, error) {
	var report Report
	if err := svc.Authenticate(ctx); err != nil {
		return report, fmt.Errorf("%w: authentication: %v", ErrPreflight, err)
	}

	created, err := ensureTransformations(ctx, svc, opts.AutoBootstrap)
	report.Created = created
	if err != nil {
		return report, err
	}

	for _, p := range probes {
		status, body, err := svc.Probe(ctx, p.path, map[string]bool{"_preflight": true})
		if err != nil {
			return report, fmt.Errorf("%w: %s: %v. Sample payload: %s", ErrPreflight, p.path, err, sample(p.sample))
		}
		report.Probes = append(report.Probes, Probe{Path: p.path, Status: status})
		if !acceptedProbeStatus[status] {
			return report, fmt.Errorf("%w: %s: status=%d, response=%s. Sample payload: %s",
				ErrPreflight, p.path, status, body, sample(p.sample))
		}
	}
	return report, nil
}

func ensureTransformations(ctx context.Context, svc Service, autoCreate bool) ([]string, error) {
	var missing, created []string
	for _, name := range dcn.RequiredNames() {
		ok, err := svc.HasTransformation(ctx, name)
		if err != nil {
			return created, fmt.Errorf("%w: %v", ErrPreflight, err)
		}
		if ok {
			continue
		}
		if !autoCreate {
			missing = append(missing, name)
			continue
		}
		src := dcn.RequiredTransformations[name]
		if err := svc.CreateTransformation(ctx, name, src); err != nil {
			return created, fmt.Errorf("%w: auto-create transformation %q: %v", ErrPreflight, name, err)
		}
		ok, err = svc.HasTransformation(ctx, name)
		if err != nil {
			return created, fmt.Errorf("%w: %v", ErrPreflight, err)
		}
		if !ok {
			return created, fmt.Errorf("%w: transformation %q still missing after creation", ErrPreflight, name)
		}
		created = append(created, name)
	}
	if len(missing) > 0 {
		return created, fmt.Errorf("%w: missing required transformations: %s. Create them on the server or enable dcn.auto_bootstrap",
			ErrPreflight, strings.Join(missing, ", "))
	}
	return created, nil
}

func sample(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(data)
}
