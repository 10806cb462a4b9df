// Package artifact defines the files a suite run writes per unit and the
// provenance block each one carries. References resolve against the suite
// directory.
package artifact

import (
	"fmt"
	"path/filepath"
	"time"
)

// Kind captures the storage shape and serialization format for an artifact.
type Kind string

const (
	// KindDocument represents a markdown document with YAML frontmatter.
	KindDocument Kind = "document"
	// KindJSON represents a JSON document enriched with a _suite metadata block.
	KindJSON Kind = "json"
)

// ArtifactRef declares a stable identifier and location for an artifact.
type ArtifactRef struct {
	ID   string
	Name string
	Kind Kind
	rel  string
}

// Path resolves the artifact path inside the suite directory.
func (r ArtifactRef) Path(root string) string {
	if root == "" || r.rel == "" {
		return ""
	}
	return filepath.Join(root, filepath.FromSlash(r.rel))
}

// Rel returns the slash-separated path relative to the suite directory.
func (r ArtifactRef) Rel() string {
	return r.rel
}

// Validate ensures the reference is well-formed.
func (r ArtifactRef) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("artifact: id is required")
	}
	if r.Kind == "" {
		return fmt.Errorf("artifact: kind is required for %s", r.ID)
	}
	if r.rel == "" {
		return fmt.Errorf("artifact: path missing for %s", r.ID)
	}
	return nil
}

// Metadata captures provenance stored inside frontmatter or the _suite block.
type Metadata struct {
	ArtifactID  string
	Producer    string
	RunID       string
	Fingerprint string
	CreatedAt   time.Time
	Checksum    string
	Notes       map[string]string
}

// WithDefaults ensures metadata carries the artifact ID and timestamps.
func (m Metadata) WithDefaults(ref ArtifactRef, now time.Time) Metadata {
	clone := m
	if clone.ArtifactID == "" {
		clone.ArtifactID = ref.ID
	}
	if clone.CreatedAt.IsZero() {
		clone.CreatedAt = now.UTC()
	} else {
		clone.CreatedAt = clone.CreatedAt.UTC()
	}
	return clone
}

// ValidateFor ensures metadata matches the artifact contract.
func (m Metadata) ValidateFor(ref ArtifactRef) error {
	if m.ArtifactID != ref.ID {
		return fmt.Errorf("artifact: metadata id %s does not match ref %s", m.ArtifactID, ref.ID)
	}
	if m.Producer == "" {
		return fmt.Errorf("artifact: producer is required for %s", ref.ID)
	}
	if m.RunID == "" {
		return fmt.Errorf("artifact: run id is required for %s", ref.ID)
	}
	return nil
}

// State captures the readiness of an artifact on disk.
type State string

const (
	StateMissing State = "missing"
	StateReady   State = "ready"
	StateInvalid State = "invalid"
	StateError   State = "error"
)

// CheckResult captures Store.Check results.
type CheckResult struct {
	Ref      ArtifactRef
	Path     string
	State    State
	Metadata *Metadata
	Err      error
}

// UnitDoc is the stored CompositionUnit for a done unit.
func UnitDoc(index int) ArtifactRef {
	return ArtifactRef{
		ID:   fmt.Sprintf("unit-%03d", index),
		Name: fmt.Sprintf("Unit %d", index),
		Kind: KindJSON,
		rel:  fmt.Sprintf("units/unit-%03d.json", index),
	}
}

// ErrorDoc is the diagnostic record of a unit's latest failure.
func ErrorDoc(index int) ArtifactRef {
	return ArtifactRef{
		ID:   fmt.Sprintf("error-%03d", index),
		Name: fmt.Sprintf("Unit %d Failure", index),
		Kind: KindJSON,
		rel:  fmt.Sprintf("errors/unit-%03d.json", index),
	}
}

// QuarantineDoc holds the payloads of a unit that failed at stage.
func QuarantineDoc(index int, stage string) ArtifactRef {
	return ArtifactRef{
		ID:   fmt.Sprintf("quarantine-%03d-%s", index, stage),
		Name: fmt.Sprintf("Unit %d Quarantine (%s)", index, stage),
		Kind: KindJSON,
		rel:  fmt.Sprintf("quarantine/unit-%03d-%s.json", index, stage),
	}
}

// SummaryDoc is the end-of-run markdown summary.
var SummaryDoc = ArtifactRef{ID: "summary", Name: "Suite Summary", Kind: KindDocument, rel: "summary.md"}
