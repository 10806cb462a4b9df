package artifact

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

var (
	// ErrMissingFrontMatter indicates the document did not start with a YAML fence.
	ErrMissingFrontMatter = errors.New("artifact: missing frontmatter")
	// ErrMalformedFrontMatter indicates the YAML block could not be parsed.
	ErrMalformedFrontMatter = errors.New("artifact: malformed frontmatter")
)

// ParseFrontMatter extracts the metadata block and body from a document that
// starts with `---` YAML fences.
func ParseFrontMatter(content []byte) (Metadata, []byte, error) {
	if len(content) == 0 {
		return Metadata{}, nil, ErrMissingFrontMatter
	}
	normalized := bytes.ReplaceAll(content, []byte("\r\n"), []byte("\n"))
	if !bytes.HasPrefix(normalized, []byte("---\n")) {
		return Metadata{}, nil, ErrMissingFrontMatter
	}
	parts := bytes.SplitN(normalized[4:], []byte("\n---\n"), 2)
	if len(parts) < 2 {
		return Metadata{}, nil, ErrMalformedFrontMatter
	}
	var envelope suiteEnvelope
	if err := yaml.Unmarshal(parts[0], &envelope); err != nil {
		return Metadata{}, nil, fmt.Errorf("artifact: parse frontmatter: %w", err)
	}
	meta, err := envelope.toMetadata()
	if err != nil {
		return Metadata{}, nil, err
	}
	return meta, parts[1], nil
}

// WriteFrontMatter renders metadata + body with YAML fences.
func WriteFrontMatter(meta Metadata, body []byte) ([]byte, error) {
	if meta.ArtifactID == "" {
		return nil, fmt.Errorf("artifact: metadata missing artifact id")
	}
	var envelope suiteEnvelope
	envelope.fromMetadata(meta)
	data, err := yaml.Marshal(envelope)
	if err != nil {
		return nil, fmt.Errorf("artifact: encode frontmatter: %w", err)
	}
	var buf bytes.Buffer
	buf.WriteString("---\n")
	buf.Write(bytes.TrimRight(data, "\n"))
	buf.WriteString("\n---\n\n")
	buf.Write(body)
	return buf.Bytes(), nil
}

type suiteEnvelope struct {
	Suite frontMatter `yaml:"suite"`
}

type frontMatter struct {
	Artifact    string            `yaml:"artifact"`
	Producer    string            `yaml:"producer"`
	Run         string            `yaml:"run"`
	Fingerprint string            `yaml:"fingerprint,omitempty"`
	Created     string            `yaml:"created"`
	Notes       map[string]string `yaml:"notes,omitempty"`
}

func (e suiteEnvelope) toMetadata() (Metadata, error) {
	if e.Suite.Artifact == "" || e.Suite.Producer == "" || e.Suite.Run == "" {
		return Metadata{}, ErrMalformedFrontMatter
	}
	created, err := parseTime(e.Suite.Created)
	if err != nil {
		return Metadata{}, fmt.Errorf("artifact: parse created timestamp: %w", err)
	}
	return Metadata{
		ArtifactID:  e.Suite.Artifact,
		Producer:    e.Suite.Producer,
		RunID:       e.Suite.Run,
		Fingerprint: e.Suite.Fingerprint,
		CreatedAt:   created,
		Notes:       cloneNotes(e.Suite.Notes),
	}, nil
}

func (e *suiteEnvelope) fromMetadata(meta Metadata) {
	e.Suite.Artifact = meta.ArtifactID
	e.Suite.Producer = meta.Producer
	e.Suite.Run = meta.RunID
	e.Suite.Fingerprint = meta.Fingerprint
	e.Suite.Created = meta.CreatedAt.UTC().Format(timeLayout)
	e.Suite.Notes = cloneNotes(meta.Notes)
}

func cloneNotes(notes map[string]string) map[string]string {
	if len(notes) == 0 {
		return nil
	}
	cloned := make(map[string]string, len(notes))
	for k, v := range notes {
		cloned[k] = v
	}
	return cloned
}

const timeLayout = time.RFC3339

func parseTime(value string) (time.Time, error) {
	if strings.TrimSpace(value) == "" {
		return time.Time{}, fmt.Errorf("artifact: empty created timestamp")
	}
	t, err := time.Parse(timeLayout, value)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}
