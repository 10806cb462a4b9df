package artifact

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

const metaKey = "_suite"

// Store manages artifact IO rooted at the suite directory.
type Store struct {
	root string
	now  func() time.Time
}

// StoreOption customizes a Store during construction.
type StoreOption func(*Store)

// WithClock overrides the clock used for metadata timestamps.
func WithClock(clock func() time.Time) StoreOption {
	return func(s *Store) {
		s.now = clock
	}
}

// NewStore builds a store for a suite directory.
func NewStore(root string, opts ...StoreOption) *Store {
	store := &Store{
		root: root,
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(store)
	}
	return store
}

// Root returns the suite directory.
func (s *Store) Root() string {
	return s.root
}

// Check inspects the artifact on disk and returns its status and metadata.
// JSON artifacts are also verified against their recorded checksum.
func (s *Store) Check(ref ArtifactRef) (CheckResult, error) {
	path := ref.Path(s.root)
	if path == "" {
		err := fmt.Errorf("artifact: %s path could not be resolved", ref.ID)
		return CheckResult{Ref: ref, Path: path, State: StateError, Err: err}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return CheckResult{Ref: ref, Path: path, State: StateMissing}, nil
		}
		return CheckResult{Ref: ref, Path: path, State: StateError, Err: err}, err
	}
	var meta Metadata
	switch ref.Kind {
	case KindJSON:
		var body []byte
		meta, body, err = splitJSON(data)
		if err != nil {
			return invalidResult(ref, path, err)
		}
		if sum := checksum(body); meta.Checksum != sum {
			return invalidResult(ref, path, fmt.Errorf("artifact: %s checksum mismatch", ref.ID))
		}
	default:
		meta, _, err = ParseFrontMatter(data)
		if err != nil {
			return invalidResult(ref, path, err)
		}
	}
	if meta.ArtifactID != ref.ID {
		return invalidResult(ref, path, fmt.Errorf("artifact: metadata id %s does not match %s", meta.ArtifactID, ref.ID))
	}
	return CheckResult{Ref: ref, Path: path, State: StateReady, Metadata: &meta}, nil
}

// Write persists the artifact contents and metadata based on its kind.
func (s *Store) Write(ref ArtifactRef, body []byte, meta Metadata) error {
	if err := ref.Validate(); err != nil {
		return err
	}
	path := ref.Path(s.root)
	if path == "" {
		return fmt.Errorf("artifact: %s path could not be resolved", ref.ID)
	}
	switch ref.Kind {
	case KindJSON:
		return s.writeJSON(path, ref, body, meta)
	default:
		return s.writeDocument(path, ref, body, meta)
	}
}

// WriteJSON encodes v and writes it as a JSON artifact.
func (s *Store) WriteJSON(ref ArtifactRef, v any, meta Metadata) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("artifact: encode %s: %w", ref.ID, err)
	}
	return s.Write(ref, body, meta)
}

// ReadJSON verifies a JSON artifact and decodes its body into v.
func (s *Store) ReadJSON(ref ArtifactRef, v any) (Metadata, error) {
	result, err := s.Check(ref)
	if err != nil {
		return Metadata{}, err
	}
	if result.State != StateReady {
		return Metadata{}, fmt.Errorf("artifact: %s is %s", ref.ID, result.State)
	}
	data, err := os.ReadFile(result.Path)
	if err != nil {
		return Metadata{}, err
	}
	_, body, err := splitJSON(data)
	if err != nil {
		return Metadata{}, err
	}
	if err := json.Unmarshal(body, v); err != nil {
		return Metadata{}, fmt.Errorf("artifact: decode %s: %w", ref.ID, err)
	}
	return *result.Metadata, nil
}

// Remove deletes an artifact. A missing artifact is not an error.
func (s *Store) Remove(ref ArtifactRef) error {
	path := ref.Path(s.root)
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func (s *Store) writeDocument(path string, ref ArtifactRef, body []byte, meta Metadata) error {
	if body == nil {
		body = []byte{}
	}
	prepared := meta.WithDefaults(ref, s.now())
	if err := prepared.ValidateFor(ref); err != nil {
		return err
	}
	content, err := WriteFrontMatter(prepared, body)
	if err != nil {
		return err
	}
	return WriteFileAtomic(path, content)
}

func (s *Store) writeJSON(path string, ref ArtifactRef, body []byte, meta Metadata) error {
	if body == nil {
		body = []byte("{}")
	}
	prepared := meta.WithDefaults(ref, s.now())
	if err := prepared.ValidateFor(ref); err != nil {
		return err
	}
	payload, err := decodeObject(body)
	if err != nil {
		return fmt.Errorf("artifact: invalid json body for %s: %w", ref.ID, err)
	}
	if _, clash := payload[metaKey]; clash {
		return fmt.Errorf("artifact: body for %s already carries %s", ref.ID, metaKey)
	}
	canonical, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("artifact: encode json for %s: %w", ref.ID, err)
	}
	prepared.Checksum = checksum(canonical)
	payload[metaKey] = metadataToJSON(prepared)
	encoded, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return fmt.Errorf("artifact: encode json for %s: %w", ref.ID, err)
	}
	return WriteFileAtomic(path, append(encoded, '\n'))
}

// WriteFileAtomic writes data to a temp file next to path and renames it
// into place, so readers never observe a partial file.
func WriteFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}

func invalidResult(ref ArtifactRef, path string, err error) (CheckResult, error) {
	return CheckResult{Ref: ref, Path: path, State: StateInvalid, Err: err}, err
}

// splitJSON separates the _suite block from the body. The returned body is
// the canonical encoding the checksum covers.
func splitJSON(data []byte) (Metadata, []byte, error) {
	payload, err := decodeObject(data)
	if err != nil {
		return Metadata{}, nil, fmt.Errorf("artifact: parse json metadata: %w", err)
	}
	raw, ok := payload[metaKey]
	if !ok {
		return Metadata{}, nil, fmt.Errorf("artifact: missing %s metadata", metaKey)
	}
	metaMap, ok := raw.(map[string]any)
	if !ok {
		return Metadata{}, nil, fmt.Errorf("artifact: invalid %s metadata structure", metaKey)
	}
	meta, err := metadataFromMap(metaMap)
	if err != nil {
		return Metadata{}, nil, err
	}
	delete(payload, metaKey)
	body, err := json.Marshal(payload)
	if err != nil {
		return Metadata{}, nil, err
	}
	return meta, body, nil
}

func decodeObject(data []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var payload map[string]any
	if err := dec.Decode(&payload); err != nil {
		return nil, err
	}
	if payload == nil {
		return nil, fmt.Errorf("expected a json object")
	}
	return payload, nil
}

func checksum(body []byte) string {
	sum := sha256.Sum256(body)
	return "sha256:" + hex.EncodeToString(sum[:])
}

func metadataToJSON(meta Metadata) map[string]any {
	result := map[string]any{
		"artifact": meta.ArtifactID,
		"producer": meta.Producer,
		"run":      meta.RunID,
		"created":  meta.CreatedAt.UTC().Format(timeLayout),
		"checksum": meta.Checksum,
	}
	if meta.Fingerprint != "" {
		result["fingerprint"] = meta.Fingerprint
	}
	if len(meta.Notes) > 0 {
		result["notes"] = cloneNotes(meta.Notes)
	}
	return result
}

func metadataFromMap(values map[string]any) (Metadata, error) {
	artifactID := stringValue(values["artifact"])
	producer := stringValue(values["producer"])
	runID := stringValue(values["run"])
	if artifactID == "" || producer == "" || runID == "" {
		return Metadata{}, fmt.Errorf("artifact: incomplete metadata")
	}
	created := stringValue(values["created"])
	if created == "" {
		return Metadata{}, fmt.Errorf("artifact: metadata missing created timestamp")
	}
	timeValue, err := parseTime(created)
	if err != nil {
		return Metadata{}, err
	}
	return Metadata{
		ArtifactID:  artifactID,
		Producer:    producer,
		RunID:       runID,
		Fingerprint: stringValue(values["fingerprint"]),
		CreatedAt:   timeValue,
		Checksum:    stringValue(values["checksum"]),
		Notes:       mapStringValue(values["notes"]),
	}, nil
}

func stringValue(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return ""
	}
}

func mapStringValue(value any) map[string]string {
	raw, ok := value.(map[string]any)
	if !ok || len(raw) == 0 {
		return nil
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		if s := stringValue(v); s != "" {
			out[k] = s
		}
	}
	return out
}
