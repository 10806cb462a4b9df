package artifact

import (
	"errors"
	"os"
	"strings"
	"testing"
	"time"
)

func fixedClock() time.Time {
	return time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
}

type unitBody struct {
	UnitIndex int    `json:"unit_index"`
	Summary   string `json:"summary"`
	Notes     []int  `json:"notes"`
}

func TestWriteJSONRoundTripsWithMetadata(t *testing.T) {
	store := NewStore(t.TempDir(), WithClock(fixedClock))
	ref := UnitDoc(3)
	in := unitBody{UnitIndex: 3, Summary: "waltz", Notes: []int{60, 64, 67}}
	if err := store.WriteJSON(ref, in, Metadata{Producer: "unit-pipeline", RunID: "run-1", Fingerprint: "abc"}); err != nil {
		t.Fatalf("WriteJSON returned error: %v", err)
	}
	if !strings.HasSuffix(ref.Path(store.Root()), "units/unit-003.json") {
		t.Fatalf("unexpected path %s", ref.Path(store.Root()))
	}

	var out unitBody
	meta, err := store.ReadJSON(ref, &out)
	if err != nil {
		t.Fatalf("ReadJSON returned error: %v", err)
	}
	if out.Summary != "waltz" || len(out.Notes) != 3 {
		t.Fatalf("unexpected body %+v", out)
	}
	if meta.ArtifactID != "unit-003" || meta.RunID != "run-1" || meta.Fingerprint != "abc" {
		t.Fatalf("unexpected metadata %+v", meta)
	}
	if !meta.CreatedAt.Equal(fixedClock()) {
		t.Fatalf("expected created from clock, got %s", meta.CreatedAt)
	}
	if !strings.HasPrefix(meta.Checksum, "sha256:") {
		t.Fatalf("expected checksum, got %q", meta.Checksum)
	}
}

func TestCheckDetectsTampering(t *testing.T) {
	store := NewStore(t.TempDir(), WithClock(fixedClock))
	ref := UnitDoc(0)
	if err := store.WriteJSON(ref, unitBody{Summary: "calm"}, Metadata{Producer: "p", RunID: "r"}); err != nil {
		t.Fatal(err)
	}
	path := ref.Path(store.Root())
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(strings.Replace(string(data), "calm", "loud", 1)), 0o644); err != nil {
		t.Fatal(err)
	}
	result, err := store.Check(ref)
	if err == nil || result.State != StateInvalid {
		t.Fatalf("expected invalid state, got %s (%v)", result.State, err)
	}
}

func TestCheckReportsMissing(t *testing.T) {
	store := NewStore(t.TempDir())
	result, err := store.Check(ErrorDoc(1))
	if err != nil || result.State != StateMissing {
		t.Fatalf("expected missing, got %s (%v)", result.State, err)
	}
	if err := store.Remove(ErrorDoc(1)); err != nil {
		t.Fatalf("Remove of missing artifact returned error: %v", err)
	}
}

func TestWriteRequiresProvenance(t *testing.T) {
	store := NewStore(t.TempDir())
	if err := store.WriteJSON(QuarantineDoc(0, "execute"), unitBody{}, Metadata{Producer: "p"}); err == nil {
		t.Fatalf("expected run id to be required")
	}
}

func TestSummaryDocumentFrontMatter(t *testing.T) {
	store := NewStore(t.TempDir(), WithClock(fixedClock))
	meta := Metadata{Producer: "suite", RunID: "run-9", Notes: map[string]string{"missing": "2"}}
	if err := store.Write(SummaryDoc, []byte("# Suite\n"), meta); err != nil {
		t.Fatalf("Write returned error: %v", err)
	}
	data, err := os.ReadFile(SummaryDoc.Path(store.Root()))
	if err != nil {
		t.Fatal(err)
	}
	parsed, body, err := ParseFrontMatter(data)
	if err != nil {
		t.Fatalf("ParseFrontMatter returned error: %v", err)
	}
	if parsed.RunID != "run-9" || parsed.Notes["missing"] != "2" {
		t.Fatalf("unexpected metadata %+v", parsed)
	}
	if strings.TrimSpace(string(body)) != "# Suite" {
		t.Fatalf("unexpected body %q", body)
	}
	if result, err := store.Check(SummaryDoc); err != nil || result.State != StateReady {
		t.Fatalf("expected ready summary, got %s (%v)", result.State, err)
	}
}

func TestParseFrontMatterErrors(t *testing.T) {
	if _, _, err := ParseFrontMatter([]byte("no fences")); !errors.Is(err, ErrMissingFrontMatter) {
		t.Fatalf("expected ErrMissingFrontMatter, got %v", err)
	}
	if _, _, err := ParseFrontMatter([]byte("---\nsuite: {}\n")); !errors.Is(err, ErrMalformedFrontMatter) {
		t.Fatalf("expected ErrMalformedFrontMatter, got %v", err)
	}
}
