package suite

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/kingrea/dcnsuite/internal/artifact"
	"github.com/kingrea/dcnsuite/internal/generate"
	"github.com/kingrea/dcnsuite/internal/stitch"
	"github.com/kingrea/dcnsuite/internal/unit"
)

// Output documents inside a suite directory.
const (
	CompositionFile        = "composition.json"
	ScheduleFile           = "schedule.json"
	PartialCompositionFile = "composition.partial.json"
	PartialScheduleFile    = "schedule.partial.json"
	PromptsLogFile         = "prompts.log"
)

// UnitRecord is the stored form of a done unit.
type UnitRecord struct {
	Composition unit.Composition `json:"composition"`
	Bundle      generate.Bundle  `json:"bundle"`
	RawBundle   string           `json:"raw_bundle"`
	FeatureName string           `json:"feature_name"`
	Attempt     int              `json:"attempt"`
}

// ErrorRecord is the stored diagnosis of a unit's latest failure.
type ErrorRecord struct {
	UnitIndex int    `json:"unit_index"`
	PromptID  string `json:"prompt_id"`
	Attempt   int    `json:"attempt"`
	Stage     string `json:"stage"`
	Class     string `json:"class"`
	Error     string `json:"error"`
}

// Outputs locates the stitched documents written by a session.
type Outputs struct {
	Composition string
	Schedule    string
	Partial     bool
}

// Ready reports whether a composition was written.
func (o Outputs) Ready() bool {
	return o.Composition != ""
}

func promptsLogPath(dir string) string {
	return filepath.Join(dir, PromptsLogFile)
}

func (s *session) compositions() []unit.Composition {
	out := make([]unit.Composition, 0, len(s.results))
	for _, u := range s.units {
		if rec, ok := s.results[u.Index]; ok {
			out = append(out, rec.Composition)
		}
	}
	return out
}

// writeFinal stitches a gap-free suite into composition.json and
// schedule.json and drops any partial snapshots.
func (o *Orchestrator) writeFinal(s *session) (Outputs, error) {
	result, err := stitch.Stitch(s.compositions(), stitch.Options{
		Expected:    len(s.units),
		Policy:      stitch.Strict,
		Instruments: o.cfg.Instruments,
	})
	if err != nil {
		return Outputs{}, err
	}
	outputs := Outputs{
		Composition: filepath.Join(o.dir, CompositionFile),
		Schedule:    filepath.Join(o.dir, ScheduleFile),
	}
	if err := writeDocument(outputs.Composition, result.Composition); err != nil {
		return Outputs{}, err
	}
	if err := writeDocument(outputs.Schedule, result.Schedule); err != nil {
		return Outputs{}, err
	}
	for _, name := range []string{PartialCompositionFile, PartialScheduleFile} {
		if err := os.Remove(filepath.Join(o.dir, name)); err != nil && !os.IsNotExist(err) {
			return outputs, err
		}
	}
	return outputs, nil
}

// writePartial stitches the done units with placeholders for the rest.
func (o *Orchestrator) writePartial(s *session) (Outputs, error) {
	result, err := stitch.Stitch(s.compositions(), stitch.Options{
		Expected:    len(s.units),
		Policy:      stitch.Skip,
		Instruments: o.cfg.Instruments,
	})
	if err != nil {
		return Outputs{}, err
	}
	outputs := Outputs{
		Composition: filepath.Join(o.dir, PartialCompositionFile),
		Schedule:    filepath.Join(o.dir, PartialScheduleFile),
		Partial:     true,
	}
	if err := writeDocument(outputs.Composition, result.Composition); err != nil {
		return Outputs{}, err
	}
	if err := writeDocument(outputs.Schedule, result.Schedule); err != nil {
		return Outputs{}, err
	}
	return outputs, nil
}

func writeDocument(path string, v any) error {
	encoded, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("suite: encode %s: %w", filepath.Base(path), err)
	}
	if err := artifact.WriteFileAtomic(path, append(encoded, '\n')); err != nil {
		return fmt.Errorf("suite: write %s: %w", filepath.Base(path), err)
	}
	return nil
}

// writeSummary renders summary.md. Failures are logged, not returned.
func (o *Orchestrator) writeSummary(s *session) {
	var b strings.Builder
	fmt.Fprintf(&b, "# Suite %s\n\n", s.cp.RunID)
	fmt.Fprintf(&b, "Status: %s\n", s.cp.Status)
	if s.cp.StatusReason != "" {
		fmt.Fprintf(&b, "Reason: %s\n", s.cp.StatusReason)
	}
	fmt.Fprintf(&b, "\n| Unit | Prompt | Status | Attempts | Bars | Summary |\n|---|---|---|---|---|---|\n")
	for _, st := range s.cp.Units {
		bars, summary := "", ""
		if rec, ok := s.results[st.Index]; ok {
			bars = strconv.Itoa(rec.Composition.Bars)
			summary = rec.Bundle.Summary
		} else if st.LastError != "" {
			summary = st.Stage + ": " + st.LastError
		}
		fmt.Fprintf(&b, "| %d | %s | %s | %d | %s | %s |\n",
			st.Index, st.PromptID, st.Status, st.Attempts, bars, escapeCell(summary))
	}
	missing := s.cp.Missing()
	notes := map[string]string{"status": string(s.cp.Status)}
	if len(missing) > 0 {
		sort.Ints(missing)
		parts := make([]string, len(missing))
		for i, idx := range missing {
			parts[i] = strconv.Itoa(idx)
		}
		notes["missing"] = strings.Join(parts, ",")
		fmt.Fprintf(&b, "\nMissing units: %s\n", notes["missing"])
	}
	meta := o.meta(s, "suite")
	meta.Notes = notes
	if err := o.store.Write(artifact.SummaryDoc, []byte(b.String()), meta); err != nil {
		o.book.Warn("write summary: %v", err)
	}
}

func escapeCell(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	return strings.ReplaceAll(s, "|", "\\|")
}
