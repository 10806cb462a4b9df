package stitch

import (
	"errors"
	"fmt"
	"testing"

	"github.com/kingrea/dcnsuite/internal/notes"
	"github.com/kingrea/dcnsuite/internal/prompts"
	"github.com/kingrea/dcnsuite/internal/unit"
)

func comp(index int, meter prompts.Meter, ticks, bars int, events ...notes.Event) unit.Composition {
	return unit.Composition{
		UnitIndex:  index,
		PromptID:   fmt.Sprintf("%03d", index+1),
		Meter:      meter,
		BarTicks:   ticks,
		Bars:       bars,
		Length:     bars * ticks,
		Instrument: "piano",
		Notes:      events,
	}
}

func TestStitchOffsetsUnitsCumulatively(t *testing.T) {
	units := []unit.Composition{
		comp(2, prompts.Meter{Numerator: 3, Denominator: 4}, 12, 1, notes.Event{Time: 0, Duration: 1, Pitch: 60, Velocity: 90}),
		comp(0, prompts.Meter{Numerator: 3, Denominator: 4}, 12, 2, notes.Event{Time: 13, Duration: 2, Pitch: 62, Velocity: 90}),
		comp(1, prompts.Meter{Numerator: 4, Denominator: 4}, 16, 1, notes.Event{Time: 4, Duration: 4, Pitch: 64, Velocity: 90}),
	}
	suite, err := Stitch(units, Options{Expected: 3, Policy: Strict})
	if err != nil {
		t.Fatalf("Stitch returned error: %v", err)
	}
	starts := []int{0, 24, 40}
	for i, e := range suite.Schedule.Entries {
		if e.UnitIndex != i || e.StartTick != starts[i] || e.Placeholder {
			t.Fatalf("entry %d: unexpected %+v", i, e)
		}
	}
	if suite.Schedule.TotalTicks != 52 || suite.Composition.TotalTicks != 52 {
		t.Fatalf("expected 52 total ticks, got %d", suite.Schedule.TotalTicks)
	}
	times := []int{13, 28, 40}
	for i, n := range suite.Composition.Notes {
		if n.Time != times[i] || n.Unit != i {
			t.Fatalf("note %d: unexpected %+v", i, n)
		}
	}
	if !suite.Complete() {
		t.Fatalf("expected complete suite")
	}
}

func TestStitchSkipsGapsWithPlaceholder(t *testing.T) {
	units := []unit.Composition{
		comp(0, prompts.Meter{Numerator: 3, Denominator: 4}, 12, 1, notes.Event{Time: 0, Duration: 1, Pitch: 60, Velocity: 90}),
		comp(2, prompts.Meter{Numerator: 3, Denominator: 4}, 12, 1, notes.Event{Time: 0, Duration: 1, Pitch: 67, Velocity: 90}),
	}
	suite, err := Stitch(units, Options{Expected: 3, Policy: Skip})
	if err != nil {
		t.Fatalf("Stitch returned error: %v", err)
	}
	if len(suite.Composition.Missing) != 1 || suite.Composition.Missing[0] != 1 {
		t.Fatalf("expected unit 1 missing, got %v", suite.Composition.Missing)
	}
	gap := suite.Schedule.Entries[1]
	if !gap.Placeholder || gap.Length != 0 || gap.StartTick != 12 {
		t.Fatalf("unexpected placeholder %+v", gap)
	}
	if suite.Composition.Notes[1].Time != 12 {
		t.Fatalf("expected unit 2 to follow unit 0 directly, got %+v", suite.Composition.Notes[1])
	}
}

func TestStitchStrictFailsOnGap(t *testing.T) {
	units := []unit.Composition{comp(1, prompts.Meter{Numerator: 3, Denominator: 4}, 12, 1)}
	if _, err := Stitch(units, Options{Expected: 2, Policy: Strict}); !errors.Is(err, ErrGap) {
		t.Fatalf("expected ErrGap, got %v", err)
	}
}

func TestStitchRejectsDuplicatesAndStrays(t *testing.T) {
	m := prompts.Meter{Numerator: 3, Denominator: 4}
	if _, err := Stitch([]unit.Composition{comp(0, m, 12, 1), comp(0, m, 12, 1)}, Options{Expected: 1}); err == nil {
		t.Fatalf("expected duplicate error")
	}
	if _, err := Stitch([]unit.Composition{comp(3, m, 12, 1)}, Options{Expected: 2}); err == nil {
		t.Fatalf("expected out-of-range error")
	}
}
