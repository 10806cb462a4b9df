// Package stitch joins composition units into one timeline.
package stitch

import (
	"errors"
	"fmt"
	"sort"

	"github.com/kingrea/dcnsuite/internal/config"
	"github.com/kingrea/dcnsuite/internal/prompts"
	"github.com/kingrea/dcnsuite/internal/unit"
)

// ErrGap is returned under the strict policy when units are missing.
var ErrGap = errors.New("stitch: missing units")

// Policy decides what happens to missing units.
type Policy string

const (
	// Skip leaves a zero-length placeholder for each missing unit.
	Skip Policy = config.GapPolicySkip
	// Strict fails the stitch.
	Strict Policy = config.GapPolicyStrict
)

// Options configures a stitch.
type Options struct {
	// Expected is the number of prompt units in the suite.
	Expected    int
	Policy      Policy
	Instruments []config.Instrument
}

// Note is a note placed on the suite timeline.
type Note struct {
	Time       int    `json:"time"`
	Duration   int    `json:"duration"`
	Pitch      int    `json:"pitch"`
	Velocity   int    `json:"velocity"`
	Unit       int    `json:"unit"`
	Instrument string `json:"instrument"`
}

// Composition is the stitched note stream.
type Composition struct {
	Instruments []config.Instrument `json:"instruments"`
	TotalTicks  int                 `json:"total_ticks"`
	Notes       []Note              `json:"notes"`
	Missing     []int               `json:"missing,omitempty"`
}

// Entry places one unit on the timeline.
type Entry struct {
	UnitIndex   int           `json:"unit_index"`
	PromptID    string        `json:"prompt_id,omitempty"`
	StartTick   int           `json:"start_tick"`
	Meter       prompts.Meter `json:"meter"`
	BarTicks    int           `json:"bar_ticks"`
	Bars        int           `json:"bars"`
	Length      int           `json:"length"`
	Placeholder bool          `json:"placeholder,omitempty"`
}

// Schedule lists every unit slot in order.
type Schedule struct {
	TotalTicks int     `json:"total_ticks"`
	Entries    []Entry `json:"entries"`
}

// Suite is the result of a stitch.
type Suite struct {
	Composition Composition
	Schedule    Schedule
}

// Complete reports whether no unit was missing.
func (s Suite) Complete() bool {
	return len(s.Composition.Missing) == 0
}

// Stitch concatenates units in index order. Each unit starts where the
// previous present unit ended. Units are never reordered or overlapped.
func Stitch(units []unit.Composition, opts Options) (Suite, error) {
	byIndex := make(map[int]unit.Composition, len(units))
	for _, u := range units {
		if u.UnitIndex < 0 || u.UnitIndex >= opts.Expected {
			return Suite{}, fmt.Errorf("stitch: unit index %d outside 0..%d", u.UnitIndex, opts.Expected-1)
		}
		if _, dup := byIndex[u.UnitIndex]; dup {
			return Suite{}, fmt.Errorf("stitch: duplicate unit index %d", u.UnitIndex)
		}
		byIndex[u.UnitIndex] = u
	}

	var missing []int
	for i := 0; i < opts.Expected; i++ {
		if _, ok := byIndex[i]; !ok {
			missing = append(missing, i)
		}
	}
	if len(missing) > 0 && opts.Policy == Strict {
		return Suite{}, fmt.Errorf("%w: %v", ErrGap, missing)
	}

	suite := Suite{
		Composition: Composition{Instruments: opts.Instruments, Notes: []Note{}, Missing: missing},
		Schedule:    Schedule{Entries: make([]Entry, 0, opts.Expected)},
	}
	offset := 0
	for i := 0; i < opts.Expected; i++ {
		u, ok := byIndex[i]
		if !ok {
			suite.Schedule.Entries = append(suite.Schedule.Entries, Entry{UnitIndex: i, StartTick: offset, Placeholder: true})
			continue
		}
		suite.Schedule.Entries = append(suite.Schedule.Entries, Entry{
			UnitIndex: i,
			PromptID:  u.PromptID,
			StartTick: offset,
			Meter:     u.Meter,
			BarTicks:  u.BarTicks,
			Bars:      u.Bars,
			Length:    u.Length,
		})
		notes := make([]Note, 0, len(u.Notes))
		for _, ev := range u.Notes {
			notes = append(notes, Note{
				Time:       ev.Time + offset,
				Duration:   ev.Duration,
				Pitch:      ev.Pitch,
				Velocity:   ev.Velocity,
				Unit:       i,
				Instrument: u.Instrument,
			})
		}
		sort.SliceStable(notes, func(a, b int) bool {
			if notes[a].Time != notes[b].Time {
				return notes[a].Time < notes[b].Time
			}
			return notes[a].Pitch < notes[b].Pitch
		})
		suite.Composition.Notes = append(suite.Composition.Notes, notes...)
		offset += u.Length
	}
	suite.Composition.TotalTicks = offset
	suite.Schedule.TotalTicks = offset
	return suite, nil
}
