package notes

import (
	"fmt"
	"sort"
	"strings"
)

// Event is one normalized note.
type Event struct {
	Time     int `json:"time"`
	Duration int `json:"duration"`
	Pitch    int `json:"pitch"`
	Velocity int `json:"velocity"`
}

// End is the tick at which the note stops sounding.
func (e Event) End() int {
	return e.Time + e.Duration
}

// Range bounds the pitches a unit's instrument can play.
type Range struct {
	Low  int
	High int
}

// Events zips validated streams into notes sorted by time then pitch.
func Events(streams Streams, pitches Range) ([]Event, error) {
	n := len(streams[Time])
	if n == 0 {
		return nil, fmt.Errorf("%w: empty time stream", ErrInvalid)
	}
	for _, name := range Scalars {
		if len(streams[name]) != n {
			return nil, fmt.Errorf("%w: stream %s has %d values, time has %d", ErrInvalid, name, len(streams[name]), n)
		}
	}

	var problems []string
	events := make([]Event, 0, n)
	for i := 0; i < n; i++ {
		ev := Event{
			Time:     streams[Time][i],
			Duration: streams[Duration][i],
			Pitch:    streams[Pitch][i],
			Velocity: streams[Velocity][i],
		}
		num, den := streams[Numerator][i], streams[Denominator][i]
		switch {
		case ev.Time < 0:
			problems = append(problems, fmt.Sprintf("note %d: negative time %d", i, ev.Time))
		case ev.Duration <= 0:
			problems = append(problems, fmt.Sprintf("note %d: non-positive duration %d", i, ev.Duration))
		case ev.Pitch < 0 || ev.Pitch > 127:
			problems = append(problems, fmt.Sprintf("note %d: pitch %d outside 0..127", i, ev.Pitch))
		case ev.Velocity < 0 || ev.Velocity > 127:
			problems = append(problems, fmt.Sprintf("note %d: velocity %d outside 0..127", i, ev.Velocity))
		case ev.Pitch < pitches.Low || ev.Pitch > pitches.High:
			problems = append(problems, fmt.Sprintf("note %d: pitch %d outside instrument range %d..%d", i, ev.Pitch, pitches.Low, pitches.High))
		case num <= 0 || den <= 0:
			problems = append(problems, fmt.Sprintf("note %d: meter %d/%d", i, num, den))
		}
		events = append(events, ev)
	}
	if len(problems) > 0 {
		if len(problems) > 5 {
			problems = append(problems[:5], fmt.Sprintf("and %d more", len(problems)-5))
		}
		return nil, fmt.Errorf("%w: %s", ErrInvalid, strings.Join(problems, "; "))
	}

	sort.SliceStable(events, func(i, j int) bool {
		if events[i].Time != events[j].Time {
			return events[i].Time < events[j].Time
		}
		return events[i].Pitch < events[j].Pitch
	})
	return events, nil
}

// Span returns the tick just after the last note ends.
func Span(events []Event) int {
	end := 0
	for _, ev := range events {
		if ev.End() > end {
			end = ev.End()
		}
	}
	return end
}
