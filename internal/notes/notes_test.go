package notes

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
)

func samples(t *testing.T, raw string) []Sample {
	t.Helper()
	var out []Sample
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		t.Fatalf("decode samples: %v", err)
	}
	return out
}

func TestNormalizeByDimIDPaths(t *testing.T) {
	s := samples(t, `[
		{"path": "/my_particle:0", "data": [0, 1, 2]},
		{"path": "/my_particle:1", "data": [1, 1, 1]},
		{"path": "/my_particle:2", "data": [60, 62, 64]},
		{"path": "/my_particle:3", "data": [90, 88, 86]},
		{"path": "/my_particle:4", "data": [3, 3, 3]},
		{"path": "/my_particle:5", "data": [4, 4, 4]}
	]`)
	streams, unknown, err := NormalizeSamples(s)
	if err != nil {
		t.Fatalf("NormalizeSamples returned error: %v", err)
	}
	if len(unknown) != 0 {
		t.Fatalf("expected no unknown paths, got %v", unknown)
	}
	want := map[string]string{
		Time: "[0 1 2]", Duration: "[1 1 1]", Pitch: "[60 62 64]",
		Velocity: "[90 88 86]", Numerator: "[3 3 3]", Denominator: "[4 4 4]",
	}
	for name, w := range want {
		if got := fmt.Sprint(streams[name]); got != w {
			t.Fatalf("%s: expected %s, got %s", name, w, got)
		}
	}
}

func TestNormalizeLegacyFeaturePathFallback(t *testing.T) {
	s := samples(t, `[
		{"feature_path": "/x/y/time", "data": [0, 2, 4]},
		{"feature_path": "/x/y/Denominator", "data": [4, 4, 4]},
		{"feature_path": "/x/y/mystery", "data": [1]},
		{"data": [1]}
	]`)
	streams, unknown, err := NormalizeSamples(s)
	if err != nil {
		t.Fatalf("NormalizeSamples returned error: %v", err)
	}
	if fmt.Sprint(streams[Time]) != "[0 2 4]" || fmt.Sprint(streams[Denominator]) != "[4 4 4]" {
		t.Fatalf("unexpected streams %v", streams)
	}
	if fmt.Sprint(unknown) != "[/x/y/mystery <missing path>]" {
		t.Fatalf("unexpected unknown paths %v", unknown)
	}
}

func TestNormalizeRejectsNonIntegerValues(t *testing.T) {
	s := samples(t, `[{"path": "/p:2", "data": [60, 61.5]}]`)
	if _, _, err := NormalizeSamples(s); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
	s = samples(t, `[{"path": "/p:2", "data": [60, "x"]}]`)
	if _, _, err := NormalizeSamples(s); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid for string, got %v", err)
	}
	s = samples(t, `[{"path": "/p:2", "data": [60.0, 1e1]}]`)
	streams, _, err := NormalizeSamples(s)
	if err != nil || fmt.Sprint(streams[Pitch]) != "[60 10]" {
		t.Fatalf("expected integral floats accepted, got %v %v", streams, err)
	}
}

func TestRequireScalarsListsMissing(t *testing.T) {
	unknown := []string{"/a", "/b", "/c", "/d", "/e", "/f", "/g", "/h", "/i"}
	err := RequireScalars(Streams{Time: {0}}, "unitA", unknown)
	if !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
	msg := err.Error()
	if !strings.Contains(msg, "missing execute scalar streams") || !strings.Contains(msg, "/h, ...") || strings.Contains(msg, "/i") {
		t.Fatalf("unexpected message %q", msg)
	}
	full := Streams{}
	for _, name := range Scalars {
		full[name] = []int{1}
	}
	if err := RequireScalars(full, "unitA", nil); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}

func streamsOf(time, dur, pitch, vel []int) Streams {
	n := len(time)
	num, den := make([]int, n), make([]int, n)
	for i := range num {
		num[i], den[i] = 3, 4
	}
	return Streams{Time: time, Duration: dur, Pitch: pitch, Velocity: vel, Numerator: num, Denominator: den}
}

func TestEventsSortsByTimeThenPitch(t *testing.T) {
	s := streamsOf([]int{4, 0, 0}, []int{2, 1, 1}, []int{60, 67, 64}, []int{90, 80, 70})
	events, err := Events(s, Range{0, 127})
	if err != nil {
		t.Fatalf("Events returned error: %v", err)
	}
	got := fmt.Sprint(events)
	if got != "[{0 1 64 70} {0 1 67 80} {4 2 60 90}]" {
		t.Fatalf("unexpected order %s", got)
	}
	if Span(events) != 6 {
		t.Fatalf("expected span 6, got %d", Span(events))
	}
}

func TestEventsRejectsMalformed(t *testing.T) {
	cases := map[string]Streams{
		"empty":       streamsOf(nil, nil, nil, nil),
		"negative":    streamsOf([]int{-1}, []int{1}, []int{60}, []int{90}),
		"zero length": streamsOf([]int{0}, []int{0}, []int{60}, []int{90}),
		"pitch":       streamsOf([]int{0}, []int{1}, []int{128}, []int{90}),
		"velocity":    streamsOf([]int{0}, []int{1}, []int{60}, []int{200}),
		"range":       streamsOf([]int{0}, []int{1}, []int{30}, []int{90}),
	}
	uneven := streamsOf([]int{0, 1}, []int{1, 1}, []int{60, 60}, []int{90, 90})
	uneven[Pitch] = []int{60}
	cases["uneven"] = uneven
	meter := streamsOf([]int{0}, []int{1}, []int{60}, []int{90})
	meter[Denominator] = []int{0}
	cases["meter"] = meter

	for name, s := range cases {
		if _, err := Events(s, Range{40, 100}); !errors.Is(err, ErrInvalid) {
			t.Fatalf("%s: expected ErrInvalid, got %v", name, err)
		}
	}
}

func TestBuildRunningInstancesMatchesDimOrder(t *testing.T) {
	seeds := map[string]int{Time: 10, Duration: 2, Pitch: 60, Velocity: 90, Numerator: 3, Denominator: 4}
	instances := BuildRunningInstances(seeds, []string{"time", "Duration", " pitch ", "velocity", "numerator", "denominator"})
	if len(instances) != 7 {
		t.Fatalf("expected 7 instances, got %d", len(instances))
	}
	if instances[0] != (RunningInstance{StartPoint: 10}) || instances[1] != (RunningInstance{StartPoint: 10}) {
		t.Fatalf("unexpected leading instances %+v", instances[:2])
	}
	if instances[2].StartPoint != 2 || instances[3].StartPoint != 60 {
		t.Fatalf("unexpected dimension seeds %+v", instances)
	}
}
