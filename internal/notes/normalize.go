// Package notes turns raw execution samples into a validated note stream.
package notes

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Scalar stream names, indexed by the dimension id the service reports.
const (
	Time        = "time"
	Duration    = "duration"
	Pitch       = "pitch"
	Velocity    = "velocity"
	Numerator   = "numerator"
	Denominator = "denominator"
)

// Scalars lists the six required streams in dimension-id order.
var Scalars = []string{Time, Duration, Pitch, Velocity, Numerator, Denominator}

// ErrInvalid marks a sample set or stream that cannot become a note stream.
var ErrInvalid = errors.New("notes: invalid execution result")

// Sample is one entry of the execute response array.
type Sample struct {
	Path        string            `json:"path,omitempty"`
	FeaturePath string            `json:"feature_path,omitempty"`
	Data        []json.RawMessage `json:"data"`
}

// Streams maps scalar names to their values.
type Streams map[string][]int

var dimSuffix = regexp.MustCompile(`:(\d+)$`)

// NormalizeSamples maps samples to scalar streams. Paths ending in ":<dim>"
// are mapped by dimension id; otherwise the last path segment is used.
// Unrecognised paths are returned rather than failing.
func NormalizeSamples(samples []Sample) (Streams, []string, error) {
	streams := make(Streams)
	var unknown []string
	for _, s := range samples {
		path := strings.TrimSpace(s.Path)
		if path == "" {
			path = strings.TrimSpace(s.FeaturePath)
		}
		if path == "" {
			unknown = append(unknown, "<missing path>")
			continue
		}
		name, ok := scalarForPath(path)
		if !ok {
			unknown = append(unknown, path)
			continue
		}
		values, err := intValues(s.Data)
		if err != nil {
			return nil, unknown, fmt.Errorf("%w: %s: %v", ErrInvalid, path, err)
		}
		streams[name] = values
	}
	return streams, unknown, nil
}

func scalarForPath(path string) (string, bool) {
	if m := dimSuffix.FindStringSubmatch(path); m != nil {
		if id, err := strconv.Atoi(m[1]); err == nil && id >= 0 && id < len(Scalars) {
			return Scalars[id], true
		}
	}
	segments := strings.Split(path, "/")
	tail := strings.ToLower(strings.TrimSpace(segments[len(segments)-1]))
	for _, name := range Scalars {
		if tail == name {
			return name, true
		}
	}
	return "", false
}

func intValues(raw []json.RawMessage) ([]int, error) {
	out := make([]int, 0, len(raw))
	for i, r := range raw {
		var n json.Number
		if err := json.Unmarshal(r, &n); err != nil {
			return nil, fmt.Errorf("value %d is not a number: %s", i, string(r))
		}
		v, err := strconv.Atoi(n.String())
		if err != nil {
			f, ferr := n.Float64()
			if ferr != nil || f != float64(int(f)) {
				return nil, fmt.Errorf("value %d is not an integer: %s", i, n)
			}
			v = int(f)
		}
		out = append(out, v)
	}
	return out, nil
}

// RequireScalars fails when any of the six streams is missing.
func RequireScalars(streams Streams, label string, unknown []string) error {
	var missing []string
	for _, name := range Scalars {
		if _, ok := streams[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	keys := make([]string, 0, len(streams))
	for k := range streams {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	preview := "none"
	if len(unknown) > 0 {
		shown := unknown
		if len(shown) > 8 {
			shown = shown[:8]
		}
		preview = strings.Join(shown, ", ")
		if len(unknown) > 8 {
			preview += ", ..."
		}
	}
	return fmt.Errorf("%w: [%s] missing execute scalar streams %v; received keys=%v; unmapped paths=%s",
		ErrInvalid, label, missing, keys, preview)
}
