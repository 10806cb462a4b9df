// Package prompts loads the ordered prompt units of a suite.
package prompts

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// DefaultBarTicks is one 3/4 bar on a 16th-note grid.
const DefaultBarTicks = 12

// Meter is a time signature.
type Meter struct {
	Numerator   int `json:"numerator"`
	Denominator int `json:"denominator"`
}

func (m Meter) String() string {
	return fmt.Sprintf("%d/%d", m.Numerator, m.Denominator)
}

// Unit is one prompt file.
type Unit struct {
	Index    int    `json:"index"`
	ID       string `json:"id"`
	Path     string `json:"path"`
	Text     string `json:"text"`
	Meter    Meter  `json:"meter"`
	BarTicks int    `json:"bar_ticks"`
}

// Hash returns a hex digest of the prompt text after directives are removed.
func (u Unit) Hash() string {
	sum := sha256.Sum256([]byte(u.Text))
	return hex.EncodeToString(sum[:])
}

var (
	meterDirective = regexp.MustCompile(`(?i)^\s*METER\s*:\s*(\d+)\s*/\s*(\d+)\s*$`)
	ticksDirective = regexp.MustCompile(`(?i)^\s*(?:BAR_)?TICKS\s*:\s*(\d+)\s*$`)
)

// ticksMeters maps common bar lengths on a 16th grid back to a meter.
var ticksMeters = map[int]Meter{
	12: {3, 4},
	8:  {2, 4},
	16: {4, 4},
	4:  {1, 4},
}

// MeterFromTicks returns the meter for a bar length, falling back to 4/4.
func MeterFromTicks(ticks int) Meter {
	if m, ok := ticksMeters[ticks]; ok {
		return m
	}
	return Meter{4, 4}
}

// TicksFromMeter returns the bar length of a meter on a 16th grid.
func TicksFromMeter(m Meter) int {
	return m.Numerator * 16 / m.Denominator
}

// OnGrid reports whether a bar of m is a whole number of 16ths.
func (m Meter) OnGrid() bool {
	return m.Denominator > 0 && (m.Numerator*16)%m.Denominator == 0
}

// LoadDir reads every *.txt file in dir, sorted by file name.
func LoadDir(dir string) ([]Unit, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("prompts: read %s: %w", dir, err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.EqualFold(filepath.Ext(entry.Name()), ".txt") {
			continue
		}
		names = append(names, entry.Name())
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("prompts: no .txt prompt files in %s", dir)
	}
	sort.Strings(names)

	units := make([]Unit, 0, len(names))
	for i, name := range names {
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("prompts: read %s: %w", path, err)
		}
		unit, err := Parse(i, strings.TrimSuffix(name, filepath.Ext(name)), string(data))
		if err != nil {
			return nil, fmt.Errorf("prompts: %s: %w", name, err)
		}
		unit.Path = path
		units = append(units, unit)
	}
	return units, nil
}

// Parse extracts METER and TICKS directives from raw and resolves the unit's
// meter and bar length.
func Parse(index int, id, raw string) (Unit, error) {
	var (
		meter *Meter
		ticks int
		body  []string
	)
	for _, line := range strings.Split(strings.ReplaceAll(raw, "\r\n", "\n"), "\n") {
		if m := meterDirective.FindStringSubmatch(line); m != nil {
			num, _ := strconv.Atoi(m[1])
			den, _ := strconv.Atoi(m[2])
			if num <= 0 || den <= 0 {
				return Unit{}, fmt.Errorf("invalid meter %s/%s", m[1], m[2])
			}
			meter = &Meter{num, den}
			continue
		}
		if m := ticksDirective.FindStringSubmatch(line); m != nil {
			n, _ := strconv.Atoi(m[1])
			if n <= 0 {
				return Unit{}, fmt.Errorf("invalid bar ticks %s", m[1])
			}
			ticks = n
			continue
		}
		body = append(body, line)
	}

	unit := Unit{Index: index, ID: id, Text: strings.TrimSpace(strings.Join(body, "\n"))}
	switch {
	case meter != nil && ticks > 0:
		unit.Meter, unit.BarTicks = *meter, ticks
	case meter != nil:
		if !meter.OnGrid() {
			return Unit{}, fmt.Errorf("meter %s does not fit a 16th grid", meter)
		}
		unit.Meter, unit.BarTicks = *meter, TicksFromMeter(*meter)
	case ticks > 0:
		unit.Meter, unit.BarTicks = MeterFromTicks(ticks), ticks
	default:
		unit.Meter, unit.BarTicks = Meter{3, 4}, DefaultBarTicks
	}
	if unit.Text == "" {
		return Unit{}, fmt.Errorf("prompt text is empty")
	}
	return unit, nil
}
