package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// EnvInstrumentConfig overrides instruments_file.
const EnvInstrumentConfig = "INSTRUMENT_CONFIG"

// InstrumentSpec is one entry of the instruments block as written by users.
type InstrumentSpec struct {
	Range       []int  `yaml:"range" toml:"range" json:"range"`
	Tess        []int  `yaml:"tess,omitempty" toml:"tess" json:"tess,omitempty"`
	Tessitura   []int  `yaml:"tessitura,omitempty" toml:"tessitura" json:"tessitura,omitempty"`
	Polyphonic  bool   `yaml:"polyphonic,omitempty" toml:"polyphonic" json:"polyphonic,omitempty"`
	DisplayName string `yaml:"display_name,omitempty" toml:"display_name" json:"display_name,omitempty"`
	GMProgram   *int   `yaml:"gm_program,omitempty" toml:"gm_program" json:"gm_program,omitempty"`
}

// InstrumentMeta carries playback hints that override the ones in InstrumentSpec.
type InstrumentMeta struct {
	DisplayName string `yaml:"display_name,omitempty" toml:"display_name" json:"display_name,omitempty"`
	GMProgram   *int   `yaml:"gm_program,omitempty" toml:"gm_program" json:"gm_program,omitempty"`
	Bank        *int   `yaml:"bank,omitempty" toml:"bank" json:"bank,omitempty"`
	BankMSB     *int   `yaml:"bank_msb,omitempty" toml:"bank_msb" json:"bank_msb,omitempty"`
	BankLSB     *int   `yaml:"bank_lsb,omitempty" toml:"bank_lsb" json:"bank_lsb,omitempty"`
}

// InstrumentSetup is the instruments.json document (or its inline equivalent).
type InstrumentSetup struct {
	Ordered     []string                  `yaml:"ordered_instruments,omitempty" toml:"ordered_instruments" json:"ordered_instruments,omitempty"`
	Instruments map[string]InstrumentSpec `yaml:"instruments" toml:"instruments" json:"instruments"`
	Meta        map[string]InstrumentMeta `yaml:"instrument_meta,omitempty" toml:"instrument_meta" json:"instrument_meta,omitempty"`
}

// Instrument is a fully resolved instrument.
type Instrument struct {
	Name        string `json:"name"`
	Low         int    `json:"low"`
	High        int    `json:"high"`
	TessLow     int    `json:"tess_low"`
	TessHigh    int    `json:"tess_high"`
	Polyphonic  bool   `json:"polyphonic"`
	DisplayName string `json:"display_name"`
	GMProgram   *int   `json:"gm_program,omitempty"`
	BankMSB     int    `json:"bank_msb"`
	BankLSB     int    `json:"bank_lsb"`
}

// InRange reports whether pitch is playable by the instrument.
func (i Instrument) InRange(pitch int) bool {
	return pitch >= i.Low && pitch <= i.High
}

// SummaryLine renders the instrument for prompts and logs.
func (i Instrument) SummaryLine() string {
	voice := "monophonic"
	if i.Polyphonic {
		voice = "polyphonic"
	}
	return fmt.Sprintf("- %s: [%d..%d] (%s)", i.Name, i.Low, i.High, voice)
}

// LoadInstrumentSetup reads an instrument setup from JSON or YAML.
// INSTRUMENT_CONFIG, when set, replaces path.
func LoadInstrumentSetup(path string) (*InstrumentSetup, error) {
	if env := strings.TrimSpace(os.Getenv(EnvInstrumentConfig)); env != "" {
		path = env
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("instrument config not found: %s", path)
		}
		return nil, fmt.Errorf("read instrument config: %w", err)
	}
	var setup InstrumentSetup
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &setup)
	default:
		err = json.Unmarshal(data, &setup)
	}
	if err != nil {
		return nil, fmt.Errorf("parse instrument config %s: %w", path, err)
	}
	return &setup, nil
}

// Normalize resolves ranges, tessituras, meta overrides and play order.
// Instruments not named in ordered_instruments follow in name order.
func (s *InstrumentSetup) Normalize() ([]Instrument, error) {
	if s == nil || len(s.Instruments) == 0 {
		return nil, fmt.Errorf("instrument config must include a non-empty instruments object")
	}
	resolved := make(map[string]Instrument, len(s.Instruments))
	for name, spec := range s.Instruments {
		inst, err := normalizeInstrument(name, spec, s.Meta[name])
		if err != nil {
			return nil, err
		}
		resolved[name] = inst
	}

	order := make([]string, 0, len(resolved))
	seen := make(map[string]bool, len(resolved))
	for _, name := range s.Ordered {
		name = strings.TrimSpace(name)
		if _, ok := resolved[name]; !ok || seen[name] {
			continue
		}
		order = append(order, name)
		seen[name] = true
	}
	rest := make([]string, 0)
	for name := range resolved {
		if !seen[name] {
			rest = append(rest, name)
		}
	}
	sort.Strings(rest)
	order = append(order, rest...)

	out := make([]Instrument, 0, len(order))
	for _, name := range order {
		out = append(out, resolved[name])
	}
	return out, nil
}

func normalizeInstrument(name string, spec InstrumentSpec, meta InstrumentMeta) (Instrument, error) {
	if len(spec.Range) != 2 {
		return Instrument{}, fmt.Errorf("instrument %s must have range [lo, hi]", name)
	}
	lo, hi := spec.Range[0], spec.Range[1]
	if lo < 0 || hi > 127 || lo > hi {
		return Instrument{}, fmt.Errorf("instrument %s range [%d, %d] is invalid", name, lo, hi)
	}
	tess := spec.Tess
	if len(tess) == 0 {
		tess = spec.Tessitura
	}
	if len(tess) == 0 {
		tess = spec.Range
	}
	if len(tess) != 2 {
		return Instrument{}, fmt.Errorf("instrument %s must have tess [lo, hi]", name)
	}

	inst := Instrument{
		Name:        name,
		Low:         lo,
		High:        hi,
		TessLow:     tess[0],
		TessHigh:    tess[1],
		Polyphonic:  spec.Polyphonic,
		DisplayName: firstNonEmpty(meta.DisplayName, spec.DisplayName, titleCase(name)),
		GMProgram:   spec.GMProgram,
	}
	if meta.GMProgram != nil {
		inst.GMProgram = meta.GMProgram
	}
	switch {
	case meta.BankMSB != nil:
		inst.BankMSB = *meta.BankMSB
	case meta.Bank != nil:
		inst.BankMSB = *meta.Bank
	}
	if meta.BankLSB != nil {
		inst.BankLSB = *meta.BankLSB
	}
	return inst, nil
}

func titleCase(name string) string {
	words := strings.Fields(strings.ReplaceAll(name, "_", " "))
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + strings.ToLower(w[1:])
	}
	return strings.Join(words, " ")
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
