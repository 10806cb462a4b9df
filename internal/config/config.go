// internal/config/config.go
//
// This package loads the suite configuration. A suite is configured by a single
// YAML file (suite.yaml); a .toml file with the same keys is accepted too.

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultConfigFile is looked up next to the prompts when no --config is given.
	DefaultConfigFile = "suite.yaml"

	defaultDCNBaseURL       = "https://api.decentralised.art"
	defaultDCNTimeout       = 10
	defaultPrivateKeyEnv    = "DCN_PRIVATE_KEY"
	defaultModelProvider    = "openai"
	defaultModelBaseURL     = "https://api.openai.com/v1"
	defaultModelName        = "gpt-4.1-mini"
	defaultModelAPIKeyEnv   = "OPENAI_API_KEY"
	defaultModelTemperature = 0.7
	defaultModelTimeout     = 120
	defaultContextMaxChars  = 12000
	defaultMaxFailures      = 3
	defaultRenderOutput     = "composition.mid"

	// ContextAll selects every completed unit for the context window.
	ContextAll = "all"

	// GapPolicySkip stitches around missing units and records a placeholder.
	GapPolicySkip = "skip"
	// GapPolicyStrict fails the stitch when any unit is missing.
	GapPolicyStrict = "strict"

	// EnvAPIBase overrides dcn.base_url.
	EnvAPIBase = "DCN_API_BASE"
)

const defaultSuiteConfigYAML = `# dcnsuite configuration
version: 1

dcn:
  base_url: https://api.decentralised.art
  timeout_seconds: 10
  private_key_env: DCN_PRIVATE_KEY
  auto_bootstrap: true

model:
  provider: openai
  name: gpt-4.1-mini
  api_key_env: OPENAI_API_KEY
  temperature: 0.7

# Which completed units are shown to the model: "all" or a number N (most recent N).
context:
  last: all
  max_chars: 12000

suite:
  checkpoint_interval: 1
  max_consecutive_failures: 3
  gap_policy: skip

instruments_file: instruments.json

# render:
#   command: ["midi-export", "{composition}", "{output}"]
#   output: composition.mid
`

// DCNConfig describes how to reach the feature/particle/execution service.
type DCNConfig struct {
	BaseURL        string `yaml:"base_url" toml:"base_url" json:"base_url"`
	TimeoutSeconds int    `yaml:"timeout_seconds" toml:"timeout_seconds" json:"timeout_seconds"`
	PrivateKeyEnv  string `yaml:"private_key_env" toml:"private_key_env" json:"private_key_env"`
	AutoBootstrap  *bool  `yaml:"auto_bootstrap,omitempty" toml:"auto_bootstrap" json:"auto_bootstrap,omitempty"`
	Retries        int    `yaml:"retries,omitempty" toml:"retries" json:"retries,omitempty"`
}

// Bootstrap reports whether missing transformations are created during preflight.
func (c DCNConfig) Bootstrap() bool {
	if c.AutoBootstrap == nil {
		return true
	}
	return *c.AutoBootstrap
}

// ModelConfig describes the generative model used for every unit.
type ModelConfig struct {
	Provider       string   `yaml:"provider" toml:"provider" json:"provider"`
	BaseURL        string   `yaml:"base_url,omitempty" toml:"base_url" json:"base_url,omitempty"`
	Name           string   `yaml:"name" toml:"name" json:"name"`
	APIKeyEnv      string   `yaml:"api_key_env" toml:"api_key_env" json:"api_key_env"`
	Temperature    *float64 `yaml:"temperature,omitempty" toml:"temperature" json:"temperature,omitempty"`
	TimeoutSeconds int      `yaml:"timeout_seconds,omitempty" toml:"timeout_seconds" json:"timeout_seconds,omitempty"`
}

// TemperatureOrDefault returns the configured sampling temperature.
func (c ModelConfig) TemperatureOrDefault() float64 {
	if c.Temperature == nil {
		return defaultModelTemperature
	}
	return *c.Temperature
}

// ContextConfig selects prior units for the generation context.
type ContextConfig struct {
	Last     string `yaml:"last" toml:"last" json:"last"`
	MaxChars int    `yaml:"max_chars" toml:"max_chars" json:"max_chars"`
}

// LastN returns the recency limit, or zero when every completed unit is eligible.
func (c ContextConfig) LastN() int {
	if strings.EqualFold(c.Last, ContextAll) {
		return 0
	}
	n, err := strconv.Atoi(c.Last)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// SuiteSettings controls the orchestrator loop.
type SuiteSettings struct {
	CheckpointInterval     int    `yaml:"checkpoint_interval" toml:"checkpoint_interval" json:"checkpoint_interval"`
	MaxConsecutiveFailures *int   `yaml:"max_consecutive_failures,omitempty" toml:"max_consecutive_failures" json:"max_consecutive_failures,omitempty"`
	GapPolicy              string `yaml:"gap_policy" toml:"gap_policy" json:"gap_policy"`
}

// FailureThreshold returns the tolerated number of consecutive unit failures.
// Zero disables the limit.
func (s SuiteSettings) FailureThreshold() int {
	if s.MaxConsecutiveFailures == nil {
		return defaultMaxFailures
	}
	return *s.MaxConsecutiveFailures
}

// RenderConfig describes the external tool that turns a composition into a playable file.
type RenderConfig struct {
	Command []string `yaml:"command,omitempty" toml:"command" json:"command,omitempty"`
	Output  string   `yaml:"output,omitempty" toml:"output" json:"output,omitempty"`
}

// SuiteConfig models suite.yaml.
type SuiteConfig struct {
	Version         int              `yaml:"version" toml:"version" json:"version"`
	DCN             DCNConfig        `yaml:"dcn" toml:"dcn" json:"dcn"`
	Model           ModelConfig      `yaml:"model" toml:"model" json:"model"`
	Context         ContextConfig    `yaml:"context" toml:"context" json:"context"`
	Suite           SuiteSettings    `yaml:"suite" toml:"suite" json:"suite"`
	InstrumentSetup *InstrumentSetup `yaml:"instrument_setup,omitempty" toml:"instrument_setup" json:"instrument_setup,omitempty"`
	InstrumentsFile string           `yaml:"instruments_file,omitempty" toml:"instruments_file" json:"instruments_file,omitempty"`
	Render          RenderConfig     `yaml:"render,omitempty" toml:"render" json:"render,omitempty"`

	// Instruments is the normalized instrument list, in play order.
	Instruments []Instrument `yaml:"-" toml:"-" json:"instruments"`

	// Path is where the configuration was read from (empty for defaults).
	Path string `yaml:"-" toml:"-" json:"-"`
}

// Default returns a configuration with every default applied and no instruments.
func Default() *SuiteConfig {
	cfg := &SuiteConfig{}
	cfg.applyDefaults()
	return cfg
}

// Load reads a suite configuration file, resolves its instrument setup and
// validates the result. Relative paths resolve against the file's directory.
func Load(path string) (*SuiteConfig, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("config: path is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("config: %s not found: %w", path, err)
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var parsed SuiteConfig
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(string(data), &parsed); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	} else {
		if err := yaml.Unmarshal(data, &parsed); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	parsed.Path = path
	if err := parsed.Finalize(filepath.Dir(path)); err != nil {
		return nil, err
	}
	return &parsed, nil
}

// Finalize applies defaults, environment overrides and the instrument setup,
// then validates. base resolves a relative instruments_file.
func (c *SuiteConfig) Finalize(base string) error {
	c.applyDefaults()
	c.applyEnv()
	c.normalize(base)
	if err := c.resolveInstruments(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := c.validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// WriteDefault writes a commented starter configuration if none exists at path.
func WriteDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("config: ensure dir: %w", err)
	}
	return os.WriteFile(path, []byte(defaultSuiteConfigYAML), 0o644)
}

// Instrument returns the named instrument from the resolved setup.
func (c *SuiteConfig) Instrument(name string) (Instrument, bool) {
	for _, inst := range c.Instruments {
		if inst.Name == name {
			return inst, true
		}
	}
	return Instrument{}, false
}

func (c *SuiteConfig) applyDefaults() {
	if c.Version == 0 {
		c.Version = 1
	}
	if c.DCN.BaseURL == "" {
		c.DCN.BaseURL = defaultDCNBaseURL
	}
	if c.DCN.TimeoutSeconds <= 0 {
		c.DCN.TimeoutSeconds = defaultDCNTimeout
	}
	if c.DCN.PrivateKeyEnv == "" {
		c.DCN.PrivateKeyEnv = defaultPrivateKeyEnv
	}
	if c.DCN.Retries <= 0 {
		c.DCN.Retries = 1
	}
	if c.Model.Provider == "" {
		c.Model.Provider = defaultModelProvider
	}
	if c.Model.BaseURL == "" {
		c.Model.BaseURL = defaultModelBaseURL
	}
	if c.Model.Name == "" {
		c.Model.Name = defaultModelName
	}
	if c.Model.APIKeyEnv == "" {
		c.Model.APIKeyEnv = defaultModelAPIKeyEnv
	}
	if c.Model.TimeoutSeconds <= 0 {
		c.Model.TimeoutSeconds = defaultModelTimeout
	}
	if strings.TrimSpace(c.Context.Last) == "" {
		c.Context.Last = ContextAll
	}
	if c.Context.MaxChars == 0 {
		c.Context.MaxChars = defaultContextMaxChars
	}
	if c.Suite.CheckpointInterval <= 0 {
		c.Suite.CheckpointInterval = 1
	}
	if strings.TrimSpace(c.Suite.GapPolicy) == "" {
		c.Suite.GapPolicy = GapPolicySkip
	}
	if c.Render.Output == "" {
		c.Render.Output = defaultRenderOutput
	}
}

func (c *SuiteConfig) applyEnv() {
	if base := strings.TrimSpace(os.Getenv(EnvAPIBase)); base != "" {
		c.DCN.BaseURL = base
	}
}

func (c *SuiteConfig) normalize(base string) {
	c.DCN.BaseURL = strings.TrimRight(strings.TrimSpace(c.DCN.BaseURL), "/")
	c.Model.Provider = strings.ToLower(strings.TrimSpace(c.Model.Provider))
	c.Model.BaseURL = strings.TrimRight(strings.TrimSpace(c.Model.BaseURL), "/")
	c.Model.Name = strings.TrimSpace(c.Model.Name)
	c.Context.Last = strings.ToLower(strings.TrimSpace(c.Context.Last))
	c.Suite.GapPolicy = strings.ToLower(strings.TrimSpace(c.Suite.GapPolicy))
	c.InstrumentsFile = resolvePath(base, c.InstrumentsFile)
}

func (c *SuiteConfig) validate() error {
	if c.Version < 1 {
		return fmt.Errorf("config version must be >= 1")
	}
	if !strings.HasPrefix(c.DCN.BaseURL, "http://") && !strings.HasPrefix(c.DCN.BaseURL, "https://") {
		return fmt.Errorf("dcn.base_url must be an http(s) URL, got %q", c.DCN.BaseURL)
	}
	if c.Model.Provider != defaultModelProvider {
		return fmt.Errorf("model.provider %q is not supported", c.Model.Provider)
	}
	if c.Model.Name == "" {
		return fmt.Errorf("model.name is required")
	}
	if c.Context.Last != ContextAll {
		n, err := strconv.Atoi(c.Context.Last)
		if err != nil || n <= 0 {
			return fmt.Errorf("context.last must be %q or a positive integer, got %q", ContextAll, c.Context.Last)
		}
	}
	if c.Context.MaxChars < 0 {
		return fmt.Errorf("context.max_chars must be >= 0")
	}
	if c.Suite.MaxConsecutiveFailures != nil && *c.Suite.MaxConsecutiveFailures < 0 {
		return fmt.Errorf("suite.max_consecutive_failures must be >= 0")
	}
	switch c.Suite.GapPolicy {
	case GapPolicySkip, GapPolicyStrict:
	default:
		return fmt.Errorf("suite.gap_policy must be %q or %q", GapPolicySkip, GapPolicyStrict)
	}
	if len(c.Instruments) == 0 {
		return fmt.Errorf("an instrument setup is required (instrument_setup or instruments_file)")
	}
	return nil
}

func (c *SuiteConfig) resolveInstruments() error {
	setup := c.InstrumentSetup
	if setup == nil && c.InstrumentsFile != "" {
		loaded, err := LoadInstrumentSetup(c.InstrumentsFile)
		if err != nil {
			return err
		}
		setup = loaded
	}
	if setup == nil {
		return nil
	}
	instruments, err := setup.Normalize()
	if err != nil {
		return err
	}
	c.Instruments = instruments
	return nil
}

func resolvePath(base, candidate string) string {
	trimmed := strings.TrimSpace(candidate)
	if trimmed == "" {
		return ""
	}
	if filepath.IsAbs(trimmed) || base == "" {
		return filepath.Clean(trimmed)
	}
	return filepath.Clean(filepath.Join(base, trimmed))
}
