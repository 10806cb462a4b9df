package suite

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/kingrea/dcnsuite/internal/config"
	"github.com/kingrea/dcnsuite/internal/prompts"
)

// Fingerprint hashes the settings that shape stitched output. Each part is
// kept so a mismatch can name what changed.
type Fingerprint struct {
	Context     string `json:"context"`
	Instruments string `json:"instruments"`
	Model       string `json:"model"`
	Prompts     string `json:"prompts"`
	Suite       string `json:"suite"`
}

type promptIdentity struct {
	ID       string        `json:"id"`
	Meter    prompts.Meter `json:"meter"`
	BarTicks int           `json:"bar_ticks"`
	Hash     string        `json:"hash"`
}

// ComputeFingerprint hashes cfg and the ordered prompt units. Timeouts,
// retries, failure threshold, checkpoint interval, gap policy and render
// settings are left out.
func ComputeFingerprint(cfg *config.SuiteConfig, units []prompts.Unit) (Fingerprint, error) {
	ids := make([]promptIdentity, len(units))
	for i, u := range units {
		ids[i] = promptIdentity{ID: u.ID, Meter: u.Meter, BarTicks: u.BarTicks, Hash: u.Hash()}
	}
	var fp Fingerprint
	var err error
	if fp.Context, err = digest(map[string]int{"last": cfg.Context.LastN(), "max_chars": cfg.Context.MaxChars}); err != nil {
		return Fingerprint{}, err
	}
	if fp.Instruments, err = digest(cfg.Instruments); err != nil {
		return Fingerprint{}, err
	}
	model := map[string]any{
		"provider":    cfg.Model.Provider,
		"name":        cfg.Model.Name,
		"temperature": cfg.Model.TemperatureOrDefault(),
	}
	if fp.Model, err = digest(model); err != nil {
		return Fingerprint{}, err
	}
	if fp.Prompts, err = digest(ids); err != nil {
		return Fingerprint{}, err
	}
	fp.Suite, err = digest([]string{fp.Context, fp.Instruments, fp.Model, fp.Prompts})
	return fp, err
}

// Diff names the parts that differ from other.
func (f Fingerprint) Diff(other Fingerprint) []string {
	var out []string
	if f.Context != other.Context {
		out = append(out, "context")
	}
	if f.Instruments != other.Instruments {
		out = append(out, "instruments")
	}
	if f.Model != other.Model {
		out = append(out, "model")
	}
	if f.Prompts != other.Prompts {
		out = append(out, "prompts")
	}
	return out
}

func digest(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
