package suite

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/kingrea/dcnsuite/internal/artifact"
	"github.com/kingrea/dcnsuite/internal/config"
	"github.com/kingrea/dcnsuite/internal/prompts"
)

// ManifestFile is the run metadata document inside a suite directory.
const ManifestFile = "manifest.json"

// PromptRef identifies one prompt unit in the manifest.
type PromptRef struct {
	Index    int           `json:"index"`
	ID       string        `json:"id"`
	Meter    prompts.Meter `json:"meter"`
	BarTicks int           `json:"bar_ticks"`
	Hash     string        `json:"hash"`
}

// Manifest records what a suite was started with.
type Manifest struct {
	RunID       string              `json:"run_id"`
	CreatedAt   time.Time           `json:"created_at"`
	PromptDir   string              `json:"prompt_dir"`
	Prompts     []PromptRef         `json:"prompts"`
	Fingerprint Fingerprint         `json:"fingerprint"`
	Config      *config.SuiteConfig `json:"config"`
}

func newManifest(runID, promptDir string, cfg *config.SuiteConfig, units []prompts.Unit, fp Fingerprint, now time.Time) Manifest {
	refs := make([]PromptRef, len(units))
	for i, u := range units {
		refs[i] = PromptRef{Index: u.Index, ID: u.ID, Meter: u.Meter, BarTicks: u.BarTicks, Hash: u.Hash()}
	}
	return Manifest{
		RunID:       runID,
		CreatedAt:   now,
		PromptDir:   promptDir,
		Prompts:     refs,
		Fingerprint: fp,
		Config:      cfg,
	}
}

// LoadManifest reads the manifest of a suite directory.
func LoadManifest(dir string) (Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, ManifestFile))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Manifest{}, fmt.Errorf("%w: no manifest in %s", ErrCheckpointNotFound, dir)
		}
		return Manifest{}, err
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return Manifest{}, fmt.Errorf("%w: manifest: %v", ErrCheckpointCorrupt, err)
	}
	return m, nil
}

func saveManifest(dir string, m Manifest) error {
	encoded, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	return artifact.WriteFileAtomic(filepath.Join(dir, ManifestFile), append(encoded, '\n'))
}
