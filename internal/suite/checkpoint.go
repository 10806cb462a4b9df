package suite

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/kingrea/dcnsuite/internal/artifact"
	"github.com/kingrea/dcnsuite/internal/prompts"
)

// UnitStatus is the lifecycle state of one unit.
type UnitStatus string

const (
	StatusPending    UnitStatus = "pending"
	StatusInProgress UnitStatus = "in_progress"
	StatusDone       UnitStatus = "done"
	StatusFailed     UnitStatus = "failed"
)

// RunStatus summarizes the suite as a whole.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunPartial   RunStatus = "partial"
	RunAborted   RunStatus = "aborted"
)

const checkpointVersion = 1

// UnitState is the checkpoint record of one unit.
type UnitState struct {
	Index     int        `json:"index"`
	PromptID  string     `json:"prompt_id"`
	Status    UnitStatus `json:"status"`
	Attempts  int        `json:"attempts"`
	Stage     string     `json:"stage,omitempty"`
	LastError string     `json:"last_error,omitempty"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Checkpoint is the persisted progress of a suite. The orchestrator is its
// only writer.
type Checkpoint struct {
	Version       int         `json:"version"`
	RunID         string      `json:"run_id"`
	Fingerprint   string      `json:"suite_config_fingerprint"`
	Status        RunStatus   `json:"status"`
	StatusReason  string      `json:"status_reason,omitempty"`
	Completed     []int       `json:"completed_unit_indices"`
	LastCompleted int         `json:"last_completed_index"`
	Units         []UnitState `json:"units"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

func newCheckpoint(runID, fingerprint string, units []prompts.Unit, now time.Time) *Checkpoint {
	cp := &Checkpoint{
		Version:       checkpointVersion,
		RunID:         runID,
		Fingerprint:   fingerprint,
		Status:        RunRunning,
		Completed:     []int{},
		LastCompleted: -1,
		Units:         make([]UnitState, len(units)),
		UpdatedAt:     now,
	}
	for i, u := range units {
		cp.Units[i] = UnitState{Index: u.Index, PromptID: u.ID, Status: StatusPending, UpdatedAt: now}
	}
	return cp
}

// Unit returns the state of the unit at index.
func (c *Checkpoint) Unit(index int) (UnitState, bool) {
	if index < 0 || index >= len(c.Units) {
		return UnitState{}, false
	}
	return c.Units[index], true
}

// Done reports whether the unit at index is done.
func (c *Checkpoint) Done(index int) bool {
	u, ok := c.Unit(index)
	return ok && u.Status == StatusDone
}

// Missing returns the indices that are not done, in order.
func (c *Checkpoint) Missing() []int {
	var out []int
	for _, u := range c.Units {
		if u.Status != StatusDone {
			out = append(out, u.Index)
		}
	}
	return out
}

// Counts tallies units per status.
func (c *Checkpoint) Counts() map[UnitStatus]int {
	counts := map[UnitStatus]int{}
	for _, u := range c.Units {
		counts[u.Status]++
	}
	return counts
}

// begin marks a unit in progress for a new attempt.
func (c *Checkpoint) begin(index, attempt int, now time.Time) {
	u := &c.Units[index]
	u.Status = StatusInProgress
	u.Attempts = attempt
	u.UpdatedAt = now
	c.UpdatedAt = now
}

// complete marks a unit done. Done is terminal.
func (c *Checkpoint) complete(index int, now time.Time) {
	u := &c.Units[index]
	u.Status = StatusDone
	u.Stage = ""
	u.LastError = ""
	u.UpdatedAt = now
	c.Completed = append(c.Completed, index)
	sort.Ints(c.Completed)
	c.LastCompleted = index
	c.UpdatedAt = now
}

// fail marks a unit failed with the stage and error that stopped it.
func (c *Checkpoint) fail(index int, stage, msg string, now time.Time) {
	u := &c.Units[index]
	u.Status = StatusFailed
	u.Stage = stage
	u.LastError = msg
	u.UpdatedAt = now
	c.UpdatedAt = now
}

// reset returns an unfinished unit to pending. Done units are left alone.
func (c *Checkpoint) reset(index int, now time.Time) {
	u := &c.Units[index]
	if u.Status == StatusDone {
		return
	}
	u.Status = StatusPending
	u.UpdatedAt = now
	c.UpdatedAt = now
}

// validate checks the internal consistency of a loaded checkpoint.
func (c *Checkpoint) validate() error {
	if c.Version != checkpointVersion {
		return fmt.Errorf("unsupported version %d", c.Version)
	}
	if c.RunID == "" || c.Fingerprint == "" {
		return fmt.Errorf("missing run id or fingerprint")
	}
	done := map[int]bool{}
	for i, u := range c.Units {
		if u.Index != i {
			return fmt.Errorf("unit %d recorded at position %d", u.Index, i)
		}
		switch u.Status {
		case StatusPending, StatusInProgress, StatusFailed:
		case StatusDone:
			done[i] = true
		default:
			return fmt.Errorf("unit %d has unknown status %q", i, u.Status)
		}
	}
	if len(c.Completed) != len(done) {
		return fmt.Errorf("completed list has %d entries, %d units are done", len(c.Completed), len(done))
	}
	for _, idx := range c.Completed {
		if !done[idx] {
			return fmt.Errorf("completed unit %d is not done", idx)
		}
	}
	return nil
}

// CheckpointStore persists checkpoints.
type CheckpointStore interface {
	Load() (*Checkpoint, error)
	Save(*Checkpoint) error
}

// CheckpointFile is the checkpoint document inside a suite directory.
const CheckpointFile = "checkpoint.json"

// Repository stores the checkpoint inside the suite directory.
type Repository struct {
	path string
}

// NewRepository creates a repository rooted at the suite directory.
func NewRepository(dir string) *Repository {
	return &Repository{path: filepath.Join(dir, CheckpointFile)}
}

// Exists reports whether a checkpoint has been written.
func (r *Repository) Exists() bool {
	_, err := os.Stat(r.path)
	return err == nil
}

// Load reads the persisted checkpoint.
func (r *Repository) Load() (*Checkpoint, error) {
	data, err := os.ReadFile(r.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrCheckpointNotFound
		}
		return nil, err
	}
	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCheckpointCorrupt, err)
	}
	if err := cp.validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCheckpointCorrupt, err)
	}
	return &cp, nil
}

// Save writes the checkpoint with a temp file and rename.
func (r *Repository) Save(cp *Checkpoint) error {
	encoded, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return err
	}
	return artifact.WriteFileAtomic(r.path, append(encoded, '\n'))
}
