package suite

import (
	"context"
	"errors"

	"github.com/kingrea/dcnsuite/internal/journal"
	"github.com/kingrea/dcnsuite/internal/logbook"
)

// Report is a read-only view of a suite directory.
type Report struct {
	Dir        string
	Manifest   *Manifest
	Checkpoint *Checkpoint
	Attempts   map[int]int
	Log        []string
}

// Inspect reads the checkpoint, manifest, journal attempt counts and the
// tail of the prompts log without taking part in a run.
func Inspect(ctx context.Context, dir string, logLines int) (Report, error) {
	report := Report{Dir: dir, Attempts: map[int]int{}}
	cp, err := NewRepository(dir).Load()
	if err != nil {
		return report, err
	}
	report.Checkpoint = cp
	if m, err := LoadManifest(dir); err == nil {
		report.Manifest = &m
	} else if !errors.Is(err, ErrCheckpointNotFound) {
		return report, err
	}
	j, err := journal.OpenReadOnly(dir)
	if err != nil {
		return report, err
	}
	if j != nil {
		defer j.Close()
		attempts, err := j.Attempts(ctx)
		if err != nil {
			return report, err
		}
		report.Attempts = attempts
	}
	if logLines > 0 {
		book, err := logbook.New(promptsLogPath(dir))
		if err == nil {
			report.Log, _ = book.Tail(logLines)
		}
	}
	return report, nil
}
