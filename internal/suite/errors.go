package suite

import "errors"

var (
	// ErrConfigMismatch means a resume would stitch units produced under
	// different settings.
	ErrConfigMismatch = errors.New("suite: configuration does not match checkpoint")
	// ErrTooManyConsecutiveFailures aborts the remaining units.
	ErrTooManyConsecutiveFailures = errors.New("suite: too many consecutive unit failures")
	// ErrSuiteExists is returned when start targets a directory that already holds a suite.
	ErrSuiteExists = errors.New("suite: directory already holds a suite")
	// ErrCheckpointNotFound is returned when resume finds no checkpoint.
	ErrCheckpointNotFound = errors.New("suite: checkpoint not found")
	// ErrCheckpointCorrupt means the checkpoint or a done unit's document cannot be trusted.
	ErrCheckpointCorrupt = errors.New("suite: checkpoint corrupt")
)
