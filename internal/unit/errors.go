package unit

import (
	"errors"
	"fmt"
)

// Failure classes. Every pipeline failure matches exactly one of them.
var (
	ErrGeneration    = errors.New("unit: generation failed")
	ErrService       = errors.New("unit: service call failed")
	ErrNormalization = errors.New("unit: normalization failed")
)

// Stage names one step of the pipeline.
type Stage string

const (
	StageGenerate  Stage = "generate"
	StageFeature   Stage = "feature"
	StageParticle  Stage = "particle"
	StageExecute   Stage = "execute"
	StageNormalize Stage = "normalize"
)

// Class returns the failure class of a stage.
func (s Stage) Class() error {
	switch s {
	case StageGenerate:
		return ErrGeneration
	case StageNormalize:
		return ErrNormalization
	default:
		return ErrService
	}
}

// Error is a failed unit. Payload holds what is needed to diagnose it offline.
type Error struct {
	Index   int
	Stage   Stage
	Err     error
	Payload map[string]any
}

func (e *Error) Error() string {
	return fmt.Sprintf("unit %d: %s: %v", e.Index, e.Stage, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the failure class of the stage.
func (e *Error) Is(target error) bool {
	return target == e.Stage.Class()
}
