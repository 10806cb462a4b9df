package suite

import (
	"fmt"
	"strings"

	"github.com/zoobzio/capitan"
)

// Signals emitted over the life of a suite.
const (
	SuiteStarted   = capitan.Signal("suite.started")
	SuiteResumed   = capitan.Signal("suite.resumed")
	SuiteSnapshot  = capitan.Signal("suite.snapshot")
	SuiteCompleted = capitan.Signal("suite.completed")
	SuiteAborted   = capitan.Signal("suite.aborted")

	UnitStarted   = capitan.Signal("unit.started")
	UnitCompleted = capitan.Signal("unit.completed")
	UnitFailed    = capitan.Signal("unit.failed")

	PreflightPassed = capitan.Signal("preflight.passed")
	PreflightFailed = capitan.Signal("preflight.failed")
)

// Keys for suite event fields.
var (
	RunIDKey     = capitan.NewStringKey("suite.run_id")
	StatusKey    = capitan.NewStringKey("suite.status")
	DoneKey      = capitan.NewIntKey("suite.done")
	TotalKey     = capitan.NewIntKey("suite.total")
	UnitIndexKey = capitan.NewIntKey("unit.index")
	PromptIDKey  = capitan.NewStringKey("unit.prompt_id")
	AttemptKey   = capitan.NewIntKey("unit.attempt")
	StageKey     = capitan.NewStringKey("unit.stage")
	ErrorKey     = capitan.NewStringKey("error")
)

// Describe renders the suite fields an event carries as key=value pairs.
func Describe(e *capitan.Event) string {
	var parts []string
	if v, ok := RunIDKey.From(e); ok {
		parts = append(parts, "run="+v)
	}
	if v, ok := StatusKey.From(e); ok {
		parts = append(parts, "status="+v)
	}
	if v, ok := UnitIndexKey.From(e); ok {
		parts = append(parts, fmt.Sprintf("unit=%d", v))
	}
	if v, ok := PromptIDKey.From(e); ok {
		parts = append(parts, "prompt="+v)
	}
	if v, ok := AttemptKey.From(e); ok {
		parts = append(parts, fmt.Sprintf("attempt=%d", v))
	}
	if v, ok := StageKey.From(e); ok {
		parts = append(parts, "stage="+v)
	}
	done, okDone := DoneKey.From(e)
	total, okTotal := TotalKey.From(e)
	if okDone && okTotal {
		parts = append(parts, fmt.Sprintf("done=%d/%d", done, total))
	}
	if v, ok := ErrorKey.From(e); ok {
		parts = append(parts, fmt.Sprintf("error=%q", v))
	}
	return strings.Join(parts, " ")
}
