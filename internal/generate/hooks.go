package generate

import (
	"fmt"
	"strings"

	"github.com/zoobzio/capitan"
)

// Signals emitted around model calls.
const (
	ProviderCallStarted   = capitan.Signal("model.call.started")
	ProviderCallCompleted = capitan.Signal("model.call.completed")
	ProviderCallFailed    = capitan.Signal("model.call.failed")
	ResponseRejected      = capitan.Signal("model.response.rejected")
)

// Keys for model call fields.
var (
	ProviderKey       = capitan.NewStringKey("model.provider")
	ModelKey          = capitan.NewStringKey("model.name")
	PromptIDKey       = capitan.NewStringKey("model.prompt.id")
	HTTPStatusCodeKey = capitan.NewIntKey("model.http.status.code")
	DurationMsKey     = capitan.NewIntKey("model.duration.ms")
	TotalTokensKey    = capitan.NewIntKey("model.tokens.total")
	ErrorKey          = capitan.NewStringKey("model.error")
)

// Describe renders the model call fields an event carries.
func Describe(e *capitan.Event) string {
	var parts []string
	if v, ok := ProviderKey.From(e); ok {
		parts = append(parts, "provider="+v)
	}
	if v, ok := ModelKey.From(e); ok {
		parts = append(parts, "model="+v)
	}
	if v, ok := PromptIDKey.From(e); ok {
		parts = append(parts, "prompt="+v)
	}
	if v, ok := HTTPStatusCodeKey.From(e); ok {
		parts = append(parts, fmt.Sprintf("http=%d", v))
	}
	if v, ok := DurationMsKey.From(e); ok {
		parts = append(parts, fmt.Sprintf("ms=%d", v))
	}
	if v, ok := TotalTokensKey.From(e); ok {
		parts = append(parts, fmt.Sprintf("tokens=%d", v))
	}
	if v, ok := ErrorKey.From(e); ok {
		parts = append(parts, fmt.Sprintf("error=%q", v))
	}
	return strings.Join(parts, " ")
}
