package generate

import (
	"fmt"
	"strings"

	"github.com/kingrea/dcnsuite/internal/config"
	"github.com/kingrea/dcnsuite/internal/dcn"
	"github.com/kingrea/dcnsuite/internal/prompts"
	"github.com/kingrea/dcnsuite/internal/window"
)

// Prompt is the system/user message pair sent to the model.
type Prompt struct {
	System string
	User   string
}

const systemPrompt = `You design short musical units as generative features.
Answer with a single JSON object that matches the schema exactly. Do not add prose or code fences.
Each dimension drives one scalar stream (time, duration, pitch, velocity, numerator, denominator)
using only these transformations: %s.
Keep pitches inside the chosen instrument's range and keep the unit's meter.`

// BuildPrompt renders the request for one unit.
func BuildPrompt(unit prompts.Unit, history window.Payload, instruments []config.Instrument, schema string) Prompt {
	var b strings.Builder
	b.WriteString("Instruments:\n")
	for _, inst := range instruments {
		b.WriteString(inst.SummaryLine())
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "\nMeter: %s (%d ticks per bar, 1 tick = 1/16 note)\n", unit.Meter, unit.BarTicks)
	if !history.Empty() {
		b.WriteString("\nPrevious units, oldest first:\n")
		b.WriteString(history.Text)
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "\nUnit %d (%s):\n%s\n", unit.Index, unit.ID, unit.Text)
	b.WriteString("\nJSON schema:\n")
	b.WriteString(schema)
	b.WriteString("\n")

	return Prompt{
		System: fmt.Sprintf(systemPrompt, strings.Join(dcn.RequiredNames(), ", ")),
		User:   b.String(),
	}
}
