// Package window builds the bounded context shown to the model for each unit.
//
// Build is a pure function of its inputs so that a resumed suite sees exactly
// the context an uninterrupted run would have produced.
package window

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"
)

// Policy selects and bounds prior bundles.
type Policy struct {
	// Last keeps only the most recent N bundles. Zero keeps all.
	Last int
	// MaxChars caps the rendered payload in characters. Zero disables the cap.
	MaxChars int
}

// Entry is the raw model bundle of one completed unit.
type Entry struct {
	Index    int
	PromptID string
	Bundle   string
}

// Payload is the rendered context for one generation call.
type Payload struct {
	Text      string `json:"text"`
	Included  []int  `json:"included"`
	Truncated bool   `json:"truncated,omitempty"`
}

// Empty reports whether no prior unit made it into the payload.
func (p Payload) Empty() bool {
	return p.Text == ""
}

// Build renders the context for unit current from completed entries.
// Entries at or after current are never included. When the rendered text
// exceeds MaxChars the oldest entries are dropped first. A single remaining
// entry loses its header when only the bundle fits, and is cut to its leading
// MaxChars characters when even the bundle does not.
func Build(entries []Entry, current int, policy Policy) Payload {
	eligible := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if e.Index < current {
			eligible = append(eligible, e)
		}
	}
	sort.SliceStable(eligible, func(i, j int) bool { return eligible[i].Index < eligible[j].Index })
	if policy.Last > 0 && len(eligible) > policy.Last {
		eligible = eligible[len(eligible)-policy.Last:]
	}
	if len(eligible) == 0 {
		return Payload{}
	}

	rendered := make([]string, len(eligible))
	for i, e := range eligible {
		rendered[i] = render(e)
	}

	start := 0
	for policy.MaxChars > 0 && start < len(rendered)-1 && length(rendered[start:]) > policy.MaxChars {
		start++
	}

	payload := Payload{Included: make([]int, 0, len(eligible)-start)}
	for _, e := range eligible[start:] {
		payload.Included = append(payload.Included, e.Index)
	}
	payload.Text = strings.Join(rendered[start:], separator)
	if policy.MaxChars > 0 && utf8.RuneCountInString(payload.Text) > policy.MaxChars {
		bundle := strings.TrimSpace(eligible[start].Bundle)
		if utf8.RuneCountInString(bundle) <= policy.MaxChars {
			payload.Text = bundle
		} else {
			payload.Text = string([]rune(bundle)[:policy.MaxChars])
			payload.Truncated = true
		}
	}
	return payload
}

const separator = "\n"

func header(e Entry) string {
	return fmt.Sprintf("### unit %d (%s)\n", e.Index, e.PromptID)
}

func render(e Entry) string {
	return header(e) + strings.TrimSpace(e.Bundle) + "\n"
}

func length(parts []string) int {
	n := 0
	for _, p := range parts {
		n += utf8.RuneCountInString(p)
	}
	return n + len(separator)*(len(parts)-1)
}
