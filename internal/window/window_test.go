package window

import (
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"
)

func entries(n int) []Entry {
	out := make([]Entry, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, Entry{Index: i, PromptID: fmt.Sprintf("%03d", i+1), Bundle: fmt.Sprintf(`{"summary":"unit %d"}`, i)})
	}
	return out
}

func TestBuildExcludesCurrentAndLaterUnits(t *testing.T) {
	p := Build(entries(5), 2, Policy{})
	if fmt.Sprint(p.Included) != "[0 1]" {
		t.Fatalf("expected units 0 and 1, got %v", p.Included)
	}
	if strings.Contains(p.Text, "unit 2") || strings.Contains(p.Text, "unit 3") {
		t.Fatalf("payload leaked a later unit: %q", p.Text)
	}
}

func TestBuildLastNKeepsMostRecent(t *testing.T) {
	shuffled := []Entry{entries(4)[3], entries(4)[0], entries(4)[2], entries(4)[1]}
	p := Build(shuffled, 4, Policy{Last: 2})
	if fmt.Sprint(p.Included) != "[2 3]" {
		t.Fatalf("expected most recent two in order, got %v", p.Included)
	}
	if strings.Index(p.Text, "unit 2") > strings.Index(p.Text, "unit 3") {
		t.Fatalf("expected original order in payload")
	}
}

func TestBuildFirstUnitIsEmpty(t *testing.T) {
	if p := Build(entries(3), 0, Policy{}); !p.Empty() || len(p.Included) != 0 {
		t.Fatalf("expected empty payload for unit 0, got %+v", p)
	}
}

func TestBuildDropsOldestUnderBudget(t *testing.T) {
	all := entries(4)
	last := render(all[3])
	budget := utf8.RuneCountInString(last) + utf8.RuneCountInString(render(all[2])) + len(separator)
	p := Build(all, 4, Policy{MaxChars: budget})
	if fmt.Sprint(p.Included) != "[2 3]" {
		t.Fatalf("expected oldest dropped, got %v", p.Included)
	}
	if p.Truncated {
		t.Fatalf("did not expect truncation")
	}
}

func TestBuildNeverExceedsBudget(t *testing.T) {
	all := entries(6)
	for budget := 1; budget < 200; budget++ {
		p := Build(all, 6, Policy{MaxChars: budget})
		if n := utf8.RuneCountInString(p.Text); n > budget {
			t.Fatalf("budget %d exceeded: %d", budget, n)
		}
		if budget >= utf8.RuneCountInString(render(all[5])) {
			if !strings.Contains(p.Text, render(all[5])) {
				t.Fatalf("budget %d: most recent bundle missing", budget)
			}
		}
		if budget >= utf8.RuneCountInString(all[5].Bundle) {
			if !strings.Contains(p.Text, all[5].Bundle) || p.Truncated {
				t.Fatalf("budget %d: most recent bundle cut: %q", budget, p.Text)
			}
		}
	}
}

func TestBuildTruncatesSingleBundleRuneSafe(t *testing.T) {
	e := []Entry{{Index: 0, PromptID: "001", Bundle: strings.Repeat("é", 100)}}
	p := Build(e, 1, Policy{MaxChars: 40})
	if !p.Truncated || p.Text != strings.Repeat("é", 40) || !utf8.ValidString(p.Text) {
		t.Fatalf("expected 40 leading runes, got %d (%v)", utf8.RuneCountInString(p.Text), p.Truncated)
	}
	if fmt.Sprint(p.Included) != "[0]" {
		t.Fatalf("expected truncated unit to stay included, got %v", p.Included)
	}

	p = Build(e, 1, Policy{MaxChars: 5})
	if p.Text != strings.Repeat("é", 5) {
		t.Fatalf("expected bundle prefix when the header does not fit, got %q", p.Text)
	}
}

func TestBuildKeepsBundleThatFitsWithoutHeader(t *testing.T) {
	cases := []struct {
		bundle string
		budget int
	}{
		{`{"summary":"x"}`, 15},
		{"{}", 10},
		{"{}", 2},
	}
	for _, tc := range cases {
		p := Build([]Entry{{Index: 0, PromptID: "001", Bundle: tc.bundle}}, 1, Policy{MaxChars: tc.budget})
		if p.Text != tc.bundle || p.Truncated {
			t.Fatalf("budget %d: expected whole bundle %q, got %q", tc.budget, tc.bundle, p.Text)
		}
		if fmt.Sprint(p.Included) != "[0]" {
			t.Fatalf("budget %d: expected unit 0 included, got %v", tc.budget, p.Included)
		}
	}

	older := Entry{Index: 0, PromptID: "001", Bundle: strings.Repeat("a", 30)}
	recent := Entry{Index: 1, PromptID: "002", Bundle: `{"summary":"y"}`}
	p := Build([]Entry{older, recent}, 2, Policy{MaxChars: 15})
	if p.Text != recent.Bundle || fmt.Sprint(p.Included) != "[1]" {
		t.Fatalf("expected only the most recent bundle, got %q %v", p.Text, p.Included)
	}
}

func TestBuildIsDeterministic(t *testing.T) {
	a := Build(entries(5), 5, Policy{Last: 3, MaxChars: 90})
	b := Build(entries(5), 5, Policy{Last: 3, MaxChars: 90})
	if a.Text != b.Text || fmt.Sprint(a.Included) != fmt.Sprint(b.Included) {
		t.Fatalf("expected identical payloads")
	}
}
