package dcn

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestPreviewCutsOnRuneBoundary(t *testing.T) {
	body := []byte(strings.Repeat("é", 400))
	got := preview(body, 300)
	if !utf8.ValidString(got) {
		t.Fatalf("preview split a rune: %q", got)
	}
	if got != strings.Repeat("é", 300)+"..." {
		t.Fatalf("expected 300 characters plus ellipsis, got %d runes", utf8.RuneCountInString(got))
	}
	if got := preview([]byte(" short\nbody "), 300); got != "short body" {
		t.Fatalf("unexpected short preview %q", got)
	}
}
