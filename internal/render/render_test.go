package render

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"runtime"
	"testing"

	"github.com/kingrea/dcnsuite/internal/config"
)

func TestArgsSubstitutesPlaceholders(t *testing.T) {
	req := Request{Composition: "/s/composition.json", Schedule: "/s/schedule.json", Output: "/s/out.mid"}
	got := Args([]string{"dcn-render", "--in={composition}", "{schedule}", "-o", "{output}"}, req)
	want := []string{"dcn-render", "--in=/s/composition.json", "/s/schedule.json", "-o", "/s/out.mid"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected args %v", got)
	}
}

func TestNewRequestResolvesRelativeOutput(t *testing.T) {
	req := NewRequest("/suite", "c.json", "s.json", config.RenderConfig{Output: "composition.mid"})
	if req.Output != filepath.Join("/suite", "composition.mid") {
		t.Fatalf("unexpected output %q", req.Output)
	}
	req = NewRequest("/suite", "c.json", "s.json", config.RenderConfig{Output: "/abs/out.mid"})
	if req.Output != "/abs/out.mid" {
		t.Fatalf("absolute output should be kept, got %q", req.Output)
	}
}

func TestRunWithoutCommandIsNoOp(t *testing.T) {
	res, err := Run(context.Background(), config.RenderConfig{}, Request{})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !res.Skipped {
		t.Fatalf("expected skipped result")
	}
}

func TestRunWritesOutput(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("needs a POSIX shell")
	}
	dir := t.TempDir()
	comp := filepath.Join(dir, "composition.json")
	if err := os.WriteFile(comp, []byte(`{"notes":[]}`), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg := config.RenderConfig{Command: []string{"sh", "-c", `cp "$1" "$2"`, "render", "{composition}", "{output}"}, Output: "out.mid"}
	res, err := Run(context.Background(), cfg, NewRequest(dir, comp, "", cfg))
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	data, err := os.ReadFile(res.Output)
	if err != nil {
		t.Fatalf("expected output file: %v", err)
	}
	if string(data) != `{"notes":[]}` {
		t.Fatalf("unexpected output %q", data)
	}
}

func TestRunReportsFailure(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("needs a POSIX shell")
	}
	cfg := config.RenderConfig{Command: []string{"sh", "-c", "echo broken >&2; exit 3"}}
	_, err := Run(context.Background(), cfg, Request{Composition: "c.json"})
	if !errors.Is(err, ErrRender) {
		t.Fatalf("expected ErrRender, got %v", err)
	}
}
