// Package render hands a stitched composition to an external tool that
// produces the playable file.
package render

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/kingrea/dcnsuite/internal/config"
)

// ErrRender wraps every failure of the external tool.
var ErrRender = errors.New("render failed")

// Request names the documents the tool reads and the file it writes.
type Request struct {
	Composition string
	Schedule    string
	Output      string
}

// Result describes a finished render. Skipped is set when no command is configured.
type Result struct {
	Output  string
	Skipped bool
	Stdout  string
}

// NewRequest resolves the configured output name against the suite directory.
func NewRequest(suiteDir, composition, schedule string, cfg config.RenderConfig) Request {
	out := cfg.Output
	if out != "" && !filepath.IsAbs(out) {
		out = filepath.Join(suiteDir, out)
	}
	return Request{Composition: composition, Schedule: schedule, Output: out}
}

// Args substitutes the request paths into the argv template.
func Args(template []string, req Request) []string {
	r := strings.NewReplacer(
		"{composition}", req.Composition,
		"{schedule}", req.Schedule,
		"{output}", req.Output,
	)
	args := make([]string, len(template))
	for i, arg := range template {
		args[i] = r.Replace(arg)
	}
	return args
}

// Run executes the configured command. A missing command is a no-op.
func Run(ctx context.Context, cfg config.RenderConfig, req Request) (Result, error) {
	if len(cfg.Command) == 0 || strings.TrimSpace(cfg.Command[0]) == "" {
		return Result{Skipped: true}, nil
	}
	if req.Composition == "" {
		return Result{}, fmt.Errorf("%w: no composition to render", ErrRender)
	}
	args := Args(cfg.Command, req)
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			return Result{}, fmt.Errorf("%w: %s: %v", ErrRender, args[0], err)
		}
		return Result{}, fmt.Errorf("%w: %s: %v: %s", ErrRender, args[0], err, msg)
	}
	return Result{Output: req.Output, Stdout: strings.TrimSpace(stdout.String())}, nil
}
