// Package runner implements the pipeline's single dry-run-aware external
// command invocation primitive: every probe/encode/tag call funnels through
// here so that --dry-run logs and no-ops mutating commands while reads
// proceed normally. Filesystem operations performed by the stages (copies,
// moves, chmods, removals) do not go through the runner and are carried
// out even under --dry-run.
package runner

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/rodaddy/audiobook-pipeline/internal/logger"
)

// Result is what a single external-tool invocation produced.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
}

// Runner wraps os/exec invocations with stderr capture, exit-code
// extraction, and a DryRun mode that logs the command line instead of
// running it.
type Runner struct {
	DryRun bool
}

// New returns a Runner. dryRun mirrors the --dry-run / DRY_RUN flag.
func New(dryRun bool) *Runner {
	return &Runner{DryRun: dryRun}
}

// Run executes name with args, capturing stdout/stderr, and returns once
// the process exits. In dry-run mode it logs the command line and returns
// a zero Result without starting a process — callers that need real output
// in dry-run (e.g. probes that feed decisions) should not route through
// dry-run mode; Run is meant for mutating invocations (encode, tag).
func (r *Runner) Run(ctx context.Context, name string, args ...string) (Result, error) {
	log := logger.FromContext(ctx)
	cmdline := name + " " + strings.Join(args, " ")

	if r.DryRun {
		log.Info().Str("command", cmdline).Msg("dry-run: skipping external command")
		return Result{}, nil
	}

	start := time.Now()
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	log.Debug().Str("command", cmdline).Msg("running external command")
	err := cmd.Run()
	res := Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	if err == nil {
		res.ExitCode = 0
		return res, nil
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		res.ExitCode = exitErr.ExitCode()
		return res, fmt.Errorf("%s: exit %d: %s", name, res.ExitCode, firstLine(res.Stderr))
	}
	res.ExitCode = -1
	return res, fmt.Errorf("%s: %w", name, err)
}

// RunWithStdin is Run, but pipes stdin into the process — used by the
// tagger when chapter timestamps are passed as a line-oriented stream
// rather than a flag value.
func (r *Runner) RunWithStdin(ctx context.Context, stdin string, name string, args ...string) (Result, error) {
	log := logger.FromContext(ctx)
	cmdline := name + " " + strings.Join(args, " ")

	if r.DryRun {
		log.Info().Str("command", cmdline).Msg("dry-run: skipping external command")
		return Result{}, nil
	}

	start := time.Now()
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdin = strings.NewReader(stdin)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	log.Debug().Str("command", cmdline).Msg("running external command")
	err := cmd.Run()
	res := Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	if err == nil {
		res.ExitCode = 0
		return res, nil
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		res.ExitCode = exitErr.ExitCode()
		return res, fmt.Errorf("%s: exit %d: %s", name, res.ExitCode, firstLine(res.Stderr))
	}
	res.ExitCode = -1
	return res, fmt.Errorf("%s: %w", name, err)
}

// RunRead always executes for real regardless of DryRun — read-only probes
// must see the actual filesystem/tool state even in dry-run mode, per
// the pipeline contract ("reads proceed normally").
func (r *Runner) RunRead(ctx context.Context, name string, args ...string) (Result, error) {
	real := &Runner{DryRun: false}
	return real.Run(ctx, name, args...)
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
