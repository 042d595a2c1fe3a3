package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"syscall"
	"time"
)

// killDelay is how long the analyzer gets to exit after SIGTERM before
// it is killed outright.
const killDelay = 10 * time.Second

// outputTail caps how much analyzer output is kept for error messages.
const outputTail = 2048

// AnalyzerOpts holds parameters for one analyzer invocation.
type AnalyzerOpts struct {
	Binary  string
	Args    []string
	RepoDir string
	OutDir  string
	Timeout time.Duration
}

// RunAnalyzer invokes the external analyzer against a checked-out tree,
// writing into OutDir, under a hard wall-clock timeout. On timeout the
// process is terminated (SIGTERM, then SIGKILL after killDelay) and the
// returned error says so.
func RunAnalyzer(ctx context.Context, opts AnalyzerOpts) error {
	if opts.Binary == "" {
		return fmt.Errorf("pipeline: analyzer binary is required")
	}
	if opts.RepoDir == "" || opts.OutDir == "" {
		return fmt.Errorf("pipeline: repo and output directories are required")
	}
	if opts.Timeout <= 0 {
		return fmt.Errorf("pipeline: analyzer timeout must be positive")
	}

	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	args := append(append([]string{}, opts.Args...), opts.RepoDir, opts.OutDir)
	cmd := exec.CommandContext(ctx, opts.Binary, args...)
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = killDelay

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("pipeline: analyzer timed out after %s", opts.Timeout)
	}
	if err != nil {
		return fmt.Errorf("pipeline: analyzer: %v: %s", err, tail(out.String()))
	}
	return nil
}

// tail returns the trimmed last portion of analyzer output.
func tail(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > outputTail {
		s = s[len(s)-outputTail:]
	}
	return s
}
