package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// WorkdirPrefix names the per-attempt temporary clone directories so
// the janitor sweep can recognize leftovers.
const WorkdirPrefix = "dossier-run-"

// ExecuteOpts holds parameters for one full analysis attempt.
type ExecuteOpts struct {
	Owner        string
	Repo         string
	CommitSHA    string
	RunID        string
	Token        string
	WorkRoot     string
	ArtifactRoot string
	Binary       string
	Args         []string
	Timeout      time.Duration
}

// Result is the outcome of a successful attempt.
type Result struct {
	OutputDir string
	Summary   *Summary
}

// Execute performs one analysis attempt: clone the pinned commit into a
// private temporary directory, run the analyzer into the run's artifact
// directory, then summarize. The clone directory is removed on every
// exit path; the artifact directory is the persisted output and stays.
func Execute(ctx context.Context, opts ExecuteOpts) (*Result, error) {
	if opts.RunID == "" {
		return nil, fmt.Errorf("pipeline: run ID is required")
	}

	workdir, err := os.MkdirTemp(opts.WorkRoot, WorkdirPrefix)
	if err != nil {
		return nil, fmt.Errorf("pipeline: create workdir: %w", err)
	}
	defer os.RemoveAll(workdir)

	outDir := filepath.Join(opts.ArtifactRoot, opts.RunID)
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("pipeline: create artifact dir: %w", err)
	}

	repoDir := filepath.Join(workdir, "src")
	if err := Clone(ctx, repoDir, opts.Owner, opts.Repo, opts.CommitSHA, opts.Token); err != nil {
		return nil, err
	}

	if err := RunAnalyzer(ctx, AnalyzerOpts{
		Binary:  opts.Binary,
		Args:    opts.Args,
		RepoDir: repoDir,
		OutDir:  outDir,
		Timeout: opts.Timeout,
	}); err != nil {
		return nil, err
	}

	summary, _ := ParseResult(outDir)
	return &Result{OutputDir: outDir, Summary: summary}, nil
}
