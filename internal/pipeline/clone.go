// Package pipeline executes one analysis attempt: a commit-pinned
// shallow clone, the external analyzer process, and result
// summarization.
package pipeline

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// CloneURL builds the https clone URL, embedding the token as an
// access-token credential when one is available. Strings derived from
// this URL must pass through Redact before being logged or stored.
func CloneURL(owner, repo, token string) string {
	if token == "" {
		return fmt.Sprintf("https://github.com/%s/%s.git", owner, repo)
	}
	return fmt.Sprintf("https://x-access-token:%s@github.com/%s/%s.git", token, owner, repo)
}

// Clone materializes the repository at the pinned commit under dir:
// depth-1 clone, then a targeted fetch of the commit (a shallow
// default-branch clone may not contain it), then a detached checkout.
func Clone(ctx context.Context, dir, owner, repo, sha, token string) error {
	if owner == "" || repo == "" {
		return fmt.Errorf("pipeline: owner and repo are required")
	}
	if sha == "" {
		return fmt.Errorf("pipeline: commit SHA is required")
	}

	url := CloneURL(owner, repo, token)
	if err := runGit(ctx, "", "clone", "--depth", "1", url, dir); err != nil {
		return err
	}

	// Tolerated failure: the commit may already be inside the shallow
	// clone, in which case the checkout below succeeds anyway.
	fetchErr := runGit(ctx, dir, "fetch", "--depth", "1", "origin", sha)

	if err := runGit(ctx, dir, "checkout", "--detach", sha); err != nil {
		if fetchErr != nil {
			return fmt.Errorf("pipeline: commit %s not reachable: %w", sha, fetchErr)
		}
		return err
	}
	return nil
}

// runGit runs a git subcommand, reporting trimmed, credential-scrubbed
// combined output on failure.
func runGit(ctx context.Context, dir string, args ...string) error {
	cmd := exec.CommandContext(ctx, "git", args...)
	if dir != "" {
		cmd.Dir = dir
	}
	out, err := cmd.CombinedOutput()
	if err != nil {
		detail := Redact(strings.TrimSpace(string(out)))
		if detail == "" {
			detail = err.Error()
		}
		return fmt.Errorf("pipeline: git %s: %s", args[0], detail)
	}
	return nil
}
