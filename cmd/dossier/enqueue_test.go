package main

import (
	"strings"
	"testing"
)

func TestEnqueueCmd_WithSHA(t *testing.T) {
	cfgPath := writeTestConfig(t)
	if _, err := runCmd(t, "db", "init", "--config", cfgPath); err != nil {
		t.Fatalf("db init failed: %v", err)
	}

	out, err := runCmd(t, "enqueue", "--config", cfgPath,
		"--owner", "acme", "--repo", "widgets",
		"--sha", "abc123abc123abc123abc123abc123abc123abc1")
	if err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	if !strings.Contains(out, "Enqueued run") {
		t.Errorf("expected enqueue confirmation, got: %s", out)
	}
	if !strings.Contains(out, "acme/widgets@abc123abc123") {
		t.Errorf("expected repo coordinate, got: %s", out)
	}
}

func TestEnqueueCmd_DuplicateReported(t *testing.T) {
	cfgPath := writeTestConfig(t)
	if _, err := runCmd(t, "db", "init", "--config", cfgPath); err != nil {
		t.Fatalf("db init failed: %v", err)
	}

	args := []string{"enqueue", "--config", cfgPath,
		"--owner", "acme", "--repo", "widgets",
		"--sha", "abc123abc123abc123abc123abc123abc123abc1"}
	if _, err := runCmd(t, args...); err != nil {
		t.Fatalf("first enqueue failed: %v", err)
	}
	out, err := runCmd(t, args...)
	if err != nil {
		t.Fatalf("second enqueue failed: %v", err)
	}
	if !strings.Contains(out, "already covers") {
		t.Errorf("expected dedup message, got: %s", out)
	}
}

func TestEnqueueCmd_RequiresOwnerRepo(t *testing.T) {
	cfgPath := writeTestConfig(t)
	if _, err := runCmd(t, "enqueue", "--config", cfgPath, "--sha", "abc"); err == nil {
		t.Error("expected error for missing required flags")
	}
}

func TestEnqueueCmd_NoSHANoToken(t *testing.T) {
	cfgPath := writeTestConfig(t)
	t.Setenv("GITHUB_TOKEN", "")

	_, err := runCmd(t, "enqueue", "--config", cfgPath, "--owner", "acme", "--repo", "widgets")
	if err == nil {
		t.Fatal("expected error when neither --sha nor token is available")
	}
	if !strings.Contains(err.Error(), "--sha is required") {
		t.Errorf("error = %q, want sha requirement", err)
	}
}
