package main

import (
	"fmt"

	"github.com/mkessler/dossier/internal/gh"
	"github.com/mkessler/dossier/internal/queue"
	"github.com/mkessler/dossier/internal/webhook"
	"github.com/spf13/cobra"
)

func newEnqueueCmd() *cobra.Command {
	var (
		configPath string
		owner      string
		repo       string
		ref        string
		sha        string
	)

	cmd := &cobra.Command{
		Use:   "enqueue",
		Short: "Enqueue an analysis run directly",
		Long:  "Inserts a run into the queue without going through the webhook. When --sha is omitted, --ref is resolved through the GitHub API using the configured token.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEnqueue(cmd, configPath, owner, repo, ref, sha)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "dossier.yaml", "path to dossier config file")
	cmd.Flags().StringVar(&owner, "owner", "", "repository owner (required)")
	cmd.Flags().StringVar(&repo, "repo", "", "repository name (required)")
	cmd.Flags().StringVar(&ref, "ref", "main", "branch, tag, or ref to analyze")
	cmd.Flags().StringVar(&sha, "sha", "", "exact commit SHA (skips ref resolution)")
	cmd.MarkFlagRequired("owner")
	cmd.MarkFlagRequired("repo")
	return cmd
}

func runEnqueue(cmd *cobra.Command, configPath, owner, repo, ref, sha string) error {
	out := cmd.OutOrStdout()

	cfg, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}

	if sha == "" {
		secrets := cfg.ResolveSecrets()
		if secrets.GitHubToken == "" {
			return fmt.Errorf("enqueue: --sha is required when %s is not set", cfg.GitHub.TokenEnv)
		}
		ctx := cmd.Context()
		client := gh.NewClient(ctx, secrets.GitHubToken)
		sha, err = client.ResolveRef(ctx, owner, repo, ref)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Resolved %s to %s\n", ref, webhook.ShortSHA(sha))
	}

	run, created, err := queue.Enqueue(gormDB, queue.EnqueueOpts{
		Owner:       owner,
		Repo:        repo,
		Ref:         ref,
		CommitSHA:   sha,
		Event:       "manual",
		DedupWindow: cfg.Worker.DedupWindow.Std(),
		MaxAttempts: cfg.Worker.MaxAttempts,
	})
	if err != nil {
		return err
	}

	if created {
		fmt.Fprintf(out, "Enqueued run %s for %s/%s@%s\n", run.ID, owner, repo, webhook.ShortSHA(sha))
	} else {
		fmt.Fprintf(out, "Run %s already covers %s/%s@%s (status: %s)\n", run.ID, owner, repo, webhook.ShortSHA(sha), run.Status)
	}
	return nil
}
