package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/mkessler/dossier/internal/models"
	"github.com/mkessler/dossier/internal/queue"
	"github.com/mkessler/dossier/internal/webhook"
	"github.com/spf13/cobra"
)

func newRunsCmd() *cobra.Command {
	var (
		configPath string
		owner      string
		repo       string
		limit      int
	)

	cmd := &cobra.Command{
		Use:   "runs [run-id]",
		Short: "List analysis runs or show one run",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				return runShowRun(cmd, configPath, args[0])
			}
			return runListRuns(cmd, configPath, owner, repo, limit)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "dossier.yaml", "path to dossier config file")
	cmd.Flags().StringVar(&owner, "owner", "", "filter by repository owner")
	cmd.Flags().StringVar(&repo, "repo", "", "filter by repository name")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of runs to list")
	return cmd
}

func runListRuns(cmd *cobra.Command, configPath, owner, repo string, limit int) error {
	out := cmd.OutOrStdout()

	_, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}

	runs, err := queue.ListRuns(gormDB, owner, repo, limit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(out, "No runs found.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tREPO\tCOMMIT\tEVENT\tSTATUS\tCREATED")
	for _, r := range runs {
		fmt.Fprintf(w, "%s\t%s/%s\t%s\t%s\t%s\t%s\n",
			r.ID, r.Owner, r.Repo, webhook.ShortSHA(r.CommitSHA), r.Event, r.Status,
			r.CreatedAt.Format("2006-01-02 15:04"))
	}
	return w.Flush()
}

func runShowRun(cmd *cobra.Command, configPath, id string) error {
	out := cmd.OutOrStdout()

	_, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}

	run, err := queue.GetRun(gormDB, id)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "ID:        %s\n", run.ID)
	fmt.Fprintf(out, "Repo:      %s/%s\n", run.Owner, run.Repo)
	fmt.Fprintf(out, "Ref:       %s\n", run.Ref)
	fmt.Fprintf(out, "Commit:    %s\n", run.CommitSHA)
	fmt.Fprintf(out, "Event:     %s\n", run.Event)
	fmt.Fprintf(out, "Status:    %s\n", run.Status)
	if run.StartedAt != nil {
		fmt.Fprintf(out, "Started:   %s\n", run.StartedAt.Format("2006-01-02 15:04:05"))
	}
	if run.FinishedAt != nil {
		fmt.Fprintf(out, "Finished:  %s\n", run.FinishedAt.Format("2006-01-02 15:04:05"))
	}
	if run.OutputDir != "" {
		fmt.Fprintf(out, "Artifacts: %s\n", run.OutputDir)
	}
	if run.Summary != "" {
		fmt.Fprintf(out, "Summary:   %s\n", run.Summary)
	}
	if run.Error != "" {
		fmt.Fprintf(out, "Error:     %s\n", run.Error)
	}
	if run.Status == models.RunFailed {
		fmt.Fprintln(out, "\nRe-push the commit or run `dossier enqueue` to retry.")
	}
	return nil
}
