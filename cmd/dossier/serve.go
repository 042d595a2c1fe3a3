package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/mkessler/dossier/internal/api"
	"github.com/mkessler/dossier/internal/config"
	"github.com/mkessler/dossier/internal/db"
	"github.com/mkessler/dossier/internal/gh"
	"github.com/mkessler/dossier/internal/notify"
	"github.com/mkessler/dossier/internal/worker"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func newServeCmd() *cobra.Command {
	var (
		configPath string
		port       int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the webhook receiver and worker",
		Long:  "Runs the full service: the HTTP API accepting GitHub webhooks, the background worker draining the run queue, and the workspace janitor.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, configPath, port)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "dossier.yaml", "path to dossier config file")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "port to listen on (overrides config)")
	return cmd
}

func runServe(cmd *cobra.Command, configPath string, port int) error {
	out := cmd.OutOrStdout()

	cfg, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	if err := db.AutoMigrate(gormDB); err != nil {
		return err
	}
	if port > 0 {
		cfg.Server.Port = port
	}

	secrets := cfg.ResolveSecrets()
	if secrets.WebhookSecret == "" {
		secrets.WebhookSecret, err = promptSecret(out, cfg.Webhook.SecretEnv)
		if err != nil {
			return err
		}
	}
	if secrets.WebhookSecret == "" {
		return fmt.Errorf("serve: webhook secret is required (set %s)", cfg.Webhook.SecretEnv)
	}
	if secrets.GitHubToken == "" {
		fmt.Fprintf(out, "Warning: %s not set; private clones and ref resolution are disabled\n", cfg.GitHub.TokenEnv)
	}

	notifier, err := buildNotifier(cfg, secrets)
	if err != nil {
		return err
	}

	loop, err := worker.New(gormDB, worker.Opts{
		LeaseFor: cfg.Worker.LeaseFor.Std(),
		Runner: &worker.PipelineRunner{
			Token:        secrets.GitHubToken,
			WorkRoot:     cfg.Worker.WorkRoot,
			ArtifactRoot: cfg.Analyzer.ArtifactRoot,
			Binary:       cfg.Analyzer.Binary,
			Args:         cfg.Analyzer.Args,
			Timeout:      cfg.Analyzer.Timeout.Std(),
		},
		Notifier: notifier,
		Out:      out,
	})
	if err != nil {
		return err
	}
	if err := loop.Start(cfg.Worker.PollInterval.Std()); err != nil {
		return err
	}
	defer loop.Stop()

	janitor, err := worker.StartJanitor(cfg.Worker.SweepSchedule, cfg.Worker.WorkRoot, cfg.Worker.SweepMaxAge.Std(), out)
	if err != nil {
		return err
	}
	defer janitor.Stop()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var resolver api.RefResolver
	if secrets.GitHubToken != "" {
		resolver = gh.NewClient(ctx, secrets.GitHubToken)
	}

	return api.Start(ctx, api.Opts{
		DB:            gormDB,
		Port:          cfg.Server.Port,
		WebhookSecret: secrets.WebhookSecret,
		DedupWindow:   cfg.Worker.DedupWindow.Std(),
		MaxAttempts:   cfg.Worker.MaxAttempts,
		Resolver:      resolver,
		Ticker:        loop,
		Out:           out,
	})
}

// promptSecret asks for the webhook secret on the terminal when the
// environment variable is unset. Input is not echoed. Returns empty
// without error when stdin is not a terminal.
func promptSecret(out io.Writer, envName string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", nil
	}
	fmt.Fprintf(out, "%s is not set. Webhook secret: ", envName)
	raw, err := term.ReadPassword(fd)
	fmt.Fprintln(out)
	if err != nil {
		return "", fmt.Errorf("serve: read secret: %w", err)
	}
	return strings.TrimSpace(string(raw)), nil
}

// buildNotifier assembles the configured notification fan-out. Returns
// nil when nothing is configured.
func buildNotifier(cfg *config.Config, secrets config.Secrets) (notify.Notifier, error) {
	var multi notify.Multi
	if cfg.Notify.SlackWebhookURL != "" {
		slack, err := notify.NewSlack(cfg.Notify.SlackWebhookURL)
		if err != nil {
			return nil, err
		}
		multi = append(multi, slack)
	}
	if cfg.Notify.DiscordChannel != "" {
		if secrets.DiscordToken == "" {
			return nil, fmt.Errorf("serve: discord notifications configured but %s is not set", cfg.Notify.DiscordTokenEnv)
		}
		discord, err := notify.NewDiscord(secrets.DiscordToken, cfg.Notify.DiscordChannel)
		if err != nil {
			return nil, err
		}
		multi = append(multi, discord)
	}
	if len(multi) == 0 {
		return nil, nil
	}
	return multi, nil
}
