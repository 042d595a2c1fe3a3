// Package config provides YAML-based configuration loading for the
// dossier CI service.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults for the queue core.
const (
	DefaultPollInterval    = 5 * time.Second
	DefaultLeaseFor        = 5 * time.Minute
	DefaultDedupWindow     = 6 * time.Hour
	DefaultAnalyzerTimeout = 10 * time.Minute
	DefaultMaxAttempts     = 3
)

// Config is the top-level service configuration, loaded from dossier.yaml.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Webhook  WebhookConfig  `yaml:"webhook"`
	GitHub   GitHubConfig   `yaml:"github"`
	Analyzer AnalyzerConfig `yaml:"analyzer"`
	Worker   WorkerConfig   `yaml:"worker"`
	Notify   NotifyConfig   `yaml:"notify"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// DatabaseConfig selects and configures the backing store. Driver is
// "sqlite" (Path) or "mysql" (Host/Port/Name/User).
type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`
	Host   string `yaml:"host"`
	Port   int    `yaml:"port"`
	Name   string `yaml:"name"`
	User   string `yaml:"user"`
}

// WebhookConfig names the environment variable holding the shared
// webhook secret. The secret itself never lives in the config file.
type WebhookConfig struct {
	SecretEnv string `yaml:"secret_env"`
}

// GitHubConfig names the environment variable holding the API/clone token.
type GitHubConfig struct {
	TokenEnv string `yaml:"token_env"`
}

// AnalyzerConfig describes the external analyzer process.
type AnalyzerConfig struct {
	Binary       string   `yaml:"binary"`
	Args         []string `yaml:"args"`
	Timeout      Duration `yaml:"timeout"`
	ArtifactRoot string   `yaml:"artifact_root"`
}

// WorkerConfig tunes the claim-and-process loop.
type WorkerConfig struct {
	PollInterval  Duration `yaml:"poll_interval"`
	LeaseFor      Duration `yaml:"lease_for"`
	MaxAttempts   int      `yaml:"max_attempts"`
	DedupWindow   Duration `yaml:"dedup_window"`
	WorkRoot      string   `yaml:"work_root"`
	SweepSchedule string   `yaml:"sweep_schedule"`
	SweepMaxAge   Duration `yaml:"sweep_max_age"`
}

// NotifyConfig configures optional terminal-run notifications.
type NotifyConfig struct {
	SlackWebhookURL string `yaml:"slack_webhook_url"`
	DiscordTokenEnv string `yaml:"discord_token_env"`
	DiscordChannel  string `yaml:"discord_channel"`
}

// Duration wraps time.Duration so YAML values like "5m" parse directly.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return fmt.Errorf("config: duration must be a string like \"5m\": %w", err)
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("config: parse duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Load reads a YAML config file from path and returns a validated Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse unmarshals YAML bytes into a validated Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a Config with all defaults applied and no file input.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if c.Database.Path == "" {
		c.Database.Path = "dossier.db"
	}
	if c.Database.Host == "" {
		c.Database.Host = "127.0.0.1"
	}
	if c.Database.Port == 0 {
		c.Database.Port = 3306
	}
	if c.Database.Name == "" {
		c.Database.Name = "dossier"
	}
	if c.Database.User == "" {
		c.Database.User = "root"
	}
	if c.Webhook.SecretEnv == "" {
		c.Webhook.SecretEnv = "DOSSIER_WEBHOOK_SECRET"
	}
	if c.GitHub.TokenEnv == "" {
		c.GitHub.TokenEnv = "GITHUB_TOKEN"
	}
	if c.Analyzer.Binary == "" {
		c.Analyzer.Binary = "dossier-analyzer"
	}
	if c.Analyzer.Timeout == 0 {
		c.Analyzer.Timeout = Duration(DefaultAnalyzerTimeout)
	}
	if c.Analyzer.ArtifactRoot == "" {
		c.Analyzer.ArtifactRoot = "artifacts"
	}
	if c.Worker.PollInterval == 0 {
		c.Worker.PollInterval = Duration(DefaultPollInterval)
	}
	if c.Worker.LeaseFor == 0 {
		c.Worker.LeaseFor = Duration(DefaultLeaseFor)
	}
	if c.Worker.MaxAttempts == 0 {
		c.Worker.MaxAttempts = DefaultMaxAttempts
	}
	if c.Worker.DedupWindow == 0 {
		c.Worker.DedupWindow = Duration(DefaultDedupWindow)
	}
	if c.Worker.WorkRoot == "" {
		c.Worker.WorkRoot = os.TempDir()
	}
	if c.Worker.SweepSchedule == "" {
		c.Worker.SweepSchedule = "*/30 * * * *"
	}
	if c.Worker.SweepMaxAge == 0 {
		c.Worker.SweepMaxAge = Duration(2 * time.Hour)
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	switch c.Database.Driver {
	case "sqlite", "mysql":
	default:
		errs = append(errs, fmt.Sprintf("database.driver must be sqlite or mysql, got %q", c.Database.Driver))
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server.port %d out of range", c.Server.Port))
	}
	if c.Worker.MaxAttempts < 1 {
		errs = append(errs, "worker.max_attempts must be at least 1")
	}
	if c.Notify.DiscordChannel != "" && c.Notify.DiscordTokenEnv == "" {
		errs = append(errs, "notify.discord_channel requires notify.discord_token_env")
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Secrets holds values resolved from the environment at startup.
type Secrets struct {
	WebhookSecret string
	GitHubToken   string
	DiscordToken  string
}

// ResolveSecrets reads the configured environment variables. Missing
// variables resolve to empty strings; callers decide whether a given
// secret is required for the feature they enable.
func (c *Config) ResolveSecrets() Secrets {
	s := Secrets{
		WebhookSecret: os.Getenv(c.Webhook.SecretEnv),
		GitHubToken:   os.Getenv(c.GitHub.TokenEnv),
	}
	if c.Notify.DiscordTokenEnv != "" {
		s.DiscordToken = os.Getenv(c.Notify.DiscordTokenEnv)
	}
	return s
}
