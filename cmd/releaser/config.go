package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/artpar/releaser/internal/core/domain"
	"github.com/artpar/releaser/internal/core/environment"
	"github.com/artpar/releaser/internal/shell/console"
	"github.com/artpar/releaser/internal/shell/orchestrator"
)

// =============================================================================
// Config Types
// =============================================================================

// Config holds all application configuration.
type Config struct {
	// Server names this deployment host in notifications and templates.
	Server       string `mapstructure:"server"`
	Orchestrator string `mapstructure:"orchestrator"`

	// DataDir holds builds.json and the lock markers.
	DataDir string `mapstructure:"data_dir"`
	// AppsDir holds one settings directory per build. Defaults to <data_dir>/apps.
	AppsDir string `mapstructure:"apps_dir"`

	Deployer string `mapstructure:"deployer"`
	LogMail  string `mapstructure:"log_mail"`

	Log         LogConfig         `mapstructure:"log"`
	GitLab      GitLabConfig      `mapstructure:"gitlab"`
	SMTP        SMTPConfig        `mapstructure:"smtp"`
	Docker      DockerConfig      `mapstructure:"docker"`
	Remote      RemoteConfig      `mapstructure:"remote"`
	Compose     ComposeConfig     `mapstructure:"compose"`
	Layout      LayoutConfig      `mapstructure:"layout"`
	Lock        LockConfig        `mapstructure:"lock"`
	Environment EnvironmentConfig `mapstructure:"environment"`
	Checkout    CheckoutConfig    `mapstructure:"checkout"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`

	// Drain is the wait between removing and redeploying a cluster stack.
	Drain time.Duration `mapstructure:"drain"`
}

// BuildsFile returns the path of the builds configuration.
func (c *Config) BuildsFile() string {
	return filepath.Join(c.DataDir, "builds.json")
}

// LockDir returns the directory of the lock markers.
func (c *Config) LockDir() string {
	return filepath.Join(c.DataDir, ".lock")
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level string `mapstructure:"level"`
	// Format is console (operator transcript), json or text.
	Format string `mapstructure:"format"`
}

// GitLabConfig holds source hosting configuration.
type GitLabConfig struct {
	URL     string        `mapstructure:"url"`
	Token   string        `mapstructure:"token"`
	Timeout time.Duration `mapstructure:"timeout"`
	// Retries of rate-limited or failed API calls; 0 disables them.
	Retries int `mapstructure:"retries"`
}

// SMTPConfig holds outbound mail configuration.
type SMTPConfig struct {
	Host   string   `mapstructure:"host"`
	Port   int      `mapstructure:"port"`
	User   string   `mapstructure:"user"`
	Pass   string   `mapstructure:"pass"`
	Secure bool     `mapstructure:"secure"`
	From   string   `mapstructure:"from"`
	CC     []string `mapstructure:"cc"`
}

// DockerConfig holds Docker client configuration.
type DockerConfig struct {
	Host string `mapstructure:"host"`
}

// RemoteConfig holds the pre-flight SSH check. Disabled when Host is empty.
type RemoteConfig struct {
	Host       string        `mapstructure:"host"`
	Port       int           `mapstructure:"port"`
	User       string        `mapstructure:"user"`
	KeyFile    string        `mapstructure:"key_file"`
	KnownHosts string        `mapstructure:"known_hosts"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// ComposeConfig selects how descriptors are rendered.
type ComposeConfig struct {
	// Command is the compose invocation prefix.
	Command string `mapstructure:"command"`
	// Renderer is native (compose-go in process) or cli (compose config).
	Renderer string `mapstructure:"renderer"`
}

// LayoutConfig describes the checkout layout.
type LayoutConfig struct {
	MetadataDir string `mapstructure:"metadata_dir"`
}

// LockConfig holds the unattended lock settings.
type LockConfig struct {
	DeployMinutes int `mapstructure:"deploy_minutes"`
}

// EnvironmentConfig is the source of the environment template.
type EnvironmentConfig struct {
	Variables          []environment.Variable `mapstructure:"variables"`
	MetadataRepository string                 `mapstructure:"metadata_repository"`
	MetadataFile       string                 `mapstructure:"metadata_file"`
	MetadataRef        string                 `mapstructure:"metadata_ref"`
}

// CheckoutConfig holds repository export settings.
type CheckoutConfig struct {
	WorkDir string `mapstructure:"work_dir"`
	Depth   int    `mapstructure:"depth"`
}

// MetricsConfig holds the metrics textfile location. Disabled when empty.
type MetricsConfig struct {
	Textfile string `mapstructure:"textfile"`
}

// =============================================================================
// Config Loading
// =============================================================================

// LoadConfig loads configuration from file and environment.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	v.SetDefault("server", "")
	v.SetDefault("orchestrator", "")
	v.SetDefault("data_dir", "./data")
	v.SetDefault("apps_dir", "")
	v.SetDefault("deployer", "releaser")
	v.SetDefault("log_mail", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("gitlab.url", "https://gitlab.com")
	v.SetDefault("gitlab.token", "")
	v.SetDefault("gitlab.timeout", "30s")
	v.SetDefault("gitlab.retries", 3)
	v.SetDefault("smtp.host", "")
	v.SetDefault("smtp.port", 0)
	v.SetDefault("smtp.user", "")
	v.SetDefault("smtp.pass", "")
	v.SetDefault("smtp.secure", false)
	v.SetDefault("smtp.from", "")
	v.SetDefault("smtp.cc", []string{})
	v.SetDefault("docker.host", "")
	v.SetDefault("remote.host", "")
	v.SetDefault("remote.port", 22)
	v.SetDefault("remote.user", "root")
	v.SetDefault("remote.key_file", "")
	v.SetDefault("remote.known_hosts", "")
	v.SetDefault("remote.timeout", "30s")
	v.SetDefault("compose.command", "docker compose")
	v.SetDefault("compose.renderer", "native")
	v.SetDefault("layout.metadata_dir", orchestrator.DefaultMetadataDir)
	v.SetDefault("lock.deploy_minutes", 0)
	v.SetDefault("environment.metadata_repository", "")
	v.SetDefault("environment.metadata_file", "orchestrators.json")
	v.SetDefault("environment.metadata_ref", "")
	v.SetDefault("checkout.work_dir", "")
	v.SetDefault("checkout.depth", 1)
	v.SetDefault("metrics.textfile", "")
	v.SetDefault("drain", orchestrator.DefaultDrain)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			var parseErr viper.ConfigParseError
			if errors.As(err, &parseErr) {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
			// A missing file leaves the defaults in place.
		}
	}

	v.SetEnvPrefix("RELEASER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Name used by older installations.
	if err := v.BindEnv("lock.deploy_minutes", "RELEASER_LOCK_DEPLOY_MINUTES", "LOCK_LIFETIME_MINUTES"); err != nil {
		return nil, fmt.Errorf("bind lock environment: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.AppsDir == "" {
		cfg.AppsDir = filepath.Join(cfg.DataDir, "apps")
	}

	return &cfg, nil
}

// Validate checks the settings every operation depends on.
func (c *Config) Validate() error {
	var missing []string
	for name, value := range map[string]string{
		"server":       c.Server,
		"orchestrator": c.Orchestrator,
		"gitlab.token": c.GitLab.Token,
		"smtp.host":    c.SMTP.Host,
		"log_mail":     c.LogMail,
	} {
		if strings.TrimSpace(value) == "" {
			missing = append(missing, name)
		}
	}
	if c.SMTP.Port <= 0 {
		missing = append(missing, "smtp.port")
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return domain.ConfigError("Validate", "missing required settings: "+strings.Join(missing, ", "), nil)
	}

	if _, err := orchestrator.ParseKind(c.Orchestrator); err != nil {
		return err
	}

	info, err := os.Stat(c.DataDir)
	if err != nil || !info.IsDir() {
		return domain.ConfigError("Validate", fmt.Sprintf("data directory %q does not exist", c.DataDir), err)
	}

	return nil
}

// =============================================================================
// Logger Setup
// =============================================================================

// SetupLogger creates a logger with the configured level and format
// writing to w. colored only affects the console format.
func SetupLogger(cfg *Config, w io.Writer, colored bool) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: console.ReplaceLevel,
	}

	var handler slog.Handler
	switch strings.ToLower(cfg.Log.Format) {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	case "text":
		handler = slog.NewTextHandler(w, opts)
	default:
		handler = console.NewHandler(w, &console.Options{Level: level, Color: colored})
	}

	return slog.New(handler)
}
