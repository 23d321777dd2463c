package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/artpar/releaser/internal/core/domain"
	"github.com/artpar/releaser/internal/core/registry"
	"github.com/artpar/releaser/internal/shell/checkout"
	"github.com/artpar/releaser/internal/shell/compose"
	"github.com/artpar/releaser/internal/shell/console"
	"github.com/artpar/releaser/internal/shell/docker"
	"github.com/artpar/releaser/internal/shell/gitlab"
	"github.com/artpar/releaser/internal/shell/lock"
	"github.com/artpar/releaser/internal/shell/mail"
	"github.com/artpar/releaser/internal/shell/metrics"
	"github.com/artpar/releaser/internal/shell/orchestrator"
	"github.com/artpar/releaser/internal/shell/pipeline"
	"github.com/artpar/releaser/internal/shell/remote"
	"github.com/artpar/releaser/internal/shell/runner"
)

// =============================================================================
// Exit Codes
// =============================================================================

const (
	ExitSuccess           = 0
	ExitConfigError       = 1
	ExitSelectionError    = 2
	ExitLockHeld          = 3
	ExitConnectivityError = 4
	ExitRunError          = 5
	ExitUsageError        = 6
)

// AppError carries the exit code of a failure.
type AppError struct {
	Op       string
	Err      error
	ExitCode int
}

func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// UsageError is a malformed command line.
type UsageError struct {
	Err error
}

func (e *UsageError) Error() string { return e.Err.Error() }

func (e *UsageError) Unwrap() error { return e.Err }

func usagef(format string, args ...any) error {
	return &UsageError{Err: fmt.Errorf(format, args...)}
}

// exitCode maps an error to the process exit status.
func exitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.ExitCode
	}
	var usageErr *UsageError
	if errors.As(err, &usageErr) {
		return ExitUsageError
	}

	switch domain.KindOf(err) {
	case domain.ErrConfig:
		return ExitConfigError
	case domain.ErrSelection:
		return ExitSelectionError
	case domain.ErrLockHeld:
		return ExitLockHeld
	case domain.ErrConnectivity:
		return ExitConnectivityError
	}
	return ExitRunError
}

// =============================================================================
// App
// =============================================================================

// App wires the collaborators of one invocation.
type App struct {
	cfg        *Config
	logger     *slog.Logger
	console    io.Writer
	transcript *console.Transcript

	runner   runner.Runner
	backend  orchestrator.Backend
	docker   docker.Client
	pipeline *pipeline.Pipeline
	session  *pipeline.Session
	notifier *mail.SMTPNotifier
	metrics  *metrics.Recorder
}

// NewApp builds every collaborator from cfg. Output goes to stdout; the
// console output, log lines and streamed command output alike, is also
// captured for failure reports.
func NewApp(cfg *Config, stdout io.Writer, colored bool) (*App, error) {
	transcript := &console.Transcript{}
	out := io.MultiWriter(stdout, transcript)
	logger := SetupLogger(cfg, out, colored)

	kind, err := orchestrator.ParseKind(cfg.Orchestrator)
	if err != nil {
		return nil, err
	}

	cli, err := compose.ParseCLI(cfg.Compose.Command)
	if err != nil {
		return nil, domain.ConfigError("NewApp", "compose.command", err)
	}

	run := runner.NewExecRunner(out, logger)

	var renderer compose.Renderer
	switch strings.ToLower(cfg.Compose.Renderer) {
	case "", "native":
		renderer = compose.NewNativeRenderer(logger)
	case "cli":
		renderer = compose.NewCLIRenderer(run, cli, logger)
	default:
		return nil, domain.ConfigError("NewApp", fmt.Sprintf("unknown compose renderer %q", cfg.Compose.Renderer), nil)
	}

	dockerClient, err := docker.NewDockerClient(cfg.Docker.Host)
	if err != nil {
		return nil, &AppError{Op: "NewApp", Err: err, ExitCode: ExitConnectivityError}
	}

	backend, err := orchestrator.New(kind, orchestrator.Deps{
		Runner:   run,
		Renderer: renderer,
		Docker:   dockerClient,
		Logger:   logger,
		Console:  out,
		Drain:    cfg.Drain,
		Layout:   orchestrator.Layout{MetadataDir: cfg.Layout.MetadataDir},
		Compose:  cli,
	})
	if err != nil {
		dockerClient.Close()
		return nil, err
	}

	source, err := gitlab.NewClient(gitlab.Config{
		URL:     cfg.GitLab.URL,
		Token:   cfg.GitLab.Token,
		Timeout: cfg.GitLab.Timeout,
		Retries: cfg.GitLab.Retries,
	}, logger)
	if err != nil {
		dockerClient.Close()
		return nil, domain.ConfigError("NewApp", "gitlab.url", err)
	}

	exporter := checkout.NewExporter(checkout.Config{
		BaseURL: source.URL(),
		Token:   cfg.GitLab.Token,
		WorkDir: cfg.Checkout.WorkDir,
		Depth:   cfg.Checkout.Depth,
	}, logger)

	recorder := metrics.NewRecorder(cfg.Metrics.Textfile)

	deps := pipeline.Deps{
		Backend:  backend,
		Source:   source,
		Checkout: exporter,
		Metrics:  recorder,
		Logger:   logger,
	}
	if cfg.Remote.Host != "" {
		checker, err := remote.NewSSHChecker(remote.SSHConfig{
			Host:       cfg.Remote.Host,
			Port:       cfg.Remote.Port,
			User:       cfg.Remote.User,
			KeyFile:    cfg.Remote.KeyFile,
			KnownHosts: cfg.Remote.KnownHosts,
			Timeout:    cfg.Remote.Timeout,
		}, logger)
		if err != nil {
			dockerClient.Close()
			return nil, err
		}
		deps.Preflight = checker
	}

	p, err := pipeline.New(pipeline.Config{
		Server:   cfg.Server,
		AppsDir:  cfg.AppsDir,
		Deployer: cfg.Deployer,
		Template: pipeline.TemplateSource{
			Variables:          cfg.Environment.Variables,
			MetadataRepository: cfg.Environment.MetadataRepository,
			MetadataFile:       cfg.Environment.MetadataFile,
			MetadataRef:        cfg.Environment.MetadataRef,
		},
	}, deps)
	if err != nil {
		dockerClient.Close()
		return nil, err
	}

	notifier := mail.NewSMTPNotifier(mail.Config{
		Host:   cfg.SMTP.Host,
		Port:   cfg.SMTP.Port,
		User:   cfg.SMTP.User,
		Pass:   cfg.SMTP.Pass,
		Secure: cfg.SMTP.Secure,
		From:   cfg.SMTP.From,
		To:     cfg.LogMail,
	}, logger)

	session := &pipeline.Session{
		Server:            cfg.Server,
		Locks:             lock.NewManager(cfg.LockDir(), lock.WithLogger(logger)),
		Notifier:          notifier,
		Transcript:        transcript,
		CC:                cfg.SMTP.CC,
		DeployLockMinutes: cfg.Lock.DeployMinutes,
		Metrics:           recorder,
		Logger:            logger,
	}

	return &App{
		cfg:        cfg,
		logger:     logger,
		console:    out,
		transcript: transcript,
		runner:     run,
		backend:    backend,
		docker:     dockerClient,
		pipeline:   p,
		session:    session,
		notifier:   notifier,
		metrics:    recorder,
	}, nil
}

// Close releases the Docker client.
func (a *App) Close() error {
	if a.docker == nil {
		return nil
	}
	return a.docker.Close()
}

// Execute runs op over the builds named by selector.
func (a *App) Execute(ctx context.Context, op pipeline.Operation, selector, version string, daemon bool) error {
	report, err := a.session.Run(ctx, op, daemon, func(ctx context.Context) (*pipeline.RunReport, error) {
		selection, err := a.selectBuilds(selector)
		if err != nil {
			return nil, err
		}

		if op != pipeline.OpValidate {
			if err := a.docker.Ping(ctx); err != nil {
				return nil, domain.NewError("Execute", domain.ErrConnectivity, "docker daemon is not reachable", err)
			}
		}

		return a.pipeline.Run(ctx, pipeline.Request{
			Operation: op,
			Builds:    selection.Ordered(),
			Version:   version,
		})
	})

	if report != nil && len(report.Outcomes) > 0 {
		fmt.Fprint(a.console, "\n"+report.Summary())
	}
	if ferr := a.metrics.Flush(); ferr != nil {
		a.logger.Warn("could not write metrics", "error", ferr)
	}
	return err
}

// selectBuilds loads the builds configuration and resolves selector.
func (a *App) selectBuilds(selector string) (*registry.Selection, error) {
	data, err := os.ReadFile(a.cfg.BuildsFile())
	if err != nil {
		return nil, domain.ConfigError("selectBuilds", "read "+a.cfg.BuildsFile(), err)
	}
	builds, err := registry.Parse(data)
	if err != nil {
		return nil, err
	}

	selection, err := registry.Resolve(builds, registry.ParseSelector(selector))
	if err != nil {
		return nil, err
	}
	for _, key := range selection.Unknown {
		a.logger.Warn(fmt.Sprintf("Build %s is not configured and was ignored", key))
	}
	return selection, nil
}

// Reference prints the backend help text.
func (a *App) Reference() string {
	return a.backend.Reference()
}

// MailTest sends a test message to the log address with the valid
// addresses of list in copy.
func (a *App) MailTest(ctx context.Context, list []string) error {
	cc := mail.ValidAddresses(list)
	if len(cc) == 0 {
		return usagef("No valid e-mail addresses!")
	}

	subject := fmt.Sprintf("Releaser at %s - E-MAIL TEST", a.cfg.Server)
	if err := a.notifier.Send(ctx, subject, "It's ok!", cc); err != nil {
		return &AppError{Op: "MailTest", Err: err, ExitCode: ExitConnectivityError}
	}

	a.logger.Log(ctx, console.LevelSuccess, "E-mail sent to "+strings.Join(append([]string{a.cfg.LogMail}, cc...), ", "))
	return nil
}
