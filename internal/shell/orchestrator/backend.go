// Package orchestrator drives the container runtime for one build checkout:
// validating its descriptors and running deploy, stop, restart, backup and
// sanitize as stage lists.
//
// Two backends exist. StackLocal runs the stack with docker compose on the
// current host; Cluster deploys it as a Docker Swarm stack.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/artpar/releaser/internal/core/descriptor"
	"github.com/artpar/releaser/internal/core/domain"
	"github.com/artpar/releaser/internal/core/stages"
	"github.com/artpar/releaser/internal/shell/compose"
	"github.com/artpar/releaser/internal/shell/console"
	"github.com/artpar/releaser/internal/shell/docker"
	"github.com/artpar/releaser/internal/shell/runner"
)

// Backend runs operations against one runtime. path is the checkout
// directory and namespace the stack name of the build.
type Backend interface {
	Kind() Kind

	// Validate checks the descriptors of the checkout. The error is set only
	// when the checkout could not be inspected at all.
	Validate(ctx context.Context, path, namespace string) (*descriptor.Report, error)

	Deploy(ctx context.Context, path, namespace string) stages.Report
	Stop(ctx context.Context, path, namespace string) stages.Report
	Restart(ctx context.Context, path, namespace string) stages.Report
	Backup(ctx context.Context, path, namespace string) stages.Report
	Sanitize(ctx context.Context, path, namespace string) stages.Report

	// Reference is operator help text for running the stack by hand.
	Reference() string
}

// DefaultDrain is how long a removed stack is given to release its
// resources before it is deployed again.
const DefaultDrain = 10 * time.Second

// Deps are the collaborators of a backend.
type Deps struct {
	Runner   runner.Runner
	Renderer compose.Renderer
	Docker   docker.Client
	Logger   *slog.Logger

	// Console receives the raw output of failed commands.
	Console io.Writer

	// Sleep waits out the drain interval. Defaults to a context-aware timer.
	Sleep func(ctx context.Context, d time.Duration) error
	Drain time.Duration

	Layout  Layout
	Compose compose.CLI
}

// New creates the backend for kind.
func New(kind Kind, deps Deps) (Backend, error) {
	b, err := newBase(deps)
	if err != nil {
		return nil, err
	}
	switch kind {
	case KindStackLocal:
		return &StackLocal{base: b}, nil
	case KindCluster:
		return &Cluster{base: b}, nil
	}
	_, err = ParseKind(string(kind))
	return nil, err
}

// =============================================================================
// Shared Plumbing
// =============================================================================

type base struct {
	runner   runner.Runner
	renderer compose.Renderer
	docker   docker.Client
	logger   *slog.Logger
	console  io.Writer
	sleep    func(ctx context.Context, d time.Duration) error
	drain    time.Duration
	layout   Layout
	compose  compose.CLI
}

func newBase(deps Deps) (base, error) {
	if deps.Runner == nil || deps.Renderer == nil || deps.Docker == nil {
		return base{}, domain.ConfigError("orchestrator.New", "runner, renderer and docker client are required", nil)
	}
	b := base{
		runner:   deps.Runner,
		renderer: deps.Renderer,
		docker:   deps.Docker,
		logger:   deps.Logger,
		console:  deps.Console,
		sleep:    deps.Sleep,
		drain:    deps.Drain,
		layout:   deps.Layout,
		compose:  deps.Compose,
	}
	if b.logger == nil {
		b.logger = slog.Default()
	}
	b.logger = b.logger.With("component", "orchestrator")
	if b.console == nil {
		b.console = io.Discard
	}
	if b.sleep == nil {
		b.sleep = sleepContext
	}
	if b.drain == 0 {
		b.drain = DefaultDrain
	}
	if b.compose.Name == "" {
		b.compose, _ = compose.ParseCLI(compose.DefaultCLI)
	}
	return b, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// run executes stage list st with progress logged to the transcript.
func (b base) run(ctx context.Context, st []stages.Stage) stages.Report {
	return stages.Run(ctx, st, &observer{logger: b.logger, console: b.console})
}

// exec runs cmd and wraps a failure as an execution error with message.
func (b base) exec(ctx context.Context, cmd runner.Command, message string) (*runner.Result, error) {
	res, err := b.runner.Run(ctx, cmd)
	if err != nil {
		return res, domain.ExecutionError("exec", message, err)
	}
	return res, nil
}

// composeCmd builds a compose command in the checkout.
func (b base) composeCmd(path, file string, envFiles []string, args ...string) runner.Command {
	return b.compose.Command(path, file, envFiles, args...)
}

// dockerCmd builds a plain docker command in the checkout.
func (b base) dockerCmd(path string, envFiles []string, args ...string) runner.Command {
	return runner.Command{Name: "docker", Args: args, Dir: path, EnvFiles: envFiles}
}

func (b base) ensureNetwork(ctx context.Context, namespace, driver string) error {
	created, err := b.docker.EnsureNetwork(ctx, docker.NetworkSpec{
		Name:       namespace,
		Driver:     driver,
		Attachable: driver == docker.DriverOverlay,
	})
	if err != nil {
		return err
	}
	if created {
		b.logger.Info("Network created", "network", namespace, "driver", driver)
	} else {
		b.logger.Info("Network already exists", "network", namespace)
	}
	return nil
}

func (b base) request(path, file string, envFiles ...string) compose.Request {
	return compose.Request{Dir: path, File: file, EnvFiles: envFiles}
}

// render renders a descriptor, or returns nil when the file is absent.
func (b base) render(ctx context.Context, path, file string, envFiles ...string) *descriptor.Rendered {
	req := b.request(path, file, envFiles...)
	if !exists(join(path, req.Label())) {
		return nil
	}
	return b.renderer.Render(ctx, req)
}

func (b base) services(ctx context.Context, path, file string, envFiles ...string) ([]string, error) {
	return b.renderer.Services(ctx, b.request(path, file, envFiles...))
}

// logReport writes a validation report to the transcript.
func (b base) logReport(r *descriptor.Report, subject string) {
	for _, n := range r.Notes {
		b.logger.Info(n)
	}
	for _, w := range r.Warnings {
		b.logger.Warn(w)
	}
	for _, e := range r.Errors {
		b.logger.Error(e)
	}
	switch {
	case !r.Valid:
		b.logger.Error(subject + " INVALID")
	case len(r.Warnings) > 0:
		b.logger.Warn(subject + " valid, but has some alerts to fix")
	default:
		b.logger.Log(context.Background(), console.LevelSuccess, subject+" valid")
	}
}

// validateStage turns a Validate call into a fatal stage.
func validateStage(validate func(ctx context.Context) (*descriptor.Report, error)) stages.Stage {
	return stages.Must("Validating descriptors", func(ctx context.Context) error {
		report, err := validate(ctx)
		if err != nil {
			return err
		}
		return report.Err()
	})
}

// stackDeployed reports whether namespace is among the running stacks.
func (b base) stackDeployed(ctx context.Context, path, namespace string) (bool, error) {
	res, err := b.exec(ctx, b.dockerCmd(path, nil, "stack", "ls", "--format", "{{.Name}}"), "impossible to check deployed stacks")
	if err != nil {
		return false, err
	}
	for _, name := range res.Lines() {
		if name == namespace {
			return true, nil
		}
	}
	return false, nil
}

func join(path, file string) string {
	return filepath.Join(path, file)
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return !errors.Is(err, os.ErrNotExist)
}

// =============================================================================
// Transcript Observer
// =============================================================================

type observer struct {
	logger  *slog.Logger
	console io.Writer
}

func (o *observer) Started(stage string) {
	o.logger.Info(stage + "...")
}

func (o *observer) Finished(res stages.Result) {
	if out := strings.TrimSpace(runner.Output(res.Err)); out != "" && res.Status != stages.Success {
		fmt.Fprintln(o.console, out)
	}

	switch res.Status {
	case stages.Success:
		o.logger.Debug(res.Message, "stage", res.Stage)
	case stages.Warning:
		o.logger.Warn(message(res))
	case stages.Fatal:
		o.logger.Error(message(res))
	}
}

func message(res stages.Result) string {
	if res.Err == nil {
		return res.Message
	}
	return res.Message + ": " + res.Err.Error()
}
