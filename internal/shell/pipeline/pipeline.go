// Package pipeline runs one operation over a set of builds.
//
// Every build goes through the same steps: settings, naming, source lookup,
// version, environment, checkout, then the backend action. A failing build
// is recorded and the run moves on to the next one. Session wraps a run
// with the lock and the notification required when nobody is watching.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/artpar/releaser/internal/core/descriptor"
	"github.com/artpar/releaser/internal/core/domain"
	"github.com/artpar/releaser/internal/core/environment"
	"github.com/artpar/releaser/internal/core/stages"
	"github.com/artpar/releaser/internal/core/version"
	"github.com/artpar/releaser/internal/shell/checkout"
	"github.com/artpar/releaser/internal/shell/console"
	"github.com/artpar/releaser/internal/shell/gitlab"
	"github.com/artpar/releaser/internal/shell/orchestrator"
)

// =============================================================================
// Collaborators
// =============================================================================

// Checkout exports a build's repository and removes the export afterwards.
type Checkout interface {
	Export(ctx context.Context, req checkout.Request) (string, error)
	Discard(path string) error
}

// SourceHost looks up projects and their tags. A lookup without results
// returns nil (or an empty slice) and no error.
type SourceHost interface {
	FindGroup(ctx context.Context, path string) (*gitlab.Group, error)
	SearchProjects(ctx context.Context, path string) ([]gitlab.Project, error)
	RawFile(ctx context.Context, projectID int, path, ref string) ([]byte, error)
	Tags(ctx context.Context, projectID int) ([]gitlab.Tag, error)
}

// Preflight checks that the target host is reachable.
type Preflight interface {
	Check(ctx context.Context) error
}

// Metrics receives build and run outcomes.
type Metrics interface {
	BuildFinished(operation, status string)
	LockRejected(operation string)
	RunFinished(operation string, elapsed time.Duration, failed bool)
}

// =============================================================================
// Pipeline
// =============================================================================

// Config configures a Pipeline.
type Config struct {
	// Server is the name of this deployment host, exposed as %SERVER%.
	Server string

	// AppsDir holds one settings directory per build namespace.
	AppsDir string

	// Deployer is exposed as %DEPLOYER%.
	Deployer string

	Template TemplateSource
}

// Deps are the collaborators of a Pipeline.
type Deps struct {
	Backend   orchestrator.Backend
	Source    SourceHost
	Checkout  Checkout
	Preflight Preflight // optional
	Metrics   Metrics   // optional
	Logger    *slog.Logger
	Now       func() time.Time
}

// Request is one run.
type Request struct {
	Operation Operation
	Builds    []domain.Build

	// Version is the tag to roll back to.
	Version string
}

// Pipeline runs operations over builds.
type Pipeline struct {
	cfg  Config
	deps Deps
	log  *slog.Logger
}

// New creates a Pipeline.
func New(cfg Config, deps Deps) (*Pipeline, error) {
	if deps.Backend == nil || deps.Source == nil || deps.Checkout == nil {
		return nil, domain.ConfigError("pipeline.New", "backend, source host and checkout are required", nil)
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Pipeline{cfg: cfg, deps: deps, log: deps.Logger.With("component", "pipeline")}, nil
}

// Run processes req.Builds in key order. Per-build failures are recorded in
// the report; the error is set only for failures that concern the whole run
// (unreachable host, unusable environment template).
func (p *Pipeline) Run(ctx context.Context, req Request) (*RunReport, error) {
	report := &RunReport{Operation: req.Operation}

	if req.Operation == OpRollback && len(req.Builds) != 1 {
		return report, domain.SelectionError("Run", "rollback takes exactly one build")
	}

	if p.deps.Preflight != nil {
		if err := p.deps.Preflight.Check(ctx); err != nil {
			return report, err
		}
	}

	p.log.Info("Trying to load metadata...")
	template, err := loadTemplate(ctx, p.cfg.Template, p.deps.Source, p.deps.Backend.Kind().MetadataName())
	if err != nil {
		return report, err
	}

	builds := slices.Clone(req.Builds)
	slices.SortFunc(builds, func(a, b domain.Build) int {
		switch {
		case a.Key() < b.Key():
			return -1
		case a.Key() > b.Key():
			return 1
		}
		return 0
	})

	for _, build := range builds {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		if !build.Active && !req.Operation.IncludesInactive() {
			p.log.Warn(fmt.Sprintf("Build %s is deactivated, skipping", build.Key()))
			p.record(report, Outcome{Key: build.Key(), Status: StatusSkipped, Message: "build is deactivated"})
			continue
		}

		report.WorkPerformed = true
		p.log.Info(fmt.Sprintf("Processing build %s...", build.Key()))
		p.record(report, p.runBuild(ctx, req, build, template))
	}

	return report, nil
}

func (p *Pipeline) record(report *RunReport, o Outcome) {
	report.Outcomes = append(report.Outcomes, o)
	if p.deps.Metrics != nil {
		p.deps.Metrics.BuildFinished(string(report.Operation), string(o.Status))
	}
}

// buildError is a per-build failure with the message to report.
type buildError struct {
	message string
	err     error
}

func (e *buildError) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %v", e.message, e.err)
	}
	return e.message
}

func (e *buildError) Unwrap() error { return e.err }

func fail(message string, err error) error {
	return &buildError{message: message, err: err}
}

// runBuild takes one build through every step and turns the first failure
// into a failure outcome.
func (p *Pipeline) runBuild(ctx context.Context, req Request, build domain.Build, template []environment.Variable) Outcome {
	outcome, err := p.buildSteps(ctx, req, build, template)
	if err != nil {
		msg := err.Error()
		var be *buildError
		if errors.As(err, &be) {
			msg = be.message
		}
		p.log.Error(err.Error(), "build", build.Key())
		return Outcome{Key: build.Key(), Status: StatusFailure, Message: msg}
	}

	outcome.Key = build.Key()
	switch outcome.Status {
	case StatusWarning:
		p.log.Warn(fmt.Sprintf("Build %s %s with warnings", build.Key(), req.Operation.past()))
	case StatusSuccess:
		p.log.Log(ctx, console.LevelSuccess, fmt.Sprintf("Build %s %s", build.Key(), req.Operation.past()))
	}
	return outcome
}

func (p *Pipeline) buildSteps(ctx context.Context, req Request, build domain.Build, template []environment.Variable) (Outcome, error) {
	ns := build.Namespace()

	settings, err := p.settings(ns)
	if err != nil {
		return Outcome{}, err
	}

	if err := build.Validate(); err != nil {
		return Outcome{}, fail("invalid build", err)
	}

	project, err := p.lookup(ctx, build)
	if err != nil {
		return Outcome{}, err
	}

	tag, err := p.version(ctx, req, build, project)
	if err != nil {
		return Outcome{}, err
	}
	p.log.Info(fmt.Sprintf("Version %s", tag), "build", build.Key())

	if err := environment.CheckEnvFile(settings); err != nil {
		return Outcome{}, fail("invalid settings file", err)
	}
	ciEnv, oneShotEnv := environment.Render(template,
		environment.ValuesFor(build, p.cfg.Server, tag, p.cfg.Deployer))

	exportReq := checkout.Request{
		Project:    build.Project,
		App:        build.App,
		Ref:        string(build.Stage),
		Env:        settings,
		CIEnv:      ciEnv,
		OneShotEnv: oneShotEnv,
	}
	if req.Operation == OpRollback {
		exportReq.Ref, exportReq.Tag = tag, true
	}

	p.log.Info(fmt.Sprintf("Exporting %s from %s/%s", exportReq.Ref, build.Project, build.App))
	path, err := p.deps.Checkout.Export(ctx, exportReq)
	if err != nil {
		return Outcome{}, fail("checkout failed", err)
	}
	defer func() {
		if err := p.deps.Checkout.Discard(path); err != nil {
			p.log.Warn("could not remove checkout", "path", path, "error", err)
		}
	}()

	return p.act(ctx, req.Operation, path, ns)
}

// settings reads the operator settings of a build.
func (p *Pipeline) settings(namespace string) (string, error) {
	dir := filepath.Join(p.cfg.AppsDir, namespace)
	data, err := os.ReadFile(filepath.Join(dir, checkout.EnvFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fail(fmt.Sprintf("settings file %s/.env not found", dir), nil)
		}
		return "", fail("read settings", err)
	}
	return string(data), nil
}

// lookup finds the repository of a build: the group of the project first,
// then the application repository inside it.
func (p *Pipeline) lookup(ctx context.Context, build domain.Build) (*gitlab.Project, error) {
	group, err := p.deps.Source.FindGroup(ctx, build.Project)
	if err != nil {
		return nil, fail("project lookup failed", err)
	}
	if group == nil {
		return nil, fail("Project not found", nil)
	}

	groupPath := group.FullPath
	if groupPath == "" {
		groupPath = build.Project
	}
	project, err := findProject(ctx, p.deps.Source, groupPath+"/"+build.App)
	if err != nil {
		return nil, fail("repository lookup failed", err)
	}
	if project == nil {
		return nil, fail("Repository not found", nil)
	}
	return project, nil
}

// findProject returns the project whose full path is path, falling back to
// the first search result.
func findProject(ctx context.Context, host SourceHost, path string) (*gitlab.Project, error) {
	projects, err := host.SearchProjects(ctx, path)
	if err != nil || len(projects) == 0 {
		return nil, err
	}
	for i := range projects {
		if projects[i].PathWithNamespace == path {
			return &projects[i], nil
		}
	}
	return &projects[0], nil
}

// version picks the tag a build runs with.
func (p *Pipeline) version(ctx context.Context, req Request, build domain.Build, project *gitlab.Project) (string, error) {
	switch req.Operation {
	case OpDeploy, OpRollback:
	default:
		return version.Sample(build.Stage, p.deps.Now()), nil
	}

	if req.Operation == OpRollback && version.Score(build.Stage, req.Version) == 0 {
		return "", fail(fmt.Sprintf("version %q is not a valid %s version", req.Version, build.Stage), nil)
	}

	tags, err := p.deps.Source.Tags(ctx, project.ID)
	if err != nil {
		return "", fail("tag listing failed", err)
	}
	names := make([]string, len(tags))
	for i, t := range tags {
		names[i] = t.Name
	}

	if req.Operation == OpRollback {
		if !slices.Contains(names, req.Version) {
			return "", fail(fmt.Sprintf("version %s not found in the repository", req.Version), nil)
		}
		return req.Version, nil
	}

	latest, _ := version.Latest(build.Stage, names)
	if latest == "" {
		return "", fail(fmt.Sprintf("no valid %s version tag found", build.Stage), nil)
	}
	return latest, nil
}

// act runs the backend action of op.
func (p *Pipeline) act(ctx context.Context, op Operation, path, namespace string) (Outcome, error) {
	backend := p.deps.Backend

	if op == OpValidate {
		report, err := backend.Validate(ctx, path, namespace)
		if err != nil {
			return Outcome{}, fail("validation could not run", err)
		}
		return fromValidation(report), nil
	}

	var r stages.Report
	switch op {
	case OpDeploy, OpRollback:
		r = backend.Deploy(ctx, path, namespace)
	case OpStop:
		r = backend.Stop(ctx, path, namespace)
	case OpRestart:
		r = backend.Restart(ctx, path, namespace)
	case OpBackup:
		r = backend.Backup(ctx, path, namespace)
	case OpSanitize:
		r = backend.Sanitize(ctx, path, namespace)
	default:
		return Outcome{}, fail(fmt.Sprintf("unsupported operation %q", op), nil)
	}
	return fromStages(r), nil
}

func fromValidation(r *descriptor.Report) Outcome {
	switch {
	case !r.Valid:
		msg := "INVALID"
		if len(r.Errors) > 0 {
			msg = r.Errors[0]
		}
		return Outcome{Status: StatusFailure, Message: msg, Warnings: r.Warnings}
	case len(r.Warnings) > 0:
		return Outcome{Status: StatusWarning, Message: "valid, but has some alerts to fix", Warnings: r.Warnings}
	}
	return Outcome{Status: StatusSuccess, Message: "valid"}
}

func fromStages(r stages.Report) Outcome {
	if r.Failed() {
		return Outcome{Status: StatusFailure, Message: r.Err().Error(), Warnings: r.Warnings()}
	}
	if w := r.Warnings(); len(w) > 0 {
		return Outcome{Status: StatusWarning, Message: w[0], Warnings: w}
	}
	return Outcome{Status: StatusSuccess}
}
