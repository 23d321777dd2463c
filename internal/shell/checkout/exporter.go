// Package checkout exports one ref of an application repository into a
// temporary directory and writes the environment files next to it.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/plumbing/transport/http"
)

// Environment file names written into every export.
const (
	EnvFile        = ".env"
	CIEnvFile      = ".env.io"
	OneShotEnvFile = ".env.sh"
)

// Request describes one export.
type Request struct {
	Project string
	App     string

	// Ref is a branch name, or a tag name when Tag is set.
	Ref string
	Tag bool

	Env        string // operator settings, written to .env
	CIEnv      string // written to .env.io
	OneShotEnv string // written to .env.sh
}

// Config configures an Exporter.
type Config struct {
	// BaseURL is the Git server URL; repositories live at
	// <BaseURL>/<project>/<app>.git.
	BaseURL string
	Token   string

	// WorkDir receives the exports. Defaults to the system temp directory.
	WorkDir string

	// Depth limits history; 0 clones everything.
	Depth int
}

// Exporter exports repositories with go-git.
type Exporter struct {
	cfg    Config
	logger *slog.Logger
}

// NewExporter creates an Exporter.
func NewExporter(cfg Config, logger *slog.Logger) *Exporter {
	if logger == nil {
		logger = slog.Default()
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Exporter{cfg: cfg, logger: logger.With("component", "checkout")}
}

// RepositoryURL returns the clone URL of an application.
func (e *Exporter) RepositoryURL(project, app string) string {
	return fmt.Sprintf("%s/%s/%s.git", e.cfg.BaseURL, project, app)
}

// Export clones req.Ref into a new directory, drops the Git metadata and
// writes the environment files. The caller owns the returned directory and
// must Discard it.
func (e *Exporter) Export(ctx context.Context, req Request) (string, error) {
	if req.Project == "" || req.App == "" || req.Ref == "" {
		return "", errors.New("project, app and ref are required")
	}

	dir, err := os.MkdirTemp(e.cfg.WorkDir, fmt.Sprintf("%s_%s_", req.Project, req.App))
	if err != nil {
		return "", fmt.Errorf("create export directory: %w", err)
	}

	if err := e.export(ctx, dir, req); err != nil {
		os.RemoveAll(dir)
		return "", err
	}

	e.logger.Debug("checkout exported", "project", req.Project, "app", req.App, "ref", req.Ref, "path", dir)
	return dir, nil
}

func (e *Exporter) export(ctx context.Context, dir string, req Request) error {
	ref := plumbing.NewBranchReferenceName(req.Ref)
	if req.Tag {
		ref = plumbing.NewTagReferenceName(req.Ref)
	}

	opts := &git.CloneOptions{
		URL:           e.RepositoryURL(req.Project, req.App),
		ReferenceName: ref,
		SingleBranch:  true,
		Depth:         e.cfg.Depth,
	}
	if e.cfg.Token != "" {
		opts.Auth = &http.BasicAuth{Username: "oauth2", Password: e.cfg.Token}
	}

	if _, err := git.PlainCloneContext(ctx, dir, false, opts); err != nil {
		if errors.Is(err, transport.ErrRepositoryNotFound) {
			return fmt.Errorf("repository %s/%s not found", req.Project, req.App)
		}
		return fmt.Errorf("clone %s of %s/%s: %w", ref.Short(), req.Project, req.App, err)
	}

	if err := os.RemoveAll(filepath.Join(dir, ".git")); err != nil {
		return fmt.Errorf("remove git metadata: %w", err)
	}

	return WriteEnvFiles(dir, req.Env, req.CIEnv, req.OneShotEnv)
}

// WriteEnvFiles writes the three environment files of an export, readable
// by the owner only.
func WriteEnvFiles(dir, env, ciEnv, oneShotEnv string) error {
	for name, content := range map[string]string{
		EnvFile:        env,
		CIEnvFile:      ciEnv,
		OneShotEnvFile: oneShotEnv,
	} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600); err != nil {
			return fmt.Errorf("write %s: %w", name, err)
		}
	}
	return nil
}

// Discard removes an export.
func (e *Exporter) Discard(path string) error {
	if path == "" {
		return nil
	}
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("discard %s: %w", path, err)
	}
	return nil
}
