package compose

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/compose-spec/compose-go/v2/dotenv"
	"github.com/compose-spec/compose-go/v2/loader"
	"github.com/compose-spec/compose-go/v2/types"
	"gopkg.in/yaml.v3"

	"github.com/artpar/releaser/internal/core/descriptor"
	"github.com/artpar/releaser/internal/core/environment"
)

// =============================================================================
// Native Renderer
// =============================================================================

// NativeRenderer loads descriptors with compose-go, the same loader the
// docker compose CLI uses.
type NativeRenderer struct {
	logger *slog.Logger
}

// NewNativeRenderer creates a NativeRenderer.
func NewNativeRenderer(logger *slog.Logger) *NativeRenderer {
	if logger == nil {
		logger = slog.Default()
	}
	return &NativeRenderer{logger: logger.With("component", "compose")}
}

// Render implements Renderer.
func (n *NativeRenderer) Render(ctx context.Context, req Request) *descriptor.Rendered {
	out := &descriptor.Rendered{Name: req.Label()}

	content, env, err := n.prepare(req)
	if err != nil {
		out.Err = err
		return out
	}
	out.Diagnostics = Diagnostics(content, env)

	project, err := n.load(ctx, req, content, env)
	if err != nil {
		out.Err = err
		return out
	}

	data, err := project.MarshalYAML()
	if err != nil {
		out.Err = fmt.Errorf("marshal %s: %w", req.Label(), err)
		return out
	}
	var tree descriptor.Tree
	if err := yaml.Unmarshal(data, &tree); err != nil {
		out.Err = fmt.Errorf("decode %s: %w", req.Label(), err)
		return out
	}
	out.Tree = tree

	n.logger.Debug("descriptor rendered", "file", req.Label(), "services", len(project.Services))
	return out
}

// Services implements Renderer.
func (n *NativeRenderer) Services(ctx context.Context, req Request) ([]string, error) {
	project, err := n.project(ctx, req)
	if err != nil {
		return nil, err
	}
	return project.ServiceNames(), nil
}

// Profiles implements Renderer.
func (n *NativeRenderer) Profiles(ctx context.Context, req Request) ([]string, error) {
	project, err := n.project(ctx, req)
	if err != nil {
		return nil, err
	}

	seen := map[string]bool{}
	collect := func(svcs types.Services) {
		for _, svc := range svcs {
			for _, p := range svc.Profiles {
				seen[p] = true
			}
		}
	}
	collect(project.Services)
	collect(project.DisabledServices)

	profiles := make([]string, 0, len(seen))
	for p := range seen {
		profiles = append(profiles, p)
	}
	sort.Strings(profiles)
	return profiles, nil
}

func (n *NativeRenderer) project(ctx context.Context, req Request) (*types.Project, error) {
	content, env, err := n.prepare(req)
	if err != nil {
		return nil, err
	}
	return n.load(ctx, req, content, env)
}

// prepare reads the descriptor and assembles its interpolation environment:
// the checkout's .env, then the process environment, then req.EnvFiles.
func (n *NativeRenderer) prepare(req Request) ([]byte, map[string]string, error) {
	path := filepath.Join(req.Dir, req.Label())
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("read %s: %w", req.Label(), err)
	}

	env := map[string]string{}
	if dotEnv := filepath.Join(req.Dir, ".env"); fileExists(dotEnv) {
		vars, err := dotenv.Read(dotEnv)
		if err != nil {
			return nil, nil, fmt.Errorf("read .env: %w", err)
		}
		for k, v := range vars {
			env[k] = v
		}
	}
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			env[k] = v
		}
	}
	for _, f := range req.EnvFiles {
		vars, err := dotenv.Read(filepath.Join(req.Dir, f))
		if err != nil {
			return nil, nil, fmt.Errorf("read %s: %w", f, err)
		}
		for k, v := range vars {
			env[k] = v
		}
	}

	return content, env, nil
}

func (n *NativeRenderer) load(ctx context.Context, req Request, content []byte, env map[string]string) (*types.Project, error) {
	name := env["COMPOSE_PROJECT_NAME"]
	if name == "" {
		abs, err := filepath.Abs(req.Dir)
		if err != nil {
			abs = req.Dir
		}
		name = loader.NormalizeProjectName(filepath.Base(abs))
	}

	var profiles []string
	for _, p := range strings.Split(env[environment.ProfilesVariable], ",") {
		if p = strings.TrimSpace(p); p != "" {
			profiles = append(profiles, p)
		}
	}

	details := types.ConfigDetails{
		WorkingDir: req.Dir,
		ConfigFiles: []types.ConfigFile{
			{Filename: filepath.Join(req.Dir, req.Label()), Content: content},
		},
		Environment: types.Mapping(env),
	}

	project, err := loader.LoadWithContext(ctx, details, func(o *loader.Options) {
		o.SetProjectName(name, true)
		o.Profiles = profiles
	})
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", req.Label(), err)
	}
	return project, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return !errors.Is(err, os.ErrNotExist)
}
