package compose

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/artpar/releaser/internal/core/descriptor"
	"github.com/artpar/releaser/internal/shell/runner"
)

// =============================================================================
// CLI Renderer
// =============================================================================

// CLIRenderer renders descriptors by running "<cli> config". Use it when the
// installed compose version must be the source of truth.
type CLIRenderer struct {
	runner runner.Runner
	cli    CLI
	logger *slog.Logger
}

// NewCLIRenderer creates a CLIRenderer.
func NewCLIRenderer(r runner.Runner, cli CLI, logger *slog.Logger) *CLIRenderer {
	if logger == nil {
		logger = slog.Default()
	}
	return &CLIRenderer{runner: r, cli: cli, logger: logger.With("component", "compose")}
}

// Render implements Renderer.
func (c *CLIRenderer) Render(ctx context.Context, req Request) *descriptor.Rendered {
	out := &descriptor.Rendered{Name: req.Label()}

	res, err := c.runner.Run(ctx, c.cli.Command(req.Dir, req.File, req.EnvFiles, "config"))
	if res != nil {
		out.Diagnostics = stderrLines(res.Stderr)
	}
	if err != nil {
		out.Err = fmt.Errorf("render %s: %w", req.Label(), err)
		return out
	}

	var tree descriptor.Tree
	if err := yaml.Unmarshal([]byte(res.Stdout), &tree); err != nil {
		out.Err = fmt.Errorf("decode %s: %w", req.Label(), err)
		return out
	}
	out.Tree = tree
	return out
}

// Services implements Renderer.
func (c *CLIRenderer) Services(ctx context.Context, req Request) ([]string, error) {
	return c.list(ctx, req, "--services")
}

// Profiles implements Renderer.
func (c *CLIRenderer) Profiles(ctx context.Context, req Request) ([]string, error) {
	return c.list(ctx, req, "--profiles")
}

func (c *CLIRenderer) list(ctx context.Context, req Request, flag string) ([]string, error) {
	res, err := c.runner.Run(ctx, c.cli.Command(req.Dir, req.File, req.EnvFiles, "config", flag))
	if err != nil {
		return nil, fmt.Errorf("list %s of %s: %w", strings.TrimPrefix(flag, "--"), req.Label(), err)
	}
	return res.Lines(), nil
}

func stderrLines(s string) []string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return out
}
