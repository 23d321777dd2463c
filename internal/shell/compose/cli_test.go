package compose

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artpar/releaser/internal/shell/runner"
)

// fakeRunner answers commands by their rendered line.
type fakeRunner struct {
	results map[string]*runner.Result
	errs    map[string]error
	calls   []string
}

func (f *fakeRunner) Run(_ context.Context, cmd runner.Command) (*runner.Result, error) {
	line := cmd.String()
	f.calls = append(f.calls, line)
	res := f.results[line]
	if res == nil {
		res = &runner.Result{}
	}
	return res, f.errs[line]
}

func TestCLIRenderer_Render(t *testing.T) {
	f := &fakeRunner{results: map[string]*runner.Result{
		"env $(cat .env.io) docker compose config": {
			Stdout: "services:\n  web:\n    image: app:1\n",
			Stderr: "WARN[0000] The \"SENTRY_DSN\" variable is not set. Defaulting to a blank string.\n",
		},
	}}
	c := NewCLIRenderer(f, CLI{Name: "docker", Args: []string{"compose"}}, nil)

	r := c.Render(context.Background(), Request{Dir: "/co", EnvFiles: []string{".env.io"}})
	require.NoError(t, r.Err)
	assert.Equal(t, []string{"services"}, keys(r.Tree))
	assert.Len(t, r.Diagnostics, 1)
}

func TestCLIRenderer_RenderFailure(t *testing.T) {
	line := "docker compose -f .releaser/swarm/deployment.yaml config"
	f := &fakeRunner{
		results: map[string]*runner.Result{line: {Stderr: "yaml: line 3: mapping values are not allowed\n"}},
		errs:    map[string]error{line: &runner.ExitError{Command: line, ExitCode: 15}},
	}
	c := NewCLIRenderer(f, CLI{Name: "docker", Args: []string{"compose"}}, nil)

	r := c.Render(context.Background(), Request{Dir: "/co", File: ".releaser/swarm/deployment.yaml"})
	require.Error(t, r.Err)
	assert.True(t, errors.Is(r.Err, runner.ErrCommandFailed))
	assert.Equal(t, []string{"yaml: line 3: mapping values are not allowed"}, r.Diagnostics)
}

func TestCLIRenderer_Lists(t *testing.T) {
	f := &fakeRunner{results: map[string]*runner.Result{
		"env $(cat .env.sh) docker compose config --services": {Stdout: "backup\nweb\n"},
		"docker compose config --profiles":                    {Stdout: "cli\n"},
	}}
	c := NewCLIRenderer(f, CLI{Name: "docker", Args: []string{"compose"}}, nil)
	ctx := context.Background()

	svcs, err := c.Services(ctx, Request{Dir: "/co", EnvFiles: []string{".env.sh"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"backup", "web"}, svcs)

	profiles, err := c.Profiles(ctx, Request{Dir: "/co"})
	require.NoError(t, err)
	assert.Equal(t, []string{"cli"}, profiles)
}

func keys(m map[string]any) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
