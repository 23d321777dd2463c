package orchestrator

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/artpar/releaser/internal/core/descriptor"
	"github.com/artpar/releaser/internal/shell/compose"
	"github.com/artpar/releaser/internal/shell/console"
	"github.com/artpar/releaser/internal/shell/docker"
	"github.com/artpar/releaser/internal/shell/runner"
)

const ns = "agro_portal_alpha"

// =============================================================================
// Fakes
// =============================================================================

// fakeRunner records command lines. Commands whose line starts with a key of
// fail exit non-zero; stdout answers by exact line.
type fakeRunner struct {
	calls  []string
	stdout map[string]string
	fail   map[string]bool
}

func (f *fakeRunner) Run(_ context.Context, cmd runner.Command) (*runner.Result, error) {
	line := cmd.String()
	f.calls = append(f.calls, line)

	res := &runner.Result{Stdout: f.stdout[line]}
	for prefix := range f.fail {
		if strings.HasPrefix(line, prefix) {
			res.ExitCode = 1
			res.Combined = "boom\n"
			return res, &runner.ExitError{Command: line, ExitCode: 1, Output: res.Combined}
		}
	}
	return res, nil
}

func (f *fakeRunner) ran(prefix string) bool {
	for _, c := range f.calls {
		if strings.HasPrefix(c, prefix) {
			return true
		}
	}
	return false
}

func (f *fakeRunner) index(prefix string) int {
	for i, c := range f.calls {
		if strings.HasPrefix(c, prefix) {
			return i
		}
	}
	return -1
}

// fakeRenderer serves YAML fixtures by descriptor label and service lists by
// the last env file of the request.
type fakeRenderer struct {
	t        *testing.T
	files    map[string]string
	services map[string][]string
	profiles map[string][]string
}

func (f *fakeRenderer) Render(_ context.Context, req compose.Request) *descriptor.Rendered {
	var tree descriptor.Tree
	require.NoError(f.t, yaml.Unmarshal([]byte(f.files[req.Label()]), &tree))
	return &descriptor.Rendered{Name: req.Label(), Tree: tree}
}

func (f *fakeRenderer) Services(_ context.Context, req compose.Request) ([]string, error) {
	return f.services[req.EnvFiles[len(req.EnvFiles)-1]], nil
}

func (f *fakeRenderer) Profiles(_ context.Context, req compose.Request) ([]string, error) {
	return f.profiles[req.Label()], nil
}

type fakeDocker struct {
	networks []docker.NetworkSpec
	err      error
}

func (f *fakeDocker) Ping(context.Context) error { return nil }
func (f *fakeDocker) Close() error               { return nil }

func (f *fakeDocker) EnsureNetwork(_ context.Context, spec docker.NetworkSpec) (bool, error) {
	f.networks = append(f.networks, spec)
	return f.err == nil, f.err
}

type sleeper struct {
	slept []time.Duration
}

func (s *sleeper) Sleep(_ context.Context, d time.Duration) error {
	s.slept = append(s.slept, d)
	return nil
}

// =============================================================================
// Fixtures
// =============================================================================

const buildDescriptor = `
services:
  web:
    image: registry.example/agro/portal:2.24.7-alpha.1
    ports:
      - target: 80
        published: "8080"
    networks:
      stack: null
  backup:
    image: registry.example/agro/portal-backup:2.24.7-alpha.1
    profiles: [cli]
networks:
  stack:
    external: true
    name: agro_portal_alpha
`

const deployDescriptor = `
services:
  web:
    image: registry.example/agro/portal:2.24.7-alpha.1
    networks:
      stack: null
    deploy:
      restart_policy:
        condition: on-failure
networks:
  stack:
    external: true
    name: agro_portal_alpha
`

const backupDescriptor = `
services:
  backup:
    image: registry.example/agro/portal-backup:2.24.7-alpha.1
    networks:
      stack: null
    deploy:
      restart_policy:
        condition: none
networks:
  stack:
    external: true
    name: agro_portal_alpha
`

type harness struct {
	dir      string
	runner   *fakeRunner
	renderer *fakeRenderer
	docker   *fakeDocker
	sleeper  *sleeper
	log      *bytes.Buffer
	console  *bytes.Buffer
}

// newHarness writes a checkout holding every descriptor path in files.
func newHarness(t *testing.T, files map[string]string) *harness {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, DefaultMetadataDir), 0o755))
	for name, content := range files {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	}

	return &harness{
		dir:    dir,
		runner: &fakeRunner{stdout: map[string]string{}, fail: map[string]bool{}},
		renderer: &fakeRenderer{
			t:     t,
			files: files,
			services: map[string][]string{
				CIEnvFile:      {"web"},
				OneShotEnvFile: {"backup", "web"},
			},
			profiles: map[string][]string{},
		},
		docker:  &fakeDocker{},
		sleeper: &sleeper{},
		log:     &bytes.Buffer{},
		console: &bytes.Buffer{},
	}
}

func (h *harness) backend(t *testing.T, kind Kind) Backend {
	t.Helper()
	b, err := New(kind, Deps{
		Runner:   h.runner,
		Renderer: h.renderer,
		Docker:   h.docker,
		Logger:   slog.New(console.NewHandler(h.log, &console.Options{Level: slog.LevelDebug})),
		Console:  h.console,
		Sleep:    h.sleeper.Sleep,
		Drain:    10 * time.Second,
	})
	require.NoError(t, err)
	return b
}

func localFiles() map[string]string {
	return map[string]string{"docker-compose.yaml": buildDescriptor}
}

func clusterFiles() map[string]string {
	return map[string]string{
		"docker-compose.yaml":               buildDescriptor,
		".releaser/swarm/deployment.yaml":   deployDescriptor,
		".releaser/swarm/cli/backup.yaml":   backupDescriptor,
		".releaser/swarm/cli/sanitize.yaml": strings.ReplaceAll(backupDescriptor, "backup", "sanitize"),
	}
}
