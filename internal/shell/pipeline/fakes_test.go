package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/artpar/releaser/internal/core/descriptor"
	"github.com/artpar/releaser/internal/core/domain"
	"github.com/artpar/releaser/internal/core/environment"
	"github.com/artpar/releaser/internal/core/stages"
	"github.com/artpar/releaser/internal/shell/checkout"
	"github.com/artpar/releaser/internal/shell/gitlab"
	"github.com/artpar/releaser/internal/shell/orchestrator"
)

// =============================================================================
// Backend
// =============================================================================

type backendCall struct {
	Op        string
	Path      string
	Namespace string
}

type fakeBackend struct {
	calls []backendCall

	// validation is returned by Validate, keyed by namespace. Valid when absent.
	validation map[string]*descriptor.Report
	// reports is returned by the actions, keyed by namespace. Success when absent.
	reports map[string]stages.Report
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{validation: map[string]*descriptor.Report{}, reports: map[string]stages.Report{}}
}

func (b *fakeBackend) Kind() orchestrator.Kind { return orchestrator.KindCluster }

func (b *fakeBackend) Validate(_ context.Context, path, ns string) (*descriptor.Report, error) {
	b.calls = append(b.calls, backendCall{"validate", path, ns})
	if r, ok := b.validation[ns]; ok {
		return r, nil
	}
	return &descriptor.Report{Valid: true}, nil
}

func (b *fakeBackend) action(op, path, ns string) stages.Report {
	b.calls = append(b.calls, backendCall{op, path, ns})
	if r, ok := b.reports[ns]; ok {
		return r
	}
	return stages.Report{Status: stages.Success}
}

func (b *fakeBackend) Deploy(_ context.Context, path, ns string) stages.Report {
	return b.action("deploy", path, ns)
}
func (b *fakeBackend) Stop(_ context.Context, path, ns string) stages.Report {
	return b.action("stop", path, ns)
}
func (b *fakeBackend) Restart(_ context.Context, path, ns string) stages.Report {
	return b.action("restart", path, ns)
}
func (b *fakeBackend) Backup(_ context.Context, path, ns string) stages.Report {
	return b.action("backup", path, ns)
}
func (b *fakeBackend) Sanitize(_ context.Context, path, ns string) stages.Report {
	return b.action("sanitize", path, ns)
}
func (b *fakeBackend) Reference() string { return "reference" }

func (b *fakeBackend) ops() []string {
	out := make([]string, len(b.calls))
	for i, c := range b.calls {
		out[i] = c.Op + " " + c.Namespace
	}
	return out
}

// =============================================================================
// Source host
// =============================================================================

type fakeSource struct {
	groups   map[string]*gitlab.Group
	projects map[string][]gitlab.Project
	tags     map[int][]gitlab.Tag
	files    map[string][]byte // "<id>:<path>@<ref>"
	err      error
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		groups:   map[string]*gitlab.Group{},
		projects: map[string][]gitlab.Project{},
		tags:     map[int][]gitlab.Tag{},
		files:    map[string][]byte{},
	}
}

// addProject registers group/app with the given tags and returns its id.
func (s *fakeSource) addProject(group, app string, tags ...string) int {
	id := len(s.projects) + 100
	s.groups[group] = &gitlab.Group{ID: id + 1000, Path: group, FullPath: group}
	path := group + "/" + app
	s.projects[path] = []gitlab.Project{{ID: id, Path: app, PathWithNamespace: path, DefaultBranch: "main"}}
	for _, name := range tags {
		s.tags[id] = append(s.tags[id], gitlab.Tag{Name: name})
	}
	return id
}

func (s *fakeSource) FindGroup(_ context.Context, path string) (*gitlab.Group, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.groups[path], nil
}

func (s *fakeSource) SearchProjects(_ context.Context, path string) ([]gitlab.Project, error) {
	return s.projects[path], nil
}

func (s *fakeSource) RawFile(_ context.Context, id int, path, ref string) ([]byte, error) {
	return s.files[filepathKey(id, path, ref)], nil
}

func (s *fakeSource) Tags(_ context.Context, id int) ([]gitlab.Tag, error) {
	return s.tags[id], nil
}

func filepathKey(id int, path, ref string) string {
	return fmt.Sprintf("%d:%s@%s", id, path, ref)
}

// =============================================================================
// Checkout
// =============================================================================

type fakeCheckout struct {
	root      string
	requests  []checkout.Request
	discarded []string
	fail      map[string]bool // by app
}

func (c *fakeCheckout) Export(_ context.Context, req checkout.Request) (string, error) {
	c.requests = append(c.requests, req)
	if c.fail[req.App] {
		return "", errors.New("remote branch not found")
	}
	return filepath.Join(c.root, req.Project+"_"+req.App), nil
}

func (c *fakeCheckout) Discard(path string) error {
	c.discarded = append(c.discarded, path)
	return nil
}

// =============================================================================
// Notifier and metrics
// =============================================================================

type sentMail struct {
	Subject string
	Body    string
	CC      []string
}

type fakeNotifier struct {
	sent []sentMail
}

func (n *fakeNotifier) Send(_ context.Context, subject, body string, cc []string) error {
	n.sent = append(n.sent, sentMail{subject, body, cc})
	return nil
}

type fakeMetrics struct {
	mu     sync.Mutex
	builds map[string]int
	locks  int
	runs   []bool
}

func (m *fakeMetrics) BuildFinished(op, status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.builds == nil {
		m.builds = map[string]int{}
	}
	m.builds[op+"/"+status]++
}

func (m *fakeMetrics) LockRejected(string) { m.locks++ }

func (m *fakeMetrics) RunFinished(_ string, _ time.Duration, failed bool) {
	m.runs = append(m.runs, failed)
}

// =============================================================================
// Harness
// =============================================================================

var fixedNow = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

var testTemplate = []environment.Variable{
	{Name: "COMPOSE_PROFILES", Value: "default"},
	{Name: "VERSION", Value: "%VERSION%"},
	{Name: "SERVER", Value: "%SERVER%"},
}

func build(project, app string, stage domain.Stage) domain.Build {
	return domain.Build{Project: project, App: app, Stage: stage, Active: true}
}

type harness struct {
	apps     string
	backend  *fakeBackend
	source   *fakeSource
	checkout *fakeCheckout
	metrics  *fakeMetrics
	pipeline *Pipeline
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		apps:     t.TempDir(),
		backend:  newFakeBackend(),
		source:   newFakeSource(),
		checkout: &fakeCheckout{root: t.TempDir(), fail: map[string]bool{}},
		metrics:  &fakeMetrics{},
	}

	p, err := New(Config{
		Server:   "deploy-01",
		AppsDir:  h.apps,
		Deployer: "ops",
		Template: TemplateSource{Variables: testTemplate},
	}, Deps{
		Backend:  h.backend,
		Source:   h.source,
		Checkout: h.checkout,
		Metrics:  h.metrics,
		Now:      func() time.Time { return fixedNow },
	})
	require.NoError(t, err)
	h.pipeline = p
	return h
}

// settle registers a build at the source host and writes its settings.
func (h *harness) settle(t *testing.T, b domain.Build, tags ...string) {
	t.Helper()
	h.source.addProject(b.Project, b.App, tags...)
	h.writeSettings(t, b, "DB_PASS=secret\n")
}

func (h *harness) writeSettings(t *testing.T, b domain.Build, content string) {
	t.Helper()
	dir := filepath.Join(h.apps, b.Namespace())
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte(content), 0o600))
}
