package checkout

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newOrigin creates <base>/agro/portal.git with an "alpha" branch and a tag
// on its first commit. Cloning from a path needs the git binary.
func newOrigin(t *testing.T) string {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git binary not available")
	}

	base := t.TempDir()
	path := filepath.Join(base, "agro", "portal.git")
	repo, err := git.PlainInit(path, false)
	require.NoError(t, err)
	wt, err := repo.Worktree()
	require.NoError(t, err)

	sig := &object.Signature{Name: "CI", Email: "ci@example.com", When: time.Now()}
	commit := func(content string) plumbing.Hash {
		require.NoError(t, os.WriteFile(filepath.Join(path, "docker-compose.yaml"), []byte(content), 0o644))
		_, err := wt.Add("docker-compose.yaml")
		require.NoError(t, err)
		hash, err := wt.Commit("update", &git.CommitOptions{Author: sig})
		require.NoError(t, err)
		return hash
	}

	first := commit("services: {}\n")
	_, err = repo.CreateTag("3.24.7-alpha.1", first, nil)
	require.NoError(t, err)

	second := commit("services:\n  web:\n    image: app\n")
	require.NoError(t, repo.Storer.SetReference(plumbing.NewHashReference(plumbing.NewBranchReferenceName("alpha"), second)))

	return base
}

func TestExporter_ExportBranch(t *testing.T) {
	base := newOrigin(t)
	e := NewExporter(Config{BaseURL: base + "/", WorkDir: t.TempDir()}, nil)

	dir, err := e.Export(context.Background(), Request{
		Project: "agro", App: "portal", Ref: "alpha",
		Env: "DB_PASS=x\n", CIEnv: "COMPOSE_PROFILES=default\n", OneShotEnv: "COMPOSE_PROFILES=cli\n",
	})
	require.NoError(t, err)

	content, err := os.ReadFile(filepath.Join(dir, "docker-compose.yaml"))
	require.NoError(t, err)
	assert.Contains(t, string(content), "image: app")
	assert.NoDirExists(t, filepath.Join(dir, ".git"))

	for name, want := range map[string]string{".env": "DB_PASS=x\n", ".env.io": "COMPOSE_PROFILES=default\n", ".env.sh": "COMPOSE_PROFILES=cli\n"} {
		info, err := os.Stat(filepath.Join(dir, name))
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0o600), info.Mode().Perm(), name)
		got, _ := os.ReadFile(filepath.Join(dir, name))
		assert.Equal(t, want, string(got))
	}

	require.NoError(t, e.Discard(dir))
	assert.NoDirExists(t, dir)
}

func TestExporter_ExportTag(t *testing.T) {
	base := newOrigin(t)
	e := NewExporter(Config{BaseURL: base, WorkDir: t.TempDir()}, nil)

	dir, err := e.Export(context.Background(), Request{Project: "agro", App: "portal", Ref: "3.24.7-alpha.1", Tag: true})
	require.NoError(t, err)
	defer e.Discard(dir)

	content, err := os.ReadFile(filepath.Join(dir, "docker-compose.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "services: {}\n", string(content))
}

func TestExporter_MissingBranch(t *testing.T) {
	base := newOrigin(t)
	work := t.TempDir()
	e := NewExporter(Config{BaseURL: base, WorkDir: work}, nil)

	_, err := e.Export(context.Background(), Request{Project: "agro", App: "portal", Ref: "release"})
	require.Error(t, err)

	entries, err := os.ReadDir(work)
	require.NoError(t, err)
	assert.Empty(t, entries, "failed exports leave nothing behind")
}

func TestExporter_RequiresFields(t *testing.T) {
	e := NewExporter(Config{}, nil)
	_, err := e.Export(context.Background(), Request{Project: "agro"})
	assert.Error(t, err)
}

func TestExporter_RepositoryURL(t *testing.T) {
	e := NewExporter(Config{BaseURL: "https://git.example.com/"}, nil)
	assert.Equal(t, "https://git.example.com/agro/portal.git", e.RepositoryURL("agro", "portal"))
}

func TestExporter_DiscardEmpty(t *testing.T) {
	assert.NoError(t, NewExporter(Config{}, nil).Discard(""))
}
