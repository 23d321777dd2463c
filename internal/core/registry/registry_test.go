package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artpar/releaser/internal/core/domain"
)

const buildsJSON = `[
  {"project": "agro", "app": "portal", "stage": "beta", "active": true, "sentry": {"dsn": "https://k@sentry.example/1"}},
  {"project": "agro", "app": "portal", "stage": "release", "active": true, "matomo": {"id": "12"}},
  {"project": "fin", "app": "ledger", "stage": "alpha", "active": false}
]`

func mustParse(t *testing.T) []domain.Build {
	t.Helper()
	builds, err := Parse([]byte(buildsJSON))
	require.NoError(t, err)
	return builds
}

// =============================================================================
// Parse Tests
// =============================================================================

func TestParse(t *testing.T) {
	builds := mustParse(t)

	require.Len(t, builds, 3)
	assert.Equal(t, "agro/portal@beta", builds[0].Key())
	assert.Equal(t, "https://k@sentry.example/1", builds[0].Sentry.DSN)
	assert.Equal(t, "12", builds[1].Matomo.ID)
	assert.False(t, builds[2].Active)
}

func TestParse_YAML(t *testing.T) {
	builds, err := Parse([]byte("- project: agro\n  app: portal\n  stage: alpha\n  active: true\n"))
	require.NoError(t, err)
	require.Len(t, builds, 1)
	assert.Equal(t, domain.StageAlpha, builds[0].Stage)
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"empty", ""},
		{"whitespace", "  \n"},
		{"empty list", "[]"},
		{"malformed", `[{"project": "agro",`},
		{"object instead of list", `{"project": "agro"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.data))
			require.Error(t, err)
			assert.ErrorIs(t, err, domain.ErrConfig)
		})
	}
}

// =============================================================================
// Selector Tests
// =============================================================================

func TestParseSelector(t *testing.T) {
	assert.Equal(t, Selector{All: true}, ParseSelector(" --all "))
	assert.Equal(t, Selector{Keys: []string{"a/b@beta", "c/d@release"}}, ParseSelector("a/b@beta, c/d@release,"))
	assert.Equal(t, "a/b@beta,c/d@release", ParseSelector("a/b@beta,c/d@release").String())
	assert.Empty(t, ParseSelector("").Keys)
}

// =============================================================================
// Resolve Tests
// =============================================================================

func TestResolve_All(t *testing.T) {
	builds := mustParse(t)

	sel, err := Resolve(builds, Selector{All: true})
	require.NoError(t, err)

	assert.Len(t, sel.Builds, len(builds))
	assert.Equal(t, []string{"agro/portal@beta", "agro/portal@release", "fin/ledger@alpha"}, sel.Keys())
	assert.Empty(t, sel.Unknown)
}

func TestResolve_Subset(t *testing.T) {
	sel, err := Resolve(mustParse(t), ParseSelector("fin/ledger@alpha,agro/portal@beta"))
	require.NoError(t, err)

	assert.Equal(t, []string{"agro/portal@beta", "fin/ledger@alpha"}, sel.Keys())
	assert.Equal(t, "agro", sel.Ordered()[0].Project)
}

func TestResolve_UnknownKeysDropped(t *testing.T) {
	sel, err := Resolve(mustParse(t), ParseSelector("agro/portal@beta,agro/portal@gamma"))
	require.NoError(t, err)

	assert.Equal(t, []string{"agro/portal@beta"}, sel.Keys())
	assert.Equal(t, []string{"agro/portal@gamma"}, sel.Unknown)
}

func TestResolve_CaseInsensitiveKeys(t *testing.T) {
	sel, err := Resolve(mustParse(t), ParseSelector("AGRO/Portal@Beta"))
	require.NoError(t, err)
	assert.Equal(t, []string{"agro/portal@beta"}, sel.Keys())
}

func TestResolve_NothingMatches(t *testing.T) {
	_, err := Resolve(mustParse(t), ParseSelector("nope/nope@beta"))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrSelection)
}

func TestResolve_EmptySelector(t *testing.T) {
	_, err := Resolve(mustParse(t), ParseSelector(""))
	assert.ErrorIs(t, err, domain.ErrSelection)
}

func TestResolve_EmptyConfiguration(t *testing.T) {
	_, err := Resolve(nil, Selector{All: true})
	assert.ErrorIs(t, err, domain.ErrConfig)
}

func TestResolve_DuplicateKey(t *testing.T) {
	builds := append(mustParse(t), domain.Build{Project: "fin", App: "ledger", Stage: domain.StageAlpha})

	// Duplicates are rejected even when the selector does not name them.
	_, err := Resolve(builds, ParseSelector("agro/portal@beta"))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrConfig)
	assert.Contains(t, err.Error(), "fin/ledger@alpha")
}
