package compose

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artpar/releaser/internal/core/descriptor"
)

const checkoutCompose = `
services:
  web:
    image: registry.example.com/agro/portal:${VERSION}
    ports:
      - "8080:80"
    networks:
      - agro_portal_alpha
    volumes:
      - agro_portal_alpha_data:/data
  backup:
    image: registry.example.com/agro/portal-backup:${VERSION}
    profiles: [cli]
    networks:
      - agro_portal_alpha
networks:
  agro_portal_alpha:
    external: true
volumes:
  agro_portal_alpha_data:
    external: true
`

func writeCheckout(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "checkout")
	for name, content := range files {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	}
	return dir
}

func TestNativeRenderer_Render(t *testing.T) {
	dir := writeCheckout(t, map[string]string{
		"docker-compose.yaml": checkoutCompose,
		".env.io":             "VERSION=3.24.7-alpha.17\n",
	})
	n := NewNativeRenderer(nil)

	r := n.Render(context.Background(), Request{Dir: dir, EnvFiles: []string{".env.io"}})
	require.NoError(t, r.Err)
	assert.Equal(t, "docker-compose.yaml", r.Name)
	assert.Empty(t, r.Diagnostics)

	svcs, ok := r.Tree["services"].(map[string]any)
	require.True(t, ok)
	web, ok := svcs["web"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "registry.example.com/agro/portal:3.24.7-alpha.17", web["image"])

	report := descriptor.ValidateLocal(descriptor.Input{
		Namespace:       "agro_portal_alpha",
		Build:           r,
		StartupServices: []string{"web"},
		OneShotServices: []string{"backup", "web"},
	})
	assert.True(t, report.Valid, "errors: %v", report.Errors)
}

func TestNativeRenderer_RenderReportsUnsetVariables(t *testing.T) {
	dir := writeCheckout(t, map[string]string{"docker-compose.yaml": checkoutCompose})
	n := NewNativeRenderer(nil)

	r := n.Render(context.Background(), Request{Dir: dir})
	require.NoError(t, r.Err)
	assert.Contains(t, r.Diagnostics, `The "VERSION" variable is not set. Defaulting to a blank string.`)
}

func TestNativeRenderer_MissingFile(t *testing.T) {
	n := NewNativeRenderer(nil)

	r := n.Render(context.Background(), Request{Dir: t.TempDir(), File: ".releaser/swarm/deployment.yaml"})
	assert.Error(t, r.Err)
	assert.Equal(t, ".releaser/swarm/deployment.yaml", r.Name)
	assert.Nil(t, r.Tree)
}

func TestNativeRenderer_MissingEnvFile(t *testing.T) {
	dir := writeCheckout(t, map[string]string{"docker-compose.yaml": checkoutCompose})
	n := NewNativeRenderer(nil)

	r := n.Render(context.Background(), Request{Dir: dir, EnvFiles: []string{".env.sh"}})
	assert.Error(t, r.Err)
}

func TestNativeRenderer_ServicesFollowProfiles(t *testing.T) {
	dir := writeCheckout(t, map[string]string{
		"docker-compose.yaml": checkoutCompose,
		".env.io":             "VERSION=1\n",
		".env.sh":             "VERSION=1\nCOMPOSE_PROFILES=cli\n",
	})
	n := NewNativeRenderer(nil)
	ctx := context.Background()

	startup, err := n.Services(ctx, Request{Dir: dir, EnvFiles: []string{".env.io"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"web"}, startup)

	oneShot, err := n.Services(ctx, Request{Dir: dir, EnvFiles: []string{".env.sh"}})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"backup", "web"}, oneShot)

	profiles, err := n.Profiles(ctx, Request{Dir: dir, EnvFiles: []string{".env.io"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"cli"}, profiles)
}
