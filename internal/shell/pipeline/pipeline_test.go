package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artpar/releaser/internal/core/descriptor"
	"github.com/artpar/releaser/internal/core/domain"
	"github.com/artpar/releaser/internal/core/environment"
	"github.com/artpar/releaser/internal/core/stages"
)

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := New(Config{}, Deps{})
	assert.ErrorIs(t, err, domain.ErrConfig)
}

func TestPipeline_ValidateIsolatesBuilds(t *testing.T) {
	h := newHarness(t)
	broken := build("agro", "api", domain.StageBeta)
	good := build("agro", "portal", domain.StageBeta)
	h.settle(t, broken)
	h.settle(t, good)

	h.backend.validation[broken.Namespace()] = &descriptor.Report{
		Valid:  false,
		Errors: []string{"volume 'db' is not external"},
	}

	report, err := h.pipeline.Run(context.Background(), Request{Operation: OpValidate, Builds: []domain.Build{good, broken}})
	require.NoError(t, err)

	require.Len(t, report.Outcomes, 2)
	assert.Equal(t, "agro/api@beta", report.Outcomes[0].Key)
	assert.Equal(t, StatusFailure, report.Outcomes[0].Status)
	assert.Equal(t, "volume 'db' is not external", report.Outcomes[0].Message)
	assert.Equal(t, "agro/portal@beta", report.Outcomes[1].Key)
	assert.Equal(t, StatusSuccess, report.Outcomes[1].Status)
	assert.True(t, report.WorkPerformed)
	assert.True(t, report.Failed())

	assert.Len(t, h.checkout.discarded, 2, "every export is discarded")
	assert.Equal(t, 1, h.metrics.builds["validate/failure"])
	assert.Equal(t, 1, h.metrics.builds["validate/success"])
}

func TestPipeline_DeployFirstInvalidSecondValid(t *testing.T) {
	h := newHarness(t)
	first := build("agro", "api", domain.StageAlpha)
	second := build("agro", "portal", domain.StageAlpha)
	h.settle(t, first, "3.26.2-alpha.1")
	h.settle(t, second, "3.26.2-alpha.1")

	h.backend.reports[first.Namespace()] = stages.Report{
		Status:  stages.Fatal,
		Results: []stages.Result{stages.Abort("descriptors are invalid", errors.New("volume 'db' is not external"))},
	}

	report, err := h.pipeline.Run(context.Background(), Request{Operation: OpDeploy, Builds: []domain.Build{first, second}})
	require.NoError(t, err)

	assert.Equal(t, 1, report.Count(StatusFailure))
	assert.Equal(t, 1, report.Count(StatusSuccess))
	assert.Equal(t, []string{"deploy agro_api_alpha", "deploy agro_portal_alpha"}, h.backend.ops())
}

func TestPipeline_DeployUsesLatestTag(t *testing.T) {
	h := newHarness(t)
	b := build("agro", "portal", domain.StageBeta)
	h.settle(t, b, "3.26.2-beta.1", "3.26.3-beta.2", "3.26.3-alpha.9", "garbage", "3.26.3-beta.10")

	_, err := h.pipeline.Run(context.Background(), Request{Operation: OpDeploy, Builds: []domain.Build{b}})
	require.NoError(t, err)

	require.Len(t, h.checkout.requests, 1)
	req := h.checkout.requests[0]
	assert.Equal(t, "beta", req.Ref)
	assert.False(t, req.Tag)
	assert.Equal(t, "DB_PASS=secret\n", req.Env)
	assert.Equal(t, "COMPOSE_PROFILES=default\nVERSION=3.26.3-beta.10\nSERVER=deploy-01\n", req.CIEnv)
	assert.Equal(t, "COMPOSE_PROFILES=cli\nVERSION=3.26.3-beta.10\nSERVER=deploy-01\n", req.OneShotEnv)
}

func TestPipeline_DeployWithoutValidTag(t *testing.T) {
	h := newHarness(t)
	b := build("agro", "portal", domain.StageRelease)
	h.settle(t, b, "3.26.2-beta.1")

	report, err := h.pipeline.Run(context.Background(), Request{Operation: OpDeploy, Builds: []domain.Build{b}})
	require.NoError(t, err)

	require.Len(t, report.Outcomes, 1)
	assert.Equal(t, StatusFailure, report.Outcomes[0].Status)
	assert.Equal(t, "no valid release version tag found", report.Outcomes[0].Message)
	assert.Empty(t, h.checkout.requests)
}

func TestPipeline_Rollback(t *testing.T) {
	b := build("agro", "portal", domain.StageBeta)

	tests := []struct {
		name    string
		version string
		wantErr string
	}{
		{name: "existing tag", version: "3.26.2-beta.1"},
		{name: "invalid version", version: "3.26.2-alpha.1", wantErr: `version "3.26.2-alpha.1" is not a valid beta version`},
		{name: "unknown tag", version: "3.26.1-beta.4", wantErr: "version 3.26.1-beta.4 not found in the repository"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.settle(t, b, "3.26.2-beta.1", "3.26.3-beta.1")

			report, err := h.pipeline.Run(context.Background(), Request{Operation: OpRollback, Builds: []domain.Build{b}, Version: tt.version})
			require.NoError(t, err)
			require.Len(t, report.Outcomes, 1)

			if tt.wantErr != "" {
				assert.Equal(t, StatusFailure, report.Outcomes[0].Status)
				assert.Equal(t, tt.wantErr, report.Outcomes[0].Message)
				assert.Empty(t, h.backend.calls)
				return
			}

			assert.Equal(t, StatusSuccess, report.Outcomes[0].Status)
			require.Len(t, h.checkout.requests, 1)
			assert.Equal(t, tt.version, h.checkout.requests[0].Ref)
			assert.True(t, h.checkout.requests[0].Tag)
			assert.Equal(t, []string{"deploy agro_portal_beta"}, h.backend.ops())
		})
	}
}

func TestPipeline_RollbackNeedsOneBuild(t *testing.T) {
	h := newHarness(t)
	_, err := h.pipeline.Run(context.Background(), Request{
		Operation: OpRollback,
		Builds:    []domain.Build{build("a", "b", domain.StageBeta), build("a", "c", domain.StageBeta)},
	})
	assert.ErrorIs(t, err, domain.ErrSelection)
}

func TestPipeline_NonDeployUsesSampleVersion(t *testing.T) {
	h := newHarness(t)
	b := build("agro", "portal", domain.StageAlpha)
	h.settle(t, b)

	_, err := h.pipeline.Run(context.Background(), Request{Operation: OpRestart, Builds: []domain.Build{b}})
	require.NoError(t, err)

	require.Len(t, h.checkout.requests, 1)
	assert.Contains(t, h.checkout.requests[0].CIEnv, "VERSION=2.26.3-alpha.7\n")
	assert.Equal(t, []string{"restart agro_portal_alpha"}, h.backend.ops())
}

func TestPipeline_InactiveBuilds(t *testing.T) {
	inactive := build("agro", "portal", domain.StageBeta)
	inactive.Active = false

	t.Run("skipped for deploy", func(t *testing.T) {
		h := newHarness(t)
		h.settle(t, inactive, "3.26.2-beta.1")

		report, err := h.pipeline.Run(context.Background(), Request{Operation: OpDeploy, Builds: []domain.Build{inactive}})
		require.NoError(t, err)
		assert.Equal(t, StatusSkipped, report.Outcomes[0].Status)
		assert.False(t, report.WorkPerformed)
		assert.Empty(t, h.backend.calls)
	})

	t.Run("stopped anyway", func(t *testing.T) {
		h := newHarness(t)
		h.settle(t, inactive)

		report, err := h.pipeline.Run(context.Background(), Request{Operation: OpStop, Builds: []domain.Build{inactive}})
		require.NoError(t, err)
		assert.Equal(t, StatusSuccess, report.Outcomes[0].Status)
		assert.True(t, report.WorkPerformed)
		assert.Equal(t, []string{"stop agro_portal_beta"}, h.backend.ops())
	})
}

func TestPipeline_PerBuildFailures(t *testing.T) {
	b := build("agro", "portal", domain.StageBeta)

	tests := []struct {
		name    string
		setup   func(t *testing.T, h *harness)
		wantMsg string
	}{
		{
			name:    "missing settings",
			setup:   func(t *testing.T, h *harness) { h.source.addProject("agro", "portal") },
			wantMsg: "", // depends on the temp dir
		},
		{
			name: "project not found",
			setup: func(t *testing.T, h *harness) {
				h.writeSettings(t, b, "A=1\n")
			},
			wantMsg: "Project not found",
		},
		{
			name: "repository not found",
			setup: func(t *testing.T, h *harness) {
				h.writeSettings(t, b, "A=1\n")
				h.source.addProject("agro", "other")
			},
			wantMsg: "Repository not found",
		},
		{
			name: "spaces in settings",
			setup: func(t *testing.T, h *harness) {
				h.settle(t, b)
				h.writeSettings(t, b, "A=1\nB=two words\n")
			},
			wantMsg: "invalid settings file",
		},
		{
			name: "checkout failure",
			setup: func(t *testing.T, h *harness) {
				h.settle(t, b)
				h.checkout.fail["portal"] = true
			},
			wantMsg: "checkout failed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			tt.setup(t, h)

			report, err := h.pipeline.Run(context.Background(), Request{Operation: OpBackup, Builds: []domain.Build{b}})
			require.NoError(t, err)
			require.Len(t, report.Outcomes, 1)

			want := tt.wantMsg
			if want == "" {
				want = "settings file " + h.apps + "/agro_portal_beta/.env not found"
			}
			assert.Equal(t, StatusFailure, report.Outcomes[0].Status)
			assert.Equal(t, want, report.Outcomes[0].Message)
			assert.Empty(t, h.backend.calls)
			assert.Empty(t, h.checkout.discarded)
		})
	}
}

func TestPipeline_InvalidSlug(t *testing.T) {
	h := newHarness(t)
	b := build("Agro", "portal", domain.StageBeta)
	h.settle(t, b)

	report, err := h.pipeline.Run(context.Background(), Request{Operation: OpValidate, Builds: []domain.Build{b}})
	require.NoError(t, err)
	assert.Equal(t, "invalid build", report.Outcomes[0].Message)
}

func TestPipeline_WarningOutcome(t *testing.T) {
	h := newHarness(t)
	b := build("agro", "portal", domain.StageBeta)
	h.settle(t, b, "3.26.2-beta.1")
	h.backend.reports[b.Namespace()] = stages.Report{
		Status:  stages.Warning,
		Results: []stages.Result{{Stage: "Executing backup service before deploy", Status: stages.Warning, Message: "backup failed"}},
	}

	report, err := h.pipeline.Run(context.Background(), Request{Operation: OpDeploy, Builds: []domain.Build{b}})
	require.NoError(t, err)

	assert.Equal(t, StatusWarning, report.Outcomes[0].Status)
	assert.Equal(t, []string{"backup failed"}, report.Outcomes[0].Warnings)
}

func TestPipeline_ValidationWarnings(t *testing.T) {
	h := newHarness(t)
	b := build("agro", "portal", domain.StageBeta)
	h.settle(t, b)
	h.backend.validation[b.Namespace()] = &descriptor.Report{Valid: true, Warnings: []string{"no network named agro_portal_beta"}}

	report, err := h.pipeline.Run(context.Background(), Request{Operation: OpValidate, Builds: []domain.Build{b}})
	require.NoError(t, err)
	assert.Equal(t, StatusWarning, report.Outcomes[0].Status)
}

type failingPreflight struct{}

func (failingPreflight) Check(context.Context) error {
	return domain.NewError("Check", domain.ErrConnectivity, "Impossible to connect in host root@deploy-01", nil)
}

func TestPipeline_PreflightAbortsRun(t *testing.T) {
	h := newHarness(t)
	h.pipeline.deps.Preflight = failingPreflight{}
	b := build("agro", "portal", domain.StageBeta)
	h.settle(t, b)

	report, err := h.pipeline.Run(context.Background(), Request{Operation: OpStop, Builds: []domain.Build{b}})
	assert.ErrorIs(t, err, domain.ErrConnectivity)
	assert.Empty(t, report.Outcomes)
	assert.False(t, report.WorkPerformed)
}

func TestPipeline_TemplateFromMetadataRepository(t *testing.T) {
	h := newHarness(t)
	id := h.source.addProject("infra", "metadata")
	h.source.files[filepathKey(id, "orchestrators.json", "main")] = []byte(`[
  {"type": "DockerCompose", "variables": {"COMPOSE_PROFILES": "web"}},
  {"type": "DockerSwarm", "variables": {"COMPOSE_PROFILES": "default", "STAGE": "%STAGE%"}}
]`)
	h.pipeline.cfg.Template = TemplateSource{MetadataRepository: "infra/metadata"}

	b := build("agro", "portal", domain.StageBeta)
	h.settle(t, b)

	_, err := h.pipeline.Run(context.Background(), Request{Operation: OpValidate, Builds: []domain.Build{b}})
	require.NoError(t, err)
	require.Len(t, h.checkout.requests, 1)
	assert.Equal(t, "COMPOSE_PROFILES=default\nSTAGE=beta\n", h.checkout.requests[0].CIEnv)
}

func TestLoadTemplate_Errors(t *testing.T) {
	src := newFakeSource()
	src.addProject("infra", "metadata")

	tests := []struct {
		name string
		ts   TemplateSource
	}{
		{"nothing configured", TemplateSource{}},
		{"unknown repository", TemplateSource{MetadataRepository: "infra/missing"}},
		{"missing file", TemplateSource{MetadataRepository: "infra/metadata", MetadataFile: "other.json"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := loadTemplate(context.Background(), tt.ts, src, "DockerSwarm")
			assert.ErrorIs(t, err, domain.ErrConfig)
		})
	}

	vars, err := loadTemplate(context.Background(), TemplateSource{Variables: []environment.Variable{{Name: "A", Value: "1"}}}, src, "DockerSwarm")
	require.NoError(t, err)
	assert.Len(t, vars, 1)
}

func TestRunReport_Summary(t *testing.T) {
	r := &RunReport{Operation: OpDeploy, Outcomes: []Outcome{
		{Key: "agro/portal@beta", Status: StatusSuccess},
		{Key: "fin/ledger@alpha", Status: StatusFailure, Message: "Repository not found"},
		{Key: "fin/api@alpha", Status: StatusWarning, Message: "backup failed", Warnings: []string{"backup failed"}},
	}}

	assert.Equal(t, "agro/portal@beta: success\n"+
		"fin/ledger@alpha: failure (Repository not found)\n"+
		"fin/api@alpha: warning (backup failed)\n"+
		"  - backup failed\n"+
		"deploy: 1 success, 1 warning, 1 failure, 0 skipped\n", r.Summary())
}

func TestParseOperation(t *testing.T) {
	for _, op := range Operations {
		got, err := ParseOperation(" " + string(op) + " ")
		require.NoError(t, err)
		assert.Equal(t, op, got)
	}

	_, err := ParseOperation("destroy")
	assert.ErrorIs(t, err, domain.ErrConfig)

	assert.True(t, OpDeploy.Unattended())
	assert.True(t, OpSanitize.Unattended())
	assert.False(t, OpRollback.Unattended())
	assert.True(t, OpStop.IncludesInactive())
	assert.False(t, OpDeploy.IncludesInactive())
}
