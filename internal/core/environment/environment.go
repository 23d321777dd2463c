// Package environment renders the CI and one-shot environment files of a
// build from an ordered variable template.
//
// Template values may contain placeholders that are replaced per build:
//
//	%SERVER%        host the releaser runs on
//	%STAGE%         build stage
//	%PROJECT_UNIX%  project slug
//	%APP_UNIX%      app slug
//	%VERSION%       version being released
//	%DEPLOYER%      deployer contact
//	%SENTRY_DSN%    error tracking DSN of the build
//	%MATOMO_ID%     analytics site id of the build
//	%MATOMO_TOKEN%  md5 of the build key
//
// All functions are pure.
package environment

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/artpar/releaser/internal/core/domain"
)

// ProfilesVariable selects compose profiles. The one-shot file forces it to
// OneShotProfile.
const (
	ProfilesVariable = "COMPOSE_PROFILES"
	OneShotProfile   = "cli"
)

// =============================================================================
// Template
// =============================================================================

// Variable is one NAME=value template line.
type Variable struct {
	Name  string `mapstructure:"name" yaml:"name"`
	Value string `mapstructure:"value" yaml:"value"`
}

// ParseTemplate extracts the variables of the orchestrator entry named
// orchestrator from a metadata document shaped like:
//
//	[{"type": "DockerSwarm", "variables": {"COMPOSE_PROJECT_NAME": "%PROJECT_UNIX%_%APP_UNIX%_%STAGE%", ...}}]
//
// Declaration order is preserved.
func ParseTemplate(data []byte, orchestrator string) ([]Variable, error) {
	var entries []struct {
		Type      string    `yaml:"type"`
		Variables yaml.Node `yaml:"variables"`
	}
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, domain.ConfigError("ParseTemplate", "malformed orchestrators metadata", err)
	}

	for _, e := range entries {
		if e.Type != orchestrator {
			continue
		}
		if e.Variables.Kind != yaml.MappingNode {
			return nil, domain.ConfigError("ParseTemplate", fmt.Sprintf("variables of type %q must be a mapping", orchestrator), nil)
		}

		vars := make([]Variable, 0, len(e.Variables.Content)/2)
		for i := 0; i+1 < len(e.Variables.Content); i += 2 {
			vars = append(vars, Variable{
				Name:  e.Variables.Content[i].Value,
				Value: e.Variables.Content[i+1].Value,
			})
		}
		return vars, nil
	}

	return nil, domain.ConfigError("ParseTemplate", fmt.Sprintf("orchestrator type %q is not registered", orchestrator), nil)
}

// =============================================================================
// Rendering
// =============================================================================

// Values are the per-build placeholder values.
type Values struct {
	Server    string
	Stage     domain.Stage
	Project   string
	App       string
	Version   string
	Deployer  string
	SentryDSN string
	MatomoID  string
	BuildKey  string
}

// ValuesFor collects the placeholder values of build.
func ValuesFor(build domain.Build, server, version, deployer string) Values {
	return Values{
		Server:    server,
		Stage:     build.Stage,
		Project:   build.Project,
		App:       build.App,
		Version:   version,
		Deployer:  deployer,
		SentryDSN: build.Sentry.DSN,
		MatomoID:  build.Matomo.ID,
		BuildKey:  build.Key(),
	}
}

// MatomoToken derives the analytics token of a build key.
func MatomoToken(buildKey string) string {
	sum := md5.Sum([]byte(buildKey))
	return hex.EncodeToString(sum[:])
}

func (v Values) replacer() *strings.Replacer {
	return strings.NewReplacer(
		"%SERVER%", v.Server,
		"%STAGE%", string(v.Stage),
		"%PROJECT_UNIX%", v.Project,
		"%APP_UNIX%", v.App,
		"%VERSION%", v.Version,
		"%DEPLOYER%", v.Deployer,
		"%SENTRY_DSN%", v.SentryDSN,
		"%MATOMO_ID%", v.MatomoID,
		"%MATOMO_TOKEN%", MatomoToken(v.BuildKey),
	)
}

// Render produces the CI environment text and the one-shot environment text.
// Both keep template order; the one-shot text replaces the profiles variable
// with the one-shot profile.
//
// Example:
//
//	ci, oneShot := Render([]Variable{
//		{Name: "IO_STAGE", Value: "%STAGE%"},
//		{Name: "COMPOSE_PROFILES", Value: "web"},
//	}, Values{Stage: "beta"})
//	// ci:      "IO_STAGE=beta\nCOMPOSE_PROFILES=web\n"
//	// oneShot: "IO_STAGE=beta\nCOMPOSE_PROFILES=cli\n"
func Render(template []Variable, v Values) (ci, oneShot string) {
	r := v.replacer()

	var ciBuf, shBuf strings.Builder
	for _, variable := range template {
		line := variable.Name + "=" + r.Replace(variable.Value) + "\n"
		ciBuf.WriteString(line)
		if variable.Name == ProfilesVariable {
			shBuf.WriteString(ProfilesVariable + "=" + OneShotProfile + "\n")
			continue
		}
		shBuf.WriteString(line)
	}
	return ciBuf.String(), shBuf.String()
}

// CheckEnvFile rejects operator settings the runtime cannot consume. Values are
// passed unquoted to the compose tooling, so no spaces are allowed.
func CheckEnvFile(content string) error {
	for i, line := range strings.Split(content, "\n") {
		if strings.Contains(line, " ") {
			return domain.ConfigError("CheckEnvFile", fmt.Sprintf("environment variables cannot contain spaces (line %d)", i+1), nil)
		}
	}
	return nil
}
