package domain

import (
	"fmt"
	"regexp"
	"strings"
)

// =============================================================================
// Stage
// =============================================================================

// Stage is the release channel of a build.
type Stage string

const (
	StageAlpha   Stage = "alpha"
	StageBeta    Stage = "beta"
	StageRelease Stage = "release"
)

// Stages lists every supported stage in promotion order.
var Stages = []Stage{StageAlpha, StageBeta, StageRelease}

// Valid reports whether s is one of the supported stages.
func (s Stage) Valid() bool {
	switch s {
	case StageAlpha, StageBeta, StageRelease:
		return true
	}
	return false
}

// =============================================================================
// Build
// =============================================================================

// SentryMetadata holds the error-tracking settings of a build.
type SentryMetadata struct {
	DSN string `json:"dsn" yaml:"dsn"`
}

// MatomoMetadata holds the analytics settings of a build.
type MatomoMetadata struct {
	ID string `json:"id" yaml:"id"`
}

// Build identifies one deployable unit: an application of a project released
// through a stage.
type Build struct {
	Project string         `json:"project" yaml:"project"`
	App     string         `json:"app" yaml:"app"`
	Stage   Stage          `json:"stage" yaml:"stage"`
	Active  bool           `json:"active" yaml:"active"`
	Sentry  SentryMetadata `json:"sentry" yaml:"sentry"`
	Matomo  MatomoMetadata `json:"matomo" yaml:"matomo"`
}

// Key returns the build key in the form project/app@stage.
//
// Example:
//
//	Build{Project: "agro", App: "portal", Stage: "beta"}.Key() // "agro/portal@beta"
func (b Build) Key() string {
	return BuildKey(b.Project, b.App, b.Stage)
}

// Namespace returns the stack namespace of the build.
func (b Build) Namespace() string {
	return Namespace(b.Project, b.App, b.Stage)
}

// BuildKey formats a build key.
func BuildKey(project, app string, stage Stage) string {
	return fmt.Sprintf("%s/%s@%s", project, app, stage)
}

// NormalizeKey lowercases and trims a build key so that equivalent spellings
// compare equal.
func NormalizeKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}

// slugRegex matches project and application slugs.
var slugRegex = regexp.MustCompile(`^[a-z0-9][a-z0-9-]+[a-z0-9]$`)

// ValidSlug reports whether s is a valid project or application slug.
//
// Example:
//
//	ValidSlug("my-app")  // true
//	ValidSlug("-my-app") // false
//	ValidSlug("My_App")  // false
func ValidSlug(s string) bool {
	return slugRegex.MatchString(s)
}

// Validate checks the identifying fields of the build.
func (b Build) Validate() error {
	if !ValidSlug(b.Project) {
		return NewError("Validate", ErrConfig, fmt.Sprintf("invalid project slug %q", b.Project), nil)
	}
	if !ValidSlug(b.App) {
		return NewError("Validate", ErrConfig, fmt.Sprintf("invalid app slug %q", b.App), nil)
	}
	if !b.Stage.Valid() {
		return NewError("Validate", ErrConfig, fmt.Sprintf("invalid stage %q", b.Stage), nil)
	}
	return nil
}
