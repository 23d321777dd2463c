package descriptor

import (
	"fmt"

	"github.com/artpar/releaser/internal/core/domain"
)

// Tree is a parsed, interpolated descriptor as produced by the renderer.
type Tree = map[string]any

// ReservedServices are the one-shot service names. They run on demand and
// must never start during a normal deploy.
var ReservedServices = []string{"backup", "restore", "sanitize", "test"}

// IsReserved reports whether name is a reserved one-shot service.
func IsReserved(name string) bool {
	for _, r := range ReservedServices {
		if r == name {
			return true
		}
	}
	return false
}

// Rendered is one descriptor after interpolation.
type Rendered struct {
	Name        string // label used in messages, e.g. "docker-compose.yaml"
	Tree        Tree
	Diagnostics []string // interpolation warnings, reported even on success
	Err         error    // set when the descriptor could not be rendered
}

// Input is everything the validator needs about one checkout.
type Input struct {
	Namespace string

	// Build is the build-time descriptor. Deploy is the cluster deploy-time
	// descriptor and is ignored in stack-local mode.
	Build  *Rendered
	Deploy *Rendered

	// DeployProfiles lists profiles declared by the deploy-time descriptor.
	DeployProfiles []string

	// StartupServices are the services a normal deploy would start.
	StartupServices []string

	// OneShotServices are the services visible under the one-shot profile.
	OneShotServices []string

	// OneShotDescriptors marks reserved names that have a one-shot descriptor
	// file. Only consulted in cluster mode.
	OneShotDescriptors map[string]bool
}

// =============================================================================
// Report
// =============================================================================

// Report is the outcome of a validation.
type Report struct {
	Valid    bool
	Warnings []string
	Errors   []string
	Notes    []string // progress lines, in evaluation order

	// Failure is the rule violation that invalidated the set, nil when valid.
	Failure *RuleError
}

func newReport() *Report {
	return &Report{Valid: true}
}

func (r *Report) fail(field string, kind error, format string, args ...any) *Report {
	msg := fmt.Sprintf(format, args...)
	r.Valid = false
	r.Errors = append(r.Errors, msg)
	if r.Failure == nil {
		r.Failure = NewRuleError(field, msg, kind)
	}
	return r
}

func (r *Report) warn(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

func (r *Report) note(format string, args ...any) {
	r.Notes = append(r.Notes, fmt.Sprintf(format, args...))
}

// Err returns nil for a valid report, otherwise a validation error wrapping
// the rule that failed.
func (r *Report) Err() error {
	if r.Valid {
		return nil
	}
	var cause error
	if r.Failure != nil {
		cause = r.Failure
	}
	return domain.NewError("Validate", domain.ErrValidation, "descriptor set is invalid", cause)
}
