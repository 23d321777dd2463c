// Package descriptor checks rendered stack descriptors for structural and
// policy correctness before anything is deployed.
// This is part of the Functional Core - all functions are pure with no I/O.
package descriptor

import (
	"errors"
	"fmt"
)

// =============================================================================
// Error Types
// =============================================================================

var (
	// Presence and rendering errors
	ErrMissingDescriptor = errors.New("descriptor is missing")
	ErrRender            = errors.New("descriptor cannot be rendered")
	ErrNoServices        = errors.New("descriptor declares no services")

	// Cluster runtime limitations
	ErrProfilesUnsupported = errors.New("profiles are not supported by the cluster runtime")

	// Volume errors
	ErrVolumeNotExternal  = errors.New("volume is not external")
	ErrVolumeOwnership    = errors.New("volume belongs to another namespace")
	ErrVolumeUndeclared   = errors.New("volume is not declared as external")
	ErrNetworkConvention  = errors.New("stack network does not follow the namespace convention")
	ErrImplicitPort       = errors.New("port is published without an explicit number")
	ErrPortsNotAllowed    = errors.New("one-shot services cannot publish ports")
	ErrServiceNotFound    = errors.New("service not found in build descriptor")
	ErrReservedService    = errors.New("reserved one-shot service in normal startup")
	ErrMissingImage       = errors.New("service has no image")
	ErrImageMismatch      = errors.New("service image differs between descriptors")
	ErrDeployMode         = errors.New("unsupported deploy mode")
	ErrRestartPolicy      = errors.New("unsupported restart policy")
	ErrDisallowedDeployOp = errors.New("disallowed deploy attribute")
)

// RuleError describes the first rule a descriptor set violated.
type RuleError struct {
	Field   string // e.g., "services.web.ports[0]"
	Message string
	Err     error
}

func (e *RuleError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s", e.Field, e.Message)
	}
	return e.Message
}

func (e *RuleError) Unwrap() error {
	return e.Err
}

// NewRuleError creates a new RuleError.
func NewRuleError(field, message string, err error) *RuleError {
	return &RuleError{
		Field:   field,
		Message: message,
		Err:     err,
	}
}
