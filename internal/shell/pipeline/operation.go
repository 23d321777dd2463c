package pipeline

import (
	"fmt"
	"strings"

	"github.com/artpar/releaser/internal/core/domain"
)

// Operation is one of the actions a run applies to its builds.
type Operation string

const (
	OpValidate Operation = "validate"
	OpDeploy   Operation = "deploy"
	OpRollback Operation = "rollback"
	OpStop     Operation = "stop"
	OpRestart  Operation = "restart"
	OpBackup   Operation = "backup"
	OpSanitize Operation = "sanitize"
)

// Operations lists every operation in help order.
var Operations = []Operation{OpValidate, OpDeploy, OpRollback, OpStop, OpRestart, OpBackup, OpSanitize}

// ParseOperation parses an operation name.
func ParseOperation(s string) (Operation, error) {
	op := Operation(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Operations {
		if op == known {
			return op, nil
		}
	}
	return "", domain.ConfigError("ParseOperation", fmt.Sprintf("unknown operation %q", s), nil)
}

// Unattended reports whether the operation may run as a daemon.
func (o Operation) Unattended() bool {
	switch o {
	case OpDeploy, OpBackup, OpSanitize:
		return true
	}
	return false
}

// IncludesInactive reports whether deactivated builds are processed.
// A deactivated build must still be stoppable.
func (o Operation) IncludesInactive() bool {
	return o == OpStop
}

// past is the verb used in the final line of a build.
func (o Operation) past() string {
	switch o {
	case OpValidate:
		return "validated"
	case OpDeploy:
		return "deployed"
	case OpRollback:
		return "rolled back"
	case OpStop:
		return "stopped"
	case OpRestart:
		return "restarted"
	case OpBackup:
		return "backed up"
	case OpSanitize:
		return "sanitized"
	}
	return string(o) + " done"
}

// String implements fmt.Stringer.
func (o Operation) String() string {
	return string(o)
}
