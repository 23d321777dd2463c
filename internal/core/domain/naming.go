package domain

import (
	"fmt"
	"strings"
)

// =============================================================================
// Resource Naming Functions
// =============================================================================

// Namespace derives the isolation identifier of a build.
// Pattern: {project}_{app}_{stage}
//
// Example:
//
//	Namespace("agro", "portal", "alpha") // returns "agro_portal_alpha"
func Namespace(project, app string, stage Stage) string {
	return fmt.Sprintf("%s_%s_%s", project, app, stage)
}

// OneShotStackName names the stack that runs a reserved one-shot service.
// Pattern: {namespace}_{service}
//
// Example:
//
//	OneShotStackName("agro_portal_alpha", "backup") // returns "agro_portal_alpha_backup"
func OneShotStackName(namespace, service string) string {
	return fmt.Sprintf("%s_%s", namespace, service)
}

// VolumeOwner returns the namespace a volume external name belongs to, which is
// the name without its trailing underscore-delimited segment.
//
// Example:
//
//	VolumeOwner("agro_portal_alpha_db") // returns "agro_portal_alpha"
//	VolumeOwner("db")                   // returns ""
func VolumeOwner(externalName string) string {
	i := strings.LastIndex(externalName, "_")
	if i < 0 {
		return ""
	}
	return externalName[:i]
}
