package orchestrator

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/artpar/releaser/internal/core/domain"
)

// Kind selects the runtime a build is deployed to.
type Kind string

const (
	// KindStackLocal runs the stack with docker compose on this host.
	KindStackLocal Kind = "stack-local"

	// KindCluster deploys the stack to a Docker Swarm cluster.
	KindCluster Kind = "cluster"
)

// ParseKind accepts the canonical names and their historical aliases.
//
// Example:
//
//	ParseKind("DockerSwarm") // KindCluster, nil
//	ParseKind("k8s")         // "", configuration error
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "stack-local", "compose", "dockercompose":
		return KindStackLocal, nil
	case "cluster", "swarm", "dockerswarm":
		return KindCluster, nil
	}
	return "", domain.ConfigError("ParseKind", fmt.Sprintf("unknown orchestrator %q (use stack-local or cluster)", s), nil)
}

// MetadataName is the name the environment template metadata uses for the
// kind.
func (k Kind) MetadataName() string {
	if k == KindCluster {
		return "DockerSwarm"
	}
	return "DockerCompose"
}

func (k Kind) String() string {
	return string(k)
}

// =============================================================================
// Checkout Layout
// =============================================================================

// Environment files written into every checkout.
const (
	EnvFile        = ".env"    // operator settings
	CIEnvFile      = ".env.io" // CI variables
	OneShotEnvFile = ".env.sh" // CI variables with the one-shot profile
)

// DefaultMetadataDir holds the deployment metadata inside a checkout.
const DefaultMetadataDir = ".releaser"

// Layout locates descriptors inside a checkout. Paths are relative to the
// checkout directory.
type Layout struct {
	MetadataDir string
}

func (l Layout) meta() string {
	if l.MetadataDir == "" {
		return DefaultMetadataDir
	}
	return l.MetadataDir
}

// DeployDescriptor is the cluster deploy-time descriptor.
func (l Layout) DeployDescriptor() string {
	return filepath.Join(l.meta(), "swarm", "deployment.yaml")
}

// OneShotDescriptor is the cluster descriptor of a one-shot service.
func (l Layout) OneShotDescriptor(service string) string {
	return filepath.Join(l.meta(), "swarm", "cli", service+".yaml")
}
