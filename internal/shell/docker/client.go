// Package docker talks to the Docker daemon through the Engine API for the
// operations that do not go through the compose tooling: reachability checks
// and idempotent creation of stack networks.
package docker

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
)

// Network drivers used by the two backends.
const (
	DriverBridge  = "bridge"
	DriverOverlay = "overlay"
)

// NamespaceLabel marks networks created by the releaser.
const NamespaceLabel = "io.releaser.namespace"

// NetworkSpec describes a stack network.
type NetworkSpec struct {
	Name   string
	Driver string // defaults to bridge

	// Attachable lets standalone containers join an overlay network, which
	// one-shot services run against a cluster stack need.
	Attachable bool
}

// Client is the subset of the Engine API the backends depend on.
type Client interface {
	// Ping checks that the daemon is reachable.
	Ping(ctx context.Context) error

	// EnsureNetwork creates the network unless it already exists. created is
	// false when the network was already there, which is not an error.
	EnsureNetwork(ctx context.Context, spec NetworkSpec) (created bool, err error)

	Close() error
}

// =============================================================================
// Docker Client Implementation
// =============================================================================

// DockerClient implements Client using the Docker SDK.
type DockerClient struct {
	cli *client.Client
}

// NewDockerClient creates a new Docker client.
// If host is empty, it uses the default Docker host from environment.
// On macOS with Docker Desktop, it automatically detects the correct socket.
func NewDockerClient(host string) (*DockerClient, error) {
	var opts []client.Opt
	opts = append(opts, client.FromEnv)
	opts = append(opts, client.WithAPIVersionNegotiation())

	if host != "" {
		opts = append(opts, client.WithHost(host))
	}

	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, NewDockerError("NewDockerClient", "", "", "failed to create client", ErrConnectionFailed)
	}

	if host == "" {
		ctx := context.Background()
		if _, pingErr := cli.Ping(ctx); pingErr != nil {
			homeDir, _ := os.UserHomeDir()
			desktopSocket := "unix://" + homeDir + "/.docker/run/docker.sock"

			cli2, err2 := client.NewClientWithOpts(
				client.WithHost(desktopSocket),
				client.WithAPIVersionNegotiation(),
			)
			if err2 == nil {
				if _, pingErr2 := cli2.Ping(ctx); pingErr2 == nil {
					cli.Close()
					return &DockerClient{cli: cli2}, nil
				}
				cli2.Close()
			}
		}
	}

	return &DockerClient{cli: cli}, nil
}

// Ping checks if Docker daemon is reachable.
func (d *DockerClient) Ping(ctx context.Context) error {
	if _, err := d.cli.Ping(ctx); err != nil {
		return NewDockerError("Ping", "daemon", "", fmt.Sprintf("failed to ping docker: %v", err), ErrConnectionFailed)
	}
	return nil
}

// Close closes the Docker client connection.
func (d *DockerClient) Close() error {
	return d.cli.Close()
}

// =============================================================================
// Network Operations
// =============================================================================

// EnsureNetwork creates the stack network. A network left behind by an earlier
// partial run is reused.
func (d *DockerClient) EnsureNetwork(ctx context.Context, spec NetworkSpec) (bool, error) {
	if strings.TrimSpace(spec.Name) == "" {
		return false, NewDockerError("EnsureNetwork", "network", "", "network name is required", ErrInvalidNetwork)
	}

	driver := spec.Driver
	if driver == "" {
		driver = DriverBridge
	}

	_, err := d.cli.NetworkCreate(ctx, spec.Name, network.CreateOptions{
		Driver:     driver,
		Attachable: spec.Attachable,
		Labels:     map[string]string{NamespaceLabel: spec.Name},
	})
	if err != nil {
		if IsAlreadyExists(err) {
			return false, nil
		}
		return false, NewDockerError("EnsureNetwork", "network", spec.Name, err.Error(), err)
	}

	return true, nil
}

// IsAlreadyExists reports whether err is the daemon's answer to creating a
// network whose name is taken.
func IsAlreadyExists(err error) bool {
	return err != nil && strings.Contains(err.Error(), "already exists")
}
