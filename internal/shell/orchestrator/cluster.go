package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"github.com/artpar/releaser/internal/core/descriptor"
	"github.com/artpar/releaser/internal/core/domain"
	"github.com/artpar/releaser/internal/core/stages"
	"github.com/artpar/releaser/internal/shell/docker"
)

// Cluster deploys the stack to a Docker Swarm cluster. Images are built and
// pushed from this host; a running stack is removed and redeployed.
type Cluster struct {
	base
}

// Kind implements Backend.
func (c *Cluster) Kind() Kind { return KindCluster }

// Validate implements Backend.
func (c *Cluster) Validate(ctx context.Context, path, namespace string) (*descriptor.Report, error) {
	c.logger.Info("Validating Docker Compose and Swarm files...")

	deployFile := c.layout.DeployDescriptor()
	in := descriptor.Input{
		Namespace:          namespace,
		OneShotDescriptors: map[string]bool{},
	}

	if deploy := c.render(ctx, path, deployFile, EnvFile, CIEnvFile); deploy != nil {
		in.Deploy = deploy
		// A listing failure surfaces as a render error of the same file.
		in.DeployProfiles, _ = c.renderer.Profiles(ctx, c.request(path, deployFile, EnvFile, CIEnvFile))
	}
	in.Build = c.render(ctx, path, "", CIEnvFile)
	in.OneShotServices, _ = c.services(ctx, path, "", OneShotEnvFile)
	for _, name := range descriptor.ReservedServices {
		in.OneShotDescriptors[name] = exists(join(path, c.layout.OneShotDescriptor(name)))
	}

	report := descriptor.ValidateCluster(in)
	c.logReport(report, fmt.Sprintf("Files 'docker-compose.yaml' (build) and '%s' (deploy) are", deployFile))
	return report, nil
}

// Deploy implements Backend.
func (c *Cluster) Deploy(ctx context.Context, path, namespace string) stages.Report {
	var deployed bool

	return c.run(ctx, []stages.Stage{
		validateStage(func(ctx context.Context) (*descriptor.Report, error) {
			return c.Validate(ctx, path, namespace)
		}),
		stages.Try("Executing backup service before deploy", func(ctx context.Context) error {
			return c.run(ctx, c.oneShot(path, namespace, "backup")).Err()
		}),
		stages.Try(fmt.Sprintf("Creating stack network '%s'", namespace), func(ctx context.Context) error {
			return c.ensureNetwork(ctx, namespace, docker.DriverOverlay)
		}),
		stages.Must("Building application with Docker Compose", func(ctx context.Context) error {
			cmd := c.composeCmd(path, "", []string{CIEnvFile}, "up", "--force-recreate", "--build", "--no-start")
			cmd.Stream = true
			_, err := c.exec(ctx, cmd, "error when building containers with Docker Compose")
			return err
		}),
		stages.Must("Pushing images to registry", func(ctx context.Context) error {
			_, err := c.exec(ctx, c.composeCmd(path, "", []string{CIEnvFile}, "push"), "error when pushing images with Docker Compose")
			return err
		}),
		stages.Must(fmt.Sprintf("Checking if stack '%s' is running", namespace), func(ctx context.Context) error {
			var err error
			deployed, err = c.stackDeployed(ctx, path, namespace)
			return err
		}),
		c.teardown(path, namespace, &deployed),
		c.deployStack(path, namespace),
	})
}

// Stop implements Backend.
func (c *Cluster) Stop(ctx context.Context, path, namespace string) stages.Report {
	return c.run(ctx, []stages.Stage{
		c.requireDeployed(path, namespace, "is not deployed"),
		stages.Must("Stopping application with Docker Swarm", func(ctx context.Context) error {
			_, err := c.exec(ctx, c.dockerCmd(path, []string{EnvFile, CIEnvFile}, "stack", "rm", namespace),
				"error when stopping stack with Docker Swarm")
			return err
		}),
	})
}

// Restart implements Backend.
func (c *Cluster) Restart(ctx context.Context, path, namespace string) stages.Report {
	var deployed bool

	return c.run(ctx, []stages.Stage{
		stages.Must(fmt.Sprintf("Checking if stack '%s' is deployed", namespace), func(ctx context.Context) error {
			var err error
			deployed, err = c.stackDeployed(ctx, path, namespace)
			return err
		}),
		c.teardown(path, namespace, &deployed),
		stages.Try(fmt.Sprintf("Creating stack network '%s'", namespace), func(ctx context.Context) error {
			return c.ensureNetwork(ctx, namespace, docker.DriverOverlay)
		}),
		c.deployStack(path, namespace),
	})
}

// Backup implements Backend.
func (c *Cluster) Backup(ctx context.Context, path, namespace string) stages.Report {
	return c.run(ctx, c.oneShot(path, namespace, "backup"))
}

// Sanitize implements Backend.
func (c *Cluster) Sanitize(ctx context.Context, path, namespace string) stages.Report {
	return c.run(ctx, c.oneShot(path, namespace, "sanitize"))
}

// Reference implements Backend.
func (c *Cluster) Reference() string {
	return strings.Join([]string{
		"https://docs.docker.com/engine/reference/commandline/stack/",
		"",
		"To run commands by hand, inject the variables of the '" + EnvFile + "' and '" + CIEnvFile + "' files:",
		"",
		"List the tasks of the stack:",
		"docker stack ps <namespace>",
		"",
		"Redeploy the stack:",
		"env $(cat " + EnvFile + " && cat " + CIEnvFile + ") docker stack deploy -c " + c.layout.DeployDescriptor() + " <namespace>",
		"",
	}, "\n")
}

// =============================================================================
// Stages
// =============================================================================

// teardown removes the running stack and waits for it to drain. Removal
// failure is a warning; the following deploy reports the real state.
func (c *Cluster) teardown(path, namespace string, deployed *bool) stages.Stage {
	name := fmt.Sprintf("Removing running stack '%s'", namespace)
	return stages.Stage{Name: name, Run: func(ctx context.Context) stages.Result {
		if !*deployed {
			return stages.Ok("stack is not running")
		}

		_, rmErr := c.exec(ctx, c.dockerCmd(path, []string{EnvFile, CIEnvFile}, "stack", "rm", namespace),
			"error when stopping stack with Docker Swarm")

		c.logger.Info("Waiting for the stack to drain", "interval", c.drain)
		if err := c.sleep(ctx, c.drain); err != nil {
			return stages.Abort(name+" interrupted", err)
		}

		if rmErr != nil {
			return stages.Warn(name+" failed", rmErr)
		}
		return stages.Ok(name + " succeeded")
	}}
}

func (c *Cluster) deployStack(path, namespace string) stages.Stage {
	return stages.Must(fmt.Sprintf("Deploying application stack '%s' with Docker Swarm", namespace), func(ctx context.Context) error {
		_, err := c.exec(ctx, c.dockerCmd(path, []string{EnvFile, CIEnvFile}, "stack", "deploy", "-c", c.layout.DeployDescriptor(), namespace),
			"error when deploying stack with Docker Swarm")
		return err
	})
}

func (c *Cluster) requireDeployed(path, namespace, reason string) stages.Stage {
	return stages.Must(fmt.Sprintf("Checking if stack '%s' is deployed", namespace), func(ctx context.Context) error {
		deployed, err := c.stackDeployed(ctx, path, namespace)
		if err != nil {
			return err
		}
		if !deployed {
			return domain.ExecutionError("Cluster", fmt.Sprintf("stack '%s' %s", namespace, reason), nil)
		}
		return nil
	})
}

// oneShot builds the stage list that runs a reserved service as its own
// stack next to the main one.
func (c *Cluster) oneShot(path, namespace, service string) []stages.Stage {
	file := c.layout.OneShotDescriptor(service)
	stack := domain.OneShotStackName(namespace, service)

	return []stages.Stage{
		validateStage(func(ctx context.Context) (*descriptor.Report, error) {
			return c.Validate(ctx, path, namespace)
		}),
		stages.Must(fmt.Sprintf("Checking one-shot descriptor '%s'", file), func(ctx context.Context) error {
			if !descriptor.IsReserved(service) {
				return fmt.Errorf("'%s' is not a one-shot service: %w", service, descriptor.ErrReservedService)
			}
			if !exists(join(path, file)) {
				return fmt.Errorf("file '%s' not found: %w", file, descriptor.ErrMissingDescriptor)
			}
			return nil
		}),
		c.requireDeployed(path, namespace, "is not deployed yet"),
		stages.Must("Getting configured one-shot services", func(ctx context.Context) error {
			svcs, err := c.services(ctx, path, "", OneShotEnvFile)
			if err != nil {
				return domain.ExecutionError("Cluster", "impossible to get services in 'docker-compose.yaml'", err)
			}
			for _, s := range svcs {
				if s == service {
					return nil
				}
			}
			return fmt.Errorf("service '%s' not configured in 'docker-compose.yaml': %w", service, descriptor.ErrServiceNotFound)
		}),
		stages.Must(fmt.Sprintf("Validating '%s'", file), func(ctx context.Context) error {
			report := descriptor.ValidateOneShot(namespace, service, c.render(ctx, path, file, EnvFile, OneShotEnvFile))
			c.logReport(report, fmt.Sprintf("File '%s' is", file))
			return report.Err()
		}),
		stages.Must(fmt.Sprintf("Building service '%s'", service), func(ctx context.Context) error {
			_, err := c.exec(ctx, c.composeCmd(path, "", []string{OneShotEnvFile}, "build", "--force-rm", "--no-cache", service),
				fmt.Sprintf("service '%s' failed to build", service))
			return err
		}),
		stages.Must(fmt.Sprintf("Pushing image of service '%s'", service), func(ctx context.Context) error {
			_, err := c.exec(ctx, c.composeCmd(path, "", []string{OneShotEnvFile}, "push", service),
				"impossible to push images to registry")
			return err
		}),
		{Name: fmt.Sprintf("Removing previous run '%s'", stack), Run: func(ctx context.Context) stages.Result {
			// Usually fails because the stack is gone already.
			if _, err := c.runner.Run(ctx, c.dockerCmd(path, nil, "stack", "rm", stack)); err != nil {
				c.logger.Debug("previous one-shot stack not removed", "stack", stack, "error", err)
			}
			return stages.Ok("previous run removed")
		}},
		stages.Must(fmt.Sprintf("Deploying service '%s' as stack '%s'", service, stack), func(ctx context.Context) error {
			_, err := c.exec(ctx, c.dockerCmd(path, []string{EnvFile, OneShotEnvFile}, "stack", "deploy", "-c", file, "--prune", stack),
				fmt.Sprintf("service '%s' failed to deploy", service))
			return err
		}),
	}
}

var _ Backend = (*Cluster)(nil)
