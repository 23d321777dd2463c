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

// StackLocal runs the stack with docker compose on the current host. The
// stack is never torn down: containers are recreated in place.
type StackLocal struct {
	base
}

// Kind implements Backend.
func (s *StackLocal) Kind() Kind { return KindStackLocal }

// Validate implements Backend.
func (s *StackLocal) Validate(ctx context.Context, path, namespace string) (*descriptor.Report, error) {
	s.logger.Info("Validating Docker Compose file...")

	if !exists(join(path, s.layout.meta())) {
		r := &descriptor.Report{}
		msg := fmt.Sprintf("the '%s' directory does not exist in this branch; merge from main into the stage branch", s.layout.meta())
		r.Errors = append(r.Errors, msg)
		r.Failure = descriptor.NewRuleError("", msg, descriptor.ErrMissingDescriptor)
		s.logReport(r, "File docker-compose.yaml is")
		return r, nil
	}

	in := descriptor.Input{
		Namespace: namespace,
		Build:     s.render(ctx, path, "", CIEnvFile),
	}
	if in.Build != nil && in.Build.Err == nil {
		startup, err := s.services(ctx, path, "", CIEnvFile)
		if err != nil {
			return nil, domain.ExecutionError("Validate", "unable to list services", err)
		}
		in.StartupServices = startup

		// Missing one-shot services only warn, so a listing failure is not fatal.
		in.OneShotServices, _ = s.services(ctx, path, "", OneShotEnvFile)
	}

	report := descriptor.ValidateLocal(in)
	s.logReport(report, "File docker-compose.yaml is")
	return report, nil
}

// Deploy implements Backend.
func (s *StackLocal) Deploy(ctx context.Context, path, namespace string) stages.Report {
	var svcs []string

	return s.run(ctx, []stages.Stage{
		validateStage(func(ctx context.Context) (*descriptor.Report, error) {
			return s.Validate(ctx, path, namespace)
		}),
		stages.Try("Executing backup service before deploy", func(ctx context.Context) error {
			return s.oneShot(ctx, path, "backup")
		}),
		stages.Try(fmt.Sprintf("Creating stack network '%s'", namespace), func(ctx context.Context) error {
			return s.ensureNetwork(ctx, namespace, docker.DriverBridge)
		}),
		stages.Must("Building application with Docker Compose", func(ctx context.Context) error {
			cmd := s.composeCmd(path, "", []string{CIEnvFile}, "up", "--force-recreate", "--build", "--no-start")
			cmd.Stream = true
			_, err := s.exec(ctx, cmd, "error when building containers with Docker Compose")
			return err
		}),
		stages.Must(fmt.Sprintf("Getting valid services (ignoring %s)", strings.Join(descriptor.ReservedServices, ", ")), func(ctx context.Context) error {
			all, err := s.services(ctx, path, "", CIEnvFile)
			if err != nil {
				return domain.ExecutionError("Deploy", "error when getting services from docker-compose.yaml", err)
			}
			for _, name := range all {
				if !descriptor.IsReserved(name) {
					svcs = append(svcs, name)
				}
			}
			if len(svcs) == 0 {
				return domain.ExecutionError("Deploy", "no valid services found in docker-compose.yaml", nil)
			}
			return nil
		}),
		stages.Must("Starting application with Docker Compose", func(ctx context.Context) error {
			args := append([]string{"start"}, svcs...)
			_, err := s.exec(ctx, s.composeCmd(path, "", []string{CIEnvFile}, args...), "error when starting containers with Docker Compose")
			return err
		}),
	})
}

// Stop implements Backend.
func (s *StackLocal) Stop(ctx context.Context, path, namespace string) stages.Report {
	return s.run(ctx, []stages.Stage{
		stages.Must("Stopping application with Docker Compose", func(ctx context.Context) error {
			_, err := s.exec(ctx, s.composeCmd(path, "", []string{CIEnvFile}, "stop"), "error when trying to stop containers with Docker Compose")
			return err
		}),
	})
}

// Restart implements Backend.
func (s *StackLocal) Restart(ctx context.Context, path, namespace string) stages.Report {
	return s.run(ctx, []stages.Stage{
		stages.Must("Restarting application with Docker Compose", func(ctx context.Context) error {
			_, err := s.exec(ctx, s.composeCmd(path, "", []string{CIEnvFile}, "restart"), "error when trying to restart containers with Docker Compose")
			return err
		}),
	})
}

// Backup implements Backend.
func (s *StackLocal) Backup(ctx context.Context, path, namespace string) stages.Report {
	return s.run(ctx, []stages.Stage{
		stages.Must("Executing backup service", func(ctx context.Context) error {
			return s.oneShot(ctx, path, "backup")
		}),
	})
}

// Sanitize implements Backend.
func (s *StackLocal) Sanitize(ctx context.Context, path, namespace string) stages.Report {
	return s.run(ctx, []stages.Stage{
		stages.Must("Executing sanitize service", func(ctx context.Context) error {
			return s.oneShot(ctx, path, "sanitize")
		}),
	})
}

// oneShot builds and runs a reserved service under the one-shot profile.
func (s *StackLocal) oneShot(ctx context.Context, path, service string) error {
	if !descriptor.IsReserved(service) {
		return fmt.Errorf("'%s' is not a one-shot service: %w", service, descriptor.ErrReservedService)
	}

	env := []string{OneShotEnvFile}
	if _, err := s.exec(ctx, s.composeCmd(path, "", env, "build", "--force-rm", "--no-cache", service),
		fmt.Sprintf("%s service failed to build", service)); err != nil {
		return err
	}
	if _, err := s.exec(ctx, s.composeCmd(path, "", env, "run", "--rm", "--no-deps", service),
		fmt.Sprintf("%s service failed to run", service)); err != nil {
		return err
	}

	s.logger.Info("One-shot service executed", "service", service)
	return nil
}

// Reference implements Backend.
func (s *StackLocal) Reference() string {
	c := s.compose.String()
	return strings.Join([]string{
		"https://docs.docker.com/compose/reference/",
		"",
		"To run commands by hand, inject the variables of the '" + CIEnvFile + "' file:",
		"",
		"Remove stopped service containers:",
		"env $(cat " + CIEnvFile + ") " + c + " rm",
		"",
		"Display the running processes:",
		"env $(cat " + CIEnvFile + ") " + c + " top",
		"",
		"Open a shell in the container of service 'app':",
		"env $(cat " + CIEnvFile + ") " + c + " exec app bash",
		"",
	}, "\n")
}

var _ Backend = (*StackLocal)(nil)

