package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/artpar/releaser/internal/core/registry"
	"github.com/artpar/releaser/internal/shell/pipeline"
)

// application is what the commands need from App.
type application interface {
	Execute(ctx context.Context, op pipeline.Operation, selector, version string, daemon bool) error
	Reference() string
	MailTest(ctx context.Context, list []string) error
	Close() error
}

type appFactory func(cfg *Config, stdout io.Writer, colored bool) (application, error)

func newApplication(cfg *Config, stdout io.Writer, colored bool) (application, error) {
	app, err := NewApp(cfg, stdout, colored)
	if err != nil {
		return nil, err
	}
	return app, nil
}

// cli holds the state shared by the subcommands.
type cli struct {
	stdout     io.Writer
	configPath string
	newApp     appFactory
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	return newRootCmdWith(stdout, stderr, newApplication)
}

func newRootCmdWith(stdout, stderr io.Writer, factory appFactory) *cobra.Command {
	c := &cli{stdout: stdout, newApp: factory}

	root := &cobra.Command{
		Use:           "releaser",
		Short:         "Deploy and manage builds on a Docker host",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			cmd.Help()
			return usagef("an operation is required")
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &UsageError{Err: err}
	})
	root.PersistentFlags().StringVar(&c.configPath, "config", "", "path to config file")

	for _, op := range []pipeline.Operation{
		pipeline.OpValidate, pipeline.OpDeploy, pipeline.OpStop,
		pipeline.OpRestart, pipeline.OpBackup, pipeline.OpSanitize,
	} {
		root.AddCommand(c.operationCmd(op))
	}
	root.AddCommand(c.rollbackCmd(), c.infoCmd(), c.mailCmd(), versionCmd())

	return root
}

var operationHelp = map[pipeline.Operation]string{
	pipeline.OpValidate: "Validate the descriptors of builds",
	pipeline.OpDeploy:   "Deploy the latest version of builds",
	pipeline.OpStop:     "Stop builds",
	pipeline.OpRestart:  "Restart builds",
	pipeline.OpBackup:   "Run the backup service of builds",
	pipeline.OpSanitize: "Run the sanitize service of builds",
}

func (c *cli) operationCmd(op pipeline.Operation) *cobra.Command {
	var daemon, all bool

	cmd := &cobra.Command{
		Use:   string(op) + " (" + registry.AllToken + " | project/app@stage,...)",
		Short: operationHelp[op],
		Args: func(_ *cobra.Command, args []string) error {
			switch {
			case all && len(args) == 0, !all && len(args) == 1:
				return nil
			case all:
				return usagef("%s takes no build list", registry.AllToken)
			}
			return usagef("a build list or %s is required", registry.AllToken)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			selector := registry.AllToken
			if !all {
				selector = args[0]
			}
			return c.withApp(daemon, func(app application) error {
				return app.Execute(cmd.Context(), op, selector, "", daemon)
			})
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "select every configured build")
	if op.Unattended() {
		cmd.Flags().BoolVar(&daemon, "daemon", false, "run unattended: take the lock and mail the report")
	}
	return cmd
}

func (c *cli) rollbackCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rollback <project/app@stage> <version>",
		Short: "Deploy a previous version of one build",
		Args:  usageArgs(cobra.ExactArgs(2)),
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.Contains(args[0], ",") || args[0] == registry.AllToken {
				return usagef("rollback takes a single build")
			}
			return c.withApp(false, func(app application) error {
				return app.Execute(cmd.Context(), pipeline.OpRollback, args[0], args[1], false)
			})
		},
	}
}

func (c *cli) infoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Show how to operate the stacks by hand",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withApp(false, func(app application) error {
				fmt.Fprintln(c.stdout, app.Reference())
				return nil
			})
		},
	}
}

func (c *cli) mailCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mail <address,...>",
		Short: "Send a test e-mail",
		Args:  usageArgs(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(false, func(app application) error {
				return app.MailTest(cmd.Context(), strings.Split(args[0], ","))
			})
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version and exit",
		Args:  usageArgs(cobra.NoArgs),
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "releaser %s (built %s)\n", Version, BuildTime)
		},
	}
}

// withApp loads and validates the configuration, builds the App and runs fn.
func (c *cli) withApp(daemon bool, fn func(app application) error) error {
	cfg, err := LoadConfig(c.configPath)
	if err != nil {
		return &AppError{Op: "LoadConfig", Err: err, ExitCode: ExitConfigError}
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	app, err := c.newApp(cfg, c.stdout, !daemon)
	if err != nil {
		return err
	}
	defer app.Close()

	return fn(app)
}

// usageArgs marks argument errors as usage errors.
func usageArgs(validate cobra.PositionalArgs) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := validate(cmd, args); err != nil {
			return &UsageError{Err: err}
		}
		return nil
	}
}
