// Package runner executes external commands (docker, docker compose) and
// captures their exit status and output.
//
// Backends depend on the Runner interface so their command sequences can be
// exercised against a fake in tests.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"github.com/compose-spec/compose-go/v2/dotenv"

	"github.com/artpar/releaser/internal/shell/console"
)

// =============================================================================
// Types
// =============================================================================

// Command is one external invocation.
type Command struct {
	Name string
	Args []string

	// Dir is the working directory.
	Dir string

	// EnvFiles are dotenv files, relative to Dir, whose variables are added
	// to the process environment in order (later files win).
	EnvFiles []string

	// Env holds extra KEY=VALUE pairs applied after EnvFiles.
	Env []string

	// Stream copies output to the runner's console writer while it runs.
	Stream bool
}

// String renders the command the way an operator would type it.
//
// Example:
//
//	Command{Name: "docker", Args: []string{"compose", "push"}, EnvFiles: []string{".env", ".env.io"}}.String()
//	// "env $(cat .env && cat .env.io) docker compose push"
func (c Command) String() string {
	var b strings.Builder
	if len(c.EnvFiles) > 0 {
		cats := make([]string, len(c.EnvFiles))
		for i, f := range c.EnvFiles {
			cats[i] = "cat " + f
		}
		b.WriteString("env $(" + strings.Join(cats, " && ") + ") ")
	}
	b.WriteString(c.Name)
	for _, a := range c.Args {
		b.WriteByte(' ')
		b.WriteString(a)
	}
	return b.String()
}

// Result is the captured outcome of a command.
type Result struct {
	Stdout   string
	Stderr   string
	Combined string
	ExitCode int
}

// Lines splits stdout into trimmed, non-empty lines.
func (r *Result) Lines() []string {
	var lines []string
	for _, line := range strings.Split(r.Stdout, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

// Runner executes commands.
type Runner interface {
	// Run executes cmd. A non-zero exit status is reported as an *ExitError
	// alongside the populated Result.
	Run(ctx context.Context, cmd Command) (*Result, error)
}

// =============================================================================
// Errors
// =============================================================================

// ErrCommandFailed is wrapped by every ExitError.
var ErrCommandFailed = errors.New("command failed")

// ExitError reports a command that could not start or exited non-zero.
type ExitError struct {
	Command  string
	ExitCode int
	Output   string
	Err      error
}

func (e *ExitError) Error() string {
	if e.ExitCode > 0 {
		return fmt.Sprintf("%s: exit status %d", e.Command, e.ExitCode)
	}
	return fmt.Sprintf("%s: %v", e.Command, e.Err)
}

func (e *ExitError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrCommandFailed}
	}
	return []error{ErrCommandFailed, e.Err}
}

// Output returns the combined output carried by err, if it is an ExitError.
func Output(err error) string {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Output
	}
	return ""
}

// =============================================================================
// Exec Runner
// =============================================================================

// ExecRunner runs commands with os/exec.
type ExecRunner struct {
	logger  *slog.Logger
	console io.Writer
}

// NewExecRunner creates a runner that logs each command line and streams
// output of Stream commands to w.
func NewExecRunner(w io.Writer, logger *slog.Logger) *ExecRunner {
	if logger == nil {
		logger = slog.Default()
	}
	if w == nil {
		w = io.Discard
	}
	return &ExecRunner{
		logger:  logger.With("component", "runner"),
		console: &lockedWriter{w: w},
	}
}

// lockedWriter serializes writes. os/exec copies stdout and stderr from two
// goroutines when they are different writers.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}

// Run implements Runner.
func (r *ExecRunner) Run(ctx context.Context, cmd Command) (*Result, error) {
	line := cmd.String()
	r.logger.Log(ctx, console.LevelCommand, line)

	env, err := r.environment(cmd)
	if err != nil {
		return nil, &ExitError{Command: line, ExitCode: -1, Err: err}
	}

	c := exec.CommandContext(ctx, cmd.Name, cmd.Args...)
	c.Dir = cmd.Dir
	c.Env = env

	var stdout, stderr, buf bytes.Buffer
	combined := &lockedWriter{w: &buf}
	outWriters := []io.Writer{&stdout, combined}
	errWriters := []io.Writer{&stderr, combined}
	if cmd.Stream {
		outWriters = append(outWriters, r.console)
		errWriters = append(errWriters, r.console)
	}
	c.Stdout = io.MultiWriter(outWriters...)
	c.Stderr = io.MultiWriter(errWriters...)

	runErr := c.Run()

	result := &Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Combined: buf.String(),
	}

	if runErr != nil {
		result.ExitCode = -1
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		}
		return result, &ExitError{
			Command:  line,
			ExitCode: result.ExitCode,
			Output:   result.Combined,
			Err:      runErr,
		}
	}

	return result, nil
}

// environment builds the process environment: the current environment, then
// each env file, then explicit pairs.
func (r *ExecRunner) environment(cmd Command) ([]string, error) {
	env := os.Environ()

	if len(cmd.EnvFiles) > 0 {
		paths := make([]string, len(cmd.EnvFiles))
		for i, f := range cmd.EnvFiles {
			paths[i] = f
			if !filepath.IsAbs(f) {
				paths[i] = filepath.Join(cmd.Dir, f)
			}
		}

		vars, err := dotenv.Read(paths...)
		if err != nil {
			return nil, fmt.Errorf("load env files: %w", err)
		}
		for k, v := range vars {
			env = append(env, k+"="+v)
		}
	}

	return append(env, cmd.Env...), nil
}
