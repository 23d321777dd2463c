package compose

import (
	"fmt"
	"strings"

	"github.com/mattn/go-shellwords"

	"github.com/artpar/releaser/internal/shell/runner"
)

// DefaultCLI is the compose invocation used when none is configured.
const DefaultCLI = "docker compose"

// CLI is the compose invocation prefix, e.g. "docker compose" or
// "docker-compose".
type CLI struct {
	Name string
	Args []string
}

// ParseCLI splits a configured invocation prefix into program and leading
// arguments. Quoting follows shell rules.
//
// Example:
//
//	ParseCLI("docker --context prod compose")
//	// CLI{Name: "docker", Args: []string{"--context", "prod", "compose"}}
func ParseCLI(s string) (CLI, error) {
	if strings.TrimSpace(s) == "" {
		s = DefaultCLI
	}
	words, err := shellwords.Parse(s)
	if err != nil {
		return CLI{}, fmt.Errorf("parse compose command %q: %w", s, err)
	}
	if len(words) == 0 {
		return CLI{}, fmt.Errorf("parse compose command %q: empty", s)
	}
	return CLI{Name: words[0], Args: words[1:]}, nil
}

// String joins the prefix back together.
func (c CLI) String() string {
	return strings.Join(append([]string{c.Name}, c.Args...), " ")
}

// Command builds a compose command run in dir. file selects a descriptor
// other than the default docker-compose.yaml.
func (c CLI) Command(dir, file string, envFiles []string, args ...string) runner.Command {
	full := append([]string{}, c.Args...)
	if file != "" {
		full = append(full, "-f", file)
	}
	full = append(full, args...)
	return runner.Command{
		Name:     c.Name,
		Args:     full,
		Dir:      dir,
		EnvFiles: envFiles,
	}
}
