package compose

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// placeholderRegex matches ${VAR}, ${VAR<modifier>...} and $VAR.
var placeholderRegex = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)([^}]*)\}|\$([A-Za-z_][A-Za-z0-9_]*)`)

// Diagnostics reports what the compose CLI would warn about while rendering
// content with env: unset variables that default to blank and the obsolete
// top-level version attribute.
//
// Example:
//
//	Diagnostics([]byte("image: ${REGISTRY}/app"), nil)
//	// [`The "REGISTRY" variable is not set. Defaulting to a blank string.`]
func Diagnostics(content []byte, env map[string]string) []string {
	var out []string

	var top map[string]any
	if yaml.Unmarshal(content, &top) == nil {
		if _, ok := top["version"]; ok {
			out = append(out, "the attribute `version` is obsolete, it will be ignored, please remove it to avoid potential confusion")
		}
	}

	// $$ is an escaped dollar sign.
	text := strings.ReplaceAll(string(content), "$$", "")

	unset := map[string]bool{}
	for _, m := range placeholderRegex.FindAllStringSubmatch(text, -1) {
		name, modifier := m[1], m[2]
		if name == "" {
			name = m[3]
		}
		if modifier != "" {
			// defaults (:- -), alternatives (:+ +) and required (:? ?) handle
			// the unset case themselves.
			continue
		}
		if _, ok := env[name]; !ok {
			unset[name] = true
		}
	}

	names := make([]string, 0, len(unset))
	for name := range unset {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		out = append(out, fmt.Sprintf("The %q variable is not set. Defaulting to a blank string.", name))
	}

	return out
}
