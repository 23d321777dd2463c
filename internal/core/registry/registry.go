// Package registry resolves build selectors against the configured build set.
//
// The configuration is a list of builds (JSON, or YAML as a superset). A
// selector is either the select-all token or a comma separated list of build
// keys in the form project/app@stage.
package registry

import (
	"bytes"
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/artpar/releaser/internal/core/domain"
)

// AllToken selects every configured build.
const AllToken = "--all"

// =============================================================================
// Parsing
// =============================================================================

// Parse decodes the configured build list.
// Returns a configuration error when data is empty, malformed or has no entries.
func Parse(data []byte) ([]domain.Build, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, domain.ConfigError("Parse", "builds configuration is empty", nil)
	}

	var builds []domain.Build
	if err := yaml.Unmarshal(data, &builds); err != nil {
		return nil, domain.ConfigError("Parse", "malformed builds configuration", err)
	}

	if len(builds) == 0 {
		return nil, domain.ConfigError("Parse", "no builds configured", nil)
	}

	return builds, nil
}

// =============================================================================
// Selectors
// =============================================================================

// Selector is a parsed build selector.
type Selector struct {
	All  bool
	Keys []string
}

// ParseSelector parses a raw selector argument.
//
// Example:
//
//	ParseSelector("--all")                          // Selector{All: true}
//	ParseSelector("a/b@beta, c/d@release,")         // Selector{Keys: ["a/b@beta", "c/d@release"]}
func ParseSelector(raw string) Selector {
	if strings.TrimSpace(raw) == AllToken {
		return Selector{All: true}
	}

	var keys []string
	for _, part := range strings.Split(raw, ",") {
		if key := strings.TrimSpace(part); key != "" {
			keys = append(keys, key)
		}
	}
	return Selector{Keys: keys}
}

// String renders the selector the way an operator would type it.
func (s Selector) String() string {
	if s.All {
		return AllToken
	}
	return strings.Join(s.Keys, ",")
}

// =============================================================================
// Resolution
// =============================================================================

// Selection is the outcome of resolving a selector.
type Selection struct {
	Builds  map[string]domain.Build
	Unknown []string // requested keys absent from the configuration
}

// Keys returns the selected build keys in sorted order.
func (s *Selection) Keys() []string {
	keys := make([]string, 0, len(s.Builds))
	for key := range s.Builds {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Ordered returns the selected builds sorted by key.
func (s *Selection) Ordered() []domain.Build {
	keys := s.Keys()
	builds := make([]domain.Build, 0, len(keys))
	for _, key := range keys {
		builds = append(builds, s.Builds[key])
	}
	return builds
}

// Resolve filters builds by sel.
//
// Rules:
//   - an empty configuration is a configuration error
//   - two entries with the same normalized key are a configuration error,
//     whether or not the selector names them
//   - requested keys that match nothing are dropped and listed in Unknown
//   - an empty result is a selection error
func Resolve(builds []domain.Build, sel Selector) (*Selection, error) {
	if len(builds) == 0 {
		return nil, domain.ConfigError("Resolve", "no builds configured", nil)
	}

	index := make(map[string]domain.Build, len(builds))
	for _, b := range builds {
		key := domain.NormalizeKey(b.Key())
		if _, dup := index[key]; dup {
			return nil, domain.ConfigError("Resolve", fmt.Sprintf("build %q is configured twice", b.Key()), nil)
		}
		index[key] = b
	}

	selection := &Selection{Builds: make(map[string]domain.Build)}

	if sel.All {
		for _, b := range builds {
			selection.Builds[b.Key()] = b
		}
	} else {
		for _, requested := range sel.Keys {
			b, ok := index[domain.NormalizeKey(requested)]
			if !ok {
				selection.Unknown = append(selection.Unknown, requested)
				continue
			}
			selection.Builds[b.Key()] = b
		}
	}

	if len(selection.Builds) == 0 {
		return nil, domain.SelectionError("Resolve", fmt.Sprintf("no builds match selector %q", sel.String()))
	}

	return selection, nil
}
