package descriptor

import (
	"fmt"
	"sort"
	"strings"
)

// =============================================================================
// Tree Accessors
// =============================================================================

// section returns the mapping stored under key, or nil.
func section(t map[string]any, key string) map[string]any {
	if t == nil {
		return nil
	}
	m, _ := t[key].(map[string]any)
	return m
}

// has reports whether a key is present with a non-nil value.
func has(t map[string]any, key string) bool {
	if t == nil {
		return false
	}
	v, ok := t[key]
	return ok && v != nil
}

// text returns the trimmed string form of a scalar, or "" when absent.
func text(t map[string]any, key string) string {
	if !has(t, key) {
		return ""
	}
	switch v := t[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case map[string]any, []any:
		return ""
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

// truthy interprets compose booleans, which may appear as bool, string or an
// object (legacy `external: {name: ...}`).
func truthy(v any) bool {
	switch b := v.(type) {
	case nil:
		return false
	case bool:
		return b
	case string:
		switch strings.ToLower(strings.TrimSpace(b)) {
		case "true", "yes", "1", "on":
			return true
		}
		return false
	case map[string]any:
		return true
	case int:
		return b != 0
	}
	return false
}

// sortedKeys returns the keys of m in sorted order so that rule evaluation is
// deterministic.
func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// services returns the services section of a descriptor.
func services(t Tree) map[string]any {
	return section(t, "services")
}

// ServiceNames lists the services declared by a descriptor, sorted.
func ServiceNames(t Tree) []string {
	return sortedKeys(services(t))
}

// volumeSource extracts the source of a service volume entry, which is either
// the long mapping form or the short "source:target[:mode]" form. Returns
// ok=false for entries without a source (tmpfs, anonymous volumes).
func volumeSource(entry any) (string, bool) {
	switch v := entry.(type) {
	case map[string]any:
		if text(v, "type") == "tmpfs" {
			return "", false
		}
		src := text(v, "source")
		return src, src != ""
	case string:
		parts := strings.SplitN(v, ":", 2)
		if len(parts) < 2 {
			return "", false
		}
		return strings.TrimSpace(parts[0]), true
	}
	return "", false
}

// networkKeys returns the networks a service attaches to. Compose accepts a
// list or a mapping.
func networkKeys(v any) []string {
	switch n := v.(type) {
	case map[string]any:
		return sortedKeys(n)
	case []any:
		keys := make([]string, 0, len(n))
		for _, item := range n {
			if s, ok := item.(string); ok {
				keys = append(keys, s)
			}
		}
		return keys
	}
	return nil
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
