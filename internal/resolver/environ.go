// Package resolver converts between environ slices and maps, and resolves
// the shell-like value syntax understood by the statement scanner.
package resolver

import (
	"sort"
	"strings"
)

// ParseEnviron converts an environ slice (["KEY=VALUE", ...]) into a map.
// Handles edge cases like empty values ("KEY=") and values containing "=" ("KEY=a=b").
// Later entries win over earlier ones.
func ParseEnviron(environ []string) map[string]string {
	result := make(map[string]string, len(environ))
	for _, entry := range environ {
		// Split on first "=" only - values can contain "="
		idx := strings.Index(entry, "=")
		if idx <= 0 {
			// No "=" or empty name, skip malformed entry
			continue
		}
		result[entry[:idx]] = entry[idx+1:]
	}
	return result
}

// ToEnviron renders a map as an environ slice sorted by key.
func ToEnviron(env map[string]string) []string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	result := make([]string, 0, len(keys))
	for _, k := range keys {
		result = append(result, k+"="+env[k])
	}
	return result
}

// Copy returns a shallow copy of env. A nil map copies to an empty map.
func Copy(env map[string]string) map[string]string {
	out := make(map[string]string, len(env))
	for k, v := range env {
		out[k] = v
	}
	return out
}

// ValidName reports whether s is a legal shell variable name.
func ValidName(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_', r >= 'A' && r <= 'Z', r >= 'a' && r <= 'z':
		case i > 0 && r >= '0' && r <= '9':
		default:
			return false
		}
	}
	return true
}
