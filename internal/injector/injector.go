// Package injector builds what a block's child shell receives: its
// environment and, when state capture is on, the script that wraps the
// block so the child reports its final cwd and environment back.
package injector

import "shellbook/internal/resolver"

// Environ renders the session environment with overrides applied on top.
// The result is sorted and contains each name once.
func Environ(env, overrides map[string]string) []string {
	merged := resolver.Copy(env)
	for k, v := range overrides {
		merged[k] = v
	}
	return resolver.ToEnviron(merged)
}
