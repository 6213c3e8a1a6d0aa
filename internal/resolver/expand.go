package resolver

import (
	"path/filepath"
	"strings"
)

// Unquote strips one layer of matching single or double quotes.
// It reports whether the value was single-quoted, in which case the shell
// would not expand variables inside it.
func Unquote(s string) (value string, literal bool) {
	if len(s) >= 2 {
		first, last := s[0], s[len(s)-1]
		if first == last && (first == '"' || first == '\'') {
			return s[1 : len(s)-1], first == '\''
		}
	}
	return s, false
}

// Expand substitutes $NAME and ${NAME} references with values from env.
// Unknown names expand to the empty string. Substituted text is not
// expanded again.
func Expand(s string, env map[string]string) string {
	if !strings.Contains(s, "$") {
		return s
	}

	var sb strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '\\' && i+1 < len(s) && s[i+1] == '$' {
			sb.WriteByte('$')
			i++
			continue
		}
		if c != '$' || i+1 >= len(s) {
			sb.WriteByte(c)
			continue
		}

		if s[i+1] == '{' {
			end := strings.IndexByte(s[i+2:], '}')
			if end < 0 {
				sb.WriteString(s[i:])
				break
			}
			name := s[i+2 : i+2+end]
			if !ValidName(name) {
				sb.WriteString(s[i : i+3+end])
			} else {
				sb.WriteString(env[name])
			}
			i += 2 + end
			continue
		}

		j := i + 1
		for j < len(s) && isNameByte(s[j], j == i+1) {
			j++
		}
		if j == i+1 {
			sb.WriteByte(c)
			continue
		}
		sb.WriteString(env[s[i+1:j]])
		i = j - 1
	}
	return sb.String()
}

// ExpandHome replaces a leading "~" or "~/" with home.
func ExpandHome(path, home string) string {
	if home == "" {
		return path
	}
	if path == "~" {
		return home
	}
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(home, path[2:])
	}
	return path
}

// ResolveDir resolves a cd argument against cwd: quotes are stripped,
// "~" expands to home, variables expand against env, and relative paths
// are joined to cwd. The result is cleaned.
func ResolveDir(arg, cwd, home string, env map[string]string) string {
	value, literal := Unquote(arg)
	if !literal {
		value = Expand(value, env)
		value = ExpandHome(value, home)
	}
	if value == "" {
		value = home
	}
	if !filepath.IsAbs(value) {
		value = filepath.Join(cwd, value)
	}
	return filepath.Clean(value)
}

func isNameByte(b byte, first bool) bool {
	switch {
	case b == '_', b >= 'A' && b <= 'Z', b >= 'a' && b <= 'z':
		return true
	case !first && b >= '0' && b <= '9':
		return true
	}
	return false
}
