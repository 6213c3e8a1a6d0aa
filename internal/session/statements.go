package session

import (
	"os"
	"strings"

	"shellbook/internal/resolver"
)

// ApplyStatements runs a line-oriented scan of text and mutates s for every
// leading `cd`, `export NAME=VALUE`, `unset NAME` or bare `NAME=VALUE` it
// recognizes.
//
// Only the first simple command of each line is looked at. Anything after
// `;`, `&&`, `||` or `|` is ignored, as are subshells and conditionals.
func ApplyStatements(text string, s *Session) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		words := splitWords(line)
		if len(words) == 0 {
			continue
		}

		switch words[0] {
		case "cd":
			arg := ""
			if len(words) > 1 {
				arg = words[1]
			}
			if arg == "-" {
				continue
			}
			s.cwd = resolver.ResolveDir(arg, s.cwd, home(s.env), s.env)
		case "export":
			for _, w := range words[1:] {
				if strings.HasPrefix(w, "-") {
					continue
				}
				assign(s.env, w)
			}
		case "unset":
			for _, w := range words[1:] {
				// unset -f removes functions, which the session does not track.
				if w == "-f" {
					break
				}
				if strings.HasPrefix(w, "-") || !resolver.ValidName(w) {
					continue
				}
				delete(s.env, w)
			}
		default:
			// A run of assignments followed by a command only scopes them to
			// that command.
			if !onlyAssignments(words) {
				continue
			}
			for _, w := range words {
				assign(s.env, w)
			}
		}
	}
}

func onlyAssignments(words []string) bool {
	for _, w := range words {
		if _, _, ok := splitAssignment(w); !ok {
			return false
		}
	}
	return true
}

func assign(env map[string]string, word string) {
	name, raw, ok := splitAssignment(word)
	if !ok {
		return
	}
	value, literal := resolver.Unquote(raw)
	if !literal {
		value = resolver.Expand(value, env)
	}
	env[name] = value
}

func splitAssignment(word string) (name, value string, ok bool) {
	idx := strings.IndexByte(word, '=')
	if idx <= 0 {
		return "", "", false
	}
	name = word[:idx]
	if !resolver.ValidName(name) {
		return "", "", false
	}
	return name, word[idx+1:], true
}

func home(env map[string]string) string {
	if h := env["HOME"]; h != "" {
		return h
	}
	if h, err := os.UserHomeDir(); err == nil {
		return h
	}
	return "/"
}

// splitWords splits the first simple command of line into words. Quotes
// are kept in the returned words so callers can tell literal values apart.
// Splitting stops at an unquoted command separator or comment.
func splitWords(line string) []string {
	var (
		words  []string
		cur    strings.Builder
		quote  byte
		inWord bool
	)
	flush := func() {
		if inWord {
			words = append(words, cur.String())
			cur.Reset()
			inWord = false
		}
	}

	for i := 0; i < len(line); i++ {
		c := line[i]
		if quote != 0 {
			cur.WriteByte(c)
			if c == quote {
				quote = 0
			} else if c == '\\' && quote == '"' && i+1 < len(line) {
				i++
				cur.WriteByte(line[i])
			}
			continue
		}
		switch c {
		case '\'', '"':
			quote = c
			inWord = true
			cur.WriteByte(c)
		case '\\':
			inWord = true
			cur.WriteByte(c)
			if i+1 < len(line) {
				i++
				cur.WriteByte(line[i])
			}
		case ' ', '\t':
			flush()
		case ';', '&', '|', '(', ')':
			flush()
			return words
		case '#':
			if !inWord {
				return words
			}
			cur.WriteByte(c)
		default:
			inWord = true
			cur.WriteByte(c)
		}
	}
	flush()
	return words
}
