package injector

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// StateMarker separates the cwd line from the environment dump in a state file.
const StateMarker = "__SHELLBOOK_ENV__"

// StateFilePrefix is the base-name prefix of every state file.
const StateFilePrefix = "shellbook-state-"

var (
	ErrEmptyState     = errors.New("state file is empty")
	ErrMalformedState = errors.New("state file is malformed")
)

// State is what a wrapped block reported after it exited.
type State struct {
	Cwd string
	Env map[string]string // nil when the dump was missing
}

// CreateStateFile creates an empty, uniquely named state file in dir
// (os.TempDir() when dir is empty) and returns its path.
func CreateStateFile(dir string) (string, error) {
	if dir == "" {
		dir = os.TempDir()
	}
	path := filepath.Join(dir, StateFilePrefix+uuid.NewString())
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
	if err != nil {
		return "", fmt.Errorf("create state file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("create state file: %w", err)
	}
	return path, nil
}

// Wrap returns a script that runs command verbatim in a subshell. On any
// exit of that subshell an EXIT trap writes the working directory, the
// marker line and the environment to statePath, then exits with the
// command's own status.
func Wrap(command, statePath string) string {
	if !strings.HasSuffix(command, "\n") {
		command += "\n"
	}

	var sb strings.Builder
	sb.WriteString("(\n")
	sb.WriteString("__shellbook_state=" + quote(statePath) + "\n")
	sb.WriteString("__shellbook_exit() {\n")
	sb.WriteString("  __shellbook_status=$?\n")
	sb.WriteString("  {\n")
	sb.WriteString("    pwd\n")
	sb.WriteString("    printf '%s\\n' " + quote(StateMarker) + "\n")
	sb.WriteString("    env -0 2>/dev/null || env\n")
	sb.WriteString("  } > \"$__shellbook_state\" 2>/dev/null\n")
	sb.WriteString("  exit \"$__shellbook_status\"\n")
	sb.WriteString("}\n")
	sb.WriteString("trap __shellbook_exit EXIT\n")
	sb.WriteString(command)
	sb.WriteString(")\n")
	return sb.String()
}

// ParseState decodes a state file written by a Wrap script. The dump is
// read NUL-separated when it contains a NUL byte and newline-separated
// otherwise. In the newline form a line that does not start a NAME=
// entry continues the previous value.
func ParseState(data []byte) (State, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return State{}, ErrEmptyState
	}

	cwd, rest, _ := strings.Cut(string(data), "\n")
	cwd = strings.TrimRight(cwd, "\r")
	if !filepath.IsAbs(cwd) {
		return State{}, fmt.Errorf("%w: bad cwd line %q", ErrMalformedState, cwd)
	}

	state := State{Cwd: cwd}
	marker, dump, _ := strings.Cut(rest, "\n")
	if marker != StateMarker {
		// The trap stopped after pwd; the directory alone is still usable.
		return state, nil
	}

	if strings.Contains(dump, "\x00") {
		state.Env = parseEntries(strings.Split(dump, "\x00"), false)
	} else {
		state.Env = parseEntries(strings.Split(dump, "\n"), true)
	}
	return state, nil
}

func parseEntries(entries []string, continuation bool) map[string]string {
	env := make(map[string]string, len(entries))
	last := ""
	for _, e := range entries {
		if e == "" {
			continue
		}
		name, value, ok := strings.Cut(e, "=")
		if ok && name != "" && !strings.ContainsAny(name, " \t") {
			env[name] = value
			last = name
			continue
		}
		if continuation && last != "" {
			env[last] += "\n" + e
		}
	}
	return env
}

// quote renders s as a single-quoted shell word.
func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
