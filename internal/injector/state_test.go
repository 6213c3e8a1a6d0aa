package injector

import (
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseState_NulSeparated(t *testing.T) {
	data := "/work/dir\n" + StateMarker + "\nA=1\x00MULTI=line1\nline2\x00EMPTY=\x00"
	state, err := ParseState([]byte(data))
	require.NoError(t, err)
	assert.Equal(t, "/work/dir", state.Cwd)
	assert.Equal(t, map[string]string{"A": "1", "MULTI": "line1\nline2", "EMPTY": ""}, state.Env)
}

func TestParseState_NewlineFallback(t *testing.T) {
	data := "/w\n" + StateMarker + "\nA=1\nMULTI=first\nsecond\nB=x=y\n"
	state, err := ParseState([]byte(data))
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"A": "1", "MULTI": "first\nsecond", "B": "x=y"}, state.Env)
}

func TestParseState_CwdOnly(t *testing.T) {
	state, err := ParseState([]byte("/only/cwd\n"))
	require.NoError(t, err)
	assert.Equal(t, "/only/cwd", state.Cwd)
	assert.Nil(t, state.Env)
}

func TestParseState_Errors(t *testing.T) {
	_, err := ParseState(nil)
	assert.True(t, errors.Is(err, ErrEmptyState))

	_, err = ParseState([]byte("  \n"))
	assert.True(t, errors.Is(err, ErrEmptyState))

	_, err = ParseState([]byte("relative/path\n" + StateMarker + "\n"))
	assert.True(t, errors.Is(err, ErrMalformedState))
}

func TestCreateStateFile(t *testing.T) {
	dir := t.TempDir()
	a, err := CreateStateFile(dir)
	require.NoError(t, err)
	b, err := CreateStateFile(dir)
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
	assert.True(t, strings.HasPrefix(filepath.Base(a), StateFilePrefix))
	info, err := os.Stat(a)
	require.NoError(t, err)
	assert.Equal(t, int64(0), info.Size())

	_, err = CreateStateFile(filepath.Join(dir, "missing"))
	assert.Error(t, err)
}

func TestQuote(t *testing.T) {
	assert.Equal(t, `'plain'`, quote("plain"))
	assert.Equal(t, `'it'\''s'`, quote("it's"))
}

// runWrapped executes a wrapped script with /bin/sh and returns the
// parsed state and the exit code.
func runWrapped(t *testing.T, command string) (State, int) {
	t.Helper()
	if _, err := exec.LookPath("/bin/sh"); err != nil {
		t.Skip("no /bin/sh")
	}
	statePath, err := CreateStateFile(t.TempDir())
	require.NoError(t, err)

	cmd := exec.Command("/bin/sh", "-c", Wrap(command, statePath))
	cmd.Env = []string{"PATH=" + os.Getenv("PATH"), "KEEP=yes"}
	cmd.Dir = t.TempDir()
	err = cmd.Run()
	code := 0
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		code = exitErr.ExitCode()
	} else {
		require.NoError(t, err)
	}

	data, err := os.ReadFile(statePath)
	require.NoError(t, err)
	state, err := ParseState(data)
	require.NoError(t, err)
	return state, code
}

func TestWrap_CapturesCwdAndEnv(t *testing.T) {
	target, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)

	state, code := runWrapped(t, "cd '"+target+"'\nexport ADDED=value\nunset KEEP")
	assert.Equal(t, 0, code)
	assert.Equal(t, target, state.Cwd)
	assert.Equal(t, "value", state.Env["ADDED"])
	_, kept := state.Env["KEEP"]
	assert.False(t, kept)
	_, leaked := state.Env["__shellbook_state"]
	assert.False(t, leaked, "wrapper variable leaked into the dump")
}

func TestWrap_PreservesExitStatus(t *testing.T) {
	state, code := runWrapped(t, "export BEFORE_EXIT=1\nexit 7")
	assert.Equal(t, 7, code)
	assert.Equal(t, "1", state.Env["BEFORE_EXIT"])

	_, code = runWrapped(t, "false")
	assert.Equal(t, 1, code)
}
