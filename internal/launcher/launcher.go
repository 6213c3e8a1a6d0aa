// Package launcher starts block shells in their own process group and
// signals the whole group.
package launcher

import (
	"errors"
	"os"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// DefaultShell runs blocks when no shell is configured.
const DefaultShell = "/bin/sh"

// LookShell resolves shell to an executable path.
// An empty shell means DefaultShell.
func LookShell(shell string) (string, error) {
	if shell == "" {
		shell = DefaultShell
	}
	return exec.LookPath(shell)
}

// Command builds `<shell> -c <script>` running in dir with environ, in a
// new process group so that signals reach every process the script starts.
func Command(shellPath, script, dir string, environ []string) *exec.Cmd {
	cmd := exec.Command(shellPath, "-c", script)
	cmd.Dir = dir
	cmd.Env = environ
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	return cmd
}

// Terminate asks the process group led by pid to exit.
func Terminate(pid int) error {
	return signalGroup(pid, unix.SIGTERM)
}

// Kill forcefully stops the process group led by pid.
func Kill(pid int) error {
	return signalGroup(pid, unix.SIGKILL)
}

func signalGroup(pid int, sig unix.Signal) error {
	if pid <= 0 {
		return errors.New("invalid pid")
	}
	err := unix.Kill(-pid, sig)
	if errors.Is(err, unix.ESRCH) {
		return nil
	}
	return err
}

// Alive checks if a process exists using kill -0.
// A process owned by another user counts as alive.
func Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}

// IsNotFound checks if the error indicates the shell was not found
func IsNotFound(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, os.ErrNotExist) || errors.Is(err, exec.ErrNotFound)
}

// IsPermissionDenied checks if the error indicates permission was denied
func IsPermissionDenied(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, os.ErrPermission)
}
