// Package executor runs one block's text in a child shell without blocking
// the caller.
//
// Execute spawns the shell in its own process group and returns a Handle at
// once. Three paths can end an execution: the process exiting, the timeout
// timer, and cancellation. They converge on a single once-only finalize, so
// a Result is produced exactly once and no signal is sent after it.
//
// With the shell or hybrid capture strategies the block is wrapped so that
// the child writes its final working directory and environment to a state
// file. The executor reads that file back into the Result and always
// removes it; merging the state into a session is the caller's job.
package executor

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/exec"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"shellbook/internal/injector"
	"shellbook/internal/launcher"
)

// Capture selects how the child's final state is learned.
type Capture string

const (
	CaptureParse  Capture = "parse"  // statement scanner only, no wrapping
	CaptureShell  Capture = "shell"  // state file only
	CaptureHybrid Capture = "hybrid" // scanner before, state file after
)

// Valid reports whether c names a known strategy.
func (c Capture) Valid() bool {
	switch c {
	case CaptureParse, CaptureShell, CaptureHybrid:
		return true
	}
	return false
}

const (
	DefaultTimeout = 30 * time.Second

	// KillGrace is how long a process group has between SIGTERM and SIGKILL.
	KillGrace = 500 * time.Millisecond

	// SpawnFailedExitCode marks results of processes that never started.
	SpawnFailedExitCode = -1

	// waitDelay bounds how long Wait keeps copying output after the shell
	// exits, for grandchildren that inherited the pipes.
	waitDelay = 2 * KillGrace
)

// Options configure one execution. Zero values fall back to the
// executor's defaults.
type Options struct {
	Shell        string
	Timeout      time.Duration
	WorkingDir   string // overrides the request cwd when set
	EnvOverrides map[string]string
	Capture      Capture
}

// Stream names an output stream.
type Stream string

const (
	Stdout Stream = "stdout"
	Stderr Stream = "stderr"
)

// Request describes one execution.
type Request struct {
	Identity string
	Command  string
	Cwd      string
	Env      map[string]string
	Options  Options

	// OnOutput receives output chunks as they arrive. It is called from
	// the output copying goroutines and must not block.
	OnOutput func(stream Stream, chunk []byte)

	// OnComplete runs exactly once with the final result, before the
	// handle's Done channel closes.
	OnComplete func(Result)
}

// Result is the outcome of one execution.
type Result struct {
	Identity      string
	Command       string
	OK            bool
	ExitCode      int
	Signal        string
	TimedOut      bool
	Cancelled     bool
	Duration      time.Duration
	Cwd           string
	Stdout        []byte
	Stderr        []byte
	ReconciledCwd string
	ReconciledEnv map[string]string
	StartedAt     time.Time
	Err           error
}

// Reconciled reports whether the child reported its state back.
func (r Result) Reconciled() bool {
	return r.ReconciledCwd != ""
}

// Executor spawns block shells.
type Executor struct {
	defaults Options
	stateDir string
	logger   *slog.Logger
}

// Option configures an Executor.
type Option func(*Executor)

// WithDefaults sets the options used where a request leaves fields empty.
func WithDefaults(o Options) Option {
	return func(e *Executor) {
		e.defaults = merge(e.defaults, o)
	}
}

// WithStateDir sets the directory state files are created in.
func WithStateDir(dir string) Option {
	return func(e *Executor) { e.stateDir = dir }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Executor) {
		if l != nil {
			e.logger = l
		}
	}
}

// New creates an Executor.
func New(opts ...Option) *Executor {
	e := &Executor{
		defaults: Options{
			Shell:   launcher.DefaultShell,
			Timeout: DefaultTimeout,
			Capture: CaptureHybrid,
		},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute starts req and returns immediately. Cancelling ctx has the same
// effect as calling Cancel on the returned handle.
func (e *Executor) Execute(ctx context.Context, req Request) *Handle {
	if ctx == nil {
		ctx = context.Background()
	}
	opts := merge(e.defaults, req.Options)
	h := newHandle(req.OnComplete)

	cwd := req.Cwd
	if opts.WorkingDir != "" {
		cwd = opts.WorkingDir
	}
	r := &run{
		exec:   e,
		req:    req,
		opts:   opts,
		cwd:    cwd,
		handle: h,
	}
	r.stdout = &streamBuffer{stream: Stdout, onOutput: req.OnOutput}
	r.stderr = &streamBuffer{stream: Stderr, onOutput: req.OnOutput}
	h.run = r

	log := e.logger.With("identity", req.Identity, "handle", h.id)

	shellPath, err := launcher.LookShell(opts.Shell)
	if err != nil {
		log.Debug("shell lookup failed", "shell", opts.Shell, "error", err)
		go h.finalize(r.spawnFailure(StageLookup, err))
		return h
	}

	script := req.Command
	if opts.Capture != CaptureParse {
		statePath, err := injector.CreateStateFile(e.stateDir)
		if err != nil {
			log.Debug("state capture disabled", "error", err)
		} else {
			r.statePath = statePath
			script = injector.Wrap(req.Command, statePath)
		}
	}

	cmd := launcher.Command(shellPath, script, cwd, injector.Environ(req.Env, opts.EnvOverrides))
	cmd.Stdout = r.stdout
	cmd.Stderr = r.stderr
	cmd.WaitDelay = waitDelay

	r.startedAt = time.Now()
	if err := cmd.Start(); err != nil {
		log.Debug("spawn failed", "shell", shellPath, "cwd", cwd, "error", err)
		r.removeState()
		go h.finalize(r.spawnFailure(StageStart, err))
		return h
	}
	h.setPid(cmd.Process.Pid)
	log.Debug("spawned", "pid", cmd.Process.Pid, "cwd", cwd, "timeout", opts.Timeout)

	timer := time.AfterFunc(opts.Timeout, func() {
		log.Debug("timeout", "after", opts.Timeout)
		h.stop(&h.timedOut)
	})

	go func() {
		select {
		case <-ctx.Done():
			h.Cancel()
		case <-h.done:
		}
	}()

	go func() {
		waitErr := cmd.Wait()
		h.setReaped()
		timer.Stop()
		res := r.result(cmd.ProcessState, waitErr)
		h.finalize(res)
	}()

	return h
}

// run carries the state of one execution.
type run struct {
	exec      *Executor
	req       Request
	opts      Options
	cwd       string
	statePath string
	startedAt time.Time
	stdout    *streamBuffer
	stderr    *streamBuffer
	handle    *Handle
}

func (r *run) base() Result {
	started := r.startedAt
	if started.IsZero() {
		started = time.Now()
	}
	return Result{
		Identity:  r.req.Identity,
		Command:   r.req.Command,
		Cwd:       r.cwd,
		StartedAt: started.UTC(),
	}
}

func (r *run) spawnFailure(stage string, err error) Result {
	res := r.base()
	res.ExitCode = SpawnFailedExitCode
	res.Err = &SpawnError{Shell: r.opts.Shell, Stage: stage, Err: err}
	return res
}

// result builds the final result once the process has been reaped.
func (r *run) result(state *os.ProcessState, waitErr error) Result {
	res := r.base()
	res.Duration = time.Since(r.startedAt)
	res.Stdout = r.stdout.Bytes()
	res.Stderr = r.stderr.Bytes()
	res.TimedOut = r.handle.timedOut.Load()
	res.Cancelled = r.handle.cancelled.Load()

	if state != nil {
		res.ExitCode = state.ExitCode()
		if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			res.Signal = unix.SignalName(ws.Signal())
			res.ExitCode = 128 + int(ws.Signal())
		}
	}

	var exitErr *exec.ExitError
	if waitErr != nil && !errors.As(waitErr, &exitErr) && !errors.Is(waitErr, exec.ErrWaitDelay) {
		res.Err = waitErr
	}

	r.readState(&res)
	res.OK = res.ExitCode == 0 && !res.TimedOut && !res.Cancelled && res.Err == nil
	return res
}

// forced builds the result used when the process could not be reaped
// within the grace window after SIGKILL.
func (r *run) forced() Result {
	res := r.base()
	res.Duration = time.Since(r.startedAt)
	res.Stdout = r.stdout.Bytes()
	res.Stderr = r.stderr.Bytes()
	res.TimedOut = r.handle.timedOut.Load()
	res.Cancelled = r.handle.cancelled.Load()
	res.Signal = unix.SignalName(unix.SIGKILL)
	res.ExitCode = 128 + int(unix.SIGKILL)
	return res
}

// readState fills the reconciled fields from the state file and removes it.
func (r *run) readState(res *Result) {
	if r.statePath == "" {
		return
	}
	defer r.removeState()

	log := r.exec.logger.With("identity", r.req.Identity)
	data, err := os.ReadFile(r.statePath)
	if err != nil || len(data) == 0 {
		log.Debug("reconciliation skipped", "reason", "no state written", "error", err)
		return
	}
	state, err := injector.ParseState(data)
	if err != nil {
		log.Debug("reconciliation skipped", "error", err)
		return
	}
	res.ReconciledCwd = state.Cwd
	res.ReconciledEnv = state.Env
}

func (r *run) removeState() {
	if r.statePath != "" {
		os.Remove(r.statePath)
	}
}

// merge fills empty fields of o from base.
func merge(base, o Options) Options {
	if o.Shell == "" {
		o.Shell = base.Shell
	}
	if o.Timeout <= 0 {
		o.Timeout = base.Timeout
	}
	if o.WorkingDir == "" {
		o.WorkingDir = base.WorkingDir
	}
	if o.Capture == "" {
		o.Capture = base.Capture
	}
	if len(base.EnvOverrides) > 0 {
		merged := make(map[string]string, len(base.EnvOverrides)+len(o.EnvOverrides))
		for k, v := range base.EnvOverrides {
			merged[k] = v
		}
		for k, v := range o.EnvOverrides {
			merged[k] = v
		}
		o.EnvOverrides = merged
	}
	return o
}
