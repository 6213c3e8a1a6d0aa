package executor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"shellbook/internal/launcher"
)

// Spawn stages.
const (
	StageLookup = "lookup" // resolving the shell executable
	StageStart  = "start"  // starting the process
)

// SpawnError is set on results of processes that never started.
type SpawnError struct {
	Shell string
	Stage string
	Err   error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawn %s (%s): %v", e.Shell, e.Stage, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// Handle is a running or finished execution.
type Handle struct {
	id         string
	done       chan struct{}
	onComplete func(Result)
	run        *run

	// sigMu orders signalling against finalization.
	sigMu    sync.Mutex
	pid      int
	stopping bool
	reaped   bool // the shell was waited for; pid may be reused
	finished atomic.Bool
	result   Result

	timedOut  atomic.Bool
	cancelled atomic.Bool
}

func newHandle(onComplete func(Result)) *Handle {
	return &Handle{
		id:         uuid.NewString(),
		done:       make(chan struct{}),
		onComplete: onComplete,
	}
}

// ID returns the handle's unique id.
func (h *Handle) ID() string { return h.id }

// Pid returns the shell's process id, or 0 when it never started.
func (h *Handle) Pid() int {
	h.sigMu.Lock()
	defer h.sigMu.Unlock()
	return h.pid
}

// Done is closed after the result is final and OnComplete has returned.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Result returns the final result once Done is closed.
func (h *Handle) Result() (Result, bool) {
	select {
	case <-h.done:
		return h.result, true
	default:
		return Result{}, false
	}
}

// Wait blocks until the execution finishes or ctx ends.
func (h *Handle) Wait(ctx context.Context) (Result, error) {
	select {
	case <-h.done:
		return h.result, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Cancel terminates the execution. The process group gets SIGTERM, then
// SIGKILL after KillGrace. A result marked Cancelled is still delivered.
// Cancel is a no-op once the execution has finished.
func (h *Handle) Cancel() {
	h.stop(&h.cancelled)
}

func (h *Handle) setPid(pid int) {
	h.sigMu.Lock()
	defer h.sigMu.Unlock()
	h.pid = pid
}

// setReaped records that the shell has exited. No signal is sent after it.
func (h *Handle) setReaped() {
	h.sigMu.Lock()
	defer h.sigMu.Unlock()
	h.reaped = true
}

// stop runs the graceful-then-forceful sequence once. reason records why
// the first stop happened; later calls are ignored.
func (h *Handle) stop(reason *atomic.Bool) {
	h.sigMu.Lock()
	if h.finished.Load() || h.reaped || h.stopping || h.pid == 0 {
		h.sigMu.Unlock()
		return
	}
	h.stopping = true
	reason.Store(true)
	pid := h.pid
	_ = launcher.Terminate(pid)
	h.sigMu.Unlock()

	time.AfterFunc(KillGrace, func() {
		h.sigMu.Lock()
		if h.finished.Load() || h.reaped {
			h.sigMu.Unlock()
			return
		}
		_ = launcher.Kill(pid)
		h.sigMu.Unlock()

		// A process that cannot be reaped must not leave the handle open.
		time.AfterFunc(KillGrace, func() {
			if !h.finished.Load() {
				h.finalize(h.run.forced())
			}
		})
	})
}

// finalize publishes res unless a result was already published.
func (h *Handle) finalize(res Result) {
	h.sigMu.Lock()
	if !h.finished.CompareAndSwap(false, true) {
		h.sigMu.Unlock()
		return
	}
	h.result = res
	h.sigMu.Unlock()

	defer close(h.done)
	if h.onComplete != nil {
		h.onComplete(res)
	}
}
