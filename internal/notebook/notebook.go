// Package notebook runs the blocks of a document against its session and
// records every outcome in the document's results sidecar.
package notebook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"shellbook/internal/blocks"
	"shellbook/internal/config"
	"shellbook/internal/drift"
	"shellbook/internal/executor"
	"shellbook/internal/results"
	"shellbook/internal/session"
)

// ErrWaitExceeded is returned by RunAll when a block outlives RunAllWait.
var ErrWaitExceeded = errors.New("block did not complete within the run-all wait")

// Doc names a document. Path is empty for documents that were never saved;
// their results are not persisted.
type Doc struct {
	Key  string
	Path string
}

// DocAt returns the Doc for a file path. An empty path yields an unsaved
// document with a fresh key.
func DocAt(path string) Doc {
	return Doc{Key: session.KeyFor(path), Path: path}
}

// Saved reports whether results of the document can be persisted.
func (d Doc) Saved() bool {
	return d.Path != "" && !session.IsUnsaved(d.Key)
}

// Outcome is delivered exactly once per run, after the session has been
// reconciled and the result persisted (or persisting failed).
type Outcome struct {
	Doc        Doc
	Block      blocks.Block
	Result     executor.Result
	Execution  results.Execution // as persisted; zero unless Persisted
	Persisted  bool
	PersistErr error
	Drift      drift.Report
}

// Notebook ties sessions, the executor and the results store together.
type Notebook struct {
	cfg      config.Config
	sessions *session.Store
	exec     *executor.Executor
	store    *results.Store
	cache    *blocks.Cache
	logger   *slog.Logger
}

// New creates a Notebook. A nil logger uses slog.Default().
func New(cfg config.Config, sessions *session.Store, exec *executor.Executor, store *results.Store, logger *slog.Logger) *Notebook {
	if logger == nil {
		logger = slog.Default()
	}
	cache, err := blocks.NewCache(blocks.DefaultCacheSize)
	if err != nil {
		// Only non-positive sizes fail.
		panic(err)
	}
	return &Notebook{
		cfg:      cfg,
		sessions: sessions,
		exec:     exec,
		store:    store,
		cache:    cache,
		logger:   logger,
	}
}

// Store returns the results store.
func (n *Notebook) Store() *results.Store { return n.store }

// Blocks returns the runnable blocks of text.
func (n *Notebook) Blocks(text string) []blocks.Block {
	return n.cache.Discover(text)
}

// Session returns the document's session, creating it on first use.
func (n *Notebook) Session(doc Doc) *session.Session {
	return n.sessions.GetOrCreate(doc.Key, doc.Path)
}

// Reset discards the document's session state.
func (n *Notebook) Reset(doc Doc) *session.Session {
	return n.sessions.Reset(doc.Key, doc.Path)
}

// Run starts block b and returns immediately. notify, when non-nil, is
// called once with the outcome before the run's Done channel closes.
//
// The statement scan updates the session before the child starts, but the
// child itself is spawned from the snapshot taken before the scan: the
// block's own `cd sub` runs inside the child, and starting it in sub
// already would apply the relative move twice. Once the child exits, only
// the changes it made relative to that snapshot are merged back.
func (n *Notebook) Run(ctx context.Context, doc Doc, b blocks.Block, notify func(Outcome)) *Run {
	s := n.Session(doc)
	capture := n.cfg.Capture

	cwd, env := s.Snapshot()
	if capture != executor.CaptureShell {
		session.ApplyStatements(b.Content, s)
	}

	log := n.logger.With("doc", doc.Path, "identity", b.Identity, "line", b.StartLine)
	r := &Run{Block: b, done: make(chan struct{})}

	r.handle = n.exec.Execute(ctx, executor.Request{
		Identity: b.Identity,
		Command:  b.Content,
		Cwd:      cwd,
		Env:      env,
		Options:  executor.Options{Capture: capture},
		OnComplete: func(res executor.Result) {
			out := Outcome{Doc: doc, Block: b, Result: res}

			switch {
			case capture == executor.CaptureParse:
			case res.Reconciled():
				out.Drift = session.Reconcile(s, cwd, env, res.ReconciledCwd, res.ReconciledEnv)
			default:
				log.Debug("reconciliation skipped", "exit_code", res.ExitCode)
			}

			if doc.Saved() {
				exec, err := n.store.Append(context.WithoutCancel(ctx), doc.Path, EntryFromResult(res))
				if err != nil {
					log.Warn("failed to persist result", "error", err)
					out.PersistErr = err
				} else {
					out.Execution = exec
					out.Persisted = true
				}
			}

			r.outcome = out
			if notify != nil {
				notify(out)
			}
			close(r.done)
		},
	})
	return r
}

// RunAll runs every block of text in document order, each one starting
// only after the previous run's outcome was delivered. A failing block
// does not stop the sequence; cancellation of ctx or a block outliving
// RunAllWait does. The outcomes gathered so far, including that of the
// interrupted block, are returned with the error.
func (n *Notebook) RunAll(ctx context.Context, doc Doc, text string, notify func(Outcome)) ([]Outcome, error) {
	var outcomes []Outcome
	for _, b := range n.Blocks(text) {
		if err := ctx.Err(); err != nil {
			return outcomes, err
		}
		r := n.Run(ctx, doc, b, notify)
		out, err := r.Wait(ctx, n.cfg.RunAllWait)
		outcomes = append(outcomes, out)
		if err != nil {
			return outcomes, err
		}
	}
	return outcomes, nil
}

// RunNext runs the first block starting after line. It reports false when
// there is no such block.
func (n *Notebook) RunNext(ctx context.Context, doc Doc, text string, line int, notify func(Outcome)) (*Run, bool) {
	b, ok := blocks.After(n.Blocks(text), line)
	if !ok {
		return nil, false
	}
	return n.Run(ctx, doc, b, notify), true
}

// RunAt runs the block containing line.
func (n *Notebook) RunAt(ctx context.Context, doc Doc, text string, line int, notify func(Outcome)) (*Run, bool) {
	b, ok := blocks.At(n.Blocks(text), line)
	if !ok {
		return nil, false
	}
	return n.Run(ctx, doc, b, notify), true
}

// Prune drops stored results of blocks no longer present in text.
func (n *Notebook) Prune(ctx context.Context, doc Doc, text string) (int, error) {
	if !doc.Saved() {
		return 0, nil
	}
	removed, err := n.store.Prune(ctx, doc.Path, blocks.Identities(n.Blocks(text)))
	if err != nil {
		return 0, fmt.Errorf("prune %s: %w", doc.Path, err)
	}
	if removed > 0 {
		n.logger.Info("pruned stale results", "doc", doc.Path, "removed", removed)
	}
	return removed, nil
}

// EntryFromResult converts an execution result into a results entry.
func EntryFromResult(res executor.Result) results.Entry {
	return results.Entry{
		Identity:      res.Identity,
		CommandText:   res.Command,
		ExitCode:      res.ExitCode,
		Signal:        res.Signal,
		TimedOut:      res.TimedOut,
		Cancelled:     res.Cancelled,
		Duration:      res.Duration,
		CwdAtStart:    res.Cwd,
		Stdout:        res.Stdout,
		Stderr:        res.Stderr,
		ReconciledCwd: res.ReconciledCwd,
		StartedAt:     res.StartedAt,
	}
}

// Run is a block execution started by a Notebook.
type Run struct {
	Block   blocks.Block
	handle  *executor.Handle
	done    chan struct{}
	outcome Outcome
}

// Done closes once the outcome has been delivered.
func (r *Run) Done() <-chan struct{} { return r.done }

// Cancel stops the block's process group.
func (r *Run) Cancel() { r.handle.Cancel() }

// Pid returns the shell's pid, or 0 when it never started.
func (r *Run) Pid() int { return r.handle.Pid() }

// Outcome returns the outcome once Done has closed.
func (r *Run) Outcome() (Outcome, bool) {
	select {
	case <-r.done:
		return r.outcome, true
	default:
		return Outcome{}, false
	}
}

// Wait blocks until the outcome is available. A positive ceiling bounds
// the wait: when it passes, the run is cancelled, its outcome still
// awaited, and ErrWaitExceeded returned alongside it.
func (r *Run) Wait(ctx context.Context, ceiling time.Duration) (Outcome, error) {
	var expired <-chan time.Time
	if ceiling > 0 {
		t := time.NewTimer(ceiling)
		defer t.Stop()
		expired = t.C
	}

	select {
	case <-r.done:
		return r.outcome, nil
	case <-ctx.Done():
		r.Cancel()
		<-r.done
		return r.outcome, ctx.Err()
	case <-expired:
		r.Cancel()
		<-r.done
		return r.outcome, ErrWaitExceeded
	}
}
