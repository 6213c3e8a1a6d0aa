package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"shellbook/internal/blocks"
	"shellbook/internal/cli"
	"shellbook/internal/config"
	"shellbook/internal/drift"
	"shellbook/internal/executor"
	"shellbook/internal/logging"
	"shellbook/internal/notebook"
	"shellbook/internal/results"
	"shellbook/internal/session"
)

// Exit codes.
const (
	exitOK         = 0
	exitError      = 1 // usage or internal error
	exitFailed     = 2 // a block failed, timed out or was cancelled
	exitUnreadable = 3 // document, sidecar or config not readable
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	exitCode := run(ctx, os.Args[1:], os.Environ(), os.Stdout, os.Stderr)
	stop()
	os.Exit(exitCode)
}

// app holds what every subcommand needs.
type app struct {
	cmd    cli.Command
	cfg    config.Config
	logger *slog.Logger
	nb     *notebook.Notebook
	stdout io.Writer
	stderr io.Writer
}

// run parses args, loads configuration and dispatches to the subcommand.
// It returns the process exit code. Separated from main() for testing.
func run(ctx context.Context, args, environ []string, stdout, stderr io.Writer) int {
	cmd, err := cli.ParseArgs(args)
	if err != nil {
		fmt.Fprintln(stderr, "Error:", err)
		return exitError
	}
	if cmd.Subcommand == cli.SubcommandHelp {
		fmt.Fprint(stdout, cmd.HelpText)
		return exitOK
	}

	cfg, err := config.Load(config.LoadOptions{
		Environ:    environ,
		DocPath:    cmd.DocPath,
		ConfigPath: cmd.ConfigPath,
	})
	if err != nil {
		fmt.Fprintln(stderr, "Error:", err)
		return exitUnreadable
	}
	if cmd.LogLevel != "" {
		if _, ok := config.ParseLevel(cmd.LogLevel); !ok {
			fmt.Fprintf(stderr, "Error: unknown log level %q\n", cmd.LogLevel)
			return exitError
		}
		cfg.LogLevel = cmd.LogLevel
	}
	logger := logging.FromConfig(stderr, cfg)

	exec := executor.New(executor.WithDefaults(cfg.ExecutorOptions()), executor.WithLogger(logger))
	store := results.NewStore(cfg.ResultsConfig(logger))
	nb := notebook.New(cfg, session.NewStore(environ), exec, store, logger)

	a := &app{cmd: cmd, cfg: cfg, logger: logger, nb: nb, stdout: stdout, stderr: stderr}
	logger.Debug("dispatch", "subcommand", cmd.Subcommand, "doc", cmd.DocPath, "config", cfg.Sources)

	switch cmd.Subcommand {
	case cli.SubcommandBlocks:
		return a.blocks()
	case cli.SubcommandRun:
		return a.runAt(ctx)
	case cli.SubcommandRunAll:
		return a.runAll(ctx)
	case cli.SubcommandNext:
		return a.runNext(ctx)
	case cli.SubcommandResults:
		return a.results()
	case cli.SubcommandPrune:
		return a.prune(ctx)
	case cli.SubcommandArtifact:
		return a.artifact()
	case cli.SubcommandWatch:
		return a.watch(ctx)
	case cli.SubcommandEnv:
		return a.env()
	}
	fmt.Fprintf(stderr, "Error: unhandled subcommand %q\n", cmd.Subcommand)
	return exitError
}

// document reads the document text.
func (a *app) document() (notebook.Doc, string, bool) {
	data, err := os.ReadFile(a.cmd.DocPath)
	if err != nil {
		if os.IsNotExist(err) {
			fmt.Fprintf(a.stderr, "document not found: %s\n", a.cmd.DocPath)
		} else {
			fmt.Fprintf(a.stderr, "failed to read document: %v\n", err)
		}
		return notebook.Doc{}, "", false
	}
	return notebook.DocAt(a.cmd.DocPath), string(data), true
}

func (a *app) blocks() int {
	_, text, ok := a.document()
	if !ok {
		return exitUnreadable
	}
	found := a.nb.Blocks(text)
	if a.cmd.JSONOutput {
		return a.printJSON(found)
	}
	for _, b := range found {
		fmt.Fprintln(a.stdout, formatBlock(b))
	}
	return exitOK
}

func (a *app) runAt(ctx context.Context) int {
	doc, text, ok := a.document()
	if !ok {
		return exitUnreadable
	}
	r, found := a.nb.RunAt(ctx, doc, text, a.cmd.Line, nil)
	if !found {
		fmt.Fprintf(a.stderr, "Error: no runnable block at line %d\n", a.cmd.Line)
		return exitError
	}
	return a.finish(ctx, r)
}

func (a *app) runNext(ctx context.Context) int {
	doc, text, ok := a.document()
	if !ok {
		return exitUnreadable
	}
	r, found := a.nb.RunNext(ctx, doc, text, a.cmd.Line, nil)
	if !found {
		fmt.Fprintf(a.stderr, "Error: no runnable block after line %d\n", a.cmd.Line)
		return exitError
	}
	return a.finish(ctx, r)
}

// finish waits for one run and reports it.
func (a *app) finish(ctx context.Context, r *notebook.Run) int {
	out, err := r.Wait(ctx, 0)
	if a.cmd.JSONOutput {
		if code := a.printJSON(viewOutcome(out)); code != exitOK {
			return code
		}
	} else {
		a.printOutcome(out)
	}
	if err != nil || !out.Result.OK {
		return exitFailed
	}
	return exitOK
}

func (a *app) runAll(ctx context.Context) int {
	doc, text, ok := a.document()
	if !ok {
		return exitUnreadable
	}

	var views []outcomeView
	notify := func(o notebook.Outcome) {
		if a.cmd.JSONOutput {
			views = append(views, viewOutcome(o))
			return
		}
		fmt.Fprintf(a.stdout, "── %s\n", formatBlock(o.Block))
		a.printOutcome(o)
	}

	outcomes, err := a.nb.RunAll(ctx, doc, text, notify)
	if a.cmd.JSONOutput {
		if code := a.printJSON(views); code != exitOK {
			return code
		}
	}
	switch {
	case errors.Is(err, notebook.ErrWaitExceeded):
		fmt.Fprintf(a.stderr, "Error: %v (%s)\n", err, a.cfg.RunAllWait)
		return exitFailed
	case err != nil:
		fmt.Fprintln(a.stderr, "Error:", err)
		return exitError
	}
	for _, o := range outcomes {
		if !o.Result.OK {
			return exitFailed
		}
	}
	return exitOK
}

func (a *app) results() int {
	_, _, ok := a.document()
	if !ok {
		return exitUnreadable
	}
	store := a.nb.Store()
	execs, err := store.ReadAllLatest(a.cmd.DocPath)
	if err != nil {
		fmt.Fprintf(a.stderr, "failed to read results: %v\n", err)
		return exitUnreadable
	}

	if a.cmd.Identity != "" {
		var matched []results.Execution
		for _, e := range execs {
			if strings.HasPrefix(e.Identity, a.cmd.Identity) {
				matched = append(matched, e)
			}
		}
		if len(matched) == 0 {
			fmt.Fprintf(a.stderr, "Error: no result for identity %s\n", a.cmd.Identity)
			return exitError
		}
		execs = matched
	}

	if a.cmd.JSONOutput {
		return a.printJSON(execs)
	}
	for _, e := range execs {
		fmt.Fprintln(a.stdout, formatExecution(e))
		if a.cmd.Identity == "" {
			continue
		}
		for _, st := range []results.Stream{e.Stdout, e.Stderr} {
			data, err := store.StreamBytes(a.cmd.DocPath, st)
			if err != nil {
				a.logger.Warn("artifact unreadable", "path", st.Path, "error", err)
				continue
			}
			a.stdout.Write(data)
		}
	}
	return exitOK
}

func (a *app) prune(ctx context.Context) int {
	doc, text, ok := a.document()
	if !ok {
		return exitUnreadable
	}
	removed, err := a.nb.Prune(ctx, doc, text)
	if err != nil {
		fmt.Fprintln(a.stderr, "Error:", err)
		return exitError
	}
	if a.cmd.JSONOutput {
		return a.printJSON(map[string]int{"removed": removed})
	}
	fmt.Fprintf(a.stdout, "removed %d stale result(s)\n", removed)
	return exitOK
}

func (a *app) artifact() int {
	data, err := a.nb.Store().ReadArtifact(a.cmd.ArtifactPath)
	if err != nil {
		fmt.Fprintf(a.stderr, "failed to read artifact: %v\n", err)
		return exitUnreadable
	}
	a.stdout.Write(data)
	return exitOK
}

func (a *app) watch(ctx context.Context) int {
	if _, _, ok := a.document(); !ok {
		return exitUnreadable
	}
	err := a.nb.Store().Watch(ctx, a.cmd.DocPath, results.DefaultWatchDebounce, func(doc results.Document) {
		execs := make([]results.Execution, 0, len(doc.Executions))
		for _, e := range doc.Executions {
			execs = append(execs, e)
		}
		sort.Slice(execs, func(i, j int) bool { return execs[i].StartedAt.After(execs[j].StartedAt) })
		if a.cmd.JSONOutput {
			a.printJSON(execs)
			return
		}
		fmt.Fprintf(a.stdout, "── %d result(s)\n", len(execs))
		for _, e := range execs {
			fmt.Fprintln(a.stdout, formatExecution(e))
		}
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintln(a.stderr, "Error:", err)
		return exitError
	}
	return exitOK
}

// env replays the statement scanner over every block starting at or
// before the line and reports the resulting session state.
func (a *app) env() int {
	doc, text, ok := a.document()
	if !ok {
		return exitUnreadable
	}
	s := a.nb.Reset(doc)
	cwdBefore, before := s.Snapshot()
	for _, b := range a.nb.Blocks(text) {
		if b.StartLine > a.cmd.Line {
			break
		}
		session.ApplyStatements(b.Content, s)
	}
	cwdAfter, after := s.Snapshot()
	report := drift.DetectState(cwdBefore, before, cwdAfter, after)

	if a.cmd.JSONOutput {
		out, err := drift.FormatJSON(report)
		if err != nil {
			fmt.Fprintln(a.stderr, "Error:", err)
			return exitError
		}
		fmt.Fprintln(a.stdout, out)
		return exitOK
	}
	fmt.Fprintf(a.stdout, "cwd: %s\n", cwdAfter)
	fmt.Fprint(a.stdout, drift.FormatCLI(report))
	return exitOK
}

// blockSummary is the first non-empty line of a block.
func blockSummary(b blocks.Block) string {
	for _, line := range strings.Split(b.Content, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			return line
		}
	}
	return ""
}
