package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"shellbook/internal/blocks"
	"shellbook/internal/config"
	"shellbook/internal/drift"
	"shellbook/internal/executor"
	"shellbook/internal/identity"
	"shellbook/internal/launcher"
	"shellbook/internal/notebook"
	"shellbook/internal/results"
)

// outcomeView is the JSON form of a run.
type outcomeView struct {
	Identity     string        `json:"identity"`
	StartLine    int           `json:"start_line"`
	EndLine      int           `json:"end_line"`
	OK           bool          `json:"ok"`
	ExitCode     int           `json:"exit_code"`
	Signal       string        `json:"signal,omitempty"`
	TimedOut     bool          `json:"timed_out"`
	Cancelled    bool          `json:"cancelled"`
	DurationMs   int64         `json:"duration_ms"`
	Stdout       string        `json:"stdout"`
	Stderr       string        `json:"stderr"`
	Error        string        `json:"error,omitempty"`
	ErrorKind    string        `json:"error_kind,omitempty"`
	Persisted    bool          `json:"persisted"`
	PersistError string        `json:"persist_error,omitempty"`
	Drift        *drift.Report `json:"drift,omitempty"`
}

func viewOutcome(o notebook.Outcome) outcomeView {
	res := o.Result
	v := outcomeView{
		Identity:   o.Block.Identity,
		StartLine:  o.Block.StartLine,
		EndLine:    o.Block.EndLine,
		OK:         res.OK,
		ExitCode:   res.ExitCode,
		Signal:     res.Signal,
		TimedOut:   res.TimedOut,
		Cancelled:  res.Cancelled,
		DurationMs: res.Duration.Milliseconds(),
		Stdout:     string(res.Stdout),
		Stderr:     string(res.Stderr),
		Persisted:  o.Persisted,
	}
	if res.Err != nil {
		v.Error = res.Err.Error()
		v.ErrorKind, _ = spawnFailure(res.Err)
	}
	if o.PersistErr != nil {
		v.PersistError = o.PersistErr.Error()
	}
	if o.Drift.HasDrift {
		report := o.Drift
		v.Drift = &report
	}
	return v
}

func (a *app) printJSON(v any) int {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(a.stderr, "Error: cannot format output: %v\n", err)
		return exitError
	}
	fmt.Fprintln(a.stdout, string(data))
	return exitOK
}

// printOutcome copies the block's output to the matching streams and
// reports failures and session changes on stderr.
func (a *app) printOutcome(o notebook.Outcome) {
	res := o.Result
	a.stdout.Write(res.Stdout)
	a.stderr.Write(res.Stderr)

	switch {
	case res.Err != nil:
		if _, msg := spawnFailure(res.Err); msg != "" {
			fmt.Fprintf(a.stderr, "✗ %s\n", msg)
		} else {
			fmt.Fprintf(a.stderr, "✗ %v\n", res.Err)
		}
	case res.TimedOut:
		fmt.Fprintf(a.stderr, "✗ timed out after %s\n", res.Duration.Round(time.Millisecond))
	case res.Cancelled:
		fmt.Fprintln(a.stderr, "✗ cancelled")
	case !res.OK:
		fmt.Fprintf(a.stderr, "✗ exit %d\n", res.ExitCode)
	}
	if report := drift.FormatCLI(o.Drift); report != "" {
		fmt.Fprint(a.stderr, report)
	}
}

// spawnFailure classifies an error of a block that never started. Both
// results are empty for other errors.
func spawnFailure(err error) (kind, msg string) {
	var spawnErr *executor.SpawnError
	if !errors.As(err, &spawnErr) {
		return "", ""
	}
	switch {
	case spawnErr.Stage == executor.StageLookup && launcher.IsNotFound(spawnErr.Err):
		return "shell_not_found", fmt.Sprintf("shell not found: %s (set %sSHELL or shell in the config file)", spawnErr.Shell, config.EnvPrefix)
	case launcher.IsPermissionDenied(spawnErr.Err):
		return "permission_denied", fmt.Sprintf("permission denied starting %s: %v", spawnErr.Shell, spawnErr.Err)
	case spawnErr.Stage == executor.StageStart && launcher.IsNotFound(spawnErr.Err):
		return "cwd_not_found", fmt.Sprintf("working directory does not exist: %v", spawnErr.Err)
	}
	return "spawn_failed", fmt.Sprintf("could not start %s: %v", spawnErr.Shell, spawnErr.Err)
}

func formatBlock(b blocks.Block) string {
	lang := b.Language
	if lang == "" {
		lang = "-"
	}
	return fmt.Sprintf("L%d-%d  %s  %-4s  %s", b.StartLine, b.EndLine, identity.Short(b.Identity), lang, blockSummary(b))
}

func formatExecution(e results.Execution) string {
	status := fmt.Sprintf("exit=%d", e.ExitCode)
	switch {
	case e.TimedOut:
		status = "timed-out"
	case e.Cancelled:
		status = "cancelled"
	case e.Signal != "":
		status += " " + e.Signal
	}
	command := strings.TrimSpace(strings.SplitN(e.CommandText, "\n", 2)[0])
	return fmt.Sprintf("%s  %s  %s  %s  %s",
		identity.Short(e.Identity),
		e.StartedAt.UTC().Format(time.RFC3339),
		e.Duration().Round(time.Millisecond),
		status,
		command)
}
