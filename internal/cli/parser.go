package cli

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

// ErrNoSubcommand is returned when no subcommand is provided.
var ErrNoSubcommand = errors.New("missing subcommand: usage: shellbook <blocks|run|run-all|next|results|prune|artifact|watch|env> [flags] <doc>")

// Subcommand represents the CLI subcommand
type Subcommand string

const (
	SubcommandHelp     Subcommand = "help"
	SubcommandBlocks   Subcommand = "blocks"
	SubcommandRun      Subcommand = "run"
	SubcommandRunAll   Subcommand = "run-all"
	SubcommandNext     Subcommand = "next"
	SubcommandResults  Subcommand = "results"
	SubcommandPrune    Subcommand = "prune"
	SubcommandArtifact Subcommand = "artifact"
	SubcommandWatch    Subcommand = "watch"
	SubcommandEnv      Subcommand = "env"
)

// Command represents the parsed CLI input
type Command struct {
	Subcommand Subcommand

	DocPath      string // document argument
	ArtifactPath string // artifact argument
	Line         int    // --line, 1-based
	Identity     string // --identity, full or prefix

	// Global flags
	ConfigPath string // --config <path>
	JSONOutput bool   // --json
	LogLevel   string // --log-level

	// HelpText holds rendered help for SubcommandHelp.
	HelpText string
}

// ParseArgs parses CLI arguments into a Command.
// It expects args to be os.Args[1:] (excluding the program name).
func ParseArgs(args []string) (Command, error) {
	if len(args) == 0 {
		return Command{}, ErrNoSubcommand
	}

	var cmd Command
	var parsed bool
	root := NewRootCommand(&cmd, func() { parsed = true })

	var help bytes.Buffer
	root.SetOut(&help)
	root.SetErr(&help)
	root.SetArgs(args)

	if err := root.Execute(); err != nil {
		return Command{}, err
	}
	if !parsed {
		// cobra rendered help or a bare group without running anything.
		return Command{Subcommand: SubcommandHelp, HelpText: help.String()}, nil
	}
	if err := cmd.Validate(); err != nil {
		return Command{}, err
	}
	return cmd, nil
}

// NewRootCommand builds the command tree. Running a leaf fills cmd and
// calls done; nothing is executed here.
func NewRootCommand(cmd *Command, done func()) *cobra.Command {
	root := &cobra.Command{
		Use:           "shellbook",
		Short:         "Run shell blocks of a Markdown document and keep their results",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			return c.Help()
		},
	}
	root.CompletionOptions.DisableDefaultCmd = true

	pf := root.PersistentFlags()
	pf.StringVar(&cmd.ConfigPath, "config", "", "config file (YAML or TOML)")
	pf.BoolVar(&cmd.JSONOutput, "json", false, "print machine-readable JSON")
	pf.StringVar(&cmd.LogLevel, "log-level", "", "log level: debug, info, warn, error")

	leaf := func(sub Subcommand, use, short string, args cobra.PositionalArgs, bind func([]string)) *cobra.Command {
		return &cobra.Command{
			Use:   use,
			Short: short,
			Args:  args,
			RunE: func(_ *cobra.Command, a []string) error {
				cmd.Subcommand = sub
				bind(a)
				done()
				return nil
			},
		}
	}
	doc := func(a []string) { cmd.DocPath = a[0] }

	blocks := leaf(SubcommandBlocks, "blocks <doc>", "List runnable blocks", cobra.ExactArgs(1), doc)

	run := leaf(SubcommandRun, "run <doc>", "Run the block at a line", cobra.ExactArgs(1), doc)
	run.Flags().IntVar(&cmd.Line, "line", 0, "1-based line inside the block")
	_ = run.MarkFlagRequired("line")

	runAll := leaf(SubcommandRunAll, "run-all <doc>", "Run every block in document order", cobra.ExactArgs(1), doc)

	next := leaf(SubcommandNext, "next <doc>", "Run the first block starting after a line", cobra.ExactArgs(1), doc)
	next.Flags().IntVar(&cmd.Line, "line", 0, "1-based line; 0 runs the first block")

	res := leaf(SubcommandResults, "results <doc>", "Show the latest stored result per block", cobra.ExactArgs(1), doc)
	res.Flags().StringVar(&cmd.Identity, "identity", "", "only the block with this identity (prefix accepted)")

	prune := leaf(SubcommandPrune, "prune <doc>", "Drop results of blocks no longer in the document", cobra.ExactArgs(1), doc)

	art := leaf(SubcommandArtifact, "artifact <path>", "Print an overflow artifact", cobra.ExactArgs(1),
		func(a []string) { cmd.ArtifactPath = a[0] })

	watch := leaf(SubcommandWatch, "watch <doc>", "Print results as other processes record them", cobra.ExactArgs(1), doc)

	env := leaf(SubcommandEnv, "env <doc>", "Show the session state derived up to a line", cobra.ExactArgs(1), doc)
	env.Flags().IntVar(&cmd.Line, "line", 0, "1-based line")
	_ = env.MarkFlagRequired("line")

	root.AddCommand(blocks, run, runAll, next, res, prune, art, watch, env)
	return root
}

// Validate checks values cobra cannot.
func (c Command) Validate() error {
	switch c.Subcommand {
	case SubcommandRun, SubcommandEnv:
		if c.Line < 1 {
			return fmt.Errorf("--line must be at least 1, got %d", c.Line)
		}
	case SubcommandNext:
		if c.Line < 0 {
			return fmt.Errorf("--line must not be negative, got %d", c.Line)
		}
	}
	if c.DocPath == "" && c.Subcommand != SubcommandArtifact && c.Subcommand != SubcommandHelp {
		return errors.New("document path is required")
	}
	if strings.TrimSpace(c.Identity) != c.Identity {
		return fmt.Errorf("--identity has surrounding whitespace: %q", c.Identity)
	}
	return nil
}
