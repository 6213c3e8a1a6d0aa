// Package logging builds the slog logger shellbook writes diagnostics with.
package logging

import (
	"io"
	"log/slog"
	"os"

	"github.com/mattn/go-isatty"

	"shellbook/internal/config"
)

// New returns a logger writing to w. FormatAuto picks text for terminals
// and JSON otherwise. Unknown level names fall back to info.
func New(w io.Writer, level, format string) *slog.Logger {
	lvl, _ := config.ParseLevel(level)
	opts := &slog.HandlerOptions{Level: lvl}

	if format == config.FormatAuto || format == "" {
		format = config.FormatJSON
		if IsTerminal(w) {
			format = config.FormatText
		}
	}
	if format == config.FormatText {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

// FromConfig returns the logger cfg asks for, writing to w.
func FromConfig(w io.Writer, cfg config.Config) *slog.Logger {
	return New(w, cfg.LogLevel, cfg.LogFormat)
}

// IsTerminal reports whether w is an interactive terminal.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}
