// Package config resolves shellbook's settings.
//
// Settings are layered, later layers winning: built-in defaults, SHELLBOOK_*
// entries of a .env file in the working directory, a YAML or TOML config
// file, then SHELLBOOK_* variables of the process environment.
package config

import (
	"log/slog"
	"time"

	"shellbook/internal/executor"
	"shellbook/internal/results"
)

// Log formats.
const (
	FormatAuto = "auto"
	FormatText = "text"
	FormatJSON = "json"
)

// Retention bounds how many stored results a document keeps.
type Retention struct {
	MaxAge   time.Duration
	MaxCount int
}

// Lock tunes sidecar lock acquisition.
type Lock struct {
	Timeout        time.Duration
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	StaleAfter     time.Duration
}

// Config is the resolved configuration.
type Config struct {
	Shell           string
	Timeout         time.Duration
	Capture         executor.Capture
	InlineLineLimit int
	ArtifactDir     string
	Retention       Retention
	Lock            Lock
	RunAllWait      time.Duration
	LogLevel        string
	LogFormat       string

	// Sources lists the files that contributed, in the order applied.
	Sources []string
}

// Default returns the built-in configuration.
func Default() Config {
	lock := results.DefaultLockConfig()
	return Config{
		Shell:           "/bin/sh",
		Timeout:         executor.DefaultTimeout,
		Capture:         executor.CaptureHybrid,
		InlineLineLimit: results.DefaultInlineLineLimit,
		Lock: Lock{
			Timeout:        lock.Timeout,
			InitialBackoff: lock.InitialBackoff,
			MaxBackoff:     lock.MaxBackoff,
			StaleAfter:     lock.StaleAfter,
		},
		RunAllWait: 5 * time.Minute,
		LogLevel:   "info",
		LogFormat:  FormatAuto,
	}
}

// ExecutorOptions returns the defaults block executions run with.
func (c Config) ExecutorOptions() executor.Options {
	return executor.Options{
		Shell:   c.Shell,
		Timeout: c.Timeout,
		Capture: c.Capture,
	}
}

// ResultsConfig returns the results store configuration.
func (c Config) ResultsConfig(logger *slog.Logger) results.Config {
	return results.Config{
		ArtifactDir:     c.ArtifactDir,
		InlineLineLimit: c.InlineLineLimit,
		Retention: results.Retention{
			MaxAge:   c.Retention.MaxAge,
			MaxCount: c.Retention.MaxCount,
		},
		Lock: results.LockConfig{
			Timeout:        c.Lock.Timeout,
			InitialBackoff: c.Lock.InitialBackoff,
			MaxBackoff:     c.Lock.MaxBackoff,
			StaleAfter:     c.Lock.StaleAfter,
		},
		Now:    time.Now,
		Logger: logger,
	}
}
