package config

import (
	"fmt"
	"log/slog"
	"strings"

	"shellbook/internal/executor"
)

// ValidationError describes one rejected setting.
type ValidationError struct {
	Key     string   // config key path, e.g. "lock.timeout"
	Source  string   // file or environment variable the value came from
	Message string   // what is wrong
	Value   string   // offending value
	Allowed []string // accepted values, for enumerations
}

// ValidationResult holds every error found in a configuration.
type ValidationResult struct {
	Valid  bool
	Errors []ValidationError
}

// Error reports a configuration that failed to resolve.
type Error struct {
	Result ValidationResult
}

func (e *Error) Error() string {
	return "invalid configuration:\n  " + strings.Join(FormatErrors(e.Result), "\n  ")
}

var (
	captureValues = []string{string(executor.CaptureParse), string(executor.CaptureShell), string(executor.CaptureHybrid)}
	levelValues   = []string{"debug", "info", "warn", "error"}
	formatValues  = []string{FormatAuto, FormatText, FormatJSON}
)

// Validate checks cfg and collects every problem rather than stopping at the first.
func Validate(cfg Config) ValidationResult {
	var errs []ValidationError
	positive := func(key string, ok bool, value any) {
		if !ok {
			errs = append(errs, ValidationError{Key: key, Message: "must be positive", Value: fmt.Sprint(value)})
		}
	}

	if strings.TrimSpace(cfg.Shell) == "" {
		errs = append(errs, ValidationError{Key: "shell", Message: "must not be empty"})
	}
	positive("timeout", cfg.Timeout > 0, cfg.Timeout)
	if !cfg.Capture.Valid() {
		errs = append(errs, ValidationError{Key: "capture", Value: string(cfg.Capture), Allowed: captureValues})
	}
	positive("inline_line_limit", cfg.InlineLineLimit > 0, cfg.InlineLineLimit)
	positive("run_all_wait", cfg.RunAllWait > 0, cfg.RunAllWait)

	if cfg.Retention.MaxAge < 0 {
		errs = append(errs, ValidationError{Key: "retention.max_age", Message: "must not be negative", Value: cfg.Retention.MaxAge.String()})
	}
	if cfg.Retention.MaxCount < 0 {
		errs = append(errs, ValidationError{Key: "retention.max_count", Message: "must not be negative", Value: fmt.Sprint(cfg.Retention.MaxCount)})
	}

	positive("lock.timeout", cfg.Lock.Timeout > 0, cfg.Lock.Timeout)
	positive("lock.initial_backoff", cfg.Lock.InitialBackoff > 0, cfg.Lock.InitialBackoff)
	positive("lock.stale_after", cfg.Lock.StaleAfter > 0, cfg.Lock.StaleAfter)
	if cfg.Lock.MaxBackoff < cfg.Lock.InitialBackoff {
		errs = append(errs, ValidationError{
			Key:     "lock.max_backoff",
			Message: "must not be below lock.initial_backoff",
			Value:   cfg.Lock.MaxBackoff.String(),
		})
	}

	if _, ok := ParseLevel(cfg.LogLevel); !ok {
		errs = append(errs, ValidationError{Key: "log.level", Value: cfg.LogLevel, Allowed: levelValues})
	}
	if !contains(formatValues, cfg.LogFormat) {
		errs = append(errs, ValidationError{Key: "log.format", Value: cfg.LogFormat, Allowed: formatValues})
	}

	return ValidationResult{Valid: len(errs) == 0, Errors: errs}
}

// ParseLevel maps a level name to its slog level.
func ParseLevel(name string) (slog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return slog.LevelDebug, true
	case "info", "":
		return slog.LevelInfo, true
	case "warn", "warning":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	}
	return slog.LevelInfo, false
}

// FormatError formats a ValidationError into a human-readable message.
func FormatError(err ValidationError) string {
	key := err.Key
	if err.Source != "" {
		key = fmt.Sprintf("%s (from %s)", err.Key, err.Source)
	}

	if len(err.Allowed) > 0 {
		return fmt.Sprintf("%s: '%s' is not valid, must be one of: %s",
			key, err.Value, strings.Join(err.Allowed, ", "))
	}
	if err.Value != "" {
		return fmt.Sprintf("%s: '%s' %s", key, err.Value, err.Message)
	}
	return fmt.Sprintf("%s: %s", key, err.Message)
}

// FormatErrors formats all validation errors.
func FormatErrors(result ValidationResult) []string {
	messages := make([]string, len(result.Errors))
	for i, err := range result.Errors {
		messages[i] = FormatError(err)
	}
	return messages
}

func contains(values []string, v string) bool {
	for _, a := range values {
		if a == v {
			return true
		}
	}
	return false
}
