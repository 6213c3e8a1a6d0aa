package config

import (
	"strconv"
	"strings"
)

// EnvPrefix marks variables that configure shellbook.
const EnvPrefix = "SHELLBOOK_"

// EnvConfig names the variable that points at a config file.
const EnvConfig = EnvPrefix + "CONFIG"

// envKeys maps each recognised variable to its config key path.
var envKeys = map[string]string{
	EnvPrefix + "SHELL":                "shell",
	EnvPrefix + "TIMEOUT":              "timeout",
	EnvPrefix + "CAPTURE":              "capture",
	EnvPrefix + "INLINE_LINE_LIMIT":    "inline_line_limit",
	EnvPrefix + "ARTIFACT_DIR":         "artifact_dir",
	EnvPrefix + "RUN_ALL_WAIT":         "run_all_wait",
	EnvPrefix + "RETENTION_MAX_AGE":    "retention.max_age",
	EnvPrefix + "RETENTION_MAX_COUNT":  "retention.max_count",
	EnvPrefix + "LOCK_TIMEOUT":         "lock.timeout",
	EnvPrefix + "LOCK_INITIAL_BACKOFF": "lock.initial_backoff",
	EnvPrefix + "LOCK_MAX_BACKOFF":     "lock.max_backoff",
	EnvPrefix + "LOCK_STALE_AFTER":     "lock.stale_after",
	EnvPrefix + "LOG_LEVEL":            "log.level",
	EnvPrefix + "LOG_FORMAT":           "log.format",
}

// envMap collects SHELLBOOK_* entries of a KEY=VALUE environment.
func envMap(environ []string) map[string]string {
	out := make(map[string]string)
	for _, kv := range environ {
		k, v, ok := strings.Cut(kv, "=")
		if ok && strings.HasPrefix(k, EnvPrefix) {
			out[k] = v
		}
	}
	return out
}

// filterPrefixed drops every entry that is not a SHELLBOOK_* variable.
func filterPrefixed(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		if strings.HasPrefix(k, EnvPrefix) {
			out[k] = v
		}
	}
	return out
}

// fromEnv builds a configFile from environment values. Integers that do
// not parse are returned as errors tagged with their variable.
func fromEnv(vars map[string]string) (configFile, []ValidationError) {
	var cf configFile
	var errs []ValidationError

	str := func(name string) *string {
		v, ok := vars[name]
		if !ok {
			return nil
		}
		return &v
	}
	num := func(name string) *int {
		v, ok := vars[name]
		if !ok {
			return nil
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			errs = append(errs, ValidationError{Key: envKeys[name], Source: name, Value: v, Message: "not an integer"})
			return nil
		}
		return &n
	}

	cf.Shell = str(EnvPrefix + "SHELL")
	cf.Timeout = str(EnvPrefix + "TIMEOUT")
	cf.Capture = str(EnvPrefix + "CAPTURE")
	cf.InlineLineLimit = num(EnvPrefix + "INLINE_LINE_LIMIT")
	cf.ArtifactDir = str(EnvPrefix + "ARTIFACT_DIR")
	cf.RunAllWait = str(EnvPrefix + "RUN_ALL_WAIT")

	ret := retentionEntry{
		MaxAge:   str(EnvPrefix + "RETENTION_MAX_AGE"),
		MaxCount: num(EnvPrefix + "RETENTION_MAX_COUNT"),
	}
	if ret.MaxAge != nil || ret.MaxCount != nil {
		cf.Retention = &ret
	}

	lock := lockEntry{
		Timeout:        str(EnvPrefix + "LOCK_TIMEOUT"),
		InitialBackoff: str(EnvPrefix + "LOCK_INITIAL_BACKOFF"),
		MaxBackoff:     str(EnvPrefix + "LOCK_MAX_BACKOFF"),
		StaleAfter:     str(EnvPrefix + "LOCK_STALE_AFTER"),
	}
	if lock != (lockEntry{}) {
		cf.Lock = &lock
	}

	lg := logEntry{
		Level:  str(EnvPrefix + "LOG_LEVEL"),
		Format: str(EnvPrefix + "LOG_FORMAT"),
	}
	if lg != (logEntry{}) {
		cf.Log = &lg
	}
	return cf, errs
}
