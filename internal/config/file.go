package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"shellbook/internal/executor"
)

// configFile represents the config file structure. Pointer fields tell
// a missing key from a zero value.
type configFile struct {
	Shell           *string         `yaml:"shell" toml:"shell"`
	Timeout         *string         `yaml:"timeout" toml:"timeout"`
	Capture         *string         `yaml:"capture" toml:"capture"`
	InlineLineLimit *int            `yaml:"inline_line_limit" toml:"inline_line_limit"`
	ArtifactDir     *string         `yaml:"artifact_dir" toml:"artifact_dir"`
	RunAllWait      *string         `yaml:"run_all_wait" toml:"run_all_wait"`
	Retention       *retentionEntry `yaml:"retention" toml:"retention"`
	Lock            *lockEntry      `yaml:"lock" toml:"lock"`
	Log             *logEntry       `yaml:"log" toml:"log"`
}

type retentionEntry struct {
	MaxAge   *string `yaml:"max_age" toml:"max_age"`
	MaxCount *int    `yaml:"max_count" toml:"max_count"`
}

type lockEntry struct {
	Timeout        *string `yaml:"timeout" toml:"timeout"`
	InitialBackoff *string `yaml:"initial_backoff" toml:"initial_backoff"`
	MaxBackoff     *string `yaml:"max_backoff" toml:"max_backoff"`
	StaleAfter     *string `yaml:"stale_after" toml:"stale_after"`
}

type logEntry struct {
	Level  *string `yaml:"level" toml:"level"`
	Format *string `yaml:"format" toml:"format"`
}

// FileNames are looked up next to the document, in order.
var FileNames = []string{"shellbook.yaml", "shellbook.yml", "shellbook.toml"}

// ParseYAML parses YAML config content. Unknown keys are rejected.
func ParseYAML(content []byte) (configFile, error) {
	var cf configFile
	dec := yaml.NewDecoder(bytes.NewReader(content))
	dec.KnownFields(true)
	if err := dec.Decode(&cf); err != nil && !errors.Is(err, io.EOF) {
		return configFile{}, fmt.Errorf("invalid YAML: %w", err)
	}
	return cf, nil
}

// ParseTOML parses TOML config content. Unknown keys are rejected.
func ParseTOML(content []byte) (configFile, error) {
	var cf configFile
	md, err := toml.Decode(string(content), &cf)
	if err != nil {
		return configFile{}, fmt.Errorf("invalid TOML: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return configFile{}, fmt.Errorf("invalid TOML: unknown keys: %s", strings.Join(keys, ", "))
	}
	return cf, nil
}

// LoadFile reads and parses a config file, choosing the format by extension.
func LoadFile(path string) (configFile, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return configFile{}, err
		}
		return configFile{}, fmt.Errorf("failed to read config: %w", err)
	}
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		return ParseTOML(content)
	}
	return ParseYAML(content)
}

// apply copies every present field of cf onto cfg. Values that do not
// parse are reported with source as their origin and leave cfg unchanged.
func (cf configFile) apply(cfg *Config, source string) []ValidationError {
	var errs []ValidationError
	dur := func(key string, raw *string, dst *time.Duration) {
		if raw == nil {
			return
		}
		d, err := ParseDuration(*raw)
		if err != nil {
			errs = append(errs, ValidationError{Key: key, Source: source, Value: *raw, Message: "not a duration"})
			return
		}
		*dst = d
	}

	if cf.Shell != nil {
		cfg.Shell = *cf.Shell
	}
	dur("timeout", cf.Timeout, &cfg.Timeout)
	if cf.Capture != nil {
		cfg.Capture = executor.Capture(strings.ToLower(strings.TrimSpace(*cf.Capture)))
	}
	if cf.InlineLineLimit != nil {
		cfg.InlineLineLimit = *cf.InlineLineLimit
	}
	if cf.ArtifactDir != nil {
		cfg.ArtifactDir = *cf.ArtifactDir
	}
	dur("run_all_wait", cf.RunAllWait, &cfg.RunAllWait)
	if r := cf.Retention; r != nil {
		dur("retention.max_age", r.MaxAge, &cfg.Retention.MaxAge)
		if r.MaxCount != nil {
			cfg.Retention.MaxCount = *r.MaxCount
		}
	}
	if l := cf.Lock; l != nil {
		dur("lock.timeout", l.Timeout, &cfg.Lock.Timeout)
		dur("lock.initial_backoff", l.InitialBackoff, &cfg.Lock.InitialBackoff)
		dur("lock.max_backoff", l.MaxBackoff, &cfg.Lock.MaxBackoff)
		dur("lock.stale_after", l.StaleAfter, &cfg.Lock.StaleAfter)
	}
	if lg := cf.Log; lg != nil {
		if lg.Level != nil {
			cfg.LogLevel = strings.ToLower(*lg.Level)
		}
		if lg.Format != nil {
			cfg.LogFormat = strings.ToLower(*lg.Format)
		}
	}
	return errs
}

// ParseDuration accepts Go durations ("1m30s") and whole days ("7d").
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if days, ok := strings.CutSuffix(s, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q", s)
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	return time.ParseDuration(s)
}
