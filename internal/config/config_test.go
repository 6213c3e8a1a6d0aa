package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shellbook/internal/executor"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestDefault_IsValid(t *testing.T) {
	result := Validate(Default())
	assert.True(t, result.Valid, FormatErrors(result))
}

func TestLoad_DefaultsWithoutAnyLayer(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(LoadOptions{WorkDir: dir, DocPath: filepath.Join(dir, "doc.md")})
	require.NoError(t, err)

	want := Default()
	assert.Equal(t, want.Shell, cfg.Shell)
	assert.Equal(t, want.Timeout, cfg.Timeout)
	assert.Equal(t, executor.CaptureHybrid, cfg.Capture)
	assert.Empty(t, cfg.Sources)
}

func TestLoad_YAMLNextToDocument(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "shellbook.yaml"), `
shell: /bin/bash
timeout: 90s
capture: parse
inline_line_limit: 20
retention:
  max_age: 7d
  max_count: 5
lock:
  timeout: 1s
log:
  level: DEBUG
  format: json
`)
	cfg, err := Load(LoadOptions{WorkDir: dir, DocPath: filepath.Join(dir, "doc.md")})
	require.NoError(t, err)

	assert.Equal(t, "/bin/bash", cfg.Shell)
	assert.Equal(t, 90*time.Second, cfg.Timeout)
	assert.Equal(t, executor.CaptureParse, cfg.Capture)
	assert.Equal(t, 20, cfg.InlineLineLimit)
	assert.Equal(t, 7*24*time.Hour, cfg.Retention.MaxAge)
	assert.Equal(t, 5, cfg.Retention.MaxCount)
	assert.Equal(t, time.Second, cfg.Lock.Timeout)
	assert.Equal(t, Default().Lock.StaleAfter, cfg.Lock.StaleAfter)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, FormatJSON, cfg.LogFormat)
	assert.Equal(t, []string{filepath.Join(dir, "shellbook.yaml")}, cfg.Sources)
}

func TestLoad_TOMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "custom.toml")
	writeFile(t, path, `
timeout = "2m"
artifact_dir = "/tmp/artifacts"

[retention]
max_count = 3

[lock]
stale_after = "1m"
`)
	cfg, err := Load(LoadOptions{WorkDir: dir, ConfigPath: path})
	require.NoError(t, err)

	assert.Equal(t, 2*time.Minute, cfg.Timeout)
	assert.Equal(t, "/tmp/artifacts", cfg.ArtifactDir)
	assert.Equal(t, 3, cfg.Retention.MaxCount)
	assert.Equal(t, time.Minute, cfg.Lock.StaleAfter)
}

func TestLoad_LayerPrecedence(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, ".env"), "SHELLBOOK_TIMEOUT=10s\nSHELLBOOK_SHELL=/bin/dash\nUNRELATED=1\n")
	writeFile(t, filepath.Join(dir, "shellbook.yaml"), "timeout: 20s\ncapture: shell\n")

	cfg, err := Load(LoadOptions{
		Environ: []string{"SHELLBOOK_CAPTURE=parse", "PATH=/usr/bin"},
		WorkDir: dir,
		DocPath: filepath.Join(dir, "doc.md"),
	})
	require.NoError(t, err)

	assert.Equal(t, "/bin/dash", cfg.Shell, ".env applies over defaults")
	assert.Equal(t, 20*time.Second, cfg.Timeout, "file applies over .env")
	assert.Equal(t, executor.CaptureParse, cfg.Capture, "environment applies over file")
	assert.Len(t, cfg.Sources, 2)
}

func TestLoad_ConfigPathFromEnvironment(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "elsewhere.yml")
	writeFile(t, path, "timeout: 3s\n")

	cfg, err := Load(LoadOptions{Environ: []string{EnvConfig + "=" + path}, WorkDir: dir})
	require.NoError(t, err)
	assert.Equal(t, 3*time.Second, cfg.Timeout)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	dir := t.TempDir()
	_, err := Load(LoadOptions{WorkDir: dir, ConfigPath: filepath.Join(dir, "nope.yaml")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestLoad_SyntaxErrors(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "bad.yaml")
	writeFile(t, yamlPath, "timeout: [unclosed\n")
	_, err := Load(LoadOptions{WorkDir: dir, ConfigPath: yamlPath})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid YAML")

	tomlPath := filepath.Join(dir, "bad.toml")
	writeFile(t, tomlPath, "timeout = \n")
	_, err = Load(LoadOptions{WorkDir: dir, ConfigPath: tomlPath})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid TOML")
}

func TestLoad_UnknownKeysRejected(t *testing.T) {
	_, err := ParseYAML([]byte("timout: 1s\n"))
	assert.Error(t, err)

	_, err = ParseTOML([]byte("timout = \"1s\"\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timout")
}

func TestLoad_EmptyYAMLIsAccepted(t *testing.T) {
	cf, err := ParseYAML(nil)
	require.NoError(t, err)
	assert.Nil(t, cf.Shell)
}

func TestLoad_CollectsAllErrors(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "shellbook.yaml"), "timeout: soon\ncapture: magic\n")

	_, err := Load(LoadOptions{
		Environ: []string{"SHELLBOOK_INLINE_LINE_LIMIT=many", "SHELLBOOK_LOG_LEVEL=loud"},
		WorkDir: dir,
		DocPath: filepath.Join(dir, "doc.md"),
	})
	require.Error(t, err)

	var cfgErr *Error
	require.True(t, errors.As(err, &cfgErr))
	keys := make([]string, 0, len(cfgErr.Result.Errors))
	for _, e := range cfgErr.Result.Errors {
		keys = append(keys, e.Key)
	}
	assert.ElementsMatch(t, []string{"timeout", "capture", "inline_line_limit", "log.level"}, keys)

	msg := err.Error()
	assert.Contains(t, msg, "SHELLBOOK_INLINE_LINE_LIMIT")
	assert.Contains(t, msg, "must be one of: parse, shell, hybrid")
}

func TestValidate_Bounds(t *testing.T) {
	cfg := Default()
	cfg.Shell = " "
	cfg.Timeout = 0
	cfg.Retention.MaxCount = -1
	cfg.Lock.MaxBackoff = time.Millisecond
	cfg.LogFormat = "xml"

	result := Validate(cfg)
	assert.False(t, result.Valid)
	assert.Len(t, result.Errors, 5)
}

func TestParseDuration(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{"1s", time.Second, false},
		{"1h30m", 90 * time.Minute, false},
		{"2d", 48 * time.Hour, false},
		{" 3d ", 72 * time.Hour, false},
		{"xd", 0, true},
		{"", 0, true},
		{"fast", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseDuration(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseLevel(t *testing.T) {
	for _, name := range []string{"debug", "INFO", "warn", "warning", "error", ""} {
		_, ok := ParseLevel(name)
		assert.True(t, ok, name)
	}
	_, ok := ParseLevel("trace")
	assert.False(t, ok)
}

func TestFormatError_InvalidEnum_Property(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	properties.Property("enum error names key, value and every allowed value", prop.ForAll(
		func(key, value string, allowed []string) bool {
			formatted := FormatError(ValidationError{Key: key, Value: value, Allowed: allowed})
			if !strings.Contains(formatted, key) || !strings.Contains(formatted, value) {
				return false
			}
			for _, a := range allowed {
				if !strings.Contains(formatted, a) {
					return false
				}
			}
			return true
		},
		gen.AlphaString().SuchThat(func(s string) bool { return len(s) > 0 }),
		gen.AlphaString(),
		gen.SliceOfN(3, gen.AlphaString().SuchThat(func(s string) bool { return len(s) > 0 })),
	))

	properties.Property("source is mentioned when known", prop.ForAll(
		func(key, source string) bool {
			formatted := FormatError(ValidationError{Key: key, Source: source, Message: "must be positive"})
			return strings.HasPrefix(formatted, key+" (from "+source+"): ")
		},
		gen.AlphaString().SuchThat(func(s string) bool { return len(s) > 0 }),
		gen.AlphaString().SuchThat(func(s string) bool { return len(s) > 0 }),
	))

	properties.TestingRun(t)
}

func TestComponentConfigs(t *testing.T) {
	cfg := Default()
	cfg.Timeout = 5 * time.Second
	cfg.Retention.MaxCount = 9

	opts := cfg.ExecutorOptions()
	assert.Equal(t, 5*time.Second, opts.Timeout)
	assert.Equal(t, cfg.Shell, opts.Shell)

	rc := cfg.ResultsConfig(nil)
	assert.Equal(t, 9, rc.Retention.MaxCount)
	assert.Equal(t, cfg.Lock.Timeout, rc.Lock.Timeout)
	assert.NotNil(t, rc.Now)
}
