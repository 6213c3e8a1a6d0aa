// Package results persists the latest outcome of every block of a
// document in a sidecar JSON file next to it.
//
// The sidecar is shared between processes. Every read-modify-write holds an
// exclusive lock file, and documents are replaced by atomic rename so that
// readers never observe a partial write. Output streams that are binary or
// longer than the inline limit are stored as artifact files and referenced
// from the document.
package results

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// SchemaVersion is written into every document.
const SchemaVersion = 2

// StreamKind discriminates the Stream union.
type StreamKind string

const (
	StreamInline StreamKind = "inline"
	StreamFile   StreamKind = "file"
)

var ErrInvalidStream = errors.New("invalid stream")

// Stream is one captured output stream: either inline lines or a reference
// to an artifact file, never both.
type Stream struct {
	Kind   StreamKind
	Lines  []string // inline only
	Path   string   // file only, relative to the sidecar directory when possible
	Bytes  int64    // file only
	Binary bool     // file only
}

// Inline returns an inline stream.
func Inline(lines []string) Stream {
	if lines == nil {
		lines = []string{}
	}
	return Stream{Kind: StreamInline, Lines: lines}
}

// FileRef returns a file reference stream.
func FileRef(path string, size int64, binary bool) Stream {
	return Stream{Kind: StreamFile, Path: path, Bytes: size, Binary: binary}
}

// IsFile reports whether the stream lives in an artifact file.
func (s Stream) IsFile() bool { return s.Kind == StreamFile }

// Text renders an inline stream back into output text.
func (s Stream) Text() string {
	if s.Kind != StreamInline || len(s.Lines) == 0 {
		return ""
	}
	return strings.Join(s.Lines, "\n") + "\n"
}

type inlineJSON struct {
	Kind  StreamKind `json:"kind"`
	Lines []string   `json:"lines"`
}

type fileJSON struct {
	Kind   StreamKind `json:"kind"`
	Path   string     `json:"path"`
	Bytes  int64      `json:"bytes"`
	Binary bool       `json:"binary"`
}

// MarshalJSON writes the case selected by Kind.
func (s Stream) MarshalJSON() ([]byte, error) {
	switch s.Kind {
	case StreamInline:
		lines := s.Lines
		if lines == nil {
			lines = []string{}
		}
		return json.Marshal(inlineJSON{Kind: StreamInline, Lines: lines})
	case StreamFile:
		if s.Path == "" {
			return nil, fmt.Errorf("%w: file stream without path", ErrInvalidStream)
		}
		return json.Marshal(fileJSON{Kind: StreamFile, Path: s.Path, Bytes: s.Bytes, Binary: s.Binary})
	default:
		return nil, fmt.Errorf("%w: kind %q", ErrInvalidStream, s.Kind)
	}
}

// UnmarshalJSON reads a tagged stream. Legacy documents stored streams as a
// bare array of lines or a single string; both decode as inline streams.
func (s *Stream) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*s = Inline(nil)
		return nil
	}

	switch data[0] {
	case '[':
		var lines []string
		if err := json.Unmarshal(data, &lines); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidStream, err)
		}
		*s = Inline(lines)
		return nil
	case '"':
		var text string
		if err := json.Unmarshal(data, &text); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidStream, err)
		}
		*s = Inline(splitText(text))
		return nil
	}

	var raw struct {
		Kind   StreamKind `json:"kind"`
		Lines  *[]string  `json:"lines"`
		Path   *string    `json:"path"`
		Bytes  int64      `json:"bytes"`
		Binary bool       `json:"binary"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidStream, err)
	}

	switch raw.Kind {
	case StreamInline:
		if raw.Path != nil {
			return fmt.Errorf("%w: inline stream with path", ErrInvalidStream)
		}
		var lines []string
		if raw.Lines != nil {
			lines = *raw.Lines
		}
		*s = Inline(lines)
	case StreamFile:
		if raw.Lines != nil {
			return fmt.Errorf("%w: file stream with lines", ErrInvalidStream)
		}
		if raw.Path == nil || *raw.Path == "" {
			return fmt.Errorf("%w: file stream without path", ErrInvalidStream)
		}
		*s = FileRef(*raw.Path, raw.Bytes, raw.Binary)
	default:
		return fmt.Errorf("%w: kind %q", ErrInvalidStream, raw.Kind)
	}
	return nil
}

func splitText(text string) []string {
	if text == "" {
		return []string{}
	}
	return strings.Split(strings.TrimSuffix(text, "\n"), "\n")
}

// Execution is the stored outcome of one block run.
type Execution struct {
	Identity      string    `json:"identity"`
	CommandText   string    `json:"command_text"`
	ExitCode      int       `json:"exit_code"`
	Signal        string    `json:"signal,omitempty"`
	TimedOut      bool      `json:"timed_out"`
	Cancelled     bool      `json:"cancelled,omitempty"`
	DurationMs    int64     `json:"duration_ms"`
	CwdAtStart    string    `json:"cwd_at_start"`
	Stdout        Stream    `json:"stdout"`
	Stderr        Stream    `json:"stderr"`
	ReconciledCwd string    `json:"reconciled_cwd,omitempty"`
	StartedAt     time.Time `json:"started_at"`
}

// OK reports whether the run succeeded.
func (e Execution) OK() bool {
	return e.ExitCode == 0 && !e.TimedOut && !e.Cancelled
}

// Duration returns the run time.
func (e Execution) Duration() time.Duration {
	return time.Duration(e.DurationMs) * time.Millisecond
}

// Streams returns the stream values of the execution.
func (e Execution) Streams() []Stream {
	return []Stream{e.Stdout, e.Stderr}
}

// Document is the sidecar file of one source document.
type Document struct {
	SchemaVersion int                  `json:"schema_version"`
	SourcePath    string               `json:"source_path"`
	Executions    map[string]Execution `json:"executions"`

	// Migrated is set when the document was read from the legacy array shape.
	Migrated bool `json:"-"`
}

// NewDocument returns an empty document for sourcePath.
func NewDocument(sourcePath string) Document {
	return Document{
		SchemaVersion: SchemaVersion,
		SourcePath:    sourcePath,
		Executions:    map[string]Execution{},
	}
}

// Entry is an execution before its streams are placed: raw output bytes
// that Append either inlines or writes to artifact files.
type Entry struct {
	Identity      string
	CommandText   string
	ExitCode      int
	Signal        string
	TimedOut      bool
	Cancelled     bool
	Duration      time.Duration
	CwdAtStart    string
	Stdout        []byte
	Stderr        []byte
	ReconciledCwd string
	StartedAt     time.Time
}
