// Package artifact stores output streams that are too large or too binary
// to inline in a results document.
package artifact

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"shellbook/internal/identity"
)

// Kind is the stream an artifact holds. It doubles as the file extension.
type Kind string

const (
	KindStdout Kind = "out"
	KindStderr Kind = "err"
	KindBinary Kind = "bin"
)

// DirSuffix is appended to a document's base name to form its artifacts directory.
const DirSuffix = ".artifacts"

// timestampLayout renders times without characters that are awkward in
// file names.
const timestampLayout = "2006-01-02T15-04-05.000000000Z"

// maxNameAttempts bounds the unique-suffix search in Write.
const maxNameAttempts = 1000

var ErrNameExhausted = errors.New("no free artifact name")

// Dir returns the artifacts directory of docPath. An empty base puts it
// next to the document; otherwise it goes under base.
func Dir(docPath, base string) string {
	name := filepath.Base(docPath) + DirSuffix
	if base == "" {
		return filepath.Join(filepath.Dir(docPath), name)
	}
	return filepath.Join(base, name)
}

// IsBinary reports whether data contains a NUL byte.
func IsBinary(data []byte) bool {
	return bytes.IndexByte(data, 0) >= 0
}

// LineCount counts lines the way an editor does: a final line without a
// trailing newline still counts.
func LineCount(data []byte) int {
	if len(data) == 0 {
		return 0
	}
	n := bytes.Count(data, []byte{'\n'})
	if data[len(data)-1] != '\n' {
		n++
	}
	return n
}

// Lines splits text output into lines without their terminators.
func Lines(data []byte) []string {
	if len(data) == 0 {
		return []string{}
	}
	text := strings.TrimSuffix(string(data), "\n")
	return strings.Split(text, "\n")
}

// Name returns the artifact file name for a stream of an execution.
func Name(startedAt time.Time, id string, kind Kind) string {
	return startedAt.UTC().Format(timestampLayout) + "_" + identity.Short(id) + "." + string(kind)
}

// Write stores data in dir under Name, adding a numeric suffix when that
// name is taken. The file is synced before Write returns its path.
func Write(dir string, startedAt time.Time, id string, kind Kind, data []byte) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create artifacts dir: %w", err)
	}

	base := Name(startedAt, id, kind)
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)

	for attempt := 0; attempt < maxNameAttempts; attempt++ {
		name := base
		if attempt > 0 {
			name = stem + "-" + strconv.Itoa(attempt) + ext
		}
		path := filepath.Join(dir, name)

		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
		if errors.Is(err, os.ErrExist) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("create artifact: %w", err)
		}
		if err := writeAndSync(f, data); err != nil {
			os.Remove(path)
			return "", fmt.Errorf("write artifact %s: %w", name, err)
		}
		return path, nil
	}
	return "", fmt.Errorf("%w: %s", ErrNameExhausted, base)
}

func writeAndSync(f *os.File, data []byte) error {
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Read returns the full contents of an artifact.
func Read(path string) ([]byte, error) {
	return os.ReadFile(path)
}

// Remove deletes an artifact. A missing file is not an error.
func Remove(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
