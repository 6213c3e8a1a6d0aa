package results

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"shellbook/internal/artifact"
	"shellbook/internal/identity"
)

const (
	// SidecarSuffix is appended to a document path to form its results file.
	SidecarSuffix = ".result.json"
	// LockSuffix is appended to the sidecar path to form its lock file.
	LockSuffix = ".lock"

	DefaultInlineLineLimit = 100
)

// Retention limits how many entries a document keeps. Zero disables a limit.
type Retention struct {
	MaxAge   time.Duration
	MaxCount int
}

// Config configures a Store.
type Config struct {
	// ArtifactDir, when set, holds every document's artifacts directory
	// instead of the document's own directory.
	ArtifactDir     string
	InlineLineLimit int
	Retention       Retention
	Lock            LockConfig
	Now             func() time.Time
	Logger          *slog.Logger
}

// DefaultConfig returns the store defaults.
func DefaultConfig() Config {
	return Config{
		InlineLineLimit: DefaultInlineLineLimit,
		Lock:            DefaultLockConfig(),
		Now:             time.Now,
	}
}

// Store reads and writes sidecar documents.
type Store struct {
	cfg    Config
	logger *slog.Logger
}

// NewStore creates a store. Zero fields of cfg take their defaults.
func NewStore(cfg Config) *Store {
	def := DefaultConfig()
	if cfg.InlineLineLimit <= 0 {
		cfg.InlineLineLimit = def.InlineLineLimit
	}
	if cfg.Lock.Timeout <= 0 {
		cfg.Lock.Timeout = def.Lock.Timeout
	}
	if cfg.Lock.InitialBackoff <= 0 {
		cfg.Lock.InitialBackoff = def.Lock.InitialBackoff
	}
	if cfg.Lock.MaxBackoff <= 0 {
		cfg.Lock.MaxBackoff = def.Lock.MaxBackoff
	}
	if cfg.Lock.StaleAfter <= 0 {
		cfg.Lock.StaleAfter = def.Lock.StaleAfter
	}
	if cfg.Now == nil {
		cfg.Now = def.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{cfg: cfg, logger: logger}
}

// SidecarPath returns the results file of docPath.
func SidecarPath(docPath string) string {
	return docPath + SidecarSuffix
}

// LockPath returns the lock file guarding docPath's results file.
func LockPath(docPath string) string {
	return SidecarPath(docPath) + LockSuffix
}

// ArtifactDir returns the directory artifacts of docPath are written to.
func (s *Store) ArtifactDir(docPath string) string {
	return artifact.Dir(docPath, s.cfg.ArtifactDir)
}

// Append stores e as the latest execution of its identity, replacing any
// previous one, then applies retention. Artifacts of replaced or dropped
// entries are deleted once the new document is in place.
func (s *Store) Append(ctx context.Context, docPath string, e Entry) (Execution, error) {
	if !identity.Valid(e.Identity) {
		return Execution{}, fmt.Errorf("append: invalid identity %q", e.Identity)
	}

	exec, written, err := s.place(docPath, e)
	if err != nil {
		removeFiles(written)
		return Execution{}, fmt.Errorf("append %s: %w", e.Identity, err)
	}

	var orphaned []Stream
	err = s.withLock(ctx, LockPath(docPath), func() error {
		doc := s.readOrFresh(docPath)
		orphaned = nil
		if prev, ok := doc.Executions[exec.Identity]; ok {
			orphaned = append(orphaned, prev.Streams()...)
		}
		doc.Executions[exec.Identity] = exec
		for _, dropped := range applyRetention(&doc, s.cfg.Retention, s.cfg.Now()) {
			orphaned = append(orphaned, dropped.Streams()...)
		}
		return s.write(docPath, doc)
	})
	if err != nil {
		removeFiles(written)
		return Execution{}, fmt.Errorf("append %s: %w", e.Identity, err)
	}

	s.removeArtifacts(docPath, orphaned)
	return exec, nil
}

// ReadDocument returns the current document. A missing sidecar yields an
// empty document; a corrupt one yields ErrCorruptDocument.
func (s *Store) ReadDocument(docPath string) (Document, error) {
	data, err := os.ReadFile(SidecarPath(docPath))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return NewDocument(docPath), nil
		}
		return Document{}, err
	}
	doc, err := decodeDocument(data)
	if err != nil {
		return Document{}, err
	}
	if doc.SourcePath == "" {
		doc.SourcePath = docPath
	}
	return doc, nil
}

// ReadLatest returns the stored execution of one identity.
func (s *Store) ReadLatest(docPath, id string) (Execution, bool, error) {
	doc, err := s.ReadDocument(docPath)
	if err != nil {
		return Execution{}, false, err
	}
	e, ok := doc.Executions[id]
	return e, ok, nil
}

// ReadAllLatest returns every stored execution, most recent first.
func (s *Store) ReadAllLatest(docPath string) ([]Execution, error) {
	doc, err := s.ReadDocument(docPath)
	if err != nil {
		return nil, err
	}
	return sortedByRecency(doc.Executions), nil
}

// Prune removes every entry whose identity is not in keep, with its
// artifacts, and returns how many entries were removed.
func (s *Store) Prune(ctx context.Context, docPath string, keep map[string]bool) (int, error) {
	if _, err := os.Stat(SidecarPath(docPath)); errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}

	removed := 0
	var orphaned []Stream
	err := s.withLock(ctx, LockPath(docPath), func() error {
		doc := s.readOrFresh(docPath)
		removed = 0
		orphaned = nil
		for id, e := range doc.Executions {
			if keep[id] {
				continue
			}
			delete(doc.Executions, id)
			orphaned = append(orphaned, e.Streams()...)
			removed++
		}
		if removed == 0 && !doc.Migrated {
			return nil
		}
		return s.write(docPath, doc)
	})
	if err != nil {
		return 0, fmt.Errorf("prune: %w", err)
	}

	s.removeArtifacts(docPath, orphaned)
	return removed, nil
}

// ResolveArtifact turns a stored artifact path into a filesystem path.
func (s *Store) ResolveArtifact(docPath, ref string) string {
	if filepath.IsAbs(ref) {
		return ref
	}
	return filepath.Join(filepath.Dir(SidecarPath(docPath)), ref)
}

// ReadArtifact returns the bytes of an artifact file.
func (s *Store) ReadArtifact(path string) ([]byte, error) {
	return artifact.Read(path)
}

// StreamBytes returns the full output of a stream, reading its artifact
// when the stream is a file reference.
func (s *Store) StreamBytes(docPath string, st Stream) ([]byte, error) {
	if st.IsFile() {
		return s.ReadArtifact(s.ResolveArtifact(docPath, st.Path))
	}
	return []byte(st.Text()), nil
}

// place converts e into an Execution, writing overflowing streams to
// artifact files. It returns the files it wrote.
func (s *Store) place(docPath string, e Entry) (Execution, []string, error) {
	exec := Execution{
		Identity:      e.Identity,
		CommandText:   e.CommandText,
		ExitCode:      e.ExitCode,
		Signal:        e.Signal,
		TimedOut:      e.TimedOut,
		Cancelled:     e.Cancelled,
		DurationMs:    e.Duration.Milliseconds(),
		CwdAtStart:    e.CwdAtStart,
		ReconciledCwd: e.ReconciledCwd,
		StartedAt:     e.StartedAt.UTC(),
	}
	if exec.StartedAt.IsZero() {
		exec.StartedAt = s.cfg.Now().UTC()
	}

	var written []string
	var err error
	if exec.Stdout, err = s.placeStream(docPath, exec, artifact.KindStdout, e.Stdout, &written); err != nil {
		return Execution{}, written, err
	}
	if exec.Stderr, err = s.placeStream(docPath, exec, artifact.KindStderr, e.Stderr, &written); err != nil {
		return Execution{}, written, err
	}
	return exec, written, nil
}

func (s *Store) placeStream(docPath string, exec Execution, kind artifact.Kind, data []byte, written *[]string) (Stream, error) {
	binary := artifact.IsBinary(data)
	if !binary && artifact.LineCount(data) <= s.cfg.InlineLineLimit {
		return Inline(artifact.Lines(data)), nil
	}
	if binary {
		kind = artifact.KindBinary
	}
	path, err := artifact.Write(s.ArtifactDir(docPath), exec.StartedAt, exec.Identity, kind, data)
	if err != nil {
		return Stream{}, err
	}
	*written = append(*written, path)
	return FileRef(s.relativeRef(docPath, path), int64(len(data)), binary), nil
}

// relativeRef stores paths under the sidecar directory relative to it.
func (s *Store) relativeRef(docPath, path string) string {
	base := filepath.Dir(SidecarPath(docPath))
	rel, err := filepath.Rel(base, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return path
	}
	return rel
}

// readOrFresh reads the document for a write. Absent or corrupt files start
// a fresh document.
func (s *Store) readOrFresh(docPath string) Document {
	doc, err := s.ReadDocument(docPath)
	if err != nil {
		s.logger.Warn("results document unreadable, starting fresh", "doc", docPath, "error", err)
		return NewDocument(docPath)
	}
	doc.SourcePath = docPath
	return doc
}

func (s *Store) write(docPath string, doc Document) error {
	data, err := encodeDocument(doc)
	if err != nil {
		return fmt.Errorf("encode results: %w", err)
	}
	if err := writeFileAtomicDurable(SidecarPath(docPath), data, 0o644); err != nil {
		return fmt.Errorf("write results: %w", err)
	}
	return nil
}

func (s *Store) removeArtifacts(docPath string, streams []Stream) {
	for _, st := range streams {
		if !st.IsFile() {
			continue
		}
		path := s.ResolveArtifact(docPath, st.Path)
		if err := artifact.Remove(path); err != nil {
			s.logger.Warn("artifact not removed", "doc", docPath, "path", path, "error", err)
		}
	}
}

func removeFiles(paths []string) {
	for _, p := range paths {
		_ = artifact.Remove(p)
	}
}

// applyRetention drops entries beyond the age and count limits and returns
// them. Count retention keeps the most recent entries.
func applyRetention(doc *Document, r Retention, now time.Time) []Execution {
	var dropped []Execution
	if r.MaxAge > 0 {
		cutoff := now.Add(-r.MaxAge)
		for id, e := range doc.Executions {
			if e.StartedAt.Before(cutoff) {
				dropped = append(dropped, e)
				delete(doc.Executions, id)
			}
		}
	}
	if r.MaxCount > 0 && len(doc.Executions) > r.MaxCount {
		ordered := sortedByRecency(doc.Executions)
		for _, e := range ordered[r.MaxCount:] {
			dropped = append(dropped, e)
			delete(doc.Executions, e.Identity)
		}
	}
	return dropped
}

// sortedByRecency orders executions newest first, ties broken by identity.
func sortedByRecency(execs map[string]Execution) []Execution {
	out := make([]Execution, 0, len(execs))
	for _, e := range execs {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].StartedAt.After(out[j].StartedAt)
		}
		return out[i].Identity < out[j].Identity
	})
	return out
}
