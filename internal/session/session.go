// Package session tracks the working directory and environment that each
// document's blocks run in.
//
// Sessions live in process memory only. A Store is created once per host
// process and seeded from that process's environment; every session it
// creates starts from a copy of the seed.
package session

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"

	"shellbook/internal/drift"
	"shellbook/internal/resolver"
)

// UnsavedPrefix marks keys of documents that have no path on disk.
const UnsavedPrefix = "unsaved:"

// Session is the mutable (cwd, environment) record of one document.
// All accessors are safe for concurrent use and return copies.
type Session struct {
	key     string
	docPath string

	mu  sync.RWMutex
	cwd string
	env map[string]string
}

func (s *Session) Key() string     { return s.key }
func (s *Session) DocPath() string { return s.docPath }

// Cwd returns the current working directory.
func (s *Session) Cwd() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cwd
}

// Env returns a copy of the environment.
func (s *Session) Env() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return resolver.Copy(s.env)
}

// Getenv returns one variable.
func (s *Session) Getenv(name string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.env[name]
	return v, ok
}

// Snapshot returns the working directory and a copy of the environment
// taken under a single lock.
func (s *Session) Snapshot() (string, map[string]string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cwd, resolver.Copy(s.env)
}

// Store maps document keys to sessions.
type Store struct {
	seed map[string]string

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewStore creates a store whose sessions are seeded from environ.
// The slice is parsed once; later changes to the process environment are
// not observed.
func NewStore(environ []string) *Store {
	return &Store{
		seed:     resolver.ParseEnviron(environ),
		sessions: make(map[string]*Session),
	}
}

// KeyFor returns the session key of a document: its absolute path, or a
// fresh synthetic key when the document has no path.
func KeyFor(docPath string) string {
	if docPath == "" {
		return UnsavedPrefix + uuid.NewString()
	}
	abs, err := filepath.Abs(docPath)
	if err != nil {
		return filepath.Clean(docPath)
	}
	return abs
}

// IsUnsaved reports whether key was produced for a document without a path.
func IsUnsaved(key string) bool {
	return strings.HasPrefix(key, UnsavedPrefix)
}

// GetOrCreate returns the session for key, creating it on first access.
func (st *Store) GetOrCreate(key, docPath string) *Session {
	st.mu.Lock()
	defer st.mu.Unlock()

	if s, ok := st.sessions[key]; ok {
		return s
	}
	s := st.fresh(key, docPath)
	st.sessions[key] = s
	return s
}

// Reset replaces the session for key with a fresh one. State from the old
// session is discarded, not merged.
func (st *Store) Reset(key, docPath string) *Session {
	st.mu.Lock()
	defer st.mu.Unlock()

	s := st.fresh(key, docPath)
	st.sessions[key] = s
	return s
}

func (st *Store) fresh(key, docPath string) *Session {
	return &Session{
		key:     key,
		docPath: docPath,
		cwd:     initialCwd(docPath),
		env:     resolver.Copy(st.seed),
	}
}

// initialCwd is the document's directory, or the process working directory
// for documents without a path.
func initialCwd(docPath string) string {
	if docPath != "" {
		if abs, err := filepath.Abs(docPath); err == nil {
			return filepath.Dir(abs)
		}
		return filepath.Dir(docPath)
	}
	if wd, err := os.Getwd(); err == nil {
		return wd
	}
	return string(filepath.Separator)
}

// Reconcile merges the state a child process reported back into s and
// returns what changed. spawnCwd and spawnEnv are what the child started
// from; only the difference between them and the reported env is applied,
// so variables the statement scan set but the child never exported are
// kept. An empty cwd leaves the directory alone; a nil env leaves the
// environment alone.
func Reconcile(s *Session, spawnCwd string, spawnEnv map[string]string, cwd string, env map[string]string) drift.Report {
	s.mu.Lock()
	defer s.mu.Unlock()

	after := env
	if after == nil {
		after = spawnEnv
	}
	report := drift.DetectState(spawnCwd, spawnEnv, cwd, after)
	if env != nil {
		drift.Apply(s.env, report)
	}
	if cwd != "" {
		s.cwd = cwd
	}
	return report
}
