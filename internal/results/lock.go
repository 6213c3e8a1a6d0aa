package results

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"golang.org/x/sys/unix"

	"shellbook/internal/launcher"
)

// ErrLockContention is matched by errors.Is for every *LockContentionError.
var ErrLockContention = errors.New("results lock contention")

// errLockHeld is the retryable outcome of one acquisition attempt.
var errLockHeld = errors.New("lock held by another writer")

// LockContentionError reports that the sidecar lock could not be acquired
// before the deadline.
type LockContentionError struct {
	LockPath string
	Waited   time.Duration
	Attempts int
	Timeout  time.Duration
	Holder   int // pid recorded in the lock file, 0 when unknown
}

func (e *LockContentionError) Error() string {
	return fmt.Sprintf("results lock %s still held after %s (%d attempts, holder pid %d)",
		e.LockPath, e.Waited.Round(time.Millisecond), e.Attempts, e.Holder)
}

func (e *LockContentionError) Is(target error) bool {
	return target == ErrLockContention
}

// LockConfig tunes lock acquisition.
type LockConfig struct {
	Timeout        time.Duration // overall budget for acquisition
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	StaleAfter     time.Duration // locks older than this are recovered
}

// DefaultLockConfig returns the acquisition defaults.
func DefaultLockConfig() LockConfig {
	return LockConfig{
		Timeout:        2 * time.Second,
		InitialBackoff: 10 * time.Millisecond,
		MaxBackoff:     250 * time.Millisecond,
		StaleAfter:     30 * time.Second,
	}
}

// lockMetadata is written into the lock file by its holder.
type lockMetadata struct {
	PID       int       `json:"pid"`
	CreatedAt time.Time `json:"created_at"`
}

// processLocks serializes goroutines of this process per lock path, so the
// lock file only arbitrates between processes.
var processLocks sync.Map

func processLock(lockPath string) *sync.Mutex {
	mu, _ := processLocks.LoadOrStore(lockPath, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// withLock runs fn while holding the lock file at lockPath. The lock file
// is removed after fn returns, whatever fn returned.
func (s *Store) withLock(ctx context.Context, lockPath string, fn func() error) error {
	mu := processLock(lockPath)
	mu.Lock()
	defer mu.Unlock()

	cfg := s.cfg.Lock
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.InitialBackoff
	b.MaxInterval = cfg.MaxBackoff

	start := time.Now()
	attempts := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempts++
		err := createLock(lockPath)
		if err == nil {
			return struct{}{}, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return struct{}{}, backoff.Permanent(fmt.Errorf("acquire results lock: %w", err))
		}
		if s.recoverStale(lockPath) {
			if err := createLock(lockPath); err == nil {
				return struct{}{}, nil
			}
		}
		return struct{}{}, errLockHeld
	}, backoff.WithBackOff(b), backoff.WithMaxElapsedTime(cfg.Timeout))

	if err != nil {
		if errors.Is(err, errLockHeld) {
			meta, _ := readLock(lockPath)
			return &LockContentionError{
				LockPath: lockPath,
				Waited:   time.Since(start),
				Attempts: attempts,
				Timeout:  cfg.Timeout,
				Holder:   meta.PID,
			}
		}
		return err
	}

	defer func() { _ = os.Remove(lockPath) }()
	return fn()
}

func createLock(lockPath string) error {
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	meta := lockMetadata{PID: os.Getpid(), CreatedAt: time.Now().UTC()}
	if encoded, err := json.Marshal(meta); err == nil {
		_, _ = f.Write(append(encoded, '\n'))
	}
	return f.Close()
}

func readLock(lockPath string) (lockMetadata, error) {
	var meta lockMetadata
	data, err := os.ReadFile(lockPath)
	if err != nil {
		return meta, err
	}
	err = json.Unmarshal(data, &meta)
	return meta, err
}

// lockObservation is what recoverStale saw when it judged a lock stale.
type lockObservation struct {
	meta    lockMetadata
	metaOK  bool
	modTime time.Time
	created time.Time
}

// observeLock reads the lock at lockPath. It reports false when the lock
// is gone.
func observeLock(lockPath string) (lockObservation, bool) {
	info, err := os.Stat(lockPath)
	if err != nil {
		return lockObservation{}, false
	}
	seen := lockObservation{modTime: info.ModTime(), created: info.ModTime()}
	meta, err := readLock(lockPath)
	if err == nil && !meta.CreatedAt.IsZero() {
		seen.meta = meta
		seen.metaOK = true
		seen.created = meta.CreatedAt
	}
	// Unreadable metadata: the holder may still be writing it, so only the
	// file's age counts.
	return seen, true
}

// matches reports whether the lock file at path is still the one seen.
func (o lockObservation) matches(path string) bool {
	info, err := os.Stat(path)
	if err != nil || !info.ModTime().Equal(o.modTime) {
		return false
	}
	meta, err := readLock(path)
	if !o.metaOK {
		return err != nil || meta.CreatedAt.IsZero()
	}
	return err == nil && meta.PID == o.meta.PID && meta.CreatedAt.Equal(o.meta.CreatedAt)
}

// recoverStale removes the lock file when its holder is gone or it is
// older than StaleAfter. It reports whether a lock was removed.
func (s *Store) recoverStale(lockPath string) bool {
	seen, ok := observeLock(lockPath)
	if !ok {
		return false
	}

	stale := s.cfg.Now().Sub(seen.created) > s.cfg.Lock.StaleAfter
	if !stale && seen.metaOK && seen.meta.PID > 0 && !launcher.Alive(seen.meta.PID) {
		stale = true
	}
	if !stale {
		return false
	}
	return s.reclaim(lockPath, seen)
}

// reclaim removes the stale lock seen at lockPath. Recoverers in other
// processes are serialized with flock on the lock's directory. The lock is
// first renamed to a private tombstone; if the tombstone turns out to hold
// a different lock than the one judged stale, it is linked back.
func (s *Store) reclaim(lockPath string, seen lockObservation) bool {
	dir, err := os.Open(filepath.Dir(lockPath))
	if err != nil {
		return false
	}
	defer dir.Close()
	if err := unix.Flock(int(dir.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		return false
	}
	defer func() { _ = unix.Flock(int(dir.Fd()), unix.LOCK_UN) }()

	tomb := lockPath + ".stale-" + uuid.NewString()
	if err := os.Rename(lockPath, tomb); err != nil {
		return false
	}
	defer func() { _ = os.Remove(tomb) }()

	if !seen.matches(tomb) {
		if err := os.Link(tomb, lockPath); err != nil {
			s.logger.Warn("could not restore results lock", "lock", lockPath, "error", err)
		}
		return false
	}

	s.logger.Warn("recovering stale results lock", "lock", lockPath, "pid", seen.meta.PID, "created_at", seen.created)
	return true
}
