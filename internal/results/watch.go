package results

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/sync/errgroup"
)

// DefaultWatchDebounce is how long Watch waits for writes to settle.
const DefaultWatchDebounce = 50 * time.Millisecond

// Watch calls fn with the freshly read document every time the sidecar of
// docPath is rewritten, by this process or another one. Bursts of events
// within debounce are coalesced. Watch blocks until ctx ends.
func (s *Store) Watch(ctx context.Context, docPath string, debounce time.Duration, fn func(Document)) error {
	if debounce <= 0 {
		debounce = DefaultWatchDebounce
	}
	sidecar, err := filepath.Abs(SidecarPath(docPath))
	if err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	// The sidecar is replaced by rename, so the directory is watched.
	if err := watcher.Add(filepath.Dir(sidecar)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(sidecar), err)
	}

	changes := make(chan struct{}, 1)
	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		for {
			select {
			case <-gCtx.Done():
				return nil
			case event, ok := <-watcher.Events:
				if !ok {
					return nil
				}
				if filepath.Clean(event.Name) != sidecar {
					continue
				}
				if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) && !event.Has(fsnotify.Rename) {
					continue
				}
				select {
				case changes <- struct{}{}:
				default:
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return nil
				}
				return fmt.Errorf("watch %s: %w", sidecar, err)
			}
		}
	})

	g.Go(func() error {
		var (
			timer  *time.Timer
			timerC <-chan time.Time
		)
		defer func() {
			if timer != nil {
				timer.Stop()
			}
		}()
		for {
			select {
			case <-gCtx.Done():
				return nil
			case <-changes:
				if timer == nil {
					timer = time.NewTimer(debounce)
				} else {
					timer.Reset(debounce)
				}
				timerC = timer.C
			case <-timerC:
				timerC = nil
				doc, err := s.ReadDocument(docPath)
				if err != nil {
					s.logger.Debug("watched document unreadable", "doc", docPath, "error", err)
					continue
				}
				fn(doc)
			}
		}
	})

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
