// Package watcher follows a SQLite database file for writes made by other
// processes and asks the store to re-read the roles it is watching.
package watcher

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"rolectl/internal/settings"
)

// Refresher re-reads watched roles and notifies their subscribers.
type Refresher interface {
	Refresh(ctx context.Context) error
}

// Watcher monitors a database file and its journal files.
type Watcher struct {
	fsWatcher *fsnotify.Watcher
	path      string
	debounce  time.Duration
	target    Refresher
	logger    settings.Logger

	// Signalled on each relevant file event; drained by the debounce loop.
	pending chan struct{}

	done chan struct{}
	wg   sync.WaitGroup
	once sync.Once
}

// New creates a watcher for the database at path. Events closer together
// than debounce are coalesced into one refresh.
func New(path string, debounce time.Duration, target Refresher, logger settings.Logger) (*Watcher, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", path, err)
	}
	if logger == nil {
		logger = settings.NewNopLogger()
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating file watcher: %w", err)
	}

	return &Watcher{
		fsWatcher: fsWatcher,
		path:      absPath,
		debounce:  debounce,
		target:    target,
		logger:    logger,
		pending:   make(chan struct{}, 1),
		done:      make(chan struct{}),
	}, nil
}

// Path returns the absolute path of the watched database.
func (w *Watcher) Path() string {
	return w.path
}

// Start begins watching. The database file is watched through its
// directory so that journal files and replaced files are seen too.
func (w *Watcher) Start() error {
	if err := w.fsWatcher.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("watching %s: %w", filepath.Dir(w.path), err)
	}

	w.wg.Add(2)
	go w.eventLoop()
	go w.debounceLoop()
	return nil
}

// Stop shuts the watcher down and waits for in-flight refreshes.
func (w *Watcher) Stop() error {
	var err error
	w.once.Do(func() {
		close(w.done)
		err = w.fsWatcher.Close()
		w.wg.Wait()
	})
	return err
}

// matches reports whether name is the database or one of its -wal, -shm
// or -journal companions.
func (w *Watcher) matches(name string) bool {
	return name == w.path || strings.HasPrefix(name, w.path+"-")
}

func (w *Watcher) eventLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.done:
			return

		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			if !w.matches(event.Name) {
				continue
			}
			select {
			case w.pending <- struct{}{}:
			default:
			}

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("file watcher error", "path", w.path, "error", err)
		}
	}
}

func (w *Watcher) debounceLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.done:
			return
		case <-w.pending:
		}

		// Wait for the burst of writes from one transaction to settle.
		timer := time.NewTimer(w.debounce)
	settle:
		for {
			select {
			case <-w.done:
				timer.Stop()
				return
			case <-w.pending:
				timer.Reset(w.debounce)
			case <-timer.C:
				break settle
			}
		}

		w.logger.Debug("database file changed", "path", w.path)
		if err := w.target.Refresh(context.Background()); err != nil {
			w.logger.Error("refreshing roles after file change", "path", w.path, "error", err)
		}
	}
}
