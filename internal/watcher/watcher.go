// Package watcher monitors a drop directory for VCD traces and emits an
// event once a trace has settled.
package watcher

import (
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/crypto/blake2b"
)

// Event represents a VCD trace that has settled and is ready to analyze.
type Event struct {
	Path      string
	Digest    string
	Size      int64
	Timestamp time.Time
}

// Watcher monitors directories for dropped VCD files. Simulators write
// traces incrementally, so a file is only reported after it has been
// quiet for the settle interval.
type Watcher struct {
	fsWatcher *fsnotify.Watcher
	dirs      []string
	settle    time.Duration

	// State tracking: path -> last modification time
	state   map[string]time.Time
	stateMu sync.RWMutex

	events chan Event
	errors chan error

	done chan struct{}
	wg   sync.WaitGroup
}

// New creates a watcher over the given directories. settle is how long a
// file must stay unmodified before it is considered complete.
func New(dirs []string, settle time.Duration) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &Watcher{
		fsWatcher: fsWatcher,
		dirs:      dirs,
		settle:    settle,
		state:     make(map[string]time.Time),
		events:    make(chan Event, 100),
		errors:    make(chan error, 10),
		done:      make(chan struct{}),
	}, nil
}

// Events returns the channel of settled-trace events.
func (w *Watcher) Events() <-chan Event {
	return w.events
}

// Errors returns the channel of errors.
func (w *Watcher) Errors() <-chan error {
	return w.errors
}

// Start begins watching all configured directories. Existing VCD files
// in a watched directory are tracked and reported once settled.
func (w *Watcher) Start() error {
	for _, dir := range w.dirs {
		absDir, err := filepath.Abs(dir)
		if err != nil {
			return err
		}
		if err := w.fsWatcher.Add(absDir); err != nil {
			return err
		}

		entries, err := os.ReadDir(absDir)
		if err != nil {
			return err
		}
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			path := filepath.Join(absDir, entry.Name())
			if isVCD(path) {
				w.trackFile(path)
			}
		}
	}

	w.wg.Add(2)
	go w.eventLoop()
	go w.settleLoop()

	return nil
}

// Stop gracefully shuts down the watcher.
func (w *Watcher) Stop() error {
	close(w.done)
	w.wg.Wait()
	close(w.events)
	close(w.errors)
	return w.fsWatcher.Close()
}

func isVCD(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".vcd")
}

// trackFile adds a file to state tracking.
func (w *Watcher) trackFile(path string) {
	info, err := os.Stat(path)
	if err != nil {
		return
	}

	w.stateMu.Lock()
	w.state[path] = info.ModTime()
	w.stateMu.Unlock()
}

// eventLoop handles fsnotify events.
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

			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if !isVCD(event.Name) {
				continue
			}

			info, err := os.Stat(event.Name)
			if err != nil || info.IsDir() {
				continue
			}

			w.stateMu.Lock()
			w.state[event.Name] = time.Now()
			w.stateMu.Unlock()

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			select {
			case w.errors <- err:
			default:
			}
		}
	}
}

// settleLoop periodically checks for traces that have stopped growing.
func (w *Watcher) settleLoop() {
	defer w.wg.Done()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return

		case now := <-ticker.C:
			w.checkSettled(now)
		}
	}
}

type settledFile struct {
	path    string
	lastMod time.Time
}

// checkSettled finds traces that have been quiet past the settle
// interval. The lock is released during file I/O so eventLoop is never
// blocked behind a digest.
func (w *Watcher) checkSettled(now time.Time) {
	threshold := now.Add(-w.settle)

	var settled []settledFile
	w.stateMu.RLock()
	for path, lastMod := range w.state {
		if lastMod.Before(threshold) {
			settled = append(settled, settledFile{path: path, lastMod: lastMod})
		}
	}
	w.stateMu.RUnlock()

	if len(settled) == 0 {
		return
	}

	type digestResult struct {
		path    string
		lastMod time.Time
		digest  string
		size    int64
		err     error
	}
	results := make([]digestResult, len(settled))

	for i, sf := range settled {
		digest, size, err := DigestFile(sf.path)
		results[i] = digestResult{
			path:    sf.path,
			lastMod: sf.lastMod,
			digest:  digest,
			size:    size,
			err:     err,
		}
	}

	w.stateMu.Lock()
	defer w.stateMu.Unlock()

	for _, r := range results {
		if r.err != nil {
			select {
			case w.errors <- r.err:
			default:
			}
			continue
		}

		currentLastMod, exists := w.state[r.path]
		if !exists {
			continue
		}
		if currentLastMod != r.lastMod {
			// Written to again while digesting, wait for the next
			// quiet window.
			continue
		}

		event := Event{
			Path:      r.path,
			Digest:    r.digest,
			Size:      r.size,
			Timestamp: now,
		}

		select {
		case w.events <- event:
			// Drop from state so the trace is not reported twice.
			delete(w.state, r.path)
		default:
			// Event channel full, try again on the next tick.
		}
	}
}

// DigestFile computes the BLAKE2b-256 digest of a file by streaming.
func DigestFile(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()

	h, err := blake2b.New256(nil)
	if err != nil {
		return "", 0, err
	}
	size, err := io.Copy(h, f)
	if err != nil {
		return "", 0, err
	}

	return hex.EncodeToString(h.Sum(nil)), size, nil
}

// WatchedDirs returns the list of directories being watched.
func (w *Watcher) WatchedDirs() []string {
	return w.dirs
}

// TrackedFiles returns the current number of tracked traces.
func (w *Watcher) TrackedFiles() int {
	w.stateMu.RLock()
	defer w.stateMu.RUnlock()
	return len(w.state)
}
