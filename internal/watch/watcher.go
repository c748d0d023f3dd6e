// Package watch provides recursive filesystem watching for the sync
// engine. It uses fsnotify for cross-platform file system event
// monitoring and adds the recursion fsnotify itself lacks: every
// subdirectory of a root is watched, and directories created while
// watching are picked up on the fly.
package watch

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Op represents the type of file system operation.
type Op int

const (
	// OpCreate indicates a new file was created.
	OpCreate Op = iota
	// OpModify indicates an existing file was modified.
	OpModify
	// OpDelete indicates a file was deleted or renamed away.
	OpDelete
)

// String returns a human-readable representation of the operation.
func (op Op) String() string {
	switch op {
	case OpCreate:
		return "create"
	case OpModify:
		return "modify"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// Event is a filesystem event attributed to one of the watched roots.
type Event struct {
	// Path is the absolute path that changed.
	Path string
	// Root is the watched root the path belongs to.
	Root string
	// Op is the operation that occurred.
	Op Op
	// IsDir is set when the path is a directory. Delete events never
	// set it since the path can no longer be statted.
	IsDir bool
}

// Watcher watches directory trees for changes.
type Watcher struct {
	watcher *fsnotify.Watcher
	events  chan Event
	errors  chan error
	done    chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
	roots   []string
}

// New creates a Watcher. Roots are added with AddRoot before Start.
func New() (*Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	return &Watcher{
		watcher: watcher,
		events:  make(chan Event, 100),
		errors:  make(chan error, 10),
		done:    make(chan struct{}),
	}, nil
}

// AddRoot watches root and every directory below it.
func (w *Watcher) AddRoot(root string) error {
	abs, err := filepath.Abs(root)
	if err != nil {
		return fmt.Errorf("failed to resolve root %s: %w", root, err)
	}

	info, err := os.Stat(abs)
	if err != nil {
		return fmt.Errorf("failed to stat root %s: %w", root, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("root %s is not a directory", root)
	}

	err = filepath.WalkDir(abs, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if err := w.watcher.Add(path); err != nil {
			return fmt.Errorf("failed to watch %s: %w", path, err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.roots = append(w.roots, abs)
	// Longest roots first so nested roots resolve to the deepest match.
	sort.Slice(w.roots, func(i, j int) bool { return len(w.roots[i]) > len(w.roots[j]) })
	return nil
}

// Start begins emitting events for the added roots.
// Returns an error if the watcher is already running.
func (w *Watcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return fmt.Errorf("watcher already running")
	}

	w.running = true
	w.wg.Add(1)
	go w.processEvents()
	return nil
}

// Stop stops watching and cleans up. It blocks until the event
// processing goroutine has exited, then closes the event channels.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		// Never started: just release the fsnotify handle.
		return w.watcher.Close()
	}
	w.running = false
	w.mu.Unlock()

	close(w.done)

	if err := w.watcher.Close(); err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}

	w.wg.Wait()

	close(w.events)
	close(w.errors)
	return nil
}

// Events returns the channel that emits Event notifications.
// The channel is closed when the watcher is stopped.
func (w *Watcher) Events() <-chan Event {
	return w.events
}

// Errors returns the channel that emits watcher errors.
// The channel is closed when the watcher is stopped.
func (w *Watcher) Errors() <-chan error {
	return w.errors
}

// IsRunning returns true if the watcher is currently running.
func (w *Watcher) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// processEvents is the main loop converting fsnotify events.
func (w *Watcher) processEvents() {
	defer w.wg.Done()

	for {
		select {
		case <-w.done:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}

			converted, ok := w.convertEvent(event)
			if !ok {
				continue
			}

			// New directories join the watch so the tree stays
			// fully covered.
			if converted.IsDir && converted.Op == OpCreate {
				_ = w.watcher.Add(converted.Path)
			}

			select {
			case w.events <- converted:
			case <-w.done:
				return
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			select {
			case w.errors <- err:
			case <-w.done:
				return
			}
		}
	}
}

// convertEvent maps an fsnotify event onto a watched root.
// Returns false for events outside every root or for operations the
// engine doesn't care about (chmod).
func (w *Watcher) convertEvent(event fsnotify.Event) (Event, bool) {
	root, ok := w.rootFor(event.Name)
	if !ok {
		return Event{}, false
	}

	var op Op
	switch {
	case event.Has(fsnotify.Create):
		op = OpCreate
	case event.Has(fsnotify.Write):
		op = OpModify
	case event.Has(fsnotify.Remove):
		op = OpDelete
	case event.Has(fsnotify.Rename):
		// Rename away reads as delete; the new name triggers a create.
		op = OpDelete
	default:
		return Event{}, false
	}

	isDir := false
	if op != OpDelete {
		if info, err := os.Lstat(event.Name); err == nil {
			isDir = info.IsDir()
		}
	}

	return Event{Path: event.Name, Root: root, Op: op, IsDir: isDir}, true
}

// rootFor resolves which watched root a path belongs to.
func (w *Watcher) rootFor(path string) (string, bool) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", false
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	for _, root := range w.roots {
		if abs == root || strings.HasPrefix(abs, root+string(filepath.Separator)) {
			return root, true
		}
	}
	return "", false
}
