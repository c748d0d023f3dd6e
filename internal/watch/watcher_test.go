package watch

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newStartedWatcher(t *testing.T, roots ...string) *Watcher {
	t.Helper()
	w, err := New()
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	for _, root := range roots {
		if err := w.AddRoot(root); err != nil {
			t.Fatalf("AddRoot(%s) failed: %v", root, err)
		}
	}
	if err := w.Start(); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	t.Cleanup(func() { _ = w.Stop() })
	return w
}

func waitForEvent(t *testing.T, w *Watcher, want func(Event) bool) Event {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case event := <-w.Events():
			if want(event) {
				return event
			}
		case <-timeout:
			t.Fatal("Timeout waiting for event")
		}
	}
}

// TestAddRootMissing verifies that a nonexistent root is an error
// rather than a silently empty watch.
func TestAddRootMissing(t *testing.T) {
	w, err := New()
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	defer w.Stop()

	if err := w.AddRoot(filepath.Join(t.TempDir(), "does-not-exist")); err == nil {
		t.Error("AddRoot() should fail for a missing root")
	}

	file := filepath.Join(t.TempDir(), "plain.txt")
	if err := os.WriteFile(file, []byte("x"), 0644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}
	if err := w.AddRoot(file); err == nil {
		t.Error("AddRoot() should fail for a non-directory root")
	}
}

// TestStartStop verifies clean start/stop and the running flag.
func TestStartStop(t *testing.T) {
	w, err := New()
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	if err := w.AddRoot(t.TempDir()); err != nil {
		t.Fatalf("AddRoot() failed: %v", err)
	}

	if err := w.Start(); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	if !w.IsRunning() {
		t.Error("Watcher should be running after Start()")
	}

	if err := w.Stop(); err != nil {
		t.Fatalf("Stop() failed: %v", err)
	}
	if w.IsRunning() {
		t.Error("Watcher should not be running after Stop()")
	}
}

// TestStartAlreadyRunning verifies that a second Start fails.
func TestStartAlreadyRunning(t *testing.T) {
	w := newStartedWatcher(t, t.TempDir())
	if err := w.Start(); err == nil {
		t.Error("Second Start() should fail while running")
	}
}

// TestCreateEvent verifies that creating a file emits a create event
// attributed to the right root.
func TestCreateEvent(t *testing.T) {
	root := t.TempDir()
	w := newStartedWatcher(t, root)

	path := filepath.Join(root, "m.yaml")
	if err := os.WriteFile(path, []byte("name: x\n"), 0644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}

	event := waitForEvent(t, w, func(e Event) bool { return e.Op == OpCreate && !e.IsDir })
	if filepath.Base(event.Path) != "m.yaml" {
		t.Errorf("event.Path = %s, want m.yaml", event.Path)
	}
	absRoot, _ := filepath.Abs(root)
	if event.Root != absRoot {
		t.Errorf("event.Root = %s, want %s", event.Root, absRoot)
	}
}

// TestModifyEvent verifies that rewriting a file emits a modify event.
func TestModifyEvent(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "m.yaml")
	if err := os.WriteFile(path, []byte("v: 1\n"), 0644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}

	w := newStartedWatcher(t, root)
	time.Sleep(100 * time.Millisecond)

	if err := os.WriteFile(path, []byte("v: 2\n"), 0644); err != nil {
		t.Fatalf("Failed to update file: %v", err)
	}

	waitForEvent(t, w, func(e Event) bool { return e.Op == OpModify })
}

// TestDeleteEvent verifies that removing a file emits a delete event.
func TestDeleteEvent(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "m.yaml")
	if err := os.WriteFile(path, []byte("v: 1\n"), 0644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}

	w := newStartedWatcher(t, root)
	time.Sleep(100 * time.Millisecond)

	if err := os.Remove(path); err != nil {
		t.Fatalf("Failed to delete file: %v", err)
	}

	waitForEvent(t, w, func(e Event) bool { return e.Op == OpDelete })
}

// TestRecursiveWatch verifies that files in pre-existing subdirectories
// are observed.
func TestRecursiveWatch(t *testing.T) {
	root := t.TempDir()
	sub := filepath.Join(root, "sub", "deep")
	if err := os.MkdirAll(sub, 0755); err != nil {
		t.Fatalf("Failed to create subdirs: %v", err)
	}

	w := newStartedWatcher(t, root)

	path := filepath.Join(sub, "m.yaml")
	if err := os.WriteFile(path, []byte("v: 1\n"), 0644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}

	event := waitForEvent(t, w, func(e Event) bool { return e.Op == OpCreate && !e.IsDir })
	if event.Path != path {
		t.Errorf("event.Path = %s, want %s", event.Path, path)
	}
}

// TestNewDirectoryJoinsWatch verifies that a directory created while
// watching is itself watched.
func TestNewDirectoryJoinsWatch(t *testing.T) {
	root := t.TempDir()
	w := newStartedWatcher(t, root)

	sub := filepath.Join(root, "later")
	if err := os.MkdirAll(sub, 0755); err != nil {
		t.Fatalf("Failed to create dir: %v", err)
	}

	// Wait for the dir-create event so the watch is in place.
	waitForEvent(t, w, func(e Event) bool { return e.IsDir && e.Op == OpCreate })

	path := filepath.Join(sub, "m.yaml")
	if err := os.WriteFile(path, []byte("v: 1\n"), 0644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}

	waitForEvent(t, w, func(e Event) bool { return e.Op == OpCreate && e.Path == path })
}

// TestStopClosesChannels verifies that Stop() closes the channels.
func TestStopClosesChannels(t *testing.T) {
	root := t.TempDir()
	w, err := New()
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	if err := w.AddRoot(root); err != nil {
		t.Fatalf("AddRoot() failed: %v", err)
	}
	if err := w.Start(); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}

	events := w.Events()
	errs := w.Errors()

	if err := w.Stop(); err != nil {
		t.Fatalf("Stop() failed: %v", err)
	}

	select {
	case _, ok := <-events:
		if ok {
			t.Error("Events channel should be closed after Stop()")
		}
	case <-time.After(time.Second):
		t.Error("Timeout verifying events channel closure")
	}

	select {
	case _, ok := <-errs:
		if ok {
			t.Error("Errors channel should be closed after Stop()")
		}
	case <-time.After(time.Second):
		t.Error("Timeout verifying errors channel closure")
	}
}

// TestOpString verifies the String() method for Op.
func TestOpString(t *testing.T) {
	tests := []struct {
		op       Op
		expected string
	}{
		{OpCreate, "create"},
		{OpModify, "modify"},
		{OpDelete, "delete"},
		{Op(999), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.op.String(); got != tt.expected {
			t.Errorf("Op(%d).String() = %q, want %q", tt.op, got, tt.expected)
		}
	}
}
