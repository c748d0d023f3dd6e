package engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/resyncd/resyncd/internal/record"
	"github.com/resyncd/resyncd/internal/registry"
)

// waitForRecord polls the cache until the record for filePath appears
// (or disappears, when want is false) within a bounded deadline.
func waitForRecord(t *testing.T, eng *Engine, config, filePath string, want bool) *record.FileRecord {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		rec, err := eng.GetFileByPath(context.Background(), config, filePath)
		require.NoError(t, err)
		if (rec != nil) == want {
			return rec
		}
		select {
		case <-deadline:
			t.Fatalf("Timeout waiting for record %s (want present=%v)", filePath, want)
		case <-time.After(25 * time.Millisecond):
		}
	}
}

func TestStartWatchingNoWatchConfigs(t *testing.T) {
	eng := newTestEngine(t)

	// No configs at all.
	assert.False(t, eng.StartWatching())

	// A config that opted out of watching.
	eng.AddScanConfig(registry.ScanConfig{Name: "models", Root: t.TempDir()})
	assert.False(t, eng.StartWatching())
	assert.False(t, eng.IsWatching())
}

func TestStartWatchingMissingRoot(t *testing.T) {
	eng := newTestEngine(t)
	eng.AddScanConfig(registry.ScanConfig{
		Name:  "models",
		Root:  filepath.Join(t.TempDir(), "does-not-exist"),
		Watch: true,
	})

	assert.False(t, eng.StartWatching())
	assert.False(t, eng.IsWatching())
}

func TestStartWatchingSkipsMissingRoot(t *testing.T) {
	eng := newTestEngine(t)

	goodRoot := filepath.Join(t.TempDir(), "models")
	require.NoError(t, os.MkdirAll(goodRoot, 0755))
	eng.AddScanConfig(registry.ScanConfig{Name: "models", Root: goodRoot, Watch: true})
	eng.AddScanConfig(registry.ScanConfig{
		Name:  "prompts",
		Root:  filepath.Join(t.TempDir(), "does-not-exist"),
		Watch: true,
	})

	// The healthy config still gets a live session.
	require.True(t, eng.StartWatching())
	defer eng.StopWatching()

	writeFile(t, goodRoot, "m.yaml", "v: 1\n")
	waitForRecord(t, eng, "models", "models/m.yaml", true)
}

func TestStopWatchingNotRunning(t *testing.T) {
	eng := newTestEngine(t)
	assert.False(t, eng.StopWatching())
}

func TestStartWatchingTwice(t *testing.T) {
	eng := newTestEngine(t)
	eng.AddScanConfig(registry.ScanConfig{Name: "models", Root: t.TempDir(), Watch: true})

	require.True(t, eng.StartWatching())
	assert.False(t, eng.StartWatching())
	assert.True(t, eng.IsWatching())

	assert.True(t, eng.StopWatching())
	assert.False(t, eng.IsWatching())
}

func TestWatchCreateSyncsFile(t *testing.T) {
	eng := newTestEngine(t)

	root := filepath.Join(t.TempDir(), "models")
	require.NoError(t, os.MkdirAll(root, 0755))
	eng.AddScanConfig(registry.ScanConfig{Name: "models", Root: root, Watch: true})

	require.True(t, eng.StartWatching())
	defer eng.StopWatching()

	writeFile(t, root, "live.yaml", "name: live-model\n")

	rec := waitForRecord(t, eng, "models", "models/live.yaml", true)
	assert.Equal(t, "live-model", rec.Content["name"])
	assert.Equal(t, "live.yaml", rec.FileName)
}

func TestWatchModifyResyncsFile(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	root := filepath.Join(t.TempDir(), "models")
	writeFile(t, root, "m.yaml", "v: 1\n")
	eng.AddScanConfig(registry.ScanConfig{Name: "models", Root: root, Watch: true})

	_, err := eng.SyncConfig(ctx, "models")
	require.NoError(t, err)

	require.True(t, eng.StartWatching())
	defer eng.StopWatching()

	writeFile(t, root, "m.yaml", "v: 2\n")

	deadline := time.After(3 * time.Second)
	for {
		rec := waitForRecord(t, eng, "models", "models/m.yaml", true)
		if rec.Content["v"] == float64(2) {
			break
		}
		select {
		case <-deadline:
			t.Fatal("Timeout waiting for updated content")
		case <-time.After(25 * time.Millisecond):
		}
	}
}

func TestWatchDeleteRemovesRecord(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	root := filepath.Join(t.TempDir(), "models")
	path := writeFile(t, root, "m.yaml", "v: 1\n")
	eng.AddScanConfig(registry.ScanConfig{Name: "models", Root: root, Watch: true})

	_, err := eng.SyncConfig(ctx, "models")
	require.NoError(t, err)

	require.True(t, eng.StartWatching())
	defer eng.StopWatching()

	require.NoError(t, os.Remove(path))

	waitForRecord(t, eng, "models", "models/m.yaml", false)
}

func TestWatchDirectoryRemovalSweepsChildren(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	root := filepath.Join(t.TempDir(), "models")
	writeFile(t, root, filepath.Join("sub", "a.yaml"), "v: 1\n")
	writeFile(t, root, filepath.Join("sub", "b.yaml"), "v: 2\n")
	writeFile(t, root, "top.yaml", "v: 3\n")
	eng.AddScanConfig(registry.ScanConfig{
		Name:     "models",
		Root:     root,
		Patterns: []string{"**/*.yaml"},
		Watch:    true,
	})

	_, err := eng.SyncConfig(ctx, "models")
	require.NoError(t, err)

	require.True(t, eng.StartWatching())
	defer eng.StopWatching()

	// Renaming the directory away emits one delete for the directory
	// itself and nothing for the files inside it.
	require.NoError(t, os.Rename(filepath.Join(root, "sub"), filepath.Join(t.TempDir(), "away")))

	waitForRecord(t, eng, "models", "models/sub/a.yaml", false)
	waitForRecord(t, eng, "models", "models/sub/b.yaml", false)

	// The sibling outside the directory is untouched.
	rec, err := eng.GetFileByPath(ctx, "models", "models/top.yaml")
	require.NoError(t, err)
	assert.NotNil(t, rec)
}

func TestWatchIgnoresNonMatchingFiles(t *testing.T) {
	eng := newTestEngine(t)

	root := filepath.Join(t.TempDir(), "models")
	require.NoError(t, os.MkdirAll(root, 0755))
	eng.AddScanConfig(registry.ScanConfig{Name: "models", Root: root, Watch: true})

	require.True(t, eng.StartWatching())
	defer eng.StopWatching()

	writeFile(t, root, "notes.txt", "ignored\n")
	writeFile(t, root, "m.yaml", "v: 1\n")

	// The matching file shows up; the .txt never does.
	waitForRecord(t, eng, "models", "models/m.yaml", true)
	rec, err := eng.GetFileByPath(context.Background(), "models", "models/notes.txt")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestWatchNestedDirectories(t *testing.T) {
	eng := newTestEngine(t)

	root := filepath.Join(t.TempDir(), "models")
	require.NoError(t, os.MkdirAll(filepath.Join(root, "sub"), 0755))
	eng.AddScanConfig(registry.ScanConfig{
		Name:     "models",
		Root:     root,
		Patterns: []string{"**/*.yaml"},
		Watch:    true,
	})

	require.True(t, eng.StartWatching())
	defer eng.StopWatching()

	writeFile(t, root, filepath.Join("sub", "deep.yaml"), "v: 1\n")

	waitForRecord(t, eng, "models", "models/sub/deep.yaml", true)
}
