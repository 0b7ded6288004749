package hub

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"mcphub/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestWatcherDebouncesBurstIntoOneEmission(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "server.py")
	writeFile(t, target, "v1")

	events := make(chan string, 8)
	w, err := newFileWatcher("fs", []string{target}, 40*time.Millisecond, events)
	require.NoError(t, err)
	require.NoError(t, w.start())
	defer w.stop()

	// An editor save burst: several writes in quick succession.
	for i := 0; i < 5; i++ {
		writeFile(t, target, "v2")
		time.Sleep(5 * time.Millisecond)
	}

	select {
	case name := <-events:
		assert.Equal(t, "fs", name)
	case <-time.After(2 * time.Second):
		t.Fatal("expected one emission after the quiet period")
	}

	// The burst collapsed: nothing else arrives.
	select {
	case name := <-events:
		t.Fatalf("unexpected second emission for %s", name)
	case <-time.After(150 * time.Millisecond):
	}
}

func TestWatcherIgnoresSiblingFiles(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "watched.txt")
	sibling := filepath.Join(dir, "ignored.txt")
	writeFile(t, target, "v1")
	writeFile(t, sibling, "v1")

	events := make(chan string, 8)
	w, err := newFileWatcher("fs", []string{target}, 30*time.Millisecond, events)
	require.NoError(t, err)
	require.NoError(t, w.start())
	defer w.stop()

	writeFile(t, sibling, "v2")

	select {
	case name := <-events:
		t.Fatalf("sibling change must not emit, got %s", name)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestWatcherStopCancelsPendingEmission(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "server.py")
	writeFile(t, target, "v1")

	events := make(chan string, 8)
	w, err := newFileWatcher("fs", []string{target}, 100*time.Millisecond, events)
	require.NoError(t, err)
	require.NoError(t, w.start())

	writeFile(t, target, "v2")
	w.stop()

	select {
	case name := <-events:
		t.Fatalf("emission after stop for %s", name)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestWatcherRequiresPaths(t *testing.T) {
	events := make(chan string, 1)

	_, err := newFileWatcher("fs", nil, 0, events)

	assert.Error(t, err)
}

func TestWatchedFileChangeRestartsServer(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "server.py")
	writeFile(t, target, "v1")

	factory := newFakeFactory()
	m := newTestManager(t, factory)

	cfg := stdioConfig("fs")
	cfg.WatchPaths = []string{target}
	require.NoError(t, m.Reconcile(context.Background(), map[string]config.ServerConfig{"fs": cfg}))
	require.Equal(t, 1, factory.connects("fs"))

	// Rapid saves collapse into a single restart.
	for i := 0; i < 4; i++ {
		writeFile(t, target, "v2")
		time.Sleep(5 * time.Millisecond)
	}

	require.Eventually(t, func() bool {
		return factory.connects("fs") == 2 && m.Get("fs").State() == StateConnected
	}, 3*time.Second, 20*time.Millisecond)

	// Give any spurious extra restart time to show up.
	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, 2, factory.connects("fs"), "burst must produce exactly one restart")
}
