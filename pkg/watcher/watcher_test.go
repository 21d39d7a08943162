package watcher

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingAdder struct {
	mu    sync.Mutex
	added []string
}

func (a *recordingAdder) UploadAdd(_ context.Context, filename string, data []byte) error {
	if string(data) == "bad" {
		return errors.New("not a torrent")
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.added = append(a.added, filename)
	return nil
}

func (a *recordingAdder) names() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.added...)
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func TestNewValidation(t *testing.T) {
	_, err := New("", &recordingAdder{}, nil)
	assert.Error(t, err)

	_, err = New(t.TempDir(), nil, nil)
	assert.Error(t, err)
}

func TestWatcherProcessesFiles(t *testing.T) {
	dir := t.TempDir()
	adder := &recordingAdder{}

	require.NoError(t, os.WriteFile(filepath.Join(dir, "existing.torrent"), []byte("good"), 0644))

	w, err := New(dir, adder, nil, WithDebounce(20*time.Millisecond))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	assert.Eventually(t, func() bool {
		return exists(filepath.Join(dir, addedSubdir, "existing.torrent"))
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "new.TORRENT"), []byte("good"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.torrent"), []byte("bad"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("good"), 0644))

	assert.Eventually(t, func() bool {
		return exists(filepath.Join(dir, addedSubdir, "new.TORRENT")) &&
			exists(filepath.Join(dir, invalidSubdir, "broken.torrent"))
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	assert.ElementsMatch(t, []string{"existing.torrent", "new.TORRENT"}, adder.names())
	assert.True(t, exists(filepath.Join(dir, "notes.txt")))
}

func TestMoveFileAvoidsOverwrite(t *testing.T) {
	dir := t.TempDir()
	dest := filepath.Join(dir, "a.torrent")
	require.NoError(t, os.WriteFile(dest, []byte("first"), 0644))

	src := filepath.Join(dir, "src.torrent")
	require.NoError(t, os.WriteFile(src, []byte("second"), 0644))

	require.NoError(t, moveFile(src, dest))

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "first", string(data))

	matches, err := filepath.Glob(filepath.Join(dir, "a-*.torrent"))
	require.NoError(t, err)
	assert.Len(t, matches, 1)
}

func TestIsInSubdirectory(t *testing.T) {
	dir := filepath.Join("watch")
	assert.False(t, isInSubdirectory(filepath.Join(dir, "a.torrent"), dir))
	assert.True(t, isInSubdirectory(filepath.Join(dir, addedSubdir, "a.torrent"), dir))
}
