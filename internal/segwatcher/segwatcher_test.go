package segwatcher

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bluenviron/mediamerge/internal/test"
)

func TestNoDir(t *testing.T) {
	w := &SegWatcher{
		Dir:      "/nonexistent",
		Debounce: 50 * time.Millisecond,
		Parent:   test.NilLogger,
	}
	err := w.Initialize()
	require.Error(t, err)
}

func TestNotADir(t *testing.T) {
	fpath, err := test.CreateTempFile([]byte{1})
	require.NoError(t, err)
	defer os.Remove(fpath)

	w := &SegWatcher{
		Dir:      fpath,
		Debounce: 50 * time.Millisecond,
		Parent:   test.NilLogger,
	}
	err = w.Initialize()
	require.Error(t, err)
}

func TestCreate(t *testing.T) {
	dir := t.TempDir()

	w := &SegWatcher{
		Dir:      dir,
		Debounce: 50 * time.Millisecond,
		Parent:   test.NilLogger,
	}
	err := w.Initialize()
	require.NoError(t, err)
	defer w.Close()

	err = os.WriteFile(filepath.Join(dir, "1.mp4"), []byte{1}, 0o644)
	require.NoError(t, err)

	select {
	case <-w.Watch():
	case <-time.After(2 * time.Second):
		t.Fatal("timed out")
	}
}

func TestDebounce(t *testing.T) {
	dir := t.TempDir()

	w := &SegWatcher{
		Dir:      dir,
		Debounce: 300 * time.Millisecond,
		Parent:   test.NilLogger,
	}
	err := w.Initialize()
	require.NoError(t, err)
	defer w.Close()

	for i := range 3 {
		err = os.WriteFile(filepath.Join(dir, string(rune('1'+i))+".mp4"), []byte{1}, 0o644)
		require.NoError(t, err)
		time.Sleep(50 * time.Millisecond)
	}

	select {
	case <-w.Watch():
	case <-time.After(2 * time.Second):
		t.Fatal("timed out")
	}

	select {
	case <-w.Watch():
		t.Fatal("unexpected signal")
	case <-time.After(500 * time.Millisecond):
	}
}

func TestHiddenFilesIgnored(t *testing.T) {
	dir := t.TempDir()

	w := &SegWatcher{
		Dir:      dir,
		Debounce: 50 * time.Millisecond,
		Parent:   test.NilLogger,
	}
	err := w.Initialize()
	require.NoError(t, err)
	defer w.Close()

	err = os.WriteFile(filepath.Join(dir, ".partial"), []byte{1}, 0o644)
	require.NoError(t, err)

	select {
	case <-w.Watch():
		t.Fatal("unexpected signal")
	case <-time.After(300 * time.Millisecond):
	}
}

func TestFilters(t *testing.T) {
	dir := t.TempDir()

	w := &SegWatcher{
		Dir:        dir,
		Debounce:   50 * time.Millisecond,
		Extensions: []string{".mp4"},
		Exclude:    []string{filepath.Join(dir, "final_merge.mp4")},
		Parent:     test.NilLogger,
	}
	err := w.Initialize()
	require.NoError(t, err)
	defer w.Close()

	err = os.WriteFile(filepath.Join(dir, "notes.txt"), []byte{1}, 0o644)
	require.NoError(t, err)

	err = os.WriteFile(filepath.Join(dir, "final_merge.mp4"), []byte{1}, 0o644)
	require.NoError(t, err)

	select {
	case <-w.Watch():
		t.Fatal("unexpected signal")
	case <-time.After(300 * time.Millisecond):
	}

	err = os.WriteFile(filepath.Join(dir, "5.MP4"), []byte{1}, 0o644)
	require.NoError(t, err)

	select {
	case <-w.Watch():
	case <-time.After(2 * time.Second):
		t.Fatal("timed out")
	}
}
