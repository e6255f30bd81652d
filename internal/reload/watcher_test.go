package reload

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startWatcher(t *testing.T, path string, fn Func) {
	t.Helper()
	w, err := New(50*time.Millisecond, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, w.Add(path, fn))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func TestWatcherReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte("rules: []\n"), 0o600))

	calls := make(chan struct{}, 8)
	startWatcher(t, path, func() error {
		calls <- struct{}{}
		return nil
	})

	for i := 0; i < 3; i++ {
		require.NoError(t, os.WriteFile(path, []byte("rules: []\n# edit\n"), 0o600))
	}

	select {
	case <-calls:
	case <-time.After(2 * time.Second):
		t.Fatal("expected a reload after the file was written")
	}
	select {
	case <-calls:
		t.Fatal("burst of writes should reload once")
	case <-time.After(300 * time.Millisecond):
	}
}

func TestWatcherPicksUpRenameOverFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "templates.yaml")
	require.NoError(t, os.WriteFile(path, []byte("templates: []\n"), 0o600))

	calls := make(chan struct{}, 8)
	startWatcher(t, path, func() error {
		calls <- struct{}{}
		return nil
	})

	tmp := filepath.Join(dir, ".templates.yaml.swp")
	require.NoError(t, os.WriteFile(tmp, []byte("templates: []\n"), 0o600))
	require.NoError(t, os.Rename(tmp, path))

	select {
	case <-calls:
	case <-time.After(2 * time.Second):
		t.Fatal("expected a reload after the file was replaced")
	}
}

func TestWatcherIgnoresSiblingsAndSurvivesErrors(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte("rules: []\n"), 0o600))

	var n atomic.Int32
	calls := make(chan struct{}, 8)
	startWatcher(t, path, func() error {
		n.Add(1)
		calls <- struct{}{}
		return errors.New("bad yaml")
	})

	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.yaml"), []byte("x"), 0o600))
	select {
	case <-calls:
		t.Fatal("sibling file must not trigger a reload")
	case <-time.After(300 * time.Millisecond):
	}

	for i := 0; i < 2; i++ {
		require.NoError(t, os.WriteFile(path, []byte("rules: [broken"), 0o600))
		select {
		case <-calls:
		case <-time.After(2 * time.Second):
			t.Fatalf("expected reload attempt %d", i+1)
		}
		time.Sleep(100 * time.Millisecond)
	}
	assert.Equal(t, int32(2), n.Load())
}
