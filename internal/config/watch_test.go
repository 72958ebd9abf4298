package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestWatch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "trackd.yaml")
	other := filepath.Join(dir, "other.yaml")
	require.NoError(t, os.WriteFile(path, []byte("device_id: a\n"), 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	changed := make(chan string, 16)
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, zaptest.NewLogger(t), []string{path}, func(p string) {
			select {
			case changed <- p:
			default:
			}
		})
	}()
	defer func() {
		cancel()
		assert.NoError(t, <-done)
	}()

	want, err := filepath.Abs(path)
	require.NoError(t, err)

	// The watcher may not be registered yet; keep writing until seen.
	require.Eventually(t, func() bool {
		_ = os.WriteFile(other, []byte("x"), 0o644)
		_ = os.WriteFile(path, []byte("device_id: b\n"), 0o644)
		select {
		case got := <-changed:
			return got == want
		case <-time.After(50 * time.Millisecond):
			return false
		}
	}, 10*time.Second, 10*time.Millisecond)
}

func TestWatch_NoPaths(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.NoError(t, Watch(ctx, nil, []string{""}, func(string) { t.Fatal("unexpected change") }))
}
