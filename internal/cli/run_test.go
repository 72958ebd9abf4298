package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeRunConfig(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "trackd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`device_id: phone-me
database: `+filepath.Join(dir, "trackd.db")+`
log:
  level: error
  format: console
capture:
  provider: static
  latitude: 48.1486
  longitude: 17.1077
upload:
  base_url: http://ingest.invalid
watchdog:
  enabled: false
api:
  listen: ""
`), 0o644))
	return path
}

func TestRunMissingConfig(t *testing.T) {
	buf := &bytes.Buffer{}
	cmd := NewRunCommand(&RootOptions{Format: "text", ConfigPath: "/nonexistent/trackd.yaml"})
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "failed to load config")
}

func TestRunInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "trackd.yaml")
	require.NoError(t, os.WriteFile(path, []byte("device_id: phone-me\ncapture:\n  interval_minutes: 5000\n"), 0o644))

	cmd := NewRunCommand(&RootOptions{Format: "text", ConfigPath: path})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "invalid config")
}

func TestRunRejectsArgs(t *testing.T) {
	cmd := NewRunCommand(&RootOptions{Format: "text"})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"extra"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown command")
}

func TestRunStopsOnCancel(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeRunConfig(t, dir)

	cmd := NewRunCommand(&RootOptions{Format: "text", ConfigPath: cfgPath})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{})

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- cmd.ExecuteContext(ctx) }()

	assert.Eventually(t, func() bool {
		_, err := os.Stat(filepath.Join(dir, "trackd.db"))
		return err == nil
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(15 * time.Second):
		t.Fatal("run did not stop after cancel")
	}
}

func TestRunHelpText(t *testing.T) {
	buf := &bytes.Buffer{}
	cmd := NewRunCommand(&RootOptions{Format: "text"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"--help"})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, buf.String(), "control API")
	assert.Contains(t, buf.String(), "trackd run --config")
}
