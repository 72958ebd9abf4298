package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "trackd", cmd.Use)
	assert.Contains(t, cmd.Long, "proximity alerts")
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	commands := [][]string{
		{"run"},
		{"start"},
		{"stop"},
		{"interval"},
		{"status"},
		{"queue", "stats"},
		{"queue", "retry-failed"},
		{"queue", "purge"},
		{"alerts", "load"},
		{"alerts", "list"},
		{"test"},
	}

	for _, path := range commands {
		name := path[len(path)-1]
		t.Run(name, func(t *testing.T) {
			subCmd, _, err := cmd.Find(path)
			require.NoError(t, err, "Command %v should exist", path)
			require.NotNil(t, subCmd)
			assert.Equal(t, name, subCmd.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	verboseFlag := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verboseFlag)
	assert.Equal(t, "v", verboseFlag.Shorthand)
	assert.Equal(t, "false", verboseFlag.DefValue)

	formatFlag := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, formatFlag)
	assert.Equal(t, "text", formatFlag.DefValue)

	apiFlag := cmd.PersistentFlags().Lookup("api")
	require.NotNil(t, apiFlag)
	assert.Equal(t, "127.0.0.1:8787", apiFlag.DefValue)

	configFlag := cmd.PersistentFlags().Lookup("config")
	require.NotNil(t, configFlag)
	assert.Equal(t, "c", configFlag.Shorthand)

	dbFlag := cmd.PersistentFlags().Lookup("db")
	require.NotNil(t, dbFlag)
	assert.Equal(t, "", dbFlag.DefValue)
}

func TestQueuePurgeFlags(t *testing.T) {
	cmd := NewRootCommand()
	purgeCmd, _, err := cmd.Find([]string{"queue", "purge"})
	require.NoError(t, err)

	flag := purgeCmd.Flags().Lookup("older-than")
	require.NotNil(t, flag)
	assert.Equal(t, "168h0m0s", flag.DefValue)
}

func TestTestCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	testCmd, _, err := cmd.Find([]string{"test"})
	require.NoError(t, err)

	updateFlag := testCmd.Flags().Lookup("update")
	require.NotNil(t, updateFlag)
	assert.Equal(t, "false", updateFlag.DefValue)

	filterFlag := testCmd.Flags().Lookup("filter")
	require.NotNil(t, filterFlag)
}

func TestFormatValidation(t *testing.T) {
	assert.True(t, isValidFormat("text"))
	assert.True(t, isValidFormat("json"))

	assert.False(t, isValidFormat("xml"))
	assert.False(t, isValidFormat(""))
	assert.False(t, isValidFormat("TEXT"))
}

func TestFormatValidationIntegration(t *testing.T) {
	_, err := execute(t, "--format", "invalid", "status")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "invalid format")
}

func TestDatabasePath(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "trackd.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`device_id: phone-me
database: /var/lib/trackd/state.db
capture:
  provider: static
upload:
  base_url: https://ingest.example.com
`), 0o644))

	tests := []struct {
		name string
		opts RootOptions
		want string
	}{
		{"default", RootOptions{}, "trackd.db"},
		{"config file", RootOptions{ConfigPath: cfgPath}, "/var/lib/trackd/state.db"},
		{"flag wins", RootOptions{ConfigPath: cfgPath, Database: "/tmp/x.db"}, "/tmp/x.db"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.opts.databasePath()
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDatabasePathBadConfig(t *testing.T) {
	opts := RootOptions{ConfigPath: filepath.Join(t.TempDir(), "missing.yaml")}
	_, err := opts.databasePath()
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
