package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_File(t *testing.T) {
	cfg, err := Load("testdata/trackd.yaml")
	require.NoError(t, err)

	assert.Equal(t, "phone-me", cfg.DeviceID)
	assert.Equal(t, "/var/lib/trackd/trackd.db", cfg.Database)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, "trackd", cfg.Log.Service, "default kept")

	assert.Equal(t, 2*time.Minute, cfg.Capture.MaxFixAge.D())
	assert.Equal(t, 10, cfg.Capture.IntervalMinutes)

	assert.Equal(t, "https://ingest.example.com", cfg.Upload.BaseURL)
	assert.Equal(t, 15*time.Second, cfg.Upload.Timeout.D())
	assert.Equal(t, 25, cfg.Upload.BatchSize)
	assert.Equal(t, 5, cfg.Upload.MaxRetries, "default kept")
	assert.Equal(t, 10*time.Second, cfg.Upload.BackoffBase.D())
	assert.Equal(t, 10*time.Minute, cfg.Upload.BackoffCap.D())

	assert.True(t, cfg.Watchdog.Enabled)
	assert.Equal(t, 5*time.Minute, cfg.Watchdog.Period.D())
	assert.Equal(t, 20*time.Minute, cfg.Watchdog.Threshold.D())

	assert.True(t, cfg.MQTT.Enabled())
	assert.Equal(t, "tcp://broker.example.com:1883", cfg.MQTT.Broker)
	assert.Equal(t, 5*time.Second, cfg.MQTT.Timeout)
	assert.Equal(t, "trackd/peers/+/location", cfg.MQTT.PeerTopic)
	assert.Equal(t, map[string]string{"phone-mom": "Mom"}, cfg.MQTT.PeerNames)

	assert.Equal(t, "127.0.0.1:9000", cfg.API.Listen)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("TRACKD_DEVICE_ID", "phone-env")
	t.Setenv("TRACKD_UPLOAD_URL", "https://env.example.com")
	t.Setenv("TRACKD_INTERVAL_MINUTES", "3")
	t.Setenv("TRACKD_MQTT_BROKER", "")

	cfg, err := Load("testdata/trackd.yaml")
	require.NoError(t, err)
	assert.Equal(t, "phone-env", cfg.DeviceID)
	assert.Equal(t, "https://env.example.com", cfg.Upload.BaseURL)
	assert.Equal(t, 3, cfg.Capture.IntervalMinutes)
	assert.True(t, cfg.MQTT.Enabled(), "empty env value does not clear")
}

func TestLoad_EnvOnly(t *testing.T) {
	t.Setenv("TRACKD_DEVICE_ID", "phone-env")
	t.Setenv("TRACKD_UPLOAD_URL", "https://env.example.com")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "trackd.db", cfg.Database)
	assert.False(t, cfg.MQTT.Enabled())
	assert.Equal(t, 5, cfg.Capture.IntervalMinutes)
}

func TestLoad_BadIntervalEnv(t *testing.T) {
	t.Setenv("TRACKD_INTERVAL_MINUTES", "often")
	_, err := Load("testdata/trackd.yaml")
	assert.ErrorContains(t, err, "TRACKD_INTERVAL_MINUTES")
}

func TestLoad_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := Load(filepath.Join(dir, "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("capture:\n  max_fix_age: soon\n"), 0o644))
	_, err = Load(bad)
	assert.ErrorContains(t, err, "invalid duration")
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.DeviceID = "phone-me"
	cfg.Upload.BaseURL = "https://ingest.example.com"
	require.NoError(t, Validate(cfg))

	cfg.DeviceID = ""
	cfg.Upload.BaseURL = "not a url"
	cfg.Capture.IntervalMinutes = 0
	cfg.Capture.Provider = "gps"
	cfg.Upload.BackoffCap = Duration(time.Second)
	cfg.API.Listen = "nope"

	err := Validate(cfg)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.ElementsMatch(t, []string{
		"Config.DeviceID (required)",
		"Config.Capture.Provider (oneof)",
		"Config.Capture.IntervalMinutes (min)",
		"Config.Upload.BaseURL (url)",
		"Config.Upload.BackoffCap (gtefield)",
		"Config.API.Listen (hostname_port)",
	}, verr.Fields)
}
