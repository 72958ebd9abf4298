// Package config loads the trackd configuration: a YAML file, then
// TRACKD_* environment overrides, then validation.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/hanibalsk/trackd/internal/broker"
	"github.com/hanibalsk/trackd/internal/logging"
)

// Duration is a time.Duration written as a Go duration string ("30s").
type Duration time.Duration

// UnmarshalYAML accepts a duration string.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML writes the duration string.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// D returns the value as a time.Duration.
func (d Duration) D() time.Duration { return time.Duration(d) }

// Config is the full agent configuration.
type Config struct {
	DeviceID string         `yaml:"device_id" validate:"required"`
	Database string         `yaml:"database" validate:"required"`
	Log      logging.Config `yaml:"log"`
	Capture  Capture        `yaml:"capture"`
	Upload   Upload         `yaml:"upload"`
	Watchdog Watchdog       `yaml:"watchdog"`
	Alerts   Alerts         `yaml:"alerts"`
	MQTT     MQTT           `yaml:"mqtt"`
	API      API            `yaml:"api"`
}

// Capture configures the location source and cadence.
type Capture struct {
	// Provider is "file" (JSON fix written by a GPS bridge) or "static".
	Provider        string   `yaml:"provider" validate:"oneof=file static"`
	FixPath         string   `yaml:"fix_path" validate:"required_if=Provider file"`
	MaxFixAge       Duration `yaml:"max_fix_age"`
	IntervalMinutes int      `yaml:"interval_minutes" validate:"min=1,max=1440"`
	Latitude        float64  `yaml:"latitude" validate:"min=-90,max=90"`
	Longitude       float64  `yaml:"longitude" validate:"min=-180,max=180"`
	ErrorThreshold  int      `yaml:"error_threshold" validate:"min=1"`
}

// Upload configures the ingestion client and queue policy.
type Upload struct {
	BaseURL        string   `yaml:"base_url" validate:"required,url"`
	APIKey         string   `yaml:"api_key"`
	Timeout        Duration `yaml:"timeout"`
	BatchSize      int      `yaml:"batch_size" validate:"min=1,max=500"`
	MaxRetries     int      `yaml:"max_retries" validate:"min=1"`
	BackoffBase    Duration `yaml:"backoff_base"`
	BackoffCap     Duration `yaml:"backoff_cap" validate:"gtefield=BackoffBase"`
	BackoffFactor  float64  `yaml:"backoff_factor" validate:"gte=1"`
	BatchesPerMin  int      `yaml:"batches_per_minute" validate:"min=0"`
	InterruptGrace Duration `yaml:"interrupt_grace"`
	Retention      Duration `yaml:"retention"`
	HealthPath     string   `yaml:"health_path"`
}

// Watchdog configures the stale-pipeline check.
type Watchdog struct {
	Enabled   bool     `yaml:"enabled"`
	Period    Duration `yaml:"period"`
	Threshold Duration `yaml:"threshold"`
}

// Alerts points at the CUE alert definitions.
type Alerts struct {
	File     string `yaml:"file"`
	Language string `yaml:"language" validate:"omitempty,bcp47_language_tag"`
}

// MQTT configures the broker used for peer locations and alert fan-out.
// An empty broker disables both.
type MQTT struct {
	broker.Config `yaml:",inline"`
	PeerTopic     string            `yaml:"peer_topic"`
	AlertTopic    string            `yaml:"alert_topic"`
	PeerMaxAge    Duration          `yaml:"peer_max_age"`
	PeerNames     map[string]string `yaml:"peer_names"`
}

// Enabled reports whether a broker is configured.
func (m MQTT) Enabled() bool { return m.Broker != "" }

// API configures the local control server.
type API struct {
	Listen string `yaml:"listen" validate:"omitempty,hostname_port"`
}

// Default returns a configuration with every optional value filled in.
func Default() Config {
	return Config{
		Database: "trackd.db",
		Log:      logging.Config{Level: "info", Format: "json", Service: "trackd"},
		Capture: Capture{
			Provider:        "file",
			FixPath:         "/run/trackd/fix.json",
			MaxFixAge:       Duration(10 * time.Minute),
			IntervalMinutes: 5,
			ErrorThreshold:  5,
		},
		Upload: Upload{
			Timeout:        Duration(30 * time.Second),
			BatchSize:      50,
			MaxRetries:     5,
			BackoffBase:    Duration(30 * time.Second),
			BackoffCap:     Duration(30 * time.Minute),
			BackoffFactor:  2,
			BatchesPerMin:  30,
			InterruptGrace: Duration(5 * time.Minute),
			Retention:      Duration(7 * 24 * time.Hour),
		},
		Watchdog: Watchdog{
			Enabled:   true,
			Period:    Duration(15 * time.Minute),
			Threshold: Duration(30 * time.Minute),
		},
		Alerts: Alerts{Language: "en"},
		MQTT: MQTT{
			Config:     broker.Config{ClientID: "trackd", Timeout: 10 * time.Second},
			PeerTopic:  "trackd/peers/+/location",
			AlertTopic: "trackd/alerts",
			PeerMaxAge: Duration(time.Hour),
		},
		API: API{Listen: "127.0.0.1:8787"},
	}
}

// Load reads path (if non-empty) over the defaults, applies environment
// overrides and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// ValidationError lists every invalid field.
type ValidationError struct {
	Fields []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid config: %v", e.Fields)
}

// Validate checks cfg against its field constraints.
func Validate(cfg Config) error {
	err := validate.Struct(cfg)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("validate config: %w", err)
	}
	out := &ValidationError{}
	for _, fe := range verrs {
		out.Fields = append(out.Fields, fmt.Sprintf("%s (%s)", fe.Namespace(), fe.Tag()))
	}
	return out
}

func getEnv(key, defaultValue string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return defaultValue
}

func applyEnv(cfg *Config) error {
	cfg.DeviceID = getEnv("TRACKD_DEVICE_ID", cfg.DeviceID)
	cfg.Database = getEnv("TRACKD_DATABASE", cfg.Database)
	cfg.Log.Level = getEnv("TRACKD_LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Format = getEnv("TRACKD_LOG_FORMAT", cfg.Log.Format)
	cfg.Capture.FixPath = getEnv("TRACKD_FIX_PATH", cfg.Capture.FixPath)
	cfg.Upload.BaseURL = getEnv("TRACKD_UPLOAD_URL", cfg.Upload.BaseURL)
	cfg.Upload.APIKey = getEnv("TRACKD_API_KEY", cfg.Upload.APIKey)
	cfg.Alerts.File = getEnv("TRACKD_ALERTS_FILE", cfg.Alerts.File)
	cfg.MQTT.Broker = getEnv("TRACKD_MQTT_BROKER", cfg.MQTT.Broker)
	cfg.MQTT.Username = getEnv("TRACKD_MQTT_USERNAME", cfg.MQTT.Username)
	cfg.MQTT.Password = getEnv("TRACKD_MQTT_PASSWORD", cfg.MQTT.Password)
	cfg.API.Listen = getEnv("TRACKD_API_LISTEN", cfg.API.Listen)

	if v := getEnv("TRACKD_INTERVAL_MINUTES", ""); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("TRACKD_INTERVAL_MINUTES: %w", err)
		}
		cfg.Capture.IntervalMinutes = n
	}
	return nil
}
