// Package config loads the service configuration from YAML.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/phiasco12/liveocr/modules/stabilitygate"
)

// Config represents the complete service configuration
type Config struct {
	InstanceID       string               `yaml:"instance_id" validate:"required,instance_id"`
	LogLevel         string               `yaml:"log_level" validate:"oneof=debug info warn error"`
	ShutdownTimeoutS int                  `yaml:"shutdown_timeout_s" validate:"gte=0"` // Graceful shutdown timeout in seconds (default: 5)
	Engine           stabilitygate.Config `yaml:"engine" validate:"-"`                 // validated by stabilitygate
	Session          SessionConfig        `yaml:"session"`
	Source           SourceConfig         `yaml:"source"`
	MQTT             MQTTConfig           `yaml:"mqtt"`
	Metrics          MetricsConfig        `yaml:"metrics"`
}

// SessionConfig contains capture session settings
type SessionConfig struct {
	TimeoutMS  uint64  `yaml:"timeout_ms"`                   // 0 = no timeout
	ProgressHz float64 `yaml:"progress_hz" validate:"gte=0"` // progress events per second (default 2)
}

// SourceConfig selects and configures the observation source
type SourceConfig struct {
	Kind       string            `yaml:"kind" validate:"oneof=rtsp replay"`
	RTSP       RTSPConfig        `yaml:"rtsp"`
	Replay     ReplayConfig      `yaml:"replay"`
	Recognizer *RecognizerConfig `yaml:"recognizer,omitempty"`
}

// RTSPConfig contains camera settings
type RTSPConfig struct {
	URL                  string  `yaml:"url"`
	Resolution           string  `yaml:"resolution" validate:"oneof=480p 512p 720p 1080p"`
	FPS                  float64 `yaml:"fps" validate:"gte=0.1,lte=30"`
	Acceleration         string  `yaml:"acceleration" validate:"oneof=auto vaapi software"`
	MaxReconnectAttempts int     `yaml:"max_reconnect_attempts" validate:"gte=0"`
}

// ReplayConfig contains replay file settings
type ReplayConfig struct {
	Path       string `yaml:"path"`
	Pacing     string `yaml:"pacing" validate:"oneof=recorded interval none"`
	IntervalMS uint64 `yaml:"interval_ms"`
	Loop       bool   `yaml:"loop"`
}

// RecognizerConfig describes the external text recognition worker
type RecognizerConfig struct {
	Command   string   `yaml:"command" validate:"required"`
	Args      []string `yaml:"args"`
	TimeoutMS uint64   `yaml:"timeout_ms" validate:"gte=0"`
}

// MQTTConfig contains MQTT broker settings. An empty Broker disables MQTT.
type MQTTConfig struct {
	Broker   string     `yaml:"broker"`
	ClientID string     `yaml:"client_id"`
	Topics   MQTTTopics `yaml:"topics"`
	QoS      byte       `yaml:"qos" validate:"lte=2"`
}

// MQTTTopics contains topic prefixes
type MQTTTopics struct {
	Results string `yaml:"results"`
	Control string `yaml:"control"`
	Events  string `yaml:"events"`
}

// MetricsConfig contains the Prometheus endpoint. Empty Listen disables it.
type MetricsConfig struct {
	Listen string `yaml:"listen"`
}

// Default returns the zero configuration with defaults applied. It still
// needs a source (rtsp.url or replay.path) to validate.
func Default() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()
	return cfg
}

// ErrInvalid wraps every parse or validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Load reads, defaults and validates a YAML configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML bytes, applies defaults and validates.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: parse: %w", ErrInvalid, err)
	}

	cfg.ApplyDefaults()

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return &cfg, nil
}

// ApplyDefaults fills zero-valued fields.
func (c *Config) ApplyDefaults() {
	if c.InstanceID == "" {
		c.InstanceID = "liveocr"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.ShutdownTimeoutS == 0 {
		c.ShutdownTimeoutS = 5
	}

	if c.Engine.Strategy == "" && c.Engine.Mode == "" {
		c.Engine = stabilitygate.DefaultConfig()
	} else {
		c.Engine = c.Engine.WithDefaults()
	}

	if c.Session.ProgressHz == 0 {
		c.Session.ProgressHz = 2
	}

	if c.Source.Kind == "" {
		c.Source.Kind = "rtsp"
	}
	if c.Source.RTSP.Resolution == "" {
		c.Source.RTSP.Resolution = "720p"
	}
	if c.Source.RTSP.FPS == 0 {
		c.Source.RTSP.FPS = 5
	}
	if c.Source.RTSP.Acceleration == "" {
		c.Source.RTSP.Acceleration = "auto"
	}
	if c.Source.Replay.Pacing == "" {
		c.Source.Replay.Pacing = "recorded"
	}
	if r := c.Source.Recognizer; r != nil && r.TimeoutMS == 0 {
		r.TimeoutMS = 5000
	}

	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = c.InstanceID
	}
	if c.MQTT.Topics.Results == "" {
		c.MQTT.Topics.Results = fmt.Sprintf("liveocr/results/%s", c.InstanceID)
	}
	if c.MQTT.Topics.Control == "" {
		c.MQTT.Topics.Control = fmt.Sprintf("liveocr/control/%s", c.InstanceID)
	}
	if c.MQTT.Topics.Events == "" {
		c.MQTT.Topics.Events = fmt.Sprintf("liveocr/events/%s", c.InstanceID)
	}
}

// SessionTimeout returns Session.TimeoutMS as a duration (0 = none).
func (c *Config) SessionTimeout() time.Duration {
	return time.Duration(c.Session.TimeoutMS) * time.Millisecond
}

// ShutdownTimeout returns ShutdownTimeoutS as a duration.
func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutS) * time.Second
}

// SlogLevel maps LogLevel to a slog.Level.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Timeout returns the recognizer request timeout.
func (r *RecognizerConfig) Timeout() time.Duration {
	return time.Duration(r.TimeoutMS) * time.Millisecond
}

// Interval returns the replay interval.
func (r ReplayConfig) Interval() time.Duration {
	return time.Duration(r.IntervalMS) * time.Millisecond
}
