package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all configuration for the practice agent.
type Config struct {
	// Practice backend
	BackendURL string `envconfig:"BACKEND_URL" default:"http://localhost:8000"`
	APIKey     string `envconfig:"PRACTICE_API_KEY" default:""`

	// Session context sent to the start operation
	Role  string `envconfig:"PRACTICE_ROLE" default:"node-react"`
	Level string `envconfig:"PRACTICE_LEVEL" default:"mid"` // junior, mid, senior
	Mode  string `envconfig:"PRACTICE_MODE" default:"technical"`

	// Capture
	SampleRate       int     `envconfig:"SAMPLE_RATE" default:"44100"`
	VADThresholdDB   float64 `envconfig:"VAD_THRESHOLD_DB" default:"-45"` // loudness below this counts as silence
	VADSilenceMS     int     `envconfig:"VAD_SILENCE_MS" default:"1200"`  // sustained silence before auto-stop
	VADGraceMS       int     `envconfig:"VAD_GRACE_MS" default:"250"`     // leading window where silence never counts
	VADDisabled      bool    `envconfig:"VAD_DISABLED" default:"false"`
	MaxRecordSeconds int     `envconfig:"MAX_RECORD_SECONDS" default:"60"`

	// Synthesis
	Voice        string `envconfig:"TTS_VOICE" default:"F1"`
	TTSStreamURL string `envconfig:"TTS_STREAM_URL" default:""` // wss endpoint; empty means HTTP synthesis

	// Observability
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	LogPretty   bool   `envconfig:"LOG_PRETTY" default:"true"`
	MetricsAddr string `envconfig:"METRICS_ADDR" default:""` // e.g. :9100; empty disables the endpoint
}

// Load reads configuration from the environment, with an optional .env file.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if cfg.SampleRate <= 0 {
		return nil, fmt.Errorf("SAMPLE_RATE must be positive")
	}
	if cfg.MaxRecordSeconds <= 0 {
		return nil, fmt.Errorf("MAX_RECORD_SECONDS must be positive")
	}

	return &cfg, nil
}

// SilenceDuration returns the sustained-silence window as a duration.
func (c *Config) SilenceDuration() time.Duration {
	return time.Duration(c.VADSilenceMS) * time.Millisecond
}

// GraceDuration returns the leading grace window as a duration.
func (c *Config) GraceDuration() time.Duration {
	return time.Duration(c.VADGraceMS) * time.Millisecond
}

// MaxRecordDuration returns the hard recording limit as a duration.
func (c *Config) MaxRecordDuration() time.Duration {
	return time.Duration(c.MaxRecordSeconds) * time.Second
}
