package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"github.com/srg/bleserial/pkg/serial"
	"gopkg.in/yaml.v3"
)

// Config holds application configuration
type Config struct {
	LogLevel       string        `yaml:"log_level" default:"info"`
	ScanTimeout    time.Duration `yaml:"scan_timeout" default:"10s"`
	ConnectTimeout time.Duration `yaml:"connect_timeout" default:"30s"`
	// WriteChunkSize is used when the MTU exchange fails.
	WriteChunkSize int           `yaml:"write_chunk_size" default:"20"`
	WriteInterval  time.Duration `yaml:"write_interval" default:"10ms"`
	StreamBuffer   int           `yaml:"stream_buffer" default:"4096"`
	// Profiles replaces the built-in serial profiles when non-empty.
	Profiles []serial.Profile `yaml:"profiles"`
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	return cfg
}

// DefaultPath returns the per-user config file location.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "bleserial", "config.yaml")
}

// Load reads a YAML config file over the defaults and applies env var
// overrides. A missing file at the default location is not an error; a
// missing explicitly named file is.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	explicit := path != ""
	if !explicit {
		path = DefaultPath()
	}

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		case errors.Is(err, os.ErrNotExist) && !explicit:
		default:
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if err := ApplyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnvOverrides maps BLESERIAL_* env vars to config fields.
func ApplyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("BLESERIAL_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("BLESERIAL_CONNECT_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("BLESERIAL_CONNECT_TIMEOUT: %w", err)
		}
		cfg.ConnectTimeout = d
	}
	if v := os.Getenv("BLESERIAL_SCAN_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("BLESERIAL_SCAN_TIMEOUT: %w", err)
		}
		cfg.ScanTimeout = d
	}
	return nil
}

// Validate checks field ranges and the configured profiles.
func (c *Config) Validate() error {
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid log_level: %w", err)
	}
	if c.ScanTimeout < 0 {
		return fmt.Errorf("scan_timeout must not be negative, got %s", c.ScanTimeout)
	}
	if c.ConnectTimeout <= 0 {
		return fmt.Errorf("connect_timeout must be positive, got %s", c.ConnectTimeout)
	}
	if c.WriteChunkSize < 1 || c.WriteChunkSize > 512 {
		return fmt.Errorf("write_chunk_size must be between 1 and 512, got %d", c.WriteChunkSize)
	}
	if c.WriteInterval < 0 {
		return fmt.Errorf("write_interval must not be negative, got %s", c.WriteInterval)
	}
	if c.StreamBuffer < 1 {
		return fmt.Errorf("stream_buffer must be positive, got %d", c.StreamBuffer)
	}
	for i, p := range c.Profiles {
		if _, err := p.Normalize(); err != nil {
			return fmt.Errorf("profiles[%d]: %w", i, err)
		}
	}
	return nil
}

// Level returns the parsed log level, falling back to info.
func (c *Config) Level() logrus.Level {
	lvl, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.InfoLevel
	}
	return lvl
}

// NewLogger creates a configured logger instance
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(c.Level())

	// Use structured logging format
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger
}

// ScannerOptions builds serial.Options from the configuration.
func (c *Config) ScannerOptions(logger *logrus.Logger) *serial.Options {
	profiles := c.Profiles
	if len(profiles) == 0 {
		profiles = serial.DefaultProfiles()
	}
	return &serial.Options{
		Profiles:       profiles,
		ConnectTimeout: c.ConnectTimeout,
		WriteChunkSize: c.WriteChunkSize,
		WriteInterval:  c.WriteInterval,
		Logger:         logger,
	}
}
