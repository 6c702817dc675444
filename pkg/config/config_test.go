package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/bleserial/pkg/serial"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.NotNil(t, cfg)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 10*time.Second, cfg.ScanTimeout)
	assert.Equal(t, 30*time.Second, cfg.ConnectTimeout)
	assert.Equal(t, 20, cfg.WriteChunkSize)
	assert.Equal(t, 10*time.Millisecond, cfg.WriteInterval)
	assert.Equal(t, 4096, cfg.StreamBuffer)
	assert.Empty(t, cfg.Profiles)
	assert.NoError(t, cfg.Validate())
}

func TestConfig_NewLogger(t *testing.T) {
	tests := []struct {
		name     string
		logLevel string
		want     logrus.Level
	}{
		{name: "creates logger with debug level", logLevel: "debug", want: logrus.DebugLevel},
		{name: "creates logger with info level", logLevel: "info", want: logrus.InfoLevel},
		{name: "creates logger with warn level", logLevel: "warn", want: logrus.WarnLevel},
		{name: "falls back to info on garbage", logLevel: "loud", want: logrus.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{LogLevel: tt.logLevel}

			logger := cfg.NewLogger()

			assert.NotNil(t, logger)
			assert.Equal(t, tt.want, logger.GetLevel())

			// Verify formatter is set correctly
			formatter, ok := logger.Formatter.(*logrus.TextFormatter)
			assert.True(t, ok)
			assert.True(t, formatter.FullTimestamp)
			assert.Equal(t, time.RFC3339, formatter.TimestampFormat)
		})
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_OverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
log_level: debug
connect_timeout: 5s
write_interval: 0s
profiles:
  - name: custom
    service: "0000fff0-0000-1000-8000-00805f9b34fb"
    tx: fff2
    rx: fff1
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 5*time.Second, cfg.ConnectTimeout)
	assert.Equal(t, time.Duration(0), cfg.WriteInterval)
	assert.Equal(t, 10*time.Second, cfg.ScanTimeout, "unset fields MUST keep defaults")
	require.Len(t, cfg.Profiles, 1)
	assert.Equal(t, "fff2", cfg.Profiles[0].TX)
}

func TestLoad_Errors(t *testing.T) {
	t.Run("missing explicit file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "read config")
	})

	t.Run("malformed yaml", func(t *testing.T) {
		_, err := Load(writeConfig(t, "log_level: [unterminated"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "parse config")
	})

	t.Run("invalid value", func(t *testing.T) {
		_, err := Load(writeConfig(t, "write_chunk_size: 0\n"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "write_chunk_size")
	})

	t.Run("invalid profile", func(t *testing.T) {
		_, err := Load(writeConfig(t, "profiles:\n  - name: broken\n    service: ffe0\n"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "profiles[0]")
	})
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("BLESERIAL_LOG_LEVEL", "trace")
	t.Setenv("BLESERIAL_CONNECT_TIMEOUT", "2s")

	cfg := DefaultConfig()
	require.NoError(t, ApplyEnvOverrides(cfg))
	assert.Equal(t, "trace", cfg.LogLevel)
	assert.Equal(t, 2*time.Second, cfg.ConnectTimeout)

	t.Setenv("BLESERIAL_SCAN_TIMEOUT", "soon")
	assert.Error(t, ApplyEnvOverrides(cfg))
}

func TestConfig_ScannerOptions(t *testing.T) {
	cfg := DefaultConfig()
	logger := logrus.New()

	opts := cfg.ScannerOptions(logger)
	assert.Equal(t, serial.DefaultProfiles(), opts.Profiles)
	assert.Equal(t, cfg.ConnectTimeout, opts.ConnectTimeout)
	assert.Equal(t, cfg.WriteChunkSize, opts.WriteChunkSize)
	assert.Same(t, logger, opts.Logger)

	cfg.Profiles = []serial.Profile{serial.HM10}
	assert.Equal(t, []serial.Profile{serial.HM10}, cfg.ScannerOptions(logger).Profiles)
}
