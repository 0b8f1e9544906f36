package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/womat/debug"
)

func TestNewConfigDefaults(t *testing.T) {
	cfg := NewConfig()

	assert.Equal(t, BackendCharDev, cfg.Backend)
	assert.Equal(t, "gpiochip0", cfg.Chip)
	assert.Equal(t, 100, cfg.Frequency)
	assert.Equal(t, 0.5, cfg.Coupling)
	assert.Equal(t, "stderr", cfg.Log.FileString)
	assert.Equal(t, "standard", cfg.Log.FlagString)
	assert.True(t, cfg.Realtime.LockMemory)
	assert.Equal(t, 5, cfg.MQTT.IntervalInt)
	assert.True(t, cfg.Webserver.Webservices["version"])
	assert.True(t, cfg.Webserver.Webservices["health"])
	assert.True(t, cfg.Webserver.Webservices["sync"])
}

func TestLoadConfigAppliesFlags(t *testing.T) {
	cfg := NewConfig()
	cfg.Flag.Backend = BackendSysFs
	cfg.Flag.Line = 27
	cfg.Flag.ShmKey = 52
	cfg.Flag.Frequency = 250
	cfg.Flag.Coupling = 1.5
	cfg.Flag.LogLevel = "debug"

	require.NoError(t, cfg.LoadConfig())

	assert.Equal(t, BackendSysFs, cfg.Backend)
	assert.Equal(t, 27, cfg.Line)
	assert.Equal(t, 52, cfg.ShmKey)
	assert.Equal(t, 250, cfg.Frequency)
	assert.Equal(t, 1.5, cfg.Coupling)
	assert.Equal(t, 5*time.Second, cfg.MQTT.Interval)
	assert.Equal(t, debug.Warning|debug.Info|debug.Error|debug.Fatal|debug.Debug, cfg.Log.Flag)
}

func TestLoadConfigReadsFileAndFlagsWin(t *testing.T) {
	file := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(file, []byte(`
backend: memmap
chip: gpiochip2
line: 17
shmkey: 52
frequency: 50
coupling: 0.8
realtime:
  lockmemory: false
  priority: 40
webserver:
  url: http://0.0.0.0:4000
mqtt:
  connection: tcp://broker:1883
  topic: gsync/status
  interval: 10
`), 0o644))

	cfg := NewConfig()
	cfg.Flag.ConfigFile = file
	cfg.Flag.Line = 27 // flags win over the file

	require.NoError(t, cfg.LoadConfig())

	assert.Equal(t, BackendMemMap, cfg.Backend)
	assert.Equal(t, "gpiochip2", cfg.Chip)
	assert.Equal(t, 27, cfg.Line)
	assert.Equal(t, 52, cfg.ShmKey)
	assert.Equal(t, 50, cfg.Frequency)
	assert.Equal(t, 0.8, cfg.Coupling)
	assert.False(t, cfg.Realtime.LockMemory)
	assert.Equal(t, 40, cfg.Realtime.Priority)
	assert.Equal(t, "http://0.0.0.0:4000", cfg.Webserver.URL)
	assert.Equal(t, "tcp://broker:1883", cfg.MQTT.Connection)
	assert.Equal(t, "gsync/status", cfg.MQTT.Topic)
	assert.Equal(t, 10*time.Second, cfg.MQTT.Interval)
}

func TestLoadConfigMissingFile(t *testing.T) {
	cfg := NewConfig()
	cfg.Flag.ConfigFile = filepath.Join(t.TempDir(), "no-such-file.yaml")

	assert.Error(t, cfg.LoadConfig())
}

func TestLoadConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			"unknown backend",
			func(c *Config) { c.Flag.Backend = "i2c" },
			"backend",
		},
		{
			"missing shared memory key",
			func(c *Config) {},
			"shared memory key",
		},
		{
			"negative frequency",
			func(c *Config) { c.Frequency = -1 },
			"frequency",
		},
		{
			"negative coupling",
			func(c *Config) { c.Coupling = -0.5 },
			"coupling",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig()
			cfg.Flag.ShmKey = 52
			if tt.name == "missing shared memory key" {
				cfg.Flag.ShmKey = 0
			}
			tt.mutate(cfg)

			err := cfg.LoadConfig()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestSetLogConfigLevels(t *testing.T) {
	tests := []struct {
		level string
		want  int
	}{
		{"trace", debug.Full},
		{"full", debug.Full},
		{"debug", debug.Warning | debug.Info | debug.Error | debug.Fatal | debug.Debug},
		{"info", debug.Standard},
		{"", debug.Standard},
	}

	for _, tt := range tests {
		cfg := NewConfig()
		cfg.Flag.ShmKey = 52
		cfg.Flag.LogLevel = tt.level

		require.NoError(t, cfg.LoadConfig(), "level %q", tt.level)
		assert.Equal(t, tt.want, cfg.Log.Flag, "level %q", tt.level)
	}
}
