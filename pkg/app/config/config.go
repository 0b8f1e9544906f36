package config

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/womat/debug"
	"gopkg.in/yaml.v2"
)

// Backends selectable with the backend option.
const (
	BackendCharDev = "chardev"
	BackendSysFs   = "sysfs"
	BackendMemMap  = "memmap"
)

// Config holds the process configuration. Values come from NewConfig
// defaults, are overridden by an optional YAML file and finally by
// command line flags (see LoadConfig).
type Config struct {
	// Backend selects the GPIO transport (chardev|sysfs|memmap).
	Backend string `yaml:"backend"`
	// Chip is the gpiochip of the chardev backend (e.g. gpiochip0).
	Chip string `yaml:"chip"`
	// Line identifies the line: chip offset (chardev), kernel export
	// number (sysfs) or BCM pin number (memmap).
	Line int `yaml:"line"`
	// ShmKey is the System V shared memory key of the timestamp slot.
	ShmKey int `yaml:"shmkey"`
	// Frequency is the oscillator base frequency in Hz.
	Frequency int `yaml:"frequency"`
	// Coupling is the Kuramoto coupling constant.
	Coupling float64 `yaml:"coupling"`

	Flag      FlagConfig      `yaml:"-"`
	Log       LogConfig       `yaml:"log"`
	Realtime  RealtimeConfig  `yaml:"realtime"`
	Webserver WebserverConfig `yaml:"webserver"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
}

// FlagConfig holds the values of the command line flags.
type FlagConfig struct {
	ConfigFile string
	LogLevel   string
	Backend    string
	Chip       string
	Line       int
	ShmKey     int
	Frequency  int
	Coupling   float64
}

// LogConfig defines where and how much the process logs.
type LogConfig struct {
	File       io.WriteCloser `yaml:"-"`
	Flag       int            `yaml:"-"`
	FlagString string         `yaml:"flag"`
	FileString string         `yaml:"file"`
}

// RealtimeConfig defines the one-shot real-time tuning applied at startup.
type RealtimeConfig struct {
	// LockMemory locks the process pages into RAM and pre-faults the
	// stack and heap reserves.
	LockMemory bool `yaml:"lockmemory"`
	// Priority, when above 0, switches the process to SCHED_FIFO at
	// that priority.
	Priority int `yaml:"priority"`
}

// WebserverConfig defines the diagnostic web service. An empty URL
// disables it.
type WebserverConfig struct {
	URL         string          `yaml:"url"`
	Webservices map[string]bool `yaml:"webservices"`
}

// MQTTConfig defines the diagnostic status publisher. An empty connection
// disables it.
type MQTTConfig struct {
	Connection  string        `yaml:"connection"`
	Topic       string        `yaml:"topic"`
	Interval    time.Duration `yaml:"-"`
	IntervalInt int           `yaml:"interval"`
}

// NewConfig returns a Config with the default values.
func NewConfig() *Config {
	return &Config{
		Backend:   BackendCharDev,
		Chip:      "gpiochip0",
		Frequency: 100,
		Coupling:  0.5,
		Flag:      FlagConfig{},
		Log: LogConfig{
			FileString: "stderr",
			FlagString: "standard",
		},
		Realtime: RealtimeConfig{
			LockMemory: true,
		},
		Webserver: WebserverConfig{
			Webservices: map[string]bool{
				"version": true,
				"health":  true,
				"sync":    true,
			},
		},
		MQTT: MQTTConfig{
			IntervalInt: 5,
		},
	}
}

// LoadConfig merges the optional config file and the command line flags
// into the Config and validates the result.
func (c *Config) LoadConfig() error {
	if c.Flag.ConfigFile != "" {
		if err := c.readConfigFile(); err != nil {
			return fmt.Errorf("error reading config file %q: %w", c.Flag.ConfigFile, err)
		}
	}

	c.applyFlags()

	if err := c.setLogConfig(); err != nil {
		return fmt.Errorf("unable to open log file %q: %w", c.Log.FileString, err)
	}

	c.MQTT.Interval = time.Duration(c.MQTT.IntervalInt) * time.Second

	return c.validate()
}

// applyFlags lets set command line flags win over file values.
func (c *Config) applyFlags() {
	if c.Flag.LogLevel != "" {
		c.Log.FlagString = c.Flag.LogLevel
	}
	if c.Flag.Backend != "" {
		c.Backend = c.Flag.Backend
	}
	if c.Flag.Chip != "" {
		c.Chip = c.Flag.Chip
	}
	if c.Flag.Line != 0 {
		c.Line = c.Flag.Line
	}
	if c.Flag.ShmKey != 0 {
		c.ShmKey = c.Flag.ShmKey
	}
	if c.Flag.Frequency != 0 {
		c.Frequency = c.Flag.Frequency
	}
	if c.Flag.Coupling != 0 {
		c.Coupling = c.Flag.Coupling
	}
}

func (c *Config) validate() error {
	switch c.Backend {
	case BackendCharDev, BackendSysFs, BackendMemMap:
	default:
		return fmt.Errorf("unknown gpio backend %q", c.Backend)
	}
	if c.ShmKey <= 0 {
		return fmt.Errorf("shared memory key must be a positive integer")
	}
	if c.Frequency <= 0 {
		return fmt.Errorf("frequency must be a positive integer")
	}
	if c.Coupling <= 0 {
		return fmt.Errorf("coupling constant must be a positive floating point")
	}
	return nil
}

func (c *Config) readConfigFile() error {
	file, err := os.Open(c.Flag.ConfigFile)
	if err != nil {
		return err
	}
	defer func() { _ = file.Close() }()

	return yaml.NewDecoder(file).Decode(c)
}

func (c *Config) setLogConfig() (err error) {
	switch c.Log.FlagString {
	case "trace", "full":
		c.Log.Flag = debug.Full
	case "debug":
		c.Log.Flag = debug.Warning | debug.Info | debug.Error | debug.Fatal | debug.Debug
	default:
		c.Log.Flag = debug.Standard
	}

	switch c.Log.FileString {
	case "stderr":
		c.Log.File = os.Stderr
	case "stdout":
		c.Log.File = os.Stdout
	default:
		if c.Log.File, err = os.OpenFile(c.Log.FileString, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o666); err != nil {
			return
		}
	}

	return
}
