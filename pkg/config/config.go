package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"github.com/srg/igrill/internal/connection"
	"github.com/srg/igrill/internal/device"
	"github.com/srg/igrill/internal/igrill"
	"github.com/srg/igrill/internal/poller"
	"gopkg.in/yaml.v3"
)

// Supported transports.
const (
	TransportGoBLE  = "go-ble"
	TransportTinyGo = "tinygo"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// DeviceConfig is one statically configured thermometer.
type DeviceConfig struct {
	Address string `yaml:"address" json:"address"`
	Model   string `yaml:"model" json:"model"`
	// Mode overrides the global poll mode for this device.
	Mode string `yaml:"mode,omitempty" json:"mode,omitempty"`
}

// Config holds application configuration
type Config struct {
	LogLevel         string         `yaml:"log_level" json:"log_level" default:"info"`
	Transport        string         `yaml:"transport" json:"transport" default:"go-ble"`
	Mode             string         `yaml:"mode" json:"mode" default:"notify"`
	PollInterval     time.Duration  `yaml:"poll_interval" json:"poll_interval" default:"10s"`
	OperationTimeout time.Duration  `yaml:"operation_timeout" json:"operation_timeout" default:"30s"`
	ConnectTimeout   time.Duration  `yaml:"connect_timeout" json:"connect_timeout" default:"15s"`
	ConnectRetries   int            `yaml:"connect_retries" json:"connect_retries" default:"3"`
	ConnectBackoff   time.Duration  `yaml:"connect_backoff" json:"connect_backoff" default:"1s"`
	ServiceCache     bool           `yaml:"service_cache" json:"service_cache" default:"true"`
	HistoryPath      string         `yaml:"history_path" json:"history_path"`
	Devices          []DeviceConfig `yaml:"devices" json:"devices"`
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	return cfg
}

// DefaultPath returns ~/.config/igrill/config.yaml.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".config", "igrill", "config.yaml")
	}
	return filepath.Join(home, ".config", "igrill", "config.yaml")
}

// Load reads the YAML file at path over the defaults and validates the
// result. An empty path means DefaultPath, which may be absent.
func Load(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		path = DefaultPath()
	}

	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Validate rejects unknown models, modes and transports, duplicate device
// addresses and non-positive timeouts.
func (c *Config) Validate() error {
	var errs []error

	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log_level: %w", err))
	}
	switch c.Transport {
	case TransportGoBLE, TransportTinyGo:
	default:
		errs = append(errs, fmt.Errorf("transport: unknown transport %q", c.Transport))
	}
	if _, err := poller.ParseMode(c.Mode); err != nil {
		errs = append(errs, fmt.Errorf("mode: %w", err))
	}

	for name, d := range map[string]time.Duration{
		"poll_interval":     c.PollInterval,
		"operation_timeout": c.OperationTimeout,
		"connect_timeout":   c.ConnectTimeout,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", name, d))
		}
	}
	if c.ConnectRetries < 0 {
		errs = append(errs, fmt.Errorf("connect_retries must not be negative, got %d", c.ConnectRetries))
	}

	seen := make(map[string]bool, len(c.Devices))
	for i, d := range c.Devices {
		addr := strings.ToUpper(strings.TrimSpace(d.Address))
		if addr == "" {
			errs = append(errs, fmt.Errorf("devices[%d]: address is required", i))
		} else if seen[addr] {
			errs = append(errs, fmt.Errorf("devices[%d]: duplicate address %s", i, d.Address))
		}
		seen[addr] = true

		if _, err := igrill.ProfileFor(d.Model); err != nil {
			errs = append(errs, fmt.Errorf("devices[%d]: %w", i, err))
		}
		if _, err := poller.ParseMode(d.Mode); err != nil {
			errs = append(errs, fmt.Errorf("devices[%d]: %w", i, err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return nil
}

// Level returns the parsed log level, InfoLevel if unparsable.
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

// ConnectOptions returns the transport options described by c.
func (c *Config) ConnectOptions() *device.ConnectOptions {
	opts := device.DefaultConnectOptions()
	opts.ConnectTimeout = c.ConnectTimeout
	opts.Retries = c.ConnectRetries
	opts.RetryBackoff = c.ConnectBackoff
	opts.UseServiceCache = c.ServiceCache
	return opts
}

// ConnectionOptions returns the connection manager options described by c.
func (c *Config) ConnectionOptions() *connection.Options {
	return &connection.Options{
		Connect:          c.ConnectOptions(),
		OperationTimeout: c.OperationTimeout,
	}
}

// PollerOptions returns the coordinator options for d, applying its mode
// override.
func (c *Config) PollerOptions(d DeviceConfig) *poller.Options {
	modeName := c.Mode
	if d.Mode != "" {
		modeName = d.Mode
	}
	mode, _ := poller.ParseMode(modeName)
	return &poller.Options{
		Mode:             mode,
		Interval:         c.PollInterval,
		OperationTimeout: c.OperationTimeout,
	}
}
