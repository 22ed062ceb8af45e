package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/vovakirdan/wirebus/internal/proto"
	"github.com/vovakirdan/wirebus/internal/wire"
)

// maxSocketPathLen is the usable length of sun_path on Linux.
const maxSocketPathLen = 107

// Config holds hub and client configuration values.
type Config struct {
	SocketPath       string        `mapstructure:"socket_path" yaml:"socket_path"`
	SocketMode       string        `mapstructure:"socket_mode" yaml:"socket_mode"`
	MaxPayloadSize   uint32        `mapstructure:"max_payload_size" yaml:"max_payload_size"`
	NameFieldSize    int           `mapstructure:"name_field_size" yaml:"name_field_size"`
	QueueCapacity    int           `mapstructure:"queue_capacity" yaml:"queue_capacity"`
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout" yaml:"handshake_timeout"`

	ReconnectDelay   time.Duration `mapstructure:"reconnect_delay" yaml:"reconnect_delay"`
	WaitPollInterval time.Duration `mapstructure:"wait_poll_interval" yaml:"wait_poll_interval"`

	AdminAddr         string        `mapstructure:"admin_addr" yaml:"admin_addr"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`

	LogLevel  string `mapstructure:"log_level" yaml:"log_level"`
	LogFormat string `mapstructure:"log_format" yaml:"log_format"`
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		SocketPath:        proto.DefaultSocketPath,
		SocketMode:        "0660",
		MaxPayloadSize:    proto.DefaultMaxPayloadSize,
		NameFieldSize:     proto.DefaultNameFieldSize,
		QueueCapacity:     10,
		ReconnectDelay:    time.Second,
		WaitPollInterval:  10 * time.Millisecond,
		AdminAddr:         "127.0.0.1:9470",
		ReadHeaderTimeout: 5 * time.Second,
		ShutdownTimeout:   5 * time.Second,
		LogLevel:          "info",
		LogFormat:         "console",
	}
}

// UpdateFrom overwrites non-zero values from other config into receiver.
func (c *Config) UpdateFrom(other Config) {
	if other.SocketPath != "" {
		c.SocketPath = other.SocketPath
	}
	if other.SocketMode != "" {
		c.SocketMode = other.SocketMode
	}
	if other.MaxPayloadSize != 0 {
		c.MaxPayloadSize = other.MaxPayloadSize
	}
	if other.NameFieldSize != 0 {
		c.NameFieldSize = other.NameFieldSize
	}
	if other.QueueCapacity != 0 {
		c.QueueCapacity = other.QueueCapacity
	}
	if other.HandshakeTimeout != 0 {
		c.HandshakeTimeout = other.HandshakeTimeout
	}
	if other.ReconnectDelay != 0 {
		c.ReconnectDelay = other.ReconnectDelay
	}
	if other.WaitPollInterval != 0 {
		c.WaitPollInterval = other.WaitPollInterval
	}
	if other.AdminAddr != "" {
		c.AdminAddr = other.AdminAddr
	}
	if other.ReadHeaderTimeout != 0 {
		c.ReadHeaderTimeout = other.ReadHeaderTimeout
	}
	if other.ShutdownTimeout != 0 {
		c.ShutdownTimeout = other.ShutdownTimeout
	}
	if other.LogLevel != "" {
		c.LogLevel = other.LogLevel
	}
	if other.LogFormat != "" {
		c.LogFormat = other.LogFormat
	}
}

// Validate reports every invalid field at once.
func (c Config) Validate() error {
	var errs []error

	switch {
	case c.SocketPath == "":
		errs = append(errs, errors.New("socket_path is required"))
	case len(c.SocketPath) > maxSocketPathLen:
		errs = append(errs, fmt.Errorf("socket_path is longer than %d bytes", maxSocketPathLen))
	}
	if _, err := c.FileMode(); err != nil {
		errs = append(errs, err)
	}
	if c.MaxPayloadSize == 0 {
		errs = append(errs, errors.New("max_payload_size must be positive"))
	}
	if c.NameFieldSize < 2 {
		errs = append(errs, errors.New("name_field_size must leave room for at least one character"))
	}
	if c.QueueCapacity < 1 {
		errs = append(errs, errors.New("queue_capacity must be at least 1"))
	}
	if c.HandshakeTimeout < 0 {
		errs = append(errs, errors.New("handshake_timeout must not be negative"))
	}
	if c.ReconnectDelay <= 0 {
		errs = append(errs, errors.New("reconnect_delay must be positive"))
	}
	if c.WaitPollInterval <= 0 {
		errs = append(errs, errors.New("wait_poll_interval must be positive"))
	}
	switch strings.ToLower(c.LogFormat) {
	case "", "console", "json":
	default:
		errs = append(errs, fmt.Errorf("unknown log_format %q", c.LogFormat))
	}

	return errors.Join(errs...)
}

// FileMode parses SocketMode as an octal permission string. Empty means no chmod.
func (c Config) FileMode() (os.FileMode, error) {
	if c.SocketMode == "" {
		return 0, nil
	}
	mode, err := strconv.ParseUint(c.SocketMode, 8, 32)
	if err != nil || mode > 0o777 {
		return 0, fmt.Errorf("socket_mode %q is not an octal permission", c.SocketMode)
	}
	return os.FileMode(mode), nil
}

// WireOptions returns the framing options shared by the hub and its clients.
func (c Config) WireOptions() wire.Options {
	return wire.Options{
		Path:           c.SocketPath,
		MaxPayloadSize: c.MaxPayloadSize,
		NameFieldSize:  c.NameFieldSize,
	}
}
