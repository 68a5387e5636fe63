// Package config loads and validates pool configuration from YAML.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML values like "5s" decode directly.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// PoolConfig configures the connection pool.
type PoolConfig struct {
	// MaxSize bounds the number of physical sessions.
	MaxSize int `yaml:"max_size" validate:"min=1"`

	// CheckoutTimeout bounds how long a checkout waits at capacity.
	CheckoutTimeout Duration `yaml:"checkout_timeout"`

	// LazyBegin defers the physical BEGIN until the first statement.
	LazyBegin bool `yaml:"lazy_begin"`

	// OpTimeout bounds every driver round trip.
	OpTimeout Duration `yaml:"op_timeout"`
}

// DriverConfig selects and configures the physical backend.
type DriverConfig struct {
	// Kind is the backend: "postgres" or "memory".
	Kind string `yaml:"kind" validate:"oneof=postgres memory"`

	// DSN is the connection string, required for postgres.
	DSN string `yaml:"dsn" validate:"required_if=Kind postgres"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level string `yaml:"level" validate:"omitempty,oneof=debug info warn error DEBUG INFO WARN ERROR"`
}

// Config is the root configuration document.
type Config struct {
	Pool    PoolConfig    `yaml:"pool"`
	Driver  DriverConfig  `yaml:"driver"`
	Logging LoggingConfig `yaml:"logging"`
}

// Default returns a configuration with sensible defaults: a small pool
// over the in-memory backend.
func Default() Config {
	return Config{
		Pool: PoolConfig{
			MaxSize:         10,
			CheckoutTimeout: Duration(5 * time.Second),
			OpTimeout:       Duration(10 * time.Second),
		},
		Driver: DriverConfig{
			Kind: "memory",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Parse decodes a YAML document over the defaults and validates it.
func Parse(data []byte) (Config, error) {
	cfg := Default()

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// Load reads and parses a YAML config file.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}
