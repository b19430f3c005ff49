package config

import (
	"fmt"
	"time"

	"github.com/synapselabs/bridge/internal/creds"
	"github.com/synapselabs/bridge/internal/journal"
)

// Duration parses YAML scalars like "30s" or "2m" via time.ParseDuration.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var raw string
	if err := unmarshal(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server      ServerConfig           `yaml:"server"`
	Gateway     GatewayConfig          `yaml:"gateway"`
	Credentials CredentialsConfig      `yaml:"credentials"`
	Redis       creds.RedisConfig      `yaml:"redis"`
	Database    journal.PostgresConfig `yaml:"database"`
	Logging     LoggingConfig          `yaml:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// GatewayConfig holds supervision settings for the messaging gateway.
type GatewayConfig struct {
	Driver         string   `yaml:"driver"` // gateway driver, "sim" for the local simulator
	Endpoint       string   `yaml:"endpoint"`
	ConnectTimeout Duration `yaml:"connect_timeout"`
	InitTimeout    Duration `yaml:"init_timeout"`
	ProbeInterval  Duration `yaml:"probe_interval"`
	ProbeTimeout   Duration `yaml:"probe_timeout"`
	RestartDelay   Duration `yaml:"restart_delay"`
}

// CredentialsConfig selects where the gateway session is persisted.
type CredentialsConfig struct {
	Backend string `yaml:"backend"` // "file" or "redis"
	Path    string `yaml:"path"`    // file backend only
}
