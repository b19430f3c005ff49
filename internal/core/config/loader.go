package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// Load reads configuration from a YAML file.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg AppConfig
	// Expand environment variables in the YAML content
	expandedData := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

func applyDefaults(cfg *AppConfig) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Gateway.Driver == "" {
		cfg.Gateway.Driver = "sim"
	}
	if cfg.Gateway.ConnectTimeout == 0 {
		cfg.Gateway.ConnectTimeout = Duration(30 * time.Second)
	}
	if cfg.Gateway.InitTimeout == 0 {
		cfg.Gateway.InitTimeout = Duration(120 * time.Second)
	}
	if cfg.Gateway.ProbeInterval == 0 {
		cfg.Gateway.ProbeInterval = Duration(60 * time.Second)
	}
	if cfg.Gateway.ProbeTimeout == 0 {
		cfg.Gateway.ProbeTimeout = Duration(10 * time.Second)
	}
	if cfg.Gateway.RestartDelay == 0 {
		cfg.Gateway.RestartDelay = Duration(2 * time.Second)
	}
	if cfg.Credentials.Backend == "" {
		cfg.Credentials.Backend = "file"
	}
	if cfg.Credentials.Path == "" {
		cfg.Credentials.Path = "data/session.json"
	}
}
