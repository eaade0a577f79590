package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Load reads the configuration file at path, decodes it by extension
// (TOML by default, YAML for .yaml/.yml), applies defaults and environment
// overrides, and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file %q: %w", path, err)
	}

	var cfg Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse configuration file %q: %w", path, err)
		}
	default:
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse configuration file %q: %w", path, err)
		}
	}

	ApplyDefaults(&cfg)
	applyEnvOverrides(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

// applyEnvOverrides applies environment variable overrides. Variables use
// the format VIXY_SECTION_FIELD and always take precedence over the file.
func applyEnvOverrides(cfg *Config) {
	if val := os.Getenv("VIXY_GLOBAL_LISTEN_ADDRESS"); val != "" {
		cfg.Global.ListenAddress = val
	}
	if val := os.Getenv("VIXY_GLOBAL_HEALTH_CHECK_INTERVAL_MS"); val != "" {
		if n, err := strconv.ParseInt(val, 10, 64); err == nil {
			cfg.Global.HealthCheckIntervalMs = n
		}
	}
	if val := os.Getenv("VIXY_GLOBAL_HEALTH_CHECK_TIMEOUT_MS"); val != "" {
		if n, err := strconv.ParseInt(val, 10, 64); err == nil {
			cfg.Global.HealthCheckTimeoutMs = n
		}
	}
	if val := os.Getenv("VIXY_GLOBAL_PROXY_TIMEOUT_MS"); val != "" {
		if n, err := strconv.ParseInt(val, 10, 64); err == nil {
			cfg.Global.ProxyTimeoutMs = n
		}
	}
	if val := os.Getenv("VIXY_LOG_LEVEL"); val != "" {
		cfg.Log.Level = val
	}
	if val := os.Getenv("VIXY_LOG_FORMAT"); val != "" {
		cfg.Log.Format = val
	}
	if val := os.Getenv("VIXY_METRICS_LISTEN_ADDRESS"); val != "" {
		cfg.Metrics.ListenAddress = val
	}
}
