// Package config loads and watches the YAML configuration for the
// mysqlwire proxy, adapted from the teacher's internal/config package:
// same Load/Validate shape, same yaml.v3 struct tags, collapsed from a
// multi-tenant Tenants map down to this spec's single upstream.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration for the proxy.
type Config struct {
	Listen       string             `yaml:"listen"`
	Upstream     string             `yaml:"upstream"`
	Handler      HandlerConfig      `yaml:"handler"`
	Backpressure BackpressureConfig `yaml:"backpressure"`
	Admin        AdminConfig        `yaml:"admin"`
}

// HandlerConfig selects and configures the packet handler a new pipe is
// built with.
type HandlerConfig struct {
	Name            string `yaml:"name"` // "passthrough", "querylog", or "reject"
	RejectSubstring string `yaml:"reject_substring"`
}

// BackpressureConfig tunes the mandatory high/low water mark extension of
// spec.md §5/§9. Zero values are resolved to proxy.DefaultHighWaterMark/
// proxy.DefaultLowWaterMark by the caller.
type BackpressureConfig struct {
	HighWaterMarkBytes int `yaml:"high_water_mark_bytes"`
	LowWaterMarkBytes  int `yaml:"low_water_mark_bytes"`
}

// AdminConfig configures the admin HTTP API (internal/api).
type AdminConfig struct {
	Listen string `yaml:"listen"`
	APIKey string `yaml:"api_key"`
}

// Load reads and parses the YAML config file at path, then validates it.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return &cfg, nil
}

// Validate checks that required fields are present and well-formed.
func (c *Config) Validate() error {
	if c.Listen == "" {
		return fmt.Errorf("listen address is required")
	}
	if c.Upstream == "" {
		return fmt.Errorf("upstream address is required")
	}
	switch c.Handler.Name {
	case "", "passthrough", "querylog", "reject":
	default:
		return fmt.Errorf("unknown handler %q (want passthrough, querylog, or reject)", c.Handler.Name)
	}
	if c.Backpressure.HighWaterMarkBytes < 0 || c.Backpressure.LowWaterMarkBytes < 0 {
		return fmt.Errorf("water marks must not be negative")
	}
	if c.Backpressure.HighWaterMarkBytes > 0 && c.Backpressure.LowWaterMarkBytes > 0 &&
		c.Backpressure.LowWaterMarkBytes >= c.Backpressure.HighWaterMarkBytes {
		return fmt.Errorf("low_water_mark_bytes must be less than high_water_mark_bytes")
	}
	return nil
}
