// Package config loads attackbench's ambient runtime settings and holds
// the process-wide random source the engine threads through a run.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// Duration is a time.Duration that unmarshals from TOML strings like "30s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Config holds attackbench's ambient, process-wide settings. It is
// distinct from the workflow description (internal/workflowdoc): it
// never varies per-campaign and is never part of the provenance trail.
type Config struct {
	General General `toml:"general"`
}

// General carries the orchestrator-wide knobs.
type General struct {
	TrackingDir       string   `toml:"tracking_dir"`        // default "target/tracking"
	LogLevel          string   `toml:"log_level"`           // debug|info|warn|error
	RetainTempConfigs bool     `toml:"retain_temp_configs"` // keep materialised step configs for debugging
	LockWaitTimeout   Duration `toml:"lock_wait_timeout"`   // advisory lock wait on tracker files
}

// Default returns the built-in defaults used when no config file is present.
func Default() *Config {
	return &Config{
		General: General{
			TrackingDir:       "target/tracking",
			LogLevel:          "info",
			RetainTempConfigs: false,
			LockWaitTimeout:   Duration{5 * time.Second},
		},
	}
}

// Clone returns a deep copy so readers never observe a mutation in flight.
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	clone := *c
	return &clone
}

// Load parses a TOML config file at path, filling unset fields from Default().
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}
	if cfg.General.TrackingDir == "" {
		cfg.General.TrackingDir = "target/tracking"
	}
	if cfg.General.LockWaitTimeout.Duration <= 0 {
		cfg.General.LockWaitTimeout = Duration{5 * time.Second}
	}
	return cfg, nil
}
